package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
)

func scopedChain(next http.Handler) http.Handler {
	return Auth(testJWT, nil)(WorkspaceScope(nil)(next))
}

func TestWorkspaceScope(t *testing.T) {
	granted := uuid.New()
	token := mintTestToken(t, enums.RoleAgent, granted)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"granted", granted.String(), http.StatusOK},
		{"missing header", "", http.StatusForbidden},
		{"malformed", "not-a-uuid", http.StatusForbidden},
		{"not granted", uuid.NewString(), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen uuid.UUID
			handler := scopedChain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = WorkspaceIDFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			if tt.header != "" {
				req.Header.Set(WorkspaceHeader, tt.header)
			}
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)

			require.Equal(t, tt.want, resp.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, granted, seen)
			}
		})
	}
}

func TestRequireRoles(t *testing.T) {
	workspaceID := uuid.New()
	guarded := Auth(testJWT, nil)(RequireRoles(nil, enums.RoleOwner, enums.RoleAdmin)(okHandler()))

	for role, want := range map[enums.WorkspaceRole]int{
		enums.RoleOwner: http.StatusOK,
		enums.RoleAdmin: http.StatusOK,
		enums.RoleAgent: http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer "+mintTestToken(t, role, workspaceID))
		resp := httptest.NewRecorder()
		guarded.ServeHTTP(resp, req)
		assert.Equal(t, want, resp.Code, "role %s", role)
	}
}
