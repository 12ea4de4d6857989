package auth

import (
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID       uuid.UUID
	WorkspaceIDs []uuid.UUID
	Role         enums.WorkspaceRole
	JTI          string
}

// AccessTokenClaims represents the JWT issued by the identity service.
type AccessTokenClaims struct {
	UserID       uuid.UUID           `json:"user_id"`
	WorkspaceIDs []uuid.UUID         `json:"workspace_ids"`
	Role         enums.WorkspaceRole `json:"role"`
	jwt.RegisteredClaims
}

// HasWorkspace reports whether the token grants access to workspaceID.
func (c *AccessTokenClaims) HasWorkspace(workspaceID uuid.UUID) bool {
	if c == nil || workspaceID == uuid.Nil {
		return false
	}
	for _, id := range c.WorkspaceIDs {
		if id == workspaceID {
			return true
		}
	}
	return false
}
