package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/cors"
)

// CORS admits the agent console origins. Provider webhooks are server to
// server and never send preflights. A "*" entry opens every origin but drops
// credentials, which browsers refuse to combine with a wildcard.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			allowed = append(allowed, origin)
		}
	}
	if len(allowed) == 0 {
		allowed = []string{"http://localhost:3000"}
	}
	wildcard := slices.Contains(allowed, "*")

	return cors.New(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "X-Requested-With",
			WorkspaceHeader, idempotencyHeader, requestIDHeader,
		},
		ExposedHeaders:   []string{requestIDHeader, "Retry-After", replayedHeader},
		AllowCredentials: !wildcard,
		MaxAge:           300,
	}).Handler
}
