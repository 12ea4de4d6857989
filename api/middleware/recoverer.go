package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/angelmondragon/chatdesk-backend/api/responses"
	pkgerrors "github.com/angelmondragon/chatdesk-backend/pkg/errors"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
)

// Recoverer turns handler panics into a 500 envelope. http.ErrAbortHandler is
// re-raised so net/http can drop the connection.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				panicErr := panicError(rec)
				ctx := logg.WithFields(r.Context(), map[string]any{
					"event":  "http.panic",
					"method": r.Method,
					"route":  r.URL.Path,
				})
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, panicErr, "handler panicked"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// panicError keeps error values in the chain so diagnostics survive.
func panicError(rec any) error {
	if err, ok := rec.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", rec)
}
