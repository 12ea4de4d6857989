package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/chatdesk-backend/api/responses"
	pkgerrors "github.com/angelmondragon/chatdesk-backend/pkg/errors"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/chatdesk-backend/pkg/redis"
)

// RateLimitPolicy defines the throttling parameters for a traffic surface.
type RateLimitPolicy struct {
	name   string
	window time.Duration
	limit  int64
	// param names the chi URL parameter folded into the counter key.
	param string
}

// NewRateLimitPolicy builds a fixed-window policy. The counter is keyed by
// client IP plus the value of the chi URL parameter param, when set.
func NewRateLimitPolicy(name, param string, window time.Duration, limit int) RateLimitPolicy {
	return RateLimitPolicy{
		name:   strings.ToLower(strings.TrimSpace(name)),
		window: window,
		limit:  int64(limit),
		param:  param,
	}
}

func (p RateLimitPolicy) enabled() bool {
	return p.window > 0 && p.limit > 0
}

func (p RateLimitPolicy) scope(r *http.Request, ip string) string {
	name := p.name
	if name == "" {
		name = "default"
	}
	parts := []string{name}
	if p.param != "" {
		if value := strings.ToLower(strings.TrimSpace(chi.URLParam(r, p.param))); value != "" {
			parts = append(parts, value)
		}
	}
	parts = append(parts, ip)
	return strings.Join(parts, ":")
}

// RateLimit enforces a per-IP counter. Limiter outages fail open so a Redis
// blip never drops provider callbacks.
func RateLimit(policy RateLimitPolicy, limiter pkgredis.RateLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := clientIP(r)
			if ip == "" {
				next.ServeHTTP(w, r)
				return
			}

			scope := policy.scope(r, ip)
			allowed, count, err := limiter.FixedWindowAllow(ctx, scope, policy.limit, policy.window)
			if err != nil {
				logg.Warn(logg.WithFields(ctx, map[string]any{"policy": policy.name, "error": err.Error()}), "rate_limit.unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				respondRateLimited(ctx, logg, w, policy, scope, count)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func respondRateLimited(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, policy RateLimitPolicy, scope string, count int64) {
	retryAfter := int(policy.window.Seconds())
	logg.Warn(logg.WithFields(ctx, map[string]any{
		"scope":          scope,
		"policy":         policy.name,
		"attempts":       count,
		"limit":          policy.limit,
		"window_seconds": retryAfter,
	}), "rate_limit.blocked")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	// Already logged above; the nil logger keeps WriteError quiet.
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded").
		WithDetails(map[string]any{"retry_after_seconds": retryAfter}))
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
