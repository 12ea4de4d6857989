package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/chatdesk-backend/api/controllers"
	"github.com/angelmondragon/chatdesk-backend/api/middleware"
	"github.com/angelmondragon/chatdesk-backend/internal/assignments"
	"github.com/angelmondragon/chatdesk-backend/internal/distribution"
	"github.com/angelmondragon/chatdesk-backend/internal/pipeline"
	"github.com/angelmondragon/chatdesk-backend/internal/webhooks"
	"github.com/angelmondragon/chatdesk-backend/pkg/config"
	"github.com/angelmondragon/chatdesk-backend/pkg/db"
	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
	"github.com/angelmondragon/chatdesk-backend/pkg/redis"
)

type redisClient interface {
	redis.Pinger
	redis.RateLimiter
	middleware.ReplayStore
}

type webhookIngester interface {
	Ingest(ctx context.Context, providerKind string, raw []byte) (webhooks.IngestResult, error)
}

type webhookConfigurer interface {
	ConfigureWebhook(ctx context.Context, workspaceID uuid.UUID, input webhooks.ConfigureInput) (*webhooks.ConfigureResult, error)
}

type distributor interface {
	Distribute(ctx context.Context, input distribution.DistributeInput) (*distribution.DistributeResult, error)
}

type cardEnsurer interface {
	EnsureCard(ctx context.Context, input pipeline.EnsureCardInput) (*pipeline.EnsureCardResult, error)
}

// Services bundles the domain services mounted on the router.
type Services struct {
	Webhooks     webhookIngester
	Configurer   webhookConfigurer
	Assignments  assignments.Service
	Distribution distributor
	Pipeline     cardEnsurer
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient redisClient,
	gatherer prometheus.Gatherer,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	webhookPolicy := middleware.NewRateLimitPolicy("webhook", "provider", time.Minute, cfg.Webhook.RateLimitPerMinute)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.With(middleware.RateLimit(webhookPolicy, redisClient, logg)).
			Post("/{provider}", controllers.ProviderWebhook(svc.Webhooks, cfg.Webhook.MaxPayloadBytes, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.WorkspaceScope(logg))

		idem := middleware.Idempotency(redisClient, middleware.ReplayTTL, logg)
		terminalIdem := middleware.Idempotency(redisClient, middleware.TerminalReplayTTL, logg)

		r.Route("/conversations", func(r chi.Router) {
			r.With(idem).Post("/accept", controllers.AcceptConversation(svc.Assignments, logg))
			r.With(idem).Post("/distribute", controllers.DistributeConversation(svc.Distribution, logg))
			r.With(idem).Post("/{conversationId}/transfer", controllers.TransferConversation(svc.Assignments, logg))
			r.With(idem).Post("/{conversationId}/release", controllers.ReleaseConversation(svc.Assignments, logg))
			r.With(terminalIdem).Post("/{conversationId}/close", controllers.CloseConversation(svc.Assignments, logg))
			r.Get("/{conversationId}/assignments", controllers.ConversationAssignments(svc.Assignments, logg))
		})

		r.With(idem).Post("/pipeline/cards/ensure", controllers.EnsurePipelineCard(svc.Pipeline, logg))

		r.With(middleware.RequireRoles(logg, enums.RoleOwner, enums.RoleAdmin), idem).
			Post("/connections/webhook/configure", controllers.ConfigureConnectionWebhook(svc.Configurer, logg))
	})

	return r
}
