package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"go-storefront/internal/config"
	"go-storefront/internal/handler"
	"go-storefront/internal/middleware"
)

func New(
	cfg *config.Config,
	authMiddleware *middleware.AuthMiddleware,
	rateLimit *middleware.RateLimitMiddleware,
	authHandler *handler.AuthHandler,
	auditHandler *handler.AuditHandler,
	userHandler *handler.UserHandler,
	healthHandler *handler.HealthHandler,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	if rateLimit == nil {
		rateLimit = middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM)
	}

	r.Use(middleware.Recovery)
	r.Use(otelhttp.NewMiddleware("storefront"))
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimit.Handler)

	r.Get("/health", healthHandler.Health)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/Auth", func(auth chi.Router) {
			auth.Post("/Register", authHandler.Register)
			auth.Post("/Login", authHandler.Login)
			auth.Post("/refresh-token", authHandler.Refresh)
			auth.Post("/Logout", authHandler.Logout)
			auth.With(authMiddleware.RequireAuth).Get("/me", authHandler.Me)
		})

		api.Route("/Admin", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireAuth, authMiddleware.RequireRoles("admin"))
			admin.Get("/GetAllAudits", auditHandler.List)
			admin.Get("/GetAuditsByUserID", auditHandler.ListForUser)
			admin.Delete("/DeleteUser", userHandler.Delete)
		})
	})

	return r
}
