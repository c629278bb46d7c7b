package http

import (
	"log/slog"
	"net/http"

	"github.com/dairyops/dairyhub/internal/http/handlers"
	"github.com/dairyops/dairyhub/internal/http/middlewares"
	"github.com/dairyops/dairyhub/internal/observability"
	"github.com/dairyops/dairyhub/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxBodyBytes = 1 << 20

type RouterDeps struct {
	Env         string
	Log         *slog.Logger
	Prom        *observability.Prom
	Gatherer    prometheus.Gatherer
	Tokens      middlewares.TokenVerifier
	Auth        handlers.AuthFlow
	Profiles    handlers.ProfileService
	Health      *handlers.HealthHandler
	Limiter     ratelimit.Limiter
	CORSOrigins []string
}

func NewRouter(d RouterDeps) *gin.Engine {
	if d.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware

	r.Use(otelgin.Middleware("dairyhub"))
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(d.Log))
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(d.CORSOrigins))
	r.Use(middlewares.MaxBodyBytes(maxBodyBytes))
	r.Use(middlewares.RequireJSON())

	r.NoRoute(func(ctx *gin.Context) {
		handlers.RespondNotFound(ctx, "Route not found")
	})

	// ops
	if d.Health != nil {
		r.GET("/healthz", d.Health.Healthz)
		r.GET("/readyz", d.Health.Readyz)
	}
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	// public auth routes share one limiter keyed by client ip
	authH := handlers.NewAuthHandler(d.Auth)
	public := r.Group("/")
	if d.Limiter != nil {
		public.Use(middlewares.RateLimit(d.Limiter, middlewares.KeyByIP))
	}
	public.POST("/register", authH.Register)
	public.POST("/login", authH.Login)
	public.POST("/password-reset/request", authH.RequestPasswordReset)
	public.POST("/password-reset/confirm", authH.ConfirmPasswordReset)

	// authenticated routes
	authMw := middlewares.NewAuthMiddleware(d.Tokens)
	profileH := handlers.NewProfileHandler(d.Profiles)

	private := r.Group("/")
	private.Use(authMw.RequireAuth())
	if d.Limiter != nil {
		private.Use(middlewares.RateLimit(d.Limiter, middlewares.KeyByUserOrIP))
	}
	{
		private.GET("/profile", middlewares.RequireUser(), profileH.GetProfile)
		private.PUT("/profile", middlewares.RequireUser(), profileH.UpdateProfile)
		private.GET("/admin/users/:id", middlewares.RequireAdmin(), profileH.AdminGetUser)
	}

	r.HandleMethodNotAllowed = true
	r.NoMethod(func(ctx *gin.Context) {
		handlers.RespondError(ctx, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
	})

	return r
}
