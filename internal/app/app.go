// Package app assembles the API process from configuration: stores,
// token manager, notifications and the HTTP router.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dairyops/dairyhub/internal/auth"
	"github.com/dairyops/dairyhub/internal/authflow"
	"github.com/dairyops/dairyhub/internal/cache"
	"github.com/dairyops/dairyhub/internal/config"
	"github.com/dairyops/dairyhub/internal/db"
	"github.com/dairyops/dairyhub/internal/domain/user"
	httpx "github.com/dairyops/dairyhub/internal/http"
	"github.com/dairyops/dairyhub/internal/http/handlers"
	"github.com/dairyops/dairyhub/internal/notifications"
	"github.com/dairyops/dairyhub/internal/observability"
	"github.com/dairyops/dairyhub/internal/ratelimit"
	"github.com/dairyops/dairyhub/internal/redisclient"
	"github.com/dairyops/dairyhub/internal/repo/memory"
	"github.com/dairyops/dairyhub/internal/repo/postgres"
	"github.com/dairyops/dairyhub/internal/repo/redisrepo"
	"github.com/dairyops/dairyhub/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const profileCacheTTL = time.Minute

type App struct {
	Router *gin.Engine
	Health *handlers.HealthHandler

	log        *slog.Logger
	pool       *pgxpool.Pool
	redis      *redisclient.Client
	dispatcher *notifications.Dispatcher
}

// Option adjusts the wiring before the graph is built.
type Option func(*options)

type options struct {
	notifier notifications.Notifier
	registry *prometheus.Registry
}

// WithNotifier replaces the configured mail transport.
func WithNotifier(n notifications.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	prom := observability.NewProm(reg)

	a := &App{log: log}
	var checks []handlers.Check

	// stores
	var (
		users  user.Store
		ledger authflow.ResetLedger
	)

	switch cfg.StoreDriver {
	case "memory":
		users = memory.NewUsersRepo()
		ledger = memory.NewResetTokensRepo()
	default:
		pool, err := db.NewPool(ctx, cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.pool = pool

		if cfg.IsDev() {
			if err := db.ApplySchema(ctx, pool); err != nil {
				a.Close(ctx)
				return nil, fmt.Errorf("apply schema: %w", err)
			}
		}

		users = postgres.NewUsersRepo(pool, prom)
		ledger = postgres.NewResetTokensRepo(pool, prom)
		checks = append(checks, handlers.Check{Name: "postgres", Ping: pool.Ping})
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemory(cfg.RateLimitMaxRequests, cfg.RateLimitWindow)

	if cfg.RedisAddr != "" {
		rc, err := redisclient.Connect(ctx, redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = rc

		ledger = redisrepo.NewResetTokensRepo(rc.Raw())
		limiter = ratelimit.NewRedis(rc.Raw(), cfg.RateLimitMaxRequests, cfg.RateLimitWindow)
		checks = append(checks, handlers.Check{Name: "redis", Ping: rc.Ping})
	}

	// notifications
	transport := o.notifier
	if transport == nil {
		var err error
		transport, err = newTransport(cfg, log)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	mailer := notifications.NewProtectedNotifier(transport, notifications.ProtectedNotifierConfig{
		Timeout:          5 * time.Second,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	})

	a.dispatcher = notifications.NewDispatcher(mailer, notifications.DispatcherConfig{
		Workers:     2,
		QueueSize:   256,
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
	}, log, prom)

	// auth
	tokens := auth.NewManager(cfg.JWTSecret, cfg.JWTExpiresIn, cfg.ResetTokenTTL)
	hasher := security.NewHasher(cfg.BcryptCost)

	svc := authflow.New(authflow.Deps{
		Users:  users,
		Hasher: hasher,
		Tokens: tokens,
		Ledger: ledger,
		Mailer: mailer,
		Queue:  a.dispatcher,
		Templates: notifications.Templates{
			FrontendURL: cfg.FrontendURL,
			ResetTTL:    tokens.ResetTTL(),
		},
		Profiles:         cache.New[user.User](profileCacheTTL),
		Metrics:          prom,
		Log:              log,
		AllowAdminSignup: cfg.AllowAdminSignup,
	})

	if err := db.EnsureAdminUser(ctx, users, hasher, cfg, log); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("seed admin: %w", err)
	}

	a.Health = handlers.NewHealthHandler(checks...)
	a.Router = httpx.NewRouter(httpx.RouterDeps{
		Env:         cfg.Env,
		Log:         log,
		Prom:        prom,
		Gatherer:    reg,
		Tokens:      tokens,
		Auth:        svc,
		Profiles:    svc,
		Health:      a.Health,
		Limiter:     limiter,
		CORSOrigins: cfg.CORSOrigins,
	})

	return a, nil
}

func newTransport(cfg config.Config, log *slog.Logger) (notifications.Notifier, error) {
	if cfg.SMTP.Host == "" {
		log.Warn("SMTP_HOST not set, emails will only be logged")
		return notifications.NewLogNotifier(log), nil
	}

	n, err := notifications.NewSMTPNotifier(notifications.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.User,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	if err != nil {
		return nil, fmt.Errorf("smtp notifier: %w", err)
	}
	return n, nil
}

// Close flushes queued mail and releases connections. Readiness should be
// flipped off before calling it.
func (a *App) Close(ctx context.Context) error {
	var errs []error

	if a.dispatcher != nil {
		if err := a.dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}

	return errors.Join(errs...)
}
