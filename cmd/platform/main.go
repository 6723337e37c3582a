package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zeitwerk/platform/internal/audit"
	"github.com/zeitwerk/platform/internal/authz"
	"github.com/zeitwerk/platform/internal/csrf"
	"github.com/zeitwerk/platform/internal/httpapi"
	"github.com/zeitwerk/platform/internal/identity"
	"github.com/zeitwerk/platform/internal/identity/hrdir"
	"github.com/zeitwerk/platform/internal/mfa"
	"github.com/zeitwerk/platform/internal/pipeline"
	"github.com/zeitwerk/platform/internal/ratelimit"
	"github.com/zeitwerk/platform/internal/session"
	"github.com/zeitwerk/platform/internal/shared/config"
	"github.com/zeitwerk/platform/internal/shared/database"
	"github.com/zeitwerk/platform/internal/shared/logging"
	"github.com/zeitwerk/platform/internal/shared/metrics"
	"github.com/zeitwerk/platform/internal/shared/middleware"
)

// App holds all application dependencies.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *database.DB
	Redis  *redis.Client
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	app := &App{Config: cfg, Logger: logger}

	// Database (optional - in-memory stores cover local development)
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.Warn("database not available, using in-memory stores", zap.Error(err))
	} else {
		app.DB = db
		defer db.Close()

		if err := database.Migrate(ctx, db.Pool); err != nil {
			logger.Error("migration failed", zap.Error(err))
			os.Exit(1)
		}
	}

	// Redis shares sessions and rate-limit counters across instances.
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not available, using in-memory stores", zap.Error(err))
		} else {
			app.Redis = client
			defer client.Close()
		}
	}

	// Audit sinks: Postgres is the queryable primary, the EventStoreDB
	// stream an optional tamper-evident mirror.
	var recorders []audit.Recorder
	if app.DB != nil {
		recorders = append(recorders, audit.NewRepository(app.DB.Pool))
	}
	if cfg.Audit.StreamEnabled {
		esClient, err := audit.Connect(cfg.Audit)
		if err != nil {
			logger.Warn("audit stream not available", zap.Error(err))
		} else {
			recorders = append(recorders, audit.NewStreamRepository(esClient))
			defer esClient.Close()
		}
	}
	auditLogger := audit.NewLogger(logger, recorders...)
	defer auditLogger.Close()

	// HR directory resolves home locations for first-seen users.
	var locations identity.LocationDirectory
	if cfg.HRDirectory.Enabled {
		adapter, err := hrdir.Open(ctx, cfg.HRDirectory)
		if err != nil {
			logger.Warn("hr directory not available", zap.Error(err))
		} else {
			locations = adapter
			defer adapter.Close()
		}
	}

	var userStore identity.UserStore
	var mfaStore mfa.Store
	if app.DB != nil {
		userStore = identity.NewPostgresUserStore(app.DB.Pool)
		mfaStore = mfa.NewPostgresStore(app.DB.Pool)
	} else {
		// In Postgres both stores read the same users table; in memory
		// mode the MFA store must learn about new users explicitly.
		memUsers := identity.NewMemoryUserStore()
		memMFA := mfa.NewMemoryStore()
		memUsers.OnCreate(func(u identity.User) {
			memMFA.Seed(u.ID, u.CreatedAt)
		})
		userStore = memUsers
		mfaStore = memMFA
	}

	var counterStore ratelimit.CounterStore
	var sessionStore session.Store
	if app.Redis != nil {
		counterStore = ratelimit.NewRedisStore(app.Redis)
		sessionStore = session.NewRedisStore(app.Redis)
	} else {
		counterStore = ratelimit.NewMemoryStore()
		sessionStore = session.NewMemoryStore()
	}

	mapper := identity.NewMapper(userStore, locations, logger)
	csrfGuard := csrf.NewGuard(cfg.CSRF)
	sessions := session.NewManager(sessionStore, csrfGuard, cfg.Session, cfg.MFA.SessionLifetime, logger, auditLogger)
	engine := mfa.NewEngine(mfaStore, counterStore, cfg.MFA, logger, auditLogger)
	authzGuard := authz.NewGuard(authz.DefaultMatrix(), logger, auditLogger)
	limiter := ratelimit.NewLimiter(counterStore, cfg.RateLimit, logger)

	var burst *ratelimit.IPBurstLimiter
	if cfg.RateLimit.Enabled && cfg.RateLimit.BurstPerSecond > 0 {
		burst = ratelimit.NewIPBurstLimiter(cfg.RateLimit.BurstPerSecond, cfg.RateLimit.BurstSize)
	}

	pipe := pipeline.New(logger, sessions, csrfGuard, authzGuard, limiter, burst, engine, auditLogger, cfg.Session.CookieSecure)
	handler := httpapi.NewHandler(cfg, logger, mapper, sessions, csrfGuard, engine)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit)
	r.Use(middleware.RequestLogger(logger))

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	r.Mount("/api/v1", pipe.Wrap(handler.Routes()))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		close(done)
	}()

	logger.Info("server starting",
		zap.String("env", cfg.Server.Env),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("database", app.DB != nil),
		zap.Bool("redis", app.Redis != nil),
		zap.Bool("audit_stream", cfg.Audit.StreamEnabled))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	<-done
	logger.Info("server stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"server": "ready"}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if app.Redis != nil {
			if err := app.Redis.Ping(r.Context()).Err(); err != nil {
				checks["redis"] = "not ready: " + err.Error()
			} else {
				checks["redis"] = "ready"
			}
		} else {
			checks["redis"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
