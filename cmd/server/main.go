package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/Shiva2076/Saas-backend-repo/config"
	"github.com/Shiva2076/Saas-backend-repo/internal/abuse"
	"github.com/Shiva2076/Saas-backend-repo/internal/admin"
	"github.com/Shiva2076/Saas-backend-repo/internal/api"
	"github.com/Shiva2076/Saas-backend-repo/internal/auth"
	"github.com/Shiva2076/Saas-backend-repo/internal/company"
	"github.com/Shiva2076/Saas-backend-repo/internal/logger"
	"github.com/Shiva2076/Saas-backend-repo/internal/quota"
	"github.com/Shiva2076/Saas-backend-repo/internal/reconcile"
	"github.com/Shiva2076/Saas-backend-repo/internal/seeder"
	"github.com/Shiva2076/Saas-backend-repo/internal/telemetry"
	"github.com/Shiva2076/Saas-backend-repo/internal/tools"
	"github.com/Shiva2076/Saas-backend-repo/internal/usage"
	"github.com/Shiva2076/Saas-backend-repo/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("saas-backend", cfg)
	if err != nil {
		zlog.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		zlog.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		zlog.Fatal("failed to ping postgres", zap.Error(err))
	}
	zlog.Info("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		zlog.Fatal("failed to ping redis", zap.Error(err))
	}
	zlog.Info("Redis connected")

	// 5. Init stores
	userStore := auth.NewPostgresStore(pool)
	companyStore := company.NewPostgresStore(pool)
	usageStore := usage.NewPostgresStore(pool)

	// 6. Init metering core
	limiter := ratelimit.NewLimiter(rdb, cfg.RateLimitPerMinute)
	deactivator := auth.NewDeactivator(userStore, rdb, zlog)
	detector := abuse.NewDetector(usageStore, deactivator, cfg.AbuseWindow, cfg.AbuseThreshold, zlog)
	gate := quota.NewGate(companyStore)
	evaluator := quota.NewEvaluator(companyStore, usageStore)
	recorder := usage.NewRecorder(usageStore, companyStore, zlog)
	reporter := usage.NewReporter(usageStore, companyStore)

	// 7. Init tools
	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry)

	// 8. Init handlers
	tracer := otel.GetTracerProvider().Tracer("saas-backend")
	devMode := cfg.AppEnv == "development"
	handler := api.NewHandler(registry, limiter, detector, gate, evaluator, reporter, recorder, tracer, zlog, devMode)
	authHandlers := auth.NewHandlers(userStore, companyStore, cfg.JWTSecret, zlog)
	adminHandler := admin.NewHandler(userStore, companyStore, zlog)
	authMiddleware := auth.NewMiddleware(userStore, rdb, cfg.JWTSecret, zlog)

	// 9. Seed schema and demo tenant if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		if err := seeder.EnsureSchema(ctx, pool); err != nil {
			zlog.Fatal("failed to bootstrap schema", zap.Error(err))
		}
		seeder.SeedDemo(ctx, companyStore, userStore, zlog)
	}

	// 10. Start counter reconciliation
	reconcileCtx, stopReconcile := context.WithCancel(ctx)
	defer stopReconcile()
	reconciler := reconcile.New(companyStore, usageStore, cfg.ReconcileInterval, zlog)
	go reconciler.Run(reconcileCtx)

	// 11. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"saas-backend"}`))
	})
	r.Post("/api/auth/register", authHandlers.HandleRegister)
	r.Post("/api/auth/login", authHandlers.HandleLogin)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/api/tools/{toolName}", handler.HandleInvokeTool)
		r.Get("/api/usage/quota", handler.HandleQuota)
		r.Get("/api/usage/stats", handler.HandleUsageStats)
		r.Get("/api/usage/me", handler.HandleUserUsage)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Get("/api/admin/users", adminHandler.HandleListUsers)
			r.Post("/api/admin/users/{id}/promote", adminHandler.HandlePromoteUser)
			r.Get("/api/admin/stats", adminHandler.HandleStats)
		})
	})

	// 12. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		zlog.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	<-quit
	zlog.Info("shutting down gracefully")
	stopReconcile()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal("forced shutdown", zap.Error(err))
	}
	zlog.Info("server stopped")
}
