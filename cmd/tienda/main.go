package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/tienda-pos/tienda-pos/internal/app"
	"github.com/tienda-pos/tienda-pos/internal/catalog"
	"github.com/tienda-pos/tienda-pos/internal/customers"
	"github.com/tienda-pos/tienda-pos/internal/platform/cache"
	"github.com/tienda-pos/tienda-pos/internal/platform/db"
	"github.com/tienda-pos/tienda-pos/internal/register"
	"github.com/tienda-pos/tienda-pos/internal/sales"
	"github.com/tienda-pos/tienda-pos/internal/shared"
	"github.com/tienda-pos/tienda-pos/internal/users"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, logger); err != nil {
		logger.Error("apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping, summary cache disabled", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	validate := validator.New()
	auditLogger := shared.NewAuditLogger(pool)
	summaryCache := cache.NewCache(redisClient, cfg.SummaryCacheTTL)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, cfg.AllowNegativeStock)
	catalogHandler := catalog.NewHandler(logger, catalogService, validate)

	customersRepo := customers.NewRepository(pool)
	customersService := customers.NewService(logger, customersRepo, auditLogger)
	customersHandler := customers.NewHandler(logger, customersService, validate)

	registerRepo := register.NewRepository(pool)
	registerService := register.NewService(logger, registerRepo)
	registerHandler := register.NewHandler(logger, registerService, validate)

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(logger, salesRepo, registerService, summaryCache, auditLogger, sales.Config{
		PointOfSale:        cfg.PointOfSale,
		AllowNegativeStock: cfg.AllowNegativeStock,
		MaxRetries:         cfg.SaleMaxRetries,
	})
	salesHandler := sales.NewHandler(logger, salesService, validate)

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo)
	usersHandler := users.NewHandler(logger, usersService, validate)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Pool:             pool,
		CatalogHandler:   catalogHandler,
		CustomersHandler: customersHandler,
		SalesHandler:     salesHandler,
		RegisterHandler:  registerHandler,
		UsersHandler:     usersHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
