package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/minerva-edu/minerva-edu/internal/app"
	"github.com/minerva-edu/minerva-edu/internal/audit"
	"github.com/minerva-edu/minerva-edu/internal/identity"
	identityhttp "github.com/minerva-edu/minerva-edu/internal/identity/http"
	"github.com/minerva-edu/minerva-edu/internal/identity/ledger"
	"github.com/minerva-edu/minerva-edu/internal/observability"
	"github.com/minerva-edu/minerva-edu/internal/session"
	"github.com/minerva-edu/minerva-edu/internal/tenant"
	"github.com/minerva-edu/minerva-edu/jobs"
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

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	directory := tenant.NewPGDirectory(pool)
	if err := directory.Refresh(ctx); err != nil {
		logger.Warn("initial tenant directory refresh", slog.Any("error", err))
	}
	resolver := tenant.NewResolver(directory, cfg.BaseDomain)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	emitter := audit.NewQueueEmitter(jobsClient, logger)

	repo := identity.NewPGRepository(pool, cfg.StoreTimeout)
	attempts := ledger.NewRedisLedger(redisClient, ledger.Policy{
		Threshold: cfg.LockoutThreshold,
		Window:    cfg.LockoutWindow,
		LockFor:   cfg.LockoutDuration,
	})
	service := identity.NewService(repo, attempts, emitter, logger)

	sessionStore := session.NewRedisStore(redisClient, cfg.RefreshTokenTTL)
	issuer := session.NewIssuer(sessionStore, emitter, logger, session.Config{
		Secret:     []byte(cfg.TokenSecret),
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})

	metrics := observability.NewMetrics()
	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		TenantResolver: resolver,
		AuthHandler:    identityhttp.NewHandler(logger, service, issuer),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		ticker := time.NewTicker(cfg.TenantRefreshEvery)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				if err := directory.Refresh(groupCtx); err != nil {
					logger.Warn("tenant directory refresh", slog.Any("error", err))
				}
			}
		}
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("runtime stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
