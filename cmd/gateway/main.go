package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"syntra-checkout/config"
	"syntra-checkout/internal/database"
	"syntra-checkout/internal/gateway/handlers"
	"syntra-checkout/internal/logger"
	"syntra-checkout/internal/services/notifications"
	"syntra-checkout/internal/services/notifications/stream"
	"syntra-checkout/internal/services/notifications/supervisor"
	"syntra-checkout/internal/services/pos/checkout"
	"syntra-checkout/internal/services/pos/discount"
	"syntra-checkout/internal/services/pos/ledger"
)

const (
	notificationsKey     = "pos:notifications"
	eventsHealthService  = "syntra.checkout.events"
	sessionSweepInterval = 5 * time.Minute
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(logger.Options{
		Service: "checkout-gateway",
		Env:     cfg.Log.Environment,
		Level:   cfg.Log.Level,
	})
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(ctx, cfg, zlog); err != nil && !errors.Is(err, context.Canceled) {
		zlog.Fatal("gateway stopped", zap.Error(err))
	}
	zlog.Info("gateway stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is required")
	}

	pool := database.PoolOptions{
		MaxOpenConns:    cfg.DB.MaxConns,
		MaxIdleConns:    cfg.DB.MinConns,
		ConnMaxLifetime: time.Hour,
	}
	db, err := database.NewConnection(cfg.DB.DSN(), pool, log)
	if err != nil {
		return err
	}
	if cfg.Checkout.MigrateOnStart {
		if err := database.MigratePOSDB(db); err != nil {
			return fmt.Errorf("failed to migrate POS database: %w", err)
		}
	}

	rdb, err := config.NewRedisClient(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	store := ledger.NewStore(db, log)

	var source discount.Source
	switch cfg.Checkout.DiscountSchema {
	case config.DiscountSchemaLegacy:
		legacy, err := database.NewLegacyConnection(ctx, cfg.LegacyDB.DSN(), pool, log)
		if err != nil {
			return err
		}
		defer legacy.Close()
		source = discount.NewLegacySource(legacy)
	default:
		source = discount.NewCampaignSource(db)
	}
	log.Info("discount source selected", zap.String("schema", cfg.Checkout.DiscountSchema))

	guard := discount.NewGuard(store, log)
	evaluator := discount.NewEvaluator(source, guard, store, log)

	events := stream.NewRedisStream(rdb, log)
	publisher := ledger.NewPublisher(events, rdb)

	orchestrator := checkout.NewOrchestrator(store, evaluator, ledger.NewIdempotency(rdb), publisher, checkout.Options{
		IdempotencyTTL: cfg.Checkout.IdempotencyTTL,
	}, log)
	sessions := checkout.NewManager(store, orchestrator)

	watcher := notifications.NewWatcher(events, notifications.NewRedisPersistence(rdb, notificationsKey), notifications.Options{
		LowStockThreshold: cfg.Checkout.LowStockThreshold,
		MilestoneEvery:    cfg.Checkout.MilestoneEvery,
	}, log)
	if err := watcher.Restore(ctx); err != nil {
		log.Warn("failed to restore notifications", zap.Error(err))
	}

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(eventsHealthService, healthpb.HealthCheckResponse_NOT_SERVING)

	sup := supervisor.New(watcher.Connect, supervisor.Options{
		OnStateChange: func(st supervisor.Status) {
			watcher.SetConnectionState(st)
			serving := healthpb.HealthCheckResponse_NOT_SERVING
			if st.State == supervisor.StateConnected {
				serving = healthpb.HealthCheckResponse_SERVING
			}
			healthServer.SetServingStatus(eventsHealthService, serving)
		},
	}, log)

	router, err := setupRouter(cfg, routeDeps{
		pos:           handlers.NewPOSHTTPHandler(sessions, evaluator, log),
		notifications: handlers.NewNotificationsHTTPHandler(watcher, sup),
		supervisor:    sup,
		log:           log,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr(),
		Handler: router,
	}

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.GRPC.Port)
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		log.Info("gRPC health server listening", zap.String("addr", lis.Addr().String()))
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		return sup.Run(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(sessionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := sessions.Expire(cfg.Checkout.SessionIdleTTL); n > 0 {
					log.Info("expired idle checkout sessions", zap.Int("count", n))
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
