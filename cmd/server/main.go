package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hongminglow/qrpay/internal/clock"
	"github.com/hongminglow/qrpay/internal/config"
	"github.com/hongminglow/qrpay/internal/events"
	"github.com/hongminglow/qrpay/internal/logger"
	"github.com/hongminglow/qrpay/internal/server"
	"github.com/hongminglow/qrpay/internal/storage"
	"github.com/hongminglow/qrpay/internal/storage/memory"
	"github.com/hongminglow/qrpay/internal/storage/postgres"
)

func main() {
	loadLocalEnv()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	zlog, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()
	zap.ReplaceGlobals(zlog)

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	defer store.Close()

	pub, closePub := openPublisher(cfg, zlog)
	defer closePub()

	svc := server.NewServices(cfg, store, pub, clock.System{}, zlog)
	srv := server.New(cfg, svc, zlog)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info("qrpay backend listening", zap.String("addr", cfg.HTTPAddress()))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return svc.Sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		zlog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore picks Postgres when DATABASE_URL is set and the in-memory store
// otherwise.
func openStore(ctx context.Context, cfg config.Config, zlog *zap.Logger) (storage.Store, error) {
	if cfg.DatabaseURL == "" {
		zlog.Warn("DATABASE_URL not set; using in-memory store, data is lost on restart")
		return memory.New(), nil
	}
	store, err := postgres.New(ctx, cfg.DatabaseURL, zlog.Named("postgres"))
	if err != nil {
		return nil, err
	}
	return store, nil
}

// openPublisher connects to RabbitMQ when configured. A broker that cannot
// be reached degrades to logging events instead of failing startup.
func openPublisher(cfg config.Config, zlog *zap.Logger) (events.Publisher, func()) {
	fallback := events.NewLogPublisher(zlog.Named("events"))
	if cfg.RabbitMQURL == "" {
		return fallback, func() {}
	}
	pub, err := events.NewRabbitMQPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
	if err != nil {
		zlog.Warn("rabbitmq unavailable; logging events instead", zap.Error(err))
		return fallback, func() {}
	}
	return pub, func() {
		if err := pub.Close(); err != nil {
			zlog.Warn("close rabbitmq publisher", zap.Error(err))
		}
	}
}

func loadLocalEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found; relying on existing environment")
	}
}
