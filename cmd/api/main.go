package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/marketplace-orders/internal/auth"
	"github.com/ariefcatur/marketplace-orders/internal/config"
	"github.com/ariefcatur/marketplace-orders/internal/httpx"
	kafkax "github.com/ariefcatur/marketplace-orders/internal/kafka"
	"github.com/ariefcatur/marketplace-orders/internal/logging"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
	"github.com/ariefcatur/marketplace-orders/internal/postgres"
	"github.com/ariefcatur/marketplace-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateAPI()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := &orders.Service{ServiceName: cfg.ServiceName}
	oh := &httpx.OrdersHandler{
		Service: svc,
		Auth:    auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		Timeout: cfg.RequestTimeout,
	}

	// Producer runs on its own context so queued events are flushed after the HTTP server stops.
	prodCtx, prodCancel := context.WithCancel(context.Background())
	defer prodCancel()
	var prod *kafkax.Producer

	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("running with in-memory store; no cache or event stream")
		mem := orders.NewMemStore()
		if cfg.SeedFile != "" {
			if err := seed(mem, cfg.SeedFile); err != nil {
				return err
			}
		}
		svc.Store = mem
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		svc.Store = &orders.Repo{DB: db}

		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			logger.Warn("redis unavailable; caches will miss until it recovers", zap.Error(err))
		}
		oh.Cache = &redisx.OrderCache{Client: rdb, SummaryTTL: cfg.SummaryCacheTTL}

		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger.Named("producer"))
		prod.Start(prodCtx)
		svc.Events = &kafkax.Emitter{Producer: prod}
	}

	router := httpx.NewRouter(logger, cfg.RequestTimeout*2)
	oh.Register(router)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if prod != nil {
		prod.Close()
		prod.WaitClosed()
	}
	return err
}

func seed(mem *orders.MemStore, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	return mem.Seed(f)
}
