package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-orders/internal/config"
	kafkax "github.com/ariefcatur/marketplace-orders/internal/kafka"
	"github.com/ariefcatur/marketplace-orders/internal/logging"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
	"github.com/ariefcatur/marketplace-orders/internal/projector"
	"github.com/ariefcatur/marketplace-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	name := cfg.ServiceName + "-projector"
	logger, err := logging.New(cfg.LogLevel, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		logger.Fatal("redis ping", zap.Error(err))
	}

	svc := &projector.Service{
		Cache:       &redisx.OrderCache{Client: rdb, SummaryTTL: cfg.SummaryCacheTTL},
		ServiceName: name,
		Log:         logger,
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, orders.Topics, cfg.ProjectorWorkers, logger.Named("consumer"))

	logger.Info("projector started",
		zap.String("group", cfg.ProjectorGroup),
		zap.Strings("topics", orders.Topics),
		zap.Int("workers", cfg.ProjectorWorkers))
	// Start returns once ctx is cancelled and every worker has finished.
	if err := cons.Start(logging.WithLogger(ctx, logger), svc.HandleMessage); err != nil {
		logger.Fatal("consumer exited", zap.Error(err))
	}
	logger.Info("projector stopped")
}
