package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	settlementapp "github.com/missionforge/missionforge/internal/services/settlement/app"
	"github.com/missionforge/missionforge/internal/services/settlement/chain"
	"github.com/missionforge/missionforge/internal/services/settlement/storage"
	settlementsqlite "github.com/missionforge/missionforge/internal/services/settlement/storage/sqlite"
	"github.com/missionforge/missionforge/internal/services/worker/domain"
	"github.com/missionforge/missionforge/internal/services/worker/reputation"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// RuntimeConfig controls worker startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	Port             int
	DBPath           string
	Consumer         string
	PollInterval     time.Duration
	LeaseTTL         time.Duration
	MaxAttempts      int
	RetryBackoff     time.Duration
	RetryMaxDelay    time.Duration
	SweepInterval    time.Duration
	SweepBatchSize   int
	ReputationURL    string
	ReputationSecret string

	// Chain settings for the reconciliation sweep. When RPCURL is empty the
	// sweep is disabled and the worker only dispatches the outbox.
	RPCURL          string
	ContractAddress string
	SignerKey       string
	ChainID         int64
	TokenDecimals   int
	ConfirmTimeout  time.Duration
}

const (
	defaultWorkerPort    = 8089
	defaultWorkerDB      = "data/settlement.db"
	defaultSweepInterval = time.Minute
	defaultSweepBatch    = 100
)

// Run starts worker runtime dependencies and the background loops.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := log.New(os.Stdout, "worker: ", log.LstdFlags)

	if strings.TrimSpace(cfg.ReputationURL) == "" {
		return fmt.Errorf("reputation sink url is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultWorkerPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultWorkerDB
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = defaultSweepBatch
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create worker storage dir: %w", err)
		}
	}

	store, err := settlementsqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open settlement sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Printf("close settlement sqlite store: %v", closeErr)
		}
	}()

	notifier, err := reputation.NewNotifier(cfg.ReputationURL, cfg.ReputationSecret)
	if err != nil {
		return err
	}

	outboxLoop := New(store, map[string]EventHandler{
		domain.EventSettlementCompleted: completedHandler(notifier),
	}, Config{
		Consumer:      cfg.Consumer,
		PollInterval:  cfg.PollInterval,
		LeaseTTL:      cfg.LeaseTTL,
		MaxAttempts:   cfg.MaxAttempts,
		RetryBackoff:  cfg.RetryBackoff,
		RetryMaxDelay: cfg.RetryMaxDelay,
	}, logger)

	var guard *settlementapp.ReconciliationGuard
	if strings.TrimSpace(cfg.RPCURL) != "" {
		chainClient, chainErr := chain.New(ctx, chain.Config{
			RPCURL:          cfg.RPCURL,
			ContractAddress: cfg.ContractAddress,
			SignerKey:       cfg.SignerKey,
			ChainID:         cfg.ChainID,
			TokenDecimals:   cfg.TokenDecimals,
			ConfirmTimeout:  cfg.ConfirmTimeout,
		})
		if chainErr != nil {
			return fmt.Errorf("construct chain client: %w", chainErr)
		}
		defer chainClient.Close()
		guard = settlementapp.NewReconciliationGuard(store, chainClient, logger)
	} else {
		logger.Printf("no chain rpc url configured, reconciliation sweep disabled")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on worker port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("missionforge.worker", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	if guard != nil {
		go runSweep(ctx, guard, cfg.SweepInterval, cfg.SweepBatchSize, logger)
	}

	logger.Printf("worker listening at %v", listener.Addr())
	err = outboxLoop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func completedHandler(notifier *reputation.Notifier) EventHandler {
	return EventHandlerFunc(func(ctx context.Context, event storage.ReputationOutboxEvent) error {
		payload, err := domain.ParseSettlementCompletedPayload(event.PayloadJSON)
		if err != nil {
			return err
		}
		return notifier.Notify(ctx, payload)
	})
}

func runSweep(ctx context.Context, guard *settlementapp.ReconciliationGuard, interval time.Duration, batch int, logger *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := guard.Sweep(ctx, batch); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("reconciliation sweep failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
