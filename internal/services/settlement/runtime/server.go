// Package runtime wires the settlement service lifecycle: storage, chain
// client, coordinator and the gRPC health surface.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/missionforge/missionforge/internal/services/settlement/app"
	"github.com/missionforge/missionforge/internal/services/settlement/chain"
	settlementsqlite "github.com/missionforge/missionforge/internal/services/settlement/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// Config carries everything the settlement process needs. The chain client is
// constructed and validated before serving so a misconfigured signer fails at
// startup, not on the first settlement.
type Config struct {
	Port            int
	DBPath          string
	Network         string
	RPCURL          string
	ContractAddress string
	SignerKey       string
	ChainID         int64
	TokenDecimals   int
	ConfirmTimeout  time.Duration
}

// Server hosts the settlement coordinator and its gRPC lifecycle.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	store      *settlementsqlite.Store
	chain      *chain.Client
	service    *app.Service
	logger     *log.Logger
}

// New creates a configured settlement server.
func New(ctx context.Context, cfg Config) (*Server, error) {
	logger := log.New(os.Stdout, "settlement: ", log.LstdFlags)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("listen on :%d: %w", cfg.Port, err)
	}

	store, err := openSettlementStore(cfg.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	chainClient, err := chain.New(ctx, chain.Config{
		RPCURL:          cfg.RPCURL,
		ContractAddress: cfg.ContractAddress,
		SignerKey:       cfg.SignerKey,
		ChainID:         cfg.ChainID,
		TokenDecimals:   cfg.TokenDecimals,
		ConfirmTimeout:  cfg.ConfirmTimeout,
	})
	if err != nil {
		_ = store.Close()
		_ = listener.Close()
		return nil, fmt.Errorf("construct chain client: %w", err)
	}

	service := app.NewService(store, chainClient, cfg.Network, logger)

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("missionforge.settlement", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		store:      store,
		chain:      chainClient,
		service:    service,
		logger:     logger,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Service exposes the coordinator for in-process callers.
func (s *Server) Service() *app.Service {
	if s == nil {
		return nil
	}
	return s.service
}

// Serve blocks serving gRPC until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil || s.grpcServer == nil || s.listener == nil {
		return errors.New("server is not configured")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpcServer.Serve(s.listener)
	}()
	s.logger.Printf("serving on %s", s.Addr())

	select {
	case <-ctx.Done():
		s.Shutdown()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		s.Shutdown()
		return err
	}
}

// Shutdown stops serving and releases storage and chain resources.
func (s *Server) Shutdown() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	if s.chain != nil {
		s.chain.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Printf("close store: %v", err)
		}
	}
}

// Run creates and serves a settlement server until context cancellation.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	err = server.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openSettlementStore(path string) (*settlementsqlite.Store, error) {
	if path == "" {
		path = filepath.Join("data", "settlement.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := settlementsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open settlement store: %w", err)
	}
	return store, nil
}
