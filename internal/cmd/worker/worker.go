// Package worker parses worker command flags and launches the worker runtime.
package worker

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/missionforge/missionforge/internal/platform/cmd"
	workerapp "github.com/missionforge/missionforge/internal/services/worker/app"
)

// Config holds worker command configuration.
type Config struct {
	Port             int           `env:"MISSIONFORGE_WORKER_PORT" envDefault:"8089"`
	DBPath           string        `env:"MISSIONFORGE_WORKER_DB_PATH" envDefault:"data/settlement.db"`
	Consumer         string        `env:"MISSIONFORGE_WORKER_CONSUMER" envDefault:"worker"`
	PollInterval     time.Duration `env:"MISSIONFORGE_WORKER_POLL_INTERVAL" envDefault:"5s"`
	LeaseTTL         time.Duration `env:"MISSIONFORGE_WORKER_LEASE_TTL" envDefault:"1m"`
	MaxAttempts      int           `env:"MISSIONFORGE_WORKER_MAX_ATTEMPTS" envDefault:"8"`
	RetryBackoff     time.Duration `env:"MISSIONFORGE_WORKER_RETRY_BACKOFF" envDefault:"30s"`
	RetryMaxDelay    time.Duration `env:"MISSIONFORGE_WORKER_RETRY_MAX_DELAY" envDefault:"30m"`
	SweepInterval    time.Duration `env:"MISSIONFORGE_WORKER_SWEEP_INTERVAL" envDefault:"1m"`
	SweepBatchSize   int           `env:"MISSIONFORGE_WORKER_SWEEP_BATCH_SIZE" envDefault:"100"`
	ReputationURL    string        `env:"MISSIONFORGE_WORKER_REPUTATION_URL"`
	ReputationSecret string        `env:"MISSIONFORGE_WORKER_REPUTATION_SECRET"`
	RPCURL           string        `env:"MISSIONFORGE_WORKER_RPC_URL"`
	ContractAddress  string        `env:"MISSIONFORGE_WORKER_CONTRACT_ADDRESS"`
	SignerKey        string        `env:"MISSIONFORGE_WORKER_SIGNER_KEY"`
	ChainID          int64         `env:"MISSIONFORGE_WORKER_CHAIN_ID"`
	TokenDecimals    int           `env:"MISSIONFORGE_WORKER_TOKEN_DECIMALS" envDefault:"18"`
	ConfirmTimeout   time.Duration `env:"MISSIONFORGE_WORKER_CONFIRM_TIMEOUT" envDefault:"90s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The worker health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The settlement SQLite database path")
	fs.StringVar(&cfg.Consumer, "consumer", cfg.Consumer, "Reputation outbox consumer name")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Reputation outbox poll interval")
	fs.DurationVar(&cfg.LeaseTTL, "lease-ttl", cfg.LeaseTTL, "Reputation outbox lease duration")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Maximum processing attempts before dead-letter")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Base retry backoff delay")
	fs.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "Maximum retry delay")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "Reconciliation sweep interval")
	fs.IntVar(&cfg.SweepBatchSize, "sweep-batch-size", cfg.SweepBatchSize, "Proposals checked per reconciliation sweep")
	fs.StringVar(&cfg.ReputationURL, "reputation-url", cfg.ReputationURL, "Reputation webhook endpoint")
	fs.StringVar(&cfg.ReputationSecret, "reputation-secret", cfg.ReputationSecret, "Reputation webhook signing secret")
	fs.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "JSON-RPC endpoint for the reconciliation sweep")
	fs.StringVar(&cfg.ContractAddress, "contract-address", cfg.ContractAddress, "Escrow contract address")
	fs.StringVar(&cfg.SignerKey, "signer-key", cfg.SignerKey, "Hex private key of the coordinator signer")
	fs.Int64Var(&cfg.ChainID, "chain-id", cfg.ChainID, "Chain ID the signer transacts on")
	fs.IntVar(&cfg.TokenDecimals, "token-decimals", cfg.TokenDecimals, "Decimals of the escrowed token")
	fs.DurationVar(&cfg.ConfirmTimeout, "confirm-timeout", cfg.ConfirmTimeout, "How long to wait for transaction confirmation")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the worker runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceWorker, func(context.Context) error {
		return workerapp.Run(ctx, workerapp.RuntimeConfig{
			Port:             cfg.Port,
			DBPath:           cfg.DBPath,
			Consumer:         cfg.Consumer,
			PollInterval:     cfg.PollInterval,
			LeaseTTL:         cfg.LeaseTTL,
			MaxAttempts:      cfg.MaxAttempts,
			RetryBackoff:     cfg.RetryBackoff,
			RetryMaxDelay:    cfg.RetryMaxDelay,
			SweepInterval:    cfg.SweepInterval,
			SweepBatchSize:   cfg.SweepBatchSize,
			ReputationURL:    cfg.ReputationURL,
			ReputationSecret: cfg.ReputationSecret,
			RPCURL:           cfg.RPCURL,
			ContractAddress:  cfg.ContractAddress,
			SignerKey:        cfg.SignerKey,
			ChainID:          cfg.ChainID,
			TokenDecimals:    cfg.TokenDecimals,
			ConfirmTimeout:   cfg.ConfirmTimeout,
		})
	})
}
