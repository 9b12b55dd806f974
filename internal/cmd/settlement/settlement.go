// Package settlement parses settlement command flags and launches the
// settlement runtime.
package settlement

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/missionforge/missionforge/internal/platform/cmd"
	"github.com/missionforge/missionforge/internal/services/settlement/runtime"
)

// Config holds settlement command configuration.
type Config struct {
	Port            int           `env:"MISSIONFORGE_SETTLEMENT_PORT" envDefault:"8094"`
	DBPath          string        `env:"MISSIONFORGE_SETTLEMENT_DB_PATH" envDefault:"data/settlement.db"`
	Network         string        `env:"MISSIONFORGE_SETTLEMENT_NETWORK" envDefault:"testnet"`
	RPCURL          string        `env:"MISSIONFORGE_SETTLEMENT_RPC_URL"`
	ContractAddress string        `env:"MISSIONFORGE_SETTLEMENT_CONTRACT_ADDRESS"`
	SignerKey       string        `env:"MISSIONFORGE_SETTLEMENT_SIGNER_KEY"`
	ChainID         int64         `env:"MISSIONFORGE_SETTLEMENT_CHAIN_ID"`
	TokenDecimals   int           `env:"MISSIONFORGE_SETTLEMENT_TOKEN_DECIMALS" envDefault:"18"`
	ConfirmTimeout  time.Duration `env:"MISSIONFORGE_SETTLEMENT_CONFIRM_TIMEOUT" envDefault:"90s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The settlement gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The settlement SQLite database path")
	fs.StringVar(&cfg.Network, "network", cfg.Network, "Default ledger environment label for new proposals")
	fs.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "JSON-RPC endpoint of the escrow chain")
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

// Run starts the settlement runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSettlement, func(context.Context) error {
		return runtime.Run(ctx, runtime.Config{
			Port:            cfg.Port,
			DBPath:          cfg.DBPath,
			Network:         cfg.Network,
			RPCURL:          cfg.RPCURL,
			ContractAddress: cfg.ContractAddress,
			SignerKey:       cfg.SignerKey,
			ChainID:         cfg.ChainID,
			TokenDecimals:   cfg.TokenDecimals,
			ConfirmTimeout:  cfg.ConfirmTimeout,
		})
	})
}
