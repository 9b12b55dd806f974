package settlement

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("settlement", flag.ContinueOnError)
	t.Setenv("MISSIONFORGE_SETTLEMENT_PORT", "9094")
	t.Setenv("MISSIONFORGE_SETTLEMENT_RPC_URL", "http://chain:8545")

	cfg, err := ParseConfig(fs, []string{"-network", "mainnet", "-chain-id", "10"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9094 {
		t.Fatalf("port = %d, want 9094", cfg.Port)
	}
	if cfg.RPCURL != "http://chain:8545" {
		t.Fatalf("rpc url = %q, want %q", cfg.RPCURL, "http://chain:8545")
	}
	if cfg.Network != "mainnet" {
		t.Fatalf("network = %q, want %q", cfg.Network, "mainnet")
	}
	if cfg.ChainID != 10 {
		t.Fatalf("chain id = %d, want 10", cfg.ChainID)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	fs := flag.NewFlagSet("settlement", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != "data/settlement.db" {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, "data/settlement.db")
	}
	if cfg.Network != "testnet" {
		t.Fatalf("network = %q, want %q", cfg.Network, "testnet")
	}
	if cfg.TokenDecimals != 18 {
		t.Fatalf("token decimals = %d, want 18", cfg.TokenDecimals)
	}
	if cfg.ConfirmTimeout != 90*time.Second {
		t.Fatalf("confirm timeout = %v, want 90s", cfg.ConfirmTimeout)
	}
}
