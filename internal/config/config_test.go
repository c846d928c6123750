package config

import (
	"errors"
	"testing"
	"time"

	"github.com/Mmmuuieddd/gamblefi-backend/internal/domain"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		Chain: ChainConfig{
			RPCURL:          "http://localhost:8545",
			WSSURL:          "ws://localhost:8546",
			ContractAddress: "0x0000000000000000000000000000000000001234",
			SignerKey:       "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		},
		Settler: SettlerConfig{
			TickInterval:         10 * time.Second,
			MaxReconnectAttempts: 10,
		},
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidateMissingSignerKey(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.SignerKey = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil without a signer key")
	}
	if !errors.Is(err, domain.ErrMissingSignerKey) {
		t.Errorf("Validate() = %v, want ErrMissingSignerKey in the chain", err)
	}
}

func TestValidateRejectsBadContractAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.ContractAddress = "not-an-address"

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted an invalid contract address")
	}
}
