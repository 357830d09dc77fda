package config

import (
	"testing"
	"time"

	"github.com/brojonat/solpay/service/transfer"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"SERVER_ADDR",
	"LOG_LEVEL",
	"NATS_URL",
	"SOLANA_CLUSTER",
	"SOLANA_RPC_URL",
	"SOLANA_RPC_API_KEY",
	"SOLANA_COMMITMENT",
	"TEMPORAL_HOST",
	"TEMPORAL_NAMESPACE",
	"TEMPORAL_TASK_QUEUE",
	"REMOTE_BUILDER_URL",
	"CONFIRM_POLL_INTERVAL",
	"SUBMIT_MAX_ATTEMPTS",
	"SKIP_PREFLIGHT",
	"PAY_RECIPIENT",
	"PAY_AMOUNT",
	"PAY_MINT",
	"PAY_LABEL",
	"PAY_ICON_URL",
	"PAY_BASE_URL",
}

// clearEnv blanks every variable Load reads; empty values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func validConfig() *Config {
	return &Config{
		ServerAddr:          ":8080",
		SolanaCluster:       "devnet",
		Finality:            transfer.FinalityConfirmed,
		ConfirmPollInterval: 500 * time.Millisecond,
		SubmitMaxAttempts:   3,
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "devnet", cfg.SolanaCluster)
	assert.Empty(t, cfg.SolanaRPCURLs)
	assert.Equal(t, transfer.FinalityConfirmed, cfg.Finality)
	assert.Equal(t, "default", cfg.TemporalNamespace)
	assert.Equal(t, "solpay-payments", cfg.TemporalTaskQueue)
	assert.Equal(t, 500*time.Millisecond, cfg.ConfirmPollInterval)
	assert.Equal(t, 3, cfg.SubmitMaxAttempts)
	assert.False(t, cfg.SkipPreflight)
	assert.Equal(t, "solpay", cfg.Pay.Label)
	assert.False(t, cfg.Pay.Enabled())
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	recipient := solana.NewWallet().PublicKey().String()

	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("SOLANA_RPC_URL", "https://rpc.shyft.to, https://api.devnet.solana.com")
	t.Setenv("SOLANA_RPC_API_KEY", "secret")
	t.Setenv("SOLANA_COMMITMENT", "finalized")
	t.Setenv("TEMPORAL_HOST", "temporal:7233")
	t.Setenv("CONFIRM_POLL_INTERVAL", "2s")
	t.Setenv("SUBMIT_MAX_ATTEMPTS", "5")
	t.Setenv("SKIP_PREFLIGHT", "true")
	t.Setenv("PAY_RECIPIENT", recipient)
	t.Setenv("PAY_AMOUNT", "0.25")
	t.Setenv("PAY_LABEL", "Coffee Shop")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "nats://nats:4222", cfg.NATSURL)
	assert.Equal(t, []string{"https://rpc.shyft.to", "https://api.devnet.solana.com"}, cfg.SolanaRPCURLs)
	assert.Equal(t, transfer.FinalityFinalized, cfg.Finality)
	assert.Equal(t, "temporal:7233", cfg.TemporalHost)
	assert.True(t, cfg.SkipPreflight)

	rpcCfg := cfg.Solana()
	assert.Equal(t, "secret", rpcCfg.APIKey)
	assert.Len(t, rpcCfg.Endpoints, 2)

	driver := cfg.Driver()
	assert.Equal(t, 2*time.Second, driver.PollInterval)
	assert.Equal(t, uint(5), driver.MaxAttempts)
	assert.True(t, driver.SkipPreflight)

	assert.True(t, cfg.Pay.Enabled())
	assert.Equal(t, recipient, cfg.Pay.RecipientKey().String())
	assert.True(t, decimal.RequireFromString("0.25").Equal(cfg.Pay.Amount))
	assert.Nil(t, cfg.Pay.MintKey())
	assert.Equal(t, "Coffee Shop", cfg.Pay.Label)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"bad commitment", "SOLANA_COMMITMENT", "processed", "SOLANA_COMMITMENT"},
		{"bad duration", "CONFIRM_POLL_INTERVAL", "soon", "invalid duration"},
		{"bad integer", "SUBMIT_MAX_ATTEMPTS", "many", "invalid integer"},
		{"bad boolean", "SKIP_PREFLIGHT", "maybe", "invalid boolean"},
		{"bad amount", "PAY_AMOUNT", "1,5", "PAY_AMOUNT"},
		{"unknown cluster", "SOLANA_CLUSTER", "moonnet", "unknown cluster"},
		{"too fast polling", "CONFIRM_POLL_INTERVAL", "10ms", "at least 100ms"},
		{"zero attempts", "SUBMIT_MAX_ATTEMPTS", "0", "at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_ExplicitEndpointsSkipCluster(t *testing.T) {
	cfg := validConfig()
	cfg.SolanaCluster = ""
	cfg.SolanaRPCURLs = []string{"https://rpc.example.com"}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_TemporalRequiresQueue(t *testing.T) {
	cfg := validConfig()
	cfg.TemporalHost = "localhost:7233"
	cfg.TemporalNamespace = "default"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TemporalTaskQueue is required")
}

func TestPayConfig_Validate(t *testing.T) {
	wallet := solana.NewWallet().PublicKey().String()

	tests := []struct {
		name    string
		cfg     PayConfig
		wantErr bool
	}{
		{"disabled is valid", PayConfig{}, false},
		{"sol payments", PayConfig{Recipient: wallet, Label: "shop"}, false},
		{"token payments", PayConfig{Recipient: wallet, Label: "shop", Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"}, false},
		{"bad recipient", PayConfig{Recipient: "abc123", Label: "shop"}, true},
		{"bad mint", PayConfig{Recipient: wallet, Label: "shop", Mint: "nope"}, true},
		{"negative amount", PayConfig{Recipient: wallet, Label: "shop", Amount: decimal.NewFromInt(-1)}, true},
		{"missing label", PayConfig{Recipient: wallet}, true},
		{"relative base url", PayConfig{Recipient: wallet, Label: "shop", BaseURL: "/pay"}, true},
		{"https base url", PayConfig{Recipient: wallet, Label: "shop", BaseURL: "https://pay.example.com"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMustLoad_Panics(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOLANA_COMMITMENT", "processed")

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	clearEnv(t)

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}
