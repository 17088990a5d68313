package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "localhost", cfg.Server.RedisHost)
	assert.Equal(t, 6379, cfg.Server.RedisPort)
	assert.Equal(t, DEFAULT_HISTORY_LIMIT, cfg.Store.HistoryLimit)
	assert.Equal(t, 5*time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Fees.CacheTTL)
	assert.Equal(t, "0.001", cfg.Fees.BridgeFeeRate)
	assert.Len(t, cfg.Chains, len(DefaultChains))
	assert.True(t, cfg.Chains[0].Slow)
}

func TestLoad_FileAndEnvOverlay(t *testing.T) {
	path := writeConfig(t, `
server:
  redis_host: redis.internal
  redis_port: 6380
store:
  history_limit: 25
monitor:
  poll_interval: 2s
fees:
  network_rates:
    1: "0.004"
chains:
  - id: 1
    name: Ethereum
    native_symbol: ETH
    tokens: [USDC]
    slow: true
  - id: 137
    name: Polygon
    native_symbol: MATIC
    tokens: [USDC]
`)
	t.Setenv("BRIDGE_SERVER_REDIS_HOST", "redis.env")
	t.Setenv("BRIDGE_STORE_HISTORY_LIMIT", "40")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis.env", cfg.Server.RedisHost)
	assert.Equal(t, 6380, cfg.Server.RedisPort)
	assert.Equal(t, 40, cfg.Store.HistoryLimit)
	assert.Equal(t, 2*time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, "0.004", cfg.Fees.NetworkRates[1])
	require.Len(t, cfg.Chains, 2)
	assert.Equal(t, "Polygon", cfg.Chains[1].Name)
	assert.Equal(t, []string{"USDC"}, cfg.Chains[1].Tokens)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Configuration {
		cfg := &Configuration{}
		cfg.Defaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Configuration)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Configuration) {},
		},
		{
			name:    "bad bridge fee rate",
			mutate:  func(c *Configuration) { c.Fees.BridgeFeeRate = "abc" },
			wantErr: "fees.bridge_fee_rate",
		},
		{
			name:    "rate of one or more",
			mutate:  func(c *Configuration) { c.Fees.NetworkRates = map[int]string{1: "1.5"} },
			wantErr: "fees.network_rates[1]",
		},
		{
			name:    "slow shorter than fast",
			mutate:  func(c *Configuration) { c.Fees.SlowDuration = time.Minute },
			wantErr: "slow_duration",
		},
		{
			name:    "non positive history limit",
			mutate:  func(c *Configuration) { c.Store.HistoryLimit = -1 },
			wantErr: "store.history_limit",
		},
		{
			name:    "fault probability out of range",
			mutate:  func(c *Configuration) { c.Monitor.FaultProbability = 2 },
			wantErr: "fault_probability",
		},
		{
			name:    "confirm fraction at eta",
			mutate:  func(c *Configuration) { c.Monitor.ConfirmAfter = 1 },
			wantErr: "monitor.confirm_after",
		},
		{
			name: "duplicate chain id",
			mutate: func(c *Configuration) {
				c.Chains = append(c.Chains, c.Chains[0])
			},
			wantErr: "duplicate id 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_KeepsEveryError(t *testing.T) {
	cfg := &Configuration{}
	cfg.Defaults()
	cfg.Store.HistoryLimit = -1
	cfg.Monitor.FaultProbability = 2

	err := cfg.Validate()
	require.Error(t, err)
	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	assert.Len(t, joined.Unwrap(), 2)
}
