package config

import (
	"time"

	"gobridgetracker/types"
)

type Configuration struct {
	// Server config
	Server struct {
		UseSSL    bool   `yaml:"ssl" envconfig:"SSL"`
		Addr      string `yaml:"addr" envconfig:"ADDR"`
		RedisPort int    `yaml:"redis_port" envconfig:"REDIS_PORT"`
		RedisHost string `yaml:"redis_host" envconfig:"REDIS_HOST"`
		LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL"`
		LogFormat string `yaml:"log_format" envconfig:"LOG_FORMAT"`
		LogDir    string `yaml:"log_dir" envconfig:"LOG_DIR"`
	} `yaml:"server"`
	// NATS is optional, events stay in process when empty
	NATS struct {
		URL string `yaml:"url" envconfig:"NATS_URL"`
	} `yaml:"nats"`
	Fees struct {
		BridgeFeeRate     string          `yaml:"bridge_fee_rate" envconfig:"BRIDGE_FEE_RATE"`
		DefaultRate       string          `yaml:"default_network_rate" envconfig:"DEFAULT_NETWORK_RATE"`
		NetworkRates      map[int]string  `yaml:"network_rates" ignored:"true"`
		SlowDuration      time.Duration   `yaml:"slow_duration" envconfig:"SLOW_DURATION"`
		FastDuration      time.Duration   `yaml:"fast_duration" envconfig:"FAST_DURATION"`
		CacheTTL          time.Duration   `yaml:"cache_ttl" envconfig:"FEE_CACHE_TTL"`
		QuoteTimeout      time.Duration   `yaml:"quote_timeout" envconfig:"QUOTE_TIMEOUT"`
		LiveGas           bool            `yaml:"live_gas" envconfig:"LIVE_GAS"`
		ReferenceGasPrice map[int]float64 `yaml:"reference_gas_gwei" ignored:"true"`
	} `yaml:"fees"`
	Store struct {
		HistoryLimit int           `yaml:"history_limit" envconfig:"HISTORY_LIMIT"`
		WriteRetries int           `yaml:"write_retries" envconfig:"WRITE_RETRIES"`
		RetryDelay   time.Duration `yaml:"retry_delay" envconfig:"RETRY_DELAY"`
	} `yaml:"store"`
	Monitor struct {
		PollInterval      time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
		ConfirmAfter      float64       `yaml:"confirm_after" envconfig:"CONFIRM_AFTER"`
		FaultProbability  float64       `yaml:"fault_probability" envconfig:"FAULT_PROBABILITY"`
		DisableFaults     bool          `yaml:"disable_faults" envconfig:"DISABLE_FAULTS"`
		FaultSeed         int64         `yaml:"fault_seed" envconfig:"FAULT_SEED"`
		// wait for the destination chain head to pass the eta before completing
		HeadConfirmations bool          `yaml:"head_confirmations" envconfig:"HEAD_CONFIRMATIONS"`
	} `yaml:"monitor"`
	Recovery struct {
		Interval       time.Duration `yaml:"interval" envconfig:"RECOVERY_INTERVAL"`
		AutoCheckStuck bool          `yaml:"auto_check_stuck" envconfig:"AUTO_CHECK_STUCK"`
	} `yaml:"recovery"`
	// current owner for single-owner deployments, requests may override it
	Owner struct {
		Address string `yaml:"address" envconfig:"OWNER_ADDRESS"`
	} `yaml:"owner"`
	// replaces the default chain catalog when non-empty
	Chains []types.ChainDescriptor `yaml:"chains" ignored:"true"`
}

var Config Configuration

// envconfig prefix, e.g. BRIDGE_SERVER_REDIS_HOST
const ENV_PREFIX = "BRIDGE"

const (
	DEFAULT_HISTORY_LIMIT = 100
	DEFAULT_WRITE_RETRIES = 3
)

// chain ids of the default catalog
const (
	CHAIN_ETHEREUM  = 1
	CHAIN_OPTIMISM  = 10
	CHAIN_BNB       = 56
	CHAIN_POLYGON   = 137
	CHAIN_ARBITRUM  = 42161
	CHAIN_AVALANCHE = 43114
)

// Supported chains, in display order. Ethereum is the slow reference network.
var DefaultChains = []types.ChainDescriptor{
	{
		ID:             CHAIN_ETHEREUM,
		Name:           "Ethereum",
		NativeSymbol:   "ETH",
		RPCURL:         "https://eth.drpc.org",
		RPCList:        []string{"https://eth.llamarpc.com"},
		ExplorerURL:    "https://etherscan.io",
		BridgeContract: "0x2bA64EFB7A4Ec8983E22A49c81fa216AC33f383A",
		Tokens:         []string{"ETH", "USDC", "USDT", "WBTC", "DAI"},
		Slow:           true,
	},
	{
		ID:           CHAIN_POLYGON,
		Name:         "Polygon",
		NativeSymbol: "MATIC",
		RPCURL:       "https://polygon.drpc.org",
		RPCList:      []string{"https://polygon.llamarpc.com"},
		ExplorerURL:  "https://polygonscan.com",
		Tokens:       []string{"ETH", "USDC", "USDT", "DAI"},
	},
	{
		ID:           CHAIN_BNB,
		Name:         "BNB",
		NativeSymbol: "BNB",
		RPCURL:       "https://rpc.ankr.com/bsc",
		RPCList:      []string{"https://bsc.drpc.org", "https://bsc.meowrpc.com"},
		ExplorerURL:  "https://bscscan.com",
		Tokens:       []string{"ETH", "USDC", "USDT"},
	},
	{
		ID:             CHAIN_ARBITRUM,
		Name:           "Arbitrum",
		NativeSymbol:   "ETH",
		RPCURL:         "https://rpc.ankr.com/arbitrum",
		RPCList:        []string{"https://arbitrum.llamarpc.com", "https://arbitrum.meowrpc.com"},
		ExplorerURL:    "https://arbiscan.io",
		BridgeContract: "0x2bA64EFB7A4Ec8983E22A49c81fa216AC33f383A",
		Tokens:         []string{"ETH", "USDC", "USDT", "WBTC", "DAI"},
	},
	{
		ID:           CHAIN_OPTIMISM,
		Name:         "Optimism",
		NativeSymbol: "ETH",
		RPCURL:       "https://rpc.ankr.com/optimism",
		RPCList:      []string{"https://optimism.llamarpc.com", "https://optimism.drpc.org"},
		ExplorerURL:  "https://optimistic.etherscan.io",
		Tokens:       []string{"ETH", "USDC", "DAI"},
	},
	{
		ID:           CHAIN_AVALANCHE,
		Name:         "Avalanche",
		NativeSymbol: "AVAX",
		RPCURL:       "https://api.avax.network/ext/bc/C/rpc",
		ExplorerURL:  "https://snowtrace.io",
		Tokens:       []string{"USDC", "USDT"},
	},
}

// network fee rate per source chain, fraction of the amount
var DefaultNetworkRates = map[int]string{
	CHAIN_ETHEREUM:  "0.005",
	CHAIN_POLYGON:   "0.001",
	CHAIN_BNB:       "0.002",
	CHAIN_ARBITRUM:  "0.0015",
	CHAIN_OPTIMISM:  "0.0015",
	CHAIN_AVALANCHE: "0.002",
}

// gas price in gwei at which the static rate applies, used by live gas quotes
var DefaultReferenceGasPrice = map[int]float64{
	CHAIN_ETHEREUM:  20,
	CHAIN_POLYGON:   50,
	CHAIN_BNB:       3,
	CHAIN_ARBITRUM:  0.1,
	CHAIN_OPTIMISM:  0.05,
	CHAIN_AVALANCHE: 25,
}

// Defaults applies values for every field left empty by file and env.
func (c *Configuration) Defaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
		if c.Server.UseSSL {
			c.Server.Addr = ":443"
		}
	}
	if c.Server.RedisHost == "" {
		c.Server.RedisHost = "localhost"
	}
	if c.Server.RedisPort == 0 {
		c.Server.RedisPort = 6379
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "json"
	}
	if c.Fees.BridgeFeeRate == "" {
		c.Fees.BridgeFeeRate = "0.001"
	}
	if c.Fees.DefaultRate == "" {
		c.Fees.DefaultRate = "0.003"
	}
	if len(c.Fees.NetworkRates) == 0 {
		c.Fees.NetworkRates = DefaultNetworkRates
	}
	if c.Fees.SlowDuration == 0 {
		c.Fees.SlowDuration = 15 * time.Minute
	}
	if c.Fees.FastDuration == 0 {
		c.Fees.FastDuration = 5 * time.Minute
	}
	if c.Fees.CacheTTL == 0 {
		c.Fees.CacheTTL = 30 * time.Second
	}
	if c.Fees.QuoteTimeout == 0 {
		c.Fees.QuoteTimeout = 3 * time.Second
	}
	if len(c.Fees.ReferenceGasPrice) == 0 {
		c.Fees.ReferenceGasPrice = DefaultReferenceGasPrice
	}
	if c.Store.HistoryLimit == 0 {
		c.Store.HistoryLimit = DEFAULT_HISTORY_LIMIT
	}
	if c.Store.WriteRetries == 0 {
		c.Store.WriteRetries = DEFAULT_WRITE_RETRIES
	}
	if c.Store.RetryDelay == 0 {
		c.Store.RetryDelay = 200 * time.Millisecond
	}
	if c.Monitor.PollInterval == 0 {
		c.Monitor.PollInterval = 5 * time.Second
	}
	if c.Monitor.ConfirmAfter == 0 {
		c.Monitor.ConfirmAfter = 0.3
	}
	if c.Monitor.FaultProbability == 0 {
		c.Monitor.FaultProbability = 0.05
	}
	if c.Recovery.Interval == 0 {
		c.Recovery.Interval = time.Minute
	}
	if len(c.Chains) == 0 {
		c.Chains = DefaultChains
	}
}
