package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	yaml "gopkg.in/yaml.v2"
)

const DEFAULT_CONFIG_FILE = "config.yml"

// reading config error is fatal, and exists main thread
func processError(err error) {
	fmt.Println(err)
	os.Exit(2)
}

// missing file is not an error, defaults and env still apply
func readFile(path string, cfg *Configuration) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func readEnv(cfg *Configuration) error {
	return envconfig.Process(ENV_PREFIX, cfg)
}

// Load reads the yaml file, overlays the environment and fills defaults.
func Load(path string) (*Configuration, error) {
	cfg := &Configuration{}
	if err := readFile(path, cfg); err != nil {
		return nil, err
	}
	if err := readEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Configuration) Validate() error {
	var errs []error

	for _, rate := range []struct{ name, value string }{
		{"fees.bridge_fee_rate", c.Fees.BridgeFeeRate},
		{"fees.default_network_rate", c.Fees.DefaultRate},
	} {
		if err := validRate(rate.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rate.name, err))
		}
	}
	for chainID, rate := range c.Fees.NetworkRates {
		if err := validRate(rate); err != nil {
			errs = append(errs, fmt.Errorf("fees.network_rates[%d]: %w", chainID, err))
		}
	}

	if c.Fees.FastDuration <= 0 || c.Fees.SlowDuration < c.Fees.FastDuration {
		errs = append(errs, fmt.Errorf("fees: slow_duration (%v) must be >= fast_duration (%v) > 0", c.Fees.SlowDuration, c.Fees.FastDuration))
	}
	if c.Store.HistoryLimit < 1 {
		errs = append(errs, fmt.Errorf("store.history_limit must be positive, got %d", c.Store.HistoryLimit))
	}
	if c.Store.WriteRetries < 0 {
		errs = append(errs, fmt.Errorf("store.write_retries cannot be negative"))
	}
	if c.Monitor.PollInterval < 10*time.Millisecond {
		errs = append(errs, fmt.Errorf("monitor.poll_interval too small: %v", c.Monitor.PollInterval))
	}
	if c.Monitor.ConfirmAfter <= 0 || c.Monitor.ConfirmAfter >= 1 {
		errs = append(errs, fmt.Errorf("monitor.confirm_after must be within (0,1), got %v", c.Monitor.ConfirmAfter))
	}
	if c.Monitor.FaultProbability < 0 || c.Monitor.FaultProbability > 1 {
		errs = append(errs, fmt.Errorf("monitor.fault_probability must be within [0,1]"))
	}

	seen := make(map[int]bool)
	for _, chain := range c.Chains {
		if chain.ID == 0 || chain.Name == "" {
			errs = append(errs, fmt.Errorf("chains: id and name are required (%+v)", chain))
		}
		if seen[chain.ID] {
			errs = append(errs, fmt.Errorf("chains: duplicate id %d", chain.ID))
		}
		seen[chain.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

func validRate(value string) error {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return err
	}
	if d.IsNegative() || d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("rate %s outside [0,1)", value)
	}
	return nil
}

func Init() {
	cfg, err := Load(DEFAULT_CONFIG_FILE)
	if err != nil {
		processError(err)
	}
	Config = *cfg
}
