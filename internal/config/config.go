package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/you/spread-bot/internal/dex/core"
)

// BaseWETH asks the first venue's router for its wrapped native token.
const BaseWETH = "weth"

type VenueCfg struct {
	ID     core.VenueID `yaml:"id"`
	Router string       `yaml:"router"`
}

type RedisCfg struct {
	Addr      string `yaml:"addr"`
	DB        int    `yaml:"db"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Stream    string `yaml:"stream"`
	LatestKey string `yaml:"latest_key"`
	MaxLen    int64  `yaml:"max_len"`
}

type KafkaCfg struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Config struct {
	Chain struct {
		Network string `yaml:"network"`
		RPCHTTP string `yaml:"rpc_http"`
	} `yaml:"chain"`

	Venues []VenueCfg `yaml:"venues"`

	Pair struct {
		Base  string `yaml:"base"`
		Quote string `yaml:"quote"`
	} `yaml:"pair"`

	Evaluation struct {
		MinProfitThreshold string `yaml:"min_profit_threshold"`
		ExecutionDiscount  string `yaml:"execution_discount"`
		// ReferenceAmount overrides 10^decimals(base) when set.
		ReferenceAmount string `yaml:"reference_amount"`
	} `yaml:"evaluation"`

	Timings struct {
		PollInterval time.Duration `yaml:"poll_interval"`
		QuoteTimeout time.Duration `yaml:"quote_timeout"`
	} `yaml:"timings"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Redis RedisCfg `yaml:"redis"`
	Kafka KafkaCfg `yaml:"kafka"`

	threshold *big.Int
	discount  decimal.Decimal
	reference *big.Int
}

// Load reads .env (if present) and the YAML file at path. ${VAR} references
// in the file are expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Timings.PollInterval == 0 {
		c.Timings.PollInterval = 60 * time.Second
	}
	if c.Timings.QuoteTimeout == 0 {
		c.Timings.QuoteTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = "spread:reports"
	}
	if c.Redis.LatestKey == "" {
		c.Redis.LatestKey = "spread:latest"
	}
	if c.Redis.MaxLen == 0 {
		c.Redis.MaxLen = 10_000
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "spread.reports"
	}
}

// Validate rejects any config missing a safety-relevant value. Threshold,
// discount and pair are never defaulted.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Chain.RPCHTTP) == "" {
		errs = append(errs, errors.New("chain.rpc_http is required"))
	}
	if len(c.Venues) != 2 {
		errs = append(errs, fmt.Errorf("exactly 2 venues required, got %d", len(c.Venues)))
	}
	seen := make(map[core.VenueID]bool, len(c.Venues))
	for i, v := range c.Venues {
		if v.ID == "" {
			errs = append(errs, fmt.Errorf("venues[%d].id is required", i))
		}
		if seen[v.ID] {
			errs = append(errs, fmt.Errorf("venues[%d].id %q is duplicated", i, v.ID))
		}
		seen[v.ID] = true
		if !common.IsHexAddress(v.Router) {
			errs = append(errs, fmt.Errorf("venues[%d].router %q is not an address", i, v.Router))
		}
	}
	if c.Pair.Base != BaseWETH && !common.IsHexAddress(c.Pair.Base) {
		errs = append(errs, fmt.Errorf("pair.base %q must be an address or %q", c.Pair.Base, BaseWETH))
	}
	if !common.IsHexAddress(c.Pair.Quote) {
		errs = append(errs, fmt.Errorf("pair.quote %q is not an address", c.Pair.Quote))
	}

	if th, ok := parseUint(c.Evaluation.MinProfitThreshold); ok {
		c.threshold = th
	} else {
		errs = append(errs, fmt.Errorf("evaluation.min_profit_threshold %q must be a non-negative integer", c.Evaluation.MinProfitThreshold))
	}
	if d, err := decimal.NewFromString(strings.TrimSpace(c.Evaluation.ExecutionDiscount)); err != nil {
		errs = append(errs, fmt.Errorf("evaluation.execution_discount %q: %w", c.Evaluation.ExecutionDiscount, err))
	} else if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("evaluation.execution_discount %s outside [0,1]", d))
	} else {
		c.discount = d
	}
	if c.Evaluation.ReferenceAmount != "" {
		if ref, ok := parseUint(c.Evaluation.ReferenceAmount); ok && ref.Sign() > 0 {
			c.reference = ref
		} else {
			errs = append(errs, fmt.Errorf("evaluation.reference_amount %q must be a positive integer", c.Evaluation.ReferenceAmount))
		}
	}
	if c.Timings.PollInterval < 0 || c.Timings.QuoteTimeout < 0 {
		errs = append(errs, errors.New("timings must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) MinProfitThreshold() *big.Int { return new(big.Int).Set(c.threshold) }

func (c *Config) ExecutionDiscount() decimal.Decimal { return c.discount }

// ReferenceAmount is nil unless overridden in the file.
func (c *Config) ReferenceAmount() *big.Int {
	if c.reference == nil {
		return nil
	}
	return new(big.Int).Set(c.reference)
}

func (c *Config) VenueIDs() []core.VenueID {
	out := make([]core.VenueID, 0, len(c.Venues))
	for _, v := range c.Venues {
		out = append(out, v.ID)
	}
	return out
}

func (c *Config) PollInterval() time.Duration { return c.Timings.PollInterval }
func (c *Config) QuoteTimeout() time.Duration { return c.Timings.QuoteTimeout }

func parseUint(s string) (*big.Int, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if s == "" {
		return nil, false
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}
