// Package config loads the gateway's genesis and fee schedule file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"gopkg.in/yaml.v3"

	"github.com/juno-intents/ton-gateway/internal/fees"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

var ErrInvalidConfig = errors.New("config: invalid config")

type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Fees    FeesConfig    `yaml:"fees"`
	API     APIConfig     `yaml:"api"`
}

// GatewayConfig describes the account deployed when the store is empty.
type GatewayConfig struct {
	Address         string `yaml:"address"`
	Authority       string `yaml:"authority"`
	TSS             string `yaml:"tss"`
	DepositsEnabled bool   `yaml:"deposits_enabled"`
	// Balance is in TON, e.g. "0.5".
	Balance       string `yaml:"balance"`
	SnapshotEvery uint64 `yaml:"snapshot_every"`
	MaxCascade    int    `yaml:"max_cascade"`
}

type FeesConfig struct {
	GasPrice        uint64            `yaml:"gas_price"`
	MaxGas          uint64            `yaml:"max_gas"`
	Quantum         uint64            `yaml:"quantum"`
	WithdrawReserve uint64            `yaml:"withdraw_reserve"`
	GasLimits       map[string]uint64 `yaml:"gas_limits"`
	Forward         ForwardConfig     `yaml:"forward"`
	Costs           CostsConfig       `yaml:"costs"`
}

type ForwardConfig struct {
	Lump      uint64 `yaml:"lump"`
	BitPrice  uint64 `yaml:"bit_price"`
	CellPrice uint64 `yaml:"cell_price"`
}

type CostsConfig struct {
	Base        uint64 `yaml:"base"`
	CellLoad    uint64 `yaml:"cell_load"`
	CellCreate  uint64 `yaml:"cell_create"`
	Ecrecover   uint64 `yaml:"ecrecover"`
	MessageSend uint64 `yaml:"message_send"`
}

type APIConfig struct {
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`
	MaxBodyBytes       int64   `yaml:"max_body_bytes"`
	MaxListLimit       int     `yaml:"max_list_limit"`
}

// Genesis is the resolved initial account.
type Genesis struct {
	Address *address.Address
	State   wire.State
	Balance *big.Int
}

// Default has no addresses; those must come from the file.
func Default() *Config {
	s := fees.DefaultSchedule()
	limits := make(map[string]uint64, len(s.GasLimits))
	for op, g := range s.GasLimits {
		limits[op.String()] = g
	}
	return &Config{
		Gateway: GatewayConfig{
			Balance:       "0",
			SnapshotEvery: 100,
			MaxCascade:    64,
		},
		Fees: FeesConfig{
			GasPrice:        s.GasPrice,
			MaxGas:          s.MaxGas,
			Quantum:         s.Quantum,
			WithdrawReserve: s.WithdrawReserve,
			GasLimits:       limits,
			Forward: ForwardConfig{
				Lump:      s.Forward.Lump,
				BitPrice:  s.Forward.BitPrice,
				CellPrice: s.Forward.CellPrice,
			},
			Costs: CostsConfig{
				Base:        s.Costs.Base,
				CellLoad:    s.Costs.CellLoad,
				CellCreate:  s.Costs.CellCreate,
				Ecrecover:   s.Costs.Ecrecover,
				MessageSend: s.Costs.MessageSend,
			},
		},
		API: APIConfig{
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
			MaxBodyBytes:       64 << 10,
			MaxListLimit:       100,
		},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads YAML over Default. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if _, err := c.Genesis(); err != nil {
		return err
	}
	if _, err := c.Schedule(); err != nil {
		return err
	}
	if c.Gateway.MaxCascade <= 0 {
		return fmt.Errorf("%w: gateway.max_cascade must be > 0", ErrInvalidConfig)
	}
	if c.API.RateLimitPerSecond <= 0 || c.API.RateLimitBurst <= 0 {
		return fmt.Errorf("%w: api rate limit must be > 0", ErrInvalidConfig)
	}
	if c.API.MaxBodyBytes <= 0 || c.API.MaxListLimit <= 0 {
		return fmt.Errorf("%w: api limits must be > 0", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) Genesis() (Genesis, error) {
	g := c.Gateway
	self, err := wire.ParseAddress(g.Address)
	if err != nil {
		return Genesis{}, fmt.Errorf("%w: gateway.address: %v", ErrInvalidConfig, err)
	}
	auth, err := wire.ParseAddress(g.Authority)
	if err != nil {
		return Genesis{}, fmt.Errorf("%w: gateway.authority: %v", ErrInvalidConfig, err)
	}
	tss, err := wire.ParseRemoteIdentity(g.TSS)
	if err != nil {
		return Genesis{}, fmt.Errorf("%w: gateway.tss: %v", ErrInvalidConfig, err)
	}
	bal, err := tlb.FromTON(strings.TrimSpace(g.Balance))
	if err != nil {
		return Genesis{}, fmt.Errorf("%w: gateway.balance: %v", ErrInvalidConfig, err)
	}
	return Genesis{
		Address: self,
		State: wire.State{
			DepositsEnabled: g.DepositsEnabled,
			Locked:          new(big.Int),
			TSS:             tss,
			Authority:       auth,
		},
		Balance: bal.Nano(),
	}, nil
}

// Schedule resolves gas limits keyed by op name or decimal tag.
func (c *Config) Schedule() (fees.Schedule, error) {
	f := c.Fees
	limits := make(map[wire.Op]uint64, len(f.GasLimits))
	for name, g := range f.GasLimits {
		op, err := wire.ParseOp(name)
		if err != nil {
			return fees.Schedule{}, fmt.Errorf("%w: fees.gas_limits: %v", ErrInvalidConfig, err)
		}
		limits[op] = g
	}
	s := fees.Schedule{
		GasPrice:  f.GasPrice,
		MaxGas:    f.MaxGas,
		GasLimits: limits,
		Forward: fees.ForwardPrices{
			Lump:      f.Forward.Lump,
			BitPrice:  f.Forward.BitPrice,
			CellPrice: f.Forward.CellPrice,
		},
		Costs: fees.GasCosts{
			Base:        f.Costs.Base,
			CellLoad:    f.Costs.CellLoad,
			CellCreate:  f.Costs.CellCreate,
			Ecrecover:   f.Costs.Ecrecover,
			MessageSend: f.Costs.MessageSend,
		},
		Quantum:         f.Quantum,
		WithdrawReserve: f.WithdrawReserve,
	}
	if err := s.Validate(); err != nil {
		return fees.Schedule{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return s, nil
}
