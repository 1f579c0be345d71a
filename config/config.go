package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"raylend/native/lending"
)

// ReserveConfig describes one market listed at startup. Rates and the optimal
// utilization point are decimal strings scaled to ray (10^27).
type ReserveConfig struct {
	Asset                   string `toml:"Asset"`
	Decimals                uint8  `toml:"Decimals"`
	ReserveFactorBps        uint64 `toml:"ReserveFactorBps"`
	LoanToValueBps          uint64 `toml:"LoanToValueBps"`
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	LiquidationBonusBps     uint64 `toml:"LiquidationBonusBps"`

	OptimalUtilization     string `toml:"OptimalUtilization"`
	BaseVariableBorrowRate string `toml:"BaseVariableBorrowRate"`
	VariableRateSlope1     string `toml:"VariableRateSlope1"`
	VariableRateSlope2     string `toml:"VariableRateSlope2"`
	BaseStableBorrowRate   string `toml:"BaseStableBorrowRate"`
	StableRateSlope1       string `toml:"StableRateSlope1"`
	StableRateSlope2       string `toml:"StableRateSlope2"`
}

// TelemetryConfig mirrors the OTLP exporter knobs.
type TelemetryConfig struct {
	Endpoint    string `toml:"Endpoint"`
	Insecure    bool   `toml:"Insecure"`
	Headers     string `toml:"Headers"`
	Metrics     bool   `toml:"Metrics"`
	Traces      bool   `toml:"Traces"`
	Environment string `toml:"Environment"`
}

// Config is the raylendd service configuration.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	DataDir        string `toml:"DataDir"`
	NetworkName    string `toml:"NetworkName"`
	VaultAddress   string `toml:"VaultAddress"`
	AdminAddress   string `toml:"AdminAddress"`
	CloseFactorBps uint64 `toml:"CloseFactorBps"`
	// RateLimitPerSecond bounds RPC requests per client; zero disables the
	// limiter.
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`

	Reserves  []ReserveConfig `toml:"Reserves"`
	Telemetry TelemetryConfig `toml:"Telemetry"`
}

// Load reads the configuration from the given path. A missing file is written
// with defaults so a fresh node starts without manual steps.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./raylend-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "raylend-local"
	}
	if cfg.CloseFactorBps == 0 {
		cfg.CloseFactorBps = lending.DefaultCloseFactorBps
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 20
	}
}

func validate(cfg *Config) error {
	if !common.IsHexAddress(cfg.VaultAddress) {
		return fmt.Errorf("config: VaultAddress %q is not a hex address", cfg.VaultAddress)
	}
	if !common.IsHexAddress(cfg.AdminAddress) {
		return fmt.Errorf("config: AdminAddress %q is not a hex address", cfg.AdminAddress)
	}
	if cfg.CloseFactorBps > lending.PercentageFactor {
		return fmt.Errorf("config: CloseFactorBps %d exceeds %d", cfg.CloseFactorBps, lending.PercentageFactor)
	}
	for i := range cfg.Reserves {
		if _, err := cfg.Reserves[i].Reserve(); err != nil {
			return err
		}
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		VaultAddress: common.Address{}.Hex(),
		AdminAddress: common.Address{}.Hex(),
	}
	applyDefaults(cfg)

	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseRay(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("config: %s %q is not a non-negative integer", field, value)
	}
	return parsed, nil
}

// Reserve converts the configuration entry into a pool reserve.
func (rc *ReserveConfig) Reserve() (*lending.Reserve, error) {
	if !common.IsHexAddress(rc.Asset) {
		return nil, fmt.Errorf("config: reserve asset %q is not a hex address", rc.Asset)
	}
	if rc.LiquidationThresholdBps < rc.LoanToValueBps {
		return nil, fmt.Errorf("config: reserve %s threshold %d below loan-to-value %d", rc.Asset, rc.LiquidationThresholdBps, rc.LoanToValueBps)
	}

	strategy := &lending.RateStrategy{}
	var err error
	if strategy.OptimalUtilization, err = parseRay("OptimalUtilization", rc.OptimalUtilization); err != nil {
		return nil, err
	}
	if strategy.BaseVariableBorrowRate, err = parseRay("BaseVariableBorrowRate", rc.BaseVariableBorrowRate); err != nil {
		return nil, err
	}
	if strategy.VariableRateSlope1, err = parseRay("VariableRateSlope1", rc.VariableRateSlope1); err != nil {
		return nil, err
	}
	if strategy.VariableRateSlope2, err = parseRay("VariableRateSlope2", rc.VariableRateSlope2); err != nil {
		return nil, err
	}
	if strategy.BaseStableBorrowRate, err = parseRay("BaseStableBorrowRate", rc.BaseStableBorrowRate); err != nil {
		return nil, err
	}
	if strategy.StableRateSlope1, err = parseRay("StableRateSlope1", rc.StableRateSlope1); err != nil {
		return nil, err
	}
	if strategy.StableRateSlope2, err = parseRay("StableRateSlope2", rc.StableRateSlope2); err != nil {
		return nil, err
	}

	return &lending.Reserve{
		Asset:                   common.HexToAddress(rc.Asset),
		Decimals:                rc.Decimals,
		ReserveFactorBps:        rc.ReserveFactorBps,
		LoanToValueBps:          rc.LoanToValueBps,
		LiquidationThresholdBps: rc.LiquidationThresholdBps,
		LiquidationBonusBps:     rc.LiquidationBonusBps,
		Strategy:                strategy,
	}, nil
}
