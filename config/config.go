package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"marketvault/crypto"
	"marketvault/native/market"
)

type Config struct {
	RPCAddress        string `toml:"RPCAddress"`
	DataDir           string `toml:"DataDir"`
	LogFile           string `toml:"LogFile"`
	Environment       string `toml:"Environment"`
	VaultAddress      string `toml:"VaultAddress"`
	BorrowerAddress   string `toml:"BorrowerAddress"`
	ControllerAddress string `toml:"ControllerAddress"`

	Market market.Parameters `toml:"market"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown key %q", path, undecoded[0].String())
	}

	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./vault-data"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the address fields and the market parameter bounds.
func (cfg *Config) Validate() error {
	for field, raw := range map[string]string{
		"VaultAddress":      cfg.VaultAddress,
		"BorrowerAddress":   cfg.BorrowerAddress,
		"ControllerAddress": cfg.ControllerAddress,
	} {
		if strings.TrimSpace(raw) == "" {
			return fmt.Errorf("config: %s is required", field)
		}
		if _, err := crypto.DecodeAddress(raw); err != nil {
			return fmt.Errorf("config: %s: %w", field, err)
		}
	}
	if err := cfg.Market.Validate(); err != nil {
		return fmt.Errorf("config: market parameters: %w", err)
	}
	return nil
}

// Addresses decodes the configured vault, borrower and controller addresses.
// Call Validate first; decoding failures surface there with field context.
func (cfg *Config) Addresses() (vault, borrower, controller crypto.Address, err error) {
	if vault, err = crypto.DecodeAddress(cfg.VaultAddress); err != nil {
		return
	}
	if borrower, err = crypto.DecodeAddress(cfg.BorrowerAddress); err != nil {
		return
	}
	controller, err = crypto.DecodeAddress(cfg.ControllerAddress)
	return
}

// createDefault creates and saves a default configuration file. The generated
// addresses are placeholders the operator must replace.
func createDefault(path string) (*Config, error) {
	placeholder := crypto.MustNewAddress(crypto.MarketPrefix, make([]byte, 20)).String()
	cfg := &Config{
		RPCAddress:        ":8080",
		DataDir:           "./vault-data",
		LogFile:           "",
		Environment:       "local",
		VaultAddress:      placeholder,
		BorrowerAddress:   placeholder,
		ControllerAddress: placeholder,
		Market: market.Parameters{
			MaxTotalSupply:          new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1e18)),
			AnnualInterestBips:      1000,
			ProtocolFeeBips:         1000,
			DelinquencyFeeBips:      2000,
			DelinquencyGracePeriod:  86_400,
			LiquidityCoverageBips:   2000,
			WithdrawalBatchDuration: 86_400,
		},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
