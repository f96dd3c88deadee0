package market

import (
	"fmt"
	"math/big"
)

// MaxLiquidityCoverageBips is the hard ceiling on the liquidity coverage
// ratio. A ratio above 100% cannot be satisfied by any asset holding.
const MaxLiquidityCoverageBips = 10_000

// MaxAnnualInterestBips caps the lender APR accepted by the engine.
const MaxAnnualInterestBips = 10_000

// MaxFeeBips caps the protocol and delinquency fee rates.
const MaxFeeBips = 10_000

// Parameters captures the runtime configuration for a market vault.
type Parameters struct {
	MaxTotalSupply          *big.Int `toml:"MaxTotalSupplyWei"`
	AnnualInterestBips      uint64   `toml:"AnnualInterestBips"`
	ProtocolFeeBips         uint64   `toml:"ProtocolFeeBips"`
	DelinquencyFeeBips      uint64   `toml:"DelinquencyFeeBips"`
	DelinquencyGracePeriod  uint64   `toml:"DelinquencyGracePeriodSeconds"`
	LiquidityCoverageBips   uint64   `toml:"LiquidityCoverageBips"`
	WithdrawalBatchDuration uint64   `toml:"WithdrawalBatchDurationSeconds"`
}

// Clone returns a deep copy of the parameters.
func (p Parameters) Clone() Parameters {
	clone := p
	if p.MaxTotalSupply != nil {
		clone.MaxTotalSupply = new(big.Int).Set(p.MaxTotalSupply)
	}
	return clone
}

// Validate checks the parameters against the engine's hard bounds.
func (p Parameters) Validate() error {
	if p.MaxTotalSupply == nil || p.MaxTotalSupply.Sign() <= 0 {
		return fmt.Errorf("%w: maximum total supply must be positive", ErrParameterOutOfBounds)
	}
	if err := checkRange(p.MaxTotalSupply); err != nil {
		return err
	}
	if p.AnnualInterestBips > MaxAnnualInterestBips {
		return fmt.Errorf("%w: annual interest %d bips exceeds %d", ErrParameterOutOfBounds, p.AnnualInterestBips, MaxAnnualInterestBips)
	}
	if p.LiquidityCoverageBips > MaxLiquidityCoverageBips {
		return fmt.Errorf("%w: liquidity coverage %d bips exceeds %d", ErrParameterOutOfBounds, p.LiquidityCoverageBips, MaxLiquidityCoverageBips)
	}
	if p.ProtocolFeeBips > MaxFeeBips {
		return fmt.Errorf("%w: protocol fee %d bips exceeds %d", ErrParameterOutOfBounds, p.ProtocolFeeBips, MaxFeeBips)
	}
	if p.DelinquencyFeeBips > MaxFeeBips {
		return fmt.Errorf("%w: delinquency fee %d bips exceeds %d", ErrParameterOutOfBounds, p.DelinquencyFeeBips, MaxFeeBips)
	}
	if p.WithdrawalBatchDuration == 0 {
		return fmt.Errorf("%w: withdrawal batch duration must be positive", ErrParameterOutOfBounds)
	}
	return nil
}
