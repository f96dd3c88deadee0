package market

import (
	"math/big"

	"marketvault/core/types"
)

// Normalize converts a scaled amount to an underlying-asset amount using the
// current scale factor, rounding down.
func (s *State) Normalize(scaled *big.Int) (*big.Int, error) {
	return rayMul(scaled, s.ScaleFactor)
}

// Scale converts an underlying-asset amount to a scaled amount using the
// current scale factor, rounding down. Scale and Normalize are inverses up
// to one unit of rounding loss, retained by the vault.
func (s *State) Scale(normalized *big.Int) (*big.Int, error) {
	return rayDiv(normalized, s.ScaleFactor)
}

// TotalSupply returns the normalized value of all outstanding scaled
// balances.
func (s *State) TotalSupply() (*big.Int, error) {
	return s.Normalize(s.ScaledTotalSupply)
}

// MaximumDeposit returns the normalized amount the vault can still accept.
func (s *State) MaximumDeposit() (*big.Int, error) {
	supply, err := s.TotalSupply()
	if err != nil {
		return nil, err
	}
	return satSub(s.MaxTotalSupply, supply), nil
}

// LiquidityRequired returns the minimum underlying holding the vault must
// retain: full coverage of pending withdrawals, the coverage-ratio cushion
// over the remaining supply, and amounts already owed to fees and funded
// batches.
func (s *State) LiquidityRequired() (*big.Int, error) {
	coverage := bipMul(satSub(s.ScaledTotalSupply, s.ScaledPendingWithdrawals), s.LiquidityCoverageBips)
	coverage.Add(coverage, s.ScaledPendingWithdrawals)
	required, err := s.Normalize(coverage)
	if err != nil {
		return nil, err
	}
	required.Add(required, s.AccruedProtocolFees)
	required.Add(required, s.ReservedAssets)
	return required, nil
}

// LiquidAssets returns the portion of the held assets not already owed to
// funded batches or accrued fees.
func (s *State) LiquidAssets(totalHeld *big.Int) *big.Int {
	owed := new(big.Int).Add(s.ReservedAssets, s.AccruedProtocolFees)
	return satSub(totalHeld, owed)
}

// HasPendingBatch reports whether a withdrawal batch is currently open.
func (s *State) HasPendingBatch() bool {
	return s.PendingWithdrawalExpiry != 0
}

// HasPendingExpiredBatch reports whether the open batch has matured.
func (s *State) HasPendingExpiredBatch(now uint64) bool {
	return s.PendingWithdrawalExpiry != 0 && s.PendingWithdrawalExpiry <= now
}

// IncreaseScaledSupply grows the aggregate scaled supply, failing with a
// range error instead of wrapping.
func (s *State) IncreaseScaledSupply(scaled *big.Int) error {
	if scaled == nil || scaled.Sign() < 0 {
		return ErrInvalidAmount
	}
	next := new(big.Int).Add(s.ScaledTotalSupply, scaled)
	if err := checkRange(next); err != nil {
		return err
	}
	s.ScaledTotalSupply = next
	return nil
}

// DecreaseScaledSupply shrinks the aggregate scaled supply, failing with an
// underflow error instead of wrapping.
func (s *State) DecreaseScaledSupply(scaled *big.Int) error {
	if scaled == nil || scaled.Sign() < 0 {
		return ErrInvalidAmount
	}
	if s.ScaledTotalSupply.Cmp(scaled) < 0 {
		return ErrUnderflow
	}
	s.ScaledTotalSupply = new(big.Int).Sub(s.ScaledTotalSupply, scaled)
	return nil
}

// CreditScaledBalance grows a lender's scaled balance with a range guard.
func CreditScaledBalance(account *types.Account, scaled *big.Int) error {
	if account == nil || scaled == nil || scaled.Sign() < 0 {
		return ErrInvalidAmount
	}
	account.EnsureDefaults()
	next := new(big.Int).Add(account.ScaledBalance, scaled)
	if err := checkRange(next); err != nil {
		return err
	}
	account.ScaledBalance = next
	return nil
}

// DebitScaledBalance shrinks a lender's scaled balance, failing when the
// balance does not cover the debit.
func DebitScaledBalance(account *types.Account, scaled *big.Int) error {
	if account == nil || scaled == nil || scaled.Sign() < 0 {
		return ErrInvalidAmount
	}
	account.EnsureDefaults()
	if account.ScaledBalance.Cmp(scaled) < 0 {
		return ErrInsufficientBalance
	}
	account.ScaledBalance = new(big.Int).Sub(account.ScaledBalance, scaled)
	return nil
}

// CheckSolvency verifies the conservation invariant: the normalized supply
// plus accrued fees plus reserved assets never exceeds the assets actually
// held.
func (s *State) CheckSolvency(totalHeld *big.Int) (bool, error) {
	supply, err := s.TotalSupply()
	if err != nil {
		return false, err
	}
	claims := new(big.Int).Add(supply, s.AccruedProtocolFees)
	claims.Add(claims, s.ReservedAssets)
	return claims.Cmp(totalHeld) <= 0, nil
}
