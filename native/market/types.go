package market

import "math/big"

// State captures the aggregate accounting snapshot for a market vault. Amount
// values are denominated in wei and expressed as big integers; the scale
// factor is a ray (1e27) fixed-point ratio.
type State struct {
	// MaxTotalSupply caps the normalized supply the vault will accept.
	MaxTotalSupply *big.Int
	// ScaledTotalSupply is the aggregate scaled balance across all lenders,
	// including amounts committed to the open withdrawal batch.
	ScaledTotalSupply *big.Int
	// ScaledPendingWithdrawals is the scaled amount committed to withdrawal
	// batches that has not yet been burned by funding.
	ScaledPendingWithdrawals *big.Int
	// AccruedProtocolFees is the normalized fee amount owed to the protocol.
	AccruedProtocolFees *big.Int
	// ReservedAssets is the normalized amount set aside for funded
	// withdrawal batches awaiting execution.
	ReservedAssets *big.Int
	// ScaleFactor converts scaled balances to normalized amounts. It is a
	// monotonically non-decreasing ray ratio and the sole mechanism of
	// balance growth.
	ScaleFactor *big.Int
	// AnnualInterestBips is the lender APR in basis points.
	AnnualInterestBips uint64
	// LiquidityCoverageBips is the minimum fraction of non-pending supply
	// that must be held as liquid reserve, in basis points.
	LiquidityCoverageBips uint64
	// DelinquencyFeeBips is the penalty APR applied to delinquent time.
	DelinquencyFeeBips uint64
	// DelinquencyGracePeriod is the number of seconds a delinquency streak
	// may run before the penalty rate engages.
	DelinquencyGracePeriod uint64
	// ProtocolFeeBips is the share of interest growth routed to the
	// protocol, in basis points.
	ProtocolFeeBips uint64
	// IsDelinquent records whether held assets were below the liquidity
	// requirement when the snapshot was last written.
	IsDelinquent bool
	// TimeDelinquent accumulates seconds of delinquency beyond the grace
	// period. It never decreases.
	TimeDelinquent uint64
	// DelinquencyStreak is the length in seconds of the current
	// uninterrupted delinquent stretch, including time inside grace.
	DelinquencyStreak uint64
	// LastAccrual records the unix timestamp of the last accrual step.
	LastAccrual uint64
	// PendingWithdrawalExpiry identifies the open withdrawal batch, zero
	// when none is open.
	PendingWithdrawalExpiry uint64
}

// NewState initialises a vault snapshot from the configured parameters.
func NewState(params Parameters, now uint64) *State {
	return &State{
		MaxTotalSupply:           cloneBigInt(params.MaxTotalSupply),
		ScaledTotalSupply:        big.NewInt(0),
		ScaledPendingWithdrawals: big.NewInt(0),
		AccruedProtocolFees:      big.NewInt(0),
		ReservedAssets:           big.NewInt(0),
		ScaleFactor:              new(big.Int).Set(ray),
		AnnualInterestBips:       params.AnnualInterestBips,
		LiquidityCoverageBips:    params.LiquidityCoverageBips,
		DelinquencyFeeBips:       params.DelinquencyFeeBips,
		DelinquencyGracePeriod:   params.DelinquencyGracePeriod,
		ProtocolFeeBips:          params.ProtocolFeeBips,
		LastAccrual:              now,
	}
}

// Clone returns a deep copy of the snapshot.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := *s
	clone.MaxTotalSupply = cloneBigInt(s.MaxTotalSupply)
	clone.ScaledTotalSupply = cloneBigInt(s.ScaledTotalSupply)
	clone.ScaledPendingWithdrawals = cloneBigInt(s.ScaledPendingWithdrawals)
	clone.AccruedProtocolFees = cloneBigInt(s.AccruedProtocolFees)
	clone.ReservedAssets = cloneBigInt(s.ReservedAssets)
	clone.ScaleFactor = cloneBigInt(s.ScaleFactor)
	return &clone
}

// EnsureDefaults populates nil big.Int fields so codec handling is safe.
func (s *State) EnsureDefaults() {
	if s.MaxTotalSupply == nil {
		s.MaxTotalSupply = big.NewInt(0)
	}
	if s.ScaledTotalSupply == nil {
		s.ScaledTotalSupply = big.NewInt(0)
	}
	if s.ScaledPendingWithdrawals == nil {
		s.ScaledPendingWithdrawals = big.NewInt(0)
	}
	if s.AccruedProtocolFees == nil {
		s.AccruedProtocolFees = big.NewInt(0)
	}
	if s.ReservedAssets == nil {
		s.ReservedAssets = big.NewInt(0)
	}
	if s.ScaleFactor == nil || s.ScaleFactor.Sign() == 0 {
		s.ScaleFactor = new(big.Int).Set(ray)
	}
}

// WithdrawalBatch is the cohort of withdrawal requests sharing one maturity
// timestamp, funded collectively and paid out pro-rata. A batch is immutable
// once fully paid.
type WithdrawalBatch struct {
	// ScaledTotalAmount is the scaled sum of all requests in the batch.
	ScaledTotalAmount *big.Int
	// ScaledAmountBurned is the scaled amount already covered by funding.
	ScaledAmountBurned *big.Int
	// NormalizedAmountPaid is the underlying amount reserved for the batch.
	NormalizedAmountPaid *big.Int
}

// NewWithdrawalBatch returns an empty batch record.
func NewWithdrawalBatch() *WithdrawalBatch {
	return &WithdrawalBatch{
		ScaledTotalAmount:    big.NewInt(0),
		ScaledAmountBurned:   big.NewInt(0),
		NormalizedAmountPaid: big.NewInt(0),
	}
}

// Clone returns a deep copy of the batch.
func (b *WithdrawalBatch) Clone() *WithdrawalBatch {
	if b == nil {
		return nil
	}
	return &WithdrawalBatch{
		ScaledTotalAmount:    cloneBigInt(b.ScaledTotalAmount),
		ScaledAmountBurned:   cloneBigInt(b.ScaledAmountBurned),
		NormalizedAmountPaid: cloneBigInt(b.NormalizedAmountPaid),
	}
}

// EnsureDefaults populates nil big.Int fields so codec handling is safe.
func (b *WithdrawalBatch) EnsureDefaults() {
	if b.ScaledTotalAmount == nil {
		b.ScaledTotalAmount = big.NewInt(0)
	}
	if b.ScaledAmountBurned == nil {
		b.ScaledAmountBurned = big.NewInt(0)
	}
	if b.NormalizedAmountPaid == nil {
		b.NormalizedAmountPaid = big.NewInt(0)
	}
}

// IsClosed reports whether every scaled unit in the batch has been burned.
func (b *WithdrawalBatch) IsClosed() bool {
	if b == nil {
		return false
	}
	return b.ScaledTotalAmount.Sign() > 0 && b.ScaledAmountBurned.Cmp(b.ScaledTotalAmount) == 0
}

// ScaledOwed returns the scaled amount still awaiting funding.
func (b *WithdrawalBatch) ScaledOwed() *big.Int {
	if b == nil {
		return big.NewInt(0)
	}
	return satSub(b.ScaledTotalAmount, b.ScaledAmountBurned)
}

// AccountWithdrawalStatus tracks a single lender's stake in one withdrawal
// batch. The claimed amount never exceeds the lender's pro-rata share of the
// batch's paid amount.
type AccountWithdrawalStatus struct {
	// ScaledAmount is the scaled amount the lender committed to the batch.
	ScaledAmount *big.Int
	// NormalizedAmountWithdrawn is the underlying amount already claimed.
	NormalizedAmountWithdrawn *big.Int
}

// NewAccountWithdrawalStatus returns an empty per-batch status record.
func NewAccountWithdrawalStatus() *AccountWithdrawalStatus {
	return &AccountWithdrawalStatus{
		ScaledAmount:              big.NewInt(0),
		NormalizedAmountWithdrawn: big.NewInt(0),
	}
}

// Clone returns a deep copy of the status record.
func (s *AccountWithdrawalStatus) Clone() *AccountWithdrawalStatus {
	if s == nil {
		return nil
	}
	return &AccountWithdrawalStatus{
		ScaledAmount:              cloneBigInt(s.ScaledAmount),
		NormalizedAmountWithdrawn: cloneBigInt(s.NormalizedAmountWithdrawn),
	}
}

// EnsureDefaults populates nil big.Int fields so codec handling is safe.
func (s *AccountWithdrawalStatus) EnsureDefaults() {
	if s.ScaledAmount == nil {
		s.ScaledAmount = big.NewInt(0)
	}
	if s.NormalizedAmountWithdrawn == nil {
		s.NormalizedAmountWithdrawn = big.NewInt(0)
	}
}
