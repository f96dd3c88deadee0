package market

import (
	"math/big"
	"strconv"

	"marketvault/core/types"
	"marketvault/crypto"
)

const (
	// TypeDeposit is emitted when a lender deposit is accepted.
	TypeDeposit = "market.deposit"
	// TypeWithdrawalBatchCreated is emitted when a request opens a fresh batch.
	TypeWithdrawalBatchCreated = "market.withdrawal.batchCreated"
	// TypeWithdrawalQueued is emitted for every accepted withdrawal request.
	TypeWithdrawalQueued = "market.withdrawal.queued"
	// TypeWithdrawalBatchPayment is emitted each time liquidity is applied to a batch.
	TypeWithdrawalBatchPayment = "market.withdrawal.batchPayment"
	// TypeWithdrawalExecuted is emitted when a lender claims from a matured batch.
	TypeWithdrawalExecuted = "market.withdrawal.executed"
	// TypeWithdrawalBatchClosed is emitted once a batch is fully burned.
	TypeWithdrawalBatchClosed = "market.withdrawal.batchClosed"
	// TypeDelinquencyStatusChanged is emitted when held assets cross the liquidity requirement.
	TypeDelinquencyStatusChanged = "market.delinquencyStatusChanged"
	// TypeParameterUpdated is emitted for every controller parameter change.
	TypeParameterUpdated = "market.parameterUpdated"
	// TypeFeesCollected is emitted when accrued protocol fees are withdrawn.
	TypeFeesCollected = "market.feesCollected"
	// TypeBorrow is emitted when the borrower draws excess liquidity.
	TypeBorrow = "market.borrow"
	// TypeRepay is emitted when the borrower returns assets to the vault.
	TypeRepay = "market.repay"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Deposited captures an accepted lender deposit.
type Deposited struct {
	Lender       crypto.Address
	Amount       *big.Int
	ScaledAmount *big.Int
}

func (Deposited) EventType() string { return TypeDeposit }

// Event converts the structured payload into a broadcastable event.
func (e Deposited) Event() *types.Event {
	return &types.Event{Type: TypeDeposit, Attributes: map[string]string{
		"lender": e.Lender.String(),
		"amount": formatAmount(e.Amount),
		"scaled": formatAmount(e.ScaledAmount),
	}}
}

// WithdrawalBatchCreated captures a fresh batch being opened.
type WithdrawalBatchCreated struct {
	Expiry uint64
}

func (WithdrawalBatchCreated) EventType() string { return TypeWithdrawalBatchCreated }

func (e WithdrawalBatchCreated) Event() *types.Event {
	return &types.Event{Type: TypeWithdrawalBatchCreated, Attributes: map[string]string{
		"expiry": strconv.FormatUint(e.Expiry, 10),
	}}
}

// WithdrawalQueued captures an accepted withdrawal request.
type WithdrawalQueued struct {
	Lender       crypto.Address
	Expiry       uint64
	Amount       *big.Int
	ScaledAmount *big.Int
}

func (WithdrawalQueued) EventType() string { return TypeWithdrawalQueued }

func (e WithdrawalQueued) Event() *types.Event {
	return &types.Event{Type: TypeWithdrawalQueued, Attributes: map[string]string{
		"lender": e.Lender.String(),
		"expiry": strconv.FormatUint(e.Expiry, 10),
		"amount": formatAmount(e.Amount),
		"scaled": formatAmount(e.ScaledAmount),
	}}
}

// WithdrawalBatchPayment captures liquidity applied to a batch.
type WithdrawalBatchPayment struct {
	Expiry         uint64
	NormalizedPaid *big.Int
	ScaledBurned   *big.Int
}

func (WithdrawalBatchPayment) EventType() string { return TypeWithdrawalBatchPayment }

func (e WithdrawalBatchPayment) Event() *types.Event {
	return &types.Event{Type: TypeWithdrawalBatchPayment, Attributes: map[string]string{
		"expiry":         strconv.FormatUint(e.Expiry, 10),
		"normalizedPaid": formatAmount(e.NormalizedPaid),
		"scaledBurned":   formatAmount(e.ScaledBurned),
	}}
}

// WithdrawalExecuted captures a lender claim against a matured batch.
type WithdrawalExecuted struct {
	Lender crypto.Address
	Expiry uint64
	Amount *big.Int
}

func (WithdrawalExecuted) EventType() string { return TypeWithdrawalExecuted }

func (e WithdrawalExecuted) Event() *types.Event {
	return &types.Event{Type: TypeWithdrawalExecuted, Attributes: map[string]string{
		"lender": e.Lender.String(),
		"expiry": strconv.FormatUint(e.Expiry, 10),
		"amount": formatAmount(e.Amount),
	}}
}

// WithdrawalBatchClosed marks a batch as fully burned and terminal.
type WithdrawalBatchClosed struct {
	Expiry uint64
}

func (WithdrawalBatchClosed) EventType() string { return TypeWithdrawalBatchClosed }

func (e WithdrawalBatchClosed) Event() *types.Event {
	return &types.Event{Type: TypeWithdrawalBatchClosed, Attributes: map[string]string{
		"expiry": strconv.FormatUint(e.Expiry, 10),
	}}
}

// DelinquencyStatusChanged captures the vault crossing the liquidity
// requirement in either direction.
type DelinquencyStatusChanged struct {
	Delinquent        bool
	LiquidityRequired *big.Int
	TotalAssets       *big.Int
}

func (DelinquencyStatusChanged) EventType() string { return TypeDelinquencyStatusChanged }

func (e DelinquencyStatusChanged) Event() *types.Event {
	return &types.Event{Type: TypeDelinquencyStatusChanged, Attributes: map[string]string{
		"delinquent":        strconv.FormatBool(e.Delinquent),
		"liquidityRequired": formatAmount(e.LiquidityRequired),
		"totalAssets":       formatAmount(e.TotalAssets),
	}}
}

// ParameterUpdated captures a controller parameter change.
type ParameterUpdated struct {
	Caller    crypto.Address
	Parameter string
	Value     string
}

func (ParameterUpdated) EventType() string { return TypeParameterUpdated }

func (e ParameterUpdated) Event() *types.Event {
	return &types.Event{Type: TypeParameterUpdated, Attributes: map[string]string{
		"caller":    e.Caller.String(),
		"parameter": e.Parameter,
		"value":     e.Value,
	}}
}

// FeesCollected captures a protocol fee withdrawal.
type FeesCollected struct {
	Recipient crypto.Address
	Amount    *big.Int
}

func (FeesCollected) EventType() string { return TypeFeesCollected }

func (e FeesCollected) Event() *types.Event {
	return &types.Event{Type: TypeFeesCollected, Attributes: map[string]string{
		"recipient": e.Recipient.String(),
		"amount":    formatAmount(e.Amount),
	}}
}

// Borrowed captures a borrower draw against excess liquidity.
type Borrowed struct {
	Borrower crypto.Address
	Amount   *big.Int
}

func (Borrowed) EventType() string { return TypeBorrow }

func (e Borrowed) Event() *types.Event {
	return &types.Event{Type: TypeBorrow, Attributes: map[string]string{
		"borrower": e.Borrower.String(),
		"amount":   formatAmount(e.Amount),
	}}
}

// Repaid captures a borrower repayment into the vault.
type Repaid struct {
	Borrower crypto.Address
	Amount   *big.Int
}

func (Repaid) EventType() string { return TypeRepay }

func (e Repaid) Event() *types.Event {
	return &types.Event{Type: TypeRepay, Attributes: map[string]string{
		"borrower": e.Borrower.String(),
		"amount":   formatAmount(e.Amount),
	}}
}
