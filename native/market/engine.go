package market

import (
	"math/big"
	"sync"
	"time"

	"marketvault/core/events"
	"marketvault/core/types"
	"marketvault/crypto"
)

// engineState is the persistence boundary for the engine. Mutations are
// buffered by the implementation and land only on Commit, so a failed
// operation leaves every record byte-for-byte unchanged.
type engineState interface {
	MarketState() (*State, error)
	PutMarketState(*State) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	GetWithdrawalBatch(expiry uint64) (*WithdrawalBatch, error)
	PutWithdrawalBatch(expiry uint64, batch *WithdrawalBatch) error
	GetWithdrawalStatus(expiry uint64, addr crypto.Address) (*AccountWithdrawalStatus, error)
	PutWithdrawalStatus(expiry uint64, addr crypto.Address, status *AccountWithdrawalStatus) error
	UnpaidBatchExpiries() ([]uint64, error)
	PutUnpaidBatchExpiries([]uint64) error
	Commit() error
	Discard()
}

// AssetLedger is the underlying-asset collaborator: exact-amount, no-fee
// transfers with atomic failure on insufficient balance or allowance.
type AssetLedger interface {
	BalanceOf(addr crypto.Address) (*big.Int, error)
	Transfer(from, to crypto.Address, amount *big.Int) error
	TransferFrom(spender, from, to crypto.Address, amount *big.Int) error
}

// RoleView is the authorization collaborator consulted on every entrypoint.
type RoleView interface {
	RoleOf(addr crypto.Address) (types.Role, error)
}

// Engine orchestrates the externally callable operations of one market
// vault: every entrypoint loads the snapshot, applies accrual, delegates to
// the pure transitions, persists atomically and emits audit events.
//
// A single mutex serialises entrypoints; no operation suspends, so exactly
// one logical writer is active at any instant.
type Engine struct {
	mu sync.Mutex

	state   engineState
	asset   AssetLedger
	roles   RoleView
	emitter events.Emitter

	vaultAddress crypto.Address
	borrower     crypto.Address
	controller   crypto.Address

	batchDuration uint64
	nowFn         func() int64
}

// NewEngine constructs a market engine bound to the vault treasury address,
// the borrower and the controller.
func NewEngine(vaultAddr, borrower, controller crypto.Address, batchDuration uint64) *Engine {
	return &Engine{
		vaultAddress:  vaultAddr,
		borrower:      borrower,
		controller:    controller,
		batchDuration: batchDuration,
		emitter:       events.NoopEmitter{},
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAssetLedger wires the underlying-asset transfer collaborator.
func (e *Engine) SetAssetLedger(asset AssetLedger) { e.asset = asset }

// SetRoles wires the authorization registry consulted on every entrypoint.
func (e *Engine) SetRoles(roles RoleView) { e.roles = roles }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// VaultAddress returns the treasury address holding the vault's assets.
func (e *Engine) VaultAddress() crypto.Address { return e.vaultAddress }

func (e *Engine) now() uint64 {
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// opContext accumulates events during an operation; they are broadcast only
// after the state commit succeeds so the audit record never reports work
// that was rolled back.
type opContext struct {
	events []events.Event
}

func (c *opContext) emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (e *Engine) checkWiring() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.asset == nil {
		return errNilAsset
	}
	if e.roles == nil {
		return errNilRegistry
	}
	return nil
}

// run executes op under the entrypoint lock, committing buffered state on
// success and discarding it on failure.
func (e *Engine) run(op func(ctx *opContext) error) error {
	if err := e.checkWiring(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := &opContext{}
	if err := op(ctx); err != nil {
		e.state.Discard()
		return err
	}
	if err := e.state.Commit(); err != nil {
		e.state.Discard()
		return err
	}
	for _, evt := range ctx.events {
		e.emitter.Emit(evt)
	}
	return nil
}

func (e *Engine) loadState() (*State, error) {
	st, err := e.state.MarketState()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errNilState
	}
	st.EnsureDefaults()
	return st, nil
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{}
	}
	acc.EnsureDefaults()
	return acc, nil
}

func (e *Engine) loadBatch(expiry uint64) (*WithdrawalBatch, error) {
	batch, err := e.state.GetWithdrawalBatch(expiry)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, ErrBatchNotFound
	}
	batch.EnsureDefaults()
	return batch, nil
}

func (e *Engine) loadStatus(expiry uint64, addr crypto.Address) (*AccountWithdrawalStatus, error) {
	status, err := e.state.GetWithdrawalStatus(expiry, addr)
	if err != nil {
		return nil, err
	}
	if status == nil {
		status = NewAccountWithdrawalStatus()
	}
	status.EnsureDefaults()
	return status, nil
}

func (e *Engine) loadQueue() (*FIFOQueue, error) {
	expiries, err := e.state.UnpaidBatchExpiries()
	if err != nil {
		return nil, err
	}
	return NewFIFOQueue(expiries), nil
}

func (e *Engine) totalAssets() (*big.Int, error) {
	return e.asset.BalanceOf(e.vaultAddress)
}

// accrueAndSettle applies the accrual step and, when the open batch has
// matured, funds it with whatever liquidity is available before either
// closing it or moving it onto the unpaid queue. Clearing the expiry lets
// the next request open a fresh batch.
func (e *Engine) accrueAndSettle(ctx *opContext, st *State, now uint64) error {
	if _, _, err := applyAccrual(st, now); err != nil {
		return err
	}
	if !st.HasPendingExpiredBatch(now) {
		return nil
	}
	expiry := st.PendingWithdrawalExpiry
	batch, err := e.loadBatch(expiry)
	if err != nil {
		return err
	}
	if !batch.IsClosed() {
		total, err := e.totalAssets()
		if err != nil {
			return err
		}
		paid, burned, err := applyBatchPayment(st, batch, st.LiquidAssets(total))
		if err != nil {
			return err
		}
		if paid.Sign() > 0 {
			ctx.emit(WithdrawalBatchPayment{Expiry: expiry, NormalizedPaid: paid, ScaledBurned: burned})
		}
	}
	if batch.IsClosed() {
		ctx.emit(WithdrawalBatchClosed{Expiry: expiry})
	} else {
		queue, err := e.loadQueue()
		if err != nil {
			return err
		}
		queue.Push(expiry)
		if err := e.state.PutUnpaidBatchExpiries(queue.Values()); err != nil {
			return err
		}
	}
	if err := e.state.PutWithdrawalBatch(expiry, batch); err != nil {
		return err
	}
	st.PendingWithdrawalExpiry = 0
	return nil
}

// finalize recomputes the delinquency flag against the post-transition
// liquidity requirement and writes the snapshot back. A coverage-ratio raise
// that itself induces delinquency surfaces here as a status change event.
func (e *Engine) finalize(ctx *opContext, st *State) error {
	total, err := e.totalAssets()
	if err != nil {
		return err
	}
	required, err := st.LiquidityRequired()
	if err != nil {
		return err
	}
	delinquent := total.Cmp(required) < 0
	if delinquent != st.IsDelinquent {
		st.IsDelinquent = delinquent
		ctx.emit(DelinquencyStatusChanged{Delinquent: delinquent, LiquidityRequired: required, TotalAssets: total})
	}
	return e.state.PutMarketState(st)
}

func (e *Engine) roleOf(addr crypto.Address) (types.Role, error) {
	return e.roles.RoleOf(addr)
}

// fundOpenBatch opportunistically applies liquid assets to the currently
// open, not-yet-matured batch. It runs ahead of any backlog on every
// deposit.
func (e *Engine) fundOpenBatch(ctx *opContext, st *State, now uint64) error {
	if !st.HasPendingBatch() || st.HasPendingExpiredBatch(now) {
		return nil
	}
	expiry := st.PendingWithdrawalExpiry
	batch, err := e.loadBatch(expiry)
	if err != nil {
		return err
	}
	total, err := e.totalAssets()
	if err != nil {
		return err
	}
	paid, burned, err := applyBatchPayment(st, batch, st.LiquidAssets(total))
	if err != nil {
		return err
	}
	if paid.Sign() == 0 {
		return nil
	}
	ctx.emit(WithdrawalBatchPayment{Expiry: expiry, NormalizedPaid: paid, ScaledBurned: burned})
	return e.state.PutWithdrawalBatch(expiry, batch)
}

// Deposit transfers the exact amount from the lender into the vault and
// mints the corresponding scaled balance. It fails with a capacity error
// when the amount exceeds the remaining deposit headroom.
func (e *Engine) Deposit(lender crypto.Address, amount *big.Int) (*big.Int, error) {
	return e.deposit(lender, amount, true)
}

// DepositUpTo behaves like Deposit but clamps the amount to the remaining
// headroom, returning the amount actually accepted.
func (e *Engine) DepositUpTo(lender crypto.Address, amount *big.Int) (*big.Int, error) {
	return e.deposit(lender, amount, false)
}

func (e *Engine) deposit(lender crypto.Address, amount *big.Int, exact bool) (*big.Int, error) {
	var accepted *big.Int
	err := e.run(func(ctx *opContext) error {
		role, err := e.roleOf(lender)
		if err != nil {
			return err
		}
		if !role.CanDeposit() {
			return ErrNotAuthorized
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		st, err := e.loadState()
		if err != nil {
			return err
		}
		now := e.now()
		if err := e.accrueAndSettle(ctx, st, now); err != nil {
			return err
		}

		headroom, err := st.MaximumDeposit()
		if err != nil {
			return err
		}
		actual := minBigInt(amount, headroom)
		if actual.Sign() == 0 || (exact && actual.Cmp(amount) < 0) {
			return ErrMaxSupplyExceeded
		}
		scaled, err := st.Scale(actual)
		if err != nil {
			return err
		}
		if scaled.Sign() == 0 {
			return ErrZeroAmount
		}

		if err := e.asset.TransferFrom(e.vaultAddress, lender, e.vaultAddress, actual); err != nil {
			return err
		}

		account, err := e.loadAccount(lender)
		if err != nil {
			return err
		}
		if err := CreditScaledBalance(account, scaled); err != nil {
			return err
		}
		if err := st.IncreaseScaledSupply(scaled); err != nil {
			return err
		}
		if err := e.state.PutAccount(lender, account); err != nil {
			return err
		}

		if err := e.fundOpenBatch(ctx, st, now); err != nil {
			return err
		}

		ctx.emit(Deposited{Lender: lender, Amount: actual, ScaledAmount: scaled})
		accepted = actual
		return e.finalize(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	return accepted, nil
}

// QueueWithdrawal debits the lender's scaled balance immediately and files
// the claim against the open batch, creating one when none is open. The
// request is irrevocable: the claim is fixed against the batch and stops
// growing with the scale factor. Currently liquid assets are applied to the
// batch before returning. The batch expiry is returned.
func (e *Engine) QueueWithdrawal(lender crypto.Address, amount *big.Int) (uint64, error) {
	var expiry uint64
	err := e.run(func(ctx *opContext) error {
		role, err := e.roleOf(lender)
		if err != nil {
			return err
		}
		if !role.CanWithdraw() {
			return ErrNotAuthorized
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		st, err := e.loadState()
		if err != nil {
			return err
		}
		now := e.now()
		if err := e.accrueAndSettle(ctx, st, now); err != nil {
			return err
		}

		scaled, err := st.Scale(amount)
		if err != nil {
			return err
		}
		if scaled.Sign() == 0 {
			return ErrZeroAmount
		}

		var batch *WithdrawalBatch
		if st.HasPendingBatch() {
			expiry = st.PendingWithdrawalExpiry
			batch, err = e.loadBatch(expiry)
			if err != nil {
				return err
			}
		} else {
			expiry = now + e.batchDuration
			batch = NewWithdrawalBatch()
			st.PendingWithdrawalExpiry = expiry
			ctx.emit(WithdrawalBatchCreated{Expiry: expiry})
		}

		account, err := e.loadAccount(lender)
		if err != nil {
			return err
		}
		if err := DebitScaledBalance(account, scaled); err != nil {
			return err
		}

		status, err := e.loadStatus(expiry, lender)
		if err != nil {
			return err
		}
		status.ScaledAmount = new(big.Int).Add(status.ScaledAmount, scaled)
		batch.ScaledTotalAmount = new(big.Int).Add(batch.ScaledTotalAmount, scaled)

		pending := new(big.Int).Add(st.ScaledPendingWithdrawals, scaled)
		if err := checkRange(pending); err != nil {
			return err
		}
		st.ScaledPendingWithdrawals = pending

		total, err := e.totalAssets()
		if err != nil {
			return err
		}
		paid, burned, err := applyBatchPayment(st, batch, st.LiquidAssets(total))
		if err != nil {
			return err
		}
		if paid.Sign() > 0 {
			ctx.emit(WithdrawalBatchPayment{Expiry: expiry, NormalizedPaid: paid, ScaledBurned: burned})
		}

		if err := e.state.PutAccount(lender, account); err != nil {
			return err
		}
		if err := e.state.PutWithdrawalStatus(expiry, lender, status); err != nil {
			return err
		}
		if err := e.state.PutWithdrawalBatch(expiry, batch); err != nil {
			return err
		}

		ctx.emit(WithdrawalQueued{Lender: lender, Expiry: expiry, Amount: amount, ScaledAmount: scaled})
		return e.finalize(ctx, st)
	})
	if err != nil {
		return 0, err
	}
	return expiry, nil
}

// ExecuteWithdrawal pays the lender the delta between their pro-rata share
// of the batch's funded amount and what they already claimed. Repeat calls
// before further funding pay zero.
func (e *Engine) ExecuteWithdrawal(lender crypto.Address, expiry uint64) (*big.Int, error) {
	paid := big.NewInt(0)
	err := e.run(func(ctx *opContext) error {
		role, err := e.roleOf(lender)
		if err != nil {
			return err
		}
		if !role.CanWithdraw() {
			return ErrNotAuthorized
		}
		st, err := e.loadState()
		if err != nil {
			return err
		}
		now := e.now()
		if err := e.accrueAndSettle(ctx, st, now); err != nil {
			return err
		}
		if expiry > now {
			return ErrBatchNotExpired
		}
		batch, err := e.loadBatch(expiry)
		if err != nil {
			return err
		}
		status, err := e.loadStatus(expiry, lender)
		if err != nil {
			return err
		}
		delta := availableWithdrawalAmount(batch, status)
		if delta.Sign() > 0 {
			status.NormalizedAmountWithdrawn = new(big.Int).Add(status.NormalizedAmountWithdrawn, delta)
			if st.ReservedAssets.Cmp(delta) < 0 {
				return ErrUnderflow
			}
			st.ReservedAssets = new(big.Int).Sub(st.ReservedAssets, delta)
			if err := e.asset.Transfer(e.vaultAddress, lender, delta); err != nil {
				return err
			}
			if err := e.state.PutWithdrawalStatus(expiry, lender, status); err != nil {
				return err
			}
			ctx.emit(WithdrawalExecuted{Lender: lender, Expiry: expiry, Amount: delta})
			paid = delta
		}
		return e.finalize(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// ProcessUnpaidWithdrawalBatch funds the oldest matured, unpaid batch from
// vault-wide liquid assets. The batch leaves the queue only once fully
// burned; otherwise it stays at the head for later calls. Settlement is
// strictly oldest-expiry-first.
func (e *Engine) ProcessUnpaidWithdrawalBatch() (*big.Int, error) {
	paid := big.NewInt(0)
	err := e.run(func(ctx *opContext) error {
		st, err := e.loadState()
		if err != nil {
			return err
		}
		now := e.now()
		if err := e.accrueAndSettle(ctx, st, now); err != nil {
			return err
		}

		queue, err := e.loadQueue()
		if err != nil {
			return err
		}
		expiry, err := queue.First()
		if err != nil {
			return ErrNoUnpaidBatches
		}
		batch, err := e.loadBatch(expiry)
		if err != nil {
			return err
		}
		total, err := e.totalAssets()
		if err != nil {
			return err
		}
		applied, burned, err := applyBatchPayment(st, batch, st.LiquidAssets(total))
		if err != nil {
			return err
		}
		if applied.Sign() > 0 {
			ctx.emit(WithdrawalBatchPayment{Expiry: expiry, NormalizedPaid: applied, ScaledBurned: burned})
		}
		if batch.IsClosed() {
			if _, err := queue.Shift(); err != nil {
				return err
			}
			if err := e.state.PutUnpaidBatchExpiries(queue.Values()); err != nil {
				return err
			}
			ctx.emit(WithdrawalBatchClosed{Expiry: expiry})
		}
		if err := e.state.PutWithdrawalBatch(expiry, batch); err != nil {
			return err
		}
		paid = applied
		return e.finalize(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// Borrow releases excess liquidity to the configured borrower. The draw can
// never push held assets below the liquidity requirement.
func (e *Engine) Borrow(caller crypto.Address, amount *big.Int) error {
	return e.run(func(ctx *opContext) error {
		if !caller.Equal(e.borrower) {
			return ErrNotBorrower
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		st, err := e.loadState()
		if err != nil {
			return err
		}
		if err := e.accrueAndSettle(ctx, st, e.now()); err != nil {
			return err
		}
		total, err := e.totalAssets()
		if err != nil {
			return err
		}
		required, err := st.LiquidityRequired()
		if err != nil {
			return err
		}
		if amount.Cmp(satSub(total, required)) > 0 {
			return ErrInsufficientLiquidity
		}
		if err := e.asset.Transfer(e.vaultAddress, e.borrower, amount); err != nil {
			return err
		}
		ctx.emit(Borrowed{Borrower: e.borrower, Amount: amount})
		return e.finalize(ctx, st)
	})
}

// Repay returns assets from the borrower to the vault, then funds the open
// batch with the restored liquidity.
func (e *Engine) Repay(caller crypto.Address, amount *big.Int) error {
	return e.run(func(ctx *opContext) error {
		if !caller.Equal(e.borrower) {
			return ErrNotBorrower
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		st, err := e.loadState()
		if err != nil {
			return err
		}
		now := e.now()
		if err := e.accrueAndSettle(ctx, st, now); err != nil {
			return err
		}
		if err := e.asset.Transfer(e.borrower, e.vaultAddress, amount); err != nil {
			return err
		}
		if err := e.fundOpenBatch(ctx, st, now); err != nil {
			return err
		}
		ctx.emit(Repaid{Borrower: e.borrower, Amount: amount})
		return e.finalize(ctx, st)
	})
}

// CollectFees transfers accrued protocol fees to the recipient. Reserved
// batch assets are never touched.
func (e *Engine) CollectFees(caller, recipient crypto.Address, amount *big.Int) error {
	return e.run(func(ctx *opContext) error {
		if !caller.Equal(e.controller) {
			return ErrNotController
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		st, err := e.loadState()
		if err != nil {
			return err
		}
		if err := e.accrueAndSettle(ctx, st, e.now()); err != nil {
			return err
		}
		total, err := e.totalAssets()
		if err != nil {
			return err
		}
		available := minBigInt(st.AccruedProtocolFees, satSub(total, st.ReservedAssets))
		if amount.Cmp(available) > 0 {
			return ErrInsufficientLiquidity
		}
		st.AccruedProtocolFees = new(big.Int).Sub(st.AccruedProtocolFees, amount)
		if err := e.asset.Transfer(e.vaultAddress, recipient, amount); err != nil {
			return err
		}
		ctx.emit(FeesCollected{Recipient: recipient, Amount: amount})
		return e.finalize(ctx, st)
	})
}

// SetMaxTotalSupply updates the deposit cap. Lowering it below the current
// outstanding supply is refused.
func (e *Engine) SetMaxTotalSupply(caller crypto.Address, value *big.Int) error {
	return e.run(func(ctx *opContext) error {
		if !caller.Equal(e.controller) {
			return ErrNotController
		}
		if value == nil || value.Sign() <= 0 {
			return ErrParameterOutOfBounds
		}
		if err := checkRange(value); err != nil {
			return err
		}
		st, err := e.loadState()
		if err != nil {
			return err
		}
		if err := e.accrueAndSettle(ctx, st, e.now()); err != nil {
			return err
		}
		supply, err := st.TotalSupply()
		if err != nil {
			return err
		}
		if value.Cmp(supply) < 0 {
			return ErrMaxSupplyBelowOutstanding
		}
		st.MaxTotalSupply = new(big.Int).Set(value)
		ctx.emit(ParameterUpdated{Caller: caller, Parameter: "maxTotalSupply", Value: value.String()})
		return e.finalize(ctx, st)
	})
}

// SetAnnualInterestBips updates the lender APR. Accrual runs first so the
// old rate applies to the elapsed interval.
func (e *Engine) SetAnnualInterestBips(caller crypto.Address, bips uint64) error {
	return e.run(func(ctx *opContext) error {
		if !caller.Equal(e.controller) {
			return ErrNotController
		}
		if bips > MaxAnnualInterestBips {
			return ErrParameterOutOfBounds
		}
		st, err := e.loadState()
		if err != nil {
			return err
		}
		if err := e.accrueAndSettle(ctx, st, e.now()); err != nil {
			return err
		}
		st.AnnualInterestBips = bips
		ctx.emit(ParameterUpdated{Caller: caller, Parameter: "annualInterestBips", Value: formatUint(bips)})
		return e.finalize(ctx, st)
	})
}

// SetLiquidityCoverageRatio updates the coverage ratio. Values above the
// hard ceiling are refused; a raise that itself induces delinquency is
// accepted and surfaces as a delinquency status change.
func (e *Engine) SetLiquidityCoverageRatio(caller crypto.Address, bips uint64) error {
	return e.run(func(ctx *opContext) error {
		if !caller.Equal(e.controller) {
			return ErrNotController
		}
		if bips > MaxLiquidityCoverageBips {
			return ErrParameterOutOfBounds
		}
		st, err := e.loadState()
		if err != nil {
			return err
		}
		if err := e.accrueAndSettle(ctx, st, e.now()); err != nil {
			return err
		}
		st.LiquidityCoverageBips = bips
		ctx.emit(ParameterUpdated{Caller: caller, Parameter: "liquidityCoverageBips", Value: formatUint(bips)})
		return e.finalize(ctx, st)
	})
}

func formatUint(v uint64) string {
	return new(big.Int).SetUint64(v).String()
}
