package market

import (
	"errors"
	"math/big"
	"strconv"
	"testing"

	"marketvault/core/events"
	"marketvault/core/types"
	"marketvault/crypto"
)

// mockEngineState buffers writes the way the production store does: puts land
// in an overlay, Commit merges it, Discard drops it. Tests rely on this to
// observe all-or-nothing persistence.
type mockEngineState struct {
	market   *State
	accounts map[string]*types.Account
	batches  map[uint64]*WithdrawalBatch
	statuses map[string]*AccountWithdrawalStatus
	queue    []uint64

	pendingMarket   *State
	pendingAccounts map[string]*types.Account
	pendingBatches  map[uint64]*WithdrawalBatch
	pendingStatuses map[string]*AccountWithdrawalStatus
	pendingQueue    []uint64
	queueDirty      bool
}

func newMockEngineState() *mockEngineState {
	m := &mockEngineState{
		accounts: make(map[string]*types.Account),
		batches:  make(map[uint64]*WithdrawalBatch),
		statuses: make(map[string]*AccountWithdrawalStatus),
	}
	m.Discard()
	return m
}

func statusKey(expiry uint64, addr crypto.Address) string {
	return string(addr.Bytes()) + "/" + strconv.FormatUint(expiry, 10)
}

func (m *mockEngineState) MarketState() (*State, error) {
	if m.pendingMarket != nil {
		return m.pendingMarket.Clone(), nil
	}
	return m.market.Clone(), nil
}

func (m *mockEngineState) PutMarketState(st *State) error {
	m.pendingMarket = st.Clone()
	return nil
}

func (m *mockEngineState) GetAccount(addr crypto.Address) (*types.Account, error) {
	if acc, ok := m.pendingAccounts[string(addr.Bytes())]; ok {
		return acc.Clone(), nil
	}
	if acc, ok := m.accounts[string(addr.Bytes())]; ok {
		return acc.Clone(), nil
	}
	return nil, nil
}

func (m *mockEngineState) PutAccount(addr crypto.Address, account *types.Account) error {
	m.pendingAccounts[string(addr.Bytes())] = account.Clone()
	return nil
}

func (m *mockEngineState) GetWithdrawalBatch(expiry uint64) (*WithdrawalBatch, error) {
	if batch, ok := m.pendingBatches[expiry]; ok {
		return batch.Clone(), nil
	}
	if batch, ok := m.batches[expiry]; ok {
		return batch.Clone(), nil
	}
	return nil, nil
}

func (m *mockEngineState) PutWithdrawalBatch(expiry uint64, batch *WithdrawalBatch) error {
	m.pendingBatches[expiry] = batch.Clone()
	return nil
}

func (m *mockEngineState) GetWithdrawalStatus(expiry uint64, addr crypto.Address) (*AccountWithdrawalStatus, error) {
	if status, ok := m.pendingStatuses[statusKey(expiry, addr)]; ok {
		return status.Clone(), nil
	}
	if status, ok := m.statuses[statusKey(expiry, addr)]; ok {
		return status.Clone(), nil
	}
	return nil, nil
}

func (m *mockEngineState) PutWithdrawalStatus(expiry uint64, addr crypto.Address, status *AccountWithdrawalStatus) error {
	m.pendingStatuses[statusKey(expiry, addr)] = status.Clone()
	return nil
}

func (m *mockEngineState) UnpaidBatchExpiries() ([]uint64, error) {
	if m.queueDirty {
		return append([]uint64(nil), m.pendingQueue...), nil
	}
	return append([]uint64(nil), m.queue...), nil
}

func (m *mockEngineState) PutUnpaidBatchExpiries(expiries []uint64) error {
	m.pendingQueue = append([]uint64(nil), expiries...)
	m.queueDirty = true
	return nil
}

func (m *mockEngineState) Commit() error {
	if m.pendingMarket != nil {
		m.market = m.pendingMarket
	}
	for key, acc := range m.pendingAccounts {
		m.accounts[key] = acc
	}
	for expiry, batch := range m.pendingBatches {
		m.batches[expiry] = batch
	}
	for key, status := range m.pendingStatuses {
		m.statuses[key] = status
	}
	if m.queueDirty {
		m.queue = m.pendingQueue
	}
	m.Discard()
	return nil
}

func (m *mockEngineState) Discard() {
	m.pendingMarket = nil
	m.pendingAccounts = make(map[string]*types.Account)
	m.pendingBatches = make(map[uint64]*WithdrawalBatch)
	m.pendingStatuses = make(map[string]*AccountWithdrawalStatus)
	m.pendingQueue = nil
	m.queueDirty = false
}

// mockLedger is a plain balance map with allowance-free transfers.
type mockLedger struct {
	balances map[string]*big.Int
}

func newMockLedger() *mockLedger {
	return &mockLedger{balances: make(map[string]*big.Int)}
}

func (l *mockLedger) balance(addr crypto.Address) *big.Int {
	if b, ok := l.balances[string(addr.Bytes())]; ok {
		return b
	}
	return big.NewInt(0)
}

func (l *mockLedger) credit(addr crypto.Address, amount *big.Int) {
	l.balances[string(addr.Bytes())] = new(big.Int).Add(l.balance(addr), amount)
}

func (l *mockLedger) BalanceOf(addr crypto.Address) (*big.Int, error) {
	return new(big.Int).Set(l.balance(addr)), nil
}

func (l *mockLedger) Transfer(from, to crypto.Address, amount *big.Int) error {
	if l.balance(from).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.balances[string(from.Bytes())] = new(big.Int).Sub(l.balance(from), amount)
	l.credit(to, amount)
	return nil
}

func (l *mockLedger) TransferFrom(_ crypto.Address, from, to crypto.Address, amount *big.Int) error {
	return l.Transfer(from, to, amount)
}

type mockRoles struct {
	roles map[string]types.Role
}

func newMockRoles() *mockRoles {
	return &mockRoles{roles: make(map[string]types.Role)}
}

func (r *mockRoles) RoleOf(addr crypto.Address) (types.Role, error) {
	return r.roles[string(addr.Bytes())], nil
}

func (r *mockRoles) grant(addr crypto.Address, role types.Role) {
	r.roles[string(addr.Bytes())] = role
}

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.MustNewAddress(crypto.MarketPrefix, raw)
}

type engineFixture struct {
	engine   *Engine
	state    *mockEngineState
	ledger   *mockLedger
	roles    *mockRoles
	recorder *events.Recorder
	clock    int64

	vault      crypto.Address
	borrower   crypto.Address
	controller crypto.Address
	lender     crypto.Address
	other      crypto.Address
}

func newEngineFixture(t *testing.T, params Parameters) *engineFixture {
	t.Helper()
	f := &engineFixture{
		state:      newMockEngineState(),
		ledger:     newMockLedger(),
		roles:      newMockRoles(),
		recorder:   &events.Recorder{},
		vault:      makeAddress(0x01),
		borrower:   makeAddress(0x02),
		controller: makeAddress(0x03),
		lender:     makeAddress(0x10),
		other:      makeAddress(0x11),
	}
	f.state.market = NewState(params, 0)
	f.engine = NewEngine(f.vault, f.borrower, f.controller, params.WithdrawalBatchDuration)
	f.engine.SetState(f.state)
	f.engine.SetAssetLedger(f.ledger)
	f.engine.SetRoles(f.roles)
	f.engine.SetEmitter(f.recorder)
	f.engine.SetNowFunc(func() int64 { return f.clock })

	f.roles.grant(f.lender, types.RoleDepositAndWithdraw)
	f.roles.grant(f.other, types.RoleDepositAndWithdraw)
	f.ledger.credit(f.lender, big.NewInt(1_000_000))
	f.ledger.credit(f.other, big.NewInt(1_000_000))
	return f
}

func defaultParams() Parameters {
	return Parameters{
		MaxTotalSupply:          big.NewInt(1_000_000),
		AnnualInterestBips:      0,
		ProtocolFeeBips:         0,
		DelinquencyFeeBips:      0,
		DelinquencyGracePeriod:  0,
		LiquidityCoverageBips:   2000,
		WithdrawalBatchDuration: 86_400,
	}
}

func (f *engineFixture) mustDeposit(t *testing.T, lender crypto.Address, amount int64) {
	t.Helper()
	if _, err := f.engine.Deposit(lender, big.NewInt(amount)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

// assertSolvent checks conservation over held plus lent assets: the
// borrower's balance is the outstanding draw, which still backs lender
// claims until repaid.
func (f *engineFixture) assertSolvent(t *testing.T) {
	t.Helper()
	backing := new(big.Int).Add(f.ledger.balance(f.vault), f.ledger.balance(f.borrower))
	ok, err := f.state.market.CheckSolvency(backing)
	if err != nil {
		t.Fatalf("solvency check: %v", err)
	}
	if !ok {
		t.Fatalf("vault insolvent against backing %s", backing)
	}
}

func eventTypes(recorder *events.Recorder) []string {
	captured := recorder.Events()
	out := make([]string, 0, len(captured))
	for _, evt := range captured {
		out = append(out, evt.EventType())
	}
	return out
}

func hasEventType(recorder *events.Recorder, eventType string) bool {
	for _, got := range eventTypes(recorder) {
		if got == eventType {
			return true
		}
	}
	return false
}

func TestDepositMintsScaledBalance(t *testing.T) {
	f := newEngineFixture(t, defaultParams())

	accepted, err := f.engine.Deposit(f.lender, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if accepted.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected full acceptance, got %s", accepted)
	}

	balance, err := f.engine.BalanceOf(f.lender)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected 10000, got %s", balance)
	}
	if got := f.ledger.balance(f.vault); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("vault did not receive assets, got %s", got)
	}
	if !hasEventType(f.recorder, TypeDeposit) {
		t.Fatal("deposit event not emitted")
	}
	f.assertSolvent(t)
}

func TestDepositRequiresDepositRole(t *testing.T) {
	f := newEngineFixture(t, defaultParams())
	f.roles.grant(f.lender, types.RoleWithdrawOnly)

	if _, err := f.engine.Deposit(f.lender, big.NewInt(100)); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if len(f.recorder.Events()) != 0 {
		t.Fatal("failed operation emitted events")
	}
}

func TestDepositRejectsOverCap(t *testing.T) {
	f := newEngineFixture(t, defaultParams())
	f.mustDeposit(t, f.lender, 900_000)

	// Exact deposit over the remaining headroom fails whole.
	if _, err := f.engine.Deposit(f.other, big.NewInt(200_000)); !errors.Is(err, ErrMaxSupplyExceeded) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	balance, err := f.engine.BalanceOf(f.other)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("rejected deposit credited %s", balance)
	}

	// DepositUpTo clamps instead.
	accepted, err := f.engine.DepositUpTo(f.other, big.NewInt(200_000))
	if err != nil {
		t.Fatalf("depositUpTo: %v", err)
	}
	if accepted.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("expected clamp to 100000, got %s", accepted)
	}
	f.assertSolvent(t)
}

func TestDepositRejectsZeroAndNil(t *testing.T) {
	f := newEngineFixture(t, defaultParams())
	if _, err := f.engine.Deposit(f.lender, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := f.engine.Deposit(f.lender, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for nil, got %v", err)
	}
}

func TestQueueWithdrawalImmediateFunding(t *testing.T) {
	f := newEngineFixture(t, defaultParams())
	f.mustDeposit(t, f.lender, 10_000)

	expiry, err := f.engine.QueueWithdrawal(f.lender, big.NewInt(4_000))
	if err != nil {
		t.Fatalf("queue withdrawal: %v", err)
	}
	if expiry != uint64(f.clock)+86_400 {
		t.Fatalf("unexpected expiry %d", expiry)
	}

	// All liquidity is present, so the batch funds instantly.
	batch, err := f.engine.GetWithdrawalBatch(expiry)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if !batch.IsClosed() {
		t.Fatal("expected fully funded batch")
	}
	if f.state.market.ReservedAssets.Cmp(big.NewInt(4_000)) != 0 {
		t.Fatalf("expected 4000 reserved, got %s", f.state.market.ReservedAssets)
	}

	// The lender balance shrank immediately.
	balance, err := f.engine.BalanceOf(f.lender)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(6_000)) != 0 {
		t.Fatalf("expected 6000 remaining, got %s", balance)
	}
	f.assertSolvent(t)
}

func TestExecuteWithdrawalBeforeExpiryFails(t *testing.T) {
	f := newEngineFixture(t, defaultParams())
	f.mustDeposit(t, f.lender, 10_000)
	expiry, err := f.engine.QueueWithdrawal(f.lender, big.NewInt(4_000))
	if err != nil {
		t.Fatalf("queue withdrawal: %v", err)
	}

	if _, err := f.engine.ExecuteWithdrawal(f.lender, expiry); !errors.Is(err, ErrBatchNotExpired) {
		t.Fatalf("expected batch not expired, got %v", err)
	}
}

func TestExecuteWithdrawalPaysOnceAndIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, defaultParams())
	f.mustDeposit(t, f.lender, 10_000)
	expiry, err := f.engine.QueueWithdrawal(f.lender, big.NewInt(4_000))
	if err != nil {
		t.Fatalf("queue withdrawal: %v", err)
	}

	f.clock = int64(expiry)
	lenderBefore := new(big.Int).Set(f.ledger.balance(f.lender))

	paid, err := f.engine.ExecuteWithdrawal(f.lender, expiry)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if paid.Cmp(big.NewInt(4_000)) != 0 {
		t.Fatalf("expected 4000 paid, got %s", paid)
	}
	if got := f.ledger.balance(f.lender); new(big.Int).Sub(got, lenderBefore).Cmp(big.NewInt(4_000)) != 0 {
		t.Fatalf("lender balance delta wrong: %s", got)
	}
	if f.state.market.ReservedAssets.Sign() != 0 {
		t.Fatalf("reserved not released, got %s", f.state.market.ReservedAssets)
	}

	// A second call pays nothing and does not error.
	paid, err = f.engine.ExecuteWithdrawal(f.lender, expiry)
	if err != nil {
		t.Fatalf("repeat execute: %v", err)
	}
	if paid.Sign() != 0 {
		t.Fatalf("expected zero on repeat, got %s", paid)
	}
	f.assertSolvent(t)
}

func TestUnderfundedBatchJoinsUnpaidQueue(t *testing.T) {
	f := newEngineFixture(t, defaultParams())
	f.mustDeposit(t, f.lender, 10_000)

	// The borrower drains the excess so the batch cannot fully fund.
	if err := f.engine.Borrow(f.borrower, big.NewInt(8_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	expiry, err := f.engine.QueueWithdrawal(f.lender, big.NewInt(6_000))
	if err != nil {
		t.Fatalf("queue withdrawal: %v", err)
	}

	// Partial funding from the 2000 on hand happened at queue time.
	batch, err := f.engine.GetWithdrawalBatch(expiry)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.IsClosed() {
		t.Fatal("expected underfunded batch")
	}
	if batch.NormalizedAmountPaid.Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("expected 2000 funded, got %s", batch.NormalizedAmountPaid)
	}

	// Maturity moves the still-open batch onto the unpaid queue.
	f.clock = int64(expiry)
	if _, err := f.engine.ExecuteWithdrawal(f.lender, expiry); err != nil {
		t.Fatalf("execute: %v", err)
	}
	queue, err := f.engine.GetUnpaidBatchExpiries()
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(queue) != 1 || queue[0] != expiry {
		t.Fatalf("expected batch %d queued, got %v", expiry, queue)
	}
	f.assertSolvent(t)
}

func TestRepayThenProcessSettlesOldestFirst(t *testing.T) {
	f := newEngineFixture(t, defaultParams())
	f.mustDeposit(t, f.lender, 10_000)
	if err := f.engine.Borrow(f.borrower, big.NewInt(8_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	firstExpiry, err := f.engine.QueueWithdrawal(f.lender, big.NewInt(6_000))
	if err != nil {
		t.Fatalf("queue first withdrawal: %v", err)
	}

	// Let the first batch mature underfunded, then open a second one.
	f.clock = int64(firstExpiry)
	secondExpiry, err := f.engine.QueueWithdrawal(f.lender, big.NewInt(2_000))
	if err != nil {
		t.Fatalf("queue second withdrawal: %v", err)
	}
	if secondExpiry <= firstExpiry {
		t.Fatalf("expected new batch after %d, got %d", firstExpiry, secondExpiry)
	}

	// Repayment restores liquidity; processing must fund the OLDEST batch.
	if err := f.engine.Repay(f.borrower, big.NewInt(8_000)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	paid, err := f.engine.ProcessUnpaidWithdrawalBatch()
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if paid.Sign() == 0 {
		t.Fatal("expected payment to the unpaid batch")
	}

	first, err := f.engine.GetWithdrawalBatch(firstExpiry)
	if err != nil {
		t.Fatalf("get first batch: %v", err)
	}
	if !first.IsClosed() {
		t.Fatal("oldest batch should be fully funded")
	}
	queue, err := f.engine.GetUnpaidBatchExpiries()
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(queue) != 0 {
		t.Fatalf("expected drained queue, got %v", queue)
	}

	// Nothing left to process.
	if _, err := f.engine.ProcessUnpaidWithdrawalBatch(); !errors.Is(err, ErrNoUnpaidBatches) {
		t.Fatalf("expected no unpaid batches, got %v", err)
	}
	f.assertSolvent(t)
}

func TestBorrowRespectsLiquidityRequirement(t *testing.T) {
	f := newEngineFixture(t, defaultParams())
	f.mustDeposit(t, f.lender, 10_000)

	// 20% coverage on 10000 supply keeps 2000 locked.
	if err := f.engine.Borrow(f.borrower, big.NewInt(8_001)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected liquidity error, got %v", err)
	}
	if err := f.engine.Borrow(f.borrower, big.NewInt(8_000)); err != nil {
		t.Fatalf("borrow at limit: %v", err)
	}
	if got := f.ledger.balance(f.borrower); got.Cmp(big.NewInt(8_000)) != 0 {
		t.Fatalf("borrower received %s", got)
	}

	if err := f.engine.Borrow(f.other, big.NewInt(1)); !errors.Is(err, ErrNotBorrower) {
		t.Fatalf("expected borrower gate, got %v", err)
	}
}

func TestCoverageRaiseInducesDelinquency(t *testing.T) {
	f := newEngineFixture(t, defaultParams())
	f.mustDeposit(t, f.lender, 10_000)
	if err := f.engine.Borrow(f.borrower, big.NewInt(8_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Raising coverage from 20% to 50% makes the 2000 on hand insufficient.
	if err := f.engine.SetLiquidityCoverageRatio(f.controller, 5_000); err != nil {
		t.Fatalf("set coverage: %v", err)
	}
	if !f.state.market.IsDelinquent {
		t.Fatal("expected delinquency after coverage raise")
	}
	if !hasEventType(f.recorder, TypeDelinquencyStatusChanged) {
		t.Fatal("expected delinquency status event")
	}

	// Repaying enough clears the flag on the next operation.
	if err := f.engine.Repay(f.borrower, big.NewInt(8_000)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if f.state.market.IsDelinquent {
		t.Fatal("expected recovery after repay")
	}
}

func TestDelinquentTimeAccruesPenaltyInterest(t *testing.T) {
	params := defaultParams()
	params.DelinquencyFeeBips = 1000
	params.DelinquencyGracePeriod = 3600
	f := newEngineFixture(t, params)
	f.mustDeposit(t, f.lender, 10_000)
	if err := f.engine.Borrow(f.borrower, big.NewInt(8_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := f.engine.SetLiquidityCoverageRatio(f.controller, 5_000); err != nil {
		t.Fatalf("set coverage: %v", err)
	}

	// Two hours delinquent with a one hour grace: one hour of penalty.
	f.clock += 7200
	if err := f.engine.Repay(f.borrower, big.NewInt(1)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if f.state.market.TimeDelinquent != 3600 {
		t.Fatalf("expected 3600 penalty seconds, got %d", f.state.market.TimeDelinquent)
	}
	if f.state.market.ScaleFactor.Cmp(ray) <= 0 {
		t.Fatal("expected penalty interest in the scale factor")
	}
}

func TestInterestAccruesToLenderBalance(t *testing.T) {
	params := defaultParams()
	params.AnnualInterestBips = 1000
	f := newEngineFixture(t, params)
	f.mustDeposit(t, f.lender, 10_000)

	f.clock += int64(secondsPerYear)
	balance, err := f.engine.BalanceOf(f.lender)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(11_000)) != 0 {
		t.Fatalf("expected 11000 after a year at 10%%, got %s", balance)
	}
}

func TestCollectFeesControllerOnly(t *testing.T) {
	params := defaultParams()
	params.AnnualInterestBips = 1000
	params.ProtocolFeeBips = 1000
	f := newEngineFixture(t, params)
	f.mustDeposit(t, f.lender, 10_000)

	f.clock += int64(secondsPerYear)
	recipient := makeAddress(0x42)

	if err := f.engine.CollectFees(f.other, recipient, big.NewInt(1)); !errors.Is(err, ErrNotController) {
		t.Fatalf("expected controller gate, got %v", err)
	}

	// A year at 10% APR with a 10% protocol cut accrues 100 in fees.
	if err := f.engine.CollectFees(f.controller, recipient, big.NewInt(100)); err != nil {
		t.Fatalf("collect fees: %v", err)
	}
	if got := f.ledger.balance(recipient); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("recipient received %s", got)
	}
	if f.state.market.AccruedProtocolFees.Sign() != 0 {
		t.Fatalf("fees not cleared, got %s", f.state.market.AccruedProtocolFees)
	}
}

func TestSetMaxTotalSupplyRefusesBelowOutstanding(t *testing.T) {
	f := newEngineFixture(t, defaultParams())
	f.mustDeposit(t, f.lender, 10_000)

	if err := f.engine.SetMaxTotalSupply(f.controller, big.NewInt(5_000)); !errors.Is(err, ErrMaxSupplyBelowOutstanding) {
		t.Fatalf("expected refusal, got %v", err)
	}
	if err := f.engine.SetMaxTotalSupply(f.controller, big.NewInt(20_000)); err != nil {
		t.Fatalf("raise cap: %v", err)
	}
	if f.state.market.MaxTotalSupply.Cmp(big.NewInt(20_000)) != 0 {
		t.Fatalf("cap not updated, got %s", f.state.market.MaxTotalSupply)
	}
}

func TestSetAnnualInterestAccruesOldRateFirst(t *testing.T) {
	params := defaultParams()
	params.AnnualInterestBips = 1000
	f := newEngineFixture(t, params)
	f.mustDeposit(t, f.lender, 10_000)

	f.clock += int64(secondsPerYear)
	if err := f.engine.SetAnnualInterestBips(f.controller, 0); err != nil {
		t.Fatalf("set rate: %v", err)
	}

	// The elapsed year ran at the old 10% rate.
	balance, err := f.engine.BalanceOf(f.lender)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(11_000)) != 0 {
		t.Fatalf("expected 11000, got %s", balance)
	}

	// Another year at the new zero rate adds nothing.
	f.clock += int64(secondsPerYear)
	balance, err = f.engine.BalanceOf(f.lender)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(11_000)) != 0 {
		t.Fatalf("expected unchanged balance, got %s", balance)
	}

	if err := f.engine.SetAnnualInterestBips(f.controller, MaxAnnualInterestBips+1); !errors.Is(err, ErrParameterOutOfBounds) {
		t.Fatalf("expected bounds error, got %v", err)
	}
}

func TestSetLiquidityCoverageRatioRejectsAboveCeiling(t *testing.T) {
	f := newEngineFixture(t, defaultParams())
	f.mustDeposit(t, f.lender, 10_000)

	if err := f.engine.SetLiquidityCoverageRatio(f.controller, MaxLiquidityCoverageBips+1); !errors.Is(err, ErrParameterOutOfBounds) {
		t.Fatalf("expected bounds error, got %v", err)
	}
	if f.state.market.LiquidityCoverageBips != 2000 {
		t.Fatalf("coverage mutated by rejected update: %d", f.state.market.LiquidityCoverageBips)
	}
	if len(f.recorder.Events()) != 1 {
		t.Fatalf("rejected update emitted events: %v", eventTypes(f.recorder))
	}

	// The ceiling itself is accepted.
	if err := f.engine.SetLiquidityCoverageRatio(f.controller, MaxLiquidityCoverageBips); err != nil {
		t.Fatalf("set coverage at ceiling: %v", err)
	}
	if f.state.market.LiquidityCoverageBips != MaxLiquidityCoverageBips {
		t.Fatalf("ceiling not applied, got %d", f.state.market.LiquidityCoverageBips)
	}
}

func TestFailedOperationLeavesStateUntouched(t *testing.T) {
	f := newEngineFixture(t, defaultParams())
	f.mustDeposit(t, f.lender, 10_000)
	supplyBefore := new(big.Int).Set(f.state.market.ScaledTotalSupply)

	// The lender has no asset balance left beyond the first deposit's pull,
	// so this deposit fails at the transfer step.
	f.ledger.balances[string(f.lender.Bytes())] = big.NewInt(0)
	if _, err := f.engine.Deposit(f.lender, big.NewInt(5_000)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected transfer failure, got %v", err)
	}

	if f.state.market.ScaledTotalSupply.Cmp(supplyBefore) != 0 {
		t.Fatalf("supply mutated by failed operation: %s", f.state.market.ScaledTotalSupply)
	}
	balance, err := f.engine.BalanceOf(f.lender)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("account mutated by failed operation: %s", balance)
	}
}

func TestProRataDistributionAcrossLenders(t *testing.T) {
	f := newEngineFixture(t, defaultParams())
	f.mustDeposit(t, f.lender, 6_000)
	f.mustDeposit(t, f.other, 3_000)
	if err := f.engine.Borrow(f.borrower, big.NewInt(7_200)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Both lenders join the same batch; only 1800 of 9000 is on hand.
	expiry, err := f.engine.QueueWithdrawal(f.lender, big.NewInt(6_000))
	if err != nil {
		t.Fatalf("queue lender withdrawal: %v", err)
	}
	if _, err := f.engine.QueueWithdrawal(f.other, big.NewInt(3_000)); err != nil {
		t.Fatalf("queue other withdrawal: %v", err)
	}

	f.clock = int64(expiry)
	lenderPaid, err := f.engine.ExecuteWithdrawal(f.lender, expiry)
	if err != nil {
		t.Fatalf("execute lender: %v", err)
	}
	otherPaid, err := f.engine.ExecuteWithdrawal(f.other, expiry)
	if err != nil {
		t.Fatalf("execute other: %v", err)
	}

	// 1800 funded across 9000 requested: 2/3 to lender, 1/3 to other.
	if lenderPaid.Cmp(big.NewInt(1_200)) != 0 {
		t.Fatalf("expected 1200 for lender, got %s", lenderPaid)
	}
	if otherPaid.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("expected 600 for other, got %s", otherPaid)
	}
	f.assertSolvent(t)
}
