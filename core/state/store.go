package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"marketvault/core/types"
	"marketvault/crypto"
	"marketvault/native/market"
	"marketvault/storage"
)

// Store persists market, registry and token records over a key-value
// backend. Writes are buffered: nothing reaches the backend until Commit,
// and Discard drops the buffer, which gives facade operations all-or-nothing
// persistence.
type Store struct {
	db storage.Database

	mu      sync.Mutex
	pending map[string][]byte
}

// NewStore wraps the provided database.
func NewStore(db storage.Database) *Store {
	return &Store{db: db, pending: make(map[string][]byte)}
}

func (s *Store) read(key []byte) ([]byte, bool, error) {
	s.mu.Lock()
	if value, ok := s.pending[string(key)]; ok {
		s.mu.Unlock()
		return value, true, nil
	}
	s.mu.Unlock()
	value, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) write(key, value []byte) {
	s.mu.Lock()
	s.pending[string(key)] = value
	s.mu.Unlock()
}

// Commit flushes every buffered write to the backend.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range s.pending {
		if err := s.db.Put([]byte(key), value); err != nil {
			return fmt.Errorf("state store: commit: %w", err)
		}
	}
	s.pending = make(map[string][]byte)
	return nil
}

// Discard drops every buffered write.
func (s *Store) Discard() {
	s.mu.Lock()
	s.pending = make(map[string][]byte)
	s.mu.Unlock()
}

// Initialized reports whether a market snapshot has been persisted to the
// backend. Buffered writes do not count; the daemon uses this to decide
// whether to bootstrap genesis state.
func (s *Store) Initialized() (bool, error) {
	return s.db.Has(marketStateKey)
}

// validateAmounts enforces the 256-bit storage bound before encoding. A
// wider value would be silently truncated by downstream consumers, so the
// write fails instead.
func validateAmounts(values ...*big.Int) error {
	for _, v := range values {
		if v == nil {
			continue
		}
		if v.Sign() < 0 {
			return market.ErrUnderflow
		}
		if _, overflow := uint256.FromBig(v); overflow {
			return market.ErrValueOutOfRange
		}
	}
	return nil
}

// --- market engine state ---

// MarketState loads the vault snapshot, or nil when uninitialised.
func (s *Store) MarketState() (*market.State, error) {
	raw, ok, err := s.read(marketStateKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	st := new(market.State)
	if err := rlp.DecodeBytes(raw, st); err != nil {
		return nil, fmt.Errorf("state store: decode market state: %w", err)
	}
	st.EnsureDefaults()
	return st, nil
}

// PutMarketState buffers the vault snapshot.
func (s *Store) PutMarketState(st *market.State) error {
	if st == nil {
		return fmt.Errorf("state store: nil market state")
	}
	st.EnsureDefaults()
	if err := validateAmounts(st.MaxTotalSupply, st.ScaledTotalSupply, st.ScaledPendingWithdrawals,
		st.AccruedProtocolFees, st.ReservedAssets, st.ScaleFactor); err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(st)
	if err != nil {
		return fmt.Errorf("state store: encode market state: %w", err)
	}
	s.write(marketStateKey, raw)
	return nil
}

// GetAccount loads a lender account, or nil when it has never interacted.
func (s *Store) GetAccount(addr crypto.Address) (*types.Account, error) {
	raw, ok, err := s.read(accountKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	account := new(types.Account)
	if err := rlp.DecodeBytes(raw, account); err != nil {
		return nil, fmt.Errorf("state store: decode account: %w", err)
	}
	account.EnsureDefaults()
	return account, nil
}

// PutAccount buffers a lender account record.
func (s *Store) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state store: nil account")
	}
	account.EnsureDefaults()
	if err := validateAmounts(account.ScaledBalance); err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(account)
	if err != nil {
		return fmt.Errorf("state store: encode account: %w", err)
	}
	s.write(accountKey(addr), raw)
	return nil
}

// GetWithdrawalBatch loads a batch record, or nil when absent.
func (s *Store) GetWithdrawalBatch(expiry uint64) (*market.WithdrawalBatch, error) {
	raw, ok, err := s.read(batchKey(expiry))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	batch := new(market.WithdrawalBatch)
	if err := rlp.DecodeBytes(raw, batch); err != nil {
		return nil, fmt.Errorf("state store: decode batch: %w", err)
	}
	batch.EnsureDefaults()
	return batch, nil
}

// PutWithdrawalBatch buffers a batch record.
func (s *Store) PutWithdrawalBatch(expiry uint64, batch *market.WithdrawalBatch) error {
	if batch == nil {
		return fmt.Errorf("state store: nil batch")
	}
	batch.EnsureDefaults()
	if err := validateAmounts(batch.ScaledTotalAmount, batch.ScaledAmountBurned, batch.NormalizedAmountPaid); err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(batch)
	if err != nil {
		return fmt.Errorf("state store: encode batch: %w", err)
	}
	s.write(batchKey(expiry), raw)
	return nil
}

// GetWithdrawalStatus loads a lender's per-batch status, or nil when absent.
func (s *Store) GetWithdrawalStatus(expiry uint64, addr crypto.Address) (*market.AccountWithdrawalStatus, error) {
	raw, ok, err := s.read(statusKey(expiry, addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	status := new(market.AccountWithdrawalStatus)
	if err := rlp.DecodeBytes(raw, status); err != nil {
		return nil, fmt.Errorf("state store: decode withdrawal status: %w", err)
	}
	status.EnsureDefaults()
	return status, nil
}

// PutWithdrawalStatus buffers a lender's per-batch status.
func (s *Store) PutWithdrawalStatus(expiry uint64, addr crypto.Address, status *market.AccountWithdrawalStatus) error {
	if status == nil {
		return fmt.Errorf("state store: nil withdrawal status")
	}
	status.EnsureDefaults()
	if err := validateAmounts(status.ScaledAmount, status.NormalizedAmountWithdrawn); err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(status)
	if err != nil {
		return fmt.Errorf("state store: encode withdrawal status: %w", err)
	}
	s.write(statusKey(expiry, addr), raw)
	return nil
}

type unpaidQueue struct {
	Expiries []uint64
}

// UnpaidBatchExpiries loads the unpaid batch queue snapshot.
func (s *Store) UnpaidBatchExpiries() ([]uint64, error) {
	raw, ok, err := s.read(unpaidQueueKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []uint64{}, nil
	}
	queue := new(unpaidQueue)
	if err := rlp.DecodeBytes(raw, queue); err != nil {
		return nil, fmt.Errorf("state store: decode unpaid queue: %w", err)
	}
	return queue.Expiries, nil
}

// PutUnpaidBatchExpiries buffers the unpaid batch queue snapshot.
func (s *Store) PutUnpaidBatchExpiries(expiries []uint64) error {
	raw, err := rlp.EncodeToBytes(&unpaidQueue{Expiries: expiries})
	if err != nil {
		return fmt.Errorf("state store: encode unpaid queue: %w", err)
	}
	s.write(unpaidQueueKey, raw)
	return nil
}

// --- registry state ---

// GetRole loads the role held by the address, RoleNone when unknown.
func (s *Store) GetRole(addr crypto.Address) (types.Role, error) {
	raw, ok, err := s.read(roleKey(addr))
	if err != nil {
		return types.RoleNone, err
	}
	if !ok {
		return types.RoleNone, nil
	}
	var role uint8
	if err := rlp.DecodeBytes(raw, &role); err != nil {
		return types.RoleNone, fmt.Errorf("state store: decode role: %w", err)
	}
	return types.Role(role), nil
}

// PutRole buffers the role held by the address.
func (s *Store) PutRole(addr crypto.Address, role types.Role) error {
	raw, err := rlp.EncodeToBytes(uint8(role))
	if err != nil {
		return fmt.Errorf("state store: encode role: %w", err)
	}
	s.write(roleKey(addr), raw)
	return nil
}

// --- token ledger state ---

// GetTokenAccount loads an underlying-asset balance record, nil when absent.
func (s *Store) GetTokenAccount(addr crypto.Address) (*types.TokenAccount, error) {
	raw, ok, err := s.read(tokenKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(raw, balance); err != nil {
		return nil, fmt.Errorf("state store: decode token account: %w", err)
	}
	return &types.TokenAccount{Balance: balance}, nil
}

// PutTokenAccount buffers an underlying-asset balance record.
func (s *Store) PutTokenAccount(addr crypto.Address, account *types.TokenAccount) error {
	if account == nil {
		return fmt.Errorf("state store: nil token account")
	}
	balance := account.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	if err := validateAmounts(balance); err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return fmt.Errorf("state store: encode token account: %w", err)
	}
	s.write(tokenKey(addr), raw)
	return nil
}

// GetAllowance loads a spender allowance, nil when never approved.
func (s *Store) GetAllowance(owner, spender crypto.Address) (*big.Int, error) {
	raw, ok, err := s.read(allowanceKey(owner, spender))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	allowance := new(big.Int)
	if err := rlp.DecodeBytes(raw, allowance); err != nil {
		return nil, fmt.Errorf("state store: decode allowance: %w", err)
	}
	return allowance, nil
}

// PutAllowance buffers a spender allowance.
func (s *Store) PutAllowance(owner, spender crypto.Address, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if err := validateAmounts(amount); err != nil {
		return err
	}
	raw, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return fmt.Errorf("state store: encode allowance: %w", err)
	}
	s.write(allowanceKey(owner, spender), raw)
	return nil
}
