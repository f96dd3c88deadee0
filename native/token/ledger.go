package token

import (
	"errors"
	"math/big"

	"marketvault/core/types"
	"marketvault/crypto"
)

var (
	errNilState = errors.New("token ledger: state not configured")

	// ErrInvalidAmount is returned for nil, zero or negative amounts.
	ErrInvalidAmount = errors.New("token ledger: amount must be positive")
	// ErrInsufficientBalance is returned when a transfer exceeds the
	// sender's balance. Nothing is moved on failure.
	ErrInsufficientBalance = errors.New("token ledger: insufficient balance")
	// ErrInsufficientAllowance is returned when a delegated transfer
	// exceeds the approved allowance.
	ErrInsufficientAllowance = errors.New("token ledger: insufficient allowance")
)

// ledgerState is the persistence boundary for token balances and allowances.
type ledgerState interface {
	GetTokenAccount(addr crypto.Address) (*types.TokenAccount, error)
	PutTokenAccount(addr crypto.Address, account *types.TokenAccount) error
	GetAllowance(owner, spender crypto.Address) (*big.Int, error)
	PutAllowance(owner, spender crypto.Address, amount *big.Int) error
}

// Ledger is the underlying-asset collaborator: exact-amount, no-fee
// transfers that fail atomically on insufficient balance or allowance.
type Ledger struct {
	state ledgerState
}

// NewLedger constructs an empty ledger.
func NewLedger() *Ledger { return &Ledger{} }

// SetState wires the ledger to the external persistence layer.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

func (l *Ledger) loadAccount(addr crypto.Address) (*types.TokenAccount, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	acc, err := l.state.GetTokenAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.TokenAccount{}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc, nil
}

// BalanceOf returns the address's balance.
func (l *Ledger) BalanceOf(addr crypto.Address) (*big.Int, error) {
	acc, err := l.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.Balance), nil
}

// Mint credits newly issued units to the address. Used at genesis and by
// tests; the market engine never mints.
func (l *Ledger) Mint(addr crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	acc, err := l.loadAccount(addr)
	if err != nil {
		return err
	}
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return l.state.PutTokenAccount(addr, acc)
}

// Transfer moves the exact amount from one address to another.
func (l *Ledger) Transfer(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	sender, err := l.loadAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	receiver, err := l.loadAccount(to)
	if err != nil {
		return err
	}
	sender.Balance = new(big.Int).Sub(sender.Balance, amount)
	receiver.Balance = new(big.Int).Add(receiver.Balance, amount)
	if err := l.state.PutTokenAccount(from, sender); err != nil {
		return err
	}
	return l.state.PutTokenAccount(to, receiver)
}

// Approve sets the spender's allowance over the owner's balance.
func (l *Ledger) Approve(owner, spender crypto.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return l.state.PutAllowance(owner, spender, new(big.Int).Set(amount))
}

// Allowance returns the spender's remaining allowance over the owner.
func (l *Ledger) Allowance(owner, spender crypto.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	allowance, err := l.state.GetAllowance(owner, spender)
	if err != nil {
		return nil, err
	}
	if allowance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(allowance), nil
}

// TransferFrom moves the exact amount from the owner to the recipient using
// the spender's allowance. Allowance and balances are debited together or
// not at all.
func (l *Ledger) TransferFrom(spender, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	allowance, err := l.Allowance(from, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.Transfer(from, to, amount); err != nil {
		return err
	}
	return l.state.PutAllowance(from, spender, new(big.Int).Sub(allowance, amount))
}
