package types

import "math/big"

// Role describes the authorization level granted to a lender address by the
// controller. The zero value means the address has never been granted access.
type Role uint8

const (
	RoleNone Role = iota
	RoleBlocked
	RoleWithdrawOnly
	RoleDepositAndWithdraw
)

// CanDeposit reports whether the role permits new deposits.
func (r Role) CanDeposit() bool { return r == RoleDepositAndWithdraw }

// CanWithdraw reports whether the role permits queueing and executing
// withdrawals.
func (r Role) CanWithdraw() bool {
	return r == RoleWithdrawOnly || r == RoleDepositAndWithdraw
}

func (r Role) String() string {
	switch r {
	case RoleBlocked:
		return "blocked"
	case RoleWithdrawOnly:
		return "withdrawOnly"
	case RoleDepositAndWithdraw:
		return "depositAndWithdraw"
	default:
		return "none"
	}
}

// Account maintains the vault-side position for an individual lender. The
// balance is stored in scaled units and converts to underlying amounts via
// the market scale factor.
type Account struct {
	ScaledBalance *big.Int
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{}
	if a.ScaledBalance != nil {
		clone.ScaledBalance = new(big.Int).Set(a.ScaledBalance)
	}
	return clone
}

// EnsureDefaults populates nil big.Int fields so codec handling is safe.
func (a *Account) EnsureDefaults() {
	if a.ScaledBalance == nil {
		a.ScaledBalance = big.NewInt(0)
	}
}

// TokenAccount is an underlying-asset balance record maintained by the token
// ledger collaborator.
type TokenAccount struct {
	Balance *big.Int
}

// Clone returns a deep copy of the token account.
func (a *TokenAccount) Clone() *TokenAccount {
	if a == nil {
		return nil
	}
	clone := &TokenAccount{}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return clone
}
