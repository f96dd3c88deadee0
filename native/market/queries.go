package market

import (
	"math/big"

	"marketvault/crypto"
)

// CurrentState returns the vault snapshot accrued to the present moment.
// The accrued copy is not persisted; the next mutation recomputes it.
func (e *Engine) CurrentState() (*State, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	view := st.Clone()
	if _, _, err := applyAccrual(view, e.now()); err != nil {
		return nil, err
	}
	return view, nil
}

// TotalSupply returns the normalized supply as of now.
func (e *Engine) TotalSupply() (*big.Int, error) {
	st, err := e.CurrentState()
	if err != nil {
		return nil, err
	}
	return st.TotalSupply()
}

// MaximumDeposit returns the remaining deposit headroom as of now.
func (e *Engine) MaximumDeposit() (*big.Int, error) {
	st, err := e.CurrentState()
	if err != nil {
		return nil, err
	}
	return st.MaximumDeposit()
}

// BalanceOf returns the lender's normalized balance as of now.
func (e *Engine) BalanceOf(addr crypto.Address) (*big.Int, error) {
	st, err := e.CurrentState()
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	account, err := e.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	return st.Normalize(account.ScaledBalance)
}

// GetWithdrawalBatch returns the batch record for the given expiry.
func (e *Engine) GetWithdrawalBatch(expiry uint64) (*WithdrawalBatch, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	batch, err := e.loadBatch(expiry)
	if err != nil {
		return nil, err
	}
	return batch.Clone(), nil
}

// GetAccountWithdrawalStatus returns the lender's per-batch status record.
func (e *Engine) GetAccountWithdrawalStatus(addr crypto.Address, expiry uint64) (*AccountWithdrawalStatus, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	status, err := e.loadStatus(expiry, addr)
	if err != nil {
		return nil, err
	}
	return status.Clone(), nil
}

// GetAvailableWithdrawalAmount returns the normalized amount the lender
// could claim from the batch right now.
func (e *Engine) GetAvailableWithdrawalAmount(addr crypto.Address, expiry uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	batch, err := e.loadBatch(expiry)
	if err != nil {
		return nil, err
	}
	status, err := e.loadStatus(expiry, addr)
	if err != nil {
		return nil, err
	}
	return availableWithdrawalAmount(batch, status), nil
}

// GetUnpaidBatchExpiries returns the matured, unpaid batch expiries in
// settlement order.
func (e *Engine) GetUnpaidBatchExpiries() ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	queue, err := e.loadQueue()
	if err != nil {
		return nil, err
	}
	return queue.Values(), nil
}
