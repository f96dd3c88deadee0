package market

import "math/big"

// applyBatchPayment funds a batch from the provided normalized liquidity. The
// burned amount is computed in scaled space first so the normalized amount
// reserved never exceeds the liquidity applied; conversion dust stays with
// the vault. Returns the normalized amount reserved and the scaled amount
// burned, both zero when nothing could be applied. May be called repeatedly
// until the batch closes.
func applyBatchPayment(st *State, batch *WithdrawalBatch, availableLiquidity *big.Int) (*big.Int, *big.Int, error) {
	zero := big.NewInt(0)
	if st == nil || batch == nil {
		return zero, zero, nil
	}
	owedScaled := batch.ScaledOwed()
	if owedScaled.Sign() == 0 || availableLiquidity == nil || availableLiquidity.Sign() <= 0 {
		return zero, zero, nil
	}
	scaledLiquidity, err := st.Scale(availableLiquidity)
	if err != nil {
		return nil, nil, err
	}
	scaledBurned := minBigInt(scaledLiquidity, owedScaled)
	if scaledBurned.Sign() == 0 {
		return zero, zero, nil
	}
	normalizedPaid, err := st.Normalize(scaledBurned)
	if err != nil {
		return nil, nil, err
	}

	batch.ScaledAmountBurned = new(big.Int).Add(batch.ScaledAmountBurned, scaledBurned)
	batch.NormalizedAmountPaid = new(big.Int).Add(batch.NormalizedAmountPaid, normalizedPaid)

	if err := st.DecreaseScaledSupply(scaledBurned); err != nil {
		return nil, nil, err
	}
	if st.ScaledPendingWithdrawals.Cmp(scaledBurned) < 0 {
		return nil, nil, ErrUnderflow
	}
	st.ScaledPendingWithdrawals = new(big.Int).Sub(st.ScaledPendingWithdrawals, scaledBurned)

	reserved := new(big.Int).Add(st.ReservedAssets, normalizedPaid)
	if err := checkRange(reserved); err != nil {
		return nil, nil, err
	}
	st.ReservedAssets = reserved

	return normalizedPaid, scaledBurned, nil
}

// availableWithdrawalAmount returns the normalized amount a lender can claim
// from a batch right now: the pro-rata share of the batch's paid amount,
// rounded down, minus what was already withdrawn.
func availableWithdrawalAmount(batch *WithdrawalBatch, status *AccountWithdrawalStatus) *big.Int {
	if batch == nil || status == nil || batch.ScaledTotalAmount == nil || batch.ScaledTotalAmount.Sign() == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(batch.NormalizedAmountPaid, status.ScaledAmount)
	share.Quo(share, batch.ScaledTotalAmount)
	return satSub(share, status.NormalizedAmountWithdrawn)
}
