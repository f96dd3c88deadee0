package market

import "math/big"

// applyAccrual advances the snapshot "as of now". It is the mandatory first
// step of every mutating operation: interest and the delinquency penalty are
// multiplied into the scale factor, and the protocol's share of the growth is
// routed to AccruedProtocolFees instead of lenders.
//
// The convention is linear per-second accrual within an update interval,
// compounded across updates: factor = 1 + rate * elapsed / secondsPerYear.
//
// The returned values are the normalized fee routed to the protocol and the
// number of seconds the delinquency penalty applied to.
func applyAccrual(st *State, now uint64) (*big.Int, uint64, error) {
	if st == nil {
		return nil, 0, errNilState
	}
	if now <= st.LastAccrual {
		return big.NewInt(0), 0, nil
	}
	delta := now - st.LastAccrual

	penaltySeconds := updateTimeDelinquent(st, delta)

	growth := new(big.Int).Mul(bipsToRay(st.AnnualInterestBips), new(big.Int).SetUint64(delta))
	growth.Quo(growth, big.NewInt(secondsPerYear))
	if penaltySeconds > 0 && st.DelinquencyFeeBips > 0 {
		penalty := new(big.Int).Mul(bipsToRay(st.DelinquencyFeeBips), new(big.Int).SetUint64(penaltySeconds))
		penalty.Quo(penalty, big.NewInt(secondsPerYear))
		growth.Add(growth, penalty)
	}
	if growth.Sign() == 0 {
		st.LastAccrual = now
		return big.NewInt(0), penaltySeconds, nil
	}

	feeGrowth := bipMul(growth, st.ProtocolFeeBips)
	lenderGrowth := new(big.Int).Sub(growth, feeGrowth)

	feeAmount := big.NewInt(0)
	if feeGrowth.Sign() > 0 && st.ScaledTotalSupply.Sign() > 0 {
		feeRatio, err := rayMul(st.ScaleFactor, feeGrowth)
		if err != nil {
			return nil, 0, err
		}
		feeAmount, err = rayMul(st.ScaledTotalSupply, feeRatio)
		if err != nil {
			return nil, 0, err
		}
	}

	factor := new(big.Int).Add(ray, lenderGrowth)
	scaleFactor, err := rayMul(st.ScaleFactor, factor)
	if err != nil {
		return nil, 0, err
	}
	st.ScaleFactor = scaleFactor

	if feeAmount.Sign() > 0 {
		fees := new(big.Int).Add(st.AccruedProtocolFees, feeAmount)
		if err := checkRange(fees); err != nil {
			return nil, 0, err
		}
		st.AccruedProtocolFees = fees
	}

	st.LastAccrual = now
	return feeAmount, penaltySeconds, nil
}

// updateTimeDelinquent extends the current delinquency streak across the
// elapsed interval and returns the seconds subject to the penalty rate. Time
// spent inside the grace period never counts, so a delinquency resolved
// within grace accrues nothing. TimeDelinquent only ever grows.
func updateTimeDelinquent(st *State, delta uint64) uint64 {
	if !st.IsDelinquent {
		st.DelinquencyStreak = 0
		return 0
	}
	streak := st.DelinquencyStreak + delta
	threshold := st.DelinquencyStreak
	if threshold < st.DelinquencyGracePeriod {
		threshold = st.DelinquencyGracePeriod
	}
	var penaltySeconds uint64
	if streak > threshold {
		penaltySeconds = streak - threshold
	}
	st.DelinquencyStreak = streak
	st.TimeDelinquent += penaltySeconds
	return penaltySeconds
}
