package market

import (
	"math/big"

	"github.com/holiman/uint256"
)

var (
	basisPoints = big.NewInt(10_000)
	ray         = mustBigInt("1000000000000000000000000000") // 1e27 precision
)

const secondsPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// checkRange enforces the 256-bit storage bound on intermediate results.
// Anything wider would wrap once persisted, so fail hard instead.
func checkRange(v *big.Int) error {
	if v == nil || v.Sign() < 0 {
		return ErrUnderflow
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return ErrValueOutOfRange
	}
	return nil
}

// rayMul multiplies two ray fixed-point values rounding down.
func rayMul(a, b *big.Int) (*big.Int, error) {
	if a == nil || b == nil {
		return big.NewInt(0), nil
	}
	product := new(big.Int).Mul(a, b)
	product.Quo(product, ray)
	if err := checkRange(product); err != nil {
		return nil, err
	}
	return product, nil
}

// rayDiv divides two ray fixed-point values rounding down.
func rayDiv(a, b *big.Int) (*big.Int, error) {
	if b == nil || b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	if a == nil {
		return big.NewInt(0), nil
	}
	quotient := new(big.Int).Mul(a, ray)
	quotient.Quo(quotient, b)
	if err := checkRange(quotient); err != nil {
		return nil, err
	}
	return quotient, nil
}

// bipMul applies a basis-point percentage (0-10000 covering 0-100%) rounding
// down. The result never exceeds the input for bips within range.
func bipMul(a *big.Int, bips uint64) *big.Int {
	if a == nil || a.Sign() == 0 || bips == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(a, new(big.Int).SetUint64(bips))
	return scaled.Quo(scaled, basisPoints)
}

// bipsToRay converts a basis-point rate to a ray fixed-point fraction.
func bipsToRay(bips uint64) *big.Int {
	scaled := new(big.Int).Mul(new(big.Int).SetUint64(bips), ray)
	return scaled.Quo(scaled, basisPoints)
}

// satSub subtracts b from a flooring the result at zero.
func satSub(a, b *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	if b == nil {
		return new(big.Int).Set(a)
	}
	diff := new(big.Int).Sub(a, b)
	if diff.Sign() < 0 {
		return big.NewInt(0)
	}
	return diff
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func minBigInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
