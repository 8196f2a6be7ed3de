package types

import "github.com/holiman/uint256"

// BasisPointsDenominator is 100% expressed in basis points.
const BasisPointsDenominator = 10_000

// ApplyBasisPoints returns floor(amount * bp / 10000). The product is
// computed in 256 bits; ok is false only if the quotient does not fit in
// 64 bits, which cannot happen for bp <= 10000.
func ApplyBasisPoints(amount uint64, bp uint16) (uint64, bool) {
	x := uint256.NewInt(amount)
	x.Mul(x, uint256.NewInt(uint64(bp)))
	x.Div(x, uint256.NewInt(BasisPointsDenominator))
	if !x.IsUint64() {
		return 0, false
	}
	return x.Uint64(), true
}

// CheckedAdd returns a+b, or ok=false on overflow.
func CheckedAdd(a, b uint64) (uint64, bool) {
	s := a + b
	return s, s >= a
}

// CheckedSub returns a-b, or ok=false on underflow.
func CheckedSub(a, b uint64) (uint64, bool) {
	if b > a {
		return 0, false
	}
	return a - b, true
}
