package math

import "github.com/holiman/uint256"

// MinuteDecayFactor is the per-minute multiplier applied to the base rate,
// giving a half-life of 12 hours: 0.5^(1/720) in Precision scale.
const MinuteDecayFactor uint64 = 999_037_758

// MaxDecayMinutes caps the exponent (1000 years).
const MaxDecayMinutes uint64 = 525_600_000

// DecMul multiplies two Precision-scaled values, rounding half up.
func DecMul(x, y uint64) uint64 {
	prod := new(uint256.Int).Mul(uint256.NewInt(x), uint256.NewInt(y))
	prod.AddUint64(prod, Precision/2)
	prod.Div(prod, uint256.NewInt(Precision))
	if !prod.IsUint64() {
		return MaxICR
	}
	return prod.Uint64()
}

// DecPow raises a Precision-scaled base to an integer power by
// exponentiation by squaring. The exponent is capped at MaxDecayMinutes.
func DecPow(base, minutes uint64) uint64 {
	if minutes > MaxDecayMinutes {
		minutes = MaxDecayMinutes
	}
	if minutes == 0 {
		return Precision
	}

	y := Precision
	x := base
	n := minutes
	for n > 1 {
		if n%2 == 0 {
			x = DecMul(x, x)
			n /= 2
		} else {
			y = DecMul(x, y)
			x = DecMul(x, x)
			n = (n - 1) / 2
		}
	}
	return DecMul(x, y)
}
