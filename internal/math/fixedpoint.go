package math

import (
	"errors"
	gomath "math"

	"github.com/holiman/uint256"
)

// Precision is the shared fixed-point scale for amounts, prices and ratios.
const Precision uint64 = 1_000_000_000

// MaxICR is returned for positions carrying no debt.
const MaxICR uint64 = gomath.MaxUint64

var ErrOverflow = errors.New("fixedpoint: result overflows uint64")

var ErrDivideByZero = errors.New("fixedpoint: division by zero")

type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
	RoundHalfEven // Banker's rounding
)

// MulDiv computes a*b/c with a 256-bit intermediate.
func MulDiv(a, b, c uint64, mode RoundingMode) (uint64, error) {
	if c == 0 {
		return 0, ErrDivideByZero
	}
	num := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	den := uint256.NewInt(c)
	quo, rem := new(uint256.Int), new(uint256.Int)
	quo.DivMod(num, den, rem)

	if !rem.IsZero() {
		switch mode {
		case RoundUp:
			quo.AddUint64(quo, 1)
		case RoundHalfEven:
			twice := new(uint256.Int).Lsh(rem, 1)
			cmp := twice.Cmp(den)
			if cmp > 0 || (cmp == 0 && quo.Uint64()%2 == 1) {
				quo.AddUint64(quo, 1)
			}
		}
	}

	if !quo.IsUint64() {
		return 0, ErrOverflow
	}
	return quo.Uint64(), nil
}

// MulDivDown is MulDiv rounding toward zero, saturating at MaxUint64.
func MulDivDown(a, b, c uint64) uint64 {
	v, err := MulDiv(a, b, c, RoundDown)
	if errors.Is(err, ErrOverflow) {
		return gomath.MaxUint64
	}
	return v
}

// MulDivUp is MulDiv rounding away from zero, saturating at MaxUint64.
func MulDivUp(a, b, c uint64) uint64 {
	v, err := MulDiv(a, b, c, RoundUp)
	if errors.Is(err, ErrOverflow) {
		return gomath.MaxUint64
	}
	return v
}

// MulDivRem returns floor(a*b/c) and the remainder, both as 256-bit values.
// Used by the reward accumulators, which carry the remainder forward.
func MulDivRem(a, b *uint256.Int, c *uint256.Int) (quo, rem *uint256.Int) {
	quo, rem = new(uint256.Int), new(uint256.Int)
	num := new(uint256.Int).Mul(a, b)
	quo.DivMod(num, c, rem)
	return quo, rem
}

// NominalICR returns coll*Precision/debt, or MaxICR when debt is zero.
func NominalICR(coll, debt uint64) uint64 {
	if debt == 0 {
		return MaxICR
	}
	return MulDivDown(coll, Precision, debt)
}

// CurrentICR returns coll*price/debt, or MaxICR when debt is zero.
func CurrentICR(coll, debt, price uint64) uint64 {
	if debt == 0 {
		return MaxICR
	}
	return MulDivDown(coll, price, debt)
}

// Mul returns a*b/Precision rounded down.
func Mul(a, b uint64) uint64 {
	return MulDivDown(a, b, Precision)
}

// Div returns a*Precision/b rounded down. b must be non-zero.
func Div(a, b uint64) uint64 {
	return MulDivDown(a, Precision, b)
}

func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// SafeAdd adds with overflow detection.
func SafeAdd(a, b uint64) (uint64, error) {
	s := a + b
	if s < a {
		return 0, ErrOverflow
	}
	return s, nil
}
