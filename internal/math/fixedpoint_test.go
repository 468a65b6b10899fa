package math_test

import (
	gomath "math"
	"testing"

	fpmath "TroveLedger/internal/math"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulDiv_RoundingModes(t *testing.T) {
	tests := []struct {
		name    string
		a, b, c uint64
		mode    fpmath.RoundingMode
		want    uint64
	}{
		{"down", 10, 1, 3, fpmath.RoundDown, 3},
		{"up", 10, 1, 3, fpmath.RoundUp, 4},
		{"exact up", 9, 1, 3, fpmath.RoundUp, 3},
		{"half even rounds to even", 5, 1, 2, fpmath.RoundHalfEven, 2},
		{"half even rounds up odd", 7, 1, 2, fpmath.RoundHalfEven, 4},
		{"half even above half", 5, 1, 3, fpmath.RoundHalfEven, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fpmath.MulDiv(tt.a, tt.b, tt.c, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	// 1.8e19 * 1e9 overflows 64 bits but the quotient fits.
	got, err := fpmath.MulDiv(gomath.MaxUint64, fpmath.Precision, fpmath.Precision, fpmath.RoundDown)
	require.NoError(t, err)
	assert.Equal(t, uint64(gomath.MaxUint64), got)

	_, err = fpmath.MulDiv(gomath.MaxUint64, 2, 1, fpmath.RoundDown)
	assert.ErrorIs(t, err, fpmath.ErrOverflow)

	_, err = fpmath.MulDiv(1, 1, 0, fpmath.RoundDown)
	assert.ErrorIs(t, err, fpmath.ErrDivideByZero)
}

func TestICR(t *testing.T) {
	assert.Equal(t, uint64(2_000_000_000), fpmath.NominalICR(1_200e9, 600e9))
	assert.Equal(t, fpmath.MaxICR, fpmath.NominalICR(1, 0))
	// 1,200 coll at price 1.0 against 600 debt.
	assert.Equal(t, uint64(2_000_000_000), fpmath.CurrentICR(1_200e9, 600e9, 1e9))
	assert.Equal(t, uint64(1_000_000_000), fpmath.CurrentICR(1_200e9, 600e9, 5e8))
}

func TestDecPow_HalfLife(t *testing.T) {
	assert.Equal(t, fpmath.Precision, fpmath.DecPow(fpmath.MinuteDecayFactor, 0))
	assert.Equal(t, fpmath.MinuteDecayFactor, fpmath.DecPow(fpmath.MinuteDecayFactor, 1))

	halfDay := fpmath.DecPow(fpmath.MinuteDecayFactor, 720)
	assert.InDelta(t, 500_000_000, float64(halfDay), 1_000_000)

	day := fpmath.DecPow(fpmath.MinuteDecayFactor, 1440)
	assert.InDelta(t, 250_000_000, float64(day), 1_000_000)

	assert.Equal(t, uint64(0), fpmath.DecPow(fpmath.MinuteDecayFactor, gomath.MaxUint64))
}

func TestFormatParseAmount(t *testing.T) {
	assert.Equal(t, "1.5", fpmath.FormatAmount(1_500_000_000))
	assert.Equal(t, "0.000000001", fpmath.FormatAmount(1))
	assert.Equal(t, "inf", fpmath.FormatAmount(fpmath.MaxICR))

	v, err := fpmath.ParseAmount("1.2")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_200_000_000), v)

	v, err = fpmath.ParseAmount("500")
	require.NoError(t, err)
	assert.Equal(t, uint64(500e9), v)

	_, err = fpmath.ParseAmount("0.0000000001")
	assert.Error(t, err)
	_, err = fpmath.ParseAmount("-1")
	assert.Error(t, err)
	_, err = fpmath.ParseAmount("abc")
	assert.Error(t, err)
}
