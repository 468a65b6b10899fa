package state

import (
	"testing"

	fpmath "TroveLedger/internal/math"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedBaseRate(t *testing.T, f *fixture, rate uint64) uint64 {
	t.Helper()
	start := f.now
	f.mustExec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("ETH")
		totals, err := inst.Troves.Rewards().Totals()
		if err != nil {
			return err
		}
		totals.BaseRate = rate
		totals.LastFeeOperationTime = start
		return inst.Troves.Rewards().SaveTotals(totals)
	})
	return start
}

func TestFeeDecay(t *testing.T) {
	f := newFixture(t, "ETH")
	seedBaseRate(t, f, fpmath.Precision)

	cases := []struct {
		name    string
		elapsed uint64
		want    uint64
		delta   float64
	}{
		{"same second", 0, fpmath.Precision, 0},
		{"under a minute", 59, fpmath.Precision, 0},
		{"one minute", 60, fpmath.MinuteDecayFactor, 0},
		{"half-life", 720 * 60, 500_000_000, 1_000_000},
		{"two half-lives", 1440 * 60, 250_000_000, 1_000_000},
	}
	base := f.now
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.now = base + tc.elapsed
			got, err := f.asset("ETH").Fees.DecayedBaseRate()
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, tc.delta)
		})
	}
}

func TestFeeRates_Clamped(t *testing.T) {
	f := newFixture(t, "ETH")
	seedBaseRate(t, f, 900_000_000)

	fees := f.asset("ETH").Fees
	borrow, err := fees.BorrowingRate()
	require.NoError(t, err)
	assert.Equal(t, uint64(DefaultMaxBorrowFee), borrow)

	redeem, err := fees.RedemptionRate()
	require.NoError(t, err)
	assert.Equal(t, uint64(905_000_000), redeem)

	seedBaseRate(t, f, fpmath.Precision)
	redeem, err = f.asset("ETH").Fees.RedemptionRate()
	require.NoError(t, err)
	assert.Equal(t, uint64(MaxRedemptionFee), redeem)
}

func TestFeeOperationTime_AdvancesByWholeMinutes(t *testing.T) {
	f := newFixture(t, "ETH")
	start := seedBaseRate(t, f, 100_000_000)
	f.advance(90)

	var fee uint64
	f.mustExec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("ETH")
		var err error
		fee, err = inst.Fees.BorrowingFee(e9(1000), e9(10000))
		return err
	})
	// One minute of decay, then a fee at min(floor + base, cap).
	decayed := fpmath.Mul(100_000_000, fpmath.MinuteDecayFactor)
	assert.Equal(t, fpmath.Mul(e9(1000), DefaultMaxBorrowFee), fee)

	totals, err := f.asset("ETH").Troves.Rewards().Totals()
	require.NoError(t, err)
	assert.Equal(t, start+60, totals.LastFeeOperationTime)
	assert.Equal(t, decayed+50_000_000, totals.BaseRate)
}

func TestRedemptionFee_ExceedsCollateral(t *testing.T) {
	f := newFixture(t, "ETH")
	seedBaseRate(t, f, fpmath.Precision)
	err := f.exec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("ETH")
		_, err := inst.Fees.RedemptionFee(e9(10), e9(10), e9(1000))
		return err
	})
	assert.ErrorIs(t, err, ErrFeeExceedsCollateral)
}
