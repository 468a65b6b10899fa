package state

import (
	"testing"

	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const week = 7 * 24 * 3600

// List head to tail: d (2.5), a (2.0), c (2.0), b (1.25). d funds the
// redemptions.
func redemptionFixture(t *testing.T) (f *fixture, a, b, c, d Identity) {
	f = newFixture(t, "ETH")
	a, b, c, d = user(1), user(2), user(3), user(4)
	f.open("ETH", d, e9(10000), e9(4000))
	f.open("ETH", a, e9(1200), e9(600))
	f.open("ETH", c, e9(2000), e9(1000))
	f.open("ETH", b, e9(3000), e9(2400))
	// Let the borrowing bumps decay away.
	f.advance(week)
	return f, a, b, c, d
}

func TestRedeemCollateral_LowestICRFirst(t *testing.T) {
	f, _, b, c, d := redemptionFixture(t)
	usdfBefore := f.wallet(d, ledger.DebtToken)

	res, err := f.redeem("ETH", RedemptionRequest{Redeemer: d, Amount: e9(3000)})
	require.NoError(t, err)

	// b closes; c would be left below the minimum debt so the walk stops.
	require.Len(t, res.Troves, 1)
	assert.Equal(t, b, res.Troves[0].Owner)
	assert.True(t, res.Troves[0].Closed)
	assert.Equal(t, e9(600), res.Troves[0].CollSurplus)
	assert.Equal(t, e9(2400), res.DebtRedeemed)
	assert.Equal(t, e9(2400), res.CollDrawn)

	// 2400 of 8000 total debt bumps the base rate by 0.15.
	assert.InDelta(t, 150_000_000, res.BaseRate, 100_000)
	assert.Equal(t, fpmath.Mul(res.CollDrawn, DefaultFeeFloor+res.BaseRate), res.Fee)
	assert.Equal(t, res.CollDrawn-res.Fee, f.wallet(d, "ETH"))
	assert.Equal(t, usdfBefore-e9(2400), f.wallet(d, ledger.DebtToken))

	assert.Equal(t, StatusClosedByRedemption, f.trove("ETH", b).Status)
	assert.Equal(t, e9(1000), f.trove("ETH", c).Debt)
	f.checkInvariants()
}

func TestRedeemCollateral_PartialWithHints(t *testing.T) {
	f, _, b, c, d := redemptionFixture(t)

	err := f.exec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("ETH")
		_, err := inst.Redemptions.RedeemCollateral(RedemptionRequest{Redeemer: d, Amount: e9(2900), PartialNICR: 12345})
		return err
	})
	require.ErrorIs(t, err, ErrStaleHint)
	assert.Equal(t, StatusActive, f.trove("ETH", b).Status)

	hints, err := f.asset("ETH").Redemptions.GetRedemptionHints(e9(2900), fpmath.Precision, 0)
	require.NoError(t, err)
	assert.Equal(t, b, hints.FirstHint)
	assert.Equal(t, uint64(3_000_000_000), hints.PartialNICR)
	assert.Equal(t, e9(2900), hints.TruncatedAmount)

	res, err := f.redeem("ETH", RedemptionRequest{Redeemer: d, Amount: e9(2900), PartialNICR: hints.PartialNICR})
	require.NoError(t, err)
	assert.Equal(t, hints.TruncatedAmount, res.DebtRedeemed)
	require.Len(t, res.Troves, 2)
	assert.False(t, res.Troves[1].Closed)

	tr := f.trove("ETH", c)
	assert.Equal(t, e9(500), tr.Debt)
	assert.Equal(t, e9(1500), tr.Coll)
	// NICR 3.0 moves c to the head.
	first, err := f.asset("ETH").Troves.List().First()
	require.NoError(t, err)
	assert.Equal(t, c, first)
	f.checkInvariants()
}

func TestRedeemCollateral_SkipsTrovesBelowMCR(t *testing.T) {
	f, _, b, c, d := redemptionFixture(t)
	f.setPrice("ETH", 950_000_000)

	res, err := f.redeem("ETH", RedemptionRequest{Redeemer: d, Amount: e9(500)})
	require.NoError(t, err)
	require.Len(t, res.Troves, 1)
	assert.Equal(t, c, res.Troves[0].Owner)
	assert.Equal(t, fpmath.MulDivDown(e9(500), fpmath.Precision, 950_000_000), res.CollDrawn)
	assert.Equal(t, e9(2400), f.trove("ETH", b).Debt)
	f.checkInvariants()
}

func TestRedeemCollateral_MaxIterations(t *testing.T) {
	f, a, b, c, d := redemptionFixture(t)

	res, err := f.redeem("ETH", RedemptionRequest{Redeemer: d, Amount: e9(3500), MaxIterations: 1})
	require.NoError(t, err)
	assert.Equal(t, e9(2400), res.DebtRedeemed)
	assert.Equal(t, StatusActive, f.trove("ETH", c).Status)
	assert.Equal(t, StatusActive, f.trove("ETH", a).Status)
	assert.Equal(t, StatusClosedByRedemption, f.trove("ETH", b).Status)
}

func TestRedeemCollateral_Rejections(t *testing.T) {
	f := newFixture(t, "ETH", "BTC")
	a, d := user(1), user(4)
	f.open("BTC", d, e9(10000), e9(4000))
	f.open("ETH", a, e9(1200), e9(600))
	f.advance(week)

	// The only ETH trove cannot be redeemed away.
	_, err := f.redeem("ETH", RedemptionRequest{Redeemer: d, Amount: e9(600)})
	assert.ErrorIs(t, err, ErrNothingToRedeem)

	_, err = f.redeem("ETH", RedemptionRequest{Redeemer: d, Amount: e9(5000)})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = f.redeem("ETH", RedemptionRequest{Redeemer: d})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	f.setPrice("ETH", 500_000_000)
	_, err = f.redeem("ETH", RedemptionRequest{Redeemer: d, Amount: e9(100)})
	assert.ErrorIs(t, err, ErrNothingToRedeem)
	f.checkInvariants()
}

func TestRedeemAcrossAssets(t *testing.T) {
	f := newFixture(t, "ETH", "BTC")
	a, b, c, d, e := user(1), user(2), user(3), user(4), user(5)
	f.open("BTC", d, e9(10000), e9(4000))
	f.open("BTC", c, e9(2000), e9(1000))
	f.open("BTC", e, e9(1300), e9(1000))
	f.open("ETH", a, e9(1200), e9(600))
	f.open("ETH", b, e9(3000), e9(2400))
	f.advance(week)
	usdfBefore := f.wallet(d, ledger.DebtToken)

	var res *SweepResult
	f.mustExec(func(pm *ProtocolManager) error {
		var err error
		res, err = pm.RedeemAcrossAssets(d, e9(3400), 0)
		return err
	})

	// b (1.25 on ETH) goes first, then e (1.3 on BTC).
	assert.Equal(t, e9(3400), res.DebtRedeemed)
	require.Len(t, res.Assets, 2)
	assert.Equal(t, "BTC", res.Assets[0].Asset)
	assert.Equal(t, e9(1000), res.Assets[0].DebtRedeemed)
	assert.Equal(t, "ETH", res.Assets[1].Asset)
	assert.Equal(t, e9(2400), res.Assets[1].DebtRedeemed)
	assert.Equal(t, StatusClosedByRedemption, f.trove("ETH", b).Status)
	assert.Equal(t, StatusClosedByRedemption, f.trove("BTC", e).Status)
	assert.Equal(t, StatusActive, f.trove("BTC", c).Status)
	assert.Equal(t, usdfBefore-e9(3400), f.wallet(d, ledger.DebtToken))
	f.checkInvariants()
}

func TestRedeemAcrossAssets_SkipsUnpricedAssets(t *testing.T) {
	f := newFixture(t, "ETH")
	d, b := user(4), user(2)
	f.open("ETH", d, e9(10000), e9(4000))
	f.open("ETH", b, e9(3000), e9(2400))
	f.mustExec(func(pm *ProtocolManager) error {
		return pm.RegisterAsset(admin, DefaultAssetParams("BTC", priceSource))
	})
	f.advance(week)

	var res *SweepResult
	f.mustExec(func(pm *ProtocolManager) error {
		var err error
		res, err = pm.RedeemAcrossAssets(d, e9(1000), 0)
		return err
	})
	require.Len(t, res.Assets, 1)
	assert.Equal(t, "ETH", res.Assets[0].Asset)
	assert.Equal(t, e9(1400), f.trove("ETH", b).Debt)
	f.checkInvariants()
}
