package state

import (
	"testing"

	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenTrove_ICRAndListPosition(t *testing.T) {
	f := newFixture(t, "ETH")
	a := user(1)

	res := f.open("ETH", a, e9(1200), e9(600))
	assert.Equal(t, uint64(2_000_000_000), res.ICR)
	assert.Equal(t, e9(600), res.Debt)

	list := f.asset("ETH").Troves.List()
	first, _ := list.First()
	last, _ := list.Last()
	size, _ := list.Size()
	assert.Equal(t, a, first)
	assert.Equal(t, a, last)
	assert.Equal(t, uint64(1), size)

	// Floor fee on the first borrow; the rest lands in the owner's wallet.
	assert.Equal(t, fpmath.Mul(e9(600), DefaultFeeFloor), res.BorrowFee)
	assert.Equal(t, e9(600)-res.BorrowFee, f.wallet(a, ledger.DebtToken))
	f.checkInvariants()

	err := f.exec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("ETH")
		_, err := inst.Borrower.OpenTrove(a, e9(1200), e9(600), ZeroIdentity, ZeroIdentity)
		return err
	})
	assert.ErrorIs(t, err, ErrTroveAlreadyActive)
}

func TestOpenTrove_Rejections(t *testing.T) {
	f := newFixture(t, "ETH")
	cases := []struct {
		name       string
		asset      string
		owner      Identity
		coll, debt uint64
		want       error
	}{
		{"below mcr", "ETH", user(1), e9(700), e9(600), ErrBelowMinimumCollateralRatio},
		{"below min debt", "ETH", user(1), e9(1200), e9(400), ErrBelowMinimumDebt},
		{"zero collateral", "ETH", user(1), 0, e9(600), ErrInvalidAmount},
		{"zero owner", "ETH", ZeroIdentity, e9(1200), e9(600), ErrInvalidIdentity},
		{"unknown asset", "DOGE", user(1), e9(1200), e9(600), ErrInvalidAsset},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.exec(func(pm *ProtocolManager) error {
				inst, err := pm.Asset(tc.asset)
				if err != nil {
					return err
				}
				_, err = inst.Borrower.OpenTrove(tc.owner, tc.coll, tc.debt, ZeroIdentity, ZeroIdentity)
				return err
			})
			assert.ErrorIs(t, err, tc.want)
		})
	}
	f.checkInvariants()
}

func TestOpenTrove_PriceUnavailable(t *testing.T) {
	f := newFixture(t)
	f.mustExec(func(pm *ProtocolManager) error {
		return pm.RegisterAsset(admin, DefaultAssetParams("BTC", priceSource))
	})
	err := f.exec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("BTC")
		_, err := inst.Borrower.OpenTrove(user(1), e9(1200), e9(600), ZeroIdentity, ZeroIdentity)
		return err
	})
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestWithdrawColl(t *testing.T) {
	f := newFixture(t, "ETH")
	a := user(1)
	f.open("ETH", a, e9(1200), e9(600))

	var res *AdjustResult
	f.mustExec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("ETH")
		var err error
		res, err = inst.Borrower.WithdrawColl(a, e9(300), ZeroIdentity, ZeroIdentity)
		return err
	})
	assert.Equal(t, uint64(1_500_000_000), res.ICR)
	assert.Equal(t, e9(300), f.wallet(a, "ETH"))

	// 900 -> 700 collateral against 600 debt would be ~1.167.
	err := f.exec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("ETH")
		_, err := inst.Borrower.WithdrawColl(a, e9(200), ZeroIdentity, ZeroIdentity)
		return err
	})
	assert.ErrorIs(t, err, ErrBelowMinimumCollateralRatio)
	assert.Equal(t, e9(900), f.trove("ETH", a).Coll)
	f.checkInvariants()
}

func TestAdjustTrove(t *testing.T) {
	f := newFixture(t, "ETH")
	a, b := user(1), user(2)
	f.open("ETH", a, e9(1200), e9(600))
	f.open("ETH", b, e9(5000), e9(1000))

	f.mustExec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("ETH")
		if _, err := inst.Borrower.AddColl(a, e9(300), ZeroIdentity, ZeroIdentity); err != nil {
			return err
		}
		_, err := inst.Borrower.WithdrawDebtToken(a, e9(300), ZeroIdentity, ZeroIdentity)
		return err
	})
	tr := f.trove("ETH", a)
	assert.Equal(t, e9(1500), tr.Coll)
	assert.Equal(t, e9(900), tr.Debt)

	f.mustExec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("ETH")
		_, err := inst.Borrower.RepayDebtToken(a, e9(200), ZeroIdentity, ZeroIdentity)
		return err
	})
	assert.Equal(t, e9(700), f.trove("ETH", a).Debt)

	err := f.exec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("ETH")
		_, err := inst.Borrower.RepayDebtToken(a, e9(300), ZeroIdentity, ZeroIdentity)
		return err
	})
	assert.ErrorIs(t, err, ErrBelowMinimumDebt)

	err = f.exec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("ETH")
		_, err := inst.Borrower.WithdrawDebtToken(a, e9(700), ZeroIdentity, ZeroIdentity)
		return err
	})
	assert.ErrorIs(t, err, ErrBelowMinimumCollateralRatio)
	f.checkInvariants()
}

func TestCloseTrove(t *testing.T) {
	f := newFixture(t, "ETH")
	a, b := user(1), user(2)
	f.open("ETH", a, e9(1200), e9(600))
	f.open("ETH", b, e9(5000), e9(2000))

	// a is short its own borrow fee; b covers it.
	f.mustExec(func(pm *ProtocolManager) error {
		return pm.Journal().Transfer(walletKey(a, ledger.DebtToken), walletKey(b, ledger.DebtToken), e9(10), ledger.JournalTypeDebtRepay)
	})

	f.mustExec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("ETH")
		_, err := inst.Borrower.CloseTrove(a)
		return err
	})
	tr := f.trove("ETH", a)
	assert.Equal(t, StatusClosedByOwner, tr.Status)
	assert.Zero(t, tr.Coll)
	assert.Equal(t, e9(1200), f.wallet(a, "ETH"))
	f.checkInvariants()

	// b is now the only trove. It cannot cover its full debt, but the
	// last-trove rule is what rejects the close.
	walletBefore := f.wallet(b, ledger.DebtToken)
	err := f.exec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("ETH")
		_, err := inst.Borrower.CloseTrove(b)
		return err
	})
	assert.ErrorIs(t, err, ErrLastTrove)
	assert.NotErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, walletBefore, f.wallet(b, ledger.DebtToken))
	assert.Equal(t, StatusActive, f.trove("ETH", b).Status)

	// A closed trove can be reopened.
	f.open("ETH", a, e9(1200), e9(600))
	assert.Equal(t, StatusActive, f.trove("ETH", a).Status)
	f.checkInvariants()
}

func TestCloseTrove_InsufficientBalance(t *testing.T) {
	f := newFixture(t, "ETH")
	a, b := user(1), user(2)
	f.open("ETH", a, e9(1200), e9(600))
	f.open("ETH", b, e9(5000), e9(2000))

	err := f.exec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("ETH")
		_, err := inst.Borrower.CloseTrove(a)
		return err
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, StatusActive, f.trove("ETH", a).Status)
}

func TestTroveNotActive(t *testing.T) {
	f := newFixture(t, "ETH")
	err := f.exec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("ETH")
		_, err := inst.Borrower.AddColl(user(9), e9(1), ZeroIdentity, ZeroIdentity)
		return err
	})
	assert.ErrorIs(t, err, ErrTroveNotActive)

	err = f.exec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("ETH")
		_, err := inst.Borrower.ClaimCollateral(user(9))
		return err
	})
	assert.ErrorIs(t, err, ErrNothingToClaim)
}

func TestListFull(t *testing.T) {
	f := newFixture(t)
	params := DefaultAssetParams("ETH", priceSource)
	params.MaxListSize = 1
	f.mustExec(func(pm *ProtocolManager) error {
		if err := pm.RegisterAsset(admin, params); err != nil {
			return err
		}
		return pm.PostPrice(priceSource, "ETH", fpmath.Precision)
	})
	f.open("ETH", user(1), e9(1200), e9(600))

	err := f.exec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("ETH")
		_, err := inst.Borrower.OpenTrove(user(2), e9(1200), e9(600), ZeroIdentity, ZeroIdentity)
		return err
	})
	require.ErrorIs(t, err, ErrListFull)
	f.checkInvariants()
}

func TestBorrowerOperations_AmountsBeyondLedgerRange(t *testing.T) {
	f := newFixture(t, "ETH")
	a, b := user(1), user(2)
	f.open("ETH", b, e9(5000), e9(2000))

	err := f.exec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("ETH")
		_, err := inst.Borrower.OpenTrove(a, ledger.MaxAmount+1, e9(600), ZeroIdentity, ZeroIdentity)
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, StatusNonExistent, f.trove("ETH", a).Status)

	// Each deposit fits, the resulting collateral does not.
	err = f.exec(func(pm *ProtocolManager) error {
		inst, _ := pm.Asset("ETH")
		_, err := inst.Borrower.AddColl(b, ledger.MaxAmount-e9(1000), ZeroIdentity, ZeroIdentity)
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, e9(5000), f.trove("ETH", b).Coll)
	f.checkInvariants()
}
