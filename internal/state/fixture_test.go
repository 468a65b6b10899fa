package state

import (
	"testing"

	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	admin       = Address(common.HexToHash("0xad"))
	priceSource = Contract(common.HexToHash("0x0c"))
	liquidator  = Address(common.HexToHash("0x11"))
)

func user(n byte) Identity {
	return Address(common.BytesToHash([]byte{0xee, n}))
}

func e9(v uint64) uint64 { return v * fpmath.Precision }

// fixture runs every operation the way the engine does: in a cache over the
// committed store, written back only on success.
type fixture struct {
	t   *testing.T
	kv  *store.MemStore
	now uint64
	seq int64
}

func newFixture(t *testing.T, assets ...string) *fixture {
	t.Helper()
	f := &fixture{t: t, kv: store.NewMemStore(), now: 1_700_000_000}
	f.mustExec(func(pm *ProtocolManager) error {
		if err := pm.InitGenesis(admin); err != nil {
			return err
		}
		for _, a := range assets {
			if err := pm.RegisterAsset(admin, DefaultAssetParams(a, priceSource)); err != nil {
				return err
			}
			if err := pm.PostPrice(priceSource, a, fpmath.Precision); err != nil {
				return err
			}
		}
		return nil
	})
	return f
}

func (f *fixture) exec(fn func(pm *ProtocolManager) error) error {
	f.t.Helper()
	f.seq++
	cache := store.NewCacheStore(f.kv)
	journal := ledger.NewJournalGenerator(ledger.NewBalanceTracker(cache), "test", f.seq, int64(f.now))
	if err := fn(NewProtocolManager(cache, journal, f.now)); err != nil {
		cache.Discard()
		return err
	}
	require.NoError(f.t, journal.Batch().Validate())
	require.NoError(f.t, cache.Write())
	return nil
}

func (f *fixture) mustExec(fn func(pm *ProtocolManager) error) {
	f.t.Helper()
	require.NoError(f.t, f.exec(fn))
}

// view reads committed state.
func (f *fixture) view() *ProtocolManager {
	journal := ledger.NewJournalGenerator(ledger.NewBalanceTracker(f.kv), "view", 0, int64(f.now))
	return NewProtocolManager(f.kv, journal, f.now)
}

func (f *fixture) asset(sym string) *AssetInstance {
	f.t.Helper()
	inst, err := f.view().Asset(sym)
	require.NoError(f.t, err)
	return inst
}

func (f *fixture) advance(seconds uint64) { f.now += seconds }

func (f *fixture) setPrice(sym string, price uint64) {
	f.mustExec(func(pm *ProtocolManager) error { return pm.PostPrice(priceSource, sym, price) })
}

func (f *fixture) open(sym string, owner Identity, coll, debt uint64) *AdjustResult {
	f.t.Helper()
	var res *AdjustResult
	f.mustExec(func(pm *ProtocolManager) error {
		inst, err := pm.Asset(sym)
		if err != nil {
			return err
		}
		res, err = inst.Borrower.OpenTrove(owner, coll, debt, ZeroIdentity, ZeroIdentity)
		return err
	})
	return res
}

func (f *fixture) provide(depositor Identity, amount uint64) {
	f.mustExec(func(pm *ProtocolManager) error { return pm.StabilityPool().Provide(depositor, amount) })
}

func (f *fixture) liquidate(sym string, owner Identity) (*LiquidationResult, error) {
	var res *LiquidationResult
	err := f.exec(func(pm *ProtocolManager) error {
		inst, err := pm.Asset(sym)
		if err != nil {
			return err
		}
		res, err = inst.Liquidations.Liquidate(owner, liquidator)
		return err
	})
	return res, err
}

func (f *fixture) redeem(sym string, req RedemptionRequest) (*RedemptionResult, error) {
	var res *RedemptionResult
	err := f.exec(func(pm *ProtocolManager) error {
		inst, err := pm.Asset(sym)
		if err != nil {
			return err
		}
		res, err = inst.Redemptions.RedeemCollateral(req)
		return err
	})
	return res, err
}

func (f *fixture) trove(sym string, owner Identity) *Trove {
	f.t.Helper()
	tr, err := f.asset(sym).Troves.GetTrove(owner)
	require.NoError(f.t, err)
	return tr
}

func (f *fixture) entire(sym string, owner Identity) EntireDebtAndColl {
	f.t.Helper()
	e, err := f.asset(sym).Troves.GetEntireDebtAndColl(owner)
	require.NoError(f.t, err)
	return e
}

// icr is the owner's current ICR, pending rewards included, at the posted price.
func (f *fixture) icr(sym string, owner Identity) uint64 {
	f.t.Helper()
	pm := f.view()
	price, err := pm.Oracle().GetPrice(sym)
	require.NoError(f.t, err)
	inst, err := pm.Asset(sym)
	require.NoError(f.t, err)
	icr, err := inst.Troves.GetCurrentICR(owner, price)
	require.NoError(f.t, err)
	return icr
}

func (f *fixture) wallet(owner Identity, asset string) uint64 {
	return ledger.NewBalanceTracker(f.kv).Available(walletKey(owner, asset))
}

// checkInvariants asserts the ledger and every asset's bookkeeping are sound.
func (f *fixture) checkInvariants() {
	f.t.Helper()
	pm := f.view()
	v := ledger.NewInvariantValidator(pm.Journal().Tracker())
	require.NoError(f.t, v.ValidateGlobalBalance())
	assets, err := pm.Assets()
	require.NoError(f.t, err)
	for _, a := range assets {
		inst, err := pm.Asset(a)
		require.NoError(f.t, err)
		require.NoError(f.t, inst.Troves.CheckInvariants(), a)
		require.NoError(f.t, v.ValidateInternalNonNegative(a))
		require.NoError(f.t, v.ValidateInternalNonNegative(ledger.DebtAsset(a)))
	}
	require.NoError(f.t, v.ValidateInternalNonNegative(ledger.DebtToken))
}
