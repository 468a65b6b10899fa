package state

import (
	"errors"
	"fmt"
	"strings"

	"TroveLedger/internal/ledger"
	"TroveLedger/internal/store"
)

// AssetInstance bundles the components of one registered collateral asset.
type AssetInstance struct {
	Params       AssetParams
	Troves       *TroveManager
	Fees         *FeeDecayModel
	Borrower     *BorrowerOperations
	Liquidations *LiquidationEngine
	Redemptions  *RedemptionEngine
}

// ProtocolManager is the multi-asset entry point. It is built fresh for each
// command over that command's store and journal; now is the command time in
// unix seconds.
type ProtocolManager struct {
	db      kvDB
	journal *ledger.JournalGenerator
	oracle  *PriceFeed
	sp      *LedgerStabilityPool
	surplus *LedgerCollSurplusPool
	token   *DebtToken
	now     uint64
}

func NewProtocolManager(kv store.KVStore, journal *ledger.JournalGenerator, now uint64) *ProtocolManager {
	db := kvDB{kv: kv}
	return &ProtocolManager{
		db:      db,
		journal: journal,
		oracle:  NewPriceFeed(db),
		sp:      NewLedgerStabilityPool(journal),
		surplus: NewLedgerCollSurplusPool(journal),
		token:   NewDebtToken(journal),
		now:     now,
	}
}

func (pm *ProtocolManager) Oracle() *PriceFeed                  { return pm.oracle }
func (pm *ProtocolManager) StabilityPool() *LedgerStabilityPool { return pm.sp }
func (pm *ProtocolManager) CollSurplus() *LedgerCollSurplusPool { return pm.surplus }
func (pm *ProtocolManager) DebtToken() *DebtToken               { return pm.token }
func (pm *ProtocolManager) Journal() *ledger.JournalGenerator   { return pm.journal }

// InitGenesis records the protocol owner. It is a no-op when the same owner
// is already set.
func (pm *ProtocolManager) InitGenesis(admin Identity) error {
	if admin.IsZero() {
		return ErrInvalidIdentity
	}
	current, err := pm.Admin()
	if err != nil {
		return err
	}
	if !current.IsZero() && current != admin {
		return fmt.Errorf("%w: genesis owner already set to %s", ErrNotOwner, current)
	}
	return pm.db.put([]byte(keyAdmin), &admin)
}

// Admin returns the protocol owner, ZeroIdentity before genesis.
func (pm *ProtocolManager) Admin() (Identity, error) {
	var admin Identity
	_, err := pm.db.get([]byte(keyAdmin), &admin)
	return admin, err
}

func (pm *ProtocolManager) requireOwner(sender Identity) error {
	admin, err := pm.Admin()
	if err != nil {
		return err
	}
	if admin.IsZero() || sender != admin {
		return fmt.Errorf("%w: %s", ErrNotOwner, sender)
	}
	return nil
}

// RegisterAsset adds a collateral asset. Owner only.
func (pm *ProtocolManager) RegisterAsset(sender Identity, params AssetParams) error {
	if err := pm.requireOwner(sender); err != nil {
		return err
	}
	if err := ValidateAssetParams(&params); err != nil {
		return err
	}
	if params.Asset == ledger.DebtToken || strings.ContainsAny(params.Asset, "/:.") {
		return fmt.Errorf("%w: reserved or malformed symbol %q", ErrInvalidParams, params.Asset)
	}
	exists, err := pm.db.kv.Has(assetKey(params.Asset))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrAssetAlreadyRegistered, params.Asset)
	}
	return pm.storeParams(params)
}

// UpdateAssetParams replaces the parameters of a registered asset. Owner only.
func (pm *ProtocolManager) UpdateAssetParams(sender Identity, params AssetParams) error {
	if err := pm.requireOwner(sender); err != nil {
		return err
	}
	if _, err := pm.AssetParams(params.Asset); err != nil {
		return err
	}
	if err := ValidateAssetParams(&params); err != nil {
		return fmt.Errorf("invalid params for %s: %w", params.Asset, err)
	}
	return pm.storeParams(params)
}

func (pm *ProtocolManager) storeParams(params AssetParams) error {
	if err := pm.db.put(assetKey(params.Asset), &params); err != nil {
		return err
	}
	return NewSortedList(pm.db, params.Asset, nil).SetMaxSize(params.MaxListSize)
}

func (pm *ProtocolManager) AssetParams(asset string) (AssetParams, error) {
	var p AssetParams
	ok, err := pm.db.get(assetKey(asset), &p)
	if err != nil {
		return AssetParams{}, err
	}
	if !ok {
		return AssetParams{}, fmt.Errorf("%w: %s", ErrInvalidAsset, asset)
	}
	return p, nil
}

// Assets lists registered symbols in byte order.
func (pm *ProtocolManager) Assets() ([]string, error) {
	var out []string
	err := pm.db.kv.Iterate([]byte(prefixAsset), func(k, _ []byte) bool {
		out = append(out, strings.TrimPrefix(string(k), prefixAsset))
		return true
	})
	return out, err
}

// Asset assembles the components of a registered asset.
func (pm *ProtocolManager) Asset(asset string) (*AssetInstance, error) {
	params, err := pm.AssetParams(asset)
	if err != nil {
		return nil, err
	}
	pools := NewPools(asset, pm.journal)
	tm := NewTroveManager(pm.db, params, pools)
	fees := NewFeeDecayModel(tm.rewards, params, pm.now)
	return &AssetInstance{
		Params:       params,
		Troves:       tm,
		Fees:         fees,
		Borrower:     NewBorrowerOperations(tm, fees, pm.oracle, pm.token, pm.surplus),
		Liquidations: NewLiquidationEngine(tm, pm.oracle, pm.sp, pm.surplus),
		Redemptions:  NewRedemptionEngine(tm, fees, pm.oracle, pm.token, pm.surplus),
	}, nil
}

// PostPrice stores a price from the asset's configured oracle identity.
func (pm *ProtocolManager) PostPrice(source Identity, asset string, price uint64) error {
	params, err := pm.AssetParams(asset)
	if err != nil {
		return err
	}
	if source != params.Oracle {
		return fmt.Errorf("%w: %s is not the price source for %s", ErrNotAuthorized, source, asset)
	}
	if price == 0 {
		return fmt.Errorf("%w: price must be > 0", ErrInvalidAmount)
	}
	return pm.oracle.setPrice(asset, price, pm.now)
}

// SweepResult aggregates a cross-asset redemption.
type SweepResult struct {
	DebtRedeemed uint64
	Assets       []*RedemptionResult
}

// RedeemAcrossAssets redeems amount across every registered asset. Each step
// redeems from whichever asset's next eligible trove has the lowest current
// ICR; fees and base rates settle per asset. Assets without a price are
// skipped.
func (pm *ProtocolManager) RedeemAcrossAssets(redeemer Identity, amount, maxIterations uint64) (*SweepResult, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if bal := pm.token.BalanceOf(redeemer); bal < amount {
		return nil, fmt.Errorf("%w: redeemer holds %d, requested %d", ErrInsufficientBalance, bal, amount)
	}
	assets, err := pm.Assets()
	if err != nil {
		return nil, err
	}

	var sessions []*redemptionSession
	for _, asset := range assets {
		inst, err := pm.Asset(asset)
		if err != nil {
			return nil, err
		}
		s, err := inst.Redemptions.begin()
		if errors.Is(err, ErrPriceUnavailable) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	remaining := amount
	for iter := uint64(0); remaining > 0 && (maxIterations == 0 || iter < maxIterations); iter++ {
		var best *redemptionSession
		var bestICR uint64
		for _, s := range sessions {
			if s.done {
				continue
			}
			id, icr, err := s.peekICR()
			if err != nil {
				return nil, err
			}
			if id.IsZero() {
				s.done = true
				continue
			}
			if best == nil || icr < bestICR {
				best, bestICR = s, icr
			}
		}
		if best == nil {
			break
		}

		tr, done, err := best.step(remaining, 0, ZeroIdentity, ZeroIdentity)
		if err != nil {
			return nil, err
		}
		if tr != nil {
			remaining -= tr.DebtRedeemed
		}
		best.done = done
	}

	res := &SweepResult{}
	for _, s := range sessions {
		if s.result.DebtRedeemed == 0 {
			continue
		}
		r, err := s.finish(redeemer)
		if err != nil {
			return nil, err
		}
		res.Assets = append(res.Assets, r)
		res.DebtRedeemed += r.DebtRedeemed
	}
	if res.DebtRedeemed == 0 {
		return nil, ErrNothingToRedeem
	}
	return res, nil
}
