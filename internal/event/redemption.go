package event

import "TroveLedger/internal/state"

// Redeem swaps debt tokens for one asset's collateral.
type Redeem struct {
	Meta
	Redeemer      state.Identity `json:"redeemer"`
	Asset         string         `json:"asset"`
	Amount        uint64         `json:"amount"`
	MaxIterations uint64         `json:"max_iterations"`
	PartialNICR   uint64         `json:"partial_nicr"`
	UpperHint     state.Identity `json:"upper_hint"`
	LowerHint     state.Identity `json:"lower_hint"`
}

func (r *Redeem) EventType() EventType   { return EventTypeRedeem }
func (r *Redeem) AssetContext() *string { return assetRef(r.Asset) }

// RedeemAcrossAssets redeems against every asset, lowest ICR first.
type RedeemAcrossAssets struct {
	Meta
	Redeemer      state.Identity `json:"redeemer"`
	Amount        uint64         `json:"amount"`
	MaxIterations uint64         `json:"max_iterations"`
}

func (r *RedeemAcrossAssets) EventType() EventType   { return EventTypeRedeemAcrossAssets }
func (r *RedeemAcrossAssets) AssetContext() *string { return nil }
