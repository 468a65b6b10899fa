package event

import "TroveLedger/internal/state"

// Liquidate liquidates the listed troves of one asset. With a single owner
// and Batch unset an ineligible trove fails the command; otherwise
// ineligible troves are skipped.
type Liquidate struct {
	Meta
	Liquidator state.Identity   `json:"liquidator"`
	Asset      string           `json:"asset"`
	Owners     []state.Identity `json:"owners"`
	Batch      bool             `json:"batch"`
}

func (l *Liquidate) EventType() EventType   { return EventTypeLiquidate }
func (l *Liquidate) AssetContext() *string { return assetRef(l.Asset) }

// LiquidateTroves liquidates up to N troves from the bottom of the list.
type LiquidateTroves struct {
	Meta
	Liquidator state.Identity `json:"liquidator"`
	Asset      string         `json:"asset"`
	N          uint64         `json:"n"`
}

func (l *LiquidateTroves) EventType() EventType   { return EventTypeLiquidateTroves }
func (l *LiquidateTroves) AssetContext() *string { return assetRef(l.Asset) }
