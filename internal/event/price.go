package event

import (
	"fmt"

	"TroveLedger/internal/state"
)

// PriceUpdate posts a collateral price from the asset's oracle identity.
// Gaps in PriceSequence are tolerated; stale updates are ignored.
type PriceUpdate struct {
	Meta
	Source        state.Identity `json:"source"`
	Asset         string         `json:"asset"`
	Price         uint64         `json:"price"`
	PriceSequence int64          `json:"price_sequence"`
}

func (p *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.Asset, p.PriceSequence)
}

func (p *PriceUpdate) EventType() EventType   { return EventTypePriceUpdate }
func (p *PriceUpdate) AssetContext() *string { return assetRef(p.Asset) }
func (p *PriceUpdate) SourceSequence() int64 { return p.PriceSequence }
