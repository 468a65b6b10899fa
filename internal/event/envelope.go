package event

import (
	"fmt"
	"time"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeProtocolInit
	EventTypeRegisterAsset
	EventTypeUpdateAssetParams
	EventTypePriceUpdate
	EventTypeOpenTrove
	EventTypeAdjustTrove
	EventTypeCloseTrove
	EventTypeClaimCollateral
	EventTypeStabilityDeposit
	EventTypeLiquidate
	EventTypeLiquidateTroves
	EventTypeRedeem
	EventTypeRedeemAcrossAssets
)

var eventTypeNames = map[EventType]string{
	EventTypeProtocolInit:       "ProtocolInit",
	EventTypeRegisterAsset:      "RegisterAsset",
	EventTypeUpdateAssetParams:  "UpdateAssetParams",
	EventTypePriceUpdate:        "PriceUpdate",
	EventTypeOpenTrove:          "OpenTrove",
	EventTypeAdjustTrove:        "AdjustTrove",
	EventTypeCloseTrove:         "CloseTrove",
	EventTypeClaimCollateral:    "ClaimCollateral",
	EventTypeStabilityDeposit:   "StabilityDeposit",
	EventTypeLiquidate:          "Liquidate",
	EventTypeLiquidateTroves:    "LiquidateTroves",
	EventTypeRedeem:             "Redeem",
	EventTypeRedeemAcrossAssets: "RedeemAcrossAssets",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) (EventType, error) {
	for et, name := range eventTypeNames {
		if name == s {
			return et, nil
		}
	}
	return EventTypeUnknown, fmt.Errorf("unknown event type: %s", s)
}

// EventEnvelope wraps every command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	// Collateral asset the command touches (nil for global commands)
	Asset *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded command
	Payload []byte

	// Non-empty when the protocol rejected the command. A rejected command
	// is logged with its sequence but changes no protocol state.
	RejectReason string

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all commands implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// AssetContext returns the collateral asset (nil for global commands)
	AssetContext() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// EventTime is the versioned command time. The core never reads the
	// wall clock.
	EventTime() time.Time
}

// Meta carries the fields every command shares.
type Meta struct {
	RequestID   string `json:"request_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (m *Meta) IdempotencyKey() string { return m.RequestID }
func (m *Meta) SourceSequence() int64  { return m.Sequence }
func (m *Meta) EventTime() time.Time   { return time.UnixMicro(m.TimestampUs).UTC() }

func assetRef(asset string) *string {
	if asset == "" {
		return nil
	}
	s := asset
	return &s
}
