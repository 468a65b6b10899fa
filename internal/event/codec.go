package event

import (
	"encoding/json"
	"fmt"
)

// New returns an empty command of type t.
func New(t EventType) (Event, error) {
	switch t {
	case EventTypeProtocolInit:
		return &ProtocolInit{}, nil
	case EventTypeRegisterAsset:
		return &RegisterAsset{}, nil
	case EventTypeUpdateAssetParams:
		return &UpdateAssetParams{}, nil
	case EventTypePriceUpdate:
		return &PriceUpdate{}, nil
	case EventTypeOpenTrove:
		return &OpenTrove{}, nil
	case EventTypeAdjustTrove:
		return &AdjustTrove{}, nil
	case EventTypeCloseTrove:
		return &CloseTrove{}, nil
	case EventTypeClaimCollateral:
		return &ClaimCollateral{}, nil
	case EventTypeStabilityDeposit:
		return &StabilityDeposit{}, nil
	case EventTypeLiquidate:
		return &Liquidate{}, nil
	case EventTypeLiquidateTroves:
		return &LiquidateTroves{}, nil
	case EventTypeRedeem:
		return &Redeem{}, nil
	case EventTypeRedeemAcrossAssets:
		return &RedeemAcrossAssets{}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %d", t)
	}
}

// Encode serializes a command for the event log.
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// Decode rebuilds a command from its logged type and payload.
func Decode(t EventType, payload []byte) (Event, error) {
	evt, err := New(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return evt, nil
}
