package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"

	"TroveLedger/internal/event"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed command. The shell validates and converts before anything reaches
// the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	return ParseCommand(eventType, raw.Data)
}

// ParseCommand decodes the wire form of one command. Amounts are decimal
// strings in whole units ("1200.5"); identities are "address:0x.." or
// "contract:0x..". Unknown fields are rejected.
func ParseCommand(eventType string, data []byte) (event.Event, error) {
	evt, err := parseCommand(eventType, data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", eventType, err)
	}
	return evt, nil
}

func parseCommand(eventType string, data []byte) (event.Event, error) {
	switch eventType {
	case "ProtocolInit":
		return decode(data, func(j *protocolInitJSON) (event.Event, error) {
			return &event.ProtocolInit{Meta: j.meta(), Admin: j.Admin}, nil
		})
	case "RegisterAsset":
		return decode(data, func(j *assetParamsCmdJSON) (event.Event, error) {
			return &event.RegisterAsset{Meta: j.meta(), Sender: j.Sender, Params: j.Params.params()}, nil
		})
	case "UpdateAssetParams":
		return decode(data, func(j *assetParamsCmdJSON) (event.Event, error) {
			return &event.UpdateAssetParams{Meta: j.meta(), Sender: j.Sender, Params: j.Params.params()}, nil
		})
	case "PriceUpdate":
		return decode(data, func(j *priceUpdateJSON) (event.Event, error) {
			if j.Price == 0 {
				return nil, fmt.Errorf("price must be positive")
			}
			return &event.PriceUpdate{
				Meta:          j.meta(),
				Source:        j.Source,
				Asset:         j.Asset,
				Price:         uint64(j.Price),
				PriceSequence: j.PriceSequence,
			}, nil
		})
	case "OpenTrove":
		return decode(data, func(j *openTroveJSON) (event.Event, error) {
			return &event.OpenTrove{
				Meta:      j.meta(),
				Owner:     j.Owner,
				Asset:     j.Asset,
				Coll:      uint64(j.Coll),
				Debt:      uint64(j.Debt),
				UpperHint: j.UpperHint.id(),
				LowerHint: j.LowerHint.id(),
			}, nil
		})
	case "AdjustTrove":
		return decode(data, func(j *adjustTroveJSON) (event.Event, error) {
			return &event.AdjustTrove{
				Meta:      j.meta(),
				Owner:     j.Owner,
				Asset:     j.Asset,
				Action:    j.Action,
				Amount:    uint64(j.Amount),
				UpperHint: j.UpperHint.id(),
				LowerHint: j.LowerHint.id(),
			}, nil
		})
	case "CloseTrove":
		return decode(data, func(j *ownerAssetJSON) (event.Event, error) {
			return &event.CloseTrove{Meta: j.meta(), Owner: j.Owner, Asset: j.Asset}, nil
		})
	case "ClaimCollateral":
		return decode(data, func(j *ownerAssetJSON) (event.Event, error) {
			return &event.ClaimCollateral{Meta: j.meta(), Owner: j.Owner, Asset: j.Asset}, nil
		})
	case "StabilityDeposit":
		return decode(data, func(j *stabilityDepositJSON) (event.Event, error) {
			return &event.StabilityDeposit{Meta: j.meta(), Depositor: j.Depositor, Amount: uint64(j.Amount)}, nil
		})
	case "Liquidate":
		return decode(data, func(j *liquidateJSON) (event.Event, error) {
			if len(j.Owners) == 0 {
				return nil, fmt.Errorf("owners is required")
			}
			return &event.Liquidate{
				Meta:       j.meta(),
				Liquidator: j.Liquidator,
				Asset:      j.Asset,
				Owners:     j.Owners,
				Batch:      j.Batch,
			}, nil
		})
	case "LiquidateTroves":
		return decode(data, func(j *liquidateTrovesJSON) (event.Event, error) {
			return &event.LiquidateTroves{Meta: j.meta(), Liquidator: j.Liquidator, Asset: j.Asset, N: j.N}, nil
		})
	case "Redeem":
		return decode(data, func(j *redeemJSON) (event.Event, error) {
			return &event.Redeem{
				Meta:          j.meta(),
				Redeemer:      j.Redeemer,
				Asset:         j.Asset,
				Amount:        uint64(j.Amount),
				MaxIterations: j.MaxIterations,
				PartialNICR:   uint64(j.PartialNICR),
				UpperHint:     j.UpperHint.id(),
				LowerHint:     j.LowerHint.id(),
			}, nil
		})
	case "RedeemAcrossAssets":
		return decode(data, func(j *redeemAcrossJSON) (event.Event, error) {
			return &event.RedeemAcrossAssets{
				Meta:          j.meta(),
				Redeemer:      j.Redeemer,
				Amount:        uint64(j.Amount),
				MaxIterations: j.MaxIterations,
			}, nil
		})
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

func decode[T any](data []byte, build func(*T) (event.Event, error)) (event.Event, error) {
	var j T
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&j); err != nil {
		return nil, err
	}
	return build(&j)
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

// amount is a Precision-scaled value sent as a decimal string.
type amount uint64

func (a *amount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("amount must be a decimal string: %w", err)
	}
	v, err := fpmath.ParseAmount(s)
	if err != nil {
		return err
	}
	*a = amount(v)
	return nil
}

// hint is an optional identity; empty means no hint.
type hint struct{ v state.Identity }

func (h *hint) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		h.v = state.ZeroIdentity
		return nil
	}
	return h.v.UnmarshalText(b)
}

func (h hint) id() state.Identity { return h.v }

type metaJSON struct {
	RequestID   string `json:"request_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (m metaJSON) meta() event.Meta {
	return event.Meta{RequestID: m.RequestID, Sequence: m.Sequence, TimestampUs: m.TimestampUs}
}

type protocolInitJSON struct {
	metaJSON
	Admin state.Identity `json:"admin"`
}

type assetParamsJSON struct {
	Asset                string         `json:"asset"`
	Oracle               state.Identity `json:"oracle"`
	MCR                  amount         `json:"mcr"`
	PostLiquidationRatio amount         `json:"post_liquidation_ratio"`
	LiquidationPenalty   amount         `json:"liquidation_penalty"`
	GasCompensationRate  amount         `json:"gas_compensation_rate"`
	MaxGasCompensation   amount         `json:"max_gas_compensation"`
	MinNetDebt           amount         `json:"min_net_debt"`
	MaxListSize          uint64         `json:"max_list_size"`
	BorrowingFeeFloor    amount         `json:"borrowing_fee_floor"`
	MaxBorrowingFee      amount         `json:"max_borrowing_fee"`
	RedemptionFeeFloor   amount         `json:"redemption_fee_floor"`
}

func (p assetParamsJSON) params() state.AssetParams {
	return state.AssetParams{
		Asset:                p.Asset,
		Oracle:               p.Oracle,
		MCR:                  uint64(p.MCR),
		PostLiquidationRatio: uint64(p.PostLiquidationRatio),
		LiquidationPenalty:   uint64(p.LiquidationPenalty),
		GasCompensationRate:  uint64(p.GasCompensationRate),
		MaxGasCompensation:   uint64(p.MaxGasCompensation),
		MinNetDebt:           uint64(p.MinNetDebt),
		MaxListSize:          p.MaxListSize,
		BorrowingFeeFloor:    uint64(p.BorrowingFeeFloor),
		MaxBorrowingFee:      uint64(p.MaxBorrowingFee),
		RedemptionFeeFloor:   uint64(p.RedemptionFeeFloor),
	}
}

type assetParamsCmdJSON struct {
	metaJSON
	Sender state.Identity  `json:"sender"`
	Params assetParamsJSON `json:"params"`
}

type priceUpdateJSON struct {
	metaJSON
	Source        state.Identity `json:"source"`
	Asset         string         `json:"asset"`
	Price         amount         `json:"price"`
	PriceSequence int64          `json:"price_sequence"`
}

type openTroveJSON struct {
	metaJSON
	Owner     state.Identity `json:"owner"`
	Asset     string         `json:"asset"`
	Coll      amount         `json:"coll"`
	Debt      amount         `json:"debt"`
	UpperHint hint           `json:"upper_hint"`
	LowerHint hint           `json:"lower_hint"`
}

type adjustTroveJSON struct {
	metaJSON
	Owner     state.Identity     `json:"owner"`
	Asset     string             `json:"asset"`
	Action    event.AdjustAction `json:"action"`
	Amount    amount             `json:"amount"`
	UpperHint hint               `json:"upper_hint"`
	LowerHint hint               `json:"lower_hint"`
}

type ownerAssetJSON struct {
	metaJSON
	Owner state.Identity `json:"owner"`
	Asset string         `json:"asset"`
}

type stabilityDepositJSON struct {
	metaJSON
	Depositor state.Identity `json:"depositor"`
	Amount    amount         `json:"amount"`
}

type liquidateJSON struct {
	metaJSON
	Liquidator state.Identity   `json:"liquidator"`
	Asset      string           `json:"asset"`
	Owners     []state.Identity `json:"owners"`
	Batch      bool             `json:"batch"`
}

type liquidateTrovesJSON struct {
	metaJSON
	Liquidator state.Identity `json:"liquidator"`
	Asset      string         `json:"asset"`
	N          uint64         `json:"n"`
}

type redeemJSON struct {
	metaJSON
	Redeemer      state.Identity `json:"redeemer"`
	Asset         string         `json:"asset"`
	Amount        amount         `json:"amount"`
	MaxIterations uint64         `json:"max_iterations"`
	PartialNICR   amount         `json:"partial_nicr"`
	UpperHint     hint           `json:"upper_hint"`
	LowerHint     hint           `json:"lower_hint"`
}

type redeemAcrossJSON struct {
	metaJSON
	Redeemer      state.Identity `json:"redeemer"`
	Amount        amount         `json:"amount"`
	MaxIterations uint64         `json:"max_iterations"`
}
