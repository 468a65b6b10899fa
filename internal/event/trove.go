package event

import (
	"fmt"

	"TroveLedger/internal/state"
)

// OpenTrove opens a trove with Coll collateral and Debt recorded debt.
type OpenTrove struct {
	Meta
	Owner     state.Identity `json:"owner"`
	Asset     string         `json:"asset"`
	Coll      uint64         `json:"coll"`
	Debt      uint64         `json:"debt"`
	UpperHint state.Identity `json:"upper_hint"`
	LowerHint state.Identity `json:"lower_hint"`
}

func (o *OpenTrove) EventType() EventType   { return EventTypeOpenTrove }
func (o *OpenTrove) AssetContext() *string { return assetRef(o.Asset) }

// AdjustAction selects the AdjustTrove operation.
type AdjustAction uint8

const (
	AdjustAddColl AdjustAction = iota + 1
	AdjustWithdrawColl
	AdjustWithdrawDebt
	AdjustRepayDebt
)

var adjustActionNames = map[AdjustAction]string{
	AdjustAddColl:      "add_coll",
	AdjustWithdrawColl: "withdraw_coll",
	AdjustWithdrawDebt: "withdraw_debt",
	AdjustRepayDebt:    "repay_debt",
}

func (a AdjustAction) String() string {
	if s, ok := adjustActionNames[a]; ok {
		return s
	}
	return "unknown"
}

func ParseAdjustAction(s string) (AdjustAction, error) {
	for a, name := range adjustActionNames {
		if name == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown adjust action: %q", s)
}

func (a AdjustAction) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *AdjustAction) UnmarshalText(b []byte) error {
	parsed, err := ParseAdjustAction(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AdjustTrove changes an active trove's collateral or debt by Amount.
type AdjustTrove struct {
	Meta
	Owner     state.Identity `json:"owner"`
	Asset     string         `json:"asset"`
	Action    AdjustAction   `json:"action"`
	Amount    uint64         `json:"amount"`
	UpperHint state.Identity `json:"upper_hint"`
	LowerHint state.Identity `json:"lower_hint"`
}

func (a *AdjustTrove) EventType() EventType   { return EventTypeAdjustTrove }
func (a *AdjustTrove) AssetContext() *string { return assetRef(a.Asset) }

// CloseTrove repays everything and returns the collateral.
type CloseTrove struct {
	Meta
	Owner state.Identity `json:"owner"`
	Asset string         `json:"asset"`
}

func (c *CloseTrove) EventType() EventType   { return EventTypeCloseTrove }
func (c *CloseTrove) AssetContext() *string { return assetRef(c.Asset) }

// ClaimCollateral releases surplus left by a liquidation or redemption.
type ClaimCollateral struct {
	Meta
	Owner state.Identity `json:"owner"`
	Asset string         `json:"asset"`
}

func (c *ClaimCollateral) EventType() EventType   { return EventTypeClaimCollateral }
func (c *ClaimCollateral) AssetContext() *string { return assetRef(c.Asset) }

// StabilityDeposit moves debt tokens into the stability pool.
type StabilityDeposit struct {
	Meta
	Depositor state.Identity `json:"depositor"`
	Amount    uint64         `json:"amount"`
}

func (s *StabilityDeposit) EventType() EventType   { return EventTypeStabilityDeposit }
func (s *StabilityDeposit) AssetContext() *string { return nil }
