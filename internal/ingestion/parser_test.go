package ingestion_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"TroveLedger/internal/event"
	"TroveLedger/internal/ingestion"
	"TroveLedger/internal/state"
)

const (
	owner  = "address:0x00000000000000000000000000000000000000000000000000000000000000b1"
	oracle = "contract:0x0c"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseOpenTrove(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":   "req-1",
		"sequence":     int64(7),
		"timestamp_us": int64(1700000000000000),
		"owner":        owner,
		"asset":        "ETH",
		"coll":         "1200.5",
		"debt":         "600",
		"upper_hint":   "",
		"lower_hint":   "address:0xb2",
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "OpenTrove")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ot, ok := evt.(*event.OpenTrove)
	if !ok {
		t.Fatalf("expected *event.OpenTrove, got %T", evt)
	}
	if ot.Coll != 1_200_500_000_000 {
		t.Errorf("coll: got %d, want 1_200_500_000_000", ot.Coll)
	}
	if ot.Debt != 600_000_000_000 {
		t.Errorf("debt: got %d, want 600_000_000_000", ot.Debt)
	}
	if ot.Owner.String() != owner {
		t.Errorf("owner: got %s, want %s", ot.Owner, owner)
	}
	if !ot.UpperHint.IsZero() {
		t.Errorf("upper hint: got %s, want zero", ot.UpperHint)
	}
	if ot.LowerHint.IsZero() {
		t.Error("lower hint: got zero")
	}
	if ot.IdempotencyKey() != "req-1" || ot.SourceSequence() != 7 {
		t.Errorf("meta: got key=%s seq=%d", ot.IdempotencyKey(), ot.SourceSequence())
	}
	if ot.EventTime().UnixMicro() != 1700000000000000 {
		t.Errorf("timestamp: got %d", ot.EventTime().UnixMicro())
	}
}

func TestParseAdjustTrove(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "req-2",
		"owner":      owner,
		"asset":      "ETH",
		"action":     "withdraw_debt",
		"amount":     "25",
	}

	evt, err := ingestion.ParseCommand("AdjustTrove", mustJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	at := evt.(*event.AdjustTrove)
	if at.Action != event.AdjustWithdrawDebt {
		t.Errorf("action: got %s, want withdraw_debt", at.Action)
	}
	if at.Amount != 25_000_000_000 {
		t.Errorf("amount: got %d", at.Amount)
	}

	payload["action"] = "borrow_more"
	if _, err := ingestion.ParseCommand("AdjustTrove", mustJSON(t, payload)); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestParseRegisterAsset(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "genesis:asset:ETH",
		"sender":     "address:0xad",
		"params": map[string]interface{}{
			"asset":                  "ETH",
			"oracle":                 oracle,
			"mcr":                    "1.1",
			"post_liquidation_ratio": "1.25",
			"liquidation_penalty":    "0.1",
			"gas_compensation_rate":  "0.005",
			"max_gas_compensation":   "2",
			"min_net_debt":           "50",
			"max_list_size":          1000,
			"borrowing_fee_floor":    "0.005",
			"max_borrowing_fee":      "0.05",
			"redemption_fee_floor":   "0.005",
		},
	}

	evt, err := ingestion.ParseCommand("RegisterAsset", mustJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	ra := evt.(*event.RegisterAsset)
	if ra.Params.MCR != 1_100_000_000 {
		t.Errorf("mcr: got %d", ra.Params.MCR)
	}
	if ra.Params.MaxListSize != 1000 {
		t.Errorf("max_list_size: got %d", ra.Params.MaxListSize)
	}
	if err := state.ValidateAssetParams(&ra.Params); err != nil {
		t.Errorf("params should validate: %v", err)
	}
	if ra.AssetContext() == nil || *ra.AssetContext() != "ETH" {
		t.Errorf("asset context: got %v", ra.AssetContext())
	}
}

func TestParsePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"source":         oracle,
		"asset":          "BTC",
		"price":          "64000.125",
		"price_sequence": int64(100),
		"timestamp_us":   int64(1700000000000000),
	}

	evt, err := ingestion.ParseCommand("PriceUpdate", mustJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	pu := evt.(*event.PriceUpdate)
	if pu.Price != 64_000_125_000_000 {
		t.Errorf("price: got %d", pu.Price)
	}
	if pu.IdempotencyKey() != "BTC:price:100" {
		t.Errorf("idempotency key: got %s", pu.IdempotencyKey())
	}

	payload["price"] = "0"
	if _, err := ingestion.ParseCommand("PriceUpdate", mustJSON(t, payload)); err == nil {
		t.Error("expected error for zero price")
	}
}

func TestParseLiquidate(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "liq-1",
		"liquidator": "address:0x11",
		"asset":      "ETH",
		"owners":     []string{owner, "contract:0xb3"},
		"batch":      true,
	}

	evt, err := ingestion.ParseCommand("Liquidate", mustJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	l := evt.(*event.Liquidate)
	if len(l.Owners) != 2 || !l.Batch {
		t.Errorf("got owners=%d batch=%v", len(l.Owners), l.Batch)
	}
	if l.Owners[1].Kind != state.KindContract {
		t.Errorf("second owner kind: got %s", l.Owners[1].Kind)
	}

	payload["owners"] = []string{}
	if _, err := ingestion.ParseCommand("Liquidate", mustJSON(t, payload)); err == nil {
		t.Error("expected error for empty owners")
	}
}

func TestParseRedeem(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":     "red-1",
		"redeemer":       owner,
		"asset":          "ETH",
		"amount":         "100",
		"max_iterations": 10,
		"partial_nicr":   "1.333333333",
	}

	evt, err := ingestion.ParseCommand("Redeem", mustJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	r := evt.(*event.Redeem)
	if r.PartialNICR != 1_333_333_333 || r.MaxIterations != 10 {
		t.Errorf("got partial_nicr=%d max_iterations=%d", r.PartialNICR, r.MaxIterations)
	}
	if !r.UpperHint.IsZero() || !r.LowerHint.IsZero() {
		t.Error("omitted hints should be zero")
	}

	across, err := ingestion.ParseCommand("RedeemAcrossAssets", mustJSON(t, map[string]interface{}{
		"request_id": "red-2",
		"redeemer":   owner,
		"amount":     "50",
	}))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if across.AssetContext() != nil {
		t.Error("sweep has no asset context")
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := []struct {
		name      string
		eventType string
		payload   string
		want      string
	}{
		{"unknown type", "TradeFill", `{}`, "unknown event type"},
		{"unknown field", "CloseTrove", `{"owner":"` + owner + `","asset":"ETH","size":1}`, "unknown field"},
		{"numeric amount", "StabilityDeposit", `{"depositor":"` + owner + `","amount":100}`, "decimal string"},
		{"too precise", "StabilityDeposit", `{"depositor":"` + owner + `","amount":"0.0000000001"}`, "9 decimal places"},
		{"negative", "StabilityDeposit", `{"depositor":"` + owner + `","amount":"-1"}`, "negative"},
		{"bad identity", "CloseTrove", `{"owner":"user:0x42","asset":"ETH"}`, "unknown kind"},
		{"missing kind", "ClaimCollateral", `{"owner":"0xb1","asset":"ETH"}`, "missing kind prefix"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ingestion.ParseCommand(tc.eventType, []byte(tc.payload))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
