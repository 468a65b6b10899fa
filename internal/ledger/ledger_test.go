package ledger_test

import (
	"testing"

	"TroveLedger/internal/ledger"
	"TroveLedger/internal/store"

	"github.com/google/uuid"
)

const alice = "address:0x00000000000000000000000000000000000000000000000000000000000000a1"

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	key := ledger.NewUserAccountKey(alice, ledger.SubTypeWallet, ledger.DebtToken)

	path := key.AccountPath()
	expected := "user:" + alice + ":wallet:USDF"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_SystemPath(t *testing.T) {
	key := ledger.NewSystemAccountKey(ledger.SubTypeActivePool, ledger.DebtAsset("ETH"))

	path := key.AccountPath()
	if path != "system:active_pool:ETH.debt" {
		t.Errorf("got %q, want %q", path, "system:active_pool:ETH.debt")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeCustody, "ETH")

	path := key.AccountPath()
	if path != "external:custody:ETH" {
		t.Errorf("got %q, want %q", path, "external:custody:ETH")
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	keys := []ledger.AccountKey{
		ledger.NewUserAccountKey(alice, ledger.SubTypeCollSurplus, "ETH"),
		ledger.NewSystemAccountKey(ledger.SubTypeStabilityPool, ledger.DebtToken),
		ledger.NewExternalAccountKey(ledger.SubTypeIssuance, ledger.DebtAsset("BTC")),
	}
	for _, k := range keys {
		got, err := ledger.ParseAccountPath(k.AccountPath())
		if err != nil {
			t.Fatalf("parse %s: %v", k.AccountPath(), err)
		}
		if got != k {
			t.Errorf("got %+v, want %+v", got, k)
		}
	}

	if _, err := ledger.ParseAccountPath("system:bogus:ETH"); err == nil {
		t.Error("expected error for unknown sub-type")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker(store.NewMemStore())

	balance := bt.GetBalance(ledger.NewUserAccountKey(alice, ledger.SubTypeWallet, ledger.DebtToken))
	if balance != 0 {
		t.Errorf("initial balance should be 0, got %d", balance)
	}
}

func TestBalanceTracker_ApplyBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker(store.NewMemStore())
	batchID := uuid.New()
	pool := ledger.NewSystemAccountKey(ledger.SubTypeActivePool, "ETH")
	custody := ledger.NewExternalAccountKey(ledger.SubTypeCustody, "ETH")

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  pool,
				CreditAccount: custody,
				Asset:         "ETH",
				Amount:        500_000,
			},
		},
	}

	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}

	if bt.GetBalance(pool) != 500_000 {
		t.Errorf("expected 500_000 after batch apply")
	}
	if bt.GetBalance(custody) != -500_000 {
		t.Errorf("expected -500_000 on custody")
	}
}

func TestBatch_RejectsBadJournals(t *testing.T) {
	batchID := uuid.New()
	pool := ledger.NewSystemAccountKey(ledger.SubTypeActivePool, "ETH")
	custody := ledger.NewExternalAccountKey(ledger.SubTypeCustody, "ETH")
	usdf := ledger.NewSystemAccountKey(ledger.SubTypeFees, ledger.DebtToken)

	cases := map[string]ledger.Journal{
		"zero amount":  {BatchID: batchID, DebitAccount: pool, CreditAccount: custody, Asset: "ETH"},
		"self":         {BatchID: batchID, DebitAccount: pool, CreditAccount: pool, Asset: "ETH", Amount: 1},
		"wrong batch":  {BatchID: uuid.New(), DebitAccount: pool, CreditAccount: custody, Asset: "ETH", Amount: 1},
		"cross assets": {BatchID: batchID, DebitAccount: usdf, CreditAccount: custody, Asset: "ETH", Amount: 1},
	}
	for name, j := range cases {
		b := &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{j}}
		if err := b.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

// ============================================================================
// Test: JournalGenerator + InvariantValidator
// ============================================================================

func TestJournalGenerator_DeterministicIDs(t *testing.T) {
	build := func() *ledger.Batch {
		bt := ledger.NewBalanceTracker(store.NewMemStore())
		gen := ledger.NewJournalGenerator(bt, "cmd-1", 7, 1_000)
		pool := ledger.NewSystemAccountKey(ledger.SubTypeActivePool, "ETH")
		custody := ledger.NewExternalAccountKey(ledger.SubTypeCustody, "ETH")
		if err := gen.Transfer(pool, custody, 100, ledger.JournalTypeCollDeposit); err != nil {
			t.Fatalf("transfer: %v", err)
		}
		if err := gen.Transfer(custody, pool, 40, ledger.JournalTypeCollWithdraw); err != nil {
			t.Fatalf("transfer: %v", err)
		}
		return gen.Batch()
	}

	a, b := build(), build()
	if a.BatchID != b.BatchID {
		t.Error("batch IDs differ across identical runs")
	}
	for i := range a.Journals {
		if a.Journals[i].JournalID != b.Journals[i].JournalID {
			t.Errorf("journal %d ID differs across identical runs", i)
		}
	}
	if a.Journals[0].JournalID == a.Journals[1].JournalID {
		t.Error("journal IDs within a batch must be unique")
	}
}

func TestJournalGenerator_ZeroAmountIsNoop(t *testing.T) {
	bt := ledger.NewBalanceTracker(store.NewMemStore())
	gen := ledger.NewJournalGenerator(bt, "cmd", 1, 0)
	pool := ledger.NewSystemAccountKey(ledger.SubTypeActivePool, "ETH")
	custody := ledger.NewExternalAccountKey(ledger.SubTypeCustody, "ETH")

	if err := gen.Transfer(pool, custody, 0, ledger.JournalTypeCollDeposit); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if len(gen.Batch().Journals) != 0 {
		t.Error("zero transfer should not produce a journal")
	}
}

func TestInvariantValidator_GlobalZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker(store.NewMemStore())
	gen := ledger.NewJournalGenerator(bt, "cmd", 1, 0)
	v := ledger.NewInvariantValidator(bt)

	wallet := ledger.NewUserAccountKey(alice, ledger.SubTypeWallet, ledger.DebtToken)
	issuance := ledger.NewExternalAccountKey(ledger.SubTypeIssuance, ledger.DebtToken)
	fees := ledger.NewSystemAccountKey(ledger.SubTypeFees, ledger.DebtToken)

	if err := gen.Transfer(wallet, issuance, 1_000, ledger.JournalTypeDebtIssue); err != nil {
		t.Fatal(err)
	}
	if err := gen.Transfer(fees, issuance, 5, ledger.JournalTypeBorrowFee); err != nil {
		t.Fatal(err)
	}

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("ledger should be zero-sum: %v", err)
	}
	if err := v.ValidateInternalNonNegative(ledger.DebtToken); err != nil {
		t.Errorf("no internal account should be negative: %v", err)
	}

	// Overdraw the wallet.
	if err := gen.Transfer(issuance, wallet, 2_000, ledger.JournalTypeDebtRepay); err != nil {
		t.Fatal(err)
	}
	if err := v.ValidateInternalNonNegative(ledger.DebtToken); err == nil {
		t.Error("expected overdrawn wallet to be reported")
	}
}
