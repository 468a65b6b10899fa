package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/query"
	"TroveLedger/internal/state"
	"TroveLedger/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin    = state.Address(common.HexToHash("0xad"))
	oracle   = state.Contract(common.HexToHash("0x0c"))
	borrower = state.Address(common.HexToHash("0xb1"))
	other    = state.Address(common.HexToHash("0xb2"))
)

func e9(v uint64) uint64 { return v * fpmath.Precision }

// fakeQuerier answers from canned values and records its arguments.
type fakeQuerier struct {
	trove     *query.TroveResponse
	afterNICR *decimal.Decimal
	limit     int
	report    *query.IntegrityReport
}

func (f *fakeQuerier) GetTrove(_ context.Context, asset, owner string) (*query.TroveResponse, error) {
	if f.trove == nil || f.trove.Asset != asset || f.trove.Owner != owner {
		return nil, fmt.Errorf("trove %s/%s: %w", asset, owner, query.ErrNotFound)
	}
	return f.trove, nil
}

func (f *fakeQuerier) ListTroves(_ context.Context, _ string, limit int, after *decimal.Decimal) ([]query.TroveResponse, error) {
	f.limit, f.afterNICR = limit, after
	return nil, nil
}

func (f *fakeQuerier) GetBalances(context.Context, string) ([]query.BalanceResponse, error) {
	return nil, nil
}

func (f *fakeQuerier) GetLiquidations(context.Context, string, int, *int64) ([]query.LiquidationResponse, error) {
	return nil, nil
}

func (f *fakeQuerier) GetRedemptions(context.Context, string, int, *int64) ([]query.RedemptionResponse, error) {
	return nil, nil
}

func (f *fakeQuerier) GetJournalHistory(context.Context, string, int, *int64) ([]query.JournalHistoryEntry, error) {
	return nil, nil
}

func (f *fakeQuerier) GetCommand(_ context.Context, seq int64) (*query.CommandResponse, error) {
	return nil, fmt.Errorf("command %d: %w", seq, query.ErrNotFound)
}

func (f *fakeQuerier) VerifyIntegrity(context.Context) (*query.IntegrityReport, error) {
	return f.report, nil
}

type harness struct {
	handler http.Handler
	metrics *observability.Metrics
	health  *observability.HealthChecker
	query   *fakeQuerier
}

// newHarness runs a genesis (ETH registered, price 1, one trove for other)
// on a fresh in-memory core and serves it.
func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	c, err := core.NewDeterministicCore(store.NewMemStore(), nil, nil, nil, metrics, core.DefaultConfig())
	require.NoError(t, err)

	clock := time.Unix(1_700_000_000, 0)
	meta := func(key string, seq int64) event.Meta {
		clock = clock.Add(time.Minute)
		return event.Meta{RequestID: key, Sequence: seq, TimestampUs: clock.UnixMicro()}
	}
	for _, cmd := range []event.Event{
		&event.ProtocolInit{Meta: meta("init", 0), Admin: admin},
		&event.RegisterAsset{Meta: meta("asset", 1), Sender: admin, Params: state.DefaultAssetParams("ETH", oracle)},
		&event.PriceUpdate{Meta: meta("price-1", 0), Source: oracle, Asset: "ETH", Price: fpmath.Precision, PriceSequence: 1},
		&event.OpenTrove{Meta: meta("other-open", 0), Owner: other, Asset: "ETH", Coll: e9(1200), Debt: e9(900)},
	} {
		require.NoError(t, c.ProcessEvent(cmd))
	}

	runner := core.NewRunner(c, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = runner.Run(ctx, nil) }()
	t.Cleanup(cancel)

	h := &harness{
		metrics: metrics,
		health:  observability.NewHealthChecker(),
		query:   &fakeQuerier{report: &query.IntegrityReport{IsHealthy: true}},
	}
	deps := Deps{
		Core:    runner,
		Query:   h.query,
		Health:  h.health,
		Metrics: metrics,
		Logger:  zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv := NewServer("127.0.0.1:0", "127.0.0.1:0", deps)
	h.handler, err = srv.Handler()
	require.NoError(t, err)
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func openTroveBody(requestID string, seq int64, coll, debt string) string {
	return fmt.Sprintf(`{"request_id":%q,"sequence":%d,"timestamp_us":1700001000000000,`+
		`"owner":%q,"asset":"ETH","coll":%q,"debt":%q,"upper_hint":"","lower_hint":""}`,
		requestID, seq, borrower.String(), coll, debt)
}

func TestSubmitCommand_Outcomes(t *testing.T) {
	h := newHarness(t, nil)

	code, body := h.do(t, "POST", "/v1/commands/OpenTrove", openTroveBody("open-1", 1, "1200", "600"))
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "applied", body["status"])
	assert.Equal(t, float64(5), body["sequence"])
	assert.Len(t, body["state_hash"], 64)

	// Same key again: dropped as a duplicate.
	code, body = h.do(t, "POST", "/v1/commands/OpenTrove", openTroveBody("open-1", 1, "1200", "600"))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ignored", body["status"])
	assert.Nil(t, body["sequence"])

	// New key, trove already open: logged as a rejection.
	code, body = h.do(t, "POST", "/v1/commands/OpenTrove", openTroveBody("open-2", 2, "1200", "600"))
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "rejected", body["status"])
	assert.Equal(t, float64(6), body["sequence"])
	assert.Equal(t, "trove_already_active", body["reject_reason"])

	// Partition sequence skips ahead.
	code, _ = h.do(t, "POST", "/v1/commands/OpenTrove", openTroveBody("open-3", 9, "1200", "600"))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IngestRejected.WithLabelValues("http", "sequence")))
}

func TestSubmitCommand_ParseErrors(t *testing.T) {
	h := newHarness(t, nil)

	code, body := h.do(t, "POST", "/v1/commands/OpenTrove", `{"request_id":"x","coll":1200}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "parse OpenTrove")

	code, _ = h.do(t, "POST", "/v1/commands/Teleport", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.IngestRejected.WithLabelValues("http", "parse")))
}

func TestSubmitCommand_RateLimited(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.CommandRate = 0.001
		d.CommandBurst = 1
	})

	code, _ := h.do(t, "POST", "/v1/commands/OpenTrove", openTroveBody("open-1", 1, "1200", "600"))
	require.Equal(t, http.StatusOK, code)
	code, _ = h.do(t, "POST", "/v1/commands/OpenTrove", openTroveBody("open-2", 2, "1200", "600"))
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IngestRejected.WithLabelValues("http", "rate_limited")))
}

func TestHints(t *testing.T) {
	h := newHarness(t, nil)

	// NICR 3 ranks above the only trove (NICR 1.33): insert at the head.
	code, body := h.do(t, "GET", "/v1/hints/ETH/insert?coll=3000&debt=1000", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "3", body["nicr"])
	assert.Equal(t, "", body["upper_hint"])
	assert.Equal(t, other.String(), body["lower_hint"])

	code, body = h.do(t, "GET", "/v1/hints/ETH/insert?coll=3000", "")
	assert.Equal(t, http.StatusBadRequest, code, body)

	code, body = h.do(t, "GET", "/v1/hints/ETH/redemption?amount=100&max_iterations=10", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, other.String(), body["first_hint"])

	code, _ = h.do(t, "GET", "/v1/hints/BTC/insert?nicr=2", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSystemStatus(t *testing.T) {
	h := newHarness(t, nil)

	code, body := h.do(t, "GET", "/v1/system/ETH", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "1", body["price"])
	assert.Equal(t, float64(1), body["active_troves"])
	assert.Equal(t, float64(4), body["sequence"])

	code, _ = h.do(t, "GET", "/v1/system/DOGE", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestQueryRoutes(t *testing.T) {
	h := newHarness(t, nil)
	h.query.trove = &query.TroveResponse{Asset: "ETH", Owner: borrower.String(), Status: "active"}

	code, body := h.do(t, "GET", "/v1/troves/ETH?owner="+borrower.String(), "")
	require.Equal(t, http.StatusOK, code, body)

	code, _ = h.do(t, "GET", "/v1/troves/ETH?owner="+other.String(), "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = h.do(t, "GET", "/v1/troves/ETH", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, "GET", "/v1/troves/ETH?owner=user:0x01", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, "GET", "/v1/troves/ETH/list?limit=9999&after_nicr=1.5", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, maxPageSize, h.query.limit)
	require.NotNil(t, h.query.afterNICR)
	assert.Equal(t, "1.5", h.query.afterNICR.String())

	code, _ = h.do(t, "GET", "/v1/troves/ETH/list?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, "GET", "/v1/balances", "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = h.do(t, "GET", "/v1/journals?owner="+borrower.String()+"&after_sequence=abc", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, "GET", "/v1/commands/42", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdminRoutes(t *testing.T) {
	rebuilt := false
	h := newHarness(t, func(d *Deps) {
		d.Rebuild = func(context.Context) (int64, error) {
			rebuilt = true
			return 4, nil
		}
	})

	code, _ := h.do(t, "GET", "/v1/admin/integrity", "")
	assert.Equal(t, http.StatusOK, code)

	h.query.report = &query.IntegrityReport{IsHealthy: false, SequenceGaps: []int64{3}}
	code, body := h.do(t, "GET", "/v1/admin/integrity", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, false, body["is_healthy"])

	code, body = h.do(t, "POST", "/v1/admin/rebuild", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, rebuilt)
	assert.Equal(t, float64(4), body["replayed"])
}

func TestWithoutQueryStore(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Query = nil })

	code, _ := h.do(t, "GET", "/v1/balances", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = h.do(t, "POST", "/v1/admin/rebuild", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	// Hints read core state and keep working.
	code, _ = h.do(t, "GET", "/v1/hints/ETH/insert?nicr=2", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t, nil)

	code, _ := h.do(t, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, code)

	code, body := h.do(t, "GET", "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "recovering", body["status"])

	h.health.SetReady(true)
	code, _ = h.do(t, "GET", "/readyz", "")
	assert.Equal(t, http.StatusOK, code)
}
