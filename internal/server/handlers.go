package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"TroveLedger/internal/core"
	"TroveLedger/internal/ingestion"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/query"
	"TroveLedger/internal/state"

	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	maxCommandBytes = 1 << 20
	coreTimeout     = 5 * time.Second
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, errorBody{Error: fmt.Sprintf(format, args...)})
}

// writeQueryError maps read-side failures to HTTP statuses.
func (s *Server) writeQueryError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, query.ErrNotFound):
		writeError(w, http.StatusNotFound, "%v", err)
	case errors.Is(err, state.ErrInvalidAsset):
		writeError(w, http.StatusNotFound, "%v", err)
	case errors.Is(err, state.ErrPriceUnavailable):
		writeError(w, http.StatusConflict, "%v", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, core.ErrRunnerStopped):
		writeError(w, http.StatusServiceUnavailable, "%s: %v", op, err)
	default:
		s.logger.Error().Err(err).Str("op", op).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "%s failed", op)
	}
}

func pageSize(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultPageSize, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > maxPageSize {
		n = maxPageSize
	}
	return n, nil
}

func optionalInt64(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be an integer", name)
	}
	return &v, nil
}

// requiredOwner reads ?owner= and checks it parses as an identity. Owners
// carry a colon, which the gateway reserves for verbs in path segments.
func requiredOwner(r *http.Request) (string, error) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		return "", fmt.Errorf("owner is required")
	}
	if _, err := state.ParseIdentity(owner); err != nil {
		return "", fmt.Errorf("owner: %w", err)
	}
	return owner, nil
}

func (s *Server) queryReady(w http.ResponseWriter) bool {
	if s.deps.Query == nil {
		writeError(w, http.StatusServiceUnavailable, "query store not configured")
		return false
	}
	return true
}

// ---- read side (projections) ----

func (s *Server) getTrove(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if !s.queryReady(w) {
		return
	}
	owner, err := requiredOwner(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	t, err := s.deps.Query.GetTrove(r.Context(), params["asset"], owner)
	if err != nil {
		s.writeQueryError(w, "get trove", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) listTroves(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if !s.queryReady(w) {
		return
	}
	limit, err := pageSize(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	var after *decimal.Decimal
	if raw := r.URL.Query().Get("after_nicr"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after_nicr: %v", err)
			return
		}
		after = &d
	}
	troves, err := s.deps.Query.ListTroves(r.Context(), params["asset"], limit, after)
	if err != nil {
		s.writeQueryError(w, "list troves", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"troves": troves})
}

func (s *Server) getBalances(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !s.queryReady(w) {
		return
	}
	// No owner lists the system accounts.
	owner := r.URL.Query().Get("owner")
	if owner != "" {
		if _, err := state.ParseIdentity(owner); err != nil {
			writeError(w, http.StatusBadRequest, "owner: %v", err)
			return
		}
	}
	balances, err := s.deps.Query.GetBalances(r.Context(), owner)
	if err != nil {
		s.writeQueryError(w, "get balances", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"balances": balances})
}

func (s *Server) getLiquidations(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if !s.queryReady(w) {
		return
	}
	limit, err := pageSize(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	before, err := optionalInt64(r, "before_sequence")
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	liqs, err := s.deps.Query.GetLiquidations(r.Context(), params["asset"], limit, before)
	if err != nil {
		s.writeQueryError(w, "get liquidations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"liquidations": liqs})
}

func (s *Server) getRedemptions(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !s.queryReady(w) {
		return
	}
	owner, err := requiredOwner(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	limit, err := pageSize(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	before, err := optionalInt64(r, "before_sequence")
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	reds, err := s.deps.Query.GetRedemptions(r.Context(), owner, limit, before)
	if err != nil {
		s.writeQueryError(w, "get redemptions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"redemptions": reds})
}

func (s *Server) getJournals(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !s.queryReady(w) {
		return
	}
	owner, err := requiredOwner(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	limit, err := pageSize(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	after, err := optionalInt64(r, "after_sequence")
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	entries, err := s.deps.Query.GetJournalHistory(r.Context(), owner, limit, after)
	if err != nil {
		s.writeQueryError(w, "get journals", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"journals": entries})
}

func (s *Server) getCommand(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if !s.queryReady(w) {
		return
	}
	seq, err := strconv.ParseInt(params["seq"], 10, 64)
	if err != nil || seq <= 0 {
		writeError(w, http.StatusBadRequest, "seq must be a positive integer")
		return
	}
	cmd, err := s.deps.Query.GetCommand(r.Context(), seq)
	if err != nil {
		s.writeQueryError(w, "get command", err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// ---- write side ----

// SubmitResponse reports how the core handled a submitted command.
type SubmitResponse struct {
	Status       string `json:"status"` // applied, rejected, ignored
	Sequence     int64  `json:"sequence,omitempty"`
	StateHash    string `json:"state_hash,omitempty"`
	RejectReason string `json:"reject_reason,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (s *Server) countIngestReject(reason string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.IngestRejected.WithLabelValues("http", reason).Inc()
	}
}

// submitCommand runs one command synchronously on the core. A command the
// protocol rejects is still logged and answers 422 with its sequence.
func (s *Server) submitCommand(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if s.limiter != nil && !s.limiter.Allow() {
		s.countIngestReject("rate_limited")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: %v", err)
		return
	}
	if len(body) > maxCommandBytes {
		s.countIngestReject("too_large")
		writeError(w, http.StatusRequestEntityTooLarge, "command exceeds %d bytes", maxCommandBytes)
		return
	}

	evt, err := ingestion.ParseCommand(params["type"], body)
	if err != nil {
		s.countIngestReject("parse")
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), coreTimeout)
	defer cancel()

	var (
		resp      SubmitResponse
		processed error
	)
	err = s.deps.Core.Do(ctx, func(c *core.DeterministicCore) error {
		before := c.GetSequence()
		processed = c.ProcessEvent(evt)
		if c.GetSequence() == before {
			return nil
		}
		hash := c.GetStateHash()
		resp.Sequence = c.GetSequence()
		resp.StateHash = hex.EncodeToString(hash[:])
		return nil
	})
	if err != nil {
		s.writeQueryError(w, "submit", err)
		return
	}

	switch {
	case resp.Sequence != 0 && processed == nil:
		resp.Status = "applied"
		writeJSON(w, http.StatusOK, resp)
	case resp.Sequence != 0:
		resp.Status = "rejected"
		resp.RejectReason = core.RejectReason(processed)
		resp.Error = processed.Error()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case processed == nil:
		// Duplicate key or stale price.
		resp.Status = "ignored"
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(processed, core.ErrSequenceGap), errors.Is(processed, core.ErrOutOfOrder):
		s.countIngestReject("sequence")
		writeError(w, http.StatusConflict, "%v", processed)
	case errors.Is(processed, core.ErrMissingIdempotencyKey):
		s.countIngestReject("invalid")
		writeError(w, http.StatusBadRequest, "%v", processed)
	default:
		s.logger.Error().Err(processed).Str("event_type", params["type"]).Msg("command failed")
		writeError(w, http.StatusInternalServerError, "command failed")
	}
}

// ---- hints (read from core state) ----

// InsertHintResponse is a (prev, next) pair for a target NICR.
type InsertHintResponse struct {
	Asset     string `json:"asset"`
	NICR      string `json:"nicr"`
	UpperHint string `json:"upper_hint"`
	LowerHint string `json:"lower_hint"`
}

// RedemptionHintResponse carries everything a Redeem command needs.
type RedemptionHintResponse struct {
	Asset           string `json:"asset"`
	FirstHint       string `json:"first_hint"`
	PartialNICR     string `json:"partial_nicr"`
	TruncatedAmount string `json:"truncated_amount"`
	UpperHint       string `json:"upper_hint"`
	LowerHint       string `json:"lower_hint"`
}

func identityString(id state.Identity) string {
	if id.IsZero() {
		return ""
	}
	return id.String()
}

func (s *Server) view(ctx context.Context, fn func(pm *state.ProtocolManager) error) error {
	ctx, cancel := context.WithTimeout(ctx, coreTimeout)
	defer cancel()
	return s.deps.Core.Do(ctx, func(c *core.DeterministicCore) error {
		return c.View(fn)
	})
}

// insertHint finds the list position for a trove with the given coll and
// debt (or an explicit nicr).
func (s *Server) insertHint(w http.ResponseWriter, r *http.Request, params map[string]string) {
	q := r.URL.Query()
	var nicr uint64
	if raw := q.Get("nicr"); raw != "" {
		v, err := fpmath.ParseAmount(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "nicr: %v", err)
			return
		}
		nicr = v
	} else {
		coll, err := fpmath.ParseAmount(q.Get("coll"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "coll: %v", err)
			return
		}
		debt, err := fpmath.ParseAmount(q.Get("debt"))
		if err != nil || debt == 0 {
			writeError(w, http.StatusBadRequest, "debt must be a positive amount")
			return
		}
		nicr = fpmath.NominalICR(coll, debt)
	}

	asset := params["asset"]
	resp := InsertHintResponse{Asset: asset, NICR: fpmath.FormatAmount(nicr)}
	err := s.view(r.Context(), func(pm *state.ProtocolManager) error {
		inst, err := pm.Asset(asset)
		if err != nil {
			return err
		}
		prev, next, err := inst.Troves.List().FindInsertPosition(nicr, state.ZeroIdentity, state.ZeroIdentity)
		if err != nil {
			return err
		}
		resp.UpperHint, resp.LowerHint = identityString(prev), identityString(next)
		return nil
	})
	if err != nil {
		s.writeQueryError(w, "insert hint", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) redemptionHint(w http.ResponseWriter, r *http.Request, params map[string]string) {
	q := r.URL.Query()
	amt, err := fpmath.ParseAmount(q.Get("amount"))
	if err != nil || amt == 0 {
		writeError(w, http.StatusBadRequest, "amount must be a positive amount")
		return
	}
	maxIter := uint64(0)
	if raw := q.Get("max_iterations"); raw != "" {
		if maxIter, err = strconv.ParseUint(raw, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "max_iterations must be an integer")
			return
		}
	}

	asset := params["asset"]
	resp := RedemptionHintResponse{Asset: asset}
	err = s.view(r.Context(), func(pm *state.ProtocolManager) error {
		inst, err := pm.Asset(asset)
		if err != nil {
			return err
		}
		price, err := pm.Oracle().GetPrice(asset)
		if err != nil {
			return err
		}
		hints, err := inst.Redemptions.GetRedemptionHints(amt, price, maxIter)
		if err != nil {
			return err
		}
		resp.FirstHint = identityString(hints.FirstHint)
		resp.PartialNICR = fpmath.FormatAmount(hints.PartialNICR)
		resp.TruncatedAmount = fpmath.FormatAmount(hints.TruncatedAmount)
		if hints.PartialNICR == 0 {
			return nil
		}
		prev, next, err := inst.Troves.List().FindInsertPosition(hints.PartialNICR, hints.FirstHint, state.ZeroIdentity)
		if err != nil {
			return err
		}
		resp.UpperHint, resp.LowerHint = identityString(prev), identityString(next)
		return nil
	})
	if err != nil {
		s.writeQueryError(w, "redemption hint", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// SystemStatusResponse summarises one asset from committed core state.
type SystemStatusResponse struct {
	Asset          string `json:"asset"`
	Price          string `json:"price"`
	TCR            string `json:"tcr"`
	ActiveTroves   uint64 `json:"active_troves"`
	SystemColl     string `json:"system_coll"`
	SystemDebt     string `json:"system_debt"`
	BorrowingRate  string `json:"borrowing_rate"`
	RedemptionRate string `json:"redemption_rate"`
	Sequence       int64  `json:"sequence"`
}

func (s *Server) systemStatus(w http.ResponseWriter, r *http.Request, params map[string]string) {
	asset := params["asset"]
	resp := SystemStatusResponse{Asset: asset}

	ctx, cancel := context.WithTimeout(r.Context(), coreTimeout)
	defer cancel()
	err := s.deps.Core.Do(ctx, func(c *core.DeterministicCore) error {
		resp.Sequence = c.GetSequence()
		return c.View(func(pm *state.ProtocolManager) error {
			inst, err := pm.Asset(asset)
			if err != nil {
				return err
			}
			price, err := pm.Oracle().GetPrice(asset)
			if err != nil {
				return err
			}
			count, err := inst.Troves.ActiveTroveCount()
			if err != nil {
				return err
			}
			borrow, err := inst.Fees.BorrowingRate()
			if err != nil {
				return err
			}
			redeem, err := inst.Fees.RedemptionRate()
			if err != nil {
				return err
			}
			resp.Price = fpmath.FormatAmount(price)
			resp.TCR = fpmath.FormatAmount(inst.Troves.GetTCR(price))
			resp.ActiveTroves = count
			resp.SystemColl = fpmath.FormatAmount(inst.Troves.GetEntireSystemColl())
			resp.SystemDebt = fpmath.FormatAmount(inst.Troves.GetEntireSystemDebt())
			resp.BorrowingRate = fpmath.FormatAmount(borrow)
			resp.RedemptionRate = fpmath.FormatAmount(redeem)
			return nil
		})
	})
	if err != nil {
		s.writeQueryError(w, "system status", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---- admin ----

func (s *Server) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !s.queryReady(w) {
		return
	}
	report, err := s.deps.Query.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeQueryError(w, "verify integrity", err)
		return
	}
	status := http.StatusOK
	if !report.IsHealthy {
		status = http.StatusConflict
	}
	writeJSON(w, status, report)
}

func (s *Server) rebuildProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.deps.Rebuild == nil {
		writeError(w, http.StatusServiceUnavailable, "rebuild not configured")
		return
	}
	replayed, err := s.deps.Rebuild(r.Context())
	if err != nil {
		s.writeQueryError(w, "rebuild projections", err)
		return
	}
	s.logger.Info().Int64("replayed", replayed).Msg("projections rebuilt")
	writeJSON(w, http.StatusOK, map[string]interface{}{"replayed": replayed})
}
