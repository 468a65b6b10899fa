package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/observability"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a projection row does not exist.
var ErrNotFound = errors.New("not found")

// QueryService provides read-only access to projection tables and the event
// log. It never touches core state.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

func (qs *QueryService) observe(endpoint string, start time.Time, err error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// GetTrove returns the projected trove of owner on asset.
func (qs *QueryService) GetTrove(ctx context.Context, asset, owner string) (_ *TroveResponse, err error) {
	defer func(start time.Time) { qs.observe("trove", start, err) }(time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	t := &TroveResponse{Asset: asset, Owner: owner, AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT status, coll, debt, stake, nicr, last_sequence
		FROM projections.troves
		WHERE asset = $1 AND owner = $2
	`, asset, owner).Scan(&t.Status, &t.Coll, &t.Debt, &t.Stake, &t.NICR, &t.LastSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("trove %s/%s: %w", asset, owner, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTroves returns the active troves of asset, riskiest (lowest NICR)
// first. afterNICR pages from the last row of the previous page.
func (qs *QueryService) ListTroves(
	ctx context.Context,
	asset string,
	limit int,
	afterNICR *decimal.Decimal,
) (_ []TroveResponse, err error) {
	defer func(start time.Time) { qs.observe("troves", start, err) }(time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT owner, status, coll, debt, stake, nicr, last_sequence
		FROM projections.troves
		WHERE asset = $1 AND status = 'active'
	`
	args := []interface{}{asset}
	argIdx := 2

	if afterNICR != nil {
		query += fmt.Sprintf(" AND nicr > $%d::NUMERIC", argIdx)
		args = append(args, afterNICR.String())
		argIdx++
	}

	query += " ORDER BY nicr ASC, owner ASC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var troves []TroveResponse
	for rows.Next() {
		t := TroveResponse{Asset: asset, AsOfSequence: asOfSeq}
		if err := rows.Scan(&t.Owner, &t.Status, &t.Coll, &t.Debt, &t.Stake, &t.NICR, &t.LastSequence); err != nil {
			return nil, err
		}
		troves = append(troves, t)
	}
	return troves, rows.Err()
}

// GetBalances returns every ledger account of owner. An empty owner returns
// the system accounts.
func (qs *QueryService) GetBalances(ctx context.Context, owner string) (_ []BalanceResponse, err error) {
	defer func(start time.Time) { qs.observe("balances", start, err) }(time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	prefix := "system:%"
	if owner != "" {
		prefix = "user:" + owner + ":%"
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, asset, balance, last_sequence
		FROM projections.balances
		WHERE account_path LIKE $1 AND balance <> 0
		ORDER BY account_path, asset
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []BalanceResponse
	for rows.Next() {
		b := BalanceResponse{AsOfSequence: asOfSeq}
		if err := rows.Scan(&b.AccountPath, &b.Asset, &b.Balance, &b.LastSequence); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// GetLiquidations returns liquidation history for asset, newest first.
// beforeSequence pages backwards.
func (qs *QueryService) GetLiquidations(
	ctx context.Context,
	asset string,
	limit int,
	beforeSequence *int64,
) (_ []LiquidationResponse, err error) {
	defer func(start time.Time) { qs.observe("liquidations", start, err) }(time.Now())

	query := `
		SELECT sequence, owner, state, icr, coll, debt, debt_offset, debt_redistributed, coll_surplus, timestamp
		FROM projections.liquidation_history
		WHERE asset = $1
	`
	args := []interface{}{asset}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, owner"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []LiquidationResponse
	for rows.Next() {
		r := LiquidationResponse{Asset: asset}
		if err := rows.Scan(
			&r.Sequence, &r.Owner, &r.State, &r.ICR, &r.Coll, &r.Debt,
			&r.DebtOffset, &r.DebtRedistributed, &r.CollSurplus, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetRedemptions returns the redemptions that drew from owner's troves,
// newest first.
func (qs *QueryService) GetRedemptions(
	ctx context.Context,
	owner string,
	limit int,
	beforeSequence *int64,
) (_ []RedemptionResponse, err error) {
	defer func(start time.Time) { qs.observe("redemptions", start, err) }(time.Now())

	query := `
		SELECT sequence, asset, debt_redeemed, coll_drawn, closed, timestamp
		FROM projections.redemption_history
		WHERE owner = $1
	`
	args := []interface{}{owner}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, asset"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RedemptionResponse
	for rows.Next() {
		r := RedemptionResponse{Owner: owner}
		if err := rows.Scan(&r.Sequence, &r.Asset, &r.DebtRedeemed, &r.CollDrawn, &r.Closed, &r.Timestamp); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetJournalHistory returns journal entries touching owner's accounts with
// pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	owner string,
	limit int,
	afterSequence *int64,
) (_ []JournalHistoryEntry, err error) {
	defer func(start time.Time) { qs.observe("journal", start, err) }(time.Now())

	accountPrefix := "user:" + owner + ":%"

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var (
			e      JournalHistoryEntry
			amount int64
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Amount = fpmath.ToDecimal(uint64(amount))
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetCommand returns one logged command by sequence.
func (qs *QueryService) GetCommand(ctx context.Context, sequence int64) (_ *CommandResponse, err error) {
	defer func(start time.Time) { qs.observe("command", start, err) }(time.Now())

	var (
		c      = &CommandResponse{Sequence: sequence}
		asset  sql.NullString
		reason sql.NullString
		hash   []byte
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT event_type, idempotency_key, asset, reject_reason, state_hash, timestamp
		FROM event_log.events
		WHERE sequence = $1
	`, sequence).Scan(&c.EventType, &c.IdempotencyKey, &asset, &reason, &hash, &c.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("command %d: %w", sequence, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if asset.Valid {
		c.Asset = &asset.String
	}
	if reason.Valid {
		c.RejectReason = &reason.String
	}
	c.StateHash = hex.EncodeToString(hash)
	return c, nil
}

// --- Admin APIs ---

// VerifyIntegrity checks sequence continuity, the hash chain and that every
// asset's projected balances sum to zero.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (_ *IntegrityReport, err error) {
	defer func(start time.Time) { qs.observe("integrity", start, err) }(time.Now())

	report := &IntegrityReport{}

	var last sql.NullInt64
	if err := qs.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&last); err != nil {
		return nil, err
	}
	report.LastSequence = last.Int64

	gapRows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 1 AND e2.sequence IS NULL
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	report.SequenceGaps, err = scanSequences(gapRows)
	if err != nil {
		return nil, err
	}

	breakRows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	report.HashChainBreaks, err = scanSequences(breakRows)
	if err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset
		HAVING SUM(balance) <> 0
		ORDER BY asset
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedAsset
		if err := balanceRows.Scan(&u.Asset, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.SequenceGaps) == 0 &&
		len(report.HashChainBreaks) == 0 &&
		len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func scanSequences(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var seqs []int64
	for rows.Next() {
		var s int64
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		seqs = append(seqs, s)
	}
	return seqs, rows.Err()
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
