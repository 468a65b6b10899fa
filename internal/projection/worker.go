package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"TroveLedger/internal/core"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/state"

	"github.com/rs/zerolog"
)

const workerID = "main"

// ProjectionWorker maintains the read models from core outputs.
// The projection channel is non-blocking with drop. If projections fall
// behind they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64

	events   EventSource
	rebuilds chan rebuildRequest
	stopped  chan struct{}
}

type rebuildRequest struct {
	ctx  context.Context
	done chan rebuildResult
}

type rebuildResult struct {
	replayed int64
	err      error
}

// ErrWorkerStopped is returned by Rebuild once Run has exited.
var ErrWorkerStopped = errors.New("projection: worker stopped")

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
		rebuilds:  make(chan rebuildRequest),
		stopped:   make(chan struct{}),
	}
}

// WithRebuild enables Rebuild, replaying from events.
func (pw *ProjectionWorker) WithRebuild(events EventSource) *ProjectionWorker {
	pw.events = events
	return pw
}

// Rebuild runs RebuildProjections on the worker goroutine, so live updates
// pause while the tables are replaced. Returns the number of replayed
// commands.
func (pw *ProjectionWorker) Rebuild(ctx context.Context) (int64, error) {
	if pw.events == nil {
		return 0, errors.New("projection: rebuild source not configured")
	}
	req := rebuildRequest{ctx: ctx, done: make(chan rebuildResult, 1)}
	select {
	case pw.rebuilds <- req:
	case <-pw.stopped:
		return 0, ErrWorkerStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case res := <-req.done:
		return res.replayed, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Run applies outputs until ctx is cancelled or the input is closed. Outputs
// at or below the stored watermark are skipped.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	defer close(pw.stopped)
	seq, err := Watermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.lastSeq = seq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			seq := output.Envelope.Sequence
			if seq <= pw.lastSeq {
				continue
			}
			if seq != pw.lastSeq+1 {
				pw.logger.Warn().Int64("expected", pw.lastSeq+1).Int64("seq", seq).
					Msg("projection gap, outputs were dropped; rebuild to recover")
			}
			if err := pw.apply(ctx, output); err != nil {
				// Projections are eventually consistent and can be rebuilt
				pw.logger.Warn().Err(err).Int64("seq", seq).Msg("projection update failed")
				continue
			}
			pw.lastSeq = seq

		case req := <-pw.rebuilds:
			n, err := RebuildProjections(req.ctx, pw.db, pw.events, pw.logger)
			if err == nil {
				pw.lastSeq, err = Watermark(req.ctx, pw.db)
			}
			req.done <- rebuildResult{replayed: n, err: err}
		}
	}
}

func (pw *ProjectionWorker) apply(ctx context.Context, output core.CoreOutput) error {
	start := time.Now()
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := Apply(ctx, tx, output); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(output.Envelope.EventType.String()).
			Observe(time.Since(start).Seconds())
	}
	return nil
}

// Apply writes one output into the projection tables inside tx. Rejected
// commands only move the watermark.
func Apply(ctx context.Context, tx *sql.Tx, output core.CoreOutput) error {
	env := output.Envelope
	if env.RejectReason == "" {
		if output.Batch != nil {
			for _, j := range output.Batch.Journals {
				amount := fpmath.ToDecimal(uint64(j.Amount))
				if err := addBalance(ctx, tx, j.DebitAccount.AccountPath(), j.Asset, amount.String(), env.Sequence); err != nil {
					return fmt.Errorf("balance projection: %w", err)
				}
				if err := addBalance(ctx, tx, j.CreditAccount.AccountPath(), j.Asset, amount.Neg().String(), env.Sequence); err != nil {
					return fmt.Errorf("balance projection: %w", err)
				}
			}
		}
		for _, t := range output.Troves {
			if err := upsertTrove(ctx, tx, t, env.Sequence); err != nil {
				return fmt.Errorf("trove projection: %w", err)
			}
		}
		if err := recordResult(ctx, tx, output.Result, env.Sequence, env.Timestamp); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, workerID, env.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}

// addBalance applies a signed delta. Debits increase, credits decrease.
func addBalance(ctx context.Context, tx *sql.Tx, account, asset, delta string, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, $3::NUMERIC, $4)
		ON CONFLICT (account_path, asset)
		DO UPDATE SET balance = projections.balances.balance + $3::NUMERIC, last_sequence = $4
	`, account, asset, delta, seq)
	return err
}

func upsertTrove(ctx context.Context, tx *sql.Tx, t *state.Trove, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.troves (asset, owner, status, coll, debt, stake, nicr, last_sequence)
		VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)
		ON CONFLICT (asset, owner) DO UPDATE SET
			status = EXCLUDED.status, coll = EXCLUDED.coll, debt = EXCLUDED.debt,
			stake = EXCLUDED.stake, nicr = EXCLUDED.nicr, last_sequence = EXCLUDED.last_sequence
	`,
		t.Asset, t.Owner.String(), t.Status.String(),
		fpmath.ToDecimal(t.Coll).String(), fpmath.ToDecimal(t.Debt).String(),
		fpmath.ToDecimal(t.Stake).String(), nicrDecimal(t.Coll, t.Debt), seq,
	)
	return err
}

// nicrDecimal clamps the infinite ratio of a debt-free trove to zero; closed
// troves are the only ones without debt.
func nicrDecimal(coll, debt uint64) string {
	if debt == 0 {
		return "0"
	}
	return fpmath.ToDecimal(fpmath.NominalICR(coll, debt)).String()
}

func recordResult(ctx context.Context, tx *sql.Tx, result interface{}, seq int64, ts time.Time) error {
	switch r := result.(type) {
	case *state.LiquidationResult:
		for _, tl := range r.Liquidated {
			icr := "0"
			if tl.ICR != fpmath.MaxICR {
				icr = fpmath.ToDecimal(tl.ICR).String()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO projections.liquidation_history
					(sequence, asset, owner, state, icr, coll, debt, debt_offset, debt_redistributed, coll_surplus, timestamp)
				VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)
				ON CONFLICT DO NOTHING
			`,
				seq, r.Asset, tl.Owner.String(), tl.State.String(), icr,
				fpmath.ToDecimal(tl.CollBefore).String(), fpmath.ToDecimal(tl.DebtBefore).String(),
				fpmath.ToDecimal(tl.DebtOffset).String(), fpmath.ToDecimal(tl.DebtRedistributed).String(),
				fpmath.ToDecimal(tl.CollSurplus).String(), ts,
			); err != nil {
				return fmt.Errorf("liquidation history: %w", err)
			}
		}
	case *state.RedemptionResult:
		return recordRedemption(ctx, tx, r, seq, ts)
	case *state.SweepResult:
		for _, rr := range r.Assets {
			if err := recordRedemption(ctx, tx, rr, seq, ts); err != nil {
				return err
			}
		}
	}
	return nil
}

func recordRedemption(ctx context.Context, tx *sql.Tx, r *state.RedemptionResult, seq int64, ts time.Time) error {
	for _, tr := range r.Troves {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.redemption_history
				(sequence, asset, owner, debt_redeemed, coll_drawn, closed, timestamp)
			VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7)
			ON CONFLICT DO NOTHING
		`,
			seq, r.Asset, tr.Owner.String(),
			fpmath.ToDecimal(tr.DebtRedeemed).String(), fpmath.ToDecimal(tr.CollDrawn).String(),
			tr.Closed, ts,
		); err != nil {
			return fmt.Errorf("redemption history: %w", err)
		}
	}
	return nil
}

// Watermark returns the last projected sequence, 0 before the first command.
func Watermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE worker_id = $1`, workerID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
