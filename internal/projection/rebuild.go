package projection

import (
	"context"
	"database/sql"
	"fmt"

	"TroveLedger/internal/core"
	"TroveLedger/internal/persistence"
	"TroveLedger/internal/store"

	"github.com/rs/zerolog"
)

// EventSource pages through the persisted event log.
type EventSource interface {
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]persistence.EventRow, error)
}

const rebuildPage = 1000

// RebuildProjections truncates the read models and rebuilds them by replaying
// the whole event log through a scratch in-memory core. Every recomputed hash
// is checked against the log on the way.
func RebuildProjections(ctx context.Context, db *sql.DB, events EventSource, logger zerolog.Logger) (int64, error) {
	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.troves`,
		`TRUNCATE projections.liquidation_history`,
		`TRUNCATE projections.redemption_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("truncate failed: %w", err)
		}
	}

	cfg := core.DefaultConfig()
	cfg.InvariantChecks = false
	cfg.Logger = logger
	scratch, err := core.NewDeterministicCore(store.NewMemStore(), nil, nil, nil, nil, cfg)
	if err != nil {
		return 0, err
	}

	var replayed int64
	from := int64(1)
	for {
		rows, err := events.LoadEventsFrom(ctx, from, rebuildPage)
		if err != nil {
			return replayed, fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return replayed, err
		}
		for _, row := range rows {
			if err := replayRow(ctx, tx, scratch, row); err != nil {
				tx.Rollback()
				return replayed, err
			}
			replayed++
		}
		if err := tx.Commit(); err != nil {
			return replayed, err
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	logger.Info().Int64("events", replayed).Msg("projection rebuild complete")
	return replayed, nil
}

func replayRow(ctx context.Context, tx *sql.Tx, c *core.DeterministicCore, row persistence.EventRow) error {
	evt, err := row.Event()
	if err != nil {
		return fmt.Errorf("decode seq %d: %w", row.Sequence, err)
	}
	hash, err := row.Hash()
	if err != nil {
		return err
	}
	out, err := c.Replay(evt, row.Sequence, hash)
	if err != nil {
		return err
	}
	return Apply(ctx, tx, *out)
}
