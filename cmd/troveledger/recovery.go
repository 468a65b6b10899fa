package main

import (
	"context"
	"fmt"
	"time"

	"TroveLedger/internal/config"
	"TroveLedger/internal/core"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/persistence"
	"TroveLedger/internal/store"

	"github.com/rs/zerolog"
)

const replayPageSize = 1000

// liveStore is the committed state the core runs on.
type liveStore interface {
	store.KVStore
	Close() error
}

type memLive struct{ *store.MemStore }

func (memLive) Close() error { return nil }

// openState opens the configured store. A store that comes up empty is
// seeded from the latest verified checkpoint, if there is one.
func openState(ctx context.Context, cfg config.Config, cs *persistence.CheckpointStore, logger zerolog.Logger) (liveStore, error) {
	var (
		kv    liveStore
		empty bool
	)
	if cfg.StateDir == "" {
		mem := store.NewMemStore()
		kv, empty = memLive{mem}, true
		logger.Info().Msg("state kept in memory")
	} else {
		ls, err := store.OpenLevelStore(cfg.StateDir, true)
		if err != nil {
			return nil, err
		}
		if empty, err = ls.Empty(); err != nil {
			ls.Close()
			return nil, err
		}
		kv = ls
		logger.Info().Str("dir", cfg.StateDir).Bool("empty", empty).Msg("state store opened")
	}
	if !empty {
		return kv, nil
	}

	cp, err := cs.LoadLatest(ctx)
	if err != nil {
		kv.Close()
		return nil, err
	}
	if cp == nil {
		logger.Info().Msg("no verified checkpoint, cold start from sequence 0")
		return kv, nil
	}
	if err := core.RestoreCheckpoint(kv, cp); err != nil {
		kv.Close()
		return nil, err
	}
	logger.Info().
		Int64("sequence", cp.Sequence).
		Int("entries", len(cp.Entries)).
		Msg("checkpoint restored")
	return kv, nil
}

// replayLog re-applies every logged command after the core's sequence,
// checking each state hash against the log.
func replayLog(ctx context.Context, c *core.DeterministicCore, cs *persistence.CheckpointStore, metrics *observability.Metrics, logger zerolog.Logger) (int, error) {
	start := time.Now()
	replayed := 0
	for {
		rows, err := cs.LoadEventsFrom(ctx, c.GetSequence()+1, replayPageSize)
		if err != nil {
			return replayed, fmt.Errorf("load events: %w", err)
		}
		for _, row := range rows {
			evt, err := row.Event()
			if err != nil {
				return replayed, fmt.Errorf("decode seq %d: %w", row.Sequence, err)
			}
			hash, err := row.Hash()
			if err != nil {
				return replayed, fmt.Errorf("decode seq %d: %w", row.Sequence, err)
			}
			if err := c.ReplayEvent(evt, row.Sequence, hash); err != nil {
				return replayed, err
			}
			replayed++
		}
		if len(rows) < replayPageSize {
			break
		}
	}
	metrics.ReplayDuration.Set(time.Since(start).Seconds())
	if replayed > 0 {
		logger.Info().
			Int("events", replayed).
			Int64("sequence", c.GetSequence()).
			Dur("took", time.Since(start)).
			Msg("event log replayed")
	}
	return replayed, nil
}

// applyGenesis feeds the genesis commands to a core at sequence 0.
func applyGenesis(c *core.DeterministicCore, path string, logger zerolog.Logger) error {
	g, err := config.LoadGenesis(path)
	if err != nil {
		return err
	}
	for _, cmd := range g.Commands() {
		if err := c.ProcessEvent(cmd); err != nil {
			return fmt.Errorf("genesis %s %s: %w", cmd.EventType(), cmd.IdempotencyKey(), err)
		}
	}
	logger.Info().
		Int("assets", len(g.Assets)).
		Int64("sequence", c.GetSequence()).
		Msg("genesis applied")
	return nil
}

// takeCheckpoint snapshots the core on its own goroutine, stores the
// snapshot and verifies whatever the event log has caught up with.
func takeCheckpoint(ctx context.Context, runner *core.Runner, cs *persistence.CheckpointStore, metrics *observability.Metrics, logger zerolog.Logger) {
	start := time.Now()
	var cp *core.Checkpoint
	err := runner.Do(ctx, func(c *core.DeterministicCore) error {
		var err error
		cp, err = c.Checkpoint()
		return err
	})
	if err != nil {
		logger.Error().Err(err).Msg("checkpoint failed")
		return
	}
	size, err := cs.Save(ctx, cp, time.Now().UTC())
	if err != nil {
		logger.Error().Err(err).Int64("sequence", cp.Sequence).Msg("checkpoint save failed")
		return
	}
	metrics.CheckpointTaken.Inc()
	metrics.CheckpointDuration.Observe(time.Since(start).Seconds())
	metrics.CheckpointSizeBytes.Set(float64(size))
	metrics.CheckpointLastSeq.Set(float64(cp.Sequence))

	verified, err := cs.VerifyPending(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("checkpoint verification")
	}
	logger.Info().
		Int64("sequence", cp.Sequence).
		Int("bytes", size).
		Int("verified", verified).
		Msg("checkpoint saved")
}
