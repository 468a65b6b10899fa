package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"TroveLedger/internal/core"
	"TroveLedger/internal/store"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
)

// checkpointFormat v1: RLP list of store entries.
const checkpointFormat = 1

var checkpointNamespace = uuid.MustParse("8f8e2f1c-5d0a-4b8e-9a55-2f0c3b7d6e41")

// CheckpointStore keeps full state dumps and serves the event log for replay.
// On a warm restart the latest verified checkpoint is restored, then events
// after its sequence are replayed.
type CheckpointStore struct {
	db *sql.DB
}

func NewCheckpointStore(db *sql.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Save persists cp unverified. Saving the same sequence twice is a no-op.
func (cs *CheckpointStore) Save(ctx context.Context, cp *core.Checkpoint, createdAt time.Time) (int, error) {
	data, err := rlp.EncodeToBytes(cp.Entries)
	if err != nil {
		return 0, fmt.Errorf("encode checkpoint: %w", err)
	}
	id := uuid.NewSHA1(checkpointNamespace, []byte(strconv.FormatInt(cp.Sequence, 10)))

	_, err = cs.db.ExecContext(ctx, `
		INSERT INTO event_log.checkpoints
			(checkpoint_id, sequence, state_hash, data, format_version, entries, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
		ON CONFLICT (sequence) DO NOTHING
	`, id, cp.Sequence, cp.StateHash[:], data, checkpointFormat, len(cp.Entries), len(data), createdAt)
	if err != nil {
		return 0, fmt.Errorf("save checkpoint %d: %w", cp.Sequence, err)
	}
	return len(data), nil
}

// VerifyPending marks unverified checkpoints whose hash matches the logged
// event at the same sequence. Checkpoints ahead of the log stay pending; a
// mismatch is returned as an error and the checkpoint is never trusted.
func (cs *CheckpointStore) VerifyPending(ctx context.Context) (int, error) {
	rows, err := cs.db.QueryContext(ctx, `
		SELECT c.sequence, c.state_hash = e.state_hash
		FROM event_log.checkpoints c
		JOIN event_log.events e ON e.sequence = c.sequence
		WHERE c.verified = FALSE
	`)
	if err != nil {
		return 0, err
	}
	type pending struct {
		seq   int64
		match bool
	}
	var found []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.seq, &p.match); err != nil {
			rows.Close()
			return 0, err
		}
		found = append(found, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	verified := 0
	var mismatched []int64
	for _, p := range found {
		if !p.match {
			mismatched = append(mismatched, p.seq)
			continue
		}
		if err := cs.MarkVerified(ctx, p.seq); err != nil {
			return verified, err
		}
		verified++
	}
	if len(mismatched) > 0 {
		return verified, fmt.Errorf("checkpoint hash differs from event log at sequences %v", mismatched)
	}
	return verified, nil
}

// MarkVerified marks a checkpoint as verified after an integrity check.
func (cs *CheckpointStore) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := cs.db.ExecContext(ctx, `
		UPDATE event_log.checkpoints SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadLatest returns the most recent verified checkpoint, or nil on a cold
// start.
func (cs *CheckpointStore) LoadLatest(ctx context.Context) (*core.Checkpoint, error) {
	var (
		seq     int64
		hash    []byte
		data    []byte
		version int
	)
	err := cs.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash, data, format_version
		FROM event_log.checkpoints
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&seq, &hash, &data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return decodeCheckpoint(seq, hash, data, version)
}

func decodeCheckpoint(seq int64, hash, data []byte, version int) (*core.Checkpoint, error) {
	if version != checkpointFormat {
		return nil, fmt.Errorf("checkpoint %d: unknown format version %d", seq, version)
	}
	cp := &core.Checkpoint{Sequence: seq}
	if len(hash) != len(cp.StateHash) {
		return nil, fmt.Errorf("checkpoint %d: state hash is %d bytes", seq, len(hash))
	}
	copy(cp.StateHash[:], hash)

	var entries []store.Entry
	if err := rlp.DecodeBytes(data, &entries); err != nil {
		return nil, fmt.Errorf("decode checkpoint %d: %w", seq, err)
	}
	cp.Entries = entries
	return cp, nil
}

// LoadEventsFrom loads logged commands from fromSequence for replay.
func (cs *CheckpointStore) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := cs.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, asset, payload, reject_reason,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var (
			e      EventRow
			asset  sql.NullString
			reason sql.NullString
		)
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &asset, &e.Payload, &reason,
			&e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		if asset.Valid {
			e.Asset = &asset.String
		}
		if reason.Valid {
			e.RejectReason = &reason.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LatestSequence returns the highest sequence in the event log, 0 when empty.
func (cs *CheckpointStore) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := cs.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
