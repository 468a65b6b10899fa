package core

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	"TroveLedger/internal/store"
)

// Core bookkeeping lives under core/ and is excluded from state digests.
const (
	prefixCore      = "core/"
	keySequence     = "core/sequence"
	keyStateHash    = "core/state_hash"
	keyLastTime     = "core/last_time"
	prefixPartition = "core/partition/"
	prefixOutbox    = "core/outbox/"
)

func outboxKey(sequence int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOutbox, sequence))
}

// outboxRecord is what the persistence worker needs to rebuild its rows.
type outboxRecord struct {
	Envelope *event.EventEnvelope `json:"envelope"`
	Batch    *ledger.Batch        `json:"batch"`
}

// putOutbox stages the output in the command's cache so it commits together
// with the state it describes.
func putOutbox(kv store.KVStore, out *CoreOutput) error {
	raw, err := json.Marshal(outboxRecord{Envelope: out.Envelope, Batch: out.Batch})
	if err != nil {
		return fmt.Errorf("encode outbox %d: %w", out.Envelope.Sequence, err)
	}
	return kv.Put(outboxKey(out.Envelope.Sequence), raw)
}

// PendingOutbox returns outputs committed to the state store but not yet
// acknowledged by the persistence worker, in sequence order.
func (c *DeterministicCore) PendingOutbox() ([]CoreOutput, error) {
	var out []CoreOutput
	var decodeErr error
	err := c.store.Iterate([]byte(prefixOutbox), func(k, v []byte) bool {
		var rec outboxRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			decodeErr = fmt.Errorf("decode %s: %w", k, err)
			return false
		}
		out = append(out, CoreOutput{Envelope: rec.Envelope, Batch: rec.Batch})
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}

// AckOutbox drops outbox entries up to and including sequence. It touches
// only outbox keys, so the persistence worker may call it from its own
// goroutine.
func (c *DeterministicCore) AckOutbox(sequence int64) error {
	var keys []string
	err := c.store.Iterate([]byte(prefixOutbox), func(k, _ []byte) bool {
		if string(k) > string(outboxKey(sequence)) {
			return false
		}
		keys = append(keys, string(k))
		return true
	})
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if b, ok := c.store.(store.Batcher); ok {
		return b.WriteBatch(nil, keys)
	}
	for _, k := range keys {
		if err := c.store.Delete([]byte(k)); err != nil {
			return err
		}
	}
	return nil
}

func isCoreKey(key string) bool {
	return strings.HasPrefix(key, prefixCore)
}

func putInt64(kv store.KVStore, key string, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return kv.Put([]byte(key), buf[:])
}

func getInt64(kv store.KVStore, key string) (int64, bool, error) {
	raw, err := kv.Get([]byte(key))
	if errors.Is(err, store.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("%s: want 8 bytes, got %d", key, len(raw))
	}
	return int64(binary.BigEndian.Uint64(raw)), true, nil
}
