package core

import (
	"errors"
	"fmt"
	"strings"

	"TroveLedger/internal/store"
)

// Checkpoint is a full copy of the committed state at one sequence.
type Checkpoint struct {
	Sequence  int64
	StateHash [32]byte
	Entries   []store.Entry
}

// Size is the byte size of all keys and values.
func (cp *Checkpoint) Size() int {
	n := 0
	for _, e := range cp.Entries {
		n += len(e.Key) + len(e.Value)
	}
	return n
}

// Checkpoint exports the committed state. Outbox entries are left out: they
// describe outputs the event log already holds or will hold.
// Must run on the core goroutine.
func (c *DeterministicCore) Checkpoint() (*Checkpoint, error) {
	all, err := store.Export(c.store)
	if err != nil {
		return nil, fmt.Errorf("export state: %w", err)
	}
	entries := all[:0]
	for _, e := range all {
		if strings.HasPrefix(string(e.Key), prefixOutbox) {
			continue
		}
		entries = append(entries, e)
	}
	return &Checkpoint{
		Sequence:  c.sequence,
		StateHash: c.hasher.Tip(),
		Entries:   entries,
	}, nil
}

// RestoreCheckpoint loads cp into an empty store before a core is built on
// it, and checks that the entries agree with the checkpoint header.
func RestoreCheckpoint(kv store.KVStore, cp *Checkpoint) error {
	var existing bool
	if err := kv.Iterate(nil, func(_, _ []byte) bool {
		existing = true
		return false
	}); err != nil {
		return err
	}
	if existing {
		return errors.New("restore checkpoint: target store is not empty")
	}
	if err := store.Restore(kv, cp.Entries); err != nil {
		return fmt.Errorf("restore checkpoint %d: %w", cp.Sequence, err)
	}

	seq, _, err := getInt64(kv, keySequence)
	if err != nil {
		return err
	}
	if seq != cp.Sequence {
		return fmt.Errorf("restore checkpoint: header sequence %d, entries at %d", cp.Sequence, seq)
	}
	hash, err := loadStateHash(kv)
	if err != nil {
		return err
	}
	if hash != cp.StateHash {
		return fmt.Errorf("restore checkpoint %d: state hash mismatch", cp.Sequence)
	}
	return nil
}
