package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"

	"TroveLedger/internal/observability"
	"TroveLedger/internal/store"
)

var (
	ErrSequenceGap = errors.New("core: source sequence gap")
	ErrOutOfOrder  = errors.New("core: out-of-order source sequence")
	ErrStalePrice  = errors.New("core: stale price update")
)

// SequenceValidator tracks the next expected source sequence per partition.
// Expectations are persisted with each command under core/partition/ so a
// restart resumes where the log left off.
// Changes made while validating a command stay provisional until Settle;
// Rollback drops them when the command is not committed.
// Not thread-safe; only the core goroutine touches it.
type SequenceValidator struct {
	expectedNextSeq map[string]int64
	dirty           map[string]struct{}
	undo            map[string]priorSeq
	metrics         *observability.Metrics
}

type priorSeq struct {
	next  int64
	known bool
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		dirty:           make(map[string]struct{}),
		undo:            make(map[string]priorSeq),
		metrics:         metrics,
	}
}

// ValidateSequence checks ordering within a partition. A stale sequence is
// accepted only for a known duplicate.
func (sv *SequenceValidator) ValidateSequence(partition string, sourceSequence int64, isDuplicate bool) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			return nil
		}
		if sv.metrics != nil {
			sv.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d", ErrOutOfOrder, partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.set(partition, expected+1)
		return nil
	}

	if sv.metrics != nil {
		sv.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
	}
	return fmt.Errorf("%w: partition=%s, expected=%d, got=%d", ErrSequenceGap, partition, expected, sourceSequence)
}

// ValidatePriceSequence tolerates gaps but rejects stale or repeated prices
// with ErrStalePrice.
func (sv *SequenceValidator) ValidatePriceSequence(asset string, priceSequence int64) error {
	partition := pricePartition(asset)
	expected := sv.expectedNextSeq[partition]

	if priceSequence < expected {
		return fmt.Errorf("%w: %s sequence %d, expected >= %d", ErrStalePrice, asset, priceSequence, expected)
	}
	if priceSequence > expected && expected > 0 && sv.metrics != nil {
		sv.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
	}
	sv.set(partition, priceSequence+1)
	return nil
}

func (sv *SequenceValidator) set(partition string, next int64) {
	if _, seen := sv.undo[partition]; !seen {
		prev, known := sv.expectedNextSeq[partition]
		sv.undo[partition] = priorSeq{next: prev, known: known}
	}
	sv.expectedNextSeq[partition] = next
	sv.dirty[partition] = struct{}{}
}

// Settle makes every change since the last Settle or Rollback permanent.
func (sv *SequenceValidator) Settle() {
	if len(sv.undo) > 0 {
		sv.undo = make(map[string]priorSeq)
	}
}

// Rollback restores the expectations held at the last Settle.
func (sv *SequenceValidator) Rollback() {
	for p, prior := range sv.undo {
		if prior.known {
			sv.expectedNextSeq[p] = prior.next
		} else {
			delete(sv.expectedNextSeq, p)
		}
		delete(sv.dirty, p)
	}
	sv.undo = make(map[string]priorSeq)
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// Flush writes changed expectations into kv, normally the command's cache.
func (sv *SequenceValidator) Flush(kv store.KVStore) error {
	parts := make([]string, 0, len(sv.dirty))
	for p := range sv.dirty {
		parts = append(parts, p)
	}
	sort.Strings(parts)
	for _, p := range parts {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(sv.expectedNextSeq[p]))
		if err := kv.Put([]byte(prefixPartition+p), buf[:]); err != nil {
			return err
		}
	}
	sv.dirty = make(map[string]struct{})
	return nil
}

// Load reads every persisted expectation from kv.
func (sv *SequenceValidator) Load(kv store.KVStore) error {
	var bad error
	err := kv.Iterate([]byte(prefixPartition), func(k, v []byte) bool {
		if len(v) != 8 {
			bad = fmt.Errorf("partition record %s: want 8 bytes, got %d", k, len(v))
			return false
		}
		sv.expectedNextSeq[strings.TrimPrefix(string(k), prefixPartition)] = int64(binary.BigEndian.Uint64(v))
		return true
	})
	if err != nil {
		return err
	}
	sv.dirty = make(map[string]struct{})
	sv.undo = make(map[string]priorSeq)
	return bad
}

func pricePartition(asset string) string {
	return "price:" + asset
}
