package core

import (
	"errors"
	"fmt"
	"testing"

	"TroveLedger/internal/event"
	"TroveLedger/internal/state"
	"TroveLedger/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashChain_DoesNotMoveUntilAdvance(t *testing.T) {
	c := NewHashChain(GenesisHash())

	h1 := c.Next(1, []byte("digest"))
	assert.Equal(t, h1, c.Next(1, []byte("digest")))
	assert.NotEqual(t, h1, c.Next(2, []byte("digest")))
	assert.NotEqual(t, h1, c.Next(1, []byte("other")))
	assert.Equal(t, GenesisHash(), c.Tip())

	c.Advance(h1)
	assert.Equal(t, h1, c.Tip())
	assert.Equal(t, Link(h1, 2, nil), c.Next(2, nil))

	resumed := NewHashChain(h1)
	assert.Equal(t, c.Next(2, nil), resumed.Next(2, nil))
}

func TestLink_LengthPrefixSeparatesDigests(t *testing.T) {
	// Without the length prefix these would hash the same bytes.
	a := Link(GenesisHash(), 1, []byte{0x00, 0x01})
	b := Link(GenesisHash(), 1, []byte{0x00, 0x01, 0x00})
	assert.NotEqual(t, a, b)
}

func TestIdempotencyLRU_Eviction(t *testing.T) {
	lru := NewIdempotencyLRU(2)
	lru.Add("a")
	lru.Add("b")
	assert.True(t, lru.Contains("a")) // a is now most recent
	lru.Add("c")

	assert.True(t, lru.Contains("a"))
	assert.False(t, lru.Contains("b"))
	assert.True(t, lru.Contains("c"))
	assert.Equal(t, 2, lru.Size())
	assert.Equal(t, int64(1), lru.Evictions())

	lru.WarmFromKeys([]string{"x", "y", "z"})
	assert.Equal(t, 2, lru.Size())
	assert.True(t, lru.Contains("z"))
	assert.False(t, lru.Contains("x"))
}

type fakeDB struct {
	keys map[string]bool
	err  error
}

func (f *fakeDB) IsDuplicate(eventType, key string) (bool, error) {
	return f.keys[compositeKey(eventType, key)], f.err
}

func TestIdempotencyChecker_TwoTiers(t *testing.T) {
	db := &fakeDB{keys: map[string]bool{"OpenTrove:old": true}}
	ic := NewIdempotencyChecker(16, db, nil, zerolog.Nop())

	assert.True(t, ic.IsDuplicate("OpenTrove", "old"))
	assert.True(t, ic.lru.Contains("OpenTrove:old"), "tier-2 hit is cached")
	assert.False(t, ic.IsDuplicate("OpenTrove", "new"))

	ic.MarkProcessed("OpenTrove", "new")
	assert.True(t, ic.IsDuplicate("OpenTrove", "new"))
	assert.False(t, ic.IsDuplicate("CloseTrove", "new"))

	db.err = errors.New("connection refused")
	assert.False(t, ic.IsDuplicate("OpenTrove", "unknown"))
}

func TestSequenceValidator(t *testing.T) {
	sv := NewSequenceValidator(nil)

	require.NoError(t, sv.ValidateSequence("asset:ETH", 0, false))
	require.NoError(t, sv.ValidateSequence("asset:ETH", 1, false))
	assert.ErrorIs(t, sv.ValidateSequence("asset:ETH", 3, false), ErrSequenceGap)
	assert.ErrorIs(t, sv.ValidateSequence("asset:ETH", 1, false), ErrOutOfOrder)
	assert.NoError(t, sv.ValidateSequence("asset:ETH", 1, true))
	assert.Equal(t, int64(2), sv.GetExpectedSequence("asset:ETH"))

	// Prices tolerate gaps, never go backwards.
	require.NoError(t, sv.ValidatePriceSequence("ETH", 5))
	assert.ErrorIs(t, sv.ValidatePriceSequence("ETH", 5), ErrStalePrice)
	assert.ErrorIs(t, sv.ValidatePriceSequence("ETH", 2), ErrStalePrice)
	require.NoError(t, sv.ValidatePriceSequence("ETH", 9))
	assert.Equal(t, int64(10), sv.GetExpectedSequence("price:ETH"))
}

func TestSequenceValidator_FlushAndLoad(t *testing.T) {
	kv := store.NewMemStore()
	sv := NewSequenceValidator(nil)
	require.NoError(t, sv.ValidateSequence("global", 0, false))
	require.NoError(t, sv.ValidatePriceSequence("BTC", 41))
	require.NoError(t, sv.Flush(kv))
	assert.Equal(t, 2, kv.Len())

	// Nothing dirty: a second flush writes nothing new.
	require.NoError(t, kv.Delete([]byte(prefixPartition+"global")))
	require.NoError(t, sv.Flush(kv))
	assert.Equal(t, 1, kv.Len())

	require.NoError(t, sv.ValidateSequence("global", 1, false))
	require.NoError(t, sv.Flush(kv))

	loaded := NewSequenceValidator(nil)
	require.NoError(t, loaded.Load(kv))
	assert.Equal(t, int64(2), loaded.GetExpectedSequence("global"))
	assert.Equal(t, int64(42), loaded.GetExpectedSequence("price:BTC"))
}

func TestSequenceValidator_RollbackToSettled(t *testing.T) {
	kv := store.NewMemStore()
	sv := NewSequenceValidator(nil)
	require.NoError(t, sv.ValidateSequence("admin", 0, false))
	require.NoError(t, sv.Flush(kv))
	sv.Settle()

	require.NoError(t, sv.ValidateSequence("admin", 1, false))
	require.NoError(t, sv.ValidatePriceSequence("ETH", 3))
	sv.Rollback()
	assert.Equal(t, int64(1), sv.GetExpectedSequence("admin"))
	assert.Equal(t, int64(0), sv.GetExpectedSequence("price:ETH"))

	// Rolled-back partitions are not flushed either.
	require.NoError(t, sv.Flush(kv))
	assert.Equal(t, 1, kv.Len())

	require.NoError(t, sv.ValidateSequence("admin", 1, false))
}

func TestPartitionOf(t *testing.T) {
	assert.Equal(t, "admin", partitionOf(&event.RegisterAsset{Params: state.AssetParams{Asset: "ETH"}}))
	assert.Equal(t, "global", partitionOf(&event.StabilityDeposit{}))
	assert.Equal(t, "global", partitionOf(&event.RedeemAcrossAssets{}))
	assert.Equal(t, "asset:ETH", partitionOf(&event.CloseTrove{Asset: "ETH"}))
}

func TestRejectReason(t *testing.T) {
	assert.Equal(t, "other", RejectReason(errors.New("boom")))
	assert.Equal(t, "last_trove", RejectReason(fmt.Errorf("liquidate: %w", state.ErrLastTrove)))
}
