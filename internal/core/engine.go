package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/state"
	"TroveLedger/internal/store"

	"github.com/rs/zerolog"
)

// ErrMissingIdempotencyKey rejects commands that cannot be deduplicated.
var ErrMissingIdempotencyKey = errors.New("core: command has no idempotency key")

// Config tunes the core.
type Config struct {
	// IdempotencyLRUCapacity bounds the in-memory dedup tier.
	IdempotencyLRUCapacity int
	// InvariantChecks runs the full conservation and list-order checks after
	// every applied command. They are linear in the number of troves.
	InvariantChecks bool
	Logger          zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		IdempotencyLRUCapacity: 1_000_000,
		InvariantChecks:        true,
		Logger:                 zerolog.Nop(),
	}
}

// DeterministicCore is the single-threaded command processor. Every command
// runs against a CacheStore over the committed store: a rejected command
// leaves no trace in protocol state, an applied one is written atomically
// together with the core's own bookkeeping.
type DeterministicCore struct {
	sequence          int64 // last assigned global sequence
	hasher            *HashChain
	store             store.KVStore
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger
	invariantChecks   bool

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is the result of one logged command.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
	// Troves holds the post-command record of every trove the command wrote.
	Troves []*state.Trove
	// Result is the operation's return value (*state.AdjustResult,
	// *state.LiquidationResult, ...), nil for rejected commands.
	Result interface{}
	// StateDelta is the canonical digest the state hash was computed from.
	StateDelta []byte
}

// NewDeterministicCore resumes from whatever the store holds: an empty store
// starts at sequence 0 with the genesis hash.
func NewDeterministicCore(
	kv store.KVStore,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	cfg Config,
) (*DeterministicCore, error) {
	seq, _, err := getInt64(kv, keySequence)
	if err != nil {
		return nil, fmt.Errorf("load sequence: %w", err)
	}
	tip, err := loadStateHash(kv)
	if err != nil {
		return nil, err
	}
	sv := NewSequenceValidator(metrics)
	if err := sv.Load(kv); err != nil {
		return nil, fmt.Errorf("load partitions: %w", err)
	}

	c := &DeterministicCore{
		sequence:          seq,
		hasher:            NewHashChain(tip),
		store:             kv,
		idempotency:       NewIdempotencyChecker(cfg.IdempotencyLRUCapacity, dbChecker, metrics, cfg.Logger),
		sequenceValidator: sv,
		metrics:           metrics,
		logger:            cfg.Logger,
		invariantChecks:   cfg.InvariantChecks,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
	if metrics != nil {
		metrics.CoreSequence.Set(float64(seq))
	}
	return c, nil
}

func loadStateHash(kv store.KVStore) ([32]byte, error) {
	raw, err := kv.Get([]byte(keyStateHash))
	if errors.Is(err, store.ErrNotFound) {
		return GenesisHash(), nil
	}
	if err != nil {
		return [32]byte{}, fmt.Errorf("load state hash: %w", err)
	}
	var h [32]byte
	if len(raw) != len(h) {
		return h, fmt.Errorf("load state hash: want 32 bytes, got %d", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// ProcessEvent runs one command through the pipeline:
//
//	dedup -> sequence check -> dispatch in cache -> batch + invariant checks
//	-> state hash -> atomic commit -> emit
//
// Duplicates and stale prices return nil without effect. Sequence errors
// return an error without logging anything. A command the protocol rejects
// is still logged (with its reason, no state change) and its domain error is
// returned.
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	if idempotencyKey == "" {
		c.countRejected(eventType, "invalid")
		return ErrMissingIdempotencyKey
	}

	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	if err := c.validateSequence(evt, isDuplicate); err != nil {
		if errors.Is(err, ErrStalePrice) {
			c.countRejected(eventType, "stale_price")
			return nil
		}
		c.countRejected(eventType, "sequence")
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	if isDuplicate {
		c.sequenceValidator.Rollback()
		c.countRejected(eventType, "duplicate")
		return nil
	}

	st, err := c.stage(evt, true)
	if err == nil {
		err = c.commit(evt, st)
	}
	if err != nil {
		return err
	}
	output := st.output

	// Persistence: blocking send. The core stalls until the worker drains so
	// no output is dropped. Projections: non-blocking, rebuilt on demand.
	if c.persistChan != nil {
		select {
		case c.persistChan <- *output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- *output
		}
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- *output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}

	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}
	return st.dispatchErr
}

// ReplayEvent re-applies a logged command during recovery. Dedup is skipped
// (the log is the dedup source) and nothing is emitted. The recomputed hash
// must match the logged one; on a mismatch nothing is committed and the
// core stays at sequence-1.
func (c *DeterministicCore) ReplayEvent(evt event.Event, sequence int64, stateHash [32]byte) error {
	_, err := c.Replay(evt, sequence, stateHash)
	return err
}

// Replay is ReplayEvent returning the recomputed output. Projection rebuilds
// feed it to the read models.
func (c *DeterministicCore) Replay(evt event.Event, sequence int64, stateHash [32]byte) (*CoreOutput, error) {
	if sequence != c.sequence+1 {
		return nil, fmt.Errorf("replay: log sequence %d, core expects %d", sequence, c.sequence+1)
	}
	if err := c.validateSequence(evt, false); err != nil {
		c.sequenceValidator.Rollback()
		return nil, fmt.Errorf("replay seq %d: %w", sequence, err)
	}
	st, err := c.stage(evt, false)
	if err != nil {
		return nil, fmt.Errorf("replay seq %d: %w", sequence, err)
	}
	output := st.output
	if output.Envelope.StateHash != stateHash {
		st.discard(c)
		return nil, fmt.Errorf("replay seq %d: state hash mismatch, logged %x, computed %x",
			sequence, stateHash, output.Envelope.StateHash)
	}
	if err := c.commit(evt, st); err != nil {
		return nil, fmt.Errorf("replay seq %d: %w", sequence, err)
	}
	c.idempotency.MarkProcessed(evt.EventType().String(), evt.IdempotencyKey())
	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}
	return output, nil
}

func (c *DeterministicCore) validateSequence(evt event.Event, isDuplicate bool) error {
	if p, ok := evt.(*event.PriceUpdate); ok {
		if isDuplicate {
			return nil
		}
		return c.sequenceValidator.ValidatePriceSequence(p.Asset, p.PriceSequence)
	}
	return c.sequenceValidator.ValidateSequence(partitionOf(evt), evt.SourceSequence(), isDuplicate)
}

// partitionOf determines the partition key for sequence validation.
func partitionOf(evt event.Event) string {
	switch evt.(type) {
	case *event.ProtocolInit, *event.RegisterAsset, *event.UpdateAssetParams:
		return "admin"
	}
	if asset := evt.AssetContext(); asset != nil {
		return fmt.Sprintf("asset:%s", *asset)
	}
	return "global"
}

// stagedCommand is a command run to completion in its own cache, not yet
// written to the committed store.
type stagedCommand struct {
	cache       *store.CacheStore
	pm          *state.ProtocolManager
	output      *CoreOutput
	dispatchErr error
}

func (st *stagedCommand) discard(c *DeterministicCore) {
	st.cache.Discard()
	c.sequenceValidator.Rollback()
}

// stage runs the command under the next sequence and stages everything the
// commit writes. An error means the store itself failed; a protocol rejection
// is staged as a logged output carrying dispatchErr.
func (c *DeterministicCore) stage(evt event.Event, withOutbox bool) (st *stagedCommand, err error) {
	seq := c.sequence + 1
	ts := evt.EventTime()

	cache := store.NewCacheStore(c.store)
	tracker := ledger.NewBalanceTracker(cache)
	journal := ledger.NewJournalGenerator(tracker, evt.IdempotencyKey(), seq, ts.UnixMicro())
	pm := state.NewProtocolManager(cache, journal, uint64(ts.Unix()))

	defer func() {
		if err != nil {
			cache.Discard()
			c.sequenceValidator.Rollback()
		}
	}()

	result, dispatchErr := c.dispatch(pm, evt)

	batch := journal.Batch()
	if dispatchErr != nil {
		cache.Discard()
		batch.Journals = nil
		result = nil
	} else {
		if err := batch.Validate(); err != nil {
			panic(fmt.Sprintf("FATAL: malformed batch at seq %d: %v", seq, err))
		}
		if c.invariantChecks {
			checkStart := time.Now()
			if err := c.postCheckInvariants(pm, tracker, evt); err != nil {
				panic(fmt.Sprintf("FATAL: invariant violated at seq %d (%s %s): %v",
					seq, evt.EventType(), evt.IdempotencyKey(), err))
			}
			if c.metrics != nil {
				c.metrics.CoreInvariantDur.Observe(time.Since(checkStart).Seconds())
			}
		}
	}

	hashStart := time.Now()
	digest, troves, err := c.computeStateDigest(cache)
	if err != nil {
		return nil, err
	}
	stateHash := c.hasher.Next(seq, digest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := event.Encode(evt)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	envelope := &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		Asset:          evt.AssetContext(),
		Timestamp:      ts,
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       c.hasher.Tip(),
	}
	if dispatchErr != nil {
		envelope.RejectReason = dispatchErr.Error()
	}

	output := &CoreOutput{
		Envelope:   envelope,
		Batch:      batch,
		Troves:     troves,
		Result:     result,
		StateDelta: digest,
	}

	if err := putInt64(cache, keySequence, seq); err != nil {
		return nil, err
	}
	if err := cache.Put([]byte(keyStateHash), stateHash[:]); err != nil {
		return nil, err
	}
	if err := putInt64(cache, keyLastTime, ts.Unix()); err != nil {
		return nil, err
	}
	if err := c.sequenceValidator.Flush(cache); err != nil {
		return nil, err
	}
	if withOutbox {
		if err := putOutbox(cache, output); err != nil {
			return nil, err
		}
	}
	return &stagedCommand{cache: cache, pm: pm, output: output, dispatchErr: dispatchErr}, nil
}

// commit writes a staged command atomically and only then moves the sequence
// and the hash chain.
func (c *DeterministicCore) commit(evt event.Event, st *stagedCommand) error {
	seq := st.output.Envelope.Sequence
	if err := st.cache.Write(); err != nil {
		c.sequenceValidator.Rollback()
		return fmt.Errorf("commit seq %d: %w", seq, err)
	}
	c.sequence = seq
	c.hasher.Advance(st.output.Envelope.StateHash)
	c.sequenceValidator.Settle()

	c.record(st.pm, evt, st.output, st.dispatchErr)
	return nil
}


// computeStateDigest serializes every protocol key the command wrote, in key
// order: uvarint(len key) | key | 0x00 uvarint(len value) value, or 0x01 for
// a delete. Trove records found along the way are decoded for projections.
func (c *DeterministicCore) computeStateDigest(cache *store.CacheStore) ([]byte, []*state.Trove, error) {
	var (
		digest []byte
		troves []*state.Trove
		err    error
	)
	cache.Changes(func(key string, value []byte, deleted bool) {
		if err != nil || isCoreKey(key) {
			return
		}
		digest = binary.AppendUvarint(digest, uint64(len(key)))
		digest = append(digest, key...)
		if deleted {
			digest = append(digest, 1)
			return
		}
		digest = append(digest, 0)
		digest = binary.AppendUvarint(digest, uint64(len(value)))
		digest = append(digest, value...)

		if state.IsTroveKey(key) {
			t, decErr := state.DecodeTrove(value)
			if decErr != nil {
				err = fmt.Errorf("%s: %w", key, decErr)
				return
			}
			troves = append(troves, t)
		}
	})
	return digest, troves, err
}

// postCheckInvariants validates conservation after an applied command.
func (c *DeterministicCore) postCheckInvariants(pm *state.ProtocolManager, tracker *ledger.BalanceTracker, evt event.Event) error {
	validator := ledger.NewInvariantValidator(tracker)
	if err := validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	if err := validator.ValidateInternalNonNegative(ledger.DebtToken); err != nil {
		return err
	}

	assets, err := touchedAssets(pm, evt)
	if err != nil {
		return err
	}
	for _, asset := range assets {
		inst, err := pm.Asset(asset)
		if err != nil {
			return err
		}
		if err := inst.Troves.CheckInvariants(); err != nil {
			return fmt.Errorf("%s: %w", asset, err)
		}
		if err := validator.ValidateInternalNonNegative(asset); err != nil {
			return err
		}
		if err := validator.ValidateInternalNonNegative(ledger.DebtAsset(asset)); err != nil {
			return err
		}
	}
	return nil
}

// touchedAssets lists the registered collateral assets a command can change.
func touchedAssets(pm *state.ProtocolManager, evt event.Event) ([]string, error) {
	switch evt.(type) {
	case *event.RedeemAcrossAssets:
		return pm.Assets()
	case *event.ProtocolInit, *event.StabilityDeposit:
		return nil, nil
	}
	if asset := evt.AssetContext(); asset != nil {
		return []string{*asset}, nil
	}
	return nil, nil
}

func (c *DeterministicCore) countRejected(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

// GetSequence returns the last assigned global sequence.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the hash of the last logged command.
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.Tip()
}

// WarmLRU preloads recently applied composite keys ("<type>:<key>").
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.Warm(keys)
}

// View runs fn against the committed state. Writes made by fn are dropped.
// Must run on the core goroutine.
func (c *DeterministicCore) View(fn func(pm *state.ProtocolManager) error) error {
	cache := store.NewCacheStore(c.store)
	defer cache.Discard()
	journal := ledger.NewJournalGenerator(ledger.NewBalanceTracker(cache), "view", c.sequence, 0)
	now, err := c.lastCommandTime(cache)
	if err != nil {
		return err
	}
	return fn(state.NewProtocolManager(cache, journal, now))
}

// lastCommandTime is the unix time of the newest logged command, used as
// "now" for read-only fee and ICR views so they stay deterministic.
func (c *DeterministicCore) lastCommandTime(kv store.KVStore) (uint64, error) {
	ts, _, err := getInt64(kv, keyLastTime)
	return uint64(ts), err
}
