package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// batchNamespace seeds deterministic batch IDs so replaying the command log
// reproduces identical journal IDs.
var batchNamespace = uuid.MustParse("5b0c7d0e-4f7a-4a53-9a0e-6b2f1c0d8e11")

// JournalGenerator builds the batch for one command. Every transfer is applied
// to the tracker immediately so later reads in the same command see it.
type JournalGenerator struct {
	tracker *BalanceTracker
	batch   *Batch
}

func NewJournalGenerator(tracker *BalanceTracker, eventRef string, sequence, timestamp int64) *JournalGenerator {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(sequence))
	batchID := uuid.NewSHA1(batchNamespace, append(seq[:], eventRef...))

	return &JournalGenerator{
		tracker: tracker,
		batch: &Batch{
			BatchID:   batchID,
			EventRef:  eventRef,
			Sequence:  sequence,
			Timestamp: timestamp,
		},
	}
}

// Transfer moves amount from credit to debit. Zero amounts are no-ops.
func (jg *JournalGenerator) Transfer(debit, credit AccountKey, amount uint64, jt JournalType) error {
	if amount == 0 {
		return nil
	}
	amt, err := toAmount(amount)
	if err != nil {
		return err
	}

	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(len(jg.batch.Journals)))

	j := Journal{
		JournalID:     uuid.NewSHA1(jg.batch.BatchID, idx[:]),
		BatchID:       jg.batch.BatchID,
		EventRef:      jg.batch.EventRef,
		Sequence:      jg.batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Asset:         debit.Asset,
		Amount:        amt,
		JournalType:   jt,
		Timestamp:     jg.batch.Timestamp,
	}
	if credit.Asset != debit.Asset {
		return fmt.Errorf("transfer %s -> %s crosses assets", credit.AccountPath(), debit.AccountPath())
	}

	if err := jg.tracker.ApplyJournal(j); err != nil {
		return err
	}
	jg.batch.Journals = append(jg.batch.Journals, j)
	return nil
}

// Tracker returns the balance tracker transfers are applied to.
func (jg *JournalGenerator) Tracker() *BalanceTracker {
	return jg.tracker
}

// Batch returns the batch built so far.
func (jg *JournalGenerator) Batch() *Batch {
	return jg.batch
}
