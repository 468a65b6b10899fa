package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"TroveLedger/internal/store"
)

const balancePrefix = "bal/"

// BalanceTracker keeps account balances in a KVStore, one key per account:
// bal/<asset>/<account path> -> int64 big-endian.
type BalanceTracker struct {
	kv store.KVStore
}

func NewBalanceTracker(kv store.KVStore) *BalanceTracker {
	return &BalanceTracker{kv: kv}
}

func balanceKey(key AccountKey) []byte {
	return []byte(balancePrefix + key.Asset + "/" + key.AccountPath())
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) error {
	if err := bt.add(j.DebitAccount, j.Amount); err != nil {
		return err
	}
	return bt.add(j.CreditAccount, -j.Amount)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		if err := bt.ApplyJournal(j); err != nil {
			return err
		}
	}

	return nil
}

func (bt *BalanceTracker) add(key AccountKey, delta int64) error {
	cur := bt.GetBalance(key)
	next := cur + delta
	if (delta > 0 && next < cur) || (delta < 0 && next > cur) {
		return fmt.Errorf("balance overflow on %s", key.AccountPath())
	}
	if next == 0 {
		return bt.kv.Delete(balanceKey(key))
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(next))
	return bt.kv.Put(balanceKey(key), buf[:])
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	raw, err := bt.kv.Get(balanceKey(key))
	if err != nil || len(raw) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(raw))
}

// Available returns a non-negative balance as uint64 (0 if negative).
func (bt *BalanceTracker) Available(key AccountKey) uint64 {
	b := bt.GetBalance(key)
	if b < 0 {
		return 0
	}
	return uint64(b)
}

// ForEach visits every non-zero balance of the given asset ("" for all).
func (bt *BalanceTracker) ForEach(asset string, fn func(key AccountKey, balance int64) bool) error {
	prefix := balancePrefix
	if asset != "" {
		prefix += asset + "/"
	}
	var parseErr error
	err := bt.kv.Iterate([]byte(prefix), func(k, v []byte) bool {
		rest := strings.TrimPrefix(string(k), balancePrefix)
		slash := strings.IndexByte(rest, '/')
		if slash < 0 || len(v) != 8 {
			parseErr = fmt.Errorf("malformed balance key %q", k)
			return false
		}
		key, err := ParseAccountPath(rest[slash+1:])
		if err != nil {
			parseErr = err
			return false
		}
		return fn(key, int64(binary.BigEndian.Uint64(v)))
	})
	return errors.Join(err, parseErr)
}

// ComputeGlobalBalance sums all account balances per asset (should be 0 for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() (map[string]int64, error) {
	totals := make(map[string]int64)
	err := bt.ForEach("", func(key AccountKey, balance int64) bool {
		totals[key.Asset] += balance
		return true
	})
	return totals, err
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ValidateSufficient checks that an account holds at least required.
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required uint64) error {
	if bt.Available(key) < required {
		return fmt.Errorf("insufficient balance on %s: have=%d, need=%d",
			key.AccountPath(), bt.GetBalance(key), required)
	}
	return nil
}
