package store

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("store: key not found")

// KVStore is the key-value contract the protocol state is written against.
// Iterate visits keys with the given prefix in ascending byte order and stops
// early when fn returns false.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
}

// Batcher is implemented by stores that can apply a set of writes atomically.
type Batcher interface {
	WriteBatch(puts map[string][]byte, deletes []string) error
}

// Entry is a single key/value pair, used for checkpoint export and restore.
type Entry struct {
	Key   []byte
	Value []byte
}

// --- In-memory store ---

// MemStore is a map-backed KVStore. Used in tests and as the base layer when
// no data directory is configured.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (m *MemStore) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(v), nil
}

func (m *MemStore) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *MemStore) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = cloneBytes(value)
	return nil
}

func (m *MemStore) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemStore) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	m.mu.RLock()
	p := string(prefix)
	keys := make([]string, 0)
	for k := range m.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, Entry{Key: []byte(k), Value: cloneBytes(m.data[k])})
	}
	m.mu.RUnlock()

	for _, e := range entries {
		if !fn(e.Key, e.Value) {
			break
		}
	}
	return nil
}

// WriteBatch applies all writes under one lock.
func (m *MemStore) WriteBatch(puts map[string][]byte, deletes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range deletes {
		delete(m.data, k)
	}
	for k, v := range puts {
		m.data[k] = cloneBytes(v)
	}
	return nil
}

// Len returns the number of keys held.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Export returns every entry in the store in key order.
func Export(kv KVStore) ([]Entry, error) {
	var out []Entry
	err := kv.Iterate(nil, func(k, v []byte) bool {
		out = append(out, Entry{Key: cloneBytes(k), Value: cloneBytes(v)})
		return true
	})
	return out, err
}

// Restore writes the entries into kv, atomically if kv supports batches.
func Restore(kv KVStore, entries []Entry) error {
	if b, ok := kv.(Batcher); ok {
		puts := make(map[string][]byte, len(entries))
		for _, e := range entries {
			puts[string(e.Key)] = e.Value
		}
		return b.WriteBatch(puts, nil)
	}
	for _, e := range entries {
		if err := kv.Put(e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
