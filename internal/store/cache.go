package store

import (
	"sort"
	"strings"
)

// CacheStore buffers writes over a parent store. Reads see buffered writes
// first. Nothing reaches the parent until Write is called; Discard drops the
// buffer. One CacheStore wraps exactly one command so a failing command leaves
// the parent untouched.
type CacheStore struct {
	parent  KVStore
	writes  map[string][]byte
	deleted map[string]struct{}
}

func NewCacheStore(parent KVStore) *CacheStore {
	return &CacheStore{
		parent:  parent,
		writes:  make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

func (c *CacheStore) Get(key []byte) ([]byte, error) {
	k := string(key)
	if v, ok := c.writes[k]; ok {
		return cloneBytes(v), nil
	}
	if _, ok := c.deleted[k]; ok {
		return nil, ErrNotFound
	}
	return c.parent.Get(key)
}

func (c *CacheStore) Has(key []byte) (bool, error) {
	k := string(key)
	if _, ok := c.writes[k]; ok {
		return true, nil
	}
	if _, ok := c.deleted[k]; ok {
		return false, nil
	}
	return c.parent.Has(key)
}

func (c *CacheStore) Put(key, value []byte) error {
	k := string(key)
	delete(c.deleted, k)
	c.writes[k] = cloneBytes(value)
	return nil
}

func (c *CacheStore) Delete(key []byte) error {
	k := string(key)
	delete(c.writes, k)
	c.deleted[k] = struct{}{}
	return nil
}

// Iterate merges buffered writes with the parent's view.
func (c *CacheStore) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	merged := make(map[string][]byte)
	err := c.parent.Iterate(prefix, func(k, v []byte) bool {
		merged[string(k)] = cloneBytes(v)
		return true
	})
	if err != nil {
		return err
	}
	p := string(prefix)
	for k := range c.deleted {
		delete(merged, k)
	}
	for k, v := range c.writes {
		if strings.HasPrefix(k, p) {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), cloneBytes(merged[k])) {
			break
		}
	}
	return nil
}

// Changes visits buffered writes in key order. Deleted keys are reported with
// a nil value.
func (c *CacheStore) Changes(fn func(key string, value []byte, deleted bool)) {
	keys := make([]string, 0, len(c.writes)+len(c.deleted))
	for k := range c.writes {
		keys = append(keys, k)
	}
	for k := range c.deleted {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := c.writes[k]; ok {
			fn(k, v, false)
			continue
		}
		fn(k, nil, true)
	}
}

// Dirty reports whether any write is buffered.
func (c *CacheStore) Dirty() bool {
	return len(c.writes) > 0 || len(c.deleted) > 0
}

// Write flushes the buffer into the parent and resets it.
func (c *CacheStore) Write() error {
	if !c.Dirty() {
		return nil
	}
	deletes := make([]string, 0, len(c.deleted))
	for k := range c.deleted {
		deletes = append(deletes, k)
	}
	sort.Strings(deletes)

	if b, ok := c.parent.(Batcher); ok {
		if err := b.WriteBatch(c.writes, deletes); err != nil {
			return err
		}
	} else {
		for _, k := range deletes {
			if err := c.parent.Delete([]byte(k)); err != nil {
				return err
			}
		}
		keys := make([]string, 0, len(c.writes))
		for k := range c.writes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := c.parent.Put([]byte(k), c.writes[k]); err != nil {
				return err
			}
		}
	}
	c.Discard()
	return nil
}

// Discard drops every buffered write.
func (c *CacheStore) Discard() {
	c.writes = make(map[string][]byte)
	c.deleted = make(map[string]struct{})
}
