package store

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelStore is the persistent KVStore used by the service.
type LevelStore struct {
	db   *leveldb.DB
	sync bool
}

// OpenLevelStore creates or opens a LevelDB database at path. With syncWrites
// every batch is fsynced before WriteBatch returns.
func OpenLevelStore(path string, syncWrites bool) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelStore{db: db, sync: syncWrites}, nil
}

func (l *LevelStore) Get(key []byte) ([]byte, error) {
	v, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

func (l *LevelStore) Has(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

func (l *LevelStore) Put(key, value []byte) error {
	return l.db.Put(key, value, &opt.WriteOptions{Sync: l.sync})
}

func (l *LevelStore) Delete(key []byte) error {
	return l.db.Delete(key, &opt.WriteOptions{Sync: l.sync})
}

func (l *LevelStore) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	var rng *util.Range
	if len(prefix) > 0 {
		rng = util.BytesPrefix(prefix)
	}
	it := l.db.NewIterator(rng, nil)
	defer it.Release()
	for it.Next() {
		if !fn(cloneBytes(it.Key()), cloneBytes(it.Value())) {
			break
		}
	}
	return it.Error()
}

// WriteBatch applies deletes then puts as one LevelDB batch.
func (l *LevelStore) WriteBatch(puts map[string][]byte, deletes []string) error {
	batch := new(leveldb.Batch)
	for _, k := range deletes {
		batch.Delete([]byte(k))
	}
	for k, v := range puts {
		batch.Put([]byte(k), v)
	}
	return l.db.Write(batch, &opt.WriteOptions{Sync: l.sync})
}

// Empty reports whether the database holds no keys.
func (l *LevelStore) Empty() (bool, error) {
	it := l.db.NewIterator(nil, nil)
	defer it.Release()
	empty := !it.Next()
	return empty, it.Error()
}

func (l *LevelStore) Close() error {
	return l.db.Close()
}
