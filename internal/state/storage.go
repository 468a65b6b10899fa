package state

import (
	"errors"
	"fmt"
	"strings"

	"TroveLedger/internal/store"

	"github.com/ethereum/go-ethereum/rlp"
)

// Key layout. Every value is RLP-encoded.
const (
	prefixTrove  = "trove/"
	prefixList   = "list/"
	prefixTotals = "totals/"
	prefixAsset  = "assets/"
	prefixPrice  = "price/"
	keyAdmin     = "meta/admin"
)

func troveKey(asset string, id Identity) []byte {
	return []byte(prefixTrove + asset + "/" + id.key())
}

func trovePrefix(asset string) []byte {
	return []byte(prefixTrove + asset + "/")
}

func listMetaKey(asset string) []byte {
	return []byte(prefixList + asset + "/meta")
}

func listNodeKey(asset string, id Identity) []byte {
	return []byte(prefixList + asset + "/node/" + id.key())
}

func totalsKey(asset string) []byte {
	return []byte(prefixTotals + asset)
}

func assetKey(asset string) []byte {
	return []byte(prefixAsset + asset)
}

func priceKey(asset string) []byte {
	return []byte(prefixPrice + asset)
}

// IsTroveKey reports whether a raw store key holds a trove record.
func IsTroveKey(key string) bool {
	return strings.HasPrefix(key, prefixTrove)
}

// DecodeTrove decodes a stored trove record.
func DecodeTrove(raw []byte) (*Trove, error) {
	t := newTrove(ZeroIdentity, "")
	if err := rlp.DecodeBytes(raw, t); err != nil {
		return nil, fmt.Errorf("decode trove: %w", err)
	}
	return t, nil
}

// kvDB reads and writes RLP records.
type kvDB struct {
	kv store.KVStore
}

// get decodes the value at key into out. It reports false when absent.
func (d kvDB) get(key []byte, out interface{}) (bool, error) {
	raw, err := d.kv.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (d kvDB) put(key []byte, v interface{}) error {
	raw, err := rlp.EncodeToBytes(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return d.kv.Put(key, raw)
}

func (d kvDB) delete(key []byte) error {
	return d.kv.Delete(key)
}
