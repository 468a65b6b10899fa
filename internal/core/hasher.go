package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "TroveLedger:genesis:v1"

// GenesisHash is the chain tip before the first command.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// Link computes SHA-256(prev || be64(sequence) || be32(len(digest)) || digest).
// The length prefix keeps digests of different commands from running into
// the next field.
func Link(prev [32]byte, sequence int64, digest []byte) [32]byte {
	var hdr [12]byte
	binary.BigEndian.PutUint64(hdr[:8], uint64(sequence))
	binary.BigEndian.PutUint32(hdr[8:], uint32(len(digest)))

	h := sha256.New()
	h.Write(prev[:])
	h.Write(hdr[:])
	h.Write(digest)

	var out [32]byte
	h.Sum(out[:0])
	return out
}

// HashChain holds the tip of the per-command state hash chain.
type HashChain struct {
	tip [32]byte
}

// NewHashChain resumes a chain at tip; pass GenesisHash() for a new ledger.
func NewHashChain(tip [32]byte) *HashChain {
	return &HashChain{tip: tip}
}

// Next is the hash the command at sequence would produce. The tip only
// moves on Advance, after the command is committed.
func (c *HashChain) Next(sequence int64, digest []byte) [32]byte {
	return Link(c.tip, sequence, digest)
}

func (c *HashChain) Advance(hash [32]byte) { c.tip = hash }

func (c *HashChain) Tip() [32]byte { return c.tip }
