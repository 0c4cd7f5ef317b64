// Package crypto provides cryptographic primitives for the ledger validator.
package crypto

import (
	"github.com/Klingon-tech/hive-ledger-validator/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// HashConcat hashes the concatenation of two hashes.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}

// ChainHash binds a payload to the hash that precedes it:
// BLAKE3(prev || payload).
func ChainHash(prev types.Hash, payload []byte) types.Hash {
	h := blake3.New()
	h.Write(prev[:])
	h.Write(payload)
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// HashStrings hashes a sequence of strings, each prefixed with its length so
// that ("ab", "c") and ("a", "bc") never collide.
func HashStrings(parts ...string) types.Hash {
	h := blake3.New()
	var lenBuf [4]byte
	for _, p := range parts {
		n := len(p)
		lenBuf[0] = byte(n >> 24)
		lenBuf[1] = byte(n >> 16)
		lenBuf[2] = byte(n >> 8)
		lenBuf[3] = byte(n)
		h.Write(lenBuf[:])
		h.Write([]byte(p))
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}
