package crypto

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// CompactSignatureSize is the length of a recoverable compact signature.
const CompactSignatureSize = 65

// PrivateKey wraps a secp256k1 private key for recoverable ECDSA signing.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKey creates a new random secp256k1 private key.
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes creates a PrivateKey from a 32-byte secret.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	key := secp256k1.PrivKeyFromBytes(b)
	return &PrivateKey{key: key}, nil
}

// SignCompact produces a 65-byte recoverable signature over a 32-byte digest.
// The header byte is 31+recid (compressed key), the form Hive expects.
func (pk *PrivateKey) SignCompact(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	return ecdsa.SignCompact(pk.key, digest, true), nil
}

// PublicKey returns the compressed 33-byte public key.
func (pk *PrivateKey) PublicKey() []byte {
	return pk.key.PubKey().SerializeCompressed()
}

// Serialize returns the 32-byte private key scalar.
func (pk *PrivateKey) Serialize() []byte {
	return pk.key.Serialize()
}

// Zero securely zeroes the private key memory.
func (pk *PrivateKey) Zero() {
	pk.key.Zero()
}

// RecoverCompact returns the compressed public key that produced a compact
// signature over digest.
func RecoverCompact(signature, digest []byte) ([]byte, error) {
	pub, _, err := ecdsa.RecoverCompact(signature, digest)
	if err != nil {
		return nil, fmt.Errorf("recover compact: %w", err)
	}
	return pub.SerializeCompressed(), nil
}
