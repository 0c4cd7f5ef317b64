package hive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160"

	"github.com/Klingon-tech/hive-ledger-validator/pkg/block"
	"github.com/Klingon-tech/hive-ledger-validator/pkg/crypto"
)

// Signing errors.
var (
	ErrBadWIF          = errors.New("invalid WIF private key")
	ErrBadChainID      = errors.New("chain id must be 32 bytes of hex")
	ErrNoCanonicalSign = errors.New("could not produce a canonical signature")
)

// Hive operation ids used in the binary transaction format.
const opCustomJSON = 18

// Transaction expiry relative to the reference head time.
const txExpiration = 60 * time.Second

// CustomJSONOp is a custom_json operation ready for signing.
type CustomJSONOp struct {
	RequiredAuths        []string `json:"required_auths"`
	RequiredPostingAuths []string `json:"required_posting_auths"`
	ID                   string   `json:"id"`
	JSON                 string   `json:"json"`
}

// SignedTransaction is the JSON shape accepted by broadcast_transaction.
type SignedTransaction struct {
	RefBlockNum    uint16            `json:"ref_block_num"`
	RefBlockPrefix uint32            `json:"ref_block_prefix"`
	Expiration     string            `json:"expiration"`
	Operations     []json.RawMessage `json:"operations"`
	Extensions     []any             `json:"extensions"`
	Signatures     []string          `json:"signatures"`
}

// Signer builds and signs custom_json transactions with one posting or
// active key.
type Signer struct {
	key     *crypto.PrivateKey
	chainID []byte
}

// NewSigner creates a signer from a WIF key and hex chain id.
func NewSigner(wif, chainID string) (*Signer, error) {
	key, err := DecodeWIF(wif)
	if err != nil {
		return nil, err
	}
	cid, err := hex.DecodeString(chainID)
	if err != nil || len(cid) != 32 {
		return nil, ErrBadChainID
	}
	return &Signer{key: key, chainID: cid}, nil
}

// PublicKey returns the signer's public key in STM format.
func (s *Signer) PublicKey() string {
	return EncodePublicKey(s.key.PublicKey())
}

// Sign serialises the operation and signs it. The expiration is bumped one
// second at a time until the signature is canonical.
func (s *Signer) Sign(ref TxRef, op CustomJSONOp) (*SignedTransaction, error) {
	opJSON, err := json.Marshal([]any{block.OpCustomJSON, op})
	if err != nil {
		return nil, fmt.Errorf("encode operation: %w", err)
	}

	expiration := ref.HeadTime.Add(txExpiration)
	for attempt := 0; attempt < 64; attempt++ {
		exp := expiration.Add(time.Duration(attempt) * time.Second)
		digest := s.digest(ref, exp, op)
		sig, err := s.key.SignCompact(digest[:])
		if err != nil {
			return nil, err
		}
		if !isCanonical(sig) {
			continue
		}
		return &SignedTransaction{
			RefBlockNum:    ref.RefBlockNum,
			RefBlockPrefix: ref.RefBlockPrefix,
			Expiration:     exp.UTC().Format(block.TimeLayout),
			Operations:     []json.RawMessage{opJSON},
			Extensions:     []any{},
			Signatures:     []string{hex.EncodeToString(sig)},
		}, nil
	}
	return nil, ErrNoCanonicalSign
}

// digest is sha256(chain_id || serialized transaction).
func (s *Signer) digest(ref TxRef, exp time.Time, op CustomJSONOp) [32]byte {
	var buf bytes.Buffer
	buf.Write(s.chainID)
	buf.Write(serializeTx(ref, exp, op))
	return sha256.Sum256(buf.Bytes())
}

// serializeTx encodes a single-operation transaction in Hive binary form.
func serializeTx(ref TxRef, exp time.Time, op CustomJSONOp) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, ref.RefBlockNum)
	_ = binary.Write(&buf, binary.LittleEndian, ref.RefBlockPrefix)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(exp.Unix()))
	writeVarint(&buf, 1)
	writeVarint(&buf, opCustomJSON)
	writeStrings(&buf, op.RequiredAuths)
	writeStrings(&buf, op.RequiredPostingAuths)
	writeString(&buf, op.ID)
	writeString(&buf, op.JSON)
	writeVarint(&buf, 0) // extensions
	return buf.Bytes()
}

func writeVarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeString(buf *bytes.Buffer, s string) {
	writeVarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func writeStrings(buf *bytes.Buffer, ss []string) {
	writeVarint(buf, uint64(len(ss)))
	for _, s := range ss {
		writeString(buf, s)
	}
}

// isCanonical applies Hive's canonical signature rule to a compact signature.
func isCanonical(sig []byte) bool {
	if len(sig) != crypto.CompactSignatureSize {
		return false
	}
	return sig[1]&0x80 == 0 &&
		!(sig[1] == 0 && sig[2]&0x80 == 0) &&
		sig[33]&0x80 == 0 &&
		!(sig[33] == 0 && sig[34]&0x80 == 0)
}

// DecodeWIF parses a base58check WIF private key.
func DecodeWIF(wif string) (*crypto.PrivateKey, error) {
	raw, err := base58.Decode(wif)
	if err != nil || len(raw) != 37 || raw[0] != 0x80 {
		return nil, ErrBadWIF
	}
	sum := doubleSHA256(raw[:33])
	if !bytes.Equal(sum[:4], raw[33:]) {
		return nil, ErrBadWIF
	}
	return crypto.PrivateKeyFromBytes(raw[1:33])
}

// EncodeWIF encodes a private key as WIF.
func EncodeWIF(key *crypto.PrivateKey) string {
	raw := append([]byte{0x80}, key.Serialize()...)
	sum := doubleSHA256(raw)
	return base58.Encode(append(raw, sum[:4]...))
}

// EncodePublicKey formats a compressed public key as STM + base58(key || checksum).
func EncodePublicKey(pub []byte) string {
	h := ripemd160.New()
	h.Write(pub)
	sum := h.Sum(nil)
	return "STM" + base58.Encode(append(append([]byte(nil), pub...), sum[:4]...))
}

func doubleSHA256(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

// Submitter signs and broadcasts validation transactions.
type Submitter struct {
	pool    *Pool
	signer  *Signer
	account string
	id      string
}

// NewSubmitter creates a submitter that posts custom_json operations with id
// as the given account using active authority.
func NewSubmitter(pool *Pool, signer *Signer, account, id string) *Submitter {
	return &Submitter{pool: pool, signer: signer, account: account, id: id}
}

// Submit builds, signs and broadcasts one custom_json payload.
func (s *Submitter) Submit(ctx context.Context, payload []byte) error {
	ref, err := s.pool.TransactionRef(ctx)
	if err != nil {
		return fmt.Errorf("transaction ref: %w", err)
	}
	tx, err := s.signer.Sign(ref, CustomJSONOp{
		RequiredAuths:        []string{s.account},
		RequiredPostingAuths: []string{},
		ID:                   s.id,
		JSON:                 string(payload),
	})
	if err != nil {
		return err
	}
	return s.pool.BroadcastTransaction(ctx, tx)
}
