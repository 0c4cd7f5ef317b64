package hive

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Klingon-tech/hive-ledger-validator/pkg/crypto"
)

const (
	testWIF     = "5HueCGU8rMjxEXxiPuD5BDku4MkFqeZyd4dZ1jvhTVqvbTLvyTJ"
	testKeyHex  = "0c28fca386c7a227600b2fe50b7cae11ec86d3bf1fbe471be89827e19d72aa1d"
	testChainID = "beeab0de00000000000000000000000000000000000000000000000000000000"
)

func TestDecodeWIF(t *testing.T) {
	key, err := DecodeWIF(testWIF)
	if err != nil {
		t.Fatalf("DecodeWIF() error: %v", err)
	}
	if got := hex.EncodeToString(key.Serialize()); got != testKeyHex {
		t.Fatalf("key = %s, want %s", got, testKeyHex)
	}
	if EncodeWIF(key) != testWIF {
		t.Fatalf("EncodeWIF() = %s, want %s", EncodeWIF(key), testWIF)
	}
}

func TestDecodeWIF_Invalid(t *testing.T) {
	tests := []string{
		"",
		"not-base58-0OIl",
		testWIF[:len(testWIF)-1] + "K", // checksum broken
	}
	for _, wif := range tests {
		if _, err := DecodeWIF(wif); !errors.Is(err, ErrBadWIF) {
			t.Errorf("DecodeWIF(%q) error = %v, want ErrBadWIF", wif, err)
		}
	}
}

func TestNewSigner_BadChainID(t *testing.T) {
	if _, err := NewSigner(testWIF, "beef"); !errors.Is(err, ErrBadChainID) {
		t.Fatalf("NewSigner() error = %v, want ErrBadChainID", err)
	}
}

func TestSigner_PublicKey(t *testing.T) {
	s, err := NewSigner(testWIF, testChainID)
	if err != nil {
		t.Fatalf("NewSigner() error: %v", err)
	}
	pub := s.PublicKey()
	if !strings.HasPrefix(pub, "STM") || len(pub) < 50 {
		t.Fatalf("PublicKey() = %q", pub)
	}
}

func TestSerializeTx(t *testing.T) {
	ref := TxRef{RefBlockNum: 0x0102, RefBlockPrefix: 0x03040506}
	exp := time.Unix(0x0708090a, 0)
	got := serializeTx(ref, exp, CustomJSONOp{
		RequiredAuths: []string{"al"},
		ID:            "x",
		JSON:          "{}",
	})
	want := []byte{
		0x02, 0x01, // ref_block_num
		0x06, 0x05, 0x04, 0x03, // ref_block_prefix
		0x0a, 0x09, 0x08, 0x07, // expiration
		0x01,                // one operation
		0x12,                // custom_json
		0x01, 0x02, 'a', 'l', // required_auths
		0x00,           // required_posting_auths
		0x01, 'x',      // id
		0x02, '{', '}', // json
		0x00, // extensions
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("serializeTx() = %x, want %x", got, want)
	}
}

func TestSigner_Sign(t *testing.T) {
	s, err := NewSigner(testWIF, testChainID)
	if err != nil {
		t.Fatalf("NewSigner() error: %v", err)
	}
	ref := TxRef{RefBlockNum: 1, RefBlockPrefix: 2, HeadTime: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	op := CustomJSONOp{RequiredAuths: []string{"alice"}, RequiredPostingAuths: []string{}, ID: "ledger", JSON: `{"action":"validate_block"}`}

	tx, err := s.Sign(ref, op)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if len(tx.Signatures) != 1 || len(tx.Operations) != 1 {
		t.Fatalf("tx = %+v", tx)
	}
	sig, _ := hex.DecodeString(tx.Signatures[0])
	if !isCanonical(sig) {
		t.Fatal("signature is not canonical")
	}

	exp, err := time.ParseInLocation("2006-01-02T15:04:05", tx.Expiration, time.UTC)
	if err != nil {
		t.Fatalf("parse expiration: %v", err)
	}
	chainID, _ := hex.DecodeString(testChainID)
	digest := sha256.Sum256(append(chainID, serializeTx(ref, exp, op)...))
	pub, err := crypto.RecoverCompact(sig, digest[:])
	if err != nil {
		t.Fatalf("RecoverCompact() error: %v", err)
	}
	key, _ := DecodeWIF(testWIF)
	if !bytes.Equal(pub, key.PublicKey()) {
		t.Fatal("recovered key does not match signer")
	}
}

func TestIsCanonical(t *testing.T) {
	sig := make([]byte, 65)
	sig[1], sig[33] = 0x01, 0x01
	if !isCanonical(sig) {
		t.Error("small r and s should be canonical")
	}
	sig[1] = 0x80
	if isCanonical(sig) {
		t.Error("high r should not be canonical")
	}
	sig[1], sig[2] = 0x00, 0x01
	if isCanonical(sig) {
		t.Error("zero-padded r should not be canonical")
	}
	if isCanonical(sig[:64]) {
		t.Error("short signature should not be canonical")
	}
}
