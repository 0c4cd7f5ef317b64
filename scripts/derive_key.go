// derive_key.go prints the STM public key for a WIF private key file, to
// check it against the validator account's active authority.
// Usage: go run scripts/derive_key.go <keyfile>
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/Klingon-tech/hive-ledger-validator/internal/hive"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: derive_key <keyfile>")
		os.Exit(1)
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	key, err := hive.DecodeWIF(strings.TrimSpace(string(data)))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("pubkey=%s\n", hive.EncodePublicKey(key.PublicKey()))
}
