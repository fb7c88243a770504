package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakemint/facilitator/internal/hashlock"
)

// hashlock-gen prints a fresh secret / hash-lock pair. The secret gates
// progression of the declared message; it is printed exactly once here and
// never logged by any other component.

type pairPayload struct {
	Secret   string `json:"secret"`
	HashLock string `json:"hashLock"`
}

func main() {
	if err := runMain(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runMain(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("hashlock-gen", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	secretHex := fs.String("secret", "", "derive the lock for a known 32-byte secret instead of generating one")
	outputPath := fs.String("output", "-", "output file path or '-' for stdout")

	if err := fs.Parse(args); err != nil {
		return err
	}

	var pair hashlock.Pair
	if strings.TrimSpace(*secretHex) != "" {
		secret, err := parseHash32(*secretHex)
		if err != nil {
			return fmt.Errorf("parse --secret: %w", err)
		}
		pair = hashlock.PairFromSecret(secret)
	} else {
		var err error
		pair, err = hashlock.NewPair()
		if err != nil {
			return err
		}
	}

	encoded, err := json.MarshalIndent(pairPayload{
		Secret:   pair.Secret.Hex(),
		HashLock: pair.HashLock.Hex(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	encoded = append(encoded, '\n')

	if strings.TrimSpace(*outputPath) == "" || *outputPath == "-" {
		_, err := stdout.Write(encoded)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(*outputPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(*outputPath, encoded, 0o600)
}

func parseHash32(raw string) (common.Hash, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "0x")
	raw = strings.TrimPrefix(raw, "0X")
	if raw == "" {
		return common.Hash{}, errors.New("hex value is empty")
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != 32 {
		return common.Hash{}, fmt.Errorf("hex length mismatch: got=%d want=32", len(b))
	}
	return common.BytesToHash(b), nil
}
