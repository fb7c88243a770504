// Package signerkey bootstraps the secp256k1 signing keys used by the
// facilitator binaries. A key can come from an inline hex string, a key
// file on disk (generated on first run), or a secrets provider.
package signerkey

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/stakemint/facilitator/internal/secrets"
)

var (
	ErrInvalidSource = errors.New("signerkey: invalid source")
	ErrInvalidKey    = errors.New("signerkey: invalid key")
)

// Source names exactly one place to load a key from.
type Source struct {
	// Hex is an inline private key, with or without the 0x prefix.
	Hex string
	// File is a key-file path. A missing file is created with a fresh key.
	File string
	// SecretName is looked up through the secrets provider.
	SecretName string
}

// Load resolves the source to a private key. The provider is only required
// when SecretName is set.
func Load(ctx context.Context, src Source, provider secrets.Provider) (*ecdsa.PrivateKey, error) {
	set := 0
	for _, v := range []string{src.Hex, src.File, src.SecretName} {
		if strings.TrimSpace(v) != "" {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: exactly one of hex, file, secret must be set", ErrInvalidSource)
	}

	switch {
	case strings.TrimSpace(src.Hex) != "":
		return parseHexKey(src.Hex)
	case strings.TrimSpace(src.File) != "":
		key, _, err := EnsureKeyFile(src.File)
		return key, err
	default:
		if provider == nil {
			return nil, fmt.Errorf("%w: secret source requires a provider", ErrInvalidSource)
		}
		v, err := provider.Get(ctx, strings.TrimSpace(src.SecretName))
		if err != nil {
			return nil, fmt.Errorf("signerkey: fetch secret %q: %w", src.SecretName, err)
		}
		return parseHexKey(v)
	}
}

// EnsureKeyFile loads a private key from path, generating one if absent.
// The key is stored as lowercase hex without 0x prefix and mode 0600 on Unix.
func EnsureKeyFile(path string) (*ecdsa.PrivateKey, bool, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false, fmt.Errorf("%w: key path required", ErrInvalidSource)
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		key, parseErr := parseHexKey(string(raw))
		if parseErr != nil {
			return nil, false, fmt.Errorf("signerkey: parse key %s: %w", path, parseErr)
		}
		return key, false, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, false, fmt.Errorf("signerkey: read key %s: %w", path, err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, false, fmt.Errorf("signerkey: generate key: %w", err)
	}
	keyHex := strings.ToLower(common.Bytes2Hex(crypto.FromECDSA(key)))

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, false, fmt.Errorf("signerkey: create key dir: %w", err)
	}
	if err := writeFile0600(path, []byte(keyHex+"\n")); err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// OwnerID is the lowercase signer address, used as the daemon's claim owner.
func OwnerID(key *ecdsa.PrivateKey) string {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	return strings.ToLower(addr.Hex())
}

func parseHexKey(v string) (*ecdsa.PrivateKey, error) {
	keyHex := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "0x"))
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

func writeFile0600(path string, bytes []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("signerkey: open key for write %s: %w", path, err)
	}
	if _, err := f.Write(bytes); err != nil {
		_ = f.Close()
		return fmt.Errorf("signerkey: write key %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("signerkey: sync key %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("signerkey: close key %s: %w", path, err)
	}
	return nil
}
