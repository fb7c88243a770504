package signerkey

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestEnsureKeyFile_CreatesAndReuses(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "signer.key")

	key1, created1, err := EnsureKeyFile(path)
	if err != nil {
		t.Fatalf("EnsureKeyFile create: %v", err)
	}
	if !created1 {
		t.Fatalf("created1: got false want true")
	}
	owner1 := OwnerID(key1)
	if len(owner1) != 42 || owner1[:2] != "0x" {
		t.Fatalf("owner id format invalid: %q", owner1)
	}
	if owner1 != strings.ToLower(owner1) {
		t.Fatalf("owner id not lowercase: %q", owner1)
	}

	key2, created2, err := EnsureKeyFile(path)
	if err != nil {
		t.Fatalf("EnsureKeyFile reuse: %v", err)
	}
	if created2 {
		t.Fatalf("created2: got true want false")
	}
	if OwnerID(key2) != owner1 {
		t.Fatalf("address mismatch: got %q want %q", OwnerID(key2), owner1)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat key: %v", err)
		}
		if got := info.Mode().Perm(); got != 0o600 {
			t.Fatalf("permissions: got %o want 600", got)
		}
	}
}

func TestLoad_HexSource(t *testing.T) {
	t.Parallel()

	gen, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	keyHex := "0x" + strings.ToLower(hex.EncodeToString(crypto.FromECDSA(gen)))

	key, err := Load(context.Background(), Source{Hex: keyHex}, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if OwnerID(key) != OwnerID(gen) {
		t.Fatalf("loaded key does not match")
	}

	if _, err := Load(context.Background(), Source{Hex: "0xnot-a-key"}, nil); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("err = %v, want ErrInvalidKey", err)
	}
}

func TestLoad_SourceExclusivity(t *testing.T) {
	t.Parallel()

	cases := []Source{
		{},
		{Hex: "abc", File: "/tmp/k"},
		{File: "/tmp/k", SecretName: "s"},
	}
	for _, src := range cases {
		if _, err := Load(context.Background(), src, nil); !errors.Is(err, ErrInvalidSource) {
			t.Fatalf("Load(%+v) = %v, want ErrInvalidSource", src, err)
		}
	}

	// Secret source without a provider.
	if _, err := Load(context.Background(), Source{SecretName: "k"}, nil); !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource for nil provider")
	}
}

type fakeProvider struct {
	values map[string]string
	err    error
}

func (p *fakeProvider) Get(_ context.Context, key string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	v, ok := p.values[key]
	if !ok {
		return "", errors.New("missing")
	}
	return v, nil
}

func TestLoad_SecretSource(t *testing.T) {
	t.Parallel()

	gen, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	p := &fakeProvider{values: map[string]string{
		"facilitator/signer": hex.EncodeToString(crypto.FromECDSA(gen)),
	}}

	key, err := Load(context.Background(), Source{SecretName: "facilitator/signer"}, p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if OwnerID(key) != OwnerID(gen) {
		t.Fatalf("loaded key does not match")
	}

	p.err = errors.New("boom")
	if _, err := Load(context.Background(), Source{SecretName: "facilitator/signer"}, p); err == nil {
		t.Fatalf("expected provider error to propagate")
	}
}
