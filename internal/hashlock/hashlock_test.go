package hashlock

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestNewPair(t *testing.T) {
	t.Parallel()

	p1, err := NewPair()
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	if p1.Secret == (common.Hash{}) {
		t.Fatal("secret must be non-zero")
	}
	if p1.HashLock != crypto.Keccak256Hash(p1.Secret.Bytes()) {
		t.Fatal("lock is not keccak256(secret)")
	}

	p2, err := NewPair()
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	if p1.Secret == p2.Secret {
		t.Fatal("two generated secrets collided")
	}
}

func TestPairFromSecret_Deterministic(t *testing.T) {
	t.Parallel()

	secret := common.HexToHash("0x0102030405060708091011121314151617181920212223242526272829303132")
	p1 := PairFromSecret(secret)
	p2 := PairFromSecret(secret)
	if p1 != p2 {
		t.Fatal("PairFromSecret is not deterministic")
	}
	if p1.HashLock == secret {
		t.Fatal("lock must differ from secret")
	}
}

func TestMatches(t *testing.T) {
	t.Parallel()

	p := PairFromSecret(common.HexToHash("0xaa"))
	if !Matches(p.Secret, p.HashLock) {
		t.Fatal("secret must match its own lock")
	}
	if Matches(common.HexToHash("0xbb"), p.HashLock) {
		t.Fatal("wrong secret must not match")
	}
}
