package hashlock

import (
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Pair is a commit-reveal secret and its lock. The lock is embedded in a
// transfer intent at declaration; the secret is revealed only when the
// message is progressed.
type Pair struct {
	Secret   common.Hash
	HashLock common.Hash
}

// NewPair generates a fresh random secret and its keccak256 lock.
func NewPair() (Pair, error) {
	var secret common.Hash
	if _, err := rand.Read(secret[:]); err != nil {
		return Pair{}, fmt.Errorf("hashlock: generate secret: %w", err)
	}
	return PairFromSecret(secret), nil
}

// PairFromSecret derives the lock for a known secret. Deterministic; used by
// callers reconstructing a pair for a message declared earlier.
func PairFromSecret(secret common.Hash) Pair {
	return Pair{
		Secret:   secret,
		HashLock: crypto.Keccak256Hash(secret.Bytes()),
	}
}

// Matches reports whether secret is the pre-image of lock.
func Matches(secret, lock common.Hash) bool {
	return crypto.Keccak256Hash(secret.Bytes()) == lock
}
