package idempotency

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

const requestIDPrefixV1 = "transfer-request"

// RequestIDV1 computes the canonical id of a transfer request accepted at the
// intake boundary (API or queue).
//
// Derivation:
//
//	requestId = keccak256("transfer-request" || direction || sender || hashLock || entropyBE64)
//
// The id keys the durable transfer job; the same direction/sender/hashLock
// with the same entropy always maps to the same job, so queue redelivery and
// API retries are deduplicated instead of declaring twice.
func RequestIDV1(direction string, sender [20]byte, hashLock [32]byte, entropy uint64) [32]byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(requestIDPrefixV1))
	_, _ = h.Write([]byte(direction))
	_, _ = h.Write(sender[:])
	_, _ = h.Write(hashLock[:])

	var ent [8]byte
	binary.BigEndian.PutUint64(ent[:], entropy)
	_, _ = h.Write(ent[:])

	sum := h.Sum(nil)
	var out [32]byte
	copy(out[:], sum)
	return out
}
