package transfer

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotFound          = errors.New("transfer: not found")
	ErrInvalidRequest    = errors.New("transfer: invalid request")
	ErrRequestMismatch   = errors.New("transfer: request mismatch")
	ErrInvalidTransition = errors.New("transfer: invalid transition")
)

// Store persists transfer jobs. Implementations must keep every write
// idempotent: repeating a mark with identical arguments succeeds, repeating
// it with conflicting arguments returns ErrRequestMismatch, and states never
// move backwards.
type Store interface {
	// UpsertPending records a new request in StatePending. Re-inserting an
	// identical request returns the existing job with created=false.
	UpsertPending(ctx context.Context, r Request) (Job, bool, error)

	Get(ctx context.Context, id [32]byte) (Job, error)
	GetByMessageHash(ctx context.Context, hash common.Hash) (Job, error)

	// ClaimRunnable leases up to limit not-yet-progressed jobs to owner for
	// ttl. A job whose lease expired is claimable again.
	ClaimRunnable(ctx context.Context, owner string, ttl time.Duration, limit int) ([]Job, error)

	MarkDeclared(ctx context.Context, id [32]byte, messageHash common.Hash, nonce, declaredAtHeight *big.Int) error
	MarkConfirmed(ctx context.Context, id [32]byte) error
	MarkLegProgressed(ctx context.Context, id [32]byte, leg Leg, txHash common.Hash) error

	SetUnlockSecret(ctx context.Context, id [32]byte, secret common.Hash) error
	RecordError(ctx context.Context, id [32]byte, msg string) error
}
