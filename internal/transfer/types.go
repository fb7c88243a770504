// Package transfer tracks facilitated transfer requests through their
// lifecycle so an interrupted daemon can resume each one from its last
// persisted step.
package transfer

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// State is a monotonic job phase. Writes never move a job backwards.
type State uint8

const (
	StateUnknown State = iota
	StatePending
	StateDeclared
	StateConfirmed

	// StateHalfProgressed means exactly one progression leg has landed; the
	// job stays claimable until the other leg completes.
	StateHalfProgressed
	StateProgressed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDeclared:
		return "declared"
	case StateConfirmed:
		return "confirmed"
	case StateHalfProgressed:
		return "half_progressed"
	case StateProgressed:
		return "progressed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

type Direction string

const (
	DirectionStake  Direction = "stake"
	DirectionRedeem Direction = "redeem"
)

// Leg names one side of a progression.
type Leg uint8

const (
	LegOrigin Leg = iota
	LegAuxiliary
)

func (l Leg) String() string {
	switch l {
	case LegOrigin:
		return "origin"
	case LegAuxiliary:
		return "auxiliary"
	default:
		return fmt.Sprintf("leg(%d)", uint8(l))
	}
}

// Request captures the caller-supplied transfer parameters. Immutable once
// stored; the nonce is assigned at declaration time, not here.
type Request struct {
	ID          [32]byte
	Direction   Direction
	Actor       common.Address
	Amount      *big.Int
	Beneficiary common.Address
	GasPrice    *big.Int
	GasLimit    *big.Int
	HashLock    common.Hash
}

func (r Request) Validate() error {
	if r.ID == ([32]byte{}) {
		return fmt.Errorf("%w: zero request id", ErrInvalidRequest)
	}
	if r.Direction != DirectionStake && r.Direction != DirectionRedeem {
		return fmt.Errorf("%w: direction %q", ErrInvalidRequest, r.Direction)
	}
	if r.Actor == (common.Address{}) {
		return fmt.Errorf("%w: zero actor", ErrInvalidRequest)
	}
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if r.Beneficiary == (common.Address{}) {
		return fmt.Errorf("%w: zero beneficiary", ErrInvalidRequest)
	}
	if r.GasPrice == nil || r.GasPrice.Sign() < 0 {
		return fmt.Errorf("%w: nil or negative gas price", ErrInvalidRequest)
	}
	if r.GasLimit == nil || r.GasLimit.Sign() < 0 {
		return fmt.Errorf("%w: nil or negative gas limit", ErrInvalidRequest)
	}
	if r.HashLock == (common.Hash{}) {
		return fmt.Errorf("%w: zero hash lock", ErrInvalidRequest)
	}
	return nil
}

// Job is one tracked transfer. MessageHash, Nonce, and DeclaredAtHeight are
// set by MarkDeclared; a zero UnlockSecret means the secret has not been
// revealed yet.
type Job struct {
	Request Request
	State   State

	MessageHash      common.Hash
	Nonce            *big.Int
	DeclaredAtHeight *big.Int

	UnlockSecret common.Hash

	OriginProgressed bool
	AuxProgressed    bool
	OriginTxHash     common.Hash
	AuxTxHash        common.Hash

	LastError string
}

// HasSecret reports whether the unlock secret has been revealed for this job.
func (j Job) HasSecret() bool {
	return j.UnlockSecret != (common.Hash{})
}

// progressState derives the post-write state from the two leg flags.
func progressState(origin, aux bool) State {
	switch {
	case origin && aux:
		return StateProgressed
	case origin || aux:
		return StateHalfProgressed
	default:
		return StateConfirmed
	}
}
