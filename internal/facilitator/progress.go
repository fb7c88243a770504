package facilitator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakemint/facilitator/internal/eth"
	"github.com/stakemint/facilitator/internal/gateway"
	"github.com/stakemint/facilitator/internal/hashlock"
	"github.com/stakemint/facilitator/internal/messageid"
)

// LegOutcome is one side of a progression. Exactly one of AlreadyProgressed,
// a non-zero TxHash, or Err describes what happened on that chain.
type LegOutcome struct {
	AlreadyProgressed bool
	TxHash            common.Hash
	Err               error
}

// ProgressResult carries both legs of a progression. Legs fail and succeed
// independently; a partial result is a valid recoverable state, re-driveable
// by invoking the operation again.
type ProgressResult struct {
	Origin    LegOutcome
	Auxiliary LegOutcome
}

// leg is one chain's half of a progression: a status read on its own slot
// followed by the secret-revealing write.
type leg struct {
	side     string
	status   func(ctx context.Context, hash common.Hash) (messageid.Status, error)
	progress func(ctx context.Context, hash, secret common.Hash, opts gateway.TxOptions) (eth.SendResult, error)
	opts     gateway.TxOptions
}

// ProgressStakeMessage reveals the unlock secret on both chains concurrently:
// progress-stake on the origin outbox and progress-mint on the auxiliary
// inbox. The legs never cancel each other; either may legitimately complete
// alone. The returned error joins the per-leg failures.
func (f *Facilitator) ProgressStakeMessage(ctx context.Context, messageHash, unlockSecret common.Hash, originOpts, auxOpts gateway.TxOptions) (ProgressResult, error) {
	return f.progressBoth(ctx, messageHash, unlockSecret,
		leg{side: "origin", status: f.origin.OutboxMessageStatus, progress: f.origin.ProgressStake, opts: originOpts},
		leg{side: "auxiliary", status: f.aux.InboxMessageStatus, progress: f.aux.ProgressMint, opts: auxOpts},
	)
}

// ProgressRedeemMessage is the mirror: progress-redeem on the auxiliary
// outbox and progress-unstake on the origin inbox.
func (f *Facilitator) ProgressRedeemMessage(ctx context.Context, messageHash, unlockSecret common.Hash, originOpts, auxOpts gateway.TxOptions) (ProgressResult, error) {
	return f.progressBoth(ctx, messageHash, unlockSecret,
		leg{side: "origin", status: f.origin.InboxMessageStatus, progress: f.origin.ProgressUnstake, opts: originOpts},
		leg{side: "auxiliary", status: f.aux.OutboxMessageStatus, progress: f.aux.ProgressRedeem, opts: auxOpts},
	)
}

func (f *Facilitator) progressBoth(ctx context.Context, messageHash, unlockSecret common.Hash, origin, aux leg) (ProgressResult, error) {
	if messageHash == (common.Hash{}) {
		return ProgressResult{}, fmt.Errorf("%w: zero message hash", ErrValidation)
	}
	if unlockSecret == (common.Hash{}) {
		return ProgressResult{}, fmt.Errorf("%w: zero unlock secret", ErrValidation)
	}

	var (
		wg  sync.WaitGroup
		res ProgressResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		res.Origin = f.progressLeg(ctx, origin, messageHash, unlockSecret)
	}()
	go func() {
		defer wg.Done()
		res.Auxiliary = f.progressLeg(ctx, aux, messageHash, unlockSecret)
	}()
	wg.Wait()

	return res, errors.Join(res.Origin.Err, res.Auxiliary.Err)
}

func (f *Facilitator) progressLeg(ctx context.Context, l leg, messageHash, unlockSecret common.Hash) LegOutcome {
	status, err := l.status(ctx, messageHash)
	if err != nil {
		return LegOutcome{Err: err}
	}
	switch status {
	case messageid.StatusProgressed:
		f.logger.Info("leg already progressed", "side", l.side, "messageHash", messageHash)
		return LegOutcome{AlreadyProgressed: true}
	case messageid.StatusDeclared:
		// fall through to the write
	default:
		return LegOutcome{Err: fmt.Errorf("%w: %s slot is %s", ErrNotProgressable, l.side, status)}
	}

	sent, err := l.progress(ctx, messageHash, unlockSecret, l.opts)
	if err != nil {
		return LegOutcome{Err: err}
	}
	f.logger.Info("leg progressed", "side", l.side, "messageHash", messageHash, "tx", sent.TxHash)
	return LegOutcome{TxHash: sent.TxHash}
}

// ProgressStake is the convenience composition: validate, check the secret
// against the intent's hash lock, confirm, then progress. The first failing
// step's error surfaces untouched.
func (f *Facilitator) ProgressStake(ctx context.Context, intent messageid.Intent, blockHeight *big.Int, unlockSecret common.Hash, originOpts, auxOpts gateway.TxOptions) (ProgressResult, error) {
	messageHash, err := f.prepareProgress(intent, unlockSecret, func() (common.Hash, error) {
		return messageid.StakeMessageHash(intent, f.origin.Address())
	})
	if err != nil {
		return ProgressResult{}, err
	}
	if _, err := f.ConfirmStakeIntent(ctx, intent, blockHeight, auxOpts); err != nil {
		return ProgressResult{}, err
	}
	return f.ProgressStakeMessage(ctx, messageHash, unlockSecret, originOpts, auxOpts)
}

// ProgressRedeem mirrors ProgressStake for the redeem direction; the
// confirmation lands on the origin chain.
func (f *Facilitator) ProgressRedeem(ctx context.Context, intent messageid.Intent, blockHeight *big.Int, unlockSecret common.Hash, originOpts, auxOpts gateway.TxOptions) (ProgressResult, error) {
	messageHash, err := f.prepareProgress(intent, unlockSecret, func() (common.Hash, error) {
		return messageid.RedeemMessageHash(intent, f.aux.Address())
	})
	if err != nil {
		return ProgressResult{}, err
	}
	if _, err := f.ConfirmRedeemIntent(ctx, intent, blockHeight, originOpts); err != nil {
		return ProgressResult{}, err
	}
	return f.ProgressRedeemMessage(ctx, messageHash, unlockSecret, originOpts, auxOpts)
}

func (f *Facilitator) prepareProgress(intent messageid.Intent, unlockSecret common.Hash, hash func() (common.Hash, error)) (common.Hash, error) {
	if !hashlock.Matches(unlockSecret, intent.HashLock) {
		return common.Hash{}, fmt.Errorf("%w: unlock secret does not match the intent hash lock", ErrValidation)
	}
	messageHash, err := hash()
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return messageHash, nil
}
