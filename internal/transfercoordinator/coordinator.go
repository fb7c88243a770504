// Package transfercoordinator drives claimed transfer jobs through the
// declare, confirm and progress phases. Each tick advances a job by at most
// one phase; chain-side status short-circuits make every step safe to retry.
package transfercoordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakemint/facilitator/internal/events"
	"github.com/stakemint/facilitator/internal/facilitator"
	"github.com/stakemint/facilitator/internal/gateway"
	"github.com/stakemint/facilitator/internal/hashlock"
	"github.com/stakemint/facilitator/internal/messageid"
	"github.com/stakemint/facilitator/internal/queue"
	"github.com/stakemint/facilitator/internal/transfer"
)

var (
	ErrInvalidConfig  = errors.New("transfercoordinator: invalid config")
	ErrSecretMismatch = errors.New("transfercoordinator: secret does not open the hash lock")
)

// Engine is the orchestration core the coordinator advances jobs through.
type Engine interface {
	Stake(ctx context.Context, req facilitator.StakeRequest, opts gateway.TxOptions) (gateway.DeclareResult, error)
	Redeem(ctx context.Context, req facilitator.RedeemRequest, opts gateway.TxOptions) (gateway.DeclareResult, error)
	ConfirmStakeIntent(ctx context.Context, intent messageid.Intent, blockHeight *big.Int, opts gateway.TxOptions) (facilitator.ConfirmResult, error)
	ConfirmRedeemIntent(ctx context.Context, intent messageid.Intent, blockHeight *big.Int, opts gateway.TxOptions) (facilitator.ConfirmResult, error)
	ProgressStakeMessage(ctx context.Context, messageHash, unlockSecret common.Hash, originOpts, auxOpts gateway.TxOptions) (facilitator.ProgressResult, error)
	ProgressRedeemMessage(ctx context.Context, messageHash, unlockSecret common.Hash, originOpts, auxOpts gateway.TxOptions) (facilitator.ProgressResult, error)
}

// BountySource reads the auxiliary bounty a redeem declaration must carry.
type BountySource interface {
	Bounty(ctx context.Context) (*big.Int, error)
}

type Config struct {
	Owner string

	ClaimTTL   time.Duration
	ClaimLimit int

	// OriginFrom and AuxFrom are the facilitator signer addresses per chain.
	OriginFrom common.Address
	AuxFrom    common.Address

	Now func() time.Time
}

type Coordinator struct {
	cfg    Config
	store  transfer.Store
	engine Engine
	bounty BountySource

	producer       queue.Producer
	lifecycleTopic string

	log *slog.Logger
}

func New(cfg Config, store transfer.Store, engine Engine, bounty BountySource, log *slog.Logger) (*Coordinator, error) {
	if store == nil || engine == nil || bounty == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if cfg.Owner == "" {
		return nil, fmt.Errorf("%w: missing owner", ErrInvalidConfig)
	}
	if cfg.ClaimTTL <= 0 {
		return nil, fmt.Errorf("%w: ClaimTTL must be > 0", ErrInvalidConfig)
	}
	if cfg.ClaimLimit <= 0 {
		cfg.ClaimLimit = 16
	}
	if cfg.OriginFrom == (common.Address{}) || cfg.AuxFrom == (common.Address{}) {
		return nil, fmt.Errorf("%w: missing signer addresses", ErrInvalidConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Coordinator{
		cfg:    cfg,
		store:  store,
		engine: engine,
		bounty: bounty,
		log:    log,
	}, nil
}

// WithPublisher configures optional lifecycle event publication.
func (c *Coordinator) WithPublisher(p queue.Producer, topic string) *Coordinator {
	c.producer = p
	c.lifecycleTopic = topic
	return c
}

// IngestRequest durably records a transfer request from the intake surfaces.
// A secret supplied at intake is stored immediately so progression can start
// as soon as the confirmation lands.
func (c *Coordinator) IngestRequest(ctx context.Context, req transfer.Request, secret *common.Hash) error {
	if secret != nil && !hashlock.Matches(*secret, req.HashLock) {
		return ErrSecretMismatch
	}
	if _, _, err := c.store.UpsertPending(ctx, req); err != nil {
		return err
	}
	if secret != nil {
		return c.store.SetUnlockSecret(ctx, req.ID, *secret)
	}
	return nil
}

// IngestProgress records a late secret reveal addressed by request id or
// message hash. The secret must open the job's hash lock.
func (c *Coordinator) IngestProgress(ctx context.Context, p events.TransferProgressV1) error {
	if err := p.Validate(); err != nil {
		return err
	}

	var job transfer.Job
	var err error
	if p.RequestID != "" {
		job, err = c.store.Get(ctx, common.HexToHash(p.RequestID))
	} else {
		job, err = c.store.GetByMessageHash(ctx, common.HexToHash(p.MessageHash))
	}
	if err != nil {
		return err
	}

	secret := common.HexToHash(p.UnlockSecret)
	if !hashlock.Matches(secret, job.Request.HashLock) {
		return ErrSecretMismatch
	}
	return c.store.SetUnlockSecret(ctx, job.Request.ID, secret)
}

// Tick claims runnable jobs and advances each by at most one phase. Remote
// failures are recorded on the job and left for the next tick; only store
// failures abort the tick.
func (c *Coordinator) Tick(ctx context.Context) error {
	jobs, err := c.store.ClaimRunnable(ctx, c.cfg.Owner, c.cfg.ClaimTTL, c.cfg.ClaimLimit)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if err := c.step(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) step(ctx context.Context, job transfer.Job) error {
	switch job.State {
	case transfer.StatePending:
		return c.declare(ctx, job)
	case transfer.StateDeclared:
		return c.confirm(ctx, job)
	case transfer.StateConfirmed, transfer.StateHalfProgressed:
		return c.progress(ctx, job)
	default:
		return nil
	}
}

func (c *Coordinator) declare(ctx context.Context, job transfer.Job) error {
	var (
		res gateway.DeclareResult
		err error
	)
	switch job.Request.Direction {
	case transfer.DirectionStake:
		res, err = c.engine.Stake(ctx, facilitator.StakeRequest{
			Staker:      job.Request.Actor,
			Amount:      job.Request.Amount,
			Beneficiary: job.Request.Beneficiary,
			GasPrice:    job.Request.GasPrice,
			GasLimit:    job.Request.GasLimit,
			HashLock:    job.Request.HashLock,
		}, gateway.TxOptions{From: c.cfg.OriginFrom})
	case transfer.DirectionRedeem:
		var bounty *big.Int
		bounty, err = c.bounty.Bounty(ctx)
		if err != nil {
			return c.recordFailure(ctx, job, "read bounty", err)
		}
		res, err = c.engine.Redeem(ctx, facilitator.RedeemRequest{
			Redeemer:    job.Request.Actor,
			Amount:      job.Request.Amount,
			Beneficiary: job.Request.Beneficiary,
			GasPrice:    job.Request.GasPrice,
			GasLimit:    job.Request.GasLimit,
			HashLock:    job.Request.HashLock,
		}, gateway.TxOptions{From: c.cfg.AuxFrom, Value: bounty})
	default:
		return c.recordFailure(ctx, job, "declare", fmt.Errorf("unknown direction %q", job.Request.Direction))
	}
	if err != nil {
		return c.recordFailure(ctx, job, "declare", err)
	}

	if err := c.store.MarkDeclared(ctx, job.Request.ID, res.MessageHash, res.Nonce, res.BlockNumber); err != nil {
		return err
	}
	job.MessageHash = res.MessageHash
	job.Nonce = res.Nonce
	c.publish(ctx, job, events.PhaseDeclared, res.TxHash)
	return nil
}

func (c *Coordinator) confirm(ctx context.Context, job transfer.Job) error {
	intent := messageid.Intent{
		Sender:      job.Request.Actor,
		Amount:      job.Request.Amount,
		Beneficiary: job.Request.Beneficiary,
		GasPrice:    job.Request.GasPrice,
		GasLimit:    job.Request.GasLimit,
		Nonce:       job.Nonce,
		HashLock:    job.Request.HashLock,
	}

	var (
		res facilitator.ConfirmResult
		err error
	)
	switch job.Request.Direction {
	case transfer.DirectionStake:
		res, err = c.engine.ConfirmStakeIntent(ctx, intent, job.DeclaredAtHeight, gateway.TxOptions{From: c.cfg.AuxFrom})
	case transfer.DirectionRedeem:
		res, err = c.engine.ConfirmRedeemIntent(ctx, intent, job.DeclaredAtHeight, gateway.TxOptions{From: c.cfg.OriginFrom})
	default:
		return c.recordFailure(ctx, job, "confirm", fmt.Errorf("unknown direction %q", job.Request.Direction))
	}
	if err != nil {
		// The anchor has not caught up with the declaration height yet.
		// Not a fault; the next tick retries.
		if errors.Is(err, facilitator.ErrPrecondition) {
			return nil
		}
		return c.recordFailure(ctx, job, "confirm", err)
	}

	if err := c.store.MarkConfirmed(ctx, job.Request.ID); err != nil {
		return err
	}
	c.publish(ctx, job, events.PhaseConfirmed, res.ConfirmTxHash)
	return nil
}

func (c *Coordinator) progress(ctx context.Context, job transfer.Job) error {
	if !job.HasSecret() {
		// Wait for a reveal through the progress intake.
		return nil
	}

	originOpts := gateway.TxOptions{From: c.cfg.OriginFrom}
	auxOpts := gateway.TxOptions{From: c.cfg.AuxFrom}

	var (
		res facilitator.ProgressResult
		err error
	)
	switch job.Request.Direction {
	case transfer.DirectionStake:
		res, err = c.engine.ProgressStakeMessage(ctx, job.MessageHash, job.UnlockSecret, originOpts, auxOpts)
	case transfer.DirectionRedeem:
		res, err = c.engine.ProgressRedeemMessage(ctx, job.MessageHash, job.UnlockSecret, originOpts, auxOpts)
	default:
		return c.recordFailure(ctx, job, "progress", fmt.Errorf("unknown direction %q", job.Request.Direction))
	}

	if serr := c.markLeg(ctx, &job, transfer.LegOrigin, res.Origin, events.PhaseOriginProgressed); serr != nil {
		return serr
	}
	if serr := c.markLeg(ctx, &job, transfer.LegAuxiliary, res.Auxiliary, events.PhaseAuxProgressed); serr != nil {
		return serr
	}

	if job.OriginProgressed && job.AuxProgressed {
		c.publish(ctx, job, events.PhaseProgressed, common.Hash{})
	}
	if err != nil {
		return c.recordFailure(ctx, job, "progress", err)
	}
	return nil
}

// markLeg persists a completed progression leg. Legs that failed remotely
// stay unmarked; their error reaches the job record via recordFailure.
func (c *Coordinator) markLeg(ctx context.Context, job *transfer.Job, leg transfer.Leg, outcome facilitator.LegOutcome, phase string) error {
	if outcome.Err != nil {
		return nil
	}
	already := job.OriginProgressed
	if leg == transfer.LegAuxiliary {
		already = job.AuxProgressed
	}
	if already {
		return nil
	}

	if err := c.store.MarkLegProgressed(ctx, job.Request.ID, leg, outcome.TxHash); err != nil {
		return err
	}
	if leg == transfer.LegOrigin {
		job.OriginProgressed = true
	} else {
		job.AuxProgressed = true
	}
	c.publish(ctx, *job, phase, outcome.TxHash)
	return nil
}

// recordFailure stores the failure message on the job and keeps ticking; the
// job stays in its current state and is retried on a later claim.
func (c *Coordinator) recordFailure(ctx context.Context, job transfer.Job, phase string, cause error) error {
	c.log.Warn("transfer step failed",
		"requestId", common.Hash(job.Request.ID).Hex(),
		"direction", string(job.Request.Direction),
		"phase", phase,
		"err", cause,
	)
	msg := fmt.Sprintf("%s: %v", phase, cause)
	if err := c.store.RecordError(ctx, job.Request.ID, msg); err != nil {
		return err
	}
	return nil
}

// publish emits a lifecycle event; events are advisory, so publish failures
// only log.
func (c *Coordinator) publish(ctx context.Context, job transfer.Job, phase string, txHash common.Hash) {
	if c.producer == nil {
		return
	}
	payload := events.BuildLifecycle(job, phase, txHash)
	raw, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn("encode lifecycle event", "phase", phase, "err", err)
		return
	}
	if err := c.producer.PublishKeyed(ctx, c.lifecycleTopic, payload.Key(), raw); err != nil {
		c.log.Warn("publish lifecycle event", "phase", phase, "err", err)
	}
}
