// Package facilitator drives hash-locked transfer messages through the
// declare, confirm, and progress phases across the origin and auxiliary
// chains. It validates locally before every remote call, short-circuits on
// already-reached states so re-invocation is always safe, and never retries
// internally; the caller owns retry policy.
package facilitator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakemint/facilitator/internal/eth"
	"github.com/stakemint/facilitator/internal/gateway"
	"github.com/stakemint/facilitator/internal/messageid"
	"github.com/stakemint/facilitator/internal/proof"
	"github.com/stakemint/facilitator/internal/proofvault"
)

// DefaultMessageBoxIndex is the storage index of the outbox mapping in the
// deployed gateway contracts; the inbox sits at the next index.
const DefaultMessageBoxIndex = 7

var (
	// ErrValidation marks locally detectable input problems. No remote call
	// was issued.
	ErrValidation = errors.New("facilitator: invalid input")

	// ErrPrecondition marks an operation whose on-chain prerequisites are not
	// yet met (missing allowance, unanchored height, undeclared message).
	ErrPrecondition = errors.New("facilitator: precondition not met")

	// ErrNotProgressable marks a progression leg whose status slot can never
	// reach PROGRESSED (undeclared, revoked, or revocation in flight).
	ErrNotProgressable = errors.New("facilitator: message not progressable")
)

// OriginLedger is the Gateway-side surface the facilitator consumes.
// *gateway.Gateway satisfies it.
type OriginLedger interface {
	Address() common.Address
	Nonce(ctx context.Context, account common.Address) (*big.Int, error)
	Bounty(ctx context.Context) (*big.Int, error)
	IsStakeAmountApproved(ctx context.Context, staker common.Address, amount *big.Int) (bool, error)
	ApproveStakeAmount(ctx context.Context, amount *big.Int, opts gateway.TxOptions) (eth.SendResult, error)
	IsBountyApproved(ctx context.Context, facilitator common.Address) (bool, error)
	ApproveBounty(ctx context.Context, opts gateway.TxOptions) (eth.SendResult, error)
	OutboxMessageStatus(ctx context.Context, messageHash common.Hash) (messageid.Status, error)
	InboxMessageStatus(ctx context.Context, messageHash common.Hash) (messageid.Status, error)
	LatestAnchorInfo(ctx context.Context) (gateway.AnchorInfo, error)
	DeclareStake(ctx context.Context, intent messageid.Intent, opts gateway.TxOptions) (gateway.DeclareResult, error)
	ProveRemoteGateway(ctx context.Context, blockHeight *big.Int, rlpAccount, rlpParentNodes []byte, opts gateway.TxOptions) (eth.SendResult, error)
	ConfirmRedeemIntent(ctx context.Context, intent messageid.Intent, blockHeight *big.Int, rlpParentNodes []byte, opts gateway.TxOptions) (eth.SendResult, error)
	ProgressStake(ctx context.Context, messageHash, unlockSecret common.Hash, opts gateway.TxOptions) (eth.SendResult, error)
	ProgressUnstake(ctx context.Context, messageHash, unlockSecret common.Hash, opts gateway.TxOptions) (eth.SendResult, error)
}

// AuxiliaryLedger is the CoGateway-side surface. *gateway.CoGateway
// satisfies it.
type AuxiliaryLedger interface {
	Address() common.Address
	Nonce(ctx context.Context, account common.Address) (*big.Int, error)
	Bounty(ctx context.Context) (*big.Int, error)
	IsRedeemAmountApproved(ctx context.Context, redeemer common.Address, amount *big.Int) (bool, error)
	ApproveRedeemAmount(ctx context.Context, amount *big.Int, opts gateway.TxOptions) (eth.SendResult, error)
	OutboxMessageStatus(ctx context.Context, messageHash common.Hash) (messageid.Status, error)
	InboxMessageStatus(ctx context.Context, messageHash common.Hash) (messageid.Status, error)
	LatestAnchorInfo(ctx context.Context) (gateway.AnchorInfo, error)
	DeclareRedeem(ctx context.Context, intent messageid.Intent, opts gateway.TxOptions) (gateway.DeclareResult, error)
	ProveRemoteGateway(ctx context.Context, blockHeight *big.Int, rlpAccount, rlpParentNodes []byte, opts gateway.TxOptions) (eth.SendResult, error)
	ConfirmStakeIntent(ctx context.Context, intent messageid.Intent, blockHeight *big.Int, rlpParentNodes []byte, opts gateway.TxOptions) (eth.SendResult, error)
	ProgressMint(ctx context.Context, messageHash, unlockSecret common.Hash, opts gateway.TxOptions) (eth.SendResult, error)
	ProgressRedeem(ctx context.Context, messageHash, unlockSecret common.Hash, opts gateway.TxOptions) (eth.SendResult, error)
}

type Config struct {
	Origin    OriginLedger
	Auxiliary AuxiliaryLedger
	Proofs    proof.Provider

	// Vault archives proof bundles between the prove and confirm calls.
	// Optional; failures are logged and never fail a confirmation.
	Vault proofvault.Vault

	// MessageBoxIndex is the outbox storage index in the gateway contracts.
	// Defaults to DefaultMessageBoxIndex.
	MessageBoxIndex uint64

	Logger *slog.Logger
}

type Facilitator struct {
	origin   OriginLedger
	aux      AuxiliaryLedger
	proofs   proof.Provider
	vault    proofvault.Vault
	boxIndex uint64
	logger   *slog.Logger
}

func New(cfg Config) (*Facilitator, error) {
	if cfg.Origin == nil || cfg.Auxiliary == nil {
		return nil, fmt.Errorf("%w: nil origin or auxiliary ledger", ErrValidation)
	}
	if cfg.Proofs == nil {
		return nil, fmt.Errorf("%w: nil proof provider", ErrValidation)
	}
	boxIndex := cfg.MessageBoxIndex
	if boxIndex == 0 {
		boxIndex = DefaultMessageBoxIndex
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Facilitator{
		origin:   cfg.Origin,
		aux:      cfg.Auxiliary,
		proofs:   cfg.Proofs,
		vault:    cfg.Vault,
		boxIndex: boxIndex,
		logger:   logger,
	}, nil
}

// StakeRequest describes a new stake declaration. The nonce is fetched from
// the origin ledger, never supplied by the caller.
type StakeRequest struct {
	Staker      common.Address
	Amount      *big.Int
	Beneficiary common.Address
	GasPrice    *big.Int
	GasLimit    *big.Int
	HashLock    common.Hash
}

// RedeemRequest is the auxiliary-side mirror of StakeRequest.
type RedeemRequest struct {
	Redeemer    common.Address
	Amount      *big.Int
	Beneficiary common.Address
	GasPrice    *big.Int
	GasLimit    *big.Int
	HashLock    common.Hash
}

func validateRequestFields(actor common.Address, amount *big.Int, beneficiary common.Address, gasPrice, gasLimit *big.Int, hashLock common.Hash, opts gateway.TxOptions) error {
	if actor == (common.Address{}) {
		return fmt.Errorf("%w: zero actor address", ErrValidation)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if beneficiary == (common.Address{}) {
		return fmt.Errorf("%w: zero beneficiary address", ErrValidation)
	}
	if gasPrice == nil || gasPrice.Sign() < 0 {
		return fmt.Errorf("%w: nil or negative gas price", ErrValidation)
	}
	if gasLimit == nil || gasLimit.Sign() < 0 {
		return fmt.Errorf("%w: nil or negative gas limit", ErrValidation)
	}
	if hashLock == (common.Hash{}) {
		return fmt.Errorf("%w: zero hash lock", ErrValidation)
	}
	if opts.From == (common.Address{}) {
		return fmt.Errorf("%w: missing from address", ErrValidation)
	}
	return nil
}

// Stake declares a stake intent on the origin chain: allowance checks first,
// then nonce fetch, then the declare call. Remote failures propagate
// unchanged.
func (f *Facilitator) Stake(ctx context.Context, req StakeRequest, opts gateway.TxOptions) (gateway.DeclareResult, error) {
	if err := validateRequestFields(req.Staker, req.Amount, req.Beneficiary, req.GasPrice, req.GasLimit, req.HashLock, opts); err != nil {
		return gateway.DeclareResult{}, err
	}

	approved, err := f.origin.IsStakeAmountApproved(ctx, req.Staker, req.Amount)
	if err != nil {
		return gateway.DeclareResult{}, err
	}
	if !approved {
		if req.Staker != opts.From {
			return gateway.DeclareResult{}, fmt.Errorf("%w: stake amount not approved and staker %s is not the transaction sender", ErrPrecondition, req.Staker)
		}
		if _, err := f.origin.ApproveStakeAmount(ctx, req.Amount, opts); err != nil {
			return gateway.DeclareResult{}, err
		}
		f.logger.Info("approved stake amount", "staker", req.Staker, "amount", req.Amount)
	}

	bountyApproved, err := f.origin.IsBountyApproved(ctx, opts.From)
	if err != nil {
		return gateway.DeclareResult{}, err
	}
	if !bountyApproved {
		if _, err := f.origin.ApproveBounty(ctx, opts); err != nil {
			return gateway.DeclareResult{}, err
		}
		f.logger.Info("approved bounty", "facilitator", opts.From)
	}

	nonce, err := f.origin.Nonce(ctx, req.Staker)
	if err != nil {
		return gateway.DeclareResult{}, err
	}

	intent := messageid.Intent{
		Sender:      req.Staker,
		Amount:      req.Amount,
		Beneficiary: req.Beneficiary,
		GasPrice:    req.GasPrice,
		GasLimit:    req.GasLimit,
		Nonce:       nonce,
		HashLock:    req.HashLock,
	}
	res, err := f.origin.DeclareStake(ctx, intent, opts)
	if err != nil {
		return gateway.DeclareResult{}, err
	}
	f.logger.Info("stake declared",
		"messageHash", res.MessageHash, "nonce", res.Nonce, "block", res.BlockNumber)
	return res, nil
}

// Redeem declares a redeem intent on the auxiliary chain. opts.Value must
// equal the current bounty exactly; zero is a legal bounty, so the check is
// big.Int equality against an explicitly supplied value, never truthiness.
func (f *Facilitator) Redeem(ctx context.Context, req RedeemRequest, opts gateway.TxOptions) (gateway.DeclareResult, error) {
	if err := validateRequestFields(req.Redeemer, req.Amount, req.Beneficiary, req.GasPrice, req.GasLimit, req.HashLock, opts); err != nil {
		return gateway.DeclareResult{}, err
	}
	if opts.Value == nil {
		return gateway.DeclareResult{}, fmt.Errorf("%w: redeem requires an explicit transaction value equal to the bounty", ErrValidation)
	}

	bounty, err := f.aux.Bounty(ctx)
	if err != nil {
		return gateway.DeclareResult{}, err
	}
	if opts.Value.Cmp(bounty) != 0 {
		return gateway.DeclareResult{}, fmt.Errorf("%w: transaction value %s does not equal bounty %s", ErrValidation, opts.Value, bounty)
	}

	approved, err := f.aux.IsRedeemAmountApproved(ctx, req.Redeemer, req.Amount)
	if err != nil {
		return gateway.DeclareResult{}, err
	}
	if !approved {
		if req.Redeemer != opts.From {
			return gateway.DeclareResult{}, fmt.Errorf("%w: redeem amount not approved and redeemer %s is not the transaction sender", ErrPrecondition, req.Redeemer)
		}
		if _, err := f.aux.ApproveRedeemAmount(ctx, req.Amount, opts); err != nil {
			return gateway.DeclareResult{}, err
		}
		f.logger.Info("approved redeem amount", "redeemer", req.Redeemer, "amount", req.Amount)
	}

	nonce, err := f.aux.Nonce(ctx, req.Redeemer)
	if err != nil {
		return gateway.DeclareResult{}, err
	}

	intent := messageid.Intent{
		Sender:      req.Redeemer,
		Amount:      req.Amount,
		Beneficiary: req.Beneficiary,
		GasPrice:    req.GasPrice,
		GasLimit:    req.GasLimit,
		Nonce:       nonce,
		HashLock:    req.HashLock,
	}
	res, err := f.aux.DeclareRedeem(ctx, intent, opts)
	if err != nil {
		return gateway.DeclareResult{}, err
	}
	f.logger.Info("redeem declared",
		"messageHash", res.MessageHash, "nonce", res.Nonce, "block", res.BlockNumber)
	return res, nil
}
