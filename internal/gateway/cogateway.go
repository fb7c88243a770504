package gateway

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakemint/facilitator/internal/eth"
	"github.com/stakemint/facilitator/internal/gatewayabi"
	"github.com/stakemint/facilitator/internal/messageid"
)

// CoGateway is the auxiliary-chain ledger client, the structural mirror of
// Gateway: it declares redeem intents into its outbox, confirms stake intents
// into its inbox, and mints the utility-token representation on
// progress-mint.
type CoGateway struct {
	*contract
}

func NewCoGateway(addr common.Address, caller Caller, submitter Submitter) (*CoGateway, error) {
	c, err := newContract(addr, caller, submitter)
	if err != nil {
		return nil, err
	}
	return &CoGateway{contract: c}, nil
}

func (g *CoGateway) Address() common.Address { return g.addr }

func (g *CoGateway) Nonce(ctx context.Context, account common.Address) (*big.Int, error) {
	return g.nonce(ctx, account)
}

// Bounty is the payment required alongside a redeem declaration. It is
// attached as transaction value rather than as a token allowance.
func (g *CoGateway) Bounty(ctx context.Context) (*big.Int, error) {
	return g.bountyAmount(ctx)
}

// UtilityToken is the auxiliary-chain representation of the staked value.
func (g *CoGateway) UtilityToken(ctx context.Context) (common.Address, error) {
	return g.tokenAddress(ctx, "utilityToken", gatewayabi.PackUtilityToken)
}

func (g *CoGateway) IsRedeemAmountApproved(ctx context.Context, redeemer common.Address, amount *big.Int) (bool, error) {
	token, err := g.UtilityToken(ctx)
	if err != nil {
		return false, err
	}
	return g.isApproved(ctx, token, redeemer, amount)
}

func (g *CoGateway) ApproveRedeemAmount(ctx context.Context, amount *big.Int, opts TxOptions) (eth.SendResult, error) {
	token, err := g.UtilityToken(ctx)
	if err != nil {
		return eth.SendResult{}, err
	}
	return g.approve(ctx, token, amount, opts)
}

func (g *CoGateway) OutboxMessageStatus(ctx context.Context, messageHash common.Hash) (messageid.Status, error) {
	return g.outboxStatus(ctx, messageHash)
}

func (g *CoGateway) InboxMessageStatus(ctx context.Context, messageHash common.Hash) (messageid.Status, error) {
	return g.inboxStatus(ctx, messageHash)
}

func (g *CoGateway) LatestAnchorInfo(ctx context.Context) (AnchorInfo, error) {
	return g.latestAnchorInfo(ctx)
}

// DeclareRedeem submits the payable CoGateway.redeem call; opts.Value must
// equal the bounty (the facilitator validates this before calling).
func (g *CoGateway) DeclareRedeem(ctx context.Context, intent messageid.Intent, opts TxOptions) (DeclareResult, error) {
	data, err := gatewayabi.PackRedeem(intentParams(intent))
	if err != nil {
		return DeclareResult{}, err
	}
	res, err := g.submit(ctx, g.addr, data, opts)
	if err != nil {
		return DeclareResult{}, err
	}
	decl, err := gatewayabi.ParseRedeemIntentDeclared(res.Receipt.Logs, g.addr)
	if err != nil {
		return DeclareResult{}, fmt.Errorf("%w: %v", ErrNoDeclaration, err)
	}
	return DeclareResult{
		MessageHash: decl.MessageHash,
		Nonce:       decl.Nonce,
		BlockNumber: res.Receipt.BlockNumber,
		TxHash:      res.TxHash,
	}, nil
}

// ProveRemoteGateway registers the origin Gateway account proof at
// blockHeight. Idempotent at the contract level.
func (g *CoGateway) ProveRemoteGateway(ctx context.Context, blockHeight *big.Int, rlpAccount, rlpParentNodes []byte, opts TxOptions) (eth.SendResult, error) {
	return g.proveRemote(ctx, blockHeight, rlpAccount, rlpParentNodes, opts)
}

// ConfirmStakeIntent moves the inbox slot for a stake message from undeclared
// to declared using the Gateway storage proof.
func (g *CoGateway) ConfirmStakeIntent(ctx context.Context, intent messageid.Intent, blockHeight *big.Int, rlpParentNodes []byte, opts TxOptions) (eth.SendResult, error) {
	data, err := gatewayabi.PackConfirmStakeIntent(intentParams(intent), blockHeight, rlpParentNodes)
	if err != nil {
		return eth.SendResult{}, err
	}
	return g.submit(ctx, g.addr, data, opts)
}

// ProgressMint reveals the unlock secret on the inbox slot of a stake
// message, minting utility tokens to the beneficiary.
func (g *CoGateway) ProgressMint(ctx context.Context, messageHash, unlockSecret common.Hash, opts TxOptions) (eth.SendResult, error) {
	return g.progress(ctx, "progressMint", messageHash, unlockSecret, opts)
}

// ProgressRedeem reveals the unlock secret on the outbox slot of a redeem
// message, burning the redeemed utility tokens.
func (g *CoGateway) ProgressRedeem(ctx context.Context, messageHash, unlockSecret common.Hash, opts TxOptions) (eth.SendResult, error) {
	return g.progress(ctx, "progressRedeem", messageHash, unlockSecret, opts)
}
