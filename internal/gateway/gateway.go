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

// Gateway is the origin-chain ledger client. It holds the locked value token,
// declares stake intents into its outbox, confirms redeem intents into its
// inbox, and releases value on progress-unstake.
type Gateway struct {
	*contract
}

func NewGateway(addr common.Address, caller Caller, submitter Submitter) (*Gateway, error) {
	c, err := newContract(addr, caller, submitter)
	if err != nil {
		return nil, err
	}
	return &Gateway{contract: c}, nil
}

func (g *Gateway) Address() common.Address { return g.addr }

func (g *Gateway) Nonce(ctx context.Context, account common.Address) (*big.Int, error) {
	return g.nonce(ctx, account)
}

func (g *Gateway) Bounty(ctx context.Context) (*big.Int, error) {
	return g.bountyAmount(ctx)
}

// ValueToken is the staked ERC20 token held by the Gateway.
func (g *Gateway) ValueToken(ctx context.Context) (common.Address, error) {
	return g.tokenAddress(ctx, "valueToken", gatewayabi.PackValueToken)
}

// BaseToken is the ERC20 token the bounty is paid in.
func (g *Gateway) BaseToken(ctx context.Context) (common.Address, error) {
	return g.tokenAddress(ctx, "baseToken", gatewayabi.PackBaseToken)
}

func (g *Gateway) IsStakeAmountApproved(ctx context.Context, staker common.Address, amount *big.Int) (bool, error) {
	token, err := g.ValueToken(ctx)
	if err != nil {
		return false, err
	}
	return g.isApproved(ctx, token, staker, amount)
}

func (g *Gateway) ApproveStakeAmount(ctx context.Context, amount *big.Int, opts TxOptions) (eth.SendResult, error) {
	token, err := g.ValueToken(ctx)
	if err != nil {
		return eth.SendResult{}, err
	}
	return g.approve(ctx, token, amount, opts)
}

func (g *Gateway) IsBountyApproved(ctx context.Context, facilitator common.Address) (bool, error) {
	bounty, err := g.Bounty(ctx)
	if err != nil {
		return false, err
	}
	if bounty.Sign() == 0 {
		// A zero bounty is a legal deployment configuration; nothing to approve.
		return true, nil
	}
	token, err := g.BaseToken(ctx)
	if err != nil {
		return false, err
	}
	return g.isApproved(ctx, token, facilitator, bounty)
}

func (g *Gateway) ApproveBounty(ctx context.Context, opts TxOptions) (eth.SendResult, error) {
	bounty, err := g.Bounty(ctx)
	if err != nil {
		return eth.SendResult{}, err
	}
	token, err := g.BaseToken(ctx)
	if err != nil {
		return eth.SendResult{}, err
	}
	return g.approve(ctx, token, bounty, opts)
}

func (g *Gateway) OutboxMessageStatus(ctx context.Context, messageHash common.Hash) (messageid.Status, error) {
	return g.outboxStatus(ctx, messageHash)
}

func (g *Gateway) InboxMessageStatus(ctx context.Context, messageHash common.Hash) (messageid.Status, error) {
	return g.inboxStatus(ctx, messageHash)
}

func (g *Gateway) LatestAnchorInfo(ctx context.Context) (AnchorInfo, error) {
	return g.latestAnchorInfo(ctx)
}

// DeclareStake submits Gateway.stake and decodes the StakeIntentDeclared
// event. The returned message hash, nonce, and block number come from the
// mined receipt, not from local recomputation.
func (g *Gateway) DeclareStake(ctx context.Context, intent messageid.Intent, opts TxOptions) (DeclareResult, error) {
	data, err := gatewayabi.PackStake(intentParams(intent))
	if err != nil {
		return DeclareResult{}, err
	}
	res, err := g.submit(ctx, g.addr, data, opts)
	if err != nil {
		return DeclareResult{}, err
	}
	decl, err := gatewayabi.ParseStakeIntentDeclared(res.Receipt.Logs, g.addr)
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

// ProveRemoteGateway registers the CoGateway account proof at blockHeight.
// Idempotent at the contract level.
func (g *Gateway) ProveRemoteGateway(ctx context.Context, blockHeight *big.Int, rlpAccount, rlpParentNodes []byte, opts TxOptions) (eth.SendResult, error) {
	return g.proveRemote(ctx, blockHeight, rlpAccount, rlpParentNodes, opts)
}

// ConfirmRedeemIntent moves the inbox slot for a redeem message from
// undeclared to declared, verifying the storage proof against the proven
// CoGateway account at blockHeight.
func (g *Gateway) ConfirmRedeemIntent(ctx context.Context, intent messageid.Intent, blockHeight *big.Int, rlpParentNodes []byte, opts TxOptions) (eth.SendResult, error) {
	data, err := gatewayabi.PackConfirmRedeemIntent(intentParams(intent), blockHeight, rlpParentNodes)
	if err != nil {
		return eth.SendResult{}, err
	}
	return g.submit(ctx, g.addr, data, opts)
}

// ProgressStake reveals the unlock secret on the outbox slot of a stake
// message, releasing the staked value to the Gateway's vault.
func (g *Gateway) ProgressStake(ctx context.Context, messageHash, unlockSecret common.Hash, opts TxOptions) (eth.SendResult, error) {
	return g.progress(ctx, "progressStake", messageHash, unlockSecret, opts)
}

// ProgressUnstake reveals the unlock secret on the inbox slot of a redeem
// message, releasing value to the beneficiary.
func (g *Gateway) ProgressUnstake(ctx context.Context, messageHash, unlockSecret common.Hash, opts TxOptions) (eth.SendResult, error) {
	return g.progress(ctx, "progressUnstake", messageHash, unlockSecret, opts)
}
