package facilitator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakemint/facilitator/internal/eth"
	"github.com/stakemint/facilitator/internal/gateway"
	"github.com/stakemint/facilitator/internal/messageid"
	"github.com/stakemint/facilitator/internal/proof"
	"github.com/stakemint/facilitator/internal/proofvault"
)

// ConfirmResult reports a confirmation. AlreadyConfirmed set means the target
// inbox slot had already left UNDECLARED and no transaction was sent.
type ConfirmResult struct {
	MessageHash      common.Hash
	AlreadyConfirmed bool
	ProveTxHash      common.Hash
	ConfirmTxHash    common.Hash
}

// ConfirmStakeIntent proves the origin Gateway's outbox entry to the
// auxiliary chain and confirms the stake message into the CoGateway inbox.
// The message hash is recomputed locally from the intent; caller-supplied
// hashes never drive writes.
func (f *Facilitator) ConfirmStakeIntent(ctx context.Context, intent messageid.Intent, blockHeight *big.Int, opts gateway.TxOptions) (ConfirmResult, error) {
	return f.confirm(ctx, confirmPlan{
		direction:    proofvault.DirectionStake,
		provenSource: f.origin.Address(),
		hash: func() (common.Hash, error) {
			return messageid.StakeMessageHash(intent, f.origin.Address())
		},
		anchorSide:   f.aux.LatestAnchorInfo,
		outboxStatus: f.origin.OutboxMessageStatus,
		inboxStatus:  f.aux.InboxMessageStatus,
		prove:        f.aux.ProveRemoteGateway,
		confirm: func(ctx context.Context, height *big.Int, storageProof []byte, opts gateway.TxOptions) (common.Hash, error) {
			res, err := f.aux.ConfirmStakeIntent(ctx, intent, height, storageProof, opts)
			return res.TxHash, err
		},
	}, blockHeight, opts)
}

// ConfirmRedeemIntent is the structural mirror: CoGateway outbox proven to
// the origin chain, redeem message confirmed into the Gateway inbox.
func (f *Facilitator) ConfirmRedeemIntent(ctx context.Context, intent messageid.Intent, blockHeight *big.Int, opts gateway.TxOptions) (ConfirmResult, error) {
	return f.confirm(ctx, confirmPlan{
		direction:    proofvault.DirectionRedeem,
		provenSource: f.aux.Address(),
		hash: func() (common.Hash, error) {
			return messageid.RedeemMessageHash(intent, f.aux.Address())
		},
		anchorSide:   f.origin.LatestAnchorInfo,
		outboxStatus: f.aux.OutboxMessageStatus,
		inboxStatus:  f.origin.InboxMessageStatus,
		prove:        f.origin.ProveRemoteGateway,
		confirm: func(ctx context.Context, height *big.Int, storageProof []byte, opts gateway.TxOptions) (common.Hash, error) {
			res, err := f.origin.ConfirmRedeemIntent(ctx, intent, height, storageProof, opts)
			return res.TxHash, err
		},
	}, blockHeight, opts)
}

// confirmPlan abstracts over the two directions; the source chain holds the
// declared outbox entry, the target chain verifies and confirms.
type confirmPlan struct {
	direction    string
	provenSource common.Address
	hash         func() (common.Hash, error)
	anchorSide   func(ctx context.Context) (gateway.AnchorInfo, error)
	outboxStatus func(ctx context.Context, hash common.Hash) (messageid.Status, error)
	inboxStatus  func(ctx context.Context, hash common.Hash) (messageid.Status, error)
	prove        func(ctx context.Context, height *big.Int, rlpAccount, rlpNodes []byte, opts gateway.TxOptions) (eth.SendResult, error)
	confirm      func(ctx context.Context, height *big.Int, storageProof []byte, opts gateway.TxOptions) (common.Hash, error)
}

func (f *Facilitator) confirm(ctx context.Context, plan confirmPlan, blockHeight *big.Int, opts gateway.TxOptions) (ConfirmResult, error) {
	if blockHeight == nil || blockHeight.Sign() < 0 {
		return ConfirmResult{}, fmt.Errorf("%w: nil or negative block height", ErrValidation)
	}
	if opts.From == (common.Address{}) {
		return ConfirmResult{}, fmt.Errorf("%w: missing from address", ErrValidation)
	}

	messageHash, err := plan.hash()
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	// The proof is only verifiable up to the target chain's most recently
	// anchored source state root. Checked before touching the proof provider.
	anchor, err := plan.anchorSide(ctx)
	if err != nil {
		return ConfirmResult{}, err
	}
	if anchor.BlockHeight.Cmp(blockHeight) < 0 {
		return ConfirmResult{}, fmt.Errorf("%w: anchored height %s is below requested height %s", ErrPrecondition, anchor.BlockHeight, blockHeight)
	}

	outbox, err := plan.outboxStatus(ctx, messageHash)
	if err != nil {
		return ConfirmResult{}, err
	}
	if outbox == messageid.StatusUndeclared {
		return ConfirmResult{}, fmt.Errorf("%w: message %s is not declared on the source chain", ErrPrecondition, messageHash)
	}

	inbox, err := plan.inboxStatus(ctx, messageHash)
	if err != nil {
		return ConfirmResult{}, err
	}
	switch inbox {
	case messageid.StatusDeclared, messageid.StatusProgressed, messageid.StatusRevoked:
		f.logger.Info("confirmation already settled",
			"messageHash", messageHash, "inboxStatus", inbox.String())
		return ConfirmResult{MessageHash: messageHash, AlreadyConfirmed: true}, nil
	}

	bundle, err := f.proofs.ProofForMessage(ctx, proof.Request{
		Contract:        plan.provenSource,
		MessageHash:     messageHash,
		MessageBoxIndex: f.boxIndex,
		Box:             proof.BoxOutbox,
		BlockHeight:     blockHeight,
	})
	if err != nil {
		return ConfirmResult{}, err
	}

	if f.vault != nil {
		key := proofvault.Key{Direction: plan.direction, MessageHash: messageHash, BlockHeight: blockHeight}
		if err := f.vault.Put(ctx, key, bundle); err != nil {
			// Archival is a recovery aid, never a gate.
			f.logger.Warn("proof archive failed", "messageHash", messageHash, "err", err)
		}
	}

	proveRes, err := plan.prove(ctx, blockHeight, bundle.EncodedAccount, bundle.AccountProof, opts)
	if err != nil {
		return ConfirmResult{}, err
	}
	confirmTx, err := plan.confirm(ctx, blockHeight, bundle.StorageProof, opts)
	if err != nil {
		return ConfirmResult{}, err
	}

	f.logger.Info("intent confirmed",
		"direction", plan.direction, "messageHash", messageHash,
		"proveTx", proveRes.TxHash, "confirmTx", confirmTx)
	return ConfirmResult{
		MessageHash:   messageHash,
		ProveTxHash:   proveRes.TxHash,
		ConfirmTxHash: confirmTx,
	}, nil
}
