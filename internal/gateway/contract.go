package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/stakemint/facilitator/internal/eth"
	"github.com/stakemint/facilitator/internal/gatewayabi"
	"github.com/stakemint/facilitator/internal/messageid"
)

var (
	ErrInvalidConfig = errors.New("gateway: invalid config")
	ErrNoDeclaration = errors.New("gateway: declaration event missing from receipt")
)

// Caller executes read-only contract calls (satisfied by *ethclient.Client).
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Submitter sends state-changing transactions and waits for them to be mined
// (satisfied by *eth.Relayer).
type Submitter interface {
	SendAndWaitMined(ctx context.Context, req eth.TxRequest) (eth.SendResult, error)
}

// TxOptions carries caller-supplied transaction parameters. From identifies
// whose behalf the call is made on (approval checks key off it); Value is the
// attached payment for payable calls.
type TxOptions struct {
	From     common.Address
	Value    *big.Int
	GasLimit uint64
}

// DeclareResult is the outcome of a successful stake/redeem declaration.
type DeclareResult struct {
	MessageHash common.Hash
	Nonce       *big.Int
	BlockNumber *big.Int
	TxHash      common.Hash
}

// AnchorInfo is a chain contract's view of the counterpart chain's most
// recently anchored state root.
type AnchorInfo struct {
	BlockHeight *big.Int
	StateRoot   common.Hash
}

// contract is the shared read/write core of the Gateway and CoGateway
// clients. The bounty and token addresses are immutable for a deployed
// contract instance and memoized after the first fetch; racing duplicates the
// read, never corrupts it.
type contract struct {
	addr      common.Address
	caller    Caller
	submitter Submitter

	mu     sync.Mutex
	bounty *big.Int
	tokens map[string]common.Address
}

func newContract(addr common.Address, caller Caller, submitter Submitter) (*contract, error) {
	if (addr == common.Address{}) {
		return nil, fmt.Errorf("%w: zero contract address", ErrInvalidConfig)
	}
	if caller == nil || submitter == nil {
		return nil, fmt.Errorf("%w: nil caller or submitter", ErrInvalidConfig)
	}
	return &contract{
		addr:      addr,
		caller:    caller,
		submitter: submitter,
		tokens:    make(map[string]common.Address),
	}, nil
}

func (c *contract) view(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

func (c *contract) submit(ctx context.Context, to common.Address, data []byte, opts TxOptions) (eth.SendResult, error) {
	return c.submitter.SendAndWaitMined(ctx, eth.TxRequest{
		To:       to,
		Data:     data,
		Value:    opts.Value,
		GasLimit: opts.GasLimit,
	})
}

func (c *contract) nonce(ctx context.Context, account common.Address) (*big.Int, error) {
	data, err := gatewayabi.PackGetNonce(account)
	if err != nil {
		return nil, err
	}
	out, err := c.view(ctx, c.addr, data)
	if err != nil {
		return nil, fmt.Errorf("gateway: getNonce(%s): %w", account, err)
	}
	return gatewayabi.UnpackUint256("getNonce", out)
}

func (c *contract) bountyAmount(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	cached := c.bounty
	c.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}

	data, err := gatewayabi.PackBounty()
	if err != nil {
		return nil, err
	}
	out, err := c.view(ctx, c.addr, data)
	if err != nil {
		return nil, fmt.Errorf("gateway: bounty(): %w", err)
	}
	v, err := gatewayabi.UnpackUint256("bounty", out)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.bounty = new(big.Int).Set(v)
	c.mu.Unlock()
	return v, nil
}

func (c *contract) tokenAddress(ctx context.Context, method string, pack func() ([]byte, error)) (common.Address, error) {
	c.mu.Lock()
	cached, ok := c.tokens[method]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	data, err := pack()
	if err != nil {
		return common.Address{}, err
	}
	out, err := c.view(ctx, c.addr, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("gateway: %s(): %w", method, err)
	}
	addr, err := gatewayabi.UnpackAddress(method, out)
	if err != nil {
		return common.Address{}, err
	}

	c.mu.Lock()
	c.tokens[method] = addr
	c.mu.Unlock()
	return addr, nil
}

func (c *contract) outboxStatus(ctx context.Context, messageHash common.Hash) (messageid.Status, error) {
	return c.messageStatus(ctx, "getOutboxMessageStatus", messageHash, gatewayabi.PackOutboxMessageStatus)
}

func (c *contract) inboxStatus(ctx context.Context, messageHash common.Hash) (messageid.Status, error) {
	return c.messageStatus(ctx, "getInboxMessageStatus", messageHash, gatewayabi.PackInboxMessageStatus)
}

func (c *contract) messageStatus(ctx context.Context, method string, messageHash common.Hash, pack func(common.Hash) ([]byte, error)) (messageid.Status, error) {
	data, err := pack(messageHash)
	if err != nil {
		return 0, err
	}
	out, err := c.view(ctx, c.addr, data)
	if err != nil {
		return 0, fmt.Errorf("gateway: %s(%s): %w", method, messageHash, err)
	}
	raw, err := gatewayabi.UnpackStatus(method, out)
	if err != nil {
		return 0, err
	}
	return messageid.ParseStatus(raw)
}

func (c *contract) latestAnchorInfo(ctx context.Context) (AnchorInfo, error) {
	data, err := gatewayabi.PackLatestAnchorInfo()
	if err != nil {
		return AnchorInfo{}, err
	}
	out, err := c.view(ctx, c.addr, data)
	if err != nil {
		return AnchorInfo{}, fmt.Errorf("gateway: getLatestAnchorInfo(): %w", err)
	}
	height, root, err := gatewayabi.UnpackAnchorInfo(out)
	if err != nil {
		return AnchorInfo{}, err
	}
	return AnchorInfo{BlockHeight: height, StateRoot: root}, nil
}

// proveRemote registers a snapshot of the counterpart contract's account at
// blockHeight. Safe to re-submit: the contract accepts repeated proofs for an
// already-proven height.
func (c *contract) proveRemote(ctx context.Context, blockHeight *big.Int, rlpAccount, rlpParentNodes []byte, opts TxOptions) (eth.SendResult, error) {
	data, err := gatewayabi.PackProveGateway(blockHeight, rlpAccount, rlpParentNodes)
	if err != nil {
		return eth.SendResult{}, err
	}
	return c.submit(ctx, c.addr, data, opts)
}

func (c *contract) progress(ctx context.Context, method string, messageHash, unlockSecret common.Hash, opts TxOptions) (eth.SendResult, error) {
	data, err := gatewayabi.PackProgress(method, messageHash, unlockSecret)
	if err != nil {
		return eth.SendResult{}, err
	}
	return c.submit(ctx, c.addr, data, opts)
}

// isApproved checks an ERC20 allowance owner -> this contract against amount.
func (c *contract) isApproved(ctx context.Context, token, owner common.Address, amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() < 0 {
		return false, fmt.Errorf("%w: nil or negative amount", ErrInvalidConfig)
	}
	data, err := gatewayabi.PackERC20Allowance(owner, c.addr)
	if err != nil {
		return false, err
	}
	out, err := c.view(ctx, token, data)
	if err != nil {
		return false, fmt.Errorf("gateway: allowance(%s -> %s): %w", owner, c.addr, err)
	}
	allowance, err := gatewayabi.UnpackERC20Allowance(out)
	if err != nil {
		return false, err
	}
	return allowance.Cmp(amount) >= 0, nil
}

// approve grants this contract an ERC20 allowance on token.
func (c *contract) approve(ctx context.Context, token common.Address, amount *big.Int, opts TxOptions) (eth.SendResult, error) {
	data, err := gatewayabi.PackERC20Approve(c.addr, amount)
	if err != nil {
		return eth.SendResult{}, err
	}
	// Approvals never carry value.
	opts.Value = nil
	return c.submit(ctx, token, data, opts)
}

func intentParams(intent messageid.Intent) gatewayabi.IntentParams {
	return gatewayabi.IntentParams{
		Actor:       intent.Sender,
		Amount:      intent.Amount,
		Beneficiary: intent.Beneficiary,
		GasPrice:    intent.GasPrice,
		GasLimit:    intent.GasLimit,
		Nonce:       intent.Nonce,
		HashLock:    intent.HashLock,
	}
}
