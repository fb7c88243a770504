package gatewayabi

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrInvalidInput  = errors.New("gatewayabi: invalid input")
	ErrEventNotFound = errors.New("gatewayabi: event not found")
)

var (
	initOnce sync.Once
	initErr  error

	gatewayABI abi.ABI
	erc20ABI   abi.ABI
)

func initABI() error {
	initOnce.Do(func() {
		var err error

		gatewayABI, err = abi.JSON(strings.NewReader(gatewayABIJSON))
		if err != nil {
			initErr = fmt.Errorf("gatewayabi: parse gateway ABI: %w", err)
			return
		}
		erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
		if err != nil {
			initErr = fmt.Errorf("gatewayabi: parse erc20 ABI: %w", err)
			return
		}
	})
	return initErr
}

// IntentParams is the shared calldata shape of stake/redeem declarations and
// the two confirm calls.
type IntentParams struct {
	Actor       common.Address // staker on the origin side, redeemer on the auxiliary side
	Amount      *big.Int
	Beneficiary common.Address
	GasPrice    *big.Int
	GasLimit    *big.Int
	Nonce       *big.Int
	HashLock    common.Hash
}

func (p IntentParams) check() error {
	if p.Amount == nil || p.Amount.Sign() < 0 {
		return fmt.Errorf("%w: nil or negative amount", ErrInvalidInput)
	}
	if p.GasPrice == nil || p.GasLimit == nil || p.Nonce == nil {
		return fmt.Errorf("%w: nil gas price, gas limit, or nonce", ErrInvalidInput)
	}
	if p.GasPrice.Sign() < 0 || p.GasLimit.Sign() < 0 || p.Nonce.Sign() < 0 {
		return fmt.Errorf("%w: negative gas price, gas limit, or nonce", ErrInvalidInput)
	}
	return nil
}

// PackStake builds calldata for Gateway.stake.
func PackStake(p IntentParams) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	if err := p.check(); err != nil {
		return nil, err
	}
	b, err := gatewayABI.Pack("stake", p.Amount, p.Beneficiary, p.GasPrice, p.GasLimit, p.Nonce, p.HashLock)
	if err != nil {
		return nil, fmt.Errorf("gatewayabi: pack stake: %w", err)
	}
	return b, nil
}

// PackRedeem builds calldata for CoGateway.redeem. The call is payable: the
// transaction value must carry the bounty.
func PackRedeem(p IntentParams) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	if err := p.check(); err != nil {
		return nil, err
	}
	b, err := gatewayABI.Pack("redeem", p.Amount, p.Beneficiary, p.GasPrice, p.GasLimit, p.Nonce, p.HashLock)
	if err != nil {
		return nil, fmt.Errorf("gatewayabi: pack redeem: %w", err)
	}
	return b, nil
}

// PackProveGateway builds calldata for proveGateway, registering the remote
// contract account at blockHeight. rlpAccount is the RLP-encoded account
// quadruple and rlpParentNodes the RLP list of account trie nodes.
func PackProveGateway(blockHeight *big.Int, rlpAccount, rlpParentNodes []byte) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	if blockHeight == nil || blockHeight.Sign() < 0 {
		return nil, fmt.Errorf("%w: nil or negative block height", ErrInvalidInput)
	}
	if len(rlpAccount) == 0 || len(rlpParentNodes) == 0 {
		return nil, fmt.Errorf("%w: empty account data or proof", ErrInvalidInput)
	}
	b, err := gatewayABI.Pack("proveGateway", blockHeight, rlpAccount, rlpParentNodes)
	if err != nil {
		return nil, fmt.Errorf("gatewayabi: pack proveGateway: %w", err)
	}
	return b, nil
}

// PackConfirmStakeIntent builds calldata for CoGateway.confirmStakeIntent.
func PackConfirmStakeIntent(p IntentParams, blockHeight *big.Int, rlpParentNodes []byte) ([]byte, error) {
	return packConfirm("confirmStakeIntent", p, blockHeight, rlpParentNodes)
}

// PackConfirmRedeemIntent builds calldata for Gateway.confirmRedeemIntent.
func PackConfirmRedeemIntent(p IntentParams, blockHeight *big.Int, rlpParentNodes []byte) ([]byte, error) {
	return packConfirm("confirmRedeemIntent", p, blockHeight, rlpParentNodes)
}

func packConfirm(method string, p IntentParams, blockHeight *big.Int, rlpParentNodes []byte) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	if err := p.check(); err != nil {
		return nil, err
	}
	if blockHeight == nil || blockHeight.Sign() < 0 {
		return nil, fmt.Errorf("%w: nil or negative block height", ErrInvalidInput)
	}
	if len(rlpParentNodes) == 0 {
		return nil, fmt.Errorf("%w: empty storage proof", ErrInvalidInput)
	}
	b, err := gatewayABI.Pack(method, p.Actor, p.Nonce, p.Beneficiary, p.Amount, p.GasPrice, p.GasLimit, blockHeight, p.HashLock, rlpParentNodes)
	if err != nil {
		return nil, fmt.Errorf("gatewayabi: pack %s: %w", method, err)
	}
	return b, nil
}

// PackProgress builds calldata for one of the four secret-reveal progression
// methods: progressStake, progressMint, progressRedeem, progressUnstake.
func PackProgress(method string, messageHash, unlockSecret common.Hash) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	switch method {
	case "progressStake", "progressMint", "progressRedeem", "progressUnstake":
	default:
		return nil, fmt.Errorf("%w: unknown progress method %q", ErrInvalidInput, method)
	}
	if messageHash == (common.Hash{}) {
		return nil, fmt.Errorf("%w: zero message hash", ErrInvalidInput)
	}
	b, err := gatewayABI.Pack(method, messageHash, unlockSecret)
	if err != nil {
		return nil, fmt.Errorf("gatewayabi: pack %s: %w", method, err)
	}
	return b, nil
}

func PackGetNonce(account common.Address) ([]byte, error) {
	return packSimple("getNonce", account)
}

func PackBounty() ([]byte, error) {
	return packSimple("bounty")
}

func PackValueToken() ([]byte, error) {
	return packSimple("valueToken")
}

func PackBaseToken() ([]byte, error) {
	return packSimple("baseToken")
}

func PackUtilityToken() ([]byte, error) {
	return packSimple("utilityToken")
}

func PackOutboxMessageStatus(messageHash common.Hash) ([]byte, error) {
	return packSimple("getOutboxMessageStatus", messageHash)
}

func PackInboxMessageStatus(messageHash common.Hash) ([]byte, error) {
	return packSimple("getInboxMessageStatus", messageHash)
}

func PackLatestAnchorInfo() ([]byte, error) {
	return packSimple("getLatestAnchorInfo")
}

func packSimple(method string, args ...any) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	b, err := gatewayABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("gatewayabi: pack %s: %w", method, err)
	}
	return b, nil
}

// UnpackUint256 decodes a single uint256 return value.
func UnpackUint256(method string, data []byte) (*big.Int, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	vals, err := gatewayABI.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("gatewayabi: unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("gatewayabi: unpack %s: want 1 value, got %d", method, len(vals))
	}
	out, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("gatewayabi: unpack %s: not a uint256", method)
	}
	return out, nil
}

// UnpackAddress decodes a single address return value.
func UnpackAddress(method string, data []byte) (common.Address, error) {
	if err := initABI(); err != nil {
		return common.Address{}, err
	}
	vals, err := gatewayABI.Unpack(method, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("gatewayabi: unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return common.Address{}, fmt.Errorf("gatewayabi: unpack %s: want 1 value, got %d", method, len(vals))
	}
	out, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("gatewayabi: unpack %s: not an address", method)
	}
	return out, nil
}

// UnpackStatus decodes a message-status return value (solidity uint8).
func UnpackStatus(method string, data []byte) (uint8, error) {
	if err := initABI(); err != nil {
		return 0, err
	}
	vals, err := gatewayABI.Unpack(method, data)
	if err != nil {
		return 0, fmt.Errorf("gatewayabi: unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return 0, fmt.Errorf("gatewayabi: unpack %s: want 1 value, got %d", method, len(vals))
	}
	out, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("gatewayabi: unpack %s: not a uint8", method)
	}
	return out, nil
}

// UnpackAnchorInfo decodes getLatestAnchorInfo's (blockHeight, stateRoot) pair.
func UnpackAnchorInfo(data []byte) (*big.Int, common.Hash, error) {
	if err := initABI(); err != nil {
		return nil, common.Hash{}, err
	}
	vals, err := gatewayABI.Unpack("getLatestAnchorInfo", data)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("gatewayabi: unpack getLatestAnchorInfo: %w", err)
	}
	if len(vals) != 2 {
		return nil, common.Hash{}, fmt.Errorf("gatewayabi: unpack getLatestAnchorInfo: want 2 values, got %d", len(vals))
	}
	height, ok := vals[0].(*big.Int)
	if !ok {
		return nil, common.Hash{}, fmt.Errorf("gatewayabi: unpack getLatestAnchorInfo: block height is not a uint256")
	}
	rootRaw, ok := vals[1].([32]byte)
	if !ok {
		return nil, common.Hash{}, fmt.Errorf("gatewayabi: unpack getLatestAnchorInfo: state root is not bytes32")
	}
	return height, common.Hash(rootRaw), nil
}

// IntentDeclared is the decoded declaration event emitted by Gateway.stake
// (StakeIntentDeclared) and CoGateway.redeem (RedeemIntentDeclared).
type IntentDeclared struct {
	MessageHash common.Hash
	Actor       common.Address
	Nonce       *big.Int
	Amount      *big.Int
}

// ParseStakeIntentDeclared finds and decodes the StakeIntentDeclared event in
// a receipt's logs, scoped to the given Gateway address.
func ParseStakeIntentDeclared(logs []*types.Log, gateway common.Address) (IntentDeclared, error) {
	return parseDeclared("StakeIntentDeclared", logs, gateway)
}

// ParseRedeemIntentDeclared is the CoGateway.redeem counterpart.
func ParseRedeemIntentDeclared(logs []*types.Log, coGateway common.Address) (IntentDeclared, error) {
	return parseDeclared("RedeemIntentDeclared", logs, coGateway)
}

func parseDeclared(event string, logs []*types.Log, contract common.Address) (IntentDeclared, error) {
	if err := initABI(); err != nil {
		return IntentDeclared{}, err
	}
	ev, ok := gatewayABI.Events[event]
	if !ok {
		return IntentDeclared{}, fmt.Errorf("gatewayabi: ABI has no event %s", event)
	}

	for _, lg := range logs {
		if lg == nil || lg.Address != contract {
			continue
		}
		if len(lg.Topics) < 2 || lg.Topics[0] != ev.ID {
			continue
		}

		vals, err := ev.Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil {
			return IntentDeclared{}, fmt.Errorf("gatewayabi: decode %s: %w", event, err)
		}
		if len(vals) != 3 {
			return IntentDeclared{}, fmt.Errorf("gatewayabi: decode %s: want 3 values, got %d", event, len(vals))
		}
		actor, ok1 := vals[0].(common.Address)
		nonce, ok2 := vals[1].(*big.Int)
		amount, ok3 := vals[2].(*big.Int)
		if !ok1 || !ok2 || !ok3 {
			return IntentDeclared{}, fmt.Errorf("gatewayabi: decode %s: unexpected value types", event)
		}
		return IntentDeclared{
			MessageHash: lg.Topics[1],
			Actor:       actor,
			Nonce:       nonce,
			Amount:      amount,
		}, nil
	}
	return IntentDeclared{}, fmt.Errorf("%w: %s from %s", ErrEventNotFound, event, contract)
}

// PackERC20Allowance builds calldata for ERC20.allowance(owner, spender).
func PackERC20Allowance(owner, spender common.Address) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	b, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("gatewayabi: pack allowance: %w", err)
	}
	return b, nil
}

// UnpackERC20Allowance decodes the allowance return value.
func UnpackERC20Allowance(data []byte) (*big.Int, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack("allowance", data)
	if err != nil {
		return nil, fmt.Errorf("gatewayabi: unpack allowance: %w", err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("gatewayabi: unpack allowance: want 1 value, got %d", len(vals))
	}
	out, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("gatewayabi: unpack allowance: not a uint256")
	}
	return out, nil
}

// PackERC20Approve builds calldata for ERC20.approve(spender, amount).
func PackERC20Approve(spender common.Address, amount *big.Int) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: nil or negative approve amount", ErrInvalidInput)
	}
	b, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("gatewayabi: pack approve: %w", err)
	}
	return b, nil
}

const gatewayABIJSON = `[
  {"inputs":[
    {"internalType":"uint256","name":"_amount","type":"uint256"},
    {"internalType":"address","name":"_beneficiary","type":"address"},
    {"internalType":"uint256","name":"_gasPrice","type":"uint256"},
    {"internalType":"uint256","name":"_gasLimit","type":"uint256"},
    {"internalType":"uint256","name":"_nonce","type":"uint256"},
    {"internalType":"bytes32","name":"_hashLock","type":"bytes32"}],
   "name":"stake","outputs":[{"internalType":"bytes32","name":"messageHash_","type":"bytes32"}],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"uint256","name":"_amount","type":"uint256"},
    {"internalType":"address","name":"_beneficiary","type":"address"},
    {"internalType":"uint256","name":"_gasPrice","type":"uint256"},
    {"internalType":"uint256","name":"_gasLimit","type":"uint256"},
    {"internalType":"uint256","name":"_nonce","type":"uint256"},
    {"internalType":"bytes32","name":"_hashLock","type":"bytes32"}],
   "name":"redeem","outputs":[{"internalType":"bytes32","name":"messageHash_","type":"bytes32"}],"stateMutability":"payable","type":"function"},
  {"inputs":[
    {"internalType":"uint256","name":"_blockHeight","type":"uint256"},
    {"internalType":"bytes","name":"_rlpAccount","type":"bytes"},
    {"internalType":"bytes","name":"_rlpParentNodes","type":"bytes"}],
   "name":"proveGateway","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"_staker","type":"address"},
    {"internalType":"uint256","name":"_stakerNonce","type":"uint256"},
    {"internalType":"address","name":"_beneficiary","type":"address"},
    {"internalType":"uint256","name":"_amount","type":"uint256"},
    {"internalType":"uint256","name":"_gasPrice","type":"uint256"},
    {"internalType":"uint256","name":"_gasLimit","type":"uint256"},
    {"internalType":"uint256","name":"_blockHeight","type":"uint256"},
    {"internalType":"bytes32","name":"_hashLock","type":"bytes32"},
    {"internalType":"bytes","name":"_rlpParentNodes","type":"bytes"}],
   "name":"confirmStakeIntent","outputs":[{"internalType":"bytes32","name":"messageHash_","type":"bytes32"}],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"_redeemer","type":"address"},
    {"internalType":"uint256","name":"_redeemerNonce","type":"uint256"},
    {"internalType":"address","name":"_beneficiary","type":"address"},
    {"internalType":"uint256","name":"_amount","type":"uint256"},
    {"internalType":"uint256","name":"_gasPrice","type":"uint256"},
    {"internalType":"uint256","name":"_gasLimit","type":"uint256"},
    {"internalType":"uint256","name":"_blockHeight","type":"uint256"},
    {"internalType":"bytes32","name":"_hashLock","type":"bytes32"},
    {"internalType":"bytes","name":"_rlpParentNodes","type":"bytes"}],
   "name":"confirmRedeemIntent","outputs":[{"internalType":"bytes32","name":"messageHash_","type":"bytes32"}],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"bytes32","name":"_messageHash","type":"bytes32"},
    {"internalType":"bytes32","name":"_unlockSecret","type":"bytes32"}],
   "name":"progressStake","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"bytes32","name":"_messageHash","type":"bytes32"},
    {"internalType":"bytes32","name":"_unlockSecret","type":"bytes32"}],
   "name":"progressMint","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"bytes32","name":"_messageHash","type":"bytes32"},
    {"internalType":"bytes32","name":"_unlockSecret","type":"bytes32"}],
   "name":"progressRedeem","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"bytes32","name":"_messageHash","type":"bytes32"},
    {"internalType":"bytes32","name":"_unlockSecret","type":"bytes32"}],
   "name":"progressUnstake","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"address","name":"_account","type":"address"}],
   "name":"getNonce","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"bounty","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"valueToken","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"baseToken","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"utilityToken","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"bytes32","name":"_messageHash","type":"bytes32"}],
   "name":"getOutboxMessageStatus","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"bytes32","name":"_messageHash","type":"bytes32"}],
   "name":"getInboxMessageStatus","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getLatestAnchorInfo",
   "outputs":[{"internalType":"uint256","name":"blockHeight_","type":"uint256"},{"internalType":"bytes32","name":"stateRoot_","type":"bytes32"}],
   "stateMutability":"view","type":"function"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"internalType":"bytes32","name":"_messageHash","type":"bytes32"},
    {"indexed":false,"internalType":"address","name":"_staker","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"_stakerNonce","type":"uint256"},
    {"indexed":false,"internalType":"uint256","name":"_amount","type":"uint256"}],
   "name":"StakeIntentDeclared","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"internalType":"bytes32","name":"_messageHash","type":"bytes32"},
    {"indexed":false,"internalType":"address","name":"_redeemer","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"_redeemerNonce","type":"uint256"},
    {"indexed":false,"internalType":"uint256","name":"_amount","type":"uint256"}],
   "name":"RedeemIntentDeclared","type":"event"}
]`

const erc20ABIJSON = `[
  {"inputs":[
    {"internalType":"address","name":"owner","type":"address"},
    {"internalType":"address","name":"spender","type":"address"}],
   "name":"allowance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"spender","type":"address"},
    {"internalType":"uint256","name":"amount","type":"uint256"}],
   "name":"approve","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`
