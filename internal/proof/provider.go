package proof

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	ErrInvalidRequest = errors.New("proof: invalid request")
	ErrEmptySlot      = errors.New("proof: message slot is empty")
)

// Box selects which message-box slot a proof targets inside the gateway
// contract's storage layout: the outbox sits at the configured index, the
// inbox immediately after it.
type Box uint8

const (
	BoxOutbox Box = iota
	BoxInbox
)

// Request names the storage cell to prove: the gateway account on the source
// chain, the message hash keying its message box, and the source block whose
// state root the proof is built against.
type Request struct {
	Contract        common.Address
	MessageHash     common.Hash
	MessageBoxIndex uint64
	Box             Box
	BlockHeight     *big.Int
}

// Bundle is the output of one proof generation: everything the target chain
// needs to first prove the source gateway account and then verify the message
// storage entry. Bundles are never reused across confirmations because the
// anchored state root advances; they may be archived for crash recovery
// between the prove and confirm calls.
type Bundle struct {
	BlockHeight    *big.Int
	EncodedAccount []byte // RLP of [nonce, balance, storageRoot, codeHash]
	AccountProof   []byte // RLP list of raw account trie nodes
	StorageProof   []byte // RLP list of raw storage trie nodes
}

// Provider produces Merkle proof bundles for cross-chain message
// confirmation.
type Provider interface {
	ProofForMessage(ctx context.Context, req Request) (Bundle, error)
}

// rpcClient is the subset of an Ethereum JSON-RPC client the generator needs
// (satisfied by *rpc.Client).
type rpcClient interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// Generator builds proof bundles with a single eth_getProof call against the
// source chain node.
type Generator struct {
	client rpcClient
}

func NewGenerator(client rpcClient) (*Generator, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil rpc client", ErrInvalidRequest)
	}
	return &Generator{client: client}, nil
}

// getProof response shapes, per the eth_getProof wire format.
type accountResult struct {
	Nonce        hexutil.Uint64  `json:"nonce"`
	Balance      *hexutil.Big    `json:"balance"`
	StorageHash  common.Hash     `json:"storageHash"`
	CodeHash     common.Hash     `json:"codeHash"`
	AccountProof []hexutil.Bytes `json:"accountProof"`
	StorageProof []storageResult `json:"storageProof"`
}

type storageResult struct {
	Key   string          `json:"key"`
	Value *hexutil.Big    `json:"value"`
	Proof []hexutil.Bytes `json:"proof"`
}

func (g *Generator) ProofForMessage(ctx context.Context, req Request) (Bundle, error) {
	if err := checkRequest(req); err != nil {
		return Bundle{}, err
	}

	slot := SlotForMessage(req.MessageHash, req.MessageBoxIndex, req.Box)

	var res accountResult
	err := g.client.CallContext(ctx, &res, "eth_getProof",
		req.Contract,
		[]string{slot.Hex()},
		hexutil.EncodeBig(req.BlockHeight),
	)
	if err != nil {
		return Bundle{}, fmt.Errorf("proof: eth_getProof %s at %s: %w", req.Contract, req.BlockHeight, err)
	}
	if len(res.StorageProof) == 0 {
		return Bundle{}, fmt.Errorf("proof: eth_getProof returned no storage proof for slot %s", slot)
	}
	if res.StorageProof[0].Value == nil || res.StorageProof[0].Value.ToInt().Sign() == 0 {
		// An absent or zero slot proves nothing was declared under this hash.
		return Bundle{}, fmt.Errorf("%w: %s box for message %s", ErrEmptySlot, req.Box, req.MessageHash)
	}

	encodedAccount, err := rlp.EncodeToBytes([]any{
		uint64(res.Nonce),
		res.Balance.ToInt(),
		res.StorageHash,
		res.CodeHash,
	})
	if err != nil {
		return Bundle{}, fmt.Errorf("proof: encode account: %w", err)
	}

	accountProof, err := encodeNodeList(res.AccountProof)
	if err != nil {
		return Bundle{}, fmt.Errorf("proof: encode account proof: %w", err)
	}
	storageProof, err := encodeNodeList(res.StorageProof[0].Proof)
	if err != nil {
		return Bundle{}, fmt.Errorf("proof: encode storage proof: %w", err)
	}

	return Bundle{
		BlockHeight:    new(big.Int).Set(req.BlockHeight),
		EncodedAccount: encodedAccount,
		AccountProof:   accountProof,
		StorageProof:   storageProof,
	}, nil
}

func checkRequest(req Request) error {
	if (req.Contract == common.Address{}) {
		return fmt.Errorf("%w: zero contract address", ErrInvalidRequest)
	}
	if req.MessageHash == (common.Hash{}) {
		return fmt.Errorf("%w: zero message hash", ErrInvalidRequest)
	}
	if req.BlockHeight == nil || req.BlockHeight.Sign() < 0 {
		return fmt.Errorf("%w: nil or negative block height", ErrInvalidRequest)
	}
	if req.Box != BoxOutbox && req.Box != BoxInbox {
		return fmt.Errorf("%w: unknown box %d", ErrInvalidRequest, req.Box)
	}
	return nil
}

// SlotForMessage derives the storage slot of a message-box mapping entry:
// keccak256(messageHash . uint256(index + boxOffset)), solidity mapping
// layout with the inbox mapping one slot after the outbox.
func SlotForMessage(messageHash common.Hash, messageBoxIndex uint64, box Box) common.Hash {
	position := new(big.Int).SetUint64(messageBoxIndex)
	if box == BoxInbox {
		position.Add(position, big.NewInt(1))
	}
	return crypto.Keccak256Hash(
		messageHash.Bytes(),
		common.LeftPadBytes(position.Bytes(), 32),
	)
}

// encodeNodeList re-encodes a list of already-RLP-encoded trie nodes as a
// single RLP list, the shape the gateway proof verifier consumes.
func encodeNodeList(nodes []hexutil.Bytes) ([]byte, error) {
	raw := make([]rlp.RawValue, 0, len(nodes))
	for _, n := range nodes {
		if len(n) == 0 {
			return nil, errors.New("empty trie node")
		}
		raw = append(raw, rlp.RawValue(n))
	}
	return rlp.EncodeToBytes(raw)
}

func (b Box) String() string {
	switch b {
	case BoxOutbox:
		return "outbox"
	case BoxInbox:
		return "inbox"
	default:
		return fmt.Sprintf("box(%d)", uint8(b))
	}
}
