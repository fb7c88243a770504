package messageid

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidIntent = errors.New("messageid: invalid intent")
	ErrUnknownStatus = errors.New("messageid: unknown status")
)

// Status is a per-message status slot as maintained by the Gateway and
// CoGateway contracts. Each chain keeps two independent slots per message
// hash: an outbox slot on the sending side and an inbox slot on the
// receiving side.
type Status uint8

const (
	StatusUndeclared Status = iota
	StatusDeclared
	StatusProgressed
	StatusRevocationDeclared
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusUndeclared:
		return "undeclared"
	case StatusDeclared:
		return "declared"
	case StatusProgressed:
		return "progressed"
	case StatusRevocationDeclared:
		return "revocation_declared"
	case StatusRevoked:
		return "revoked"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ParseStatus maps a raw contract status code to a Status.
//
// Values outside the five known codes fail closed: callers must treat the
// message as non-progressable rather than guessing.
func ParseStatus(v uint8) (Status, error) {
	s := Status(v)
	if s > StatusRevoked {
		return 0, fmt.Errorf("%w: %d", ErrUnknownStatus, v)
	}
	return s, nil
}

// StatusFromBig decodes an ABI uint8/uint256 status return value.
func StatusFromBig(v *big.Int) (Status, error) {
	if v == nil || v.Sign() < 0 || !v.IsUint64() || v.Uint64() > uint64(StatusRevoked) {
		return 0, fmt.Errorf("%w: %v", ErrUnknownStatus, v)
	}
	return Status(v.Uint64()), nil
}

// Intent carries the transfer parameters a message hash commits to.
// It is a value type; callers must not mutate it after computing a hash.
type Intent struct {
	Sender      common.Address
	Amount      *big.Int
	Beneficiary common.Address
	GasPrice    *big.Int
	GasLimit    *big.Int
	Nonce       *big.Int
	HashLock    common.Hash
}

var (
	stakeIntentTypeHash  = crypto.Keccak256Hash([]byte("StakeIntent(uint256 amount,address beneficiary,address gateway)"))
	redeemIntentTypeHash = crypto.Keccak256Hash([]byte("RedeemIntent(uint256 amount,address beneficiary,address gateway)"))
	messageTypeHash      = crypto.Keccak256Hash([]byte("Message(bytes32 intentHash,uint256 nonce,uint256 gasPrice,uint256 gasLimit,address sender,bytes32 hashLock)"))
)

// StakeMessageHash computes the message hash binding a stake intent to the
// origin Gateway. The hash is the correlation key for the message on both
// chains.
func StakeMessageHash(intent Intent, gateway common.Address) (common.Hash, error) {
	return messageHash(stakeIntentTypeHash, intent, gateway)
}

// RedeemMessageHash is the redeem-direction counterpart of StakeMessageHash,
// binding the intent to the auxiliary CoGateway. A redeem hash never collides
// with a stake hash for identical fields: the two directions commit to
// distinct type hashes.
func RedeemMessageHash(intent Intent, coGateway common.Address) (common.Hash, error) {
	return messageHash(redeemIntentTypeHash, intent, coGateway)
}

func messageHash(typeHash common.Hash, intent Intent, contract common.Address) (common.Hash, error) {
	if err := checkIntent(intent, contract); err != nil {
		return common.Hash{}, err
	}

	intentHash := crypto.Keccak256Hash(
		typeHash.Bytes(),
		padUint256(intent.Amount),
		padAddress(intent.Beneficiary),
		padAddress(contract),
	)

	return crypto.Keccak256Hash(
		messageTypeHash.Bytes(),
		intentHash.Bytes(),
		padUint256(intent.Nonce),
		padUint256(intent.GasPrice),
		padUint256(intent.GasLimit),
		padAddress(intent.Sender),
		intent.HashLock.Bytes(),
	), nil
}

func checkIntent(intent Intent, contract common.Address) error {
	if intent.Amount == nil || intent.Amount.Sign() < 0 {
		return fmt.Errorf("%w: amount must be a non-negative integer", ErrInvalidIntent)
	}
	if intent.GasPrice == nil || intent.GasPrice.Sign() < 0 {
		return fmt.Errorf("%w: gas price must be a non-negative integer", ErrInvalidIntent)
	}
	if intent.GasLimit == nil || intent.GasLimit.Sign() < 0 {
		return fmt.Errorf("%w: gas limit must be a non-negative integer", ErrInvalidIntent)
	}
	if intent.Nonce == nil || intent.Nonce.Sign() < 0 {
		return fmt.Errorf("%w: nonce must be a non-negative integer", ErrInvalidIntent)
	}
	if intent.Amount.BitLen() > 256 || intent.GasPrice.BitLen() > 256 || intent.GasLimit.BitLen() > 256 || intent.Nonce.BitLen() > 256 {
		return fmt.Errorf("%w: value exceeds uint256", ErrInvalidIntent)
	}
	if (contract == common.Address{}) {
		return fmt.Errorf("%w: zero contract address", ErrInvalidIntent)
	}
	return nil
}

func padUint256(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func padAddress(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}
