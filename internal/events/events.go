// Package events defines the versioned JSON payloads published to and
// consumed from the queue. Every payload carries a version discriminator
// so consumers can reject records they do not understand, and all uint256
// values travel as decimal strings.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stakemint/facilitator/internal/transfer"
)

const (
	VersionTransferRequestV1  = "transfers.request.v1"
	VersionTransferProgressV1 = "transfers.progress.v1"
	VersionLifecycleV1        = "messages.lifecycle.v1"
)

// Lifecycle phases published by the daemon.
const (
	PhaseDeclared         = "declared"
	PhaseConfirmed        = "confirmed"
	PhaseOriginProgressed = "origin_progressed"
	PhaseAuxProgressed    = "aux_progressed"
	PhaseProgressed       = "progressed"
)

var (
	ErrInvalidPayload = errors.New("events: invalid payload")
	ErrUnknownVersion = errors.New("events: unknown payload version")
)

// TransferRequestV1 asks the daemon to run a stake or redeem transfer.
type TransferRequestV1 struct {
	Version      string `json:"version"`
	RequestID    string `json:"requestId"`
	Direction    string `json:"direction"`
	Actor        string `json:"actor"`
	Amount       string `json:"amount"`
	Beneficiary  string `json:"beneficiary"`
	GasPrice     string `json:"gasPrice"`
	GasLimit     string `json:"gasLimit"`
	HashLock     string `json:"hashLock"`
	UnlockSecret string `json:"unlockSecret,omitempty"`
}

// TransferProgressV1 supplies the unlock secret for an already declared
// transfer. Either the request id or the message hash identifies the job.
type TransferProgressV1 struct {
	Version      string `json:"version"`
	RequestID    string `json:"requestId,omitempty"`
	MessageHash  string `json:"messageHash,omitempty"`
	UnlockSecret string `json:"unlockSecret"`
}

// LifecycleV1 announces a transfer state change. Records are keyed by the
// message hash so per-message ordering holds on partitioned drivers.
type LifecycleV1 struct {
	Version     string `json:"version"`
	RequestID   string `json:"requestId"`
	MessageHash string `json:"messageHash,omitempty"`
	Direction   string `json:"direction"`
	Phase       string `json:"phase"`
	Nonce       string `json:"nonce,omitempty"`
	TxHash      string `json:"txHash,omitempty"`
}

// BuildTransferRequest encodes a transfer request payload from a job request.
func BuildTransferRequest(req transfer.Request, secret *common.Hash) TransferRequestV1 {
	p := TransferRequestV1{
		Version:     VersionTransferRequestV1,
		RequestID:   hexBytes(req.ID[:]),
		Direction:   string(req.Direction),
		Actor:       req.Actor.Hex(),
		Amount:      decimal(req.Amount),
		Beneficiary: req.Beneficiary.Hex(),
		GasPrice:    decimal(req.GasPrice),
		GasLimit:    decimal(req.GasLimit),
		HashLock:    req.HashLock.Hex(),
	}
	if secret != nil {
		p.UnlockSecret = secret.Hex()
	}
	return p
}

// BuildLifecycle encodes a lifecycle notification for a job.
func BuildLifecycle(job transfer.Job, phase string, txHash common.Hash) LifecycleV1 {
	p := LifecycleV1{
		Version:   VersionLifecycleV1,
		RequestID: hexBytes(job.Request.ID[:]),
		Direction: string(job.Request.Direction),
		Phase:     phase,
	}
	if job.MessageHash != (common.Hash{}) {
		p.MessageHash = job.MessageHash.Hex()
	}
	if job.Nonce != nil {
		p.Nonce = decimal(job.Nonce)
	}
	if txHash != (common.Hash{}) {
		p.TxHash = txHash.Hex()
	}
	return p
}

// Key returns the queue partitioning key for a lifecycle record.
func (p LifecycleV1) Key() []byte {
	if p.MessageHash != "" {
		return []byte(p.MessageHash)
	}
	return []byte(p.RequestID)
}

// Request converts the payload back into a transfer job request.
func (p TransferRequestV1) Request() (transfer.Request, *common.Hash, error) {
	if p.Version != VersionTransferRequestV1 {
		return transfer.Request{}, nil, fmt.Errorf("%w: version %q", ErrInvalidPayload, p.Version)
	}
	id, err := parse32(p.RequestID)
	if err != nil {
		return transfer.Request{}, nil, fmt.Errorf("%w: requestId: %v", ErrInvalidPayload, err)
	}
	amount, err := parseDecimal(p.Amount)
	if err != nil {
		return transfer.Request{}, nil, fmt.Errorf("%w: amount: %v", ErrInvalidPayload, err)
	}
	gasPrice, err := parseDecimal(p.GasPrice)
	if err != nil {
		return transfer.Request{}, nil, fmt.Errorf("%w: gasPrice: %v", ErrInvalidPayload, err)
	}
	gasLimit, err := parseDecimal(p.GasLimit)
	if err != nil {
		return transfer.Request{}, nil, fmt.Errorf("%w: gasLimit: %v", ErrInvalidPayload, err)
	}
	lock, err := parse32(p.HashLock)
	if err != nil {
		return transfer.Request{}, nil, fmt.Errorf("%w: hashLock: %v", ErrInvalidPayload, err)
	}
	if !common.IsHexAddress(p.Actor) || !common.IsHexAddress(p.Beneficiary) {
		return transfer.Request{}, nil, fmt.Errorf("%w: malformed address", ErrInvalidPayload)
	}
	req := transfer.Request{
		ID:          id,
		Direction:   transfer.Direction(p.Direction),
		Actor:       common.HexToAddress(p.Actor),
		Amount:      amount,
		Beneficiary: common.HexToAddress(p.Beneficiary),
		GasPrice:    gasPrice,
		GasLimit:    gasLimit,
		HashLock:    common.Hash(lock),
	}
	if err := req.Validate(); err != nil {
		return transfer.Request{}, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var secret *common.Hash
	if p.UnlockSecret != "" {
		raw, err := parse32(p.UnlockSecret)
		if err != nil {
			return transfer.Request{}, nil, fmt.Errorf("%w: unlockSecret: %v", ErrInvalidPayload, err)
		}
		h := common.Hash(raw)
		secret = &h
	}
	return req, secret, nil
}

// Validate checks a progress payload before it is applied.
func (p TransferProgressV1) Validate() error {
	if p.Version != VersionTransferProgressV1 {
		return fmt.Errorf("%w: version %q", ErrInvalidPayload, p.Version)
	}
	if p.RequestID == "" && p.MessageHash == "" {
		return fmt.Errorf("%w: requestId or messageHash required", ErrInvalidPayload)
	}
	if p.RequestID != "" {
		if _, err := parse32(p.RequestID); err != nil {
			return fmt.Errorf("%w: requestId: %v", ErrInvalidPayload, err)
		}
	}
	if p.MessageHash != "" {
		if _, err := parse32(p.MessageHash); err != nil {
			return fmt.Errorf("%w: messageHash: %v", ErrInvalidPayload, err)
		}
	}
	if _, err := parse32(p.UnlockSecret); err != nil {
		return fmt.Errorf("%w: unlockSecret: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Decode inspects the version discriminator and unmarshals the matching
// payload type. Returns ErrUnknownVersion for versions this build does not
// speak so consumers can skip rather than fail.
func Decode(raw []byte) (any, error) {
	var head struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	switch head.Version {
	case VersionTransferRequestV1:
		var p TransferRequestV1
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return p, nil
	case VersionTransferProgressV1:
		var p TransferProgressV1
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return p, nil
	case VersionLifecycleV1:
		var p LifecycleV1
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVersion, head.Version)
	}
}

func hexBytes(b []byte) string {
	return "0x" + common.Bytes2Hex(b)
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseDecimal(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("not a non-negative decimal: %q", s)
	}
	return v, nil
}

func parse32(s string) ([32]byte, error) {
	var out [32]byte
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 64 {
		return out, fmt.Errorf("want 32 bytes, got %d hex chars", len(s))
	}
	b := common.Hex2Bytes(s)
	if len(b) != 32 {
		return out, errors.New("malformed hex")
	}
	copy(out[:], b)
	return out, nil
}
