package eth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrInvalidRelayerConfig = errors.New("eth: invalid relayer config")
	ErrTxReverted           = errors.New("eth: transaction reverted")
)

type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type RelayerConfig struct {
	ChainID            *big.Int
	GasLimitMultiplier float64
	MinTipCap          *big.Int

	ReceiptPollInterval time.Duration

	Sleep func(ctx context.Context, d time.Duration) error
}

// Relayer submits EVM transactions and waits for them to be mined.
//
// It sends each transaction exactly once: the protocol's state-changing calls
// are all idempotent at the contract level (status slots short-circuit
// re-submission), so retry policy belongs to the caller, not here.
type Relayer struct {
	backend Backend
	cfg     RelayerConfig

	signers []Signer
	nonces  map[common.Address]*NonceManager
	rr      uint32
}

type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64 // optional; 0 => estimate
}

type SendResult struct {
	From    common.Address
	Nonce   uint64
	TxHash  common.Hash
	Receipt *types.Receipt
}

func NewRelayer(backend Backend, signers []Signer, cfg RelayerConfig) (*Relayer, error) {
	if backend == nil || len(signers) == 0 {
		return nil, ErrInvalidRelayerConfig
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, ErrInvalidRelayerConfig
	}
	if cfg.GasLimitMultiplier <= 0 {
		return nil, ErrInvalidRelayerConfig
	}
	if cfg.MinTipCap == nil || cfg.MinTipCap.Sign() < 0 {
		return nil, ErrInvalidRelayerConfig
	}
	if cfg.ReceiptPollInterval <= 0 {
		return nil, ErrInvalidRelayerConfig
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}

	nonces := make(map[common.Address]*NonceManager, len(signers))
	for _, s := range signers {
		if s == nil {
			return nil, ErrInvalidRelayerConfig
		}
		addr := s.Address()
		if (addr == common.Address{}) {
			return nil, ErrInvalidRelayerConfig
		}
		if _, ok := nonces[addr]; ok {
			return nil, fmt.Errorf("%w: duplicate signer address %s", ErrInvalidRelayerConfig, addr)
		}
		nonces[addr] = NewNonceManager(backend, addr)
	}

	return &Relayer{
		backend: backend,
		cfg:     cfg,
		signers: signers,
		nonces:  nonces,
	}, nil
}

func (r *Relayer) pickSigner() (Signer, *NonceManager) {
	i := atomic.AddUint32(&r.rr, 1)
	s := r.signers[int(i)%len(r.signers)]
	return s, r.nonces[s.Address()]
}

// SendAndWaitMined signs, broadcasts, and polls until the transaction is
// mined. A mined-but-reverted transaction is returned together with
// ErrTxReverted so callers can inspect the receipt.
func (r *Relayer) SendAndWaitMined(ctx context.Context, req TxRequest) (SendResult, error) {
	s, nm := r.pickSigner()
	from := s.Address()

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		est, err := r.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  from,
			To:    &req.To,
			Value: value,
			Data:  req.Data,
		})
		if err != nil {
			return SendResult{}, err
		}
		gasLimit = applyGasMultiplier(est, r.cfg.GasLimitMultiplier)
	}

	suggestedTip, err := r.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return SendResult{}, err
	}
	header, err := r.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return SendResult{}, err
	}
	if header.BaseFee == nil || header.BaseFee.Sign() < 0 {
		return SendResult{}, fmt.Errorf("eth: missing baseFee in latest header")
	}

	tipCap, feeCap, err := Calc1559Fees(header.BaseFee, suggestedTip, r.cfg.MinTipCap)
	if err != nil {
		return SendResult{}, err
	}

	nonce, err := nm.Next(ctx)
	if err != nil {
		return SendResult{}, err
	}

	to := req.To
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   r.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := s.SignTx(tx, r.cfg.ChainID)
	if err != nil {
		return SendResult{}, err
	}
	if err := r.backend.SendTransaction(ctx, signed); err != nil {
		return SendResult{}, err
	}
	txHash := signed.Hash()

	for {
		receipt, err := r.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			res := SendResult{
				From:    from,
				Nonce:   nonce,
				TxHash:  txHash,
				Receipt: receipt,
			}
			if receipt.Status != types.ReceiptStatusSuccessful {
				return res, fmt.Errorf("%w: %s", ErrTxReverted, txHash)
			}
			return res, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return SendResult{}, err
		}

		if err := r.cfg.Sleep(ctx, r.cfg.ReceiptPollInterval); err != nil {
			return SendResult{}, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func applyGasMultiplier(est uint64, mult float64) uint64 {
	if mult <= 1 {
		return est
	}
	out := uint64(math.Ceil(float64(est) * mult))
	if out < est {
		// overflow or float error; fall back to the estimate.
		return est
	}
	return out
}
