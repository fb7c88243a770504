package eth

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type fakeBackend struct {
	mu sync.Mutex

	pendingNonce uint64
	tipCap       *big.Int
	baseFee      *big.Int
	gasEstimate  uint64
	estimateErr  error

	sent          []*types.Transaction
	sendErr       error
	receiptStatus uint64
	// receiptAfter is the number of TransactionReceipt polls that return
	// NotFound before a receipt appears.
	receiptAfter int
	receiptPolls int
}

func (b *fakeBackend) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	return b.pendingNonce, nil
}

func (b *fakeBackend) SuggestGasTipCap(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.tipCap), nil
}

func (b *fakeBackend) HeaderByNumber(_ context.Context, _ *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: new(big.Int).Set(b.baseFee)}, nil
}

func (b *fakeBackend) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	return b.gasEstimate, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.mu.Lock()
	b.sent = append(b.sent, tx)
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiptPolls++
	if b.receiptPolls <= b.receiptAfter {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: b.receiptStatus, TxHash: txHash, BlockNumber: big.NewInt(100)}, nil
}

func newTestRelayer(t *testing.T, backend *fakeBackend) *Relayer {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	r, err := NewRelayer(backend, []Signer{NewLocalSigner(key)}, RelayerConfig{
		ChainID:             big.NewInt(1337),
		GasLimitMultiplier:  1.2,
		MinTipCap:           big.NewInt(1),
		ReceiptPollInterval: time.Millisecond,
		Sleep:               func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("NewRelayer: %v", err)
	}
	return r
}

func TestSendAndWaitMined_Success(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		pendingNonce:  7,
		tipCap:        big.NewInt(2),
		baseFee:       big.NewInt(10),
		gasEstimate:   21000,
		receiptStatus: types.ReceiptStatusSuccessful,
		receiptAfter:  2,
	}
	r := newTestRelayer(t, backend)

	res, err := r.SendAndWaitMined(context.Background(), TxRequest{
		To:   common.HexToAddress("0x01"),
		Data: []byte{0xde, 0xad},
	})
	if err != nil {
		t.Fatalf("SendAndWaitMined: %v", err)
	}
	if res.Nonce != 7 {
		t.Fatalf("nonce: got %d want 7", res.Nonce)
	}
	if res.Receipt == nil || res.Receipt.Status != types.ReceiptStatusSuccessful {
		t.Fatalf("missing or failed receipt: %+v", res.Receipt)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("sent %d transactions, want exactly 1", len(backend.sent))
	}
	if gas := backend.sent[0].Gas(); gas != 25200 {
		t.Fatalf("gas limit: got %d want 25200 (21000 * 1.2)", gas)
	}
}

func TestSendAndWaitMined_RevertedSurfacesReceipt(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		tipCap:        big.NewInt(2),
		baseFee:       big.NewInt(10),
		gasEstimate:   21000,
		receiptStatus: types.ReceiptStatusFailed,
	}
	r := newTestRelayer(t, backend)

	res, err := r.SendAndWaitMined(context.Background(), TxRequest{To: common.HexToAddress("0x01")})
	if !errors.Is(err, ErrTxReverted) {
		t.Fatalf("want ErrTxReverted, got %v", err)
	}
	if res.Receipt == nil {
		t.Fatal("reverted result must still carry the receipt")
	}
}

func TestSendAndWaitMined_EstimateErrorStopsSend(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	backend := &fakeBackend{
		tipCap:      big.NewInt(2),
		baseFee:     big.NewInt(10),
		estimateErr: boom,
	}
	r := newTestRelayer(t, backend)

	_, err := r.SendAndWaitMined(context.Background(), TxRequest{To: common.HexToAddress("0x01")})
	if !errors.Is(err, boom) {
		t.Fatalf("want estimate error, got %v", err)
	}
	if len(backend.sent) != 0 {
		t.Fatal("no transaction must be sent when estimation fails")
	}
}

func TestSendAndWaitMined_ExplicitGasLimitSkipsEstimate(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		tipCap:        big.NewInt(2),
		baseFee:       big.NewInt(10),
		estimateErr:   errors.New("estimate must not be called"),
		receiptStatus: types.ReceiptStatusSuccessful,
	}
	r := newTestRelayer(t, backend)

	res, err := r.SendAndWaitMined(context.Background(), TxRequest{
		To:       common.HexToAddress("0x01"),
		GasLimit: 60000,
	})
	if err != nil {
		t.Fatalf("SendAndWaitMined: %v", err)
	}
	if backend.sent[0].Gas() != 60000 {
		t.Fatalf("gas limit: got %d want 60000", backend.sent[0].Gas())
	}
	_ = res
}

func TestNewRelayer_RejectsBadConfig(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signers := []Signer{NewLocalSigner(key)}
	backend := &fakeBackend{}

	cases := map[string]RelayerConfig{
		"nil chain id":  {GasLimitMultiplier: 1, MinTipCap: big.NewInt(0), ReceiptPollInterval: time.Second},
		"zero poll":     {ChainID: big.NewInt(1), GasLimitMultiplier: 1, MinTipCap: big.NewInt(0)},
		"nil min tip":   {ChainID: big.NewInt(1), GasLimitMultiplier: 1, ReceiptPollInterval: time.Second},
		"zero gas mult": {ChainID: big.NewInt(1), MinTipCap: big.NewInt(0), ReceiptPollInterval: time.Second},
	}
	for name, cfg := range cases {
		if _, err := NewRelayer(backend, signers, cfg); !errors.Is(err, ErrInvalidRelayerConfig) {
			t.Fatalf("%s: want ErrInvalidRelayerConfig, got %v", name, err)
		}
	}

	if _, err := NewRelayer(backend, []Signer{NewLocalSigner(key), NewLocalSigner(key)}, RelayerConfig{
		ChainID: big.NewInt(1), GasLimitMultiplier: 1, MinTipCap: big.NewInt(0), ReceiptPollInterval: time.Second,
	}); !errors.Is(err, ErrInvalidRelayerConfig) {
		t.Fatalf("duplicate signer: want ErrInvalidRelayerConfig, got %v", err)
	}
}

func TestNonceManager_NextIsMonotonic(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{pendingNonce: 5}
	nm := NewNonceManager(backend, common.HexToAddress("0x01"))

	ctx := context.Background()
	for want := uint64(5); want < 8; want++ {
		n, err := nm.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if n != want {
			t.Fatalf("Next: got %d want %d", n, want)
		}
	}

	// Sync never decreases the local counter.
	if _, err := nm.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	n, err := nm.Next(ctx)
	if err != nil {
		t.Fatalf("Next after Sync: %v", err)
	}
	if n != 8 {
		t.Fatalf("Next after Sync: got %d want 8", n)
	}
}

func TestCalc1559Fees(t *testing.T) {
	t.Parallel()

	tip, fee, err := Calc1559Fees(big.NewInt(100), big.NewInt(2), big.NewInt(5))
	if err != nil {
		t.Fatalf("Calc1559Fees: %v", err)
	}
	if tip.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("tip: got %v want 5 (min tip floor)", tip)
	}
	if fee.Cmp(big.NewInt(205)) != 0 {
		t.Fatalf("fee: got %v want 205 (2*base + tip)", fee)
	}

	if _, _, err := Calc1559Fees(nil, big.NewInt(1), big.NewInt(1)); !errors.Is(err, ErrInvalidFeeArgs) {
		t.Fatalf("nil base fee: want ErrInvalidFeeArgs, got %v", err)
	}
	if _, _, err := Calc1559Fees(big.NewInt(-1), big.NewInt(1), big.NewInt(1)); !errors.Is(err, ErrInvalidFeeArgs) {
		t.Fatalf("negative base fee: want ErrInvalidFeeArgs, got %v", err)
	}
}

func TestParsePrivateKeysHexList(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))

	keys, err := ParsePrivateKeysHexList("0x" + hexKey + ", " + hexKey)
	if err != nil {
		t.Fatalf("ParsePrivateKeysHexList: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}

	if _, err := ParsePrivateKeysHexList(""); !errors.Is(err, ErrInvalidPrivateKey) {
		t.Fatalf("empty: want ErrInvalidPrivateKey, got %v", err)
	}
	if _, err := ParsePrivateKeysHexList("zz"); !errors.Is(err, ErrInvalidPrivateKey) {
		t.Fatalf("garbage: want ErrInvalidPrivateKey, got %v", err)
	}
}
