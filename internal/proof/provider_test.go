package proof

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

type fakeRPC struct {
	calls  int
	method string
	args   []any
	result accountResult
	err    error
}

func (f *fakeRPC) CallContext(_ context.Context, result any, method string, args ...any) error {
	f.calls++
	f.method = method
	f.args = args
	if f.err != nil {
		return f.err
	}
	*(result.(*accountResult)) = f.result
	return nil
}

func validRequest() Request {
	return Request{
		Contract:        common.HexToAddress("0x4444444444444444444444444444444444444444"),
		MessageHash:     common.HexToHash("0x77"),
		MessageBoxIndex: 7,
		Box:             BoxOutbox,
		BlockHeight:     big.NewInt(255),
	}
}

func proofResult() accountResult {
	return accountResult{
		Nonce:        1,
		Balance:      (*hexutil.Big)(big.NewInt(0)),
		StorageHash:  common.HexToHash("0x01"),
		CodeHash:     common.HexToHash("0x02"),
		AccountProof: []hexutil.Bytes{{0xc0}, {0xc1, 0x80}},
		StorageProof: []storageResult{{
			Value: (*hexutil.Big)(big.NewInt(1)),
			Proof: []hexutil.Bytes{{0xc0}},
		}},
	}
}

func TestProofForMessage(t *testing.T) {
	t.Parallel()

	rpc := &fakeRPC{result: proofResult()}
	g, err := NewGenerator(rpc)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	req := validRequest()
	bundle, err := g.ProofForMessage(context.Background(), req)
	if err != nil {
		t.Fatalf("ProofForMessage: %v", err)
	}

	if rpc.method != "eth_getProof" {
		t.Fatalf("method: got %q", rpc.method)
	}
	if got := rpc.args[2].(string); got != "0xff" {
		t.Fatalf("block tag: got %q want 0xff (hex-encoded height)", got)
	}
	slots := rpc.args[1].([]string)
	if want := SlotForMessage(req.MessageHash, req.MessageBoxIndex, req.Box).Hex(); slots[0] != want {
		t.Fatalf("slot: got %s want %s", slots[0], want)
	}

	if bundle.BlockHeight.Cmp(req.BlockHeight) != 0 {
		t.Fatalf("bundle height: got %v want %v", bundle.BlockHeight, req.BlockHeight)
	}

	// The account must decode back to the RLP quadruple.
	var acct []rlp.RawValue
	if err := rlp.DecodeBytes(bundle.EncodedAccount, &acct); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if len(acct) != 4 {
		t.Fatalf("account fields: got %d want 4", len(acct))
	}

	var nodes []rlp.RawValue
	if err := rlp.DecodeBytes(bundle.AccountProof, &nodes); err != nil {
		t.Fatalf("decode account proof: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("account proof nodes: got %d want 2", len(nodes))
	}
}

func TestProofForMessage_EmptySlot(t *testing.T) {
	t.Parallel()

	res := proofResult()
	res.StorageProof[0].Value = (*hexutil.Big)(big.NewInt(0))
	g, _ := NewGenerator(&fakeRPC{result: res})

	if _, err := g.ProofForMessage(context.Background(), validRequest()); !errors.Is(err, ErrEmptySlot) {
		t.Fatalf("want ErrEmptySlot, got %v", err)
	}
}

func TestProofForMessage_RPCErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	g, _ := NewGenerator(&fakeRPC{err: boom})

	if _, err := g.ProofForMessage(context.Background(), validRequest()); !errors.Is(err, boom) {
		t.Fatalf("want rpc error, got %v", err)
	}
}

func TestProofForMessage_ValidatesRequest(t *testing.T) {
	t.Parallel()

	rpc := &fakeRPC{result: proofResult()}
	g, _ := NewGenerator(rpc)
	ctx := context.Background()

	cases := map[string]func(*Request){
		"zero contract":   func(r *Request) { r.Contract = common.Address{} },
		"zero hash":       func(r *Request) { r.MessageHash = common.Hash{} },
		"nil height":      func(r *Request) { r.BlockHeight = nil },
		"negative height": func(r *Request) { r.BlockHeight = big.NewInt(-1) },
		"bad box":         func(r *Request) { r.Box = Box(9) },
	}
	for name, mutate := range cases {
		req := validRequest()
		mutate(&req)
		if _, err := g.ProofForMessage(ctx, req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: want ErrInvalidRequest, got %v", name, err)
		}
	}
	if rpc.calls != 0 {
		t.Fatalf("invalid requests must not reach the RPC client (got %d calls)", rpc.calls)
	}
}

func TestSlotForMessage(t *testing.T) {
	t.Parallel()

	hash := common.HexToHash("0x77")

	outbox := SlotForMessage(hash, 7, BoxOutbox)
	inbox := SlotForMessage(hash, 7, BoxInbox)
	if outbox == inbox {
		t.Fatal("outbox and inbox slots must differ")
	}

	// Inbox lives one slot after the outbox mapping.
	if want := SlotForMessage(hash, 8, BoxOutbox); inbox != want {
		t.Fatalf("inbox slot: got %v want %v", inbox, want)
	}

	want := crypto.Keccak256Hash(hash.Bytes(), common.LeftPadBytes(big.NewInt(7).Bytes(), 32))
	if outbox != want {
		t.Fatalf("outbox slot: got %v want %v", outbox, want)
	}
}
