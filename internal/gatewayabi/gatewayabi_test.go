package gatewayabi

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func testParams() IntentParams {
	return IntentParams{
		Actor:       common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Amount:      big.NewInt(1000),
		Beneficiary: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		GasPrice:    big.NewInt(10),
		GasLimit:    big.NewInt(100),
		Nonce:       big.NewInt(3),
		HashLock:    common.HexToHash("0xabcd"),
	}
}

func TestPackStake_RoundTrip(t *testing.T) {
	t.Parallel()

	p := testParams()
	data, err := PackStake(p)
	if err != nil {
		t.Fatalf("PackStake: %v", err)
	}

	method := gatewayABI.Methods["stake"]
	if !bytes.Equal(data[:4], method.ID) {
		t.Fatalf("selector mismatch")
	}
	vals, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack inputs: %v", err)
	}
	if got := vals[0].(*big.Int); got.Cmp(p.Amount) != 0 {
		t.Fatalf("amount: got %v want %v", got, p.Amount)
	}
	if got := vals[1].(common.Address); got != p.Beneficiary {
		t.Fatalf("beneficiary: got %v want %v", got, p.Beneficiary)
	}
	if got := vals[4].(*big.Int); got.Cmp(p.Nonce) != 0 {
		t.Fatalf("nonce: got %v want %v", got, p.Nonce)
	}
	if got := vals[5].([32]byte); common.Hash(got) != p.HashLock {
		t.Fatalf("hash lock: got %x want %v", got, p.HashLock)
	}
}

func TestPackStake_RejectsNilAmount(t *testing.T) {
	t.Parallel()

	p := testParams()
	p.Amount = nil
	if _, err := PackStake(p); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
}

func TestPackConfirmStakeIntent_RoundTrip(t *testing.T) {
	t.Parallel()

	p := testParams()
	data, err := PackConfirmStakeIntent(p, big.NewInt(42), []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("PackConfirmStakeIntent: %v", err)
	}
	method := gatewayABI.Methods["confirmStakeIntent"]
	if !bytes.Equal(data[:4], method.ID) {
		t.Fatalf("selector mismatch")
	}
	vals, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack inputs: %v", err)
	}
	if got := vals[0].(common.Address); got != p.Actor {
		t.Fatalf("staker: got %v want %v", got, p.Actor)
	}
	if got := vals[6].(*big.Int); got.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("block height: got %v want 42", got)
	}
	if got := vals[8].([]byte); !bytes.Equal(got, []byte{0x01, 0x02}) {
		t.Fatalf("storage proof: got %x", got)
	}
}

func TestPackConfirm_RejectsEmptyProof(t *testing.T) {
	t.Parallel()

	if _, err := PackConfirmRedeemIntent(testParams(), big.NewInt(1), nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
}

func TestPackProveGateway_Validates(t *testing.T) {
	t.Parallel()

	if _, err := PackProveGateway(nil, []byte{1}, []byte{2}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil height: want ErrInvalidInput, got %v", err)
	}
	if _, err := PackProveGateway(big.NewInt(1), nil, []byte{2}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty account: want ErrInvalidInput, got %v", err)
	}
	if _, err := PackProveGateway(big.NewInt(1), []byte{1}, []byte{2}); err != nil {
		t.Fatalf("valid input: %v", err)
	}
}

func TestPackProgress(t *testing.T) {
	t.Parallel()

	hash := common.HexToHash("0x01")
	secret := common.HexToHash("0x02")

	for _, method := range []string{"progressStake", "progressMint", "progressRedeem", "progressUnstake"} {
		data, err := PackProgress(method, hash, secret)
		if err != nil {
			t.Fatalf("PackProgress(%s): %v", method, err)
		}
		if !bytes.Equal(data[:4], gatewayABI.Methods[method].ID) {
			t.Fatalf("%s: selector mismatch", method)
		}
	}

	if _, err := PackProgress("progressWithdraw", hash, secret); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown method: want ErrInvalidInput, got %v", err)
	}
	if _, err := PackProgress("progressStake", common.Hash{}, secret); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero hash: want ErrInvalidInput, got %v", err)
	}
}

func TestUnpackStatus(t *testing.T) {
	t.Parallel()

	out, err := gatewayABI.Methods["getOutboxMessageStatus"].Outputs.Pack(uint8(2))
	if err != nil {
		t.Fatalf("pack outputs: %v", err)
	}
	got, err := UnpackStatus("getOutboxMessageStatus", out)
	if err != nil {
		t.Fatalf("UnpackStatus: %v", err)
	}
	if got != 2 {
		t.Fatalf("status: got %d want 2", got)
	}
}

func TestUnpackAnchorInfo(t *testing.T) {
	t.Parallel()

	root := common.HexToHash("0xbeef")
	out, err := gatewayABI.Methods["getLatestAnchorInfo"].Outputs.Pack(big.NewInt(77), [32]byte(root))
	if err != nil {
		t.Fatalf("pack outputs: %v", err)
	}
	height, gotRoot, err := UnpackAnchorInfo(out)
	if err != nil {
		t.Fatalf("UnpackAnchorInfo: %v", err)
	}
	if height.Cmp(big.NewInt(77)) != 0 {
		t.Fatalf("height: got %v want 77", height)
	}
	if gotRoot != root {
		t.Fatalf("root: got %v want %v", gotRoot, root)
	}
}

func TestParseStakeIntentDeclared(t *testing.T) {
	t.Parallel()

	gateway := common.HexToAddress("0x4444444444444444444444444444444444444444")
	msgHash := common.HexToHash("0x77")
	staker := common.HexToAddress("0x1111111111111111111111111111111111111111")

	ev := gatewayABI.Events["StakeIntentDeclared"]
	data, err := ev.Inputs.NonIndexed().Pack(staker, big.NewInt(3), big.NewInt(1000))
	if err != nil {
		t.Fatalf("pack event data: %v", err)
	}

	logs := []*types.Log{
		// Unrelated log from another contract.
		{Address: common.HexToAddress("0x9999999999999999999999999999999999999999"), Topics: []common.Hash{ev.ID, msgHash}, Data: data},
		{Address: gateway, Topics: []common.Hash{ev.ID, msgHash}, Data: data},
	}

	decl, err := ParseStakeIntentDeclared(logs, gateway)
	if err != nil {
		t.Fatalf("ParseStakeIntentDeclared: %v", err)
	}
	if decl.MessageHash != msgHash {
		t.Fatalf("message hash: got %v want %v", decl.MessageHash, msgHash)
	}
	if decl.Actor != staker {
		t.Fatalf("staker: got %v want %v", decl.Actor, staker)
	}
	if decl.Nonce.Cmp(big.NewInt(3)) != 0 || decl.Amount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("nonce/amount: got %v/%v", decl.Nonce, decl.Amount)
	}
}

func TestParseStakeIntentDeclared_NotFound(t *testing.T) {
	t.Parallel()

	_, err := ParseStakeIntentDeclared(nil, common.HexToAddress("0x01"))
	if !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("want ErrEventNotFound, got %v", err)
	}
}

func TestERC20Packing(t *testing.T) {
	t.Parallel()

	owner := common.HexToAddress("0x01")
	spender := common.HexToAddress("0x02")

	if _, err := PackERC20Allowance(owner, spender); err != nil {
		t.Fatalf("PackERC20Allowance: %v", err)
	}

	out, err := erc20ABI.Methods["allowance"].Outputs.Pack(big.NewInt(555))
	if err != nil {
		t.Fatalf("pack outputs: %v", err)
	}
	got, err := UnpackERC20Allowance(out)
	if err != nil {
		t.Fatalf("UnpackERC20Allowance: %v", err)
	}
	if got.Cmp(big.NewInt(555)) != 0 {
		t.Fatalf("allowance: got %v want 555", got)
	}

	if _, err := PackERC20Approve(spender, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil amount: want ErrInvalidInput, got %v", err)
	}
	if _, err := PackERC20Approve(spender, big.NewInt(1)); err != nil {
		t.Fatalf("PackERC20Approve: %v", err)
	}
}
