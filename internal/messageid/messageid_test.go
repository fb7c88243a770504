package messageid

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func baseIntent() Intent {
	return Intent{
		Sender:      common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Amount:      big.NewInt(1000),
		Beneficiary: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		GasPrice:    big.NewInt(10),
		GasLimit:    big.NewInt(100),
		Nonce:       big.NewInt(1),
		HashLock:    common.HexToHash("0x3333333333333333333333333333333333333333333333333333333333333333"),
	}
}

var testGateway = common.HexToAddress("0x4444444444444444444444444444444444444444")

func TestStakeMessageHash_Deterministic(t *testing.T) {
	t.Parallel()

	h1, err := StakeMessageHash(baseIntent(), testGateway)
	if err != nil {
		t.Fatalf("StakeMessageHash: %v", err)
	}
	h2, err := StakeMessageHash(baseIntent(), testGateway)
	if err != nil {
		t.Fatalf("StakeMessageHash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("equal intents produced different hashes: %s vs %s", h1, h2)
	}
	if h1 == (common.Hash{}) {
		t.Fatal("hash must be non-zero")
	}
}

func TestStakeMessageHash_SensitiveToEveryField(t *testing.T) {
	t.Parallel()

	ref, err := StakeMessageHash(baseIntent(), testGateway)
	if err != nil {
		t.Fatalf("StakeMessageHash: %v", err)
	}

	mutations := map[string]func(*Intent){
		"sender":      func(i *Intent) { i.Sender = common.HexToAddress("0x9999999999999999999999999999999999999999") },
		"amount":      func(i *Intent) { i.Amount = big.NewInt(1001) },
		"beneficiary": func(i *Intent) { i.Beneficiary = common.HexToAddress("0x9999999999999999999999999999999999999999") },
		"gasPrice":    func(i *Intent) { i.GasPrice = big.NewInt(11) },
		"gasLimit":    func(i *Intent) { i.GasLimit = big.NewInt(101) },
		"nonce":       func(i *Intent) { i.Nonce = big.NewInt(2) },
		"hashLock": func(i *Intent) {
			i.HashLock = common.HexToHash("0x9999999999999999999999999999999999999999999999999999999999999999")
		},
	}

	for name, mutate := range mutations {
		intent := baseIntent()
		mutate(&intent)
		h, err := StakeMessageHash(intent, testGateway)
		if err != nil {
			t.Fatalf("StakeMessageHash after mutating %s: %v", name, err)
		}
		if h == ref {
			t.Fatalf("mutating %s did not change the hash", name)
		}
	}

	// Changing the target contract must change the hash too.
	h, err := StakeMessageHash(baseIntent(), common.HexToAddress("0x5555555555555555555555555555555555555555"))
	if err != nil {
		t.Fatalf("StakeMessageHash: %v", err)
	}
	if h == ref {
		t.Fatal("changing the gateway address did not change the hash")
	}
}

func TestMessageHash_DirectionSeparation(t *testing.T) {
	t.Parallel()

	stake, err := StakeMessageHash(baseIntent(), testGateway)
	if err != nil {
		t.Fatalf("StakeMessageHash: %v", err)
	}
	redeem, err := RedeemMessageHash(baseIntent(), testGateway)
	if err != nil {
		t.Fatalf("RedeemMessageHash: %v", err)
	}
	if stake == redeem {
		t.Fatal("stake and redeem hashes must differ for identical fields")
	}
}

func TestMessageHash_RejectsMalformedIntent(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		mutate  func(*Intent)
		gateway common.Address
	}{
		"nil amount":       {mutate: func(i *Intent) { i.Amount = nil }, gateway: testGateway},
		"negative amount":  {mutate: func(i *Intent) { i.Amount = big.NewInt(-1) }, gateway: testGateway},
		"nil gas price":    {mutate: func(i *Intent) { i.GasPrice = nil }, gateway: testGateway},
		"nil gas limit":    {mutate: func(i *Intent) { i.GasLimit = nil }, gateway: testGateway},
		"nil nonce":        {mutate: func(i *Intent) { i.Nonce = nil }, gateway: testGateway},
		"zero gateway":     {mutate: func(*Intent) {}, gateway: common.Address{}},
		"amount > uint256": {mutate: func(i *Intent) { i.Amount = new(big.Int).Lsh(big.NewInt(1), 256) }, gateway: testGateway},
	}

	for name, tc := range cases {
		intent := baseIntent()
		tc.mutate(&intent)
		if _, err := StakeMessageHash(intent, tc.gateway); !errors.Is(err, ErrInvalidIntent) {
			t.Fatalf("%s: want ErrInvalidIntent, got %v", name, err)
		}
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	for v := uint8(0); v <= 4; v++ {
		s, err := ParseStatus(v)
		if err != nil {
			t.Fatalf("ParseStatus(%d): %v", v, err)
		}
		if uint8(s) != v {
			t.Fatalf("ParseStatus(%d) = %d", v, s)
		}
	}
	if _, err := ParseStatus(5); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("ParseStatus(5): want ErrUnknownStatus, got %v", err)
	}
}

func TestStatusFromBig(t *testing.T) {
	t.Parallel()

	s, err := StatusFromBig(big.NewInt(2))
	if err != nil {
		t.Fatalf("StatusFromBig: %v", err)
	}
	if s != StatusProgressed {
		t.Fatalf("StatusFromBig(2) = %v, want progressed", s)
	}

	for _, v := range []*big.Int{nil, big.NewInt(-1), big.NewInt(5), new(big.Int).Lsh(big.NewInt(1), 64)} {
		if _, err := StatusFromBig(v); !errors.Is(err, ErrUnknownStatus) {
			t.Fatalf("StatusFromBig(%v): want ErrUnknownStatus, got %v", v, err)
		}
	}
}

func TestStatusString(t *testing.T) {
	t.Parallel()

	want := map[Status]string{
		StatusUndeclared:         "undeclared",
		StatusDeclared:           "declared",
		StatusProgressed:         "progressed",
		StatusRevocationDeclared: "revocation_declared",
		StatusRevoked:            "revoked",
		Status(7):                "unknown(7)",
	}
	for s, str := range want {
		if s.String() != str {
			t.Fatalf("Status(%d).String() = %q, want %q", uint8(s), s.String(), str)
		}
	}
}
