package idempotency

import "testing"

func TestRequestIDV1_Deterministic(t *testing.T) {
	t.Parallel()

	var sender [20]byte
	sender[0] = 0x01
	var lock [32]byte
	lock[0] = 0x02

	a := RequestIDV1("stake", sender, lock, 7)
	b := RequestIDV1("stake", sender, lock, 7)
	if a != b {
		t.Fatal("same inputs must produce the same id")
	}
	if a == ([32]byte{}) {
		t.Fatal("id must be non-zero")
	}
}

func TestRequestIDV1_SensitiveToInputs(t *testing.T) {
	t.Parallel()

	var sender [20]byte
	var lock [32]byte
	ref := RequestIDV1("stake", sender, lock, 0)

	if RequestIDV1("redeem", sender, lock, 0) == ref {
		t.Fatal("direction must affect the id")
	}

	var sender2 [20]byte
	sender2[19] = 0xff
	if RequestIDV1("stake", sender2, lock, 0) == ref {
		t.Fatal("sender must affect the id")
	}

	var lock2 [32]byte
	lock2[31] = 0xff
	if RequestIDV1("stake", sender, lock2, 0) == ref {
		t.Fatal("hash lock must affect the id")
	}

	if RequestIDV1("stake", sender, lock, 1) == ref {
		t.Fatal("entropy must affect the id")
	}
}
