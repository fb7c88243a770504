package proofvault

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/big"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/ethereum/go-ethereum/common"

	"github.com/stakemint/facilitator/internal/proof"
)

func testKey() Key {
	return Key{
		Direction:   DirectionStake,
		MessageHash: common.HexToHash("0xabc123"),
		BlockHeight: big.NewInt(512),
	}
}

func testBundle() proof.Bundle {
	return proof.Bundle{
		BlockHeight:    big.NewInt(512),
		EncodedAccount: []byte{0xf8, 0x44},
		AccountProof:   []byte{0xc1, 0x80},
		StorageProof:   []byte{0xc2, 0x01, 0x02},
	}
}

func TestMemoryVaultRoundTrip(t *testing.T) {
	v := NewMemory("proofs")
	ctx := context.Background()
	key := testKey()

	ok, err := v.Exists(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("exists before put")
	}
	if _, err := v.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get before put: got %v, want ErrNotFound", err)
	}

	if err := v.Put(ctx, key, testBundle()); err != nil {
		t.Fatal(err)
	}

	ok, err = v.Exists(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("missing after put")
	}

	got, err := v.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	want := testBundle()
	if got.BlockHeight.Cmp(want.BlockHeight) != 0 {
		t.Fatalf("block height = %s, want %s", got.BlockHeight, want.BlockHeight)
	}
	if !bytes.Equal(got.EncodedAccount, want.EncodedAccount) ||
		!bytes.Equal(got.AccountProof, want.AccountProof) ||
		!bytes.Equal(got.StorageProof, want.StorageProof) {
		t.Fatalf("bundle mismatch: got %+v", got)
	}

	// Same hash, different direction or height, is a different object.
	other := key
	other.Direction = DirectionRedeem
	if ok, _ := v.Exists(ctx, other); ok {
		t.Fatal("redeem key collided with stake key")
	}
	other = key
	other.BlockHeight = big.NewInt(513)
	if ok, _ := v.Exists(ctx, other); ok {
		t.Fatal("height 513 collided with height 512")
	}
}

func TestKeyValidation(t *testing.T) {
	v := NewMemory("")
	ctx := context.Background()

	cases := []struct {
		name string
		key  Key
	}{
		{"bad direction", Key{Direction: "sideways", MessageHash: common.HexToHash("0x01"), BlockHeight: big.NewInt(1)}},
		{"zero hash", Key{Direction: DirectionStake, BlockHeight: big.NewInt(1)}},
		{"nil height", Key{Direction: DirectionStake, MessageHash: common.HexToHash("0x01")}},
		{"negative height", Key{Direction: DirectionStake, MessageHash: common.HexToHash("0x01"), BlockHeight: big.NewInt(-1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := v.Put(ctx, tc.key, testBundle()); !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("put: got %v, want ErrInvalidKey", err)
			}
			if _, err := v.Get(ctx, tc.key); !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("get: got %v, want ErrInvalidKey", err)
			}
		})
	}
}

func TestObjectKeyScheme(t *testing.T) {
	key := Key{
		Direction:   DirectionRedeem,
		MessageHash: common.HexToHash("0x02"),
		BlockHeight: big.NewInt(77),
	}
	want := "redeem/" + key.MessageHash.Hex() + "/77.json"
	if got := key.objectKey(); got != want {
		t.Fatalf("objectKey = %q, want %q", got, want)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(Config{Driver: "tape"}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("unknown driver: got %v, want ErrInvalidConfig", err)
	}
	if _, err := New(Config{Driver: DriverS3}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("s3 without bucket: got %v, want ErrInvalidConfig", err)
	}
	if _, err := New(Config{Driver: DriverS3, Bucket: "b"}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("s3 without client: got %v, want ErrInvalidConfig", err)
	}
	if _, err := New(Config{Driver: DriverMemory}); err != nil {
		t.Fatalf("memory driver: %v", err)
	}
}

type fakeS3 struct {
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "no such key"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "not found"}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3VaultRoundTrip(t *testing.T) {
	client := newFakeS3()
	v, err := New(Config{Driver: DriverS3, Bucket: "proofs", Prefix: "mainnet", S3Client: client})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	key := testKey()

	if ok, _ := v.Exists(ctx, key); ok {
		t.Fatal("exists before put")
	}
	if err := v.Put(ctx, key, testBundle()); err != nil {
		t.Fatal(err)
	}

	wantObject := "mainnet/stake/" + key.MessageHash.Hex() + "/512.json"
	if _, ok := client.objects[wantObject]; !ok {
		t.Fatalf("object stored under wrong key; have %v", keysOf(client.objects))
	}

	got, err := v.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got.BlockHeight.Cmp(big.NewInt(512)) != 0 {
		t.Fatalf("block height = %s, want 512", got.BlockHeight)
	}

	if _, err := v.Get(ctx, Key{Direction: DirectionRedeem, MessageHash: key.MessageHash, BlockHeight: key.BlockHeight}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: got %v, want ErrNotFound", err)
	}
}

func TestS3VaultPropagatesPutError(t *testing.T) {
	client := newFakeS3()
	client.putErr = errors.New("access denied")
	v, err := New(Config{Driver: DriverS3, Bucket: "proofs", S3Client: client})
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Put(context.Background(), testKey(), testBundle()); err == nil {
		t.Fatal("put error swallowed")
	}
}

func keysOf(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
