// Package proofvault archives generated proof bundles so a confirmation
// interrupted between the prove and confirm transactions can be resumed
// without regenerating the proof against a state root that may since have
// been superseded.
package proofvault

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/stakemint/facilitator/internal/proof"
)

const (
	DriverS3     = "s3"
	DriverMemory = "memory"

	DirectionStake  = "stake"
	DirectionRedeem = "redeem"

	maxBundleSize int64 = 4 << 20
)

var (
	ErrInvalidConfig = errors.New("proofvault: invalid config")
	ErrInvalidKey    = errors.New("proofvault: invalid key")
	ErrNotFound      = errors.New("proofvault: not found")
	ErrTooLarge      = errors.New("proofvault: bundle too large")
)

// Key identifies one archived bundle. A message is confirmed against exactly
// one block height per attempt, so the triple is unique per generated proof.
type Key struct {
	Direction   string
	MessageHash common.Hash
	BlockHeight *big.Int
}

func (k Key) validate() error {
	if k.Direction != DirectionStake && k.Direction != DirectionRedeem {
		return fmt.Errorf("%w: direction %q", ErrInvalidKey, k.Direction)
	}
	if k.MessageHash == (common.Hash{}) {
		return fmt.Errorf("%w: zero message hash", ErrInvalidKey)
	}
	if k.BlockHeight == nil || k.BlockHeight.Sign() < 0 {
		return fmt.Errorf("%w: nil or negative block height", ErrInvalidKey)
	}
	return nil
}

// objectKey is <direction>/<messageHash>/<height>.json under the prefix.
func (k Key) objectKey() string {
	return fmt.Sprintf("%s/%s/%s.json", k.Direction, k.MessageHash.Hex(), k.BlockHeight.String())
}

// Vault stores and retrieves proof bundles.
type Vault interface {
	Put(ctx context.Context, key Key, bundle proof.Bundle) error
	Get(ctx context.Context, key Key) (proof.Bundle, error)
	Exists(ctx context.Context, key Key) (bool, error)
}

// bundleEnvelope is the archived JSON form. Byte fields are 0x-prefixed hex,
// the height a decimal string.
type bundleEnvelope struct {
	Version        int           `json:"version"`
	BlockHeight    string        `json:"blockHeight"`
	EncodedAccount hexutil.Bytes `json:"encodedAccount"`
	AccountProof   hexutil.Bytes `json:"accountProof"`
	StorageProof   hexutil.Bytes `json:"storageProof"`
}

func encodeBundle(b proof.Bundle) ([]byte, error) {
	if b.BlockHeight == nil {
		return nil, fmt.Errorf("%w: bundle has nil block height", ErrInvalidKey)
	}
	return json.Marshal(bundleEnvelope{
		Version:        1,
		BlockHeight:    b.BlockHeight.String(),
		EncodedAccount: b.EncodedAccount,
		AccountProof:   b.AccountProof,
		StorageProof:   b.StorageProof,
	})
}

func decodeBundle(data []byte) (proof.Bundle, error) {
	var env bundleEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return proof.Bundle{}, fmt.Errorf("proofvault: decode bundle: %w", err)
	}
	if env.Version != 1 {
		return proof.Bundle{}, fmt.Errorf("proofvault: unsupported bundle version %d", env.Version)
	}
	height, ok := new(big.Int).SetString(env.BlockHeight, 10)
	if !ok {
		return proof.Bundle{}, fmt.Errorf("proofvault: malformed block height %q", env.BlockHeight)
	}
	return proof.Bundle{
		BlockHeight:    height,
		EncodedAccount: env.EncodedAccount,
		AccountProof:   env.AccountProof,
		StorageProof:   env.StorageProof,
	}, nil
}

type Config struct {
	Driver string
	Prefix string

	// S3 fields.
	Bucket   string
	S3Client S3Client
}

type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

func New(cfg Config) (Vault, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Driver)) {
	case DriverMemory:
		return NewMemory(cfg.Prefix), nil
	case DriverS3:
		return newS3Vault(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

func normalizePrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}

func joinPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

type memoryVault struct {
	mu      sync.RWMutex
	prefix  string
	objects map[string][]byte
}

// NewMemory returns an in-process vault for tests and single-node dev runs.
func NewMemory(prefix string) Vault {
	return &memoryVault{
		prefix:  normalizePrefix(prefix),
		objects: make(map[string][]byte),
	}
}

func (m *memoryVault) Put(_ context.Context, key Key, bundle proof.Bundle) error {
	if err := key.validate(); err != nil {
		return err
	}
	data, err := encodeBundle(bundle)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[joinPrefix(m.prefix, key.objectKey())] = data
	m.mu.Unlock()
	return nil
}

func (m *memoryVault) Get(_ context.Context, key Key) (proof.Bundle, error) {
	if err := key.validate(); err != nil {
		return proof.Bundle{}, err
	}
	m.mu.RLock()
	data, ok := m.objects[joinPrefix(m.prefix, key.objectKey())]
	m.mu.RUnlock()
	if !ok {
		return proof.Bundle{}, fmt.Errorf("%w: %s", ErrNotFound, key.objectKey())
	}
	return decodeBundle(data)
}

func (m *memoryVault) Exists(_ context.Context, key Key) (bool, error) {
	if err := key.validate(); err != nil {
		return false, err
	}
	m.mu.RLock()
	_, ok := m.objects[joinPrefix(m.prefix, key.objectKey())]
	m.mu.RUnlock()
	return ok, nil
}

type s3Vault struct {
	client S3Client
	bucket string
	prefix string
}

func newS3Vault(cfg Config) (Vault, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", ErrInvalidConfig)
	}
	if cfg.S3Client == nil {
		return nil, fmt.Errorf("%w: s3 client is required", ErrInvalidConfig)
	}
	return &s3Vault{
		client: cfg.S3Client,
		bucket: bucket,
		prefix: normalizePrefix(cfg.Prefix),
	}, nil
}

func (s *s3Vault) Put(ctx context.Context, key Key, bundle proof.Bundle) error {
	if err := key.validate(); err != nil {
		return err
	}
	data, err := encodeBundle(bundle)
	if err != nil {
		return err
	}
	fullKey := joinPrefix(s.prefix, key.objectKey())

	hasher := md5.Sum(data)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{"content-md5": hex.EncodeToString(hasher[:])},
	})
	if err != nil {
		return fmt.Errorf("proofvault/s3: put %q: %w", fullKey, err)
	}
	return nil
}

func (s *s3Vault) Get(ctx context.Context, key Key) (proof.Bundle, error) {
	if err := key.validate(); err != nil {
		return proof.Bundle{}, err
	}
	fullKey := joinPrefix(s.prefix, key.objectKey())

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isNotFound(err) {
			return proof.Bundle{}, fmt.Errorf("%w: %s", ErrNotFound, fullKey)
		}
		return proof.Bundle{}, fmt.Errorf("proofvault/s3: get %q: %w", fullKey, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxBundleSize+1))
	if err != nil {
		return proof.Bundle{}, fmt.Errorf("proofvault/s3: read %q: %w", fullKey, err)
	}
	if int64(len(data)) > maxBundleSize {
		return proof.Bundle{}, fmt.Errorf("%w: %q exceeds %d bytes", ErrTooLarge, fullKey, maxBundleSize)
	}
	return decodeBundle(data)
}

func (s *s3Vault) Exists(ctx context.Context, key Key) (bool, error) {
	if err := key.validate(); err != nil {
		return false, err
	}
	fullKey := joinPrefix(s.prefix, key.objectKey())

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("proofvault/s3: head %q: %w", fullKey, err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound", "404":
		return true
	default:
		return false
	}
}
