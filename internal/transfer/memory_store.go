package transfer

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore mirrors the postgres store's semantics for tests and
// single-node dev runs.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[[32]byte]Job
	byHash map[common.Hash][32]byte
	order  [][32]byte
	claims map[[32]byte]claim

	now func() time.Time
}

type claim struct {
	owner   string
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[[32]byte]Job),
		byHash: make(map[common.Hash][32]byte),
		claims: make(map[[32]byte]claim),
		now:    time.Now,
	}
}

func (s *MemoryStore) UpsertPending(_ context.Context, r Request) (Job, bool, error) {
	if err := r.Validate(); err != nil {
		return Job{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[r.ID]; ok {
		if !requestEqual(j.Request, r) {
			return Job{}, false, ErrRequestMismatch
		}
		return cloneJob(j), false, nil
	}

	j := Job{Request: cloneRequest(r), State: StatePending}
	s.jobs[r.ID] = j
	s.order = append(s.order, r.ID)
	return cloneJob(j), true, nil
}

func (s *MemoryStore) Get(_ context.Context, id [32]byte) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *MemoryStore) GetByMessageHash(_ context.Context, hash common.Hash) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[hash]
	if !ok {
		return Job{}, ErrNotFound
	}
	return cloneJob(s.jobs[id]), nil
}

func (s *MemoryStore) ClaimRunnable(_ context.Context, owner string, ttl time.Duration, limit int) ([]Job, error) {
	if owner == "" || ttl <= 0 || limit <= 0 {
		return nil, ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []Job
	for _, id := range s.order {
		j := s.jobs[id]
		if j.State >= StateProgressed {
			continue
		}
		if c, ok := s.claims[id]; ok && c.expires.After(now) {
			continue
		}
		s.claims[id] = claim{owner: owner, expires: now.Add(ttl)}
		out = append(out, cloneJob(j))
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkDeclared(_ context.Context, id [32]byte, messageHash common.Hash, nonce, declaredAtHeight *big.Int) error {
	if messageHash == (common.Hash{}) || nonce == nil || declaredAtHeight == nil {
		return ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.State >= StateDeclared {
		if j.MessageHash != messageHash {
			return ErrRequestMismatch
		}
		return nil
	}

	j.State = StateDeclared
	j.MessageHash = messageHash
	j.Nonce = new(big.Int).Set(nonce)
	j.DeclaredAtHeight = new(big.Int).Set(declaredAtHeight)
	s.jobs[id] = j
	s.byHash[messageHash] = id
	return nil
}

func (s *MemoryStore) MarkConfirmed(_ context.Context, id [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.State < StateDeclared {
		return ErrInvalidTransition
	}
	if j.State < StateConfirmed {
		j.State = StateConfirmed
		s.jobs[id] = j
	}
	return nil
}

func (s *MemoryStore) MarkLegProgressed(_ context.Context, id [32]byte, leg Leg, txHash common.Hash) error {
	if txHash == (common.Hash{}) {
		return ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.State < StateConfirmed {
		return ErrInvalidTransition
	}

	switch leg {
	case LegOrigin:
		if j.OriginProgressed {
			if j.OriginTxHash != txHash {
				return ErrRequestMismatch
			}
			return nil
		}
		j.OriginProgressed = true
		j.OriginTxHash = txHash
	case LegAuxiliary:
		if j.AuxProgressed {
			if j.AuxTxHash != txHash {
				return ErrRequestMismatch
			}
			return nil
		}
		j.AuxProgressed = true
		j.AuxTxHash = txHash
	default:
		return ErrInvalidRequest
	}

	j.State = progressState(j.OriginProgressed, j.AuxProgressed)
	s.jobs[id] = j
	return nil
}

func (s *MemoryStore) SetUnlockSecret(_ context.Context, id [32]byte, secret common.Hash) error {
	if secret == (common.Hash{}) {
		return ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.HasSecret() {
		if j.UnlockSecret != secret {
			return ErrRequestMismatch
		}
		return nil
	}
	j.UnlockSecret = secret
	s.jobs[id] = j
	return nil
}

func (s *MemoryStore) RecordError(_ context.Context, id [32]byte, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.LastError = msg
	s.jobs[id] = j
	return nil
}

func cloneRequest(r Request) Request {
	if r.Amount != nil {
		r.Amount = new(big.Int).Set(r.Amount)
	}
	if r.GasPrice != nil {
		r.GasPrice = new(big.Int).Set(r.GasPrice)
	}
	if r.GasLimit != nil {
		r.GasLimit = new(big.Int).Set(r.GasLimit)
	}
	return r
}

func cloneJob(j Job) Job {
	j.Request = cloneRequest(j.Request)
	if j.Nonce != nil {
		j.Nonce = new(big.Int).Set(j.Nonce)
	}
	if j.DeclaredAtHeight != nil {
		j.DeclaredAtHeight = new(big.Int).Set(j.DeclaredAtHeight)
	}
	return j
}

func requestEqual(a, b Request) bool {
	return a.ID == b.ID &&
		a.Direction == b.Direction &&
		a.Actor == b.Actor &&
		a.Amount.Cmp(b.Amount) == 0 &&
		a.Beneficiary == b.Beneficiary &&
		a.GasPrice.Cmp(b.GasPrice) == 0 &&
		a.GasLimit.Cmp(b.GasLimit) == 0 &&
		a.HashLock == b.HashLock
}

var _ Store = (*MemoryStore)(nil)
