package proof

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Mux routes each proof request to the provider backing the chain that hosts
// the proven contract. Stake confirmations prove the origin Gateway account,
// redeem confirmations the auxiliary CoGateway, so one facilitator process
// carries a generator per chain.
type Mux struct {
	byContract map[common.Address]Provider
}

func NewMux(byContract map[common.Address]Provider) (*Mux, error) {
	if len(byContract) == 0 {
		return nil, fmt.Errorf("%w: no providers registered", ErrInvalidRequest)
	}
	m := make(map[common.Address]Provider, len(byContract))
	for addr, p := range byContract {
		if addr == (common.Address{}) {
			return nil, fmt.Errorf("%w: zero contract address", ErrInvalidRequest)
		}
		if p == nil {
			return nil, fmt.Errorf("%w: nil provider for contract %s", ErrInvalidRequest, addr)
		}
		m[addr] = p
	}
	return &Mux{byContract: m}, nil
}

func (m *Mux) ProofForMessage(ctx context.Context, req Request) (Bundle, error) {
	p, ok := m.byContract[req.Contract]
	if !ok {
		return Bundle{}, fmt.Errorf("%w: no proof provider for contract %s", ErrInvalidRequest, req.Contract)
	}
	return p.ProofForMessage(ctx, req)
}
