package testutil

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/oracle-pusher/internal/ports/outbound"
)

// MockMulticaller implements outbound.Multicaller for testing. Every batch
// passed to Execute is recorded in order.
type MockMulticaller struct {
	mu        sync.Mutex
	ExecuteFn func(ctx context.Context, calls []outbound.Call, blockNumber *big.Int) ([]outbound.Result, error)
	Addr      common.Address
	batches   [][]outbound.Call
}

// NewMockMulticaller returns a mock reporting the canonical Multicall3 address.
func NewMockMulticaller() *MockMulticaller {
	return &MockMulticaller{
		Addr: common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11"),
	}
}

func (m *MockMulticaller) Execute(ctx context.Context, calls []outbound.Call, blockNumber *big.Int) ([]outbound.Result, error) {
	m.mu.Lock()
	m.batches = append(m.batches, append([]outbound.Call(nil), calls...))
	fn := m.ExecuteFn
	m.mu.Unlock()

	if fn == nil {
		return nil, errors.New("Execute not mocked")
	}
	return fn(ctx, calls, blockNumber)
}

func (m *MockMulticaller) Address() common.Address {
	return m.Addr
}

// Calls returns how many times Execute was invoked.
func (m *MockMulticaller) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

// Batches returns a copy of every recorded batch.
func (m *MockMulticaller) Batches() [][]outbound.Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]outbound.Call(nil), m.batches...)
}
