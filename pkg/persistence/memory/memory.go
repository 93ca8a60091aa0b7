package memory

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
)

type indexKey struct {
	generation uint64
	index      uint64
}

// MemoryPersistence is an in-memory implementation of ILedgerPersistence.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	rootState *persistence.RootState

	// account -> cumulative amount already paid
	claimed map[common.Address]*big.Int

	// (generation, index) -> claimed
	indexBits map[indexKey]struct{}

	// token id (base-10) -> claimed
	tokenBits map[string]struct{}

	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		claimed:   make(map[common.Address]*big.Int),
		indexBits: make(map[indexKey]struct{}),
		tokenBits: make(map[string]struct{}),
	}
}

// SaveRootState persists the root state.
func (m *MemoryPersistence) SaveRootState(state *persistence.RootState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil RootState")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	m.rootState = state.Copy()
	return nil
}

// LoadRootState retrieves the root state.
func (m *MemoryPersistence) LoadRootState() (*persistence.RootState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	return m.rootState.Copy(), nil
}

// SwapRootState stores next if the stored generation is expectedGeneration.
func (m *MemoryPersistence) SwapRootState(expectedGeneration uint64, next *persistence.RootState) (bool, error) {
	if next == nil {
		return false, fmt.Errorf("cannot save nil RootState")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, fmt.Errorf("persistence layer is closed")
	}

	var current uint64
	if m.rootState != nil {
		current = m.rootState.Generation
	}
	if current != expectedGeneration {
		return false, nil
	}

	m.rootState = next.Copy()
	return true, nil
}

// GetClaimedAmount returns the amount already paid to account.
func (m *MemoryPersistence) GetClaimedAmount(account common.Address) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	amount, ok := m.claimed[account]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(amount), nil
}

// SetClaimedAmount stores account's high-water mark.
func (m *MemoryPersistence) SetClaimedAmount(account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("cannot store negative or nil amount")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	m.claimed[account] = new(big.Int).Set(amount)
	return nil
}

// CompareAndSetClaimedAmount stores next if account's mark equals expected.
func (m *MemoryPersistence) CompareAndSetClaimedAmount(account common.Address, expected, next *big.Int) (bool, error) {
	if expected == nil || next == nil || next.Sign() < 0 {
		return false, fmt.Errorf("cannot store negative or nil amount")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, fmt.Errorf("persistence layer is closed")
	}

	current, ok := m.claimed[account]
	if !ok {
		current = new(big.Int)
	}
	if current.Cmp(expected) != 0 {
		return false, nil
	}

	m.claimed[account] = new(big.Int).Set(next)
	return true, nil
}

// IsIndexClaimed reports whether index was claimed under generation.
func (m *MemoryPersistence) IsIndexClaimed(generation, index uint64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, fmt.Errorf("persistence layer is closed")
	}

	_, ok := m.indexBits[indexKey{generation, index}]
	return ok, nil
}

// SetIndexClaimed marks index as claimed under generation unless it already is.
func (m *MemoryPersistence) SetIndexClaimed(generation, index uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, fmt.Errorf("persistence layer is closed")
	}

	key := indexKey{generation, index}
	if _, ok := m.indexBits[key]; ok {
		return false, nil
	}
	m.indexBits[key] = struct{}{}
	return true, nil
}

// ClearIndexClaimed removes the claimed bit for index under generation.
func (m *MemoryPersistence) ClearIndexClaimed(generation, index uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	delete(m.indexBits, indexKey{generation, index})
	return nil
}

// IsTokenClaimed reports whether tokenID was claimed.
func (m *MemoryPersistence) IsTokenClaimed(tokenID *big.Int) (bool, error) {
	if tokenID == nil {
		return false, fmt.Errorf("token id cannot be nil")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, fmt.Errorf("persistence layer is closed")
	}

	_, ok := m.tokenBits[tokenID.String()]
	return ok, nil
}

// SetTokensClaimed marks every id as claimed, or none if any already is.
func (m *MemoryPersistence) SetTokensClaimed(tokenIDs []*big.Int) (bool, error) {
	if err := checkTokenIDs(tokenIDs); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, fmt.Errorf("persistence layer is closed")
	}

	for _, id := range tokenIDs {
		if _, ok := m.tokenBits[id.String()]; ok {
			return false, nil
		}
	}
	for _, id := range tokenIDs {
		m.tokenBits[id.String()] = struct{}{}
	}
	return true, nil
}

// ClearTokensClaimed removes the claimed bit of every id.
func (m *MemoryPersistence) ClearTokensClaimed(tokenIDs []*big.Int) error {
	if err := checkTokenIDs(tokenIDs); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	for _, id := range tokenIDs {
		delete(m.tokenBits, id.String())
	}
	return nil
}

func checkTokenIDs(tokenIDs []*big.Int) error {
	for _, id := range tokenIDs {
		if id == nil {
			return fmt.Errorf("token id cannot be nil")
		}
	}
	return nil
}

// Close marks the persistence layer as closed.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	return nil
}
