package persistence

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ILedgerPersistence is the keyed store behind one distributor's claim ledger.
// All implementations must be thread-safe.
//
// The interface supports:
// - Root state (live root, generation, owner)
// - Cumulative high-water marks per account
// - Claimed bits per (generation, index) for the indexed model
// - Claimed bits per token id for the token-set model
// - Lifecycle management (close, health check)
//
// Ledger entries are never deleted by the distributor; Clear* methods exist
// only to revert a write whose transfer failed within the same claim.
//
// Several distributor processes may share one store. Every write a claim or a
// rotation depends on is therefore conditional and reports whether it took
// effect; a false result means another writer got there first.
type ILedgerPersistence interface {
	// Root State

	// SaveRootState overwrites the persisted root state.
	SaveRootState(state *RootState) error

	// LoadRootState returns the persisted root state.
	// Returns nil if none exists (first run), error only on storage failure.
	LoadRootState() (*RootState, error)

	// SwapRootState stores next only if the persisted generation equals
	// expectedGeneration. An expectedGeneration of 0 means no state exists yet.
	SwapRootState(expectedGeneration uint64, next *RootState) (bool, error)

	// Cumulative Model

	// GetClaimedAmount returns the amount already paid to account.
	// Returns zero for an account that never claimed.
	GetClaimedAmount(account common.Address) (*big.Int, error)

	// SetClaimedAmount stores the absolute high-water mark for account.
	SetClaimedAmount(account common.Address, amount *big.Int) error

	// CompareAndSetClaimedAmount stores next only if the current mark for
	// account equals expected (zero for an account that never claimed).
	CompareAndSetClaimedAmount(account common.Address, expected, next *big.Int) (bool, error)

	// Indexed Model

	// IsIndexClaimed reports whether index was claimed under generation.
	IsIndexClaimed(generation, index uint64) (bool, error)

	// SetIndexClaimed marks index as claimed under generation. It returns
	// false, and writes nothing, if the bit was already set.
	SetIndexClaimed(generation, index uint64) (bool, error)

	// ClearIndexClaimed reverts SetIndexClaimed.
	ClearIndexClaimed(generation, index uint64) error

	// Token-Set Model

	// IsTokenClaimed reports whether tokenID was claimed.
	IsTokenClaimed(tokenID *big.Int) (bool, error)

	// SetTokensClaimed marks every id as claimed in one atomic write. If any
	// id is already claimed nothing is written and it returns false.
	SetTokensClaimed(tokenIDs []*big.Int) (bool, error)

	// ClearTokensClaimed reverts SetTokensClaimed in one atomic write.
	ClearTokensClaimed(tokenIDs []*big.Int) error

	// Lifecycle Management

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations should return errors.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	// Returns nil if healthy, error describing the problem if not.
	HealthCheck() error
}
