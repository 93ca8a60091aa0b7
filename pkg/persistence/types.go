package persistence

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// RootState is the live commitment of a distributor.
type RootState struct {
	// Model is the entitlement model the distributor serves.
	Model types.EntitlementModel `json:"model"`

	// Root is the currently published merkle root.
	Root hexutil.Bytes `json:"root"`

	// Generation starts at 1 and is incremented on every rotation.
	Generation uint64 `json:"generation"`

	// Owner is the only address allowed to rotate the root.
	Owner common.Address `json:"owner"`

	// UpdatedAt is the Unix timestamp of the last rotation.
	UpdatedAt int64 `json:"updatedAt"`
}

// Copy returns a deep copy of the state.
func (rs *RootState) Copy() *RootState {
	if rs == nil {
		return nil
	}
	cp := *rs
	cp.Root = append(hexutil.Bytes(nil), rs.Root...)
	return &cp
}
