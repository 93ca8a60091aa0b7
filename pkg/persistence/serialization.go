package persistence

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Key layout shared by the key-value backends. Backends add their own prefix.
const (
	KeyRootState         = "root:state"
	KeyPrefixClaimed     = "claimed:amount:"
	KeyPrefixIndexBit    = "claimed:index:"
	KeyPrefixTokenBit    = "claimed:token:"
	KeySchemaVersion     = "metadata:schema_version"
	CurrentSchemaVersion = "v1"
)

// ClaimedAmountKey returns the key holding account's high-water mark.
func ClaimedAmountKey(account common.Address) string {
	return KeyPrefixClaimed + strings.ToLower(account.Hex())
}

// IndexBitKey returns the key of the claimed bit for index under generation.
func IndexBitKey(generation, index uint64) string {
	return fmt.Sprintf("%s%d:%d", KeyPrefixIndexBit, generation, index)
}

// TokenBitKey returns the key of the claimed bit for tokenID.
func TokenBitKey(tokenID *big.Int) string {
	return KeyPrefixTokenBit + tokenID.String()
}

// MarshalRootState serializes RootState to JSON bytes.
func MarshalRootState(rs *RootState) ([]byte, error) {
	if rs == nil {
		return nil, fmt.Errorf("cannot marshal nil RootState")
	}

	data, err := json.Marshal(rs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RootState to JSON: %w", err)
	}
	return data, nil
}

// UnmarshalRootState deserializes RootState from JSON bytes.
func UnmarshalRootState(data []byte) (*RootState, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var rs RootState
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to RootState: %w", err)
	}
	return &rs, nil
}

// EncodeAmount renders an amount as a base-10 string.
func EncodeAmount(amount *big.Int) ([]byte, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("cannot encode negative or nil amount")
	}
	return []byte(amount.String()), nil
}

// DecodeAmount parses a base-10 amount written by EncodeAmount.
func DecodeAmount(data []byte) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(string(data), 10)
	if !ok {
		return nil, fmt.Errorf("invalid stored amount %q", string(data))
	}
	return amount, nil
}
