// Package leaf turns entitlement records into fixed-width Merkle leaves.
//
// Every encoding is a tight concatenation (abi.encodePacked layout) of the
// account's 20 address bytes followed by 32-byte big-endian words, so a
// Solidity verifier computing keccak256(abi.encodePacked(...)) over the same
// fields arrives at the same leaf.
package leaf

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

const (
	// Size is the width of cumulative and token-set leaves.
	Size = 32
	// ShortSize is the width of indexed leaves (truncated keccak256).
	ShortSize = 16
	// SaltSize is the width of the optional per-leaf salt.
	SaltSize = 16

	wordSize = 32
)

var (
	ErrAmountOverflow   = errors.New("amount does not fit in 256 bits")
	ErrEmptyTokenSet    = errors.New("token set is empty")
	ErrDuplicateTokenID = errors.New("token set contains a duplicate id")
)

// Salt is caller supplied randomness mixed into an indexed leaf. Uniqueness
// per leaf is the caller's responsibility.
type Salt [SaltSize]byte

// EncodeCumulative returns keccak256(account ++ uint256(cumulativeAmount)).
func EncodeCumulative(account common.Address, cumulativeAmount *big.Int) ([Size]byte, error) {
	amount, err := toWord(cumulativeAmount)
	if err != nil {
		return [Size]byte{}, fmt.Errorf("cumulative amount: %w", err)
	}

	data := make([]byte, 0, common.AddressLength+wordSize)
	data = append(data, account.Bytes()...)
	data = append(data, amount[:]...)

	return crypto.Keccak256Hash(data), nil
}

// EncodeIndexed returns the first 16 bytes of
// keccak256(account ++ uint256(index) ++ uint256(amount) [++ salt]).
// A nil salt leaves the salt out of the preimage entirely.
func EncodeIndexed(account common.Address, index uint64, amount *big.Int, salt *Salt) ([ShortSize]byte, error) {
	var out [ShortSize]byte

	amountWord, err := toWord(amount)
	if err != nil {
		return out, fmt.Errorf("amount: %w", err)
	}
	indexWord := uint256.NewInt(index).Bytes32()

	data := make([]byte, 0, common.AddressLength+2*wordSize+SaltSize)
	data = append(data, account.Bytes()...)
	data = append(data, indexWord[:]...)
	data = append(data, amountWord[:]...)
	if salt != nil {
		data = append(data, salt[:]...)
	}

	copy(out[:], crypto.Keccak256(data))
	return out, nil
}

// EncodeTokenSet returns keccak256(account ++ uint256(id_0) ++ ... ++ uint256(id_n))
// over the ids sorted ascending, so any permutation of a set yields one leaf.
// The input slice is not modified.
func EncodeTokenSet(account common.Address, tokenIDs []*big.Int) ([Size]byte, error) {
	if len(tokenIDs) == 0 {
		return [Size]byte{}, ErrEmptyTokenSet
	}

	words := make([][wordSize]byte, len(tokenIDs))
	for i, id := range tokenIDs {
		w, err := toWord(id)
		if err != nil {
			return [Size]byte{}, fmt.Errorf("token id %d: %w", i, err)
		}
		words[i] = w
	}

	// big-endian fixed-width words sort the same way as the integers
	sort.Slice(words, func(i, j int) bool {
		return bytes.Compare(words[i][:], words[j][:]) < 0
	})
	for i := 1; i < len(words); i++ {
		if words[i] == words[i-1] {
			return [Size]byte{}, ErrDuplicateTokenID
		}
	}

	data := make([]byte, 0, common.AddressLength+len(words)*wordSize)
	data = append(data, account.Bytes()...)
	for _, w := range words {
		data = append(data, w[:]...)
	}

	return crypto.Keccak256Hash(data), nil
}

// SortTokenIDs returns an ascending copy of ids.
func SortTokenIDs(ids []*big.Int) []*big.Int {
	sorted := make([]*big.Int, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Cmp(sorted[j]) < 0
	})
	return sorted
}

func toWord(v *big.Int) ([wordSize]byte, error) {
	if v == nil || v.Sign() < 0 {
		return [wordSize]byte{}, ErrAmountOverflow
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return [wordSize]byte{}, ErrAmountOverflow
	}
	return u.Bytes32(), nil
}

// MarshalText encodes the salt as 0x-prefixed hex.
func (s Salt) MarshalText() ([]byte, error) {
	return hexutil.Bytes(s[:]).MarshalText()
}

// UnmarshalText decodes a 0x-prefixed 16-byte hex string.
func (s *Salt) UnmarshalText(input []byte) error {
	return hexutil.UnmarshalFixedText("Salt", input, s[:])
}
