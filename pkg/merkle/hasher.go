package merkle

import (
	"bytes"

	"github.com/ethereum/go-ethereum/crypto"
)

// Hasher defines the node hash used by a tree. Implementations must be
// deterministic and return exactly Size() bytes.
type Hasher interface {
	Size() int
	Hash(data ...[]byte) []byte
}

type keccakHasher struct {
	size int
}

var (
	// Keccak256 is the standard 32-byte hasher, matching Solidity's keccak256.
	Keccak256 Hasher = keccakHasher{size: 32}

	// Keccak128 truncates keccak256 to its first 16 bytes, matching bytes16(keccak256(...)).
	Keccak128 Hasher = keccakHasher{size: 16}
)

func (k keccakHasher) Size() int {
	return k.size
}

func (k keccakHasher) Hash(data ...[]byte) []byte {
	return crypto.Keccak256(data...)[:k.size]
}

// Combine hashes a pair of nodes commutatively: H(min(a,b) ++ max(a,b)).
// Proofs therefore never carry a left/right flag.
func Combine(h Hasher, a, b []byte) []byte {
	if bytes.Compare(a, b) <= 0 {
		return h.Hash(a, b)
	}
	return h.Hash(b, a)
}
