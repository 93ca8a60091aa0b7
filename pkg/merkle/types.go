package merkle

import "errors"

var (
	ErrEmptyInput      = errors.New("cannot build merkle tree from empty leaf list")
	ErrDuplicateLeaf   = errors.New("duplicate leaf in merkle tree input")
	ErrLeafNotFound    = errors.New("leaf not found in merkle tree")
	ErrInvalidLeafSize = errors.New("leaf size does not match hasher size")
	ErrMalformedProof  = errors.New("packed proof length is not a multiple of the node size")
)

// MerkleTree is a binary tree over sorted leaves with commutative node hashing.
type MerkleTree struct {
	// Leaves contains the leaf hashes sorted ascending
	Leaves [][]byte

	// Root is the merkle root hash
	Root []byte

	// Depth is the number of levels above the leaves (proof length)
	Depth int

	hasher Hasher

	// levels[0] = leaves, levels[len-1] = [root]
	levels [][][]byte
}

// MerkleProof represents a proof that a leaf is included in the tree.
type MerkleProof struct {
	// LeafIndex is the index of the leaf in the sorted leaves array
	LeafIndex int

	// Leaf is the hash of the leaf being proven
	Leaf []byte

	// Proof contains the sibling hashes from leaf to root
	// proof[0] is the sibling of the leaf, proof[len-1] is a child of the root
	Proof [][]byte
}
