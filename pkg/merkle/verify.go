package merkle

import (
	"bytes"
	"fmt"
)

// ProcessProof folds proof into leaf and returns the reconstructed root along
// with the index bits collected on the way up. At level i, bit i of the index
// is 1 when the running node is strictly greater than its sibling.
//
// Returns a nil root when any proof element is not Size() bytes wide or the
// proof has 64 or more levels.
func ProcessProof(h Hasher, leaf []byte, proof [][]byte) ([]byte, uint64) {
	size := h.Size()
	if len(leaf) != size || len(proof) >= 64 {
		return nil, 0
	}

	node := leaf
	var index uint64
	for level, sibling := range proof {
		if len(sibling) != size {
			return nil, 0
		}
		if bytes.Compare(node, sibling) > 0 {
			index |= 1 << uint(level)
		}
		node = Combine(h, node, sibling)
	}

	return node, index
}

// Verify reports whether leaf folds through proof to root.
func Verify(h Hasher, leaf []byte, proof [][]byte, root []byte) bool {
	ok, _ := VerifyWithIndex(h, leaf, proof, root)
	return ok
}

// VerifyWithIndex verifies like Verify and also returns the index derived from
// the fold. Distinct leaves of one tree always derive distinct indices, so the
// index can key claim state without being supplied by the caller.
func VerifyWithIndex(h Hasher, leaf []byte, proof [][]byte, root []byte) (bool, uint64) {
	computed, index := ProcessProof(h, leaf, proof)
	if computed == nil || !bytes.Equal(computed, root) {
		return false, 0
	}
	return true, index
}

// VerifyProof verifies that a proof is included in the tree with the given root.
func VerifyProof(h Hasher, proof *MerkleProof, root []byte) bool {
	if proof == nil {
		return false
	}
	return Verify(h, proof.Leaf, proof.Proof, root)
}

// PackProof concatenates proof elements into a single byte string.
func PackProof(proof [][]byte) []byte {
	packed := make([]byte, 0, len(proof)*32)
	for _, p := range proof {
		packed = append(packed, p...)
	}
	return packed
}

// UnpackProof splits a packed proof into elements of size bytes.
func UnpackProof(size int, packed []byte) ([][]byte, error) {
	if size <= 0 || len(packed)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes, node size %d", ErrMalformedProof, len(packed), size)
	}

	proof := make([][]byte, 0, len(packed)/size)
	for i := 0; i < len(packed); i += size {
		proof = append(proof, append([]byte(nil), packed[i:i+size]...))
	}
	return proof, nil
}
