package merkle

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

const (
	// levels with at least this many parent nodes are hashed in parallel shards
	parallelThreshold = 4096

	// parent hashes computed between context checks
	cancelCheckInterval = 512
)

// BuildTree creates a binary merkle tree from leaf hashes.
// Leaves are sorted ascending before building so the tree is canonical for a
// given leaf set regardless of input order.
//
// Pairs are combined with Combine, so verification needs no position bits.
// If a level has an odd number of nodes, the last node is paired with itself.
// A single leaf is also paired with itself, giving every tree a depth of at least one.
func BuildTree(h Hasher, leaves [][]byte) (*MerkleTree, error) {
	return BuildTreeContext(context.Background(), h, leaves)
}

// BuildTreeContext is BuildTree that stops, returning ctx.Err(), once ctx is
// done. Large drops spend most of their build time here.
func BuildTreeContext(ctx context.Context, h Hasher, leaves [][]byte) (*MerkleTree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyInput
	}

	size := h.Size()
	sorted := make([][]byte, len(leaves))
	for i, l := range leaves {
		if len(l) != size {
			return nil, fmt.Errorf("%w: leaf %d has %d bytes, expected %d", ErrInvalidLeafSize, i, len(l), size)
		}
		sorted[i] = append([]byte(nil), l...)
	}

	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i], sorted[j]) < 0
	})

	for i := 1; i < len(sorted); i++ {
		if bytes.Equal(sorted[i], sorted[i-1]) {
			return nil, fmt.Errorf("%w: %x", ErrDuplicateLeaf, sorted[i])
		}
	}

	// Build tree levels bottom-up
	levels := [][][]byte{sorted}
	current := sorted
	for len(current) > 1 || len(levels) == 1 {
		next, err := hashLevel(ctx, h, current)
		if err != nil {
			return nil, err
		}
		levels = append(levels, next)
		current = next
	}

	return &MerkleTree{
		Leaves: sorted,
		Root:   current[0],
		Depth:  len(levels) - 1,
		hasher: h,
		levels: levels,
	}, nil
}

// hashLevel computes the parent level of nodes. Large levels are split into
// one shard per CPU; the first shard to see ctx done stops the rest.
func hashLevel(ctx context.Context, h Hasher, nodes [][]byte) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parents := make([][]byte, (len(nodes)+1)/2)

	hashRange := func(ctx context.Context, from, to int) error {
		for p := from; p < to; p++ {
			if (p-from)%cancelCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			left := nodes[2*p]
			right := left
			if 2*p+1 < len(nodes) {
				right = nodes[2*p+1]
			}
			parents[p] = Combine(h, left, right)
		}
		return nil
	}

	if len(parents) < parallelThreshold {
		if err := hashRange(ctx, 0, len(parents)); err != nil {
			return nil, err
		}
		return parents, nil
	}

	workers := runtime.GOMAXPROCS(0)
	shard := (len(parents) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for from := 0; from < len(parents); from += shard {
		from, to := from, min(from+shard, len(parents))
		g.Go(func() error {
			return hashRange(gctx, from, to)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to hash tree level: %w", err)
	}

	return parents, nil
}

// Hasher returns the hasher the tree was built with.
func (mt *MerkleTree) Hasher() Hasher {
	return mt.hasher
}

// IndexOf returns the position of leaf in the sorted leaves.
func (mt *MerkleTree) IndexOf(leaf []byte) (int, error) {
	i := sort.Search(len(mt.Leaves), func(i int) bool {
		return bytes.Compare(mt.Leaves[i], leaf) >= 0
	})
	if i == len(mt.Leaves) || !bytes.Equal(mt.Leaves[i], leaf) {
		return 0, ErrLeafNotFound
	}
	return i, nil
}

// Proof creates a merkle proof for the given leaf hash.
func (mt *MerkleTree) Proof(leaf []byte) (*MerkleProof, error) {
	index, err := mt.IndexOf(leaf)
	if err != nil {
		return nil, fmt.Errorf("%w: %x", err, leaf)
	}
	return mt.ProofAt(index)
}

// ProofAt creates a merkle proof for the leaf at the given sorted index.
// The proof consists of sibling hashes along the path from leaf to root.
func (mt *MerkleTree) ProofAt(leafIndex int) (*MerkleProof, error) {
	if leafIndex < 0 || leafIndex >= len(mt.Leaves) {
		return nil, fmt.Errorf("leaf index %d out of bounds (tree has %d leaves)", leafIndex, len(mt.Leaves))
	}

	proof := make([][]byte, 0, mt.Depth)
	index := leafIndex

	for level := 0; level < len(mt.levels)-1; level++ {
		currentLevel := mt.levels[level]

		siblingIndex := index ^ 1
		// Last node of an odd level is its own sibling
		if siblingIndex >= len(currentLevel) {
			siblingIndex = index
		}

		proof = append(proof, currentLevel[siblingIndex])
		index = index / 2
	}

	return &MerkleProof{
		LeafIndex: leafIndex,
		Leaf:      mt.Leaves[leafIndex],
		Proof:     proof,
	}, nil
}
