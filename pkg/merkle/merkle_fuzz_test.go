package merkle

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func fuzzLeaves(h Hasher, seed []byte, n int) [][]byte {
	leaves := make([][]byte, n)
	var buf [8]byte
	for i := range leaves {
		binary.BigEndian.PutUint64(buf[:], uint64(i))
		leaves[i] = h.Hash(seed, buf[:])
	}
	return leaves
}

func FuzzProofRoundTrip(f *testing.F) {
	f.Add([]byte{}, uint8(1), uint8(0))
	f.Add([]byte("drop"), uint8(5), uint8(3))
	f.Add([]byte{0xff, 0x00}, uint8(64), uint8(200))

	f.Fuzz(func(t *testing.T, seed []byte, count uint8, flip uint8) {
		n := int(count)%64 + 1

		for _, h := range []Hasher{Keccak256, Keccak128} {
			tree, err := BuildTree(h, fuzzLeaves(h, seed, n))
			require.NoError(t, err)

			for i := range tree.Leaves {
				p, err := tree.ProofAt(i)
				require.NoError(t, err)
				require.Len(t, p.Proof, tree.Depth)

				ok, index := VerifyWithIndex(h, p.Leaf, p.Proof, tree.Root)
				require.True(t, ok)
				require.Less(t, index, uint64(1)<<uint(tree.Depth))

				// flipping any single bit of the proof must break it
				bit := int(flip) % (len(p.Proof) * h.Size() * 8)
				tampered := make([][]byte, len(p.Proof))
				for j := range p.Proof {
					tampered[j] = append([]byte(nil), p.Proof[j]...)
				}
				tampered[bit/(h.Size()*8)][(bit/8)%h.Size()] ^= 1 << (bit % 8)
				require.False(t, Verify(h, p.Leaf, tampered, tree.Root))
			}
		}
	})
}

func FuzzUnpackProof(f *testing.F) {
	f.Add([]byte{})
	f.Add(make([]byte, 32))
	f.Add(make([]byte, 33))

	f.Fuzz(func(t *testing.T, packed []byte) {
		proof, err := UnpackProof(Keccak256.Size(), packed)
		if len(packed)%Keccak256.Size() != 0 {
			require.Error(t, err)
			return
		}
		require.NoError(t, err)
		require.Equal(t, packed, PackProof(proof))
	})
}
