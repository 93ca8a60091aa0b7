package distributor

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/custody"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/memory"
)

func TestSignRotation_RecoverRoundTrip(t *testing.T) {
	s := newSigners(t, 1)[0]
	root := buildCumulative(t, 1, 2).Root

	sig, err := SignRotation(s.key, root, 4, distributorAddress)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)

	recovered, err := RecoverRotationSigner(sig, root, 4, distributorAddress)
	require.NoError(t, err)
	assert.Equal(t, s.address, recovered)

	// generation, root and distributor are all bound
	other, err := RecoverRotationSigner(sig, root, 5, distributorAddress)
	require.NoError(t, err)
	assert.NotEqual(t, s.address, other)

	other, err = RecoverRotationSigner(sig, buildCumulative(t, 3).Root, 4, distributorAddress)
	require.NoError(t, err)
	assert.NotEqual(t, s.address, other)

	other, err = RecoverRotationSigner(sig, root, 4, owner)
	require.NoError(t, err)
	assert.NotEqual(t, s.address, other)

	_, err = RecoverRotationSigner(sig[:64], root, 4, distributorAddress)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestRotateSigned(t *testing.T) {
	ctx := context.Background()
	rootOwner := newSigners(t, 1)[0]
	d1 := buildCumulative(t, 1, 2)
	d2 := buildCumulative(t, 3, 4)
	d3 := buildCumulative(t, 5, 6)

	sink := NewRecordingSink()
	dist, err := NewCumulativeDistributor(
		&Config{Owner: rootOwner.address, InitialRoot: d1.Root, Address: distributorAddress},
		memory.NewMemoryPersistence(), custody.NewMemoryVault(eth(100)), sink, zaptest.NewLogger(t))
	require.NoError(t, err)

	t.Run("missing signature", func(t *testing.T) {
		_, err := dist.RotateSigned(ctx, d2.Root, 1, nil)
		require.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, uint64(1), dist.Generation())
	})

	t.Run("signed by someone else", func(t *testing.T) {
		intruder := newSigners(t, 1)[0]
		sig, err := SignRotation(intruder.key, d2.Root, 1, distributorAddress)
		require.NoError(t, err)
		_, err = dist.RotateSigned(ctx, d2.Root, 1, sig)
		require.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, []byte(d1.Root), dist.Root())
	})

	t.Run("owner signature for another root", func(t *testing.T) {
		sig, err := SignRotation(rootOwner.key, d3.Root, 1, distributorAddress)
		require.NoError(t, err)
		_, err = dist.RotateSigned(ctx, d2.Root, 1, sig)
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("owner signature for a future generation", func(t *testing.T) {
		sig, err := SignRotation(rootOwner.key, d2.Root, 2, distributorAddress)
		require.NoError(t, err)
		_, err = dist.RotateSigned(ctx, d2.Root, 2, sig)
		require.ErrorIs(t, err, ErrMerkleRootWasUpdated)
	})

	sig, err := SignRotation(rootOwner.key, d2.Root, 1, distributorAddress)
	require.NoError(t, err)

	t.Run("owner rotates", func(t *testing.T) {
		ev, err := dist.RotateSigned(ctx, d2.Root, 1, sig)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), ev.Generation)
		assert.Equal(t, []byte(d2.Root), dist.Root())
		require.Len(t, sink.Rotations(), 1)
	})

	t.Run("replayed signature", func(t *testing.T) {
		_, err := dist.RotateSigned(ctx, d2.Root, 1, sig)
		require.ErrorIs(t, err, ErrMerkleRootWasUpdated)
		assert.Equal(t, uint64(2), dist.Generation())
		assert.Len(t, sink.Rotations(), 1)
	})
}
