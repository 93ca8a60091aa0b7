package distributor

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/custody"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/drop"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/leaf"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/memory"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

var distributorAddress = common.HexToAddress("0x000000000000000000000000000000000000d157")

type signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func newSigners(t *testing.T, n int) []signer {
	t.Helper()
	out := make([]signer, n)
	for i := range out {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		out[i] = signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
	}
	return out
}

func buildSignatureDrop(t *testing.T, signers []signer) *drop.Drop {
	t.Helper()
	records := make([]types.IndexedRecord, len(signers))
	for i, s := range signers {
		records[i] = types.IndexedRecord{
			Account: s.address,
			Index:   uint64(i),
			Amount:  eth(int64(i + 1)),
		}
	}
	salt := leaf.Salt{0xab, 0xcd}
	records[0].Salt = &salt

	d, err := drop.BuildSignatureDrop(context.Background(), records)
	require.NoError(t, err)
	return d
}

func newSignatureDistributor(t *testing.T, root []byte) (*SignatureDistributor, *custody.MemoryVault) {
	t.Helper()
	vault := custody.NewMemoryVault(eth(1000))
	dist, err := NewSignatureDistributor(
		&Config{Owner: owner, InitialRoot: root, Address: distributorAddress},
		memory.NewMemoryPersistence(), vault, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return dist, vault
}

func signedRequest(t *testing.T, d *drop.Drop, s signer, receiver common.Address) *ClaimSignatureRequest {
	t.Helper()
	a, ok := d.ArtifactFor(s.address)
	require.True(t, ok)

	sig, err := SignClaim(s.key, receiver, a.Amount, distributorAddress)
	require.NoError(t, err)

	return &ClaimSignatureRequest{
		Receiver:  receiver,
		Index:     *a.Index,
		Amount:    a.Amount,
		Salt:      a.Salt,
		Root:      a.Root,
		Proof:     a.ProofBytes(),
		Signature: sig,
	}
}

func TestSignClaim_RecoverRoundTrip(t *testing.T) {
	s := newSigners(t, 1)[0]
	receiver := common.HexToAddress("0x0000000000000000000000000000000000000042")

	sig, err := SignClaim(s.key, receiver, eth(7), distributorAddress)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)
	assert.Contains(t, []byte{27, 28}, sig[crypto.RecoveryIDOffset])

	recovered, err := RecoverClaimSigner(sig, receiver, eth(7), distributorAddress)
	require.NoError(t, err)
	assert.Equal(t, s.address, recovered)

	// V given as 0/1 recovers the same signer
	raw := append([]byte(nil), sig...)
	raw[crypto.RecoveryIDOffset] -= 27
	recovered, err = RecoverClaimSigner(raw, receiver, eth(7), distributorAddress)
	require.NoError(t, err)
	assert.Equal(t, s.address, recovered)

	// any other message recovers someone else
	other, err := RecoverClaimSigner(sig, receiver, eth(8), distributorAddress)
	require.NoError(t, err)
	assert.NotEqual(t, s.address, other)
}

func TestSignatureDistributor_Claim(t *testing.T) {
	ctx := context.Background()
	signers := newSigners(t, 5)
	d := buildSignatureDrop(t, signers)
	dist, vault := newSignatureDistributor(t, d.Root)
	receiver := common.HexToAddress("0x0000000000000000000000000000000000000042")

	for i, s := range signers {
		ev, err := dist.Claim(ctx, signedRequest(t, d, s, receiver))
		require.NoError(t, err, "signer %d", i)
		assert.Equal(t, s.address, ev.Account)
		assert.Equal(t, receiver, ev.Receiver)
		assert.Equal(t, eth(int64(i+1)), ev.AmountPaid)
		require.NotNil(t, ev.Index)

		claimed, err := dist.IsClaimed(*ev.Index)
		require.NoError(t, err)
		assert.True(t, claimed)
	}

	assert.Equal(t, eth(15), vault.BalanceOf(receiver))
}

func TestSignatureDistributor_DoubleClaim(t *testing.T) {
	ctx := context.Background()
	signers := newSigners(t, 3)
	d := buildSignatureDrop(t, signers)
	dist, vault := newSignatureDistributor(t, d.Root)
	receiver := common.HexToAddress("0x0000000000000000000000000000000000000042")

	_, err := dist.Claim(ctx, signedRequest(t, d, signers[1], receiver))
	require.NoError(t, err)

	// a fresh signature for a different receiver still maps to the same index
	other := common.HexToAddress("0x0000000000000000000000000000000000000043")
	_, err = dist.Claim(ctx, signedRequest(t, d, signers[1], other))
	require.ErrorIs(t, err, ErrDropAlreadyClaimed)

	assert.Equal(t, eth(2), vault.BalanceOf(receiver))
	assert.Equal(t, 0, vault.BalanceOf(other).Sign())
}

func TestSignatureDistributor_Rejections(t *testing.T) {
	ctx := context.Background()
	signers := newSigners(t, 3)
	d := buildSignatureDrop(t, signers)
	dist, vault := newSignatureDistributor(t, d.Root)
	receiver := common.HexToAddress("0x0000000000000000000000000000000000000042")

	t.Run("short signature", func(t *testing.T) {
		req := signedRequest(t, d, signers[0], receiver)
		req.Signature = req.Signature[:10]
		_, err := dist.Claim(ctx, req)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("receiver swapped after signing", func(t *testing.T) {
		req := signedRequest(t, d, signers[0], receiver)
		req.Receiver = common.HexToAddress("0x0000000000000000000000000000000000000666")
		_, err := dist.Claim(ctx, req)
		require.ErrorIs(t, err, ErrInvalidProof)
	})

	t.Run("signed by outsider", func(t *testing.T) {
		outsider := newSigners(t, 1)[0]
		req := signedRequest(t, d, signers[0], receiver)
		sig, err := SignClaim(outsider.key, receiver, req.Amount, distributorAddress)
		require.NoError(t, err)
		req.Signature = sig
		_, err = dist.Claim(ctx, req)
		require.ErrorIs(t, err, ErrInvalidProof)
	})

	t.Run("signed for another distributor", func(t *testing.T) {
		req := signedRequest(t, d, signers[0], receiver)
		sig, err := SignClaim(signers[0].key, receiver, req.Amount, common.HexToAddress("0xbeef"))
		require.NoError(t, err)
		req.Signature = sig
		_, err = dist.Claim(ctx, req)
		require.ErrorIs(t, err, ErrInvalidProof)
	})

	t.Run("salt dropped", func(t *testing.T) {
		req := signedRequest(t, d, signers[0], receiver)
		req.Salt = nil
		_, err := dist.Claim(ctx, req)
		require.ErrorIs(t, err, ErrInvalidProof)
	})

	assert.Equal(t, eth(1000), vault.Balance())
}

func TestSignatureDistributor_RotationResetsBits(t *testing.T) {
	ctx := context.Background()
	signers := newSigners(t, 4)
	d1 := buildSignatureDrop(t, signers)
	dist, vault := newSignatureDistributor(t, d1.Root)
	receiver := common.HexToAddress("0x0000000000000000000000000000000000000042")

	ev, err := dist.Claim(ctx, signedRequest(t, d1, signers[2], receiver))
	require.NoError(t, err)
	index := *ev.Index

	d2 := buildSignatureDrop(t, signers[:3])
	_, err = dist.Rotate(ctx, owner, d2.Root)
	require.NoError(t, err)

	claimed, err := dist.IsClaimed(index)
	require.NoError(t, err)
	assert.False(t, claimed)

	claimed, err = dist.IsClaimedAt(1, index)
	require.NoError(t, err)
	assert.True(t, claimed)

	ev, err = dist.Claim(ctx, signedRequest(t, d2, signers[2], receiver))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ev.Generation)
	assert.Equal(t, eth(6), vault.BalanceOf(receiver))
}

func TestSignatureDistributor_TransferFailureClearsBit(t *testing.T) {
	ctx := context.Background()
	signers := newSigners(t, 2)
	d := buildSignatureDrop(t, signers)
	dist, err := NewSignatureDistributor(
		&Config{Owner: owner, InitialRoot: d.Root, Address: distributorAddress},
		memory.NewMemoryPersistence(), custody.NewMemoryVault(big.NewInt(0)), nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	receiver := common.HexToAddress("0x0000000000000000000000000000000000000042")
	_, err = dist.Claim(ctx, signedRequest(t, d, signers[0], receiver))
	require.ErrorIs(t, err, ErrTransferFailed)

	for i := uint64(0); i < 2; i++ {
		claimed, err := dist.IsClaimed(i)
		require.NoError(t, err)
		assert.False(t, claimed)
	}
}

// TestSignatureDistributor_ZeroAmountLeaf covers a tree built outside the drop
// builder that commits to a zero amount: the proof is valid but there is
// nothing to pay, and no claimed bit is spent.
func TestSignatureDistributor_ZeroAmountLeaf(t *testing.T) {
	ctx := context.Background()
	signers := newSigners(t, 2)

	zero, err := leaf.EncodeIndexed(signers[0].address, 0, big.NewInt(0), nil)
	require.NoError(t, err)
	one, err := leaf.EncodeIndexed(signers[1].address, 1, eth(1), nil)
	require.NoError(t, err)
	tree, err := merkle.BuildTree(merkle.Keccak128, [][]byte{zero[:], one[:]})
	require.NoError(t, err)
	proof, err := tree.Proof(zero[:])
	require.NoError(t, err)

	dist, vault := newSignatureDistributor(t, tree.Root)
	receiver := common.HexToAddress("0x0000000000000000000000000000000000000042")
	sig, err := SignClaim(signers[0].key, receiver, big.NewInt(0), distributorAddress)
	require.NoError(t, err)

	_, err = dist.Claim(ctx, &ClaimSignatureRequest{
		Receiver:  receiver,
		Index:     0,
		Amount:    big.NewInt(0),
		Root:      tree.Root,
		Proof:     proof.Proof,
		Signature: sig,
	})
	require.ErrorIs(t, err, ErrNothingToClaim)
	assert.NotErrorIs(t, err, ErrTransferFailed)

	for i := uint64(0); i < 2; i++ {
		claimed, err := dist.IsClaimed(i)
		require.NoError(t, err)
		assert.False(t, claimed)
	}
	assert.Equal(t, eth(1000), vault.Balance())
}
