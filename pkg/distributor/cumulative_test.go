package distributor

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/custody"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/drop"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/memory"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	ether = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), ether)
}

func accountN(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x1000 + i)))
}

// buildCumulative builds a drop giving accountN(i) amounts[i] ether
func buildCumulative(t *testing.T, amounts ...int64) *drop.Drop {
	t.Helper()
	records := make([]types.CumulativeRecord, len(amounts))
	for i, a := range amounts {
		records[i] = types.CumulativeRecord{Account: accountN(i), CumulativeAmount: eth(a)}
	}
	d, err := drop.BuildCumulativeDrop(context.Background(), records)
	require.NoError(t, err)
	return d
}

type cumulativeFixture struct {
	dist  *CumulativeDistributor
	vault *custody.MemoryVault
	store *memory.MemoryPersistence
	sink  *RecordingSink
}

func newCumulativeFixture(t *testing.T, root []byte) *cumulativeFixture {
	t.Helper()
	f := &cumulativeFixture{
		vault: custody.NewMemoryVault(eth(1000)),
		store: memory.NewMemoryPersistence(),
		sink:  NewRecordingSink(),
	}
	dist, err := NewCumulativeDistributor(&Config{Owner: owner, InitialRoot: root}, f.store, f.vault, f.sink, zaptest.NewLogger(t))
	require.NoError(t, err)
	f.dist = dist
	return f
}

func claimRequest(t *testing.T, d *drop.Drop, account common.Address) *ClaimCumulativeRequest {
	t.Helper()
	a, ok := d.ArtifactFor(account)
	require.True(t, ok)
	return &ClaimCumulativeRequest{
		Account:          a.Account,
		CumulativeAmount: a.CumulativeAmount,
		Root:             a.Root,
		Proof:            a.ProofBytes(),
	}
}

// TestCumulative_TwoDropScenario walks the four-account, two-drop example end to end
func TestCumulative_TwoDropScenario(t *testing.T) {
	ctx := context.Background()
	drop1 := buildCumulative(t, 1, 2, 3, 4)
	f := newCumulativeFixture(t, drop1.Root)
	account3 := accountN(2)

	ev, err := f.dist.Claim(ctx, claimRequest(t, drop1, account3))
	require.NoError(t, err)
	assert.Equal(t, eth(3), ev.AmountPaid)
	assert.Equal(t, uint64(1), ev.Generation)

	claimed, err := f.dist.ClaimedAmount(account3)
	require.NoError(t, err)
	assert.Equal(t, eth(3), claimed)

	drop2 := buildCumulative(t, 2, 4, 6, 8)
	_, err = f.dist.Rotate(ctx, owner, drop2.Root)
	require.NoError(t, err)

	req := claimRequest(t, drop2, account3)
	ev, err = f.dist.Claim(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, eth(3), ev.AmountPaid)
	assert.Equal(t, uint64(2), ev.Generation)

	claimed, err = f.dist.ClaimedAmount(account3)
	require.NoError(t, err)
	assert.Equal(t, eth(6), claimed)
	assert.Equal(t, eth(6), f.vault.BalanceOf(account3))

	_, err = f.dist.Claim(ctx, req)
	require.ErrorIs(t, err, ErrNothingToClaim)
	assert.Equal(t, eth(6), f.vault.BalanceOf(account3))

	require.Len(t, f.sink.Claims(), 2)
	require.Len(t, f.sink.Rotations(), 1)
}

func TestCumulative_HigherRootFirstThenLower(t *testing.T) {
	ctx := context.Background()
	low := buildCumulative(t, 1, 2)
	high := buildCumulative(t, 5, 2)
	account := accountN(0)

	f := newCumulativeFixture(t, high.Root)
	ev, err := f.dist.Claim(ctx, claimRequest(t, high, account))
	require.NoError(t, err)
	assert.Equal(t, eth(5), ev.AmountPaid)

	_, err = f.dist.Rotate(ctx, owner, low.Root)
	require.NoError(t, err)

	_, err = f.dist.Claim(ctx, claimRequest(t, low, account))
	require.ErrorIs(t, err, ErrNothingToClaim)
	assert.Equal(t, eth(5), f.vault.BalanceOf(account))
}

func TestCumulative_StaleRootAfterRotation(t *testing.T) {
	ctx := context.Background()
	drop1 := buildCumulative(t, 1, 2, 3)
	drop2 := buildCumulative(t, 2, 4, 6)
	f := newCumulativeFixture(t, drop1.Root)

	stale := claimRequest(t, drop1, accountN(1))

	_, err := f.dist.Rotate(ctx, owner, drop2.Root)
	require.NoError(t, err)

	_, err = f.dist.Claim(ctx, stale)
	require.ErrorIs(t, err, ErrMerkleRootWasUpdated)

	claimed, err := f.dist.ClaimedAmount(accountN(1))
	require.NoError(t, err)
	assert.Equal(t, 0, claimed.Sign())

	// the same account is still eligible under the new root
	ev, err := f.dist.Claim(ctx, claimRequest(t, drop2, accountN(1)))
	require.NoError(t, err)
	assert.Equal(t, eth(4), ev.AmountPaid)
}

func TestCumulative_InvalidProof(t *testing.T) {
	ctx := context.Background()
	d := buildCumulative(t, 1, 2, 3, 4)
	f := newCumulativeFixture(t, d.Root)

	testCases := []struct {
		name   string
		mutate func(r *ClaimCumulativeRequest)
	}{
		{"inflated amount", func(r *ClaimCumulativeRequest) { r.CumulativeAmount = eth(100) }},
		{"other account", func(r *ClaimCumulativeRequest) { r.Account = accountN(3) }},
		{"tampered sibling", func(r *ClaimCumulativeRequest) {
			sibling := append([]byte(nil), r.Proof[0]...)
			sibling[0] ^= 0x01
			r.Proof = append([][]byte{sibling}, r.Proof[1:]...)
		}},
		{"empty proof", func(r *ClaimCumulativeRequest) { r.Proof = nil }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := claimRequest(t, d, accountN(1))
			tc.mutate(req)

			_, err := f.dist.Claim(ctx, req)
			require.ErrorIs(t, err, ErrInvalidProof)
		})
	}

	assert.Equal(t, eth(1000), f.vault.Balance())
	assert.Empty(t, f.sink.Claims())
}

func TestCumulative_TransferFailureRevertsLedger(t *testing.T) {
	ctx := context.Background()
	d := buildCumulative(t, 1, 2)
	store := memory.NewMemoryPersistence()
	vault := custody.NewMemoryVault(big.NewInt(1)) // far less than one ether

	dist, err := NewCumulativeDistributor(&Config{Owner: owner, InitialRoot: d.Root}, store, vault, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = dist.Claim(ctx, claimRequest(t, d, accountN(1)))
	require.ErrorIs(t, err, ErrTransferFailed)
	require.ErrorIs(t, err, custody.ErrInsufficientBalance)

	claimed, err := dist.ClaimedAmount(accountN(1))
	require.NoError(t, err)
	assert.Equal(t, 0, claimed.Sign())
}

// TestCumulative_ConcurrentClaimsPayOnce races identical claims for one account
func TestCumulative_ConcurrentClaimsPayOnce(t *testing.T) {
	ctx := context.Background()
	d := buildCumulative(t, 1, 2, 3, 4)
	f := newCumulativeFixture(t, d.Root)

	req := claimRequest(t, d, accountN(3))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.dist.Claim(ctx, req)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrNothingToClaim)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, eth(4), f.vault.BalanceOf(accountN(3)))
}

func TestCumulative_Status(t *testing.T) {
	ctx := context.Background()
	d := buildCumulative(t, 3, 1)
	f := newCumulativeFixture(t, d.Root)
	account := accountN(0)

	state, err := f.dist.Status(account, eth(3))
	require.NoError(t, err)
	assert.Equal(t, Unclaimed, state)

	_, err = f.dist.Claim(ctx, claimRequest(t, d, account))
	require.NoError(t, err)

	state, err = f.dist.Status(account, eth(3))
	require.NoError(t, err)
	assert.Equal(t, FullyClaimed, state)

	state, err = f.dist.Status(account, eth(6))
	require.NoError(t, err)
	assert.Equal(t, PartiallyClaimed, state)

	claimed, err := f.dist.IsClaimed(account)
	require.NoError(t, err)
	assert.True(t, claimed)
}
