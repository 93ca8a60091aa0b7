// Package persistencetest holds behaviour tests shared by every
// ILedgerPersistence backend.
package persistencetest

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) persistence.ILedgerPersistence

// RunLedgerPersistenceTests runs the shared suite against backends built by newStore.
func RunLedgerPersistenceTests(t *testing.T, newStore Factory) {
	t.Run("RootState", func(t *testing.T) { testRootState(t, newStore(t)) })
	t.Run("ClaimedAmount", func(t *testing.T) { testClaimedAmount(t, newStore(t)) })
	t.Run("IndexBits", func(t *testing.T) { testIndexBits(t, newStore(t)) })
	t.Run("TokenBits", func(t *testing.T) { testTokenBits(t, newStore(t)) })
	t.Run("SwapRootState", func(t *testing.T) { testSwapRootState(t, newStore(t)) })
	t.Run("CompareAndSetClaimedAmount", func(t *testing.T) { testCompareAndSetClaimedAmount(t, newStore(t)) })
	t.Run("ConcurrentWrites", func(t *testing.T) { testConcurrentWrites(t, newStore(t)) })
	t.Run("ConcurrentClaimsOneWinner", func(t *testing.T) { testConcurrentClaimsOneWinner(t, newStore(t)) })
	t.Run("Close", func(t *testing.T) { testClose(t, newStore(t)) })
}

func testRootState(t *testing.T, store persistence.ILedgerPersistence) {
	defer func() { _ = store.Close() }()

	loaded, err := store.LoadRootState()
	require.NoError(t, err)
	assert.Nil(t, loaded)

	state := &persistence.RootState{
		Model:      types.ModelCumulative,
		Root:       common.HexToHash("0xabcdef").Bytes(),
		Generation: 3,
		Owner:      common.HexToAddress("0x1234"),
		UpdatedAt:  1700000000,
	}
	require.NoError(t, store.SaveRootState(state))

	loaded, err = store.LoadRootState()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, state, loaded)

	// mutating the loaded copy must not leak into the store
	loaded.Root[0] ^= 0xFF
	again, err := store.LoadRootState()
	require.NoError(t, err)
	assert.Equal(t, state.Root, again.Root)

	state.Generation = 4
	require.NoError(t, store.SaveRootState(state))
	again, err = store.LoadRootState()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), again.Generation)

	require.Error(t, store.SaveRootState(nil))
}

func testClaimedAmount(t *testing.T, store persistence.ILedgerPersistence) {
	defer func() { _ = store.Close() }()

	account := common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	amount, err := store.GetClaimedAmount(account)
	require.NoError(t, err)
	assert.Equal(t, 0, amount.Sign())

	huge, ok := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	require.True(t, ok)

	for _, want := range []*big.Int{big.NewInt(3), big.NewInt(6), huge} {
		require.NoError(t, store.SetClaimedAmount(account, want))
		got, err := store.GetClaimedAmount(account)
		require.NoError(t, err)
		assert.Equal(t, 0, want.Cmp(got), "want %s got %s", want, got)
	}

	other, err := store.GetClaimedAmount(common.HexToAddress("0xb0b"))
	require.NoError(t, err)
	assert.Equal(t, 0, other.Sign())

	require.Error(t, store.SetClaimedAmount(account, big.NewInt(-1)))
}

func testIndexBits(t *testing.T, store persistence.ILedgerPersistence) {
	defer func() { _ = store.Close() }()

	claimed, err := store.IsIndexClaimed(1, 7)
	require.NoError(t, err)
	assert.False(t, claimed)

	set, err := store.SetIndexClaimed(1, 7)
	require.NoError(t, err)
	assert.True(t, set)

	claimed, err = store.IsIndexClaimed(1, 7)
	require.NoError(t, err)
	assert.True(t, claimed)

	// a second set of the same bit is refused
	set, err = store.SetIndexClaimed(1, 7)
	require.NoError(t, err)
	assert.False(t, set)

	// generations are independent index spaces
	claimed, err = store.IsIndexClaimed(2, 7)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, store.ClearIndexClaimed(1, 7))
	claimed, err = store.IsIndexClaimed(1, 7)
	require.NoError(t, err)
	assert.False(t, claimed)

	// idempotent clear
	require.NoError(t, store.ClearIndexClaimed(1, 7))
}

func testTokenBits(t *testing.T, store persistence.ILedgerPersistence) {
	defer func() { _ = store.Close() }()

	ids := []*big.Int{big.NewInt(1), big.NewInt(42), new(big.Int).Lsh(big.NewInt(1), 200)}

	for _, id := range ids {
		claimed, err := store.IsTokenClaimed(id)
		require.NoError(t, err)
		assert.False(t, claimed)
	}

	set, err := store.SetTokensClaimed(ids)
	require.NoError(t, err)
	require.True(t, set)
	for _, id := range ids {
		claimed, err := store.IsTokenClaimed(id)
		require.NoError(t, err)
		assert.True(t, claimed, "token %s", id)
	}

	claimed, err := store.IsTokenClaimed(big.NewInt(2))
	require.NoError(t, err)
	assert.False(t, claimed)

	// overlapping with a claimed set writes nothing
	set, err = store.SetTokensClaimed([]*big.Int{big.NewInt(2), big.NewInt(42)})
	require.NoError(t, err)
	assert.False(t, set)
	claimed, err = store.IsTokenClaimed(big.NewInt(2))
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, store.ClearTokensClaimed(ids[:2]))
	claimed, err = store.IsTokenClaimed(ids[0])
	require.NoError(t, err)
	assert.False(t, claimed)
	claimed, err = store.IsTokenClaimed(ids[2])
	require.NoError(t, err)
	assert.True(t, claimed)
}

func testSwapRootState(t *testing.T, store persistence.ILedgerPersistence) {
	defer func() { _ = store.Close() }()

	first := &persistence.RootState{
		Model:      types.ModelSignature,
		Root:       common.FromHex("0x0102030405060708090a0b0c0d0e0f10"),
		Generation: 1,
		Owner:      common.HexToAddress("0x1234"),
	}

	// only the creator of the first state wins
	swapped, err := store.SwapRootState(1, first)
	require.NoError(t, err)
	assert.False(t, swapped)
	swapped, err = store.SwapRootState(0, first)
	require.NoError(t, err)
	require.True(t, swapped)
	swapped, err = store.SwapRootState(0, first)
	require.NoError(t, err)
	assert.False(t, swapped)

	second := first.Copy()
	second.Root = common.FromHex("0xffeeddccbbaa99887766554433221100")
	second.Generation = 2
	swapped, err = store.SwapRootState(1, second)
	require.NoError(t, err)
	require.True(t, swapped)

	// a writer still holding generation 1 loses
	stale := first.Copy()
	stale.Generation = 2
	swapped, err = store.SwapRootState(1, stale)
	require.NoError(t, err)
	assert.False(t, swapped)

	loaded, err := store.LoadRootState()
	require.NoError(t, err)
	assert.Equal(t, second, loaded)

	_, err = store.SwapRootState(2, nil)
	require.Error(t, err)
}

func testCompareAndSetClaimedAmount(t *testing.T, store persistence.ILedgerPersistence) {
	defer func() { _ = store.Close() }()

	account := common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	set, err := store.CompareAndSetClaimedAmount(account, big.NewInt(0), big.NewInt(5))
	require.NoError(t, err)
	require.True(t, set)

	set, err = store.CompareAndSetClaimedAmount(account, big.NewInt(0), big.NewInt(9))
	require.NoError(t, err)
	assert.False(t, set)

	set, err = store.CompareAndSetClaimedAmount(account, big.NewInt(5), big.NewInt(9))
	require.NoError(t, err)
	require.True(t, set)

	amount, err := store.GetClaimedAmount(account)
	require.NoError(t, err)
	assert.Equal(t, int64(9), amount.Int64())

	// revert path: put back the previous mark
	set, err = store.CompareAndSetClaimedAmount(account, big.NewInt(9), big.NewInt(5))
	require.NoError(t, err)
	assert.True(t, set)

	_, err = store.CompareAndSetClaimedAmount(account, big.NewInt(5), big.NewInt(-1))
	require.Error(t, err)
}

// testConcurrentClaimsOneWinner races writers on the same slots; exactly one
// conditional write per slot may land.
func testConcurrentClaimsOneWinner(t *testing.T, store persistence.ILedgerPersistence) {
	defer func() { _ = store.Close() }()

	const writers = 16
	account := common.HexToAddress("0x00000000000000000000000000000000000b0b00")

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		amountWins  int
		indexWins   int
		tokenWins   int
		overlapping = []*big.Int{big.NewInt(500), big.NewInt(501)}
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			a, err := store.CompareAndSetClaimedAmount(account, big.NewInt(0), big.NewInt(int64(i+1)))
			assert.NoError(t, err)
			x, err := store.SetIndexClaimed(3, 3)
			assert.NoError(t, err)
			tk, err := store.SetTokensClaimed([]*big.Int{overlapping[i%2], big.NewInt(int64(1000 + i))})
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			if a {
				amountWins++
			}
			if x {
				indexWins++
			}
			if tk {
				tokenWins++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, amountWins)
	assert.Equal(t, 1, indexWins)
	assert.Equal(t, 2, tokenWins, "one winner per overlapping id")
}

func testConcurrentWrites(t *testing.T, store persistence.ILedgerPersistence) {
	defer func() { _ = store.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			account := common.BigToAddress(big.NewInt(int64(i + 1)))
			assert.NoError(t, store.SetClaimedAmount(account, big.NewInt(int64(i*10))))
			set, err := store.SetIndexClaimed(9, uint64(i))
			assert.NoError(t, err)
			assert.True(t, set)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		account := common.BigToAddress(big.NewInt(int64(i + 1)))
		amount, err := store.GetClaimedAmount(account)
		require.NoError(t, err)
		assert.Equal(t, int64(i*10), amount.Int64())

		claimed, err := store.IsIndexClaimed(9, uint64(i))
		require.NoError(t, err)
		assert.True(t, claimed)
	}
}

func testClose(t *testing.T, store persistence.ILedgerPersistence) {
	require.NoError(t, store.HealthCheck())

	require.NoError(t, store.Close())
	require.NoError(t, store.Close()) // idempotent

	require.Error(t, store.HealthCheck())
	_, err := store.LoadRootState()
	require.Error(t, err)
	_, err = store.SetIndexClaimed(1, 1)
	require.Error(t, err)
}
