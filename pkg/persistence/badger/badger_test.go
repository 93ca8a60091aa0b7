package badger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/persistencetest"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

func TestBadgerPersistence(t *testing.T) {
	persistencetest.RunLedgerPersistenceTests(t, func(t *testing.T) persistence.ILedgerPersistence {
		bp, err := NewBadgerPersistence(t.TempDir(), "test", zaptest.NewLogger(t))
		require.NoError(t, err)
		return bp
	})
}

func TestBadgerPersistence_SurvivesRestart(t *testing.T) {
	tmpDir := t.TempDir()
	account := common.HexToAddress("0xa11ce")

	bp, err := NewBadgerPersistence(tmpDir, "drop", zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, bp.SaveRootState(&persistence.RootState{
		Model:      types.ModelCumulative,
		Root:       common.HexToHash("0x01").Bytes(),
		Generation: 2,
	}))
	require.NoError(t, bp.SetClaimedAmount(account, big.NewInt(6)))
	set, err := bp.SetTokensClaimed([]*big.Int{big.NewInt(77)})
	require.NoError(t, err)
	require.True(t, set)
	require.NoError(t, bp.Close())

	reopened, err := NewBadgerPersistence(tmpDir, "drop", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	state, err := reopened.LoadRootState()
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, uint64(2), state.Generation)

	amount, err := reopened.GetClaimedAmount(account)
	require.NoError(t, err)
	assert.Equal(t, int64(6), amount.Int64())

	claimed, err := reopened.IsTokenClaimed(big.NewInt(77))
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestBadgerPersistence_NamespacesAreIsolated(t *testing.T) {
	tmpDir := t.TempDir()
	account := common.HexToAddress("0xa11ce")

	first, err := NewBadgerPersistence(tmpDir, "first", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, first.SetClaimedAmount(account, big.NewInt(5)))
	require.NoError(t, first.Close())

	second, err := NewBadgerPersistence(tmpDir, "second", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	amount, err := second.GetClaimedAmount(account)
	require.NoError(t, err)
	assert.Equal(t, 0, amount.Sign())
}
