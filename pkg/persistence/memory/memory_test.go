package memory

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/persistencetest"
)

func TestMemoryPersistence(t *testing.T) {
	persistencetest.RunLedgerPersistenceTests(t, func(t *testing.T) persistence.ILedgerPersistence {
		return NewMemoryPersistence()
	})
}

func TestMemoryPersistence_ClaimedAmountIsCopied(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	account := common.HexToAddress("0xa11ce")
	amount := big.NewInt(10)
	require.NoError(t, mp.SetClaimedAmount(account, amount))

	// mutate caller-owned values on both sides
	amount.SetInt64(99)
	loaded, err := mp.GetClaimedAmount(account)
	require.NoError(t, err)
	assert.Equal(t, int64(10), loaded.Int64())

	loaded.SetInt64(1)
	again, err := mp.GetClaimedAmount(account)
	require.NoError(t, err)
	assert.Equal(t, int64(10), again.Int64())
}
