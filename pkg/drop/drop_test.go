package drop

import (
	"bytes"
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/leaf"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

func cumulativeRecords(n int) []types.CumulativeRecord {
	records := make([]types.CumulativeRecord, n)
	for i := range records {
		records[i] = types.CumulativeRecord{
			Account:          common.BigToAddress(big.NewInt(int64(i + 1))),
			CumulativeAmount: big.NewInt(int64((i + 1) * 100)),
		}
	}
	return records
}

func TestBuildCumulativeDrop(t *testing.T) {
	records := cumulativeRecords(5)

	d, err := BuildCumulativeDrop(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, d.Artifacts, 5)
	assert.Equal(t, types.ModelCumulative, d.Model)
	assert.Equal(t, 3, d.Depth)
	assert.NotEmpty(t, d.ID)

	for i, a := range d.Artifacts {
		assert.Equal(t, records[i].Account, a.Account)
		assert.Equal(t, []byte(d.Root), []byte(a.Root))

		ok, err := VerifyArtifact(a, d.Root)
		require.NoError(t, err)
		assert.True(t, ok, "artifact %d", i)
	}
}

func TestBuildCumulativeDrop_Errors(t *testing.T) {
	_, err := BuildCumulativeDrop(context.Background(), nil)
	require.ErrorIs(t, err, merkle.ErrEmptyInput)

	records := cumulativeRecords(3)
	records = append(records, records[1])
	_, err = BuildCumulativeDrop(context.Background(), records)
	require.ErrorIs(t, err, merkle.ErrDuplicateLeaf)

	bad := cumulativeRecords(2)
	bad[1].CumulativeAmount = big.NewInt(-3)
	_, err = BuildCumulativeDrop(context.Background(), bad)
	require.ErrorIs(t, err, leaf.ErrAmountOverflow)
}

func TestBuildCumulativeDrop_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := BuildCumulativeDrop(ctx, cumulativeRecords(10))
	require.ErrorIs(t, err, context.Canceled)
}

func TestBuildCumulativeDrop_ManyShards(t *testing.T) {
	records := cumulativeRecords(3*shardSize + 17)

	d, err := BuildCumulativeDrop(context.Background(), records)
	require.NoError(t, err)

	for _, i := range []int{0, shardSize, 2*shardSize + 5, len(records) - 1} {
		a := d.Artifacts[i]
		assert.Equal(t, records[i].Account, a.Account)
		ok, err := VerifyArtifact(a, d.Root)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestBuildSignatureDrop(t *testing.T) {
	salt := leaf.Salt{9, 9, 9}
	records := []types.IndexedRecord{
		{Account: common.HexToAddress("0x01"), Index: 0, Amount: big.NewInt(10)},
		{Account: common.HexToAddress("0x02"), Index: 1, Amount: big.NewInt(10), Salt: &salt},
		{Account: common.HexToAddress("0x01"), Index: 2, Amount: big.NewInt(10)},
	}

	d, err := BuildSignatureDrop(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, d.Root, leaf.ShortSize)

	assert.Len(t, d.ArtifactsFor(common.HexToAddress("0x01")), 2)
	assert.Equal(t, &salt, d.Artifacts[1].Salt)

	seen := map[uint64]bool{}
	for _, a := range d.Artifacts {
		require.Len(t, a.Leaf, leaf.ShortSize)
		ok, err := VerifyArtifact(a, d.Root)
		require.NoError(t, err)
		assert.True(t, ok)

		valid, index := merkle.VerifyWithIndex(merkle.Keccak128, a.Leaf, a.ProofBytes(), d.Root)
		require.True(t, valid)
		assert.False(t, seen[index])
		seen[index] = true
	}
}

func TestBuildSignatureDrop_ZeroAmount(t *testing.T) {
	records := []types.IndexedRecord{
		{Account: common.HexToAddress("0x01"), Index: 0, Amount: big.NewInt(10)},
		{Account: common.HexToAddress("0x02"), Index: 1, Amount: big.NewInt(0)},
	}

	_, err := BuildSignatureDrop(context.Background(), records)
	require.ErrorIs(t, err, ErrZeroAmount)
}

func TestBuildTokenSetDrop(t *testing.T) {
	records := []types.TokenSetRecord{
		{Account: common.HexToAddress("0x0a"), TokenIDs: []*big.Int{big.NewInt(3), big.NewInt(1)}},
		{Account: common.HexToAddress("0x0b"), TokenIDs: []*big.Int{big.NewInt(2)}},
	}

	d, err := BuildTokenSetDrop(context.Background(), records)
	require.NoError(t, err)

	a, ok := d.ArtifactFor(common.HexToAddress("0x0a"))
	require.True(t, ok)
	assert.Equal(t, int64(1), a.TokenIDs[0].Int64())
	assert.Equal(t, int64(3), a.TokenIDs[1].Int64())

	valid, err := VerifyArtifact(a, d.Root)
	require.NoError(t, err)
	assert.True(t, valid)

	_, ok = d.ArtifactFor(common.HexToAddress("0x0c"))
	assert.False(t, ok)
}

func TestVerifyArtifact_TamperedPayload(t *testing.T) {
	d, err := BuildCumulativeDrop(context.Background(), cumulativeRecords(4))
	require.NoError(t, err)

	a := *d.Artifacts[2]
	a.CumulativeAmount = big.NewInt(1_000_000)

	ok, err := VerifyArtifact(&a, d.Root)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuildFromJSONTable(t *testing.T) {
	input := `{
		"model": "cumulative",
		"cumulative": [
			{"account": "0x0000000000000000000000000000000000000001", "cumulativeAmount": 1000000000000000000},
			{"account": "0x0000000000000000000000000000000000000002", "cumulativeAmount": 2000000000000000000}
		]
	}`

	table, err := LoadTable(strings.NewReader(input))
	require.NoError(t, err)

	d, err := Build(context.Background(), table)
	require.NoError(t, err)
	require.Len(t, d.Artifacts, 2)

	var buf bytes.Buffer
	require.NoError(t, d.WriteJSON(&buf))

	decoded, err := ReadDrop(&buf)
	require.NoError(t, err)
	assert.Equal(t, d.Root, decoded.Root)
	assert.Nil(t, decoded.Tree())

	for _, a := range decoded.Artifacts {
		ok, err := VerifyArtifact(a, decoded.Root)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestBuild_UnknownModel(t *testing.T) {
	_, err := Build(context.Background(), &types.DropTable{Model: "lottery"})
	require.Error(t, err)

	_, err = LoadTable(strings.NewReader(`{"model":"cumulative","extra":1}`))
	require.Error(t, err)
}
