package leaf

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestEncodeCumulative_PackedLayout(t *testing.T) {
	amount := big.NewInt(1_000_000)

	got, err := EncodeCumulative(alice, amount)
	require.NoError(t, err)

	expected := crypto.Keccak256(alice.Bytes(), common.LeftPadBytes(amount.Bytes(), 32))
	require.Equal(t, expected, got[:])
}

func TestEncodeCumulative_Deterministic(t *testing.T) {
	a, err := EncodeCumulative(alice, big.NewInt(7))
	require.NoError(t, err)
	b, err := EncodeCumulative(alice, big.NewInt(7))
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := EncodeCumulative(alice, big.NewInt(8))
	require.NoError(t, err)
	require.NotEqual(t, a, c)

	d, err := EncodeCumulative(bob, big.NewInt(7))
	require.NoError(t, err)
	require.NotEqual(t, a, d)
}

func TestEncodeCumulative_Bounds(t *testing.T) {
	testCases := []struct {
		name    string
		amount  *big.Int
		wantErr bool
	}{
		{"zero", big.NewInt(0), false},
		{"max uint256", new(big.Int).Set(math.MaxBig256), false},
		{"max uint256 + 1", new(big.Int).Add(math.MaxBig256, big.NewInt(1)), true},
		{"negative", big.NewInt(-1), true},
		{"nil", nil, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := EncodeCumulative(alice, tc.amount)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrAmountOverflow)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestEncodeIndexed(t *testing.T) {
	amount := big.NewInt(42)

	unsalted, err := EncodeIndexed(alice, 3, amount, nil)
	require.NoError(t, err)

	expected := crypto.Keccak256(
		alice.Bytes(),
		common.LeftPadBytes(big.NewInt(3).Bytes(), 32),
		common.LeftPadBytes(amount.Bytes(), 32),
	)
	require.Equal(t, expected[:ShortSize], unsalted[:])

	t.Run("salt changes the leaf", func(t *testing.T) {
		salt := Salt{1, 2, 3}
		salted, err := EncodeIndexed(alice, 3, amount, &salt)
		require.NoError(t, err)
		require.NotEqual(t, unsalted, salted)

		other := Salt{3, 2, 1}
		salted2, err := EncodeIndexed(alice, 3, amount, &other)
		require.NoError(t, err)
		require.NotEqual(t, salted, salted2)
	})

	t.Run("index distinguishes equal amounts", func(t *testing.T) {
		other, err := EncodeIndexed(alice, 4, amount, nil)
		require.NoError(t, err)
		require.NotEqual(t, unsalted, other)
	})
}

func TestEncodeTokenSet_OrderIndependent(t *testing.T) {
	ab, err := EncodeTokenSet(alice, []*big.Int{big.NewInt(1), big.NewInt(300)})
	require.NoError(t, err)
	ba, err := EncodeTokenSet(alice, []*big.Int{big.NewInt(300), big.NewInt(1)})
	require.NoError(t, err)
	require.Equal(t, ab, ba)

	expected := crypto.Keccak256(
		alice.Bytes(),
		common.LeftPadBytes(big.NewInt(1).Bytes(), 32),
		common.LeftPadBytes(big.NewInt(300).Bytes(), 32),
	)
	require.Equal(t, expected, ab[:])
}

func TestEncodeTokenSet_DoesNotMutateInput(t *testing.T) {
	ids := []*big.Int{big.NewInt(9), big.NewInt(2)}
	_, err := EncodeTokenSet(alice, ids)
	require.NoError(t, err)
	require.Equal(t, int64(9), ids[0].Int64())
	require.Equal(t, int64(2), ids[1].Int64())
}

func TestEncodeTokenSet_Errors(t *testing.T) {
	_, err := EncodeTokenSet(alice, nil)
	require.ErrorIs(t, err, ErrEmptyTokenSet)

	_, err = EncodeTokenSet(alice, []*big.Int{big.NewInt(5), big.NewInt(5)})
	require.ErrorIs(t, err, ErrDuplicateTokenID)

	_, err = EncodeTokenSet(alice, []*big.Int{big.NewInt(-5)})
	require.ErrorIs(t, err, ErrAmountOverflow)
}

func TestSortTokenIDs(t *testing.T) {
	ids := []*big.Int{big.NewInt(3), big.NewInt(1), big.NewInt(2)}
	sorted := SortTokenIDs(ids)
	require.Equal(t, []int64{1, 2, 3}, []int64{sorted[0].Int64(), sorted[1].Int64(), sorted[2].Int64()})
	require.Equal(t, int64(3), ids[0].Int64())
}

func TestSaltText(t *testing.T) {
	salt := Salt{0xde, 0xad, 0xbe, 0xef}
	text, err := salt.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "0xdeadbeef000000000000000000000000", string(text))

	var decoded Salt
	require.NoError(t, decoded.UnmarshalText(text))
	require.Equal(t, salt, decoded)

	require.Error(t, decoded.UnmarshalText([]byte("0xdead")))
}
