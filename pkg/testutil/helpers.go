package testutil

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

var wei = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Ether returns n * 10^18
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), wei)
}

// CreateTestAccounts returns n deterministic, distinct addresses
func CreateTestAccounts(n int) []common.Address {
	accounts := make([]common.Address, n)
	for i := range accounts {
		accounts[i] = common.BigToAddress(big.NewInt(int64(0x1000 + i)))
	}
	return accounts
}

// TestSigner is an account whose key is known to the test
type TestSigner struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
}

// CreateTestSigners generates n fresh secp256k1 accounts
func CreateTestSigners(t *testing.T, n int) []*TestSigner {
	signers := make([]*TestSigner, n)
	for i := range signers {
		key, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("Failed to generate key: %v", err)
		}
		signers[i] = &TestSigner{Key: key, Address: crypto.PubkeyToAddress(key.PublicKey)}
	}
	return signers
}

// CreateCumulativeRecords gives the i-th test account amounts[i] ether
func CreateCumulativeRecords(amounts ...int64) []types.CumulativeRecord {
	accounts := CreateTestAccounts(len(amounts))
	records := make([]types.CumulativeRecord, len(amounts))
	for i, a := range amounts {
		records[i] = types.CumulativeRecord{Account: accounts[i], CumulativeAmount: Ether(a)}
	}
	return records
}

// CreateIndexedRecords gives the i-th signer a one-time drop of (i+1) ether at index i
func CreateIndexedRecords(signers []*TestSigner) []types.IndexedRecord {
	records := make([]types.IndexedRecord, len(signers))
	for i, s := range signers {
		records[i] = types.IndexedRecord{Account: s.Address, Index: uint64(i), Amount: Ether(int64(i + 1))}
	}
	return records
}
