package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/leaf"
)

// EntitlementModel tags which leaf encoding and claim policy a drop uses.
type EntitlementModel string

const (
	ModelCumulative EntitlementModel = "cumulative"
	ModelSignature  EntitlementModel = "signature"
	ModelTokenSet   EntitlementModel = "tokenset"
)

func (m EntitlementModel) String() string {
	return string(m)
}

// CumulativeRecord entitles Account to a lifetime total of CumulativeAmount.
type CumulativeRecord struct {
	Account          common.Address `json:"account"`
	CumulativeAmount *big.Int       `json:"cumulativeAmount"`
}

// IndexedRecord entitles the holder of Account's key to a one-time Amount.
type IndexedRecord struct {
	Account common.Address `json:"account"`
	Index   uint64         `json:"index"`
	Amount  *big.Int       `json:"amount"`
	Salt    *leaf.Salt     `json:"salt,omitempty"`
}

// TokenSetRecord entitles Account to a set of token ids.
type TokenSetRecord struct {
	Account  common.Address `json:"account"`
	TokenIDs []*big.Int     `json:"tokenIds"`
}

// DropTable is the distributor input for one drop. Exactly one of the record
// slices is populated, matching Model.
type DropTable struct {
	Model      EntitlementModel   `json:"model"`
	Cumulative []CumulativeRecord `json:"cumulative,omitempty"`
	Indexed    []IndexedRecord    `json:"indexed,omitempty"`
	TokenSets  []TokenSetRecord   `json:"tokenSets,omitempty"`
}

// Artifact is everything one account needs to claim: its leaf, proof and the
// root the proof was built against, plus the entitlement payload.
type Artifact struct {
	Model   EntitlementModel `json:"model"`
	Account common.Address   `json:"account"`
	Leaf    hexutil.Bytes    `json:"leaf"`
	Proof   []hexutil.Bytes  `json:"proof"`
	Root    hexutil.Bytes    `json:"root"`

	CumulativeAmount *big.Int   `json:"cumulativeAmount,omitempty"`
	Index            *uint64    `json:"index,omitempty"`
	Amount           *big.Int   `json:"amount,omitempty"`
	Salt             *leaf.Salt `json:"salt,omitempty"`
	TokenIDs         []*big.Int `json:"tokenIds,omitempty"`
}

// ProofBytes returns the proof as plain byte slices.
func (a *Artifact) ProofBytes() [][]byte {
	return FromHexProof(a.Proof)
}

// ClaimEvent is emitted after a successful claim. AmountPaid is the amount
// that actually left custody in this call, not the cumulative total.
type ClaimEvent struct {
	ID         string           `json:"id"`
	Model      EntitlementModel `json:"model"`
	Account    common.Address   `json:"account"`
	Receiver   common.Address   `json:"receiver"`
	AmountPaid *big.Int         `json:"amountPaid,omitempty"`
	TokenIDs   []*big.Int       `json:"tokenIds,omitempty"`
	Index      *uint64          `json:"index,omitempty"`
	Root       hexutil.Bytes    `json:"root"`
	Generation uint64           `json:"generation"`
	Timestamp  time.Time        `json:"timestamp"`
}

// RootRotatedEvent is emitted when a distributor's root is replaced.
type RootRotatedEvent struct {
	ID         string           `json:"id"`
	Model      EntitlementModel `json:"model"`
	OldRoot    hexutil.Bytes    `json:"oldRoot"`
	NewRoot    hexutil.Bytes    `json:"newRoot"`
	Generation uint64           `json:"generation"`
	Timestamp  time.Time        `json:"timestamp"`
}

// ToHexProof converts raw proof elements for JSON transport.
func ToHexProof(proof [][]byte) []hexutil.Bytes {
	out := make([]hexutil.Bytes, len(proof))
	for i, p := range proof {
		out[i] = append(hexutil.Bytes(nil), p...)
	}
	return out
}

// FromHexProof converts JSON proof elements back to raw bytes.
func FromHexProof(proof []hexutil.Bytes) [][]byte {
	out := make([][]byte, len(proof))
	for i, p := range proof {
		out[i] = []byte(p)
	}
	return out
}
