package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/leaf"
)

// CumulativeClaimRequestV1 is the body of POST /claim/cumulative
type CumulativeClaimRequestV1 struct {
	Account          common.Address  `json:"account"`
	CumulativeAmount *big.Int        `json:"cumulativeAmount"`
	Root             hexutil.Bytes   `json:"root"`
	Proof            []hexutil.Bytes `json:"proof"`
}

// SignatureClaimRequestV1 is the body of POST /claim/signature
type SignatureClaimRequestV1 struct {
	Receiver  common.Address  `json:"receiver"`
	Index     uint64          `json:"index"`
	Amount    *big.Int        `json:"amount"`
	Salt      *leaf.Salt      `json:"salt,omitempty"`
	Root      hexutil.Bytes   `json:"root"`
	Proof     []hexutil.Bytes `json:"proof"`
	Signature hexutil.Bytes   `json:"signature"`
}

// TokenSetClaimRequestV1 is the body of POST /claim/tokens
type TokenSetClaimRequestV1 struct {
	Account  common.Address  `json:"account"`
	TokenIDs []*big.Int      `json:"tokenIds"`
	Root     hexutil.Bytes   `json:"root"`
	Proof    []hexutil.Bytes `json:"proof"`
}

type VerifyRequestV1 struct {
	Leaf  hexutil.Bytes   `json:"leaf"`
	Root  hexutil.Bytes   `json:"root"`
	Proof []hexutil.Bytes `json:"proof"`
}

type VerifyResponseV1 struct {
	Valid bool   `json:"valid"`
	Index uint64 `json:"index"`
}

// RotateRequestV1 is the body of POST /root. Signature is the owner's EIP-191
// signature over keccak256(root ++ uint256(generation) ++ distributorAddress),
// and Generation must be the live generation being replaced.
type RotateRequestV1 struct {
	Root       hexutil.Bytes `json:"root"`
	Generation uint64        `json:"generation"`
	Signature  hexutil.Bytes `json:"signature"`
}

// RootResponseV1 answers GET /root. Address is the distributor identity bound
// into signed claims and rotations.
type RootResponseV1 struct {
	Model      EntitlementModel `json:"model"`
	Root       hexutil.Bytes    `json:"root"`
	Generation uint64           `json:"generation"`
	Owner      common.Address   `json:"owner"`
	Address    common.Address   `json:"distributorAddress"`
}

// ClaimedResponseV1 answers GET /claimed. Amount is set for account queries only.
type ClaimedResponseV1 struct {
	Claimed bool     `json:"claimed"`
	Amount  *big.Int `json:"amount,omitempty"`
}

type ErrorResponseV1 struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
