// Package custody is the transfer-out side effect of a claim. A distributor
// calls exactly one transfer per successful claim and nothing else.
package custody

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance in custody")
	ErrTokenNotHeld        = errors.New("token not held in custody")
)

// Vault pays out fungible tokens.
type Vault interface {
	Transfer(ctx context.Context, to common.Address, amount *big.Int) error
}

// NFTVault pays out non-fungible tokens. TransferTokens moves every id or none.
type NFTVault interface {
	TransferTokens(ctx context.Context, to common.Address, tokenIDs []*big.Int) error
}
