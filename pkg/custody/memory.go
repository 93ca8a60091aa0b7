package custody

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryVault holds a fungible balance and records what it paid to whom.
type MemoryVault struct {
	mu       sync.Mutex
	balance  *big.Int
	balances map[common.Address]*big.Int
}

// NewMemoryVault creates a vault funded with balance.
func NewMemoryVault(balance *big.Int) *MemoryVault {
	return &MemoryVault{
		balance:  new(big.Int).Set(balance),
		balances: make(map[common.Address]*big.Int),
	}
}

func (v *MemoryVault) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("transfer amount must be positive")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, v.balance, amount)
	}

	v.balance.Sub(v.balance, amount)
	current, ok := v.balances[to]
	if !ok {
		current = new(big.Int)
		v.balances[to] = current
	}
	current.Add(current, amount)
	return nil
}

// Balance returns the amount still held by the vault.
func (v *MemoryVault) Balance() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.balance)
}

// BalanceOf returns the total paid to account.
func (v *MemoryVault) BalanceOf(account common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if b, ok := v.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// MemoryNFTVault holds a set of token ids.
type MemoryNFTVault struct {
	mu     sync.Mutex
	owners map[string]common.Address
	held   map[string]struct{}
}

// NewMemoryNFTVault creates a vault holding tokenIDs.
func NewMemoryNFTVault(tokenIDs []*big.Int) *MemoryNFTVault {
	v := &MemoryNFTVault{
		owners: make(map[string]common.Address),
		held:   make(map[string]struct{}, len(tokenIDs)),
	}
	for _, id := range tokenIDs {
		v.held[id.String()] = struct{}{}
	}
	return v
}

func (v *MemoryNFTVault) TransferTokens(ctx context.Context, to common.Address, tokenIDs []*big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, id := range tokenIDs {
		if _, ok := v.held[id.String()]; !ok {
			return fmt.Errorf("%w: %s", ErrTokenNotHeld, id)
		}
	}
	for _, id := range tokenIDs {
		delete(v.held, id.String())
		v.owners[id.String()] = to
	}
	return nil
}

// OwnerOf returns the account a token was paid to.
func (v *MemoryNFTVault) OwnerOf(tokenID *big.Int) (common.Address, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	owner, ok := v.owners[tokenID.String()]
	return owner, ok
}

// Holds reports whether the vault still holds tokenID.
func (v *MemoryNFTVault) Holds(tokenID *big.Int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.held[tokenID.String()]
	return ok
}
