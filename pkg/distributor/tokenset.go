package distributor

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/custody"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/leaf"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// ClaimTokenSetRequest claims every id in TokenIDs for Account.
type ClaimTokenSetRequest struct {
	Account  common.Address
	TokenIDs []*big.Int
	Root     []byte
	Proof    [][]byte
}

// TokenSetDistributor pays out NFTs. Claimed bits are keyed by token id across
// all generations: a token id can leave custody once, whichever leaf names it.
type TokenSetDistributor struct {
	*publisher
	vault custody.NFTVault
}

// NewTokenSetDistributor creates a token-set distributor over 32-byte leaves.
func NewTokenSetDistributor(
	cfg *Config,
	store persistence.ILedgerPersistence,
	vault custody.NFTVault,
	sink EventSink,
	logger *zap.Logger,
) (*TokenSetDistributor, error) {
	if vault == nil {
		return nil, errors.New("vault cannot be nil")
	}
	p, err := newPublisher(types.ModelTokenSet, merkle.Keccak256, cfg, store, sink, logger)
	if err != nil {
		return nil, err
	}
	return &TokenSetDistributor{publisher: p, vault: vault}, nil
}

// Claim transfers the whole set or nothing. If any id was already claimed the
// call fails with ErrNothingToClaim and no bit is written.
func (d *TokenSetDistributor) Claim(ctx context.Context, req *ClaimTokenSetRequest) (*types.ClaimEvent, error) {
	if req == nil {
		return nil, errors.New("claim request cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.refresh(); err != nil {
		return nil, err
	}
	if err := d.checkRoot(req.Root); err != nil {
		return nil, err
	}

	l, err := leaf.EncodeTokenSet(req.Account, req.TokenIDs)
	if err != nil {
		return nil, err
	}
	if !merkle.Verify(d.hasher, l[:], req.Proof, req.Root) {
		return nil, errors.Wrapf(ErrInvalidProof, "account %s", req.Account.Hex())
	}

	ids := leaf.SortTokenIDs(req.TokenIDs)
	for _, id := range ids {
		claimed, err := d.store.IsTokenClaimed(id)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read token claimed bit")
		}
		if claimed {
			return nil, errors.Wrapf(ErrNothingToClaim, "token %s already claimed", id)
		}
	}

	set, err := d.store.SetTokensClaimed(ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to write token claimed bits")
	}
	if !set {
		return nil, errors.Wrapf(ErrNothingToClaim, "a token of account %s was claimed concurrently", req.Account.Hex())
	}

	if err := d.vault.TransferTokens(ctx, req.Account, ids); err != nil {
		if rerr := d.store.ClearTokensClaimed(ids); rerr != nil {
			d.logger.Sugar().Errorw("Failed to revert token claimed bits after transfer failure",
				"account", req.Account.Hex(),
				"error", rerr)
		}
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	ev := d.newClaimEvent(req.Account, req.Account)
	ev.TokenIDs = ids
	d.sink.OnClaimed(ev)

	return ev, nil
}

// IsTokenClaimed reports whether tokenID has been paid out.
func (d *TokenSetDistributor) IsTokenClaimed(tokenID *big.Int) (bool, error) {
	return d.store.IsTokenClaimed(tokenID)
}
