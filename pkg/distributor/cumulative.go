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

// conditional ledger writes retried before giving up
const maxLedgerAttempts = 3

// ClaimCumulativeRequest claims up to CumulativeAmount for Account.
type ClaimCumulativeRequest struct {
	Account          common.Address
	CumulativeAmount *big.Int
	Root             []byte
	Proof            [][]byte
}

// CumulativeDistributor pays each account the difference between its current
// cumulative entitlement and what it has already been paid. The ledger keeps
// an absolute high-water mark per account that survives rotations, so a new
// root only ever raises the ceiling.
type CumulativeDistributor struct {
	*publisher
	vault custody.Vault
}

// NewCumulativeDistributor creates a cumulative distributor over 32-byte leaves.
func NewCumulativeDistributor(
	cfg *Config,
	store persistence.ILedgerPersistence,
	vault custody.Vault,
	sink EventSink,
	logger *zap.Logger,
) (*CumulativeDistributor, error) {
	if vault == nil {
		return nil, errors.New("vault cannot be nil")
	}
	p, err := newPublisher(types.ModelCumulative, merkle.Keccak256, cfg, store, sink, logger)
	if err != nil {
		return nil, err
	}
	return &CumulativeDistributor{publisher: p, vault: vault}, nil
}

// Claim pays the unpaid part of the account's cumulative entitlement.
// The returned event carries the delta actually transferred.
func (d *CumulativeDistributor) Claim(ctx context.Context, req *ClaimCumulativeRequest) (*types.ClaimEvent, error) {
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

	l, err := leaf.EncodeCumulative(req.Account, req.CumulativeAmount)
	if err != nil {
		return nil, err
	}
	if !merkle.Verify(d.hasher, l[:], req.Proof, req.Root) {
		return nil, errors.Wrapf(ErrInvalidProof, "account %s", req.Account.Hex())
	}

	previouslyClaimed, err := d.advanceClaimedAmount(req.Account, req.CumulativeAmount)
	if err != nil {
		return nil, err
	}

	amount := new(big.Int).Sub(req.CumulativeAmount, previouslyClaimed)
	if err := d.vault.Transfer(ctx, req.Account, amount); err != nil {
		reverted, rerr := d.store.CompareAndSetClaimedAmount(req.Account, req.CumulativeAmount, previouslyClaimed)
		if rerr != nil || !reverted {
			d.logger.Sugar().Errorw("Failed to revert claimed amount after transfer failure",
				"account", req.Account.Hex(),
				"previously_claimed", previouslyClaimed.String(),
				"error", rerr)
		}
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	ev := d.newClaimEvent(req.Account, req.Account)
	ev.AmountPaid = amount
	d.sink.OnClaimed(ev)

	return ev, nil
}

// advanceClaimedAmount raises account's high-water mark to cumulativeAmount and
// returns the mark it replaced. The write is a compare-and-set against the mark
// just read; when another writer moves the mark in between, the read is
// retried so the claim is judged against the newer mark.
func (d *CumulativeDistributor) advanceClaimedAmount(account common.Address, cumulativeAmount *big.Int) (*big.Int, error) {
	for attempt := 0; attempt < maxLedgerAttempts; attempt++ {
		previouslyClaimed, err := d.store.GetClaimedAmount(account)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read claimed amount")
		}
		if cumulativeAmount.Cmp(previouslyClaimed) <= 0 {
			return nil, errors.Wrapf(ErrNothingToClaim, "account %s already claimed %s", account.Hex(), previouslyClaimed)
		}

		set, err := d.store.CompareAndSetClaimedAmount(account, previouslyClaimed, cumulativeAmount)
		if err != nil {
			return nil, errors.Wrap(err, "failed to write claimed amount")
		}
		if set {
			return previouslyClaimed, nil
		}
	}
	return nil, errors.Wrapf(ErrNothingToClaim, "account %s is being claimed concurrently", account.Hex())
}

// ClaimedAmount returns the total already paid to account.
func (d *CumulativeDistributor) ClaimedAmount(account common.Address) (*big.Int, error) {
	return d.store.GetClaimedAmount(account)
}

// IsClaimed reports whether account has been paid anything.
func (d *CumulativeDistributor) IsClaimed(account common.Address) (bool, error) {
	claimed, err := d.store.GetClaimedAmount(account)
	if err != nil {
		return false, err
	}
	return claimed.Sign() > 0, nil
}

// Status places account's ledger slot relative to an entitlement of cumulativeAmount.
func (d *CumulativeDistributor) Status(account common.Address, cumulativeAmount *big.Int) (ClaimState, error) {
	claimed, err := d.store.GetClaimedAmount(account)
	if err != nil {
		return Unclaimed, err
	}
	switch {
	case claimed.Sign() == 0:
		return Unclaimed, nil
	case claimed.Cmp(cumulativeAmount) >= 0:
		return FullyClaimed, nil
	default:
		return PartiallyClaimed, nil
	}
}
