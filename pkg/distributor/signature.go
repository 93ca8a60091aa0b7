package distributor

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/custody"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/leaf"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// ClaimSignatureRequest claims a fixed, one-time Amount. The leaf account is
// not supplied: it is recovered from Signature, so only the holder of that
// account's key can direct the payout to Receiver.
type ClaimSignatureRequest struct {
	Receiver  common.Address
	Index     uint64
	Amount    *big.Int
	Salt      *leaf.Salt
	Root      []byte
	Proof     [][]byte
	Signature []byte
}

// SignatureDistributor serves indexed drops over 16-byte leaves. Claimed bits
// are keyed by (generation, index derived from the proof), never by address.
type SignatureDistributor struct {
	*publisher
	vault custody.Vault
}

// NewSignatureDistributor creates a signature-gated distributor. cfg.Address is
// bound into every signed claim message.
func NewSignatureDistributor(
	cfg *Config,
	store persistence.ILedgerPersistence,
	vault custody.Vault,
	sink EventSink,
	logger *zap.Logger,
) (*SignatureDistributor, error) {
	if vault == nil {
		return nil, errors.New("vault cannot be nil")
	}
	p, err := newPublisher(types.ModelSignature, merkle.Keccak128, cfg, store, sink, logger)
	if err != nil {
		return nil, err
	}
	return &SignatureDistributor{publisher: p, vault: vault}, nil
}

// Claim recovers the leaf account from the signature, verifies the leaf and
// pays Amount to Receiver once per derived index.
func (d *SignatureDistributor) Claim(ctx context.Context, req *ClaimSignatureRequest) (*types.ClaimEvent, error) {
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
	if req.Amount != nil && req.Amount.Sign() == 0 {
		return nil, errors.Wrapf(ErrNothingToClaim, "index %d carries a zero amount", req.Index)
	}

	account, err := RecoverClaimSigner(req.Signature, req.Receiver, req.Amount, d.address)
	if err != nil {
		return nil, err
	}

	l, err := leaf.EncodeIndexed(account, req.Index, req.Amount, req.Salt)
	if err != nil {
		return nil, err
	}
	valid, index := merkle.VerifyWithIndex(d.hasher, l[:], req.Proof, req.Root)
	if !valid {
		return nil, errors.Wrapf(ErrInvalidProof, "signer %s", account.Hex())
	}

	generation := d.state.Generation
	set, err := d.store.SetIndexClaimed(generation, index)
	if err != nil {
		return nil, errors.Wrap(err, "failed to write claimed bit")
	}
	if !set {
		return nil, errors.Wrapf(ErrDropAlreadyClaimed, "index %d", index)
	}

	if err := d.vault.Transfer(ctx, req.Receiver, req.Amount); err != nil {
		if rerr := d.store.ClearIndexClaimed(generation, index); rerr != nil {
			d.logger.Sugar().Errorw("Failed to revert claimed bit after transfer failure",
				"generation", generation,
				"index", index,
				"error", rerr)
		}
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	ev := d.newClaimEvent(account, req.Receiver)
	ev.AmountPaid = new(big.Int).Set(req.Amount)
	ev.Index = &index
	d.sink.OnClaimed(ev)

	return ev, nil
}

// IsClaimed reports whether index was claimed under the live generation.
func (d *SignatureDistributor) IsClaimed(index uint64) (bool, error) {
	return d.store.IsIndexClaimed(d.Generation(), index)
}

// IsClaimedAt reports whether index was claimed under generation.
func (d *SignatureDistributor) IsClaimedAt(generation, index uint64) (bool, error) {
	return d.store.IsIndexClaimed(generation, index)
}

// ClaimMessageHash is the EIP-191 digest a leaf account signs to release its
// drop: keccak256(receiver ++ uint256(amount) ++ distributor) under the
// "\x19Ethereum Signed Message:\n32" prefix.
func ClaimMessageHash(receiver common.Address, amount *big.Int, distributor common.Address) ([]byte, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, leaf.ErrAmountOverflow
	}
	a, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, leaf.ErrAmountOverflow
	}
	word := a.Bytes32()

	inner := crypto.Keccak256(receiver.Bytes(), word[:], distributor.Bytes())
	return accounts.TextHash(inner), nil
}

// SignClaim produces the 65-byte [R || S || V] signature with V in {27, 28}.
func SignClaim(key *ecdsa.PrivateKey, receiver common.Address, amount *big.Int, distributor common.Address) ([]byte, error) {
	digest, err := ClaimMessageHash(receiver, amount, distributor)
	if err != nil {
		return nil, err
	}
	return signDigest(key, digest)
}

// RecoverClaimSigner returns the address whose key produced sig over the claim
// message. V may be given as 0/1 or 27/28.
func RecoverClaimSigner(sig []byte, receiver common.Address, amount *big.Int, distributor common.Address) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.Wrapf(ErrInvalidSignature, "signature has %d bytes", len(sig))
	}

	digest, err := ClaimMessageHash(receiver, amount, distributor)
	if err != nil {
		return common.Address{}, err
	}
	return recoverDigest(sig, digest)
}

func signDigest(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func recoverDigest(sig, digest []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.Wrapf(ErrInvalidSignature, "signature has %d bytes", len(sig))
	}

	normalized := append([]byte(nil), sig...)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, errors.Wrap(ErrInvalidSignature, err.Error())
	}
	return crypto.PubkeyToAddress(*pub), nil
}
