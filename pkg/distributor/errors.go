package distributor

import "github.com/pkg/errors"

// Claim-time and rotation errors. Each rejected precondition has its own kind
// and leaves ledger state untouched.
var (
	// ErrMerkleRootWasUpdated: the claim names a root other than the live one.
	ErrMerkleRootWasUpdated = errors.New("merkle root was updated")

	// ErrInvalidProof: the proof does not fold the recomputed leaf to the root.
	ErrInvalidProof = errors.New("invalid proof")

	// ErrNothingToClaim: cumulative amount already paid, or a token in the set was already claimed.
	ErrNothingToClaim = errors.New("nothing to claim")

	// ErrDropAlreadyClaimed: the indexed leaf was already claimed.
	ErrDropAlreadyClaimed = errors.New("drop already claimed")

	// ErrInvalidSignature: the claim signature could not be recovered to an address.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrUnauthorized: the caller may not rotate the root.
	ErrUnauthorized = errors.New("caller is not the distributor owner")

	// ErrInvalidRoot: the root has the wrong width for the distributor's hasher.
	ErrInvalidRoot = errors.New("invalid merkle root")

	// ErrTransferFailed: custody refused the payout; the ledger write was reverted.
	ErrTransferFailed = errors.New("token transfer failed")

	// ErrModelMismatch: persisted state belongs to a different entitlement model.
	ErrModelMismatch = errors.New("persisted root state has a different entitlement model")
)
