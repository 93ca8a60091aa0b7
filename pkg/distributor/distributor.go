// Package distributor holds the claim ledgers for the three entitlement models
// and the root publisher they share.
//
// Every distributor serializes claims and rotations behind one mutex. A claim
// checks root currency, verifies the proof, checks the ledger, writes the
// ledger and transfers; if the transfer fails the ledger write is reverted, so
// a rejected claim never leaves partial state behind.
//
// Several processes may serve one ledger. The root state is reloaded from the
// store at the start of every claim and rotation, and every ledger write is
// conditional, so the store rather than the in-process mutex decides which of
// two racing writers commits.
package distributor

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// Config describes one distributor instance.
type Config struct {
	// Owner is the only address allowed to rotate the root.
	Owner common.Address

	// InitialRoot is published as generation 1 when the store holds no state.
	InitialRoot []byte

	// Address identifies the distributor in signed claim and rotation messages.
	Address common.Address
}

// ClaimState is the lifecycle of one ledger slot under the live generation.
type ClaimState int

const (
	Unclaimed ClaimState = iota
	PartiallyClaimed
	FullyClaimed
	Claimed
)

func (s ClaimState) String() string {
	switch s {
	case Unclaimed:
		return "unclaimed"
	case PartiallyClaimed:
		return "partially_claimed"
	case FullyClaimed:
		return "fully_claimed"
	case Claimed:
		return "claimed"
	default:
		return "unknown"
	}
}

// publisher is the root state and rotation logic shared by all models.
type publisher struct {
	model   types.EntitlementModel
	hasher  merkle.Hasher
	store   persistence.ILedgerPersistence
	sink    EventSink
	logger  *zap.Logger
	address common.Address

	mu sync.Mutex
	// state is the root state as last read from the store
	state *persistence.RootState
}

func newPublisher(
	model types.EntitlementModel,
	hasher merkle.Hasher,
	cfg *Config,
	store persistence.ILedgerPersistence,
	sink EventSink,
	logger *zap.Logger,
) (*publisher, error) {
	if cfg == nil {
		return nil, errors.New("distributor config cannot be nil")
	}
	if store == nil {
		return nil, errors.New("ledger persistence cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = NewLoggingSink(logger)
	}

	p := &publisher{
		model:   model,
		hasher:  hasher,
		store:   store,
		sink:    sink,
		logger:  logger,
		address: cfg.Address,
	}

	state, err := store.LoadRootState()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load root state")
	}

	if state == nil {
		if len(cfg.InitialRoot) != hasher.Size() {
			return nil, errors.Wrapf(ErrInvalidRoot, "initial root has %d bytes, expected %d", len(cfg.InitialRoot), hasher.Size())
		}

		initial := &persistence.RootState{
			Model:      model,
			Root:       append(hexutil.Bytes(nil), cfg.InitialRoot...),
			Generation: 1,
			Owner:      cfg.Owner,
			UpdatedAt:  time.Now().Unix(),
		}
		created, err := store.SwapRootState(0, initial)
		if err != nil {
			return nil, errors.Wrap(err, "failed to save initial root state")
		}
		if created {
			p.state = initial
			logger.Sugar().Infow("Distributor initialized",
				"model", model,
				"root", initial.Root.String(),
				"owner", cfg.Owner.Hex())
			return p, nil
		}

		// another process sharing the store published first
		if state, err = store.LoadRootState(); err != nil {
			return nil, errors.Wrap(err, "failed to load root state")
		}
		if state == nil {
			return nil, errors.New("root state missing after concurrent initialization")
		}
	}

	if state.Model != model {
		return nil, errors.Wrapf(ErrModelMismatch, "stored %s, expected %s", state.Model, model)
	}
	logger.Sugar().Infow("Resuming distributor from persisted root",
		"model", model,
		"root", state.Root.String(),
		"generation", state.Generation)
	p.state = state
	return p, nil
}

// refresh reloads the root state so rotations made by another process sharing
// the store are seen. Must be called with p.mu held.
func (p *publisher) refresh() error {
	state, err := p.store.LoadRootState()
	if err != nil {
		return errors.Wrap(err, "failed to load root state")
	}
	if state == nil {
		return errors.New("root state missing from store")
	}
	if state.Model != p.model {
		return errors.Wrapf(ErrModelMismatch, "stored %s, expected %s", state.Model, p.model)
	}
	p.state = state
	return nil
}

// current returns the freshest root state, or the last one read if the store
// cannot be reached.
func (p *publisher) current() *persistence.RootState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.refresh(); err != nil {
		p.logger.Sugar().Warnw("Serving cached root state", "model", p.model, "error", err)
	}
	return p.state.Copy()
}

// State returns a copy of the live root state, read in one go.
func (p *publisher) State() *persistence.RootState {
	return p.current()
}

// Root returns a copy of the live root.
func (p *publisher) Root() []byte {
	return p.current().Root
}

// Generation returns the live root generation.
func (p *publisher) Generation() uint64 {
	return p.current().Generation
}

// Owner returns the address allowed to rotate the root.
func (p *publisher) Owner() common.Address {
	return p.current().Owner
}

// Address returns the identity bound into signed messages.
func (p *publisher) Address() common.Address {
	return p.address
}

// Model returns the entitlement model served.
func (p *publisher) Model() types.EntitlementModel {
	return p.model
}

// Hasher returns the node hasher proofs must be built with.
func (p *publisher) Hasher() merkle.Hasher {
	return p.hasher
}

// Verify checks proof for leaf against root and returns the derived leaf index.
func (p *publisher) Verify(proof [][]byte, root []byte, leaf []byte) (bool, uint64) {
	return merkle.VerifyWithIndex(p.hasher, leaf, proof, root)
}

// Rotate replaces the live root and bumps the generation on behalf of an
// already authenticated caller. Ledger entries are left as they are.
func (p *publisher) Rotate(ctx context.Context, caller common.Address, newRoot []byte) (*types.RootRotatedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.refresh(); err != nil {
		return nil, err
	}
	return p.rotateLocked(caller, newRoot)
}

// RotateSigned replaces the live root if signature is the owner's signature
// over RotationMessageHash(newRoot, generation, Address()). generation must be
// the live generation, so each signature authorizes exactly one rotation.
func (p *publisher) RotateSigned(ctx context.Context, newRoot []byte, generation uint64, signature []byte) (*types.RootRotatedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.refresh(); err != nil {
		return nil, err
	}
	if generation != p.state.Generation {
		return nil, errors.Wrapf(ErrMerkleRootWasUpdated, "rotation signed for generation %d, live generation is %d",
			generation, p.state.Generation)
	}

	signer, err := RecoverRotationSigner(signature, newRoot, generation, p.address)
	if err != nil {
		return nil, errors.Wrap(ErrUnauthorized, err.Error())
	}
	return p.rotateLocked(signer, newRoot)
}

// rotateLocked must be called with p.mu held and a freshly loaded state.
func (p *publisher) rotateLocked(caller common.Address, newRoot []byte) (*types.RootRotatedEvent, error) {
	if caller != p.state.Owner {
		return nil, errors.Wrapf(ErrUnauthorized, "caller %s", caller.Hex())
	}
	if len(newRoot) != p.hasher.Size() {
		return nil, errors.Wrapf(ErrInvalidRoot, "root has %d bytes, expected %d", len(newRoot), p.hasher.Size())
	}

	next := p.state.Copy()
	next.Root = append(hexutil.Bytes(nil), newRoot...)
	next.Generation++
	next.UpdatedAt = time.Now().Unix()

	swapped, err := p.store.SwapRootState(p.state.Generation, next)
	if err != nil {
		return nil, errors.Wrap(err, "failed to persist rotated root")
	}
	if !swapped {
		return nil, errors.Wrapf(ErrMerkleRootWasUpdated, "generation %d was rotated concurrently", p.state.Generation)
	}

	old := p.state
	p.state = next

	ev := &types.RootRotatedEvent{
		ID:         uuid.NewString(),
		Model:      p.model,
		OldRoot:    old.Root,
		NewRoot:    append(hexutil.Bytes(nil), next.Root...),
		Generation: next.Generation,
		Timestamp:  time.Now().UTC(),
	}
	p.sink.OnRootRotated(ev)

	return ev, nil
}

// checkRoot must be called with p.mu held.
func (p *publisher) checkRoot(root []byte) error {
	if !bytes.Equal(root, p.state.Root) {
		return errors.Wrapf(ErrMerkleRootWasUpdated, "claimed against %s, live root is %s (generation %d)",
			hexutil.Encode(root), p.state.Root.String(), p.state.Generation)
	}
	return nil
}

// newClaimEvent must be called with p.mu held.
func (p *publisher) newClaimEvent(account, receiver common.Address) *types.ClaimEvent {
	return &types.ClaimEvent{
		ID:         uuid.NewString(),
		Model:      p.model,
		Account:    account,
		Receiver:   receiver,
		Root:       append(hexutil.Bytes(nil), p.state.Root...),
		Generation: p.state.Generation,
		Timestamp:  time.Now().UTC(),
	}
}
