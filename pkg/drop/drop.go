// Package drop generates a drop off-chain: it encodes the distributor's
// entitlement table into leaves, commits to them with a Merkle tree and emits
// the per-account artifacts recipients need to claim.
package drop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"runtime"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/leaf"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// records per encoding shard
const shardSize = 1024

// ErrZeroAmount is returned for an indexed record paying nothing. Such a leaf
// would verify but could never be paid out.
var ErrZeroAmount = errors.New("indexed record amount must be positive")

// Drop is one generated distribution: a root and an artifact per record, in
// input order.
type Drop struct {
	ID        string                 `json:"id"`
	Model     types.EntitlementModel `json:"model"`
	Root      hexutil.Bytes          `json:"root"`
	Depth     int                    `json:"depth"`
	Artifacts []*types.Artifact      `json:"artifacts"`

	tree *merkle.MerkleTree
}

// Tree returns the tree the drop was built from. Nil for a drop read back from JSON.
func (d *Drop) Tree() *merkle.MerkleTree {
	return d.tree
}

// ArtifactFor returns the first artifact for account.
func (d *Drop) ArtifactFor(account common.Address) (*types.Artifact, bool) {
	for _, a := range d.Artifacts {
		if a.Account == account {
			return a, true
		}
	}
	return nil, false
}

// ArtifactsFor returns every artifact for account. The indexed model allows
// one account to hold several entitlements.
func (d *Drop) ArtifactsFor(account common.Address) []*types.Artifact {
	var out []*types.Artifact
	for _, a := range d.Artifacts {
		if a.Account == account {
			out = append(out, a)
		}
	}
	return out
}

// Build dispatches on the table's model.
func Build(ctx context.Context, table *types.DropTable) (*Drop, error) {
	if table == nil {
		return nil, fmt.Errorf("drop table cannot be nil")
	}
	switch table.Model {
	case types.ModelCumulative:
		return BuildCumulativeDrop(ctx, table.Cumulative)
	case types.ModelSignature:
		return BuildSignatureDrop(ctx, table.Indexed)
	case types.ModelTokenSet:
		return BuildTokenSetDrop(ctx, table.TokenSets)
	default:
		return nil, fmt.Errorf("unsupported entitlement model %q", table.Model)
	}
}

// BuildCumulativeDrop commits to (account, cumulativeAmount) records.
func BuildCumulativeDrop(ctx context.Context, records []types.CumulativeRecord) (*Drop, error) {
	leaves, err := encodeAll(ctx, records, func(r types.CumulativeRecord) ([]byte, error) {
		l, err := leaf.EncodeCumulative(r.Account, r.CumulativeAmount)
		return l[:], err
	})
	if err != nil {
		return nil, err
	}

	return assemble(ctx, types.ModelCumulative, merkle.Keccak256, leaves, func(i int) *types.Artifact {
		r := records[i]
		return &types.Artifact{
			Account:          r.Account,
			CumulativeAmount: new(big.Int).Set(r.CumulativeAmount),
		}
	})
}

// BuildSignatureDrop commits to (account, index, amount[, salt]) records with 16-byte leaves.
func BuildSignatureDrop(ctx context.Context, records []types.IndexedRecord) (*Drop, error) {
	leaves, err := encodeAll(ctx, records, func(r types.IndexedRecord) ([]byte, error) {
		if r.Amount != nil && r.Amount.Sign() == 0 {
			return nil, ErrZeroAmount
		}
		l, err := leaf.EncodeIndexed(r.Account, r.Index, r.Amount, r.Salt)
		return l[:], err
	})
	if err != nil {
		return nil, err
	}

	return assemble(ctx, types.ModelSignature, merkle.Keccak128, leaves, func(i int) *types.Artifact {
		r := records[i]
		index := r.Index
		a := &types.Artifact{
			Account: r.Account,
			Index:   &index,
			Amount:  new(big.Int).Set(r.Amount),
		}
		if r.Salt != nil {
			salt := *r.Salt
			a.Salt = &salt
		}
		return a
	})
}

// BuildTokenSetDrop commits to (account, tokenIds) records.
func BuildTokenSetDrop(ctx context.Context, records []types.TokenSetRecord) (*Drop, error) {
	leaves, err := encodeAll(ctx, records, func(r types.TokenSetRecord) ([]byte, error) {
		l, err := leaf.EncodeTokenSet(r.Account, r.TokenIDs)
		return l[:], err
	})
	if err != nil {
		return nil, err
	}

	return assemble(ctx, types.ModelTokenSet, merkle.Keccak256, leaves, func(i int) *types.Artifact {
		r := records[i]
		return &types.Artifact{
			Account:  r.Account,
			TokenIDs: leaf.SortTokenIDs(r.TokenIDs),
		}
	})
}

// encodeAll encodes records in parallel shards, preserving input order.
func encodeAll[R any](ctx context.Context, records []R, encode func(R) ([]byte, error)) ([][]byte, error) {
	if len(records) == 0 {
		return nil, merkle.ErrEmptyInput
	}

	leaves := make([][]byte, len(records))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for from := 0; from < len(records); from += shardSize {
		from, to := from, min(from+shardSize, len(records))
		g.Go(func() error {
			for i := from; i < to; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				l, err := encode(records[i])
				if err != nil {
					return fmt.Errorf("record %d: %w", i, err)
				}
				leaves[i] = l
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return leaves, nil
}

func assemble(ctx context.Context, model types.EntitlementModel, h merkle.Hasher, leaves [][]byte, artifact func(i int) *types.Artifact) (*Drop, error) {
	tree, err := merkle.BuildTreeContext(ctx, h, leaves)
	if err != nil {
		return nil, err
	}

	d := &Drop{
		ID:        uuid.NewString(),
		Model:     model,
		Root:      append(hexutil.Bytes(nil), tree.Root...),
		Depth:     tree.Depth,
		Artifacts: make([]*types.Artifact, len(leaves)),
		tree:      tree,
	}

	for i, l := range leaves {
		proof, err := tree.Proof(l)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		a := artifact(i)
		a.Model = model
		a.Leaf = append(hexutil.Bytes(nil), l...)
		a.Proof = types.ToHexProof(proof.Proof)
		a.Root = append(hexutil.Bytes(nil), tree.Root...)
		d.Artifacts[i] = a
	}

	return d, nil
}

// LoadTable decodes a JSON drop table.
func LoadTable(r io.Reader) (*types.DropTable, error) {
	var table types.DropTable
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&table); err != nil {
		return nil, fmt.Errorf("failed to decode drop table: %w", err)
	}
	return &table, nil
}

// WriteJSON encodes the drop with indentation.
func (d *Drop) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("failed to encode drop: %w", err)
	}
	return nil
}

// ReadDrop decodes a drop written by WriteJSON.
func ReadDrop(r io.Reader) (*Drop, error) {
	var d Drop
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("failed to decode drop: %w", err)
	}
	return &d, nil
}

// Hasher returns the node hasher used by model.
func Hasher(model types.EntitlementModel) (merkle.Hasher, error) {
	switch model {
	case types.ModelCumulative, types.ModelTokenSet:
		return merkle.Keccak256, nil
	case types.ModelSignature:
		return merkle.Keccak128, nil
	default:
		return nil, fmt.Errorf("unsupported entitlement model %q", model)
	}
}

// VerifyArtifact checks an artifact's leaf against its payload and its proof against root.
func VerifyArtifact(a *types.Artifact, root []byte) (bool, error) {
	h, err := Hasher(a.Model)
	if err != nil {
		return false, err
	}

	var expected []byte
	switch a.Model {
	case types.ModelCumulative:
		l, err := leaf.EncodeCumulative(a.Account, a.CumulativeAmount)
		if err != nil {
			return false, err
		}
		expected = l[:]
	case types.ModelSignature:
		if a.Index == nil {
			return false, fmt.Errorf("indexed artifact has no index")
		}
		l, err := leaf.EncodeIndexed(a.Account, *a.Index, a.Amount, a.Salt)
		if err != nil {
			return false, err
		}
		expected = l[:]
	case types.ModelTokenSet:
		l, err := leaf.EncodeTokenSet(a.Account, a.TokenIDs)
		if err != nil {
			return false, err
		}
		expected = l[:]
	}

	if !bytes.Equal(expected, a.Leaf) {
		return false, nil
	}
	return merkle.Verify(h, a.Leaf, a.ProofBytes(), root), nil
}
