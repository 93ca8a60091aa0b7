package testutil

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/custody"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/distributor"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/drop"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/memory"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/server"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// TestOwnerKey signs root rotations for every test deployment
var TestOwnerKey = mustKey("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")

// TestOwner is the root owner of every test deployment
var TestOwner = crypto.PubkeyToAddress(TestOwnerKey.PublicKey)

// TestDistributorAddress is bound into signature-model claims
var TestDistributorAddress = common.HexToAddress("0x000000000000000000000000000000000000d157")

// TestDeployment is one distributor behind a live HTTP test server
type TestDeployment struct {
	Drop        *drop.Drop
	Distributor server.RootPublisher
	Store       persistence.ILedgerPersistence
	Vault       *custody.MemoryVault
	NFTVault    *custody.MemoryNFTVault
	Events      *distributor.RecordingSink
	Server      *httptest.Server
	URL         string
	logger      *zap.Logger
}

func newDeployment(t *testing.T, d *drop.Drop) *TestDeployment {
	return &TestDeployment{
		Drop:   d,
		Store:  memory.NewMemoryPersistence(),
		Events: distributor.NewRecordingSink(),
		logger: zaptest.NewLogger(t),
	}
}

// NewCumulativeDeployment builds a cumulative drop from records and serves it
// from a vault holding funding.
func NewCumulativeDeployment(t *testing.T, records []types.CumulativeRecord, funding *big.Int) *TestDeployment {
	d, err := drop.BuildCumulativeDrop(context.Background(), records)
	if err != nil {
		t.Fatalf("Failed to build drop: %v", err)
	}

	td := newDeployment(t, d)
	td.Vault = custody.NewMemoryVault(funding)
	dist, err := distributor.NewCumulativeDistributor(
		&distributor.Config{Owner: TestOwner, InitialRoot: d.Root, Address: TestDistributorAddress},
		td.Store, td.Vault, td.Events, td.logger)
	if err != nil {
		t.Fatalf("Failed to create distributor: %v", err)
	}
	td.start(t, dist)
	return td
}

// NewSignatureDeployment builds an indexed drop and serves it
func NewSignatureDeployment(t *testing.T, records []types.IndexedRecord, funding *big.Int) *TestDeployment {
	d, err := drop.BuildSignatureDrop(context.Background(), records)
	if err != nil {
		t.Fatalf("Failed to build drop: %v", err)
	}

	td := newDeployment(t, d)
	td.Vault = custody.NewMemoryVault(funding)
	dist, err := distributor.NewSignatureDistributor(
		&distributor.Config{Owner: TestOwner, InitialRoot: d.Root, Address: TestDistributorAddress},
		td.Store, td.Vault, td.Events, td.logger)
	if err != nil {
		t.Fatalf("Failed to create distributor: %v", err)
	}
	td.start(t, dist)
	return td
}

// NewTokenSetDeployment builds a token-set drop and serves it from a vault
// holding held.
func NewTokenSetDeployment(t *testing.T, records []types.TokenSetRecord, held []*big.Int) *TestDeployment {
	d, err := drop.BuildTokenSetDrop(context.Background(), records)
	if err != nil {
		t.Fatalf("Failed to build drop: %v", err)
	}

	td := newDeployment(t, d)
	td.NFTVault = custody.NewMemoryNFTVault(held)
	dist, err := distributor.NewTokenSetDistributor(
		&distributor.Config{Owner: TestOwner, InitialRoot: d.Root, Address: TestDistributorAddress},
		td.Store, td.NFTVault, td.Events, td.logger)
	if err != nil {
		t.Fatalf("Failed to create distributor: %v", err)
	}
	td.start(t, dist)
	return td
}

// start wraps dist in a server.Server and an httptest.Server
func (td *TestDeployment) start(t *testing.T, dist server.RootPublisher) {
	srv, err := server.NewServer(dist, 0, td.logger)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	td.Distributor = dist
	td.Server = httptest.NewServer(srv.GetHandler())
	td.URL = td.Server.URL
	t.Cleanup(td.Close)

	td.logger.Sugar().Debugw("Started test deployment", "model", dist.Model(), "url", td.URL)
}

// Artifact returns the artifact for account or fails the test
func (td *TestDeployment) Artifact(t *testing.T, account common.Address) *types.Artifact {
	a, ok := td.Drop.ArtifactFor(account)
	if !ok {
		t.Fatalf("No artifact for %s", account.Hex())
	}
	return a
}

// RotateRoot signs a rotation to root as TestOwner against the live generation
// and posts it. It returns the HTTP status code.
func (td *TestDeployment) RotateRoot(t *testing.T, root []byte, out interface{}) int {
	generation := td.Distributor.Generation()
	sig, err := distributor.SignRotation(TestOwnerKey, root, generation, TestDistributorAddress)
	if err != nil {
		t.Fatalf("Failed to sign rotation: %v", err)
	}
	return td.PostJSON(t, "/root", &types.RotateRequestV1{Root: root, Generation: generation, Signature: sig}, out)
}

// PostJSON posts body to path and decodes the response into out when non-nil.
// It returns the HTTP status code.
func (td *TestDeployment) PostJSON(t *testing.T, path string, body, out interface{}) int {
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	resp, err := http.Post(td.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(t, resp, out)
}

// GetJSON issues a GET to path and decodes the response into out when non-nil
func (td *TestDeployment) GetJSON(t *testing.T, path string, out interface{}) int {
	resp, err := http.Get(td.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(t, resp, out)
}

func decodeResponse(t *testing.T, resp *http.Response, out interface{}) int {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("Failed to decode response %s: %v", fmt.Sprintf("%q", body), err)
		}
	}
	return resp.StatusCode
}

func mustKey(hex string) *ecdsa.PrivateKey {
	key, err := crypto.HexToECDSA(hex)
	if err != nil {
		panic(err)
	}
	return key
}

// Close stops the HTTP server and the ledger
func (td *TestDeployment) Close() {
	if td.Server != nil {
		td.Server.Close()
		td.Server = nil
	}
	if td.Store != nil {
		_ = td.Store.Close()
	}
}
