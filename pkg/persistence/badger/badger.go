package badger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
)

var claimedMarker = []byte{1}

// errNotApplied aborts a conditional transaction without writing.
var errNotApplied = errors.New("condition not met")

// BadgerPersistence is a durable, disk-based ILedgerPersistence using Badger.
// Several distributors may share one database by using distinct namespaces.
type BadgerPersistence struct {
	db        *badgerdb.DB
	logger    *zap.Logger
	namespace string
	gcCancel  context.CancelFunc
	gcWg      sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
}

// NewBadgerPersistence opens a Badger database at dataPath with SyncWrites
// enabled and starts a background goroutine for value log GC.
// Keys are prefixed with namespace when it is not empty.
func NewBadgerPersistence(dataPath, namespace string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:        db,
		logger:    logger,
		namespace: namespace,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath, "namespace", namespace)

	return bp, nil
}

func (b *BadgerPersistence) key(k string) []byte {
	if b.namespace == "" {
		return []byte(k)
	}
	return []byte(b.namespace + ":" + k)
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		schemaKey := b.key(persistence.KeySchemaVersion)
		item, err := txn.Get(schemaKey)
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set(schemaKey, []byte(persistence.CurrentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != persistence.CurrentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, persistence.CurrentSchemaVersion)
		}
		return nil
	})
}

// runGC runs periodic garbage collection in the background
func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// get copies the value under key; returns nil when the key is absent
func (b *BadgerPersistence) get(key []byte) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(key)
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

// txnGet copies the value under key inside txn; returns nil when the key is absent
func txnGet(txn *badgerdb.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err == badgerdb.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// conditionalUpdate runs fn in a read-write transaction and commits only when
// fn reports true. Badger tracks the keys fn read, so a commit that races a
// concurrent writer fails with ErrConflict and is reported as not applied.
func (b *BadgerPersistence) conditionalUpdate(fn func(txn *badgerdb.Txn) (bool, error)) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return false, err
	}

	err := b.db.Update(func(txn *badgerdb.Txn) error {
		ok, err := fn(txn)
		if err != nil {
			return err
		}
		if !ok {
			return errNotApplied
		}
		return nil
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errNotApplied), errors.Is(err, badgerdb.ErrConflict):
		return false, nil
	default:
		return false, err
	}
}

func (b *BadgerPersistence) checkOpen() error {
	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	return nil
}

// SaveRootState persists the root state
func (b *BadgerPersistence) SaveRootState(state *persistence.RootState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil RootState")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return err
	}

	data, err := persistence.MarshalRootState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal RootState: %w", err)
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(b.key(persistence.KeyRootState), data)
	})
}

// LoadRootState retrieves the root state
func (b *BadgerPersistence) LoadRootState() (*persistence.RootState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	data, err := b.get(b.key(persistence.KeyRootState))
	if err != nil {
		return nil, fmt.Errorf("failed to load RootState: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	state, err := persistence.UnmarshalRootState(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal RootState: %w", err)
	}
	return state, nil
}

// SwapRootState stores next if the stored generation is expectedGeneration
func (b *BadgerPersistence) SwapRootState(expectedGeneration uint64, next *persistence.RootState) (bool, error) {
	if next == nil {
		return false, fmt.Errorf("cannot save nil RootState")
	}
	data, err := persistence.MarshalRootState(next)
	if err != nil {
		return false, fmt.Errorf("failed to marshal RootState: %w", err)
	}

	key := b.key(persistence.KeyRootState)
	ok, err := b.conditionalUpdate(func(txn *badgerdb.Txn) (bool, error) {
		raw, err := txnGet(txn, key)
		if err != nil {
			return false, err
		}
		var current uint64
		if raw != nil {
			state, err := persistence.UnmarshalRootState(raw)
			if err != nil {
				return false, err
			}
			current = state.Generation
		}
		if current != expectedGeneration {
			return false, nil
		}
		return true, txn.Set(key, data)
	})
	if err != nil {
		return false, fmt.Errorf("failed to swap RootState: %w", err)
	}
	return ok, nil
}

// GetClaimedAmount returns the amount already paid to account
func (b *BadgerPersistence) GetClaimedAmount(account common.Address) (*big.Int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	data, err := b.get(b.key(persistence.ClaimedAmountKey(account)))
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed amount: %w", err)
	}
	if data == nil {
		return new(big.Int), nil
	}
	return persistence.DecodeAmount(data)
}

// SetClaimedAmount stores account's high-water mark
func (b *BadgerPersistence) SetClaimedAmount(account common.Address, amount *big.Int) error {
	data, err := persistence.EncodeAmount(amount)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(b.key(persistence.ClaimedAmountKey(account)), data)
	})
}

// CompareAndSetClaimedAmount stores next if account's mark equals expected
func (b *BadgerPersistence) CompareAndSetClaimedAmount(account common.Address, expected, next *big.Int) (bool, error) {
	if expected == nil {
		return false, fmt.Errorf("expected amount cannot be nil")
	}
	data, err := persistence.EncodeAmount(next)
	if err != nil {
		return false, err
	}

	key := b.key(persistence.ClaimedAmountKey(account))
	ok, err := b.conditionalUpdate(func(txn *badgerdb.Txn) (bool, error) {
		raw, err := txnGet(txn, key)
		if err != nil {
			return false, err
		}
		current := new(big.Int)
		if raw != nil {
			if current, err = persistence.DecodeAmount(raw); err != nil {
				return false, err
			}
		}
		if current.Cmp(expected) != 0 {
			return false, nil
		}
		return true, txn.Set(key, data)
	})
	if err != nil {
		return false, fmt.Errorf("failed to update claimed amount: %w", err)
	}
	return ok, nil
}

// IsIndexClaimed reports whether index was claimed under generation
func (b *BadgerPersistence) IsIndexClaimed(generation, index uint64) (bool, error) {
	return b.exists(b.key(persistence.IndexBitKey(generation, index)))
}

// SetIndexClaimed marks index as claimed under generation unless it already is
func (b *BadgerPersistence) SetIndexClaimed(generation, index uint64) (bool, error) {
	return b.setBitsOnce([][]byte{b.key(persistence.IndexBitKey(generation, index))})
}

// ClearIndexClaimed removes the claimed bit for index under generation
func (b *BadgerPersistence) ClearIndexClaimed(generation, index uint64) error {
	return b.clearBits([][]byte{b.key(persistence.IndexBitKey(generation, index))})
}

// IsTokenClaimed reports whether tokenID was claimed
func (b *BadgerPersistence) IsTokenClaimed(tokenID *big.Int) (bool, error) {
	if tokenID == nil {
		return false, fmt.Errorf("token id cannot be nil")
	}
	return b.exists(b.key(persistence.TokenBitKey(tokenID)))
}

// SetTokensClaimed marks every id as claimed in a single transaction, or none
// if any already is
func (b *BadgerPersistence) SetTokensClaimed(tokenIDs []*big.Int) (bool, error) {
	keys, err := b.tokenKeys(tokenIDs)
	if err != nil {
		return false, err
	}
	return b.setBitsOnce(keys)
}

// ClearTokensClaimed removes the claimed bit of every id in a single transaction
func (b *BadgerPersistence) ClearTokensClaimed(tokenIDs []*big.Int) error {
	keys, err := b.tokenKeys(tokenIDs)
	if err != nil {
		return err
	}
	return b.clearBits(keys)
}

func (b *BadgerPersistence) tokenKeys(tokenIDs []*big.Int) ([][]byte, error) {
	keys := make([][]byte, len(tokenIDs))
	for i, id := range tokenIDs {
		if id == nil {
			return nil, fmt.Errorf("token id cannot be nil")
		}
		keys[i] = b.key(persistence.TokenBitKey(id))
	}
	return keys, nil
}

func (b *BadgerPersistence) exists(key []byte) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return false, err
	}

	found := false
	err := b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(key)
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to read claimed bit: %w", err)
	}
	return found, nil
}

func (b *BadgerPersistence) setBitsOnce(keys [][]byte) (bool, error) {
	ok, err := b.conditionalUpdate(func(txn *badgerdb.Txn) (bool, error) {
		for _, k := range keys {
			_, err := txn.Get(k)
			if err == nil {
				return false, nil
			}
			if err != badgerdb.ErrKeyNotFound {
				return false, err
			}
		}
		for _, k := range keys {
			if err := txn.Set(k, claimedMarker); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to write claimed bits: %w", err)
	}
	return ok, nil
}

func (b *BadgerPersistence) clearBits(keys [][]byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badgerdb.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear claimed bits: %w", err)
	}
	return nil
}

// Close stops the GC goroutine and closes the database
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil // Already closed, idempotent
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(b.key(persistence.KeySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
