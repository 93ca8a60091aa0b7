package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
)

const (
	defaultKeyPrefix = "drop:"
	opTimeout        = 5 * time.Second
)

// errNotApplied aborts a watched transaction whose condition did not hold.
var errNotApplied = errors.New("condition not met")

// RedisPersistence is an ILedgerPersistence backed by Redis, suitable for
// several API replicas sharing one ledger. Claimed bits are written with
// SETNX/MSETNX and the root state and claimed amounts with WATCH/MULTI, so
// of two replicas racing on the same slot at most one write lands.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix namespaces every key, e.g. "airdrop-42:" gives keys like
	// "airdrop-42:root:state". Defaults to "drop:".
	KeyPrefix string
}

// NewRedisPersistence connects to Redis and validates the schema version.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: prefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", prefix)

	return rp, nil
}

func (r *RedisPersistence) prefixKey(key string) string {
	return r.keyPrefix + key
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(persistence.KeySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, persistence.CurrentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != persistence.CurrentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, persistence.CurrentSchemaVersion)
	}
	return nil
}

func (r *RedisPersistence) checkOpen() error {
	if r.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	return nil
}

// SaveRootState persists the root state
func (r *RedisPersistence) SaveRootState(state *persistence.RootState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil RootState")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return err
	}

	data, err := persistence.MarshalRootState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal RootState: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.prefixKey(persistence.KeyRootState), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save RootState: %w", err)
	}
	return nil
}

// LoadRootState retrieves the root state
func (r *RedisPersistence) LoadRootState() (*persistence.RootState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.prefixKey(persistence.KeyRootState)).Bytes()
	if err == redis.Nil {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load RootState: %w", err)
	}

	state, err := persistence.UnmarshalRootState(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal RootState: %w", err)
	}
	return state, nil
}

// SwapRootState stores next if the stored generation is expectedGeneration
func (r *RedisPersistence) SwapRootState(expectedGeneration uint64, next *persistence.RootState) (bool, error) {
	if next == nil {
		return false, fmt.Errorf("cannot save nil RootState")
	}
	data, err := persistence.MarshalRootState(next)
	if err != nil {
		return false, fmt.Errorf("failed to marshal RootState: %w", err)
	}

	key := r.prefixKey(persistence.KeyRootState)
	ok, err := r.watchedSet(key, data, func(raw []byte) (bool, error) {
		var current uint64
		if raw != nil {
			state, err := persistence.UnmarshalRootState(raw)
			if err != nil {
				return false, err
			}
			current = state.Generation
		}
		return current == expectedGeneration, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to swap RootState: %w", err)
	}
	return ok, nil
}

// GetClaimedAmount returns the amount already paid to account
func (r *RedisPersistence) GetClaimedAmount(account common.Address) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.prefixKey(persistence.ClaimedAmountKey(account))).Bytes()
	if err == redis.Nil {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed amount: %w", err)
	}
	return persistence.DecodeAmount(data)
}

// SetClaimedAmount stores account's high-water mark
func (r *RedisPersistence) SetClaimedAmount(account common.Address, amount *big.Int) error {
	data, err := persistence.EncodeAmount(amount)
	if err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.prefixKey(persistence.ClaimedAmountKey(account)), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save claimed amount: %w", err)
	}
	return nil
}

// CompareAndSetClaimedAmount stores next if account's mark equals expected
func (r *RedisPersistence) CompareAndSetClaimedAmount(account common.Address, expected, next *big.Int) (bool, error) {
	if expected == nil {
		return false, fmt.Errorf("expected amount cannot be nil")
	}
	data, err := persistence.EncodeAmount(next)
	if err != nil {
		return false, err
	}

	key := r.prefixKey(persistence.ClaimedAmountKey(account))
	ok, err := r.watchedSet(key, data, func(raw []byte) (bool, error) {
		current := new(big.Int)
		if raw != nil {
			var err error
			if current, err = persistence.DecodeAmount(raw); err != nil {
				return false, err
			}
		}
		return current.Cmp(expected) == 0, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to update claimed amount: %w", err)
	}
	return ok, nil
}

// watchedSet sets key to data if cond accepts its current value (nil when
// absent). The key is WATCHed, so a concurrent write between the read and
// EXEC aborts the transaction and reports not applied.
func (r *RedisPersistence) watchedSet(key string, data []byte, cond func(raw []byte) (bool, error)) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			raw = nil
		} else if err != nil {
			return err
		}

		ok, err := cond(raw)
		if err != nil {
			return err
		}
		if !ok {
			return errNotApplied
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errNotApplied), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, err
	}
}

// IsIndexClaimed reports whether index was claimed under generation
func (r *RedisPersistence) IsIndexClaimed(generation, index uint64) (bool, error) {
	return r.exists(r.prefixKey(persistence.IndexBitKey(generation, index)))
}

// SetIndexClaimed marks index as claimed under generation with SETNX
func (r *RedisPersistence) SetIndexClaimed(generation, index uint64) (bool, error) {
	return r.setBitsOnce([]string{r.prefixKey(persistence.IndexBitKey(generation, index))})
}

// ClearIndexClaimed removes the claimed bit for index under generation
func (r *RedisPersistence) ClearIndexClaimed(generation, index uint64) error {
	return r.clearBits([]string{r.prefixKey(persistence.IndexBitKey(generation, index))})
}

// IsTokenClaimed reports whether tokenID was claimed
func (r *RedisPersistence) IsTokenClaimed(tokenID *big.Int) (bool, error) {
	if tokenID == nil {
		return false, fmt.Errorf("token id cannot be nil")
	}
	return r.exists(r.prefixKey(persistence.TokenBitKey(tokenID)))
}

// SetTokensClaimed marks every id as claimed with one MSETNX, which sets all
// keys or none
func (r *RedisPersistence) SetTokensClaimed(tokenIDs []*big.Int) (bool, error) {
	keys, err := r.tokenKeys(tokenIDs)
	if err != nil {
		return false, err
	}
	return r.setBitsOnce(keys)
}

// ClearTokensClaimed removes the claimed bit of every id with one DEL
func (r *RedisPersistence) ClearTokensClaimed(tokenIDs []*big.Int) error {
	keys, err := r.tokenKeys(tokenIDs)
	if err != nil {
		return err
	}
	return r.clearBits(keys)
}

func (r *RedisPersistence) tokenKeys(tokenIDs []*big.Int) ([]string, error) {
	keys := make([]string, len(tokenIDs))
	for i, id := range tokenIDs {
		if id == nil {
			return nil, fmt.Errorf("token id cannot be nil")
		}
		keys[i] = r.prefixKey(persistence.TokenBitKey(id))
	}
	return keys, nil
}

func (r *RedisPersistence) exists(key string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read claimed bit: %w", err)
	}
	return n == 1, nil
}

func (r *RedisPersistence) setBitsOnce(keys []string) (bool, error) {
	if len(keys) == 0 {
		return true, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		ok  bool
		err error
	)
	if len(keys) == 1 {
		ok, err = r.client.SetNX(ctx, keys[0], 1, 0).Result()
	} else {
		pairs := make([]interface{}, 0, 2*len(keys))
		for _, k := range keys {
			pairs = append(pairs, k, 1)
		}
		ok, err = r.client.MSetNX(ctx, pairs...).Result()
	}
	if err != nil {
		return false, fmt.Errorf("failed to write claimed bits: %w", err)
	}
	return ok, nil
}

func (r *RedisPersistence) clearBits(keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear claimed bits: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil // Already closed, idempotent
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	_, err := r.client.Get(ctx, r.prefixKey(persistence.KeySchemaVersion)).Result()
	if err == redis.Nil {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}
	return nil
}
