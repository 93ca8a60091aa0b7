package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/badger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/memory"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence/redis"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// Environment variable names for the distributor server
const (
	EnvDropModel          = "DROP_MODEL"
	EnvDropOwner          = "DROP_OWNER"
	EnvDropRoot           = "DROP_ROOT"
	EnvDropAddress        = "DROP_DISTRIBUTOR_ADDRESS"
	EnvDropPort           = "DROP_PORT"
	EnvDropFunding        = "DROP_FUNDING"
	EnvDropTokenIDs       = "DROP_TOKEN_IDS"
	EnvDropVerbose        = "DROP_VERBOSE"
	EnvDropClaimRate      = "DROP_CLAIM_RATE"
	EnvDropClaimBurst     = "DROP_CLAIM_BURST"
	EnvDropPersistence    = "DROP_PERSISTENCE"
	EnvDropDataPath       = "DROP_DATA_PATH"
	EnvDropNamespace      = "DROP_NAMESPACE"
	EnvDropRedisAddress   = "DROP_REDIS_ADDRESS"
	EnvDropRedisPassword  = "DROP_REDIS_PASSWORD"
	EnvDropRedisDB        = "DROP_REDIS_DB"
	EnvDropRedisKeyPrefix = "DROP_REDIS_KEY_PREFIX"
)

type PersistenceType string

const (
	PersistenceMemory PersistenceType = "memory"
	PersistenceBadger PersistenceType = "badger"
	PersistenceRedis  PersistenceType = "redis"
)

// DefaultPort is used when no port is configured.
const DefaultPort = 8080

// PersistenceConfig selects and configures the ledger store.
type PersistenceConfig struct {
	Type PersistenceType `json:"type" yaml:"type"`

	// badger
	DataPath  string `json:"dataPath,omitempty" yaml:"dataPath,omitempty"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`

	// redis
	RedisAddress   string `json:"redisAddress,omitempty" yaml:"redisAddress,omitempty"`
	RedisPassword  string `json:"redisPassword,omitempty" yaml:"redisPassword,omitempty"`
	RedisDB        int    `json:"redisDB,omitempty" yaml:"redisDB,omitempty"`
	RedisKeyPrefix string `json:"redisKeyPrefix,omitempty" yaml:"redisKeyPrefix,omitempty"`
}

func (pc *PersistenceConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	switch pc.Type {
	case PersistenceMemory:
	case PersistenceBadger:
		if pc.DataPath == "" {
			allErrors = append(allErrors, field.Required(path.Child("dataPath"), "dataPath is required for badger"))
		}
	case PersistenceRedis:
		if pc.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(path.Child("redisAddress"), "redisAddress is required for redis"))
		}
		if pc.RedisDB < 0 || pc.RedisDB > 15 {
			allErrors = append(allErrors, field.Invalid(path.Child("redisDB"), pc.RedisDB, "must be between 0 and 15"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), pc.Type,
			[]string{string(PersistenceMemory), string(PersistenceBadger), string(PersistenceRedis)}))
	}
	return allErrors
}

// Validate checks the persistence configuration on its own.
func (pc *PersistenceConfig) Validate() error {
	if allErrors := pc.validate(field.NewPath("persistence")); len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// NewLedgerPersistence opens the store described by pc.
func (pc *PersistenceConfig) NewLedgerPersistence(logger *zap.Logger) (persistence.ILedgerPersistence, error) {
	if err := pc.Validate(); err != nil {
		return nil, err
	}
	switch pc.Type {
	case PersistenceBadger:
		namespace := pc.Namespace
		if namespace == "" {
			namespace = "drop"
		}
		return badger.NewBadgerPersistence(pc.DataPath, namespace, logger)
	case PersistenceRedis:
		return redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   pc.RedisAddress,
			Password:  pc.RedisPassword,
			DB:        pc.RedisDB,
			KeyPrefix: pc.RedisKeyPrefix,
		}, logger)
	default:
		return memory.NewMemoryPersistence(), nil
	}
}

// DistributorConfig represents the complete configuration for a distributor server
type DistributorConfig struct {
	Model       types.EntitlementModel `json:"model"`
	Owner       string                 `json:"owner"`               // address allowed to rotate the root
	InitialRoot string                 `json:"initial_root"`        // hex root published as generation 1
	Address     string                 `json:"distributor_address"` // bound into signed claims
	Port        int                    `json:"port"`
	Funding     string                 `json:"funding,omitempty"`   // base-10 vault balance for fungible models
	TokenIDs    []string               `json:"token_ids,omitempty"` // ids held by the NFT vault

	// ClaimRate caps claims per second across all callers; 0 disables the limit.
	ClaimRate  float64 `json:"claim_rate,omitempty"`
	ClaimBurst int     `json:"claim_burst,omitempty"`

	Persistence PersistenceConfig `json:"persistence"`

	Debug bool `json:"debug"`
}

// RootWidth returns the root size in bytes for the configured model.
func (c *DistributorConfig) RootWidth() int {
	if c.Model == types.ModelSignature {
		return 16
	}
	return 32
}

// Validate validates the distributor configuration
func (c *DistributorConfig) Validate() error {
	var allErrors field.ErrorList

	switch c.Model {
	case types.ModelCumulative, types.ModelSignature, types.ModelTokenSet:
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("model"), c.Model,
			[]string{string(types.ModelCumulative), string(types.ModelSignature), string(types.ModelTokenSet)}))
	}

	if c.Owner == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("owner"), "owner is required"))
	} else if !common.IsHexAddress(c.Owner) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("owner"), c.Owner, "must be a hex address"))
	}

	if c.Address != "" && !common.IsHexAddress(c.Address) {
		allErrors = append(allErrors, field.Invalid(field.NewPath("distributor_address"), c.Address, "must be a hex address"))
	}
	if c.Model == types.ModelSignature && c.Address == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("distributor_address"), "required for the signature model"))
	}

	if c.InitialRoot != "" {
		root, err := hexutil.Decode(c.InitialRoot)
		if err != nil {
			allErrors = append(allErrors, field.Invalid(field.NewPath("initial_root"), c.InitialRoot, err.Error()))
		} else if len(root) != c.RootWidth() {
			allErrors = append(allErrors, field.Invalid(field.NewPath("initial_root"), c.InitialRoot,
				fmt.Sprintf("must be %d bytes, got %d", c.RootWidth(), len(root))))
		}
	}

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "must be between 1-65535"))
	}

	if c.Funding != "" {
		if _, ok := parseAmount(c.Funding); !ok {
			allErrors = append(allErrors, field.Invalid(field.NewPath("funding"), c.Funding, "must be a non-negative base-10 integer"))
		}
	}
	for i, id := range c.TokenIDs {
		if _, ok := parseAmount(id); !ok {
			allErrors = append(allErrors, field.Invalid(field.NewPath("token_ids").Index(i), id, "must be a non-negative base-10 integer"))
		}
	}

	if c.ClaimRate < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("claim_rate"), c.ClaimRate, "must not be negative"))
	}
	if c.ClaimBurst < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("claim_burst"), c.ClaimBurst, "must not be negative"))
	}

	allErrors = append(allErrors, c.Persistence.validate(field.NewPath("persistence"))...)

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// OwnerAddress returns the parsed owner address.
func (c *DistributorConfig) OwnerAddress() common.Address {
	return common.HexToAddress(c.Owner)
}

// DistributorAddress returns the parsed distributor address.
func (c *DistributorConfig) DistributorAddress() common.Address {
	return common.HexToAddress(c.Address)
}

// InitialRootBytes decodes InitialRoot. An empty root decodes to nil.
func (c *DistributorConfig) InitialRootBytes() ([]byte, error) {
	if c.InitialRoot == "" {
		return nil, nil
	}
	return hexutil.Decode(c.InitialRoot)
}

// ParseTokenIDs splits a comma separated id list as read from the environment.
func ParseTokenIDs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
