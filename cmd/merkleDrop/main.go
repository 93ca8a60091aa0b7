package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/config"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/custody"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/distributor"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/drop"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/logger"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/server"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

func main() {
	app := &cli.App{
		Name:  "merkle-drop",
		Usage: "Merkle airdrop generator and claim server",
		Description: `Builds Merkle drops from entitlement tables and serves claims against them.

Supported entitlement models:
- cumulative: lifetime totals per account, each claim pays the unpaid delta
- signature:  one-time indexed amounts released by an EIP-191 signature
- tokenset:   all-or-nothing NFT sets per account`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvDropVerbose},
			},
		},
		Commands: []*cli.Command{
			generateCommand(),
			verifyCommand(),
			signCommand(),
			signRotationCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l, nil
}

func generateCommand() *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Build a drop (root and per-account proofs) from an entitlement table",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "Entitlement table JSON", Required: true},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Drop JSON output path (stdout if empty)"},
		},
		Action: func(c *cli.Context) error {
			l, err := newLogger(c)
			if err != nil {
				return err
			}
			defer func() { _ = l.Sync() }()

			in, err := os.Open(c.String("input"))
			if err != nil {
				return fmt.Errorf("failed to open table: %w", err)
			}
			defer in.Close()

			table, err := drop.LoadTable(in)
			if err != nil {
				return err
			}

			start := time.Now()
			d, err := drop.Build(c.Context, table)
			if err != nil {
				return fmt.Errorf("failed to build drop: %w", err)
			}
			l.Sugar().Infow("Drop built",
				"id", d.ID,
				"model", d.Model,
				"root", d.Root.String(),
				"depth", d.Depth,
				"leaves", len(d.Artifacts),
				"duration", time.Since(start))

			out := os.Stdout
			if path := c.String("output"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create output: %w", err)
				}
				defer f.Close()
				out = f
			}
			return d.WriteJSON(out)
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Check every artifact in a drop file against its root",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "drop", Aliases: []string{"d"}, Usage: "Drop JSON", Required: true},
			&cli.StringFlag{Name: "root", Usage: "Expected root (hex); defaults to the root in the file"},
			&cli.StringFlag{Name: "account", Usage: "Only verify artifacts for this account"},
		},
		Action: func(c *cli.Context) error {
			l, err := newLogger(c)
			if err != nil {
				return err
			}
			defer func() { _ = l.Sync() }()

			f, err := os.Open(c.String("drop"))
			if err != nil {
				return fmt.Errorf("failed to open drop: %w", err)
			}
			defer f.Close()

			d, err := drop.ReadDrop(f)
			if err != nil {
				return err
			}

			root := []byte(d.Root)
			if r := c.String("root"); r != "" {
				if root, err = hexutil.Decode(r); err != nil {
					return fmt.Errorf("invalid root: %w", err)
				}
			}

			artifacts := d.Artifacts
			if a := c.String("account"); a != "" {
				if !common.IsHexAddress(a) {
					return fmt.Errorf("invalid account: %s", a)
				}
				artifacts = d.ArtifactsFor(common.HexToAddress(a))
				if len(artifacts) == 0 {
					return fmt.Errorf("no artifact for account %s", a)
				}
			}

			failed := 0
			for _, a := range artifacts {
				ok, err := drop.VerifyArtifact(a, root)
				if err != nil {
					l.Sugar().Warnw("Artifact is malformed", "account", a.Account.Hex(), "error", err)
					failed++
					continue
				}
				if !ok {
					l.Sugar().Warnw("Artifact failed verification", "account", a.Account.Hex())
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d artifacts failed verification", failed, len(artifacts))
			}
			l.Sugar().Infow("All artifacts verified", "count", len(artifacts), "root", hexutil.Encode(root))
			return nil
		},
	}
}

func signCommand() *cli.Command {
	return &cli.Command{
		Name:  "sign-claim",
		Usage: "Sign a signature-model claim releasing a drop to a receiver",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "private-key", Usage: "secp256k1 private key (hex) of the leaf account", Required: true},
			&cli.StringFlag{Name: "receiver", Usage: "Address that receives the payout", Required: true},
			&cli.StringFlag{Name: "amount", Usage: "Base-10 amount of the leaf", Required: true},
			&cli.StringFlag{Name: "distributor-address", Usage: "Distributor identity bound into the message", Required: true, EnvVars: []string{config.EnvDropAddress}},
		},
		Action: func(c *cli.Context) error {
			key, err := crypto.HexToECDSA(trimHexPrefix(c.String("private-key")))
			if err != nil {
				return fmt.Errorf("invalid private key: %w", err)
			}
			if !common.IsHexAddress(c.String("receiver")) {
				return fmt.Errorf("invalid receiver: %s", c.String("receiver"))
			}
			if !common.IsHexAddress(c.String("distributor-address")) {
				return fmt.Errorf("invalid distributor address: %s", c.String("distributor-address"))
			}
			amount, ok := new(big.Int).SetString(c.String("amount"), 10)
			if !ok {
				return fmt.Errorf("invalid amount: %s", c.String("amount"))
			}

			sig, err := distributor.SignClaim(key, common.HexToAddress(c.String("receiver")), amount,
				common.HexToAddress(c.String("distributor-address")))
			if err != nil {
				return err
			}
			fmt.Println(hexutil.Encode(sig))
			return nil
		},
	}
}

func signRotationCommand() *cli.Command {
	return &cli.Command{
		Name:  "sign-rotation",
		Usage: "Sign a root rotation as the distributor owner, for POST /root",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "private-key", Usage: "secp256k1 private key (hex) of the owner", Required: true},
			&cli.StringFlag{Name: "root", Usage: "Hex root to publish", Required: true},
			&cli.Uint64Flag{Name: "generation", Usage: "Live generation the new root replaces (see GET /root)", Required: true},
			&cli.StringFlag{Name: "distributor-address", Usage: "Distributor identity bound into the message", EnvVars: []string{config.EnvDropAddress}},
		},
		Action: func(c *cli.Context) error {
			key, err := crypto.HexToECDSA(trimHexPrefix(c.String("private-key")))
			if err != nil {
				return fmt.Errorf("invalid private key: %w", err)
			}
			root, err := hexutil.Decode(c.String("root"))
			if err != nil {
				return fmt.Errorf("invalid root: %w", err)
			}
			address := common.Address{}
			if a := c.String("distributor-address"); a != "" {
				if !common.IsHexAddress(a) {
					return fmt.Errorf("invalid distributor address: %s", a)
				}
				address = common.HexToAddress(a)
			}

			sig, err := distributor.SignRotation(key, root, c.Uint64("generation"), address)
			if err != nil {
				return err
			}
			fmt.Println(hexutil.Encode(sig))
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the claim server for one distributor",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "model",
				Usage:    "Entitlement model: cumulative, signature or tokenset",
				EnvVars:  []string{config.EnvDropModel},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "owner",
				Usage:    "Address allowed to rotate the root",
				EnvVars:  []string{config.EnvDropOwner},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "root",
				Usage:   "Initial root (hex); required unless the ledger already holds state",
				EnvVars: []string{config.EnvDropRoot},
			},
			&cli.StringFlag{
				Name:    "distributor-address",
				Usage:   "Distributor identity bound into signed claims",
				EnvVars: []string{config.EnvDropAddress},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   config.DefaultPort,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvDropPort},
			},
			&cli.StringFlag{
				Name:    "funding",
				Usage:   "Base-10 balance of the in-memory vault",
				EnvVars: []string{config.EnvDropFunding},
			},
			&cli.StringFlag{
				Name:    "token-ids",
				Usage:   "Comma separated token ids held by the in-memory NFT vault",
				EnvVars: []string{config.EnvDropTokenIDs},
			},
			&cli.Float64Flag{
				Name:    "claim-rate",
				Usage:   "Maximum claims per second across all callers (0 = unlimited)",
				EnvVars: []string{config.EnvDropClaimRate},
			},
			&cli.IntFlag{
				Name:    "claim-burst",
				Value:   10,
				Usage:   "Claim rate limiter burst",
				EnvVars: []string{config.EnvDropClaimBurst},
			},
			&cli.StringFlag{
				Name:    "persistence",
				Value:   string(config.PersistenceMemory),
				Usage:   "Ledger store: memory, badger or redis",
				EnvVars: []string{config.EnvDropPersistence},
			},
			&cli.StringFlag{
				Name:    "data-path",
				Usage:   "Badger data directory",
				EnvVars: []string{config.EnvDropDataPath},
			},
			&cli.StringFlag{
				Name:    "namespace",
				Usage:   "Badger key namespace",
				EnvVars: []string{config.EnvDropNamespace},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis host:port",
				EnvVars: []string{config.EnvDropRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				EnvVars: []string{config.EnvDropRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				EnvVars: []string{config.EnvDropRedisDB},
			},
			&cli.StringFlag{
				Name:    "redis-key-prefix",
				EnvVars: []string{config.EnvDropRedisKeyPrefix},
			},
		},
		Action: runServer,
	}
}

func parseDistributorConfig(c *cli.Context) *config.DistributorConfig {
	return &config.DistributorConfig{
		Model:       types.EntitlementModel(c.String("model")),
		Owner:       c.String("owner"),
		InitialRoot: c.String("root"),
		Address:     c.String("distributor-address"),
		Port:        c.Int("port"),
		Funding:     c.String("funding"),
		TokenIDs:    config.ParseTokenIDs(c.String("token-ids")),
		ClaimRate:   c.Float64("claim-rate"),
		ClaimBurst:  c.Int("claim-burst"),
		Persistence: config.PersistenceConfig{
			Type:           config.PersistenceType(c.String("persistence")),
			DataPath:       c.String("data-path"),
			Namespace:      c.String("namespace"),
			RedisAddress:   c.String("redis-address"),
			RedisPassword:  c.String("redis-password"),
			RedisDB:        c.Int("redis-db"),
			RedisKeyPrefix: c.String("redis-key-prefix"),
		},
		Debug: c.Bool("verbose"),
	}
}

func runServer(c *cli.Context) error {
	l, err := newLogger(c)
	if err != nil {
		return err
	}
	defer func() { _ = l.Sync() }()

	cfg := parseDistributorConfig(c)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := cfg.Persistence.NewLedgerPersistence(l)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Sugar().Errorw("Failed to close ledger", "error", err)
		}
	}()

	root, err := cfg.InitialRootBytes()
	if err != nil {
		return fmt.Errorf("invalid root: %w", err)
	}

	dist, err := newDistributor(cfg, root, store, l)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(dist, cfg.Port, l)
	if err != nil {
		return err
	}
	srv.SetClaimRateLimit(cfg.ClaimRate, cfg.ClaimBurst)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	l.Sugar().Infow("Distributor running",
		"model", cfg.Model,
		"root", hexutil.Encode(dist.Root()),
		"generation", dist.Generation(),
		"port", cfg.Port,
		"persistence", cfg.Persistence.Type)
	l.Sugar().Info("Press Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	l.Sugar().Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func newDistributor(cfg *config.DistributorConfig, root []byte, store persistence.ILedgerPersistence, l *zap.Logger) (server.RootPublisher, error) {
	dcfg := &distributor.Config{
		Owner:       cfg.OwnerAddress(),
		InitialRoot: root,
		Address:     cfg.DistributorAddress(),
	}
	sink := distributor.NewLoggingSink(l)

	switch cfg.Model {
	case types.ModelCumulative:
		return distributor.NewCumulativeDistributor(dcfg, store, custody.NewMemoryVault(cfg.FundingAmount()), sink, l)
	case types.ModelSignature:
		return distributor.NewSignatureDistributor(dcfg, store, custody.NewMemoryVault(cfg.FundingAmount()), sink, l)
	case types.ModelTokenSet:
		return distributor.NewTokenSetDistributor(dcfg, store, custody.NewMemoryNFTVault(cfg.TokenIDValues()), sink, l)
	default:
		return nil, fmt.Errorf("unsupported model: %s", cfg.Model)
	}
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
