package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/distributor"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

/*
Server exposes one distributor over HTTP.

Claim endpoints (only the one matching the served model is live):
  POST /claim/cumulative  { account, cumulativeAmount, root, proof }
  POST /claim/signature   { receiver, index, amount, salt?, root, proof, signature }
  POST /claim/tokens      { account, tokenIds, root, proof }
  Each returns the ClaimEvent on success.

Read endpoints:
  GET  /root                       current root, generation and owner
  GET  /claimed?account=0x..       cumulative high-water mark
  GET  /claimed?index=N[&generation=G]
  GET  /claimed?token=N
  POST /verify  { leaf, root, proof } -> { valid, index }

Administration:
  POST /root  { root, generation, signature }
              rotate; signature is the owner's over (root, generation,
              distributor address) and generation the live one

Errors are returned as { error, kind }:
  400 invalid proof, signature, root or payload
  403 rotation not signed by the owner
  409 stale root or generation, nothing to claim, drop already claimed
  429 claim rate limit exceeded
  502 custody transfer failed
*/

// RootPublisher is the part of a distributor shared by every model.
type RootPublisher interface {
	State() *persistence.RootState
	Root() []byte
	Generation() uint64
	Owner() common.Address
	Model() types.EntitlementModel
	Verify(proof [][]byte, root []byte, leaf []byte) (bool, uint64)
	Address() common.Address
	RotateSigned(ctx context.Context, newRoot []byte, generation uint64, signature []byte) (*types.RootRotatedEvent, error)
}

// Server handles HTTP requests for a distributor
type Server struct {
	publisher  RootPublisher
	cumulative *distributor.CumulativeDistributor
	signature  *distributor.SignatureDistributor
	tokens     *distributor.TokenSetDistributor

	// claimLimiter throttles the claim endpoints; nil means unlimited.
	claimLimiter *rate.Limiter

	logger     *zap.Logger
	httpServer *http.Server
}

// NewServer creates a new server for dist, which must be one of the three
// distributor types.
func NewServer(dist RootPublisher, port int, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		publisher: dist,
		logger:    logger,
	}

	switch d := dist.(type) {
	case *distributor.CumulativeDistributor:
		s.cumulative = d
	case *distributor.SignatureDistributor:
		s.signature = d
	case *distributor.TokenSetDistributor:
		s.tokens = d
	default:
		return nil, fmt.Errorf("unsupported distributor type %T", dist)
	}

	mux := http.NewServeMux()

	// Claim endpoints
	mux.HandleFunc("/claim/cumulative", s.handleClaimCumulative)
	mux.HandleFunc("/claim/signature", s.handleClaimSignature)
	mux.HandleFunc("/claim/tokens", s.handleClaimTokens)

	// Read endpoints
	mux.HandleFunc("/verify", s.handleVerify)
	mux.HandleFunc("/claimed", s.handleClaimed)

	// Root publication
	mux.HandleFunc("/root", s.handleRoot)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	return s, nil
}

// SetClaimRateLimit caps claims at perSecond with the given burst. A
// non-positive perSecond removes the limit.
func (s *Server) SetClaimRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		s.claimLimiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	s.claimLimiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server", "model", s.publisher.Model(), "port", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("HTTP server error", "model", s.publisher.Model(), "error", err)
		}
	}()
	return nil
}

// Stop stops the HTTP server, waiting for in-flight claims until ctx is done
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}
