package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/distributor"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/leaf"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

const maxBodyBytes = 1 << 20

// handleClaimCumulative handles POST /claim/cumulative
func (s *Server) handleClaimCumulative(w http.ResponseWriter, r *http.Request) {
	if !s.requireModel(w, r, types.ModelCumulative) {
		return
	}

	var req types.CumulativeClaimRequestV1
	if !s.decode(w, r, &req) {
		return
	}
	if req.CumulativeAmount == nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "cumulativeAmount is required")
		return
	}

	ev, err := s.cumulative.Claim(r.Context(), &distributor.ClaimCumulativeRequest{
		Account:          req.Account,
		CumulativeAmount: req.CumulativeAmount,
		Root:             req.Root,
		Proof:            types.FromHexProof(req.Proof),
	})
	if err != nil {
		s.writeClaimError(w, err, "account", req.Account.Hex())
		return
	}
	s.writeJSON(w, http.StatusOK, ev)
}

// handleClaimSignature handles POST /claim/signature
func (s *Server) handleClaimSignature(w http.ResponseWriter, r *http.Request) {
	if !s.requireModel(w, r, types.ModelSignature) {
		return
	}

	var req types.SignatureClaimRequestV1
	if !s.decode(w, r, &req) {
		return
	}
	if req.Amount == nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "amount is required")
		return
	}
	if len(req.Signature) == 0 {
		s.writeError(w, http.StatusBadRequest, "bad_request", "signature is required")
		return
	}

	ev, err := s.signature.Claim(r.Context(), &distributor.ClaimSignatureRequest{
		Receiver:  req.Receiver,
		Index:     req.Index,
		Amount:    req.Amount,
		Salt:      req.Salt,
		Root:      req.Root,
		Proof:     types.FromHexProof(req.Proof),
		Signature: req.Signature,
	})
	if err != nil {
		s.writeClaimError(w, err, "receiver", req.Receiver.Hex())
		return
	}
	s.writeJSON(w, http.StatusOK, ev)
}

// handleClaimTokens handles POST /claim/tokens
func (s *Server) handleClaimTokens(w http.ResponseWriter, r *http.Request) {
	if !s.requireModel(w, r, types.ModelTokenSet) {
		return
	}

	var req types.TokenSetClaimRequestV1
	if !s.decode(w, r, &req) {
		return
	}

	ev, err := s.tokens.Claim(r.Context(), &distributor.ClaimTokenSetRequest{
		Account:  req.Account,
		TokenIDs: req.TokenIDs,
		Root:     req.Root,
		Proof:    types.FromHexProof(req.Proof),
	})
	if err != nil {
		s.writeClaimError(w, err, "account", req.Account.Hex())
		return
	}
	s.writeJSON(w, http.StatusOK, ev)
}

// handleVerify handles POST /verify
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.VerifyRequestV1
	if !s.decode(w, r, &req) {
		return
	}

	valid, index := s.publisher.Verify(types.FromHexProof(req.Proof), req.Root, req.Leaf)
	s.writeJSON(w, http.StatusOK, &types.VerifyResponseV1{Valid: valid, Index: index})
}

// handleRoot handles GET /root and POST /root
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		state := s.publisher.State()
		s.writeJSON(w, http.StatusOK, &types.RootResponseV1{
			Model:      state.Model,
			Root:       state.Root,
			Generation: state.Generation,
			Owner:      state.Owner,
			Address:    s.publisher.Address(),
		})
	case http.MethodPost:
		var req types.RotateRequestV1
		if !s.decode(w, r, &req) {
			return
		}
		ev, err := s.publisher.RotateSigned(r.Context(), req.Root, req.Generation, req.Signature)
		if err != nil {
			s.writeClaimError(w, err, "generation", req.Generation)
			return
		}
		s.writeJSON(w, http.StatusOK, ev)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleClaimed handles GET /claimed with exactly one of account, index or token
func (s *Server) handleClaimed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()

	switch {
	case q.Has("account"):
		if s.cumulative == nil {
			s.writeModelNotServed(w, types.ModelCumulative)
			return
		}
		if !common.IsHexAddress(q.Get("account")) {
			s.writeError(w, http.StatusBadRequest, "bad_request", "account must be a hex address")
			return
		}
		amount, err := s.cumulative.ClaimedAmount(common.HexToAddress(q.Get("account")))
		if err != nil {
			s.writeClaimError(w, err, "account", q.Get("account"))
			return
		}
		s.writeJSON(w, http.StatusOK, &types.ClaimedResponseV1{Claimed: amount.Sign() > 0, Amount: amount})

	case q.Has("index"):
		if s.signature == nil {
			s.writeModelNotServed(w, types.ModelSignature)
			return
		}
		index, err := strconv.ParseUint(q.Get("index"), 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "bad_request", "index must be an unsigned integer")
			return
		}
		generation := s.signature.Generation()
		if q.Has("generation") {
			if generation, err = strconv.ParseUint(q.Get("generation"), 10, 64); err != nil {
				s.writeError(w, http.StatusBadRequest, "bad_request", "generation must be an unsigned integer")
				return
			}
		}
		claimed, err := s.signature.IsClaimedAt(generation, index)
		if err != nil {
			s.writeClaimError(w, err, "index", index)
			return
		}
		s.writeJSON(w, http.StatusOK, &types.ClaimedResponseV1{Claimed: claimed})

	case q.Has("token"):
		if s.tokens == nil {
			s.writeModelNotServed(w, types.ModelTokenSet)
			return
		}
		id, ok := new(big.Int).SetString(q.Get("token"), 10)
		if !ok || id.Sign() < 0 {
			s.writeError(w, http.StatusBadRequest, "bad_request", "token must be a non-negative integer")
			return
		}
		claimed, err := s.tokens.IsTokenClaimed(id)
		if err != nil {
			s.writeClaimError(w, err, "token", id.String())
			return
		}
		s.writeJSON(w, http.StatusOK, &types.ClaimedResponseV1{Claimed: claimed})

	default:
		s.writeError(w, http.StatusBadRequest, "bad_request", "one of account, index or token is required")
	}
}

func (s *Server) requireModel(w http.ResponseWriter, r *http.Request, model types.EntitlementModel) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if s.publisher.Model() != model {
		s.writeModelNotServed(w, model)
		return false
	}
	if s.claimLimiter != nil && !s.claimLimiter.Allow() {
		s.writeError(w, http.StatusTooManyRequests, "rate_limited", "claim rate limit exceeded")
		return false
	}
	return true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("Failed to parse request: %v", err))
		return false
	}
	return true
}

func (s *Server) writeModelNotServed(w http.ResponseWriter, model types.EntitlementModel) {
	s.writeError(w, http.StatusNotFound, "model_not_served",
		fmt.Sprintf("this distributor serves %s drops, not %s", s.publisher.Model(), model))
}

// claimErrorStatus maps distributor and encoding errors onto HTTP statuses.
func claimErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, distributor.ErrMerkleRootWasUpdated):
		return http.StatusConflict, "merkle_root_was_updated"
	case errors.Is(err, distributor.ErrNothingToClaim):
		return http.StatusConflict, "nothing_to_claim"
	case errors.Is(err, distributor.ErrDropAlreadyClaimed):
		return http.StatusConflict, "drop_already_claimed"
	case errors.Is(err, distributor.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, distributor.ErrInvalidProof):
		return http.StatusBadRequest, "invalid_proof"
	case errors.Is(err, distributor.ErrInvalidSignature):
		return http.StatusBadRequest, "invalid_signature"
	case errors.Is(err, distributor.ErrInvalidRoot):
		return http.StatusBadRequest, "invalid_root"
	case errors.Is(err, leaf.ErrAmountOverflow),
		errors.Is(err, leaf.ErrEmptyTokenSet),
		errors.Is(err, leaf.ErrDuplicateTokenID),
		errors.Is(err, merkle.ErrMalformedProof):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, distributor.ErrTransferFailed):
		return http.StatusBadGateway, "transfer_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeClaimError(w http.ResponseWriter, err error, subjectKey string, subject interface{}) {
	status, kind := claimErrorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Sugar().Errorw("Request failed", subjectKey, subject, "kind", kind, "error", err)
	} else {
		s.logger.Sugar().Debugw("Request rejected", subjectKey, subject, "kind", kind, "error", err)
	}
	s.writeError(w, status, kind, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind, msg string) {
	s.writeJSON(w, status, &types.ErrorResponseV1{Error: msg, Kind: kind})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Sugar().Errorw("Failed to encode response", "error", err)
	}
}
