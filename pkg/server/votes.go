package server

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/petrovska-petro/voting-onchain/pkg/api"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
	"github.com/petrovska-petro/voting-onchain/pkg/observability"
	"github.com/petrovska-petro/voting-onchain/pkg/processor"
	"github.com/petrovska-petro/voting-onchain/pkg/relay"
)

type setVoteRequest struct {
	Proposal    string           `json:"proposal"`
	Choice      contracts.Choice `json:"choice"`
	Timestamp   int64            `json:"timestamp"`
	Version     string           `json:"version"`
	Space       string           `json:"space"`
	Type        string           `json:"type"`
	MessageHash string           `json:"message_hash,omitempty"`
}

type voteResponse struct {
	*contracts.VoteSubmission
	Status contracts.VoteStatus `json:"status"`
}

type walletRequest struct {
	Wallet string `json:"wallet"`
}

func (s *Server) handleSetVote(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req setVoteRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		if errors.Is(err, contracts.ErrInvalidChoice) {
			s.fail(w, r, "vote.set", err)
			return
		}
		api.WriteBadRequest(w, err.Error())
		return
	}

	var hash common.Hash
	if req.MessageHash != "" {
		b, err := hexutil.Decode(req.MessageHash)
		if err != nil || len(b) != common.HashLength {
			api.WriteBadRequest(w, "message_hash must be a 0x-prefixed 32-byte hex string")
			return
		}
		hash = common.BytesToHash(b)
	}

	ctx, done := s.track(r.Context(), "vote.set", observability.VoteOperation(caller, req.Proposal)...)
	sub, err := s.processor.SetProposalVote(ctx, caller, processor.SubmitVote{
		Choice:      req.Choice,
		Timestamp:   req.Timestamp,
		Version:     req.Version,
		Proposal:    req.Proposal,
		Space:       req.Space,
		Type:        req.Type,
		MessageHash: hash,
	})
	done(err)
	if err != nil {
		s.fail(w, r, "vote.set", err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, voteResponse{VoteSubmission: sub, Status: sub.Status()})
}

func (s *Server) handleGetVote(w http.ResponseWriter, r *http.Request) {
	sub, err := s.processor.Submission(r.Context(), r.PathValue("identifier"))
	if err != nil {
		s.fail(w, r, "vote.get", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, voteResponse{VoteSubmission: sub, Status: sub.Status()})
}

func (s *Server) handleVoteHash(w http.ResponseWriter, r *http.Request) {
	identifier := r.PathValue("identifier")
	h, err := s.processor.Hash(r.Context(), identifier)
	if err != nil {
		s.fail(w, r, "vote.hash", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"identifier": identifier, "message_hash": h.Hex()})
}

func (s *Server) handleVoteChoices(w http.ResponseWriter, r *http.Request) {
	identifier := r.PathValue("identifier")
	c, err := s.processor.Choices(r.Context(), identifier)
	if err != nil {
		s.fail(w, r, "vote.choices", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"identifier": identifier,
		"kind":       c.Kind().String(),
		"choice":     c,
	})
}

// handleVoteMessage serves the canonical payload bytes unmodified so clients
// can hash them themselves.
func (s *Server) handleVoteMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.processor.Message(r.Context(), r.PathValue("identifier"))
	if err != nil {
		s.fail(w, r, "vote.message", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(msg)
}

func (s *Server) handleVerifyVote(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	identifier := r.PathValue("identifier")

	ctx, done := s.track(r.Context(), "vote.verify", observability.VoteOperation(caller, identifier)...)
	err := s.processor.VerifyVote(ctx, caller, identifier)
	done(err)
	if err != nil {
		s.fail(w, r, "vote.verify", err)
		return
	}
	sub, err := s.processor.Submission(r.Context(), identifier)
	if err != nil {
		s.fail(w, r, "vote.verify", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, voteResponse{VoteSubmission: sub, Status: sub.Status()})
}

func (s *Server) decodeWallet(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	var req walletRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteBadRequest(w, err.Error())
		return common.Address{}, false
	}
	addr, err := parseAddress("wallet", req.Wallet)
	if err != nil {
		api.WriteBadRequest(w, err.Error())
		return common.Address{}, false
	}
	return addr, true
}

func (s *Server) handleSignVote(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	walletAddr, ok := s.decodeWallet(w, r)
	if !ok {
		return
	}
	identifier := r.PathValue("identifier")

	ctx, done := s.track(r.Context(), "vote.sign", observability.SignOperation(caller, walletAddr, identifier)...)
	receipt, err := s.processor.Sign(ctx, caller, walletAddr, identifier)
	done(err)
	if err != nil {
		s.fail(w, r, "vote.sign", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleRelayVote(w http.ResponseWriter, r *http.Request) {
	if s.relayer == nil {
		api.WriteServiceUnavailable(w, "relay is not configured")
		return
	}
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	walletAddr, ok := s.decodeWallet(w, r)
	if !ok {
		return
	}
	identifier := r.PathValue("identifier")

	ctx, done := s.track(r.Context(), "vote.relay", observability.SignOperation(caller, walletAddr, identifier)...)
	result, err := s.relayer.Relay(ctx, caller, walletAddr, identifier)
	done(err)
	if err != nil {
		if errors.Is(err, relay.ErrIdentifierMismatch) && result != nil {
			// The wallet already signed; report what the relay returned.
			s.logger.Error("relay identifier mismatch",
				"identifier", identifier,
				"relay_id", result.RelayID,
				"wallet", walletAddr.Hex(),
			)
		}
		var relayErr *relay.Error
		if errors.As(err, &relayErr) {
			api.WriteErrorR(w, r, http.StatusBadGateway, "Bad Gateway", relayErr.Error())
			return
		}
		s.fail(w, r, "vote.relay", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}
