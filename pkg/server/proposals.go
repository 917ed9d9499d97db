package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/petrovska-petro/voting-onchain/pkg/api"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
	"github.com/petrovska-petro/voting-onchain/pkg/observability"
)

type initiateProposalRequest struct {
	// Identifier is hashed into the proposal id. ID takes a precomputed id.
	Identifier string          `json:"identifier,omitempty"`
	ID         string          `json:"id,omitempty"`
	Deadline   int64           `json:"deadline"`
	Choices    uint32          `json:"choices"`
	Kind       json.RawMessage `json:"kind"`
}

type proposalResponse struct {
	*contracts.Proposal
	Kind string `json:"kind"`
}

func newProposalResponse(p *contracts.Proposal) proposalResponse {
	return proposalResponse{Proposal: p, Kind: p.Kind.String()}
}

// parseKind accepts the voting type as a name or a numeric code, quoted or not.
func parseKind(raw json.RawMessage) (contracts.VotingType, error) {
	if len(raw) == 0 {
		return contracts.VotingSingleChoice, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	return contracts.ParseVotingType(s)
}

func (s *Server) handleInitiateProposal(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req initiateProposalRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}

	var id common.Hash
	switch {
	case req.Identifier != "" && req.ID != "":
		api.WriteBadRequest(w, "identifier and id are mutually exclusive")
		return
	case req.Identifier != "":
		id = contracts.ProposalID(req.Identifier)
	case req.ID != "":
		b, err := hexutil.Decode(req.ID)
		if err != nil || len(b) != common.HashLength {
			api.WriteBadRequest(w, "id must be a 0x-prefixed 32-byte hex string")
			return
		}
		id = common.BytesToHash(b)
	default:
		api.WriteBadRequest(w, "identifier or id is required")
		return
	}

	kind, err := parseKind(req.Kind)
	if err != nil {
		s.fail(w, r, "proposal.initiate", err)
		return
	}

	ctx, done := s.track(r.Context(), "proposal.initiate",
		observability.AttrCaller.String(caller.Hex()),
		observability.AttrProposalID.String(id.Hex()),
		observability.AttrVoteKind.String(kind.String()),
	)
	p, err := s.registry.InitiateProposal(ctx, caller, id, req.Deadline, req.Choices, kind)
	done(err)
	if err != nil {
		s.fail(w, r, "proposal.initiate", err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, newProposalResponse(p))
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	list, err := s.registry.Proposals(r.Context())
	if err != nil {
		s.fail(w, r, "proposal.list", err)
		return
	}
	out := make([]proposalResponse, 0, len(list))
	for i := range list {
		out = append(out, newProposalResponse(&list[i]))
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"proposals": out, "total": len(out)})
}

// handleGetProposal treats a 0x-prefixed 32-byte hex value as a proposal id
// and anything else as an external identifier.
func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("id")

	var (
		p   *contracts.Proposal
		err error
	)
	if isHashRef(ref) {
		p, err = s.registry.Proposal(r.Context(), common.HexToHash(ref))
	} else {
		p, err = s.registry.ProposalByIdentifier(r.Context(), ref)
	}
	if err != nil {
		s.fail(w, r, "proposal.get", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, newProposalResponse(p))
}

func isHashRef(ref string) bool {
	if len(ref) != 2+2*common.HashLength || !strings.HasPrefix(ref, "0x") {
		return false
	}
	_, err := hexutil.Decode(ref)
	return err == nil
}
