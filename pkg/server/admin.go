package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/api"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
	"github.com/petrovska-petro/voting-onchain/pkg/observability"
)

type roleMutation func(ctx context.Context, caller, addr common.Address) error

func (s *Server) mutationFor(role string, grant bool) (roleMutation, bool) {
	switch {
	case role == "proposers" && grant:
		return s.processor.AddProposer, true
	case role == "proposers":
		return s.processor.RemoveProposer, true
	case role == "validators" && grant:
		return s.processor.AddValidator, true
	case role == "validators":
		return s.processor.RemoveValidator, true
	}
	return nil, false
}

func (s *Server) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	s.mutateRole(w, r, true)
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	s.mutateRole(w, r, false)
}

func (s *Server) mutateRole(w http.ResponseWriter, r *http.Request, grant bool) {
	role := r.PathValue("role")
	mutate, ok := s.mutationFor(role, grant)
	if !ok {
		api.WriteNotFound(w, fmt.Sprintf("unknown role set %q", role))
		return
	}
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}

	op := "role.grant"
	if !grant {
		op = "role.revoke"
	}
	ctx, done := s.track(r.Context(), op,
		observability.AttrCaller.String(caller.Hex()),
		observability.AttrWallet.String(addr.Hex()),
	)
	err := mutate(ctx, caller, addr)
	done(err)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, s.processor.Roles())
}

func (s *Server) handleRoles(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, s.processor.Roles())
}

type rolesOfResponse struct {
	Address    common.Address `json:"address"`
	Governance bool           `json:"governance"`
	Proposer   bool           `json:"proposer"`
	Validator  bool           `json:"validator"`
}

func (s *Server) handleRolesOf(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, rolesOfResponse{
		Address:    addr,
		Governance: s.processor.IsGovernance(addr) && s.registry.IsGovernance(addr),
		Proposer:   s.processor.IsProposer(addr),
		Validator:  s.processor.IsValidator(addr),
	})
}

type systemResponse struct {
	Paused             bool           `json:"paused"`
	Governance         common.Address `json:"governance"`
	PendingGovernance  common.Address `json:"pending_governance"`
	Module             common.Address `json:"module"`
	SignMessageLib     common.Address `json:"sign_message_lib"`
	VerificationWindow string         `json:"verification_window"`
	JournalHead        string         `json:"journal_head"`
	JournalEntries     int            `json:"journal_entries"`
	RelayConfigured    bool           `json:"relay_configured"`
	ArchiveConfigured  bool           `json:"archive_configured"`
	Uptime             string         `json:"uptime"`
}

func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, systemResponse{
		Paused:             s.processor.Paused(),
		Governance:         s.registry.Governance(),
		PendingGovernance:  s.registry.PendingGovernance(),
		Module:             s.processor.Module(),
		SignMessageLib:     s.processor.SignMessageLib(),
		VerificationWindow: s.processor.Window().String(),
		JournalHead:        s.journal.Head(),
		JournalEntries:     s.journal.Len(),
		RelayConfigured:    s.relayer != nil,
		ArchiveConfigured:  s.archive != nil,
		Uptime:             time.Since(s.started).Truncate(time.Second).String(),
	})
}

func (s *Server) handleSLO(w http.ResponseWriter, _ *http.Request) {
	if s.obs == nil || s.obs.SLO() == nil {
		api.WriteJSON(w, http.StatusOK, map[string]any{"slo": []observability.SLOStatus{}})
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"slo": s.obs.SLO().Report()})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, "system.pause", s.processor.Pause)
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, "system.unpause", s.processor.Unpause)
}

func (s *Server) setPaused(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, common.Address) error) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	ctx, done := s.track(r.Context(), op, observability.AttrCaller.String(caller.Hex()))
	err := fn(ctx, caller)
	done(err)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]bool{"paused": s.processor.Paused()})
}

type transferGovernanceRequest struct {
	Governance string `json:"governance"`
}

type governanceResponse struct {
	Governance        common.Address `json:"governance"`
	PendingGovernance common.Address `json:"pending_governance"`
}

func (s *Server) governanceState() governanceResponse {
	return governanceResponse{
		Governance:        s.registry.Governance(),
		PendingGovernance: s.registry.PendingGovernance(),
	}
}

// handleTransferGovernance proposes a new governance for the registry and
// the processor together. Both must recognise the caller before either is
// changed.
func (s *Server) handleTransferGovernance(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req transferGovernanceRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	next, err := parseAddress("governance", req.Governance)
	if err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}

	ctx, done := s.track(r.Context(), "governance.transfer", observability.AttrCaller.String(caller.Hex()))
	err = requireGovernance(caller, s.registry.IsGovernance, s.processor.IsGovernance)
	if err == nil {
		err = s.handover(ctx, caller, "governance.transfer",
			func() error { return s.registry.TransferGovernance(ctx, caller, next) },
			func() error { return s.processor.TransferGovernance(ctx, caller, next) })
	}
	done(err)
	if err != nil {
		s.fail(w, r, "governance.transfer", err)
		return
	}
	api.WriteJSON(w, http.StatusAccepted, s.governanceState())
}

func (s *Server) handleAcceptGovernance(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}

	ctx, done := s.track(r.Context(), "governance.accept", observability.AttrCaller.String(caller.Hex()))
	err := requirePending(caller, s.registry.PendingGovernance(), s.processor.PendingGovernance())
	if err == nil {
		err = s.handover(ctx, caller, "governance.accept",
			func() error { return s.registry.AcceptGovernance(ctx, caller) },
			func() error { return s.processor.AcceptGovernance(ctx, caller) })
	}
	done(err)
	if err != nil {
		s.fail(w, r, "governance.accept", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, s.governanceState())
}

// handover applies one governance step to the registry and then the
// processor. A processor failure reverts the registry so both keep the same
// governance.
func (s *Server) handover(ctx context.Context, caller common.Address, op string, onRegistry, onProcessor func() error) error {
	prev := s.registry.GovernanceRoles()
	if err := onRegistry(); err != nil {
		return err
	}
	err := onProcessor()
	if err == nil {
		return nil
	}
	if rerr := s.registry.RevertGovernance(ctx, caller, prev); rerr != nil {
		s.logger.ErrorContext(ctx, "governance revert failed",
			"operation", op, "caller", caller.Hex(), "error", rerr, "cause", err)
		return errors.Join(err, rerr)
	}
	return err
}

func requirePending(caller common.Address, pending ...common.Address) error {
	for _, p := range pending {
		if p == (common.Address{}) {
			return contracts.ErrNoPendingGovernance
		}
		if p != caller {
			return fmt.Errorf("%w: %s is not pending governance", contracts.ErrUnauthorized, caller.Hex())
		}
	}
	return nil
}

type walletResponse struct {
	Address       common.Address `json:"address"`
	ModuleEnabled bool           `json:"module_enabled"`
	Executions    int            `json:"executions"`
}

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	if s.wallets == nil {
		api.WriteJSON(w, http.StatusOK, map[string]any{"wallets": []walletResponse{}})
		return
	}
	addrs := s.wallets.Addresses()
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })

	out := make([]walletResponse, 0, len(addrs))
	for _, a := range addrs {
		if v, ok := s.walletView(r.Context(), a); ok {
			out = append(out, v)
		}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"wallets": out})
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r, "address")
	if !ok {
		return
	}
	if s.wallets == nil {
		api.WriteNotFound(w, "no wallets are configured")
		return
	}
	v, ok := s.walletView(r.Context(), addr)
	if !ok {
		api.WriteNotFound(w, fmt.Sprintf("wallet %s is not known", addr.Hex()))
		return
	}
	api.WriteJSON(w, http.StatusOK, v)
}

func (s *Server) walletView(ctx context.Context, addr common.Address) (walletResponse, bool) {
	safe, ok := s.wallets.Safe(addr)
	if !ok {
		return walletResponse{}, false
	}
	enabled, _ := safe.IsModuleEnabled(ctx, s.processor.Module())
	return walletResponse{
		Address:       addr,
		ModuleEnabled: enabled,
		Executions:    len(safe.Executions()),
	}, true
}
