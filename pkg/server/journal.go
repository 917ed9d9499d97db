package server

import (
	"net/http"
	"strconv"

	"github.com/petrovska-petro/voting-onchain/pkg/api"
	"github.com/petrovska-petro/voting-onchain/pkg/ledger"
	"github.com/petrovska-petro/voting-onchain/pkg/observability"
)

const defaultJournalPage = 100

// handleJournal pages through journal entries. ?after=<seq> skips entries up
// to and including seq; ?limit caps the page.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	after, err := queryUint(r, "after", 0)
	if err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	limit, err := queryUint(r, "limit", defaultJournalPage)
	if err != nil || limit == 0 {
		api.WriteBadRequest(w, "limit must be a positive integer")
		return
	}

	entries := s.journal.Entries()
	page := make([]ledger.Entry, 0)
	for _, e := range entries {
		if e.Sequence <= after {
			continue
		}
		if uint64(len(page)) == limit {
			break
		}
		page = append(page, e)
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"head":    s.journal.Head(),
		"total":   len(entries),
		"entries": page,
	})
}

func queryUint(r *http.Request, name string, def uint64) (uint64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, err
	}
	return n, nil
}

type journalVerifyResponse struct {
	Valid   bool   `json:"valid"`
	Head    string `json:"head"`
	Entries int    `json:"entries"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleVerifyJournal(w http.ResponseWriter, _ *http.Request) {
	resp := journalVerifyResponse{Valid: true, Head: s.journal.Head(), Entries: s.journal.Len()}
	if err := s.journal.Verify(); err != nil {
		resp.Valid = false
		resp.Error = err.Error()
		s.logger.Error("journal chain verification failed", "error", err)
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// handleExportJournal archives a verified journal snapshot. Governance only.
func (s *Server) handleExportJournal(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		api.WriteServiceUnavailable(w, "archive is not configured")
		return
	}
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	ctx, done := s.track(r.Context(), "journal.export", observability.AttrCaller.String(caller.Hex()))
	err := requireGovernance(caller, s.registry.IsGovernance)
	if err != nil {
		done(err)
		s.fail(w, r, "journal.export", err)
		return
	}
	receipt, err := s.exporter.Export(ctx, s.journal)
	done(err)
	if err != nil {
		s.fail(w, r, "journal.export", err)
		return
	}
	s.logger.Info("journal exported", "key", receipt.Key, "head", receipt.Head, "entries", receipt.Entries)
	api.WriteJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		api.WriteServiceUnavailable(w, "archive is not configured")
		return
	}
	data, err := s.archive.Get(r.Context(), r.PathValue("key"))
	if err != nil {
		s.fail(w, r, "journal.archive", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
