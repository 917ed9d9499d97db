package api

import (
	"errors"
	"net/http"

	"github.com/petrovska-petro/voting-onchain/pkg/archive"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
	"github.com/petrovska-petro/voting-onchain/pkg/relay"
	"github.com/petrovska-petro/voting-onchain/pkg/snapshot"
	"github.com/petrovska-petro/voting-onchain/pkg/wallet"
)

// Problem is the HTTP rendering of one rejection kind.
type Problem struct {
	Status int
	Title  string
	Code   string
}

// kinds is checked in order; the first match wins.
var kinds = []struct {
	err     error
	problem Problem
}{
	{contracts.ErrUnauthorized, Problem{http.StatusForbidden, "Forbidden", "unauthorized"}},
	{contracts.ErrPaused, Problem{http.StatusLocked, "Paused", "paused"}},
	{contracts.ErrDuplicateProposal, Problem{http.StatusConflict, "Conflict", "duplicate_proposal"}},
	{contracts.ErrHashMismatch, Problem{http.StatusConflict, "Conflict", "hash_mismatch"}},
	{contracts.ErrInVerificationWindow, Problem{http.StatusConflict, "Conflict", "in_verification_window"}},
	{contracts.ErrProposalClosed, Problem{http.StatusConflict, "Conflict", "proposal_closed"}},
	{contracts.ErrNotApproved, Problem{http.StatusConflict, "Conflict", "not_approved"}},
	{contracts.ErrNoPendingGovernance, Problem{http.StatusConflict, "Conflict", "no_pending_governance"}},
	{relay.ErrIdentifierMismatch, Problem{http.StatusBadGateway, "Bad Gateway", "relay_identifier_mismatch"}},
	{relay.ErrCommitmentMismatch, Problem{http.StatusConflict, "Conflict", "commitment_mismatch"}},
	{contracts.ErrProposalNotFound, Problem{http.StatusNotFound, "Not Found", "proposal_not_found"}},
	{contracts.ErrNoSubmission, Problem{http.StatusNotFound, "Not Found", "no_submission"}},
	{wallet.ErrUnknownWallet, Problem{http.StatusNotFound, "Not Found", "unknown_wallet"}},
	{archive.ErrNotFound, Problem{http.StatusNotFound, "Not Found", "archive_object_not_found"}},
	{archive.ErrInvalidKey, Problem{http.StatusBadRequest, "Bad Request", "invalid_archive_key"}},
	{contracts.ErrInvalidChoice, Problem{http.StatusUnprocessableEntity, "Unprocessable Entity", "invalid_choice"}},
	{contracts.ErrInvalidProposal, Problem{http.StatusUnprocessableEntity, "Unprocessable Entity", "invalid_proposal"}},
	{contracts.ErrPolicyDenied, Problem{http.StatusUnprocessableEntity, "Unprocessable Entity", "policy_denied"}},
	{snapshot.ErrInvalidMessage, Problem{http.StatusUnprocessableEntity, "Unprocessable Entity", "invalid_message"}},
	{wallet.ErrModuleNotEnabled, Problem{http.StatusUnprocessableEntity, "Unprocessable Entity", "module_not_enabled"}},
	{wallet.ErrExecutionFailed, Problem{http.StatusUnprocessableEntity, "Unprocessable Entity", "execution_failed"}},
}

// Classify maps err to its problem rendering. Unknown errors classify as 500.
func Classify(err error) (Problem, bool) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.problem, true
		}
	}
	return Problem{http.StatusInternalServerError, "Internal Server Error", ""}, false
}

// WriteDomainError renders a rejection from the core as a problem response.
// Unknown errors are logged and answered with a 500 that carries no detail.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	p, known := Classify(err)
	if !known {
		WriteInternal(w, err)
		return
	}
	writeProblem(w, &ProblemDetail{
		Title:    p.Title,
		Status:   p.Status,
		Code:     p.Code,
		Detail:   err.Error(),
		Instance: r.URL.Path,
	})
}
