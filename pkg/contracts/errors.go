package contracts

import "errors"

// Rejection kinds shared by the registry, processor and stores. Every one of
// them is a synchronous rejection of a single call with no partial effect.
var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrDuplicateProposal    = errors.New("duplicate proposal")
	ErrProposalNotFound     = errors.New("proposal not found")
	ErrInVerificationWindow = errors.New("in verification window")
	ErrNotApproved          = errors.New("vote not approved")
	ErrPaused               = errors.New("paused")

	ErrNoSubmission        = errors.New("no vote submission")
	ErrProposalClosed      = errors.New("proposal deadline passed")
	ErrInvalidChoice       = errors.New("invalid choice")
	ErrInvalidProposal     = errors.New("invalid proposal")
	ErrHashMismatch        = errors.New("message hash mismatch")
	ErrPolicyDenied        = errors.New("denied by admission policy")
	ErrNoPendingGovernance = errors.New("no pending governance transfer")
)
