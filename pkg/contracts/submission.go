package contracts

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// VoteStatus is the per-identifier state of the vote processor.
type VoteStatus string

const (
	StatusNoSubmission VoteStatus = "NO_SUBMISSION"
	StatusSubmitted    VoteStatus = "SUBMITTED"
	StatusApproved     VoteStatus = "APPROVED"
)

// VoteSubmission is the live vote intent for one external proposal identifier.
type VoteSubmission struct {
	Proposal    string         `json:"proposal"`
	Choice      Choice         `json:"choice"`
	Timestamp   int64          `json:"timestamp"`
	Version     string         `json:"version"`
	Space       string         `json:"space"`
	Type        string         `json:"type"`
	MessageHash common.Hash    `json:"message_hash"`
	Approved    bool           `json:"approved"`
	SubmittedAt time.Time      `json:"submitted_at"`
	Proposer    common.Address `json:"proposer"`
	Verifier    common.Address `json:"verifier,omitempty"`
}

// Status derives the state machine position of the submission.
func (s *VoteSubmission) Status() VoteStatus {
	if s == nil {
		return StatusNoSubmission
	}
	if s.Approved {
		return StatusApproved
	}
	return StatusSubmitted
}

// Roles is the persisted access-control state.
type Roles struct {
	Governance        common.Address   `json:"governance"`
	PendingGovernance common.Address   `json:"pending_governance,omitempty"`
	Proposers         []common.Address `json:"proposers"`
	Validators        []common.Address `json:"validators"`
	Paused            bool             `json:"paused"`
}
