package observability

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
	"github.com/petrovska-petro/voting-onchain/pkg/wallet"
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attributes for vote transitions.
var (
	AttrOperation  = attribute.Key("votebridge.operation")
	AttrOutcome    = attribute.Key("votebridge.outcome")
	AttrErrorKind  = attribute.Key("votebridge.error.kind")
	AttrCaller     = attribute.Key("votebridge.caller")
	AttrProposalID = attribute.Key("votebridge.proposal.id")
	AttrIdentifier = attribute.Key("votebridge.vote.identifier")
	AttrWallet     = attribute.Key("votebridge.wallet")
	AttrVoteKind   = attribute.Key("votebridge.vote.kind")
)

// rejections are the kinds a caller can provoke. They are expected outcomes,
// not faults, and do not burn SLO budget.
var rejections = []struct {
	err  error
	kind string
}{
	{contracts.ErrUnauthorized, "unauthorized"},
	{contracts.ErrPaused, "paused"},
	{contracts.ErrDuplicateProposal, "duplicate_proposal"},
	{contracts.ErrProposalNotFound, "proposal_not_found"},
	{contracts.ErrInVerificationWindow, "in_verification_window"},
	{contracts.ErrProposalClosed, "proposal_closed"},
	{contracts.ErrNotApproved, "not_approved"},
	{contracts.ErrNoSubmission, "no_submission"},
	{contracts.ErrInvalidChoice, "invalid_choice"},
	{contracts.ErrInvalidProposal, "invalid_proposal"},
	{contracts.ErrHashMismatch, "hash_mismatch"},
	{contracts.ErrPolicyDenied, "policy_denied"},
	{contracts.ErrNoPendingGovernance, "no_pending_governance"},
	{wallet.ErrUnknownWallet, "unknown_wallet"},
	{wallet.ErrModuleNotEnabled, "module_not_enabled"},
}

// ErrorKind names err for metric attributes. Errors outside the rejection
// kinds report as "internal".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range rejections {
		if errors.Is(err, r.err) {
			return r.kind
		}
	}
	return "internal"
}

// IsFault reports whether err is a failure of the service rather than a
// rejection of the caller.
func IsFault(err error) bool {
	return err != nil && ErrorKind(err) == "internal"
}

// VoteOperation creates attributes for a transition on one vote submission.
func VoteOperation(caller common.Address, identifier string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCaller.String(caller.Hex()),
		AttrIdentifier.String(identifier),
	}
}

// SignOperation creates attributes for a sign or relay transition.
func SignOperation(caller, wallet common.Address, identifier string) []attribute.KeyValue {
	return append(VoteOperation(caller, identifier), AttrWallet.String(wallet.Hex()))
}
