// Package contracts defines the ledger entities shared by the proposal
// registry, the vote processor and their storage substrates.
//
//   - A Proposal is created once by governance and never mutated or deleted.
//   - A VoteSubmission is keyed by the external proposal identifier and is
//     overwritten on resubmission, which always revokes approval.
package contracts

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// VotingType is the relay-defined voting system of a proposal.
type VotingType uint8

const (
	VotingSingleChoice VotingType = iota
	VotingWeighted
	VotingQuadratic
	VotingBasic
)

var votingTypeNames = map[VotingType]string{
	VotingSingleChoice: "single-choice",
	VotingWeighted:     "weighted",
	VotingQuadratic:    "quadratic",
	VotingBasic:        "basic",
}

func (k VotingType) String() string {
	if s, ok := votingTypeNames[k]; ok {
		return s
	}
	return fmt.Sprintf("voting-type(%d)", uint8(k))
}

// Valid reports whether k is a known voting type.
func (k VotingType) Valid() bool {
	_, ok := votingTypeNames[k]
	return ok
}

// ParseVotingType accepts a voting type name such as "single-choice" or its
// numeric code.
func ParseVotingType(s string) (VotingType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range votingTypeNames {
		if n == name {
			return k, nil
		}
	}
	if n, err := strconv.ParseUint(name, 10, 8); err == nil && VotingType(n).Valid() {
		return VotingType(n), nil
	}
	return 0, fmt.Errorf("%w: unknown voting type %q", ErrInvalidProposal, s)
}

// ChoiceKind returns the choice shape a submission for this voting type must use.
func (k VotingType) ChoiceKind() ChoiceKind {
	switch k {
	case VotingWeighted, VotingQuadratic:
		return ChoiceWeighted
	default:
		return ChoiceScalar
	}
}

// Proposal is a registered proposal eligible for voting.
type Proposal struct {
	ID          common.Hash `json:"id"`
	Deadline    int64       `json:"deadline"`
	Choices     uint32      `json:"choices"`
	Kind        VotingType  `json:"kind"`
	InitiatedAt time.Time   `json:"initiated_at"`
}

// DeadlineTime returns the deadline as a time.Time.
func (p *Proposal) DeadlineTime() time.Time {
	return time.Unix(p.Deadline, 0)
}

// ProposalID is the registry key for an external proposal identifier:
// keccak256 over the identifier's UTF-8 bytes.
func ProposalID(identifier string) common.Hash {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(identifier))
	return common.BytesToHash(h.Sum(nil))
}
