// Package store implements the persistence substrates backing the proposal
// registry and the vote processor. Every mutation is a single atomic write.
package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
)

// ProposalStore is the append-only proposal ledger.
type ProposalStore interface {
	// Create appends p. It returns contracts.ErrDuplicateProposal if p.ID exists.
	Create(ctx context.Context, p contracts.Proposal) error
	// Get returns contracts.ErrProposalNotFound if id is unknown.
	Get(ctx context.Context, id common.Hash) (*contracts.Proposal, error)
	// List returns all proposals ordered by initiation time.
	List(ctx context.Context) ([]contracts.Proposal, error)
}

// SubmissionStore holds at most one live submission per proposal identifier.
type SubmissionStore interface {
	// Put creates or overwrites the submission for s.Proposal.
	Put(ctx context.Context, s contracts.VoteSubmission) error
	// Get returns contracts.ErrNoSubmission if no submission exists.
	Get(ctx context.Context, identifier string) (*contracts.VoteSubmission, error)
	// SetApproved marks the live submission approved by verifier.
	SetApproved(ctx context.Context, identifier string, verifier common.Address) error
}

// RoleStore persists access-control state per scope ("registry", "processor").
type RoleStore interface {
	// LoadRoles reports ok=false when nothing was saved for scope yet.
	LoadRoles(ctx context.Context, scope string) (roles contracts.Roles, ok bool, err error)
	SaveRoles(ctx context.Context, scope string, roles contracts.Roles) error
}

// Role scopes.
const (
	ScopeRegistry  = "registry"
	ScopeProcessor = "processor"
)

// Stores bundles the three substrates of one backend.
type Stores struct {
	Proposals   ProposalStore
	Submissions SubmissionStore
	Roles       RoleStore
}

// NewMemoryStores returns in-memory stores.
func NewMemoryStores() Stores {
	return Stores{
		Proposals:   NewMemoryProposalStore(),
		Submissions: NewMemorySubmissionStore(),
		Roles:       NewMemoryRoleStore(),
	}
}

// SQLStores returns the store views of an initialized SQLStore.
func SQLStores(s *SQLStore) Stores {
	return Stores{Proposals: s, Submissions: s.Submissions(), Roles: s}
}

// RedisStores returns the store views of a RedisStore.
func RedisStores(s *RedisStore) Stores {
	return Stores{Proposals: s, Submissions: s.Submissions(), Roles: s}
}
