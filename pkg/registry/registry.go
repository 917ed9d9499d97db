// Package registry is the authoritative ledger of proposals eligible for
// voting and their deadlines. Proposals are created by governance and are
// never mutated or deleted.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/access"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
	"github.com/petrovska-petro/voting-onchain/pkg/ledger"
	"github.com/petrovska-petro/voting-onchain/pkg/store"
)

// Registry is the ProposalRegistry.
type Registry struct {
	mu        sync.Mutex
	control   *access.Control
	proposals store.ProposalStore
	roles     store.RoleStore
	journal   ledger.Journal
	clock     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the clock used to stamp InitiatedAt.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

// WithJournal records every transition in j.
func WithJournal(j ledger.Journal) Option {
	return func(r *Registry) { r.journal = j }
}

// WithRoleStore persists governance changes in s.
func WithRoleStore(s store.RoleStore) Option {
	return func(r *Registry) { r.roles = s }
}

// New creates a registry owned by governance.
func New(governance common.Address, proposals store.ProposalStore, opts ...Option) *Registry {
	r := &Registry{
		control:   access.NewControl(governance),
		proposals: proposals,
		journal:   ledger.Discard,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the in-memory governance state with the persisted one, if any.
func (r *Registry) Load(ctx context.Context) error {
	if r.roles == nil {
		return nil
	}
	saved, ok, err := r.roles.LoadRoles(ctx, store.ScopeRegistry)
	if err != nil {
		return fmt.Errorf("registry: load roles: %w", err)
	}
	if ok {
		r.control.Restore(saved)
	}
	return nil
}

// InitiateProposal registers a proposal. Only governance may call it.
func (r *Registry) InitiateProposal(ctx context.Context, caller common.Address, id common.Hash, deadline int64, choices uint32, kind contracts.VotingType) (*contracts.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.control.RequireGovernance(caller); err != nil {
		return nil, err
	}
	switch {
	case id == (common.Hash{}):
		return nil, fmt.Errorf("%w: empty id", contracts.ErrInvalidProposal)
	case deadline <= 0:
		return nil, fmt.Errorf("%w: deadline must be positive", contracts.ErrInvalidProposal)
	case choices == 0:
		return nil, fmt.Errorf("%w: choice count must be positive", contracts.ErrInvalidProposal)
	case !kind.Valid():
		return nil, fmt.Errorf("%w: unknown voting type %d", contracts.ErrInvalidProposal, uint8(kind))
	}

	p := contracts.Proposal{
		ID:          id,
		Deadline:    deadline,
		Choices:     choices,
		Kind:        kind,
		InitiatedAt: r.clock().UTC(),
	}
	if err := r.proposals.Create(ctx, p); err != nil {
		return nil, err
	}

	r.journal.Record(ctx, ledger.KindProposalInitiated, caller, id.Hex(), map[string]any{
		"deadline": deadline,
		"choices":  choices,
		"kind":     kind.String(),
	})
	return &p, nil
}

// Proposal returns the registered proposal or contracts.ErrProposalNotFound.
func (r *Registry) Proposal(ctx context.Context, id common.Hash) (*contracts.Proposal, error) {
	return r.proposals.Get(ctx, id)
}

// ProposalByIdentifier looks a proposal up by its external identifier.
func (r *Registry) ProposalByIdentifier(ctx context.Context, identifier string) (*contracts.Proposal, error) {
	return r.proposals.Get(ctx, contracts.ProposalID(identifier))
}

// Proposals lists every registered proposal in initiation order.
func (r *Registry) Proposals(ctx context.Context) ([]contracts.Proposal, error) {
	return r.proposals.List(ctx)
}

func (r *Registry) Governance() common.Address { return r.control.Governance() }

func (r *Registry) PendingGovernance() common.Address { return r.control.PendingGovernance() }

// IsGovernance is the capability check other components consult.
func (r *Registry) IsGovernance(addr common.Address) bool { return r.control.IsGovernance(addr) }

// TransferGovernance proposes next as the new governance.
func (r *Registry) TransferGovernance(ctx context.Context, caller, next common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.control.Roles()
	if err := r.control.TransferGovernance(caller, next); err != nil {
		return err
	}
	if err := r.persist(ctx, prev); err != nil {
		return err
	}
	r.journal.Record(ctx, ledger.KindGovernanceProposed, caller, "registry", map[string]any{"pending": next.Hex()})
	return nil
}

// AcceptGovernance completes a pending transfer.
func (r *Registry) AcceptGovernance(ctx context.Context, caller common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.control.Roles()
	if err := r.control.AcceptGovernance(caller); err != nil {
		return err
	}
	if err := r.persist(ctx, prev); err != nil {
		return err
	}
	r.journal.Record(ctx, ledger.KindGovernanceAccepted, caller, "registry", map[string]any{"previous": prev.Governance.Hex()})
	return nil
}

// GovernanceRoles returns the governance state for a later RevertGovernance.
func (r *Registry) GovernanceRoles() contracts.Roles { return r.control.Roles() }

// RevertGovernance restores state captured by GovernanceRoles. The server
// calls it when the processor half of a handover step fails.
func (r *Registry) RevertGovernance(ctx context.Context, caller common.Address, prev contracts.Roles) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.control.Roles()
	r.control.Restore(prev)
	if err := r.persist(ctx, cur); err != nil {
		return err
	}
	r.journal.Record(ctx, ledger.KindGovernanceReverted, caller, "registry", map[string]any{
		"governance": prev.Governance.Hex(),
		"pending":    prev.PendingGovernance.Hex(),
	})
	return nil
}

// persist saves the current roles, restoring prev if the write fails.
func (r *Registry) persist(ctx context.Context, prev contracts.Roles) error {
	if r.roles == nil {
		return nil
	}
	if err := r.roles.SaveRoles(ctx, store.ScopeRegistry, r.control.Roles()); err != nil {
		r.control.Restore(prev)
		return fmt.Errorf("registry: save roles: %w", err)
	}
	return nil
}
