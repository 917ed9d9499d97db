package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
)

// MemoryProposalStore keeps proposals in a map. For tests and single-process use.
type MemoryProposalStore struct {
	mu        sync.RWMutex
	proposals map[common.Hash]contracts.Proposal
}

func NewMemoryProposalStore() *MemoryProposalStore {
	return &MemoryProposalStore{proposals: make(map[common.Hash]contracts.Proposal)}
}

func (s *MemoryProposalStore) Create(ctx context.Context, p contracts.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.proposals[p.ID]; exists {
		return contracts.ErrDuplicateProposal
	}
	s.proposals[p.ID] = p
	return nil
}

func (s *MemoryProposalStore) Get(ctx context.Context, id common.Hash) (*contracts.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[id]
	if !ok {
		return nil, contracts.ErrProposalNotFound
	}
	return &p, nil
}

func (s *MemoryProposalStore) List(ctx context.Context) ([]contracts.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]contracts.Proposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].InitiatedAt.Equal(out[j].InitiatedAt) {
			return out[i].ID.Cmp(out[j].ID) < 0
		}
		return out[i].InitiatedAt.Before(out[j].InitiatedAt)
	})
	return out, nil
}

// MemorySubmissionStore keeps submissions in a map.
type MemorySubmissionStore struct {
	mu          sync.RWMutex
	submissions map[string]contracts.VoteSubmission
}

func NewMemorySubmissionStore() *MemorySubmissionStore {
	return &MemorySubmissionStore{submissions: make(map[string]contracts.VoteSubmission)}
}

func (s *MemorySubmissionStore) Put(ctx context.Context, sub contracts.VoteSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[sub.Proposal] = sub
	return nil
}

func (s *MemorySubmissionStore) Get(ctx context.Context, identifier string) (*contracts.VoteSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.submissions[identifier]
	if !ok {
		return nil, contracts.ErrNoSubmission
	}
	return &sub, nil
}

func (s *MemorySubmissionStore) SetApproved(ctx context.Context, identifier string, verifier common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[identifier]
	if !ok {
		return contracts.ErrNoSubmission
	}
	sub.Approved = true
	sub.Verifier = verifier
	s.submissions[identifier] = sub
	return nil
}

// MemoryRoleStore keeps role snapshots in a map.
type MemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[string]contracts.Roles
}

func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{roles: make(map[string]contracts.Roles)}
}

func (s *MemoryRoleStore) LoadRoles(ctx context.Context, scope string) (contracts.Roles, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[scope]
	return r, ok, nil
}

func (s *MemoryRoleStore) SaveRoles(ctx context.Context, scope string, roles contracts.Roles) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[scope] = roles
	return nil
}
