// Package processor implements the VoteProcessor: the state machine that
// gates who may submit, approve and sign a vote for each proposal
// identifier, and refuses submissions inside the verification window.
//
// Per identifier the states are NoSubmission, Submitted and Approved.
// A resubmission from either later state returns to Submitted.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/access"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
	"github.com/petrovska-petro/voting-onchain/pkg/ledger"
	"github.com/petrovska-petro/voting-onchain/pkg/policy"
	"github.com/petrovska-petro/voting-onchain/pkg/store"
	"github.com/petrovska-petro/voting-onchain/pkg/wallet"
)

// DefaultWindow is the verification window preceding a proposal deadline.
const DefaultWindow = 20 * time.Minute

// ProposalLookup is the registry read the processor depends on.
type ProposalLookup interface {
	Proposal(ctx context.Context, id common.Hash) (*contracts.Proposal, error)
}

// Config holds the processor's fixed parameters.
type Config struct {
	// Module is the address the processor acts as on wallets.
	Module common.Address
	// Governance administers the processor's role sets and pause flag.
	Governance common.Address
	// SignMessageLib is the delegatecall target that marks messages signed.
	SignMessageLib common.Address
	// Window is how long before a proposal deadline verification opens and
	// submissions close. Zero means DefaultWindow.
	Window time.Duration
}

// Deps are the collaborators of a Processor. Registry and Submissions are
// required.
type Deps struct {
	Registry    ProposalLookup
	Submissions store.SubmissionStore
	Roles       store.RoleStore
	Wallets     wallet.Resolver
	Policy      policy.Admission
	Journal     ledger.Journal
}

// Processor is the VoteProcessor.
type Processor struct {
	// mu serializes every state-mutating operation.
	mu sync.Mutex

	cfg     Config
	control *access.Control

	registry    ProposalLookup
	submissions store.SubmissionStore
	roles       store.RoleStore
	wallets     wallet.Resolver
	policy      policy.Admission
	journal     ledger.Journal

	clock func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock overrides the clock. It is read on every call.
func WithClock(clock func() time.Time) Option {
	return func(p *Processor) { p.clock = clock }
}

// New creates a processor.
func New(cfg Config, deps Deps, opts ...Option) (*Processor, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("processor: registry is required")
	}
	if deps.Submissions == nil {
		return nil, fmt.Errorf("processor: submission store is required")
	}
	if cfg.Window < 0 {
		return nil, fmt.Errorf("processor: negative verification window %s", cfg.Window)
	}
	if cfg.Window == 0 {
		cfg.Window = DefaultWindow
	}

	p := &Processor{
		cfg:         cfg,
		control:     access.NewControl(cfg.Governance),
		registry:    deps.Registry,
		submissions: deps.Submissions,
		roles:       deps.Roles,
		wallets:     deps.Wallets,
		policy:      deps.Policy,
		journal:     deps.Journal,
		clock:       time.Now,
	}
	if p.policy == nil {
		p.policy = policy.AllowAll
	}
	if p.journal == nil {
		p.journal = ledger.Discard
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Load replaces the in-memory role state with the persisted one, if any.
func (p *Processor) Load(ctx context.Context) error {
	if p.roles == nil {
		return nil
	}
	saved, ok, err := p.roles.LoadRoles(ctx, store.ScopeProcessor)
	if err != nil {
		return fmt.Errorf("processor: load roles: %w", err)
	}
	if ok {
		p.control.Restore(saved)
	}
	return nil
}

// Window returns the effective verification window.
func (p *Processor) Window() time.Duration { return p.cfg.Window }

// Module returns the address the processor acts as on wallets.
func (p *Processor) Module() common.Address { return p.cfg.Module }

// SignMessageLib returns the delegatecall target used by Sign.
func (p *Processor) SignMessageLib() common.Address { return p.cfg.SignMessageLib }

// Governance returns the current governance address.
func (p *Processor) Governance() common.Address { return p.control.Governance() }

// PendingGovernance returns the address awaiting AcceptGovernance, or zero.
func (p *Processor) PendingGovernance() common.Address { return p.control.PendingGovernance() }

// IsGovernance reports whether addr is the current governance.
func (p *Processor) IsGovernance(addr common.Address) bool { return p.control.IsGovernance(addr) }

// IsProposer reports whether addr may submit votes.
func (p *Processor) IsProposer(addr common.Address) bool { return p.control.IsProposer(addr) }

// IsValidator reports whether addr may verify votes.
func (p *Processor) IsValidator(addr common.Address) bool { return p.control.IsValidator(addr) }

// Paused reports whether gated transitions are halted.
func (p *Processor) Paused() bool { return p.control.Paused() }

// Roles returns the current role state.
func (p *Processor) Roles() contracts.Roles { return p.control.Roles() }
