// Package access implements the role-based permission check consulted at the
// top of every gated transition: a single governance address, proposer and
// validator sets, and a process-wide pause flag.
package access

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
)

// Role names a permission set.
type Role string

const (
	RoleGovernance Role = "governance"
	RoleProposer   Role = "proposer"
	RoleValidator  Role = "validator"
)

// Control holds role membership and the pause flag.
type Control struct {
	mu         sync.RWMutex
	governance common.Address
	pending    common.Address
	proposers  map[common.Address]struct{}
	validators map[common.Address]struct{}
	paused     bool
}

// NewControl creates a Control owned by governance.
func NewControl(governance common.Address) *Control {
	return &Control{
		governance: governance,
		proposers:  make(map[common.Address]struct{}),
		validators: make(map[common.Address]struct{}),
	}
}

// FromRoles rebuilds a Control from persisted state.
func FromRoles(r contracts.Roles) *Control {
	c := NewControl(r.Governance)
	c.pending = r.PendingGovernance
	c.paused = r.Paused
	for _, a := range r.Proposers {
		c.proposers[a] = struct{}{}
	}
	for _, a := range r.Validators {
		c.validators[a] = struct{}{}
	}
	return c
}

// Restore replaces all state with r. Used to roll back a mutation whose
// persistence failed.
func (c *Control) Restore(r contracts.Roles) {
	fresh := FromRoles(r)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.governance = fresh.governance
	c.pending = fresh.pending
	c.proposers = fresh.proposers
	c.validators = fresh.validators
	c.paused = fresh.paused
}

// Roles returns a snapshot suitable for persistence. Member lists are sorted.
func (c *Control) Roles() contracts.Roles {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return contracts.Roles{
		Governance:        c.governance,
		PendingGovernance: c.pending,
		Proposers:         members(c.proposers),
		Validators:        members(c.validators),
		Paused:            c.paused,
	}
}

func members(set map[common.Address]struct{}) []common.Address {
	out := make([]common.Address, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (c *Control) Governance() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.governance
}

func (c *Control) PendingGovernance() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pending
}

func (c *Control) IsGovernance(addr common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return addr == c.governance
}

func (c *Control) IsProposer(addr common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.proposers[addr]
	return ok
}

func (c *Control) IsValidator(addr common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.validators[addr]
	return ok
}

func (c *Control) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// Has reports whether addr holds role.
func (c *Control) Has(role Role, addr common.Address) bool {
	switch role {
	case RoleGovernance:
		return c.IsGovernance(addr)
	case RoleProposer:
		return c.IsProposer(addr)
	case RoleValidator:
		return c.IsValidator(addr)
	default:
		return false
	}
}

// Require returns ErrUnauthorized unless caller holds role.
func (c *Control) Require(role Role, caller common.Address) error {
	if !c.Has(role, caller) {
		return fmt.Errorf("%w: %s is not %s", contracts.ErrUnauthorized, caller.Hex(), role)
	}
	return nil
}

func (c *Control) RequireGovernance(caller common.Address) error {
	return c.Require(RoleGovernance, caller)
}

func (c *Control) RequireProposer(caller common.Address) error {
	return c.Require(RoleProposer, caller)
}

func (c *Control) RequireValidator(caller common.Address) error {
	return c.Require(RoleValidator, caller)
}

// RequireActive returns ErrPaused while the system is paused.
func (c *Control) RequireActive() error {
	if c.Paused() {
		return contracts.ErrPaused
	}
	return nil
}

// Grant adds addr to a member set. Granting an existing member is a no-op.
// It reports whether membership changed.
func (c *Control) Grant(caller common.Address, role Role, addr common.Address) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, err := c.memberSetLocked(caller, role)
	if err != nil {
		return false, err
	}
	if _, ok := set[addr]; ok {
		return false, nil
	}
	set[addr] = struct{}{}
	return true, nil
}

// Revoke removes addr from a member set. Revoking a non-member is a no-op.
func (c *Control) Revoke(caller common.Address, role Role, addr common.Address) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, err := c.memberSetLocked(caller, role)
	if err != nil {
		return false, err
	}
	if _, ok := set[addr]; !ok {
		return false, nil
	}
	delete(set, addr)
	return true, nil
}

func (c *Control) memberSetLocked(caller common.Address, role Role) (map[common.Address]struct{}, error) {
	if caller != c.governance {
		return nil, fmt.Errorf("%w: %s is not %s", contracts.ErrUnauthorized, caller.Hex(), RoleGovernance)
	}
	switch role {
	case RoleProposer:
		return c.proposers, nil
	case RoleValidator:
		return c.validators, nil
	default:
		return nil, fmt.Errorf("role %q has no member set", role)
	}
}

// SetPaused sets the pause flag. It reports whether the flag changed.
func (c *Control) SetPaused(caller common.Address, paused bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.governance {
		return false, fmt.Errorf("%w: %s is not %s", contracts.ErrUnauthorized, caller.Hex(), RoleGovernance)
	}
	changed := c.paused != paused
	c.paused = paused
	return changed, nil
}

// TransferGovernance starts a two-step handover to next. Only the current
// governance may call it; a later call replaces the pending address.
func (c *Control) TransferGovernance(caller, next common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.governance {
		return fmt.Errorf("%w: %s is not %s", contracts.ErrUnauthorized, caller.Hex(), RoleGovernance)
	}
	c.pending = next
	return nil
}

// AcceptGovernance completes a pending handover. Only the pending address may call it.
func (c *Control) AcceptGovernance(caller common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == (common.Address{}) {
		return contracts.ErrNoPendingGovernance
	}
	if caller != c.pending {
		return fmt.Errorf("%w: %s is not pending governance", contracts.ErrUnauthorized, caller.Hex())
	}
	c.governance = c.pending
	c.pending = common.Address{}
	return nil
}
