package processor

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/access"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
	"github.com/petrovska-petro/voting-onchain/pkg/ledger"
	"github.com/petrovska-petro/voting-onchain/pkg/store"
)

// Administrative transitions are governance-only and are not blocked by
// pause. A mutation that cannot be persisted is rolled back.

func (p *Processor) AddProposer(ctx context.Context, caller, addr common.Address) error {
	return p.grant(ctx, caller, access.RoleProposer, addr)
}

func (p *Processor) RemoveProposer(ctx context.Context, caller, addr common.Address) error {
	return p.revoke(ctx, caller, access.RoleProposer, addr)
}

func (p *Processor) AddValidator(ctx context.Context, caller, addr common.Address) error {
	return p.grant(ctx, caller, access.RoleValidator, addr)
}

func (p *Processor) RemoveValidator(ctx context.Context, caller, addr common.Address) error {
	return p.revoke(ctx, caller, access.RoleValidator, addr)
}

func (p *Processor) Pause(ctx context.Context, caller common.Address) error {
	return p.setPaused(ctx, caller, true)
}

func (p *Processor) Unpause(ctx context.Context, caller common.Address) error {
	return p.setPaused(ctx, caller, false)
}

func (p *Processor) grant(ctx context.Context, caller common.Address, role access.Role, addr common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.control.Roles()
	changed, err := p.control.Grant(caller, role, addr)
	if err != nil || !changed {
		return err
	}
	if err := p.persist(ctx, prev); err != nil {
		return err
	}
	p.journal.Record(ctx, ledger.KindRoleGranted, caller, string(role), map[string]any{"address": addr.Hex()})
	return nil
}

func (p *Processor) revoke(ctx context.Context, caller common.Address, role access.Role, addr common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.control.Roles()
	changed, err := p.control.Revoke(caller, role, addr)
	if err != nil || !changed {
		return err
	}
	if err := p.persist(ctx, prev); err != nil {
		return err
	}
	p.journal.Record(ctx, ledger.KindRoleRevoked, caller, string(role), map[string]any{"address": addr.Hex()})
	return nil
}

func (p *Processor) setPaused(ctx context.Context, caller common.Address, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.control.Roles()
	changed, err := p.control.SetPaused(caller, paused)
	if err != nil || !changed {
		return err
	}
	if err := p.persist(ctx, prev); err != nil {
		return err
	}
	kind := ledger.KindSystemUnpaused
	if paused {
		kind = ledger.KindSystemPaused
	}
	p.journal.Record(ctx, kind, caller, "system", nil)
	return nil
}

// TransferGovernance proposes next as the processor's governance.
func (p *Processor) TransferGovernance(ctx context.Context, caller, next common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.control.Roles()
	if err := p.control.TransferGovernance(caller, next); err != nil {
		return err
	}
	if err := p.persist(ctx, prev); err != nil {
		return err
	}
	p.journal.Record(ctx, ledger.KindGovernanceProposed, caller, "processor", map[string]any{"pending": next.Hex()})
	return nil
}

// AcceptGovernance completes a pending transfer.
func (p *Processor) AcceptGovernance(ctx context.Context, caller common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.control.Roles()
	if err := p.control.AcceptGovernance(caller); err != nil {
		return err
	}
	if err := p.persist(ctx, prev); err != nil {
		return err
	}
	p.journal.Record(ctx, ledger.KindGovernanceAccepted, caller, "processor", map[string]any{"previous": prev.Governance.Hex()})
	return nil
}

func (p *Processor) persist(ctx context.Context, prev contracts.Roles) error {
	if p.roles == nil {
		return nil
	}
	if err := p.roles.SaveRoles(ctx, store.ScopeProcessor, p.control.Roles()); err != nil {
		p.control.Restore(prev)
		return fmt.Errorf("processor: save roles: %w", err)
	}
	return nil
}
