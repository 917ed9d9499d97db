package processor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
	"github.com/petrovska-petro/voting-onchain/pkg/ledger"
	"github.com/petrovska-petro/voting-onchain/pkg/policy"
	"github.com/petrovska-petro/voting-onchain/pkg/snapshot"
	"github.com/petrovska-petro/voting-onchain/pkg/wallet"
)

// SubmitVote is the input of SetProposalVote. MessageHash is optional; when
// set it must equal the hash of the canonical payload.
type SubmitVote struct {
	Choice      contracts.Choice
	Timestamp   int64
	Version     string
	Proposal    string
	Space       string
	Type        string
	MessageHash common.Hash
}

func (v SubmitVote) message() snapshot.Message {
	return snapshot.Message{
		Version:   v.Version,
		Timestamp: v.Timestamp,
		Space:     v.Space,
		Type:      v.Type,
		Payload: snapshot.Payload{
			Proposal: v.Proposal,
			Choice:   v.Choice,
			Metadata: snapshot.DefaultMetadata,
		},
	}
}

// SetProposalVote creates or overwrites the submission for v.Proposal. The
// stored submission is never approved, whatever its previous state.
func (p *Processor) SetProposalVote(ctx context.Context, caller common.Address, v SubmitVote) (*contracts.VoteSubmission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.control.RequireActive(); err != nil {
		return nil, err
	}
	if err := p.control.RequireProposer(caller); err != nil {
		return nil, err
	}

	msg := v.message()
	if err := snapshot.Validate(msg); err != nil {
		return nil, err
	}

	proposal, err := p.registry.Proposal(ctx, contracts.ProposalID(v.Proposal))
	if err != nil {
		return nil, err
	}

	now := p.clock()
	deadline := proposal.DeadlineTime()
	if now.After(deadline) {
		return nil, fmt.Errorf("%w: deadline %s", contracts.ErrProposalClosed, deadline.UTC().Format(time.RFC3339))
	}
	if now.After(deadline.Add(-p.cfg.Window)) {
		return nil, fmt.Errorf("%w: submissions close %s before %s", contracts.ErrInVerificationWindow, p.cfg.Window, deadline.UTC().Format(time.RFC3339))
	}
	if err := v.Choice.Check(proposal.Kind, proposal.Choices); err != nil {
		return nil, err
	}

	encoded, err := snapshot.Encode(msg)
	if err != nil {
		return nil, err
	}
	hash := snapshot.HashMessage(encoded)
	if v.MessageHash != (common.Hash{}) && v.MessageHash != hash {
		return nil, fmt.Errorf("%w: supplied %s, payload hashes to %s", contracts.ErrHashMismatch, v.MessageHash.Hex(), hash.Hex())
	}

	sub := contracts.VoteSubmission{
		Proposal:    v.Proposal,
		Choice:      v.Choice,
		Timestamp:   v.Timestamp,
		Version:     v.Version,
		Space:       v.Space,
		Type:        v.Type,
		MessageHash: hash,
		Approved:    false,
		SubmittedAt: now.UTC(),
		Proposer:    caller,
	}
	if err := p.policy.Admit(ctx, policy.Input{Submission: &sub, Proposal: proposal, Now: now.Unix()}); err != nil {
		return nil, err
	}
	if err := p.submissions.Put(ctx, sub); err != nil {
		return nil, err
	}

	p.journal.Record(ctx, ledger.KindVoteSubmitted, caller, v.Proposal, map[string]any{
		"message_hash": hash.Hex(),
		"choice":       string(v.Choice.JSON()),
	})
	return &sub, nil
}

// VerifyVote approves the live submission for identifier. The validator is
// trusted to have recomputed the commitment off-system.
func (p *Processor) VerifyVote(ctx context.Context, caller common.Address, identifier string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.control.RequireActive(); err != nil {
		return err
	}
	if err := p.control.RequireValidator(caller); err != nil {
		return err
	}
	if err := p.submissions.SetApproved(ctx, identifier, caller); err != nil {
		return err
	}

	p.journal.Record(ctx, ledger.KindVoteVerified, caller, identifier, nil)
	return nil
}

// SignReceipt describes a completed sign call.
type SignReceipt struct {
	Wallet      common.Address `json:"wallet"`
	Identifier  string         `json:"identifier"`
	MessageHash common.Hash    `json:"message_hash"`
	Calldata    []byte         `json:"calldata"`
	SignedAt    time.Time      `json:"signed_at"`
}

// Sign has wallet mark the approved commitment for identifier as signed.
// Any caller may trigger it once the submission is approved.
func (p *Processor) Sign(ctx context.Context, caller, walletAddr common.Address, identifier string) (*SignReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.control.RequireActive(); err != nil {
		return nil, err
	}
	sub, err := p.submissions.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !sub.Approved {
		return nil, contracts.ErrNotApproved
	}
	if p.wallets == nil {
		return nil, fmt.Errorf("%w: no wallet resolver configured", wallet.ErrUnknownWallet)
	}

	w, err := p.wallets.Wallet(ctx, walletAddr)
	if err != nil {
		return nil, err
	}
	enabled, err := w.IsModuleEnabled(ctx, p.cfg.Module)
	if err != nil {
		return nil, fmt.Errorf("processor: check module on %s: %w", walletAddr.Hex(), err)
	}
	if !enabled {
		return nil, fmt.Errorf("%w: %s on %s", wallet.ErrModuleNotEnabled, p.cfg.Module.Hex(), walletAddr.Hex())
	}

	data, err := wallet.SignMessageCalldata(sub.MessageHash)
	if err != nil {
		return nil, err
	}
	ok, err := w.ExecTransactionFromModule(ctx, p.cfg.Module, p.cfg.SignMessageLib, big.NewInt(0), data, wallet.DelegateCall)
	if err != nil {
		return nil, fmt.Errorf("processor: exec on %s: %w", walletAddr.Hex(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: signMessage on %s", wallet.ErrExecutionFailed, walletAddr.Hex())
	}

	receipt := &SignReceipt{
		Wallet:      walletAddr,
		Identifier:  identifier,
		MessageHash: sub.MessageHash,
		Calldata:    data,
		SignedAt:    p.clock().UTC(),
	}
	p.journal.Record(ctx, ledger.KindVoteSigned, caller, identifier, map[string]any{
		"wallet":       walletAddr.Hex(),
		"message_hash": sub.MessageHash.Hex(),
	})
	return receipt, nil
}

// Submission returns the live submission or contracts.ErrNoSubmission.
func (p *Processor) Submission(ctx context.Context, identifier string) (*contracts.VoteSubmission, error) {
	return p.submissions.Get(ctx, identifier)
}

// Status returns the state of identifier. A missing submission is
// StatusNoSubmission, not an error.
func (p *Processor) Status(ctx context.Context, identifier string) (contracts.VoteStatus, error) {
	sub, err := p.submissions.Get(ctx, identifier)
	if errors.Is(err, contracts.ErrNoSubmission) {
		return contracts.StatusNoSubmission, nil
	}
	if err != nil {
		return "", err
	}
	return sub.Status(), nil
}

// Hash returns the stored commitment for identifier.
func (p *Processor) Hash(ctx context.Context, identifier string) (common.Hash, error) {
	sub, err := p.submissions.Get(ctx, identifier)
	if err != nil {
		return common.Hash{}, err
	}
	return sub.MessageHash, nil
}

// Choices returns the stored choice exactly as it enters the payload.
func (p *Processor) Choices(ctx context.Context, identifier string) (contracts.Choice, error) {
	sub, err := p.submissions.Get(ctx, identifier)
	if err != nil {
		return contracts.Choice{}, err
	}
	return sub.Choice, nil
}

// Message rebuilds the canonical payload the stored commitment hashes.
func (p *Processor) Message(ctx context.Context, identifier string) ([]byte, error) {
	sub, err := p.submissions.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return snapshot.Encode(snapshot.FromSubmission(sub))
}
