package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/processor"
	"github.com/petrovska-petro/voting-onchain/pkg/snapshot"
)

var (
	ErrIdentifierMismatch = errors.New("relay identifier does not match commitment")
	ErrCommitmentMismatch = errors.New("stored message does not hash to commitment")
)

// Source is the processor read surface the relayer needs.
type Source interface {
	Hash(ctx context.Context, identifier string) (common.Hash, error)
	Message(ctx context.Context, identifier string) ([]byte, error)
}

// Signer has a wallet mark the approved commitment as signed.
type Signer interface {
	Sign(ctx context.Context, caller, wallet common.Address, identifier string) (*processor.SignReceipt, error)
}

// Sender delivers an envelope to the relay.
type Sender interface {
	Send(ctx context.Context, env snapshot.Envelope) (*Receipt, error)
}

// Relayer signs an approved vote and delivers it to the relay.
type Relayer struct {
	Source Source
	Signer Signer
	Sender Sender
}

// Result describes a relayed vote.
type Result struct {
	Sign    *processor.SignReceipt `json:"sign"`
	RelayID string                 `json:"relay_id"`
	Message string                 `json:"message"`
}

// Relay signs identifier through wallet, posts the canonical message and
// checks the relay's identifier against the stored commitment.
func (r *Relayer) Relay(ctx context.Context, caller, wallet common.Address, identifier string) (*Result, error) {
	msg, err := r.Source.Message(ctx, identifier)
	if err != nil {
		return nil, err
	}
	commitment, err := r.Source.Hash(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if snapshot.HashMessage(msg) != commitment {
		return nil, fmt.Errorf("%w: %s", ErrCommitmentMismatch, identifier)
	}

	signed, err := r.Signer.Sign(ctx, caller, wallet, identifier)
	if err != nil {
		return nil, err
	}
	// A resubmission between the reads and Sign leaves msg stale.
	if signed.MessageHash != commitment {
		return nil, fmt.Errorf("%w: %s signed %s, message hashes to %s",
			ErrCommitmentMismatch, identifier, signed.MessageHash.Hex(), commitment.Hex())
	}

	receipt, err := r.Sender.Send(ctx, snapshot.NewEnvelope(wallet, msg))
	if err != nil {
		return nil, err
	}
	result := &Result{Sign: signed, RelayID: receipt.ID, Message: string(msg)}
	if !MatchesCommitment(receipt.ID, commitment) {
		return result, fmt.Errorf("%w: relay returned %s, expected %s", ErrIdentifierMismatch, receipt.ID, commitment.Hex())
	}
	return result, nil
}
