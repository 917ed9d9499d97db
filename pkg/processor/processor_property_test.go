//go:build property
// +build property

package processor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
)

// TestWindowBoundaryProperty: a submission at offset d before the deadline is
// accepted iff d >= window.
func TestWindowBoundaryProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("accepted iff outside the verification window", prop.ForAll(
		func(offsetSeconds int64) bool {
			f := newFixture(t)
			f.now = time.Unix(deadline-offsetSeconds, 0)
			_, err := f.proc.SetProposalVote(context.Background(), proposer, vote(t, proposalHash, "1"))

			switch {
			case offsetSeconds >= int64(DefaultWindow/time.Second):
				return err == nil
			case offsetSeconds >= 0:
				return errors.Is(err, contracts.ErrInVerificationWindow)
			default:
				return errors.Is(err, contracts.ErrProposalClosed)
			}
		},
		gen.Int64Range(-3600, 7200),
	))

	properties.TestingRun(t)
}

// TestOverrideProperty: after any sequence of submit/verify steps on one
// identifier, a final submit leaves exactly one unapproved submission.
func TestOverrideProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("resubmission always revokes approval", prop.ForAll(
		func(steps []bool, finalChoice uint64) bool {
			ctx := context.Background()
			f := newFixture(t)
			for _, verify := range steps {
				if verify {
					_ = f.proc.VerifyVote(ctx, validator, proposalHash)
					continue
				}
				if _, err := f.proc.SetProposalVote(ctx, proposer, vote(t, proposalHash, "1")); err != nil {
					return false
				}
			}
			last, err := f.proc.SetProposalVote(ctx, proposer, vote(t, proposalHash, fmt.Sprint(finalChoice)))
			if err != nil {
				return false
			}
			got, err := f.proc.Submission(ctx, proposalHash)
			return err == nil && !got.Approved && got.MessageHash == last.MessageHash
		},
		gen.SliceOf(gen.Bool()),
		gen.UInt64Range(1, 2),
	))

	properties.TestingRun(t)
}

// TestIsolationProperty: verifying one identifier never touches another.
func TestIsolationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("verify is per identifier", prop.ForAll(
		func(other string) bool {
			ctx := context.Background()
			f := newFixture(t)
			if _, err := f.proc.SetProposalVote(ctx, proposer, vote(t, proposalHash, "1")); err != nil {
				return false
			}

			identifier := "Qm" + other
			if identifier == proposalHash {
				return true
			}
			err := f.proc.VerifyVote(ctx, validator, identifier)
			if !errors.Is(err, contracts.ErrNoSubmission) {
				return false
			}
			status, err := f.proc.Status(ctx, proposalHash)
			return err == nil && status == contracts.StatusSubmitted
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
