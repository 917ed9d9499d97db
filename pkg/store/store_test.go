package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/petrovska-petro/voting-onchain/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newSQLiteStores(t *testing.T) Stores {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s := NewSQLStore(db)
	require.NoError(t, s.Init(context.Background()))
	return SQLStores(s)
}

func backends(t *testing.T) map[string]Stores {
	return map[string]Stores{
		"memory": NewMemoryStores(),
		"sqlite": newSQLiteStores(t),
	}
}

func sampleChoice(t *testing.T) contracts.Choice {
	t.Helper()
	c, err := contracts.ParseChoice([]byte(`{"34": 25.02272641297546593397216281, "26": 12.5}`))
	require.NoError(t, err)
	return c
}

func TestStores_ProposalsAreAppendOnly(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Unix(1654000000, 0).UTC()
			first := contracts.Proposal{ID: contracts.ProposalID("b"), Deadline: 1654810593, Choices: 2, InitiatedAt: base}
			second := contracts.Proposal{ID: contracts.ProposalID("a"), Deadline: 1654810593, Choices: 3, Kind: contracts.VotingWeighted, InitiatedAt: base.Add(time.Second)}

			require.NoError(t, s.Proposals.Create(ctx, first))
			require.NoError(t, s.Proposals.Create(ctx, second))

			dup := first
			dup.Choices = 9
			assert.ErrorIs(t, s.Proposals.Create(ctx, dup), contracts.ErrDuplicateProposal)

			got, err := s.Proposals.Get(ctx, first.ID)
			require.NoError(t, err)
			assert.Equal(t, uint32(2), got.Choices, "duplicate create must not overwrite")
			assert.True(t, got.InitiatedAt.Equal(base))

			_, err = s.Proposals.Get(ctx, contracts.ProposalID("missing"))
			assert.ErrorIs(t, err, contracts.ErrProposalNotFound)

			list, err := s.Proposals.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, first.ID, list[0].ID)
			assert.Equal(t, contracts.VotingWeighted, list[1].Kind)
		})
	}
}

func TestStores_SubmissionOverwriteAndApprove(t *testing.T) {
	proposer := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	verifier := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Submissions.Get(ctx, "QmX")
			assert.ErrorIs(t, err, contracts.ErrNoSubmission)
			assert.ErrorIs(t, s.Submissions.SetApproved(ctx, "QmX", verifier), contracts.ErrNoSubmission)

			sub := contracts.VoteSubmission{
				Proposal:    "QmX",
				Choice:      sampleChoice(t),
				Timestamp:   1654551440,
				Version:     "0.1.3",
				Space:       "cvx.eth",
				Type:        "vote",
				MessageHash: common.HexToHash("0x01"),
				SubmittedAt: time.Unix(1654551441, 0).UTC(),
				Proposer:    proposer,
			}
			require.NoError(t, s.Submissions.Put(ctx, sub))
			require.NoError(t, s.Submissions.SetApproved(ctx, "QmX", verifier))

			got, err := s.Submissions.Get(ctx, "QmX")
			require.NoError(t, err)
			assert.Equal(t, contracts.StatusApproved, got.Status())
			assert.Equal(t, verifier, got.Verifier)
			assert.Equal(t, string(sub.Choice.JSON()), string(got.Choice.JSON()))

			sub.Choice = contracts.ScalarChoice(1)
			sub.MessageHash = common.HexToHash("0x02")
			require.NoError(t, s.Submissions.Put(ctx, sub))

			got, err = s.Submissions.Get(ctx, "QmX")
			require.NoError(t, err)
			assert.Equal(t, contracts.StatusSubmitted, got.Status(), "resubmission revokes approval")
			assert.Equal(t, common.Address{}, got.Verifier)
			assert.Equal(t, common.HexToHash("0x02"), got.MessageHash)
			n, ok := got.Choice.Scalar()
			assert.True(t, ok)
			assert.Equal(t, uint64(1), n)
		})
	}
}

func TestStores_Roles(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, ok, err := s.Roles.LoadRoles(ctx, ScopeProcessor)
			require.NoError(t, err)
			assert.False(t, ok)

			roles := contracts.Roles{
				Governance: common.HexToAddress("0x01"),
				Proposers:  []common.Address{common.HexToAddress("0x02")},
				Validators: []common.Address{},
				Paused:     true,
			}
			require.NoError(t, s.Roles.SaveRoles(ctx, ScopeProcessor, roles))
			roles.Paused = false
			require.NoError(t, s.Roles.SaveRoles(ctx, ScopeProcessor, roles))

			got, ok, err := s.Roles.LoadRoles(ctx, ScopeProcessor)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.False(t, got.Paused)
			assert.Equal(t, roles.Proposers, got.Proposers)

			_, ok, err = s.Roles.LoadRoles(ctx, ScopeRegistry)
			require.NoError(t, err)
			assert.False(t, ok, "scopes are independent")
		})
	}
}
