package ledger

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var actor = common.HexToAddress("0x0000000000000000000000000000000000000001")

func TestLedgerRecord(t *testing.T) {
	l := New()
	e := l.Record(context.Background(), KindProposalInitiated, actor, "0xabc", map[string]any{"deadline": int64(1654810593)})

	assert.Equal(t, uint64(1), e.Sequence)
	assert.Equal(t, Genesis, e.PrevHash)
	assert.True(t, strings.HasPrefix(e.ContentHash, "sha3-256:"))
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, actor.Hex(), e.Actor)
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, e.ContentHash, l.Head())
}

func TestLedgerChainIntegrity(t *testing.T) {
	l := New()
	ctx := context.Background()
	l.Record(ctx, KindVoteSubmitted, actor, "QmA", map[string]any{"hash": "0x01"})
	l.Record(ctx, KindVoteVerified, actor, "QmA", nil)
	l.Record(ctx, KindVoteSigned, actor, "QmA", map[string]any{"wallet": "0x02"})

	require.NoError(t, l.Verify())

	e1, err := l.Get(1)
	require.NoError(t, err)
	e2, err := l.Get(2)
	require.NoError(t, err)
	assert.Equal(t, e1.ContentHash, e2.PrevHash)

	_, err = l.Get(99)
	assert.Error(t, err)
}

func TestLedgerDetectsTampering(t *testing.T) {
	l := New()
	ctx := context.Background()
	l.Record(ctx, KindRoleGranted, actor, "proposer", map[string]any{"address": "0x02"})
	l.Record(ctx, KindSystemPaused, actor, "system", nil)

	l.entries[0].Data["address"] = "0x03"
	assert.ErrorContains(t, l.Verify(), "hash mismatch at entry 1")
}

func TestLedgerExportImport(t *testing.T) {
	fixed := time.Date(2022, 6, 6, 0, 0, 0, 0, time.UTC)
	l := New().WithClock(func() time.Time { return fixed })
	ctx := context.Background()
	l.Record(ctx, KindProposalInitiated, actor, "0xabc", map[string]any{"deadline": int64(1654810593), "choices": uint32(2)})
	l.Record(ctx, KindGovernanceProposed, actor, "governance", map[string]any{})

	data, err := l.Export()
	require.NoError(t, err)

	restored := New()
	require.NoError(t, restored.Import(data))
	assert.Equal(t, l.Head(), restored.Head())
	assert.Equal(t, 2, restored.Len())
	require.NoError(t, restored.Verify())

	entries := restored.Entries()
	assert.True(t, entries[0].Timestamp.Equal(fixed))

	tampered := strings.Replace(string(data), "1654810593", "1654810594", 1)
	assert.Error(t, New().Import([]byte(tampered)))
}

func TestDiscard(t *testing.T) {
	e := Discard.Record(context.Background(), KindVoteSigned, actor, "QmA", nil)
	assert.Zero(t, e.Sequence)
}
