// Package ledger is the append-only journal of vote-bridge state transitions.
//
// Each entry is hash-chained to its predecessor. The content hash is sha3-256
// over the RFC 8785 canonical form of the entry, so the chain can be verified
// independently of field order or whitespace in an export.
package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/sha3"
)

// Genesis is the previous hash of the first entry.
const Genesis = "genesis"

// Kind names a journaled transition.
type Kind string

const (
	KindProposalInitiated  Kind = "proposal.initiated"
	KindVoteSubmitted      Kind = "vote.submitted"
	KindVoteVerified       Kind = "vote.verified"
	KindVoteSigned         Kind = "vote.signed"
	KindRoleGranted        Kind = "role.granted"
	KindRoleRevoked        Kind = "role.revoked"
	KindSystemPaused       Kind = "system.paused"
	KindSystemUnpaused     Kind = "system.unpaused"
	KindGovernanceProposed Kind = "governance.proposed"
	KindGovernanceAccepted Kind = "governance.accepted"
	KindGovernanceReverted Kind = "governance.reverted"
)

// Entry is an immutable, hash-chained journal entry.
type Entry struct {
	ID          string         `json:"id"`
	Sequence    uint64         `json:"sequence"`
	Kind        Kind           `json:"kind"`
	Actor       string         `json:"actor"`
	Subject     string         `json:"subject"`
	Data        map[string]any `json:"data"`
	PrevHash    string         `json:"prev_hash"`
	ContentHash string         `json:"content_hash"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Journal is the recording side consumed by the registry and processor.
type Journal interface {
	Record(ctx context.Context, kind Kind, actor common.Address, subject string, data map[string]any) Entry
}

// Discard is a Journal that records nothing.
var Discard Journal = discard{}

type discard struct{}

func (discard) Record(context.Context, Kind, common.Address, string, map[string]any) Entry {
	return Entry{}
}

// Ledger is an in-memory append-only journal.
type Ledger struct {
	mu       sync.RWMutex
	entries  []Entry
	headHash string
	clock    func() time.Time
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		entries:  make([]Entry, 0),
		headHash: Genesis,
		clock:    time.Now,
	}
}

// WithClock overrides clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Record appends an entry and returns it.
func (l *Ledger) Record(ctx context.Context, kind Kind, actor common.Address, subject string, data map[string]any) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		ID:        uuid.NewString(),
		Sequence:  uint64(len(l.entries)) + 1,
		Kind:      kind,
		Actor:     actor.Hex(),
		Subject:   subject,
		Data:      data,
		PrevHash:  l.headHash,
		Timestamp: l.clock().UTC(),
	}
	entry.ContentHash = contentHash(entry)

	l.entries = append(l.entries, entry)
	l.headHash = entry.ContentHash
	return entry
}

type hashInput struct {
	Seq     uint64         `json:"seq"`
	Kind    Kind           `json:"kind"`
	Actor   string         `json:"actor"`
	Subject string         `json:"subject"`
	Data    map[string]any `json:"data"`
	Prev    string         `json:"prev"`
}

func contentHash(e Entry) string {
	raw, err := json.Marshal(hashInput{e.Sequence, e.Kind, e.Actor, e.Subject, e.Data, e.PrevHash})
	if err != nil {
		// Data carries only strings, numbers and bools; a marshal failure
		// leaves the entry unverifiable rather than dropping it.
		return "sha3-256:invalid"
	}
	if canonical, err := jcs.Transform(raw); err == nil {
		raw = canonical
	}
	h := sha3.Sum256(raw)
	return "sha3-256:" + hex.EncodeToString(h[:])
}

// Get retrieves an entry by sequence number.
func (l *Ledger) Get(seq uint64) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq == 0 || seq > uint64(len(l.entries)) {
		return nil, fmt.Errorf("entry %d not found", seq)
	}
	entry := l.entries[seq-1]
	return &entry, nil
}

// Entries returns a copy of all entries in sequence order.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Head returns the current head hash.
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Verify checks the integrity of the entire chain.
func (l *Ledger) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verify(l.entries)
}

func verify(entries []Entry) error {
	prev := Genesis
	for i, entry := range entries {
		if entry.Sequence != uint64(i)+1 {
			return fmt.Errorf("ledger: entry %d has sequence %d", i+1, entry.Sequence)
		}
		if entry.PrevHash != prev {
			return fmt.Errorf("ledger: chain broken at entry %d: expected prev %s, got %s", i+1, prev, entry.PrevHash)
		}
		if contentHash(entry) != entry.ContentHash {
			return fmt.Errorf("ledger: hash mismatch at entry %d", i+1)
		}
		prev = entry.ContentHash
	}
	return nil
}

// Snapshot is the exported form of a ledger.
type Snapshot struct {
	Head     string    `json:"head"`
	Count    int       `json:"count"`
	Exported time.Time `json:"exported_at"`
	Entries  []Entry   `json:"entries"`
}

// Export serializes the ledger as JSON.
func (l *Ledger) Export() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return json.Marshal(Snapshot{
		Head:     l.headHash,
		Count:    len(l.entries),
		Exported: l.clock().UTC(),
		Entries:  l.entries,
	})
}

// Import replaces the ledger contents with a previously exported snapshot.
// The snapshot chain must verify and match its recorded head.
func (l *Ledger) Import(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("ledger: decode snapshot: %w", err)
	}
	if err := verify(snap.Entries); err != nil {
		return err
	}
	head := Genesis
	if n := len(snap.Entries); n > 0 {
		head = snap.Entries[n-1].ContentHash
	}
	if head != snap.Head {
		return fmt.Errorf("ledger: snapshot head %s does not match chain head %s", snap.Head, head)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = snap.Entries
	if l.entries == nil {
		l.entries = make([]Entry, 0)
	}
	l.headHash = head
	return nil
}
