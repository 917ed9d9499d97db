// Package archive keeps content-addressed copies of exported journal
// snapshots on the filesystem, S3 or GCS. Keys are "sha256:<hex>".
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no object exists for a key.
	ErrNotFound = errors.New("archive object not found")
	// ErrInvalidKey is returned for keys that are not "sha256:<64 hex>".
	ErrInvalidKey = errors.New("invalid archive key")
)

// Store is a write-once content-addressed blob store.
type Store interface {
	// Put persists data and returns its key. Storing the same bytes twice is a no-op.
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

const keyPrefix = "sha256:"

// Key returns the content key of data.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return keyPrefix + hex.EncodeToString(sum[:])
}

// objectName validates key and returns the blob name it maps to.
func objectName(key string) (string, error) {
	raw, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return "", fmt.Errorf("%w: missing %s prefix: %s", ErrInvalidKey, keyPrefix, key)
	}
	if b, err := hex.DecodeString(raw); err != nil || len(b) != sha256.Size {
		return "", fmt.Errorf("%w: bad digest: %s", ErrInvalidKey, key)
	}
	return raw + ".json", nil
}

// Journal is the ledger surface an export needs.
type Journal interface {
	Verify() error
	Export() ([]byte, error)
	Head() string
	Len() int
}

// Exporter writes verified journal snapshots to a Store.
type Exporter struct {
	store Store
}

func NewExporter(store Store) *Exporter {
	return &Exporter{store: store}
}

// Receipt identifies an exported snapshot.
type Receipt struct {
	Key     string `json:"key"`
	Head    string `json:"head"`
	Entries int    `json:"entries"`
}

// Export verifies the journal chain and archives its snapshot. A broken
// chain is never archived.
func (e *Exporter) Export(ctx context.Context, j Journal) (*Receipt, error) {
	if err := j.Verify(); err != nil {
		return nil, fmt.Errorf("archive: refusing to export: %w", err)
	}
	data, err := j.Export()
	if err != nil {
		return nil, fmt.Errorf("archive: export journal: %w", err)
	}
	key, err := e.store.Put(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("archive: put snapshot: %w", err)
	}
	return &Receipt{Key: key, Head: j.Head(), Entries: j.Len()}, nil
}
