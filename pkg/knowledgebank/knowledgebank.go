// Package knowledgebank implements the keyed embedding-vector stores backing
// dynamic embedding sessions. A knowledge bank maps string keys to fixed
// dimension float vectors and supports batched reads, batched writes,
// lazy-initializing reads and snapshot export/import.
package knowledgebank

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a key without a stored embedding.
var ErrNotFound = errors.New("key not found")

// Embedding is a single stored vector. Weight counts how many times the
// entry was fetched through a lazy-initializing lookup and is carried through
// snapshots unchanged.
type Embedding struct {
	Tag    string    `json:"tag,omitempty"`
	Values []float32 `json:"values"`
	Weight float32   `json:"weight,omitempty"`
}

// Clone returns a deep copy of the embedding.
func (e Embedding) Clone() Embedding {
	out := e
	out.Values = append([]float32(nil), e.Values...)
	return out
}

// LookupResult is the per-key outcome of a batched lookup: either an
// embedding or an error, never both.
type LookupResult struct {
	Embedding Embedding
	Err       error
}

// KnowledgeBank is the store backing one embedding session.
//
// Implementations must be safe for concurrent use, including concurrent
// BatchLookupWithUpdate calls: the service layer performs lazy-creating
// reads under a shared lock and relies on the bank for internal
// synchronization.
type KnowledgeBank interface {
	// BatchLookup returns one result per key, in key order. Keys without a
	// stored embedding yield a LookupResult carrying ErrNotFound.
	BatchLookup(keys []string) []LookupResult

	// BatchLookupWithUpdate behaves like BatchLookup but initializes and
	// persists a fresh embedding for missing keys, and increments the
	// access weight of every returned entry.
	BatchLookupWithUpdate(keys []string) []LookupResult

	// BatchUpdate overwrites the embeddings of the given keys. Empty keys
	// are skipped. keys and values must have equal length.
	BatchUpdate(keys []string, values []Embedding) error

	// Export snapshots the full bank content under dir and returns the
	// path of the written metadata file.
	Export(dir string) (string, error)

	// Import replaces the bank content with the snapshot described by the
	// metadata file at metaPath.
	Import(metaPath string) error

	// Size returns the number of stored entries.
	Size() int

	// Keys returns all stored keys in sorted order.
	Keys() []string

	Close() error
}

// Neighbor is one nearest-neighbor search hit.
type Neighbor struct {
	Key      string  `json:"key"`
	Distance float64 `json:"distance"`
}

// NearestNeighborSearcher is implemented by banks that can rank stored
// embeddings by distance to a query vector.
type NearestNeighborSearcher interface {
	Nearest(query []float32, limit int) ([]Neighbor, error)
}

// New constructs a knowledge bank from its configuration. The set of
// supported variants is closed; unknown types are rejected.
func New(cfg Config, embeddingDimension int) (KnowledgeBank, error) {
	if embeddingDimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", embeddingDimension)
	}
	init, err := newInitializer(cfg.Initializer, embeddingDimension)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeInMemory, "":
		return newInMemoryBank(embeddingDimension, init), nil
	case TypeSQLite:
		return newSQLiteBank(cfg.SQLite, embeddingDimension, init)
	default:
		return nil, fmt.Errorf("unsupported knowledge bank type %q", cfg.Type)
	}
}
