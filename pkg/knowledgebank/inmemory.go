package knowledgebank

import (
	"fmt"
	"sort"
	"sync"
)

const inMemoryCheckpointFileName = "in_memory_embedding_data.json"

// inMemoryBank keeps all embeddings in a process-local map. It is the
// default variant and the one used by tests.
type inMemoryBank struct {
	dim  int
	init Initializer

	mu      sync.RWMutex
	entries map[string]Embedding
}

func newInMemoryBank(dim int, init Initializer) *inMemoryBank {
	return &inMemoryBank{
		dim:     dim,
		init:    init,
		entries: make(map[string]Embedding),
	}
}

func (b *inMemoryBank) BatchLookup(keys []string) []LookupResult {
	b.mu.RLock()
	defer b.mu.RUnlock()

	results := make([]LookupResult, len(keys))
	for i, key := range keys {
		entry, ok := b.entries[key]
		if !ok {
			results[i] = LookupResult{Err: fmt.Errorf("%w: %q", ErrNotFound, key)}
			continue
		}
		results[i] = LookupResult{Embedding: entry.Clone()}
	}
	return results
}

func (b *inMemoryBank) BatchLookupWithUpdate(keys []string) []LookupResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	results := make([]LookupResult, len(keys))
	for i, key := range keys {
		entry, ok := b.entries[key]
		if !ok {
			entry = Embedding{Tag: key, Values: b.init.Initialize()}
		}
		entry.Weight++
		b.entries[key] = entry
		results[i] = LookupResult{Embedding: entry.Clone()}
	}
	return results
}

func (b *inMemoryBank) BatchUpdate(keys []string, values []Embedding) error {
	if len(keys) != len(values) {
		return fmt.Errorf("inconsistent batch update: %d keys and %d values", len(keys), len(values))
	}
	for i, value := range values {
		if len(value.Values) != b.dim {
			return fmt.Errorf("inconsistent embedding dimension for key %q, got %d expect %d",
				keys[i], len(value.Values), b.dim)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, key := range keys {
		if key == "" {
			continue
		}
		entry := values[i].Clone()
		entry.Tag = key
		b.entries[key] = entry
	}
	return nil
}

func (b *inMemoryBank) Export(dir string) (string, error) {
	b.mu.RLock()
	snapshot := make(map[string]Embedding, len(b.entries))
	for key, entry := range b.entries {
		snapshot[key] = entry.Clone()
	}
	b.mu.RUnlock()

	return writeCheckpoint(dir, inMemoryCheckpointFileName, b.dim, snapshot)
}

func (b *inMemoryBank) Import(metaPath string) error {
	entries, err := readCheckpoint(metaPath, b.dim)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.entries = entries
	b.mu.Unlock()
	return nil
}

func (b *inMemoryBank) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func (b *inMemoryBank) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.entries))
	for key := range b.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (b *inMemoryBank) Close() error { return nil }
