package knowledgebank

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Auto-register the sqlite-vec extension on every new connection.
	sqlite_vec.Auto()
}

const sqliteCheckpointFileName = "sqlite_embedding_data.json"

// sqliteBank persists embeddings in a SQLite database, with vectors stored
// in a sqlite-vec vec0 virtual table so they can also be ranked by cosine
// distance.
type sqliteBank struct {
	dim  int
	init Initializer
	db   *sql.DB

	// mu serializes read-modify-write cycles (lazy creation, import). Plain
	// reads go straight to the database.
	mu sync.Mutex
}

func newSQLiteBank(cfg *SQLiteConfig, dim int, init Initializer) (*sqliteBank, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, fmt.Errorf("sqlite knowledge bank requires a database path")
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases coherent and sidesteps
	// SQLITE_BUSY on concurrent writes.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS entries (
			key TEXT PRIMARY KEY,
			weight REAL NOT NULL DEFAULT 0
		);
		CREATE VIRTUAL TABLE IF NOT EXISTS entry_vectors USING vec0(
			key TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, dim)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &sqliteBank{dim: dim, init: init, db: db}, nil
}

func (b *sqliteBank) BatchLookup(keys []string) []LookupResult {
	results := make([]LookupResult, len(keys))
	for i, key := range keys {
		results[i] = b.lookupOne(key)
	}
	return results
}

func (b *sqliteBank) lookupOne(key string) LookupResult {
	var weight float32
	var raw []byte
	err := b.db.QueryRow(`
		SELECT e.weight, v.embedding
		FROM entries e JOIN entry_vectors v ON v.key = e.key
		WHERE e.key = ?
	`, key).Scan(&weight, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return LookupResult{Err: fmt.Errorf("%w: %q", ErrNotFound, key)}
	}
	if err != nil {
		return LookupResult{Err: fmt.Errorf("lookup failed for key %q: %w", key, err)}
	}
	values, err := decodeVector(raw, b.dim)
	if err != nil {
		return LookupResult{Err: fmt.Errorf("lookup failed for key %q: %w", key, err)}
	}
	return LookupResult{Embedding: Embedding{Tag: key, Values: values, Weight: weight}}
}

func (b *sqliteBank) BatchLookupWithUpdate(keys []string) []LookupResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	results := make([]LookupResult, len(keys))
	for i, key := range keys {
		results[i] = b.lookupWithUpdateOne(key)
	}
	return results
}

func (b *sqliteBank) lookupWithUpdateOne(key string) LookupResult {
	tx, err := b.db.Begin()
	if err != nil {
		return LookupResult{Err: fmt.Errorf("lookup failed for key %q: %w", key, err)}
	}
	defer tx.Rollback()

	var weight float32
	var raw []byte
	var values []float32
	err = tx.QueryRow(`
		SELECT e.weight, v.embedding
		FROM entries e JOIN entry_vectors v ON v.key = e.key
		WHERE e.key = ?
	`, key).Scan(&weight, &raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		values = b.init.Initialize()
		if err := upsertVector(tx, key, values); err != nil {
			return LookupResult{Err: err}
		}
	case err != nil:
		return LookupResult{Err: fmt.Errorf("lookup failed for key %q: %w", key, err)}
	default:
		if values, err = decodeVector(raw, b.dim); err != nil {
			return LookupResult{Err: fmt.Errorf("lookup failed for key %q: %w", key, err)}
		}
	}

	weight++
	if _, err := tx.Exec(
		"INSERT INTO entries (key, weight) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET weight = excluded.weight",
		key, weight,
	); err != nil {
		return LookupResult{Err: fmt.Errorf("update failed for key %q: %w", key, err)}
	}
	if err := tx.Commit(); err != nil {
		return LookupResult{Err: fmt.Errorf("update failed for key %q: %w", key, err)}
	}
	return LookupResult{Embedding: Embedding{Tag: key, Values: values, Weight: weight}}
}

func (b *sqliteBank) BatchUpdate(keys []string, values []Embedding) error {
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

	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("batch update failed: %w", err)
	}
	defer tx.Rollback()

	for i, key := range keys {
		if key == "" {
			continue
		}
		if err := upsertVector(tx, key, values[i].Values); err != nil {
			return err
		}
		if _, err := tx.Exec(
			"INSERT INTO entries (key, weight) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET weight = excluded.weight",
			key, values[i].Weight,
		); err != nil {
			return fmt.Errorf("batch update failed for key %q: %w", key, err)
		}
	}
	return tx.Commit()
}

func (b *sqliteBank) Export(dir string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.dumpAll()
	if err != nil {
		return "", err
	}
	return writeCheckpoint(dir, sqliteCheckpointFileName, b.dim, entries)
}

func (b *sqliteBank) Import(metaPath string) error {
	entries, err := readCheckpoint(metaPath, b.dim)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM entries"); err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM entry_vectors"); err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	for key, entry := range entries {
		if err := upsertVector(tx, key, entry.Values); err != nil {
			return err
		}
		if _, err := tx.Exec("INSERT INTO entries (key, weight) VALUES (?, ?)", key, entry.Weight); err != nil {
			return fmt.Errorf("import failed for key %q: %w", key, err)
		}
	}
	return tx.Commit()
}

// Nearest returns up to limit stored keys ranked by cosine distance to the
// query vector.
func (b *sqliteBank) Nearest(query []float32, limit int) ([]Neighbor, error) {
	if len(query) != b.dim {
		return nil, fmt.Errorf("inconsistent query dimension, got %d expect %d", len(query), b.dim)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query vector: %w", err)
	}
	rows, err := b.db.Query(`
		SELECT key, vec_distance_cosine(embedding, ?) AS distance
		FROM entry_vectors
		ORDER BY distance ASC
		LIMIT ?
	`, string(queryJSON), limit)
	if err != nil {
		return nil, fmt.Errorf("nearest-neighbor query failed: %w", err)
	}
	defer rows.Close()

	var neighbors []Neighbor
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.Key, &n.Distance); err != nil {
			return nil, err
		}
		neighbors = append(neighbors, n)
	}
	return neighbors, rows.Err()
}

func (b *sqliteBank) Size() int {
	var n int
	if err := b.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0
	}
	return n
}

func (b *sqliteBank) Keys() []string {
	rows, err := b.db.Query("SELECT key FROM entries ORDER BY key")
	if err != nil {
		return nil
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys
		}
		keys = append(keys, key)
	}
	return keys
}

func (b *sqliteBank) Close() error { return b.db.Close() }

func (b *sqliteBank) dumpAll() (map[string]Embedding, error) {
	rows, err := b.db.Query(`
		SELECT e.key, e.weight, v.embedding
		FROM entries e JOIN entry_vectors v ON v.key = e.key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to dump entries: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]Embedding)
	for rows.Next() {
		var key string
		var weight float32
		var raw []byte
		if err := rows.Scan(&key, &weight, &raw); err != nil {
			return nil, err
		}
		values, err := decodeVector(raw, b.dim)
		if err != nil {
			return nil, err
		}
		entries[key] = Embedding{Tag: key, Values: values, Weight: weight}
	}
	return entries, rows.Err()
}

// upsertVector replaces the vec0 row for key. vec0 tables reject
// INSERT OR REPLACE, so delete-then-insert it is.
func upsertVector(tx *sql.Tx, key string, values []float32) error {
	valuesJSON, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode embedding for key %q: %w", key, err)
	}
	if _, err := tx.Exec("DELETE FROM entry_vectors WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to replace embedding for key %q: %w", key, err)
	}
	if _, err := tx.Exec("INSERT INTO entry_vectors (key, embedding) VALUES (?, ?)", key, string(valuesJSON)); err != nil {
		return fmt.Errorf("failed to store embedding for key %q: %w", key, err)
	}
	return nil
}

// decodeVector decodes the raw little-endian float32 blob sqlite-vec hands
// back for an embedding column.
func decodeVector(raw []byte, dim int) ([]float32, error) {
	if len(raw) != dim*4 {
		return nil, fmt.Errorf("unexpected embedding blob length %d for dimension %d", len(raw), dim)
	}
	values := make([]float32, dim)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return values, nil
}
