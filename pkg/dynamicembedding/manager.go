// Package dynamicembedding is the client side of the knowledge bank
// service. A Manager binds one named embedding session to a gateway address
// and exposes batched lookup, update and snapshot calls over it.
package dynamicembedding

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/Dearborn-Open-AI/neural-structured-learning/pkg/batch"
	"github.com/Dearborn-Open-AI/neural-structured-learning/pkg/kbservice"
	"github.com/Dearborn-Open-AI/neural-structured-learning/pkg/knowledgebank"
)

// Manager drives one embedding session. All batched inputs keep their shape:
// a lookup over a [B, N] key batch returns a [B, N, D] value batch, with
// empty keys resolving to zero vectors.
type Manager struct {
	name    string
	address string
	config  kbservice.DynamicEmbeddingConfig
	handle  string
	client  *rpcClient
	logger  zerolog.Logger
}

// Option configures a Manager at creation time.
type Option func(*options)

type options struct {
	secret     string
	logger     zerolog.Logger
	httpClient *http.Client
}

// WithSecret sets the shared secret sent with every gateway call.
func WithSecret(secret string) Option {
	return func(o *options) { o.secret = secret }
}

// WithLogger sets the manager's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHTTPClient overrides the HTTP client used for gateway calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// Create validates the configuration, starts the session on the server and
// returns a manager bound to it.
func Create(ctx context.Context, cfg kbservice.DynamicEmbeddingConfig, name, address string, opts ...Option) (*Manager, error) {
	if name == "" {
		return nil, fmt.Errorf("name is empty")
	}
	if address == "" {
		return nil, fmt.Errorf("address is empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	o.logger = zerolog.Nop()
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		name:    name,
		address: address,
		config:  cfg,
		client:  newRPCClient(address, o.secret, o.httpClient),
		logger:  o.logger.With().Str("component", "dynamic-embedding").Str("session", name).Logger(),
	}

	var result struct {
		SessionHandle string `json:"session_handle"`
	}
	req := kbservice.StartSessionRequest{Name: name, Config: cfg}
	if err := m.client.Call(ctx, "kb.startSession", req, &result); err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	if result.SessionHandle == "" {
		return nil, fmt.Errorf("server returned empty session handle")
	}
	m.handle = result.SessionHandle

	m.logger.Info().Str("address", address).Msg("Embedding session started")
	return m, nil
}

// SessionHandle returns the handle of the bound session.
func (m *Manager) SessionHandle() string {
	return m.handle
}

// Lookup fetches the embeddings for a batch of keys. When update is set,
// unseen keys are initialized on the server instead of resolving to zero.
// The result appends the embedding dimension to the input shape.
func (m *Manager) Lookup(ctx context.Context, keys *batch.Batch[string], update bool) (*batch.Batch[float32], error) {
	if keys.Empty() {
		return nil, fmt.Errorf("No input.")
	}

	var result struct {
		Embeddings map[string]knowledgebank.Embedding `json:"embeddings"`
	}
	req := kbservice.LookupRequest{
		SessionHandle: m.handle,
		Keys:          keys.Data(),
		Update:        update,
	}
	if err := m.client.Call(ctx, "kb.lookup", req, &result); err != nil {
		return nil, fmt.Errorf("lookup failed: %w", err)
	}

	dim := m.config.EmbeddingDimension
	data := make([]float32, keys.Len()*dim)
	for i, key := range keys.Data() {
		emb, ok := result.Embeddings[key]
		if !ok || len(emb.Values) != dim {
			// Padding keys and per-key failures resolve to zero vectors.
			continue
		}
		copy(data[i*dim:(i+1)*dim], emb.Values)
	}
	return batch.New(append(keys.Shape(), dim), data)
}

// UpdateValues overwrites the embeddings of the given keys with the given
// values. keys and values are parallel: values must carry one embedding
// dimension row per key.
func (m *Manager) UpdateValues(ctx context.Context, keys *batch.Batch[string], values *batch.Batch[float32]) error {
	byKey, err := m.rowsByKey(keys, values)
	if err != nil {
		return err
	}
	req := kbservice.UpdateRequest{
		SessionHandle: m.handle,
		Values:        byKey,
	}
	if err := m.client.Call(ctx, "kb.update", req, nil); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	return nil
}

// UpdateGradients applies one gradient descent step to the embeddings of the
// given keys. The session must be configured with a gradient descent rule.
func (m *Manager) UpdateGradients(ctx context.Context, keys *batch.Batch[string], gradients *batch.Batch[float32]) error {
	byKey, err := m.rowsByKey(keys, gradients)
	if err != nil {
		return err
	}
	req := kbservice.UpdateRequest{
		SessionHandle: m.handle,
		Gradients:     byKey,
	}
	if err := m.client.Call(ctx, "kb.update", req, nil); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	return nil
}

// rowsByKey validates the key and value shapes and pairs each non-empty key
// with its value row. Duplicate keys keep the last row.
func (m *Manager) rowsByKey(keys *batch.Batch[string], values *batch.Batch[float32]) (map[string][]float32, error) {
	if keys.Empty() {
		return nil, fmt.Errorf("Input key is empty.")
	}
	dim := m.config.EmbeddingDimension
	if values.Empty() {
		return nil, fmt.Errorf("Inconsistent keys size and values size: %d v.s. 0", keys.Len())
	}
	if values.Dim(values.Rank()-1) != dim {
		return nil, fmt.Errorf("Inconsistent embedding dimension, got %d expect %d",
			values.Dim(values.Rank()-1), dim)
	}
	rows := values.Len() / dim
	if rows != keys.Len() {
		return nil, fmt.Errorf("Inconsistent keys size and values size: %d v.s. %d", keys.Len(), rows)
	}

	data := values.Data()
	byKey := make(map[string][]float32, keys.Len())
	for i, key := range keys.Data() {
		if key == "" {
			continue
		}
		row := make([]float32, dim)
		copy(row, data[i*dim:(i+1)*dim])
		byKey[key] = row
	}
	if len(byKey) == 0 {
		return nil, fmt.Errorf("Input key is empty.")
	}
	return byKey, nil
}

// Size returns the number of embeddings stored in the session's bank.
func (m *Manager) Size(ctx context.Context) (int, error) {
	var result struct {
		Size int `json:"size"`
	}
	req := map[string]string{"session_handle": m.handle}
	if err := m.client.Call(ctx, "kb.size", req, &result); err != nil {
		return 0, fmt.Errorf("size query failed: %w", err)
	}
	return result.Size, nil
}

// Export snapshots the session's bank under dir and returns the path of the
// written metadata file. The snapshot lands in a subdirectory named after
// the session.
func (m *Manager) Export(ctx context.Context, dir string) (string, error) {
	var result struct {
		Path string `json:"path"`
	}
	req := map[string]string{
		"session_handle": m.handle,
		"directory":      filepath.Join(dir, m.name),
	}
	if err := m.client.Call(ctx, "kb.export", req, &result); err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}
	return result.Path, nil
}

// Import replaces the session's bank content with a previously exported
// snapshot.
func (m *Manager) Import(ctx context.Context, metaPath string) error {
	req := map[string]string{
		"session_handle": m.handle,
		"path":           metaPath,
	}
	if err := m.client.Call(ctx, "kb.import", req, nil); err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	return nil
}

// Nearest ranks stored keys by cosine distance to the query vector. Only
// sessions backed by a vector search capable bank can serve it.
func (m *Manager) Nearest(ctx context.Context, query []float32, limit int) ([]knowledgebank.Neighbor, error) {
	var result struct {
		Neighbors []knowledgebank.Neighbor `json:"neighbors"`
	}
	req := map[string]interface{}{
		"session_handle": m.handle,
		"query":          query,
		"limit":          limit,
	}
	if err := m.client.Call(ctx, "kb.nearest", req, &result); err != nil {
		return nil, fmt.Errorf("nearest-neighbor query failed: %w", err)
	}
	return result.Neighbors, nil
}
