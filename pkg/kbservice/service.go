// Package kbservice implements the knowledge bank service: session
// management plus batched lookup, update, gradient-descent and snapshot
// operations over the embedding stores.
package kbservice

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/Dearborn-Open-AI/neural-structured-learning/pkg/knowledgebank"
)

// Service exposes the knowledge bank operations. Every operation carries a
// session handle and starts the session on first use, so a restarted server
// keeps serving old handles without an explicit re-registration step.
type Service struct {
	registry *sessionRegistry
	logger   zerolog.Logger
}

// NewService constructs an empty service.
func NewService(logger zerolog.Logger) *Service {
	return &Service{
		registry: newSessionRegistry(),
		logger:   logger.With().Str("component", "kbservice").Logger(),
	}
}

// LookupRequest is a batched embedding fetch. When Update is set, missing
// keys are initialized and persisted instead of reported as missing.
type LookupRequest struct {
	SessionHandle string   `json:"session_handle"`
	Keys          []string `json:"keys"`
	Update        bool     `json:"update,omitempty"`
}

// UpdateRequest overwrites embeddings, either directly through Values or by
// one gradient-descent step through Gradients. Exactly one of the two must
// be set.
type UpdateRequest struct {
	SessionHandle string               `json:"session_handle"`
	Values        map[string][]float32 `json:"values,omitempty"`
	Gradients     map[string][]float32 `json:"gradients,omitempty"`
}

// StartSession validates the request and returns its session handle. The
// underlying knowledge bank is created eagerly so configuration errors
// surface here rather than on the first lookup.
func (s *Service) StartSession(req StartSessionRequest) (string, error) {
	if req.Name == "" {
		return "", InvalidArgument("name is empty")
	}
	if err := req.Config.Validate(); err != nil {
		return "", InvalidArgument(err.Error())
	}
	handle, _, err := s.registry.getOrCreate(req)
	if err != nil {
		return "", err
	}
	s.logger.Info().Str("session", req.Name).Msg("Session started")
	return handle, nil
}

// startSessionIfNecessary resolves a handle to its live session, recreating
// the session from the handle's embedded request when needed.
func (s *Service) startSessionIfNecessary(handle string) (*session, error) {
	if handle == "" {
		return nil, InvalidArgument("session handle is empty")
	}
	if sess := s.registry.get(handle); sess != nil {
		return sess, nil
	}
	req, err := ParseSessionHandle(handle)
	if err != nil {
		return nil, InvalidArgument(err.Error())
	}
	if req.Name == "" {
		return nil, InvalidArgument("name is empty")
	}
	_, sess, err := s.registry.getOrCreate(req)
	return sess, err
}

// Lookup fetches embeddings for a batch of keys. Empty keys stand for batch
// padding and resolve to a zero vector without touching the store. Keys that
// fail individually are omitted from the result rather than failing the
// batch.
func (s *Service) Lookup(req LookupRequest) (map[string]knowledgebank.Embedding, error) {
	sess, err := s.startSessionIfNecessary(req.SessionHandle)
	if err != nil {
		return nil, err
	}
	if len(req.Keys) == 0 {
		return nil, InvalidArgument("empty input keys")
	}

	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()

	hasPadding := false
	realKeys := make([]string, 0, len(req.Keys))
	for _, key := range req.Keys {
		if key == "" {
			hasPadding = true
			continue
		}
		realKeys = append(realKeys, key)
	}

	out := make(map[string]knowledgebank.Embedding, len(realKeys)+1)
	if hasPadding {
		out[""] = knowledgebank.Embedding{Values: make([]float32, sess.cfg.EmbeddingDimension)}
	}
	if len(realKeys) == 0 {
		return out, nil
	}

	var results []knowledgebank.LookupResult
	if req.Update {
		results = sess.bank.BatchLookupWithUpdate(realKeys)
	} else {
		results = sess.bank.BatchLookup(realKeys)
	}
	if len(results) != len(realKeys) {
		return nil, Internal("inconsistent result returned by BatchLookup()")
	}
	for i, res := range results {
		if res.Err != nil {
			s.logger.Warn().Str("session", sess.name).Str("key", realKeys[i]).
				Err(res.Err).Msg("Lookup failed for key")
			continue
		}
		out[realKeys[i]] = res.Embedding
	}
	return out, nil
}

// Update writes embeddings back to the session's knowledge bank. The whole
// operation holds the registry write lock, so concurrent updates never
// interleave.
func (s *Service) Update(req UpdateRequest) error {
	sess, err := s.startSessionIfNecessary(req.SessionHandle)
	if err != nil {
		return err
	}
	if len(req.Values) == 0 && len(req.Gradients) == 0 {
		return InvalidArgument("input is empty")
	}

	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()

	if len(req.Values) > 0 {
		if err := s.updateValues(sess, req.Values); err != nil {
			return err
		}
	}
	if len(req.Gradients) > 0 {
		return s.applyGradients(sess, req.Gradients)
	}
	return nil
}

func (s *Service) updateValues(sess *session, values map[string][]float32) error {
	keys := sortedKeys(values)
	batch := make([]knowledgebank.Embedding, len(keys))
	for i, key := range keys {
		batch[i] = knowledgebank.Embedding{Tag: key, Values: values[key]}
	}
	if err := sess.bank.BatchUpdate(keys, batch); err != nil {
		return InvalidArgument(err.Error())
	}
	return nil
}

// applyGradients runs the three stage pipeline: fetch current embeddings,
// apply one optimizer step, write the results back. Keys that are empty or
// missing from the bank are dropped before the optimizer sees them.
func (s *Service) applyGradients(sess *session, gradients map[string][]float32) error {
	if sess.opt == nil {
		return Internal("optimizer is not created, did you forget to set gradient_descent in the embedding config?")
	}

	candidates := sortedKeys(gradients)
	lookupKeys := candidates[:0]
	for _, key := range candidates {
		if key != "" {
			lookupKeys = append(lookupKeys, key)
		}
	}
	if len(lookupKeys) == 0 {
		return Internal("no valid keys for gradient update")
	}

	results := sess.bank.BatchLookup(lookupKeys)
	if len(results) != len(lookupKeys) {
		return Internal("inconsistent result returned by BatchLookup()")
	}

	var (
		keys       []string
		embeddings [][]float32
		grads      [][]float32
		weights    []float32
	)
	for i, res := range results {
		if res.Err != nil {
			s.logger.Warn().Str("session", sess.name).Str("key", lookupKeys[i]).
				Err(res.Err).Msg("Skipping gradient for unknown key")
			continue
		}
		keys = append(keys, lookupKeys[i])
		embeddings = append(embeddings, res.Embedding.Values)
		grads = append(grads, gradients[lookupKeys[i]])
		weights = append(weights, res.Embedding.Weight)
	}
	if len(keys) == 0 {
		return Internal("no valid keys for gradient update")
	}

	updated, err := sess.opt.Apply(keys, embeddings, grads)
	if err != nil {
		return Internalf("applying gradient update returned error: %v", err)
	}

	batch := make([]knowledgebank.Embedding, len(keys))
	for i, key := range keys {
		batch[i] = knowledgebank.Embedding{Tag: key, Values: updated[i], Weight: weights[i]}
	}
	if err := sess.bank.BatchUpdate(keys, batch); err != nil {
		return Internalf("writing gradient update returned error: %v", err)
	}
	return nil
}

// KnowledgeBankSize returns the number of embeddings stored in the session's
// bank.
func (s *Service) KnowledgeBankSize(handle string) (int, error) {
	sess, err := s.startSessionIfNecessary(handle)
	if err != nil {
		return 0, err
	}
	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()
	return sess.bank.Size(), nil
}

// Export snapshots the session's bank under dir and returns the path of the
// written metadata file.
func (s *Service) Export(handle, dir string) (string, error) {
	sess, err := s.startSessionIfNecessary(handle)
	if err != nil {
		return "", err
	}
	if dir == "" {
		return "", InvalidArgument("export directory is empty")
	}

	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()

	metaPath, err := sess.bank.Export(dir)
	if err != nil {
		return "", Internalf("export failed: %v", err)
	}
	s.logger.Info().Str("session", sess.name).Str("path", metaPath).Msg("Exported knowledge bank")
	return metaPath, nil
}

// Import replaces the session's bank content with a previously exported
// snapshot.
func (s *Service) Import(handle, metaPath string) error {
	sess, err := s.startSessionIfNecessary(handle)
	if err != nil {
		return err
	}
	if metaPath == "" {
		return InvalidArgument("import path is empty")
	}

	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()

	if err := sess.bank.Import(metaPath); err != nil {
		return Internalf("import failed: %v", err)
	}
	s.logger.Info().Str("session", sess.name).Str("path", metaPath).Msg("Imported knowledge bank")
	return nil
}

// Nearest ranks stored keys by distance to the query vector. Only sessions
// whose bank supports vector search can serve it.
func (s *Service) Nearest(handle string, query []float32, limit int) ([]knowledgebank.Neighbor, error) {
	sess, err := s.startSessionIfNecessary(handle)
	if err != nil {
		return nil, err
	}
	searcher, ok := sess.bank.(knowledgebank.NearestNeighborSearcher)
	if !ok {
		return nil, InvalidArgument("knowledge bank does not support nearest-neighbor search")
	}

	s.registry.mu.RLock()
	defer s.registry.mu.RUnlock()

	neighbors, err := searcher.Nearest(query, limit)
	if err != nil {
		return nil, InvalidArgument(err.Error())
	}
	return neighbors, nil
}

// SessionCount returns the number of live sessions.
func (s *Service) SessionCount() int {
	return s.registry.size()
}

// SessionHandles returns all live session handles in sorted order.
func (s *Service) SessionHandles() []string {
	return s.registry.handles()
}

// Close shuts down every live session.
func (s *Service) Close() error {
	return s.registry.closeAll()
}

func sortedKeys(m map[string][]float32) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
