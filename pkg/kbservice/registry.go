package kbservice

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Dearborn-Open-AI/neural-structured-learning/pkg/knowledgebank"
	"github.com/Dearborn-Open-AI/neural-structured-learning/pkg/optimizer"
)

// session bundles everything created for one session handle. opt is nil when
// the config carries no gradient-descent rule.
type session struct {
	name string
	cfg  DynamicEmbeddingConfig
	bank knowledgebank.KnowledgeBank
	opt  optimizer.Optimizer
}

// sessionRegistry owns all live sessions. Its lock doubles as the service's
// operation lock: lookups run under the read lock and updates under the
// write lock, so embedding writes never interleave with anything else.
type sessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*session)}
}

// getOrCreate resolves the session for req, creating its knowledge bank and
// optimizer on first use. Repeated calls with an identical request return
// the same session.
func (r *sessionRegistry) getOrCreate(req StartSessionRequest) (string, *session, error) {
	handle, err := req.SessionHandle()
	if err != nil {
		return "", nil, Internalf("failed to build session handle: %v", err)
	}

	r.mu.RLock()
	sess, ok := r.sessions[handle]
	r.mu.RUnlock()
	if ok {
		return handle, sess, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[handle]; ok {
		return handle, sess, nil
	}

	sess, err = newSession(req)
	if err != nil {
		return "", nil, err
	}
	r.sessions[handle] = sess
	return handle, sess, nil
}

func newSession(req StartSessionRequest) (*session, error) {
	bank, err := knowledgebank.New(req.Config.KnowledgeBank, req.Config.EmbeddingDimension)
	if err != nil {
		return nil, InvalidArgument(err.Error())
	}

	sess := &session{name: req.Name, cfg: req.Config, bank: bank}
	if req.Config.GradientDescent != nil {
		opt, err := optimizer.New(req.Config.EmbeddingDimension, *req.Config.GradientDescent)
		if err != nil {
			bank.Close()
			return nil, InvalidArgument(err.Error())
		}
		sess.opt = opt
	}
	return sess, nil
}

// get returns the live session for handle, or nil.
func (r *sessionRegistry) get(handle string) *session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[handle]
}

func (r *sessionRegistry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// handles returns all live session handles in sorted order.
func (r *sessionRegistry) handles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for handle := range r.sessions {
		out = append(out, handle)
	}
	sort.Strings(out)
	return out
}

// closeAll closes every session's knowledge bank.
func (r *sessionRegistry) closeAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for handle, sess := range r.sessions {
		if err := sess.bank.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close session %q: %w", sess.name, err)
		}
		delete(r.sessions, handle)
	}
	return firstErr
}
