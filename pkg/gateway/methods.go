package gateway

import (
	"encoding/json"
	"time"

	"github.com/Dearborn-Open-AI/neural-structured-learning/internal/observability"
	"github.com/Dearborn-Open-AI/neural-structured-learning/pkg/kbservice"
)

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() {
	_ = s.router.RegisterMethod("kb.startSession", s.handleStartSession)
	_ = s.router.RegisterMethod("kb.lookup", s.handleLookup)
	_ = s.router.RegisterMethod("kb.update", s.handleUpdate)
	_ = s.router.RegisterMethod("kb.size", s.handleSize)
	_ = s.router.RegisterMethod("kb.export", s.handleExport)
	_ = s.router.RegisterMethod("kb.import", s.handleImport)
	_ = s.router.RegisterMethod("kb.nearest", s.handleNearest)
	_ = s.router.RegisterMethod("kb.sessions", s.handleSessions)
}

// decodeParams converts loosely typed RPC params into a request struct.
func decodeParams(params map[string]interface{}, out interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	return nil
}

// serviceError maps service failures onto RPC error codes: caller input
// problems become InvalidParams, everything else InternalError.
func serviceError(err error) *RPCError {
	if kbservice.IsInvalidArgument(err) {
		return &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	return &RPCError{Code: InternalError, Message: err.Error()}
}

// handleStartSession handles the kb.startSession RPC method
func (s *Server) handleStartSession(params map[string]interface{}) (interface{}, error) {
	var req kbservice.StartSessionRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}

	handle, err := s.service.StartSession(req)
	if err != nil {
		return nil, serviceError(err)
	}

	observability.SetActiveSessions(s.service.SessionCount())
	return map[string]interface{}{
		"session_handle": handle,
	}, nil
}

// handleLookup handles the kb.lookup RPC method
func (s *Server) handleLookup(params map[string]interface{}) (interface{}, error) {
	var req kbservice.LookupRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}

	start := time.Now()
	embeddings, err := s.service.Lookup(req)
	observability.RecordLookup(req.Update, len(req.Keys), time.Since(start), err == nil)
	if err != nil {
		return nil, serviceError(err)
	}

	observability.SetActiveSessions(s.service.SessionCount())
	return map[string]interface{}{
		"embeddings": embeddings,
	}, nil
}

// handleUpdate handles the kb.update RPC method
func (s *Server) handleUpdate(params map[string]interface{}) (interface{}, error) {
	var req kbservice.UpdateRequest
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}

	kind := "values"
	if len(req.Gradients) > 0 {
		kind = "gradients"
	}

	start := time.Now()
	err := s.service.Update(req)
	observability.RecordUpdate(kind, time.Since(start), err == nil)
	if err != nil {
		return nil, serviceError(err)
	}

	observability.SetActiveSessions(s.service.SessionCount())
	return map[string]interface{}{
		"success": true,
	}, nil
}

// handleSize handles the kb.size RPC method
func (s *Server) handleSize(params map[string]interface{}) (interface{}, error) {
	var req struct {
		SessionHandle string `json:"session_handle"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}

	size, err := s.service.KnowledgeBankSize(req.SessionHandle)
	if err != nil {
		return nil, serviceError(err)
	}

	if parsed, perr := kbservice.ParseSessionHandle(req.SessionHandle); perr == nil {
		observability.SetBankEntries(parsed.Name, size)
	}
	return map[string]interface{}{
		"size": size,
	}, nil
}

// handleExport handles the kb.export RPC method
func (s *Server) handleExport(params map[string]interface{}) (interface{}, error) {
	var req struct {
		SessionHandle string `json:"session_handle"`
		Directory     string `json:"directory"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}

	metaPath, err := s.service.Export(req.SessionHandle, req.Directory)
	observability.RecordSnapshot("export", err == nil)
	if err != nil {
		return nil, serviceError(err)
	}

	return map[string]interface{}{
		"path": metaPath,
	}, nil
}

// handleImport handles the kb.import RPC method
func (s *Server) handleImport(params map[string]interface{}) (interface{}, error) {
	var req struct {
		SessionHandle string `json:"session_handle"`
		Path          string `json:"path"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}

	err := s.service.Import(req.SessionHandle, req.Path)
	observability.RecordSnapshot("import", err == nil)
	if err != nil {
		return nil, serviceError(err)
	}

	return map[string]interface{}{
		"success": true,
	}, nil
}

// handleNearest handles the kb.nearest RPC method
func (s *Server) handleNearest(params map[string]interface{}) (interface{}, error) {
	var req struct {
		SessionHandle string    `json:"session_handle"`
		Query         []float32 `json:"query"`
		Limit         int       `json:"limit"`
	}
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}

	neighbors, err := s.service.Nearest(req.SessionHandle, req.Query, req.Limit)
	if err != nil {
		return nil, serviceError(err)
	}

	return map[string]interface{}{
		"neighbors": neighbors,
	}, nil
}

// handleSessions handles the kb.sessions RPC method
func (s *Server) handleSessions(params map[string]interface{}) (interface{}, error) {
	handles := s.service.SessionHandles()
	sessions := make([]map[string]interface{}, 0, len(handles))
	for _, handle := range handles {
		req, err := kbservice.ParseSessionHandle(handle)
		if err != nil {
			continue
		}
		sessions = append(sessions, map[string]interface{}{
			"name":           req.Name,
			"session_handle": handle,
		})
	}
	return map[string]interface{}{
		"sessions": sessions,
	}, nil
}
