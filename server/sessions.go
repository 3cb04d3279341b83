package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/endlesschasey-ai/agent-template/store"
	"github.com/endlesschasey-ai/agent-template/types"
)

// maxListLimit caps the limit query parameter.
const maxListLimit = 500

// CreateSessionRequest is the optional body of POST /api/session/create.
type CreateSessionRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, "invalid session request: "+err.Error())
		return
	}
	sess, err := s.cfg.Store.CreateSession(r.Context(), req.Title)
	if err != nil {
		s.internalError(w, "create session", err)
		return
	}
	writeJSON(w, http.StatusOK, types.SessionDetail{Session: *sess})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, store.DefaultSessionListLimit)
	if !ok {
		return
	}
	sessions, err := s.cfg.Store.ListSessions(r.Context(), limit)
	if err != nil {
		s.internalError(w, "list sessions", err)
		return
	}
	out := make([]types.SessionDetail, 0, len(sessions))
	for _, sess := range sessions {
		n, err := s.cfg.Store.MessageCount(r.Context(), sess.SessionID)
		if err != nil {
			s.internalError(w, "count messages", err)
			return
		}
		out = append(out, types.SessionDetail{Session: sess, MessageCount: n})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	n, err := s.cfg.Store.MessageCount(r.Context(), sess.SessionID)
	if err != nil {
		s.internalError(w, "count messages", err)
		return
	}
	writeJSON(w, http.StatusOK, types.SessionDetail{Session: *sess, MessageCount: n})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, store.DefaultSessionListLimit)
	if !ok {
		return
	}
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	msgs, err := s.cfg.Store.GetRecentMessages(r.Context(), sess.SessionID, limit)
	if err != nil {
		s.internalError(w, "list messages", err)
		return
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*types.Session, bool) {
	sess, err := s.cfg.Store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, "get session", err)
		return nil, false
	}
	if sess == nil {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func parseLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxListLimit {
		writeJSONError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
		return 0, false
	}
	return n, true
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", map[string]any{"error": err.Error()})
	writeJSONError(w, http.StatusInternalServerError, op+" failed")
}
