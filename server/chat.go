package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/endlesschasey-ai/agent-template/envelope"
	"github.com/endlesschasey-ai/agent-template/runtime"
	"github.com/endlesschasey-ai/agent-template/types"
)

// maxChatBody bounds a chat request body.
const maxChatBody = 1 << 20

// wsWriteWait bounds a single WebSocket write.
const wsWriteWait = 10 * time.Second

// ChatRequest is the body of POST /api/chat and the first WebSocket message.
// Empty fields are rejected in-stream with a validation error.
type ChatRequest struct {
	SessionID string   `json:"session_id"`
	Content   string   `json:"content"`
	FileIDs   []string `json:"file_ids,omitempty"`
}

func (r ChatRequest) stream() runtime.StreamRequest {
	return runtime.StreamRequest{
		SessionID: r.SessionID,
		Content:   r.Content,
		FileIDs:   r.FileIDs,
	}
}

// sseWriter emits events as text/event-stream frames, flushing each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter sets the stream headers. It returns nil when w cannot flush.
func newSSEWriter(w http.ResponseWriter) *sseWriter {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	h := w.Header()
	h.Set("Content-Type", envelope.ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}
}

func (s *sseWriter) Emit(_ context.Context, ev *types.Event) error {
	frame, err := envelope.EncodeSSE(ev)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxChatBody))
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid chat request: "+err.Error())
		return
	}
	s.streamSSE(w, r, req)
}

// handleChatQuery serves EventSource clients, which can only issue GETs.
func (s *Server) handleChatQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ChatRequest{
		SessionID: q.Get("session_id"),
		Content:   q.Get("content"),
	}
	if ids := q.Get("file_ids"); ids != "" {
		req.FileIDs = strings.Split(ids, ",")
	}
	s.streamSSE(w, r, req)
}

func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, req ChatRequest) {
	sw := newSSEWriter(w)
	if sw == nil {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	res := s.cfg.Orchestrator.Execute(r.Context(), req.stream(), sw)
	s.logger.Debug("sse stream closed", map[string]any{
		"request_id": res.RequestID,
		"status":     string(res.Outcome.Status),
	})
}

// wsEmitter writes each event as one text message.
type wsEmitter struct {
	conn *websocket.Conn
}

func (e *wsEmitter) Emit(_ context.Context, ev *types.Event) error {
	body, err := envelope.MarshalEvent(ev)
	if err != nil {
		return err
	}
	_ = e.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return e.conn.WriteMessage(websocket.TextMessage, body)
}

// handleChatWS reads one chat request, streams its events, and closes the
// connection after the terminal event. A client close cancels the stream.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		s.logger.Warn("websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxChatBody)

	var req ChatRequest
	if err := conn.ReadJSON(&req); err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseInvalidFramePayloadData, "invalid chat request")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	res := s.cfg.Orchestrator.Execute(ctx, req.stream(), &wsEmitter{conn: conn})
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(res.Outcome.Status))
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait)); err != nil &&
		!errors.Is(err, websocket.ErrCloseSent) {
		s.logger.Debug("websocket close not delivered", map[string]any{"error": err.Error()})
	}
}
