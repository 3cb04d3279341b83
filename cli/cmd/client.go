package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/endlesschasey-ai/agent-template/iox"
	"github.com/endlesschasey-ai/agent-template/types"
)

// apiClient calls the JSON session routes of a server.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is a non-2xx reply.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (a *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (a *apiClient) createSession(ctx context.Context, title string) (*types.SessionDetail, error) {
	var out types.SessionDetail
	if err := a.do(ctx, http.MethodPost, "/api/session/create", map[string]string{"title": title}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *apiClient) listSessions(ctx context.Context, limit int) ([]types.SessionDetail, error) {
	var out []types.SessionDetail
	err := a.do(ctx, http.MethodGet, "/api/session/list"+limitQuery(limit), nil, &out)
	return out, err
}

func (a *apiClient) getSession(ctx context.Context, id string) (*types.SessionDetail, error) {
	var out types.SessionDetail
	if err := a.do(ctx, http.MethodGet, "/api/session/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *apiClient) listMessages(ctx context.Context, id string, limit int) ([]types.Message, error) {
	var out []types.Message
	err := a.do(ctx, http.MethodGet, "/api/session/"+url.PathEscape(id)+"/messages"+limitQuery(limit), nil, &out)
	return out, err
}

// chatURL is the EventSource-compatible stream URL for one turn.
func (a *apiClient) chatURL(sessionID, content string, fileIDs []string) string {
	q := url.Values{}
	q.Set("session_id", sessionID)
	q.Set("content", content)
	if len(fileIDs) > 0 {
		q.Set("file_ids", strings.Join(fileIDs, ","))
	}
	return a.base + "/api/chat?" + q.Encode()
}

func limitQuery(limit int) string {
	if limit <= 0 {
		return ""
	}
	return "?limit=" + strconv.Itoa(limit)
}
