package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const maxResponseBody = 2 * 1024 * 1024

// HTTPClient talks to the gateway over HTTP.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
	stream  *http.Client
	logger  *slog.Logger
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *HTTPClient) { c.token = strings.TrimSpace(token) }
}

// WithTimeout sets the timeout for request/response calls. Event streams are not bounded by it.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.http.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP clients.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		c.http = hc
		c.stream = hc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *HTTPClient) { c.logger = l }
}

// NewHTTPClient creates a gateway client for baseURL.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		stream:  &http.Client{},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do performs a JSON call and returns the raw response body.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, body any) ([]byte, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode >= 300 {
		return nil, &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(buf))}
	}
	if ok := gjson.GetBytes(buf, "ok"); ok.Exists() && !ok.Bool() {
		return nil, fmt.Errorf("%s: %s", op, gjson.GetBytes(buf, "error").String())
	}
	return buf, nil
}

func (c *HTTPClient) ListSessions(ctx context.Context) ([]Session, error) {
	buf, err := c.do(ctx, "list sessions", http.MethodGet, "/sessions", nil)
	if err != nil {
		return nil, err
	}
	list := gjson.ParseBytes(buf)
	if !list.IsArray() {
		list = list.Get("sessions")
	}
	var out []Session
	list.ForEach(func(_, v gjson.Result) bool {
		s := Session{
			Key:         firstString(v, "key", "sessionKey"),
			Label:       v.Get("label").String(),
			FriendlyID:  v.Get("friendlyId").String(),
			Status:      v.Get("status").String(),
			Model:       v.Get("model").String(),
			LastMessage: firstString(v, "lastMessage", "last_message"),
			Error:       v.Get("error").String(),
			UpdatedAt:   parseTime(firstResult(v, "updatedAt", "updated_at")),
		}
		if s.Key != "" {
			out = append(out, s)
		}
		return true
	})
	return out, nil
}

func (c *HTTPClient) SpawnSession(ctx context.Context, req SpawnRequest) (SpawnResult, error) {
	buf, err := c.do(ctx, "spawn session", http.MethodPost, "/sessions", req)
	if err != nil {
		return SpawnResult{}, err
	}
	res := SpawnResult{
		SessionKey:   firstString(gjson.ParseBytes(buf), "sessionKey", "key", "session.key"),
		ModelApplied: firstString(gjson.ParseBytes(buf), "modelApplied", "model"),
	}
	if res.SessionKey == "" {
		return SpawnResult{}, fmt.Errorf("spawn session: response carried no session key")
	}
	return res, nil
}

func (c *HTTPClient) DeleteSession(ctx context.Context, sessionKey string) error {
	_, err := c.do(ctx, "delete session", http.MethodDelete, "/sessions?sessionKey="+url.QueryEscape(sessionKey), nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return fmt.Errorf("delete session %s: %w", sessionKey, ErrSessionNotFound)
	}
	return err
}

func (c *HTTPClient) Dispatch(ctx context.Context, req DispatchRequest) error {
	_, err := c.do(ctx, "dispatch", http.MethodPost, "/agent-dispatch", req)
	return err
}

func (c *HTTPClient) Abort(ctx context.Context, sessionKey string) error {
	_, err := c.do(ctx, "abort", http.MethodPost, "/chat-abort", map[string]string{"sessionKey": sessionKey})
	return err
}

func (c *HTTPClient) Send(ctx context.Context, sessionKey, message string) error {
	_, err := c.do(ctx, "send", http.MethodPost, "/sessions/send", map[string]string{"sessionKey": sessionKey, "message": message})
	return err
}

// Events opens the server-push stream for a session. The stream lives until ctx is cancelled or Close is called.
func (c *HTTPClient) Events(ctx context.Context, sessionKey string) (EventStream, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/chat-events?sessionKey="+url.QueryEscape(sessionKey), nil)
	if err != nil {
		return nil, fmt.Errorf("open events: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open events: %w", err)
	}
	if resp.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		_ = resp.Body.Close()
		return nil, &StatusError{Op: "open events", Code: resp.StatusCode, Body: strings.TrimSpace(string(buf))}
	}
	c.logger.Debug("event stream opened", "session", sessionKey)
	return newSSEStream(resp.Body), nil
}

func (c *HTTPClient) ListApprovals(ctx context.Context) ([]Approval, error) {
	buf, err := c.do(ctx, "list approvals", http.MethodGet, "/approvals", nil)
	if err != nil {
		return nil, err
	}
	list := gjson.ParseBytes(buf)
	if !list.IsArray() {
		list = list.Get("approvals")
	}
	var out []Approval
	list.ForEach(func(_, v gjson.Result) bool {
		a := Approval{
			ID:          v.Get("id").String(),
			SessionKey:  firstString(v, "sessionKey", "session_key"),
			AgentID:     firstString(v, "agentId", "agent_id"),
			Action:      firstString(v, "action", "tool", "command"),
			Context:     firstString(v, "context", "description", "reason"),
			RequestedAt: parseTime(firstResult(v, "requestedAt", "createdAt")),
		}
		if a.ID != "" {
			out = append(out, a)
		}
		return true
	})
	return out, nil
}

func (c *HTTPClient) ResolveApproval(ctx context.Context, id string, approve bool) error {
	decision := "deny"
	if approve {
		decision = "approve"
	}
	_, err := c.do(ctx, "resolve approval", http.MethodPost, "/approvals/"+url.PathEscape(id)+"/resolve", map[string]string{"decision": decision})
	return err
}

func firstResult(v gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := v.Get(p); r.Exists() {
			return r
		}
	}
	return gjson.Result{}
}

func firstString(v gjson.Result, paths ...string) string {
	return firstResult(v, paths...).String()
}

// parseTime accepts epoch milliseconds, epoch seconds or RFC 3339.
func parseTime(r gjson.Result) time.Time {
	switch r.Type {
	case gjson.Number:
		n := r.Int()
		if n > 1e12 {
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	case gjson.String:
		if t, err := time.Parse(time.RFC3339Nano, r.String()); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
