package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/mission"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

// Client talks to a running `clawsuite serve` over its control API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a control API client for baseURL (e.g. http://localhost:8080).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx control API response.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Mission returns the server's current mission snapshot.
func (c *Client) Mission(ctx context.Context) (*mission.Snapshot, error) {
	var snap mission.Snapshot
	if err := c.call(ctx, http.MethodGet, "/api/v1/mission", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Launch starts a mission on the server and returns its id.
func (c *Client) Launch(ctx context.Context, req mission.LaunchRequest) (string, error) {
	var out map[string]string
	if err := c.call(ctx, http.MethodPost, "/api/v1/missions", req, &out); err != nil {
		return "", err
	}
	return out["mission_id"], nil
}

// Stop ends the server's mission gracefully.
func (c *Client) Stop(ctx context.Context) (*models.MissionReport, error) {
	var rep models.MissionReport
	if err := c.call(ctx, http.MethodPost, "/api/v1/mission/stop", nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// Abort ends the server's mission as aborted.
func (c *Client) Abort(ctx context.Context) (*models.MissionReport, error) {
	var rep models.MissionReport
	if err := c.call(ctx, http.MethodPost, "/api/v1/mission/abort", nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// Approvals lists approval requests with the given status ("" for all).
func (c *Client) Approvals(ctx context.Context, status models.ApprovalStatus) ([]models.ApprovalRequest, error) {
	path := "/api/v1/approvals"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var out []models.ApprovalRequest
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve approves or denies an approval request.
func (c *Client) Resolve(ctx context.Context, id string, approve bool) (*models.ApprovalRequest, error) {
	verb := "deny"
	if approve {
		verb = "approve"
	}
	var a models.ApprovalRequest
	if err := c.call(ctx, http.MethodPost, "/api/v1/approvals/"+url.PathEscape(id)+"/"+verb, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Steer sends a directive to one agent.
func (c *Client) Steer(ctx context.Context, agentID, message string) error {
	return c.call(ctx, http.MethodPost, "/api/v1/agents/"+url.PathEscape(agentID)+"/steer", map[string]string{"message": message}, nil)
}

// Kill deletes one agent's session.
func (c *Client) Kill(ctx context.Context, agentID string) error {
	return c.call(ctx, http.MethodPost, "/api/v1/agents/"+url.PathEscape(agentID)+"/kill", nil, nil)
}

// Redispatch re-sends one agent's tasks.
func (c *Client) Redispatch(ctx context.Context, agentID string) error {
	return c.call(ctx, http.MethodPost, "/api/v1/agents/"+url.PathEscape(agentID)+"/redispatch", nil, nil)
}

// AbortStale archives the server's leftover running checkpoint as aborted.
func (c *Client) AbortStale(ctx context.Context) (*models.MissionCheckpoint, error) {
	var cp models.MissionCheckpoint
	if err := c.call(ctx, http.MethodPost, "/api/v1/checkpoint/abort", nil, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}
