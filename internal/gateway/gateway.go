// Package gateway is the client for the remote agent gateway: session
// lifecycle, task dispatch, out-of-band directives, approvals and the
// per-session server-push event stream.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when the gateway has no session for a key.
var ErrSessionNotFound = errors.New("session not found")

// StatusError is a non-2xx gateway response.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: gateway returned %d: %s", e.Op, e.Code, e.Body)
}

// Session is one entry of the gateway session listing.
type Session struct {
	Key         string
	Label       string
	FriendlyID  string
	Status      string
	Model       string
	UpdatedAt   time.Time
	LastMessage string
	Error       string
}

// SpawnRequest asks the gateway for a new session.
type SpawnRequest struct {
	FriendlyID string `json:"friendlyId"`
	Label      string `json:"label"`
	Model      string `json:"model,omitempty"`
}

// SpawnResult is the gateway's answer to a spawn.
type SpawnResult struct {
	SessionKey   string `json:"sessionKey"`
	ModelApplied string `json:"modelApplied"`
}

// DispatchRequest sends a task bundle to a session.
type DispatchRequest struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	AgentID        string `json:"agentId"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// Approval is a gateway-side approval waiting for a human decision.
type Approval struct {
	ID          string
	SessionKey  string
	AgentID     string
	Action      string
	Context     string
	RequestedAt time.Time
}

// EventStream yields server-push events for one session.
// Next blocks until an event arrives, the stream ends (io.EOF) or the
// context used to open it is cancelled.
type EventStream interface {
	Next() (Event, error)
	Close() error
}

// Client is the gateway surface the engine consumes.
type Client interface {
	ListSessions(ctx context.Context) ([]Session, error)
	SpawnSession(ctx context.Context, req SpawnRequest) (SpawnResult, error)
	DeleteSession(ctx context.Context, sessionKey string) error
	Dispatch(ctx context.Context, req DispatchRequest) error
	Abort(ctx context.Context, sessionKey string) error
	Send(ctx context.Context, sessionKey, message string) error
	Events(ctx context.Context, sessionKey string) (EventStream, error)
	ListApprovals(ctx context.Context) ([]Approval, error)
	ResolveApproval(ctx context.Context, id string, approve bool) error
}
