// Package gatewaytest provides an in-memory gateway.Client for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/gateway"
)

// Fake is an in-memory gateway. All fields guarded by mu.
type Fake struct {
	mu sync.Mutex

	Sessions   map[string]*gateway.Session // by key
	Approvals  []gateway.Approval
	Dispatches []gateway.DispatchRequest
	Sent       map[string][]string // session key -> messages
	Aborted    []string
	Deleted    []string
	Resolved   map[string]bool

	// Failure injection
	SpawnErr    map[string]error // by label
	DispatchErr map[string]error // by session key
	ListErr     error
	SpawnDelay  time.Duration

	// OnDispatch runs after a dispatch is recorded, outside the lock.
	OnDispatch func(req gateway.DispatchRequest)

	spawns  int
	streams map[string][]*Stream
	opened  []string
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		Sessions:    map[string]*gateway.Session{},
		Sent:        map[string][]string{},
		Resolved:    map[string]bool{},
		SpawnErr:    map[string]error{},
		DispatchErr: map[string]error{},
		streams:     map[string][]*Stream{},
	}
}

// AddSession registers an existing session.
func (f *Fake) AddSession(s gateway.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := s
	f.Sessions[s.Key] = &cp
}

// SetSession updates fields of an existing session via fn.
func (f *Fake) SetSession(key string, fn func(s *gateway.Session)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.Sessions[key]; ok {
		fn(s)
	}
}

// AddApproval queues a gateway-side approval.
func (f *Fake) AddApproval(a gateway.Approval) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Approvals = append(f.Approvals, a)
}

// ResolvedAs reports how an approval was resolved, if at all.
func (f *Fake) ResolvedAs(id string) (approved, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	approved, ok = f.Resolved[id]
	return approved, ok
}

// DeletedKeys returns the deleted session keys.
func (f *Fake) DeletedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Deleted...)
}

// SpawnCount returns how many spawns succeeded.
func (f *Fake) SpawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawns
}

// DispatchCount returns the number of recorded dispatches.
func (f *Fake) DispatchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Dispatches)
}

// DispatchesFor returns dispatches to a session key.
func (f *Fake) DispatchesFor(key string) []gateway.DispatchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []gateway.DispatchRequest
	for _, d := range f.Dispatches {
		if d.SessionKey == key {
			out = append(out, d)
		}
	}
	return out
}

// SentTo returns messages sent out-of-band to a session.
func (f *Fake) SentTo(key string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Sent[key]...)
}

// Opened returns the session keys event streams were opened for, in order.
func (f *Fake) Opened() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

// Stream returns the most recent stream opened for key, or nil.
func (f *Fake) Stream(key string) *Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.streams[key]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (f *Fake) ListSessions(ctx context.Context) ([]gateway.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := make([]gateway.Session, 0, len(f.Sessions))
	for _, s := range f.Sessions {
		out = append(out, *s)
	}
	return out, nil
}

func (f *Fake) SpawnSession(ctx context.Context, req gateway.SpawnRequest) (gateway.SpawnResult, error) {
	if f.SpawnDelay > 0 {
		select {
		case <-time.After(f.SpawnDelay):
		case <-ctx.Done():
			return gateway.SpawnResult{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.SpawnErr[req.Label]; err != nil {
		return gateway.SpawnResult{}, err
	}
	for _, s := range f.Sessions {
		if s.Label == req.Label {
			return gateway.SpawnResult{}, &gateway.StatusError{Op: "spawn session", Code: 409, Body: "label already exists"}
		}
	}
	f.spawns++
	key := fmt.Sprintf("sess-%d", f.spawns)
	model := req.Model
	if model == "" {
		model = "gateway-default"
	}
	f.Sessions[key] = &gateway.Session{Key: key, Label: req.Label, FriendlyID: req.FriendlyID, Model: model, Status: "idle", UpdatedAt: time.Now()}
	return gateway.SpawnResult{SessionKey: key, ModelApplied: model}, nil
}

func (f *Fake) DeleteSession(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Sessions[key]; !ok {
		return fmt.Errorf("delete session %s: %w", key, gateway.ErrSessionNotFound)
	}
	delete(f.Sessions, key)
	f.Deleted = append(f.Deleted, key)
	return nil
}

func (f *Fake) Dispatch(ctx context.Context, req gateway.DispatchRequest) error {
	f.mu.Lock()
	if err := f.DispatchErr[req.SessionKey]; err != nil {
		f.mu.Unlock()
		return err
	}
	f.Dispatches = append(f.Dispatches, req)
	if s, ok := f.Sessions[req.SessionKey]; ok {
		s.UpdatedAt = time.Now()
	}
	hook := f.OnDispatch
	f.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	return nil
}

func (f *Fake) Abort(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Aborted = append(f.Aborted, key)
	return nil
}

func (f *Fake) Send(ctx context.Context, key, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent[key] = append(f.Sent[key], message)
	return nil
}

func (f *Fake) Events(ctx context.Context, key string) (gateway.EventStream, error) {
	s := &Stream{ch: make(chan gateway.Event, 64), done: make(chan struct{}), ctx: ctx}
	f.mu.Lock()
	f.streams[key] = append(f.streams[key], s)
	f.opened = append(f.opened, key)
	f.mu.Unlock()
	return s, nil
}

func (f *Fake) ListApprovals(ctx context.Context) ([]gateway.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Approval(nil), f.Approvals...), nil
}

func (f *Fake) ResolveApproval(ctx context.Context, id string, approve bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Resolved[id] = approve
	kept := f.Approvals[:0]
	for _, a := range f.Approvals {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	f.Approvals = kept
	return nil
}

// Stream is a fake event stream fed by Emit.
type Stream struct {
	ch     chan gateway.Event
	done   chan struct{}
	ctx    context.Context
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

// Emit queues an event. It is dropped if the stream is closed.
func (s *Stream) Emit(name, data string) {
	select {
	case s.ch <- gateway.Event{Name: name, Data: data}:
	case <-s.done:
	}
}

// End terminates the stream with io.EOF.
func (s *Stream) End() { s.Close() }

// Closed reports whether the consumer closed the stream.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) Next() (gateway.Event, error) {
	select {
	case ev := <-s.ch:
		return ev, nil
	case <-s.done:
		select {
		case ev := <-s.ch:
			return ev, nil
		default:
		}
		return gateway.Event{}, io.EOF
	case <-s.ctx.Done():
		return gateway.Event{}, s.ctx.Err()
	}
}

func (s *Stream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}

var _ gateway.Client = (*Fake)(nil)
