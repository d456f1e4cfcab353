// Package stream maintains the live event connections to agent sessions
// and turns their output into buffers, token estimates and turn verdicts.
package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/artifact"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/classify"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/gateway"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/generation"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

// DefaultMaxStreams caps concurrent live connections.
const DefaultMaxStreams = 3

// Sink receives everything the ingestor observes. Calls for one agent are
// ordered; calls for different agents may be concurrent.
type Sink interface {
	StreamOpened(agentID string)
	Output(agentID, text string)
	Tool(agentID, name string)
	TurnEnded(agentID string, result classify.Result, final string)
	StreamError(agentID, message string)
	ArtifactsFound(arts []models.Artifact)
}

// Config holds the ingestor's limits.
type Config struct {
	MaxStreams int
	StaleAfter time.Duration
	MaxLines   int
	ScanEvery  time.Duration
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxStreams: DefaultMaxStreams,
		StaleAfter: 60 * time.Second,
		MaxLines:   DefaultMaxLines,
		ScanEvery:  3 * time.Second,
	}
}

type conn struct {
	agentID      string
	key          string
	stream       gateway.EventStream
	cancel       context.CancelFunc
	lastActivity time.Time
}

// Ingestor owns the per-agent output buffers and stream connections.
type Ingestor struct {
	gw         gateway.Client
	sink       Sink
	artifacts  *artifact.Set
	classifier *classify.Classifier
	cfg        Config
	now        func() time.Time
	logger     *slog.Logger

	mu       sync.Mutex
	conns    map[string]*conn
	pruned   map[string]bool
	buffers  map[string]*Buffer
	names    map[string]string
	lastScan map[string]time.Time
	wg       sync.WaitGroup
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithConfig overrides the limits. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(in *Ingestor) {
		if cfg.MaxStreams > 0 {
			in.cfg.MaxStreams = cfg.MaxStreams
		}
		if cfg.StaleAfter > 0 {
			in.cfg.StaleAfter = cfg.StaleAfter
		}
		if cfg.MaxLines > 0 {
			in.cfg.MaxLines = cfg.MaxLines
		}
		if cfg.ScanEvery > 0 {
			in.cfg.ScanEvery = cfg.ScanEvery
		}
	}
}

// WithClassifier overrides the turn classifier.
func WithClassifier(c *classify.Classifier) Option {
	return func(in *Ingestor) { in.classifier = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(in *Ingestor) { in.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Ingestor) { in.logger = l }
}

// NewIngestor creates an Ingestor that reports to sink and merges artifacts into set.
func NewIngestor(gw gateway.Client, sink Sink, set *artifact.Set, opts ...Option) *Ingestor {
	in := &Ingestor{
		gw:         gw,
		sink:       sink,
		artifacts:  set,
		classifier: classify.New(nil),
		cfg:        DefaultConfig(),
		now:        time.Now,
		logger:     slog.Default(),
		conns:      map[string]*conn{},
		pruned:     map[string]bool{},
		buffers:    map[string]*Buffer{},
		names:      map[string]string{},
		lastScan:   map[string]time.Time{},
	}
	for _, o := range opts {
		o(in)
	}
	return in
}

// Sync reconciles live connections with the team. The first MaxStreams
// members with a session get a connection, opened regardless of status.
// A connection pruned as stale is reopened only when reopen(agentID) is true.
func (in *Ingestor) Sync(ctx context.Context, tok generation.Token, team []models.TeamMember, sessions map[string]models.AgentSession, reopen func(agentID string) bool) {
	if tok.Stale() {
		return
	}
	want := map[string]string{}
	var order []string
	for _, m := range team {
		if len(order) >= in.cfg.MaxStreams {
			break
		}
		if s, ok := sessions[m.ID]; ok && s.SessionKey != "" {
			want[m.ID] = s.SessionKey
			order = append(order, m.ID)
		}
	}

	in.mu.Lock()
	for _, m := range team {
		in.names[m.ID] = m.Name
	}
	var closing []*conn
	for id, c := range in.conns {
		if key, ok := want[id]; !ok || key != c.key {
			closing = append(closing, c)
			delete(in.conns, id)
			delete(in.pruned, id)
		}
	}
	var opening []string
	for _, id := range order {
		if _, ok := in.conns[id]; ok {
			continue
		}
		if in.pruned[id] && (reopen == nil || !reopen(id)) {
			continue
		}
		opening = append(opening, id)
	}
	in.mu.Unlock()

	for _, c := range closing {
		in.closeConn(c, "left active set")
	}
	for _, id := range opening {
		in.open(ctx, tok, id, want[id])
	}
}

func (in *Ingestor) open(ctx context.Context, tok generation.Token, agentID, key string) {
	cctx, cancel := context.WithCancel(ctx)
	stream, err := in.gw.Events(cctx, key)
	if err != nil {
		cancel()
		in.logger.Warn("open event stream failed", "agent", agentID, "error", err)
		return
	}
	c := &conn{agentID: agentID, key: key, stream: stream, cancel: cancel, lastActivity: in.now()}

	in.mu.Lock()
	if tok.Stale() {
		in.mu.Unlock()
		cancel()
		_ = stream.Close()
		return
	}
	if _, dup := in.conns[agentID]; dup {
		in.mu.Unlock()
		cancel()
		_ = stream.Close()
		return
	}
	in.conns[agentID] = c
	delete(in.pruned, agentID)
	if in.buffers[agentID] == nil {
		in.buffers[agentID] = NewBuffer(in.cfg.MaxLines)
	}
	in.wg.Add(1)
	in.mu.Unlock()

	in.logger.Debug("event stream opened", "agent", agentID, "session", key)
	go in.read(tok, c)
}

func (in *Ingestor) read(tok generation.Token, c *conn) {
	defer in.wg.Done()
	defer func() {
		in.mu.Lock()
		if in.conns[c.agentID] == c {
			delete(in.conns, c.agentID)
		}
		in.mu.Unlock()
		c.cancel()
		_ = c.stream.Close()
	}()

	for {
		ev, err := c.stream.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				in.logger.Debug("event stream ended", "agent", c.agentID, "error", err)
			}
			return
		}
		if tok.Stale() {
			return
		}
		in.handle(c, ev)
	}
}

func (in *Ingestor) handle(c *conn, ev gateway.Event) {
	id := c.agentID
	now := in.now()
	in.mu.Lock()
	c.lastActivity = now
	buf := in.buffers[id]
	in.mu.Unlock()

	switch ev.Name {
	case gateway.EventOpen:
		in.sink.StreamOpened(id)

	case gateway.EventChunk:
		text := ev.Text()
		in.mu.Lock()
		kept := buf.AppendChunk(text)
		in.mu.Unlock()
		if kept {
			in.sink.Output(id, text)
			in.scan(id, false)
		}

	case gateway.EventTool:
		name := ev.ToolName()
		if name == "" {
			name = "tool"
		}
		in.mu.Lock()
		buf.AppendTool(name)
		in.mu.Unlock()
		in.sink.Tool(id, name)

	case gateway.EventMessage:
		if ev.Role() == "user" {
			return
		}
		in.mu.Lock()
		buf.AppendMessage(ev.Text())
		in.mu.Unlock()

	case gateway.EventDone:
		in.mu.Lock()
		final := buf.EndTurn(ev.Text())
		in.mu.Unlock()
		in.scan(id, true)
		result, rule := in.classifier.Classify(final)
		in.logger.Debug("turn classified", "agent", id, "result", result, "rule", rule)
		in.sink.TurnEnded(id, result, final)

	case gateway.EventError:
		in.sink.StreamError(id, ev.ErrorText())
	}
}

// scan runs artifact extraction over an agent's buffer, at most once per
// ScanEvery unless forced.
func (in *Ingestor) scan(agentID string, force bool) {
	if in.artifacts == nil {
		return
	}
	now := in.now()
	in.mu.Lock()
	if !force && now.Sub(in.lastScan[agentID]) < in.cfg.ScanEvery {
		in.mu.Unlock()
		return
	}
	in.lastScan[agentID] = now
	buf := in.buffers[agentID]
	var text string
	if buf != nil {
		text = buf.Text()
	}
	name := in.names[agentID]
	in.mu.Unlock()

	if text == "" {
		return
	}
	if added := in.artifacts.Add(artifact.Extract(agentID, name, text, now)...); len(added) > 0 {
		in.sink.ArtifactsFound(added)
	}
}

// ScanAll forces an artifact scan of every buffer.
func (in *Ingestor) ScanAll() {
	in.mu.Lock()
	ids := make([]string, 0, len(in.buffers))
	for id := range in.buffers {
		ids = append(ids, id)
	}
	in.mu.Unlock()
	for _, id := range ids {
		in.scan(id, true)
	}
}

// PruneStale closes connections with no activity for StaleAfter. It returns the pruned agent ids.
func (in *Ingestor) PruneStale() []string {
	now := in.now()
	in.mu.Lock()
	var stale []*conn
	for id, c := range in.conns {
		if now.Sub(c.lastActivity) >= in.cfg.StaleAfter {
			stale = append(stale, c)
			delete(in.conns, id)
			in.pruned[id] = true
		}
	}
	in.mu.Unlock()

	ids := make([]string, 0, len(stale))
	for _, c := range stale {
		in.closeConn(c, "stale")
		ids = append(ids, c.agentID)
	}
	return ids
}

func (in *Ingestor) closeConn(c *conn, reason string) {
	c.cancel()
	_ = c.stream.Close()
	in.logger.Debug("event stream closed", "agent", c.agentID, "reason", reason)
}

// CloseAll closes every connection and waits for readers to exit.
func (in *Ingestor) CloseAll() {
	in.mu.Lock()
	conns := make([]*conn, 0, len(in.conns))
	for _, c := range in.conns {
		conns = append(conns, c)
	}
	in.conns = map[string]*conn{}
	in.pruned = map[string]bool{}
	in.mu.Unlock()

	for _, c := range conns {
		in.closeConn(c, "teardown")
	}
	in.wg.Wait()
}

// Reset closes all connections and drops all buffers.
func (in *Ingestor) Reset() {
	in.CloseAll()
	in.mu.Lock()
	in.buffers = map[string]*Buffer{}
	in.lastScan = map[string]time.Time{}
	in.mu.Unlock()
}

// Connected returns the agent ids with a live connection.
func (in *Ingestor) Connected() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	ids := make([]string, 0, len(in.conns))
	for id := range in.conns {
		ids = append(ids, id)
	}
	return ids
}

// Output returns an agent's buffered output.
func (in *Ingestor) Output(agentID string) string {
	in.mu.Lock()
	defer in.mu.Unlock()
	if b := in.buffers[agentID]; b != nil {
		return b.Text()
	}
	return ""
}

// Tokens returns an agent's token estimate.
func (in *Ingestor) Tokens(agentID string) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	if b := in.buffers[agentID]; b != nil {
		return b.Tokens()
	}
	return 0
}

// TotalTokens sums the token estimates of every agent.
func (in *Ingestor) TotalTokens() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	total := 0
	for _, b := range in.buffers {
		total += b.Tokens()
	}
	return total
}
