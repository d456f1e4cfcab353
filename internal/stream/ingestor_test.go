package stream

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/artifact"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/classify"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/gateway"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/gateway/gatewaytest"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/generation"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

type recordSink struct {
	mu        sync.Mutex
	opened    []string
	outputs   []string
	tools     []string
	turns     []classify.Result
	finals    []string
	errs      []string
	artifacts []models.Artifact
}

func (s *recordSink) StreamOpened(id string) { s.mu.Lock(); s.opened = append(s.opened, id); s.mu.Unlock() }
func (s *recordSink) Output(id, text string) { s.mu.Lock(); s.outputs = append(s.outputs, text); s.mu.Unlock() }
func (s *recordSink) Tool(id, name string)   { s.mu.Lock(); s.tools = append(s.tools, name); s.mu.Unlock() }
func (s *recordSink) StreamError(id, m string) {
	s.mu.Lock()
	s.errs = append(s.errs, m)
	s.mu.Unlock()
}
func (s *recordSink) TurnEnded(id string, r classify.Result, final string) {
	s.mu.Lock()
	s.turns = append(s.turns, r)
	s.finals = append(s.finals, final)
	s.mu.Unlock()
}
func (s *recordSink) ArtifactsFound(arts []models.Artifact) {
	s.mu.Lock()
	s.artifacts = append(s.artifacts, arts...)
	s.mu.Unlock()
}

func (s *recordSink) turnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

var team = []models.TeamMember{
	{ID: "a", Name: "Alpha"}, {ID: "b", Name: "Bravo"}, {ID: "c", Name: "Charlie"}, {ID: "d", Name: "Delta"},
}

func allSessions() map[string]models.AgentSession {
	return map[string]models.AgentSession{
		"a": {AgentID: "a", SessionKey: "ka"},
		"b": {AgentID: "b", SessionKey: "kb"},
		"c": {AgentID: "c", SessionKey: "kc"},
		"d": {AgentID: "d", SessionKey: "kd"},
	}
}

func sorted(ids []string) []string {
	sort.Strings(ids)
	return ids
}

func TestSync_CapsStreamsInTeamOrder(t *testing.T) {
	gw := gatewaytest.New()
	in := NewIngestor(gw, &recordSink{}, artifact.NewSet())
	var c generation.Counter

	in.Sync(context.Background(), c.Advance(), team, allSessions(), nil)
	defer in.CloseAll()

	assert.Equal(t, []string{"a", "b", "c"}, sorted(in.Connected()))
	assert.ElementsMatch(t, []string{"ka", "kb", "kc"}, gw.Opened())
}

func TestSync_OpensAsSoonAsSessionExists(t *testing.T) {
	gw := gatewaytest.New()
	in := NewIngestor(gw, &recordSink{}, nil, WithConfig(Config{MaxStreams: 2}))
	var c generation.Counter
	tok := c.Advance()
	defer in.CloseAll()

	in.Sync(context.Background(), tok, team, map[string]models.AgentSession{"b": {SessionKey: "kb"}}, nil)
	assert.Equal(t, []string{"b"}, in.Connected())

	// a gets a session later and takes precedence; c falls outside the cap
	in.Sync(context.Background(), tok, team, map[string]models.AgentSession{"a": {SessionKey: "ka"}, "b": {SessionKey: "kb"}, "c": {SessionKey: "kc"}}, nil)
	assert.Equal(t, []string{"a", "b"}, sorted(in.Connected()))
}

func TestSync_ClosesAgentsLeavingSet(t *testing.T) {
	gw := gatewaytest.New()
	in := NewIngestor(gw, &recordSink{}, nil)
	var c generation.Counter
	tok := c.Advance()
	defer in.CloseAll()

	in.Sync(context.Background(), tok, team, allSessions(), nil)
	sa := gw.Stream("ka")
	require.NotNil(t, sa)

	sessions := allSessions()
	delete(sessions, "a")
	in.Sync(context.Background(), tok, team, sessions, nil)

	assert.True(t, sa.Closed())
	assert.Equal(t, []string{"b", "c", "d"}, sorted(in.Connected()))
}

func TestIngest_EventsFlowToSink(t *testing.T) {
	gw := gatewaytest.New()
	sink := &recordSink{}
	set := artifact.NewSet()
	in := NewIngestor(gw, sink, set)
	var c generation.Counter
	in.Sync(context.Background(), c.Advance(), team[:1], allSessions(), nil)
	defer in.CloseAll()

	s := gw.Stream("ka")
	require.NotNil(t, s)
	s.Emit(gateway.EventOpen, `{}`)
	s.Emit(gateway.EventChunk, `{"text":"Here is the file:\n`+"```go main.go\\npackage main\\n```"+`\n"}`)
	s.Emit(gateway.EventChunk, `{"text":"Here is the file:\n`+"```go main.go\\npackage main\\n```"+`\n"}`)
	s.Emit(gateway.EventTool, `{"name":"write_file"}`)
	s.Emit(gateway.EventMessage, `{"role":"user","text":"ignored"}`)
	s.Emit(gateway.EventDone, `{"text":"All files written. [TASK_COMPLETE]"}`)

	require.Eventually(t, func() bool { return sink.turnCount() == 1 }, time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{"a"}, sink.opened)
	assert.Len(t, sink.outputs, 2, "every chunk reaches the sink")
	assert.Equal(t, []string{"write_file"}, sink.tools)
	assert.Equal(t, classify.Completed, sink.turns[0])
	assert.Equal(t, "All files written. [TASK_COMPLETE]", sink.finals[0])
	require.NotEmpty(t, sink.artifacts)
	assert.Equal(t, "main.go", sink.artifacts[0].Title)
	assert.Equal(t, "Alpha", sink.artifacts[0].AgentName)

	out := in.Output("a")
	assert.Contains(t, out, "[tool] write_file()")
	assert.Greater(t, in.Tokens("a"), 0)
	assert.Equal(t, in.Tokens("a"), in.TotalTokens())
}

func TestIngest_DoneFallsBackToStreamedText(t *testing.T) {
	gw := gatewaytest.New()
	sink := &recordSink{}
	in := NewIngestor(gw, sink, nil)
	var c generation.Counter
	in.Sync(context.Background(), c.Advance(), team[:1], allSessions(), nil)
	defer in.CloseAll()

	s := gw.Stream("ka")
	s.Emit(gateway.EventChunk, `{"delta":"Which color should the logo use?"}`)
	s.Emit(gateway.EventDone, `{}`)
	s.Emit(gateway.EventError, `{"error":"rate limited"}`)

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.errs) == 1
	}, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, classify.WaitingForInput, sink.turns[0])
	assert.Equal(t, "Which color should the logo use?", sink.finals[0])
	assert.Equal(t, "rate limited", sink.errs[0])
}

func TestPruneStale_ReopenOnlyWhenActive(t *testing.T) {
	gw := gatewaytest.New()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	now := func() time.Time { clockMu.Lock(); defer clockMu.Unlock(); return clock }
	in := NewIngestor(gw, &recordSink{}, nil, WithClock(now))
	var c generation.Counter
	tok := c.Advance()
	defer in.CloseAll()

	in.Sync(context.Background(), tok, team[:1], allSessions(), nil)
	first := gw.Stream("ka")

	clockMu.Lock()
	clock = clock.Add(61 * time.Second)
	clockMu.Unlock()
	assert.Equal(t, []string{"a"}, in.PruneStale())
	assert.True(t, first.Closed())
	assert.Empty(t, in.Connected())

	in.Sync(context.Background(), tok, team[:1], allSessions(), func(string) bool { return false })
	assert.Empty(t, in.Connected(), "pruned stream stays closed while the agent is not active")

	in.Sync(context.Background(), tok, team[:1], allSessions(), func(string) bool { return true })
	assert.Equal(t, []string{"a"}, in.Connected())
	assert.NotSame(t, first, gw.Stream("ka"))
}

func TestStaleGenerationStopsIngest(t *testing.T) {
	gw := gatewaytest.New()
	sink := &recordSink{}
	in := NewIngestor(gw, sink, nil)
	var c generation.Counter
	in.Sync(context.Background(), c.Advance(), team[:1], allSessions(), nil)
	defer in.CloseAll()

	c.Advance()
	s := gw.Stream("ka")
	s.Emit(gateway.EventChunk, `{"text":"late output"}`)

	require.Eventually(t, func() bool { return len(in.Connected()) == 0 }, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Empty(t, sink.outputs)
	assert.False(t, strings.Contains(in.Output("a"), "late"))
}

func TestCloseAllAndReset(t *testing.T) {
	gw := gatewaytest.New()
	in := NewIngestor(gw, &recordSink{}, nil)
	var c generation.Counter
	in.Sync(context.Background(), c.Advance(), team, allSessions(), nil)

	in.CloseAll()
	assert.Empty(t, in.Connected())
	for _, k := range []string{"ka", "kb", "kc"} {
		assert.True(t, gw.Stream(k).Closed())
	}
	in.Reset()
	assert.Equal(t, 0, in.TotalTokens())
}
