// Package mission runs one mission at a time: it decomposes the goal,
// spawns sessions, dispatches tasks, ingests output, reconciles status and
// detects completion, then writes the report and archives the checkpoint.
//
// Every asynchronous chain carries the generation token of the launch that
// started it. Launching, stopping or aborting advances the generation, so
// results that arrive for a superseded mission are dropped.
package mission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/artifact"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/checkpoint"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/completion"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/decompose"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/dispatch"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/gateway"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/generation"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/report"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/sessions"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/status"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/store"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/stream"
)

var (
	ErrEmptyGoal       = errors.New("mission goal is empty")
	ErrNoTeam          = errors.New("mission team is empty")
	ErrNoMission       = errors.New("no mission is running")
	ErrUnknownApproval = errors.New("unknown approval")
	ErrUnknownAgent    = errors.New("unknown agent")
	ErrUnknownTopology = errors.New("unknown topology")
)

// LaunchRequest starts a mission. An empty Team uses the stored roster and
// an empty Topology uses the configured default.
type LaunchRequest struct {
	Goal     string              `json:"goal"`
	Topology models.Topology     `json:"topology,omitempty"`
	Team     []models.TeamMember `json:"team,omitempty"`
}

// run is the state of one launched mission.
type run struct {
	id         string
	goal       string
	topology   models.Topology
	team       []models.TeamMember
	tok        generation.Token
	board      *dispatch.Board
	dispatcher *dispatch.Dispatcher
	startedAt  time.Time
	cancel     context.CancelFunc
	finished   bool
	status     models.MissionStatus
	reportID   string
}

func (r *run) plan() dispatch.Plan {
	return dispatch.Plan{MissionID: r.id, Goal: r.goal, Topology: r.topology, Team: r.team}
}

func (r *run) agentIDs() []string {
	ids := make([]string, len(r.team))
	for i, m := range r.team {
		ids[i] = m.ID
	}
	return ids
}

func (r *run) member(agentID string) (models.TeamMember, bool) {
	for _, m := range r.team {
		if m.ID == agentID {
			return m, true
		}
	}
	return models.TeamMember{}, false
}

// Engine orchestrates missions against a gateway.
type Engine struct {
	cfg    Config
	gw     gateway.Client
	st     store.Store
	logger *slog.Logger
	now    func() time.Time

	planner     decompose.Planner
	gen         generation.Counter
	sessions    *sessions.Manager
	status      *status.Reconciler
	artifacts   *artifact.Set
	ingestor    *stream.Ingestor
	detector    *completion.Detector
	checkpoints *checkpoint.Manager
	decomposer  *decompose.Decomposer
	reports     *report.Generator

	launchMu sync.Mutex // serializes Launch, Stop and Abort

	mu         sync.Mutex
	cur        *run
	activity   []models.ActivityEvent
	approvals  map[string]*models.ApprovalRequest
	lastReport *models.MissionReport
	loops      sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine settings. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithStore persists teams, sessions, checkpoints, reports and approvals.
// Without a store the engine runs in memory only.
func WithStore(st store.Store) Option {
	return func(e *Engine) { e.st = st }
}

// WithPlanner enables LLM goal decomposition with the heuristic as fallback.
func WithPlanner(p decompose.Planner) Option {
	return func(e *Engine) { e.planner = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine over gw.
func New(gw gateway.Client, opts ...Option) *Engine {
	e := &Engine{
		cfg:       DefaultConfig(),
		gw:        gw,
		logger:    slog.Default(),
		now:       time.Now,
		approvals: map[string]*models.ApprovalRequest{},
	}
	for _, o := range opts {
		o(e)
	}
	e.cfg = e.cfg.withDefaults()

	sessOpts := []sessions.Option{
		sessions.WithDefaultModel(e.cfg.DefaultModel),
		sessions.WithLogger(e.logger),
		sessions.WithOnReady(e.sessionReady),
	}
	if e.st != nil {
		sessOpts = append(sessOpts, sessions.WithStore(e.st))
	}
	e.sessions = sessions.NewManager(gw, sessOpts...)

	e.status = status.NewReconciler(
		status.WithWindows(e.cfg.windows()),
		status.WithLogger(e.logger),
		status.WithOnChange(e.statusChanged),
	)
	e.artifacts = artifact.NewSet()
	e.ingestor = stream.NewIngestor(gw, sink{e}, e.artifacts,
		stream.WithConfig(stream.Config{MaxStreams: e.cfg.MaxStreams, StaleAfter: e.cfg.StreamStaleAfter}),
		stream.WithLogger(e.logger),
	)
	e.detector = completion.New(e.status, e.completed,
		completion.WithSettleDelay(e.cfg.SettleDelay),
		completion.WithLogger(e.logger),
	)

	var cpStore checkpoint.Store
	if e.st != nil {
		cpStore = e.st
	}
	e.checkpoints = checkpoint.New(cpStore,
		checkpoint.WithHistoryLimit(e.cfg.HistoryLimit),
		checkpoint.WithLogger(e.logger),
	)

	decOpts := []decompose.Option{decompose.WithLogger(e.logger)}
	if e.planner != nil {
		decOpts = append(decOpts, decompose.WithPlanner(e.planner))
	}
	e.decomposer = decompose.New(decOpts...)
	e.reports = report.New(report.WithCostPer1K(e.cfg.CostPer1KTokens))
	return e
}

// current returns the live run, or nil.
func (e *Engine) current() *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur == nil || e.cur.finished {
		return nil
	}
	return e.cur
}

// Launch starts a mission and returns its id. Sessions are spawned and
// tasks dispatched in the background. A running mission is aborted first.
func (e *Engine) Launch(ctx context.Context, req LaunchRequest) (string, error) {
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return "", ErrEmptyGoal
	}
	topology := req.Topology
	if topology == "" {
		topology = e.cfg.Topology
	}
	if !topology.Valid() {
		return "", fmt.Errorf("%w %q", ErrUnknownTopology, topology)
	}
	team := req.Team
	if len(team) == 0 && e.st != nil {
		stored, err := e.st.ListTeamMembers(ctx)
		if err != nil {
			return "", fmt.Errorf("load team: %w", err)
		}
		team = stored
	}
	if len(team) == 0 {
		return "", ErrNoTeam
	}
	team = append([]models.TeamMember(nil), team...)

	// A goal that cleans to nothing must not disturb the running mission.
	id := ulid.Make().String()
	tasks := e.decomposer.Decompose(ctx, goal, team, id)
	if len(tasks) == 0 {
		return "", ErrEmptyGoal
	}

	e.launchMu.Lock()
	defer e.launchMu.Unlock()
	if r := e.current(); r != nil {
		e.logger.Info("superseding running mission", "mission", r.id)
		if _, err := e.finish(ctx, r, models.MissionStatusAborted); err != nil && !errors.Is(err, ErrNoMission) {
			e.logger.Warn("abort superseded mission failed", "error", err)
		}
	}

	tok := e.gen.Advance()
	e.ingestor.Reset()
	e.sessions.Reset(id)
	e.status.Reset()
	e.artifacts.Reset()

	r := &run{
		id:        id,
		goal:      goal,
		topology:  topology,
		team:      team,
		tok:       tok,
		startedAt: e.now().UTC(),
		status:    models.MissionStatusRunning,
	}
	e.detector.Reset(r.agentIDs())
	e.checkpoints.Start(ctx, models.MissionCheckpoint{
		ID:          id,
		Label:       goal,
		ProcessType: topology,
		Team:        team,
		Tasks:       tasks,
		Status:      models.MissionStatusRunning,
		StartedAt:   r.startedAt,
	})
	r.board = dispatch.NewBoard(tasks, func(ts []models.Task) {
		if !tok.Stale() {
			e.checkpoints.SaveTasks(context.Background(), ts)
		}
	})
	r.dispatcher = dispatch.New(e.gw, r.board, e.sessions, &hooks{e: e, tok: tok},
		dispatch.WithStagger(e.cfg.Stagger),
		dispatch.WithLogger(e.logger),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel

	e.mu.Lock()
	e.cur = r
	e.approvals = map[string]*models.ApprovalRequest{}
	e.activity = nil
	e.mu.Unlock()

	e.record(models.ActivityEvent{Kind: models.ActivitySystem, Text: fmt.Sprintf("mission launched: %d tasks, %d agents, %s", len(tasks), len(team), topology)})
	e.logger.Info("mission launched", "mission", id, "tasks", len(tasks), "agents", len(team), "topology", topology)

	e.loops.Add(1)
	go e.loop(runCtx, r)
	return id, nil
}

// loop spawns sessions, dispatches and then ticks until the mission ends.
func (e *Engine) loop(ctx context.Context, r *run) {
	defer e.loops.Done()

	if err := e.sessions.EnsureSessions(ctx, r.tok, r.team); err != nil {
		e.logger.Warn("some agent sessions failed", "mission", r.id, "error", err)
	}
	if r.tok.Stale() {
		return
	}
	e.syncStreams(ctx, r)

	if err := r.dispatcher.Dispatch(ctx, r.tok, r.plan()); err != nil {
		e.logger.Warn("dispatch failed", "mission", r.id, "error", err)
	}
	if r.tok.Stale() {
		return
	}
	e.detector.Arm()
	e.detector.Check(r.tok)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.tok.Stale() {
				return
			}
			e.tick(ctx, r)
		}
	}
}

// tick polls status, prunes and reopens streams and pulls gateway approvals.
func (e *Engine) tick(ctx context.Context, r *run) {
	if err := e.status.Poll(ctx, r.tok, e.gw, e.sessionKeys()); err != nil {
		e.logger.Debug("status poll failed", "mission", r.id, "error", err)
	}
	if pruned := e.ingestor.PruneStale(); len(pruned) > 0 {
		e.logger.Debug("pruned stale streams", "agents", pruned)
	}
	e.syncStreams(ctx, r)
	e.pollApprovals(ctx, r)
	e.detector.Check(r.tok)
}

func (e *Engine) syncStreams(ctx context.Context, r *run) {
	e.ingestor.Sync(ctx, r.tok, r.team, e.sessions.Sessions(), func(agentID string) bool {
		return e.status.Status(agentID) == models.AgentStateActive
	})
}

func (e *Engine) sessionKeys() map[string]string {
	keys := map[string]string{}
	for id, s := range e.sessions.Sessions() {
		keys[id] = s.SessionKey
	}
	return keys
}

// sessionReady persists a new session and opens its stream right away.
func (e *Engine) sessionReady(s models.AgentSession) {
	r := e.current()
	if r == nil || r.tok.Stale() {
		return
	}
	e.checkpoints.SaveSession(context.Background(), s)
	e.record(models.ActivityEvent{AgentID: s.AgentID, Kind: models.ActivitySystem, Text: "session ready: " + s.SessionKey})
	e.syncStreams(context.Background(), r)
}

// completed is the completion detector's callback.
func (e *Engine) completed(tok generation.Token, reason completion.Reason) {
	e.mu.Lock()
	r := e.cur
	e.mu.Unlock()
	if r == nil || r.tok.ID() != tok.ID() {
		return
	}
	e.logger.Info("mission completion confirmed", "mission", r.id, "reason", reason)
	if _, err := e.finish(context.Background(), r, models.MissionStatusCompleted); err != nil && !errors.Is(err, ErrNoMission) {
		e.logger.Warn("finish mission failed", "mission", r.id, "error", err)
	}
}

// finish tears a mission down, writes its report and archives its checkpoint.
// It runs at most once per mission.
func (e *Engine) finish(ctx context.Context, r *run, final models.MissionStatus) (*models.MissionReport, error) {
	e.mu.Lock()
	if e.cur != r || r.finished {
		e.mu.Unlock()
		return nil, ErrNoMission
	}
	r.finished = true
	r.status = final
	e.mu.Unlock()

	r.cancel()
	e.gen.Advance()
	e.ingestor.CloseAll()
	e.ingestor.ScanAll()

	if err := e.sessions.KillAll(ctx); err != nil {
		e.logger.Warn("kill sessions failed", "mission", r.id, "error", err)
	}

	outputs := make(map[string]string, len(r.team))
	for _, m := range r.team {
		outputs[m.ID] = e.ingestor.Output(m.ID)
	}
	rep := e.reports.Generate(report.Input{
		MissionID: r.id,
		Goal:      r.goal,
		Team:      r.team,
		Sessions:  e.sessions.Sessions(),
		Tasks:     r.board.Tasks(),
		Outputs:   outputs,
		Tokens:    e.ingestor.TotalTokens(),
		Artifacts: e.artifacts.List(),
		StartedAt: r.startedAt,
		EndedAt:   e.now().UTC(),
		Aborted:   final == models.MissionStatusAborted,
	})
	if e.st != nil {
		if err := e.st.SaveReport(ctx, &rep, e.cfg.ReportHistoryLimit); err != nil {
			e.logger.Warn("save report failed", "mission", r.id, "error", err)
		}
	}
	e.checkpoints.Finish(ctx, final)

	e.mu.Lock()
	r.reportID = rep.ID
	e.lastReport = &rep
	e.mu.Unlock()

	e.record(models.ActivityEvent{Kind: models.ActivitySystem, Text: fmt.Sprintf("mission %s: %s", final, rep.Outcome)})
	e.logger.Info("mission finished", "mission", r.id, "status", final, "outcome", rep.Outcome,
		"done", rep.TaskStats.Done, "total", rep.TaskStats.Total, "tokens", rep.TokenCount)
	return &rep, nil
}

// Shutdown stops background work without finishing the mission. The
// checkpoint stays running so the next process can offer to abort it.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	r := e.cur
	e.mu.Unlock()
	if r != nil && r.cancel != nil {
		r.cancel()
	}
	e.gen.Advance()
	e.ingestor.CloseAll()
	e.loops.Wait()
}
