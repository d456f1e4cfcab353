// Package decompose turns a free-text mission goal into an ordered task list.
package decompose

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/llm"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

// MinFragmentWords is the shortest fragment kept as its own task.
const MinFragmentWords = 3

var (
	sentenceEnd = regexp.MustCompile(`[.!?;]\s+`)
	conjunction = regexp.MustCompile(`(?i)(?:,?\s+and\s+then\s+|,\s*then\s+|,\s+and\s+|\s+and\s+also\s+|\s+as\s+well\s+as\s+)`)
	bullet      = regexp.MustCompile(`^\s*(?:[-*•+]|\d+[.)]|[a-zA-Z][.)])\s+`)
	trailing    = regexp.MustCompile(`[\s.,;:!?]+$`)
)

// Fragments splits and cleans goal into distinct sub-intents, in order.
func Fragments(goal string) []string {
	var raw []string
	for _, line := range strings.Split(goal, "\n") {
		for _, sentence := range sentenceEnd.Split(line, -1) {
			raw = append(raw, conjunction.Split(sentence, -1)...)
		}
	}

	seen := map[string]bool{}
	var out []string
	for _, r := range raw {
		f := Clean(r)
		if len(strings.Fields(f)) < MinFragmentWords {
			continue
		}
		key := strings.ToLower(f)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

// Clean strips bullets, leading numerals and trailing punctuation, and capitalizes.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	for {
		stripped := bullet.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	s = strings.Join(strings.Fields(s), " ")
	s = trailing.ReplaceAllString(s, "")
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

// Decompose emits one task per fragment when the goal has at least two,
// otherwise a single task for the whole goal. Tasks are assigned round-robin
// over team in order; the first task is high priority.
func Decompose(goal string, team []models.TeamMember, missionID string) []models.Task {
	whole := Clean(goal)
	if whole == "" {
		return nil
	}

	titles := []string{whole}
	if frags := Fragments(goal); len(frags) >= 2 {
		titles = titles[:0]
		for _, f := range frags {
			if !strings.EqualFold(f, whole) {
				titles = append(titles, f)
			}
		}
		if len(titles) == 0 {
			titles = []string{whole}
		}
	}

	tasks := make([]models.Task, 0, len(titles))
	for i, title := range titles {
		tasks = append(tasks, newTask(i, title, title, team, missionID))
	}
	return tasks
}

func newTask(i int, title, description string, team []models.TeamMember, missionID string) models.Task {
	now := time.Now().UTC()
	t := models.Task{
		ID:          ulid.Make().String(),
		Title:       title,
		Description: description,
		Priority:    models.TaskPriorityNormal,
		Status:      models.TaskStatusInbox,
		MissionID:   missionID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if i == 0 {
		t.Priority = models.TaskPriorityHigh
	}
	if len(team) > 0 {
		t.AgentID = team[i%len(team)].ID
		t.Status = models.TaskStatusAssigned
	}
	return t
}

// Planner produces a task plan with a model.
type Planner interface {
	DecomposeGoal(ctx context.Context, goal string, team []llm.Member) ([]llm.PlannedTask, error)
}

// Decomposer is the heuristic decomposer with an optional model-backed planner in front.
type Decomposer struct {
	planner Planner
	logger  *slog.Logger
}

// Option configures a Decomposer.
type Option func(*Decomposer)

// WithPlanner enables model-backed planning with heuristic fallback.
func WithPlanner(p Planner) Option {
	return func(d *Decomposer) { d.planner = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Decomposer) { d.logger = l }
}

// New creates a Decomposer.
func New(opts ...Option) *Decomposer {
	d := &Decomposer{logger: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Decompose runs the planner when configured and falls back to the heuristic on error or an empty plan.
func (d *Decomposer) Decompose(ctx context.Context, goal string, team []models.TeamMember, missionID string) []models.Task {
	if strings.TrimSpace(goal) == "" {
		return nil
	}
	if d.planner != nil {
		tasks, err := d.plan(ctx, goal, team, missionID)
		if err == nil && len(tasks) > 0 {
			return tasks
		}
		d.logger.Warn("planner failed, using heuristic decomposition", "error", err)
	}
	return Decompose(goal, team, missionID)
}

func (d *Decomposer) plan(ctx context.Context, goal string, team []models.TeamMember, missionID string) ([]models.Task, error) {
	members := make([]llm.Member, len(team))
	for i, m := range team {
		members[i] = llm.Member{ID: m.ID, Name: m.Name, Role: m.RoleDescription}
	}
	planned, err := d.planner.DecomposeGoal(ctx, goal, members)
	if err != nil {
		return nil, err
	}

	tasks := make([]models.Task, 0, len(planned))
	for i, p := range planned {
		desc := p.Description
		if desc == "" {
			desc = p.Title
		}
		t := newTask(i, Clean(p.Title), desc, team, missionID)
		if id := matchMember(p.Agent, team); id != "" {
			t.AgentID = id
		}
		if p.Priority == string(models.TaskPriorityHigh) {
			t.Priority = models.TaskPriorityHigh
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func matchMember(ref string, team []models.TeamMember) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	for _, m := range team {
		if strings.EqualFold(m.ID, ref) || strings.EqualFold(m.Name, ref) {
			return m.ID
		}
	}
	return ""
}
