// Package report builds the markdown mission report written when a mission stops.
package report

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/artifact"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

const (
	// SummaryLimit bounds the executive summary.
	SummaryLimit = 200
	// MaxFindings bounds the key findings list.
	MaxFindings = 5

	excerptHead = 15
	excerptTail = 5
)

// AbortMarkers in agent output classify a mission as aborted.
var AbortMarkers = []string{"[ABORTED]", "[MISSION_ABORTED]"}

// Input is everything the generator needs from a finished mission.
type Input struct {
	MissionID string
	Goal      string
	Team      []models.TeamMember
	Sessions  map[string]models.AgentSession
	Tasks     []models.Task
	Outputs   map[string]string // agent id -> accumulated output
	Tokens    int
	Artifacts []models.Artifact
	StartedAt time.Time
	EndedAt   time.Time
	Aborted   bool
}

// Generator renders MissionReports.
type Generator struct {
	costPer1K float64
}

// Option configures a Generator.
type Option func(*Generator)

// WithCostPer1K sets the estimated cost per thousand tokens.
func WithCostPer1K(c float64) Option {
	return func(g *Generator) { g.costPer1K = c }
}

// New creates a Generator.
func New(opts ...Option) *Generator {
	g := &Generator{costPer1K: 0.01}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate builds the report for in.
func (g *Generator) Generate(in Input) models.MissionReport {
	stats := models.CountTasks(in.Tasks)
	combined := g.combined(in)
	outcome := Classify(stats, in.Aborted || hasAbortMarker(combined), strings.TrimSpace(combined) != "")

	end := in.EndedAt
	if end.IsZero() {
		end = time.Now().UTC()
	}
	var dur time.Duration
	if !in.StartedAt.IsZero() {
		dur = end.Sub(in.StartedAt).Round(time.Second)
	}

	r := models.MissionReport{
		ID:           ulid.Make().String(),
		MissionID:    in.MissionID,
		Goal:         in.Goal,
		Outcome:      outcome,
		TaskStats:    stats,
		Duration:     dur,
		TokenCount:   in.Tokens,
		CostEstimate: EstimateCost(in.Tokens, g.costPer1K),
		Artifacts:    in.Artifacts,
		CompletedAt:  end,
	}
	r.ReportText = g.render(in, r, combined)
	return r
}

// Classify derives the mission outcome.
func Classify(stats models.TaskStats, aborted, hasOutput bool) models.Outcome {
	switch {
	case aborted:
		return models.OutcomeAborted
	case !hasOutput:
		return models.OutcomeNoOutput
	case stats.Total > 0 && stats.Done == stats.Total:
		return models.OutcomeComplete
	default:
		return models.OutcomePartial
	}
}

// EstimateCost returns the estimated spend for tokens.
func EstimateCost(tokens int, per1K float64) float64 {
	return float64(tokens) / 1000 * per1K
}

func hasAbortMarker(text string) bool {
	upper := strings.ToUpper(text)
	for _, m := range AbortMarkers {
		if strings.Contains(upper, m) {
			return true
		}
	}
	return false
}

// combined joins agent outputs in team order.
func (g *Generator) combined(in Input) string {
	var parts []string
	for _, m := range in.Team {
		if out := strings.TrimSpace(artifact.StripMetadata(in.Outputs[m.ID])); out != "" {
			parts = append(parts, out)
		}
	}
	return strings.Join(parts, "\n\n")
}

var (
	headingRe  = regexp.MustCompile(`^\s*(?:#{1,6}\s+|\*\*)?\s*([^#*]+?)\s*(?:\*\*)?\s*:?\s*$`)
	bulletRe   = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+(.+)$`)
	summaryRe  = regexp.MustCompile(`(?i)^(executive summary|summary|overview|tl;?dr)$`)
	findingsRe = regexp.MustCompile(`(?i)^key findings$`)
)

// heading returns the heading text of line, or "" when it is not a heading.
// Markdown headings, bold-only lines and short "Title:" lines count.
func heading(line string) string {
	t := strings.TrimSpace(line)
	if t == "" {
		return ""
	}
	isMD := strings.HasPrefix(t, "#")
	isBold := strings.HasPrefix(t, "**") && strings.HasSuffix(strings.TrimSuffix(t, ":"), "**")
	isLabel := strings.HasSuffix(t, ":") && len(strings.Fields(t)) <= 4
	if !isMD && !isBold && !isLabel {
		return ""
	}
	m := headingRe.FindStringSubmatch(t)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// section returns the lines under the first heading matching re.
func section(lines []string, re *regexp.Regexp) []string {
	for i, l := range lines {
		if h := heading(l); h != "" && re.MatchString(h) {
			var out []string
			for _, next := range lines[i+1:] {
				if heading(next) != "" {
					break
				}
				out = append(out, next)
			}
			return out
		}
	}
	return nil
}

func isProse(line string) bool {
	t := strings.TrimSpace(line)
	return t != "" && heading(t) == "" && !bulletRe.MatchString(t) &&
		!strings.HasPrefix(t, "```") && !strings.HasPrefix(t, "|") && !strings.HasPrefix(t, ">")
}

// ExecutiveSummary takes the first Summary/Overview section, or else the
// first prose lines, truncated at a sentence boundary.
func ExecutiveSummary(text string) string {
	lines := strings.Split(text, "\n")
	var picked []string
	for _, l := range section(lines, summaryRe) {
		if t := strings.TrimSpace(l); t != "" {
			if m := bulletRe.FindStringSubmatch(t); m != nil {
				t = m[1]
			}
			picked = append(picked, t)
		}
	}
	if len(picked) == 0 {
		inFence := false
		for _, l := range lines {
			t := strings.TrimSpace(l)
			if strings.HasPrefix(t, "```") {
				if len(picked) > 0 {
					break
				}
				inFence = !inFence
				continue
			}
			if inFence {
				continue
			}
			if isProse(l) {
				picked = append(picked, t)
				continue
			}
			if len(picked) > 0 {
				break
			}
		}
	}
	return truncateSentence(strings.Join(picked, " "), SummaryLimit)
}

func truncateSentence(s string, limit int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	cut := string(r[:limit])
	if i := strings.LastIndexAny(cut, ".!?"); i > 0 {
		return cut[:i+1]
	}
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}

// KeyFindings returns up to MaxFindings items from a "Key Findings" section,
// or else the longest bullet and numbered lines.
func KeyFindings(text string) []string {
	lines := strings.Split(text, "\n")
	var items []string
	for _, l := range section(lines, findingsRe) {
		if m := bulletRe.FindStringSubmatch(l); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
		}
	}
	if len(items) > 0 {
		return items[:min(len(items), MaxFindings)]
	}

	seen := map[string]bool{}
	for _, l := range lines {
		m := bulletRe.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		item := strings.TrimSpace(m[1])
		if seen[strings.ToLower(item)] {
			continue
		}
		seen[strings.ToLower(item)] = true
		items = append(items, item)
	}
	slices.SortStableFunc(items, func(a, b string) int { return len(b) - len(a) })
	return items[:min(len(items), MaxFindings)]
}

// Excerpt shortens long agent output to its head, detected summary and tail.
func Excerpt(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) <= excerptHead+excerptTail+5 {
		return strings.Join(lines, "\n")
	}
	out := append([]string(nil), lines[:excerptHead]...)
	if sum := section(lines[excerptHead:len(lines)-excerptTail], summaryRe); len(sum) > 0 {
		out = append(out, "", "[summary]")
		out = append(out, sum...)
	}
	out = append(out, "", fmt.Sprintf("[... %d lines omitted ...]", len(lines)-excerptHead-excerptTail), "")
	out = append(out, lines[len(lines)-excerptTail:]...)
	return strings.Join(out, "\n")
}

func (g *Generator) render(in Input, r models.MissionReport, combined string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Mission Report\n\n**Goal:** %s\n\n", strings.TrimSpace(in.Goal))
	fmt.Fprintf(&sb, "- Outcome: %s\n", r.Outcome)
	fmt.Fprintf(&sb, "- Tasks: %d/%d done", r.TaskStats.Done, r.TaskStats.Total)
	if r.TaskStats.Blocked > 0 {
		fmt.Fprintf(&sb, ", %d blocked", r.TaskStats.Blocked)
	}
	sb.WriteString("\n")
	if r.Duration > 0 {
		fmt.Fprintf(&sb, "- Duration: %s\n", r.Duration)
	}
	fmt.Fprintf(&sb, "- Tokens: %d (est. $%.4f)\n", r.TokenCount, r.CostEstimate)
	if !r.CompletedAt.IsZero() {
		fmt.Fprintf(&sb, "- Completed: %s\n", r.CompletedAt.Format(time.RFC3339))
	}

	if s := ExecutiveSummary(combined); s != "" {
		fmt.Fprintf(&sb, "\n## Executive Summary\n\n%s\n", s)
	}
	if findings := KeyFindings(combined); len(findings) > 0 {
		sb.WriteString("\n## Key Findings\n\n")
		for _, f := range findings {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}

	sb.WriteString("\n## Team\n\n")
	for _, m := range in.Team {
		fmt.Fprintf(&sb, "- **%s**", m.Name)
		if m.RoleDescription != "" {
			fmt.Fprintf(&sb, " (%s)", m.RoleDescription)
		}
		if s, ok := in.Sessions[m.ID]; ok && s.ModelUsed != "" {
			fmt.Fprintf(&sb, " `%s`", s.ModelUsed)
		}
		sb.WriteString("\n")
	}

	if len(in.Tasks) > 0 {
		names := map[string]string{}
		for _, m := range in.Team {
			names[m.ID] = m.Name
		}
		sb.WriteString("\n## Tasks\n\n")
		for _, t := range in.Tasks {
			box := " "
			if t.Status == models.TaskStatusDone {
				box = "x"
			}
			fmt.Fprintf(&sb, "- [%s] %s", box, t.Title)
			if n := names[t.AgentID]; n != "" {
				fmt.Fprintf(&sb, " (%s)", n)
			}
			if t.Status != models.TaskStatusDone {
				fmt.Fprintf(&sb, " _%s_", t.Status)
			}
			sb.WriteString("\n")
		}
	}

	if len(in.Artifacts) > 0 {
		sb.WriteString("\n## Artifacts\n\n")
		for _, a := range in.Artifacts {
			fmt.Fprintf(&sb, "- %s [%s] by %s\n", a.Title, a.Type, a.AgentName)
		}
	}

	sb.WriteString("\n## Agent Output\n")
	for _, m := range in.Team {
		out := strings.TrimSpace(artifact.StripMetadata(in.Outputs[m.ID]))
		fmt.Fprintf(&sb, "\n### %s\n\n", m.Name)
		if out == "" {
			sb.WriteString("_No output._\n")
			continue
		}
		fmt.Fprintf(&sb, "````text\n%s\n````\n", Excerpt(out))
	}
	return sb.String()
}
