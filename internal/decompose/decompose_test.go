package decompose

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/llm"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

var team = []models.TeamMember{{ID: "a", Name: "Scout"}, {ID: "b", Name: "Scribe"}}

func titles(tasks []models.Task) []string {
	var out []string
	for _, t := range tasks {
		out = append(out, t.Title)
	}
	return out
}

func TestClean(t *testing.T) {
	tests := []struct{ in, want string }{
		{"- research the market.", "Research the market"},
		{"  2) write   the report!!", "Write the report"},
		{"* 1. nested bullet;", "Nested bullet"},
		{"ésta es una tarea", "Ésta es una tarea"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clean(tt.in), tt.in)
	}
}

func TestDecompose_SentencesAndConjunctions(t *testing.T) {
	goal := "Research the top 5 competitors. Write a summary report, and then draft a launch email."
	tasks := Decompose(goal, team, "m1")

	assert.Equal(t, []string{"Research the top 5 competitors", "Write a summary report", "Draft a launch email"}, titles(tasks))
	assert.Equal(t, "a", tasks[0].AgentID)
	assert.Equal(t, "b", tasks[1].AgentID)
	assert.Equal(t, "a", tasks[2].AgentID)
	assert.Equal(t, models.TaskPriorityHigh, tasks[0].Priority)
	assert.Equal(t, models.TaskPriorityNormal, tasks[1].Priority)
	assert.Equal(t, models.TaskPriorityNormal, tasks[2].Priority)
	for _, tk := range tasks {
		assert.Equal(t, "m1", tk.MissionID)
		assert.Equal(t, models.TaskStatusAssigned, tk.Status)
		assert.NotEmpty(t, tk.ID)
	}
}

func TestDecompose_BulletsAndNumbers(t *testing.T) {
	goal := "- research the market size\n- write the positioning doc\n1. ship the landing page"
	assert.Equal(t, []string{"Research the market size", "Write the positioning doc", "Ship the landing page"}, titles(Decompose(goal, team, "")))
}

func TestDecompose_DedupeCaseInsensitive(t *testing.T) {
	goal := "Write tests for api. write tests for API."
	tasks := Decompose(goal, team, "")
	require.Len(t, tasks, 1)
	assert.Equal(t, "Write tests for api. write tests for API", tasks[0].Title)
}

func TestDecompose_ShortFragmentsDropped(t *testing.T) {
	tasks := Decompose("Fix it. Ship the new version today", team, "")
	require.Len(t, tasks, 1, "only one fragment survives so the whole goal becomes one task")
	assert.Equal(t, "Fix it. Ship the new version today", tasks[0].Title)
	assert.Equal(t, models.TaskPriorityHigh, tasks[0].Priority)
}

func TestDecompose_Empty(t *testing.T) {
	assert.Empty(t, Decompose("", team, ""))
	assert.Empty(t, Decompose("  \n ", team, ""))
}

func TestDecompose_NoTeamLeavesInbox(t *testing.T) {
	tasks := Decompose("Plan the offsite agenda", nil, "")
	require.Len(t, tasks, 1)
	assert.Empty(t, tasks[0].AgentID)
	assert.Equal(t, models.TaskStatusInbox, tasks[0].Status)
}

type fakePlanner struct {
	plan []llm.PlannedTask
	err  error
}

func (f fakePlanner) DecomposeGoal(ctx context.Context, goal string, team []llm.Member) ([]llm.PlannedTask, error) {
	return f.plan, f.err
}

func TestDecomposer_Planner(t *testing.T) {
	d := New(WithPlanner(fakePlanner{plan: []llm.PlannedTask{
		{Title: "draft outline", Agent: "scribe"},
		{Title: "collect sources", Agent: "unknown", Description: "find ten sources"},
	}}))
	tasks := d.Decompose(context.Background(), "write an article", team, "m")
	require.Len(t, tasks, 2)
	assert.Equal(t, "Draft outline", tasks[0].Title)
	assert.Equal(t, "b", tasks[0].AgentID, "planner agent name wins")
	assert.Equal(t, "b", tasks[1].AgentID, "unknown agent falls back to round robin")
	assert.Equal(t, "find ten sources", tasks[1].Description)
	assert.Equal(t, models.TaskPriorityHigh, tasks[0].Priority)
}

func TestDecomposer_PlannerFallback(t *testing.T) {
	d := New(WithPlanner(fakePlanner{err: errors.New("no key")}))
	tasks := d.Decompose(context.Background(), "Research the market. Write the report now.", team, "")
	assert.Equal(t, []string{"Research the market", "Write the report now"}, titles(tasks))

	assert.Empty(t, d.Decompose(context.Background(), "", team, ""))
}
