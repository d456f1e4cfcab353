package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	deliverable := strings.Repeat("The analysis covers revenue, churn and expansion across all segments. ", 5)

	tests := []struct {
		name string
		text string
		want Result
		rule string
	}{
		{"completion marker", "[TASK_COMPLETE] done", Completed, "completion-marker"},
		{"completion marker lowercase", "all good. [task_complete]", Completed, "completion-marker"},
		{"completion beats question", "Shall I also add tests?\n[TASK_COMPLETE]", Completed, "completion-marker"},
		{"completion beats waiting marker", "[WAITING_FOR_INPUT] [DONE]", Completed, "completion-marker"},
		{"waiting marker", deliverable + "\n[WAITING_FOR_INPUT]", WaitingForInput, "waiting-marker"},
		{"approval marker", deliverable + "\n[APPROVAL_REQUIRED] deploy to prod", WaitingForInput, "waiting-marker"},
		{"trailing question", "Should I continue?", WaitingForInput, "trailing-question"},
		{"question on last line only", deliverable + "\nWhich format do you prefer?\n\n", WaitingForInput, "trailing-question"},
		{"short reply", "ok", WaitingForInput, "short-reply"},
		{"long deliverable", deliverable, Completed, "default"},
		{"empty", "", Completed, "empty"},
		{"whitespace", "  \n\t ", Completed, "empty"},
	}
	c := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rule := c.Classify(tt.text)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.rule, rule)
			assert.Equal(t, tt.want, Classify(tt.text))
		})
	}
}

func TestClassify_QuestionMidTextIsNotWaiting(t *testing.T) {
	text := "Why does churn spike in Q3? The data shows onboarding gaps in the enterprise tier.\nRecommendations follow in the attached report section."
	assert.Equal(t, Completed, Classify(text))
}

func TestCustomRules(t *testing.T) {
	c := New([]Rule{{Name: "always", Match: func(string) bool { return true }, Result: WaitingForInput}})
	got, rule := c.Classify("anything at all")
	assert.Equal(t, WaitingForInput, got)
	assert.Equal(t, "always", rule)
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "b", LastLine("a\n  b  \n\n"))
	assert.Equal(t, "", LastLine(""))
}

func TestFindApprovals(t *testing.T) {
	text := "I prepared the migration.\n[APPROVAL_REQUIRED] run migration on prod\nmore text\n[approval_needed]:\n\nDelete the old bucket\n[APPROVAL_REQUIRED] Run migration on prod"
	got := FindApprovals(text)
	if assert.Len(t, got, 2) {
		assert.Equal(t, "run migration on prod", got[0].Action)
		assert.Equal(t, "I prepared the migration.", got[0].Context)
		assert.Equal(t, "Delete the old bucket", got[1].Action)
		assert.Equal(t, "more text", got[1].Context)
	}
	assert.Empty(t, FindApprovals("nothing to see"))
}
