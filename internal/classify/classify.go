// Package classify decides whether an agent's final turn message is a
// finished deliverable or a request for human input.
package classify

import (
	"strings"
)

// Result is the outcome of classifying a turn.
type Result string

const (
	Completed       Result = "completed"
	WaitingForInput Result = "waiting_for_input"
)

// ShortReplyLimit is the trimmed length below which a reply is treated as a clarifying question.
const ShortReplyLimit = 60

// CompletionMarkers always classify a turn as completed. Matched case-insensitively.
var CompletionMarkers = []string{
	"[TASK_COMPLETE]",
	"TASK_COMPLETE",
	"[MISSION_COMPLETE]",
	"[DONE]",
}

// WaitingMarkers classify a turn as waiting unless a completion marker is also present.
var WaitingMarkers = []string{
	"[WAITING_FOR_INPUT]",
	"[NEEDS_INPUT]",
	"[APPROVAL_REQUIRED]",
	"[APPROVAL_NEEDED]",
	"awaiting your approval",
	"waiting for your input",
}

// Rule is one predicate in the classification chain.
type Rule struct {
	Name   string
	Match  func(text string) bool
	Result Result
}

// DefaultRules is the ordered rule chain. First match wins.
var DefaultRules = []Rule{
	{Name: "completion-marker", Match: containsAny(CompletionMarkers), Result: Completed},
	{Name: "waiting-marker", Match: containsAny(WaitingMarkers), Result: WaitingForInput},
	{Name: "trailing-question", Match: endsWithQuestion, Result: WaitingForInput},
	{Name: "short-reply", Match: isShort, Result: WaitingForInput},
}

// Classifier evaluates a rule chain.
type Classifier struct {
	rules []Rule
}

// New returns a Classifier over rules. Nil rules means DefaultRules.
func New(rules []Rule) *Classifier {
	if rules == nil {
		rules = DefaultRules
	}
	return &Classifier{rules: rules}
}

// Classify returns the result and the name of the rule that decided it.
// Empty text is completed: there is nothing to wait for.
func (c *Classifier) Classify(text string) (Result, string) {
	if strings.TrimSpace(text) == "" {
		return Completed, "empty"
	}
	for _, r := range c.rules {
		if r.Match(text) {
			return r.Result, r.Name
		}
	}
	return Completed, "default"
}

var defaultClassifier = New(nil)

// Classify runs the default rule chain.
func Classify(text string) Result {
	r, _ := defaultClassifier.Classify(text)
	return r
}

func containsAny(markers []string) func(string) bool {
	lowered := make([]string, len(markers))
	for i, m := range markers {
		lowered[i] = strings.ToLower(m)
	}
	return func(text string) bool {
		t := strings.ToLower(text)
		for _, m := range lowered {
			if strings.Contains(t, m) {
				return true
			}
		}
		return false
	}
}

func endsWithQuestion(text string) bool {
	return strings.HasSuffix(LastLine(text), "?")
}

func isShort(text string) bool {
	return len([]rune(strings.TrimSpace(text))) < ShortReplyLimit
}

// LastLine returns the last non-blank line of text, trimmed.
func LastLine(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
