package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// PlannedTask is one task proposed by the model for a mission goal.
type PlannedTask struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Agent       string `json:"agent"` // team member name or id, may be empty
	Priority    string `json:"priority"`
}

// Member is the slice of a team member the planner needs to see.
type Member struct {
	ID   string
	Name string
	Role string
}

// Client wraps the Anthropic API for goal planning.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

func buildDecomposePrompt(goal string, team []Member) (system string, user string) {
	system = `You split a mission goal into a flat list of tasks for a small team of AI agents. Return ONLY a JSON array of objects with these fields:
- "title": short imperative task title
- "description": one or two sentences describing the expected deliverable
- "agent": the name of the team member best suited to the task (must be one of the listed names)
- "priority": "high" for the single most important first task, otherwise "normal"

Rules:
- Tasks are one level deep; do not nest or reference sub-tasks
- Keep the original order of intents in the goal
- Do not invent work the goal does not ask for
- Every team member should receive at least one task when the goal allows it
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	if len(team) > 0 {
		sb.WriteString("Team:\n")
		for _, m := range team {
			sb.WriteString("- ")
			sb.WriteString(m.Name)
			if m.Role != "" {
				sb.WriteString(": ")
				sb.WriteString(m.Role)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Mission goal:\n\n")
	sb.WriteString(goal)
	user = sb.String()
	return
}

// DecomposeGoal asks the model for a task plan.
func (c *Client) DecomposeGoal(ctx context.Context, goal string, team []Member) ([]PlannedTask, error) {
	systemPrompt, userPrompt := buildDecomposePrompt(goal, team)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}
	return parsePlan(text)
}

func parsePlan(text string) ([]PlannedTask, error) {
	text = stripFence(text)
	var tasks []PlannedTask
	if err := json.Unmarshal([]byte(text), &tasks); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	kept := tasks[:0]
	for _, t := range tasks {
		t.Title = strings.TrimSpace(t.Title)
		if t.Title != "" {
			kept = append(kept, t)
		}
	}
	return kept, nil
}

// stripFence removes a surrounding markdown code fence.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}
