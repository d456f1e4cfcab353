package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/mission"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

// Server exposes the mission engine as MCP tools.
type Server struct {
	engine  *mission.Engine
	version string
}

// NewServer creates the MCP server wrapper around a running engine.
func NewServer(e *mission.Engine, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{engine: e, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("clawsuite", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.missionLaunchTool())
	srv.AddTool(s.missionStatusTool())
	srv.AddTool(s.missionTasksTool())
	srv.AddTool(s.missionArtifactsTool())
	srv.AddTool(s.approvalListTool())
	srv.AddTool(s.approvalResolveTool())
	srv.AddTool(s.agentSteerTool())
	srv.AddTool(s.reportListTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Mission
// ---------------------------------------------------------------------------

// mission_launch
func (s *Server) missionLaunchTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mission_launch",
		mcp.WithDescription("Launch a mission against the stored team roster. Any running mission is aborted first. Returns the new mission id."),
		mcp.WithString("goal", mcp.Required(), mcp.Description("Free-text mission goal; sentences and bullets become separate tasks")),
		mcp.WithString("topology", mcp.Description("Dispatch topology: parallel, sequential or hierarchical")),
	)
	return tool, s.handleMissionLaunch
}

func (s *Server) handleMissionLaunch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	goal, err := request.RequireString("goal")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: goal"), nil
	}
	id, err := s.engine.Launch(ctx, mission.LaunchRequest{
		Goal:     goal,
		Topology: models.Topology(request.GetString("topology", "")),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to launch mission: %v", err)), nil
	}
	return jsonResult(map[string]string{"mission_id": id})
}

// mission_status
func (s *Server) missionStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mission_status",
		mcp.WithDescription("Get the current mission: goal, status, progress percent, token estimate and one row per agent with its derived status and last message."),
	)
	return tool, s.handleMissionStatus
}

func (s *Server) handleMissionStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.engine.Snapshot()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	type agentOut struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Status      string `json:"status"`
		LastMessage string `json:"last_message,omitempty"`
		Tokens      int    `json:"tokens"`
	}
	out := struct {
		MissionID        string     `json:"mission_id"`
		Goal             string     `json:"goal"`
		Topology         string     `json:"topology"`
		Status           string     `json:"status"`
		Running          bool       `json:"running"`
		Progress         int        `json:"progress"`
		Tokens           int        `json:"tokens"`
		CostEstimate     float64    `json:"cost_estimate"`
		PendingApprovals int        `json:"pending_approvals"`
		ReportID         string     `json:"report_id,omitempty"`
		Agents           []agentOut `json:"agents"`
	}{
		MissionID:        snap.MissionID,
		Goal:             snap.Goal,
		Topology:         string(snap.Topology),
		Status:           string(snap.Status),
		Running:          snap.Running,
		Progress:         snap.Progress,
		Tokens:           snap.Tokens,
		CostEstimate:     snap.CostEstimate,
		PendingApprovals: len(snap.Approvals),
		ReportID:         snap.ReportID,
	}
	for _, a := range snap.Agents {
		out.Agents = append(out.Agents, agentOut{
			ID:          a.ID,
			Name:        a.Name,
			Status:      string(a.Status),
			LastMessage: a.LastMessage,
			Tokens:      a.Tokens,
		})
	}
	return jsonResult(out)
}

// mission_tasks
func (s *Server) missionTasksTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mission_tasks",
		mcp.WithDescription("List the current mission's tasks with status and assigned agent."),
		mcp.WithString("status", mcp.Description("Filter by status: inbox, assigned, in_progress, done, blocked")),
		mcp.WithString("agent", mcp.Description("Filter by agent id")),
	)
	return tool, s.handleMissionTasks
}

func (s *Server) handleMissionTasks(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.engine.Snapshot()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	status := request.GetString("status", "")
	agent := request.GetString("agent", "")

	out := []models.Task{}
	for _, t := range snap.Tasks {
		if status != "" && string(t.Status) != status {
			continue
		}
		if agent != "" && t.AgentID != agent {
			continue
		}
		out = append(out, t)
	}
	return jsonResult(out)
}

// mission_artifacts
func (s *Server) missionArtifactsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mission_artifacts",
		mcp.WithDescription("List artifacts extracted from agent output: code blocks, tables, lists, commands and links."),
		mcp.WithString("type", mcp.Description("Filter by type: html, markdown, code, text")),
		mcp.WithBoolean("content", mcp.Description("Include artifact content (default false)")),
	)
	return tool, s.handleMissionArtifacts
}

func (s *Server) handleMissionArtifacts(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.engine.Snapshot()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	typ := request.GetString("type", "")
	withContent := request.GetBool("content", false)

	out := []models.Artifact{}
	for _, a := range snap.Artifacts {
		if typ != "" && string(a.Type) != typ {
			continue
		}
		if !withContent {
			a.Content = ""
		}
		out = append(out, a)
	}
	return jsonResult(out)
}

// ---------------------------------------------------------------------------
// Approvals & steering
// ---------------------------------------------------------------------------

// approval_list
func (s *Server) approvalListTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("approval_list",
		mcp.WithDescription("List approval requests raised by agents or the gateway. Defaults to pending requests."),
		mcp.WithString("status", mcp.Description("pending (default), approved, denied or all")),
	)
	return tool, s.handleApprovalList
}

func (s *Server) handleApprovalList(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := request.GetString("status", string(models.ApprovalPending))
	if status == "all" {
		status = ""
	}
	out := s.engine.ListApprovals(models.ApprovalStatus(status))
	if out == nil {
		out = []models.ApprovalRequest{}
	}
	return jsonResult(out)
}

// approval_resolve
func (s *Server) approvalResolveTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("approval_resolve",
		mcp.WithDescription("Approve or deny a pending approval request. The agent is told the decision and resumes."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Approval id")),
		mcp.WithString("decision", mcp.Required(), mcp.Description("approve or deny")),
	)
	return tool, s.handleApprovalResolve
}

func (s *Server) handleApprovalResolve(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	decision, err := request.RequireString("decision")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: decision"), nil
	}

	var a models.ApprovalRequest
	switch strings.ToLower(decision) {
	case "approve", "approved", "yes":
		a, err = s.engine.Approve(ctx, id)
	case "deny", "denied", "no":
		a, err = s.engine.Deny(ctx, id)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("invalid decision %q: use approve or deny", decision)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to resolve approval: %v", err)), nil
	}
	return jsonResult(a)
}

// agent_steer
func (s *Server) agentSteerTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("agent_steer",
		mcp.WithDescription("Send an out-of-band directive to one agent of the running mission."),
		mcp.WithString("agent", mcp.Required(), mcp.Description("Agent id")),
		mcp.WithString("message", mcp.Required(), mcp.Description("Directive text")),
	)
	return tool, s.handleAgentSteer
}

func (s *Server) handleAgentSteer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := request.RequireString("agent")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: agent"), nil
	}
	message, err := request.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: message"), nil
	}
	if err := s.engine.Steer(ctx, agent, message); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to steer agent: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Directive sent to %s.", agent)), nil
}

// ---------------------------------------------------------------------------
// Reports
// ---------------------------------------------------------------------------

// report_list
func (s *Server) reportListTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("report_list",
		mcp.WithDescription("List mission reports, newest first. Pass id to get one report's markdown."),
		mcp.WithString("id", mcp.Description("Report or mission id; returns the full markdown report")),
		mcp.WithNumber("limit", mcp.Description("Maximum reports to list (default 10)")),
	)
	return tool, s.handleReportList
}

func (s *Server) handleReportList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if id := request.GetString("id", ""); id != "" {
		rep, err := s.engine.Report(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("report not found: %s", id)), nil
		}
		return mcp.NewToolResultText(rep.ReportText), nil
	}

	reports, err := s.engine.Reports(ctx, request.GetInt("limit", 10))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reports: %v", err)), nil
	}

	type reportOut struct {
		ID          string  `json:"id"`
		MissionID   string  `json:"mission_id"`
		Goal        string  `json:"goal"`
		Outcome     string  `json:"outcome"`
		Done        int     `json:"tasks_done"`
		Total       int     `json:"tasks_total"`
		Tokens      int     `json:"tokens"`
		Cost        float64 `json:"cost_estimate"`
		CompletedAt string  `json:"completed_at"`
	}
	out := make([]reportOut, len(reports))
	for i, r := range reports {
		out[i] = reportOut{
			ID:          r.ID,
			MissionID:   r.MissionID,
			Goal:        r.Goal,
			Outcome:     string(r.Outcome),
			Done:        r.TaskStats.Done,
			Total:       r.TaskStats.Total,
			Tokens:      r.TokenCount,
			Cost:        r.CostEstimate,
			CompletedAt: r.CompletedAt.Format("2006-01-02 15:04"),
		}
	}
	return jsonResult(out)
}
