package cmd

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

The server runs its own mission engine, so an MCP client can launch a
mission, follow it and answer approvals. Configure in Claude Code with:

  {
    "mcpServers": {
      "clawsuite": { "command": "clawsuite", "args": ["mcp"] }
    }
  }

Available tools: mission_launch, mission_status, mission_tasks,
mission_artifacts, approval_list, approval_resolve, agent_steer, report_list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	pf := pidFile()
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer func() { _ = pf.Release() }()

	e, _, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Shutdown()

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	// stdout carries the protocol; logs go to stderr.
	logger.Info("mcp server starting", "version", buildVersion)
	return mcp.NewServer(e, buildVersion).ServeStdio(ctx)
}
