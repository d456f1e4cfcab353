package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/api"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/output"
)

var approvalAll bool

var approvalCmd = &cobra.Command{
	Use:     "approval",
	Aliases: []string{"approvals"},
	Short:   "List and resolve agent approval requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		return approvalListRun(cmd.Context())
	},
}

var approvalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approval requests (pending by default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return approvalListRun(cmd.Context())
	},
}

var approvalApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return approvalResolveRun(cmd.Context(), args[0], true)
	},
}

var approvalDenyCmd = &cobra.Command{
	Use:   "deny <id>",
	Short: "Deny a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return approvalResolveRun(cmd.Context(), args[0], false)
	},
}

func init() {
	approvalListCmd.Flags().BoolVarP(&approvalAll, "all", "a", false, "Include resolved requests")
	approvalCmd.AddCommand(approvalListCmd, approvalApproveCmd, approvalDenyCmd)
	rootCmd.AddCommand(approvalCmd)
}

// approvalListRun lists from the running orchestrator, or from the stored
// queue when none is running.
func approvalListRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	status := models.ApprovalPending
	if approvalAll {
		status = ""
	}

	var list []models.ApprovalRequest
	if c := remoteClient(); c != nil {
		var err error
		if list, err = c.Approvals(ctx, status); err != nil {
			return err
		}
	} else {
		s, err := getStore()
		if err != nil {
			return err
		}
		if list, err = s.ListApprovals(ctx, status); err != nil {
			return err
		}
	}

	if len(list) == 0 {
		ui.Info("No approval requests")
		return nil
	}
	table := ui.Table([]string{"ID", "Agent", "Action", "Source", "Status", "Requested"})
	for _, a := range list {
		_ = table.Append([]string{
			a.ID,
			output.Cyan(a.AgentName),
			output.Truncate(a.Action, 60),
			string(a.Source),
			output.StatusColor(string(a.Status)),
			a.RequestedAt.Local().Format("01-02 15:04"),
		})
	}
	return table.Render()
}

func approvalResolveRun(ctx context.Context, id string, approve bool) error {
	return withRemote(ctx, func(ctx context.Context, c *api.Client) error {
		a, err := c.Resolve(ctx, id, approve)
		if err != nil {
			return fmt.Errorf("resolve approval %s: %w", id, err)
		}
		ui.Success("%s %s: %s", output.StatusColor(string(a.Status)), a.AgentName, a.Action)
		return nil
	})
}
