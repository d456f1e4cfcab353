package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/checkpoint"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/output"
)

var (
	historyLimit  int
	historyFormat string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List mission reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyListRun(cmd.Context())
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <report-or-mission-id>",
	Short: "Print a mission report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyShowRun(cmd.Context(), args[0])
	},
}

var historyMissionsCmd = &cobra.Command{
	Use:   "missions",
	Short: "List archived mission checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyMissionsRun(cmd.Context())
	},
}

func init() {
	historyCmd.PersistentFlags().IntVarP(&historyLimit, "limit", "l", 20, "Maximum entries to list")
	historyShowCmd.Flags().StringVar(&historyFormat, "format", "markdown", "Output format: markdown, json")
	historyCmd.AddCommand(historyShowCmd, historyMissionsCmd)
	rootCmd.AddCommand(historyCmd)
}

func historyListRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	reports, err := s.ListReports(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		ui.Info("No mission reports yet")
		return nil
	}

	table := ui.Table([]string{"ID", "Completed", "Outcome", "Tasks", "Tokens", "Cost", "Goal"})
	for _, r := range reports {
		_ = table.Append([]string{
			r.ID,
			r.CompletedAt.Local().Format("2006-01-02 15:04"),
			output.StatusColor(string(r.Outcome)),
			fmt.Sprintf("%d/%d", r.TaskStats.Done, r.TaskStats.Total),
			fmt.Sprintf("%d", r.TokenCount),
			fmt.Sprintf("$%.4f", r.CostEstimate),
			output.Truncate(r.Goal, 50),
		})
	}
	return table.Render()
}

func historyShowRun(ctx context.Context, id string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	r, err := s.GetReport(ctx, id)
	if err != nil {
		return err
	}

	switch historyFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "markdown", "":
		fmt.Fprintln(ui.Out, r.ReportText)
		return nil
	default:
		return fmt.Errorf("unknown format: %s (use: markdown, json)", historyFormat)
	}
}

func historyMissionsRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	cps := checkpoint.New(s, checkpoint.WithLogger(logger), checkpoint.WithHistoryLimit(viper.GetInt("mission.history_limit")))
	hist, err := cps.History(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(hist) == 0 {
		ui.Info("No archived missions")
		return nil
	}

	table := ui.Table([]string{"ID", "Started", "Status", "Topology", "Agents", "Goal"})
	for _, cp := range hist {
		_ = table.Append([]string{
			cp.ID,
			cp.StartedAt.Local().Format("2006-01-02 15:04"),
			output.StatusColor(string(cp.Status)),
			string(cp.ProcessType),
			fmt.Sprintf("%d", len(cp.Team)),
			output.Truncate(cp.Label, 50),
		})
	}
	return table.Render()
}
