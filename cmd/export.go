package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/store"
)

var (
	exportFormat string
	exportType   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export data as JSON, CSV, or Markdown",
	Long:  "Export mission reports, archived missions, or the team roster in various formats.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun(cmd.Context())
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Output format: json, csv, markdown")
	exportCmd.Flags().StringVar(&exportType, "type", "reports", "Data type: reports, missions, team")
	rootCmd.AddCommand(exportCmd)
}

func exportRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	switch exportType {
	case "reports":
		return exportReports(ctx, s)
	case "missions":
		return exportMissions(ctx, s)
	case "team":
		return exportTeam(ctx, s)
	default:
		return fmt.Errorf("unknown export type: %s (use: reports, missions, team)", exportType)
	}
}

// mdCell keeps free text from breaking a markdown table row.
func mdCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.Join(strings.Fields(s), " ")
}

func exportReports(ctx context.Context, s store.Store) error {
	reports, err := s.ListReports(ctx, 0)
	if err != nil {
		return err
	}

	switch exportFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write([]string{"ID", "MissionID", "Goal", "Outcome", "Done", "Total", "Tokens", "Cost", "Duration", "Completed"})
		for _, r := range reports {
			_ = w.Write([]string{r.ID, r.MissionID, r.Goal, string(r.Outcome),
				fmt.Sprintf("%d", r.TaskStats.Done), fmt.Sprintf("%d", r.TaskStats.Total),
				fmt.Sprintf("%d", r.TokenCount), fmt.Sprintf("%.4f", r.CostEstimate),
				r.Duration.String(), r.CompletedAt.Format("2006-01-02T15:04:05Z")})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Mission Reports")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Goal | Outcome | Tasks | Tokens |")
		fmt.Fprintln(ui.Out, "|------|---------|-------|--------|")
		for _, r := range reports {
			fmt.Fprintf(ui.Out, "| %s | %s | %d/%d | %d |\n", mdCell(r.Goal), r.Outcome, r.TaskStats.Done, r.TaskStats.Total, r.TokenCount)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", exportFormat)
	}
}

func exportMissions(ctx context.Context, s store.Store) error {
	missions, err := s.ListCheckpointHistory(ctx, 0)
	if err != nil {
		return err
	}

	switch exportFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(missions)
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write([]string{"ID", "Label", "Topology", "Status", "Agents", "Tasks", "Started", "Updated"})
		for _, m := range missions {
			_ = w.Write([]string{m.ID, m.Label, string(m.ProcessType), string(m.Status),
				fmt.Sprintf("%d", len(m.Team)), fmt.Sprintf("%d", len(m.Tasks)),
				m.StartedAt.Format("2006-01-02T15:04:05Z"), m.UpdatedAt.Format("2006-01-02T15:04:05Z")})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Missions")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Label | Topology | Status | Agents |")
		fmt.Fprintln(ui.Out, "|-------|----------|--------|--------|")
		for _, m := range missions {
			fmt.Fprintf(ui.Out, "| %s | %s | %s | %d |\n", mdCell(m.Label), m.ProcessType, m.Status, len(m.Team))
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", exportFormat)
	}
}

func exportTeam(ctx context.Context, s store.Store) error {
	team, err := s.ListTeamMembers(ctx)
	if err != nil {
		return err
	}

	switch exportFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(team)
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write([]string{"ID", "Name", "Model", "Role", "Goal"})
		for _, m := range team {
			_ = w.Write([]string{m.ID, m.Name, m.ModelID, m.RoleDescription, m.Goal})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Team")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Name | Model | Role |")
		fmt.Fprintln(ui.Out, "|------|-------|------|")
		for _, m := range team {
			fmt.Fprintf(ui.Out, "| %s | %s | %s |\n", mdCell(m.Name), m.ModelID, mdCell(m.RoleDescription))
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", exportFormat)
	}
}
