package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/api"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/checkpoint"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/mission"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/output"
)

var missionActivity int

var missionCmd = &cobra.Command{
	Use:   "mission",
	Short: "Inspect and control the running mission",
	Long: `Inspect and control the mission of a running orchestrator.

Without a running orchestrator, 'mission status' reports a mission left
behind by an unclean exit; 'mission abort-stale' records it as aborted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return missionStatusRun(cmd.Context())
	},
}

var missionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current mission",
	RunE: func(cmd *cobra.Command, args []string) error {
		return missionStatusRun(cmd.Context())
	},
}

var missionStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the mission gracefully and write the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		return missionEndRun(cmd.Context(), false)
	},
}

var missionAbortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Abort the mission",
	RunE: func(cmd *cobra.Command, args []string) error {
		return missionEndRun(cmd.Context(), true)
	},
}

var missionAbortStaleCmd = &cobra.Command{
	Use:   "abort-stale",
	Short: "Record a mission left running by an unclean exit as aborted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return missionAbortStaleRun(cmd.Context())
	},
}

var missionSteerCmd = &cobra.Command{
	Use:   "steer <agent-id> <message...>",
	Short: "Send a directive to one agent",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRemote(cmd.Context(), func(ctx context.Context, c *api.Client) error {
			if err := c.Steer(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
				return err
			}
			ui.Success("Directive sent to %s", args[0])
			return nil
		})
	},
}

var missionKillCmd = &cobra.Command{
	Use:   "kill <agent-id>",
	Short: "Delete one agent's session; its open tasks are blocked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRemote(cmd.Context(), func(ctx context.Context, c *api.Client) error {
			if err := c.Kill(ctx, args[0]); err != nil {
				return err
			}
			ui.Success("Killed %s", args[0])
			return nil
		})
	},
}

var missionRedispatchCmd = &cobra.Command{
	Use:   "redispatch <agent-id>",
	Short: "Send one agent its tasks again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRemote(cmd.Context(), func(ctx context.Context, c *api.Client) error {
			if err := c.Redispatch(ctx, args[0]); err != nil {
				return err
			}
			ui.Success("Redispatched %s", args[0])
			return nil
		})
	},
}

func init() {
	missionStatusCmd.Flags().IntVar(&missionActivity, "activity", 10, "Recent activity lines to show")
	missionCmd.AddCommand(missionStatusCmd, missionStopCmd, missionAbortCmd, missionAbortStaleCmd,
		missionSteerCmd, missionKillCmd, missionRedispatchCmd)
	rootCmd.AddCommand(missionCmd)
}

// withRemote runs fn against the running orchestrator.
func withRemote(ctx context.Context, fn func(context.Context, *api.Client) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c := remoteClient()
	if c == nil {
		return fmt.Errorf("no orchestrator is running (start one with 'clawsuite serve' or 'clawsuite launch')")
	}
	if dryRun {
		ui.DryRunMsg("Would call the control API at %s", serverURL())
		return nil
	}
	return fn(ctx, c)
}

func missionStatusRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c := remoteClient(); c != nil {
		snap, err := c.Mission(ctx)
		var apiErr *api.APIError
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			ui.Info("Orchestrator at %s has not run a mission yet", serverURL())
			return nil
		}
		if err != nil {
			return err
		}
		printSnapshot(*snap)
		printActivity(snap.Activity, missionActivity)
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	cps := checkpoint.New(s, checkpoint.WithLogger(logger), checkpoint.WithHistoryLimit(viper.GetInt("mission.history_limit")))
	cp, err := cps.Resumable(ctx)
	if err != nil {
		return err
	}
	if cp != nil {
		printResumeBanner(cp)
		return nil
	}

	ui.Info("No mission is running")
	hist, err := cps.History(ctx, 1)
	if err != nil {
		return err
	}
	if len(hist) > 0 {
		last := hist[0]
		ui.Info("Last mission: %s %q %s (%s)", last.ID, output.Truncate(last.Label, 60),
			output.StatusColor(string(last.Status)), last.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func printResumeBanner(cp *models.MissionCheckpoint) {
	done := 0
	for _, t := range cp.Tasks {
		if t.Status == models.TaskStatusDone {
			done++
		}
	}
	ui.Warning("Mission %s was %s when the last orchestrator exited", cp.ID, cp.Status)
	fmt.Fprintf(ui.Out, "  Goal:     %s\n", cp.Label)
	fmt.Fprintf(ui.Out, "  Topology: %s\n", cp.ProcessType)
	fmt.Fprintf(ui.Out, "  Team:     %d agents, %d sessions\n", len(cp.Team), len(cp.AgentSessionMap))
	fmt.Fprintf(ui.Out, "  Tasks:    %d/%d done\n", done, len(cp.Tasks))
	fmt.Fprintf(ui.Out, "  Started:  %s (%s ago)\n", cp.StartedAt.Local().Format("2006-01-02 15:04"), time.Since(cp.StartedAt).Round(time.Second))
	ui.Info("Record it as aborted with 'clawsuite mission abort-stale'")
}

func missionEndRun(ctx context.Context, abort bool) error {
	return withRemote(ctx, func(ctx context.Context, c *api.Client) error {
		var rep *models.MissionReport
		var err error
		if abort {
			rep, err = c.Abort(ctx)
		} else {
			rep, err = c.Stop(ctx)
		}
		if err != nil {
			return err
		}
		ui.Success("Mission %s ended: %s", rep.MissionID, output.StatusColor(string(rep.Outcome)))
		ui.Info("Report: clawsuite history show %s", rep.ID)
		return nil
	})
}

func missionAbortStaleRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c := remoteClient(); c != nil {
		cp, err := c.AbortStale(ctx)
		if err != nil {
			return err
		}
		ui.Success("Mission %s recorded as aborted", cp.ID)
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	cps := checkpoint.New(s, checkpoint.WithLogger(logger), checkpoint.WithHistoryLimit(viper.GetInt("mission.history_limit")))
	if dryRun {
		cp, err := cps.Resumable(ctx)
		if err != nil {
			return err
		}
		if cp != nil {
			ui.DryRunMsg("Would record mission %s as aborted", cp.ID)
		}
		return nil
	}
	cp, err := cps.AbortStale(ctx)
	if err != nil {
		return err
	}
	if cp == nil {
		ui.Info("No stale mission found")
		return nil
	}
	ui.Success("Mission %s recorded as aborted", cp.ID)
	return nil
}

// printSnapshot prints the mission header, agents and tasks.
func printSnapshot(s mission.Snapshot) {
	fmt.Fprintf(ui.Out, "Mission %s  %s  %s\n", output.Cyan(s.MissionID), output.StatusColor(string(s.Status)), output.ProgressColor(s.Progress))
	fmt.Fprintf(ui.Out, "  Goal:     %s\n", s.Goal)
	fmt.Fprintf(ui.Out, "  Topology: %s\n", s.Topology)
	fmt.Fprintf(ui.Out, "  Tokens:   %d (~$%.4f)\n", s.Tokens, s.CostEstimate)
	fmt.Fprintf(ui.Out, "  Tasks:    %d done, %d in progress, %d blocked, %d pending\n",
		s.Stats.Done, s.Stats.InProgress, s.Stats.Blocked, s.Stats.Pending)
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"Agent", "Status", "Session", "Tokens", "Last message"})
	for _, a := range s.Agents {
		st := string(a.Status)
		if a.SpawnError != "" {
			st = string(models.AgentStateError)
		}
		_ = table.Append([]string{
			output.Cyan(a.Name),
			output.StatusColor(st),
			output.Truncate(a.SessionKey, 16),
			fmt.Sprintf("%d", a.Tokens),
			output.Truncate(a.LastMessage, 60),
		})
	}
	_ = table.Render()

	if len(s.Tasks) > 0 {
		fmt.Fprintln(ui.Out)
		table = ui.Table([]string{"Task", "Agent", "Priority", "Status"})
		for _, t := range s.Tasks {
			_ = table.Append([]string{output.Truncate(t.Title, 60), t.AgentID, string(t.Priority), output.StatusColor(string(t.Status))})
		}
		_ = table.Render()
	}

	if n := len(s.Approvals); n > 0 {
		fmt.Fprintln(ui.Out)
		ui.Warning("%d approval(s) pending; see 'clawsuite approval list'", n)
	}
	if len(s.Artifacts) > 0 {
		fmt.Fprintln(ui.Out)
		ui.Info("%d artifact(s) extracted", len(s.Artifacts))
	}
}

func printActivity(events []models.ActivityEvent, n int) {
	if n <= 0 || len(events) == 0 {
		return
	}
	if len(events) > n {
		events = events[len(events)-n:]
	}
	fmt.Fprintln(ui.Out)
	for _, ev := range events {
		who := ev.AgentID
		if who == "" {
			who = "-"
		}
		fmt.Fprintf(ui.Out, "  %s  %-8s %-9s %s\n", ev.At.Local().Format("15:04:05"), who, ev.Kind, ev.Text)
	}
}
