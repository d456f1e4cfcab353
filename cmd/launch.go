package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/mission"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/output"
)

var (
	launchTopology string
	launchTeamFile string
	launchInterval time.Duration
	launchTimeout  time.Duration
)

var launchCmd = &cobra.Command{
	Use:   "launch <goal...>",
	Short: "Launch a mission and follow it to completion",
	Long: `Decompose the goal into tasks, spawn one gateway session per team member,
dispatch the tasks and follow the agents until the mission completes.
The report is printed at the end.

When an orchestrator is already running ('clawsuite serve') the mission is
launched there instead and this command returns immediately. Otherwise this
command serves the control API itself while the mission runs, so
'clawsuite approval' and 'clawsuite mission steer' work from another terminal.

Interrupting (Ctrl-C) aborts the mission.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return launchRun(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	launchCmd.Flags().StringVarP(&launchTopology, "topology", "t", "", "Dispatch topology: parallel, sequential, hierarchical (default: mission.topology)")
	launchCmd.Flags().StringVarP(&launchTeamFile, "team-file", "f", "", "Run with the members of a YAML/TOML team file instead of the stored roster")
	launchCmd.Flags().DurationVar(&launchInterval, "interval", 5*time.Second, "Progress refresh interval")
	launchCmd.Flags().DurationVar(&launchTimeout, "timeout", 0, "Stop the mission after this long (0: no limit)")
	rootCmd.AddCommand(launchCmd)
}

func launchRun(ctx context.Context, goal string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req := mission.LaunchRequest{Goal: goal, Topology: models.Topology(launchTopology)}
	if launchTeamFile != "" {
		team, err := loadTeamFile(launchTeamFile)
		if err != nil {
			return err
		}
		req.Team = team
	}

	if dryRun {
		ui.DryRunMsg("Would launch mission %q", goal)
		return nil
	}

	if c := remoteClient(); c != nil {
		id, err := c.Launch(ctx, req)
		if err != nil {
			return fmt.Errorf("launch on %s: %w", serverURL(), err)
		}
		ui.Success("Mission %s launched on %s", output.Cyan(id), serverURL())
		ui.Info("Follow it with 'clawsuite mission status'")
		return nil
	}

	pf := pidFile()
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer func() { _ = pf.Release() }()

	e, s, err := newEngine()
	if err != nil {
		return err
	}
	defer e.Shutdown()

	// Approvals and steering from other terminals go through the control API.
	if srv, _, err := startAPI(e, s); err != nil {
		ui.Warning("Control API disabled: %v", err)
	} else {
		defer func() { _ = srv.Close() }()
		ui.VerboseLog("Control API at %s/api/v1", serverURL())
	}

	if cp, err := e.Resumable(ctx); err == nil && cp != nil {
		ui.Warning("Mission %s (%q) did not finish cleanly; it is archived as aborted", cp.ID, cp.Label)
		if _, err := e.AbortStale(ctx); err != nil {
			ui.Warning("Could not archive it: %v", err)
		}
	}

	id, err := e.Launch(ctx, req)
	if err != nil {
		return err
	}
	ui.Success("Mission %s launched", output.Cyan(id))

	sigCtx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()
	watchCtx := sigCtx
	if launchTimeout > 0 {
		var cancel context.CancelFunc
		watchCtx, cancel = context.WithTimeout(sigCtx, launchTimeout)
		defer cancel()
	}

	snap, err := watchMission(watchCtx, e, launchInterval, func(s mission.Snapshot) {
		printProgress(s)
	})
	if err != nil {
		// Interrupted or timed out: abort on a signal, stop gracefully on timeout.
		if sigCtx.Err() != nil {
			ui.Warning("Interrupted, aborting mission")
			_, _ = e.Abort(context.Background())
		} else {
			ui.Warning("Timed out after %s, stopping mission", launchTimeout)
			_, _ = e.Stop(context.Background())
		}
		if snap, err = e.Snapshot(); err != nil {
			return err
		}
	}

	printSnapshot(snap)
	if snap.ReportID == "" {
		return nil
	}
	rep, err := e.Report(context.Background(), snap.ReportID)
	if err != nil {
		return err
	}
	fmt.Fprintln(ui.Out)
	fmt.Fprintln(ui.Out, rep.ReportText)
	return nil
}

// snapshotter is the part of the engine watchMission reads.
type snapshotter interface {
	Snapshot() (mission.Snapshot, error)
}

// watchMission polls the engine until the mission stops running, calling
// onChange whenever progress, statuses or activity change. It returns the
// final snapshot, or ctx's error.
func watchMission(ctx context.Context, e snapshotter, interval time.Duration, onChange func(mission.Snapshot)) (mission.Snapshot, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	for {
		snap, err := e.Snapshot()
		if err != nil {
			return snap, err
		}
		if fp := fingerprint(snap); fp != last {
			last = fp
			if onChange != nil {
				onChange(snap)
			}
		}
		if !snap.Running {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ticker.C:
		}
	}
}

func fingerprint(s mission.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%d|%d|%d", s.Status, s.Progress, len(s.Activity), len(s.Approvals))
	for _, a := range s.Agents {
		fmt.Fprintf(&b, "|%s=%s", a.ID, a.Status)
	}
	return b.String()
}

// printProgress prints one line per change while a mission runs.
func printProgress(s mission.Snapshot) {
	parts := make([]string, 0, len(s.Agents))
	for _, a := range s.Agents {
		parts = append(parts, fmt.Sprintf("%s %s", a.Name, output.StatusColor(string(a.Status))))
	}
	line := fmt.Sprintf("[%s] %s", output.ProgressColor(s.Progress), strings.Join(parts, ", "))
	if n := len(s.Approvals); n > 0 {
		line += output.Yellow(fmt.Sprintf("  (%d approval(s) pending)", n))
	}
	ui.Info("%s", line)
	if n := len(s.Activity); n > 0 {
		ui.VerboseLog("%s", s.Activity[n-1].Text)
	}
}
