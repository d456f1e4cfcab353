package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/api"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/daemon"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/mission"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator with its HTTP control API",
	Long: `Run the mission engine in the foreground and serve the control API.
By default it listens on port 8080. Use --port to change it.

Only one orchestrator may run per state directory; the PID file in
state_dir guards it. Other clawsuite commands (mission, approval) talk to
a running server through the API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether an orchestrator is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running orchestrator",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

func init() {
	serveCmd.AddCommand(serveStatusCmd, serveStopCmd)
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

// pidFile returns the PID file guarding the configured state dir.
func pidFile() *daemon.PIDFile {
	return daemon.ForStateDir(viper.GetString("state_dir"))
}

func serverURL() string {
	return fmt.Sprintf("http://localhost:%d", viper.GetInt("port"))
}

// remoteClient returns a client for the orchestrator holding the PID file,
// or nil when none is running.
func remoteClient() *api.Client {
	if _, running := pidFile().IsRunning(); !running {
		return nil
	}
	return api.NewClient(serverURL())
}

func serveRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
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

	if cp, err := e.Resumable(ctx); err == nil && cp != nil {
		ui.Warning("Mission %s (%q) was still running when the last orchestrator exited", cp.ID, cp.Label)
		ui.Info("Abort it with 'clawsuite mission abort-stale' or POST /api/v1/checkpoint/abort")
	}

	srv, errCh, err := startAPI(e, s)
	if err != nil {
		return err
	}
	ui.Success("Serving control API at %s/api/v1", serverURL())
	logger.Info("orchestrator started", "addr", srv.Addr, "pid_file", pf.Path)

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	ui.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// startAPI listens on the configured port and serves the control API in
// the background. Listen errors are returned synchronously.
func startAPI(e *mission.Engine, s store.Store) (*http.Server, <-chan error, error) {
	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(e, s).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	return srv, errCh, nil
}

func serveStatusRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		ui.Info("Orchestrator is not running")
		return nil
	}
	ui.Success("Orchestrator is running (pid %d) at %s", pid, serverURL())
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		return fmt.Errorf("orchestrator is not running")
	}
	if dryRun {
		ui.DryRunMsg("Would send SIGTERM to pid %d", pid)
		return nil
	}
	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("stop orchestrator: %w", err)
	}
	ui.Success("Sent stop signal to pid %d", pid)
	return nil
}
