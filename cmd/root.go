package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/gateway"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/mission"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/output"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	logger    *slog.Logger
	dataStore store.Store

	verbose bool
	dryRun  bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "clawsuite",
	Short: "Mission orchestrator - run a team of gateway agents against one goal",
	Long: `clawsuite decomposes a mission goal into tasks, spawns one gateway
session per team member, dispatches the tasks under a sequential,
hierarchical or parallel topology and follows the agents until the
mission completes, then writes a report.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/clawsuite/config.yaml)")
}

func initConfig() {
	// A .env in the working directory is optional.
	_ = godotenv.Load()

	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CLAWSUITE")
	// mission.poll_interval reads CLAWSUITE_MISSION_POLL_INTERVAL.
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	dir, _ := configDirFunc()
	setDefaults(dir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key's default under stateDir.
func setDefaults(stateDir string) {
	def := mission.DefaultConfig()

	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "clawsuite.db"))
	viper.SetDefault("port", 8080)

	viper.SetDefault("gateway.url", "http://localhost:3000/api")
	viper.SetDefault("gateway.token", "")
	viper.SetDefault("gateway.timeout", "30s")

	viper.SetDefault("mission.topology", string(def.Topology))
	viper.SetDefault("mission.max_streams", def.MaxStreams)
	viper.SetDefault("mission.poll_interval", def.PollInterval.String())
	viper.SetDefault("mission.stream_stale_after", def.StreamStaleAfter.String())
	viper.SetDefault("mission.missing_grace", def.MissingGrace.String())
	viper.SetDefault("mission.settle_delay", def.SettleDelay.String())
	viper.SetDefault("mission.stagger", def.Stagger.String())
	viper.SetDefault("mission.active_window", def.ActiveWindow.String())
	viper.SetDefault("mission.idle_window", def.IdleWindow.String())
	viper.SetDefault("mission.default_model", "")
	viper.SetDefault("mission.history_limit", def.HistoryLimit)

	viper.SetDefault("report.history_limit", def.ReportHistoryLimit)
	viper.SetDefault("report.cost_per_1k_tokens", def.CostPer1KTokens)

	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("decompose.use_llm", false)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Initialize store lazily: only when commands actually need it.
	// This allows config/version commands to run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// missionConfig builds the engine settings from viper.
func missionConfig() mission.Config {
	return mission.Config{
		Topology:           models.Topology(viper.GetString("mission.topology")),
		MaxStreams:         viper.GetInt("mission.max_streams"),
		PollInterval:       viper.GetDuration("mission.poll_interval"),
		StreamStaleAfter:   viper.GetDuration("mission.stream_stale_after"),
		MissingGrace:       viper.GetDuration("mission.missing_grace"),
		SettleDelay:        viper.GetDuration("mission.settle_delay"),
		Stagger:            viper.GetDuration("mission.stagger"),
		ActiveWindow:       viper.GetDuration("mission.active_window"),
		IdleWindow:         viper.GetDuration("mission.idle_window"),
		DefaultModel:       viper.GetString("mission.default_model"),
		HistoryLimit:       viper.GetInt("mission.history_limit"),
		ReportHistoryLimit: viper.GetInt("report.history_limit"),
		CostPer1KTokens:    viper.GetFloat64("report.cost_per_1k_tokens"),
	}
}

// newGateway creates the gateway client from config.
func newGateway() (*gateway.HTTPClient, error) {
	base := viper.GetString("gateway.url")
	if base == "" {
		return nil, fmt.Errorf("gateway.url is not set (run 'clawsuite config init' or set CLAWSUITE_GATEWAY_URL)")
	}
	opts := []gateway.Option{gateway.WithLogger(logger)}
	if tok := viper.GetString("gateway.token"); tok != "" {
		opts = append(opts, gateway.WithToken(tok))
	}
	if d := viper.GetDuration("gateway.timeout"); d > 0 {
		opts = append(opts, gateway.WithTimeout(d))
	}
	return gateway.NewHTTPClient(base, opts...), nil
}

// newEngine wires the engine against the configured gateway and store.
func newEngine() (*mission.Engine, store.Store, error) {
	s, err := getStore()
	if err != nil {
		return nil, nil, err
	}
	gw, err := newGateway()
	if err != nil {
		return nil, nil, err
	}
	opts := []mission.Option{
		mission.WithConfig(missionConfig()),
		mission.WithStore(s),
		mission.WithLogger(logger),
	}
	if p := newPlanner(); p != nil {
		opts = append(opts, mission.WithPlanner(p))
	}
	return mission.New(gw, opts...), s, nil
}
