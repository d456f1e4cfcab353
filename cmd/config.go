package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "clawsuite"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage clawsuite configuration.

Running bare 'clawsuite config' is the same as 'clawsuite config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# clawsuite configuration
# See: clawsuite config show (for effective values and sources)

# State/data directory (default: ~/.config/clawsuite)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/clawsuite/clawsuite.db)
# db_path: {{ .DBPath }}

# Control API port for 'clawsuite serve'
port: {{ .Port }}

# Agent gateway
gateway:
  url: "{{ .GatewayURL }}"
  # Bearer token, prefer CLAWSUITE_GATEWAY_TOKEN or a .env file
  token: ""
  timeout: {{ .GatewayTimeout }}

# Mission engine
mission:
  # parallel, sequential or hierarchical
  topology: {{ .Topology }}
  # Concurrent push streams; agents past the cap fall back to polling
  max_streams: {{ .MaxStreams }}
  poll_interval: {{ .PollInterval }}
  stream_stale_after: {{ .StreamStaleAfter }}
  missing_grace: {{ .MissingGrace }}
  settle_delay: {{ .SettleDelay }}
  # Delay between agents in sequential mode
  stagger: {{ .Stagger }}
  active_window: {{ .ActiveWindow }}
  idle_window: {{ .IdleWindow }}
  # Model for members without model_id (empty: gateway default)
  default_model: "{{ .DefaultModel }}"
  history_limit: {{ .HistoryLimit }}

report:
  history_limit: {{ .ReportHistoryLimit }}
  cost_per_1k_tokens: {{ .CostPer1K }}

# Model-backed goal decomposition (falls back to the heuristic splitter)
decompose:
  use_llm: {{ .UseLLM }}

anthropic:
  model: "{{ .AnthropicModel }}"
`

type configTemplateData struct {
	StateDir           string
	DBPath             string
	Port               int
	GatewayURL         string
	GatewayTimeout     string
	Topology           string
	MaxStreams         int
	PollInterval       string
	StreamStaleAfter   string
	MissingGrace       string
	SettleDelay        string
	Stagger            string
	ActiveWindow       string
	IdleWindow         string
	DefaultModel       string
	HistoryLimit       int
	ReportHistoryLimit int
	CostPer1K          float64
	UseLLM             bool
	AnthropicModel     string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:           viper.GetString("state_dir"),
		DBPath:             viper.GetString("db_path"),
		Port:               viper.GetInt("port"),
		GatewayURL:         viper.GetString("gateway.url"),
		GatewayTimeout:     viper.GetString("gateway.timeout"),
		Topology:           viper.GetString("mission.topology"),
		MaxStreams:         viper.GetInt("mission.max_streams"),
		PollInterval:       viper.GetString("mission.poll_interval"),
		StreamStaleAfter:   viper.GetString("mission.stream_stale_after"),
		MissingGrace:       viper.GetString("mission.missing_grace"),
		SettleDelay:        viper.GetString("mission.settle_delay"),
		Stagger:            viper.GetString("mission.stagger"),
		ActiveWindow:       viper.GetString("mission.active_window"),
		IdleWindow:         viper.GetString("mission.idle_window"),
		DefaultModel:       viper.GetString("mission.default_model"),
		HistoryLimit:       viper.GetInt("mission.history_limit"),
		ReportHistoryLimit: viper.GetInt("report.history_limit"),
		CostPer1K:          viper.GetFloat64("report.cost_per_1k_tokens"),
		UseLLM:             viper.GetBool("decompose.use_llm"),
		AnthropicModel:     viper.GetString("anthropic.model"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "CLAWSUITE_STATE_DIR"},
	{Key: "db_path", EnvVar: "CLAWSUITE_DB_PATH"},
	{Key: "port", EnvVar: "CLAWSUITE_PORT"},
	{Key: "gateway.url", EnvVar: "CLAWSUITE_GATEWAY_URL"},
	{Key: "gateway.token", EnvVar: "CLAWSUITE_GATEWAY_TOKEN"},
	{Key: "gateway.timeout", EnvVar: "CLAWSUITE_GATEWAY_TIMEOUT"},
	{Key: "mission.topology", EnvVar: "CLAWSUITE_MISSION_TOPOLOGY"},
	{Key: "mission.max_streams", EnvVar: "CLAWSUITE_MISSION_MAX_STREAMS"},
	{Key: "mission.poll_interval", EnvVar: "CLAWSUITE_MISSION_POLL_INTERVAL"},
	{Key: "mission.stream_stale_after", EnvVar: "CLAWSUITE_MISSION_STREAM_STALE_AFTER"},
	{Key: "mission.missing_grace", EnvVar: "CLAWSUITE_MISSION_MISSING_GRACE"},
	{Key: "mission.settle_delay", EnvVar: "CLAWSUITE_MISSION_SETTLE_DELAY"},
	{Key: "mission.stagger", EnvVar: "CLAWSUITE_MISSION_STAGGER"},
	{Key: "mission.active_window", EnvVar: "CLAWSUITE_MISSION_ACTIVE_WINDOW"},
	{Key: "mission.idle_window", EnvVar: "CLAWSUITE_MISSION_IDLE_WINDOW"},
	{Key: "mission.default_model", EnvVar: "CLAWSUITE_MISSION_DEFAULT_MODEL"},
	{Key: "mission.history_limit", EnvVar: "CLAWSUITE_MISSION_HISTORY_LIMIT"},
	{Key: "report.history_limit", EnvVar: "CLAWSUITE_REPORT_HISTORY_LIMIT"},
	{Key: "report.cost_per_1k_tokens", EnvVar: "CLAWSUITE_REPORT_COST_PER_1K_TOKENS"},
	{Key: "decompose.use_llm", EnvVar: "CLAWSUITE_DECOMPOSE_USE_LLM"},
	{Key: "anthropic.api_key", EnvVar: "CLAWSUITE_ANTHROPIC_API_KEY"},
	{Key: "anthropic.model", EnvVar: "CLAWSUITE_ANTHROPIC_MODEL"},
}

// secretKeys are masked by config show.
var secretKeys = map[string]bool{"gateway.token": true, "anthropic.api_key": true}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if secretKeys[k.Key] && viper.GetString(k.Key) != "" {
			val = "********"
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-28s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'clawsuite config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
