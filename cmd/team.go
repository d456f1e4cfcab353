package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/output"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/sessions"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/store"
)

var (
	teamAddID        string
	teamAddRole      string
	teamAddModel     string
	teamAddGoal      string
	teamAddBackstory string
	teamImportAppend bool
)

var teamCmd = &cobra.Command{
	Use:   "team",
	Short: "Manage the team roster",
	Long: `Manage the team roster that missions run against.

Members keep their id across missions. The roster order decides round-robin
task assignment and, for hierarchical missions, the lead (first member).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return teamListRun()
	},
}

var teamListCmd = &cobra.Command{
	Use:   "list",
	Short: "List roster members",
	RunE: func(cmd *cobra.Command, args []string) error {
		return teamListRun()
	},
}

var teamAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add or update a roster member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return teamAddRun(args[0])
	},
}

var teamRmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"remove"},
	Short:   "Remove a roster member",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return teamRmRun(args[0])
	},
}

var teamImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a roster from a YAML or TOML file",
	Long: `Import a roster from a .yaml, .yml or .toml file. The file holds either
a list of members or a "members" key:

  members:
    - name: Ana
      role: researcher
      model_id: claude-sonnet-4-5
    - name: Bo
      role: writer

Members without an id get one derived from their name. The current roster
is replaced unless --append is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return teamImportRun(args[0])
	},
}

var teamSaveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Save the current roster as a named team",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return teamSaveRun(args[0])
	},
}

var teamLoadCmd = &cobra.Command{
	Use:   "load <name>",
	Short: "Replace the roster with a saved team",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return teamLoadRun(args[0])
	},
}

var teamSavedCmd = &cobra.Command{
	Use:   "saved",
	Short: "List saved teams",
	RunE: func(cmd *cobra.Command, args []string) error {
		return teamSavedRun()
	},
}

func init() {
	teamAddCmd.Flags().StringVar(&teamAddID, "id", "", "Member id (default: derived from name)")
	teamAddCmd.Flags().StringVar(&teamAddRole, "role", "", "Role description")
	teamAddCmd.Flags().StringVar(&teamAddModel, "model", "", "Model id (default: mission.default_model)")
	teamAddCmd.Flags().StringVar(&teamAddGoal, "goal", "", "Member goal")
	teamAddCmd.Flags().StringVar(&teamAddBackstory, "backstory", "", "Member backstory")
	teamImportCmd.Flags().BoolVar(&teamImportAppend, "append", false, "Add to the roster instead of replacing it")

	teamCmd.AddCommand(teamListCmd, teamAddCmd, teamRmCmd, teamImportCmd, teamSaveCmd, teamLoadCmd, teamSavedCmd)
	rootCmd.AddCommand(teamCmd)
}

// teamFile is the on-disk roster shape for YAML and TOML imports.
type teamFile struct {
	Name    string              `yaml:"name" toml:"name"`
	Members []models.TeamMember `yaml:"members" toml:"members"`
}

// loadTeamFile parses a roster file by extension. Members missing an id get
// one derived from their name; members without a name are rejected.
func loadTeamFile(path string) ([]models.TeamMember, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read team file: %w", err)
	}

	var tf teamFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		// A bare list is accepted as well as a members key.
		var list []models.TeamMember
		if err := yaml.Unmarshal(data, &list); err == nil {
			tf.Members = list
		} else if err := yaml.Unmarshal(data, &tf); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &tf); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported team file type %q (use .yaml, .yml or .toml)", ext)
	}

	if len(tf.Members) == 0 {
		return nil, fmt.Errorf("team file %s has no members", path)
	}
	seen := map[string]bool{}
	for i := range tf.Members {
		m := &tf.Members[i]
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			return nil, fmt.Errorf("team file %s: member %d has no name", path, i+1)
		}
		if m.ID == "" {
			m.ID = sessions.Slug(m.Name)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("team file %s: duplicate member id %q", path, m.ID)
		}
		seen[m.ID] = true
	}
	return tf.Members, nil
}

// replaceRoster swaps the stored roster for members, keeping their order.
func replaceRoster(ctx context.Context, s store.Store, members []models.TeamMember) error {
	current, err := s.ListTeamMembers(ctx)
	if err != nil {
		return err
	}
	for _, m := range current {
		if err := s.DeleteTeamMember(ctx, m.ID); err != nil {
			return err
		}
	}
	for i := range members {
		if err := s.SaveTeamMember(ctx, &members[i]); err != nil {
			return err
		}
	}
	return nil
}

func teamListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	team, err := s.ListTeamMembers(context.Background())
	if err != nil {
		return err
	}
	if len(team) == 0 {
		ui.Info("Roster is empty. Use 'clawsuite team add <name>' or 'clawsuite team import <file>'.")
		return nil
	}

	table := ui.Table([]string{"#", "ID", "Name", "Role", "Model", "Status"})
	for i, m := range team {
		model := m.ModelID
		if model == "" {
			model = "(default)"
		}
		_ = table.Append([]string{
			fmt.Sprintf("%d", i+1),
			m.ID,
			output.Cyan(m.Name),
			output.Truncate(m.RoleDescription, 40),
			model,
			output.StatusColor(string(m.Status)),
		})
	}
	return table.Render()
}

func teamAddRun(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("member name is required")
	}
	id := teamAddID
	if id == "" {
		id = sessions.Slug(name)
	}
	m := models.TeamMember{
		ID:              id,
		Name:            name,
		ModelID:         teamAddModel,
		RoleDescription: teamAddRole,
		Goal:            teamAddGoal,
		Backstory:       teamAddBackstory,
	}
	if dryRun {
		ui.DryRunMsg("Would save member %s (%s)", m.Name, m.ID)
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.SaveTeamMember(context.Background(), &m); err != nil {
		return err
	}
	ui.Success("Saved %s (%s)", output.Cyan(m.Name), m.ID)
	return nil
}

func teamRmRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()
	m, err := s.GetTeamMember(ctx, id)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would remove %s (%s)", m.Name, m.ID)
		return nil
	}
	if err := s.DeleteTeamMember(ctx, id); err != nil {
		return err
	}
	ui.Success("Removed %s", m.Name)
	return nil
}

func teamImportRun(path string) error {
	members, err := loadTeamFile(path)
	if err != nil {
		return err
	}
	if dryRun {
		for _, m := range members {
			ui.DryRunMsg("Would import %s (%s)", m.Name, m.ID)
		}
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()
	if teamImportAppend {
		for i := range members {
			if err := s.SaveTeamMember(ctx, &members[i]); err != nil {
				return err
			}
		}
	} else if err := replaceRoster(ctx, s, members); err != nil {
		return err
	}
	ui.Success("Imported %d members from %s", len(members), path)
	return nil
}

func teamSaveRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()
	team, err := s.ListTeamMembers(ctx)
	if err != nil {
		return err
	}
	if len(team) == 0 {
		return fmt.Errorf("roster is empty, nothing to save")
	}
	if err := s.SaveTeamConfig(ctx, &models.TeamConfig{Name: name, Members: team}); err != nil {
		return err
	}
	ui.Success("Saved team %s (%d members)", output.Cyan(name), len(team))
	return nil
}

func teamLoadRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()
	cfg, err := s.GetTeamConfig(ctx, name)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would replace the roster with team %s (%d members)", name, len(cfg.Members))
		return nil
	}
	if err := replaceRoster(ctx, s, cfg.Members); err != nil {
		return err
	}
	ui.Success("Loaded team %s (%d members)", output.Cyan(name), len(cfg.Members))
	return nil
}

func teamSavedRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	configs, err := s.ListTeamConfigs(context.Background())
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		ui.Info("No saved teams. Use 'clawsuite team save <name>'.")
		return nil
	}
	table := ui.Table([]string{"Name", "Members"})
	for _, c := range configs {
		names := make([]string, len(c.Members))
		for i, m := range c.Members {
			names[i] = m.Name
		}
		_ = table.Append([]string{output.Cyan(c.Name), strings.Join(names, ", ")})
	}
	return table.Render()
}
