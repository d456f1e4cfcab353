package models

// MemberStatus is the roster-level availability of a team member.
type MemberStatus string

const (
	MemberStatusAvailable MemberStatus = "available"
	MemberStatusBusy      MemberStatus = "busy"
	MemberStatusOffline   MemberStatus = "offline"
)

// TeamMember is a configured agent. Identity is stable across missions.
type TeamMember struct {
	ID              string       `json:"id" yaml:"id" toml:"id"`
	Name            string       `json:"name" yaml:"name" toml:"name"`
	ModelID         string       `json:"model_id,omitempty" yaml:"model_id" toml:"model_id"`
	RoleDescription string       `json:"role_description,omitempty" yaml:"role" toml:"role"`
	Goal            string       `json:"goal,omitempty" yaml:"goal" toml:"goal"`
	Backstory       string       `json:"backstory,omitempty" yaml:"backstory" toml:"backstory"`
	Status          MemberStatus `json:"status,omitempty" yaml:"status" toml:"status"`
}

// TeamConfig is a named, saved team roster.
type TeamConfig struct {
	Name    string       `json:"name"`
	Members []TeamMember `json:"members"`
}
