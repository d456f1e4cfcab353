package store

import (
	"context"
	"errors"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for clawsuite.
type Store interface {
	// Team members
	SaveTeamMember(ctx context.Context, m *models.TeamMember) error
	GetTeamMember(ctx context.Context, id string) (*models.TeamMember, error)
	ListTeamMembers(ctx context.Context) ([]models.TeamMember, error)
	DeleteTeamMember(ctx context.Context, id string) error

	// Saved teams
	SaveTeamConfig(ctx context.Context, cfg *models.TeamConfig) error
	GetTeamConfig(ctx context.Context, name string) (*models.TeamConfig, error)
	ListTeamConfigs(ctx context.Context) ([]models.TeamConfig, error)
	DeleteTeamConfig(ctx context.Context, name string) error

	// Mission sessions
	SaveAgentSession(ctx context.Context, missionID string, s models.AgentSession) error
	ListAgentSessions(ctx context.Context, missionID string) ([]models.AgentSession, error)

	// Checkpoints
	SaveCheckpoint(ctx context.Context, cp *models.MissionCheckpoint) error
	CurrentCheckpoint(ctx context.Context) (*models.MissionCheckpoint, error)
	ClearCheckpoint(ctx context.Context) error
	ArchiveCheckpoint(ctx context.Context, cp *models.MissionCheckpoint, keep int) error
	ListCheckpointHistory(ctx context.Context, limit int) ([]models.MissionCheckpoint, error)

	// Reports
	SaveReport(ctx context.Context, r *models.MissionReport, keep int) error
	GetReport(ctx context.Context, id string) (*models.MissionReport, error)
	ListReports(ctx context.Context, limit int) ([]models.MissionReport, error)

	// Approvals
	SaveApproval(ctx context.Context, missionID string, a *models.ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error)
	ListApprovals(ctx context.Context, status models.ApprovalStatus) ([]models.ApprovalRequest, error)
	ResolveApproval(ctx context.Context, id string, status models.ApprovalStatus) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
