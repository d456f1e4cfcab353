package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer at a time; the engine, HTTP handlers and MCP tools share this handle.
	db.SetMaxOpenConns(1)

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p.what, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NewID generates a new ULID string.
func NewID() string {
	return ulid.Make().String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Team members ---

// SaveTeamMember inserts or replaces a member. New members are appended to the roster order.
func (s *SQLiteStore) SaveTeamMember(ctx context.Context, m *models.TeamMember) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Status == "" {
		m.Status = models.MemberStatusAvailable
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO team_members (id, name, model_id, role_description, goal, backstory, status, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM team_members), ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, model_id=excluded.model_id, role_description=excluded.role_description,
			goal=excluded.goal, backstory=excluded.backstory, status=excluded.status, updated_at=excluded.updated_at`,
		m.ID, m.Name, m.ModelID, m.RoleDescription, m.Goal, m.Backstory, string(m.Status), now, now,
	)
	if err != nil {
		return fmt.Errorf("save team member: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTeamMember(ctx context.Context, id string) (*models.TeamMember, error) {
	m := &models.TeamMember{}
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, model_id, role_description, goal, backstory, status FROM team_members WHERE id = ?`, id,
	).Scan(&m.ID, &m.Name, &m.ModelID, &m.RoleDescription, &m.Goal, &m.Backstory, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("team member %w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get team member: %w", err)
	}
	m.Status = models.MemberStatus(status)
	return m, nil
}

func (s *SQLiteStore) ListTeamMembers(ctx context.Context) ([]models.TeamMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, model_id, role_description, goal, backstory, status FROM team_members ORDER BY position, name`)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []models.TeamMember
	for rows.Next() {
		var m models.TeamMember
		var status string
		if err := rows.Scan(&m.ID, &m.Name, &m.ModelID, &m.RoleDescription, &m.Goal, &m.Backstory, &status); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		m.Status = models.MemberStatus(status)
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *SQLiteStore) DeleteTeamMember(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM team_members WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete team member: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("team member %w: %s", ErrNotFound, id)
	}
	return nil
}

// --- Saved teams ---

func (s *SQLiteStore) SaveTeamConfig(ctx context.Context, cfg *models.TeamConfig) error {
	members, err := json.Marshal(cfg.Members)
	if err != nil {
		return fmt.Errorf("encode team members: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO team_configs (name, members, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET members=excluded.members, updated_at=excluded.updated_at`,
		cfg.Name, string(members), now, now,
	)
	if err != nil {
		return fmt.Errorf("save team config: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTeamConfig(ctx context.Context, name string) (*models.TeamConfig, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT members FROM team_configs WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("team %w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get team config: %w", err)
	}
	cfg := &models.TeamConfig{Name: name}
	if err := json.Unmarshal([]byte(raw), &cfg.Members); err != nil {
		return nil, fmt.Errorf("decode team %s: %w", name, err)
	}
	return cfg, nil
}

func (s *SQLiteStore) ListTeamConfigs(ctx context.Context) ([]models.TeamConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, members FROM team_configs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list team configs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.TeamConfig
	for rows.Next() {
		var cfg models.TeamConfig
		var raw string
		if err := rows.Scan(&cfg.Name, &raw); err != nil {
			return nil, fmt.Errorf("scan team config: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &cfg.Members); err != nil {
			return nil, fmt.Errorf("decode team %s: %w", cfg.Name, err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteTeamConfig(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM team_configs WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete team config: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("team %w: %s", ErrNotFound, name)
	}
	return nil
}

// --- Mission sessions ---

func (s *SQLiteStore) SaveAgentSession(ctx context.Context, missionID string, as models.AgentSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_sessions (mission_id, agent_id, session_key, model_used, label, reused, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mission_id, agent_id) DO UPDATE SET session_key=excluded.session_key, model_used=excluded.model_used,
			label=excluded.label, reused=excluded.reused`,
		missionID, as.AgentID, as.SessionKey, as.ModelUsed, as.Label, boolToInt(as.Reused), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save agent session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAgentSessions(ctx context.Context, missionID string) ([]models.AgentSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, session_key, model_used, label, reused FROM agent_sessions WHERE mission_id = ? ORDER BY created_at`, missionID)
	if err != nil {
		return nil, fmt.Errorf("list agent sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.AgentSession
	for rows.Next() {
		var as models.AgentSession
		if err := rows.Scan(&as.AgentID, &as.SessionKey, &as.ModelUsed, &as.Label, &as.Reused); err != nil {
			return nil, fmt.Errorf("scan agent session: %w", err)
		}
		out = append(out, as)
	}
	return out, rows.Err()
}

// --- Checkpoints ---

// SaveCheckpoint overwrites the single current checkpoint.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *models.MissionCheckpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoint_current (slot, mission_id, status, data, updated_at) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET mission_id=excluded.mission_id, status=excluded.status, data=excluded.data, updated_at=excluded.updated_at`,
		cp.ID, string(cp.Status), string(data), cp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// CurrentCheckpoint returns the current checkpoint, or ErrNotFound when none is stored.
func (s *SQLiteStore) CurrentCheckpoint(ctx context.Context) (*models.MissionCheckpoint, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM checkpoint_current WHERE slot = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	cp := &models.MissionCheckpoint{}
	if err := json.Unmarshal([]byte(raw), cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, nil
}

func (s *SQLiteStore) ClearCheckpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoint_current`); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}

// ArchiveCheckpoint records cp in the history and trims the history to keep entries.
func (s *SQLiteStore) ArchiveCheckpoint(ctx context.Context, cp *models.MissionCheckpoint, keep int) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoint_history (mission_id, label, status, data, archived_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(mission_id) DO UPDATE SET label=excluded.label, status=excluded.status, data=excluded.data, archived_at=excluded.archived_at`,
		cp.ID, cp.Label, string(cp.Status), string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("archive checkpoint: %w", err)
	}
	if keep > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM checkpoint_history WHERE mission_id NOT IN
			(SELECT mission_id FROM checkpoint_history ORDER BY archived_at DESC LIMIT ?)`, keep)
		if err != nil {
			return fmt.Errorf("trim checkpoint history: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListCheckpointHistory(ctx context.Context, limit int) ([]models.MissionCheckpoint, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM checkpoint_history ORDER BY archived_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkpoint history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.MissionCheckpoint
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		var cp models.MissionCheckpoint
		if err := json.Unmarshal([]byte(raw), &cp); err != nil {
			return nil, fmt.Errorf("decode checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// --- Reports ---

// SaveReport stores r and trims the report history to keep entries.
func (s *SQLiteStore) SaveReport(ctx context.Context, r *models.MissionReport, keep int) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CompletedAt.IsZero() {
		r.CompletedAt = time.Now().UTC()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save report: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO mission_reports (id, mission_id, goal, outcome, data, completed_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET outcome=excluded.outcome, data=excluded.data, completed_at=excluded.completed_at`,
		r.ID, r.MissionID, r.Goal, string(r.Outcome), string(data), r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	if keep > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM mission_reports WHERE id NOT IN
			(SELECT id FROM mission_reports ORDER BY completed_at DESC LIMIT ?)`, keep)
		if err != nil {
			return fmt.Errorf("trim reports: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*models.MissionReport, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM mission_reports WHERE id = ? OR mission_id = ?`, id, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	r := &models.MissionReport{}
	if err := json.Unmarshal([]byte(raw), r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListReports(ctx context.Context, limit int) ([]models.MissionReport, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM mission_reports ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.MissionReport
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		var r models.MissionReport
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Approvals ---

// SaveApproval inserts a request. An existing id is left untouched so re-observed gateway approvals keep their resolution.
func (s *SQLiteStore) SaveApproval(ctx context.Context, missionID string, a *models.ApprovalRequest) error {
	if a.ID == "" {
		a.ID = NewID()
	}
	if a.Status == "" {
		a.Status = models.ApprovalPending
	}
	if a.RequestedAt.IsZero() {
		a.RequestedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (id, mission_id, agent_id, agent_name, action, context, status, source, gateway_id, requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		a.ID, missionID, a.AgentID, a.AgentName, a.Action, a.Context, string(a.Status), string(a.Source), a.GatewayID, a.RequestedAt,
	)
	if err != nil {
		return fmt.Errorf("save approval: %w", err)
	}
	return nil
}

const approvalColumns = `id, agent_id, agent_name, action, context, status, source, gateway_id, requested_at`

func scanApproval(row interface{ Scan(...any) error }) (*models.ApprovalRequest, error) {
	a := &models.ApprovalRequest{}
	var status, source string
	if err := row.Scan(&a.ID, &a.AgentID, &a.AgentName, &a.Action, &a.Context, &status, &source, &a.GatewayID, &a.RequestedAt); err != nil {
		return nil, err
	}
	a.Status = models.ApprovalStatus(status)
	a.Source = models.ApprovalSource(source)
	return a, nil
}

func (s *SQLiteStore) GetApproval(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	a, err := scanApproval(s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("approval %w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	return a, nil
}

// ListApprovals returns approvals with the given status, or all approvals when status is empty.
func (s *SQLiteStore) ListApprovals(ctx context.Context, status models.ApprovalStatus) ([]models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY requested_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.ApprovalRequest
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ResolveApproval(ctx context.Context, id string, status models.ApprovalStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, resolved_at = ? WHERE id = ?`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("resolve approval: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("approval %w: %s", ErrNotFound, id)
	}
	return nil
}
