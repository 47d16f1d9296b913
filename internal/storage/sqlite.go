package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/anotherai-dev/anotherai-sub001/internal/domain"
)

// SQLiteConfig configures the connection pool.
type SQLiteConfig struct {
	MaxOpenConns    int
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLiteConfig returns default pool settings. A single writer
// connection avoids SQLITE_BUSY under concurrent writes.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		MaxOpenConns:    1,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewSQLiteStores opens (or creates) the database at dsn and migrates the
// schema. Use ":memory:" for an ephemeral database.
func NewSQLiteStores(dsn string, config *SQLiteConfig) (StoreSet, error) {
	if strings.TrimSpace(dsn) == "" {
		return StoreSet{}, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return StoreSet{}, err
	}

	return StoreSet{
		Versions:    &sqliteVersionStore{db: db},
		Completions: &sqliteCompletionStore{db: db},
		Deployments: &sqliteDeploymentStore{db: db},
		Experiments: &sqliteExperimentStore{db: db},
		closer:      db.Close,
	}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS versions (
			id         TEXT NOT NULL,
			agent_id   TEXT NOT NULL,
			data       TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (agent_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS completions (
			id         TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			version_id TEXT NOT NULL,
			input_id   TEXT NOT NULL,
			succeeded  INTEGER NOT NULL,
			data       TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS completions_by_agent
			ON completions (agent_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS completions_by_cell
			ON completions (agent_id, version_id, input_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS deployments (
			id          TEXT PRIMARY KEY,
			agent_id    TEXT NOT NULL,
			version     TEXT NOT NULL,
			metadata    TEXT,
			created_by  TEXT,
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL,
			archived_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS experiments (
			id         TEXT PRIMARY KEY,
			agent_id   TEXT NOT NULL,
			data       TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS experiment_completions (
			experiment_id TEXT NOT NULL,
			version_id    TEXT NOT NULL,
			input_id      TEXT NOT NULL,
			completion_id TEXT,
			status        TEXT NOT NULL,
			PRIMARY KEY (experiment_id, version_id, input_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func isDuplicate(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

type sqliteVersionStore struct {
	db *sql.DB
}

func (s *sqliteVersionStore) Save(ctx context.Context, agentID string, v *domain.Version) error {
	if agentID == "" || v == nil {
		return fmt.Errorf("agent id and version are required")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal version: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO versions (id, agent_id, data, created_at) VALUES (?,?,?,?)
		 ON CONFLICT (agent_id, id) DO NOTHING`,
		v.ID(), agentID, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save version: %w", err)
	}
	return nil
}

func (s *sqliteVersionStore) Get(ctx context.Context, agentID, id string) (*domain.Version, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM versions WHERE agent_id = ? AND id = ?`, agentID, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	var v domain.Version
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("unmarshal version: %w", err)
	}
	return &v, nil
}

func (s *sqliteVersionStore) List(ctx context.Context, agentID string, limit, offset int) ([]*domain.Version, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM versions WHERE agent_id = ?`, agentID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count versions: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM versions WHERE agent_id = ?
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		agentID, normalizeLimit(limit), offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Version
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, 0, fmt.Errorf("scan version: %w", err)
		}
		var v domain.Version
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, 0, fmt.Errorf("unmarshal version: %w", err)
		}
		out = append(out, &v)
	}
	return out, total, rows.Err()
}

type sqliteCompletionStore struct {
	db *sql.DB
}

func (s *sqliteCompletionStore) Save(ctx context.Context, c *domain.Completion) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("completion is required")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal completion: %w", err)
	}
	versionID, inputID := "", ""
	if c.Version != nil {
		versionID = c.Version.ID()
	}
	if c.Input != nil {
		inputID = c.Input.ID()
	}
	succeeded := 0
	if c.Output.Error == nil {
		succeeded = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO completions (id, agent_id, version_id, input_id, succeeded, data, created_at)
		 VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.AgentID, versionID, inputID, succeeded, string(data), c.CreatedAt)
	if isDuplicate(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("save completion: %w", err)
	}
	return nil
}

func (s *sqliteCompletionStore) Get(ctx context.Context, id string) (*domain.Completion, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM completions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get completion: %w", err)
	}
	return unmarshalCompletion(data)
}

func (s *sqliteCompletionStore) List(ctx context.Context, agentID string, limit, offset int) ([]*domain.Completion, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM completions WHERE agent_id = ?`, agentID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count completions: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM completions WHERE agent_id = ?
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		agentID, normalizeLimit(limit), offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list completions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Completion
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, 0, fmt.Errorf("scan completion: %w", err)
		}
		c, err := unmarshalCompletion(data)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (s *sqliteCompletionStore) FindCached(ctx context.Context, agentID, versionID, inputID string) (*domain.Completion, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM completions
		 WHERE agent_id = ? AND version_id = ? AND input_id = ? AND succeeded = 1
		 ORDER BY created_at DESC LIMIT 1`,
		agentID, versionID, inputID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find cached completion: %w", err)
	}
	return unmarshalCompletion(data)
}

func unmarshalCompletion(data string) (*domain.Completion, error) {
	var c domain.Completion
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("unmarshal completion: %w", err)
	}
	return &c, nil
}

type sqliteDeploymentStore struct {
	db *sql.DB
}

func (s *sqliteDeploymentStore) Put(ctx context.Context, d *domain.Deployment) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("deployment is required")
	}
	version, err := json.Marshal(d.Version)
	if err != nil {
		return fmt.Errorf("marshal deployment version: %w", err)
	}
	metadata, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("marshal deployment metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO deployments (id, agent_id, version, metadata, created_by, created_at, updated_at, archived_at)
		 VALUES (?,?,?,?,?,?,?,?)
		 ON CONFLICT (id) DO UPDATE SET
			agent_id = excluded.agent_id,
			version = excluded.version,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at,
			archived_at = excluded.archived_at`,
		d.ID, d.AgentID, string(version), string(metadata), d.CreatedBy,
		d.CreatedAt, d.UpdatedAt, d.ArchivedAt)
	if err != nil {
		return fmt.Errorf("put deployment: %w", err)
	}
	return nil
}

func (s *sqliteDeploymentStore) Get(ctx context.Context, id string) (*domain.Deployment, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, version, metadata, created_by, created_at, updated_at, archived_at
		 FROM deployments WHERE id = ?`, id)
	return scanDeployment(row)
}

func scanDeployment(row *sql.Row) (*domain.Deployment, error) {
	var d domain.Deployment
	var version, metadata string
	if err := row.Scan(&d.ID, &d.AgentID, &version, &metadata, &d.CreatedBy,
		&d.CreatedAt, &d.UpdatedAt, &d.ArchivedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get deployment: %w", err)
	}
	if err := json.Unmarshal([]byte(version), &d.Version); err != nil {
		return nil, fmt.Errorf("unmarshal deployment version: %w", err)
	}
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &d.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal deployment metadata: %w", err)
		}
	}
	return &d, nil
}

func (s *sqliteDeploymentStore) List(ctx context.Context, agentID string, includeArchived bool, limit, offset int) ([]*domain.Deployment, int, error) {
	where := "WHERE agent_id = ?"
	if !includeArchived {
		where += " AND archived_at IS NULL"
	}
	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT count(*) FROM deployments "+where, agentID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count deployments: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, version, metadata, created_by, created_at, updated_at, archived_at
		 FROM deployments `+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		agentID, normalizeLimit(limit), offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var out []*domain.Deployment
	for rows.Next() {
		var d domain.Deployment
		var version, metadata string
		if err := rows.Scan(&d.ID, &d.AgentID, &version, &metadata, &d.CreatedBy,
			&d.CreatedAt, &d.UpdatedAt, &d.ArchivedAt); err != nil {
			return nil, 0, fmt.Errorf("scan deployment: %w", err)
		}
		if err := json.Unmarshal([]byte(version), &d.Version); err != nil {
			return nil, 0, fmt.Errorf("unmarshal deployment version: %w", err)
		}
		if metadata != "" && metadata != "null" {
			if err := json.Unmarshal([]byte(metadata), &d.Metadata); err != nil {
				return nil, 0, fmt.Errorf("unmarshal deployment metadata: %w", err)
			}
		}
		out = append(out, &d)
	}
	return out, total, rows.Err()
}

func (s *sqliteDeploymentStore) Archive(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deployments SET archived_at = ?, updated_at = ? WHERE id = ?`,
		at, at, id)
	if err != nil {
		return fmt.Errorf("archive deployment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type sqliteExperimentStore struct {
	db *sql.DB
}

func (s *sqliteExperimentStore) Create(ctx context.Context, e *domain.Experiment) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("experiment is required")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal experiment: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO experiments (id, agent_id, data, created_at) VALUES (?,?,?,?)`,
		e.ID, e.AgentID, string(data), e.CreatedAt)
	if isDuplicate(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create experiment: %w", err)
	}
	return nil
}

func (s *sqliteExperimentStore) Get(ctx context.Context, id string) (*domain.Experiment, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM experiments WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get experiment: %w", err)
	}
	var e domain.Experiment
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("unmarshal experiment: %w", err)
	}
	completions, err := s.ListCompletions(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Completions = completions
	return &e, nil
}

func (s *sqliteExperimentStore) AddCompletion(ctx context.Context, ec *domain.ExperimentCompletion) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO experiment_completions (experiment_id, version_id, input_id, completion_id, status)
		 VALUES (?,?,?,?,?)
		 ON CONFLICT (experiment_id, version_id, input_id) DO NOTHING`,
		ec.ExperimentID, ec.VersionID, ec.InputID, ec.CompletionID, string(ec.Status))
	if err != nil {
		return fmt.Errorf("add experiment completion: %w", err)
	}
	return nil
}

func (s *sqliteExperimentStore) SetCompletionStatus(ctx context.Context, experimentID, versionID, inputID, completionID string, status domain.ExperimentStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE experiment_completions SET completion_id = ?, status = ?
		 WHERE experiment_id = ? AND version_id = ? AND input_id = ?`,
		completionID, string(status), experimentID, versionID, inputID)
	if err != nil {
		return fmt.Errorf("set experiment completion status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteExperimentStore) ListCompletions(ctx context.Context, experimentID string) ([]domain.ExperimentCompletion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT experiment_id, version_id, input_id, completion_id, status
		 FROM experiment_completions WHERE experiment_id = ?
		 ORDER BY version_id, input_id`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("list experiment completions: %w", err)
	}
	defer rows.Close()

	var out []domain.ExperimentCompletion
	for rows.Next() {
		var ec domain.ExperimentCompletion
		var completionID sql.NullString
		var status string
		if err := rows.Scan(&ec.ExperimentID, &ec.VersionID, &ec.InputID,
			&completionID, &status); err != nil {
			return nil, fmt.Errorf("scan experiment completion: %w", err)
		}
		ec.CompletionID = completionID.String
		ec.Status = domain.ExperimentStatus(status)
		out = append(out, ec)
	}
	return out, rows.Err()
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
