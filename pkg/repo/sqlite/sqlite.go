// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite is a single-node reference implementation of the
// persistence contract (pkg/repo), matching the teacher's
// internal/controller/backend/sqlite conventions: WAL mode, a single
// writer connection, foreign keys on, JSON blobs for composite fields.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vsync-io/workflow-engine/pkg/engine/model"
	"github.com/vsync-io/workflow-engine/pkg/repo"
)

var _ repo.Repo = (*Backend)(nil)

// Backend is a SQLite-backed Repo.
type Backend struct {
	db *sql.DB
}

// Config configures the SQLite connection.
type Config struct {
	Path string
	WAL  bool
}

// New opens (creating if necessary) a SQLite database at cfg.Path and
// runs migrations.
func New(cfg Config) (*Backend, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	b := &Backend{db: db}
	if err := b.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, err
	}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) configurePragmas(ctx context.Context, wal bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if wal {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := b.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func (b *Backend) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			active_version INTEGER DEFAULT 0,
			is_locked INTEGER DEFAULT 0,
			locked_by TEXT,
			is_disabled INTEGER DEFAULT 0,
			is_public INTEGER DEFAULT 0,
			public_slug TEXT,
			public_access_mode TEXT,
			public_branding TEXT,
			public_rate_limit TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_workflows_public_slug ON workflows(public_slug) WHERE public_slug IS NOT NULL AND public_slug != ''`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_org ON workflows(org_id)`,
		`CREATE TABLE IF NOT EXISTS workflow_versions (
			workflow_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			status TEXT NOT NULL,
			trigger_type TEXT,
			trigger_config TEXT,
			execution_environments TEXT,
			changelog TEXT,
			blocks TEXT,
			PRIMARY KEY (workflow_id, version),
			FOREIGN KEY (workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			org_id TEXT,
			status TEXT NOT NULL,
			trigger_type TEXT,
			started_at TEXT,
			completed_at TEXT,
			duration_ms INTEGER,
			error_message TEXT,
			steps TEXT,
			metadata TEXT,
			resume_marker TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE TABLE IF NOT EXISTS keys (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			workflow_id TEXT,
			name TEXT NOT NULL,
			provider TEXT,
			key_type TEXT,
			encrypted_value TEXT NOT NULL,
			iv TEXT NOT NULL,
			algorithm TEXT NOT NULL,
			storage_mode TEXT NOT NULL,
			expires_at TEXT,
			is_revoked INTEGER DEFAULT 0,
			last_used_at TEXT,
			last_rotated_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_keys_org_name ON keys(org_id, name)`,
		`CREATE TABLE IF NOT EXISTS key_audit (
			id TEXT PRIMARY KEY,
			key_id TEXT NOT NULL,
			action TEXT NOT NULL,
			performed_by TEXT,
			ip_address TEXT,
			user_agent TEXT,
			metadata TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (key_id) REFERENCES keys(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_key_audit_key ON key_audit(key_id)`,
		`CREATE TABLE IF NOT EXISTS public_runs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			ip_hash TEXT NOT NULL,
			user_agent TEXT,
			anonymous INTEGER DEFAULT 1,
			run_id TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_public_runs_workflow ON public_runs(workflow_id)`,
	}
	for _, s := range stmts {
		if _, err := b.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) Workflows() repo.WorkflowRepo  { return (*workflowRepo)(b) }
func (b *Backend) Versions() repo.VersionRepo     { return (*versionRepo)(b) }
func (b *Backend) Runs() repo.RunRepo             { return (*runRepo)(b) }
func (b *Backend) Keys() repo.KeyRepo             { return (*keyRepo)(b) }
func (b *Backend) PublicRuns() repo.PublicRunRepo { return (*publicRunRepo)(b) }

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// sqlBool scans a SQLite INTEGER (0/1) column into a bool: modernc.org/
// sqlite has no native boolean affinity, so the driver hands back int64
// for these columns and database/sql won't auto-convert that to *bool.
type sqlBool bool

func (b *sqlBool) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*b = false
	case bool:
		*b = sqlBool(v)
	case int64:
		*b = v != 0
	default:
		return fmt.Errorf("unsupported bool scan source %T", src)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type workflowRepo Backend

func (r *workflowRepo) Create(ctx context.Context, wf *model.Workflow) error {
	b := (*Backend)(r)
	branding, err := marshalJSON(wf.PublicBranding)
	if err != nil {
		return err
	}
	rateLimit, err := marshalJSON(wf.PublicRateLimit)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO workflows (id, org_id, name, description, active_version, is_locked, locked_by,
			is_disabled, is_public, public_slug, public_access_mode, public_branding, public_rate_limit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.OrgID, wf.Name, wf.Description, wf.ActiveVersion, wf.IsLocked, nullString(wf.LockedBy),
		wf.IsDisabled, wf.IsPublic, nullString(wf.PublicSlug), nullString(string(wf.PublicAccessMode)),
		nullString(branding), nullString(rateLimit))
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

func (r *workflowRepo) scanRow(row *sql.Row) (*model.Workflow, error) {
	var wf model.Workflow
	var isLocked, isDisabled, isPublic sqlBool
	var lockedBy, publicSlug, accessMode, branding, rateLimit sql.NullString
	err := row.Scan(&wf.ID, &wf.OrgID, &wf.Name, &wf.Description, &wf.ActiveVersion, &isLocked, &lockedBy,
		&isDisabled, &isPublic, &publicSlug, &accessMode, &branding, &rateLimit)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	wf.IsLocked = bool(isLocked)
	wf.IsDisabled = bool(isDisabled)
	wf.IsPublic = bool(isPublic)
	wf.LockedBy = lockedBy.String
	wf.PublicSlug = publicSlug.String
	wf.PublicAccessMode = model.PublicAccessMode(accessMode.String)
	if branding.Valid && branding.String != "" {
		_ = json.Unmarshal([]byte(branding.String), &wf.PublicBranding)
	}
	if rateLimit.Valid && rateLimit.String != "" {
		wf.PublicRateLimit = &model.PublicRateLimit{}
		_ = json.Unmarshal([]byte(rateLimit.String), wf.PublicRateLimit)
	}
	return &wf, nil
}

func (r *workflowRepo) Get(ctx context.Context, id string) (*model.Workflow, error) {
	b := (*Backend)(r)
	row := b.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, description, active_version, is_locked, locked_by,
			is_disabled, is_public, public_slug, public_access_mode, public_branding, public_rate_limit
		FROM workflows WHERE id = ?`, id)
	wf, err := r.scanRow(row)
	if err != nil {
		return nil, fmt.Errorf("workflow not found: %s", id)
	}
	return wf, nil
}

func (r *workflowRepo) GetByPublicSlug(ctx context.Context, slug string) (*model.Workflow, error) {
	b := (*Backend)(r)
	row := b.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, description, active_version, is_locked, locked_by,
			is_disabled, is_public, public_slug, public_access_mode, public_branding, public_rate_limit
		FROM workflows WHERE public_slug = ? AND is_public = 1`, slug)
	wf, err := r.scanRow(row)
	if err != nil {
		return nil, fmt.Errorf("no public workflow with slug: %s", slug)
	}
	return wf, nil
}

func (r *workflowRepo) Update(ctx context.Context, wf *model.Workflow) error {
	b := (*Backend)(r)
	branding, err := marshalJSON(wf.PublicBranding)
	if err != nil {
		return err
	}
	rateLimit, err := marshalJSON(wf.PublicRateLimit)
	if err != nil {
		return err
	}
	res, err := b.db.ExecContext(ctx, `
		UPDATE workflows SET org_id=?, name=?, description=?, active_version=?, is_locked=?, locked_by=?,
			is_disabled=?, is_public=?, public_slug=?, public_access_mode=?, public_branding=?, public_rate_limit=?
		WHERE id=?`,
		wf.OrgID, wf.Name, wf.Description, wf.ActiveVersion, wf.IsLocked, nullString(wf.LockedBy),
		wf.IsDisabled, wf.IsPublic, nullString(wf.PublicSlug), nullString(string(wf.PublicAccessMode)),
		nullString(branding), nullString(rateLimit), wf.ID)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workflow not found: %s", wf.ID)
	}
	return nil
}

func (r *workflowRepo) List(ctx context.Context, orgID string) ([]*model.Workflow, error) {
	b := (*Backend)(r)
	query := `SELECT id, org_id, name, description, active_version, is_locked, locked_by,
		is_disabled, is_public, public_slug, public_access_mode, public_branding, public_rate_limit FROM workflows`
	var rows *sql.Rows
	var err error
	if orgID != "" {
		rows, err = b.db.QueryContext(ctx, query+" WHERE org_id = ? ORDER BY id", orgID)
	} else {
		rows, err = b.db.QueryContext(ctx, query+" ORDER BY id")
	}
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []*model.Workflow
	for rows.Next() {
		var wf model.Workflow
		var isLocked, isDisabled, isPublic sqlBool
		var lockedBy, publicSlug, accessMode, branding, rateLimit sql.NullString
		if err := rows.Scan(&wf.ID, &wf.OrgID, &wf.Name, &wf.Description, &wf.ActiveVersion, &isLocked, &lockedBy,
			&isDisabled, &isPublic, &publicSlug, &accessMode, &branding, &rateLimit); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		wf.IsLocked = bool(isLocked)
		wf.IsDisabled = bool(isDisabled)
		wf.IsPublic = bool(isPublic)
		wf.LockedBy = lockedBy.String
		wf.PublicSlug = publicSlug.String
		wf.PublicAccessMode = model.PublicAccessMode(accessMode.String)
		out = append(out, &wf)
	}
	return out, rows.Err()
}

func (r *workflowRepo) Delete(ctx context.Context, id string) error {
	b := (*Backend)(r)
	_, err := b.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	return err
}

type versionRepo Backend

func (r *versionRepo) Create(ctx context.Context, v *model.WorkflowVersion) error {
	b := (*Backend)(r)

	var existingStatus string
	err := b.db.QueryRowContext(ctx, `SELECT status FROM workflow_versions WHERE workflow_id = ? AND version = ?`,
		v.WorkflowID, v.Version).Scan(&existingStatus)
	if err == nil && existingStatus == string(model.VersionPublished) {
		return fmt.Errorf("published version is immutable: %s@%d", v.WorkflowID, v.Version)
	}

	triggerConfig, err := marshalJSON(v.TriggerConfig)
	if err != nil {
		return err
	}
	envs, err := marshalJSON(v.ExecutionEnvironments)
	if err != nil {
		return err
	}
	blocks, err := marshalJSON(v.Blocks)
	if err != nil {
		return err
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO workflow_versions
			(workflow_id, version, status, trigger_type, trigger_config, execution_environments, changelog, blocks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.WorkflowID, v.Version, string(v.Status), string(v.TriggerType), nullString(triggerConfig),
		nullString(envs), v.Changelog, nullString(blocks))
	if err != nil {
		return fmt.Errorf("create version: %w", err)
	}
	return nil
}

func (r *versionRepo) scanRow(row *sql.Row) (*model.WorkflowVersion, error) {
	var v model.WorkflowVersion
	var status, triggerType, triggerConfig, envs, blocks sql.NullString
	err := row.Scan(&v.WorkflowID, &v.Version, &status, &triggerType, &triggerConfig, &envs, &v.Changelog, &blocks)
	if err != nil {
		return nil, err
	}
	v.Status = model.VersionStatus(status.String)
	v.TriggerType = model.TriggerType(triggerType.String)
	if triggerConfig.Valid && triggerConfig.String != "" {
		_ = json.Unmarshal([]byte(triggerConfig.String), &v.TriggerConfig)
	}
	if envs.Valid && envs.String != "" {
		_ = json.Unmarshal([]byte(envs.String), &v.ExecutionEnvironments)
	}
	if blocks.Valid && blocks.String != "" {
		_ = json.Unmarshal([]byte(blocks.String), &v.Blocks)
	}
	return &v, nil
}

func (r *versionRepo) Get(ctx context.Context, workflowID string, version int) (*model.WorkflowVersion, error) {
	b := (*Backend)(r)
	row := b.db.QueryRowContext(ctx, `
		SELECT workflow_id, version, status, trigger_type, trigger_config, execution_environments, changelog, blocks
		FROM workflow_versions WHERE workflow_id = ? AND version = ?`, workflowID, version)
	v, err := r.scanRow(row)
	if err != nil {
		return nil, fmt.Errorf("version not found: %s@%d", workflowID, version)
	}
	return v, nil
}

func (r *versionRepo) GetActive(ctx context.Context, workflowID string, activeVersion int) (*model.WorkflowVersion, error) {
	return r.Get(ctx, workflowID, activeVersion)
}

func (r *versionRepo) List(ctx context.Context, workflowID string) ([]*model.WorkflowVersion, error) {
	b := (*Backend)(r)
	rows, err := b.db.QueryContext(ctx, `
		SELECT workflow_id, version, status, trigger_type, trigger_config, execution_environments, changelog, blocks
		FROM workflow_versions WHERE workflow_id = ? ORDER BY version`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []*model.WorkflowVersion
	for rows.Next() {
		var v model.WorkflowVersion
		var status, triggerType, triggerConfig, envs, blocks sql.NullString
		if err := rows.Scan(&v.WorkflowID, &v.Version, &status, &triggerType, &triggerConfig, &envs, &v.Changelog, &blocks); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		v.Status = model.VersionStatus(status.String)
		v.TriggerType = model.TriggerType(triggerType.String)
		if triggerConfig.Valid && triggerConfig.String != "" {
			_ = json.Unmarshal([]byte(triggerConfig.String), &v.TriggerConfig)
		}
		if envs.Valid && envs.String != "" {
			_ = json.Unmarshal([]byte(envs.String), &v.ExecutionEnvironments)
		}
		if blocks.Valid && blocks.String != "" {
			_ = json.Unmarshal([]byte(blocks.String), &v.Blocks)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

type runRepo Backend

func (r *runRepo) Save(ctx context.Context, run *model.Run) error {
	b := (*Backend)(r)
	steps, err := marshalJSON(run.Steps)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(run.Metadata)
	if err != nil {
		return err
	}
	marker, err := marshalJSON(run.ResumeMarker)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO runs (id, workflow_id, version, org_id, status, trigger_type, started_at, completed_at,
			duration_ms, error_message, steps, metadata, resume_marker)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, completed_at=excluded.completed_at, duration_ms=excluded.duration_ms,
			error_message=excluded.error_message, steps=excluded.steps, metadata=excluded.metadata,
			resume_marker=excluded.resume_marker`,
		run.ID, run.WorkflowID, run.Version, run.OrgID, string(run.Status), string(run.TriggerType),
		run.StartedAt.UTC().Format(time.RFC3339Nano), nullTime(run.CompletedAt), run.DurationMS,
		nullString(run.ErrorMessage), nullString(steps), nullString(metadata), nullString(marker))
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (r *runRepo) Get(ctx context.Context, id string) (*model.Run, error) {
	b := (*Backend)(r)
	row := b.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, version, org_id, status, trigger_type, started_at, completed_at,
			duration_ms, error_message, steps, metadata, resume_marker
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return run, nil
}

func scanRun(row *sql.Row) (*model.Run, error) {
	var run model.Run
	var startedAt string
	var completedAt, errMsg, steps, metadata, marker sql.NullString
	err := row.Scan(&run.ID, &run.WorkflowID, &run.Version, &run.OrgID, &run.Status, &run.TriggerType,
		&startedAt, &completedAt, &run.DurationMS, &errMsg, &steps, &metadata, &marker)
	if err != nil {
		return nil, err
	}
	if t, perr := time.Parse(time.RFC3339Nano, startedAt); perr == nil {
		run.StartedAt = t
	}
	run.CompletedAt = parseNullTime(completedAt)
	run.ErrorMessage = errMsg.String
	if steps.Valid && steps.String != "" {
		_ = json.Unmarshal([]byte(steps.String), &run.Steps)
	}
	if metadata.Valid && metadata.String != "" {
		_ = json.Unmarshal([]byte(metadata.String), &run.Metadata)
	}
	if marker.Valid && marker.String != "" {
		run.ResumeMarker = &model.ResumeMarker{}
		_ = json.Unmarshal([]byte(marker.String), run.ResumeMarker)
	}
	return &run, nil
}

func (r *runRepo) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*model.Run, error) {
	b := (*Backend)(r)
	query := `SELECT id, workflow_id, version, org_id, status, trigger_type, started_at, completed_at,
		duration_ms, error_message, steps, metadata, resume_marker
		FROM runs WHERE workflow_id = ? ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := b.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*model.Run
	for rows.Next() {
		var run model.Run
		var startedAt string
		var completedAt, errMsg, steps, metadata, marker sql.NullString
		if err := rows.Scan(&run.ID, &run.WorkflowID, &run.Version, &run.OrgID, &run.Status, &run.TriggerType,
			&startedAt, &completedAt, &run.DurationMS, &errMsg, &steps, &metadata, &marker); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, startedAt); perr == nil {
			run.StartedAt = t
		}
		run.CompletedAt = parseNullTime(completedAt)
		run.ErrorMessage = errMsg.String
		if steps.Valid && steps.String != "" {
			_ = json.Unmarshal([]byte(steps.String), &run.Steps)
		}
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &run.Metadata)
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}

type keyRepo Backend

func (r *keyRepo) Save(ctx context.Context, k *model.Key) error {
	b := (*Backend)(r)
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO keys (id, org_id, workflow_id, name, provider, key_type, encrypted_value, iv, algorithm,
			storage_mode, expires_at, is_revoked, last_used_at, last_rotated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			encrypted_value=excluded.encrypted_value, iv=excluded.iv, algorithm=excluded.algorithm,
			expires_at=excluded.expires_at, is_revoked=excluded.is_revoked,
			last_used_at=excluded.last_used_at, last_rotated_at=excluded.last_rotated_at`,
		k.ID, k.OrgID, nullString(k.WorkflowID), k.Name, nullString(k.Provider), nullString(k.KeyType),
		k.EncryptedValue, k.IV, k.Algorithm, string(k.StorageMode), nullTime(k.ExpiresAt), k.IsRevoked,
		nullTime(k.LastUsedAt), nullTime(k.LastRotatedAt))
	if err != nil {
		return fmt.Errorf("save key: %w", err)
	}
	return nil
}

func scanKey(row *sql.Row) (*model.Key, error) {
	var k model.Key
	var isRevoked sqlBool
	var workflowID, provider, keyType sql.NullString
	var storageMode string
	var expiresAt, lastUsedAt, lastRotatedAt sql.NullString
	err := row.Scan(&k.ID, &k.OrgID, &workflowID, &k.Name, &provider, &keyType, &k.EncryptedValue, &k.IV,
		&k.Algorithm, &storageMode, &expiresAt, &isRevoked, &lastUsedAt, &lastRotatedAt)
	if err != nil {
		return nil, err
	}
	k.IsRevoked = bool(isRevoked)
	k.WorkflowID = workflowID.String
	k.Provider = provider.String
	k.KeyType = keyType.String
	k.StorageMode = model.StorageMode(storageMode)
	k.ExpiresAt = parseNullTime(expiresAt)
	k.LastUsedAt = parseNullTime(lastUsedAt)
	k.LastRotatedAt = parseNullTime(lastRotatedAt)
	return &k, nil
}

func (r *keyRepo) Get(ctx context.Context, id string) (*model.Key, error) {
	b := (*Backend)(r)
	row := b.db.QueryRowContext(ctx, `
		SELECT id, org_id, workflow_id, name, provider, key_type, encrypted_value, iv, algorithm,
			storage_mode, expires_at, is_revoked, last_used_at, last_rotated_at
		FROM keys WHERE id = ?`, id)
	k, err := scanKey(row)
	if err != nil {
		return nil, fmt.Errorf("key not found: %s", id)
	}
	return k, nil
}

// Resolve implements the scoped lookup order from §4.D: workflow-scoped
// beats org-wide, revoked keys are excluded.
func (r *keyRepo) Resolve(ctx context.Context, orgID, workflowID, name string) (*model.Key, error) {
	b := (*Backend)(r)
	if workflowID != "" {
		row := b.db.QueryRowContext(ctx, `
			SELECT id, org_id, workflow_id, name, provider, key_type, encrypted_value, iv, algorithm,
				storage_mode, expires_at, is_revoked, last_used_at, last_rotated_at
			FROM keys WHERE org_id = ? AND workflow_id = ? AND name = ? AND is_revoked = 0`, orgID, workflowID, name)
		if k, err := scanKey(row); err == nil {
			return k, nil
		}
	}
	row := b.db.QueryRowContext(ctx, `
		SELECT id, org_id, workflow_id, name, provider, key_type, encrypted_value, iv, algorithm,
			storage_mode, expires_at, is_revoked, last_used_at, last_rotated_at
		FROM keys WHERE org_id = ? AND (workflow_id IS NULL OR workflow_id = '') AND name = ? AND is_revoked = 0`, orgID, name)
	k, err := scanKey(row)
	if err != nil {
		return nil, fmt.Errorf("no key named %q resolvable for org %s / workflow %s", name, orgID, workflowID)
	}
	return k, nil
}

func (r *keyRepo) ListByOrg(ctx context.Context, orgID string) ([]*model.Key, error) {
	b := (*Backend)(r)
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, org_id, workflow_id, name, provider, key_type, encrypted_value, iv, algorithm,
			storage_mode, expires_at, is_revoked, last_used_at, last_rotated_at
		FROM keys WHERE org_id = ? ORDER BY id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var out []*model.Key
	for rows.Next() {
		var k model.Key
		var isRevoked sqlBool
		var workflowID, provider, keyType sql.NullString
		var storageMode string
		var expiresAt, lastUsedAt, lastRotatedAt sql.NullString
		if err := rows.Scan(&k.ID, &k.OrgID, &workflowID, &k.Name, &provider, &keyType, &k.EncryptedValue, &k.IV,
			&k.Algorithm, &storageMode, &expiresAt, &isRevoked, &lastUsedAt, &lastRotatedAt); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		k.IsRevoked = bool(isRevoked)
		k.WorkflowID = workflowID.String
		k.Provider = provider.String
		k.KeyType = keyType.String
		k.StorageMode = model.StorageMode(storageMode)
		k.ExpiresAt = parseNullTime(expiresAt)
		k.LastUsedAt = parseNullTime(lastUsedAt)
		k.LastRotatedAt = parseNullTime(lastRotatedAt)
		out = append(out, &k)
	}
	return out, rows.Err()
}

func (r *keyRepo) Revoke(ctx context.Context, id string) error {
	b := (*Backend)(r)
	res, err := b.db.ExecContext(ctx, `UPDATE keys SET is_revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("key not found: %s", id)
	}
	return nil
}

func (r *keyRepo) AppendAudit(ctx context.Context, e *model.KeyAuditEntry) error {
	b := (*Backend)(r)
	metadata, err := marshalJSON(e.Metadata)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO key_audit (id, key_id, action, performed_by, ip_address, user_agent, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.KeyID, string(e.Action), nullString(e.PerformedBy), nullString(e.IPAddress),
		nullString(e.UserAgent), nullString(metadata), e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append key audit: %w", err)
	}
	return nil
}

func (r *keyRepo) ListAudit(ctx context.Context, keyID string) ([]*model.KeyAuditEntry, error) {
	b := (*Backend)(r)
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, key_id, action, performed_by, ip_address, user_agent, metadata, created_at
		FROM key_audit WHERE key_id = ? ORDER BY created_at`, keyID)
	if err != nil {
		return nil, fmt.Errorf("list key audit: %w", err)
	}
	defer rows.Close()

	var out []*model.KeyAuditEntry
	for rows.Next() {
		var e model.KeyAuditEntry
		var performedBy, ipAddr, userAgent, metadata sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.KeyID, &e.Action, &performedBy, &ipAddr, &userAgent, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan key audit: %w", err)
		}
		e.PerformedBy = performedBy.String
		e.IPAddress = ipAddr.String
		e.UserAgent = userAgent.String
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &e.Metadata)
		}
		if t, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
			e.CreatedAt = t
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

type publicRunRepo Backend

func (r *publicRunRepo) Append(ctx context.Context, pr *model.PublicRun) error {
	b := (*Backend)(r)
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO public_runs (id, workflow_id, ip_hash, user_agent, anonymous, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pr.ID, pr.WorkflowID, pr.IPHash, nullString(pr.UserAgent), pr.Anonymous, nullString(pr.RunID),
		pr.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append public run: %w", err)
	}
	return nil
}

func (r *publicRunRepo) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*model.PublicRun, error) {
	b := (*Backend)(r)
	query := `SELECT id, workflow_id, ip_hash, user_agent, anonymous, run_id, created_at
		FROM public_runs WHERE workflow_id = ? ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := b.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list public runs: %w", err)
	}
	defer rows.Close()

	var out []*model.PublicRun
	for rows.Next() {
		var pr model.PublicRun
		var anonymous sqlBool
		var userAgent, runID sql.NullString
		var createdAt string
		if err := rows.Scan(&pr.ID, &pr.WorkflowID, &pr.IPHash, &userAgent, &anonymous, &runID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan public run: %w", err)
		}
		pr.Anonymous = bool(anonymous)
		pr.UserAgent = userAgent.String
		pr.RunID = runID.String
		if t, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
			pr.CreatedAt = t
		}
		out = append(out, &pr)
	}
	return out, rows.Err()
}
