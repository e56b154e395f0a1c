package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"appforge/internal/domain"
	"appforge/internal/domain/model"
	"appforge/internal/domain/ports/repository"
)

var _ repository.ProjectFileRepository = (*projectFileRepo)(nil)

type projectFileRepo struct {
	pool *pgxpool.Pool
}

func NewProjectFileRepo(pool *pgxpool.Pool) *projectFileRepo {
	return &projectFileRepo{pool: pool}
}

// Upsert is keyed by (project_id, path); applying the same file twice yields
// one row with the final content, which keeps job re-delivery harmless.
func (r *projectFileRepo) Upsert(ctx context.Context, tx repository.Tx, f *model.ProjectFile) error {
	f.UpdatedAt = time.Now()
	const q = `
INSERT INTO project_files (project_id, path, content, language, checksum, size, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (project_id, path) DO UPDATE SET
  content = EXCLUDED.content,
  language = EXCLUDED.language,
  checksum = EXCLUDED.checksum,
  size = EXCLUDED.size,
  updated_at = EXCLUDED.updated_at;`
	_, err := execSQL(ctx, r.pool, tx, q,
		f.ProjectID, f.Path, f.Content, f.Language, f.Checksum, f.Size, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upserting project file: %w", err)
	}
	return nil
}

func (r *projectFileRepo) Delete(ctx context.Context, tx repository.Tx, projectID, path string) error {
	const q = `DELETE FROM project_files WHERE project_id = $1 AND path = $2;`
	_, err := execSQL(ctx, r.pool, tx, q, projectID, path)
	return err
}

func (r *projectFileRepo) ListByProject(ctx context.Context, tx repository.Tx, projectID string) ([]model.ProjectFile, error) {
	const q = `
SELECT project_id, path, content, language, checksum, size, updated_at
FROM project_files WHERE project_id = $1 ORDER BY path;`
	rows, err := queryRows(ctx, r.pool, tx, q, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProjectFile
	for rows.Next() {
		var f model.ProjectFile
		if err := rows.Scan(&f.ProjectID, &f.Path, &f.Content, &f.Language, &f.Checksum, &f.Size, &f.UpdatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *projectFileRepo) CountByProject(ctx context.Context, tx repository.Tx, projectID string) (int, error) {
	const q = `SELECT count(*) FROM project_files WHERE project_id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, projectID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

// AppendSnapshot assigns the next version number inside the insert so
// concurrent appends can't collide on a number.
func (r *projectFileRepo) AppendSnapshot(ctx context.Context, tx repository.Tx, s *model.VersionSnapshot) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = time.Now()
	filesJSON, err := json.Marshal(s.Files)
	if err != nil {
		return fmt.Errorf("postgres: encoding snapshot files: %w", err)
	}

	const q = `
INSERT INTO version_snapshots (id, project_id, version_number, files, prompt_summary, created_at)
SELECT $1, $2, coalesce(max(version_number), 0) + 1, $3, $4, $5
FROM version_snapshots WHERE project_id = $2
RETURNING version_number;`
	row, err := pickRow(ctx, r.pool, tx, q, s.ID, s.ProjectID, filesJSON, s.PromptSummary, s.CreatedAt)
	if err != nil {
		return err
	}
	if err := row.Scan(&s.VersionNumber); err != nil {
		return fmt.Errorf("postgres: appending snapshot: %w", err)
	}
	return nil
}

func (r *projectFileRepo) LatestSnapshot(ctx context.Context, tx repository.Tx, projectID string) (*model.VersionSnapshot, error) {
	const q = `
SELECT id, project_id, version_number, files, prompt_summary, created_at
FROM version_snapshots WHERE project_id = $1
ORDER BY version_number DESC LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, projectID)
	if err != nil {
		return nil, err
	}
	var s model.VersionSnapshot
	var filesJSON []byte
	err = row.Scan(&s.ID, &s.ProjectID, &s.VersionNumber, &filesJSON, &s.PromptSummary, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if err := json.Unmarshal(filesJSON, &s.Files); err != nil {
		return nil, fmt.Errorf("postgres: decoding snapshot files: %w", err)
	}
	return &s, nil
}
