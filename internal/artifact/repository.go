package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/studio-agent/internal/catalog"
	serrors "github.com/p-blackswan/studio-agent/internal/errors"
	"github.com/p-blackswan/studio-agent/internal/store"
)

// Repository persists artifact metadata rows.
type Repository struct {
	ds     *store.Store
	logger zerolog.Logger
}

// NewRepository creates a repository over ds.
func NewRepository(ds *store.Store, logger zerolog.Logger) *Repository {
	return &Repository{
		ds:     ds,
		logger: logger.With().Str("component", "artifact.repository").Logger(),
	}
}

const artifactColumns = `id, project_id, template_code, episode, version, status, storage_path, content_type, created_by, created_at, updated_at`

// NextVersion returns the version a new save for k would get. Callers must
// serialize saves per key; Insert still reports a lost race as ErrConflict.
func (r *Repository) NextVersion(ctx context.Context, k Key) (int, error) {
	return nextVersion(ctx, r.ds.DB(), k)
}

func newArtifact(in SaveInput, version int) *Artifact {
	now := time.Now().UnixMilli()
	return &Artifact{
		ID:           uuid.New().String(),
		ProjectID:    in.ProjectID,
		TemplateCode: in.TemplateCode,
		Episode:      in.Episode,
		Version:      version,
		Status:       in.Status,
		StoragePath:  StoragePath(in.ProjectID, in.TemplateCode, in.Episode, version, in.ContentType),
		ContentType:  in.ContentType,
		CreatedBy:    in.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Insert writes the metadata row for a. A unique-index violation on the
// version is reported as ErrConflict.
func (r *Repository) Insert(ctx context.Context, a *Artifact) error {
	return r.ds.WriteTx(ctx, func(ctx context.Context, q store.Querier) error {
		if _, err := q.ExecContext(ctx, `INSERT INTO artifacts (`+artifactColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.ProjectID, string(a.TemplateCode), store.NullInt(a.Episode), a.Version,
			string(a.Status), a.StoragePath, a.ContentType, a.CreatedBy, a.CreatedAt, a.UpdatedAt,
		); err != nil {
			if store.IsUniqueViolation(err) {
				return fmt.Errorf("version %d of %s: %w", a.Version, a.TemplateCode, serrors.ErrConflict)
			}
			return fmt.Errorf("failed to insert artifact: %w", err)
		}
		return nil
	})
}

// Get loads one artifact. A missing id is ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*Artifact, error) {
	a, err := scanArtifact(r.ds.DB().QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, serrors.NotFound("artifact", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return a, nil
}

// Latest returns the highest version for k, or nil when none exists.
func (r *Repository) Latest(ctx context.Context, k Key) (*Artifact, error) {
	a, err := scanArtifact(r.ds.DB().QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts
		WHERE project_id = ? AND template_code = ? AND episode IS ?
		ORDER BY version DESC LIMIT 1`,
		k.ProjectID, string(k.TemplateCode), store.NullInt(k.Episode)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest artifact: %w", err)
	}
	return a, nil
}

// List returns a project's artifacts, newest first.
func (r *Repository) List(ctx context.Context, projectID string, f ListFilter) ([]*Artifact, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	where := []string{"project_id = ?"}
	args := []any{projectID}
	if f.TemplateCode != "" {
		where = append(where, "template_code = ?")
		args = append(args, string(f.TemplateCode))
	}
	if f.Episode != nil {
		where = append(where, "episode = ?")
		args = append(args, *f.Episode)
	}
	args = append(args, limit, offset)

	rows, err := r.ds.DB().QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE `+strings.Join(where, " AND ")+
			` ORDER BY created_at DESC, version DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	out := make([]*Artifact, 0)
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Presence returns the distinct (template, episode) pairs a project has.
func (r *Repository) Presence(ctx context.Context, projectID string) ([]Presence, error) {
	rows, err := r.ds.DB().QueryContext(ctx,
		`SELECT DISTINCT template_code, episode FROM artifacts WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact presence: %w", err)
	}
	defer rows.Close()

	var out []Presence
	for rows.Next() {
		var (
			code    string
			episode sql.NullInt64
		)
		if err := rows.Scan(&code, &episode); err != nil {
			return nil, fmt.Errorf("failed to scan presence: %w", err)
		}
		out = append(out, Presence{TemplateCode: catalog.Code(code), Episode: store.IntPtr(episode)})
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*Artifact, error) {
	var (
		a       Artifact
		code    string
		status  string
		episode sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.ProjectID, &code, &episode, &a.Version, &status,
		&a.StoragePath, &a.ContentType, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.TemplateCode = catalog.Code(code)
	a.Status = Status(status)
	a.Episode = store.IntPtr(episode)
	return &a, nil
}
