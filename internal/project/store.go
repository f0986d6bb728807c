package project

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	serrors "github.com/p-blackswan/studio-agent/internal/errors"
	"github.com/p-blackswan/studio-agent/internal/store"
)

const maxNameLength = 200

// Store handles project-related SQLite operations.
type Store struct {
	ds     *store.Store
	logger zerolog.Logger
}

// NewStore creates a new project store.
func NewStore(ds *store.Store, logger zerolog.Logger) *Store {
	return &Store{
		ds:     ds,
		logger: logger.With().Str("component", "project.store").Logger(),
	}
}

// Validate checks a create request.
func (in CreateProjectInput) Validate() error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return serrors.Invalid("name", "must not be empty")
	}
	if len([]rune(name)) > maxNameLength {
		return serrors.Invalid("name", fmt.Sprintf("must be at most %d characters", maxNameLength))
	}
	if in.EpisodesPlanned < 1 {
		return serrors.Invalid("episodes_planned", "must be at least 1")
	}
	return nil
}

// CreateProject creates a new project.
func (s *Store) CreateProject(ctx context.Context, input CreateProjectInput) (*Project, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	p := &Project{
		ID:              uuid.New().String(),
		Name:            strings.TrimSpace(input.Name),
		Description:     strings.TrimSpace(input.Description),
		EpisodesPlanned: input.EpisodesPlanned,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	query := `
	INSERT INTO projects (id, name, description, episodes_planned, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.ds.DB().ExecContext(ctx, query,
		p.ID, p.Name, p.Description, p.EpisodesPlanned, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	s.logger.Info().Str("project_id", p.ID).Str("name", p.Name).Int("episodes_planned", p.EpisodesPlanned).Msg("Project created")
	return p, nil
}

// projectColumns is the standard column list for project queries.
const projectColumns = `id, name, description, episodes_planned, created_at, updated_at`

// GetProject retrieves a project by ID. A missing project is ErrNotFound.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	p := &Project{}
	err := s.ds.DB().QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id).Scan(
		&p.ID, &p.Name, &p.Description, &p.EpisodesPlanned, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, serrors.NotFound("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// ListProjects lists projects, most recently created first.
func (s *Store) ListProjects(ctx context.Context, opts ListOptions) ([]*Project, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.ds.DB().QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]*Project, 0)
	for rows.Next() {
		p := &Project{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.EpisodesPlanned, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}
