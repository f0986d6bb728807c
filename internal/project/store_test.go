package project

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/p-blackswan/studio-agent/internal/errors"
	"github.com/p-blackswan/studio-agent/internal/store"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	logger := zerolog.Nop()
	ds, err := store.New(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return NewStore(ds, logger)
}

func TestCreateAndGetProject(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, CreateProjectInput{
		Name:            "  Pilot ",
		Description:     "SF アンソロジー",
		EpisodesPlanned: 2,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "Pilot", p.Name)
	assert.NotZero(t, p.CreatedAt)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestGetProject_NotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.GetProject(context.Background(), "missing")
	assert.ErrorIs(t, err, serrors.ErrNotFound)
}

func TestCreateProject_Validation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input CreateProjectInput
		field string
	}{
		{"empty name", CreateProjectInput{Name: "  ", EpisodesPlanned: 1}, "name"},
		{"zero episodes", CreateProjectInput{Name: "X", EpisodesPlanned: 0}, "episodes_planned"},
		{"negative episodes", CreateProjectInput{Name: "X", EpisodesPlanned: -3}, "episodes_planned"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateProject(ctx, tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, serrors.ErrInvalidInput)
			var ve *serrors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestListProjects(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	empty, err := s.ListProjects(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, name := range []string{"A", "B", "C"} {
		_, err := s.CreateProject(ctx, CreateProjectInput{Name: name, EpisodesPlanned: 1})
		require.NoError(t, err)
	}

	all, err := s.ListProjects(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	page, err := s.ListProjects(ctx, ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}
