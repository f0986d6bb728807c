package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_CreatesSchema(t *testing.T) {
	s := newTestStore(t)

	tables := []string{"projects", "artifacts", "chat_sessions", "chat_messages", "chat_events", "meta"}
	for _, table := range tables {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}

	assert.Equal(t, LatestSchemaVersion(), s.SchemaVersion())
}

func TestNew_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studio.db")

	s, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	_, err = s.DB().Exec(`INSERT INTO projects (id, name, episodes_planned, created_at, updated_at) VALUES ('p1', 'Pilot', 2, 1, 1)`)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s, err = New(path, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	var name string
	require.NoError(t, s.DB().QueryRow(`SELECT name FROM projects WHERE id = 'p1'`).Scan(&name))
	assert.Equal(t, "Pilot", name)
	assert.Equal(t, LatestSchemaVersion(), s.SchemaVersion())
}

func seedProject(t *testing.T, s *Store) {
	t.Helper()
	_, err := s.DB().Exec(`INSERT INTO projects (id, name, episodes_planned, created_at, updated_at) VALUES ('p1', 'Pilot', 2, 1, 1)`)
	require.NoError(t, err)
}

const insertArtifact = `INSERT INTO artifacts
	(id, project_id, template_code, episode, version, status, storage_path, content_type, created_at, updated_at)
	VALUES (?, 'p1', ?, ?, ?, 'draft', 'x', 'text/plain', 1, 1)`

func TestArtifactKeyUniqueness_NullSafe(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s)

	_, err := s.DB().Exec(insertArtifact, "a1", "overall_spec", nil, 1)
	require.NoError(t, err)

	// NULL episode must still collide on the unique key.
	_, err = s.DB().Exec(insertArtifact, "a2", "overall_spec", nil, 1)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))

	// Episode 0 is a different key from no episode.
	_, err = s.DB().Exec(insertArtifact, "a3", "overall_spec", 0, 1)
	require.NoError(t, err)
}

func TestWriteTx_CommitAndRollback(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s)
	ctx := context.Background()

	err := s.WriteTx(ctx, func(ctx context.Context, q Querier) error {
		_, err := q.ExecContext(ctx, insertArtifact, "a1", "episode_summary", 1, 1)
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WriteTx(ctx, func(ctx context.Context, q Querier) error {
		if _, err := q.ExecContext(ctx, insertArtifact, "a2", "episode_summary", 1, 2); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM artifacts`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWriteTx_SerializesReadThenInsert(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s)
	ctx := context.Background()

	const writers = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.WriteTx(ctx, func(ctx context.Context, q Querier) error {
				var next int
				if err := q.QueryRowContext(ctx,
					`SELECT COALESCE(MAX(version), 0) + 1 FROM artifacts WHERE project_id = 'p1' AND template_code = 'episode_script' AND episode IS 1`,
				).Scan(&next); err != nil {
					return err
				}
				_, err := q.ExecContext(ctx, insertArtifact, "w"+string(rune('a'+i)), "episode_script", 1, next)
				return err
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var maxVersion, count int
	require.NoError(t, s.DB().QueryRow(`SELECT MAX(version), COUNT(*) FROM artifacts`).Scan(&maxVersion, &count))
	assert.Equal(t, writers, count)
	assert.Equal(t, writers, maxVersion)
}

func TestNullHelpers(t *testing.T) {
	assert.False(t, NullString("").Valid)
	assert.True(t, NullString("x").Valid)
	assert.False(t, NullInt(nil).Valid)
	ep := 3
	n := NullInt(&ep)
	assert.True(t, n.Valid)
	assert.Equal(t, 3, *IntPtr(n))
	assert.Nil(t, IntPtr(NullInt(nil)))
}
