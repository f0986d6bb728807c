package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/p-blackswan/studio-agent/internal/errors"
)

func newLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return l
}

func TestLocal_RoundTrip(t *testing.T) {
	l := newLocal(t)
	ctx := context.Background()
	data := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}

	p := "projects/p1/episodes/01/keyframe_image/v001.png"
	require.NoError(t, l.Save(ctx, p, data, "image/png"))

	got, err := l.Load(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	onDisk, err := os.ReadFile(filepath.Join(l.Root(), filepath.FromSlash(p)))
	require.NoError(t, err)
	assert.Equal(t, data, onDisk)
}

func TestLocal_Overwrite(t *testing.T) {
	l := newLocal(t)
	ctx := context.Background()
	require.NoError(t, l.Save(ctx, "a.txt", []byte("one"), "text/plain"))
	require.NoError(t, l.Save(ctx, "a.txt", []byte("two"), "text/plain"))
	got, err := l.Load(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))
}

func TestLocal_LoadMissing(t *testing.T) {
	l := newLocal(t)
	_, err := l.Load(context.Background(), "projects/p1/overall_spec/v001.md")
	assert.ErrorIs(t, err, serrors.ErrNotFound)
}

func TestLocal_RejectsEscapingPaths(t *testing.T) {
	l := newLocal(t)
	ctx := context.Background()

	for _, p := range []string{"../outside.txt", "projects/../../x", "/etc/passwd", "", ".."} {
		t.Run(p, func(t *testing.T) {
			err := l.Save(ctx, p, []byte("x"), "text/plain")
			assert.ErrorIs(t, err, serrors.ErrInvalidInput)
			_, err = l.Load(ctx, p)
			assert.ErrorIs(t, err, serrors.ErrInvalidInput)
		})
	}
}

func TestLocal_Check(t *testing.T) {
	l := newLocal(t)
	require.NoError(t, l.Check(context.Background()))
	assert.Equal(t, "local", l.Name())

	require.NoError(t, os.RemoveAll(l.Root()))
	assert.Error(t, l.Check(context.Background()))
}

func TestObjectName(t *testing.T) {
	name, err := objectName("", "projects/p1/overall_spec/v001.md")
	require.NoError(t, err)
	assert.Equal(t, "projects/p1/overall_spec/v001.md", name)

	name, err = objectName("studio/prod", "projects/p1/overall_spec/v001.md")
	require.NoError(t, err)
	assert.Equal(t, "studio/prod/projects/p1/overall_spec/v001.md", name)

	_, err = objectName("", "../secret")
	assert.ErrorIs(t, err, serrors.ErrInvalidInput)
	_, err = objectName("", "")
	assert.ErrorIs(t, err, serrors.ErrInvalidInput)
}
