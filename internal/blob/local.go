package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	serrors "github.com/p-blackswan/studio-agent/internal/errors"
)

// Local keeps blobs on the filesystem below a root directory.
type Local struct {
	root   string
	logger zerolog.Logger
}

// NewLocal creates the root directory if needed.
func NewLocal(root string, logger zerolog.Logger) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root %q: %w", abs, err)
	}
	return &Local{
		root:   abs,
		logger: logger.With().Str("component", "blob.local").Logger(),
	}, nil
}

// Name implements Store.
func (l *Local) Name() string { return "local" }

// Root returns the absolute storage root.
func (l *Local) Root() string { return l.root }

// Resolve maps a relative blob path to a file below the root. Absolute paths
// and paths that escape the root are rejected.
func (l *Local) Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", serrors.Invalid("path", "must not be empty")
	}
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return "", serrors.Invalid("path", fmt.Sprintf("%q must be relative", p))
	}
	full := filepath.Join(l.root, filepath.FromSlash(p))
	rel, err := filepath.Rel(l.root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", serrors.Invalid("path", fmt.Sprintf("%q escapes the storage root", p))
	}
	return full, nil
}

// Save writes data atomically: a temp file in the target directory is renamed
// into place.
func (l *Local) Save(_ context.Context, p string, data []byte, _ string) error {
	full, err := l.Resolve(p)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return serrors.Unavailable("storage", fmt.Errorf("creating %s: %w", dir, err))
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return serrors.Unavailable("storage", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return serrors.Unavailable("storage", fmt.Errorf("writing %s: %w", p, err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return serrors.Unavailable("storage", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return serrors.Unavailable("storage", fmt.Errorf("renaming into %s: %w", p, err))
	}

	l.logger.Debug().Str("path", p).Int("bytes", len(data)).Msg("Blob saved")
	return nil
}

// Load reads a blob. A missing file is ErrNotFound.
func (l *Local) Load(_ context.Context, p string) ([]byte, error) {
	full, err := l.Resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, serrors.NotFound("blob", p)
	}
	if err != nil {
		return nil, serrors.Unavailable("storage", err)
	}
	return data, nil
}

// Check verifies the root is a writable directory.
func (l *Local) Check(_ context.Context) error {
	info, err := os.Stat(l.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", l.root)
	}
	probe, err := os.CreateTemp(l.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("storage root not writable: %w", err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}
