package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	serrors "github.com/p-blackswan/studio-agent/internal/errors"
)

// GCS keeps blobs in a Google Cloud Storage bucket, optionally under a base
// prefix.
type GCS struct {
	client   *storage.Client
	bucket   string
	basePath string
	logger   zerolog.Logger
}

// NewGCS creates a client using Application Default Credentials.
func NewGCS(ctx context.Context, bucket, basePath string, logger zerolog.Logger) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: GCS bucket is required", serrors.ErrConfig)
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCS{
		client:   client,
		bucket:   bucket,
		basePath: strings.Trim(basePath, "/"),
		logger:   logger.With().Str("component", "blob.gcs").Str("bucket", bucket).Logger(),
	}, nil
}

// Name implements Store.
func (g *GCS) Name() string { return "gcs" }

// ObjectName maps a blob path to the object name inside the bucket.
func (g *GCS) ObjectName(p string) (string, error) {
	return objectName(g.basePath, p)
}

func objectName(basePath, p string) (string, error) {
	clean := path.Clean("/" + strings.TrimSpace(p))
	if clean == "/" || strings.Contains(p, "..") {
		return "", serrors.Invalid("path", fmt.Sprintf("%q is not a valid object path", p))
	}
	clean = strings.TrimPrefix(clean, "/")
	if basePath == "" {
		return clean, nil
	}
	return basePath + "/" + clean, nil
}

// Save uploads data with the given content type.
func (g *GCS) Save(ctx context.Context, p string, data []byte, contentType string) error {
	name, err := g.ObjectName(p)
	if err != nil {
		return err
	}
	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return serrors.Unavailable("gcs", fmt.Errorf("writing %s: %w", name, err))
	}
	if err := w.Close(); err != nil {
		return serrors.Unavailable("gcs", fmt.Errorf("finalizing %s: %w", name, err))
	}
	g.logger.Debug().Str("object", name).Int("bytes", len(data)).Msg("Blob uploaded")
	return nil
}

// Load downloads an object. A missing object is ErrNotFound.
func (g *GCS) Load(ctx context.Context, p string) ([]byte, error) {
	name, err := g.ObjectName(p)
	if err != nil {
		return nil, err
	}
	r, err := g.client.Bucket(g.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, serrors.NotFound("blob", p)
	}
	if err != nil {
		return nil, serrors.Unavailable("gcs", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, serrors.Unavailable("gcs", fmt.Errorf("reading %s: %w", name, err))
	}
	return data, nil
}

// Check fetches bucket attributes.
func (g *GCS) Check(ctx context.Context) error {
	_, err := g.client.Bucket(g.bucket).Attrs(ctx)
	return err
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}
