package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/p-blackswan/studio-agent/internal/blob"
	"github.com/p-blackswan/studio-agent/internal/catalog"
	serrors "github.com/p-blackswan/studio-agent/internal/errors"
	"github.com/p-blackswan/studio-agent/internal/keylock"
	"github.com/p-blackswan/studio-agent/internal/metrics"
	"github.com/p-blackswan/studio-agent/internal/project"
	"github.com/p-blackswan/studio-agent/internal/retry"
	"github.com/p-blackswan/studio-agent/lru"
)

// ProjectGetter resolves projects for episode validation.
type ProjectGetter interface {
	GetProject(ctx context.Context, id string) (*project.Project, error)
}

// Service validates, versions and stores artifacts.
type Service struct {
	repo     *Repository
	projects ProjectGetter
	blobs    blob.Store
	cache    *lru.Cache[string, []byte]
	loads    singleflight.Group
	keys     *keylock.Map
	retry    retry.Config
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records saves and conflicts on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// contentCacheBytes bounds the memory held by cached artifact bodies.
const contentCacheBytes = 64 << 20

func newContentCache(entries int) *lru.Cache[string, []byte] {
	return lru.New[string, []byte](entries, lru.WithMaxWeight[string, []byte](contentCacheBytes, lru.Bytes))
}

// WithCacheSize sets how many artifact bodies are kept in memory.
func WithCacheSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.cache = newContentCache(n)
		}
	}
}

// WithRetry overrides the version-conflict retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(s *Service) { s.retry = cfg }
}

// NewService wires the versioning layer.
func NewService(repo *Repository, projects ProjectGetter, blobs blob.Store, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		projects: projects,
		blobs:    blobs,
		cache:    newContentCache(256),
		keys:     keylock.New(),
		retry:    retry.ConflictConfig(),
		logger:   logger.With().Str("component", "artifact").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate applies the template and episode rules without saving.
func (s *Service) Validate(ctx context.Context, projectID string, code catalog.Code, episode *int) (*project.Project, error) {
	if err := catalog.Validate(code); err != nil {
		return nil, err
	}
	p, err := s.projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := catalog.ValidateEpisode(code, episode, p.EpisodesPlanned); err != nil {
		return nil, err
	}
	return p, nil
}

// Save stores in as the next version of its key. Saves to one key are
// serialized in process; the blob is written before the metadata row, and
// neither step holds a database transaction open during blob I/O. A version
// taken by another process is retried a bounded number of times and then
// reported as ErrUnavailable.
func (s *Service) Save(ctx context.Context, in SaveInput) (*Artifact, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	if _, err := s.Validate(ctx, in.ProjectID, in.TemplateCode, in.Episode); err != nil {
		return nil, err
	}

	key := in.Key()
	unlock := s.keys.Lock(key.String())
	defer unlock()

	cfg := s.retry
	cfg.OnRetry = func(attempt int, err error) {
		s.logger.Warn().Err(err).Int("attempt", attempt).Str("key", key.String()).Msg("Version conflict, retrying")
	}

	var saved *Artifact
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		version, err := s.repo.NextVersion(ctx, key)
		if err != nil {
			return err
		}
		a := newArtifact(in, version)
		if err := s.blobs.Save(ctx, a.StoragePath, in.Data, a.ContentType); err != nil {
			s.metrics.RecordBackendError(s.blobs.Name())
			return fmt.Errorf("failed to store %s: %w", a.StoragePath, err)
		}
		if err := s.repo.Insert(ctx, a); err != nil {
			if errors.Is(err, serrors.ErrConflict) {
				s.metrics.RecordConflict(string(in.TemplateCode))
			}
			return err
		}
		saved = a
		return nil
	})
	if errors.Is(err, serrors.ErrConflict) {
		return nil, serrors.Unavailable("artifact store", err)
	}
	if err != nil {
		return nil, err
	}

	s.cache.Put(saved.ID, in.Data)
	s.metrics.RecordArtifact(string(saved.TemplateCode), string(saved.Status))
	s.logger.Info().
		Str("artifact_id", saved.ID).
		Str("project_id", saved.ProjectID).
		Str("template", string(saved.TemplateCode)).
		Int("version", saved.Version).
		Str("path", saved.StoragePath).
		Msg("Artifact saved")
	return saved, nil
}

// Get returns artifact metadata.
func (s *Service) Get(ctx context.Context, id string) (*Artifact, error) {
	return s.repo.Get(ctx, id)
}

// List returns a project's artifacts, newest first.
func (s *Service) List(ctx context.Context, projectID string, f ListFilter) ([]*Artifact, error) {
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, projectID, f)
}

// Presence lists the (template, episode) pairs with at least one version.
func (s *Service) Presence(ctx context.Context, projectID string) ([]Presence, error) {
	return s.repo.Presence(ctx, projectID)
}

// Content returns the metadata and bytes of an artifact. Bodies are immutable,
// so they are cached by id and concurrent loads of one id share a read.
func (s *Service) Content(ctx context.Context, id string) (*Artifact, []byte, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.load(ctx, a)
	if err != nil {
		return nil, nil, err
	}
	return a, data, nil
}

func (s *Service) load(ctx context.Context, a *Artifact) ([]byte, error) {
	if data, ok := s.cache.Get(a.ID); ok {
		return data, nil
	}
	v, err, _ := s.loads.Do(a.ID, func() (any, error) {
		start := time.Now()
		data, err := s.blobs.Load(ctx, a.StoragePath)
		if err != nil {
			return nil, err
		}
		s.cache.Put(a.ID, data)
		s.logger.Debug().Str("artifact_id", a.ID).Int("bytes", len(data)).Dur("elapsed", time.Since(start)).Msg("Loaded artifact body")
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// PreviousContent returns the body of the latest version for k as text. No
// version or a missing blob yields "".
func (s *Service) PreviousContent(ctx context.Context, k Key) (string, error) {
	a, err := s.repo.Latest(ctx, k)
	if err != nil || a == nil {
		return "", err
	}
	data, err := s.load(ctx, a)
	if errors.Is(err, serrors.ErrNotFound) {
		s.logger.Warn().Str("artifact_id", a.ID).Str("path", a.StoragePath).Msg("Previous artifact body missing")
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), ""), nil
}
