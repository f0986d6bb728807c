// Package app wires configuration into the studio's services and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/p-blackswan/studio-agent/internal/api"
	"github.com/p-blackswan/studio-agent/internal/artifact"
	"github.com/p-blackswan/studio-agent/internal/blob"
	"github.com/p-blackswan/studio-agent/internal/config"
	"github.com/p-blackswan/studio-agent/internal/conversation"
	"github.com/p-blackswan/studio-agent/internal/health"
	"github.com/p-blackswan/studio-agent/internal/imagegen"
	"github.com/p-blackswan/studio-agent/internal/llm"
	"github.com/p-blackswan/studio-agent/internal/metrics"
	"github.com/p-blackswan/studio-agent/internal/pipeline"
	"github.com/p-blackswan/studio-agent/internal/progress"
	"github.com/p-blackswan/studio-agent/internal/project"
	"github.com/p-blackswan/studio-agent/internal/queue"
	"github.com/p-blackswan/studio-agent/internal/search"
	"github.com/p-blackswan/studio-agent/internal/store"
	"github.com/p-blackswan/studio-agent/internal/worker"
)

// ShutdownTimeout bounds the graceful HTTP shutdown.
const ShutdownTimeout = 10 * time.Second

// App holds every wired component. Fields are exported for the CLI and tests.
type App struct {
	Config       *config.Config
	Store        *store.Store
	Blobs        blob.Store
	Projects     *project.Store
	Artifacts    *artifact.Service
	Pipeline     *pipeline.Pipeline
	Progress     *progress.Aggregator
	Conversation *conversation.Service
	Index        search.Index
	Queue        queue.Queue
	Worker       *worker.Handler
	// Drainer is set only for the in-memory queue.
	Drainer *worker.Drainer
	Checker *health.Checker
	Metrics *metrics.Metrics
	Server  *api.Server

	genai   *genai.Client
	closers []func() error
	logger  zerolog.Logger
}

// New validates cfg and builds the service graph. Remote clients are created
// only for the providers cfg selects.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Metrics: metrics.New(),
		Checker: health.NewChecker(logger),
		logger:  logger.With().Str("component", "app").Logger(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Store, err = store.New(cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)
	a.Checker.Register("store", health.Probe(a.Store.Ping))

	if a.Blobs, err = a.newBlobStore(ctx); err != nil {
		return nil, err
	}
	a.Checker.Register("blob", health.Probe(a.Blobs.Check))

	text, err := a.newTextProvider(ctx)
	if err != nil {
		return nil, err
	}
	images, err := a.newImageGenerator(ctx)
	if err != nil {
		return nil, err
	}
	prompts, err := pipeline.LoadPrompts(cfg.PromptsPath)
	if err != nil {
		return nil, err
	}
	if a.Index, err = a.newIndex(ctx); err != nil {
		return nil, err
	}
	if a.Queue, err = a.newQueue(ctx); err != nil {
		return nil, err
	}

	a.Projects = project.NewStore(a.Store, logger)
	a.Artifacts = artifact.NewService(artifact.NewRepository(a.Store, logger), a.Projects, a.Blobs, logger,
		artifact.WithMetrics(a.Metrics),
		artifact.WithCacheSize(cfg.ContentCacheSize),
	)
	a.Pipeline = pipeline.New(prompts, text, images, a.Metrics, logger)
	a.Progress = progress.NewAggregator(a.Projects, a.Artifacts)
	a.Conversation = conversation.NewService(conversation.Deps{
		Store:           conversation.NewStore(a.Store, logger),
		Projects:        a.Projects,
		Artifacts:       a.Artifacts,
		Pipeline:        a.Pipeline,
		Progress:        a.Progress,
		Text:            text,
		SmalltalkPrompt: prompts.Smalltalk,
		Index:           a.Index,
		Queue:           a.Queue,
		AsyncImages:     cfg.AsyncImages,
		Metrics:         a.Metrics,
	}, logger)
	a.Worker = worker.NewHandler(a.Projects, a.Artifacts, a.Pipeline, a.Conversation.RecordEvent, a.Metrics, logger)

	if mem, ok := a.Queue.(*queue.Memory); ok {
		a.Drainer = worker.NewDrainer(mem, a.Worker, cfg.LocalDrainInterval, logger)
	}

	a.Server = api.NewServer(api.Config{
		ListenAddr:  cfg.HTTPAddr,
		CORSOrigins: cfg.CORSOrigins,
		RateLimit: api.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
	}, api.Deps{
		Projects:     a.Projects,
		Artifacts:    a.Artifacts,
		Progress:     a.Progress,
		Conversation: a.Conversation,
		Index:        a.Index,
		Tasks:        a.Worker,
		Checker:      a.Checker,
		Metrics:      a.Metrics,
	}, logger)

	a.logger.Info().
		Str("env_target", cfg.EnvTarget).
		Str("storage", a.Blobs.Name()).
		Str("queue", a.Queue.Name()).
		Str("search", a.Index.Name()).
		Str("llm", text.ModelID()).
		Str("image", images.ModelID()).
		Bool("async_images", cfg.AsyncImages).
		Msg("Services wired")
	return a, nil
}

// Run serves HTTP and, for the in-memory queue, drains tasks until ctx is
// cancelled, then shuts the server down.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.Server.Start(); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	if a.Drainer != nil {
		g.Go(func() error {
			a.Drainer.Run(ctx)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return a.Server.Shutdown(ShutdownTimeout)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases clients and the database in reverse creation order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
