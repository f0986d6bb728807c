// Package api exposes projects, artifacts, progress and chat over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/studio-agent/internal/artifact"
	"github.com/p-blackswan/studio-agent/internal/conversation"
	"github.com/p-blackswan/studio-agent/internal/health"
	"github.com/p-blackswan/studio-agent/internal/metrics"
	"github.com/p-blackswan/studio-agent/internal/progress"
	"github.com/p-blackswan/studio-agent/internal/project"
	"github.com/p-blackswan/studio-agent/internal/requestid"
	"github.com/p-blackswan/studio-agent/internal/search"
	"github.com/p-blackswan/studio-agent/internal/worker"
)

// Config holds configuration for the HTTP server.
type Config struct {
	ListenAddr  string
	RateLimit   RateLimitConfig
	CORSOrigins string
	// BodyLimit caps request bodies in bytes; fiber's default when zero.
	BodyLimit int
}

// Deps are the services the handlers call. Index, Tasks, Checker and Metrics
// are optional.
type Deps struct {
	Projects     *project.Store
	Artifacts    *artifact.Service
	Progress     *progress.Aggregator
	Conversation *conversation.Service
	Index        search.Index
	Tasks        *worker.Handler
	Checker      *health.Checker
	Metrics      *metrics.Metrics
}

// Server is the studio HTTP API.
type Server struct {
	app     *fiber.App
	deps    Deps
	limiter *rateLimiter
	logger  zerolog.Logger
	config  Config
}

// NewServer creates and configures the HTTP server.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "api").Logger()

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             cfg.BodyLimit,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:    app,
		deps:   deps,
		logger: logger,
		config: cfg,
	}

	s.setupMiddleware(cfg)
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware(cfg Config) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(func(c *fiber.Ctx) error {
		ctx, reqID := requestid.Ensure(c.UserContext(), c.Get(requestid.Header))
		c.SetUserContext(ctx)
		c.Set(requestid.Header, reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, " + requestid.Header,
			AllowMethods: "GET, POST, OPTIONS",
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit)
		go s.limiter.sweep(sweepInterval)
		s.app.Use(s.limiter.handler())
	}

	s.app.Use(func(c *fiber.Ctx) error {
		if isProbe(c.Path()) {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			status, _, _ = classify(err)
		}
		s.logger.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Str("ip", c.IP()).
			Str("request_id", requestID(c)).
			Msg("api request")
		return err
	})
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", adaptor.HTTPHandlerFunc(health.LivenessHandler()))
	if s.deps.Checker != nil {
		s.app.Get("/readyz", adaptor.HTTPHandlerFunc(s.deps.Checker.ReadinessHandler()))
	} else {
		s.app.Get("/readyz", func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{"status": "ready", "checks": fiber.Map{}})
		})
	}
	if s.deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.deps.Metrics.Handler()))
	} else {
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			return c.SendString("# No metrics collector configured\n")
		})
	}

	api := s.app.Group("/api")

	api.Get("/catalog", s.getCatalog)

	api.Post("/projects", s.createProject)
	api.Get("/projects", s.listProjects)
	api.Get("/projects/:id", s.getProject)
	api.Get("/projects/:id/artifacts", s.listArtifacts)
	api.Post("/projects/:id/artifacts", s.saveArtifact)
	api.Get("/projects/:id/progress", s.projectProgress)
	api.Get("/projects/:id/search", s.searchProject)

	api.Get("/artifacts/:id", s.getArtifact)
	api.Get("/artifacts/:id/content", s.artifactContent)

	chat := api.Group("/chat")
	chat.Post("/sessions", s.createSession)
	chat.Get("/sessions", s.listSessions)
	chat.Get("/sessions/:id", s.getSession)
	chat.Get("/sessions/:id/messages", s.listMessages)
	chat.Post("/sessions/:id/messages", s.sendMessage)
	chat.Get("/sessions/:id/events", s.listEvents)

	api.Post("/tasks/generate-keyframe", s.runKeyframeTask)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info().Str("addr", addr).Msg("API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server, waiting up to timeout for
// in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info().Msg("API server shutting down")
	if s.limiter != nil {
		s.limiter.close()
	}
	if err := s.app.ShutdownWithTimeout(timeout); err != nil {
		return fmt.Errorf("shutting down api server: %w", err)
	}
	return nil
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("request_id").(string); ok {
		return id
	}
	return ""
}
