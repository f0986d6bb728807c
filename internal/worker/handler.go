package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/studio-agent/internal/artifact"
	"github.com/p-blackswan/studio-agent/internal/catalog"
	serrors "github.com/p-blackswan/studio-agent/internal/errors"
	"github.com/p-blackswan/studio-agent/internal/metrics"
	"github.com/p-blackswan/studio-agent/internal/pipeline"
	"github.com/p-blackswan/studio-agent/internal/project"
)

// Event types the handler emits into a chat session.
const (
	EventTaskProgress   = "task_progress"
	EventArtifactUpdate = "artifact_update"
)

// Projects resolves the task's project.
type Projects interface {
	GetProject(ctx context.Context, id string) (*project.Project, error)
}

// Artifacts stores results and supplies prior context.
type Artifacts interface {
	Save(ctx context.Context, in artifact.SaveInput) (*artifact.Artifact, error)
	PreviousContent(ctx context.Context, k artifact.Key) (string, error)
}

// Generator runs the generation pipeline.
type Generator interface {
	Generate(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// EventFunc appends an event to a chat session.
type EventFunc func(ctx context.Context, sessionID, eventType string, payload map[string]any) error

// Result is returned to the caller of a processed task.
type Result struct {
	ArtifactID  string `json:"artifact_id"`
	Version     int    `json:"version"`
	StoragePath string `json:"storage_path"`
	Prompt      string `json:"prompt"`
}

// Handler executes generate_keyframe tasks.
type Handler struct {
	projects  Projects
	artifacts Artifacts
	generator Generator
	events    EventFunc
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewHandler creates a Handler. events and m may be nil.
func NewHandler(projects Projects, artifacts Artifacts, generator Generator, events EventFunc, m *metrics.Metrics, logger zerolog.Logger) *Handler {
	return &Handler{
		projects:  projects,
		artifacts: artifacts,
		generator: generator,
		events:    events,
		metrics:   m,
		logger:    logger.With().Str("component", "worker").Logger(),
	}
}

// Handle parses and runs one task payload.
func (h *Handler) Handle(ctx context.Context, payload map[string]any) (*Result, error) {
	task, err := ParseKeyframeTask(payload)
	if err != nil {
		h.metrics.RecordTask(TaskGenerateKeyframe, "rejected")
		return nil, err
	}

	res, err := h.run(ctx, task)
	if err != nil {
		h.metrics.RecordTask(TaskGenerateKeyframe, "error")
		h.logger.Error().Err(err).Str("project_id", task.ProjectID).Int("episode", task.Episode).Msg("Keyframe task failed")
		h.emit(ctx, task.SessionID, EventTaskProgress, map[string]any{
			"phase":         "failed",
			"task_type":     TaskGenerateKeyframe,
			"template_code": string(task.TemplateCode),
			"episode":       task.Episode,
			"reason":        failureReason(err),
		})
		return nil, err
	}

	h.metrics.RecordTask(TaskGenerateKeyframe, "success")
	return res, nil
}

func (h *Handler) run(ctx context.Context, task KeyframeTask) (*Result, error) {
	p, err := h.projects.GetProject(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}

	episode := task.Episode
	summary, err := h.artifacts.PreviousContent(ctx, artifact.Key{
		ProjectID:    p.ID,
		TemplateCode: catalog.EpisodeSummary,
		Episode:      &episode,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("project_id", p.ID).Msg("Prior episode summary unavailable")
		summary = ""
	}

	out, err := h.generator.Generate(ctx, pipeline.Request{
		Template: task.TemplateCode,
		Context: pipeline.Context{
			ProjectName:        p.Name,
			ProjectDescription: p.Description,
			Episode:            &episode,
			Instructions:       task.Instructions,
			ExistingSummary:    summary,
		},
	})
	if err != nil {
		return nil, err
	}

	a, err := h.artifacts.Save(ctx, artifact.SaveInput{
		ProjectID:    p.ID,
		TemplateCode: task.TemplateCode,
		Episode:      &episode,
		Data:         out.Content,
		ContentType:  out.ContentType,
		CreatedBy:    task.CreatedBy,
		Status:       artifact.StatusFinal,
	})
	if err != nil {
		return nil, fmt.Errorf("saving keyframe: %w", err)
	}

	h.logger.Info().Str("artifact_id", a.ID).Str("project_id", p.ID).Int("episode", episode).Int("version", a.Version).Msg("Keyframe generated")

	h.emit(ctx, task.SessionID, EventTaskProgress, map[string]any{
		"phase":         "completed",
		"task_type":     TaskGenerateKeyframe,
		"template_code": string(a.TemplateCode),
		"artifact_id":   a.ID,
	})
	h.emit(ctx, task.SessionID, EventArtifactUpdate, map[string]any{
		"artifact_id":   a.ID,
		"project_id":    a.ProjectID,
		"template_code": string(a.TemplateCode),
		"episode":       episode,
		"version":       a.Version,
		"storage_path":  a.StoragePath,
	})

	return &Result{
		ArtifactID:  a.ID,
		Version:     a.Version,
		StoragePath: a.StoragePath,
		Prompt:      out.Metadata["prompt"],
	}, nil
}

func (h *Handler) emit(ctx context.Context, sessionID, eventType string, payload map[string]any) {
	if h.events == nil || sessionID == "" {
		return
	}
	if err := h.events(ctx, sessionID, eventType, payload); err != nil {
		h.logger.Warn().Err(err).Str("session_id", sessionID).Str("type", eventType).Msg("Failed to record task event")
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, serrors.ErrUnavailable):
		return "backend_unavailable"
	case errors.Is(err, serrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, serrors.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "error"
}
