package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/p-blackswan/studio-agent/internal/artifact"
	"github.com/p-blackswan/studio-agent/internal/catalog"
	serrors "github.com/p-blackswan/studio-agent/internal/errors"
	"github.com/p-blackswan/studio-agent/internal/intent"
	"github.com/p-blackswan/studio-agent/internal/pipeline"
	"github.com/p-blackswan/studio-agent/internal/search"
	"github.com/p-blackswan/studio-agent/internal/worker"
)

// generate runs the artifact.generate side effect. Only persistence errors
// are returned; everything else becomes a warning note and a failed status.
func (s *Service) generate(ctx context.Context, t *turn, in intent.Generate) error {
	const kind = intent.KindGenerate

	if err := catalog.Validate(in.Template); err != nil {
		var ve *serrors.ValidationError
		reason := err.Error()
		if errors.As(err, &ve) {
			reason = ve.Reason
		}
		return s.fail(ctx, t, kind, reason, "テンプレートが判別できませんでした: "+reason)
	}
	if t.session.ProjectID == nil {
		return s.fail(ctx, t, kind, "project_missing", "プロジェクトが紐づいていないため、成果物を生成できません。")
	}
	if t.project == nil {
		return s.fail(ctx, t, kind, "project_not_found", "プロジェクト情報を取得できず、生成を中断しました。")
	}

	episode := in.Episode
	if !catalog.IsEpisodic(in.Template) {
		episode = nil
	}
	if err := catalog.ValidateEpisode(in.Template, episode, t.project.EpisodesPlanned); err != nil {
		var ve *serrors.ValidationError
		reason := err.Error()
		if errors.As(err, &ve) {
			reason = ve.Reason
		}
		return s.fail(ctx, t, kind, "invalid_episode", "エピソード番号が不正です: "+reason)
	}

	tmpl, _ := catalog.Lookup(in.Template)
	if tmpl.Media == catalog.MediaImage && s.AsyncImages && s.Queue != nil {
		return s.enqueueImage(ctx, t, in, *episode)
	}

	prior := s.priorContent(ctx, t.project.ID, tmpl, episode)
	out, err := s.Pipeline.Generate(ctx, pipeline.Request{
		Template: in.Template,
		Context: pipeline.Context{
			ProjectName:        t.project.Name,
			ProjectDescription: t.project.Description,
			Episode:            episode,
			Instructions:       in.Instructions,
			ExistingSummary:    prior,
		},
	})
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", t.session.ID).Str("template", string(in.Template)).Msg("Generation failed")
		return s.fail(ctx, t, kind, reasonFor(err), "生成中にエラーが発生しました。時間をおいて再度お試しください。")
	}

	a, err := s.Artifacts.Save(ctx, artifact.SaveInput{
		ProjectID:    t.project.ID,
		TemplateCode: in.Template,
		Episode:      episode,
		Data:         out.Content,
		ContentType:  out.ContentType,
		CreatedBy:    DefaultCreatedBy,
		Status:       artifact.StatusGenerated,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", t.session.ID).Str("template", string(in.Template)).Msg("Saving artifact failed")
		return s.fail(ctx, t, kind, reasonFor(err), "成果物の保存に失敗しました。時間をおいて再度お試しください。")
	}

	if s.Index != nil && strings.HasPrefix(a.ContentType, "text/") {
		s.Index.Add(ctx, search.Document{ID: a.ID, Scope: a.ProjectID, Text: string(out.Content)})
	}

	if err := s.note(ctx, t,
		fmt.Sprintf("\n\n✅ %sを生成しました（ID: %s）。", catalog.Label(in.Template), a.ID),
		map[string]any{"artifact_id": a.ID, "artifact_template": string(a.TemplateCode)},
	); err != nil {
		return err
	}

	if err := s.emit(ctx, t, EventStatus, map[string]any{
		"phase":         "completed",
		"intent":        string(kind),
		"template_code": string(a.TemplateCode),
		"artifact_id":   a.ID,
	}); err != nil {
		return err
	}
	return s.emit(ctx, t, EventArtifactUpdate, artifactPayload(a))
}

// priorContent is the best-effort previous text for the key. Image templates
// use the same episode's latest summary since their own history is binary.
func (s *Service) priorContent(ctx context.Context, projectID string, tmpl catalog.Template, episode *int) string {
	key := artifact.Key{ProjectID: projectID, TemplateCode: tmpl.Code, Episode: episode}
	if tmpl.Media == catalog.MediaImage {
		key.TemplateCode = catalog.EpisodeSummary
	}
	text, err := s.Artifacts.PreviousContent(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("project_id", projectID).Str("template", string(key.TemplateCode)).Msg("Previous content unavailable")
		return ""
	}
	return pipeline.Truncate(text, pipeline.MaxPriorContext)
}

func (s *Service) enqueueImage(ctx context.Context, t *turn, in intent.Generate, episode int) error {
	task := worker.KeyframeTask{
		ProjectID:    t.project.ID,
		TemplateCode: in.Template,
		Episode:      episode,
		Instructions: in.Instructions,
		CreatedBy:    DefaultCreatedBy,
		SessionID:    t.session.ID,
	}
	taskID, err := s.Queue.Enqueue(ctx, worker.TaskGenerateKeyframe, task.Payload())
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", t.session.ID).Msg("Enqueue failed")
		return s.fail(ctx, t, intent.KindGenerate, reasonFor(err), "生成タスクを登録できませんでした。時間をおいて再度お試しください。")
	}

	s.logger.Info().Str("session_id", t.session.ID).Str("task_id", taskID).Str("queue", s.Queue.Name()).Msg("Keyframe task enqueued")
	if err := s.note(ctx, t,
		fmt.Sprintf("\n\n🕒 %sの生成をキューに登録しました（タスクID: %s）。", catalog.Label(in.Template), taskID),
		map[string]any{"task_id": taskID},
	); err != nil {
		return err
	}
	return s.emit(ctx, t, EventTaskProgress, map[string]any{
		"phase":         "queued",
		"task_id":       taskID,
		"task_type":     worker.TaskGenerateKeyframe,
		"template_code": string(in.Template),
		"episode":       episode,
	})
}

// summarize runs the project.summary side effect.
func (s *Service) summarize(ctx context.Context, t *turn) error {
	const kind = intent.KindSummary

	if t.session.ProjectID == nil {
		return s.fail(ctx, t, kind, "project_missing", "プロジェクトが紐づいていないため、進捗を取得できません。")
	}
	if t.project == nil {
		return s.fail(ctx, t, kind, "project_not_found", "プロジェクト情報を取得できず、進捗を取得できません。")
	}

	summary, err := s.Progress.Summarize(ctx, t.project.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("project_id", t.project.ID).Msg("Summarize failed")
		return s.fail(ctx, t, kind, reasonFor(err), "進捗を取得できませんでした。")
	}

	if err := s.note(ctx, t, "\n\n"+summary.Text(), map[string]any{"summary": summary}); err != nil {
		return err
	}
	return s.emit(ctx, t, EventStatus, map[string]any{
		"phase":   "completed",
		"intent":  string(kind),
		"summary": summary,
	})
}

func artifactPayload(a *artifact.Artifact) map[string]any {
	var episode any
	if a.Episode != nil {
		episode = *a.Episode
	}
	return map[string]any{
		"artifact_id":   a.ID,
		"project_id":    a.ProjectID,
		"template_code": string(a.TemplateCode),
		"episode":       episode,
		"version":       a.Version,
		"storage_path":  a.StoragePath,
	}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, serrors.ErrUnavailable):
		return "backend_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, serrors.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, serrors.ErrNotFound):
		return "not_found"
	}
	return "error"
}
