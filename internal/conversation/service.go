package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/studio-agent/internal/artifact"
	"github.com/p-blackswan/studio-agent/internal/catalog"
	serrors "github.com/p-blackswan/studio-agent/internal/errors"
	"github.com/p-blackswan/studio-agent/internal/intent"
	"github.com/p-blackswan/studio-agent/internal/keylock"
	"github.com/p-blackswan/studio-agent/internal/llm"
	"github.com/p-blackswan/studio-agent/internal/metrics"
	"github.com/p-blackswan/studio-agent/internal/pipeline"
	"github.com/p-blackswan/studio-agent/internal/progress"
	"github.com/p-blackswan/studio-agent/internal/project"
	"github.com/p-blackswan/studio-agent/internal/queue"
	"github.com/p-blackswan/studio-agent/internal/search"
)

const (
	// HistoryWindow is how many recent messages the smalltalk prompt sees.
	HistoryWindow = 8
	// SmalltalkTemperature is used for free-form replies.
	SmalltalkTemperature = 0.5
	// DefaultCreatedBy is recorded on artifacts generated from chat.
	DefaultCreatedBy = "conversation-agent"

	maxMessageLength = 8000
	snippetLength    = 200
)

// Projects resolves session projects.
type Projects interface {
	GetProject(ctx context.Context, id string) (*project.Project, error)
}

// Artifacts versions generated content.
type Artifacts interface {
	Save(ctx context.Context, in artifact.SaveInput) (*artifact.Artifact, error)
	PreviousContent(ctx context.Context, k artifact.Key) (string, error)
}

// Generator runs the generation pipeline.
type Generator interface {
	Generate(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Summarizer produces project progress.
type Summarizer interface {
	Summarize(ctx context.Context, projectID string) (*progress.Summary, error)
}

// Deps wires a Service. Index, Queue and Metrics are optional.
type Deps struct {
	Store           *Store
	Projects        Projects
	Artifacts       Artifacts
	Pipeline        Generator
	Progress        Summarizer
	Text            llm.Provider
	SmalltalkPrompt string
	Index           search.Index
	Queue           queue.Queue
	// AsyncImages routes image templates through Queue instead of
	// generating them inside the turn.
	AsyncImages bool
	Metrics     *metrics.Metrics
}

// Service is the conversation orchestrator.
type Service struct {
	Deps
	locks  *keylock.Map
	logger zerolog.Logger
}

// NewService creates the orchestrator.
func NewService(d Deps, logger zerolog.Logger) *Service {
	if d.SmalltalkPrompt == "" {
		d.SmalltalkPrompt = pipeline.DefaultPrompts().Smalltalk
	}
	return &Service{
		Deps:   d,
		locks:  keylock.New(),
		logger: logger.With().Str("component", "conversation").Logger(),
	}
}

// CreateSession opens a session. A project id, when given, must exist.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (*Session, error) {
	in.ProjectID = strings.TrimSpace(in.ProjectID)
	if in.ProjectID != "" {
		if _, err := s.Projects.GetProject(ctx, in.ProjectID); err != nil {
			return nil, err
		}
	}
	return s.Store.CreateSession(ctx, in)
}

// GetSession loads a session.
func (s *Service) GetSession(ctx context.Context, id string) (*Session, error) {
	return s.Store.GetSession(ctx, id)
}

// ListSessions lists sessions, most recently active first.
func (s *Service) ListSessions(ctx context.Context, f SessionFilter) ([]*Session, error) {
	return s.Store.ListSessions(ctx, f)
}

// ListMessages lists a session's messages, oldest first.
func (s *Service) ListMessages(ctx context.Context, sessionID string, limit, offset int) ([]*Message, error) {
	if _, err := s.Store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.Store.ListMessages(ctx, sessionID, limit, offset)
}

// ListEvents lists a session's events after the given cursor.
func (s *Service) ListEvents(ctx context.Context, sessionID string, after int64, limit int) ([]*Event, error) {
	if _, err := s.Store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.Store.ListEvents(ctx, sessionID, after, limit)
}

// RecordEvent appends an event from outside a turn, e.g. a queue worker.
func (s *Service) RecordEvent(ctx context.Context, sessionID, eventType string, payload map[string]any) error {
	_, err := s.Store.AppendEvent(ctx, sessionID, EventType(eventType), payload)
	return err
}

// turn carries the state of one SendMessage call.
type turn struct {
	session   *Session
	project   *project.Project
	intent    intent.Intent
	assistant *Message
	events    []*Event
	outcome   string
}

// SendMessage runs one chat turn: persist the user message, classify it,
// persist the acknowledgement, execute the side effect and emit the terminal
// message event. Turns on the same session run one at a time. Side-effect
// failures are reported in the reply and events, not as an error.
func (s *Service) SendMessage(ctx context.Context, sessionID, content string) (*Turn, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, serrors.Invalid("content", "must not be empty")
	}
	if len([]rune(content)) > maxMessageLength {
		return nil, serrors.Invalid("content", fmt.Sprintf("must be at most %d characters", maxMessageLength))
	}

	sess, err := s.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	start := time.Now()
	t := &turn{session: sess, outcome: "success"}

	userMsg, err := s.Store.AppendMessage(ctx, sessionID, RoleUser, content, nil)
	if err != nil {
		return nil, err
	}

	t.intent = intent.Classify(content)
	t.project = s.loadProject(ctx, sess)

	reply, extra := s.reply(ctx, t, content)
	t.assistant, err = s.Store.AppendMessage(ctx, sessionID, RoleAssistant, reply, extra)
	if err != nil {
		return nil, err
	}

	switch in := t.intent.(type) {
	case intent.Generate:
		if err := s.emit(ctx, t, EventStatus, map[string]any{
			"phase":          "queued",
			"intent":         string(intent.KindGenerate),
			"template_code":  string(in.Template),
			"template_label": catalog.Label(in.Template),
		}); err != nil {
			return nil, err
		}
		if err := s.generate(ctx, t, in); err != nil {
			return nil, err
		}
	case intent.Summary:
		if err := s.emit(ctx, t, EventStatus, map[string]any{
			"phase":  "requested",
			"intent": string(intent.KindSummary),
		}); err != nil {
			return nil, err
		}
		if err := s.summarize(ctx, t); err != nil {
			return nil, err
		}
	}

	if err := s.emit(ctx, t, EventMessage, map[string]any{
		"message_id": t.assistant.ID,
		"role":       string(RoleAssistant),
	}); err != nil {
		return nil, err
	}

	kind := string(t.intent.Kind())
	elapsed := time.Since(start)
	s.Metrics.RecordTurn(kind, t.outcome, elapsed.Seconds())
	s.logger.Info().
		Str("session_id", sessionID).
		Str("intent", kind).
		Str("outcome", t.outcome).
		Int("events", len(t.events)).
		Dur("elapsed", elapsed).
		Msg("Turn complete")

	return &Turn{UserMessage: userMsg, AssistantMessage: t.assistant, Events: t.events}, nil
}

// loadProject returns the session's project, or nil when unbound or gone.
func (s *Service) loadProject(ctx context.Context, sess *Session) *project.Project {
	if sess.ProjectID == nil {
		return nil
	}
	p, err := s.Projects.GetProject(ctx, *sess.ProjectID)
	if err != nil {
		if !errors.Is(err, serrors.ErrNotFound) {
			s.logger.Warn().Err(err).Str("project_id", *sess.ProjectID).Msg("Failed to load session project")
		}
		return nil
	}
	return p
}

func (s *Service) reply(ctx context.Context, t *turn, content string) (string, map[string]any) {
	switch in := t.intent.(type) {
	case intent.Generate:
		return fmt.Sprintf("%sの生成を開始します。準備ができ次第、お知らせします。", catalog.Label(in.Template)), in.Extra()
	case intent.Summary:
		return "進捗状況を整理して共有します。", in.Extra()
	case intent.AwaitingEpisode:
		return fmt.Sprintf("%sを生成するには対象エピソード番号を教えてください。", catalog.Label(in.Template)), in.Extra()
	}

	extra := t.intent.Extra()
	text, err := s.smalltalk(ctx, t, content)
	if err != nil {
		t.outcome = "degraded"
		s.Metrics.RecordBackendError(s.Text.ModelID())
		s.logger.Warn().Err(err).Str("session_id", t.session.ID).Msg("Smalltalk reply failed")
		extra["error"] = "backend_unavailable"
		return "申し訳ありません。現在応答を生成できません。しばらくしてから再度お試しください。", extra
	}
	return text, extra
}

func (s *Service) smalltalk(ctx context.Context, t *turn, content string) (string, error) {
	history, err := s.Store.RecentMessages(ctx, t.session.ID, HistoryWindow)
	if err != nil {
		return "", err
	}
	prompt := pipeline.Render(s.SmalltalkPrompt, map[string]string{
		"project_context":   projectContext(t.project),
		"related_artifacts": s.relatedArtifacts(ctx, t.project, content),
		"history":           historyLines(history),
		"message":           content,
	})
	return llm.Generate(ctx, s.Text, prompt, SmalltalkTemperature)
}

func projectContext(p *project.Project) string {
	if p == nil {
		return "（未設定）"
	}
	name := p.Name
	if name == "" {
		name = "未設定"
	}
	desc := p.Description
	if desc == "" {
		desc = "説明なし"
	}
	return fmt.Sprintf("- プロジェクト名: %s\n- 概要: %s\n- 予定話数: %d", name, desc, p.EpisodesPlanned)
}

func historyLines(msgs []*Message) string {
	if len(msgs) == 0 {
		return "まだ会話履歴はありません。"
	}
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = strings.ToUpper(string(m.Role)) + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}

func (s *Service) relatedArtifacts(ctx context.Context, p *project.Project, content string) string {
	if s.Index == nil || p == nil {
		return "関連する成果物はありません。"
	}
	hits := s.Index.Search(ctx, search.Query{Text: content, Scope: p.ID, TopK: search.DefaultTopK})
	if len(hits) == 0 {
		return "関連する成果物はありません。"
	}
	lines := make([]string, len(hits))
	for i, h := range hits {
		snippet := strings.ReplaceAll(pipeline.Truncate(h.Text, snippetLength), "\n", " ")
		lines[i] = fmt.Sprintf("- [%s] %s", h.DocID, snippet)
	}
	return strings.Join(lines, "\n")
}

// emit appends an event and records it on the turn.
func (s *Service) emit(ctx context.Context, t *turn, typ EventType, payload map[string]any) error {
	e, err := s.Store.AppendEvent(ctx, t.session.ID, typ, payload)
	if err != nil {
		return err
	}
	t.events = append(t.events, e)
	return nil
}

// note appends text to the assistant message.
func (s *Service) note(ctx context.Context, t *turn, text string, extra map[string]any) error {
	m, err := s.Store.AppendNote(ctx, t.assistant.ID, text, extra)
	if err != nil {
		return err
	}
	t.assistant = m
	return nil
}

// fail appends a warning and emits status{phase:failed}.
func (s *Service) fail(ctx context.Context, t *turn, kind intent.Kind, reason, warning string) error {
	t.outcome = "failed"
	if err := s.note(ctx, t, "\n\n⚠️ "+warning, nil); err != nil {
		return err
	}
	return s.emit(ctx, t, EventStatus, map[string]any{
		"phase":  "failed",
		"reason": reason,
		"intent": string(kind),
	})
}
