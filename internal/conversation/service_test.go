package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/studio-agent/internal/artifact"
	"github.com/p-blackswan/studio-agent/internal/blob"
	"github.com/p-blackswan/studio-agent/internal/catalog"
	serrors "github.com/p-blackswan/studio-agent/internal/errors"
	"github.com/p-blackswan/studio-agent/internal/imagegen"
	"github.com/p-blackswan/studio-agent/internal/llm"
	"github.com/p-blackswan/studio-agent/internal/pipeline"
	"github.com/p-blackswan/studio-agent/internal/progress"
	"github.com/p-blackswan/studio-agent/internal/project"
	"github.com/p-blackswan/studio-agent/internal/queue"
	"github.com/p-blackswan/studio-agent/internal/search"
	"github.com/p-blackswan/studio-agent/internal/store"
)

// scriptedProvider wraps the template stub and can be told to fail.
type scriptedProvider struct {
	mu      sync.Mutex
	inner   llm.Provider
	fail    bool
	prompts []string
}

func (p *scriptedProvider) ModelID() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, req.Messages[len(req.Messages)-1].Content)
	fail := p.fail
	p.mu.Unlock()
	if fail {
		return nil, serrors.Unavailable("gemini", errors.New("503 from upstream"))
	}
	return p.inner.Complete(ctx, req)
}

func (p *scriptedProvider) lastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prompts[len(p.prompts)-1]
}

type env struct {
	svc       *Service
	store     *Store
	projects  *project.Store
	artifacts *artifact.Service
	text      *scriptedProvider
	index     *search.Substring
	queue     *queue.Memory
	pilot     *project.Project
}

func newEnv(t *testing.T, async bool) *env {
	t.Helper()
	ctx := context.Background()

	ds, err := store.New(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	blobs, err := blob.NewLocal(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	projects := project.NewStore(ds, zerolog.Nop())
	artifacts := artifact.NewService(artifact.NewRepository(ds, zerolog.Nop()), projects, blobs, zerolog.Nop())
	text := &scriptedProvider{inner: llm.NewTemplateProvider("")}
	pipe := pipeline.New(nil, text, imagegen.NewPlaceholder(zerolog.Nop()), nil, zerolog.Nop())
	index := search.NewSubstring()
	q := queue.NewMemory(zerolog.Nop())
	chat := NewStore(ds, zerolog.Nop())

	svc := NewService(Deps{
		Store:       chat,
		Projects:    projects,
		Artifacts:   artifacts,
		Pipeline:    pipe,
		Progress:    progress.NewAggregator(projects, artifacts),
		Text:        text,
		Index:       index,
		Queue:       q,
		AsyncImages: async,
	}, zerolog.Nop())

	pilot, err := projects.CreateProject(ctx, project.CreateProjectInput{Name: "Pilot", Description: "港町の群像劇", EpisodesPlanned: 2})
	require.NoError(t, err)

	return &env{svc: svc, store: chat, projects: projects, artifacts: artifacts, text: text, index: index, queue: q, pilot: pilot}
}

func (e *env) session(t *testing.T, bound bool) *Session {
	t.Helper()
	in := CreateSessionInput{Title: "writers room"}
	if bound {
		in.ProjectID = e.pilot.ID
	}
	sess, err := e.svc.CreateSession(context.Background(), in)
	require.NoError(t, err)
	return sess
}

func eventTypes(events []*Event) []EventType {
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestSendMessage_GenerateEndToEnd(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	sess := e.session(t, true)

	turn, err := e.svc.SendMessage(ctx, sess.ID, "第1話のエピソード概要を生成してください")
	require.NoError(t, err)

	assert.Equal(t, RoleUser, turn.UserMessage.Role)
	assert.Contains(t, turn.AssistantMessage.Content, "エピソード概要の生成を開始します。")
	assert.Contains(t, turn.AssistantMessage.Content, "✅ エピソード概要を生成しました（ID: ")
	assert.Equal(t, "artifact.generate", turn.AssistantMessage.Extra["intent"])
	artifactID, _ := turn.AssistantMessage.Extra["artifact_id"].(string)
	require.NotEmpty(t, artifactID)

	assert.Equal(t, []EventType{EventStatus, EventStatus, EventArtifactUpdate, EventMessage}, eventTypes(turn.Events))
	assert.Equal(t, "queued", turn.Events[0].Payload["phase"])
	assert.Equal(t, "completed", turn.Events[1].Payload["phase"])
	assert.Equal(t, artifactID, turn.Events[2].Payload["artifact_id"])
	assert.Equal(t, turn.AssistantMessage.ID, turn.Events[3].Payload["message_id"])

	list, err := e.artifacts.List(ctx, e.pilot.ID, artifact.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, catalog.EpisodeSummary, list[0].TemplateCode)
	require.NotNil(t, list[0].Episode)
	assert.Equal(t, 1, *list[0].Episode)
	assert.Equal(t, 1, list[0].Version)
	assert.Equal(t, artifact.StatusGenerated, list[0].Status)
	assert.Equal(t, 1, e.index.Len(), "text artifacts are indexed")

	stored, err := e.store.GetMessage(ctx, turn.AssistantMessage.ID)
	require.NoError(t, err)
	assert.Equal(t, turn.AssistantMessage.Content, stored.Content)
	assert.Equal(t, artifactID, stored.Extra["artifact_id"])

	msgs, err := e.svc.ListMessages(ctx, sess.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
}

func TestSendMessage_SecondGenerationUsesPriorContent(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	sess := e.session(t, true)

	_, err := e.svc.SendMessage(ctx, sess.ID, "世界観の全体仕様を作成してください")
	require.NoError(t, err)
	_, err = e.svc.SendMessage(ctx, sess.ID, "世界観の全体仕様をもう一度作成してください")
	require.NoError(t, err)

	list, err := e.artifacts.List(ctx, e.pilot.ID, artifact.ListFilter{TemplateCode: catalog.OverallSpec})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 2, list[0].Version)
	assert.Nil(t, list[0].Episode)
}

func TestSendMessage_ImageInline(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	sess := e.session(t, true)

	_, err := e.artifacts.Save(ctx, artifact.SaveInput{
		ProjectID: e.pilot.ID, TemplateCode: catalog.EpisodeSummary, Episode: intp(2), Data: []byte("嵐の夜に灯台が消える"),
	})
	require.NoError(t, err)

	turn, err := e.svc.SendMessage(ctx, sess.ID, "第2話のキーフレーム画像を描いてください")
	require.NoError(t, err)
	assert.Contains(t, turn.AssistantMessage.Content, "✅ キーフレーム画像を生成しました")
	assert.Contains(t, e.text.lastPrompt(), "嵐の夜に灯台が消える", "image prompt sees the episode summary")

	list, err := e.artifacts.List(ctx, e.pilot.ID, artifact.ListFilter{TemplateCode: catalog.KeyframeImage})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "image/png", list[0].ContentType)
	assert.True(t, strings.HasSuffix(list[0].StoragePath, "episodes/02/keyframe_image/v001.png"))
}

func TestSendMessage_ImageQueuedWhenAsync(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()
	sess := e.session(t, true)

	turn, err := e.svc.SendMessage(ctx, sess.ID, "第1話のキーフレーム画像を描いてください")
	require.NoError(t, err)

	assert.Equal(t, []EventType{EventStatus, EventTaskProgress, EventMessage}, eventTypes(turn.Events))
	assert.Equal(t, "queued", turn.Events[1].Payload["phase"])
	assert.Contains(t, turn.AssistantMessage.Content, "キューに登録しました")
	assert.Equal(t, 1, e.queue.Len())

	task, ok := e.queue.Pop()
	require.True(t, ok)
	assert.Equal(t, "generate_keyframe", task.Payload[queue.TaskTypeKey])
	assert.Equal(t, sess.ID, task.Payload["session_id"])
	assert.Equal(t, 1, task.Payload["episode"])
}

func TestSendMessage_AwaitingEpisode(t *testing.T) {
	e := newEnv(t, false)
	sess := e.session(t, true)

	turn, err := e.svc.SendMessage(context.Background(), sess.ID, "脚本を作ってください")
	require.NoError(t, err)
	assert.Equal(t, "エピソード脚本を生成するには対象エピソード番号を教えてください。", turn.AssistantMessage.Content)
	assert.Equal(t, "chat.awaiting_episode", turn.AssistantMessage.Extra["intent"])
	assert.Equal(t, []EventType{EventMessage}, eventTypes(turn.Events))
}

func TestSendMessage_Summary(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	sess := e.session(t, true)

	_, err := e.svc.SendMessage(ctx, sess.ID, "第1話の脚本を作ってください")
	require.NoError(t, err)

	turn, err := e.svc.SendMessage(ctx, sess.ID, "進捗を教えて")
	require.NoError(t, err)
	assert.Contains(t, turn.AssistantMessage.Content, "進捗状況を整理して共有します。\n\n進捗サマリー:")
	assert.Contains(t, turn.AssistantMessage.Content, "- エピソード1: 完了 エピソード脚本")
	assert.Contains(t, turn.AssistantMessage.Content, "- エピソード2: 完了 なし")

	assert.Equal(t, []EventType{EventStatus, EventStatus, EventMessage}, eventTypes(turn.Events))
	assert.Equal(t, "requested", turn.Events[0].Payload["phase"])
	assert.Equal(t, "completed", turn.Events[1].Payload["phase"])
	summary, ok := turn.Events[1].Payload["summary"].(*progress.Summary)
	require.True(t, ok)
	assert.Len(t, summary.Episodes, 2)

	stored, err := e.store.GetMessage(ctx, turn.AssistantMessage.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.Extra, "summary")
}

func TestSendMessage_UnboundSession(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	sess := e.session(t, false)

	turn, err := e.svc.SendMessage(ctx, sess.ID, "第1話の脚本を作ってください")
	require.NoError(t, err)
	assert.Contains(t, turn.AssistantMessage.Content, "⚠️ プロジェクトが紐づいていないため、成果物を生成できません。")
	assert.Equal(t, []EventType{EventStatus, EventStatus, EventMessage}, eventTypes(turn.Events))
	assert.Equal(t, "failed", turn.Events[1].Payload["phase"])
	assert.Equal(t, "project_missing", turn.Events[1].Payload["reason"])

	turn, err = e.svc.SendMessage(ctx, sess.ID, "進捗を教えて")
	require.NoError(t, err)
	assert.Contains(t, turn.AssistantMessage.Content, "⚠️ プロジェクトが紐づいていないため、進捗を取得できません。")
}

func TestSendMessage_EpisodeOutOfRange(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	sess := e.session(t, true)

	turn, err := e.svc.SendMessage(ctx, sess.ID, "第5話の絵コンテを作ってください")
	require.NoError(t, err)
	assert.Contains(t, turn.AssistantMessage.Content, "⚠️ エピソード番号が不正です")
	assert.Equal(t, "invalid_episode", turn.Events[1].Payload["reason"])

	list, err := e.artifacts.List(ctx, e.pilot.ID, artifact.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSendMessage_GlobalTemplateIgnoresEpisode(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	sess := e.session(t, true)

	_, err := e.svc.SendMessage(ctx, sess.ID, "第1話のキャラクター設定を作ってください")
	require.NoError(t, err)

	list, err := e.artifacts.List(ctx, e.pilot.ID, artifact.ListFilter{TemplateCode: catalog.CharacterDesign})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Episode)
}

func TestSendMessage_BackendFailure(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	sess := e.session(t, true)
	e.text.fail = true

	turn, err := e.svc.SendMessage(ctx, sess.ID, "第1話の脚本を作ってください")
	require.NoError(t, err)
	assert.Contains(t, turn.AssistantMessage.Content, "⚠️ 生成中にエラーが発生しました。")
	assert.Equal(t, "backend_unavailable", turn.Events[1].Payload["reason"])
	assert.Equal(t, EventMessage, turn.Events[len(turn.Events)-1].Type)

	list, err := e.artifacts.List(ctx, e.pilot.ID, artifact.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSendMessage_Smalltalk(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	sess := e.session(t, true)

	_, err := e.svc.SendMessage(ctx, sess.ID, "世界観の全体仕様を作成してください")
	require.NoError(t, err)

	turn, err := e.svc.SendMessage(ctx, sess.ID, "Pilot")
	require.NoError(t, err)
	assert.Equal(t, "chat.smalltalk", turn.AssistantMessage.Extra["intent"])
	assert.Equal(t, []EventType{EventMessage}, eventTypes(turn.Events))

	prompt := e.text.lastPrompt()
	assert.Contains(t, prompt, "- プロジェクト名: Pilot")
	assert.Contains(t, prompt, "- 予定話数: 2")
	assert.Contains(t, prompt, "USER: 世界観の全体仕様を作成してください")
	assert.Contains(t, prompt, "USER: Pilot")
	assert.NotContains(t, prompt, "関連する成果物はありません。")
	assert.Contains(t, turn.AssistantMessage.Content, "使用温度: 0.5")
}

func TestSendMessage_SmalltalkBackendFailureStillReplies(t *testing.T) {
	e := newEnv(t, false)
	sess := e.session(t, false)
	e.text.fail = true

	turn, err := e.svc.SendMessage(context.Background(), sess.ID, "こんにちは")
	require.NoError(t, err)
	assert.Contains(t, turn.AssistantMessage.Content, "申し訳ありません")
	assert.Equal(t, "backend_unavailable", turn.AssistantMessage.Extra["error"])
	assert.Equal(t, []EventType{EventMessage}, eventTypes(turn.Events))
}

func TestSendMessage_Validation(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()

	_, err := e.svc.SendMessage(ctx, "missing", "こんにちは")
	assert.ErrorIs(t, err, serrors.ErrNotFound)

	sess := e.session(t, true)
	_, err = e.svc.SendMessage(ctx, sess.ID, "   ")
	assert.ErrorIs(t, err, serrors.ErrInvalidInput)

	_, err = e.svc.CreateSession(ctx, CreateSessionInput{ProjectID: "missing"})
	assert.ErrorIs(t, err, serrors.ErrNotFound)
}

func TestSendMessage_ConcurrentTurnsOnOneSessionAreSerialized(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	sess := e.session(t, true)

	const turns = 6
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.SendMessage(ctx, sess.ID, "第1話の脚本を作ってください")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	msgs, err := e.svc.ListMessages(ctx, sess.ID, 100, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2*turns)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, RoleUser, msgs[i].Role, "turns must not interleave")
		assert.Equal(t, RoleAssistant, msgs[i+1].Role)
	}

	list, err := e.artifacts.List(ctx, e.pilot.ID, artifact.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, list, turns)
	assert.Equal(t, 0, e.svc.locks.Len())
}

func TestListEvents_Cursor(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	sess := e.session(t, true)

	turn, err := e.svc.SendMessage(ctx, sess.ID, "第1話のエピソード概要を生成してください")
	require.NoError(t, err)
	require.Len(t, turn.Events, 4)

	all, err := e.svc.ListEvents(ctx, sess.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].ID, all[i-1].ID)
	}

	rest, err := e.svc.ListEvents(ctx, sess.ID, all[1].ID, 0)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, all[2].ID, rest[0].ID)

	_, err = e.svc.ListEvents(ctx, "missing", 0, 0)
	assert.ErrorIs(t, err, serrors.ErrNotFound)
}

func TestRecordEvent(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	sess := e.session(t, true)

	require.NoError(t, e.svc.RecordEvent(ctx, sess.ID, "task_progress", map[string]any{"phase": "completed"}))
	assert.ErrorIs(t, e.svc.RecordEvent(ctx, sess.ID, "bogus", nil), serrors.ErrInvalidInput)

	events, err := e.svc.ListEvents(ctx, sess.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventTaskProgress, events[0].Type)
}

func intp(v int) *int { return &v }
