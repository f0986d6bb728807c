package worker

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/p-blackswan/studio-agent/internal/artifact"
	"github.com/p-blackswan/studio-agent/internal/catalog"
	serrors "github.com/p-blackswan/studio-agent/internal/errors"
	"github.com/p-blackswan/studio-agent/internal/pipeline"
	"github.com/p-blackswan/studio-agent/internal/project"
	"github.com/p-blackswan/studio-agent/internal/queue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeProjects map[string]*project.Project

func (f fakeProjects) GetProject(_ context.Context, id string) (*project.Project, error) {
	if p, ok := f[id]; ok {
		return p, nil
	}
	return nil, serrors.NotFound("project", id)
}

type fakeArtifacts struct {
	mu      sync.Mutex
	saved   []artifact.SaveInput
	prior   map[artifact.Key]string
	lookups []artifact.Key
}

func (f *fakeArtifacts) Save(_ context.Context, in artifact.SaveInput) (*artifact.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, in)
	return &artifact.Artifact{
		ID:           "a-" + string(rune('0'+len(f.saved))),
		ProjectID:    in.ProjectID,
		TemplateCode: in.TemplateCode,
		Episode:      in.Episode,
		Version:      len(f.saved),
		Status:       in.Status,
		StoragePath:  artifact.StoragePath(in.ProjectID, in.TemplateCode, in.Episode, len(f.saved), in.ContentType),
	}, nil
}

func (f *fakeArtifacts) PreviousContent(_ context.Context, k artifact.Key) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, k)
	for key, v := range f.prior {
		if key.ProjectID == k.ProjectID && key.TemplateCode == k.TemplateCode && *key.Episode == *k.Episode {
			return v, nil
		}
	}
	return "", nil
}

type fakeGenerator struct {
	mu    sync.Mutex
	reqs  []pipeline.Request
	fails int
}

func (g *fakeGenerator) Generate(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	if g.fails > 0 {
		g.fails--
		return nil, serrors.Unavailable("image", errors.New("quota"))
	}
	return &pipeline.Result{Content: []byte("PNG"), ContentType: "image/png", Metadata: map[string]string{"prompt": "lighthouse"}}, nil
}

type recordedEvent struct {
	session string
	typ     string
	payload map[string]any
}

type eventLog struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (l *eventLog) record(_ context.Context, sessionID, eventType string, payload map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, recordedEvent{sessionID, eventType, payload})
	return nil
}

func intp(v int) *int { return &v }

func newHandler(gen *fakeGenerator, arts *fakeArtifacts, events *eventLog) *Handler {
	projects := fakeProjects{"p1": {ID: "p1", Name: "Pilot", EpisodesPlanned: 2}}
	var fn EventFunc
	if events != nil {
		fn = events.record
	}
	return NewHandler(projects, arts, gen, fn, nil, zerolog.Nop())
}

func TestParseKeyframeTask(t *testing.T) {
	task, err := ParseKeyframeTask(map[string]any{"project_id": "p1", "episode": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, catalog.KeyframeImage, task.TemplateCode)
	assert.Equal(t, 2, task.Episode)
	assert.Equal(t, DefaultCreatedBy, task.CreatedBy)

	round, err := ParseKeyframeTask(KeyframeTask{ProjectID: "p1", TemplateCode: catalog.KeyframeImage, Episode: 1, SessionID: "s1"}.Payload())
	require.NoError(t, err)
	assert.Equal(t, "s1", round.SessionID)

	cases := []struct {
		name    string
		payload map[string]any
		field   string
	}{
		{"wrong task type", map[string]any{"task_type": "generate_audio", "project_id": "p1", "episode": 1}, "task_type"},
		{"wrong template", map[string]any{"project_id": "p1", "template_code": "episode_script", "episode": 1}, "template_code"},
		{"missing project", map[string]any{"episode": 1}, "project_id"},
		{"episode zero", map[string]any{"project_id": "p1", "episode": 0}, "episode"},
		{"fractional episode", map[string]any{"project_id": "p1", "episode": 1.5}, "episode"},
		{"missing episode", map[string]any{"project_id": "p1"}, "episode"},
		{"huge float episode", map[string]any{"project_id": "p1", "episode": 1e20}, "episode"},
		{"huge int64 episode", map[string]any{"project_id": "p1", "episode": int64(math.MaxInt64)}, "episode"},
		{"huge string episode", map[string]any{"project_id": "p1", "episode": "99999999999"}, "episode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseKeyframeTask(tc.payload)
			var ve *serrors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestHandle_UsesEpisodeSummaryAndSavesFinal(t *testing.T) {
	gen := &fakeGenerator{}
	arts := &fakeArtifacts{prior: map[artifact.Key]string{
		{ProjectID: "p1", TemplateCode: catalog.EpisodeSummary, Episode: intp(2)}: "the storm arrives",
	}}
	events := &eventLog{}
	h := newHandler(gen, arts, events)

	res, err := h.Handle(context.Background(), KeyframeTask{
		ProjectID: "p1", TemplateCode: catalog.KeyframeImage, Episode: 2, Instructions: "harbour at night", SessionID: "s1",
	}.Payload())
	require.NoError(t, err)
	assert.Equal(t, "lighthouse", res.Prompt)
	assert.Equal(t, "projects/p1/episodes/02/keyframe_image/v001.png", res.StoragePath)

	require.Len(t, gen.reqs, 1)
	assert.Equal(t, "the storm arrives", gen.reqs[0].Context.ExistingSummary)
	assert.Equal(t, "Pilot", gen.reqs[0].Context.ProjectName)

	require.Len(t, arts.saved, 1)
	assert.Equal(t, artifact.StatusFinal, arts.saved[0].Status)
	assert.Equal(t, DefaultCreatedBy, arts.saved[0].CreatedBy)

	require.Len(t, events.events, 2)
	assert.Equal(t, EventTaskProgress, events.events[0].typ)
	assert.Equal(t, "completed", events.events[0].payload["phase"])
	assert.Equal(t, EventArtifactUpdate, events.events[1].typ)
	assert.Equal(t, "s1", events.events[1].session)
}

func TestHandle_MissingProject(t *testing.T) {
	h := newHandler(&fakeGenerator{}, &fakeArtifacts{}, nil)
	_, err := h.Handle(context.Background(), map[string]any{"project_id": "nope", "episode": 1})
	assert.ErrorIs(t, err, serrors.ErrNotFound)
}

func TestHandle_FailureEmitsFailedProgress(t *testing.T) {
	events := &eventLog{}
	h := newHandler(&fakeGenerator{fails: 1}, &fakeArtifacts{}, events)

	_, err := h.Handle(context.Background(), map[string]any{"project_id": "p1", "episode": 1, "session_id": "s1"})
	require.ErrorIs(t, err, serrors.ErrUnavailable)
	require.Len(t, events.events, 1)
	assert.Equal(t, "failed", events.events[0].payload["phase"])
	assert.Equal(t, "backend_unavailable", events.events[0].payload["reason"])
}

func TestDrainer_RetriesTransientFailures(t *testing.T) {
	q := queue.NewMemory(zerolog.Nop())
	gen := &fakeGenerator{fails: 1}
	arts := &fakeArtifacts{}
	d := NewDrainer(q, newHandler(gen, arts, nil), time.Hour, zerolog.Nop())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, TaskGenerateKeyframe, KeyframeTask{ProjectID: "p1", Episode: 1}.Payload())
	require.NoError(t, err)

	assert.Equal(t, 1, d.Drain(ctx))
	assert.Equal(t, 1, q.Len(), "transient failure is requeued")
	assert.Equal(t, 1, d.Drain(ctx))
	assert.Equal(t, 0, q.Len())
	assert.Len(t, arts.saved, 1)
}

func TestDrainer_DropsInvalidTasks(t *testing.T) {
	q := queue.NewMemory(zerolog.Nop())
	d := NewDrainer(q, newHandler(&fakeGenerator{}, &fakeArtifacts{}, nil), time.Hour, zerolog.Nop())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, TaskGenerateKeyframe, map[string]any{"project_id": "p1"})
	require.NoError(t, err)

	assert.Equal(t, 1, d.Drain(ctx))
	assert.Equal(t, 0, q.Len())
}

func TestDrainer_GivesUpAfterMaxAttempts(t *testing.T) {
	q := queue.NewMemory(zerolog.Nop())
	gen := &fakeGenerator{fails: MaxAttempts + 1}
	d := NewDrainer(q, newHandler(gen, &fakeArtifacts{}, nil), time.Hour, zerolog.Nop())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, TaskGenerateKeyframe, KeyframeTask{ProjectID: "p1", Episode: 1}.Payload())
	require.NoError(t, err)

	for i := 0; i < MaxAttempts; i++ {
		d.Drain(ctx)
	}
	assert.Equal(t, 0, q.Len())
	assert.Len(t, gen.reqs, MaxAttempts)
}

func TestDrainer_RunProcessesOnEnqueueAndStops(t *testing.T) {
	q := queue.NewMemory(zerolog.Nop())
	arts := &fakeArtifacts{}
	d := NewDrainer(q, newHandler(&fakeGenerator{}, arts, nil), time.Hour, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	_, err := q.Enqueue(ctx, TaskGenerateKeyframe, KeyframeTask{ProjectID: "p1", Episode: 1}.Payload())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		arts.mu.Lock()
		defer arts.mu.Unlock()
		return len(arts.saved) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("drain loop did not stop")
	}
}
