// Package worker replays queued generation tasks through the pipeline. The
// same handler serves the HTTP worker endpoint and the in-process drain loop.
package worker

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/p-blackswan/studio-agent/internal/catalog"
	serrors "github.com/p-blackswan/studio-agent/internal/errors"
	"github.com/p-blackswan/studio-agent/internal/queue"
)

// TaskGenerateKeyframe renders a keyframe image out of band.
const TaskGenerateKeyframe = "generate_keyframe"

// DefaultCreatedBy is recorded on artifacts saved by the worker.
const DefaultCreatedBy = "task-worker"

// KeyframeTask is the generate_keyframe payload.
type KeyframeTask struct {
	ProjectID    string
	TemplateCode catalog.Code
	Episode      int
	Instructions string
	CreatedBy    string
	// SessionID, when set, receives progress and artifact events.
	SessionID string
}

// Payload renders the task as a queue payload.
func (t KeyframeTask) Payload() map[string]any {
	p := map[string]any{
		queue.TaskTypeKey: TaskGenerateKeyframe,
		"project_id":      t.ProjectID,
		"template_code":   string(t.TemplateCode),
		"episode":         t.Episode,
		"instructions":    t.Instructions,
		"created_by":      t.CreatedBy,
	}
	if t.SessionID != "" {
		p["session_id"] = t.SessionID
	}
	return p
}

// ParseKeyframeTask validates a decoded payload. task_type defaults to
// generate_keyframe and template_code to keyframe_image.
func ParseKeyframeTask(payload map[string]any) (KeyframeTask, error) {
	taskType := stringField(payload, queue.TaskTypeKey)
	if taskType == "" {
		taskType = TaskGenerateKeyframe
	}
	if taskType != TaskGenerateKeyframe {
		return KeyframeTask{}, serrors.Invalid(queue.TaskTypeKey, fmt.Sprintf("unsupported task type: %s", taskType))
	}

	t := KeyframeTask{
		ProjectID:    stringField(payload, "project_id"),
		TemplateCode: catalog.Code(stringField(payload, "template_code")),
		Instructions: stringField(payload, "instructions"),
		CreatedBy:    stringField(payload, "created_by"),
		SessionID:    stringField(payload, "session_id"),
	}
	if t.TemplateCode == "" {
		t.TemplateCode = catalog.KeyframeImage
	}
	if t.TemplateCode != catalog.KeyframeImage {
		return KeyframeTask{}, serrors.Invalid("template_code", fmt.Sprintf("unsupported template for %s: %s", TaskGenerateKeyframe, t.TemplateCode))
	}
	if t.ProjectID == "" {
		return KeyframeTask{}, serrors.Invalid("project_id", "must not be empty")
	}
	if t.CreatedBy == "" {
		t.CreatedBy = DefaultCreatedBy
	}

	episode, ok := intField(payload, "episode")
	if !ok || episode < 1 {
		return KeyframeTask{}, serrors.Invalid("episode", "must be a positive integer")
	}
	t.Episode = episode
	return t, nil
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return v.String()
	}
	return ""
}

// intField accepts the shapes a number takes after JSON decoding or an
// in-process enqueue. Values outside the int32 range are rejected before
// conversion.
func intField(m map[string]any, key string) (int, bool) {
	var n int64
	switch v := m[key].(type) {
	case int:
		n = int64(v)
	case int64:
		n = v
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt32 || v < math.MinInt32 {
			return 0, false
		}
		n = int64(v)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return 0, false
	}
	return int(n), true
}
