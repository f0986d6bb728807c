// Package queue hands tasks to out-of-band workers with at-least-once delivery.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// TaskTypeKey names the payload field carrying the task type.
const TaskTypeKey = "task_type"

// Task is a queued job. Payload always carries TaskTypeKey.
type Task struct {
	ID      string         `json:"id"`
	Name    string         `json:"task_name"`
	Payload map[string]any `json:"payload"`
}

// Queue accepts tasks for later execution.
type Queue interface {
	Enqueue(ctx context.Context, name string, payload map[string]any) (string, error)
	Name() string
}

// Envelope copies payload and stamps the task type on it.
func Envelope(name string, payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out[TaskTypeKey] = name
	return out
}

// Encode renders an enveloped payload as the JSON request body sent to workers.
func Encode(name string, payload map[string]any) ([]byte, error) {
	body, err := json.Marshal(Envelope(name, payload))
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", name, err)
	}
	return body, nil
}
