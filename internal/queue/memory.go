package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Memory is an in-process FIFO queue. A drain loop pops tasks and runs them.
type Memory struct {
	mu     sync.Mutex
	tasks  []Task
	notify chan struct{}
	logger zerolog.Logger
}

// NewMemory creates an empty in-memory queue.
func NewMemory(logger zerolog.Logger) *Memory {
	return &Memory{
		notify: make(chan struct{}, 1),
		logger: logger.With().Str("component", "queue.memory").Logger(),
	}
}

// Name implements Queue.
func (m *Memory) Name() string { return "memory" }

// Enqueue appends a task and wakes a waiting drain loop.
func (m *Memory) Enqueue(_ context.Context, name string, payload map[string]any) (string, error) {
	t := Task{ID: uuid.New().String(), Name: name, Payload: Envelope(name, payload)}

	m.mu.Lock()
	m.tasks = append(m.tasks, t)
	depth := len(m.tasks)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}

	m.logger.Debug().Str("task_id", t.ID).Str("task", name).Int("depth", depth).Msg("Task enqueued")
	return t.ID, nil
}

// Pop removes and returns the oldest task.
func (m *Memory) Pop() (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tasks) == 0 {
		return Task{}, false
	}
	t := m.tasks[0]
	m.tasks[0] = Task{}
	m.tasks = m.tasks[1:]
	return t, true
}

// Requeue puts a task back at the tail for another attempt.
func (m *Memory) Requeue(t Task) {
	m.mu.Lock()
	m.tasks = append(m.tasks, t)
	m.mu.Unlock()
}

// Len returns the number of waiting tasks.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Ready is signalled after every Enqueue.
func (m *Memory) Ready() <-chan struct{} {
	return m.notify
}
