package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	serrors "github.com/p-blackswan/studio-agent/internal/errors"
	"github.com/p-blackswan/studio-agent/internal/queue"
)

// MaxAttempts bounds redelivery of a task that failed with a transient error.
const MaxAttempts = 3

// Drainer runs tasks from an in-memory queue inside the server process. It
// wakes on every enqueue and also polls on an interval.
type Drainer struct {
	queue    *queue.Memory
	handler  *Handler
	interval time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	attempts map[string]int
	done     chan struct{}
}

// NewDrainer creates a Drainer. interval <= 0 uses two seconds.
func NewDrainer(q *queue.Memory, h *Handler, interval time.Duration, logger zerolog.Logger) *Drainer {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Drainer{
		queue:    q,
		handler:  h,
		interval: interval,
		logger:   logger.With().Str("component", "worker.drain").Logger(),
		attempts: make(map[string]int),
		done:     make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled.
func (d *Drainer) Run(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info().Dur("interval", d.interval).Msg("Drain loop started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("Drain loop stopped")
			return
		case <-d.queue.Ready():
			d.drain(ctx)
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

// Done is closed once Run returns.
func (d *Drainer) Done() <-chan struct{} { return d.done }

// Drain processes the tasks waiting when it is called. Tasks requeued during
// the pass wait for the next one. It returns the number run.
func (d *Drainer) Drain(ctx context.Context) int {
	return d.drain(ctx)
}

func (d *Drainer) drain(ctx context.Context) int {
	pending := d.queue.Len()
	n := 0
	for ; n < pending && ctx.Err() == nil; n++ {
		t, ok := d.queue.Pop()
		if !ok {
			break
		}
		d.process(ctx, t)
	}
	return n
}

func (d *Drainer) process(ctx context.Context, t queue.Task) {
	log := d.logger.With().Str("task_id", t.ID).Str("task", t.Name).Logger()

	_, err := d.handler.Handle(ctx, t.Payload)
	if err == nil {
		d.forget(t.ID)
		return
	}

	transient := errors.Is(err, serrors.ErrUnavailable) || serrors.IsRetryable(err)
	attempt := d.attempt(t.ID)
	if transient && attempt < MaxAttempts && ctx.Err() == nil {
		log.Warn().Err(err).Int("attempt", attempt).Msg("Task failed, requeueing")
		d.queue.Requeue(t)
		return
	}
	d.forget(t.ID)
	log.Error().Err(err).Int("attempt", attempt).Msg("Task dropped")
}

func (d *Drainer) attempt(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts[id]++
	return d.attempts[id]
}

func (d *Drainer) forget(id string) {
	d.mu.Lock()
	delete(d.attempts, id)
	d.mu.Unlock()
}
