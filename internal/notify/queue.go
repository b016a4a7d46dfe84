package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kozaktomas/attendance-kiosk/internal/kiosk"
	"github.com/kozaktomas/attendance-kiosk/internal/roster"
)

type job struct {
	identity roster.Identity
	png      []byte
}

// Queue hands notifications to a background worker so a slow SMTP server
// never stalls the kiosk. Failures of queued jobs are only logged.
type Queue struct {
	sink   kiosk.NotificationSink
	logger *slog.Logger
	jobs   chan job

	mu     sync.RWMutex
	closed bool
}

func NewQueue(sink kiosk.NotificationSink, size int, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		sink:   sink,
		logger: logger,
		jobs:   make(chan job, size),
	}
}

// Send implements kiosk.NotificationSink. It fails only when the queue is
// full or closed.
func (q *Queue) Send(ctx context.Context, identity roster.Identity, png []byte) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("%w: queue closed", ErrNotification)
	}

	select {
	case q.jobs <- job{identity: identity, png: png}:
		return nil
	default:
		return fmt.Errorf("%w: queue full, dropping code for %s", ErrNotification, identity.ID)
	}
}

// Run delivers queued notifications until ctx is done, then delivers what is
// still queued with a context that is no longer cancelled.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case j := <-q.jobs:
			q.deliver(ctx, j)
		case <-ctx.Done():
			q.close()
			drainCtx := context.WithoutCancel(ctx)
			for j := range q.jobs {
				q.deliver(drainCtx, j)
			}
			return nil
		}
	}
}

// Pending returns the number of queued notifications.
func (q *Queue) Pending() int {
	return len(q.jobs)
}

func (q *Queue) deliver(ctx context.Context, j job) {
	if err := q.sink.Send(ctx, j.identity, j.png); err != nil {
		q.logger.Error("queued notification failed", "identity", j.identity.ID, "error", err)
	}
}

func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

var _ kiosk.NotificationSink = (*Queue)(nil)
