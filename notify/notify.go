// Package notify delivers leave lifecycle events through an asynq queue.
//
// The API process enqueues one task per committed transition; cmd/worker
// consumes them. Delivery is best effort: a failed enqueue is reported to the
// caller, which logs it and carries on.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/warp/leave-engine/leave"
)

const (
	// QueueDefault is the queue leave events are enqueued on.
	QueueDefault = "default"
	// TaskTypeLeaveEvent is the task type for lifecycle events.
	TaskTypeLeaveEvent = "leave:event"
)

// Enqueuer is the subset of *asynq.Client the notifier needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewLeaveEventTask constructs an asynq task carrying ev.
func NewLeaveEventTask(ev leave.Event) (*asynq.Task, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeLeaveEvent, data), nil
}

// Notifier implements leave.Notifier by enqueueing events.
type Notifier struct {
	queue    Enqueuer
	maxRetry int
}

var _ leave.Notifier = (*Notifier)(nil)

func NewNotifier(queue Enqueuer) *Notifier {
	return &Notifier{queue: queue, maxRetry: 5}
}

func (n *Notifier) Notify(ctx context.Context, ev leave.Event) error {
	task, err := NewLeaveEventTask(ev)
	if err != nil {
		return fmt.Errorf("build leave event task: %w", err)
	}
	if _, err := n.queue.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(n.maxRetry)); err != nil {
		return fmt.Errorf("enqueue %s for %s: %w", ev.Type, ev.RequestID, err)
	}
	return nil
}

// Handler consumes leave event tasks. Deliver is called for each decoded
// event; when nil the event is only logged.
type Handler struct {
	Logger  *slog.Logger
	Deliver func(ctx context.Context, ev leave.Event) error
}

// HandleLeaveEventTask processes TaskTypeLeaveEvent tasks.
func (h *Handler) HandleLeaveEventTask(ctx context.Context, t *asynq.Task) error {
	var ev leave.Event
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		return fmt.Errorf("decode leave event: %v: %w", err, asynq.SkipRetry)
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "leave event",
		slog.String("type", string(ev.Type)),
		slog.String("request_id", string(ev.RequestID)),
		slog.String("employee_id", string(ev.EmployeeID)),
		slog.String("status", string(ev.Status)),
		slog.String("next_approver_id", ev.NextApproverID),
	)
	if h.Deliver == nil {
		return nil
	}
	return h.Deliver(ctx, ev)
}

// Worker runs the asynq server that consumes leave events.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker builds a worker reading from the Redis at redisOpts.
func NewWorker(redisOpts asynq.RedisClientOpt, h *Handler, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 5
	}
	srv := asynq.NewServer(redisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeLeaveEvent, h.HandleLeaveEventTask)
	return &Worker{server: srv, mux: mux}
}

// Run processes tasks until ctx is cancelled, then waits for in-flight
// tasks to finish.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	<-ctx.Done()
	w.server.Shutdown()
	return ctx.Err()
}
