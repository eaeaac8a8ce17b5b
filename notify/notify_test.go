package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/notify"
)

type fakeQueue struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	q.opts = append(q.opts, opts)
	return &asynq.TaskInfo{ID: "task-1", Queue: notify.QueueDefault}, nil
}

func sampleEvent() leave.Event {
	return leave.Event{
		Type:           leave.EventLevelApproved,
		RequestID:      "req-1",
		EmployeeID:     "emp-1",
		LeaveTypeID:    "casual",
		Status:         leave.StatusPending,
		Days:           "5",
		Level:          1,
		ActorID:        "mgr-1",
		NextApproverID: "hr-1",
		At:             time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestNotifier_EnqueuesEventTask(t *testing.T) {
	q := &fakeQueue{}
	n := notify.NewNotifier(q)

	require.NoError(t, n.Notify(context.Background(), sampleEvent()))

	require.Len(t, q.tasks, 1)
	assert.Equal(t, notify.TaskTypeLeaveEvent, q.tasks[0].Type())
	var got leave.Event
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &got))
	assert.Equal(t, sampleEvent(), got)

	var types []asynq.OptionType
	for _, o := range q.opts[0] {
		types = append(types, o.Type())
	}
	assert.ElementsMatch(t, []asynq.OptionType{asynq.QueueOpt, asynq.MaxRetryOpt}, types)
}

func TestNotifier_ReportsEnqueueFailure(t *testing.T) {
	n := notify.NewNotifier(&fakeQueue{err: errors.New("redis down")})
	err := n.Notify(context.Background(), sampleEvent())
	assert.ErrorContains(t, err, "redis down")
	assert.ErrorContains(t, err, "req-1")
}

func TestHandler_DeliversDecodedEvent(t *testing.T) {
	var delivered []leave.Event
	h := &notify.Handler{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Deliver: func(_ context.Context, ev leave.Event) error {
			delivered = append(delivered, ev)
			return nil
		},
	}
	task, err := notify.NewLeaveEventTask(sampleEvent())
	require.NoError(t, err)

	require.NoError(t, h.HandleLeaveEventTask(context.Background(), task))
	require.Len(t, delivered, 1)
	assert.Equal(t, "hr-1", delivered[0].NextApproverID)
}

func TestHandler_DeliveryErrorsAreRetried(t *testing.T) {
	boom := errors.New("smtp unavailable")
	h := &notify.Handler{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Deliver: func(context.Context, leave.Event) error { return boom },
	}
	task, err := notify.NewLeaveEventTask(sampleEvent())
	require.NoError(t, err)

	err = h.HandleLeaveEventTask(context.Background(), task)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestHandler_MalformedPayloadSkipsRetry(t *testing.T) {
	h := &notify.Handler{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	err := h.HandleLeaveEventTask(context.Background(), asynq.NewTask(notify.TaskTypeLeaveEvent, []byte("{not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
