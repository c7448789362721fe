package events

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

// AsynqScheduler enqueues settlement events onto the background task queue
// consumed by cmd/worker.
type AsynqScheduler struct {
	Client *asynq.Client
	Queue  string
}

// Schedule implements Scheduler. Events without a mapped task type are
// skipped silently.
func (s AsynqScheduler) Schedule(ctx context.Context, ev Event) error {
	if s.Client == nil {
		return nil
	}
	taskType, ok := TaskType(ev.Topic)
	if !ok {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	queue := s.Queue
	if queue == "" {
		queue = "default"
	}
	task := asynq.NewTask(taskType, data)
	_, err = s.Client.EnqueueContext(ctx, task, asynq.Queue(queue), asynq.MaxRetry(5))
	return err
}
