package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"

	"erasmusjourney/internal/tasks"
)

// Enqueuer is the subset of *asynq.Client the scheduler needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewScheduler returns a cron runner (not started) that enqueues a full destination
// refresh on spec, a standard five-field cron expression.
func NewScheduler(queue Enqueuer, spec string, logger *slog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(spec, func() { enqueueFullRefresh(queue, logger) }); err != nil {
		return nil, fmt.Errorf("schedule destination refresh %q: %w", spec, err)
	}
	return c, nil
}

func enqueueFullRefresh(queue Enqueuer, logger *slog.Logger) {
	correlationID := uuid.NewString()
	log := logger.With(slog.String("correlation_id", correlationID))

	task, err := tasks.NewDestinationRefreshTask("", "", correlationID)
	if err != nil {
		log.Error("build scheduled refresh task failed", slog.Any("error", err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Only one full refresh may wait in the queue at a time.
	info, err := queue.EnqueueContext(ctx, task, asynq.Unique(time.Hour))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		log.Info("destination refresh already queued")
		return
	}
	if err != nil {
		log.Error("enqueue scheduled refresh failed", slog.Any("error", err))
		return
	}
	log.Info("scheduled destination refresh enqueued", slog.String("task_id", info.ID))
}
