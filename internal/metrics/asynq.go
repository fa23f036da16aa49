package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task outcomes recorded in the "outcome" label.
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeDropped = "dropped"
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "tasks_total",
		Help:      "Background tasks handled, by type and outcome.",
	}, []string{"task_type", "outcome"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "task_duration_seconds",
		Help:      "Time spent in a task handler.",
		Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60},
	}, []string{"task_type"})

	tasksRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "tasks_running",
		Help:      "Background tasks currently running.",
	}, []string{"task_type"})
)

// AsynqMetricsMiddleware times each task and counts it by outcome. Errors
// wrapping asynq.SkipRetry are counted as dropped rather than retried.
func AsynqMetricsMiddleware() asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			taskType := task.Type()
			running := tasksRunning.WithLabelValues(taskType)
			running.Inc()
			start := time.Now()

			err := next.ProcessTask(ctx, task)

			running.Dec()
			taskDuration.WithLabelValues(taskType).Observe(time.Since(start).Seconds())
			tasksTotal.WithLabelValues(taskType, TaskOutcome(err)).Inc()
			return err
		})
	}
}

// TaskOutcome maps a handler result onto an outcome label.
func TaskOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, asynq.SkipRetry):
		return OutcomeDropped
	default:
		return OutcomeRetry
	}
}
