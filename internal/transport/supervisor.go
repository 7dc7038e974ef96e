package transport

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RestartPolicy controls how Supervise restarts a failed task.
type RestartPolicy struct {
	Delay       time.Duration
	MaxRestarts int // 0 = unlimited
}

// Task is one run of a long-lived loop. It returns when its socket fails.
type Task func(ctx context.Context) error

// Supervise runs task until ctx is done, waiting policy.Delay between runs.
func Supervise(ctx context.Context, logger *zap.Logger, name string, policy RestartPolicy, task Task) error {
	restarts := 0
	for {
		err := task(ctx)
		if ctx.Err() != nil {
			return nil
		}

		restarts++
		if policy.MaxRestarts > 0 && restarts > policy.MaxRestarts {
			return fmt.Errorf("%s: giving up after %d restarts: %w", name, policy.MaxRestarts, err)
		}

		if err != nil {
			logger.Warn("Task stopped, restarting",
				zap.String("task", name),
				zap.Error(err),
				zap.Duration("delay", policy.Delay),
				zap.Int("restarts", restarts))
		}

		timer := time.NewTimer(policy.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
