// Package scheduler fans a batch of accepted device operations out to a
// bounded set of workers. Each batch gets its own pool; batches are
// independent and the per-device queue guard prevents the same device from
// appearing in two batches at once.
package scheduler

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/netfleet/upgrade-orchestrator/internal/models"
)

// Task pairs an accepted request with its tracking id.
type Task struct {
	TaskID  string
	Request models.OperationRequest
}

// Runner executes a single operation to a terminal status.
type Runner interface {
	Execute(ctx context.Context, taskID string, req models.OperationRequest)
}

// Scheduler runs batches with at most `workers` operations in flight.
type Scheduler struct {
	runner  Runner
	workers int
	logger  zerolog.Logger
}

// NewScheduler creates a scheduler. A worker count below one is clamped to
// one so a misconfigured pool still makes progress.
func NewScheduler(runner Runner, workers int, logger zerolog.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		runner:  runner,
		workers: workers,
		logger:  logger,
	}
}

// RunBatch executes all tasks and blocks until the last one finishes. The
// worker ceiling holds across operation kinds within the batch.
func (s *Scheduler) RunBatch(ctx context.Context, tasks []Task) {
	if len(tasks) == 0 {
		return
	}

	s.logger.Info().Int("tasks", len(tasks)).Int("workers", s.workers).Msg("Starting batch")

	jobs := make(chan Task)
	var wg sync.WaitGroup

	wg.Add(s.workers)
	for i := 0; i < s.workers; i++ {
		go func() {
			defer wg.Done()
			for task := range jobs {
				s.runner.Execute(ctx, task.TaskID, task.Request)
			}
		}()
	}

	for _, task := range tasks {
		jobs <- task
	}
	close(jobs)
	wg.Wait()

	s.logger.Info().Int("tasks", len(tasks)).Msg("Batch finished")
}
