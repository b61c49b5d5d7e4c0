package worker

import (
	"context"
	"sync"
	"time"

	"github.com/bobarin/storyforge/internal/metrics"
	"github.com/bobarin/storyforge/internal/models"
	"github.com/bobarin/storyforge/internal/queue"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	dequeueTimeout = 5 * time.Second
	errorBackoff   = time.Second

	// jobTimeout bounds a single run once it has been dequeued.
	jobTimeout = 15 * time.Minute
)

// JobSource hands out queued story runs.
type JobSource interface {
	DequeueStoryRun(ctx context.Context, timeout time.Duration) (*queue.Job, error)
}

// StoryRunner executes one story run.
type StoryRunner interface {
	RunStory(ctx context.Context, req models.StoryRequest) (*models.StoryResult, error)
}

// RunRecorder tracks run status in the run history.
type RunRecorder interface {
	MarkRunRunning(ctx context.Context, id uuid.UUID) error
	CompleteRun(ctx context.Context, id uuid.UUID, slug string, bundle models.OutputBundle) error
	FailRun(ctx context.Context, id uuid.UUID, errorMessage string) error
}

type Worker struct {
	jobs     JobSource
	runner   StoryRunner
	recorder RunRecorder // Optional: nil when no database is configured
}

func New(jobs JobSource, runner StoryRunner, recorder RunRecorder) *Worker {
	return &Worker{
		jobs:     jobs,
		runner:   runner,
		recorder: recorder,
	}
}

// Start processes story runs with the given number of goroutines and blocks
// until ctx is cancelled and every in-flight run has returned. Cancelling ctx
// only stops dequeuing; runs already picked up finish on their own context.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	log.Info().Int("concurrency", concurrency).Msg("Worker started")

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.processQueue(ctx)
		}()
	}

	<-ctx.Done()
	log.Info().Msg("Worker shutting down...")
	wg.Wait()
}

func (w *Worker) processQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.jobs.DequeueStoryRun(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("queue", queue.QueueStoryRuns).Msg("Error dequeuing")
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorBackoff):
			}
			continue
		}

		if job == nil {
			continue // No job available, retry
		}

		w.handleJob(ctx, job)
	}
}

// handleJob runs one job and records its outcome. Runs are never retried.
func (w *Worker) handleJob(ctx context.Context, job *queue.Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobTimeout)
	defer cancel()

	logger := log.With().Str("job_id", job.ID.String()).Logger()
	logger.Info().Str("prompt", job.Request.Prompt).Msg("Processing story job")

	if w.recorder != nil {
		if err := w.recorder.MarkRunRunning(ctx, job.ID); err != nil {
			logger.Warn().Err(err).Msg("Failed to mark run running")
		}
	}

	result, err := w.runner.RunStory(ctx, job.Request)
	if err != nil {
		metrics.QueueJobs.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Msg("Story job failed")
		if w.recorder != nil {
			if recErr := w.recorder.FailRun(ctx, job.ID, err.Error()); recErr != nil {
				logger.Warn().Err(recErr).Msg("Failed to record run failure")
			}
		}
		return
	}

	metrics.QueueJobs.WithLabelValues("succeeded").Inc()
	logger.Info().Str("slug", result.Slug).Msg("Story job completed successfully")
	if w.recorder != nil {
		if err := w.recorder.CompleteRun(ctx, job.ID, result.Slug, result.Bundle); err != nil {
			logger.Warn().Err(err).Msg("Failed to record run completion")
		}
	}
}
