package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/letmeask/internal/database"
	logpkg "github.com/benvon/letmeask/internal/logger"
	"github.com/benvon/letmeask/internal/queue"
	"go.uber.org/zap"
)

// DefaultEarlyHold caps how long a retry that arrived before its NotBefore is
// held before it goes back to the queue.
const DefaultEarlyHold = 30 * time.Second

// JobProcessor handles one decoded job
type JobProcessor func(ctx context.Context, job *queue.Job) error

// ProfileSyncer consumes profile_sync jobs and records them in the profile directory
type ProfileSyncer struct {
	profiles database.ProfileStore
	retries  queue.Enqueuer
	logger   *zap.Logger
	registry map[queue.JobType]JobProcessor
	backoff  func(retry int) time.Duration

	earlyHold time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewProfileSyncer creates a syncer and registers the profile_sync processor.
// retries may be nil, in which case failed jobs go straight to the DLQ.
func NewProfileSyncer(profiles database.ProfileStore, retries queue.Enqueuer, logger *zap.Logger) *ProfileSyncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ProfileSyncer{
		profiles: profiles,
		retries:  retries,
		logger:   logger,
		registry: make(map[queue.JobType]JobProcessor),
		backoff:  retryBackoff,

		earlyHold: DefaultEarlyHold,
		sleep:     sleepContext,
	}
	s.RegisterProcessor(queue.JobTypeProfileSync, s.ProcessProfileSyncJob)
	return s
}

// retryBackoff doubles from 5s per attempt
func retryBackoff(retry int) time.Duration {
	return 5 * time.Second << retry
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterProcessor registers a processor for a job type.
func (s *ProfileSyncer) RegisterProcessor(typ queue.JobType, proc JobProcessor) {
	s.registry[typ] = proc
}

// ProcessProfileSyncJob upserts the job's user
func (s *ProfileSyncer) ProcessProfileSyncJob(ctx context.Context, job *queue.Job) error {
	user, err := job.Profile()
	if err != nil {
		return err
	}
	seenAt := job.SeenAt
	if seenAt.IsZero() {
		seenAt = job.CreatedAt
	}
	profile, err := s.profiles.Upsert(ctx, user, seenAt)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	s.logger.Info("profile_synced",
		zap.String("job_id", job.ID.String()),
		zap.String("user_id", logpkg.SanitizeUserID(profile.ID)),
		zap.Time("first_seen_at", profile.FirstSeenAt),
		zap.Time("last_seen_at", profile.LastSeenAt),
	)
	return nil
}

// ProcessJob processes a job based on its type using the processor registry.
func (s *ProfileSyncer) ProcessJob(ctx context.Context, msg queue.MessageInterface) error {
	job := msg.GetJob()
	if !job.ShouldProcess() && !job.IsExpired() {
		// a retry that arrived early because the delayed exchange is unavailable
		held, err := s.holdEarly(ctx, job)
		if err != nil || !held {
			s.requeue(msg, job)
			return err
		}
	}

	proc, ok := s.registry[job.Type]
	if !ok {
		if nackErr := msg.Nack(false); nackErr != nil {
			s.logger.Error("failed_to_nack_unknown_job_type",
				zap.String("job_id", job.ID.String()),
				zap.String("job_type", string(job.Type)),
				zap.String("error", logpkg.SanitizeError(nackErr)),
			)
		}
		return fmt.Errorf("unknown job type: %s", job.Type)
	}

	if err := proc(ctx, job); err != nil {
		return s.handleJobError(ctx, msg, job, err)
	}
	if ackErr := msg.Ack(); ackErr != nil {
		return fmt.Errorf("failed to ack profile sync job: %w", ackErr)
	}
	return nil
}

// holdEarly waits until the job's NotBefore, at most earlyHold. It reports
// whether the job is due afterwards. Holding the delivery keeps the broker
// from handing the same early job back in a tight loop.
func (s *ProfileSyncer) holdEarly(ctx context.Context, job *queue.Job) (bool, error) {
	wait := s.earlyHold
	if job.NotBefore != nil {
		if until := time.Until(*job.NotBefore); until < wait {
			wait = until
		}
	}
	if err := s.sleep(ctx, wait); err != nil {
		return false, err
	}
	return job.ShouldProcess(), nil
}

func (s *ProfileSyncer) requeue(msg queue.MessageInterface, job *queue.Job) {
	if nackErr := msg.Nack(true); nackErr != nil {
		s.logger.Warn("failed_to_requeue_early_job",
			zap.String("job_id", job.ID.String()),
			zap.String("error", logpkg.SanitizeError(nackErr)),
		)
	}
}

// handleJobError re-enqueues a failed job with backoff while it has retries
// left and dead-letters it otherwise.
func (s *ProfileSyncer) handleJobError(ctx context.Context, msg queue.MessageInterface, job *queue.Job, err error) error {
	s.logger.Error("profile_sync_job_failed",
		zap.String("job_id", job.ID.String()),
		zap.String("user_id", logpkg.SanitizeUserID(job.Subject)),
		zap.Int("retry_count", job.RetryCount),
		zap.String("error", logpkg.SanitizeError(err)),
	)

	if s.retries != nil && job.CanRetry() {
		retry := job.RetryAfter(s.backoff(job.RetryCount))
		enqueueErr := s.retries.Enqueue(ctx, retry)
		if enqueueErr == nil {
			if ackErr := msg.Ack(); ackErr != nil {
				s.logger.Warn("failed_to_ack_retried_job",
					zap.String("job_id", job.ID.String()),
					zap.String("error", logpkg.SanitizeError(ackErr)),
				)
			}
			s.logger.Info("profile_sync_job_rescheduled",
				zap.String("job_id", job.ID.String()),
				zap.Int("retry_count", retry.RetryCount),
				zap.Time("not_before", *retry.NotBefore),
			)
			return fmt.Errorf("profile sync failed, retry scheduled: %w", err)
		}
		s.logger.Warn("failed_to_reschedule_job",
			zap.String("job_id", job.ID.String()),
			zap.String("error", logpkg.SanitizeError(enqueueErr)),
		)
	}

	if nackErr := msg.Nack(false); nackErr != nil {
		s.logger.Warn("failed_to_nack_profile_sync_job",
			zap.String("job_id", job.ID.String()),
			zap.String("error", logpkg.SanitizeError(nackErr)),
		)
	}
	return fmt.Errorf("profile sync failed: %w", err)
}
