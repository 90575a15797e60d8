package workers

import (
	"context"
	"fmt"
	"time"

	logpkg "github.com/benvon/letmeask/internal/logger"
	"github.com/benvon/letmeask/internal/models"
	"github.com/benvon/letmeask/internal/queue"
	"go.uber.org/zap"
)

// SignInAnnouncer turns published users into profile_sync jobs
type SignInAnnouncer struct {
	queue  queue.Enqueuer
	logger *zap.Logger
	now    func() time.Time
}

// NewSignInAnnouncer creates an announcer publishing to q
func NewSignInAnnouncer(q queue.Enqueuer, logger *zap.Logger) *SignInAnnouncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignInAnnouncer{queue: q, logger: logger, now: time.Now}
}

// Run enqueues one job per user received on updates until ctx is done or
// updates is closed. Nil values mean nobody is signed in and are skipped.
// Enqueue failures are logged; the profile directory is best effort.
func (a *SignInAnnouncer) Run(ctx context.Context, updates <-chan *models.User) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case user, ok := <-updates:
			if !ok {
				return nil
			}
			if user == nil {
				continue
			}
			if err := a.Announce(ctx, user); err != nil {
				a.logger.Warn("sign_in_announcement_failed",
					zap.String("user_id", logpkg.SanitizeUserID(user.ID)),
					zap.String("error", logpkg.SanitizeError(err)),
				)
			}
		}
	}
}

// Announce enqueues a profile_sync job for user
func (a *SignInAnnouncer) Announce(ctx context.Context, user *models.User) error {
	job := queue.NewProfileSyncJob(user, a.now().UTC())
	if err := a.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue profile sync: %w", err)
	}
	a.logger.Debug("sign_in_announced",
		zap.String("job_id", job.ID.String()),
		zap.String("user_id", logpkg.SanitizeUserID(user.ID)),
	)
	return nil
}
