package queue

import (
	"errors"
	"time"

	"github.com/benvon/letmeask/internal/models"
	"github.com/google/uuid"
)

// JobType represents the type of job
type JobType string

const (
	// JobTypeProfileSync records a signed-in user in the profile directory
	JobTypeProfileSync JobType = "profile_sync"
)

// DefaultMaxRetries bounds redelivery before a job is dead-lettered
const DefaultMaxRetries = 3

// ErrMissingProfile is returned when a profile_sync job carries no user
var ErrMissingProfile = errors.New("profile_sync job has no user")

// Job represents a job in the queue
type Job struct {
	ID         uuid.UUID      `json:"id"`
	Type       JobType        `json:"type"`
	Subject    string         `json:"subject"`              // Provider uid the job is about
	User       *models.User   `json:"user,omitempty"`       // Set for profile_sync jobs
	SeenAt     time.Time      `json:"seen_at"`              // When the user was published
	NotBefore  *time.Time     `json:"not_before,omitempty"` // Earliest time to process job (nil = immediate)
	NotAfter   *time.Time     `json:"not_after,omitempty"`  // Latest time to process job (nil = no expiration)
	Metadata   map[string]any `json:"metadata,omitempty"`   // Job-specific data
	CreatedAt  time.Time      `json:"created_at"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
}

// NewJob creates a new job
func NewJob(jobType JobType, subject string) *Job {
	return &Job{
		ID:         uuid.New(),
		Type:       jobType,
		Subject:    subject,
		Metadata:   make(map[string]any),
		CreatedAt:  time.Now(),
		RetryCount: 0,
		MaxRetries: DefaultMaxRetries,
	}
}

// NewProfileSyncJob creates a profile_sync job for a user published at seenAt
func NewProfileSyncJob(user *models.User, seenAt time.Time) *Job {
	job := NewJob(JobTypeProfileSync, user.ID)
	job.User = user.Clone()
	job.SeenAt = seenAt
	return job
}

// Profile returns the user a profile_sync job carries
func (j *Job) Profile() (*models.User, error) {
	if j.User == nil || j.User.ID == "" {
		return nil, ErrMissingProfile
	}
	return j.User, nil
}

// ShouldProcess checks if the job should be processed now
func (j *Job) ShouldProcess() bool {
	now := time.Now()

	if j.NotBefore != nil && now.Before(*j.NotBefore) {
		return false
	}

	if j.NotAfter != nil && now.After(*j.NotAfter) {
		return false
	}

	return true
}

// IsExpired checks if the job has expired
func (j *Job) IsExpired() bool {
	if j.NotAfter == nil {
		return false
	}

	return time.Now().After(*j.NotAfter)
}

// CanRetry checks if the job can be retried
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// IncrementRetry increments the retry count
func (j *Job) IncrementRetry() {
	j.RetryCount++
}

// RetryAfter returns a copy of the job scheduled delay from now with its retry count bumped
func (j *Job) RetryAfter(delay time.Duration) *Job {
	next := *j
	notBefore := time.Now().Add(delay)
	next.NotBefore = &notBefore
	next.IncrementRetry()
	return &next
}
