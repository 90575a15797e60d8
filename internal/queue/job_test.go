package queue

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/benvon/letmeask/internal/models"
	"github.com/google/uuid"
)

func TestNewJob(t *testing.T) {
	t.Parallel()

	job := NewJob(JobTypeProfileSync, "google-uid-1")

	if job.ID == uuid.Nil {
		t.Error("Expected job ID to be set")
	}
	if job.Type != JobTypeProfileSync {
		t.Errorf("Expected job type to be %s, got %s", JobTypeProfileSync, job.Type)
	}
	if job.Subject != "google-uid-1" {
		t.Errorf("Expected subject to be google-uid-1, got %s", job.Subject)
	}
	if job.Metadata == nil {
		t.Error("Expected metadata to be initialized")
	}
	if job.RetryCount != 0 {
		t.Errorf("Expected retry count to be 0, got %d", job.RetryCount)
	}
	if job.MaxRetries != DefaultMaxRetries {
		t.Errorf("Expected max retries to be %d, got %d", DefaultMaxRetries, job.MaxRetries)
	}
}

func TestNewProfileSyncJob(t *testing.T) {
	t.Parallel()

	user := &models.User{ID: "u1", Name: "Ada", Avatar: "https://example.com/a.png"}
	seenAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	job := NewProfileSyncJob(user, seenAt)
	user.Name = "mutated"

	if job.Subject != "u1" || !job.SeenAt.Equal(seenAt) {
		t.Errorf("job = %+v", job)
	}
	got, err := job.Profile()
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if got.Name != "Ada" {
		t.Errorf("job shares the caller's user: name = %q", got.Name)
	}

	// survives the wire
	raw, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Job
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.User == nil || *decoded.User != *got || !decoded.SeenAt.Equal(seenAt) {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestJob_Profile_Missing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		job  *Job
	}{
		{name: "nil user", job: NewJob(JobTypeProfileSync, "u1")},
		{name: "empty id", job: &Job{Type: JobTypeProfileSync, User: &models.User{Name: "Ada", Avatar: "a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := tt.job.Profile(); !errors.Is(err, ErrMissingProfile) {
				t.Errorf("Profile() error = %v, want ErrMissingProfile", err)
			}
		})
	}
}

func TestJob_RetryAfter(t *testing.T) {
	t.Parallel()

	job := NewJob(JobTypeProfileSync, "u1")
	next := job.RetryAfter(time.Minute)

	if job.RetryCount != 0 || job.NotBefore != nil {
		t.Error("RetryAfter mutated the original job")
	}
	if next.ID != job.ID {
		t.Error("retry should keep the job ID")
	}
	if next.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", next.RetryCount)
	}
	if next.NotBefore == nil || time.Until(*next.NotBefore) <= 0 {
		t.Errorf("NotBefore = %v, want in the future", next.NotBefore)
	}
	if next.ShouldProcess() {
		t.Error("delayed retry should not be processed yet")
	}
}

func TestJob_ShouldProcess(t *testing.T) {
	t.Parallel()

	subject := "google-uid-1"
	now := time.Now()

	tests := []struct {
		name      string
		job       *Job
		want      bool
		setupTime func() time.Time
	}{
		{
			name: "no time constraints",
			job: &Job{
				ID:         uuid.New(),
				Type:       JobTypeProfileSync,
				Subject:    subject,
				NotBefore:  nil,
				NotAfter:   nil,
			},
			want: true,
		},
		{
			name: "not before in past",
			job: &Job{
				ID:         uuid.New(),
				Type:       JobTypeProfileSync,
				Subject:    subject,
				NotBefore:  timePtr(now.Add(-1 * time.Hour)),
				NotAfter:   nil,
			},
			want: true,
		},
		{
			name: "not before in future",
			job: &Job{
				ID:         uuid.New(),
				Type:       JobTypeProfileSync,
				Subject:    subject,
				NotBefore:  timePtr(now.Add(1 * time.Hour)),
				NotAfter:   nil,
			},
			want: false,
		},
		{
			name: "not after in past",
			job: &Job{
				ID:         uuid.New(),
				Type:       JobTypeProfileSync,
				Subject:    subject,
				NotBefore:  nil,
				NotAfter:   timePtr(now.Add(-1 * time.Hour)),
			},
			want: false,
		},
		{
			name: "not after in future",
			job: &Job{
				ID:         uuid.New(),
				Type:       JobTypeProfileSync,
				Subject:    subject,
				NotBefore:  nil,
				NotAfter:   timePtr(now.Add(1 * time.Hour)),
			},
			want: true,
		},
		{
			name: "within time window",
			job: &Job{
				ID:         uuid.New(),
				Type:       JobTypeProfileSync,
				Subject:    subject,
				NotBefore:  timePtr(now.Add(-1 * time.Hour)),
				NotAfter:   timePtr(now.Add(1 * time.Hour)),
			},
			want: true,
		},
		{
			name: "outside time window - before",
			job: &Job{
				ID:         uuid.New(),
				Type:       JobTypeProfileSync,
				Subject:    subject,
				NotBefore:  timePtr(now.Add(1 * time.Hour)),
				NotAfter:   timePtr(now.Add(2 * time.Hour)),
			},
			want: false,
		},
		{
			name: "outside time window - after",
			job: &Job{
				ID:         uuid.New(),
				Type:       JobTypeProfileSync,
				Subject:    subject,
				NotBefore:  timePtr(now.Add(-2 * time.Hour)),
				NotAfter:   timePtr(now.Add(-1 * time.Hour)),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.job.ShouldProcess()
			if got != tt.want {
				t.Errorf("ShouldProcess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJob_IsExpired(t *testing.T) {
	t.Parallel()

	subject := "google-uid-1"
	now := time.Now()

	tests := []struct {
		name string
		job  *Job
		want bool
	}{
		{
			name: "no expiration",
			job: &Job{
				ID:        uuid.New(),
				Type:      JobTypeProfileSync,
				Subject:   subject,
				NotAfter:  nil,
			},
			want: false,
		},
		{
			name: "expired",
			job: &Job{
				ID:        uuid.New(),
				Type:      JobTypeProfileSync,
				Subject:   subject,
				NotAfter:  timePtr(now.Add(-1 * time.Hour)),
			},
			want: true,
		},
		{
			name: "not expired",
			job: &Job{
				ID:        uuid.New(),
				Type:      JobTypeProfileSync,
				Subject:   subject,
				NotAfter:  timePtr(now.Add(1 * time.Hour)),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.job.IsExpired()
			if got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJob_CanRetry(t *testing.T) {
	t.Parallel()

	subject := "google-uid-1"

	tests := []struct {
		name      string
		retryCount int
		maxRetries int
		want      bool
	}{
		{
			name:       "can retry - no retries yet",
			retryCount: 0,
			maxRetries: 3,
			want:       true,
		},
		{
			name:       "can retry - one retry",
			retryCount: 1,
			maxRetries: 3,
			want:       true,
		},
		{
			name:       "can retry - max retries minus one",
			retryCount: 2,
			maxRetries: 3,
			want:       true,
		},
		{
			name:       "cannot retry - at max retries",
			retryCount: 3,
			maxRetries: 3,
			want:       false,
		},
		{
			name:       "cannot retry - exceeded max retries",
			retryCount: 4,
			maxRetries: 3,
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			job := &Job{
				ID:         uuid.New(),
				Type:       JobTypeProfileSync,
				Subject:    subject,
				RetryCount: tt.retryCount,
				MaxRetries: tt.maxRetries,
			}
			got := job.CanRetry()
			if got != tt.want {
				t.Errorf("CanRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJob_IncrementRetry(t *testing.T) {
	t.Parallel()

	subject := "google-uid-1"
	job := &Job{
		ID:         uuid.New(),
		Type:       JobTypeProfileSync,
		Subject:    subject,
		RetryCount: 0,
		MaxRetries: 3,
	}

	job.IncrementRetry()
	if job.RetryCount != 1 {
		t.Errorf("Expected retry count to be 1 after increment, got %d", job.RetryCount)
	}

	job.IncrementRetry()
	if job.RetryCount != 2 {
		t.Errorf("Expected retry count to be 2 after second increment, got %d", job.RetryCount)
	}

	job.IncrementRetry()
	if job.RetryCount != 3 {
		t.Errorf("Expected retry count to be 3 after third increment, got %d", job.RetryCount)
	}
}

// Helper function to create time pointers
func timePtr(t time.Time) *time.Time {
	return &t
}
