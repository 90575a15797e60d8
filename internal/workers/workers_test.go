package workers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benvon/letmeask/internal/database"
	"github.com/benvon/letmeask/internal/models"
	"github.com/benvon/letmeask/internal/queue"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// mockProfileStore is a mock for the profile directory
type mockProfileStore struct {
	t          *testing.T
	upsertFunc func(ctx context.Context, user *models.User, seenAt time.Time) (*models.Profile, error)

	mu          sync.Mutex
	upsertCalls []*models.User
}

func (m *mockProfileStore) Upsert(ctx context.Context, user *models.User, seenAt time.Time) (*models.Profile, error) {
	m.mu.Lock()
	m.upsertCalls = append(m.upsertCalls, user)
	m.mu.Unlock()
	if m.upsertFunc == nil {
		m.t.Fatal("Upsert called but not configured in test - mock requires explicit setup")
	}
	return m.upsertFunc(ctx, user, seenAt)
}

var _ database.ProfileStore = (*mockProfileStore)(nil)

// mockEnqueuer records enqueued jobs
type mockEnqueuer struct {
	err  error
	mu   sync.Mutex
	jobs []*queue.Job
}

func (m *mockEnqueuer) Enqueue(_ context.Context, job *queue.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *mockEnqueuer) snapshot() []*queue.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*queue.Job(nil), m.jobs...)
}

// mockMessage implements queue.MessageInterface
type mockMessage struct {
	job     *queue.Job
	acked   bool
	nacked  bool
	requeue bool
}

func (m *mockMessage) Ack() error { m.acked = true; return nil }
func (m *mockMessage) Nack(requeue bool) error {
	m.nacked = true
	m.requeue = requeue
	return nil
}
func (m *mockMessage) GetJob() *queue.Job { return m.job }

var _ queue.MessageInterface = (*mockMessage)(nil)

func testUser() *models.User {
	return &models.User{ID: "u1", Name: "Ada", Avatar: "https://example.com/a.png"}
}

func upsertOK(_ context.Context, user *models.User, seenAt time.Time) (*models.Profile, error) {
	return &models.Profile{ID: user.ID, Name: user.Name, Avatar: user.Avatar, FirstSeenAt: seenAt, LastSeenAt: seenAt}, nil
}

func TestProfileSyncer_ProcessJob(t *testing.T) {
	t.Parallel()

	seenAt := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		job         func() *queue.Job
		upsert      func(context.Context, *models.User, time.Time) (*models.Profile, error)
		retries     *mockEnqueuer
		wantErr     bool
		wantAck     bool
		wantNack    bool
		wantRequeue bool
		wantRetries int
		wantUpserts int
	}{
		{
			name:        "success",
			job:         func() *queue.Job { return queue.NewProfileSyncJob(testUser(), seenAt) },
			upsert:      upsertOK,
			retries:     &mockEnqueuer{},
			wantAck:     true,
			wantUpserts: 1,
		},
		{
			name: "unknown job type goes to DLQ",
			job: func() *queue.Job {
				j := queue.NewProfileSyncJob(testUser(), seenAt)
				j.Type = "task_analysis"
				return j
			},
			retries:  &mockEnqueuer{},
			wantErr:  true,
			wantNack: true,
		},
		{
			name:     "missing user goes to DLQ after retries",
			job:      func() *queue.Job { j := queue.NewJob(queue.JobTypeProfileSync, "u1"); j.RetryCount = j.MaxRetries; return j },
			retries:  &mockEnqueuer{},
			wantErr:  true,
			wantNack: true,
		},
		{
			name: "upsert failure is rescheduled",
			job:  func() *queue.Job { return queue.NewProfileSyncJob(testUser(), seenAt) },
			upsert: func(context.Context, *models.User, time.Time) (*models.Profile, error) {
				return nil, errors.New("connection refused")
			},
			retries:     &mockEnqueuer{},
			wantErr:     true,
			wantAck:     true,
			wantRetries: 1,
			wantUpserts: 1,
		},
		{
			name: "upsert failure without retry queue is dead-lettered",
			job:  func() *queue.Job { return queue.NewProfileSyncJob(testUser(), seenAt) },
			upsert: func(context.Context, *models.User, time.Time) (*models.Profile, error) {
				return nil, errors.New("connection refused")
			},
			wantErr:     true,
			wantNack:    true,
			wantUpserts: 1,
		},
		{
			name: "reschedule failure is dead-lettered",
			job:  func() *queue.Job { return queue.NewProfileSyncJob(testUser(), seenAt) },
			upsert: func(context.Context, *models.User, time.Time) (*models.Profile, error) {
				return nil, errors.New("connection refused")
			},
			retries:     &mockEnqueuer{err: errors.New("channel closed")},
			wantErr:     true,
			wantNack:    true,
			wantUpserts: 1,
		},
		{
			name: "early retry is requeued",
			job: func() *queue.Job {
				return queue.NewProfileSyncJob(testUser(), seenAt).RetryAfter(time.Hour)
			},
			retries:     &mockEnqueuer{},
			wantNack:    true,
			wantRequeue: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := &mockProfileStore{t: t, upsertFunc: tt.upsert}
			var retries queue.Enqueuer
			if tt.retries != nil {
				retries = tt.retries
			}
			syncer := NewProfileSyncer(store, retries, zap.NewNop())
			syncer.sleep = func(context.Context, time.Duration) error { return nil }
			msg := &mockMessage{job: tt.job()}

			err := syncer.ProcessJob(context.Background(), msg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ProcessJob() error = %v, wantErr %v", err, tt.wantErr)
			}
			if msg.acked != tt.wantAck {
				t.Errorf("acked = %v, want %v", msg.acked, tt.wantAck)
			}
			if msg.nacked != tt.wantNack {
				t.Errorf("nacked = %v, want %v", msg.nacked, tt.wantNack)
			}
			if msg.requeue != tt.wantRequeue {
				t.Errorf("requeue = %v, want %v", msg.requeue, tt.wantRequeue)
			}
			if len(store.upsertCalls) != tt.wantUpserts {
				t.Errorf("upserts = %d, want %d", len(store.upsertCalls), tt.wantUpserts)
			}
			if tt.retries != nil {
				if got := len(tt.retries.snapshot()); got != tt.wantRetries {
					t.Errorf("retries = %d, want %d", got, tt.wantRetries)
				}
			}
		})
	}
}

func TestProfileSyncer_RetryCarriesBackoff(t *testing.T) {
	t.Parallel()

	store := &mockProfileStore{t: t, upsertFunc: func(context.Context, *models.User, time.Time) (*models.Profile, error) {
		return nil, errors.New("deadlock detected")
	}}
	retries := &mockEnqueuer{}
	syncer := NewProfileSyncer(store, retries, nil)

	job := queue.NewProfileSyncJob(testUser(), time.Now())
	job.RetryCount = 1
	_ = syncer.ProcessJob(context.Background(), &mockMessage{job: job})

	got := retries.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected one retry, got %d", len(got))
	}
	if got[0].ID != job.ID || got[0].RetryCount != 2 {
		t.Errorf("retry = id %s count %d", got[0].ID, got[0].RetryCount)
	}
	if wait := time.Until(*got[0].NotBefore); wait <= 5*time.Second || wait > 10*time.Second {
		t.Errorf("retry delay = %v, want about 10s", wait)
	}
}

func TestProfileSyncer_HoldsEarlyRetry(t *testing.T) {
	t.Parallel()

	t.Run("due within the hold is processed in place", func(t *testing.T) {
		t.Parallel()

		store := &mockProfileStore{t: t, upsertFunc: upsertOK}
		syncer := NewProfileSyncer(store, &mockEnqueuer{}, nil)
		job := queue.NewProfileSyncJob(testUser(), time.Now()).RetryAfter(50 * time.Millisecond)
		msg := &mockMessage{job: job}

		start := time.Now()
		if err := syncer.ProcessJob(context.Background(), msg); err != nil {
			t.Fatalf("ProcessJob() error = %v", err)
		}
		if !time.Now().After(*job.NotBefore) {
			t.Errorf("processed %v after start, before NotBefore", time.Since(start))
		}
		if !msg.acked || msg.nacked {
			t.Errorf("acked = %v nacked = %v, want ack only", msg.acked, msg.nacked)
		}
		if len(store.upsertCalls) != 1 {
			t.Errorf("upserts = %d, want 1", len(store.upsertCalls))
		}
	})

	t.Run("far retry is held for the cap before requeue", func(t *testing.T) {
		t.Parallel()

		syncer := NewProfileSyncer(&mockProfileStore{t: t}, &mockEnqueuer{}, nil)
		var slept []time.Duration
		syncer.sleep = func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}
		msg := &mockMessage{job: queue.NewProfileSyncJob(testUser(), time.Now()).RetryAfter(time.Hour)}

		if err := syncer.ProcessJob(context.Background(), msg); err != nil {
			t.Fatalf("ProcessJob() error = %v", err)
		}
		if len(slept) != 1 || slept[0] != DefaultEarlyHold {
			t.Errorf("slept = %v, want one hold of %v", slept, DefaultEarlyHold)
		}
		if !msg.nacked || !msg.requeue {
			t.Errorf("nacked = %v requeue = %v, want requeue", msg.nacked, msg.requeue)
		}
	})

	t.Run("shutdown while held requeues", func(t *testing.T) {
		t.Parallel()

		syncer := NewProfileSyncer(&mockProfileStore{t: t}, &mockEnqueuer{}, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		msg := &mockMessage{job: queue.NewProfileSyncJob(testUser(), time.Now()).RetryAfter(time.Hour)}

		if err := syncer.ProcessJob(ctx, msg); !errors.Is(err, context.Canceled) {
			t.Errorf("ProcessJob() error = %v, want context.Canceled", err)
		}
		if !msg.requeue || msg.acked {
			t.Errorf("requeue = %v acked = %v", msg.requeue, msg.acked)
		}
	})
}

func TestProfileSyncer_UsesSeenAt(t *testing.T) {
	t.Parallel()

	seenAt := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	var gotSeen time.Time
	store := &mockProfileStore{t: t, upsertFunc: func(ctx context.Context, u *models.User, at time.Time) (*models.Profile, error) {
		gotSeen = at
		return upsertOK(ctx, u, at)
	}}
	syncer := NewProfileSyncer(store, nil, nil)

	if err := syncer.ProcessProfileSyncJob(context.Background(), queue.NewProfileSyncJob(testUser(), seenAt)); err != nil {
		t.Fatal(err)
	}
	if !gotSeen.Equal(seenAt) {
		t.Errorf("seenAt = %v, want %v", gotSeen, seenAt)
	}

	// jobs without seen_at fall back to their creation time
	job := queue.NewProfileSyncJob(testUser(), time.Time{})
	if err := syncer.ProcessProfileSyncJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if !gotSeen.Equal(job.CreatedAt) {
		t.Errorf("seenAt = %v, want CreatedAt %v", gotSeen, job.CreatedAt)
	}
}

func TestSignInAnnouncer_Run(t *testing.T) {
	t.Parallel()

	q := &mockEnqueuer{}
	announcer := NewSignInAnnouncer(q, zap.NewNop())
	fixed := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	announcer.now = func() time.Time { return fixed }

	updates := make(chan *models.User, 3)
	updates <- nil
	updates <- testUser()
	updates <- &models.User{ID: "u2", Name: "Grace", Avatar: "https://example.com/g.png"}
	close(updates)

	if err := announcer.Run(context.Background(), updates); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	jobs := q.snapshot()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].Subject != "u1" || jobs[1].Subject != "u2" {
		t.Errorf("subjects = %s, %s", jobs[0].Subject, jobs[1].Subject)
	}
	if jobs[0].Type != queue.JobTypeProfileSync || !jobs[0].SeenAt.Equal(fixed) {
		t.Errorf("job = %+v", jobs[0])
	}
}

func TestSignInAnnouncer_Run_StopsOnCancel(t *testing.T) {
	t.Parallel()

	announcer := NewSignInAnnouncer(&mockEnqueuer{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := announcer.Run(ctx, make(chan *models.User)); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestSignInAnnouncer_LogsEnqueueFailure(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	announcer := NewSignInAnnouncer(&mockEnqueuer{err: errors.New("broker down")}, zap.New(core))

	updates := make(chan *models.User, 1)
	updates <- testUser()
	close(updates)

	if err := announcer.Run(context.Background(), updates); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	entries := logs.FilterMessage("sign_in_announcement_failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one failure log, got %d", len(entries))
	}
	if msg, _ := entries[0].ContextMap()["error"].(string); !strings.Contains(msg, "broker down") {
		t.Errorf("error field = %q", msg)
	}
}
