package refresher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeJob struct {
	mu        sync.Mutex
	refreshes []string
	prunes    []time.Duration
	err       error
}

func (f *fakeJob) RefreshSnapshots(ctx context.Context, groups []string, statDate string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes = append(f.refreshes, statDate)
	return f.err
}

func (f *fakeJob) PruneSnapshots(retention time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunes = append(f.prunes, retention)
	return 0, nil
}

func (f *fakeJob) Today(layout string) string {
	return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).Format(layout)
}

func TestRunOnce(t *testing.T) {
	job := &fakeJob{}
	r := New(job, Options{Groups: []string{"a"}, DateLayout: "20060102", Retention: time.Hour})

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(job.refreshes) != 1 || job.refreshes[0] != "20240501" {
		t.Errorf("Expected one refresh for 20240501, got %v", job.refreshes)
	}
	if len(job.prunes) != 1 || job.prunes[0] != time.Hour {
		t.Errorf("Expected one prune with 1h retention, got %v", job.prunes)
	}
}

func TestRunOnceWithoutRetention(t *testing.T) {
	job := &fakeJob{err: errors.New("backend down")}
	r := New(job, Options{Groups: []string{"a"}})

	if err := r.RunOnce(context.Background()); err == nil {
		t.Error("Expected refresh error to be returned")
	}
	if len(job.prunes) != 0 {
		t.Errorf("Expected no prune without retention, got %v", job.prunes)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &fakeJob{}
	r := New(job, Options{Groups: []string{"a"}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Give the initial refresh a moment to run.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	if len(job.refreshes) == 0 {
		t.Error("Expected an initial refresh")
	}
}

func TestRunRejectsBadSchedule(t *testing.T) {
	r := New(&fakeJob{}, Options{Schedule: "not a schedule"})
	if err := r.Run(context.Background()); err == nil {
		t.Error("Expected error for invalid cron spec")
	}
}
