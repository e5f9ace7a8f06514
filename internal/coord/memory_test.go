package coord

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eleven-am/splice/internal/domain"
)

var key = domain.ExportKey{ScenarioID: "demo", TimelineHash: "h1"}

func TestEnqueueDeliversToSubscriber(t *testing.T) {
	m := NewMemory(4)
	defer m.Close()

	jobs, err := m.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := m.Enqueue(context.Background(), domain.Job{ID: "j1", Key: key}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case job := <-jobs:
		if job.ID != "j1" || job.Key != key {
			t.Fatalf("unexpected job %#v", job)
		}
	case <-time.After(time.Second):
		t.Fatalf("job not delivered")
	}

	if m.Pending() != 1 {
		t.Fatalf("job should stay pending until acked")
	}
	_ = m.Ack(context.Background(), "j1")
	if m.Pending() != 0 {
		t.Fatalf("ack should clear pending job")
	}
}

func TestEnqueueRespectsContextWhenFull(t *testing.T) {
	m := NewMemory(1)
	defer m.Close()

	_ = m.Enqueue(context.Background(), domain.Job{ID: "j1"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := m.Enqueue(ctx, domain.Job{ID: "j2"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if m.Pending() != 1 {
		t.Fatalf("failed enqueue should not stay pending")
	}
}

func TestWaitExportReceivesLatestThenCloses(t *testing.T) {
	m := NewMemory(1)
	defer m.Close()

	ch, err := m.WaitExport(context.Background(), key)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}

	ctx := context.Background()
	_ = m.NotifyExport(ctx, key, domain.ExportStatus{State: domain.ExportStateProgress, Progress: 10})
	_ = m.NotifyExport(ctx, key, domain.ExportStatus{State: domain.ExportStateProgress, Progress: 20})
	if st := <-ch; st.Progress != 20 {
		t.Fatalf("expected latest progress 20, got %d", st.Progress)
	}

	_ = m.NotifyExport(ctx, key, domain.ExportStatus{State: domain.ExportStateReady, Progress: 100})
	if st := <-ch; st.State != domain.ExportStateReady {
		t.Fatalf("expected ready, got %#v", st)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel should close after a terminal status")
	}
}

func TestNotifyOnlyReachesMatchingKey(t *testing.T) {
	m := NewMemory(1)
	defer m.Close()

	other := domain.ExportKey{ScenarioID: "demo", TimelineHash: "h2"}
	ch, _ := m.WaitExport(context.Background(), other)
	_ = m.NotifyExport(context.Background(), key, domain.ExportStatus{State: domain.ExportStateReady})

	select {
	case st := <-ch:
		t.Fatalf("unexpected status %#v", st)
	default:
	}
}

func TestWaitExportDroppedOnCancel(t *testing.T) {
	m := NewMemory(1)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := m.WaitExport(ctx, key)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter not released on cancel")
	}
	// notifying after the waiter left must not panic on a closed channel
	_ = m.NotifyExport(context.Background(), key, domain.ExportStatus{State: domain.ExportStateReady})
}

func TestCloseReleasesEverything(t *testing.T) {
	m := NewMemory(1)
	ch, _ := m.WaitExport(context.Background(), key)
	m.Close()

	if _, ok := <-ch; ok {
		t.Fatalf("waiter should be closed")
	}
	if err := m.Enqueue(context.Background(), domain.Job{ID: "late"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := m.WaitExport(context.Background(), key); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	m.Close()
}
