// Package coord provides an in-process domain.Coordinator.
package coord

import (
	"context"
	"errors"
	"sync"

	"github.com/eleven-am/splice/internal/domain"
)

var ErrClosed = errors.New("coordinator closed")

const defaultQueueSize = 64

// Memory queues jobs on a buffered channel shared by all subscribers and fans
// export statuses out to waiters. Each waiter channel holds only the latest
// status; it is closed after a Ready or Error status.
type Memory struct {
	jobs chan domain.Job
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	pending map[string]domain.Job
	waiters map[domain.ExportKey]map[chan domain.ExportStatus]struct{}
}

func NewMemory(queueSize int) *Memory {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Memory{
		jobs:    make(chan domain.Job, queueSize),
		done:    make(chan struct{}),
		pending: make(map[string]domain.Job),
		waiters: make(map[domain.ExportKey]map[chan domain.ExportStatus]struct{}),
	}
}

func (m *Memory) Enqueue(ctx context.Context, job domain.Job) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.pending[job.ID] = job
	m.mu.Unlock()

	var err error
	select {
	case m.jobs <- job:
		return nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-m.done:
		err = ErrClosed
	}

	m.mu.Lock()
	delete(m.pending, job.ID)
	m.mu.Unlock()
	return err
}

func (m *Memory) Subscribe(ctx context.Context) (<-chan domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.jobs, nil
}

func (m *Memory) Ack(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, jobID)
	return nil
}

// Pending reports jobs enqueued but not yet acknowledged.
func (m *Memory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Memory) NotifyExport(ctx context.Context, key domain.ExportKey, status domain.ExportStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	terminal := status.State != domain.ExportStateProgress
	for ch := range m.waiters[key] {
		select {
		case <-ch:
		default:
		}
		ch <- status
		if terminal {
			close(ch)
		}
	}
	if terminal {
		delete(m.waiters, key)
	}
	return nil
}

// WaitExport registers interest in key. The channel is dropped when ctx ends.
func (m *Memory) WaitExport(ctx context.Context, key domain.ExportKey) (<-chan domain.ExportStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	ch := make(chan domain.ExportStatus, 1)
	set, ok := m.waiters[key]
	if !ok {
		set = make(map[chan domain.ExportStatus]struct{})
		m.waiters[key] = set
	}
	set[ch] = struct{}{}

	context.AfterFunc(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if set, ok := m.waiters[key]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
				if len(set) == 0 {
					delete(m.waiters, key)
				}
			}
		}
	})
	return ch, nil
}

func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
	for key, set := range m.waiters {
		for ch := range set {
			close(ch)
		}
		delete(m.waiters, key)
	}
}
