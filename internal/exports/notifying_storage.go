package exports

import (
	"context"
	"fmt"

	"github.com/eleven-am/splice/internal/domain"
)

// NotifyingStorage publishes a Ready or Error status for every export write so
// callers blocked in Coordinator.WaitExport are released.
type NotifyingStorage struct {
	storage     domain.Storage
	coordinator domain.Coordinator
}

func NewNotifyingStorage(storage domain.Storage, coordinator domain.Coordinator) *NotifyingStorage {
	return &NotifyingStorage{
		storage:     storage,
		coordinator: coordinator,
	}
}

func (s *NotifyingStorage) LoadTimeline(ctx context.Context, scenarioID string) ([]domain.Layer, error) {
	return s.storage.LoadTimeline(ctx, scenarioID)
}

func (s *NotifyingStorage) SaveTimeline(ctx context.Context, scenarioID string, layers []domain.Layer) error {
	return s.storage.SaveTimeline(ctx, scenarioID, layers)
}

func (s *NotifyingStorage) WriteExport(ctx context.Context, key domain.ExportKey, data []byte) error {
	if err := s.storage.WriteExport(ctx, key, data); err != nil {
		status := domain.ExportStatus{
			State: domain.ExportStateError,
			Error: err.Error(),
		}
		s.coordinator.NotifyExport(ctx, key, status)
		return fmt.Errorf("storage write: %w", err)
	}

	status := domain.ExportStatus{State: domain.ExportStateReady, Progress: 100}
	if err := s.coordinator.NotifyExport(ctx, key, status); err != nil {
		return fmt.Errorf("notify export: %w", err)
	}

	return nil
}

func (s *NotifyingStorage) ReadExport(ctx context.Context, key domain.ExportKey) ([]byte, error) {
	return s.storage.ReadExport(ctx, key)
}

func (s *NotifyingStorage) ExportExists(ctx context.Context, key domain.ExportKey) (bool, error) {
	return s.storage.ExportExists(ctx, key)
}
