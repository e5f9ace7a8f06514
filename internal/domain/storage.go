package domain

import "context"

type Storage interface {
	LoadTimeline(ctx context.Context, scenarioID string) ([]Layer, error)
	SaveTimeline(ctx context.Context, scenarioID string, layers []Layer) error

	WriteExport(ctx context.Context, key ExportKey, data []byte) error
	ReadExport(ctx context.Context, key ExportKey) ([]byte, error)
	ExportExists(ctx context.Context, key ExportKey) (bool, error)
}
