package domain

import "context"

type Coordinator interface {
	Enqueue(ctx context.Context, job Job) error
	Subscribe(ctx context.Context) (<-chan Job, error)
	Ack(ctx context.Context, jobID string) error

	NotifyExport(ctx context.Context, key ExportKey, status ExportStatus) error
	WaitExport(ctx context.Context, key ExportKey) (<-chan ExportStatus, error)

	Close()
}

// ExportKey identifies a rendered timeline: the scenario plus a hash of the
// layers it was rendered from.
type ExportKey struct {
	ScenarioID   string
	TimelineHash string
}

type Job struct {
	ID  string
	Key ExportKey
}

type ExportState int

const (
	ExportStateProgress ExportState = iota
	ExportStateReady
	ExportStateError
)

type ExportStatus struct {
	State    ExportState
	Progress int
	Error    string
}
