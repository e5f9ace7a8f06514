package render

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eleven-am/splice/internal/domain"
	"github.com/eleven-am/splice/internal/timeline"
)

// ErrStaleJob means the stored timeline changed after the job was enqueued.
var ErrStaleJob = errors.New("timeline changed since job was enqueued")

type Exporter interface {
	Export(ctx context.Context, layers []domain.Layer, progress func(int)) ([]byte, error)
}

// Pool runs export jobs pulled from the coordinator. Finished exports are
// written through exportStorage, which is expected to publish the terminal
// status.
type Pool struct {
	coordinator   domain.Coordinator
	size          int
	storage       domain.Storage
	exporter      Exporter
	exportStorage domain.Storage
	logger        zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(
	coordinator domain.Coordinator,
	size int,
	storage domain.Storage,
	exporter Exporter,
	exportStorage domain.Storage,
	logger zerolog.Logger,
) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		coordinator:   coordinator,
		size:          size,
		storage:       storage,
		exporter:      exporter,
		exportStorage: exportStorage,
		logger:        logger.With().Str("component", "render-pool").Logger(),
	}
}

func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return fmt.Errorf("pool already started")
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	jobs, err := p.coordinator.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, jobs)
	}

	return nil
}

func (p *Pool) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, jobs <-chan domain.Job) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			p.processJob(ctx, job)
		}
	}
}

func (p *Pool) processJob(ctx context.Context, job domain.Job) {
	defer p.coordinator.Ack(ctx, job.ID)

	log := p.logger.With().Str("job", job.ID).Str("scenario", job.Key.ScenarioID).Logger()

	exists, err := p.exportStorage.ExportExists(ctx, job.Key)
	if err == nil && exists {
		p.coordinator.NotifyExport(ctx, job.Key, domain.ExportStatus{State: domain.ExportStateReady, Progress: 100})
		return
	}

	layers, err := p.storage.LoadTimeline(ctx, job.Key.ScenarioID)
	if err != nil {
		p.publishError(ctx, job, fmt.Errorf("load timeline: %w", err))
		return
	}
	hash, err := timeline.Hash(layers)
	if err != nil {
		p.publishError(ctx, job, err)
		return
	}
	if hash != job.Key.TimelineHash {
		p.publishError(ctx, job, ErrStaleJob)
		return
	}

	log.Info().Msg("export started")
	data, err := p.exporter.Export(ctx, layers, func(pct int) {
		p.coordinator.NotifyExport(ctx, job.Key, domain.ExportStatus{State: domain.ExportStateProgress, Progress: pct})
	})
	if err != nil {
		log.Error().Err(err).Msg("export failed")
		p.publishError(ctx, job, err)
		return
	}

	if err := p.exportStorage.WriteExport(ctx, job.Key, data); err != nil {
		log.Error().Err(err).Msg("store export failed")
		return
	}
	log.Info().Int("bytes", len(data)).Msg("export stored")
}

func (p *Pool) publishError(ctx context.Context, job domain.Job, err error) {
	status := domain.ExportStatus{
		State: domain.ExportStateError,
		Error: err.Error(),
	}
	p.coordinator.NotifyExport(ctx, job.Key, status)
}
