// Package splice renders multi-layer editing timelines into MP4 video.
//
// A timeline is a set of layers (one video layer plus optional voiceover and
// music layers), each holding items placed on a shared master clock. splice
// previews a timeline frame by frame, plays it back against a wall clock,
// extracts thumbnail filmstrips, and exports it as 1920x1080 30fps H.264 with
// a 48kHz stereo AAC mix. Decoding and encoding are delegated to ffmpeg.
//
// # Architecture
//
// Two interfaces must be supplied:
//
//   - Storage: loads and saves timelines and rendered exports
//   - Coordinator: queues export jobs and reports their progress
//
// For single-process use, internal/store (SQLite) and internal/coord (in
// memory) are sufficient.
//
// # Basic Usage
//
//	session := splice.NewSession(splice.Options{
//	    Storage:     myStorage,
//	    Coordinator: myCoordinator,
//	    HWAccel:     "auto",
//	})
//
//	if err := session.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	mp4, err := session.Render(ctx, "scenario-42", func(pct int) {
//	    fmt.Printf("\r%d%%", pct)
//	})
//
// # Degraded Output
//
// Media that cannot be opened or decoded never aborts an operation: missing
// video renders black and missing audio is silent. The only terminal export
// failure is an encoder that produced no bytes (ErrEmptyOutput).
package splice

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eleven-am/splice/internal/decode"
	"github.com/eleven-am/splice/internal/domain"
	"github.com/eleven-am/splice/internal/export"
	"github.com/eleven-am/splice/internal/exports"
	"github.com/eleven-am/splice/internal/ffmpeg"
	"github.com/eleven-am/splice/internal/hwaccel"
	"github.com/eleven-am/splice/internal/mixdown"
	"github.com/eleven-am/splice/internal/mux"
	"github.com/eleven-am/splice/internal/playback"
	"github.com/eleven-am/splice/internal/probe"
	"github.com/eleven-am/splice/internal/render"
	"github.com/eleven-am/splice/internal/resolve"
	"github.com/eleven-am/splice/internal/source"
	"github.com/eleven-am/splice/internal/thumbnail"
	"github.com/eleven-am/splice/internal/timeline"
)

type (
	// Storage persists timelines and finished exports.
	Storage = domain.Storage

	// Coordinator distributes export jobs to the worker pool and notifies
	// waiting callers of progress and completion.
	Coordinator = domain.Coordinator

	Layer         = domain.Layer
	Item          = domain.Item
	ItemMetadata  = domain.ItemMetadata
	LayerType     = domain.LayerType
	FrameResult   = domain.FrameResult
	FrameKind     = domain.FrameKind
	AudioResult   = domain.AudioResult
	AudioKind     = domain.AudioKind
	AudioBuffer   = domain.AudioBuffer
	PlaybackState = domain.PlaybackState

	// Player is an interactive playback controller bound to one timeline.
	Player = playback.Controller

	// AudioOutput is the host audio device a Player resumes on Play.
	AudioOutput = playback.AudioOutput
)

const (
	LayerVideo     = domain.LayerVideo
	LayerVoiceover = domain.LayerVoiceover
	LayerMusic     = domain.LayerMusic

	FrameDecoded     = domain.FrameDecoded
	FrameBlack       = domain.FrameBlack
	FrameUnavailable = domain.FrameUnavailable

	AudioDecoded     = domain.AudioDecoded
	AudioSilence     = domain.AudioSilence
	AudioUnavailable = domain.AudioUnavailable
)

var (
	ErrEmptyOutput   = export.ErrEmptyOutput
	ErrEmptyTimeline = export.ErrEmptyTimeline
	ErrUnavailable   = source.ErrUnavailable
	ErrRenderTimeout = errors.New("timed out waiting for export")
)

// Options configures the Session behavior and dependencies.
type Options struct {
	// Storage is required. Holds timelines and rendered exports.
	Storage Storage

	// Coordinator is required. Carries export jobs and status notifications.
	Coordinator Coordinator

	Logger zerolog.Logger

	// FFmpegPath and FFprobePath default to the binaries on PATH.
	FFmpegPath  string
	FFprobePath string

	// HWAccel selects the H.264 encoder: "auto" probes ffmpeg for a device
	// encoder, "" or "none" uses libx264, anything else names an accelerator.
	HWAccel string

	// DecodeTimeout bounds each frame or audio decode. Zero means no limit.
	DecodeTimeout time.Duration

	// RenderTimeout is the longest Render waits for a queued export.
	// Default: 10 minutes.
	RenderTimeout time.Duration

	// Workers is the number of concurrent export jobs. Default: 1.
	Workers int

	// DuckLevel is the music gain under narration. Default: 0.35.
	DuckLevel float64
	// DuckRamp is the duck fade length in seconds. Default: 0.25.
	DuckRamp float64

	ThumbWidth     int
	ThumbHeight    int
	ThumbCacheSize int

	// VideoBitrate and AudioBitrate are in bits per second. Zero picks a
	// bitrate suited to the output format.
	VideoBitrate int
	AudioBitrate int

	// TempDir holds per-export scratch files. Default: os.TempDir.
	TempDir string

	// Opener, AudioDecoder and NewSink replace the ffmpeg-backed media
	// layer when set.
	Opener       domain.Opener
	AudioDecoder domain.AudioDecoder
	NewSink      func() domain.Sink
}

func (o *Options) setDefaults() {
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.FFprobePath == "" {
		o.FFprobePath = "ffprobe"
	}
	if o.RenderTimeout == 0 {
		o.RenderTimeout = 10 * time.Minute
	}
	if o.Workers == 0 {
		o.Workers = 1
	}
}

func (o *Options) validate() {
	if o.Storage == nil {
		panic("splice: Storage is required")
	}
	if o.Coordinator == nil {
		panic("splice: Coordinator is required")
	}
}

// Session owns the decoder cache, thumbnail cache and export workers for one
// editing session. Close releases every decoder it opened.
type Session struct {
	opts     Options
	logger   zerolog.Logger
	cache    *source.Cache
	resolver *resolve.Resolver
	mixer    *mixdown.Engine
	thumbs   *thumbnail.Extractor
	pipeline *export.Pipeline
	pool     *render.Pool
}

// NewSession creates a Session. It panics if Storage or Coordinator is nil.
//
// The export pool is not started; call Start before Render.
func NewSession(opts Options) *Session {
	opts.validate()
	opts.setDefaults()

	logger := opts.Logger
	builder := ffmpeg.NewCommandBuilder(selectEncoder(opts))

	opener := opts.Opener
	if opener == nil {
		opener = decode.NewOpener(probe.NewProber(opts.FFprobePath), builder, decode.Options{FFmpegPath: opts.FFmpegPath}, logger)
	}
	audioDecoder := opts.AudioDecoder
	if audioDecoder == nil {
		audioDecoder = decode.NewAudioDecoder(opts.FFmpegPath, builder, logger)
	}
	newSink := opts.NewSink
	if newSink == nil {
		newSink = func() domain.Sink {
			return mux.NewSink(builder, mux.Options{FFmpegPath: opts.FFmpegPath, TempDir: opts.TempDir}, logger)
		}
	}

	cache := source.NewCache(opener, logger)
	resolver := resolve.NewResolver(cache, audioDecoder, resolve.Options{DecodeTimeout: opts.DecodeTimeout}, logger)
	mixer := mixdown.NewEngine(resolver, mixdown.Options{DuckLevel: opts.DuckLevel, DuckRamp: opts.DuckRamp}, logger)
	pipeline := export.NewPipeline(cache, resolver, mixer, newSink, export.Options{
		Video: domain.VideoTrack{Bitrate: opts.VideoBitrate},
		Audio: domain.AudioTrack{Bitrate: opts.AudioBitrate},
	}, logger)

	pool := render.NewPool(
		opts.Coordinator,
		opts.Workers,
		opts.Storage,
		pipeline,
		exports.NewNotifyingStorage(opts.Storage, opts.Coordinator),
		logger,
	)

	return &Session{
		opts:     opts,
		logger:   logger,
		cache:    cache,
		resolver: resolver,
		mixer:    mixer,
		thumbs: thumbnail.NewExtractor(cache, thumbnail.Options{
			Width:     opts.ThumbWidth,
			Height:    opts.ThumbHeight,
			CacheSize: opts.ThumbCacheSize,
		}, logger),
		pipeline: pipeline,
		pool:     pool,
	}
}

func selectEncoder(opts Options) *domain.HWAccelConfig {
	switch opts.HWAccel {
	case "", string(domain.AccelNone):
		return hwaccel.NewConfig(domain.AccelNone)
	case "auto":
		return hwaccel.DetectBest(context.Background(), opts.FFmpegPath)
	default:
		return hwaccel.NewConfig(domain.Accelerator(opts.HWAccel))
	}
}

// Start launches the export workers. The context bounds their lifetime.
func (s *Session) Start(ctx context.Context) error {
	if err := s.pool.Start(ctx); err != nil {
		return fmt.Errorf("start export pool: %w", err)
	}
	return nil
}

// Stop waits for running export jobs to finish or observe cancellation.
func (s *Session) Stop() {
	s.pool.Stop()
}

// Export renders layers directly, without the job queue.
func (s *Session) Export(ctx context.Context, layers []Layer, progress func(int)) ([]byte, error) {
	return s.pipeline.Export(ctx, layers, progress)
}

// Render returns the MP4 for the scenario's stored timeline. A previous
// export of an identical timeline is returned as is; otherwise a job is
// queued and Render waits up to RenderTimeout for it, forwarding progress.
func (s *Session) Render(ctx context.Context, scenarioID string, progress func(int)) ([]byte, error) {
	layers, err := s.opts.Storage.LoadTimeline(ctx, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("load timeline: %w", err)
	}
	if timeline.TotalDuration(layers) <= 0 {
		return nil, ErrEmptyTimeline
	}
	hash, err := timeline.Hash(layers)
	if err != nil {
		return nil, err
	}
	key := domain.ExportKey{ScenarioID: scenarioID, TimelineHash: hash}

	if data, ok, err := s.cachedExport(ctx, key); err != nil || ok {
		return data, err
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	statusCh, err := s.opts.Coordinator.WaitExport(waitCtx, key)
	if err != nil {
		return nil, fmt.Errorf("wait export: %w", err)
	}

	// a worker may have finished between the first check and WaitExport
	if data, ok, err := s.cachedExport(ctx, key); err != nil || ok {
		return data, err
	}

	job := domain.Job{ID: uuid.New().String(), Key: key}
	if err := s.opts.Coordinator.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	s.logger.Debug().Str("job", job.ID).Str("scenario", scenarioID).Msg("export queued")

	timer := time.NewTimer(s.opts.RenderTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrRenderTimeout
		case status, ok := <-statusCh:
			if !ok {
				return nil, fmt.Errorf("export %s: coordinator closed", job.ID)
			}
			switch status.State {
			case domain.ExportStateProgress:
				if progress != nil {
					progress(status.Progress)
				}
			case domain.ExportStateReady:
				if progress != nil {
					progress(100)
				}
				return s.opts.Storage.ReadExport(ctx, key)
			default:
				return nil, exportError(status.Error)
			}
		}
	}
}

func (s *Session) cachedExport(ctx context.Context, key domain.ExportKey) ([]byte, bool, error) {
	exists, err := s.opts.Storage.ExportExists(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("check export: %w", err)
	}
	if !exists {
		return nil, false, nil
	}
	data, err := s.opts.Storage.ReadExport(ctx, key)
	return data, err == nil, err
}

// exportError restores the sentinel identity lost when a worker error is
// carried as text through the coordinator.
func exportError(msg string) error {
	for _, sentinel := range []error{ErrEmptyOutput, ErrEmptyTimeline} {
		if msg == sentinel.Error() {
			return sentinel
		}
	}
	return fmt.Errorf("export failed: %s", msg)
}

// SaveTimeline validates layers and stores them for scenarioID.
func (s *Session) SaveTimeline(ctx context.Context, scenarioID string, layers []Layer) error {
	if err := timeline.Validate(layers); err != nil {
		return err
	}
	return s.opts.Storage.SaveTimeline(ctx, scenarioID, layers)
}

// FrameAt resolves the preview frame at master time t, clamped to the
// timeline. The active clip is read at t - StartTime + TrimStart.
func (s *Session) FrameAt(ctx context.Context, layers []Layer, t float64) FrameResult {
	return s.resolver.Frame(ctx, layers, timeline.Clamp(t, timeline.TotalDuration(layers)))
}

// Thumbnails returns up to count evenly spaced thumbnails of uri. A
// non-positive duration is replaced by the probed media duration.
func (s *Session) Thumbnails(ctx context.Context, uri string, count int, duration float64) []image.Image {
	if duration <= 0 {
		h, err := s.cache.Acquire(ctx, uri)
		if err != nil {
			return nil
		}
		duration = h.Decoder().Info().Duration
		h.Release()
	}
	return s.thumbs.Extract(ctx, uri, count, duration)
}

// NewPlayer returns a paused Player for layers. audio may be nil. Frames
// and mixed audio windows for the playhead are delivered through the
// Player's OnFrame and OnAudio hooks.
func (s *Session) NewPlayer(layers []Layer, audio AudioOutput) *Player {
	return playback.NewController(layers, playback.Options{
		Audio:   audio,
		Frames:  s.resolver,
		Samples: s.mixer,
		Logger:  s.logger,
	})
}

// ClearCache closes idle decoders and drops cached thumbnails and decoded
// audio, including sources remembered as undecodable. Decoders in use by a
// running export are closed when that export releases them.
func (s *Session) ClearCache() {
	s.cache.Clear()
	s.resolver.Clear()
	s.thumbs.Clear()
}

// Close stops the export workers and releases every cached resource.
func (s *Session) Close() {
	s.Stop()
	s.ClearCache()
}
