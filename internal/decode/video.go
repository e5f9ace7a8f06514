package decode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eleven-am/splice/internal/domain"
	"github.com/eleven-am/splice/internal/ffmpeg"
	"github.com/eleven-am/splice/internal/probe"
)

const defaultMaxSkip = 2.0

type Options struct {
	FFmpegPath string
	Width      int
	Height     int
	FPS        int
	// MaxSkip is how far ahead, in seconds, a request may land and still be
	// served by reading through the open stream instead of reseeking.
	MaxSkip float64
}

func (o *Options) setDefaults() {
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.Width == 0 {
		o.Width = domain.OutputWidth
	}
	if o.Height == 0 {
		o.Height = domain.OutputHeight
	}
	if o.FPS == 0 {
		o.FPS = domain.OutputFPS
	}
	if o.MaxSkip == 0 {
		o.MaxSkip = defaultMaxSkip
	}
}

type Opener struct {
	prober  *probe.Prober
	builder *ffmpeg.CommandBuilder
	opts    Options
	logger  zerolog.Logger
}

func NewOpener(prober *probe.Prober, builder *ffmpeg.CommandBuilder, opts Options, logger zerolog.Logger) *Opener {
	opts.setDefaults()
	return &Opener{
		prober:  prober,
		builder: builder,
		opts:    opts,
		logger:  logger.With().Str("component", "decoder").Logger(),
	}
}

func (o *Opener) Open(ctx context.Context, uri string) (domain.Decoder, error) {
	info, err := o.prober.Probe(ctx, uri)
	if err != nil {
		return nil, err
	}
	if !info.HasVideo {
		return nil, fmt.Errorf("%s: %w", uri, probe.ErrNoVideo)
	}

	o.logger.Debug().
		Str("uri", uri).
		Float64("duration", info.Duration).
		Int("width", info.Width).
		Int("height", info.Height).
		Msg("opened video source")

	return &VideoDecoder{
		info:    info,
		builder: o.builder,
		opts:    o.opts,
		logger:  o.logger.With().Str("uri", uri).Logger(),
	}, nil
}

// VideoDecoder serves frames of one source from a long-lived ffmpeg process
// that emits raw RGBA at a fixed rate. Requests moving forward reuse the
// process; backward or distant requests restart it at the new position.
type VideoDecoder struct {
	info    domain.MediaInfo
	builder *ffmpeg.CommandBuilder
	opts    Options
	logger  zerolog.Logger

	mu     sync.Mutex
	stream *frameStream
	closed bool
}

var ErrClosed = errors.New("decoder closed")

func (d *VideoDecoder) Info() domain.MediaInfo {
	return d.info
}

func (d *VideoDecoder) FrameAt(ctx context.Context, seconds float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	seconds = d.clamp(seconds)
	fps := float64(d.opts.FPS)
	maxSkip := int(math.Round(d.opts.MaxSkip * fps))

	s := d.stream
	if s != nil {
		idx := int(math.Round((seconds - s.start) * fps))
		switch {
		case idx == s.lastIndex && s.last != nil:
			return s.last, nil
		case idx >= s.next && idx-s.next <= maxSkip:
			return d.readTo(ctx, s, idx)
		}
		s.stop()
		d.stream = nil
	}

	s, err := d.startStream(seconds)
	if err != nil {
		return nil, err
	}
	d.stream = s
	return d.readTo(ctx, s, 0)
}

func (d *VideoDecoder) clamp(seconds float64) float64 {
	if seconds < 0 {
		return 0
	}
	if d.info.Duration > 0 {
		limit := d.info.Duration - 1/float64(d.opts.FPS)
		if seconds > limit {
			return math.Max(0, limit)
		}
	}
	return seconds
}

func (d *VideoDecoder) startStream(start float64) (*frameStream, error) {
	args := d.builder.FrameStream(ffmpeg.FrameStreamParams{
		InputURL: d.info.URI,
		Start:    start,
		Width:    d.opts.Width,
		Height:   d.opts.Height,
		FPS:      d.opts.FPS,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, d.opts.FFmpegPath, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	d.logger.Debug().Float64("start", start).Msg("frame stream started")

	return &frameStream{
		cmd:       cmd,
		stdout:    stdout,
		stderr:    stderr,
		cancel:    cancel,
		start:     start,
		frameSize: d.opts.Width * d.opts.Height * 4,
		width:     d.opts.Width,
		height:    d.opts.Height,
		lastIndex: -1,
	}, nil
}

// readTo advances s until frame idx has been decoded. Frames before idx are
// read into a scratch buffer and dropped.
func (d *VideoDecoder) readTo(ctx context.Context, s *frameStream, idx int) (image.Image, error) {
	stopWatch := context.AfterFunc(ctx, s.stop)
	defer stopWatch()

	for s.next <= idx {
		var buf []byte
		if s.next == idx {
			buf = make([]byte, s.frameSize)
		} else {
			if s.scratch == nil {
				s.scratch = make([]byte, s.frameSize)
			}
			buf = s.scratch
		}

		if _, err := io.ReadFull(s.stdout, buf); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				d.dropStream(s)
				return nil, ctxErr
			}
			if s.last != nil && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
				// ran off the end of the source; hold the final frame
				return s.last, nil
			}
			detail := strings.TrimSpace(s.stderr.String())
			d.dropStream(s)
			if detail != "" {
				return nil, fmt.Errorf("read frame %d: %w: %s", idx, err, detail)
			}
			return nil, fmt.Errorf("read frame %d: %w", idx, err)
		}

		if s.next == idx {
			s.last = &image.RGBA{
				Pix:    buf,
				Stride: s.width * 4,
				Rect:   image.Rect(0, 0, s.width, s.height),
			}
			s.lastIndex = idx
		}
		s.next++
	}

	return s.last, nil
}

func (d *VideoDecoder) dropStream(s *frameStream) {
	s.stop()
	if d.stream == s {
		d.stream = nil
	}
}

func (d *VideoDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	if d.stream != nil {
		d.stream.stop()
		d.stream = nil
	}
	return nil
}

type frameStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	cancel context.CancelFunc

	start     float64
	frameSize int
	width     int
	height    int

	next      int
	last      *image.RGBA
	lastIndex int
	scratch   []byte

	stopOnce sync.Once
}

func (s *frameStream) stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		_ = s.stdout.Close()
		_ = s.cmd.Wait()
	})
}
