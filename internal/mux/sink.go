package mux

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eleven-am/splice/internal/domain"
	"github.com/eleven-am/splice/internal/ffmpeg"
)

var (
	ErrOutOfOrder   = errors.New("frame timestamp not increasing")
	ErrNoAudio      = errors.New("audio must be written before the first frame")
	ErrFrameSize    = errors.New("frame size does not match video track")
	ErrInvalidState = errors.New("sink in invalid state")
)

type State int

const (
	StateIdle State = iota
	StateOpen
	StateEncoding
	StateDone
	StateError
)

type Options struct {
	FFmpegPath string
	// TempDir is the parent for per-export scratch directories. Empty means os.TempDir.
	TempDir string
}

// Sink encodes frames with an ffmpeg child process. Audio is spooled to a
// float32 file before the process starts; frames are piped as raw RGBA at
// the track's constant frame rate.
type Sink struct {
	opts    Options
	builder *ffmpeg.CommandBuilder
	logger  zerolog.Logger

	mu        sync.Mutex
	state     State
	err       error
	ctx       context.Context
	cancel    context.CancelFunc
	video     domain.VideoTrack
	audio     domain.AudioTrack
	tmpDir    string
	audioPath string
	outPath   string
	hasAudio  bool
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stderr    bytes.Buffer
	frames    int
	lastTS    float64
}

func NewSink(builder *ffmpeg.CommandBuilder, opts Options, logger zerolog.Logger) *Sink {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	return &Sink{
		opts:    opts,
		builder: builder,
		logger:  logger.With().Str("component", "mux").Logger(),
	}
}

func (s *Sink) Start(ctx context.Context, video domain.VideoTrack, audio domain.AudioTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("start: %w", ErrInvalidState)
	}

	tmpDir, err := os.MkdirTemp(s.opts.TempDir, "splice-export-*")
	if err != nil {
		return s.failLocked(fmt.Errorf("create temp dir: %w", err))
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.video = video
	s.audio = audio
	s.tmpDir = tmpDir
	s.audioPath = filepath.Join(tmpDir, "mix.f32")
	s.outPath = filepath.Join(tmpDir, "out.mp4")
	s.state = StateOpen
	return nil
}

// WriteAudio spools the whole mix. It may only be called before the first frame.
func (s *Sink) WriteAudio(buf domain.AudioBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return fmt.Errorf("write audio: %w", ErrInvalidState)
	}
	if buf.SampleRate != s.audio.SampleRate || buf.Channels != s.audio.Channels {
		return fmt.Errorf("audio format %d/%d does not match track %d/%d",
			buf.SampleRate, buf.Channels, s.audio.SampleRate, s.audio.Channels)
	}

	f, err := os.Create(s.audioPath)
	if err != nil {
		return s.failLocked(fmt.Errorf("create audio spool: %w", err))
	}
	w := bufio.NewWriter(f)
	var b [4]byte
	for _, v := range buf.Samples {
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		if _, err := w.Write(b[:]); err != nil {
			f.Close()
			return s.failLocked(fmt.Errorf("write audio spool: %w", err))
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return s.failLocked(fmt.Errorf("flush audio spool: %w", err))
	}
	if err := f.Close(); err != nil {
		return s.failLocked(fmt.Errorf("close audio spool: %w", err))
	}

	s.hasAudio = true
	return nil
}

// WriteFrame appends img at timestamp. Timestamps must strictly increase.
func (s *Sink) WriteFrame(img *image.RGBA, timestamp, duration float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateOpen:
		if !s.hasAudio {
			return ErrNoAudio
		}
		if err := s.launchLocked(); err != nil {
			return s.failLocked(err)
		}
	case StateEncoding:
		if timestamp <= s.lastTS {
			return fmt.Errorf("%w: %.6f after %.6f", ErrOutOfOrder, timestamp, s.lastTS)
		}
	default:
		return fmt.Errorf("write frame: %w", ErrInvalidState)
	}

	b := img.Bounds()
	if b.Dx() != s.video.Width || b.Dy() != s.video.Height {
		return fmt.Errorf("%w: got %dx%d", ErrFrameSize, b.Dx(), b.Dy())
	}

	if err := writeRGBA(s.stdin, img); err != nil {
		s.stdin.Close()
		s.cmd.Wait()
		return s.failLocked(fmt.Errorf("write frame %d: %w%s", s.frames, err, s.stderrSuffix()))
	}

	s.frames++
	s.lastTS = timestamp
	return nil
}

func (s *Sink) launchLocked() error {
	args := s.builder.Mux(ffmpeg.MuxParams{
		Video:      s.video,
		Audio:      s.audio,
		AudioPath:  s.audioPath,
		OutputPath: s.outPath,
	})

	s.cmd = exec.CommandContext(s.ctx, s.opts.FFmpegPath, args...)
	s.cmd.Stderr = &s.stderr

	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	s.stdin = stdin
	s.state = StateEncoding
	s.logger.Debug().Str("cmd", ffmpeg.Describe(s.opts.FFmpegPath, args)).Msg("encoder started")
	return nil
}

func writeRGBA(w io.Writer, img *image.RGBA) error {
	b := img.Bounds()
	rowLen := b.Dx() * 4
	if img.Stride == rowLen && b.Min == (image.Point{}) {
		_, err := w.Write(img.Pix[:rowLen*b.Dy()])
		return err
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		if _, err := w.Write(img.Pix[off : off+rowLen]); err != nil {
			return err
		}
	}
	return nil
}

// Finalize closes the encoder and returns the container bytes. A sink that
// never received a frame returns no bytes.
func (s *Sink) Finalize() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.cleanupLocked()

	switch s.state {
	case StateOpen:
		s.state = StateDone
		return nil, nil
	case StateEncoding:
	default:
		if s.err != nil {
			return nil, s.err
		}
		return nil, fmt.Errorf("finalize: %w", ErrInvalidState)
	}

	closeErr := s.stdin.Close()
	waitErr := s.cmd.Wait()
	if waitErr != nil {
		return nil, s.failLocked(fmt.Errorf("ffmpeg exited: %w%s", waitErr, s.stderrSuffix()))
	}
	if closeErr != nil {
		return nil, s.failLocked(fmt.Errorf("close stdin: %w", closeErr))
	}

	data, err := os.ReadFile(s.outPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, s.failLocked(fmt.Errorf("read output: %w", err))
	}

	s.state = StateDone
	s.logger.Debug().Int("frames", s.frames).Int("bytes", len(data)).Msg("encoder finished")
	return data, nil
}

// Abort kills the encoder and removes scratch files.
func (s *Sink) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.state == StateEncoding {
		s.stdin.Close()
		s.cmd.Wait()
	}
	if s.state != StateDone && s.state != StateError {
		s.state = StateError
		s.err = context.Canceled
	}
	s.cleanupLocked()
}

func (s *Sink) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sink) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *Sink) failLocked(err error) error {
	s.state = StateError
	s.err = err
	return err
}

func (s *Sink) cleanupLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.tmpDir != "" {
		os.RemoveAll(s.tmpDir)
		s.tmpDir = ""
	}
}

// stderrSuffix must only be called after the process has been waited on.
func (s *Sink) stderrSuffix() string {
	msg := bytes.TrimSpace(s.stderr.Bytes())
	if len(msg) == 0 {
		return ""
	}
	if len(msg) > 512 {
		msg = msg[len(msg)-512:]
	}
	return ": " + string(msg)
}
