package decode

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/eleven-am/splice/internal/domain"
	"github.com/eleven-am/splice/internal/ffmpeg"
	"github.com/eleven-am/splice/internal/hwaccel"
	"github.com/eleven-am/splice/internal/probe"
)

// fakeFFmpeg emits ten 4x2 RGBA frames whose bytes are 'A'..'J' for frame
// streams, and 70 zero bytes for audio decodes. Every call is logged.
const fakeFFmpeg = `#!/bin/sh
echo "$*" >> "$SPLICE_FAKE_LOG"
case "$*" in
*rawvideo*)
  for c in A B C D E F G H I J; do
    j=0
    while [ $j -lt 32 ]; do printf %s "$c"; j=$((j+1)); done
  done
  exit 0 ;;
*f32le*)
  case "$*" in *broken*) echo "Invalid data found when processing input" >&2; exit 1 ;; esac
  head -c 70 /dev/zero
  exit 0 ;;
esac
exit 1
`

const fakeFFprobe = `#!/bin/sh
case "$*" in
*song*) echo '{"streams":[{"index":0,"codec_type":"audio"}],"format":{"duration":"3.0"}}' ;;
*) echo '{"streams":[{"index":0,"codec_type":"video","width":4,"height":2,"r_frame_rate":"30/1"}],"format":{"duration":"10.0"}}' ;;
esac
`

type fixture struct {
	opener *Opener
	audio  *AudioDecoder
	log    string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	ffmpegPath := filepath.Join(dir, "ffmpeg")
	ffprobePath := filepath.Join(dir, "ffprobe")
	if err := os.WriteFile(ffmpegPath, []byte(fakeFFmpeg), 0755); err != nil {
		t.Fatalf("write ffmpeg stub: %v", err)
	}
	if err := os.WriteFile(ffprobePath, []byte(fakeFFprobe), 0755); err != nil {
		t.Fatalf("write ffprobe stub: %v", err)
	}
	logPath := filepath.Join(dir, "calls.log")
	t.Setenv("SPLICE_FAKE_LOG", logPath)

	builder := ffmpeg.NewCommandBuilder(hwaccel.NewConfig(domain.AccelNone))
	opener := NewOpener(probe.NewProber(ffprobePath), builder, Options{
		FFmpegPath: ffmpegPath,
		Width:      4,
		Height:     2,
		FPS:        30,
	}, zerolog.Nop())

	return fixture{
		opener: opener,
		audio:  NewAudioDecoder(ffmpegPath, builder, zerolog.Nop()),
		log:    logPath,
	}
}

func (f fixture) calls(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(f.log)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		t.Fatalf("read call log: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func firstByte(t *testing.T, img image.Image) byte {
	t.Helper()
	rgba, ok := img.(*image.RGBA)
	if !ok {
		t.Fatalf("expected *image.RGBA, got %T", img)
	}
	if rgba.Bounds().Dx() != 4 || rgba.Bounds().Dy() != 2 {
		t.Fatalf("unexpected frame bounds %v", rgba.Bounds())
	}
	return rgba.Pix[0]
}

func TestOpenRejectsSourcesWithoutVideo(t *testing.T) {
	f := newFixture(t)
	_, err := f.opener.Open(context.Background(), "https://cdn/song.mp3")
	if !errors.Is(err, probe.ErrNoVideo) {
		t.Fatalf("expected ErrNoVideo, got %v", err)
	}
}

func TestFrameAtReadsForwardWithoutRestarting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dec, err := f.opener.Open(ctx, "https://cdn/a.mp4")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dec.Close()

	if dec.Info().Duration != 10 {
		t.Fatalf("unexpected info %#v", dec.Info())
	}

	want := []struct {
		at   float64
		byte byte
	}{
		{0, 'A'},
		{1.0 / 30, 'B'},
		{1.0 / 30, 'B'},
		{4.0 / 30, 'E'},
	}
	for _, w := range want {
		img, err := dec.FrameAt(ctx, w.at)
		if err != nil {
			t.Fatalf("frame at %v: %v", w.at, err)
		}
		if got := firstByte(t, img); got != w.byte {
			t.Fatalf("frame at %v: expected %c, got %c", w.at, w.byte, got)
		}
	}

	if n := len(f.calls(t)); n != 1 {
		t.Fatalf("sequential reads should share one process, got %d", n)
	}
}

func TestFrameAtRestartsOnBackwardSeek(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dec, err := f.opener.Open(ctx, "https://cdn/a.mp4")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dec.Close()

	if _, err := dec.FrameAt(ctx, 3.0/30); err != nil {
		t.Fatalf("frame: %v", err)
	}
	img, err := dec.FrameAt(ctx, 1.0/30)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if got := firstByte(t, img); got != 'A' {
		t.Fatalf("restarted stream should begin at its seek point, got %c", got)
	}

	calls := f.calls(t)
	if len(calls) != 2 {
		t.Fatalf("expected a restart, got %d calls", len(calls))
	}
	if !strings.Contains(calls[1], "-ss 0.033333") {
		t.Fatalf("restart should seek to the requested time: %s", calls[1])
	}
}

func TestFrameAtHoldsLastFrameAtEndOfStream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dec, err := f.opener.Open(ctx, "https://cdn/a.mp4")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dec.Close()

	if _, err := dec.FrameAt(ctx, 0); err != nil {
		t.Fatalf("frame: %v", err)
	}
	img, err := dec.FrameAt(ctx, 1.5)
	if err != nil {
		t.Fatalf("expected last frame to be held, got %v", err)
	}
	if got := firstByte(t, img); got != 'J' {
		t.Fatalf("expected final frame J, got %c", got)
	}
}

func TestFrameAtAfterCloseFails(t *testing.T) {
	f := newFixture(t)
	dec, err := f.opener.Open(context.Background(), "https://cdn/a.mp4")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = dec.Close()

	if _, err := dec.FrameAt(context.Background(), 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestFrameAtHonoursCancelledContext(t *testing.T) {
	f := newFixture(t)
	dec, err := f.opener.Open(context.Background(), "https://cdn/a.mp4")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dec.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := dec.FrameAt(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDecodeAudioTruncatesPartialFrames(t *testing.T) {
	f := newFixture(t)

	buf, err := f.audio.DecodeAudio(context.Background(), "https://cdn/b.mp3", 48000, 2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.SampleRate != 48000 || buf.Channels != 2 {
		t.Fatalf("unexpected format %#v", buf)
	}
	if len(buf.Samples) != 16 || buf.Frames() != 8 {
		t.Fatalf("expected 16 samples / 8 frames, got %d / %d", len(buf.Samples), buf.Frames())
	}
}

func TestDecodeAudioSurfacesFFmpegErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.audio.DecodeAudio(context.Background(), "https://cdn/broken.mp3", 48000, 2)
	if err == nil || !strings.Contains(err.Error(), "Invalid data") {
		t.Fatalf("expected ffmpeg stderr in error, got %v", err)
	}
}
