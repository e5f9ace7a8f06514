package ffmpeg

import (
	"strings"
	"testing"

	"github.com/eleven-am/splice/internal/domain"
)

var testHW = &domain.HWAccelConfig{
	Accelerator:  domain.AccelNone,
	EncodeFlags:  []string{"-c:v", "libx264"},
	Encoder:      "libx264",
	UploadFilter: "format=yuv420p",
	PixelFormat:  "yuv420p",
}

func TestFrameStream_SeeksBeforeInputAndEmitsRawRGBA(t *testing.T) {
	builder := NewCommandBuilder(testHW)
	args := builder.FrameStream(FrameStreamParams{
		InputURL: "https://cdn/a.mp4",
		Start:    12.5,
		Width:    1920,
		Height:   1080,
		FPS:      30,
	})

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-ss 12.500000 -i https://cdn/a.mp4") {
		t.Fatalf("expected input seek before -i, got %s", joined)
	}
	if !strings.Contains(joined, "-vf fps=30,scale=1920:1080:flags=bilinear") {
		t.Fatalf("missing fps/scale filter: %s", joined)
	}
	if !strings.HasSuffix(joined, "-pix_fmt rgba -f rawvideo pipe:1") {
		t.Fatalf("expected raw rgba on stdout, got %s", joined)
	}
}

func TestFrameStream_OmitsSeekAtZero(t *testing.T) {
	builder := NewCommandBuilder(testHW)
	args := builder.FrameStream(FrameStreamParams{InputURL: "a.mp4", Width: 4, Height: 2, FPS: 30})

	for _, a := range args {
		if a == "-ss" {
			t.Fatalf("unexpected seek for zero start: %v", args)
		}
	}
}

func TestDecodeAudio_ResamplesToFloat32(t *testing.T) {
	builder := NewCommandBuilder(testHW)
	args := builder.DecodeAudio(AudioDecodeParams{InputURL: "b.mp3", SampleRate: 48000, Channels: 2})

	joined := strings.Join(args, " ")
	for _, want := range []string{"-i b.mp3", "-ac 2", "-ar 48000", "-f f32le pipe:1"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q in %s", want, joined)
		}
	}
}

func TestMux_WiresRawVideoAndPCMInputs(t *testing.T) {
	builder := NewCommandBuilder(testHW)
	args := builder.Mux(MuxParams{
		Video:      domain.VideoTrack{Width: 1920, Height: 1080, FPS: 30, Bitrate: 8_000_000},
		Audio:      domain.AudioTrack{SampleRate: 48000, Channels: 2, Bitrate: 192_000},
		AudioPath:  "/tmp/x/audio.f32",
		OutputPath: "/tmp/x/out.mp4",
	})

	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-f rawvideo -pix_fmt rgba -s 1920x1080 -framerate 30 -i pipe:0",
		"-f f32le -ar 48000 -ac 2 -i /tmp/x/audio.f32",
		"-map 0:v:0 -map 1:a:0",
		"-vf format=yuv420p -c:v libx264",
		"-b:v 8000000 -maxrate 12000000 -bufsize 16000000",
		"-c:a aac -b:a 192000",
		"-movflags +faststart -f mp4 /tmp/x/out.mp4",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q in %s", want, joined)
		}
	}
}

func TestMux_IncludesDeviceFlagsBeforeInputs(t *testing.T) {
	hw := &domain.HWAccelConfig{
		Accelerator:  domain.AccelVAAPI,
		DeviceFlags:  []string{"-vaapi_device", "/dev/dri/renderD128"},
		EncodeFlags:  []string{"-c:v", "h264_vaapi"},
		UploadFilter: "format=nv12,hwupload",
	}
	args := NewCommandBuilder(hw).Mux(MuxParams{
		Video:      domain.VideoTrack{Width: 8, Height: 8, FPS: 30},
		Audio:      domain.AudioTrack{SampleRate: 48000, Channels: 2},
		AudioPath:  "a.f32",
		OutputPath: "o.mp4",
	})

	joined := strings.Join(args, " ")
	dev := strings.Index(joined, "-vaapi_device")
	input := strings.Index(joined, "-i pipe:0")
	if dev < 0 || input < 0 || dev > input {
		t.Fatalf("device flags must precede inputs: %s", joined)
	}
	if strings.Contains(joined, "-b:v") {
		t.Fatalf("zero bitrate should leave rate control to the encoder: %s", joined)
	}
}
