package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/eleven-am/splice/internal/domain"
)

var quietFlags = []string{"-nostats", "-hide_banner", "-loglevel", "warning"}

type CommandBuilder struct {
	HWAccel *domain.HWAccelConfig
}

func NewCommandBuilder(hwAccel *domain.HWAccelConfig) *CommandBuilder {
	return &CommandBuilder{HWAccel: hwAccel}
}

type FrameStreamParams struct {
	InputURL string
	Start    float64
	Width    int
	Height   int
	FPS      int
}

// FrameStream decodes the first video stream from Start onwards as packed RGBA
// frames of Width*Height*4 bytes on stdout, resampled to FPS.
func (b *CommandBuilder) FrameStream(p FrameStreamParams) []string {
	args := append([]string{}, quietFlags...)

	if p.Start > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.6f", p.Start))
	}

	args = append(args,
		"-i", p.InputURL,
		"-map", "0:v:0",
		"-an", "-sn",
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d:flags=bilinear", p.FPS, p.Width, p.Height),
		"-pix_fmt", "rgba",
		"-f", "rawvideo",
		"pipe:1",
	)

	return args
}

type AudioDecodeParams struct {
	InputURL   string
	SampleRate int
	Channels   int
}

// DecodeAudio decodes the first audio stream in full as interleaved float32 little endian.
func (b *CommandBuilder) DecodeAudio(p AudioDecodeParams) []string {
	args := append([]string{}, quietFlags...)

	return append(args,
		"-i", p.InputURL,
		"-map", "0:a:0",
		"-vn", "-sn",
		"-ac", fmt.Sprintf("%d", p.Channels),
		"-ar", fmt.Sprintf("%d", p.SampleRate),
		"-f", "f32le",
		"pipe:1",
	)
}

type MuxParams struct {
	Video      domain.VideoTrack
	Audio      domain.AudioTrack
	AudioPath  string
	OutputPath string
}

// Mux reads raw RGBA frames from stdin and a float32 PCM file and writes an MP4.
func (b *CommandBuilder) Mux(p MuxParams) []string {
	args := append([]string{}, quietFlags...)
	args = append(args, "-y")
	args = append(args, b.HWAccel.DeviceFlags...)

	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", p.Video.Width, p.Video.Height),
		"-framerate", fmt.Sprintf("%d", p.Video.FPS),
		"-i", "pipe:0",
		"-f", "f32le",
		"-ar", fmt.Sprintf("%d", p.Audio.SampleRate),
		"-ac", fmt.Sprintf("%d", p.Audio.Channels),
		"-i", p.AudioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
	)

	args = append(args, b.videoEncodeArgs(p.Video)...)
	args = append(args, audioEncodeArgs(p.Audio)...)

	return append(args,
		"-movflags", "+faststart",
		"-f", "mp4",
		p.OutputPath,
	)
}

func (b *CommandBuilder) videoEncodeArgs(v domain.VideoTrack) []string {
	args := make([]string, 0, len(b.HWAccel.EncodeFlags)+8)
	if b.HWAccel.UploadFilter != "" {
		args = append(args, "-vf", b.HWAccel.UploadFilter)
	}
	args = append(args, b.HWAccel.EncodeFlags...)

	if v.Bitrate > 0 {
		args = append(args,
			"-b:v", fmt.Sprintf("%d", v.Bitrate),
			"-maxrate", fmt.Sprintf("%d", int(float64(v.Bitrate)*1.5)),
			"-bufsize", fmt.Sprintf("%d", v.Bitrate*2),
		)
	}

	return append(args, "-r", fmt.Sprintf("%d", v.FPS))
}

func audioEncodeArgs(a domain.AudioTrack) []string {
	args := []string{"-c:a", "aac"}
	if a.Bitrate > 0 {
		args = append(args, "-b:a", fmt.Sprintf("%d", a.Bitrate))
	}
	return append(args,
		"-ar", fmt.Sprintf("%d", a.SampleRate),
		"-ac", fmt.Sprintf("%d", a.Channels),
	)
}

// Describe renders args for log lines.
func Describe(binary string, args []string) string {
	return binary + " " + strings.Join(args, " ")
}
