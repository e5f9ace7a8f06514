package decode

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eleven-am/splice/internal/domain"
	"github.com/eleven-am/splice/internal/ffmpeg"
)

var ErrNoAudio = errors.New("no audio decoded")

// AudioDecoder decodes whole sources to float32 PCM. Trimming happens at mix
// time, so one decode serves every trim of the same source.
type AudioDecoder struct {
	binary  string
	builder *ffmpeg.CommandBuilder
	logger  zerolog.Logger
}

func NewAudioDecoder(ffmpegPath string, builder *ffmpeg.CommandBuilder, logger zerolog.Logger) *AudioDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &AudioDecoder{
		binary:  ffmpegPath,
		builder: builder,
		logger:  logger.With().Str("component", "audio-decoder").Logger(),
	}
}

func (d *AudioDecoder) DecodeAudio(ctx context.Context, uri string, sampleRate, channels int) (domain.AudioBuffer, error) {
	args := d.builder.DecodeAudio(ffmpeg.AudioDecodeParams{
		InputURL:   uri,
		SampleRate: sampleRate,
		Channels:   channels,
	})

	d.logger.Debug().Str("cmd", ffmpeg.Describe(d.binary, args)).Msg("decoding audio")

	output, err := exec.CommandContext(ctx, d.binary, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return domain.AudioBuffer{}, fmt.Errorf("decode %s: %w: %s", uri, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return domain.AudioBuffer{}, fmt.Errorf("decode %s: %w", uri, err)
	}

	frameBytes := 4 * channels
	usable := len(output) - len(output)%frameBytes
	if usable == 0 {
		return domain.AudioBuffer{}, fmt.Errorf("decode %s: %w", uri, ErrNoAudio)
	}

	samples := make([]float32, usable/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(output[i*4:]))
	}

	return domain.AudioBuffer{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    samples,
	}, nil
}
