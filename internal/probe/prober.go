package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/eleven-am/splice/internal/domain"
)

var ErrNoVideo = errors.New("no video stream")

type Prober struct {
	binary string
}

func NewProber(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{binary: ffprobePath}
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	Index       int         `json:"index"`
	CodecName   string      `json:"codec_name"`
	CodecType   string      `json:"codec_type"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	RFrameRate  string      `json:"r_frame_rate"`
	Duration    string      `json:"duration"`
	Disposition ffprobeDisp `json:"disposition"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeDisp struct {
	AttachedPic int `json:"attached_pic"`
}

func (p *Prober) Probe(ctx context.Context, uri string) (domain.MediaInfo, error) {
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		uri,
	)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return domain.MediaInfo{}, fmt.Errorf("ffprobe %s: %w: %s", uri, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return domain.MediaInfo{}, fmt.Errorf("ffprobe %s: %w", uri, err)
	}

	return parse(uri, output)
}

func parse(uri string, output []byte) (domain.MediaInfo, error) {
	var ff ffprobeOutput
	if err := json.Unmarshal(output, &ff); err != nil {
		return domain.MediaInfo{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	info := domain.MediaInfo{URI: uri}
	info.Duration = parseSeconds(ff.Format.Duration)

	for _, s := range ff.Streams {
		switch s.CodecType {
		case "video":
			// cover art in audio files shows up as a single-frame video stream
			if info.HasVideo || s.Disposition.AttachedPic == 1 {
				continue
			}
			info.HasVideo = true
			info.Width = s.Width
			info.Height = s.Height
			info.FrameRate = parseFrameRate(s.RFrameRate)
			if info.Duration == 0 {
				info.Duration = parseSeconds(s.Duration)
			}
		case "audio":
			info.HasAudio = true
			if info.Duration == 0 {
				info.Duration = parseSeconds(s.Duration)
			}
		}
	}

	return info, nil
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func parseFrameRate(s string) float64 {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}
