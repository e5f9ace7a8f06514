package hwaccel

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/eleven-am/splice/internal/domain"
)

var deviceEncoders = map[domain.Accelerator]string{
	domain.AccelCUDA:         "h264_nvenc",
	domain.AccelVideoToolbox: "h264_videotoolbox",
	domain.AccelVAAPI:        "h264_vaapi",
	domain.AccelQSV:          "h264_qsv",
}

// Detect lists the accelerators that have both a working hwaccel method and an
// H.264 encoder in the given ffmpeg build. AccelNone is always last.
func Detect(ctx context.Context, ffmpegPath string) ([]domain.Accelerator, error) {
	hwaccels, err := listHWAccels(ctx, ffmpegPath)
	if err != nil {
		return nil, err
	}

	encoders, err := listEncoders(ctx, ffmpegPath)
	if err != nil {
		return nil, err
	}

	var available []domain.Accelerator
	for _, accel := range priority {
		if hwaccels[string(accel)] && encoders[deviceEncoders[accel]] {
			available = append(available, accel)
		}
	}

	return append(available, domain.AccelNone), nil
}

var priority = []domain.Accelerator{domain.AccelCUDA, domain.AccelQSV, domain.AccelVideoToolbox, domain.AccelVAAPI}

func Select(available []domain.Accelerator) domain.Accelerator {
	for _, accel := range priority {
		for _, a := range available {
			if a == accel {
				return accel
			}
		}
	}

	return domain.AccelNone
}

func DetectBest(ctx context.Context, ffmpegPath string) *domain.HWAccelConfig {
	available, err := Detect(ctx, ffmpegPath)
	if err != nil {
		return NewConfig(domain.AccelNone)
	}
	return NewConfig(Select(available))
}

func NewConfig(accel domain.Accelerator) *domain.HWAccelConfig {
	switch accel {
	case domain.AccelCUDA:
		return &domain.HWAccelConfig{
			Accelerator:  domain.AccelCUDA,
			EncodeFlags:  []string{"-c:v", "h264_nvenc", "-preset", "p5", "-rc", "vbr", "-cq", "21"},
			Encoder:      "h264_nvenc",
			UploadFilter: "format=yuv420p",
			PixelFormat:  "yuv420p",
		}
	case domain.AccelVideoToolbox:
		return &domain.HWAccelConfig{
			Accelerator:  domain.AccelVideoToolbox,
			EncodeFlags:  []string{"-c:v", "h264_videotoolbox", "-allow_sw", "1"},
			Encoder:      "h264_videotoolbox",
			UploadFilter: "format=nv12",
			PixelFormat:  "nv12",
		}
	case domain.AccelVAAPI:
		return &domain.HWAccelConfig{
			Accelerator:  domain.AccelVAAPI,
			DeviceFlags:  []string{"-vaapi_device", "/dev/dri/renderD128"},
			EncodeFlags:  []string{"-c:v", "h264_vaapi"},
			Encoder:      "h264_vaapi",
			UploadFilter: "format=nv12,hwupload",
			PixelFormat:  "vaapi",
		}
	case domain.AccelQSV:
		return &domain.HWAccelConfig{
			Accelerator:  domain.AccelQSV,
			DeviceFlags:  []string{"-init_hw_device", "qsv=hw", "-filter_hw_device", "hw"},
			EncodeFlags:  []string{"-c:v", "h264_qsv", "-preset", "medium"},
			Encoder:      "h264_qsv",
			UploadFilter: "format=nv12,hwupload=extra_hw_frames=64",
			PixelFormat:  "qsv",
		}
	default:
		return &domain.HWAccelConfig{
			Accelerator:  domain.AccelNone,
			DeviceFlags:  []string{},
			EncodeFlags:  []string{"-c:v", "libx264", "-preset", "veryfast", "-profile:v", "high"},
			Encoder:      "libx264",
			UploadFilter: "format=yuv420p",
			PixelFormat:  "yuv420p",
		}
	}
}

func listHWAccels(ctx context.Context, ffmpegPath string) (map[string]bool, error) {
	output, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-hwaccels").Output()
	if err != nil {
		return nil, err
	}

	result := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasSuffix(line, ":") {
			result[line] = true
		}
	}

	return result, nil
}

func listEncoders(ctx context.Context, ffmpegPath string) (map[string]bool, error) {
	output, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, err
	}

	result := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		for _, enc := range deviceEncoders {
			if strings.Contains(scanner.Text(), enc) {
				result[enc] = true
			}
		}
	}

	return result, nil
}
