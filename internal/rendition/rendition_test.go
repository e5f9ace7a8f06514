package rendition

import "testing"

func TestVideoBitrate(t *testing.T) {
	tests := []struct {
		name      string
		height    int
		requested int
		want      int
	}{
		{"estimate 1080p", 1080, 0, 5_000_000},
		{"estimate 720p", 720, 0, 2_500_000},
		{"estimate tiny", 240, 0, 800_000},
		{"keep in range", 1080, 6_000_000, 6_000_000},
		{"clamp high 1080p", 1080, 10_000_000, 8_000_000},
		{"clamp low 1080p", 1080, 500_000, 2_000_000},
		{"between tiers uses lower", 900, 6_000_000, 4_000_000},
		{"below smallest tier", 200, 50_000, 300_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VideoBitrate(tt.height, tt.requested); got != tt.want {
				t.Fatalf("VideoBitrate(%d, %d) = %d, want %d", tt.height, tt.requested, got, tt.want)
			}
		})
	}
}

func TestAudioBitrate(t *testing.T) {
	if got := AudioBitrate(2, 0); got != 128_000 {
		t.Fatalf("stereo default = %d", got)
	}
	if got := AudioBitrate(6, 0); got != 384_000 {
		t.Fatalf("surround default = %d", got)
	}
	if got := AudioBitrate(2, 192_000); got != 192_000 {
		t.Fatalf("requested bitrate changed to %d", got)
	}
	if got := AudioBitrate(2, 1_000_000); got != 512_000 {
		t.Fatalf("expected ceiling, got %d", got)
	}
}
