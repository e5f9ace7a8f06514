// Package rendition picks encoder bitrates for an export's output format.
package rendition

type bounds struct {
	min int
	max int
}

var tierHeights = []int{2160, 1080, 720, 480, 360}

var bitrateBounds = map[int]bounds{
	2160: {min: 8000000, max: 20000000},
	1080: {min: 2000000, max: 8000000},
	720:  {min: 1000000, max: 4000000},
	480:  {min: 500000, max: 2000000},
	360:  {min: 300000, max: 1000000},
}

const (
	stereoAudioBitrate   = 128000
	surroundAudioBitrate = 384000
	maxAudioBitrate      = 512000
)

// VideoBitrate returns the bitrate for frames of the given height. A
// non-positive request is replaced by an estimate; anything else is clamped
// to the range sensible for the nearest tier at or below height.
func VideoBitrate(height, requested int) int {
	if requested <= 0 {
		return estimateBitrate(height)
	}
	return clampBitrate(tierFor(height), requested)
}

// AudioBitrate returns the AAC bitrate for the channel count, keeping a
// positive request up to the AAC ceiling.
func AudioBitrate(channels, requested int) int {
	if requested > 0 {
		return min(requested, maxAudioBitrate)
	}
	if channels >= 6 {
		return surroundAudioBitrate
	}
	return stereoAudioBitrate
}

func tierFor(height int) int {
	for _, h := range tierHeights {
		if height >= h {
			return h
		}
	}
	return tierHeights[len(tierHeights)-1]
}

func clampBitrate(height, bitrate int) int {
	b, ok := bitrateBounds[height]
	if !ok {
		return bitrate
	}
	if bitrate < b.min {
		return b.min
	}
	if bitrate > b.max {
		return b.max
	}
	return bitrate
}

func estimateBitrate(height int) int {
	switch {
	case height >= 2160:
		return 15000000
	case height >= 1080:
		return 5000000
	case height >= 720:
		return 2500000
	case height >= 480:
		return 1200000
	default:
		return 800000
	}
}
