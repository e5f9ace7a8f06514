package timeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/eleven-am/splice/internal/domain"
)

// frameEpsilon absorbs float error in duration*fps so that 3.0s at 30fps is 90 frames, not 91.
const frameEpsilon = 1e-9

// ActiveItem returns the first item, in array order, whose interval contains t.
func ActiveItem(layer domain.Layer, t float64) (domain.Item, bool) {
	for _, item := range layer.Items {
		if item.Contains(t) {
			return item, true
		}
	}
	return domain.Item{}, false
}

// ActiveItems returns every item containing t, preserving array order.
func ActiveItems(layer domain.Layer, t float64) []domain.Item {
	var active []domain.Item
	for _, item := range layer.Items {
		if item.Contains(t) {
			active = append(active, item)
		}
	}
	return active
}

func VideoLayer(layers []domain.Layer) (domain.Layer, bool) {
	for _, l := range layers {
		if l.Type == domain.LayerVideo {
			return l, true
		}
	}
	return domain.Layer{}, false
}

func LayersOfType(layers []domain.Layer, typ domain.LayerType) []domain.Layer {
	var out []domain.Layer
	for _, l := range layers {
		if l.Type == typ {
			out = append(out, l)
		}
	}
	return out
}

// TotalDuration is the end of the video layer's last item. Audio layers never
// extend the timeline.
func TotalDuration(layers []domain.Layer) float64 {
	video, ok := VideoLayer(layers)
	if !ok || len(video.Items) == 0 {
		return 0
	}
	last := video.Items[len(video.Items)-1]
	return math.Max(0, last.End())
}

func FrameCount(duration float64, fps int) int {
	if duration <= 0 || fps <= 0 {
		return 0
	}
	return int(math.Ceil(duration*float64(fps) - frameEpsilon))
}

func Clamp(t, duration float64) float64 {
	return math.Max(0, math.Min(t, duration))
}

// Hash fingerprints the layers so identical timelines map to the same export.
func Hash(layers []domain.Layer) (string, error) {
	data, err := json.Marshal(layers)
	if err != nil {
		return "", fmt.Errorf("marshal layers: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

var (
	ErrUnknownLayerType = errors.New("unknown layer type")
	ErrNegativeTime     = errors.New("negative time")
	ErrDuplicateItem    = errors.New("duplicate item id")
)

// Validate reports structural problems an editor should fix before export.
// Trim beyond the source duration is not checked since it needs I/O.
func Validate(layers []domain.Layer) error {
	var errs []error
	seen := make(map[string]string)
	for _, l := range layers {
		if !l.Type.Valid() {
			errs = append(errs, fmt.Errorf("layer %s: %w %q", l.ID, ErrUnknownLayerType, l.Type))
		}
		for _, item := range l.Items {
			if item.StartTime < 0 || item.Duration < 0 || item.Metadata.TrimStart < 0 {
				errs = append(errs, fmt.Errorf("layer %s item %s: %w", l.ID, item.ID, ErrNegativeTime))
			}
			if prev, ok := seen[item.ID]; ok {
				errs = append(errs, fmt.Errorf("item %s in layers %s and %s: %w", item.ID, prev, l.ID, ErrDuplicateItem))
				continue
			}
			seen[item.ID] = l.ID
		}
	}
	return errors.Join(errs...)
}
