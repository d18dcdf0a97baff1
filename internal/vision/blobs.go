// Package vision adapts frame sources to the controller's Detector interface.
// The camera-backed detector lives in vision/gocvcam; this package holds the
// blob post-filters shared by every source and the replay detectors used in
// development.
package vision

import (
	"github.com/banshee-data/aimtrack/internal/config"
	"github.com/banshee-data/aimtrack/internal/geometry"
	"github.com/banshee-data/aimtrack/internal/target"
)

// BlobFilter mirrors the blob search parameters of the capture pipeline:
// regions with fewer than MinPixels dark pixels or a bounding box smaller than
// MinArea are dropped before validation. With Merge set, regions whose
// bounding boxes overlap are merged first.
type BlobFilter struct {
	MinPixels int
	MinArea   int
	Merge     bool
}

// DefaultBlobFilter returns the calibrated blob search settings.
func DefaultBlobFilter() BlobFilter {
	return BlobFilter{MinPixels: 300, MinArea: 2000, Merge: true}
}

// FilterFromTuning builds a merging BlobFilter from the tuning file.
func FilterFromTuning(tc *config.TuningConfig) BlobFilter {
	return BlobFilter{MinPixels: tc.GetMinBlobPixels(), MinArea: tc.GetMinBlobArea(), Merge: true}
}

// Apply filters (and optionally merges) raw regions. The input is not modified.
func (f BlobFilter) Apply(blobs []target.Candidate) []target.Candidate {
	if f.Merge {
		blobs = MergeOverlapping(blobs)
	}
	out := make([]target.Candidate, 0, len(blobs))
	for _, b := range blobs {
		if b.Pixels < f.MinPixels || b.Rect.Area() < f.MinArea {
			continue
		}
		out = append(out, b)
	}
	return out
}

func overlaps(a, b geometry.Rect) bool {
	return a.X < b.X+b.W && b.X < a.X+a.W && a.Y < b.Y+b.H && b.Y < a.Y+a.H
}

func union(a, b geometry.Rect) geometry.Rect {
	x0, y0 := min(a.X, b.X), min(a.Y, b.Y)
	x1, y1 := max(a.X+a.W, b.X+b.W), max(a.Y+a.H, b.Y+b.H)
	return geometry.Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// MergeOverlapping repeatedly merges regions whose bounding boxes overlap
// until no two overlap. Pixel counts and perimeters are summed. The order of
// first appearance is preserved.
func MergeOverlapping(blobs []target.Candidate) []target.Candidate {
	out := append([]target.Candidate(nil), blobs...)
	for merged := true; merged; {
		merged = false
		for i := 0; i < len(out) && !merged; i++ {
			for j := i + 1; j < len(out); j++ {
				if !overlaps(out[i].Rect, out[j].Rect) {
					continue
				}
				out[i] = target.Candidate{
					Rect:      union(out[i].Rect, out[j].Rect),
					Pixels:    out[i].Pixels + out[j].Pixels,
					Perimeter: out[i].Perimeter + out[j].Perimeter,
				}
				out = append(out[:j], out[j+1:]...)
				merged = true
				break
			}
		}
	}
	return out
}
