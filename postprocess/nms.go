// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detections/detection"
)

// Algorithm names a suppression strategy.
type Algorithm string

const (
	// Greedy keeps the best detection of every overlapping group.
	Greedy Algorithm = "greedy"
	// Weighted replaces every overlapping group with its score-weighted average.
	Weighted Algorithm = "weighted"
)

// ErrInvalidNMSConfig is returned by NMSConfig.Validate.
var ErrInvalidNMSConfig = errors.New("invalid nms configuration")

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	Algorithm    Algorithm `json:"algorithm"     yaml:"algorithm"`     // Greedy when empty.
	IoUThreshold float32   `json:"iou_threshold" yaml:"iou_threshold"` // Overlap threshold for suppression.
	ClassAware   bool      `json:"class_aware"   yaml:"class_aware"`   // If true, suppress only within same label.
}

// Validate checks the algorithm name and threshold range.
func (c NMSConfig) Validate() error {
	switch c.Algorithm {
	case "", Greedy, Weighted:
	default:
		return errors.Wrapf(ErrInvalidNMSConfig, "unknown algorithm %q", c.Algorithm)
	}
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return errors.Wrapf(ErrInvalidNMSConfig, "iou_threshold %v outside [0,1]", c.IoUThreshold)
	}
	return nil
}

// Apply runs the configured algorithm.
func Apply(detections []detection.Detection, config NMSConfig) []detection.Detection {
	if config.Algorithm == Weighted {
		return ApplyWeightedNMS(detections, config)
	}
	return ApplyGreedyNMS(detections, config)
}

// byScore returns the indices of detections ordered by descending score.
// Equal scores keep their input order.
func byScore(detections []detection.Detection) []int {
	order := make([]int, len(detections))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return detections[order[a]].Score > detections[order[b]].Score
	})
	return order
}

func overlaps(a, b detection.Detection, config NMSConfig) bool {
	if config.ClassAware && a.Label != b.Label {
		return false
	}
	return detection.IoU(a.Box, b.Box) > config.IoUThreshold
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression.
//
// Arguments:
//   - detections: Detections in any order; the slice is not modified.
//   - config: IoU threshold above which overlapping boxes are suppressed.
//
// Returns:
//   - Filtered detections in descending score order. If no detections are
//     provided, returns nil.
func ApplyGreedyNMS(detections []detection.Detection, config NMSConfig) []detection.Detection {
	n := len(detections)
	if n == 0 {
		return nil
	}

	order := byScore(detections)
	filtered := make([]detection.Detection, 0, n)
	used := make([]bool, n)

	for oi, i := range order {
		if used[i] {
			continue
		}
		anchor := detections[i]
		filtered = append(filtered, anchor.Clone())
		used[i] = true

		for _, j := range order[oi+1:] {
			if used[j] {
				continue
			}
			if overlaps(anchor, detections[j], config) {
				used[j] = true
			}
		}
	}

	return filtered
}

// ApplyWeightedNMS merges every group of overlapping detections into one whose
// box and keypoints are the score-weighted mean of the group. The merged
// detection keeps the score and label of the group's best member.
//
// Arguments:
//   - detections: Detections in any order; the slice is not modified.
//   - config: IoU threshold above which detections join a group.
//
// Returns:
//   - Merged detections in descending score order.
func ApplyWeightedNMS(detections []detection.Detection, config NMSConfig) []detection.Detection {
	n := len(detections)
	if n == 0 {
		return nil
	}

	order := byScore(detections)
	merged := make([]detection.Detection, 0, n)
	used := make([]bool, n)

	for oi, i := range order {
		if used[i] {
			continue
		}
		anchor := detections[i]
		used[i] = true
		group := []detection.Detection{anchor}
		for _, j := range order[oi+1:] {
			if !used[j] && overlaps(anchor, detections[j], config) {
				used[j] = true
				group = append(group, detections[j])
			}
		}
		merged = append(merged, weightedMean(anchor, group))
	}

	return merged
}

func weightedMean(anchor detection.Detection, group []detection.Detection) detection.Detection {
	out := anchor.Clone()
	if len(group) == 1 {
		return out
	}

	var total, xmin, ymin, xmax, ymax float32
	kps := make([]detection.Keypoint, len(anchor.Keypoints))
	for _, d := range group {
		w := d.Score
		total += w
		xmin += d.Box.XMin * w
		ymin += d.Box.YMin * w
		xmax += d.Box.XMax() * w
		ymax += d.Box.YMax() * w
		for k := range kps {
			if k < len(d.Keypoints) {
				kps[k].X += d.Keypoints[k].X * w
				kps[k].Y += d.Keypoints[k].Y * w
			}
		}
	}
	if total <= 0 {
		return out
	}

	out.Box = detection.BoundingBox{
		XMin:   xmin / total,
		YMin:   ymin / total,
		Width:  (xmax - xmin) / total,
		Height: (ymax - ymin) / total,
	}
	for k := range kps {
		out.Keypoints[k] = detection.Keypoint{X: kps[k].X / total, Y: kps[k].Y / total}
	}
	return out
}
