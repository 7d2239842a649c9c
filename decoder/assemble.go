package decoder

import (
	"sync/atomic"

	"github.com/chewxy/math32"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-detections/detection"
)

// Result is the output of one Assemble call.
type Result struct {
	// Detections in ascending box index order.
	Detections []detection.Detection
	// Dropped counts boxes discarded for negative or NaN dimensions.
	Dropped int
}

// Assembler turns decoder candidates into detection records, applying the
// configured score, class and count filters.
type Assembler struct {
	cfg     Config
	filter  ClassFilter
	order   [4]int
	dropped atomic.Uint64
}

// NewAssembler builds an Assembler for a validated configuration.
//
// Arguments:
//   - cfg: the decoding configuration, raw or pre-decoded.
//
// Returns:
//   - *Assembler: the assembler.
//   - error: ErrInvalidConfig.
func NewAssembler(cfg Config) (*Assembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	filter, err := NewClassFilter(cfg.AllowClasses, cfg.IgnoreClasses)
	if err != nil {
		return nil, err
	}
	return &Assembler{cfg: cfg, filter: filter, order: cfg.CornerOrder()}, nil
}

// DroppedTotal returns how many degenerate boxes were dropped over the
// assembler's lifetime.
func (a *Assembler) DroppedTotal() uint64 {
	return a.dropped.Load()
}

// Assemble builds detections from candidates in ascending box index order.
//
// A box is skipped when its score is below min_score_thresh, or its class is
// NoClass or excluded by the class filter. Once max_results detections have
// been emitted the remaining boxes are ignored. Boxes whose width or height is
// negative or NaN are dropped and counted in Result.Dropped.
//
// Arguments:
//   - c: the candidates of one frame.
//
// Returns:
//   - Result: the detections and the number of dropped boxes.
func (a *Assembler) Assemble(c *Candidates) Result {
	cfg := a.cfg
	limit := 0
	if cfg.MaxResults != nil && *cfg.MaxResults > 0 {
		limit = *cfg.MaxResults
	}

	var res Result
	for i := 0; i < c.Len(); i++ {
		if limit > 0 && len(res.Detections) >= limit {
			break
		}
		score, class := c.Scores[i], c.Classes[i]
		if cfg.MinScoreThresh != nil && score < *cfg.MinScoreThresh {
			continue
		}
		if class == NoClass || !a.filter.Allowed(class) {
			continue
		}

		box := c.Corners[i]
		ymin, xmin := box[a.order[0]], box[a.order[1]]
		ymax, xmax := box[a.order[2]], box[a.order[3]]
		if cfg.FlipVertically {
			ymin, ymax = 1-ymax, 1-ymin
		}
		width, height := xmax-xmin, ymax-ymin
		if width < 0 || height < 0 || math32.IsNaN(width) || math32.IsNaN(height) {
			res.Dropped++
			logger.WithFields(logrus.Fields{
				"box":    i,
				"width":  width,
				"height": height,
			}).Debug("dropping degenerate box")
			continue
		}

		d := detection.Detection{
			Score:  score,
			Label:  a.label(class),
			Format: detection.FormatRelative,
			Box: detection.BoundingBox{
				XMin:   xmin,
				YMin:   ymin,
				Width:  width,
				Height: height,
			},
		}
		if kp := c.BoxKeypoints(i, cfg.NumKeypoints); kp != nil {
			d.Keypoints = make([]detection.Keypoint, cfg.NumKeypoints)
			for k := range d.Keypoints {
				x, y := kp[2*k], kp[2*k+1]
				if cfg.FlipVertically {
					y = 1 - y
				}
				d.Keypoints[k] = detection.Keypoint{X: x, Y: y}
			}
		}
		res.Detections = append(res.Detections, d)
	}

	if res.Dropped > 0 {
		a.dropped.Add(uint64(res.Dropped))
	}
	return res
}

func (a *Assembler) label(class int) detection.Label {
	if name, ok := a.cfg.LabelMap[class]; ok {
		return detection.NameLabel(name)
	}
	return detection.IDLabel(class)
}
