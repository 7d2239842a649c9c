package decoder

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detections/anchors"
)

// Candidates is the per-box output of a Decoder, in box index order.
type Candidates struct {
	// Corners holds each box's corners. Decoded output is [ymin, xmin, ymax, xmax];
	// pre-decoded model output keeps the model's own order.
	Corners [][4]float32
	// Keypoints holds x, y pairs, NumKeypoints pairs per box. Nil without keypoints.
	Keypoints []float32
	Scores    []float32
	Classes   []int
}

// Len returns the number of boxes.
func (c *Candidates) Len() int {
	return len(c.Corners)
}

// BoxKeypoints returns the x, y pairs of box i.
func (c *Candidates) BoxKeypoints(i, numKeypoints int) []float32 {
	if numKeypoints == 0 || c.Keypoints == nil {
		return nil
	}
	stride := numKeypoints * 2
	return c.Keypoints[i*stride : (i+1)*stride]
}

// DecodeBoxes converts raw per-box regressions into corners and keypoints
// relative to the anchors. It is pure and does not retain its inputs.
//
// Arguments:
//   - raw: num_boxes*num_coords regression values.
//   - anchorList: num_boxes anchors.
//   - cfg: a validated configuration.
//
// Returns:
//   - [][4]float32: [ymin, xmin, ymax, xmax] per box.
//   - []float32: x, y keypoint pairs, num_keypoints per box, or nil.
//   - error: ErrShapeMismatch when the inputs do not match cfg.
func DecodeBoxes(raw []float32, anchorList []anchors.Anchor, cfg Config) ([][4]float32, []float32, error) {
	if len(raw) != cfg.NumBoxes*cfg.NumCoords {
		return nil, nil, errors.Wrapf(ErrShapeMismatch, "raw boxes have %d values, want num_boxes*num_coords=%d",
			len(raw), cfg.NumBoxes*cfg.NumCoords)
	}
	if len(anchorList) != cfg.NumBoxes {
		return nil, nil, errors.Wrapf(ErrShapeMismatch, "got %d anchors, want num_boxes=%d", len(anchorList), cfg.NumBoxes)
	}

	corners := make([][4]float32, cfg.NumBoxes)
	var keypoints []float32
	if cfg.NumKeypoints > 0 {
		keypoints = make([]float32, cfg.NumBoxes*cfg.NumKeypoints*2)
	}

	for i, a := range anchorList {
		offset := i*cfg.NumCoords + cfg.BoxCoordOffset

		var yc, xc, h, w float32
		if cfg.ReverseOutputOrder {
			xc, yc, w, h = raw[offset], raw[offset+1], raw[offset+2], raw[offset+3]
		} else {
			yc, xc, h, w = raw[offset], raw[offset+1], raw[offset+2], raw[offset+3]
		}

		xc = xc/cfg.XScale*a.W + a.XCenter
		yc = yc/cfg.YScale*a.H + a.YCenter

		if cfg.ApplyExponentialOnBoxSize {
			h = math32.Exp(h/cfg.HScale) * a.H
			w = math32.Exp(w/cfg.WScale) * a.W
		} else {
			h = h / cfg.HScale * a.H
			w = w / cfg.WScale * a.W
		}

		corners[i] = [4]float32{yc - h/2, xc - w/2, yc + h/2, xc + w/2}

		for k := 0; k < cfg.NumKeypoints; k++ {
			ko := offset + cfg.KeypointCoordOffset + k*cfg.NumValuesPerKeypoint
			var kx, ky float32
			if cfg.ReverseOutputOrder {
				kx, ky = raw[ko], raw[ko+1]
			} else {
				ky, kx = raw[ko], raw[ko+1]
			}
			out := (i*cfg.NumKeypoints + k) * 2
			keypoints[out] = kx/cfg.XScale*a.W + a.XCenter
			keypoints[out+1] = ky/cfg.YScale*a.H + a.YCenter
		}
	}
	return corners, keypoints, nil
}
