// Package geometry - Coordinate corrections applied to assembled detections.
package geometry

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detections/detection"
)

var (
	// ErrInvalidPadding is returned when padding leaves no image on an axis.
	ErrInvalidPadding = errors.New("invalid letterbox padding")
	// ErrUnsupportedBoxFormat is returned when a detection is not in relative form.
	ErrUnsupportedBoxFormat = errors.New("unsupported box format")
	// ErrInvalidMatrix is returned for a malformed or singular projection matrix.
	ErrInvalidMatrix = errors.New("invalid projection matrix")
)

// Padding is the letterbox border added around an image, as fractions of the
// padded image.
type Padding struct {
	Left   float32 `json:"left"   yaml:"left"`
	Top    float32 `json:"top"    yaml:"top"`
	Right  float32 `json:"right"  yaml:"right"`
	Bottom float32 `json:"bottom" yaml:"bottom"`
}

// Validate reports ErrInvalidPadding when left+right or top+bottom reaches 1
// or is NaN.
func (p Padding) Validate() error {
	if lr := p.Left + p.Right; !(lr < 1) {
		return errors.Wrapf(ErrInvalidPadding, "left+right padding is %v, must be below 1", lr)
	}
	if tb := p.Top + p.Bottom; !(tb < 1) {
		return errors.Wrapf(ErrInvalidPadding, "top+bottom padding is %v, must be below 1", tb)
	}
	return nil
}

// RemovePadding maps a detection from the padded image back to the image the
// padding was added to.
//
// Arguments:
//   - d: a detection in padded-image coordinates.
//   - p: the padding that was added.
//
// Returns:
//   - detection.Detection: a copy of d in unpadded coordinates.
//   - error: ErrInvalidPadding.
//
// @example
// d, err := geometry.RemovePadding(d, geometry.Padding{Top: 0.125, Bottom: 0.125})
func RemovePadding(d detection.Detection, p Padding) (detection.Detection, error) {
	if err := p.Validate(); err != nil {
		return d, err
	}
	sx := 1 - (p.Left + p.Right)
	sy := 1 - (p.Top + p.Bottom)

	out := d.Clone()
	out.Box = detection.BoundingBox{
		XMin:   (d.Box.XMin - p.Left) / sx,
		YMin:   (d.Box.YMin - p.Top) / sy,
		Width:  d.Box.Width / sx,
		Height: d.Box.Height / sy,
	}
	for i, kp := range d.Keypoints {
		out.Keypoints[i] = detection.Keypoint{
			X: (kp.X - p.Left) / sx,
			Y: (kp.Y - p.Top) / sy,
		}
	}
	return out, nil
}
