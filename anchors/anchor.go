// Package anchors - Anchor priors for SSD-style box decoding.
package anchors

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ValuesPerAnchor is the number of floats describing one anchor in flat form.
const ValuesPerAnchor = 4

// Anchor is a prior box. All values are normalized to [0,1] of the image.
type Anchor struct {
	YCenter float32 `json:"y_center" yaml:"y_center"`
	XCenter float32 `json:"x_center" yaml:"x_center"`
	H       float32 `json:"h"        yaml:"h"`
	W       float32 `json:"w"        yaml:"w"`
}

// Flatten converts anchors to the flat layout [y_center, x_center, h, w] per anchor.
func Flatten(list []Anchor) []float32 {
	out := make([]float32, 0, len(list)*ValuesPerAnchor)
	for _, a := range list {
		out = append(out, a.YCenter, a.XCenter, a.H, a.W)
	}
	return out
}

// FromFlat parses the flat layout produced by Flatten.
//
// Arguments:
//   - buf: y_center, x_center, h, w for each anchor.
//
// Returns:
//   - []Anchor: one anchor per group of four values.
//   - error: ErrInvalidAnchors when len(buf) is not a multiple of four.
func FromFlat(buf []float32) ([]Anchor, error) {
	if len(buf)%ValuesPerAnchor != 0 {
		return nil, errors.Wrapf(ErrInvalidAnchors,
			"flat anchor buffer length %d is not a multiple of %d", len(buf), ValuesPerAnchor)
	}

	out := make([]Anchor, len(buf)/ValuesPerAnchor)
	for i := range out {
		o := i * ValuesPerAnchor
		out[i] = Anchor{
			YCenter: buf[o],
			XCenter: buf[o+1],
			H:       buf[o+2],
			W:       buf[o+3],
		}
	}
	return out, nil
}

// FromTensor parses an anchor tensor shaped [num_boxes, 4].
func FromTensor(t *tensor.Dense) ([]Anchor, error) {
	if t == nil {
		return nil, errors.Wrap(ErrInvalidAnchors, "anchor tensor is nil")
	}
	if t.Dtype() != tensor.Float32 {
		return nil, errors.Wrapf(ErrInvalidAnchors, "anchor tensor dtype %v, want float32", t.Dtype())
	}
	shape := t.Shape()
	if len(shape) != 2 || shape[1] != ValuesPerAnchor {
		return nil, errors.Wrapf(ErrInvalidAnchors, "anchor tensor shape %v, want [num_boxes %d]",
			shape, ValuesPerAnchor)
	}

	if t.IsView() {
		out := make([]Anchor, shape[0])
		for i := range out {
			var v [ValuesPerAnchor]float32
			for j := range v {
				x, err := t.At(i, j)
				if err != nil {
					return nil, errors.Wrapf(ErrInvalidAnchors, "reading anchor %d: %v", i, err)
				}
				v[j] = x.(float32)
			}
			out[i] = Anchor{YCenter: v[0], XCenter: v[1], H: v[2], W: v[3]}
		}
		return out, nil
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, errors.Wrap(ErrInvalidAnchors, "anchor tensor has no float32 backing")
	}
	return FromFlat(data[:shape[0]*ValuesPerAnchor])
}

// ToTensor converts anchors into a [num_boxes, 4] float32 tensor.
func ToTensor(list []Anchor) *tensor.Dense {
	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(len(list), ValuesPerAnchor),
		tensor.WithBacking(Flatten(list)),
	)
}
