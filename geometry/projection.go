package geometry

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/nvr-ai/go-detections/detection"
)

// Matrix is a row-major 4x4 transform. Only the 2D affine part (elements 0, 1,
// 3, 4, 5 and 7) takes part in projection.
type Matrix [16]float32

// Identity returns the identity transform.
func Identity() Matrix {
	return Matrix{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// MatrixFromSlice copies 16 row-major values into a Matrix.
func MatrixFromSlice(v []float32) (Matrix, error) {
	var m Matrix
	if len(v) != len(m) {
		return m, errors.Wrapf(ErrInvalidMatrix, "got %d values, want %d", len(v), len(m))
	}
	copy(m[:], v)
	return m, nil
}

// Apply transforms the point (x, y).
func (m Matrix) Apply(x, y float32) (float32, float32) {
	return x*m[0] + y*m[1] + m[3], x*m[4] + y*m[5] + m[7]
}

func (m Matrix) dense() *mat.Dense {
	data := make([]float64, len(m))
	for i, v := range m {
		data[i] = float64(v)
	}
	return mat.NewDense(4, 4, data)
}

func fromDense(d mat.Matrix) Matrix {
	var m Matrix
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m[r*4+c] = float32(d.At(r, c))
		}
	}
	return m
}

// Inverse returns the inverse transform, ErrInvalidMatrix when m is singular.
func (m Matrix) Inverse() (Matrix, error) {
	var inv mat.Dense
	if err := inv.Inverse(m.dense()); err != nil {
		return Matrix{}, errors.Wrapf(ErrInvalidMatrix, "inverting: %v", err)
	}
	return fromDense(&inv), nil
}

// Mul returns the product m*n, which applies n first.
func (m Matrix) Mul(n Matrix) Matrix {
	var out mat.Dense
	out.Mul(m.dense(), n.dense())
	return fromDense(&out)
}

// Project maps a relative detection through m. Keypoints are transformed
// directly; the box becomes the axis-aligned bounds of its four transformed
// corners, so rotations grow the box to enclose the rotated content.
//
// Arguments:
//   - d: a detection with a relative bounding box.
//   - m: the transform.
//
// Returns:
//   - detection.Detection: a projected copy of d.
//   - error: ErrUnsupportedBoxFormat when d is not relative.
func Project(d detection.Detection, m Matrix) (detection.Detection, error) {
	if d.Format != detection.FormatRelative {
		return d, errors.Wrapf(ErrUnsupportedBoxFormat, "projection needs %q boxes, got %q",
			detection.FormatRelative, d.Format)
	}

	out := d.Clone()
	for i, kp := range d.Keypoints {
		x, y := m.Apply(kp.X, kp.Y)
		out.Keypoints[i] = detection.Keypoint{X: x, Y: y}
	}

	b := d.Box
	corners := [4][2]float32{
		{b.XMin, b.YMin},
		{b.XMax(), b.YMin},
		{b.XMax(), b.YMax()},
		{b.XMin, b.YMax()},
	}
	var xmin, ymin, xmax, ymax float32
	for i, c := range corners {
		x, y := m.Apply(c[0], c[1])
		if i == 0 {
			xmin, xmax, ymin, ymax = x, x, y, y
			continue
		}
		xmin, xmax = min(xmin, x), max(xmax, x)
		ymin, ymax = min(ymin, y), max(ymax, y)
	}
	out.Box = detection.BoundingBox{XMin: xmin, YMin: ymin, Width: xmax - xmin, Height: ymax - ymin}
	return out, nil
}
