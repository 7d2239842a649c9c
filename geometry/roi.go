package geometry

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ROI is a possibly rotated region of an image in normalized coordinates.
// Rotation is in radians, clockwise in image space.
type ROI struct {
	XCenter  float32 `json:"x_center" yaml:"x_center"`
	YCenter  float32 `json:"y_center" yaml:"y_center"`
	Width    float32 `json:"width"    yaml:"width"`
	Height   float32 `json:"height"   yaml:"height"`
	Rotation float32 `json:"rotation" yaml:"rotation"`
}

// FullImage is the ROI covering the whole image without rotation.
var FullImage = ROI{XCenter: 0.5, YCenter: 0.5, Width: 1, Height: 1}

// ROITransform builds the matrix that maps coordinates normalized to the ROI
// back to coordinates normalized to the image.
//
// The ROI is scaled to pixels, its unit square is centred, scaled to the ROI
// size (mirrored horizontally when flip is set), rotated, moved to the ROI
// centre and normalized by the image size. FullImage yields the identity.
//
// Arguments:
//   - roi: the region the model input was cropped from.
//   - imageWidth, imageHeight: the full image size in pixels.
//   - flip: whether the crop was mirrored horizontally.
//
// Returns:
//   - Matrix: the row-major transform.
//   - error: ErrInvalidMatrix for a non-positive image size.
func ROITransform(roi ROI, imageWidth, imageHeight int, flip bool) (Matrix, error) {
	if imageWidth <= 0 || imageHeight <= 0 {
		return Matrix{}, errors.Wrapf(ErrInvalidMatrix, "image size %dx%d must be positive", imageWidth, imageHeight)
	}
	w, h := float64(imageWidth), float64(imageHeight)
	a, b := float64(roi.Width)*w, float64(roi.Height)*h
	sx := a
	if flip {
		sx = -a
	}
	cos, sin := math.Cos(float64(roi.Rotation)), math.Sin(float64(roi.Rotation))

	// 3x3 homogeneous steps, applied right to left.
	steps := []*mat.Dense{
		mat.NewDense(3, 3, []float64{1 / w, 0, 0, 0, 1 / h, 0, 0, 0, 1}),
		mat.NewDense(3, 3, []float64{1, 0, float64(roi.XCenter) * w, 0, 1, float64(roi.YCenter) * h, 0, 0, 1}),
		mat.NewDense(3, 3, []float64{cos, -sin, 0, sin, cos, 0, 0, 0, 1}),
		mat.NewDense(3, 3, []float64{sx, 0, 0, 0, b, 0, 0, 0, 1}),
		mat.NewDense(3, 3, []float64{1, 0, -0.5, 0, 1, -0.5, 0, 0, 1}),
	}
	affine := steps[0]
	for _, s := range steps[1:] {
		var next mat.Dense
		next.Mul(affine, s)
		affine = &next
	}

	return Matrix{
		float32(affine.At(0, 0)), float32(affine.At(0, 1)), 0, float32(affine.At(0, 2)),
		float32(affine.At(1, 0)), float32(affine.At(1, 1)), 0, float32(affine.At(1, 2)),
		0, 0, float32(a / w), 0,
		0, 0, 0, 1,
	}, nil
}
