package images

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-detections/geometry"
)

// LetterboxMat is Letterbox for an OpenCV matrix. The caller owns the returned
// Mat and must Close it.
//
// Arguments:
//   - src: The source image.
//   - dstW, dstH: The model input size.
//
// Returns:
//   - gocv.Mat: The dstW x dstH letterboxed image.
//   - geometry.Padding: The border that was added.
//   - error: An error if src is empty.
func LetterboxMat(src gocv.Mat, dstW, dstH int) (gocv.Mat, geometry.Padding, error) {
	if src.Empty() {
		return gocv.NewMat(), geometry.Padding{}, errors.New("letterbox of an empty mat")
	}
	l := letterboxLayout(src.Cols(), src.Rows(), dstW, dstH)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, image.Pt(l.width, l.height), 0, 0, gocv.InterpolationLinear)

	out := gocv.NewMat()
	gocv.CopyMakeBorder(resized, &out, l.top, l.bottom, l.left, l.right, gocv.BorderConstant, color.RGBA{})
	return out, l.padding(dstW, dstH), nil
}
