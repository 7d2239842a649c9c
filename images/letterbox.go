package images

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/nfnt/resize"

	"github.com/nvr-ai/go-detections/geometry"
)

// layout is a letterbox placement in pixels.
type layout struct {
	width, height            int // resized content
	left, top, right, bottom int // border
}

// letterboxLayout fits a srcW x srcH image inside dstW x dstH, keeping its
// aspect ratio and centring it.
func letterboxLayout(srcW, srcH, dstW, dstH int) layout {
	scale := min(float64(dstW)/float64(srcW), float64(dstH)/float64(srcH))
	l := layout{
		width:  min(dstW, max(1, int(float64(srcW)*scale+0.5))),
		height: min(dstH, max(1, int(float64(srcH)*scale+0.5))),
	}
	padX, padY := dstW-l.width, dstH-l.height
	l.left, l.top = padX/2, padY/2
	l.right, l.bottom = padX-l.left, padY-l.top
	return l
}

func (l layout) padding(dstW, dstH int) geometry.Padding {
	return geometry.Padding{
		Left:   float32(l.left) / float32(dstW),
		Top:    float32(l.top) / float32(dstH),
		Right:  float32(l.right) / float32(dstW),
		Bottom: float32(l.bottom) / float32(dstH),
	}
}

// LetterboxPadding returns the normalized border a letterbox resize of a
// srcW x srcH image into dstW x dstH adds. geometry.RemovePadding undoes it.
//
// Arguments:
//   - srcW, srcH: The source image size.
//   - dstW, dstH: The model input size.
//
// Returns:
//   - geometry.Padding: The border as fractions of the destination size.
func LetterboxPadding(srcW, srcH, dstW, dstH int) geometry.Padding {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return geometry.Padding{}
	}
	return letterboxLayout(srcW, srcH, dstW, dstH).padding(dstW, dstH)
}

// Letterbox resizes img to fit inside dstW x dstH and centres it on a black
// canvas.
//
// Arguments:
//   - img: The source image.
//   - dstW, dstH: The model input size.
//
// Returns:
//   - *image.RGBA: The dstW x dstH letterboxed image.
//   - geometry.Padding: The border that was added.
func Letterbox(img image.Image, dstW, dstH int) (*image.RGBA, geometry.Padding) {
	b := img.Bounds()
	l := letterboxLayout(b.Dx(), b.Dy(), dstW, dstH)

	resized := resize.Resize(uint(l.width), uint(l.height), img, resize.Bilinear)

	out := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	dst := image.Rect(l.left, l.top, l.left+l.width, l.top+l.height)
	draw.Draw(out, dst, resized, resized.Bounds().Min, draw.Src)

	return out, l.padding(dstW, dstH)
}
