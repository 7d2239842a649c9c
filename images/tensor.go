package images

import (
	"image"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ToCHW writes img into dst as planar RGB scaled to [0,1], the layout most
// detection models take as input.
//
// Arguments:
//   - img: The (already letterboxed) image.
//   - dst: Destination of at least 3*width*height floats.
//
// Returns:
//   - error: An error if dst is too small.
func ToCHW(img image.Image, dst []float32) error {
	b := img.Bounds()
	channelSize := b.Dx() * b.Dy()
	if len(dst) < channelSize*3 {
		return errors.Errorf("destination holds %d floats, needs %d", len(dst), channelSize*3)
	}
	red := dst[0:channelSize]
	green := dst[channelSize : channelSize*2]
	blue := dst[channelSize*2 : channelSize*3]

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			red[i] = float32(r>>8) / 255.0
			green[i] = float32(g>>8) / 255.0
			blue[i] = float32(bl>>8) / 255.0
			i++
		}
	}
	return nil
}

// ToTensor converts img to a [1, 3, height, width] float32 tensor.
func ToTensor(img image.Image) *tensor.Dense {
	b := img.Bounds()
	data := make([]float32, 3*b.Dx()*b.Dy())
	// The buffer is sized for img, so ToCHW cannot fail.
	_ = ToCHW(img, data)
	return tensor.New(tensor.WithShape(1, 3, b.Dy(), b.Dx()), tensor.WithBacking(data))
}
