package main

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-detections/detection"
	"github.com/nvr-ai/go-detections/images"
)

func openImage(in images.ImageFile) (image.Image, error) {
	file, err := os.Open(in.Path)
	if err != nil {
		return nil, errors.Wrap(err, "opening image")
	}
	defer file.Close()
	return images.Decode(file, in.Format)
}

// pixelRect converts a relative box to a pixel rectangle of a w x h image.
func pixelRect(b detection.BoundingBox, w, h int) image.Rectangle {
	return image.Rect(
		int(b.XMin*float32(w)), int(b.YMin*float32(h)),
		int(b.XMax()*float32(w)), int(b.YMax()*float32(h)),
	).Intersect(image.Rect(0, 0, w, h))
}

// annotate draws dets onto the image at src and writes the result to dst.
func annotate(src, dst string, dets []detection.Detection) error {
	img := gocv.IMRead(src, gocv.IMReadColor)
	if img.Empty() {
		return errors.Errorf("reading %s for annotation", src)
	}
	defer img.Close()

	green := color.RGBA{0, 255, 0, 0}
	w, h := img.Cols(), img.Rows()
	for _, d := range dets {
		rect := pixelRect(d.Box, w, h)
		gocv.Rectangle(&img, rect, green, 2)
		gocv.PutText(&img, formatLabel(d), rect.Min, gocv.FontHersheyPlain, 0.8, green, 1)
		for _, k := range d.Keypoints {
			gocv.Circle(&img, image.Pt(int(k.X*float32(w)), int(k.Y*float32(h))), 2, green, -1)
		}
	}

	if !gocv.IMWrite(dst, img) {
		return errors.Errorf("writing %s", dst)
	}
	return nil
}

func formatLabel(d detection.Detection) string {
	return fmt.Sprintf("%s %.2f", d.Label, d.Score)
}
