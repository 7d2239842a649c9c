// Package detection - Detection records produced by the decoder and consumed downstream.
package detection

import (
	"fmt"
)

// BoxFormat identifies the coordinate space of a detection's bounding box.
type BoxFormat string

const (
	// FormatRelative is a bounding box normalized to [0,1] of the image dimensions.
	FormatRelative BoxFormat = "relative"
	// FormatPixel is a bounding box in absolute pixel units.
	FormatPixel BoxFormat = "pixel"
)

// LabelKind tags which form a Label carries.
type LabelKind int

const (
	// LabelNone is the zero value: no label was assigned.
	LabelNone LabelKind = iota
	// LabelID is an integer class index.
	LabelID
	// LabelName is a string class name.
	LabelName
)

// Label is a class identity carried by a detection. It holds either an integer
// class index or a string name, never both.
type Label struct {
	kind LabelKind
	id   int
	name string
}

// IDLabel returns a label carrying the integer class index.
func IDLabel(id int) Label {
	return Label{kind: LabelID, id: id}
}

// NameLabel returns a label carrying a class name.
func NameLabel(name string) Label {
	return Label{kind: LabelName, name: name}
}

// Kind reports which form the label carries.
func (l Label) Kind() LabelKind {
	return l.kind
}

// ID returns the class index and whether the label is in integer form.
func (l Label) ID() (int, bool) {
	return l.id, l.kind == LabelID
}

// Name returns the class name and whether the label is in string form.
func (l Label) Name() (string, bool) {
	return l.name, l.kind == LabelName
}

func (l Label) String() string {
	switch l.kind {
	case LabelID:
		return fmt.Sprintf("%d", l.id)
	case LabelName:
		return l.name
	default:
		return "<none>"
	}
}

// BoundingBox is an axis-aligned box described by its top-left corner and size.
type BoundingBox struct {
	XMin   float32 `json:"xmin"   yaml:"xmin"`
	YMin   float32 `json:"ymin"   yaml:"ymin"`
	Width  float32 `json:"width"  yaml:"width"`
	Height float32 `json:"height" yaml:"height"`
}

// XMax returns the right edge of the box.
func (b BoundingBox) XMax() float32 {
	return b.XMin + b.Width
}

// YMax returns the bottom edge of the box.
func (b BoundingBox) YMax() float32 {
	return b.YMin + b.Height
}

// Area returns width*height, or zero for an empty box.
func (b BoundingBox) Area() float32 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Keypoint is a single landmark of a detection.
type Keypoint struct {
	X float32 `json:"x" yaml:"x"`
	Y float32 `json:"y" yaml:"y"`
}

// Detection is a single decoded object.
type Detection struct {
	Score     float32     `json:"score"`
	Label     Label       `json:"-"`
	Format    BoxFormat   `json:"format"`
	Box       BoundingBox `json:"box"`
	Keypoints []Keypoint  `json:"keypoints,omitempty"`
}

// Clone returns a deep copy of d.
func (d Detection) Clone() Detection {
	out := d
	if d.Keypoints != nil {
		out.Keypoints = make([]Keypoint, len(d.Keypoints))
		copy(out.Keypoints, d.Keypoints)
	}
	return out
}

func (d Detection) String() string {
	return fmt.Sprintf("Object %s (score %f): (%f, %f) %fx%f",
		d.Label, d.Score, d.Box.XMin, d.Box.YMin, d.Box.Width, d.Box.Height)
}

// IoU returns the intersection over union of two boxes in the same coordinate space.
// Boxes that do not overlap, or have no area, yield 0.
func IoU(a, b BoundingBox) float32 {
	ix1 := max(a.XMin, b.XMin)
	iy1 := max(a.YMin, b.YMin)
	ix2 := min(a.XMax(), b.XMax())
	iy2 := min(a.YMax(), b.YMax())

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
