package anchors

import (
	"math"

	"github.com/pkg/errors"
)

// GenerateOptions describes an SSD anchor grid.
type GenerateOptions struct {
	// Model input size in pixels.
	InputSizeWidth  int `json:"input_size_width"  yaml:"input_size_width"`
	InputSizeHeight int `json:"input_size_height" yaml:"input_size_height"`

	// Scale range across layers.
	MinScale float32 `json:"min_scale" yaml:"min_scale"`
	MaxScale float32 `json:"max_scale" yaml:"max_scale"`

	NumLayers int   `json:"num_layers" yaml:"num_layers"`
	Strides   []int `json:"strides"    yaml:"strides"`

	// Optional explicit feature map sizes, one per layer. When empty the sizes
	// are derived from the strides.
	FeatureMapWidth  []int `json:"feature_map_width,omitempty"  yaml:"feature_map_width,omitempty"`
	FeatureMapHeight []int `json:"feature_map_height,omitempty" yaml:"feature_map_height,omitempty"`

	AspectRatios []float32 `json:"aspect_ratios" yaml:"aspect_ratios"`

	AnchorOffsetX float32 `json:"anchor_offset_x" yaml:"anchor_offset_x"`
	AnchorOffsetY float32 `json:"anchor_offset_y" yaml:"anchor_offset_y"`

	ReduceBoxesInLowestLayer     bool    `json:"reduce_boxes_in_lowest_layer"     yaml:"reduce_boxes_in_lowest_layer"`
	InterpolatedScaleAspectRatio float32 `json:"interpolated_scale_aspect_ratio" yaml:"interpolated_scale_aspect_ratio"`

	// FixedAnchorSize sets every anchor's w and h to 1.
	FixedAnchorSize bool `json:"fixed_anchor_size" yaml:"fixed_anchor_size"`
}

// DefaultGenerateOptions returns the offsets and interpolation ratio most SSD
// models are trained with. Sizes, scales and strides must still be filled in.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		AnchorOffsetX:                0.5,
		AnchorOffsetY:                0.5,
		InterpolatedScaleAspectRatio: 1.0,
	}
}

func (o GenerateOptions) validate() error {
	if o.NumLayers <= 0 {
		return errors.Wrapf(ErrInvalidAnchors, "num_layers must be positive, got %d", o.NumLayers)
	}
	if len(o.Strides) != o.NumLayers {
		return errors.Wrapf(ErrInvalidAnchors, "len(strides) (%d) != num_layers (%d)", len(o.Strides), o.NumLayers)
	}
	if len(o.FeatureMapWidth) != len(o.FeatureMapHeight) {
		return errors.Wrapf(ErrInvalidAnchors, "feature_map_width has %d entries, feature_map_height has %d",
			len(o.FeatureMapWidth), len(o.FeatureMapHeight))
	}
	if len(o.FeatureMapHeight) > 0 && len(o.FeatureMapHeight) != o.NumLayers {
		return errors.Wrapf(ErrInvalidAnchors, "len(feature_map_height) (%d) != num_layers (%d)",
			len(o.FeatureMapHeight), o.NumLayers)
	}
	if len(o.FeatureMapHeight) == 0 {
		if o.InputSizeWidth <= 0 || o.InputSizeHeight <= 0 {
			return errors.Wrapf(ErrInvalidAnchors, "input size must be positive, got %dx%d",
				o.InputSizeWidth, o.InputSizeHeight)
		}
		for i, s := range o.Strides {
			if s <= 0 {
				return errors.Wrapf(ErrInvalidAnchors, "strides[%d] must be positive, got %d", i, s)
			}
		}
	}
	return nil
}

func calculateScale(minScale, maxScale float32, strideIndex, numStrides int) float32 {
	if numStrides == 1 {
		return (minScale + maxScale) * 0.5
	}
	return minScale + (maxScale-minScale)*float32(strideIndex)/float32(numStrides-1)
}

// Generate builds the anchor list for an SSD feature pyramid. Consecutive layers
// with equal strides share one feature map.
func Generate(o GenerateOptions) ([]Anchor, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}

	var out []Anchor
	layer := 0
	for layer < o.NumLayers {
		var ratios, scales []float32

		last := layer
		for last < len(o.Strides) && o.Strides[last] == o.Strides[layer] {
			scale := calculateScale(o.MinScale, o.MaxScale, last, len(o.Strides))
			if last == 0 && o.ReduceBoxesInLowestLayer {
				ratios = append(ratios, 1.0, 2.0, 0.5)
				scales = append(scales, 0.1, scale, scale)
			} else {
				for _, ar := range o.AspectRatios {
					ratios = append(ratios, ar)
					scales = append(scales, scale)
				}
				if o.InterpolatedScaleAspectRatio > 0 {
					next := float32(1.0)
					if last != len(o.Strides)-1 {
						next = calculateScale(o.MinScale, o.MaxScale, last+1, len(o.Strides))
					}
					scales = append(scales, float32(math.Sqrt(float64(scale*next))))
					ratios = append(ratios, o.InterpolatedScaleAspectRatio)
				}
			}
			last++
		}

		heights := make([]float32, len(ratios))
		widths := make([]float32, len(ratios))
		for i, r := range ratios {
			sq := float32(math.Sqrt(float64(r)))
			heights[i] = scales[i] / sq
			widths[i] = scales[i] * sq
		}

		var fw, fh int
		if len(o.FeatureMapHeight) > 0 {
			fw = o.FeatureMapWidth[layer]
			fh = o.FeatureMapHeight[layer]
		} else {
			stride := o.Strides[layer]
			fw = int(math.Ceil(float64(o.InputSizeWidth) / float64(stride)))
			fh = int(math.Ceil(float64(o.InputSizeHeight) / float64(stride)))
		}

		for y := 0; y < fh; y++ {
			for x := 0; x < fw; x++ {
				for i := range heights {
					a := Anchor{
						XCenter: (float32(x) + o.AnchorOffsetX) / float32(fw),
						YCenter: (float32(y) + o.AnchorOffsetY) / float32(fh),
						W:       widths[i],
						H:       heights[i],
					}
					if o.FixedAnchorSize {
						a.W, a.H = 1, 1
					}
					out = append(out, a)
				}
			}
		}

		layer = last
	}
	return out, nil
}
