package decoder

import (
	"github.com/pkg/errors"
)

// InputMode selects which tensors a frame carries.
type InputMode string

const (
	// ModeRaw is box regressions + class scores (+ optional anchors), decoded here.
	ModeRaw InputMode = "raw"
	// ModePreDecoded is boxes, classes, scores and a detection count that were
	// already decoded and suppressed inside the model graph.
	ModePreDecoded InputMode = "pre_decoded"
)

// NoTensor marks a tensor role that has no input index.
const NoTensor = -1

// TensorMapping assigns input tensor indices to roles. It is resolved once at
// setup from the input mode and never changes per frame.
type TensorMapping struct {
	Boxes  int `json:"boxes"  yaml:"boxes"`
	Scores int `json:"scores" yaml:"scores"`
	// Anchors is the optional anchor tensor in raw mode, NoTensor when absent.
	Anchors int `json:"anchors" yaml:"anchors"`
	// Classes and NumDetections are used in pre-decoded mode only.
	Classes       int `json:"classes"        yaml:"classes"`
	NumDetections int `json:"num_detections" yaml:"num_detections"`
}

// DefaultTensorMapping returns the conventional tensor order for a mode.
func DefaultTensorMapping(mode InputMode) TensorMapping {
	if mode == ModePreDecoded {
		return TensorMapping{Boxes: 0, Classes: 1, Scores: 2, NumDetections: 3, Anchors: NoTensor}
	}
	return TensorMapping{Boxes: 0, Scores: 1, Anchors: 2, Classes: NoTensor, NumDetections: NoTensor}
}

func (m TensorMapping) roles(mode InputMode) map[string]int {
	if mode == ModePreDecoded {
		return map[string]int{
			"boxes":          m.Boxes,
			"classes":        m.Classes,
			"scores":         m.Scores,
			"num_detections": m.NumDetections,
		}
	}
	r := map[string]int{"boxes": m.Boxes, "scores": m.Scores}
	if m.Anchors != NoTensor {
		r["anchors"] = m.Anchors
	}
	return r
}

func (m TensorMapping) validate(mode InputMode) error {
	roles := m.roles(mode)
	seen := make(map[int]string, len(roles))
	for role, idx := range roles {
		if idx < 0 || idx >= len(roles) {
			return errors.Wrapf(ErrInvalidConfig, "tensor index for %s is %d, want [0,%d)", role, idx, len(roles))
		}
		if other, ok := seen[idx]; ok {
			return errors.Wrapf(ErrInvalidConfig, "tensor index %d assigned to both %s and %s", idx, other, role)
		}
		seen[idx] = role
	}
	return nil
}

// Count returns how many tensors a frame carries in the given mode, counting
// the optional anchor tensor.
func (m TensorMapping) Count(mode InputMode) int {
	return len(m.roles(mode))
}

// DefaultBoxCornerOrder reads corners as [ymin, xmin, ymax, xmax].
var DefaultBoxCornerOrder = [4]int{0, 1, 2, 3}

// Config is the decoding configuration, resolved once at setup.
type Config struct {
	Mode InputMode `json:"mode" yaml:"mode"`

	NumClasses           int `json:"num_classes"             yaml:"num_classes"`
	NumBoxes             int `json:"num_boxes"               yaml:"num_boxes"`
	NumCoords            int `json:"num_coords"              yaml:"num_coords"`
	NumKeypoints         int `json:"num_keypoints"           yaml:"num_keypoints"`
	NumValuesPerKeypoint int `json:"num_values_per_keypoint" yaml:"num_values_per_keypoint"`
	BoxCoordOffset       int `json:"box_coord_offset"        yaml:"box_coord_offset"`
	KeypointCoordOffset  int `json:"keypoint_coord_offset"   yaml:"keypoint_coord_offset"`

	XScale float32 `json:"x_scale" yaml:"x_scale"`
	YScale float32 `json:"y_scale" yaml:"y_scale"`
	HScale float32 `json:"h_scale" yaml:"h_scale"`
	WScale float32 `json:"w_scale" yaml:"w_scale"`

	ReverseOutputOrder        bool `json:"reverse_output_order"          yaml:"reverse_output_order"`
	ApplyExponentialOnBoxSize bool `json:"apply_exponential_on_box_size" yaml:"apply_exponential_on_box_size"`
	SigmoidScore              bool `json:"sigmoid_score"                 yaml:"sigmoid_score"`
	FlipVertically            bool `json:"flip_vertically"               yaml:"flip_vertically"`

	// Optional thresholds; nil means not configured.
	ScoreClippingThresh *float32 `json:"score_clipping_thresh,omitempty" yaml:"score_clipping_thresh,omitempty"`
	MinScoreThresh      *float32 `json:"min_score_thresh,omitempty"      yaml:"min_score_thresh,omitempty"`
	MaxResults          *int     `json:"max_results,omitempty"           yaml:"max_results,omitempty"`

	// AllowClasses and IgnoreClasses are mutually exclusive.
	AllowClasses  []int `json:"allow_classes,omitempty"  yaml:"allow_classes,omitempty"`
	IgnoreClasses []int `json:"ignore_classes,omitempty" yaml:"ignore_classes,omitempty"`

	// BoxCornerOrder gives the positions of ymin, xmin, ymax, xmax within a
	// decoded box. Empty means DefaultBoxCornerOrder.
	BoxCornerOrder []int `json:"box_corner_order,omitempty" yaml:"box_corner_order,omitempty"`

	// TensorMapping overrides DefaultTensorMapping(Mode).
	TensorMapping *TensorMapping `json:"tensor_mapping,omitempty" yaml:"tensor_mapping,omitempty"`

	// LabelMap optionally names class indices.
	LabelMap map[int]string `json:"label_map,omitempty" yaml:"label_map,omitempty"`
}

// DefaultConfig returns a configuration with unit scales and two values per
// keypoint. Box, class and coordinate counts must be filled in.
//
// Returns:
//   - Config: the base configuration.
//
// @example
// cfg := DefaultConfig()
// cfg.NumBoxes, cfg.NumCoords, cfg.NumClasses = 896, 16, 1
// cfg.NumKeypoints, cfg.KeypointCoordOffset = 6, 4
func DefaultConfig() Config {
	return Config{
		Mode:                 ModeRaw,
		NumValuesPerKeypoint: 2,
		XScale:               1,
		YScale:               1,
		HScale:               1,
		WScale:               1,
	}
}

// Float32 returns a pointer to v, for the optional threshold fields.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v, for the optional count fields.
func Int(v int) *int { return &v }

// Mapping returns the effective tensor mapping.
func (c Config) Mapping() TensorMapping {
	if c.TensorMapping != nil {
		return *c.TensorMapping
	}
	return DefaultTensorMapping(c.Mode)
}

// CornerOrder returns the effective box corner order.
func (c Config) CornerOrder() [4]int {
	if len(c.BoxCornerOrder) == 0 {
		return DefaultBoxCornerOrder
	}
	var out [4]int
	copy(out[:], c.BoxCornerOrder)
	return out
}

// Validate checks every setup-time invariant of the configuration.
func (c Config) Validate() error {
	if c.Mode != ModeRaw && c.Mode != ModePreDecoded {
		return errors.Wrapf(ErrInvalidConfig, "unknown mode %q", c.Mode)
	}
	if c.NumBoxes <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "num_boxes must be positive, got %d", c.NumBoxes)
	}
	if c.Mode == ModeRaw && c.NumClasses <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "num_classes must be positive, got %d", c.NumClasses)
	}
	if c.NumValuesPerKeypoint != 2 {
		return errors.Wrapf(ErrInvalidConfig, "num_values_per_keypoint must be 2, got %d", c.NumValuesPerKeypoint)
	}
	if c.NumKeypoints < 0 {
		return errors.Wrapf(ErrInvalidConfig, "num_keypoints must not be negative, got %d", c.NumKeypoints)
	}
	if want := c.NumKeypoints*c.NumValuesPerKeypoint + 4; want != c.NumCoords {
		return errors.Wrapf(ErrInvalidConfig, "num_keypoints*num_values_per_keypoint+4 (%d) != num_coords (%d)",
			want, c.NumCoords)
	}
	if err := c.validateOffsets(); err != nil {
		return err
	}
	if c.Mode == ModeRaw {
		for name, s := range map[string]float32{"x_scale": c.XScale, "y_scale": c.YScale, "h_scale": c.HScale, "w_scale": c.WScale} {
			if s == 0 {
				return errors.Wrapf(ErrInvalidConfig, "%s must be non-zero", name)
			}
		}
	}
	if c.ScoreClippingThresh != nil && *c.ScoreClippingThresh <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "score_clipping_thresh must be positive, got %v", *c.ScoreClippingThresh)
	}
	if len(c.AllowClasses) > 0 && len(c.IgnoreClasses) > 0 {
		return errors.Wrap(ErrInvalidConfig, "allow_classes and ignore_classes are mutually exclusive")
	}
	if err := validateCornerOrder(c.BoxCornerOrder); err != nil {
		return err
	}
	return c.Mapping().validate(c.Mode)
}

func (c Config) validateOffsets() error {
	if c.BoxCoordOffset < 0 || c.KeypointCoordOffset < 0 {
		return errors.Wrapf(ErrInvalidConfig, "coordinate offsets must not be negative (box %d, keypoint %d)",
			c.BoxCoordOffset, c.KeypointCoordOffset)
	}
	if c.BoxCoordOffset+4 > c.NumCoords {
		return errors.Wrapf(ErrInvalidConfig, "box_coord_offset+4 (%d) exceeds num_coords (%d)",
			c.BoxCoordOffset+4, c.NumCoords)
	}
	if c.NumKeypoints == 0 {
		return nil
	}
	end := c.KeypointCoordOffset + c.NumKeypoints*c.NumValuesPerKeypoint
	if c.Mode == ModeRaw {
		end += c.BoxCoordOffset
	}
	if end > c.NumCoords {
		return errors.Wrapf(ErrInvalidConfig, "keypoints end at %d, beyond num_coords (%d)", end, c.NumCoords)
	}
	return nil
}

func validateCornerOrder(order []int) error {
	if len(order) == 0 {
		return nil
	}
	if len(order) != 4 {
		return errors.Wrapf(ErrInvalidConfig, "box_corner_order must have 4 entries, got %d", len(order))
	}
	var seen [4]bool
	for _, idx := range order {
		if idx < 0 || idx > 3 || seen[idx] {
			return errors.Wrapf(ErrInvalidConfig, "box_corner_order %v is not a permutation of 0..3", order)
		}
		seen[idx] = true
	}
	return nil
}

// ClassFilter decides whether a class index takes part in selection.
// The zero value allows every class.
type ClassFilter struct {
	allow  map[int]struct{}
	ignore map[int]struct{}
}

// NewClassFilter builds a filter from an allow-list or a deny-list.
func NewClassFilter(allow, ignore []int) (ClassFilter, error) {
	if len(allow) > 0 && len(ignore) > 0 {
		return ClassFilter{}, errors.Wrap(ErrInvalidConfig, "allow_classes and ignore_classes are mutually exclusive")
	}
	f := ClassFilter{}
	if len(allow) > 0 {
		f.allow = toSet(allow)
	}
	if len(ignore) > 0 {
		f.ignore = toSet(ignore)
	}
	return f, nil
}

func toSet(ids []int) map[int]struct{} {
	s := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Allowed reports whether class index idx passes the filter.
func (f ClassFilter) Allowed(idx int) bool {
	if f.allow != nil {
		_, ok := f.allow[idx]
		return ok
	}
	if f.ignore != nil {
		_, ok := f.ignore[idx]
		return !ok
	}
	return true
}
