package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func faceConfig() Config {
	cfg := DefaultConfig()
	cfg.NumBoxes = 8
	cfg.NumCoords = 16
	cfg.NumClasses = 1
	cfg.NumKeypoints = 6
	cfg.KeypointCoordOffset = 4
	cfg.XScale, cfg.YScale, cfg.WScale, cfg.HScale = 128, 128, 128, 128
	cfg.SigmoidScore = true
	cfg.ScoreClippingThresh = Float32(100)
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "face detector", mutate: func(*Config) {}},
		{
			name:    "keypoint arithmetic",
			mutate:  func(c *Config) { c.NumCoords = 12 },
			wantErr: true,
		},
		{
			name:    "three values per keypoint",
			mutate:  func(c *Config) { c.NumValuesPerKeypoint = 3; c.NumCoords = 22 },
			wantErr: true,
		},
		{
			name:    "allow and ignore",
			mutate:  func(c *Config) { c.AllowClasses = []int{0}; c.IgnoreClasses = []int{1} },
			wantErr: true,
		},
		{
			name:   "allow only",
			mutate: func(c *Config) { c.AllowClasses = []int{0} },
		},
		{
			name:    "corner order too short",
			mutate:  func(c *Config) { c.BoxCornerOrder = []int{0, 1, 2} },
			wantErr: true,
		},
		{
			name:    "corner order repeats",
			mutate:  func(c *Config) { c.BoxCornerOrder = []int{0, 1, 1, 3} },
			wantErr: true,
		},
		{
			name:    "corner order out of range",
			mutate:  func(c *Config) { c.BoxCornerOrder = []int{0, 1, 2, 4} },
			wantErr: true,
		},
		{
			name:   "corner order permutation",
			mutate: func(c *Config) { c.BoxCornerOrder = []int{1, 0, 3, 2} },
		},
		{
			name:    "zero scale",
			mutate:  func(c *Config) { c.HScale = 0 },
			wantErr: true,
		},
		{
			name:    "non-positive clipping threshold",
			mutate:  func(c *Config) { c.ScoreClippingThresh = Float32(0) },
			wantErr: true,
		},
		{
			name:    "no boxes",
			mutate:  func(c *Config) { c.NumBoxes = 0 },
			wantErr: true,
		},
		{
			name:    "box offset past coords",
			mutate:  func(c *Config) { c.BoxCoordOffset = 13 },
			wantErr: true,
		},
		{
			name:    "keypoints past coords",
			mutate:  func(c *Config) { c.KeypointCoordOffset = 5 },
			wantErr: true,
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "nms" },
			wantErr: true,
		},
		{
			name: "conflicting tensor mapping",
			mutate: func(c *Config) {
				c.TensorMapping = &TensorMapping{Boxes: 0, Scores: 0, Anchors: NoTensor}
			},
			wantErr: true,
		},
		{
			name: "tensor mapping out of range",
			mutate: func(c *Config) {
				c.TensorMapping = &TensorMapping{Boxes: 0, Scores: 2, Anchors: NoTensor}
			},
			wantErr: true,
		},
		{
			name: "swapped tensor mapping",
			mutate: func(c *Config) {
				c.TensorMapping = &TensorMapping{Boxes: 1, Scores: 0, Anchors: NoTensor}
			},
		},
		{
			name: "pre-decoded without classes count",
			mutate: func(c *Config) {
				c.Mode = ModePreDecoded
				c.NumClasses = 0
			},
		},
		{
			name: "pre-decoded conflicting mapping",
			mutate: func(c *Config) {
				c.Mode = ModePreDecoded
				c.TensorMapping = &TensorMapping{Boxes: 0, Classes: 1, Scores: 1, NumDetections: 3}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := faceConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDefaultTensorMapping(t *testing.T) {
	raw := DefaultTensorMapping(ModeRaw)
	assert.Equal(t, 3, raw.Count(ModeRaw))
	assert.Equal(t, 0, raw.Boxes)
	assert.Equal(t, 1, raw.Scores)
	assert.Equal(t, 2, raw.Anchors)

	noAnchors := raw
	noAnchors.Anchors = NoTensor
	assert.Equal(t, 2, noAnchors.Count(ModeRaw))

	pre := DefaultTensorMapping(ModePreDecoded)
	assert.Equal(t, 4, pre.Count(ModePreDecoded))
	assert.Equal(t, TensorMapping{Boxes: 0, Classes: 1, Scores: 2, NumDetections: 3, Anchors: NoTensor}, pre)
}

func TestConfigCornerOrder(t *testing.T) {
	cfg := faceConfig()
	assert.Equal(t, DefaultBoxCornerOrder, cfg.CornerOrder())

	cfg.BoxCornerOrder = []int{1, 0, 3, 2}
	assert.Equal(t, [4]int{1, 0, 3, 2}, cfg.CornerOrder())
}

func TestClassFilter(t *testing.T) {
	var all ClassFilter
	for i := 0; i < 5; i++ {
		assert.True(t, all.Allowed(i))
	}

	allow, err := NewClassFilter([]int{1, 3}, nil)
	require.NoError(t, err)
	assert.False(t, allow.Allowed(0))
	assert.True(t, allow.Allowed(1))
	assert.True(t, allow.Allowed(3))

	ignore, err := NewClassFilter(nil, []int{1})
	require.NoError(t, err)
	assert.True(t, ignore.Allowed(0))
	assert.False(t, ignore.Allowed(1))

	_, err = NewClassFilter([]int{0}, []int{1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
