package anchors

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func randomAnchors(r *rand.Rand, n int) []Anchor {
	out := make([]Anchor, n)
	for i := range out {
		out[i] = Anchor{
			YCenter: r.Float32(),
			XCenter: r.Float32(),
			H:       r.Float32(),
			W:       r.Float32(),
		}
	}
	return out
}

func TestFlatRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, n := range []int{0, 1, 17, 896} {
		list := randomAnchors(r, n)
		back, err := FromFlat(Flatten(list))
		require.NoError(t, err)
		assert.Equal(t, len(list), len(back))
		for i := range list {
			assert.Equal(t, list[i], back[i])
		}
	}
}

func TestFromFlatRejectsPartialAnchor(t *testing.T) {
	_, err := FromFlat([]float32{1, 2, 3})
	assert.True(t, errors.Is(err, ErrInvalidAnchors))
}

func TestTensorRoundTrip(t *testing.T) {
	list := randomAnchors(rand.New(rand.NewSource(2)), 12)
	back, err := FromTensor(ToTensor(list))
	require.NoError(t, err)
	assert.Equal(t, list, back)
}

func TestFromTensorShape(t *testing.T) {
	bad := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(3, 5), tensor.WithBacking(make([]float32, 15)))
	_, err := FromTensor(bad)
	assert.True(t, errors.Is(err, ErrInvalidAnchors))

	_, err = FromTensor(nil)
	assert.True(t, errors.Is(err, ErrInvalidAnchors))
}

func TestStoreLifecycle(t *testing.T) {
	SetLogger(nil)

	s := NewStore(2)
	assert.Equal(t, Uninitialized, s.State())

	_, err := s.Get()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = s.Flat()
	assert.ErrorIs(t, err, ErrNotInitialized)

	list := []Anchor{{0.1, 0.2, 0.3, 0.4}, {0.5, 0.6, 0.7, 0.8}}
	require.NoError(t, s.InitializeList(list, SourceSideInput))
	assert.Equal(t, Initialized, s.State())
	assert.Equal(t, SourceSideInput, s.Source())

	got, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, list, got)

	flat, err := s.Flat()
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}, flat)

	// Mutating the caller's slice does not reach the store.
	list[0].H = 99
	got, _ = s.Get()
	assert.Equal(t, float32(0.3), got[0].H)
}

func TestStoreRejectsSecondInitialization(t *testing.T) {
	SetLogger(nil)

	s := NewStore(1)
	require.NoError(t, s.InitializeFlat([]float32{0.5, 0.5, 1, 1}))

	err := s.InitializeFlat([]float32{0, 0, 0, 0})
	assert.True(t, errors.Is(err, ErrAlreadyInitialized))
	err = s.InitializeTensor(ToTensor([]Anchor{{}}))
	assert.True(t, errors.Is(err, ErrAlreadyInitialized))
	assert.Panics(t, func() { s.MustInitialize([]Anchor{{}}, SourceSideInput) })

	got, err := s.Get()
	require.NoError(t, err)
	assert.Equal(t, []Anchor{{YCenter: 0.5, XCenter: 0.5, H: 1, W: 1}}, got)
	assert.Equal(t, SourceFlat, s.Source())
}

func TestStoreRejectsWrongCount(t *testing.T) {
	SetLogger(nil)

	s := NewStore(3)
	err := s.InitializeList([]Anchor{{}}, SourceSideInput)
	assert.True(t, errors.Is(err, ErrInvalidAnchors))
	assert.Equal(t, Uninitialized, s.State())
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name      string
		opts      func() GenerateOptions
		wantCount int
		check     func(t *testing.T, got []Anchor)
	}{
		{
			name: "face detection short range",
			opts: func() GenerateOptions {
				o := DefaultGenerateOptions()
				o.InputSizeWidth, o.InputSizeHeight = 128, 128
				o.MinScale, o.MaxScale = 0.1484375, 0.75
				o.NumLayers = 4
				o.Strides = []int{8, 16, 16, 16}
				o.AspectRatios = []float32{1.0}
				o.FixedAnchorSize = true
				return o
			},
			// 16*16*2 + 8*8*6
			wantCount: 896,
			check: func(t *testing.T, got []Anchor) {
				assert.Equal(t, Anchor{YCenter: 0.5 / 16, XCenter: 0.5 / 16, H: 1, W: 1}, got[0])
				assert.Equal(t, got[0], got[1])
				last := got[len(got)-1]
				assert.InDelta(t, 7.5/8, last.XCenter, 1e-6)
				assert.InDelta(t, 7.5/8, last.YCenter, 1e-6)
			},
		},
		{
			name: "single layer uses mid scale",
			opts: func() GenerateOptions {
				o := DefaultGenerateOptions()
				o.InputSizeWidth, o.InputSizeHeight = 4, 4
				o.MinScale, o.MaxScale = 0.2, 0.4
				o.NumLayers = 1
				o.Strides = []int{4}
				o.AspectRatios = []float32{1.0}
				o.InterpolatedScaleAspectRatio = 0
				return o
			},
			wantCount: 1,
			check: func(t *testing.T, got []Anchor) {
				assert.InDelta(t, 0.3, got[0].W, 1e-6)
				assert.InDelta(t, 0.3, got[0].H, 1e-6)
				assert.InDelta(t, 0.5, got[0].XCenter, 1e-6)
			},
		},
		{
			name: "reduced lowest layer",
			opts: func() GenerateOptions {
				o := DefaultGenerateOptions()
				o.MinScale, o.MaxScale = 0.2, 0.95
				o.NumLayers = 2
				o.Strides = []int{16, 32}
				o.FeatureMapWidth = []int{2, 1}
				o.FeatureMapHeight = []int{2, 1}
				o.AspectRatios = []float32{1.0, 2.0}
				o.ReduceBoxesInLowestLayer = true
				return o
			},
			// layer 0: 2*2*3, layer 1: 1*1*(2+1)
			wantCount: 15,
			check: func(t *testing.T, got []Anchor) {
				assert.InDelta(t, 0.1, got[0].W, 1e-6)
				assert.InDelta(t, 0.1, got[0].H, 1e-6)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Generate(tt.opts())
			require.NoError(t, err)
			require.Len(t, got, tt.wantCount)
			tt.check(t, got)
		})
	}
}

func TestGenerateValidation(t *testing.T) {
	o := DefaultGenerateOptions()
	o.NumLayers = 2
	o.Strides = []int{8}
	_, err := Generate(o)
	assert.True(t, errors.Is(err, ErrInvalidAnchors))

	o.Strides = []int{8, 16}
	_, err = Generate(o)
	assert.True(t, errors.Is(err, ErrInvalidAnchors), "missing input size")
}
