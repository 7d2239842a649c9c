package postprocess

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detections/detection"
)

func det(score float32, class int, x, y, w, h float32) detection.Detection {
	return detection.Detection{
		Score:  score,
		Label:  detection.IDLabel(class),
		Format: detection.FormatRelative,
		Box:    detection.BoundingBox{XMin: x, YMin: y, Width: w, Height: h},
	}
}

func scores(dets []detection.Detection) []float32 {
	out := make([]float32, len(dets))
	for i, d := range dets {
		out[i] = d.Score
	}
	return out
}

func TestApplyGreedyNMS(t *testing.T) {
	input := []detection.Detection{
		det(0.6, 0, 0.12, 0.1, 0.3, 0.3), // overlaps the best box
		det(0.9, 0, 0.1, 0.1, 0.3, 0.3),
		det(0.7, 1, 0.6, 0.6, 0.2, 0.2),
		det(0.5, 1, 0.11, 0.1, 0.3, 0.3), // overlaps, other class
	}

	tests := []struct {
		name   string
		config NMSConfig
		want   []float32
	}{
		{
			name:   "class agnostic",
			config: NMSConfig{IoUThreshold: 0.5},
			want:   []float32{0.9, 0.7},
		},
		{
			name:   "class aware",
			config: NMSConfig{IoUThreshold: 0.5, ClassAware: true},
			want:   []float32{0.9, 0.7, 0.5},
		},
		{
			name:   "threshold above every overlap",
			config: NMSConfig{IoUThreshold: 0.99},
			want:   []float32{0.9, 0.7, 0.6, 0.5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyGreedyNMS(input, tt.config)
			assert.Equal(t, tt.want, scores(got))
		})
	}

	assert.Equal(t, float32(0.6), input[0].Score, "input must not be reordered")
	assert.Nil(t, ApplyGreedyNMS(nil, NMSConfig{}))
}

func TestApplyWeightedNMS(t *testing.T) {
	a := det(0.75, 0, 0.1, 0.1, 0.4, 0.4)
	a.Keypoints = []detection.Keypoint{{X: 0.2, Y: 0.2}}
	b := det(0.25, 0, 0.14, 0.1, 0.4, 0.4)
	b.Keypoints = []detection.Keypoint{{X: 0.6, Y: 0.2}}
	c := det(0.5, 0, 0.7, 0.7, 0.1, 0.1)

	got := ApplyWeightedNMS([]detection.Detection{b, c, a}, NMSConfig{Algorithm: Weighted, IoUThreshold: 0.5})
	require.Len(t, got, 2)

	m := got[0]
	assert.Equal(t, float32(0.75), m.Score)
	assert.InDelta(t, 0.11, m.Box.XMin, 1e-6)
	assert.InDelta(t, 0.1, m.Box.YMin, 1e-6)
	assert.InDelta(t, 0.4, m.Box.Width, 1e-6)
	require.Len(t, m.Keypoints, 1)
	assert.InDelta(t, 0.3, m.Keypoints[0].X, 1e-6)
	assert.InDelta(t, 0.2, m.Keypoints[0].Y, 1e-6)

	assert.Equal(t, c, got[1])
	assert.Equal(t, float32(0.2), a.Keypoints[0].X, "input keypoints must not be modified")
}

func TestApplyDispatch(t *testing.T) {
	input := []detection.Detection{det(0.9, 0, 0, 0, 0.5, 0.5), det(0.8, 0, 0.01, 0, 0.5, 0.5)}

	greedy := Apply(input, NMSConfig{IoUThreshold: 0.5})
	require.Len(t, greedy, 1)
	assert.Equal(t, input[0], greedy[0])

	weighted := Apply(input, NMSConfig{Algorithm: Weighted, IoUThreshold: 0.5})
	require.Len(t, weighted, 1)
	assert.Greater(t, weighted[0].Box.XMin, float32(0))
}

func TestNMSConfigValidate(t *testing.T) {
	assert.NoError(t, NMSConfig{IoUThreshold: 0.3}.Validate())
	assert.NoError(t, NMSConfig{Algorithm: Weighted, IoUThreshold: 0.3}.Validate())
	assert.ErrorIs(t, NMSConfig{Algorithm: "soft", IoUThreshold: 0.3}.Validate(), ErrInvalidNMSConfig)
	assert.ErrorIs(t, NMSConfig{IoUThreshold: 1.5}.Validate(), ErrInvalidNMSConfig)
}

// BenchmarkApplyGreedyNMS suppresses detections clustered around a few centres,
// as an object detector produces them.
func BenchmarkApplyGreedyNMS(b *testing.B) {
	const numDetections = 100
	r := rand.New(rand.NewSource(1))
	centres := [][2]float32{{0.25, 0.3}, {0.6, 0.55}, {0.15, 0.8}}

	detections := make([]detection.Detection, numDetections)
	for i := range detections {
		c := centres[i%len(centres)]
		w, h := 0.05+r.Float32()*0.1, 0.05+r.Float32()*0.1
		x := c[0] + (r.Float32()-0.5)*0.2 - w/2
		y := c[1] + (r.Float32()-0.5)*0.2 - h/2
		detections[i] = det(r.Float32(), i%2, x, y, w, h)
	}
	config := NMSConfig{IoUThreshold: 0.45, ClassAware: true}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		ApplyGreedyNMS(detections, config)
	}
}
