package decoder

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClippedSigmoidRange(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for _, thresh := range []float32{0.5, 1, 10, 15} {
		act := activation(Config{SigmoidScore: true, ScoreClippingThresh: Float32(thresh)})
		for i := 0; i < 500; i++ {
			s := (r.Float32()*2 - 1) * 1000
			v := act(s)
			assert.Greater(t, v, float32(0), "s=%v t=%v", s, thresh)
			assert.Less(t, v, float32(1), "s=%v t=%v", s, thresh)
		}
	}
}

func TestClippedSigmoidMonotonic(t *testing.T) {
	const thresh = 6
	act := activation(Config{SigmoidScore: true, ScoreClippingThresh: Float32(thresh)})

	prev := act(-thresh)
	for s := float32(-thresh) + 0.25; s <= thresh; s += 0.25 {
		v := act(s)
		assert.Greater(t, v, prev, "s=%v", s)
		prev = v
	}
	assert.Equal(t, act(thresh), act(thresh*10))
	assert.Equal(t, act(-thresh), act(-thresh*10))
}

func TestActivationDisabled(t *testing.T) {
	assert.Nil(t, activation(Config{ScoreClippingThresh: Float32(1)}))
}

func TestSelectTopClass(t *testing.T) {
	allowAll := ClassFilter{}
	ignoreFirst, err := NewClassFilter(nil, []int{0})
	require.NoError(t, err)
	allowMissing, err := NewClassFilter([]int{9}, nil)
	require.NoError(t, err)

	tests := []struct {
		name      string
		row       []float32
		cfg       Config
		filter    ClassFilter
		wantScore float32
		wantClass int
	}{
		{
			name:      "raw maximum",
			row:       []float32{0.1, 0.7, 0.3},
			filter:    allowAll,
			wantScore: 0.7,
			wantClass: 1,
		},
		{
			name:      "tie keeps lowest index",
			row:       []float32{0.2, 0.9, 0.9, 0.1},
			filter:    allowAll,
			wantScore: 0.9,
			wantClass: 1,
		},
		{
			name:      "ignored class is skipped",
			row:       []float32{0.9, 0.4, 0.5},
			filter:    ignoreFirst,
			wantScore: 0.5,
			wantClass: 2,
		},
		{
			name:      "nothing scanned",
			row:       []float32{0.9, 0.4},
			filter:    allowMissing,
			wantScore: MinScore,
			wantClass: NoClass,
		},
		{
			name:      "sigmoid",
			row:       []float32{0, -3},
			cfg:       Config{SigmoidScore: true},
			filter:    allowAll,
			wantScore: 0.5,
			wantClass: 0,
		},
		{
			name:      "clipping makes a tie",
			row:       []float32{5, 9},
			cfg:       Config{SigmoidScore: true, ScoreClippingThresh: Float32(2)},
			filter:    allowAll,
			wantScore: Sigmoid(2),
			wantClass: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, class := SelectTopClass(tt.row, tt.cfg, tt.filter)
			assert.Equal(t, tt.wantClass, class)
			assert.InDelta(t, tt.wantScore, score, 1e-6)
		})
	}
}
