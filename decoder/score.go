package decoder

import (
	"github.com/chewxy/math32"
)

// NoClass is the class id reported when no class index was scanned.
const NoClass = -1

// MinScore is the score reported alongside NoClass.
const MinScore float32 = -math32.MaxFloat32

// Sigmoid is the logistic function 1/(1+e^-s).
func Sigmoid(s float32) float32 {
	return 1 / (1 + math32.Exp(-s))
}

// Clip limits s to [-thresh, thresh].
func Clip(s, thresh float32) float32 {
	if s < -thresh {
		return -thresh
	}
	if s > thresh {
		return thresh
	}
	return s
}

// activation returns the per-score transform configured by cfg, or nil.
func activation(cfg Config) func(float32) float32 {
	if !cfg.SigmoidScore {
		return nil
	}
	if cfg.ScoreClippingThresh != nil {
		t := *cfg.ScoreClippingThresh
		return func(s float32) float32 { return Sigmoid(Clip(s, t)) }
	}
	return Sigmoid
}

// SelectTopClass returns the highest scoring allowed class of one box.
//
// Arguments:
//   - row: num_classes raw scores of a single box.
//   - cfg: supplies sigmoid_score and score_clipping_thresh.
//   - filter: classes that take part in the selection.
//
// Returns:
//   - float32: the top score, MinScore if no class was scanned.
//   - int: the top class index, NoClass if no class was scanned.
//
// Ties keep the lowest index.
func SelectTopClass(row []float32, cfg Config, filter ClassFilter) (float32, int) {
	return selectTopClass(row, filter, activation(cfg))
}

func selectTopClass(row []float32, filter ClassFilter, act func(float32) float32) (float32, int) {
	best, class := MinScore, NoClass
	for idx, s := range row {
		if !filter.Allowed(idx) {
			continue
		}
		if act != nil {
			s = act(s)
		}
		if best < s {
			best, class = s, idx
		}
	}
	return best, class
}
