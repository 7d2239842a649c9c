package decoder

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-detections/anchors"
)

// Backend names a Decoder implementation.
type Backend string

const (
	// BackendCPU decodes with plain Go loops.
	BackendCPU Backend = "cpu"
	// BackendGraph decodes with a gorgonia expression graph compiled at setup.
	// Built with gorgonia's cuda tag, the graph executes on the GPU.
	BackendGraph Backend = "graph"
)

// Backends lists every available backend.
func Backends() []Backend {
	return []Backend{BackendCPU, BackendGraph}
}

// Decoder turns one frame's raw box and score buffers into candidates. Every
// backend implements the same arithmetic: corners and keypoints as DecodeBoxes,
// scores and classes as SelectTopClass.
type Decoder interface {
	// Backend returns the implementation name.
	Backend() Backend
	// Decode decodes num_boxes boxes. boxes and scores are read-only and not retained.
	Decode(boxes, scores []float32, anchorList []anchors.Anchor) (*Candidates, error)
	// Close releases backend resources.
	Close() error
}

// New builds a Decoder for a validated raw-mode configuration.
//
// Arguments:
//   - cfg: the decoding configuration.
//   - backend: the implementation to build.
//
// Returns:
//   - Decoder: the decoder.
//   - error: ErrInvalidConfig or ErrBackendUnavailable.
func New(cfg Config, backend Backend) (Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeRaw {
		return nil, errors.Wrapf(ErrInvalidConfig, "decoders require mode %q, got %q", ModeRaw, cfg.Mode)
	}
	filter, err := NewClassFilter(cfg.AllowClasses, cfg.IgnoreClasses)
	if err != nil {
		return nil, err
	}

	var d Decoder
	switch backend {
	case BackendCPU:
		d = &cpuDecoder{cfg: cfg, filter: filter}
	case BackendGraph:
		d, err = newGraphDecoder(cfg, filter)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.Wrapf(ErrBackendUnavailable, "unknown backend %q", backend)
	}

	logger.WithFields(logrus.Fields{
		"backend":     backend,
		"num_boxes":   cfg.NumBoxes,
		"num_coords":  cfg.NumCoords,
		"num_classes": cfg.NumClasses,
	}).Info("decoder built")
	return d, nil
}

func checkScores(scores []float32, cfg Config) error {
	if len(scores) != cfg.NumBoxes*cfg.NumClasses {
		return errors.Wrapf(ErrShapeMismatch, "raw scores have %d values, want num_boxes*num_classes=%d",
			len(scores), cfg.NumBoxes*cfg.NumClasses)
	}
	return nil
}

// cpuDecoder is the general-purpose backend.
type cpuDecoder struct {
	cfg    Config
	filter ClassFilter
}

func (d *cpuDecoder) Backend() Backend { return BackendCPU }

func (d *cpuDecoder) Close() error { return nil }

func (d *cpuDecoder) Decode(boxes, scores []float32, anchorList []anchors.Anchor) (*Candidates, error) {
	if err := checkScores(scores, d.cfg); err != nil {
		return nil, err
	}
	corners, keypoints, err := DecodeBoxes(boxes, anchorList, d.cfg)
	if err != nil {
		return nil, err
	}

	c := &Candidates{
		Corners:   corners,
		Keypoints: keypoints,
		Scores:    make([]float32, d.cfg.NumBoxes),
		Classes:   make([]int, d.cfg.NumBoxes),
	}
	act := activation(d.cfg)
	n := d.cfg.NumClasses
	for i := 0; i < d.cfg.NumBoxes; i++ {
		c.Scores[i], c.Classes[i] = selectTopClass(scores[i*n:(i+1)*n], d.filter, act)
	}
	return c, nil
}
