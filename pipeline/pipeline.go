// Package pipeline - Per-frame conversion of model output tensors into detections.
package pipeline

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detections/anchors"
	"github.com/nvr-ai/go-detections/decoder"
	"github.com/nvr-ai/go-detections/detection"
	"github.com/nvr-ai/go-detections/geometry"
	"github.com/nvr-ai/go-detections/postprocess"
)

var logger = logrus.StandardLogger()

// SetLogger replaces the package logger. Passing nil discards all output.
func SetLogger(l *logrus.Logger) {
	if l == nil {
		l = logrus.New()
		l.SetOutput(io.Discard)
	}
	logger = l
}

// Options configures a Pipeline.
type Options struct {
	Decoder decoder.Config  `json:"decoder" yaml:"decoder"`
	Backend decoder.Backend `json:"backend" yaml:"backend"`
	// NMS optionally suppresses overlapping detections after assembly.
	NMS *postprocess.NMSConfig `json:"nms,omitempty" yaml:"nms,omitempty"`
}

// DefaultOptions returns options for the CPU backend with the default decoder
// configuration.
func DefaultOptions() Options {
	return Options{
		Decoder: decoder.DefaultConfig(),
		Backend: decoder.BackendCPU,
	}
}

// Validate checks the decoder configuration and NMS options.
func (o Options) Validate() error {
	if err := o.Decoder.Validate(); err != nil {
		return err
	}
	if o.NMS != nil {
		if err := o.NMS.Validate(); err != nil {
			return errors.Wrap(decoder.ErrInvalidConfig, err.Error())
		}
	}
	return nil
}

// Frame is the input of one Process call.
type Frame struct {
	// Tensors are the model outputs, indexed by the configured TensorMapping.
	Tensors []*tensor.Dense
	// Anchors is the externally supplied anchor list, used when no anchor tensor
	// is present and the store is still empty.
	Anchors []anchors.Anchor
	// Padding is removed from every detection when set.
	Padding *geometry.Padding
	// Projection is applied to every detection when set, after Padding.
	Projection *geometry.Matrix
}

// Output is the result of one Process call.
type Output struct {
	Detections []detection.Detection
	// Dropped counts degenerate boxes discarded during assembly.
	Dropped int
}

// Pipeline converts model output tensors into detections. A Pipeline processes
// one frame at a time and must not be used concurrently.
type Pipeline struct {
	opts    Options
	mapping decoder.TensorMapping
	store   *anchors.Store
	dec     decoder.Decoder
	asm     *decoder.Assembler
}

// New validates opts and builds a Pipeline. In raw mode the configured decoder
// backend is built here, so backend errors surface at setup.
//
// Arguments:
//   - opts: the pipeline options.
//
// Returns:
//   - *Pipeline: the pipeline.
//   - error: decoder.ErrInvalidConfig or decoder.ErrBackendUnavailable.
//
// @example
// p, err := pipeline.New(opts)
// out, err := p.Process(pipeline.Frame{Tensors: outputs, Anchors: list})
func New(opts Options) (*Pipeline, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Backend == "" {
		opts.Backend = decoder.BackendCPU
	}

	asm, err := decoder.NewAssembler(opts.Decoder)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		opts:    opts,
		mapping: opts.Decoder.Mapping(),
		store:   anchors.NewStore(opts.Decoder.NumBoxes),
		asm:     asm,
	}
	if opts.Decoder.Mode == decoder.ModeRaw {
		if p.dec, err = decoder.New(opts.Decoder, opts.Backend); err != nil {
			return nil, err
		}
	}

	logger.WithFields(logrus.Fields{
		"mode":    opts.Decoder.Mode,
		"backend": opts.Backend,
		"tensors": p.mapping.Count(opts.Decoder.Mode),
		"nms":     opts.NMS != nil,
	}).Info("pipeline built")
	return p, nil
}

// Anchors returns the pipeline's anchor store. Callers may initialize it
// before the first frame.
func (p *Pipeline) Anchors() *anchors.Store {
	return p.store
}

// DroppedTotal returns the number of degenerate boxes dropped so far.
func (p *Pipeline) DroppedTotal() uint64 {
	return p.asm.DroppedTotal()
}

// Close releases the decoder backend.
func (p *Pipeline) Close() error {
	if p.dec == nil {
		return nil
	}
	return p.dec.Close()
}

// Process decodes one frame and applies the optional post-passes in order:
// suppression, letterbox removal, projection.
//
// Arguments:
//   - f: the frame's tensors and side data.
//
// Returns:
//   - Output: detections in box index order, or descending score order when NMS
//     is configured.
//   - error: decoder.ErrShapeMismatch, decoder.ErrAnchorsUnavailable,
//     geometry.ErrInvalidPadding or geometry.ErrUnsupportedBoxFormat.
func (p *Pipeline) Process(f Frame) (Output, error) {
	var (
		c   *decoder.Candidates
		err error
	)
	if p.opts.Decoder.Mode == decoder.ModePreDecoded {
		c, err = p.preDecoded(f.Tensors)
	} else {
		c, err = p.raw(f)
	}
	if err != nil {
		return Output{}, err
	}

	res := p.asm.Assemble(c)
	dets := res.Detections
	if p.opts.NMS != nil {
		dets = postprocess.Apply(dets, *p.opts.NMS)
	}

	if f.Padding != nil {
		for i := range dets {
			if dets[i], err = geometry.RemovePadding(dets[i], *f.Padding); err != nil {
				return Output{}, err
			}
		}
	}
	if f.Projection != nil {
		for i := range dets {
			if dets[i], err = geometry.Project(dets[i], *f.Projection); err != nil {
				return Output{}, err
			}
		}
	}
	return Output{Detections: dets, Dropped: res.Dropped}, nil
}

func (p *Pipeline) raw(f Frame) (*decoder.Candidates, error) {
	cfg := p.opts.Decoder
	m := p.mapping

	// The anchor tensor is optional; a frame without it carries one tensor less.
	required := m.Count(decoder.ModeRaw)
	hasAnchorTensor := m.Anchors != decoder.NoTensor
	if hasAnchorTensor && len(f.Tensors) == required-1 && m.Anchors == required-1 {
		hasAnchorTensor = false
		required--
	}
	if len(f.Tensors) != required {
		return nil, errors.Wrapf(decoder.ErrShapeMismatch, "frame has %d tensors %s, want %d",
			len(f.Tensors), describe(f.Tensors), required)
	}

	boxT, err := tensorAt(f.Tensors, m.Boxes, "boxes")
	if err != nil {
		return nil, err
	}
	if err := checkShape(boxT, "boxes", 1, cfg.NumBoxes, cfg.NumCoords); err != nil {
		return nil, err
	}
	scoreT, err := tensorAt(f.Tensors, m.Scores, "scores")
	if err != nil {
		return nil, err
	}
	if err := checkShape(scoreT, "scores", 1, cfg.NumBoxes, cfg.NumClasses); err != nil {
		return nil, err
	}
	var anchorT *tensor.Dense
	if hasAnchorTensor {
		if anchorT, err = tensorAt(f.Tensors, m.Anchors, "anchors"); err != nil {
			return nil, err
		}
		if err := checkShape(anchorT, "anchors", cfg.NumBoxes, anchors.ValuesPerAnchor); err != nil {
			return nil, err
		}
	}

	anchorList, err := p.resolveAnchors(anchorT, f.Anchors)
	if err != nil {
		return nil, err
	}
	boxes, err := float32s(boxT, "boxes")
	if err != nil {
		return nil, err
	}
	scores, err := float32s(scoreT, "scores")
	if err != nil {
		return nil, err
	}
	return p.dec.Decode(boxes, scores, anchorList)
}

// resolveAnchors returns the stored anchors, initializing the store on first use
// from the anchor tensor or, failing that, the side input.
func (p *Pipeline) resolveAnchors(t *tensor.Dense, side []anchors.Anchor) ([]anchors.Anchor, error) {
	if p.store.State() == anchors.Initialized {
		return p.store.Get()
	}

	var err error
	switch {
	case t != nil:
		err = p.store.InitializeTensor(t)
	case len(side) > 0:
		err = p.store.InitializeList(side, anchors.SourceSideInput)
	default:
		return nil, errors.Wrap(decoder.ErrAnchorsUnavailable,
			"no anchor tensor, side input or stored anchors")
	}
	if err != nil {
		return nil, errors.Wrap(decoder.ErrShapeMismatch, err.Error())
	}
	return p.store.Get()
}

func (p *Pipeline) preDecoded(tensors []*tensor.Dense) (*decoder.Candidates, error) {
	cfg := p.opts.Decoder
	m := p.mapping
	if want := m.Count(decoder.ModePreDecoded); len(tensors) != want {
		return nil, errors.Wrapf(decoder.ErrShapeMismatch, "frame has %d tensors %s, want %d",
			len(tensors), describe(tensors), want)
	}

	roles := []struct {
		idx   int
		name  string
		shape []int
	}{
		{m.Boxes, "boxes", []int{1, cfg.NumBoxes, cfg.NumCoords}},
		{m.Classes, "classes", []int{1, cfg.NumBoxes}},
		{m.Scores, "scores", []int{1, cfg.NumBoxes}},
		{m.NumDetections, "num_detections", []int{1}},
	}
	data := make([][]float32, len(roles))
	for i, r := range roles {
		t, err := tensorAt(tensors, r.idx, r.name)
		if err != nil {
			return nil, err
		}
		if err := checkShape(t, r.name, r.shape...); err != nil {
			return nil, err
		}
		if data[i], err = float32s(t, r.name); err != nil {
			return nil, err
		}
	}
	boxes, classes, scores := data[0], data[1], data[2]

	n := detectionCount(data[3][0], cfg.NumBoxes)

	c := &decoder.Candidates{
		Corners: make([][4]float32, n),
		Scores:  make([]float32, n),
		Classes: make([]int, n),
	}
	if cfg.NumKeypoints > 0 {
		c.Keypoints = make([]float32, n*cfg.NumKeypoints*2)
	}
	for i := 0; i < n; i++ {
		row := boxes[i*cfg.NumCoords : (i+1)*cfg.NumCoords]
		copy(c.Corners[i][:], row[cfg.BoxCoordOffset:cfg.BoxCoordOffset+4])
		c.Scores[i] = scores[i]
		c.Classes[i] = int(classes[i])
		for k := 0; k < cfg.NumKeypoints; k++ {
			o := cfg.KeypointCoordOffset + k*cfg.NumValuesPerKeypoint
			c.Keypoints[(i*cfg.NumKeypoints+k)*2] = row[o]
			c.Keypoints[(i*cfg.NumKeypoints+k)*2+1] = row[o+1]
		}
	}
	return c, nil
}

// detectionCount converts the model's float detection count to an index bound
// in [0, limit]. NaN counts as zero.
func detectionCount(count float32, limit int) int {
	if count >= 0 && count <= float32(limit) {
		return int(count)
	}
	n := 0
	if count > float32(limit) {
		n = limit
	}
	logger.WithFields(logrus.Fields{"num_detections": count, "max": limit}).Debug("clamping detection count")
	return n
}
