package decoder

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detections/anchors"
)

// graphDecoder runs the decode arithmetic as a gorgonia expression graph. Scales,
// flags, coordinate offsets and box/class counts are baked into the graph when it
// is built; only the raw buffers and anchors are bound per call.
//
// Inputs are bound and outputs are read back in one fixed order (boxes, anchors,
// scores) so that both phases touch device memory in the same sequence.
type graphDecoder struct {
	cfg    Config
	filter ClassFilter
	// rows is the graph's box dimension. gorgonia collapses a column sliced
	// out of a (1, C) matrix to a scalar, so single-box graphs carry one zero
	// padding row that is never read back.
	rows int

	g  *gorgonia.ExprGraph
	vm gorgonia.VM

	rawBoxes  *gorgonia.Node
	anchorsIn *gorgonia.Node
	rawScores *gorgonia.Node

	corners   [4]gorgonia.Value
	keypoints []gorgonia.Value
	scores    gorgonia.Value
}

// kernelBuilder accumulates the first error while building the graph.
type kernelBuilder struct {
	err error
}

func (b *kernelBuilder) do(n *gorgonia.Node, err error) *gorgonia.Node {
	if b.err == nil && err != nil {
		b.err = err
	}
	return n
}

func (b *kernelBuilder) column(m *gorgonia.Node, j int) *gorgonia.Node {
	if b.err != nil {
		return nil
	}
	return b.do(gorgonia.Slice(m, nil, gorgonia.S(j)))
}

func (b *kernelBuilder) op(f func(a, c *gorgonia.Node) (*gorgonia.Node, error), x, y *gorgonia.Node) *gorgonia.Node {
	if b.err != nil {
		return nil
	}
	return b.do(f(x, y))
}

func (b *kernelBuilder) unary(f func(a *gorgonia.Node) (*gorgonia.Node, error), x *gorgonia.Node) *gorgonia.Node {
	if b.err != nil {
		return nil
	}
	return b.do(f(x))
}

// centre computes raw/scale*size + origin.
func (b *kernelBuilder) centre(raw *gorgonia.Node, scale float32, size, origin *gorgonia.Node) *gorgonia.Node {
	n := b.op(gorgonia.Div, raw, gorgonia.NewConstant(scale))
	n = b.op(gorgonia.HadamardProd, n, size)
	return b.op(gorgonia.Add, n, origin)
}

// extent computes raw/scale*size, or exp(raw/scale)*size.
func (b *kernelBuilder) extent(raw *gorgonia.Node, scale float32, exponential bool, size *gorgonia.Node) *gorgonia.Node {
	n := b.op(gorgonia.Div, raw, gorgonia.NewConstant(scale))
	if exponential {
		n = b.unary(gorgonia.Exp, n)
	}
	return b.op(gorgonia.HadamardProd, n, size)
}

// clip limits s to [-t, t] as t - relu(t - x) with x = relu(s+t) - t, so the
// upper and lower bounds never cancel against each other for large |s|.
// Rectify multiplies by a mask, so s must be finite (see finiteScores).
func (b *kernelBuilder) clip(s *gorgonia.Node, t float32) *gorgonia.Node {
	lower := b.unary(gorgonia.Rectify, b.op(gorgonia.Add, s, gorgonia.NewConstant(t)))
	lower = b.op(gorgonia.Sub, lower, gorgonia.NewConstant(t))
	upper := b.unary(gorgonia.Rectify, b.op(gorgonia.Sub, gorgonia.NewConstant(t), lower))
	return b.op(gorgonia.Sub, gorgonia.NewConstant(t), upper)
}

// finiteScores returns scores with infinities replaced by ±MaxFloat32. It
// returns scores itself when nothing needs replacing.
func finiteScores(scores []float32) []float32 {
	var out []float32
	for i, s := range scores {
		if !math32.IsInf(s, 0) {
			continue
		}
		if out == nil {
			out = append([]float32(nil), scores...)
		}
		out[i] = math32.Copysign(math32.MaxFloat32, s)
	}
	if out == nil {
		return scores
	}
	return out
}

// padRows extends a row-major buffer of n rows with zero rows up to rows.
func padRows(data []float32, n, rows, cols int) []float32 {
	if n == rows {
		return data
	}
	out := make([]float32, rows*cols)
	copy(out, data[:n*cols])
	return out
}

func newGraphDecoder(cfg Config, filter ClassFilter) (d *graphDecoder, err error) {
	defer func() {
		if r := recover(); r != nil {
			d, err = nil, errors.Wrapf(ErrBackendUnavailable, "building decode graph: %v", r)
		}
	}()

	d = &graphDecoder{cfg: cfg, filter: filter, rows: max(cfg.NumBoxes, 2)}
	d.g = gorgonia.NewGraph()
	n := d.rows

	d.rawBoxes = gorgonia.NewMatrix(d.g, tensor.Float32,
		gorgonia.WithShape(n, cfg.NumCoords), gorgonia.WithName("raw_boxes"))
	d.anchorsIn = gorgonia.NewMatrix(d.g, tensor.Float32,
		gorgonia.WithShape(n, anchors.ValuesPerAnchor), gorgonia.WithName("anchors"))

	b := &kernelBuilder{}

	ay := b.column(d.anchorsIn, 0)
	ax := b.column(d.anchorsIn, 1)
	ah := b.column(d.anchorsIn, 2)
	aw := b.column(d.anchorsIn, 3)

	o := cfg.BoxCoordOffset
	yi, xi, hi, wi := o, o+1, o+2, o+3
	if cfg.ReverseOutputOrder {
		xi, yi, wi, hi = o, o+1, o+2, o+3
	}

	yc := b.centre(b.column(d.rawBoxes, yi), cfg.YScale, ah, ay)
	xc := b.centre(b.column(d.rawBoxes, xi), cfg.XScale, aw, ax)
	h := b.extent(b.column(d.rawBoxes, hi), cfg.HScale, cfg.ApplyExponentialOnBoxSize, ah)
	w := b.extent(b.column(d.rawBoxes, wi), cfg.WScale, cfg.ApplyExponentialOnBoxSize, aw)

	halfH := b.op(gorgonia.Div, h, gorgonia.NewConstant(float32(2)))
	halfW := b.op(gorgonia.Div, w, gorgonia.NewConstant(float32(2)))

	outputs := [4]*gorgonia.Node{
		b.op(gorgonia.Sub, yc, halfH),
		b.op(gorgonia.Sub, xc, halfW),
		b.op(gorgonia.Add, yc, halfH),
		b.op(gorgonia.Add, xc, halfW),
	}
	if b.err != nil {
		return nil, errors.Wrapf(ErrBackendUnavailable, "building box kernel: %v", b.err)
	}
	for i, out := range outputs {
		gorgonia.Read(out, &d.corners[i])
	}

	d.keypoints = make([]gorgonia.Value, cfg.NumKeypoints*2)
	for k := 0; k < cfg.NumKeypoints; k++ {
		ko := o + cfg.KeypointCoordOffset + k*cfg.NumValuesPerKeypoint
		kyi, kxi := ko, ko+1
		if cfg.ReverseOutputOrder {
			kxi, kyi = ko, ko+1
		}
		kx := b.centre(b.column(d.rawBoxes, kxi), cfg.XScale, aw, ax)
		ky := b.centre(b.column(d.rawBoxes, kyi), cfg.YScale, ah, ay)
		if b.err != nil {
			return nil, errors.Wrapf(ErrBackendUnavailable, "building keypoint %d kernel: %v", k, b.err)
		}
		gorgonia.Read(kx, &d.keypoints[2*k])
		gorgonia.Read(ky, &d.keypoints[2*k+1])
	}

	if cfg.SigmoidScore {
		d.rawScores = gorgonia.NewMatrix(d.g, tensor.Float32,
			gorgonia.WithShape(n, cfg.NumClasses), gorgonia.WithName("raw_scores"))
		s := d.rawScores
		if cfg.ScoreClippingThresh != nil {
			s = b.clip(s, *cfg.ScoreClippingThresh)
		}
		s = b.unary(gorgonia.Sigmoid, s)
		if b.err != nil {
			return nil, errors.Wrapf(ErrBackendUnavailable, "building score kernel: %v", b.err)
		}
		gorgonia.Read(s, &d.scores)
	}

	d.vm = gorgonia.NewTapeMachine(d.g)
	return d, nil
}

func (d *graphDecoder) Backend() Backend { return BackendGraph }

func (d *graphDecoder) Close() error {
	if d.vm == nil {
		return nil
	}
	err := d.vm.Close()
	d.vm = nil
	return err
}

func (d *graphDecoder) Decode(boxes, scores []float32, anchorList []anchors.Anchor) (*Candidates, error) {
	cfg := d.cfg
	if d.vm == nil {
		return nil, errors.Wrap(ErrBackendUnavailable, "graph decoder is closed")
	}
	if len(boxes) != cfg.NumBoxes*cfg.NumCoords {
		return nil, errors.Wrapf(ErrShapeMismatch, "raw boxes have %d values, want num_boxes*num_coords=%d",
			len(boxes), cfg.NumBoxes*cfg.NumCoords)
	}
	if len(anchorList) != cfg.NumBoxes {
		return nil, errors.Wrapf(ErrShapeMismatch, "got %d anchors, want num_boxes=%d", len(anchorList), cfg.NumBoxes)
	}
	if err := checkScores(scores, cfg); err != nil {
		return nil, err
	}

	defer d.vm.Reset()

	boundScores := scores
	if d.rawScores != nil && cfg.ScoreClippingThresh != nil {
		boundScores = finiteScores(scores)
	}
	bindings := []struct {
		node *gorgonia.Node
		data []float32
		cols int
	}{
		{d.rawBoxes, boxes, cfg.NumCoords},
		{d.anchorsIn, anchors.Flatten(anchorList), anchors.ValuesPerAnchor},
		{d.rawScores, boundScores, cfg.NumClasses},
	}
	for _, bind := range bindings {
		if bind.node == nil {
			continue
		}
		data := padRows(bind.data, cfg.NumBoxes, d.rows, bind.cols)
		value := tensor.New(tensor.WithShape(d.rows, bind.cols), tensor.WithBacking(data))
		if err := gorgonia.Let(bind.node, value); err != nil {
			return nil, errors.Wrapf(err, "binding %s", bind.node.Name())
		}
	}

	if err := d.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "running decode graph")
	}

	c := &Candidates{
		Corners: make([][4]float32, cfg.NumBoxes),
		Scores:  make([]float32, cfg.NumBoxes),
		Classes: make([]int, cfg.NumBoxes),
	}
	for j := range d.corners {
		col, err := readVector(d.corners[j], d.rows)
		if err != nil {
			return nil, err
		}
		for i, v := range col[:cfg.NumBoxes] {
			c.Corners[i][j] = v
		}
	}

	if cfg.NumKeypoints > 0 {
		c.Keypoints = make([]float32, cfg.NumBoxes*cfg.NumKeypoints*2)
		for j, kv := range d.keypoints {
			col, err := readVector(kv, d.rows)
			if err != nil {
				return nil, err
			}
			for i, v := range col[:cfg.NumBoxes] {
				c.Keypoints[i*cfg.NumKeypoints*2+j] = v
			}
		}
	}

	activated := scores
	if d.rawScores != nil {
		var err error
		if activated, err = readVector(d.scores, d.rows*cfg.NumClasses); err != nil {
			return nil, err
		}
	}
	n := cfg.NumClasses
	for i := 0; i < cfg.NumBoxes; i++ {
		c.Scores[i], c.Classes[i] = selectTopClass(activated[i*n:(i+1)*n], d.filter, nil)
	}
	return c, nil
}

// readVector copies a graph output into a new slice of length n.
func readVector(v gorgonia.Value, n int) ([]float32, error) {
	if v == nil {
		return nil, errors.Wrap(ErrBackendUnavailable, "graph output was not produced")
	}
	t, ok := v.(*tensor.Dense)
	if !ok {
		return nil, errors.Wrapf(ErrBackendUnavailable, "graph output is %T, want *tensor.Dense", v)
	}
	if t.Size() != n {
		return nil, errors.Wrapf(ErrBackendUnavailable, "graph output has %d values, want %d", t.Size(), n)
	}

	out := make([]float32, n)
	if !t.IsView() {
		switch data := t.Data().(type) {
		case []float32:
			copy(out, data)
		case float32:
			out[0] = data
		default:
			return nil, errors.Wrapf(ErrBackendUnavailable, "graph output has %T data, want []float32", data)
		}
		return out, nil
	}

	// Views are read element by element in logical order.
	shape := t.Shape()
	for i := range out {
		coords := make([]int, len(shape))
		rem := i
		for d := len(shape) - 1; d >= 0; d-- {
			coords[d] = rem % shape[d]
			rem /= shape[d]
		}
		x, err := t.At(coords...)
		if err != nil {
			return nil, errors.Wrap(err, "reading graph output")
		}
		out[i] = x.(float32)
	}
	return out, nil
}
