// Package inference - ONNX Runtime sessions producing detector output tensors.
package inference

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detections/decoder"
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

var (
	// ErrRuntimeUnavailable is returned when the ONNX Runtime library cannot be
	// found or initialized.
	ErrRuntimeUnavailable = errors.New("onnx runtime unavailable")
	// ErrInvalidSession is returned for malformed session arguments or a closed
	// session.
	ErrInvalidSession = errors.New("invalid inference session")
)

var envMu sync.Mutex

// initEnvironment loads the shared library once per process.
func initEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}

	libPath := SharedLibPath()
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(ErrRuntimeUnavailable, "library %s: %v (set %s)", libPath, err, LibraryEnv)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrapf(ErrRuntimeUnavailable, "initializing environment: %v", err)
	}
	logger.WithField("library", libPath).Info("onnx runtime initialized")
	return nil
}

// SessionArgs describes the model graph a Session binds to.
type SessionArgs struct {
	ModelPath    string
	InputName    string
	InputShape   []int64
	OutputNames  []string
	OutputShapes [][]int64
	Provider     Provider
	Options      ProviderOptions
	// Threads sets intra-op parallelism; zero lets the runtime choose.
	Threads int
}

// Validate checks that every name has a fully specified shape.
func (a SessionArgs) Validate() error {
	if a.ModelPath == "" {
		return errors.Wrap(ErrInvalidSession, "model path is empty")
	}
	if a.InputName == "" || !positive(a.InputShape) {
		return errors.Wrapf(ErrInvalidSession, "input %q shape %v", a.InputName, a.InputShape)
	}
	if len(a.OutputNames) == 0 || len(a.OutputNames) != len(a.OutputShapes) {
		return errors.Wrapf(ErrInvalidSession, "%d output names for %d shapes",
			len(a.OutputNames), len(a.OutputShapes))
	}
	for i, s := range a.OutputShapes {
		if !positive(s) {
			return errors.Wrapf(ErrInvalidSession, "output %q shape %v", a.OutputNames[i], s)
		}
	}
	return nil
}

func positive(shape []int64) bool {
	if len(shape) == 0 {
		return false
	}
	for _, d := range shape {
		if d <= 0 {
			return false
		}
	}
	return true
}

// OutputShapesFor returns the shapes of a model's outputs for cfg, in tensor
// mapping order. count is the number of outputs the model has; in raw mode an
// anchor tensor mapped last may be left out.
//
// Arguments:
//   - cfg: the decoder configuration the outputs feed.
//   - count: the number of model outputs.
//
// Returns:
//   - [][]int64: one shape per output.
//   - error: decoder.ErrInvalidConfig, or ErrInvalidSession when count does not
//     fit the mapping.
func OutputShapesFor(cfg decoder.Config, count int) ([][]int64, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := int64(cfg.NumBoxes)
	m := cfg.Mapping()
	full := m.Count(cfg.Mode)
	shapes := make([][]int64, full)

	if cfg.Mode == decoder.ModePreDecoded {
		shapes[m.Boxes] = []int64{1, n, int64(cfg.NumCoords)}
		shapes[m.Classes] = []int64{1, n}
		shapes[m.Scores] = []int64{1, n}
		shapes[m.NumDetections] = []int64{1}
	} else {
		shapes[m.Boxes] = []int64{1, n, int64(cfg.NumCoords)}
		shapes[m.Scores] = []int64{1, n, int64(cfg.NumClasses)}
		if m.Anchors != decoder.NoTensor {
			shapes[m.Anchors] = []int64{n, 4}
			if count == full-1 && m.Anchors == full-1 {
				shapes = shapes[:full-1]
			}
		}
	}
	if count != len(shapes) {
		return nil, errors.Wrapf(ErrInvalidSession, "model has %d outputs, %s mode expects %d",
			count, cfg.Mode, len(shapes))
	}
	return shapes, nil
}

// Session runs a single-input model with preallocated input and output tensors.
// Run is serialized; a Session may be shared between goroutines.
type Session struct {
	mu      sync.Mutex
	args    SessionArgs
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
}

// NewSession loads the model at args.ModelPath on the selected provider.
//
// Arguments:
//   - args: the model path, tensor names and shapes, and provider settings.
//
// Returns:
//   - *Session: the session, to be released with Close.
//   - error: ErrInvalidSession, ErrRuntimeUnavailable or a runtime error.
//
// @example
//
//	shapes, err := inference.OutputShapesFor(cfg, 2)
//	s, err := inference.NewSession(inference.SessionArgs{
//		ModelPath:    "face_detection_short_range.onnx",
//		InputName:    "input",
//		InputShape:   []int64{1, 3, 128, 128},
//		OutputNames:  []string{"regressors", "classificators"},
//		OutputShapes: shapes,
//	})
func NewSession(args SessionArgs) (*Session, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	if err := initEnvironment(); err != nil {
		return nil, err
	}

	s := &Session{args: args}
	var err error
	if s.input, err = ort.NewEmptyTensor[float32](ort.NewShape(args.InputShape...)); err != nil {
		return nil, errors.Wrap(err, "creating input tensor")
	}
	outputs := make([]ort.ArbitraryTensor, len(args.OutputShapes))
	for i, shape := range args.OutputShapes {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(shape...))
		if err != nil {
			s.Close()
			return nil, errors.Wrapf(err, "creating output tensor %q", args.OutputNames[i])
		}
		s.outputs = append(s.outputs, t)
		outputs[i] = t
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "creating session options")
	}
	defer options.Destroy()
	if args.Threads > 0 {
		if err := options.SetIntraOpNumThreads(args.Threads); err != nil {
			s.Close()
			return nil, errors.Wrap(err, "setting intra-op threads")
		}
	}
	if err := appendProvider(options, args.Provider, args.Options); err != nil {
		s.Close()
		return nil, err
	}

	s.session, err = ort.NewAdvancedSession(args.ModelPath,
		[]string{args.InputName}, args.OutputNames,
		[]ort.ArbitraryTensor{s.input}, outputs, options)
	if err != nil {
		s.Close()
		return nil, errors.Wrapf(err, "loading model %s", args.ModelPath)
	}

	logger.WithFields(logrus.Fields{
		"model":    args.ModelPath,
		"provider": args.Provider,
		"input":    args.InputShape,
		"outputs":  args.OutputNames,
	}).Info("inference session created")
	return s, nil
}

// Run copies input into the model's input tensor, runs the model and returns
// one tensor per output name, in OutputNames order. The returned tensors own
// their data.
func (s *Session) Run(input []float32) ([]*tensor.Dense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, errors.Wrap(ErrInvalidSession, "session is closed")
	}
	dst := s.input.GetData()
	if len(input) != len(dst) {
		return nil, errors.Wrapf(decoder.ErrShapeMismatch, "input has %d values, model expects %d (shape %v)",
			len(input), len(dst), s.args.InputShape)
	}
	copy(dst, input)

	if err := s.session.Run(); err != nil {
		return nil, errors.Wrap(err, "running model")
	}

	out := make([]*tensor.Dense, len(s.outputs))
	for i, t := range s.outputs {
		data := append([]float32(nil), t.GetData()...)
		shape := make([]int, len(s.args.OutputShapes[i]))
		for j, d := range s.args.OutputShapes[i] {
			shape[j] = int(d)
		}
		out[i] = tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
	}
	return out, nil
}

// Close releases the native session and tensors. It is safe to call more than
// once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.session != nil {
		err = s.session.Destroy()
		s.session = nil
	}
	if s.input != nil {
		s.input.Destroy()
		s.input = nil
	}
	for _, t := range s.outputs {
		t.Destroy()
	}
	s.outputs = nil
	return errors.Wrap(err, "destroying session")
}
