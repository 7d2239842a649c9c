package anchors

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

var (
	// ErrNotInitialized is returned when anchors are read before the store is populated.
	ErrNotInitialized = errors.New("anchor store not initialized")
	// ErrAlreadyInitialized is returned on a second initialization attempt.
	ErrAlreadyInitialized = errors.New("anchor store already initialized")
	// ErrInvalidAnchors is returned for malformed anchor input.
	ErrInvalidAnchors = errors.New("invalid anchors")
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

// State is the lifecycle state of a Store.
type State int

const (
	// Uninitialized is the state of a new store.
	Uninitialized State = iota
	// Initialized is the terminal state after a successful initialization.
	Initialized
)

func (s State) String() string {
	if s == Initialized {
		return "initialized"
	}
	return "uninitialized"
}

// Source names where the anchors of a store came from.
type Source string

const (
	// SourceTensor is an anchor tensor delivered with the model outputs.
	SourceTensor Source = "tensor"
	// SourceSideInput is an externally supplied anchor list.
	SourceSideInput Source = "side_input"
	// SourceFlat is a flat float buffer.
	SourceFlat Source = "flat"
)

// Store holds the anchor table of one pipeline instance. It is populated exactly
// once and read-only afterwards. Store does no locking: initialization must
// happen-before any concurrent reads.
type Store struct {
	numBoxes int
	state    State
	source   Source
	anchors  []Anchor
	flat     []float32
}

// NewStore creates an empty store expecting numBoxes anchors.
// A numBoxes of zero accepts any count.
func NewStore(numBoxes int) *Store {
	return &Store{numBoxes: numBoxes}
}

// State returns the lifecycle state of the store.
func (s *Store) State() State {
	return s.state
}

// Source returns where the anchors came from, or "" before initialization.
func (s *Store) Source() Source {
	return s.source
}

// InitializeList populates the store from structured anchors.
func (s *Store) InitializeList(list []Anchor, source Source) error {
	if s.state == Initialized {
		logger.WithFields(logrus.Fields{
			"source":   source,
			"existing": s.source,
		}).Error("anchor store initialized twice")
		return errors.Wrapf(ErrAlreadyInitialized, "existing anchors from %s", s.source)
	}
	if s.numBoxes > 0 && len(list) != s.numBoxes {
		return errors.Wrapf(ErrInvalidAnchors, "got %d anchors, want num_boxes=%d", len(list), s.numBoxes)
	}

	s.anchors = make([]Anchor, len(list))
	copy(s.anchors, list)
	s.flat = Flatten(s.anchors)
	s.source = source
	s.state = Initialized

	logger.WithFields(logrus.Fields{
		"count":  len(s.anchors),
		"source": source,
	}).Info("anchors initialized")
	return nil
}

// InitializeFlat populates the store from the flat [y_center, x_center, h, w] layout.
func (s *Store) InitializeFlat(buf []float32) error {
	if s.state == Initialized {
		return s.InitializeList(nil, SourceFlat)
	}
	list, err := FromFlat(buf)
	if err != nil {
		return err
	}
	return s.InitializeList(list, SourceFlat)
}

// InitializeTensor populates the store from a [num_boxes, 4] tensor.
func (s *Store) InitializeTensor(t *tensor.Dense) error {
	if s.state == Initialized {
		return s.InitializeList(nil, SourceTensor)
	}
	list, err := FromTensor(t)
	if err != nil {
		return err
	}
	return s.InitializeList(list, SourceTensor)
}

// MustInitialize is InitializeList that panics on error.
func (s *Store) MustInitialize(list []Anchor, source Source) {
	if err := s.InitializeList(list, source); err != nil {
		panic(err)
	}
}

// Get returns the anchors. The returned slice is shared and must not be modified.
func (s *Store) Get() ([]Anchor, error) {
	if s.state != Initialized {
		return nil, ErrNotInitialized
	}
	return s.anchors, nil
}

// Flat returns the anchors in flat layout. The returned slice is shared and must
// not be modified.
func (s *Store) Flat() ([]float32, error) {
	if s.state != Initialized {
		return nil, ErrNotInitialized
	}
	return s.flat, nil
}
