// Package decoder - Decoding of raw detection-model tensors into detections.
package decoder

import (
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidConfig is a setup-time configuration error.
	ErrInvalidConfig = errors.New("invalid decoder configuration")
	// ErrShapeMismatch is a per-call input shape error.
	ErrShapeMismatch = errors.New("tensor shape mismatch")
	// ErrAnchorsUnavailable is returned when no anchor source can provide anchors.
	ErrAnchorsUnavailable = errors.New("anchors unavailable")
	// ErrBackendUnavailable is returned when a decode backend cannot be built.
	ErrBackendUnavailable = errors.New("decoder backend unavailable")
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
