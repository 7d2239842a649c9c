package pipeline

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detections/decoder"
)

// checkShape reports decoder.ErrShapeMismatch unless t is a float32 tensor of
// exactly the wanted shape.
func checkShape(t *tensor.Dense, role string, want ...int) error {
	if t == nil {
		return errors.Wrapf(decoder.ErrShapeMismatch, "%s tensor is missing", role)
	}
	if t.Dtype() != tensor.Float32 {
		return errors.Wrapf(decoder.ErrShapeMismatch, "%s tensor dtype %v, want float32", role, t.Dtype())
	}
	shape := t.Shape()
	if len(shape) != len(want) {
		return errors.Wrapf(decoder.ErrShapeMismatch, "%s tensor rank %d (shape %v), want shape %v",
			role, len(shape), shape, tensor.Shape(want))
	}
	for i := range want {
		if shape[i] != want[i] {
			return errors.Wrapf(decoder.ErrShapeMismatch, "%s tensor shape %v, want %v", role, shape, tensor.Shape(want))
		}
	}
	return nil
}

// float32s returns the values of t in row-major order. Contiguous tensors share
// their backing slice; views are copied.
func float32s(t *tensor.Dense, role string) ([]float32, error) {
	if !t.IsView() {
		switch data := t.Data().(type) {
		case []float32:
			return data[:t.Shape().TotalSize()], nil
		case float32:
			// Single-element tensors may report their value as a scalar.
			return []float32{data}, nil
		default:
			return nil, errors.Wrapf(decoder.ErrShapeMismatch, "%s tensor has %T data", role, data)
		}
	}

	shape := t.Shape()
	out := make([]float32, shape.TotalSize())
	coords := make([]int, len(shape))
	for i := range out {
		rem := i
		for d := len(shape) - 1; d >= 0; d-- {
			coords[d] = rem % shape[d]
			rem /= shape[d]
		}
		v, err := t.At(coords...)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s tensor", role)
		}
		out[i] = v.(float32)
	}
	return out, nil
}

// tensorAt returns frame tensor idx, or ErrShapeMismatch when the frame is short.
func tensorAt(tensors []*tensor.Dense, idx int, role string) (*tensor.Dense, error) {
	if idx < 0 || idx >= len(tensors) {
		return nil, errors.Wrapf(decoder.ErrShapeMismatch, "%s tensor index %d, frame has %d tensors",
			role, idx, len(tensors))
	}
	return tensors[idx], nil
}

func describe(tensors []*tensor.Dense) string {
	shapes := make([]tensor.Shape, len(tensors))
	for i, t := range tensors {
		if t != nil {
			shapes[i] = t.Shape()
		}
	}
	return fmt.Sprint(shapes)
}
