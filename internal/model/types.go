package model

import (
	"errors"
	"fmt"
	"strings"
)

// Tensor layouts understood by the preprocessor.
const (
	LayoutNHWC = "nhwc"
	LayoutNCHW = "nchw"
)

var (
	// ErrModelNotReady is returned by Manager.Get while the model is still loading.
	ErrModelNotReady = errors.New("model not ready")
	// ErrModelLoadFailed is returned by Manager.Get after a load attempt failed.
	ErrModelLoadFailed = errors.New("model load failed")
)

// Metadata describes the graph inputs and outputs of the classifier.
type Metadata struct {
	InputName   string  `json:"input_name" yaml:"input_name"`
	OutputName  string  `json:"output_name" yaml:"output_name"`
	InputShape  []int64 `json:"input_shape" yaml:"input_shape"`
	OutputShape []int64 `json:"output_shape" yaml:"output_shape"`
	Layout      string  `json:"layout" yaml:"layout"`
}

// InputSpec is the image geometry the model was trained on.
type InputSpec struct {
	Height   int
	Width    int
	Channels int
	Layout   string
}

// Tensor is a dense float32 tensor handed to the model.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Handle is a loaded, ready-to-invoke classifier. Implementations must be
// safe for concurrent Infer calls.
type Handle interface {
	Input() InputSpec
	Infer(t *Tensor) ([]float32, error)
	Close() error
}

// Normalize fills in defaults and pins a dynamic batch dimension to 1.
func (m Metadata) Normalize() Metadata {
	out := m
	if out.InputName == "" {
		out.InputName = "input"
	}
	if out.OutputName == "" {
		out.OutputName = "output"
	}
	out.Layout = strings.ToLower(out.Layout)
	if out.Layout == "" {
		out.Layout = LayoutNHWC
	}
	out.InputShape = pinBatch(out.InputShape)
	out.OutputShape = pinBatch(out.OutputShape)
	if len(out.OutputShape) == 0 {
		out.OutputShape = []int64{1, 1}
	}
	return out
}

func pinBatch(shape []int64) []int64 {
	if len(shape) == 0 {
		return nil
	}
	out := append([]int64(nil), shape...)
	if out[0] <= 0 {
		out[0] = 1
	}
	return out
}

// InputSpec derives the image geometry from the input shape.
func (m Metadata) InputSpec() (InputSpec, error) {
	if len(m.InputShape) != 4 {
		return InputSpec{}, fmt.Errorf("input shape must have 4 dimensions, got %v", m.InputShape)
	}
	if m.InputShape[0] != 1 {
		return InputSpec{}, fmt.Errorf("input batch dimension must be 1, got %d", m.InputShape[0])
	}

	var h, w, c int64
	switch m.Layout {
	case LayoutNHWC:
		h, w, c = m.InputShape[1], m.InputShape[2], m.InputShape[3]
	case LayoutNCHW:
		c, h, w = m.InputShape[1], m.InputShape[2], m.InputShape[3]
	default:
		return InputSpec{}, fmt.Errorf("unknown layout %q", m.Layout)
	}
	if c != 3 {
		return InputSpec{}, fmt.Errorf("model must take 3 channels, got %d", c)
	}
	if h <= 0 || w <= 0 {
		return InputSpec{}, fmt.Errorf("model input dimensions must be fixed, got %dx%d", w, h)
	}

	return InputSpec{Height: int(h), Width: int(w), Channels: int(c), Layout: m.Layout}, nil
}

// Shape returns the tensor shape for one image of this spec.
func (s InputSpec) Shape() []int64 {
	if s.Layout == LayoutNCHW {
		return []int64{1, int64(s.Channels), int64(s.Height), int64(s.Width)}
	}
	return []int64{1, int64(s.Height), int64(s.Width), int64(s.Channels)}
}

// Size is the number of values in a tensor of this spec.
func (s InputSpec) Size() int {
	return s.Height * s.Width * s.Channels
}
