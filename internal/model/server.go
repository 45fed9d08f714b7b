package model

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// SessionOptions tunes the ONNX Runtime session.
type SessionOptions struct {
	SharedLibraryPath string
	IntraOpThreads    int
}

var envMu sync.Mutex

func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

var errSessionClosed = errors.New("session is closed")

// inflight counts Infer calls so Close can wait for them to leave Run
// before the native session is destroyed.
type inflight struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func (f *inflight) begin() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.wg.Add(1)
	return true
}

func (f *inflight) end() {
	f.wg.Done()
}

// closeAndWait refuses new calls and blocks until running ones return.
func (f *inflight) closeAndWait() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.wg.Wait()
}

// Session is the ONNX implementation of Handle. It allocates tensors per
// call, so concurrent Infer calls do not share buffers.
type Session struct {
	session     *ort.DynamicAdvancedSession
	input       InputSpec
	outputShape ort.Shape
	calls       inflight
}

// NewSession builds a session from serialized ONNX model bytes.
func NewSession(modelData []byte, metadata Metadata, opts SessionOptions) (*Session, error) {
	metadata = metadata.Normalize()
	input, err := metadata.InputSpec()
	if err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}

	if err := initEnvironment(opts.SharedLibraryPath); err != nil {
		return nil, err
	}

	var sessionOpts *ort.SessionOptions
	if opts.IntraOpThreads > 0 {
		sessionOpts, err = ort.NewSessionOptions()
		if err != nil {
			return nil, fmt.Errorf("failed to create session options: %w", err)
		}
		defer sessionOpts.Destroy()
		if err := sessionOpts.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(modelData,
		[]string{metadata.InputName}, []string{metadata.OutputName}, sessionOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Session{
		session:     session,
		input:       input,
		outputShape: ort.NewShape(metadata.OutputShape...),
	}, nil
}

func (s *Session) Input() InputSpec {
	return s.input
}

// Infer runs one forward pass and returns a copy of the output values.
func (s *Session) Infer(t *Tensor) ([]float32, error) {
	if !s.calls.begin() {
		return nil, errSessionClosed
	}
	defer s.calls.end()

	if len(t.Data) != s.input.Size() {
		return nil, fmt.Errorf("expected %d values, got %d", s.input.Size(), len(t.Data))
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](s.outputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := s.session.Run([]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return append([]float32(nil), outputTensor.GetData()...), nil
}

// Close waits for running Infer calls, including ones whose caller gave up,
// then destroys the session and the ONNX environment.
func (s *Session) Close() error {
	s.calls.closeAndWait()

	if s.session != nil {
		if err := s.session.Destroy(); err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
		s.session = nil
	}

	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}
