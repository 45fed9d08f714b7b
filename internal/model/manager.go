package model

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Loader fetches and materializes the model.
type Loader func(ctx context.Context) (Handle, error)

// State is the lifecycle state of the managed model.
type State int32

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type loadResult struct {
	handle Handle
	err    error
}

// Manager owns the single shared model handle. The load goroutine is the only
// writer; the result is published with one atomic store.
type Manager struct {
	loader Loader
	log    *zap.Logger

	state  atomic.Int32
	result atomic.Pointer[loadResult]

	start  sync.Once
	done   chan struct{}
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
}

func NewManager(loader Loader, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		loader: loader,
		log:    log,
		done:   make(chan struct{}),
	}
}

// StartLoad begins loading in the background. Only the first call has an effect.
func (m *Manager) StartLoad(ctx context.Context) {
	m.start.Do(func() {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		ctx, m.cancel = context.WithCancel(ctx)
		m.state.Store(int32(StateLoading))
		m.mu.Unlock()

		go m.load(ctx)
	})
}

func (m *Manager) load(ctx context.Context) {
	defer close(m.done)

	started := time.Now()
	handle, err := m.runLoader(ctx)
	if err == nil && handle == nil {
		err = fmt.Errorf("loader returned no model")
	}

	if err != nil {
		m.result.Store(&loadResult{err: err})
		m.state.Store(int32(StateFailed))
		m.log.Error("Failed to load the model", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
		return
	}

	m.result.Store(&loadResult{handle: handle})
	m.state.Store(int32(StateReady))
	in := handle.Input()
	m.log.Info("Model loaded successfully",
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("height", in.Height),
		zap.Int("width", in.Width),
		zap.String("layout", in.Layout))
}

func (m *Manager) runLoader(ctx context.Context) (handle Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			handle, err = nil, fmt.Errorf("loader panicked: %v", r)
		}
	}()
	return m.loader(ctx)
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) IsReady() bool {
	return m.State() == StateReady
}

// Get returns the loaded handle, ErrModelNotReady while loading, or an error
// wrapping ErrModelLoadFailed if the load failed.
func (m *Manager) Get() (Handle, error) {
	r := m.result.Load()
	if r == nil {
		return nil, ErrModelNotReady
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoadFailed, r.err)
	}
	return r.handle, nil
}

// Wait blocks until the load finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	if m.State() == StateIdle {
		return ErrModelNotReady
	}
	select {
	case <-m.done:
		_, err := m.Get()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels an in-flight load, waits for it and releases the handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.cancel
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-m.done

	if r := m.result.Load(); r != nil && r.handle != nil {
		return r.handle.Close()
	}
	return nil
}
