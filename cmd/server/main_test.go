package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Brownie44l1/lesion-api/internal/model"
)

type nopHandle struct{}

func (nopHandle) Input() model.InputSpec                 { return model.InputSpec{} }
func (nopHandle) Infer(*model.Tensor) ([]float32, error) { return nil, nil }
func (nopHandle) Close() error                           { return nil }

func TestAwaitModel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	tests := []struct {
		name    string
		loader  model.Loader
		level   zapcore.Level
		message string
	}{
		{
			name: "ready",
			loader: func(ctx context.Context) (model.Handle, error) {
				return nopHandle{}, nil
			},
			level:   zapcore.InfoLevel,
			message: "Model ready at startup",
		},
		{
			name: "failed",
			loader: func(ctx context.Context) (model.Handle, error) {
				return nil, errors.New("404 Not Found")
			},
			level:   zapcore.ErrorLevel,
			message: "Model unavailable at startup",
		},
		{
			name: "still loading",
			loader: func(ctx context.Context) (model.Handle, error) {
				select {
				case <-release:
				case <-ctx.Done():
				}
				return nil, errors.New("stopped")
			},
			level:   zapcore.WarnLevel,
			message: "Model still loading after startup wait, serving anyway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := model.NewManager(tt.loader, zap.NewNop())
			defer manager.Close()
			manager.StartLoad(context.Background())

			core, logs := observer.New(zapcore.InfoLevel)
			awaitModel(context.Background(), manager, 50*time.Millisecond, zap.New(core))

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("expected one log entry, got %d", len(entries))
			}
			if entries[0].Level != tt.level || entries[0].Message != tt.message {
				t.Fatalf("got %s %q", entries[0].Level, entries[0].Message)
			}
		})
	}
}
