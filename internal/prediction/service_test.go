package prediction

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nfnt/resize"

	"github.com/Brownie44l1/lesion-api/internal/model"
)

func newTestService(t *testing.T, provider ModelProvider, cacheSize int) *Service {
	t.Helper()
	engine, err := NewEngine(DefaultThreshold, cacheSize, nil)
	if err != nil {
		t.Fatal(err)
	}
	return NewService(NewUploadValidator("image", DefaultMaxUploadBytes), provider,
		NewPreprocessor(resize.Bilinear, false, 0), engine, NewFormatter(), nil)
}

func TestServicePredict(t *testing.T) {
	h := newFakeHandle(0.2)
	svc := newTestService(t, staticProvider{handle: h}, 0)

	body, ct := multipartBody(t, []filePart{{"image", "lesion.jpg", encodeJPEG(t, gradient(32, 32))}}, nil)
	env, err := svc.Predict(context.Background(), ct, int64(body.Len()), body)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if env.Data.Result != LabelNonCancer {
		t.Fatalf("result = %s", env.Data.Result)
	}

	last := h.last.Load()
	if fmt.Sprint(last.Shape) != "[1 4 4 3]" {
		t.Fatalf("model got shape %v", last.Shape)
	}
}

func TestServiceModelGate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{name: "loading", err: model.ErrModelNotReady, kind: KindModelNotReady},
		{name: "failed", err: fmt.Errorf("%w: 403", model.ErrModelLoadFailed), kind: KindModelLoadFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, staticProvider{err: tt.err}, 0)
			body, ct := multipartBody(t, []filePart{{"image", "a.png", encodePNG(t, gradient(4, 4))}}, nil)

			_, err := svc.Predict(context.Background(), ct, int64(body.Len()), body)
			if KindOf(err) != tt.kind {
				t.Fatalf("kind = %s, want %s (%v)", KindOf(err), tt.kind, err)
			}
			var e *Error
			errors.As(err, &e)
			if e.Message != "Error in prediction" {
				t.Fatalf("message = %q", e.Message)
			}
		})
	}
}

func TestServiceValidationRunsFirst(t *testing.T) {
	svc := newTestService(t, staticProvider{err: model.ErrModelNotReady}, 0)
	body, ct := multipartBody(t, nil, nil)

	_, err := svc.Predict(context.Background(), ct, int64(body.Len()), body)
	if !errors.Is(err, ErrTooManyOrMissingFields) {
		t.Fatalf("expected TooManyOrMissingFields, got %v", err)
	}
}

func TestServiceIdempotentLabel(t *testing.T) {
	for _, cacheSize := range []int{0, 8} {
		h := newFakeHandle(0.75)
		svc := newTestService(t, staticProvider{handle: h}, cacheSize)
		data := encodePNG(t, gradient(10, 10))

		var envs []*Envelope
		for i := 0; i < 2; i++ {
			body, ct := multipartBody(t, []filePart{{"image", "a.png", data}}, nil)
			env, err := svc.Predict(context.Background(), ct, int64(body.Len()), body)
			if err != nil {
				t.Fatalf("cache %d: %v", cacheSize, err)
			}
			envs = append(envs, env)
		}

		if envs[0].Data.Result != envs[1].Data.Result {
			t.Fatalf("cache %d: labels differ", cacheSize)
		}
		if envs[0].Data.ID == envs[1].Data.ID {
			t.Fatalf("cache %d: identifiers must differ", cacheSize)
		}

		wantCalls := int32(2)
		if cacheSize > 0 {
			wantCalls = 1
		}
		if h.calls.Load() != wantCalls {
			t.Fatalf("cache %d: model calls = %d, want %d", cacheSize, h.calls.Load(), wantCalls)
		}
	}
}

func TestServiceDecodeFailureNotCached(t *testing.T) {
	h := newFakeHandle(0.75)
	svc := newTestService(t, staticProvider{handle: h}, 8)

	for i := 0; i < 2; i++ {
		body, ct := multipartBody(t, []filePart{{"image", "notes.jpg", []byte("plain text")}}, nil)
		_, err := svc.Predict(context.Background(), ct, int64(body.Len()), body)
		if !errors.Is(err, ErrUnsupportedImageFormat) {
			t.Fatalf("expected UnsupportedImageFormat, got %v", err)
		}
	}
	if h.calls.Load() != 0 {
		t.Fatalf("model should not be invoked, got %d calls", h.calls.Load())
	}
}
