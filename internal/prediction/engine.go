package prediction

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Brownie44l1/lesion-api/internal/model"
)

// Label is the binary verdict.
type Label string

const (
	LabelCancer    Label = "Cancer"
	LabelNonCancer Label = "Non-cancer"
)

// DefaultThreshold is the decision boundary. A score equal to it is negative.
const DefaultThreshold float32 = 0.5

// Engine runs the forward pass and reduces the output to a Label.
type Engine struct {
	threshold float32
	cache     *lru.Cache[[sha256.Size]byte, float32]
	log       *zap.Logger
}

// NewEngine creates an engine. cacheSize > 0 enables the score cache.
func NewEngine(threshold float32, cacheSize int, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{threshold: threshold, log: log}
	if cacheSize > 0 {
		cache, err := lru.New[[sha256.Size]byte, float32](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create score cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

// Classify applies the strict greater-than threshold test.
func (e *Engine) Classify(score float32) Label {
	if score > e.threshold {
		return LabelCancer
	}
	return LabelNonCancer
}

type inferResult struct {
	out []float32
	err error
}

// Score runs the model on t and returns its first output value. If ctx ends
// first the call returns and the computation is left to finish on its own.
func (e *Engine) Score(ctx context.Context, handle model.Handle, t *model.Tensor) (float32, error) {
	if handle == nil {
		return 0, newError(KindModelNotReady, errorInPrediction, model.ErrModelNotReady)
	}
	if err := ctx.Err(); err != nil {
		return 0, newError(KindPredictionFailed, errorInPrediction, err)
	}

	done := make(chan inferResult, 1)
	go func() {
		out, err := safeInfer(handle, t)
		done <- inferResult{out: out, err: err}
	}()

	var res inferResult
	select {
	case res = <-done:
	case <-ctx.Done():
		e.log.Warn("inference abandoned", zap.Error(ctx.Err()))
		return 0, newError(KindPredictionFailed, errorInPrediction, ctx.Err())
	}

	if res.err != nil {
		return 0, newError(KindPredictionFailed, errorInPrediction, res.err)
	}
	if len(res.out) == 0 {
		return 0, newError(KindPredictionFailed, errorInPrediction, errors.New("model returned no output"))
	}
	score := res.out[0]
	if math.IsNaN(float64(score)) || math.IsInf(float64(score), 0) {
		return 0, newError(KindPredictionFailed, errorInPrediction, fmt.Errorf("model returned %v", score))
	}
	return score, nil
}

func safeInfer(handle model.Handle, t *model.Tensor) (out []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("inference panicked: %v", r)
		}
	}()
	return handle.Infer(t)
}

// Predict scores t and classifies the result.
func (e *Engine) Predict(ctx context.Context, handle model.Handle, t *model.Tensor) (Label, float32, error) {
	score, err := e.Score(ctx, handle, t)
	if err != nil {
		return "", 0, err
	}
	return e.Classify(score), score, nil
}

// CacheKey identifies an upload in the score cache.
func CacheKey(data []byte) [sha256.Size]byte {
	return sha256.Sum256(data)
}

func (e *Engine) cached(key [sha256.Size]byte) (float32, bool) {
	if e.cache == nil {
		return 0, false
	}
	return e.cache.Get(key)
}

func (e *Engine) remember(key [sha256.Size]byte, score float32) {
	if e.cache != nil {
		e.cache.Add(key, score)
	}
}
