package prediction

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/Brownie44l1/lesion-api/internal/model"
)

// ModelProvider hands out the shared model handle.
type ModelProvider interface {
	Get() (model.Handle, error)
}

// Service runs one request through validate, gate, preprocess, predict and format.
type Service struct {
	validator    *UploadValidator
	models       ModelProvider
	preprocessor *Preprocessor
	engine       *Engine
	formatter    *Formatter
	log          *zap.Logger
}

func NewService(validator *UploadValidator, models ModelProvider, preprocessor *Preprocessor,
	engine *Engine, formatter *Formatter, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		validator:    validator,
		models:       models,
		preprocessor: preprocessor,
		engine:       engine,
		formatter:    formatter,
		log:          log,
	}
}

func (s *Service) Validator() *UploadValidator {
	return s.validator
}

// Predict handles one upload. Errors are always *Error.
func (s *Service) Predict(ctx context.Context, contentType string, contentLength int64, body io.Reader) (*Envelope, error) {
	upload, err := s.validator.Validate(contentType, contentLength, body)
	if err != nil {
		return nil, err
	}
	s.log.Debug("upload validated",
		zap.String("filename", upload.Filename),
		zap.Int64("size", upload.Size))

	label, err := s.classify(ctx, upload)
	if err != nil {
		return nil, err
	}

	env := s.formatter.Format(label)
	return &env, nil
}

func (s *Service) classify(ctx context.Context, upload *Upload) (Label, error) {
	handle, err := s.models.Get()
	if err != nil {
		return "", modelError(err)
	}

	key := CacheKey(upload.Data)
	if score, ok := s.engine.cached(key); ok {
		s.log.Debug("score cache hit", zap.Float32("score", score))
		return s.engine.Classify(score), nil
	}

	tensor, err := s.preprocessor.Preprocess(upload.Data, handle.Input())
	if err != nil {
		return "", err
	}
	s.log.Debug("image decoded", zap.Int64s("shape", tensor.Shape))

	label, score, err := s.engine.Predict(ctx, handle, tensor)
	if err != nil {
		return "", err
	}
	s.engine.remember(key, score)
	s.log.Debug("prediction complete", zap.Float32("score", score), zap.String("label", string(label)))

	return label, nil
}
