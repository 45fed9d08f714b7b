package prediction

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Brownie44l1/lesion-api/internal/model"
)

// Kind classifies pipeline failures.
type Kind int

const (
	KindMalformedUpload Kind = iota + 1
	KindTooManyOrMissingFields
	KindPayloadTooLarge
	KindUnsupportedImageFormat
	KindModelNotReady
	KindModelLoadFailed
	KindPredictionFailed
)

func (k Kind) String() string {
	switch k {
	case KindMalformedUpload:
		return "MalformedUpload"
	case KindTooManyOrMissingFields:
		return "TooManyOrMissingFields"
	case KindPayloadTooLarge:
		return "PayloadTooLarge"
	case KindUnsupportedImageFormat:
		return "UnsupportedImageFormat"
	case KindModelNotReady:
		return "ModelNotReady"
	case KindModelLoadFailed:
		return "ModelLoadFailed"
	case KindPredictionFailed:
		return "PredictionFailed"
	default:
		return "Unknown"
	}
}

// StatusCode is the HTTP status a failure of this kind is reported with.
func (k Kind) StatusCode() int {
	switch k {
	case KindMalformedUpload, KindTooManyOrMissingFields:
		return http.StatusBadRequest
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// Error is a tagged pipeline failure. Message is safe to show to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinel-style checks work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Sentinels for errors.Is.
var (
	ErrMalformedUpload        = &Error{Kind: KindMalformedUpload}
	ErrTooManyOrMissingFields = &Error{Kind: KindTooManyOrMissingFields}
	ErrPayloadTooLarge        = &Error{Kind: KindPayloadTooLarge}
	ErrUnsupportedImageFormat = &Error{Kind: KindUnsupportedImageFormat}
	ErrModelNotReady          = &Error{Kind: KindModelNotReady}
	ErrModelLoadFailed        = &Error{Kind: KindModelLoadFailed}
	ErrPredictionFailed       = &Error{Kind: KindPredictionFailed}
)

// KindOf returns the kind of err, or KindPredictionFailed for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPredictionFailed
}

func modelError(err error) *Error {
	if errors.Is(err, model.ErrModelLoadFailed) {
		return newError(KindModelLoadFailed, errorInPrediction, err)
	}
	return newError(KindModelNotReady, errorInPrediction, err)
}
