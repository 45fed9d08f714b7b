package prediction

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
)

const (
	// DefaultMaxUploadBytes is the largest accepted image file.
	DefaultMaxUploadBytes int64 = 1000000
	// DefaultFieldName is the multipart field carrying the image.
	DefaultFieldName = "image"

	// Room for multipart headers, boundaries and small text fields.
	formOverheadBytes int64 = 64 << 10

	msgNoImage         = "No image file provided"
	msgUnexpectedField = "Unexpected field"
)

// Upload is one accepted image file.
type Upload struct {
	Data        []byte
	Filename    string
	ContentType string
	Size        int64
}

// UploadValidator enforces the single-file, size-bounded upload contract.
type UploadValidator struct {
	Field    string
	MaxBytes int64
}

func NewUploadValidator(field string, maxBytes int64) *UploadValidator {
	if field == "" {
		field = DefaultFieldName
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &UploadValidator{Field: field, MaxBytes: maxBytes}
}

// MaxBodyBytes is the ceiling on the whole request body.
func (v *UploadValidator) MaxBodyBytes() int64 {
	return v.MaxBytes + formOverheadBytes
}

// TooLargeMessage is the client-facing message for oversized uploads.
func (v *UploadValidator) TooLargeMessage() string {
	return fmt.Sprintf("Payload content length greater than maximum allowed: %d", v.MaxBytes)
}

func (v *UploadValidator) tooLarge(err error) *Error {
	return newError(KindPayloadTooLarge, v.TooLargeMessage(), err)
}

// Validate reads a multipart body and returns the single image file in it.
// contentLength is the declared length, or -1 when unknown.
func (v *UploadValidator) Validate(contentType string, contentLength int64, body io.Reader) (*Upload, error) {
	if contentLength > v.MaxBodyBytes() {
		return nil, v.tooLarge(nil)
	}

	boundary, err := multipartBoundary(contentType)
	if err != nil {
		return nil, newError(KindMalformedUpload, err.Error(), err)
	}

	lr := &limitedReader{r: body, n: v.MaxBodyBytes()}
	reader := multipart.NewReader(lr, boundary)

	var upload *Upload
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, v.readError(lr, err)
		}

		if part.FileName() == "" {
			// Plain form values are accepted and ignored.
			if _, err := io.Copy(io.Discard, part); err != nil {
				part.Close()
				return nil, v.readError(lr, err)
			}
			part.Close()
			continue
		}

		if part.FormName() != v.Field || upload != nil {
			part.Close()
			return nil, newError(KindTooManyOrMissingFields, msgUnexpectedField,
				fmt.Errorf("unexpected file field %q", part.FormName()))
		}

		upload, err = v.readFile(lr, part)
		part.Close()
		if err != nil {
			return nil, err
		}
	}

	if upload == nil {
		return nil, newError(KindTooManyOrMissingFields, msgNoImage, nil)
	}
	return upload, nil
}

func (v *UploadValidator) readFile(lr *limitedReader, part *multipart.Part) (*Upload, error) {
	data, err := io.ReadAll(io.LimitReader(part, v.MaxBytes+1))
	if err != nil {
		return nil, v.readError(lr, err)
	}
	if int64(len(data)) > v.MaxBytes {
		return nil, v.tooLarge(nil)
	}

	return &Upload{
		Data:        data,
		Filename:    part.FileName(),
		ContentType: part.Header.Get("Content-Type"),
		Size:        int64(len(data)),
	}, nil
}

func (v *UploadValidator) readError(lr *limitedReader, err error) *Error {
	var maxErr *http.MaxBytesError
	if lr.exceeded || errors.Is(err, errBodyTooLarge) || errors.As(err, &maxErr) {
		return v.tooLarge(err)
	}
	return newError(KindMalformedUpload, err.Error(), err)
}

func multipartBoundary(contentType string) (string, error) {
	if contentType == "" {
		return "", errors.New("request Content-Type isn't multipart/form-data")
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("invalid Content-Type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", errors.New("request Content-Type isn't multipart/form-data")
	}
	boundary := params["boundary"]
	if boundary == "" {
		return "", errors.New("Multipart: Boundary not found")
	}
	return boundary, nil
}

var errBodyTooLarge = errors.New("request body too large")

// limitedReader fails once more than n bytes have been read.
type limitedReader struct {
	r        io.Reader
	n        int64
	exceeded bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.exceeded {
		return 0, errBodyTooLarge
	}
	if int64(len(p)) > l.n+1 {
		p = p[:l.n+1]
	}
	n, err := l.r.Read(p)
	if int64(n) > l.n {
		l.exceeded = true
		l.n = 0
		return 0, errBodyTooLarge
	}
	l.n -= int64(n)
	return n, err
}
