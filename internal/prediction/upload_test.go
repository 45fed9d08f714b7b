package prediction

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestValidateAcceptsSingleImage(t *testing.T) {
	v := NewUploadValidator("", 0)
	body, ct := multipartBody(t, []filePart{{"image", "lesion.jpg", []byte("pixels")}},
		map[string]string{"note": "left arm"})

	upload, err := v.Validate(ct, int64(body.Len()), body)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if string(upload.Data) != "pixels" || upload.Size != 6 {
		t.Fatalf("unexpected upload %+v", upload)
	}
	if upload.Filename != "lesion.jpg" {
		t.Fatalf("unexpected filename %q", upload.Filename)
	}
}

func TestValidateFieldCount(t *testing.T) {
	tests := []struct {
		name  string
		files []filePart
		msg   string
	}{
		{name: "no file", files: nil, msg: msgNoImage},
		{
			name:  "two images",
			files: []filePart{{"image", "a.png", []byte("a")}, {"image", "b.png", []byte("b")}},
			msg:   msgUnexpectedField,
		},
		{name: "wrong field", files: []filePart{{"photo", "a.png", []byte("a")}}, msg: msgUnexpectedField},
		{
			name:  "image plus extra file",
			files: []filePart{{"image", "a.png", []byte("a")}, {"other", "b.png", []byte("b")}},
			msg:   msgUnexpectedField,
		},
	}

	v := NewUploadValidator("image", 1000)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.files, map[string]string{"field": "value"})
			_, err := v.Validate(ct, int64(body.Len()), body)
			if !errors.Is(err, ErrTooManyOrMissingFields) {
				t.Fatalf("expected TooManyOrMissingFields, got %v", err)
			}
			var e *Error
			errors.As(err, &e)
			if e.Message != tt.msg {
				t.Fatalf("message = %q, want %q", e.Message, tt.msg)
			}
			if KindOf(err).StatusCode() != http.StatusBadRequest {
				t.Fatalf("status = %d", KindOf(err).StatusCode())
			}
		})
	}
}

func TestValidatePayloadTooLarge(t *testing.T) {
	v := NewUploadValidator("image", 1000)
	big := bytes.Repeat([]byte{0xff}, 1001)

	t.Run("declared length", func(t *testing.T) {
		body, ct := multipartBody(t, []filePart{{"image", "big.png", bytes.Repeat([]byte{1}, 200000)}}, nil)
		_, err := v.Validate(ct, int64(body.Len()), body)
		if !errors.Is(err, ErrPayloadTooLarge) {
			t.Fatalf("expected PayloadTooLarge, got %v", err)
		}
	})

	t.Run("file over limit", func(t *testing.T) {
		body, ct := multipartBody(t, []filePart{{"image", "big.png", big}}, nil)
		_, err := v.Validate(ct, -1, body)
		if !errors.Is(err, ErrPayloadTooLarge) {
			t.Fatalf("expected PayloadTooLarge, got %v", err)
		}
		var e *Error
		errors.As(err, &e)
		if e.Message != "Payload content length greater than maximum allowed: 1000" {
			t.Fatalf("unexpected message %q", e.Message)
		}
		if KindOf(err).StatusCode() != http.StatusRequestEntityTooLarge {
			t.Fatalf("status = %d", KindOf(err).StatusCode())
		}
	})

	t.Run("unknown length body over ceiling", func(t *testing.T) {
		values := map[string]string{"padding": strings.Repeat("x", int(v.MaxBodyBytes()))}
		body, ct := multipartBody(t, []filePart{{"image", "a.png", []byte("a")}}, values)
		_, err := v.Validate(ct, -1, body)
		if !errors.Is(err, ErrPayloadTooLarge) {
			t.Fatalf("expected PayloadTooLarge, got %v", err)
		}
	})

	t.Run("exactly at limit", func(t *testing.T) {
		body, ct := multipartBody(t, []filePart{{"image", "ok.png", big[:1000]}}, nil)
		upload, err := v.Validate(ct, -1, body)
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if upload.Size != 1000 {
			t.Fatalf("size = %d", upload.Size)
		}
	})
}

func TestValidateMalformed(t *testing.T) {
	v := NewUploadValidator("image", 1000)
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{name: "json body", contentType: "application/json", body: `{"image":"x"}`},
		{name: "no content type", contentType: "", body: "abc"},
		{name: "missing boundary", contentType: "multipart/form-data", body: "abc"},
		{name: "truncated", contentType: "multipart/form-data; boundary=xyz", body: "--xyz\r\nContent-Disposition: form-data; name=\"image\"; filename=\"a\"\r\n\r\nabc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(tt.contentType, int64(len(tt.body)), strings.NewReader(tt.body))
			if !errors.Is(err, ErrMalformedUpload) {
				t.Fatalf("expected MalformedUpload, got %v", err)
			}
			var e *Error
			errors.As(err, &e)
			if e.Message == "" {
				t.Fatal("malformed upload must carry a reason")
			}
		})
	}
}
