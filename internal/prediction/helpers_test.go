package prediction

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"sync/atomic"
	"testing"

	"github.com/Brownie44l1/lesion-api/internal/model"
)

type filePart struct {
	field, name string
	data        []byte
}

// multipartBody builds a form with the given file parts and text values.
func multipartBody(t *testing.T, files []filePart, values map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range values {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		part, err := writer.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(f.data); err != nil {
			t.Fatal(err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	return body, writer.FormDataContentType()
}

func gradient(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{uint8((x * 255) / width), uint8((y * 255) / height), 128, 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// fakeHandle returns score for every input, or err, or panics.
type fakeHandle struct {
	spec   model.InputSpec
	score  float32
	output []float32
	err    error
	panic  bool
	block  chan struct{}
	calls  atomic.Int32
	last   atomic.Pointer[model.Tensor]
}

func newFakeHandle(score float32) *fakeHandle {
	return &fakeHandle{
		spec:  model.InputSpec{Height: 4, Width: 4, Channels: 3, Layout: model.LayoutNHWC},
		score: score,
	}
}

func (h *fakeHandle) Input() model.InputSpec { return h.spec }

func (h *fakeHandle) Infer(t *model.Tensor) ([]float32, error) {
	h.calls.Add(1)
	h.last.Store(t)
	if h.block != nil {
		<-h.block
	}
	if h.panic {
		panic("kernel fault")
	}
	if h.err != nil {
		return nil, h.err
	}
	if h.output != nil {
		return h.output, nil
	}
	return []float32{h.score}, nil
}

func (h *fakeHandle) Close() error { return nil }

type staticProvider struct {
	handle model.Handle
	err    error
}

func (p staticProvider) Get() (model.Handle, error) {
	return p.handle, p.err
}
