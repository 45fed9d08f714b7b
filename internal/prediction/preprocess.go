package prediction

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/lesion-api/internal/model"
)

var filters = map[string]resize.InterpolationFunction{
	"nearest":  resize.NearestNeighbor,
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"mitchell": resize.MitchellNetravali,
	"lanczos2": resize.Lanczos2,
	"lanczos3": resize.Lanczos3,
}

// ParseFilter maps a config name to a resize interpolation.
func ParseFilter(name string) (resize.InterpolationFunction, error) {
	if name == "" {
		return resize.Bilinear, nil
	}
	f, ok := filters[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown resize filter %q", name)
	}
	return f, nil
}

// DefaultMaxPixels bounds the decoded raster of one upload.
const DefaultMaxPixels = 25_000_000

// Preprocessor turns raw image bytes into a model input tensor.
type Preprocessor struct {
	Filter     resize.InterpolationFunction
	AutoOrient bool
	// MaxPixels caps width*height before the raster is allocated.
	MaxPixels int
}

func NewPreprocessor(filter resize.InterpolationFunction, autoOrient bool, maxPixels int) *Preprocessor {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Preprocessor{Filter: filter, AutoOrient: autoOrient, MaxPixels: maxPixels}
}

// Decode sniffs the format from content and returns an opaque NRGBA image.
func (p *Preprocessor) Decode(data []byte) (*image.NRGBA, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, newError(KindUnsupportedImageFormat, errorInPrediction, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, newError(KindUnsupportedImageFormat, errorInPrediction, errors.New("image has no pixels"))
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(p.MaxPixels) {
		return nil, newError(KindUnsupportedImageFormat, errorInPrediction,
			fmt.Errorf("image is %dx%d, more than %d pixels", cfg.Width, cfg.Height, p.MaxPixels))
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(p.AutoOrient))
	if err != nil {
		return nil, newError(KindUnsupportedImageFormat, errorInPrediction, err)
	}
	if img.Bounds().Empty() {
		return nil, newError(KindUnsupportedImageFormat, errorInPrediction, errors.New("image has no pixels"))
	}

	// Alpha is dropped, not composited.
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		nrgba = imaging.Clone(img)
	}
	for i := 3; i < len(nrgba.Pix); i += 4 {
		nrgba.Pix[i] = 0xff
	}
	return nrgba, nil
}

// Preprocess decodes data, resizes it to spec and normalizes to [0,1].
func (p *Preprocessor) Preprocess(data []byte, spec model.InputSpec) (*model.Tensor, error) {
	decoded, err := p.Decode(data)
	if err != nil {
		return nil, err
	}

	var img image.Image = decoded
	if b := decoded.Bounds(); b.Dx() != spec.Width || b.Dy() != spec.Height {
		img = resize.Resize(uint(spec.Width), uint(spec.Height), decoded, p.Filter)
	}

	return toTensor(img, spec), nil
}

func toTensor(img image.Image, spec model.InputSpec) *model.Tensor {
	bounds := img.Bounds()
	width, height := spec.Width, spec.Height
	plane := width * height
	data := make([]float32, spec.Size())

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			rgb := [3]float32{
				float32(r>>8) / 255.0,
				float32(g>>8) / 255.0,
				float32(b>>8) / 255.0,
			}

			pixelIndex := y*width + x
			for c, v := range rgb {
				if spec.Layout == model.LayoutNCHW {
					data[c*plane+pixelIndex] = v
				} else {
					data[pixelIndex*3+c] = v
				}
			}
		}
	}

	return &model.Tensor{Shape: spec.Shape(), Data: data}
}
