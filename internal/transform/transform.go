package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/disintegration/imaging"
)

// Layout is the memory order of a model input tensor
type Layout string

const (
	LayoutNCHW Layout = "nchw"
	LayoutNHWC Layout = "nhwc"
)

// Fit selects how the source image is brought to the input size
type Fit string

const (
	// FitResize stretches the image to the target size
	FitResize Fit = "resize"
	// FitFill scales and center-crops, preserving aspect ratio
	FitFill Fit = "fill"
)

// InputSpec describes the tensor a model expects
type InputSpec struct {
	Width    int        `yaml:"width"`
	Height   int        `yaml:"height"`
	Channels int        `yaml:"channels"`
	Layout   Layout     `yaml:"layout"`
	Fit      Fit        `yaml:"fit"`
	Mean     [3]float32 `yaml:"mean"`
	Std      [3]float32 `yaml:"std"`
}

// DefaultInputSpec is a 224x224 RGB NCHW input scaled to [0,1]
func DefaultInputSpec() InputSpec {
	return InputSpec{
		Width:    224,
		Height:   224,
		Channels: 3,
		Layout:   LayoutNCHW,
		Fit:      FitResize,
		Std:      [3]float32{1, 1, 1},
	}
}

// Normalize fills unset fields with defaults and validates the rest
func (s InputSpec) Normalize() (InputSpec, error) {
	if s.Width <= 0 || s.Height <= 0 {
		return s, fmt.Errorf("input size must be positive (got %dx%d)", s.Width, s.Height)
	}
	if s.Channels == 0 {
		s.Channels = 3
	}
	if s.Channels != 1 && s.Channels != 3 {
		return s, fmt.Errorf("unsupported channel count %d", s.Channels)
	}

	s.Layout = Layout(strings.ToLower(string(s.Layout)))
	switch s.Layout {
	case "":
		s.Layout = LayoutNCHW
	case LayoutNCHW, LayoutNHWC:
	default:
		return s, fmt.Errorf("unsupported layout %q", s.Layout)
	}

	s.Fit = Fit(strings.ToLower(string(s.Fit)))
	switch s.Fit {
	case "":
		s.Fit = FitResize
	case FitResize, FitFill:
	default:
		return s, fmt.Errorf("unsupported fit %q", s.Fit)
	}

	if s.Std == ([3]float32{}) {
		s.Std = [3]float32{1, 1, 1}
	}
	for i, v := range s.Std {
		if v == 0 {
			return s, fmt.Errorf("std[%d] must not be zero", i)
		}
	}
	return s, nil
}

// Shape returns the tensor shape for a batch of one
func (s InputSpec) Shape() []int64 {
	if s.Layout == LayoutNHWC {
		return []int64{1, int64(s.Height), int64(s.Width), int64(s.Channels)}
	}
	return []int64{1, int64(s.Channels), int64(s.Height), int64(s.Width)}
}

// Tensor is a dense float32 model input
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Size is the element count implied by Shape
func (t *Tensor) Size() int {
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// DecodeError means the input bytes are not an image we can read
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Transformer turns raw image bytes into model input
type Transformer interface {
	Transform(ctx context.Context, r io.Reader, spec InputSpec) (*Tensor, error)
}

// DefaultMaxPixels bounds the decoded canvas of NewTransformer
const DefaultMaxPixels = 40_000_000

// ErrTooManyPixels means the declared image size exceeds the pixel budget
var ErrTooManyPixels = errors.New("image dimensions exceed pixel limit")

type imageTransformer struct {
	maxPixels int64
}

func NewTransformer() Transformer {
	return NewTransformerWithMaxPixels(DefaultMaxPixels)
}

// NewTransformerWithMaxPixels creates a transformer that refuses to decode
// images whose header declares more than maxPixels pixels
func NewTransformerWithMaxPixels(maxPixels int64) Transformer {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &imageTransformer{maxPixels: maxPixels}
}

func (t *imageTransformer) Transform(ctx context.Context, r io.Reader, spec InputSpec) (*Tensor, error) {
	spec, err := spec.Normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid input spec: %w", err)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if err := t.checkDimensions(data); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return ToTensor(img, spec), nil
}

// checkDimensions reads only the image header
func (t *imageTransformer) checkDimensions(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return &DecodeError{Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return &DecodeError{Err: fmt.Errorf("invalid image size %dx%d", cfg.Width, cfg.Height)}
	}
	if int64(cfg.Width)*int64(cfg.Height) > t.maxPixels {
		return &DecodeError{Err: fmt.Errorf("%w: %dx%d > %d", ErrTooManyPixels, cfg.Width, cfg.Height, t.maxPixels)}
	}
	return nil
}

// ToTensor resizes img and packs it according to spec. spec must be normalized.
func ToTensor(img image.Image, spec InputSpec) *Tensor {
	var resized *image.NRGBA
	if spec.Fit == FitFill {
		resized = imaging.Fill(img, spec.Width, spec.Height, imaging.Center, imaging.Lanczos)
	} else {
		resized = imaging.Resize(img, spec.Width, spec.Height, imaging.Lanczos)
	}
	if spec.Channels == 1 {
		resized = imaging.Grayscale(resized)
	}

	width, height, channels := spec.Width, spec.Height, spec.Channels
	plane := width * height
	data := make([]float32, channels*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			off := y*resized.Stride + x*4
			pixelIndex := y*width + x
			for c := 0; c < channels; c++ {
				v := float32(resized.Pix[off+c]) / 255.0
				v = (v - spec.Mean[c]) / spec.Std[c]

				if spec.Layout == LayoutNHWC {
					data[pixelIndex*channels+c] = v
				} else {
					data[c*plane+pixelIndex] = v
				}
			}
		}
	}

	return &Tensor{Shape: spec.Shape(), Data: data}
}
