// Package decoder turns uploaded bytes into a canonical 3-channel RGB image.
package decoder

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrDecode is the cause of every decoding failure.
var ErrDecode = errors.New("decode error")

// DecodeError describes why the payload could not be read as an image.
type DecodeError struct {
	Detected string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("Could not read image file: unsupported format %s", e.Detected)
	}
	return fmt.Sprintf("Could not read image file (%s): %v", e.Detected, e.Err)
}

func (e *DecodeError) Unwrap() error { return ErrDecode }

// RGB is a packed 8-bit RGB pixel grid, three bytes per pixel, row major.
type RGB struct {
	Width  int
	Height int
	Pix    []uint8
	// Format is the name of the decoder that produced the image.
	Format string
}

func (m *RGB) ColorModel() color.Model { return color.RGBAModel }

func (m *RGB) Bounds() image.Rectangle { return image.Rect(0, 0, m.Width, m.Height) }

func (m *RGB) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(m.Bounds())) {
		return color.RGBA{}
	}
	i := (y*m.Width + x) * 3
	return color.RGBA{R: m.Pix[i], G: m.Pix[i+1], B: m.Pix[i+2], A: 0xff}
}

// Decode decodes a jpeg, png, gif, bmp or webp payload.
func Decode(data []byte) (*RGB, error) {
	detected := mimetype.Detect(data)
	if len(data) == 0 {
		return nil, &DecodeError{Detected: detected.String(), Err: errors.New("empty payload")}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil && detected.Is("image/webp") {
		// x/image/webp does not cover every encoder option, libwebp does
		img, err = webp.Decode(bytes.NewReader(data))
		format = "webp"
	}
	if err != nil {
		if !strings.HasPrefix(detected.String(), "image/") {
			return nil, &DecodeError{Detected: detected.String()}
		}
		return nil, &DecodeError{Detected: detected.String(), Err: err}
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &DecodeError{Detected: detected.String(), Err: errors.Errorf("image has no pixels (%dx%d)", b.Dx(), b.Dy())}
	}

	rgb := Canonicalize(img)
	rgb.Format = format
	return rgb, nil
}

// Canonicalize converts any color mode into packed RGB. Gray is expanded,
// palettes are resolved and alpha is dropped without compositing.
func Canonicalize(img image.Image) *RGB {
	if m, ok := img.(*image.NYCbCrA); ok {
		return fromNYCbCrA(m)
	}

	// Clone keeps straight (non-premultiplied) color for NRGBA sources, so
	// dropping the alpha byte below is a plain discard.
	nrgba := imaging.Clone(img)
	w, h := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()

	out := &RGB{Width: w, Height: h, Pix: make([]uint8, w*h*3)}
	for y := 0; y < h; y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		dst := out.Pix[y*w*3 : (y+1)*w*3]
		for x := 0; x < w; x++ {
			dst[x*3+0] = src[x*4+0]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return out
}

// fromNYCbCrA converts the luma and chroma planes directly. The alpha plane
// is separate, so fully transparent pixels keep their color instead of going
// through a premultiplied conversion.
func fromNYCbCrA(m *image.NYCbCrA) *RGB {
	b := m.Bounds()
	w, h := b.Dx(), b.Dy()
	out := &RGB{Width: w, Height: h, Pix: make([]uint8, w*h*3)}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			yi, ci := m.YOffset(x, y), m.COffset(x, y)
			out.Pix[i], out.Pix[i+1], out.Pix[i+2] = color.YCbCrToRGB(m.Y[yi], m.Cb[ci], m.Cr[ci])
			i += 3
		}
	}
	return out
}
