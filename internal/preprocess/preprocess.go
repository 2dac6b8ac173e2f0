// Package preprocess resizes a canonical RGB image and packs it into the
// normalized float tensor a classifier backbone expects.
package preprocess

import (
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// ErrPreprocess is the cause of every preprocessing failure.
var ErrPreprocess = errors.New("preprocess error")

// Scheme names the pixel normalization a backbone was trained with.
type Scheme string

const (
	// SchemeImageNet standardizes v/255 with the ImageNet channel mean and std.
	SchemeImageNet Scheme = "imagenet"
	// SchemeSymmetric maps 0..255 linearly onto -1..1.
	SchemeSymmetric Scheme = "symmetric"
	// SchemeUnit maps 0..255 linearly onto 0..1.
	SchemeUnit Scheme = "unit"
)

var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// ParseScheme accepts the config spelling of a scheme.
func ParseScheme(s string) (Scheme, error) {
	switch sc := Scheme(strings.ToLower(strings.TrimSpace(s))); sc {
	case SchemeImageNet, SchemeSymmetric, SchemeUnit:
		return sc, nil
	}
	return "", errors.Wrapf(ErrPreprocess, "unknown normalization scheme %q", s)
}

// Layout is the memory order of the packed tensor.
type Layout string

const (
	NHWC Layout = "nhwc"
	NCHW Layout = "nchw"
)

func ParseLayout(s string) (Layout, error) {
	switch l := Layout(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return NHWC, nil
	case NHWC, NCHW:
		return l, nil
	}
	return "", errors.Wrapf(ErrPreprocess, "unknown tensor layout %q", s)
}

// Spec is everything the preprocessor needs to know about a backbone's input.
type Spec struct {
	// Size is the square spatial input size, e.g. 224.
	Size int
	// ResizeShort, when set, resizes the short side to this length and
	// center-crops Size x Size. Zero resizes straight to Size x Size.
	ResizeShort int
	Scheme      Scheme
	Layout      Layout
}

func (s Spec) Validate() error {
	if s.Size <= 0 {
		return errors.Wrapf(ErrPreprocess, "input size must be positive, got %d", s.Size)
	}
	if s.ResizeShort != 0 && s.ResizeShort < s.Size {
		return errors.Wrapf(ErrPreprocess, "resize size %d is smaller than crop size %d", s.ResizeShort, s.Size)
	}
	if _, err := ParseScheme(string(s.Scheme)); err != nil {
		return err
	}
	if _, err := ParseLayout(string(s.Layout)); err != nil {
		return err
	}
	return nil
}

// Tensor is a single-image input batch.
type Tensor struct {
	Layout Layout
	Height int
	Width  int
	Data   []float32
}

// Shape returns the batch shape including the leading batch dimension of 1.
func (t *Tensor) Shape() []int64 {
	if t.Layout == NCHW {
		return []int64{1, 3, int64(t.Height), int64(t.Width)}
	}
	return []int64{1, int64(t.Height), int64(t.Width), 3}
}

func (t *Tensor) String() string {
	return fmt.Sprintf("tensor%v(%s)", t.Shape(), t.Layout)
}

// Run resizes img per spec and packs the normalized pixel values.
func Run(img image.Image, spec Spec) (*Tensor, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if img == nil {
		return nil, errors.Wrap(ErrPreprocess, "nil image")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.Wrapf(ErrPreprocess, "cannot resize a %dx%d image", b.Dx(), b.Dy())
	}

	// resize has fast paths for NRGBA but walks At() for anything else
	src := imaging.Clone(img)

	var sized image.Image
	if spec.ResizeShort > 0 {
		sized = resizeDirect(cropWindow(src, spec.ResizeShort, spec.Size), spec.Size)
	} else {
		sized = resizeDirect(src, spec.Size)
	}

	sb := sized.Bounds()
	if sb.Dx() != spec.Size || sb.Dy() != spec.Size {
		return nil, errors.Wrapf(ErrPreprocess, "resized image is %dx%d, want %dx%d", sb.Dx(), sb.Dy(), spec.Size, spec.Size)
	}

	layout, _ := ParseLayout(string(spec.Layout))
	t := &Tensor{
		Layout: layout,
		Height: spec.Size,
		Width:  spec.Size,
		Data:   make([]float32, 3*spec.Size*spec.Size),
	}
	pack(t, imaging.Clone(sized), spec.Scheme)
	return t, nil
}

func resizeDirect(img image.Image, size int) image.Image {
	return resize.Resize(uint(size), uint(size), img, resize.Bilinear)
}

// cropWindow takes the center square that would survive resizing the short
// side to short and cropping size x size, but in source pixels. Resizing
// only that window keeps the work bounded by the output size, whatever the
// aspect ratio of the upload.
func cropWindow(img image.Image, short, size int) image.Image {
	b := img.Bounds()
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	n := int(float64(side)*float64(size)/float64(short) + 0.5)
	if n < 1 {
		n = 1
	}
	if n > side {
		n = side
	}
	return imaging.CropCenter(img, n, n)
}

func pack(t *Tensor, img *image.NRGBA, scheme Scheme) {
	plane := t.Height * t.Width
	for y := 0; y < t.Height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+t.Width*4]
		for x := 0; x < t.Width; x++ {
			p := y*t.Width + x
			for c := 0; c < 3; c++ {
				v := normalize(row[x*4+c], c, scheme)
				if t.Layout == NCHW {
					t.Data[c*plane+p] = v
				} else {
					t.Data[p*3+c] = v
				}
			}
		}
	}
}

func normalize(v uint8, channel int, scheme Scheme) float32 {
	switch scheme {
	case SchemeImageNet:
		return (float32(v)/255.0 - ImageNetMean[channel]) / ImageNetStd[channel]
	case SchemeSymmetric:
		return float32(v)/127.5 - 1.0
	default:
		return float32(v) / 255.0
	}
}
