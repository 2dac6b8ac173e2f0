package preprocess

import (
	"image"
	"image/color"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tol = 1.0 / 127.5

func uniformImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestRun_ShapeNHWC(t *testing.T) {
	spec := Spec{Size: 224, Scheme: SchemeSymmetric, Layout: NHWC}
	tensor, err := Run(uniformImage(500, 500, color.NRGBA{10, 20, 30, 255}), spec)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 224, 224, 3}, tensor.Shape())
	assert.Len(t, tensor.Data, 224*224*3)
}

func TestRun_ShapeNCHW(t *testing.T) {
	spec := Spec{Size: 224, ResizeShort: 256, Scheme: SchemeImageNet, Layout: NCHW}
	tensor, err := Run(uniformImage(640, 480, color.NRGBA{10, 20, 30, 255}), spec)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 224, 224}, tensor.Shape())
	assert.Len(t, tensor.Data, 3*224*224)
}

func TestRun_EmptyLayoutDefaultsToNHWC(t *testing.T) {
	tensor, err := Run(uniformImage(10, 10, color.NRGBA{0, 0, 0, 255}), Spec{Size: 8, Scheme: SchemeUnit})
	require.NoError(t, err)
	assert.Equal(t, NHWC, tensor.Layout)
	assert.Equal(t, []int64{1, 8, 8, 3}, tensor.Shape())
}

func TestRun_Schemes(t *testing.T) {
	px := color.NRGBA{255, 0, 128, 255}
	img := uniformImage(64, 48, px)

	t.Run("symmetric", func(t *testing.T) {
		tensor, err := Run(img, Spec{Size: 16, Scheme: SchemeSymmetric})
		require.NoError(t, err)
		for i := 0; i < len(tensor.Data); i += 3 {
			assert.InDelta(t, 1.0, tensor.Data[i], tol)
			assert.InDelta(t, -1.0, tensor.Data[i+1], tol)
			assert.InDelta(t, 0.0039, tensor.Data[i+2], tol)
		}
		for _, v := range tensor.Data {
			assert.GreaterOrEqual(t, v, float32(-1))
			assert.LessOrEqual(t, v, float32(1))
		}
	})

	t.Run("unit", func(t *testing.T) {
		tensor, err := Run(img, Spec{Size: 16, Scheme: SchemeUnit})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, tensor.Data[0], tol)
		assert.InDelta(t, 0.0, tensor.Data[1], tol)
		assert.InDelta(t, 128.0/255.0, tensor.Data[2], tol)
	})

	t.Run("imagenet nchw", func(t *testing.T) {
		tensor, err := Run(img, Spec{Size: 16, ResizeShort: 20, Scheme: SchemeImageNet, Layout: NCHW})
		require.NoError(t, err)
		plane := 16 * 16
		want := [3]float32{
			(1.0 - ImageNetMean[0]) / ImageNetStd[0],
			(0.0 - ImageNetMean[1]) / ImageNetStd[1],
			(128.0/255.0 - ImageNetMean[2]) / ImageNetStd[2],
		}
		for c := 0; c < 3; c++ {
			assert.InDelta(t, want[c], tensor.Data[c*plane], 0.02)
			assert.InDelta(t, want[c], tensor.Data[c*plane+plane-1], 0.02)
		}
	})
}

func TestRun_CenterCropKeepsCenter(t *testing.T) {
	// 300x100 with red side bands and a wide green center
	img := uniformImage(300, 100, color.NRGBA{255, 0, 0, 255})
	for y := 0; y < 100; y++ {
		for x := 75; x < 225; x++ {
			img.SetNRGBA(x, y, color.NRGBA{0, 255, 0, 255})
		}
	}

	tensor, err := Run(img, Spec{Size: 20, ResizeShort: 20, Scheme: SchemeUnit})
	require.NoError(t, err)
	for i := 0; i < len(tensor.Data); i += 3 {
		assert.InDelta(t, 0.0, tensor.Data[i], 0.05)
		assert.InDelta(t, 1.0, tensor.Data[i+1], 0.05)
	}

	// direct resize squashes the whole frame, so the red bands survive
	direct, err := Run(img, Spec{Size: 20, Scheme: SchemeUnit})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, direct.Data[0], 0.05)
}

func TestCropWindow(t *testing.T) {
	testCases := []struct {
		name        string
		w, h        int
		short, size int
		want        int
	}{
		{"landscape", 3000, 1000, 256, 224, 875},
		{"portrait", 500, 2000, 256, 224, 438},
		{"one pixel wide", 1, 65535, 256, 224, 1},
		{"square", 256, 256, 256, 224, 224},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := cropWindow(image.NewNRGBA(image.Rect(0, 0, tc.w, tc.h)), tc.short, tc.size).Bounds()
			assert.Equal(t, tc.want, got.Dx())
			assert.Equal(t, tc.want, got.Dy())
		})
	}
}

func TestRun_ExtremeAspectRatio(t *testing.T) {
	img := uniformImage(1, 65535, color.NRGBA{0, 255, 0, 255})

	tensor, err := Run(img, Spec{Size: 224, ResizeShort: 256, Scheme: SchemeUnit, Layout: NCHW})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 224, 224}, tensor.Shape())
	assert.InDelta(t, 1.0, tensor.Data[224*224], 0.01)
}

func TestRun_Errors(t *testing.T) {
	_, err := Run(image.NewNRGBA(image.Rect(0, 0, 0, 0)), Spec{Size: 224, Scheme: SchemeUnit})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPreprocess))

	_, err = Run(nil, Spec{Size: 224, Scheme: SchemeUnit})
	assert.True(t, errors.Is(err, ErrPreprocess))

	img := uniformImage(4, 4, color.NRGBA{A: 255})
	for _, spec := range []Spec{
		{Size: 0, Scheme: SchemeUnit},
		{Size: 224, ResizeShort: 200, Scheme: SchemeUnit},
		{Size: 224, Scheme: "caffe"},
		{Size: 224, Scheme: SchemeUnit, Layout: "chwn"},
	} {
		_, err := Run(img, spec)
		assert.True(t, errors.Is(err, ErrPreprocess), "spec %+v", spec)
	}
}

func TestParse(t *testing.T) {
	s, err := ParseScheme(" ImageNet ")
	require.NoError(t, err)
	assert.Equal(t, SchemeImageNet, s)

	l, err := ParseLayout("NCHW")
	require.NoError(t, err)
	assert.Equal(t, NCHW, l)
}
