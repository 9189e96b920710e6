package transforms

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResampleFromString(t *testing.T) {
	atHalf := func(f imaging.ResampleFilter) float64 { return f.Kernel(0.5) }
	assert.Equal(t, atHalf(imaging.CatmullRom), atHalf(resampleFromString("bicubic")))
	assert.Equal(t, imaging.CatmullRom.Support, resampleFromString("bicubic").Support)
	assert.Equal(t, imaging.Lanczos.Support, resampleFromString("lanczos").Support)
	assert.Equal(t, atHalf(imaging.Hamming), atHalf(resampleFromString("hamming")))
	// Unknown names and "random" both fall back to bilinear.
	assert.Equal(t, atHalf(imaging.Linear), atHalf(resampleFromString("unknown")))
	assert.Equal(t, atHalf(imaging.Linear), atHalf(resampleFromString("random")))
	assert.Equal(t, atHalf(imaging.Linear), atHalf(resampleFromString("")))
}

func TestResizeShortSide(t *testing.T) {
	resize, err := NewResize(25, imaging.Linear)
	require.NoError(t, err)

	out, err := resize.Apply(imaging.New(100, 50, color.NRGBA{}))
	require.NoError(t, err)
	img := out.(image.Image)
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 25, img.Bounds().Dy())

	out, err = resize.Apply(imaging.New(30, 60, color.NRGBA{}))
	require.NoError(t, err)
	img = out.(image.Image)
	assert.Equal(t, 25, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())

	_, err = NewResize(0, imaging.Linear)
	require.Error(t, err)
}

func TestCenterCrop(t *testing.T) {
	crop := &CenterCrop{Size: 10}
	out, err := crop.Apply(testImageNRGBA(20, 16))
	require.NoError(t, err)
	img := out.(image.Image)
	assert.Equal(t, 10, img.Bounds().Dx())
	assert.Equal(t, 10, img.Bounds().Dy())

	_, err = crop.Apply(testImageNRGBA(8, 8))
	require.Error(t, err)
}

func TestRandomCrop(t *testing.T) {
	crop, err := NewRandomCrop(8, 0)
	require.NoError(t, err)
	crop.WithRand(rand.New(rand.NewSource(3)))
	for i := 0; i < 20; i++ {
		out, err := crop.Apply(testImageNRGBA(16, 12))
		require.NoError(t, err)
		img := out.(image.Image)
		assert.Equal(t, 8, img.Bounds().Dx())
		assert.Equal(t, 8, img.Bounds().Dy())
	}

	// Padding makes a too-small image croppable.
	padded, err := NewRandomCrop(8, 2)
	require.NoError(t, err)
	out, err := padded.Apply(testImageNRGBA(6, 6))
	require.NoError(t, err)
	img := out.(image.Image)
	assert.Equal(t, 8, img.Bounds().Dx())

	tooSmall, err := NewRandomCrop(8, 0)
	require.NoError(t, err)
	_, err = tooSmall.Apply(testImageNRGBA(6, 6))
	require.Error(t, err)
}

func TestRandomResizedCropAlwaysTargetSize(t *testing.T) {
	crop, err := NewRandomResizedCrop(24, imaging.Linear)
	require.NoError(t, err)
	crop.WithRand(rand.New(rand.NewSource(11)))
	for i := 0; i < 30; i++ {
		out, err := crop.Apply(testImageNRGBA(60, 45))
		require.NoError(t, err)
		img := out.(image.Image)
		assert.Equal(t, 24, img.Bounds().Dx())
		assert.Equal(t, 24, img.Bounds().Dy())
	}
}

func TestRandomHorizontalFlip(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Pix[0], img.Pix[3] = 10, 255  // Left pixel R=10.
	img.Pix[4], img.Pix[7] = 200, 255 // Right pixel R=200.

	always, err := NewRandomHorizontalFlip(1)
	require.NoError(t, err)
	out, err := always.Apply(img)
	require.NoError(t, err)
	flipped := out.(*image.NRGBA)
	assert.Equal(t, uint8(200), flipped.Pix[0])
	assert.Equal(t, uint8(10), flipped.Pix[4])

	never, err := NewRandomHorizontalFlip(0)
	require.NoError(t, err)
	out, err = never.Apply(img)
	require.NoError(t, err)
	assert.Same(t, img, out)

	_, err = NewRandomHorizontalFlip(-0.5)
	require.Error(t, err)
}
