package transforms

import (
	"image"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolarizationBoundaries(t *testing.T) {
	const threshold = 128
	img := image.NewNRGBA(image.Rect(0, 0, 3, 1))
	for i, v := range []uint8{threshold - 1, threshold, threshold + 1} {
		img.Pix[i*4] = v
		img.Pix[i*4+1] = v
		img.Pix[i*4+2] = v
		img.Pix[i*4+3] = 255
	}

	out, err := (&Solarization{Threshold: threshold}).Apply(img)
	require.NoError(t, err)
	result := out.(*image.NRGBA)
	// v <= threshold stays, v > threshold inverts to 255-v.
	assert.Equal(t, uint8(threshold-1), result.Pix[0])
	assert.Equal(t, uint8(threshold), result.Pix[4])
	assert.Equal(t, uint8(255-(threshold+1)), result.Pix[8])
	// Alpha is untouched.
	assert.Equal(t, uint8(255), result.Pix[3])
}

func TestSolarizationGrayscale(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 1))
	img.Pix[0] = 10
	img.Pix[1] = 200
	out, err := (&Solarization{Threshold: 128}).Apply(img)
	require.NoError(t, err)
	result := out.(*image.Gray)
	assert.Equal(t, uint8(10), result.Pix[0])
	assert.Equal(t, uint8(55), result.Pix[1])
}

func TestToRGBIdempotent(t *testing.T) {
	toRGB := &ToRGB{Mode: "RGB"}

	rgb := testImageNRGBA(4, 4)
	out, err := toRGB.Apply(rgb)
	require.NoError(t, err)
	assert.Same(t, rgb, out, "already-RGB image must pass through unchanged")

	gray := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range gray.Pix {
		gray.Pix[i] = uint8(i * 16)
	}
	once, err := toRGB.Apply(gray)
	require.NoError(t, err)
	assert.Equal(t, "RGB", imageMode(once.(image.Image)))
	twice, err := toRGB.Apply(once)
	require.NoError(t, err)
	assert.Same(t, once, twice)
}

func TestToRGBToGrayscale(t *testing.T) {
	toGray := &ToRGB{Mode: "L"}
	out, err := toGray.Apply(testImageNRGBA(4, 4))
	require.NoError(t, err)
	_, isGray := out.(*image.Gray)
	assert.True(t, isGray)

	same, err := toGray.Apply(out)
	require.NoError(t, err)
	assert.Same(t, out, same)

	_, err = (&ToRGB{Mode: "CMYK"}).Apply(testImageNRGBA(2, 2))
	require.Error(t, err)
}

func TestRandomGrayscaleExtremes(t *testing.T) {
	img := testImageNRGBA(4, 4)

	never, err := NewRandomGrayscale(0)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		out, err := never.Apply(img)
		require.NoError(t, err)
		assert.Same(t, img, out)
	}

	always, err := NewRandomGrayscale(1)
	require.NoError(t, err)
	out, err := always.Apply(img)
	require.NoError(t, err)
	result := out.(*image.NRGBA)
	for i := 0; i < len(result.Pix); i += 4 {
		assert.Equal(t, result.Pix[i], result.Pix[i+1], "R != G at pixel %d", i/4)
		assert.Equal(t, result.Pix[i+1], result.Pix[i+2], "G != B at pixel %d", i/4)
	}

	// 1-channel input stays 1-channel.
	gray := image.NewGray(image.Rect(0, 0, 4, 4))
	out, err = always.Apply(gray)
	require.NoError(t, err)
	assert.Same(t, gray, out)
}

func TestRandomGrayscaleValidation(t *testing.T) {
	_, err := NewRandomGrayscale(-0.1)
	require.Error(t, err)
	_, err = NewRandomGrayscale(1.1)
	require.Error(t, err)
}

// pixelVariance computes the grayscale variance of an image's pixels.
func pixelVariance(img *image.NRGBA) float64 {
	var sum, sumSq float64
	n := 0
	for i := 0; i < len(img.Pix); i += 4 {
		v := float64(img.Pix[i])
		sum += v
		sumSq += v * v
		n++
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

func TestGaussianBlurBackends(t *testing.T) {
	// High-frequency noise image: blur must reduce variance on both backends.
	rng := rand.New(rand.NewSource(17))
	noise := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for i := 0; i < len(noise.Pix); i += 4 {
		v := uint8(rng.Intn(256))
		noise.Pix[i], noise.Pix[i+1], noise.Pix[i+2], noise.Pix[i+3] = v, v, v, 255
	}
	originalVariance := pixelVariance(noise)

	for _, native := range []bool{true, false} {
		blur, err := NewGaussianBlur(1.0, 1.0, native)
		require.NoError(t, err)
		out, err := blur.Apply(noise)
		require.NoError(t, err)
		blurred, ok := out.(*image.NRGBA)
		require.True(t, ok)
		assert.Equal(t, noise.Bounds(), blurred.Bounds())
		assert.Less(t, pixelVariance(blurred), originalVariance/2,
			"native=%v: blur should smooth high-frequency noise", native)
	}
}

func TestGaussianBlurPreservesConstantImage(t *testing.T) {
	flat := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for i := 0; i < len(flat.Pix); i += 4 {
		flat.Pix[i], flat.Pix[i+1], flat.Pix[i+2], flat.Pix[i+3] = 100, 100, 100, 255
	}
	blur, err := NewGaussianBlur(0.5, 2.0, false)
	require.NoError(t, err)
	out, err := blur.Apply(flat)
	require.NoError(t, err)
	blurred := out.(*image.NRGBA)
	for i := 0; i < len(blurred.Pix); i += 4 {
		assert.InDelta(t, 100, blurred.Pix[i], 1)
	}
}

func TestGaussianBlurValidation(t *testing.T) {
	_, err := NewGaussianBlur(0, 1, true)
	require.Error(t, err)
	_, err = NewGaussianBlur(2, 1, true)
	require.Error(t, err)
}
