package transforms

import (
	"image"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// swapPolicyFactories installs recording stubs for the three policy families
// and returns the captured calls plus a restore function.
func swapPolicyFactories() (calls *[]string, captured *PolicyParams, restore func()) {
	origRand, origAugMix, origAuto := RandAugmentPolicy, AugMixPolicy, AutoAugmentPolicy
	calls = &[]string{}
	captured = &PolicyParams{}
	record := func(family string) PolicyFactory {
		return func(configStr string, params PolicyParams) (Policy, error) {
			*calls = append(*calls, family+":"+configStr)
			*captured = params
			return func(img image.Image) image.Image { return img }, nil
		}
	}
	RandAugmentPolicy = record("rand")
	AugMixPolicy = record("augmix")
	AutoAugmentPolicy = record("auto")
	return calls, captured, func() {
		RandAugmentPolicy, AugMixPolicy, AutoAugmentPolicy = origRand, origAugMix, origAuto
	}
}

func TestAutoAugmentDispatch(t *testing.T) {
	calls, captured, restore := swapPolicyFactories()
	defer restore()

	_, err := NewAutoAugment("rand-m9-mstd0.5", []int{224}, "bicubic", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"rand:rand-m9-mstd0.5"}, *calls)
	assert.Zero(t, captured.TranslatePct)

	*calls = nil
	_, err = NewAutoAugment("augmix-m5-w3", []int{224}, "bicubic", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"augmix:augmix-m5-w3"}, *calls)
	assert.Equal(t, 0.3, captured.TranslatePct)

	*calls = nil
	_, err = NewAutoAugment("original", []int{224}, "bicubic", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"auto:original"}, *calls)

	// The empty string is the identity policy and calls no factory.
	*calls = nil
	identity, err := NewAutoAugment("", []int{224}, "bicubic", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, *calls)
	img := testImageNRGBA(4, 4)
	out, err := identity.Apply(img)
	require.NoError(t, err)
	assert.Same(t, img, out)
}

func TestAutoAugmentPolicyParams(t *testing.T) {
	_, captured, restore := swapPolicyFactories()
	defer restore()

	// translate_const is 45% of the shortest side.
	_, err := NewAutoAugment("rand-m9", []int{224}, "bicubic", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 100, captured.TranslateConst)

	_, err = NewAutoAugment("rand-m9", []int{320, 240}, "bicubic", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 108, captured.TranslateConst)

	// A nil mean defaults to the ImageNet channel means.
	_, err = NewAutoAugment("rand-m9", []int{224}, "bicubic", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint8{124, 116, 104}, captured.ImgMean)

	// Means above 1 clamp to 255.
	_, err = NewAutoAugment("rand-m9", []int{224}, "bicubic", []float64{1.1, 0.5, 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint8{255, 128, 0}, captured.ImgMean)
}

func TestAutoAugmentImgSizeValidation(t *testing.T) {
	_, err := NewAutoAugment("rand-m9", nil, "bicubic", nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidParams))
	_, err = NewAutoAugment("rand-m9", []int{224, 224, 3}, "bicubic", nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidParams))
	_, err = NewAutoAugment("rand-m9", []int{0}, "bicubic", nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidParams))
}

func TestAutoAugmentFromSpec(t *testing.T) {
	calls, _, restore := swapPolicyFactories()
	defer restore()

	got, err := FromSpec(Spec{
		Name: "AutoAugment",
		Params: Params{
			"config_str":    "rand-m9-mstd0.5",
			"img_size":      []any{224},
			"interpolation": "bicubic",
		},
	})
	require.NoError(t, err)
	aa, ok := got.(*AutoAugment)
	require.True(t, ok)
	assert.Equal(t, "rand-m9-mstd0.5", aa.ConfigStr)
	assert.Equal(t, []string{"rand:rand-m9-mstd0.5"}, *calls)
}

func TestAutoAugmentFactoryErrorPropagates(t *testing.T) {
	_, err := NewAutoAugment("rand-m9-bogus7", []int{224}, "bicubic", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidParams))
}
