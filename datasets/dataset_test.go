package datasets

import (
	"bytes"
	"image"
	"io"
	"math/rand"
	"testing"

	"github.com/gomlx/augment/transforms"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testImages builds n 8x8 images, each filled with a distinct constant value.
func testImages(n int) []image.Image {
	imgs := make([]image.Image, n)
	for i := range imgs {
		img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
		v := uint8(10 + i*40)
		for p := 0; p < len(img.Pix); p += 4 {
			img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = v, v, v, 255
		}
		imgs[i] = img
	}
	return imgs
}

func testLabels(n int) []int32 {
	labels := make([]int32, n)
	for i := range labels {
		labels[i] = int32(i)
	}
	return labels
}

func TestInMemoryValidation(t *testing.T) {
	_, err := InMemory("empty", nil, nil)
	require.Error(t, err)
	_, err = InMemory("mismatched", testImages(3), testLabels(2))
	require.Error(t, err)
}

func TestYieldBatchesAnEpoch(t *testing.T) {
	ds, err := InMemory("test", testImages(4), testLabels(4))
	require.NoError(t, err)
	ds.BatchSize(2)

	for batch := 0; batch < 2; batch++ {
		spec, inputs, labels, err := ds.Yield()
		require.NoError(t, err)
		assert.Same(t, ds, spec)
		require.Len(t, inputs, 1)
		require.Len(t, labels, 1)
		require.NoError(t, inputs[0].Shape().Check(dtypes.Float32, 2, 8, 8, 3))
		require.NoError(t, labels[0].Shape().Check(dtypes.Int32, 2))
	}

	_, _, _, err = ds.Yield()
	assert.Equal(t, io.EOF, err)

	// Reset restarts the epoch.
	ds.Reset()
	_, inputs, _, err := ds.Yield()
	require.NoError(t, err)
	require.NoError(t, inputs[0].Shape().Check(dtypes.Float32, 2, 8, 8, 3))
}

func TestYieldPartialFinalBatch(t *testing.T) {
	ds, err := InMemory("test", testImages(5), testLabels(5))
	require.NoError(t, err)
	ds.BatchSize(2)

	sizes := []int{}
	for {
		_, inputs, _, err := ds.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, inputs[0].Shape().Dimensions[0])
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestYieldWithTensorPipeline(t *testing.T) {
	pipeline, err := transforms.FromSpecs([]any{
		transforms.Spec{Name: "ToTensor"},
		transforms.Spec{Name: "ToCHW"},
	})
	require.NoError(t, err)

	ds, err := InMemory("test", testImages(2), testLabels(2))
	require.NoError(t, err)
	ds.BatchSize(2).WithPipeline(pipeline)

	_, inputs, _, err := ds.Yield()
	require.NoError(t, err)
	require.NoError(t, inputs[0].Shape().Check(dtypes.Float32, 2, 3, 8, 8))
}

func TestYieldRejectsNonFloatPipelineOutput(t *testing.T) {
	pipeline, err := transforms.FromSpecs([]any{
		transforms.Spec{Name: "ToTensor", Params: transforms.Params{"dtype": "uint8"}},
	})
	require.NoError(t, err)

	ds, err := InMemory("test", testImages(2), testLabels(2))
	require.NoError(t, err)
	ds.WithPipeline(pipeline)

	_, _, _, err = ds.Yield()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Float32")
}

func TestYieldPairs(t *testing.T) {
	ds, err := InMemory("test", testImages(4), testLabels(4))
	require.NoError(t, err)
	ds.BatchSize(2).YieldPairs()

	_, inputs, labels, err := ds.Yield()
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	require.NoError(t, inputs[0].Shape().Check(dtypes.Float32, 2, 8, 8, 3))
	require.NoError(t, inputs[1].Shape().Check(dtypes.Float32, 2, 8, 8, 3))
	require.Len(t, labels, 1)

	// Without a stochastic pipeline both views are identical.
	assert.Equal(t,
		tensors.CopyFlatData[float32](inputs[0]),
		tensors.CopyFlatData[float32](inputs[1]))
}

func TestInfiniteWrapsAround(t *testing.T) {
	ds, err := InMemory("test", testImages(3), testLabels(3))
	require.NoError(t, err)
	ds.BatchSize(2).Infinite()

	for i := 0; i < 10; i++ {
		_, inputs, _, err := ds.Yield()
		require.NoError(t, err)
		assert.LessOrEqual(t, inputs[0].Shape().Dimensions[0], 2)
	}
}

func TestShuffleIsDeterministicPerSeed(t *testing.T) {
	labelsOf := func(seed int64) []int32 {
		ds, err := InMemory("test", testImages(8), testLabels(8))
		require.NoError(t, err)
		ds.BatchSize(8).Shuffle(rand.New(rand.NewSource(seed)))
		_, _, labels, err := ds.Yield()
		require.NoError(t, err)
		return tensors.CopyFlatData[int32](labels[0])
	}
	assert.Equal(t, labelsOf(1), labelsOf(1))
	assert.NotEqual(t, labelsOf(1), labelsOf(2))
}

func TestMixupLabelsAreMixedOneHot(t *testing.T) {
	ds, err := InMemory("test", testImages(4), testLabels(4))
	require.NoError(t, err)
	ds.BatchSize(4).WithMixup(0.8, 4)
	require.NotNil(t, ds.mixup)
	ds.mixup.WithRand(rand.New(rand.NewSource(13)))

	_, inputs, labels, err := ds.Yield()
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	require.NoError(t, inputs[0].Shape().Check(dtypes.Float32, 4, 8, 8, 3))
	require.NoError(t, labels[0].Shape().Check(dtypes.Float32, 4, 4))

	// Each label row sums to 1.
	flat := tensors.CopyFlatData[float32](labels[0])
	for row := 0; row < 4; row++ {
		var sum float32
		for col := 0; col < 4; col++ {
			sum += flat[row*4+col]
		}
		assert.InDelta(t, 1.0, sum, 1e-5, "row %d", row)
	}
}

func TestMixupAlphaZeroIsExactOneHot(t *testing.T) {
	mixup, err := NewMixup(0, 4)
	require.NoError(t, err)
	mixup.WithRand(rand.New(rand.NewSource(7)))

	batch := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 4, 1)
	mixedBatch, mixedLabels, err := mixup.Apply(batch, []int32{0, 1, 2, 3})
	require.NoError(t, err)

	// lambda is fixed at 1: samples and labels are unchanged.
	assert.Equal(t, []float32{1, 2, 3, 4}, tensors.CopyFlatData[float32](mixedBatch))
	assert.Equal(t, []float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}, tensors.CopyFlatData[float32](mixedLabels))
}

func TestMixupValidation(t *testing.T) {
	_, err := NewMixup(-1, 4)
	require.Error(t, err)
	_, err = NewMixup(0.5, 1)
	require.Error(t, err)

	mixup, err := NewMixup(0.5, 4)
	require.NoError(t, err)
	batch := tensors.FromFlatDataAndDimensions(make([]float32, 8), 4, 2)
	_, _, err = mixup.Apply(batch, []int32{0, 1})
	require.Error(t, err, "label count mismatch")
	_, _, err = mixup.Apply(batch, []int32{0, 1, 2, 7})
	require.Error(t, err, "label out of range")
}

func TestMixupIncompatibleWithPairs(t *testing.T) {
	ds, err := InMemory("test", testImages(4), testLabels(4))
	require.NoError(t, err)
	ds.BatchSize(2).YieldPairs().WithMixup(0.8, 4)
	_, _, _, err = ds.Yield()
	require.Error(t, err)
}

func TestMaterializeRoundTrip(t *testing.T) {
	ds, err := InMemory("test", testImages(4), testLabels(4))
	require.NoError(t, err)
	ds.BatchSize(2)

	var buf bytes.Buffer
	require.NoError(t, ds.Materialize(2, false, &buf))
	assert.Greater(t, buf.Len(), 0)

	// An infinite dataset cannot be materialized.
	ds.Infinite()
	require.Error(t, ds.Materialize(1, false, &buf))
}
