/*
 *	Copyright 2025 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package datasets adapts augmentation pipelines to GoMLX training: an
// in-memory (or directory-backed) image collection that applies a
// transforms pipeline per sample and yields batched tensors through the
// train.Dataset interface.
//
// The Dataset is safe for concurrent Yield calls, so it can be wrapped with
// data.Parallel to parallelize the augmentation work.
package datasets

import (
	"encoding/gob"
	"image"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gomlx/augment/transforms"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gomlx/types/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// Dataset yields batches of augmented images as tensors. Configure it with
// the chained With* / Shuffle / Infinite methods before the first Yield; it
// implements train.Dataset.
type Dataset struct {
	name   string
	images []image.Image
	labels []int32

	batchSize  int
	pipeline   transforms.Transform
	dtype      dtypes.DType
	yieldPairs bool
	infinite   bool
	mixup      *Mixup

	mu      sync.Mutex
	rng     *rand.Rand
	order   []int
	next    int
	shuffle bool
}

var _ train.Dataset = (*Dataset)(nil)

// InMemory creates a Dataset from already-loaded images and their labels.
func InMemory(name string, imgs []image.Image, labels []int32) (*Dataset, error) {
	if len(imgs) == 0 || len(imgs) != len(labels) {
		return nil, errors.Errorf("dataset %q: %d images and %d labels, need equal and non-zero counts",
			name, len(imgs), len(labels))
	}
	ds := &Dataset{
		name:      name,
		images:    imgs,
		labels:    labels,
		batchSize: 32,
		dtype:     dtypes.Float32,
	}
	ds.Reset()
	return ds, nil
}

// FromDirectory loads every .jpg/.jpeg/.png under dir (recursively) and labels
// each with labelFn applied to its path relative to dir.
func FromDirectory(name, dir string, labelFn func(relPath string) int32) (*Dataset, error) {
	var imgs []image.Image
	var labels []int32
	err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".jpg", ".jpeg", ".png":
		default:
			return nil
		}
		img, err := imaging.Open(path)
		if err != nil {
			return errors.Wrapf(err, "while reading image %s", path)
		}
		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		imgs = append(imgs, img)
		labels = append(labels, labelFn(relPath))
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "loading dataset %q from %s", name, dir)
	}
	return InMemory(name, imgs, labels)
}

// BatchSize sets the number of samples per Yield. It returns the Dataset for
// chaining.
func (ds *Dataset) BatchSize(n int) *Dataset {
	if n <= 0 {
		klog.Errorf("Dataset %q: ignoring invalid batch size %d", ds.name, n)
		return ds
	}
	ds.batchSize = n
	return ds
}

// WithPipeline sets the augmentation pipeline applied to each sample. The
// pipeline may end on an image value (converted to a Float32 tensor
// automatically) or on a tensor value (e.g. after ToTensor/ToCHW/Normalize
// stages).
func (ds *Dataset) WithPipeline(pipeline transforms.Transform) *Dataset {
	ds.pipeline = pipeline
	return ds
}

// Shuffle enables epoch shuffling using the given random source.
func (ds *Dataset) Shuffle(rng *rand.Rand) *Dataset {
	ds.mu.Lock()
	ds.rng = rng
	ds.shuffle = true
	ds.mu.Unlock()
	ds.Reset()
	return ds
}

// Infinite makes the Dataset loop forever instead of returning io.EOF at the
// end of an epoch.
func (ds *Dataset) Infinite() *Dataset {
	ds.infinite = true
	return ds
}

// YieldPairs makes each Yield return two independently augmented versions of
// every sample (inputs[0] and inputs[1]), the usual setup for contrastive
// training like BYOL or SimCLR.
func (ds *Dataset) YieldPairs() *Dataset {
	ds.yieldPairs = true
	return ds
}

// WithMixup blends pairs of samples within each batch; labels become
// [batch, numClasses] mixed one-hot rows. Incompatible with YieldPairs.
func (ds *Dataset) WithMixup(alpha float64, numClasses int) *Dataset {
	mixup, err := NewMixup(alpha, numClasses)
	if err != nil {
		klog.Errorf("Dataset %q: ignoring invalid mixup configuration: %v", ds.name, err)
		return ds
	}
	ds.mixup = mixup
	return ds
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// NumExamples returns the number of samples in one epoch.
func (ds *Dataset) NumExamples() int { return len(ds.images) }

// Reset implements train.Dataset: it restarts (and reshuffles, if configured)
// the epoch.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.order == nil {
		ds.order = make([]int, len(ds.images))
		for i := range ds.order {
			ds.order[i] = i
		}
	}
	ds.next = 0
	if ds.shuffle && ds.rng != nil {
		ds.rng.Shuffle(len(ds.order), func(i, j int) {
			ds.order[i], ds.order[j] = ds.order[j], ds.order[i]
		})
	}
}

// nextBatchIndices reserves the next batch worth of sample indices.
// Concurrency safe; returns nil at the end of a finite epoch.
func (ds *Dataset) nextBatchIndices() []int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.next >= len(ds.order) {
		if !ds.infinite {
			return nil
		}
		ds.next = 0
		if ds.shuffle && ds.rng != nil {
			ds.rng.Shuffle(len(ds.order), func(i, j int) {
				ds.order[i], ds.order[j] = ds.order[j], ds.order[i]
			})
		}
	}
	end := min(ds.next+ds.batchSize, len(ds.order))
	indices := make([]int, end-ds.next)
	copy(indices, ds.order[ds.next:end])
	ds.next = end
	return indices
}

// augmentToTensor runs one sample through the pipeline and normalizes the
// result to a Float32 tensor.
func (ds *Dataset) augmentToTensor(img image.Image) (*tensors.Tensor, error) {
	var value any = img
	if ds.pipeline != nil {
		var err error
		value, err = ds.pipeline.Apply(value)
		if err != nil {
			return nil, err
		}
	}
	switch v := value.(type) {
	case image.Image:
		return images.ToTensor(ds.dtype).Single(v), nil
	case *tensors.Tensor:
		if v.DType() != dtypes.Float32 {
			return nil, errors.Errorf("dataset %q: pipeline produced a %s tensor, batching requires Float32 (use NormToOne or a float ToTensor)",
				ds.name, v.DType())
		}
		return v, nil
	default:
		return nil, errors.Errorf("dataset %q: pipeline produced unsupported value type %T", ds.name, value)
	}
}

// stackBatch concatenates per-sample tensors into one [batch, ...] tensor.
func stackBatch(samples []*tensors.Tensor) (*tensors.Tensor, error) {
	sampleDims := samples[0].Shape().Dimensions
	sampleSize := samples[0].Shape().Size()
	flat := make([]float32, 0, len(samples)*sampleSize)
	for i, sample := range samples {
		dims := sample.Shape().Dimensions
		if len(dims) != len(sampleDims) {
			return nil, errors.Errorf("batch sample #%d has rank %d, expected %d", i, len(dims), len(sampleDims))
		}
		for axis := range dims {
			if dims[axis] != sampleDims[axis] {
				return nil, errors.Errorf("batch sample #%d has shape %s, expected %s -- did the pipeline forget a fixed-size crop?",
					i, sample.Shape(), samples[0].Shape())
			}
		}
		flat = append(flat, tensors.CopyFlatData[float32](sample)...)
	}
	batchDims := append([]int{len(samples)}, sampleDims...)
	return tensors.FromFlatDataAndDimensions(flat, batchDims...), nil
}

// Yield implements train.Dataset. It returns:
//
//   - inputs: one [batch, ...] Float32 tensor of augmented samples, or two
//     such tensors when YieldPairs is set;
//   - labels: one [batch] Int32 tensor, or a [batch, numClasses] Float32
//     tensor of mixed one-hot rows when mixup is enabled.
//
// At the end of a finite epoch it returns io.EOF.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec = ds
	indices := ds.nextBatchIndices()
	if indices == nil {
		err = io.EOF
		return
	}

	numViews := 1
	if ds.yieldPairs {
		numViews = 2
	}
	batchLabels := make([]int32, len(indices))
	for view := 0; view < numViews; view++ {
		samples := make([]*tensors.Tensor, len(indices))
		for i, sampleIdx := range indices {
			samples[i], err = ds.augmentToTensor(ds.images[sampleIdx])
			if err != nil {
				err = errors.WithMessagef(err, "augmenting sample #%d of dataset %q", sampleIdx, ds.name)
				return
			}
			batchLabels[i] = ds.labels[sampleIdx]
		}
		var batch *tensors.Tensor
		batch, err = stackBatch(samples)
		if err != nil {
			return
		}
		inputs = append(inputs, batch)
	}

	if ds.mixup != nil {
		if ds.yieldPairs {
			err = errors.Errorf("dataset %q: mixup and paired yields cannot be combined", ds.name)
			return
		}
		var mixedBatch, mixedLabels *tensors.Tensor
		mixedBatch, mixedLabels, err = ds.mixup.Apply(inputs[0], batchLabels)
		if err != nil {
			return
		}
		inputs = []*tensors.Tensor{mixedBatch}
		labels = []*tensors.Tensor{mixedLabels}
		return
	}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions(batchLabels, len(batchLabels))}
	return
}

// Materialize generates numEpochs epochs of augmented batches and gob-encodes
// them to the writer, so expensive augmentation can be precomputed once and
// streamed during training. With verbose set it displays a progress bar.
//
// It fails if the Dataset is configured as infinite.
func (ds *Dataset) Materialize(numEpochs int, verbose bool, writer io.Writer) error {
	if ds.infinite {
		return errors.Errorf("cannot Materialize %d epochs of dataset %q configured to loop infinitely", numEpochs, ds.name)
	}
	encoder := gob.NewEncoder(writer)
	batchesPerEpoch := (len(ds.images) + ds.batchSize - 1) / ds.batchSize
	var bar *progressbar.ProgressBar
	if verbose {
		bar = progressbar.Default(int64(numEpochs*batchesPerEpoch), "materializing "+ds.name)
	}
	for epoch := 0; epoch < numEpochs; epoch++ {
		ds.Reset()
		for {
			_, inputs, labels, err := ds.Yield()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			all := append(inputs, labels...)
			if err = encoder.Encode(len(all)); err != nil {
				return errors.Wrap(err, "encoding batch header")
			}
			for _, t := range all {
				if err = t.GobSerialize(encoder); err != nil {
					return errors.WithMessagef(err, "encoding batch of dataset %q", ds.name)
				}
			}
			if bar != nil {
				_ = bar.Add(1)
			}
		}
	}
	return nil
}
