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

package datasets

import (
	"math"
	"math/rand"
	"sync"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Mixup blends each sample of a batch with another sample of the same batch:
// x' = lam*x[i] + (1-lam)*x[perm[i]], with lam drawn once per batch from
// Beta(Alpha, Alpha). Labels become mixed one-hot rows. It operates on whole
// batches, after augmentation and stacking, which is why it is not a
// per-sample transform.
type Mixup struct {
	Alpha      float64
	NumClasses int

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewMixup creates a Mixup with blending strength alpha (0 disables blending,
// degenerating to plain one-hot labels) over numClasses classes.
func NewMixup(alpha float64, numClasses int) (*Mixup, error) {
	if alpha < 0 {
		return nil, errors.Errorf("mixup alpha=%g must be non-negative", alpha)
	}
	if numClasses <= 1 {
		return nil, errors.Errorf("mixup numClasses=%d must be at least 2", numClasses)
	}
	return &Mixup{
		Alpha:      alpha,
		NumClasses: numClasses,
		rnd:        rand.New(rand.NewSource(rand.Int63())),
	}, nil
}

// WithRand replaces the random source, for deterministic tests.
func (m *Mixup) WithRand(rnd *rand.Rand) *Mixup {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rnd = rnd
	return m
}

// lambda draws the batch blending weight from Beta(Alpha, Alpha) using
// Jöhnk's algorithm; with Alpha == 0 it is fixed at 1 (no blending).
func (m *Mixup) lambda() float64 {
	if m.Alpha == 0 {
		return 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		u := math.Pow(m.rnd.Float64(), 1/m.Alpha)
		v := math.Pow(m.rnd.Float64(), 1/m.Alpha)
		if u+v > 0 && u+v <= 1 {
			return u / (u + v)
		}
	}
}

func (m *Mixup) perm(n int) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rnd.Perm(n)
}

// Apply blends the [batch, ...] Float32 tensor and returns it together with
// the [batch, NumClasses] mixed one-hot label tensor.
func (m *Mixup) Apply(batch *tensors.Tensor, labels []int32) (*tensors.Tensor, *tensors.Tensor, error) {
	if batch.DType() != dtypes.Float32 || batch.Rank() < 2 {
		return nil, nil, errors.Errorf("mixup expects a Float32 [batch, ...] tensor, got %s", batch.Shape())
	}
	dims := batch.Shape().Dimensions
	n := dims[0]
	if n != len(labels) {
		return nil, nil, errors.Errorf("mixup: batch of %d samples with %d labels", n, len(labels))
	}
	for _, label := range labels {
		if label < 0 || int(label) >= m.NumClasses {
			return nil, nil, errors.Errorf("mixup: label %d out of range [0, %d)", label, m.NumClasses)
		}
	}

	lam := float32(m.lambda())
	perm := m.perm(n)
	sampleSize := batch.Shape().Size() / n

	flat := tensors.CopyFlatData[float32](batch)
	mixed := make([]float32, len(flat))
	for i := 0; i < n; i++ {
		a := flat[i*sampleSize : (i+1)*sampleSize]
		b := flat[perm[i]*sampleSize : (perm[i]+1)*sampleSize]
		out := mixed[i*sampleSize : (i+1)*sampleSize]
		for j := range out {
			out[j] = lam*a[j] + (1-lam)*b[j]
		}
	}

	oneHot := make([]float32, n*m.NumClasses)
	for i := 0; i < n; i++ {
		oneHot[i*m.NumClasses+int(labels[i])] += lam
		oneHot[i*m.NumClasses+int(labels[perm[i]])] += 1 - lam
	}

	return tensors.FromFlatDataAndDimensions(mixed, dims...),
		tensors.FromFlatDataAndDimensions(oneHot, n, m.NumClasses), nil
}
