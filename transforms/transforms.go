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

// Package transforms implements configuration-driven image augmentation pipelines
// for training: a process-wide catalogue of named transforms that can be selected
// and parametrized from a configuration (e.g. a YAML file) and composed into an
// ordered pipeline applied to each sample.
//
// A pipeline value flows through two representations: it starts as an image.Image
// and, after a ToTensor stage, becomes a *tensors.Tensor. Each transform declares
// which representation it consumes; mixing them up is reported as an error at
// Apply time.
//
// Transforms are immutable after construction and safe for concurrent use: the
// only state touched per call is the random source, which is guarded internally.
// Build pipelines once (see FromSpecs) before handing them to parallel data
// loading workers.
package transforms

import (
	"image"
	"math/rand"
	"sync"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

// ImageNet channel statistics, the usual defaults for normalization and for
// the AutoAugment fill color.
var (
	ImageNetDefaultMean = []float64{0.485, 0.456, 0.406}
	ImageNetDefaultStd  = []float64{0.229, 0.224, 0.225}
)

// DefaultCropPct is the default central-crop fraction used by evaluation pipelines.
const DefaultCropPct = 0.875

// Transform is one unit of work in an augmentation pipeline: it maps a sample
// value to a new sample value, possibly drawing fresh randomness per call.
//
// The value is either an image.Image or a *tensors.Tensor, depending on where
// in the pipeline the transform sits. Transforms never modify their input in
// place; they return a new (or the unchanged input) value.
type Transform interface {
	// Name returns the registry name of the transform.
	Name() string

	// Apply transforms the value. Errors propagate unmodified to the caller;
	// a failing sample fails the whole pipeline invocation.
	Apply(value any) (any, error)
}

// asImage extracts an image.Image from a pipeline value.
func asImage(value any) (image.Image, error) {
	img, ok := value.(image.Image)
	if !ok {
		return nil, errors.Errorf("expected an image.Image value, got %T -- is a tensor-stage transform placed before ToTensor?", value)
	}
	return img, nil
}

// asTensor extracts a *tensors.Tensor from a pipeline value.
func asTensor(value any) (*tensors.Tensor, error) {
	t, ok := value.(*tensors.Tensor)
	if !ok {
		return nil, errors.Errorf("expected a *tensors.Tensor value, got %T -- is ToTensor missing earlier in the pipeline?", value)
	}
	return t, nil
}

// lockedRand is a rand.Rand guarded for concurrent draws. Every stochastic
// transform owns one, so draws from parallel data loading workers never race.
type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func newLockedRand() *lockedRand {
	return &lockedRand{rnd: rand.New(rand.NewSource(rand.Int63()))}
}

// reseed replaces the underlying source. Used by the WithRand methods of the
// stochastic transforms, mostly for deterministic tests.
func (l *lockedRand) reseed(rnd *rand.Rand) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rnd = rnd
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rnd.Float64()
}

func (l *lockedRand) NormFloat64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rnd.NormFloat64()
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rnd.Intn(n)
}

func (l *lockedRand) Shuffle(n int, swap func(i, j int)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rnd.Shuffle(n, swap)
}

// uniform draws from [low, high).
func (l *lockedRand) uniform(low, high float64) float64 {
	return low + (high-low)*l.Float64()
}

// Compose is an ordered, immutable sequence of transforms applied left to
// right: the output of each stage feeds the next. It implements Transform
// itself, so pipelines nest.
type Compose struct {
	stages []Transform
}

// NewCompose creates a pipeline from already-built transforms. See FromSpecs
// to build one from configuration records.
func NewCompose(stages ...Transform) *Compose {
	return &Compose{stages: stages}
}

// Name implements Transform.
func (c *Compose) Name() string { return "Compose" }

// Len returns the number of stages.
func (c *Compose) Len() int { return len(c.stages) }

// Stage returns the i-th transform of the pipeline.
func (c *Compose) Stage(i int) Transform { return c.stages[i] }

// Apply runs the value through every stage in order. No stage is ever skipped
// here; skipping only happens inside a stochastic transform's own probability
// gate. The first error aborts and propagates unmodified.
func (c *Compose) Apply(value any) (any, error) {
	var err error
	for _, stage := range c.stages {
		value, err = stage.Apply(value)
		if err != nil {
			return nil, errors.WithMessagef(err, "in pipeline stage %q", stage.Name())
		}
	}
	return value, nil
}

// RandomApply applies a whole sub-pipeline with probability P, atomically:
// one uniform draw per call decides whether every stage of the sub-pipeline
// runs or none does. It is never a per-stage coin flip.
type RandomApply struct {
	P        float64
	pipeline *Compose
	rnd      *lockedRand
}

// NewRandomApply builds the sub-pipeline eagerly from the given stages (specs
// or pre-built transforms, see FromSpec); a failing stage fails the
// construction. P must be in [0, 1].
func NewRandomApply(stages []any, p float64) (*RandomApply, error) {
	if p < 0 || p > 1 {
		return nil, errors.Wrapf(ErrInvalidParams, "RandomApply probability p=%g must be in [0, 1]", p)
	}
	pipeline, err := FromSpecs(stages)
	if err != nil {
		return nil, errors.WithMessage(err, "building RandomApply sub-pipeline")
	}
	return &RandomApply{P: p, pipeline: pipeline, rnd: newLockedRand()}, nil
}

// Name implements Transform.
func (r *RandomApply) Name() string { return "RandomApply" }

// Pipeline returns the eagerly-built sub-pipeline.
func (r *RandomApply) Pipeline() *Compose { return r.pipeline }

// WithRand replaces the random source, for deterministic tests.
func (r *RandomApply) WithRand(rnd *rand.Rand) *RandomApply {
	r.rnd.reseed(rnd)
	return r
}

// Apply draws r in [0, 1) once and applies the sub-pipeline iff r < P,
// otherwise it returns the value unchanged. The strict comparison makes P=0
// exact identity and P=1 always apply.
func (r *RandomApply) Apply(value any) (any, error) {
	if r.rnd.Float64() >= r.P {
		return value, nil
	}
	return r.pipeline.Apply(value)
}

func init() {
	MustRegister("RandomApply", func(params Params) (Transform, error) {
		cfg := struct {
			Transforms []any   `mapstructure:"transforms"`
			P          float64 `mapstructure:"p"`
		}{P: 0.5}
		if err := decodeParamsInto(params, &cfg); err != nil {
			return nil, err
		}
		return NewRandomApply(cfg.Transforms, cfg.P)
	})
}
