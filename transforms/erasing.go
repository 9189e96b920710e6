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

package transforms

import (
	"math"
	"math/rand"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Erasing fill modes.
const (
	// EraseConst fills the erased region with zeros.
	EraseConst = "const"
	// EraseRand fills the erased region with per-element gaussian noise.
	EraseRand = "rand"
)

// RandomErasing zeroes (or noises) a random rectangle of a [channels, height,
// width] Float32 tensor with probability P: the cutout-style regularization.
// The rectangle's area fraction is drawn from [AreaMin, AreaMax] and its
// aspect ratio log-uniformly from [RatioMin, RatioMax]; after 10 failed
// attempts the input is returned unchanged.
type RandomErasing struct {
	P                  float64
	AreaMin, AreaMax   float64
	RatioMin, RatioMax float64
	Mode               string
	rnd                *lockedRand
}

// NewRandomErasing creates a RandomErasing with the usual area and ratio
// defaults.
func NewRandomErasing(p float64, mode string) (*RandomErasing, error) {
	if p < 0 || p > 1 {
		return nil, errors.Wrapf(ErrInvalidParams, "RandomErasing probability p=%g must be in [0, 1]", p)
	}
	if mode != EraseConst && mode != EraseRand {
		return nil, errors.Wrapf(ErrInvalidParams, "RandomErasing mode %q must be %q or %q", mode, EraseConst, EraseRand)
	}
	return &RandomErasing{
		P:       p,
		AreaMin: 0.02, AreaMax: 1.0 / 3.0,
		RatioMin: 0.3, RatioMax: 10.0 / 3.0,
		Mode: mode,
		rnd:  newLockedRand(),
	}, nil
}

// Name implements Transform.
func (e *RandomErasing) Name() string { return "RandomErasing" }

// WithRand replaces the random source, for deterministic tests.
func (e *RandomErasing) WithRand(rnd *rand.Rand) *RandomErasing {
	e.rnd.reseed(rnd)
	return e
}

// Apply implements Transform.
func (e *RandomErasing) Apply(value any) (any, error) {
	tensor, err := asTensor(value)
	if err != nil {
		return nil, err
	}
	if tensor.DType() != dtypes.Float32 || tensor.Rank() != 3 {
		return nil, errors.Errorf("RandomErasing: expected a rank-3 Float32 [channels, height, width] tensor, got %s", tensor.Shape())
	}
	if e.rnd.Float64() >= e.P {
		return tensor, nil
	}

	dims := tensor.Shape().Dimensions
	channels, height, width := dims[0], dims[1], dims[2]
	area := float64(height * width)
	for attempt := 0; attempt < 10; attempt++ {
		targetArea := area * e.rnd.uniform(e.AreaMin, e.AreaMax)
		ratio := math.Exp(e.rnd.uniform(math.Log(e.RatioMin), math.Log(e.RatioMax)))
		eraseHeight := int(math.Round(math.Sqrt(targetArea * ratio)))
		eraseWidth := int(math.Round(math.Sqrt(targetArea / ratio)))
		if eraseHeight <= 0 || eraseWidth <= 0 || eraseHeight >= height || eraseWidth >= width {
			continue
		}
		top := e.rnd.Intn(height - eraseHeight)
		left := e.rnd.Intn(width - eraseWidth)

		flat := tensors.CopyFlatData[float32](tensor)
		for c := 0; c < channels; c++ {
			for y := top; y < top+eraseHeight; y++ {
				rowOffset := (c*height + y) * width
				for x := left; x < left+eraseWidth; x++ {
					if e.Mode == EraseRand {
						flat[rowOffset+x] = float32(e.rnd.NormFloat64())
					} else {
						flat[rowOffset+x] = 0
					}
				}
			}
		}
		return tensors.FromFlatDataAndDimensions(flat, dims...), nil
	}
	return tensor, nil
}

func init() {
	MustRegister("RandomErasing", func(params Params) (Transform, error) {
		cfg := struct {
			P     float64   `mapstructure:"prob"`
			Area  []float64 `mapstructure:"scale"`
			Ratio []float64 `mapstructure:"ratio"`
			Mode  string    `mapstructure:"mode"`
		}{P: 0.5, Mode: EraseConst}
		if err := decodeParamsInto(params, &cfg); err != nil {
			return nil, err
		}
		erasing, err := NewRandomErasing(cfg.P, cfg.Mode)
		if err != nil {
			return nil, err
		}
		if len(cfg.Area) == 2 {
			erasing.AreaMin, erasing.AreaMax = cfg.Area[0], cfg.Area[1]
		} else if len(cfg.Area) != 0 {
			return nil, errors.Wrapf(ErrInvalidParams, "RandomErasing scale must be a [min, max] pair, got %v", cfg.Area)
		}
		if len(cfg.Ratio) == 2 {
			erasing.RatioMin, erasing.RatioMax = cfg.Ratio[0], cfg.Ratio[1]
		} else if len(cfg.Ratio) != 0 {
			return nil, errors.Wrapf(ErrInvalidParams, "RandomErasing ratio must be a [min, max] pair, got %v", cfg.Ratio)
		}
		return erasing, nil
	})
}
