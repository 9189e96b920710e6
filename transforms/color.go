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
	"image"
	"math/rand"

	"github.com/disintegration/imaging"
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

// ColorJitter randomly perturbs brightness, contrast, saturation and hue.
// Each non-zero range draws one factor per call -- brightness, contrast and
// saturation factors from [1-v, 1+v] (floored at 0), hue as a fraction of the
// color wheel from [-Hue, +Hue] -- and the four adjustments are applied in a
// random order. With all ranges at zero it is an exact identity.
type ColorJitter struct {
	Brightness float64 `mapstructure:"brightness"`
	Contrast   float64 `mapstructure:"contrast"`
	Saturation float64 `mapstructure:"saturation"`
	Hue        float64 `mapstructure:"hue"`
	rnd        *lockedRand
}

// NewColorJitter validates the jitter ranges. Hue must be in [0, 0.5], the
// others non-negative.
func NewColorJitter(brightness, contrast, saturation, hue float64) (*ColorJitter, error) {
	if brightness < 0 || contrast < 0 || saturation < 0 {
		return nil, errors.Wrapf(ErrInvalidParams,
			"ColorJitter ranges must be non-negative, got brightness=%g, contrast=%g, saturation=%g",
			brightness, contrast, saturation)
	}
	if hue < 0 || hue > 0.5 {
		return nil, errors.Wrapf(ErrInvalidParams, "ColorJitter hue=%g must be in [0, 0.5]", hue)
	}
	return &ColorJitter{
		Brightness: brightness, Contrast: contrast, Saturation: saturation, Hue: hue,
		rnd: newLockedRand(),
	}, nil
}

// Name implements Transform.
func (j *ColorJitter) Name() string { return "ColorJitter" }

// WithRand replaces the random source, for deterministic tests.
func (j *ColorJitter) WithRand(rnd *rand.Rand) *ColorJitter {
	j.rnd.reseed(rnd)
	return j
}

// Apply implements Transform.
func (j *ColorJitter) Apply(value any) (any, error) {
	img, err := asImage(value)
	if err != nil {
		return nil, err
	}

	type adjustment func(image.Image) image.Image
	var adjustments []adjustment
	if j.Brightness > 0 {
		factor := j.rnd.uniform(max(0, 1-j.Brightness), 1+j.Brightness)
		adjustments = append(adjustments, func(img image.Image) image.Image {
			return imaging.AdjustBrightness(img, (factor-1)*100)
		})
	}
	if j.Contrast > 0 {
		factor := j.rnd.uniform(max(0, 1-j.Contrast), 1+j.Contrast)
		adjustments = append(adjustments, func(img image.Image) image.Image {
			return imaging.AdjustContrast(img, (factor-1)*100)
		})
	}
	if j.Saturation > 0 {
		factor := j.rnd.uniform(max(0, 1-j.Saturation), 1+j.Saturation)
		adjustments = append(adjustments, func(img image.Image) image.Image {
			return adjustHSL(img, 0, factor)
		})
	}
	if j.Hue > 0 {
		shift := j.rnd.uniform(-j.Hue, j.Hue) * 360
		adjustments = append(adjustments, func(img image.Image) image.Image {
			return adjustHSL(img, shift, 1)
		})
	}
	if len(adjustments) == 0 {
		return img, nil
	}
	j.rnd.Shuffle(len(adjustments), func(a, b int) {
		adjustments[a], adjustments[b] = adjustments[b], adjustments[a]
	})
	for _, adjust := range adjustments {
		img = adjust(img)
	}
	return img, nil
}

// adjustHSL rotates the hue by hueShift degrees and scales the saturation by
// satFactor, per pixel in HSL space.
func adjustHSL(img image.Image, hueShift, satFactor float64) image.Image {
	out := imaging.Clone(img)
	for i := 0; i < len(out.Pix); i += 4 {
		c := colorful.Color{
			R: float64(out.Pix[i]) / 255,
			G: float64(out.Pix[i+1]) / 255,
			B: float64(out.Pix[i+2]) / 255,
		}
		h, s, l := c.Hsl()
		h += hueShift
		for h < 0 {
			h += 360
		}
		for h >= 360 {
			h -= 360
		}
		s = min(max(s*satFactor, 0), 1)
		adjusted := colorful.Hsl(h, s, l).Clamped()
		out.Pix[i] = uint8(adjusted.R*255 + 0.5)
		out.Pix[i+1] = uint8(adjusted.G*255 + 0.5)
		out.Pix[i+2] = uint8(adjusted.B*255 + 0.5)
	}
	return out
}

func init() {
	MustRegister("ColorJitter", func(params Params) (Transform, error) {
		var cfg ColorJitter
		if err := decodeParamsInto(params, &cfg); err != nil {
			return nil, err
		}
		return NewColorJitter(cfg.Brightness, cfg.Contrast, cfg.Saturation, cfg.Hue)
	})
}
