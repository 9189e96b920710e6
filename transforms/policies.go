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

// Default policy-family implementations. The policy tables are a compact
// rendition of the published rand-augment / AugMix / AutoAugment recipes on
// top of the imaging library; callers needing an exact published table can
// install their own PolicyFactory.

import (
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// policyConfig is the parsed form of a policy configuration string, e.g.
// "rand-m9-mstd0.5-n2" or "augmix-m5-w3-d2".
type policyConfig struct {
	family       string
	magnitude    float64 // "m", on the 0..10 scale.
	magnitudeStd float64 // "mstd"
	layers       int     // "n", ops applied per call (rand-augment).
	width        int     // "w", mixing chains (AugMix).
	depth        int     // "d", chain depth (AugMix); <= 0 means random 1..3.
}

func parsePolicyConfig(configStr string) (policyConfig, error) {
	cfg := policyConfig{magnitude: 10, layers: 2, width: 3, depth: -1}
	tokens := strings.Split(configStr, "-")
	cfg.family = tokens[0]
	for _, token := range tokens[1:] {
		switch {
		case strings.HasPrefix(token, "mstd"):
			v, err := strconv.ParseFloat(token[4:], 64)
			if err != nil {
				return cfg, errors.Wrapf(ErrInvalidParams, "bad mstd token %q in policy config %q", token, configStr)
			}
			cfg.magnitudeStd = v
		case strings.HasPrefix(token, "m"):
			v, err := strconv.Atoi(token[1:])
			if err != nil {
				return cfg, errors.Wrapf(ErrInvalidParams, "bad magnitude token %q in policy config %q", token, configStr)
			}
			cfg.magnitude = float64(v)
		case strings.HasPrefix(token, "n"):
			v, err := strconv.Atoi(token[1:])
			if err != nil {
				return cfg, errors.Wrapf(ErrInvalidParams, "bad layers token %q in policy config %q", token, configStr)
			}
			cfg.layers = v
		case strings.HasPrefix(token, "w"):
			v, err := strconv.Atoi(token[1:])
			if err != nil {
				return cfg, errors.Wrapf(ErrInvalidParams, "bad width token %q in policy config %q", token, configStr)
			}
			cfg.width = v
		case strings.HasPrefix(token, "d"):
			v, err := strconv.Atoi(token[1:])
			if err != nil {
				return cfg, errors.Wrapf(ErrInvalidParams, "bad depth token %q in policy config %q", token, configStr)
			}
			cfg.depth = v
		case strings.HasPrefix(token, "inc"):
			// Increasing-severity flag of some published configs; the default
			// table already scales severity with magnitude.
		default:
			return cfg, errors.Wrapf(ErrInvalidParams, "unknown token %q in policy config %q", token, configStr)
		}
	}
	return cfg, nil
}

// policyOp applies one table operation at the given 0..10 magnitude.
type policyOp func(img image.Image, magnitude float64, pp PolicyParams, rnd *lockedRand) image.Image

func fillColor(pp PolicyParams) color.NRGBA {
	fill := color.NRGBA{A: 255}
	if len(pp.ImgMean) > 0 {
		fill.R = pp.ImgMean[0]
		fill.G = pp.ImgMean[min(1, len(pp.ImgMean)-1)]
		fill.B = pp.ImgMean[min(2, len(pp.ImgMean)-1)]
	}
	return fill
}

// randomSign flips the direction of a signed op with probability 0.5.
func randomSign(rnd *lockedRand) float64 {
	if rnd.Intn(2) == 0 {
		return -1
	}
	return 1
}

func opRotate(img image.Image, magnitude float64, pp PolicyParams, rnd *lockedRand) image.Image {
	angle := randomSign(rnd) * 30 * magnitude / 10
	bounds := img.Bounds()
	// Rotation expands the canvas; crop back so every op preserves the size.
	rotated := imaging.Rotate(img, angle, fillColor(pp))
	return imaging.CropCenter(rotated, bounds.Dx(), bounds.Dy())
}

func translate(img image.Image, dx, dy int, pp PolicyParams) image.Image {
	bounds := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	fill := fillColor(pp)
	for i := 0; i < len(out.Pix); i += 4 {
		out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = fill.R, fill.G, fill.B, fill.A
	}
	return imaging.Paste(out, img, image.Pt(dx, dy))
}

// translateMax returns the translation amplitude in pixels: TranslatePct of
// the given side when set (AugMix family), TranslateConst otherwise.
func translateMax(side int, pp PolicyParams) int {
	if pp.TranslatePct > 0 {
		return int(pp.TranslatePct * float64(side))
	}
	return pp.TranslateConst
}

func opTranslateX(img image.Image, magnitude float64, pp PolicyParams, rnd *lockedRand) image.Image {
	amount := int(randomSign(rnd) * float64(translateMax(img.Bounds().Dx(), pp)) * magnitude / 10)
	return translate(img, amount, 0, pp)
}

func opTranslateY(img image.Image, magnitude float64, pp PolicyParams, rnd *lockedRand) image.Image {
	amount := int(randomSign(rnd) * float64(translateMax(img.Bounds().Dy(), pp)) * magnitude / 10)
	return translate(img, 0, amount, pp)
}

func opSolarize(img image.Image, magnitude float64, _ PolicyParams, _ *lockedRand) image.Image {
	threshold := 256 - 25.6*magnitude
	out, _ := (&Solarization{Threshold: threshold}).Apply(img)
	return out.(image.Image)
}

func opPosterize(img image.Image, magnitude float64, _ PolicyParams, _ *lockedRand) image.Image {
	bits := 8 - int(4*magnitude/10)
	mask := uint8(0xFF) << (8 - bits)
	out := imaging.Clone(img)
	for i := 0; i < len(out.Pix); i += 4 {
		out.Pix[i] &= mask
		out.Pix[i+1] &= mask
		out.Pix[i+2] &= mask
	}
	return out
}

func opInvert(img image.Image, _ float64, _ PolicyParams, _ *lockedRand) image.Image {
	return imaging.Invert(img)
}

func opAutoContrast(img image.Image, _ float64, _ PolicyParams, _ *lockedRand) image.Image {
	out := imaging.Clone(img)
	for c := 0; c < 3; c++ {
		low, high := uint8(255), uint8(0)
		for i := c; i < len(out.Pix); i += 4 {
			low = min(low, out.Pix[i])
			high = max(high, out.Pix[i])
		}
		if low >= high {
			continue
		}
		scale := 255.0 / float64(high-low)
		for i := c; i < len(out.Pix); i += 4 {
			out.Pix[i] = uint8(math.Round(float64(out.Pix[i]-low) * scale))
		}
	}
	return out
}

// enhancementFactor maps a 0..10 magnitude to the 0.1..1.9 factor range of the
// photometric enhancement ops, with a random direction.
func enhancementFactor(magnitude float64, rnd *lockedRand) float64 {
	return 1 + randomSign(rnd)*0.9*magnitude/10
}

func opContrast(img image.Image, magnitude float64, _ PolicyParams, rnd *lockedRand) image.Image {
	return imaging.AdjustContrast(img, (enhancementFactor(magnitude, rnd)-1)*100)
}

func opBrightness(img image.Image, magnitude float64, _ PolicyParams, rnd *lockedRand) image.Image {
	return imaging.AdjustBrightness(img, (enhancementFactor(magnitude, rnd)-1)*100)
}

func opColor(img image.Image, magnitude float64, _ PolicyParams, rnd *lockedRand) image.Image {
	return adjustHSL(img, 0, enhancementFactor(magnitude, rnd))
}

func opSharpness(img image.Image, magnitude float64, _ PolicyParams, rnd *lockedRand) image.Image {
	if randomSign(rnd) > 0 {
		return imaging.Sharpen(img, magnitude/10)
	}
	return imaging.Blur(img, 0.1+magnitude/10)
}

// randAugmentOps is the operation table shared by the rand-augment and AugMix
// families.
var randAugmentOps = []policyOp{
	opRotate,
	opTranslateX,
	opTranslateY,
	opSolarize,
	opPosterize,
	opInvert,
	opAutoContrast,
	opContrast,
	opBrightness,
	opColor,
	opSharpness,
}

// randAugmentPolicy is the default "rand" family: per call it applies `n`
// operations drawn uniformly from the table, each at a magnitude sampled from
// N(m, mstd) clamped to [0, 10] (or exactly m when mstd is 0).
func randAugmentPolicy(configStr string, pp PolicyParams) (Policy, error) {
	cfg, err := parsePolicyConfig(configStr)
	if err != nil {
		return nil, err
	}
	rnd := newLockedRand()
	return func(img image.Image) image.Image {
		for layer := 0; layer < cfg.layers; layer++ {
			op := randAugmentOps[rnd.Intn(len(randAugmentOps))]
			magnitude := cfg.magnitude
			if cfg.magnitudeStd > 0 {
				magnitude = min(max(magnitude+rnd.NormFloat64()*cfg.magnitudeStd, 0), 10)
			}
			img = op(img, magnitude, pp, rnd)
		}
		return img
	}, nil
}

// augMixPolicy is the default "augmix" family: `w` augmentation chains of
// random depth are blended together and then mixed with the original image.
func augMixPolicy(configStr string, pp PolicyParams) (Policy, error) {
	cfg, err := parsePolicyConfig(configStr)
	if err != nil {
		return nil, err
	}
	rnd := newLockedRand()
	return func(img image.Image) image.Image {
		base := imaging.Clone(img)
		mixed := make([]float64, len(base.Pix))
		weights := dirichletWeights(cfg.width, rnd)
		for chain := 0; chain < cfg.width; chain++ {
			depth := cfg.depth
			if depth <= 0 {
				depth = 1 + rnd.Intn(3)
			}
			var chained image.Image = base
			for i := 0; i < depth; i++ {
				op := randAugmentOps[rnd.Intn(len(randAugmentOps))]
				chained = op(chained, cfg.magnitude, pp, rnd)
			}
			chainPix := imaging.Clone(chained).Pix
			for i := range mixed {
				mixed[i] += weights[chain] * float64(chainPix[i])
			}
		}
		// Final blend with the original, beta-distributed weight.
		blend := betaSample(1, 1, rnd)
		out := image.NewNRGBA(base.Bounds())
		for i := range out.Pix {
			v := blend*float64(base.Pix[i]) + (1-blend)*mixed[i]
			out.Pix[i] = uint8(math.Round(min(max(v, 0), 255)))
		}
		return out
	}, nil
}

// autoAugmentPolicy is the default generic family ("original", "v0", ...): a
// small table of (operation, probability, magnitude) pairs; per call one pair
// is drawn and each of its operations fires independently with its
// probability.
func autoAugmentPolicy(configStr string, pp PolicyParams) (Policy, error) {
	type step struct {
		op        policyOp
		p         float64
		magnitude float64
	}
	pairs := [][2]step{
		{{opPosterize, 0.4, 8}, {opRotate, 0.6, 9}},
		{{opSolarize, 0.6, 5}, {opAutoContrast, 0.6, 5}},
		{{opPosterize, 0.6, 7}, {opPosterize, 0.6, 6}},
		{{opRotate, 0.2, 3}, {opSolarize, 0.6, 8}},
		{{opTranslateX, 0.3, 9}, {opTranslateY, 0.3, 9}},
		{{opInvert, 0.1, 0}, {opContrast, 0.2, 6}},
		{{opRotate, 0.8, 8}, {opColor, 0.4, 0}},
		{{opSharpness, 0.3, 9}, {opBrightness, 0.7, 9}},
	}
	rnd := newLockedRand()
	return func(img image.Image) image.Image {
		pair := pairs[rnd.Intn(len(pairs))]
		for _, s := range pair {
			if rnd.Float64() < s.p {
				img = s.op(img, s.magnitude, pp, rnd)
			}
		}
		return img
	}, nil
}

// dirichletWeights draws symmetric Dirichlet(1) weights: normalized
// exponentials.
func dirichletWeights(n int, rnd *lockedRand) []float64 {
	weights := make([]float64, n)
	var sum float64
	for i := range weights {
		weights[i] = -math.Log(1 - rnd.Float64())
		sum += weights[i]
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// betaSample draws from Beta(a, b) using Jöhnk's algorithm, good enough for
// the small shape parameters used in mixing.
func betaSample(a, b float64, rnd *lockedRand) float64 {
	for {
		u := math.Pow(rnd.Float64(), 1/a)
		v := math.Pow(rnd.Float64(), 1/b)
		if u+v > 0 && u+v <= 1 {
			return u / (u + v)
		}
	}
}
