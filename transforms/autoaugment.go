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
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Policy is one auto-augmentation policy function, applied to an image per
// call.
type Policy func(image.Image) image.Image

// PolicyParams is the parameter record handed to the policy factories.
type PolicyParams struct {
	// TranslateConst is the maximum absolute translation, in pixels:
	// floor(0.45 * shortest image side).
	TranslateConst int

	// ImgMean is the per-channel fill color used by geometric policies,
	// round(255 * mean) clamped to 255.
	ImgMean []uint8

	// Interpolation used by geometric policies.
	Interpolation imaging.ResampleFilter

	// TranslatePct is the maximum translation as a fraction of the image
	// side. Only set (to 0.3) for the AugMix family.
	TranslatePct float64
}

// PolicyFactory builds a policy from its configuration string and the
// parameter record.
type PolicyFactory func(configStr string, params PolicyParams) (Policy, error)

// The three policy family factories, dispatched on the configuration string.
// They are package variables so tests (or callers with their own policy
// tables) can replace them; the defaults live in policies.go.
var (
	RandAugmentPolicy PolicyFactory = randAugmentPolicy
	AugMixPolicy      PolicyFactory = augMixPolicy
	AutoAugmentPolicy PolicyFactory = autoAugmentPolicy
)

// AutoAugment selects one of three augmentation-policy families from a
// configuration string, at construction time:
//
//   - a "rand" prefix selects rand-augment (e.g. "rand-m9-mstd0.5");
//   - an "augmix" prefix selects AugMix (e.g. "augmix-m5-w3-d2"), with the
//     translation fraction forced to 0.3;
//   - the empty string selects the identity policy (no-op);
//   - any other non-empty string selects the generic auto-augment family
//     (e.g. "original", "v0").
//
// At call time it applies the selected policy, or returns the image unchanged
// for the identity case.
type AutoAugment struct {
	ConfigStr string
	policy    Policy
}

// NewAutoAugment builds the policy-parameter record from the image size (one
// or two dimensions), the interpolation name and the per-channel mean, then
// dispatches on configStr. The per-channel std is accepted for configuration
// compatibility but not consumed by any policy family.
func NewAutoAugment(configStr string, imgSize []int, interpolation string, mean, std []float64) (*AutoAugment, error) {
	if len(imgSize) == 0 || len(imgSize) > 2 {
		return nil, errors.Wrapf(ErrInvalidParams, "AutoAugment img_size must have 1 or 2 dimensions, got %v", imgSize)
	}
	minSide := imgSize[0]
	for _, dim := range imgSize {
		if dim <= 0 {
			return nil, errors.Wrapf(ErrInvalidParams, "AutoAugment img_size dimensions must be positive, got %v", imgSize)
		}
		minSide = min(minSide, dim)
	}
	if len(mean) == 0 {
		mean = ImageNetDefaultMean
	}
	_ = std

	params := PolicyParams{
		TranslateConst: int(0.45 * float64(minSide)),
		ImgMean:        make([]uint8, len(mean)),
		Interpolation:  resampleFromString(interpolation),
	}
	for i, m := range mean {
		params.ImgMean[i] = uint8(min(255, int(math.Round(255*m))))
	}

	aa := &AutoAugment{ConfigStr: configStr}
	var err error
	switch {
	case strings.HasPrefix(configStr, "rand"):
		aa.policy, err = RandAugmentPolicy(configStr, params)
	case strings.HasPrefix(configStr, "augmix"):
		params.TranslatePct = 0.3
		aa.policy, err = AugMixPolicy(configStr, params)
	case configStr == "":
		// Identity policy.
	default:
		aa.policy, err = AutoAugmentPolicy(configStr, params)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "AutoAugment(%q)", configStr)
	}
	return aa, nil
}

// Name implements Transform.
func (a *AutoAugment) Name() string { return "AutoAugment" }

// Apply implements Transform.
func (a *AutoAugment) Apply(value any) (any, error) {
	img, err := asImage(value)
	if err != nil {
		return nil, err
	}
	if a.policy == nil {
		return img, nil
	}
	return a.policy(img), nil
}

func init() {
	MustRegister("AutoAugment", func(params Params) (Transform, error) {
		cfg := struct {
			ConfigStr     string    `mapstructure:"config_str"`
			ImgSize       []int     `mapstructure:"img_size"`
			Interpolation string    `mapstructure:"interpolation"`
			Mean          []float64 `mapstructure:"mean"`
			Std           []float64 `mapstructure:"std"`
		}{Mean: ImageNetDefaultMean, Std: ImageNetDefaultStd}
		if err := decodeParamsInto(params, &cfg); err != nil {
			return nil, err
		}
		return NewAutoAugment(cfg.ConfigStr, cfg.ImgSize, cfg.Interpolation, cfg.Mean, cfg.Std)
	})
}
