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
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// resampleFromString maps an interpolation name to a resampling filter.
// "bicubic", "lanczos" and "hamming" map to their filters; anything else,
// including "random" and the empty string, falls back to the bilinear default
// ("random" is deliberately excluded from the mapping).
func resampleFromString(interpolation string) imaging.ResampleFilter {
	switch interpolation {
	case "bicubic":
		return imaging.CatmullRom
	case "lanczos":
		return imaging.Lanczos
	case "hamming":
		return imaging.Hamming
	default:
		return imaging.Linear
	}
}

// Resize scales the shorter side of the image to Size, preserving the aspect
// ratio.
type Resize struct {
	Size   int
	Filter imaging.ResampleFilter
}

// NewResize creates a Resize of the shorter side to size.
func NewResize(size int, filter imaging.ResampleFilter) (*Resize, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidParams, "Resize size=%d must be positive", size)
	}
	return &Resize{Size: size, Filter: filter}, nil
}

// Name implements Transform.
func (r *Resize) Name() string { return "Resize" }

// Apply implements Transform.
func (r *Resize) Apply(value any) (any, error) {
	img, err := asImage(value)
	if err != nil {
		return nil, err
	}
	return resizeShortSide(img, r.Size, r.Filter), nil
}

// resizeShortSide scales the image so its smallest dimension becomes size.
func resizeShortSide(img image.Image, size int, filter imaging.ResampleFilter) image.Image {
	width := img.Bounds().Dx()
	height := img.Bounds().Dy()
	if width < height {
		ratio := float64(width) / float64(size)
		width = size
		height = int(math.Round(float64(height) / ratio))
	} else if height < width {
		ratio := float64(height) / float64(size)
		height = size
		width = int(math.Round(float64(width) / ratio))
	} else {
		width, height = size, size
	}
	return imaging.Resize(img, width, height, filter)
}

// CenterCrop cuts a Size x Size square from the middle of the image.
type CenterCrop struct {
	Size int
}

// Name implements Transform.
func (c *CenterCrop) Name() string { return "CenterCrop" }

// Apply implements Transform.
func (c *CenterCrop) Apply(value any) (any, error) {
	img, err := asImage(value)
	if err != nil {
		return nil, err
	}
	if img.Bounds().Dx() < c.Size || img.Bounds().Dy() < c.Size {
		return nil, errors.Errorf("CenterCrop: image %dx%d is smaller than crop size %d",
			img.Bounds().Dx(), img.Bounds().Dy(), c.Size)
	}
	return imaging.CropCenter(img, c.Size, c.Size), nil
}

// RandomCrop cuts a Size x Size square at a uniformly drawn position,
// optionally after padding every border by Padding black pixels.
type RandomCrop struct {
	Size    int
	Padding int
	rnd     *lockedRand
}

// NewRandomCrop creates a RandomCrop of the given size and border padding.
func NewRandomCrop(size, padding int) (*RandomCrop, error) {
	if size <= 0 || padding < 0 {
		return nil, errors.Wrapf(ErrInvalidParams, "RandomCrop size=%d, padding=%d", size, padding)
	}
	return &RandomCrop{Size: size, Padding: padding, rnd: newLockedRand()}, nil
}

// Name implements Transform.
func (c *RandomCrop) Name() string { return "RandomCrop" }

// WithRand replaces the random source, for deterministic tests.
func (c *RandomCrop) WithRand(rnd *rand.Rand) *RandomCrop {
	c.rnd.reseed(rnd)
	return c
}

// Apply implements Transform.
func (c *RandomCrop) Apply(value any) (any, error) {
	img, err := asImage(value)
	if err != nil {
		return nil, err
	}
	if c.Padding > 0 {
		padded := image.NewNRGBA(image.Rect(0, 0, img.Bounds().Dx()+2*c.Padding, img.Bounds().Dy()+2*c.Padding))
		img = imaging.Paste(padded, img, image.Pt(c.Padding, c.Padding))
	}
	maxX := img.Bounds().Dx() - c.Size
	maxY := img.Bounds().Dy() - c.Size
	if maxX < 0 || maxY < 0 {
		return nil, errors.Errorf("RandomCrop: image %dx%d is smaller than crop size %d",
			img.Bounds().Dx(), img.Bounds().Dy(), c.Size)
	}
	x, y := 0, 0
	if maxX > 0 {
		x = c.rnd.Intn(maxX + 1)
	}
	if maxY > 0 {
		y = c.rnd.Intn(maxY + 1)
	}
	return imaging.Crop(img, image.Rect(x, y, x+c.Size, y+c.Size)), nil
}

// RandomResizedCrop crops a random area (fraction drawn from [ScaleMin,
// ScaleMax]) with a random aspect ratio (log-uniform in [RatioMin, RatioMax])
// and resizes the crop to Size x Size. After 10 failed attempts it falls back
// to a central crop, the standard Inception-style augmentation.
type RandomResizedCrop struct {
	Size               int
	ScaleMin, ScaleMax float64
	RatioMin, RatioMax float64
	Filter             imaging.ResampleFilter
	rnd                *lockedRand
}

// NewRandomResizedCrop creates a RandomResizedCrop with the usual defaults
// for the scale and ratio ranges.
func NewRandomResizedCrop(size int, filter imaging.ResampleFilter) (*RandomResizedCrop, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidParams, "RandomResizedCrop size=%d must be positive", size)
	}
	return &RandomResizedCrop{
		Size:     size,
		ScaleMin: 0.08, ScaleMax: 1.0,
		RatioMin: 3.0 / 4.0, RatioMax: 4.0 / 3.0,
		Filter: filter,
		rnd:    newLockedRand(),
	}, nil
}

// Name implements Transform.
func (c *RandomResizedCrop) Name() string { return "RandomResizedCrop" }

// WithRand replaces the random source, for deterministic tests.
func (c *RandomResizedCrop) WithRand(rnd *rand.Rand) *RandomResizedCrop {
	c.rnd.reseed(rnd)
	return c
}

// Apply implements Transform.
func (c *RandomResizedCrop) Apply(value any) (any, error) {
	img, err := asImage(value)
	if err != nil {
		return nil, err
	}
	width := img.Bounds().Dx()
	height := img.Bounds().Dy()
	area := float64(width * height)

	for attempt := 0; attempt < 10; attempt++ {
		targetArea := area * c.rnd.uniform(c.ScaleMin, c.ScaleMax)
		logRatio := c.rnd.uniform(math.Log(c.RatioMin), math.Log(c.RatioMax))
		ratio := math.Exp(logRatio)

		cropWidth := int(math.Round(math.Sqrt(targetArea * ratio)))
		cropHeight := int(math.Round(math.Sqrt(targetArea / ratio)))
		if cropWidth <= 0 || cropHeight <= 0 || cropWidth > width || cropHeight > height {
			continue
		}
		x, y := 0, 0
		if width > cropWidth {
			x = c.rnd.Intn(width - cropWidth + 1)
		}
		if height > cropHeight {
			y = c.rnd.Intn(height - cropHeight + 1)
		}
		crop := imaging.Crop(img, image.Rect(x, y, x+cropWidth, y+cropHeight))
		return imaging.Resize(crop, c.Size, c.Size, c.Filter), nil
	}

	// Fallback: central crop of the largest fitting square.
	side := min(width, height)
	crop := imaging.CropCenter(img, side, side)
	return imaging.Resize(crop, c.Size, c.Size, c.Filter), nil
}

// RandomHorizontalFlip mirrors the image horizontally with probability P.
type RandomHorizontalFlip struct {
	P   float64
	rnd *lockedRand
}

// NewRandomHorizontalFlip creates a RandomHorizontalFlip with probability p.
func NewRandomHorizontalFlip(p float64) (*RandomHorizontalFlip, error) {
	if p < 0 || p > 1 {
		return nil, errors.Wrapf(ErrInvalidParams, "RandomHorizontalFlip probability p=%g must be in [0, 1]", p)
	}
	return &RandomHorizontalFlip{P: p, rnd: newLockedRand()}, nil
}

// Name implements Transform.
func (f *RandomHorizontalFlip) Name() string { return "RandomHorizontalFlip" }

// WithRand replaces the random source, for deterministic tests.
func (f *RandomHorizontalFlip) WithRand(rnd *rand.Rand) *RandomHorizontalFlip {
	f.rnd.reseed(rnd)
	return f
}

// Apply implements Transform.
func (f *RandomHorizontalFlip) Apply(value any) (any, error) {
	img, err := asImage(value)
	if err != nil {
		return nil, err
	}
	if f.rnd.Float64() >= f.P {
		return img, nil
	}
	return imaging.FlipH(img), nil
}

func init() {
	MustRegister("Resize", func(params Params) (Transform, error) {
		cfg := struct {
			Size          int    `mapstructure:"size"`
			Interpolation string `mapstructure:"interpolation"`
		}{}
		if err := decodeParamsInto(params, &cfg); err != nil {
			return nil, err
		}
		return NewResize(cfg.Size, resampleFromString(cfg.Interpolation))
	})
	MustRegister("CenterCrop", func(params Params) (Transform, error) {
		cfg := struct {
			Size int `mapstructure:"size"`
		}{}
		if err := decodeParamsInto(params, &cfg); err != nil {
			return nil, err
		}
		if cfg.Size <= 0 {
			return nil, errors.Wrapf(ErrInvalidParams, "CenterCrop size=%d must be positive", cfg.Size)
		}
		return &CenterCrop{Size: cfg.Size}, nil
	})
	MustRegister("RandomCrop", func(params Params) (Transform, error) {
		cfg := struct {
			Size    int `mapstructure:"size"`
			Padding int `mapstructure:"padding"`
		}{}
		if err := decodeParamsInto(params, &cfg); err != nil {
			return nil, err
		}
		return NewRandomCrop(cfg.Size, cfg.Padding)
	})
	MustRegister("RandomResizedCrop", func(params Params) (Transform, error) {
		cfg := struct {
			Size          int       `mapstructure:"size"`
			Scale         []float64 `mapstructure:"scale"`
			Ratio         []float64 `mapstructure:"ratio"`
			Interpolation string    `mapstructure:"interpolation"`
		}{}
		if err := decodeParamsInto(params, &cfg); err != nil {
			return nil, err
		}
		crop, err := NewRandomResizedCrop(cfg.Size, resampleFromString(cfg.Interpolation))
		if err != nil {
			return nil, err
		}
		if len(cfg.Scale) == 2 {
			crop.ScaleMin, crop.ScaleMax = cfg.Scale[0], cfg.Scale[1]
		} else if len(cfg.Scale) != 0 {
			return nil, errors.Wrapf(ErrInvalidParams, "RandomResizedCrop scale must be a [min, max] pair, got %v", cfg.Scale)
		}
		if len(cfg.Ratio) == 2 {
			crop.RatioMin, crop.RatioMax = cfg.Ratio[0], cfg.Ratio[1]
		} else if len(cfg.Ratio) != 0 {
			return nil, errors.Wrapf(ErrInvalidParams, "RandomResizedCrop ratio must be a [min, max] pair, got %v", cfg.Ratio)
		}
		return crop, nil
	})
	MustRegister("RandomHorizontalFlip", func(params Params) (Transform, error) {
		cfg := struct {
			P float64 `mapstructure:"p"`
		}{P: 0.5}
		if err := decodeParamsInto(params, &cfg); err != nil {
			return nil, err
		}
		return NewRandomHorizontalFlip(cfg.P)
	})
}
