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
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gomlx/types/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Tensor-stage transforms: everything below consumes and produces
// *tensors.Tensor values. A pipeline switches representation at its ToTensor
// stage; see the package documentation.

// ToTensor converts an image to a [height, width, 3] tensor. Float dtypes are
// scaled to [0, 1]; Uint8 keeps the raw [0, 255] values.
type ToTensor struct {
	DType dtypes.DType
}

// NewToTensor creates a ToTensor converting to the given dtype.
func NewToTensor(dtype dtypes.DType) *ToTensor {
	return &ToTensor{DType: dtype}
}

// Name implements Transform.
func (t *ToTensor) Name() string { return "ToTensor" }

// Apply implements Transform.
func (t *ToTensor) Apply(value any) (any, error) {
	img, err := asImage(value)
	if err != nil {
		return nil, err
	}
	return images.ToTensor(t.DType).Single(img), nil
}

// ToCHW transposes a [height, width, channels] tensor to channel-first
// [channels, height, width], the layout most models consume.
type ToCHW struct{}

// Name implements Transform.
func (t *ToCHW) Name() string { return "ToCHW" }

// Apply implements Transform.
func (t *ToCHW) Apply(value any) (any, error) {
	tensor, err := asTensor(value)
	if err != nil {
		return nil, err
	}
	if tensor.Rank() != 3 {
		return nil, errors.Errorf("ToCHW: expected a rank-3 [height, width, channels] tensor, got shape %s", tensor.Shape())
	}
	dims := tensor.Shape().Dimensions
	height, width, channels := dims[0], dims[1], dims[2]
	switch tensor.DType() {
	case dtypes.Float32:
		return transposeHWC(tensors.CopyFlatData[float32](tensor), height, width, channels), nil
	case dtypes.Uint8:
		return transposeHWC(tensors.CopyFlatData[uint8](tensor), height, width, channels), nil
	default:
		return nil, errors.Errorf("ToCHW: unsupported dtype %s", tensor.DType())
	}
}

func transposeHWC[T float32 | uint8](flat []T, height, width, channels int) *tensors.Tensor {
	transposed := make([]T, len(flat))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			for c := 0; c < channels; c++ {
				transposed[(c*height+y)*width+x] = flat[(y*width+x)*channels+c]
			}
		}
	}
	return tensors.FromFlatDataAndDimensions(transposed, channels, height, width)
}

// NormToOne scales pixel values by 1/255 into a Float32 tensor. It assumes
// the input range is [0, 255] (a Uint8 ToTensor output).
type NormToOne struct{}

// Name implements Transform.
func (n *NormToOne) Name() string { return "NormToOne" }

// Apply implements Transform.
func (n *NormToOne) Apply(value any) (any, error) {
	tensor, err := asTensor(value)
	if err != nil {
		return nil, err
	}
	dims := tensor.Shape().Dimensions
	var flat []float32
	switch tensor.DType() {
	case dtypes.Uint8:
		raw := tensors.CopyFlatData[uint8](tensor)
		flat = make([]float32, len(raw))
		for i, v := range raw {
			flat[i] = float32(v) / 255
		}
	case dtypes.Float32:
		flat = tensors.CopyFlatData[float32](tensor)
		for i := range flat {
			flat[i] /= 255
		}
	default:
		return nil, errors.Errorf("NormToOne: unsupported dtype %s", tensor.DType())
	}
	return tensors.FromFlatDataAndDimensions(flat, dims...), nil
}

// Clip clamps every element of a Float32 tensor into [Min, Max]. Pure and
// idempotent.
type Clip struct {
	Min float64 `mapstructure:"min_val"`
	Max float64 `mapstructure:"max_val"`
}

// Name implements Transform.
func (c *Clip) Name() string { return "Clip" }

// Apply implements Transform.
func (c *Clip) Apply(value any) (any, error) {
	tensor, err := asTensor(value)
	if err != nil {
		return nil, err
	}
	if tensor.DType() != dtypes.Float32 {
		return nil, errors.Errorf("Clip: unsupported dtype %s, convert with NormToOne or a float ToTensor first", tensor.DType())
	}
	low, high := float32(c.Min), float32(c.Max)
	flat := tensors.CopyFlatData[float32](tensor)
	for i, v := range flat {
		flat[i] = min(max(v, low), high)
	}
	return tensors.FromFlatDataAndDimensions(flat, tensor.Shape().Dimensions...), nil
}

// Normalize standardizes a rank-3 Float32 tensor per channel:
// (x - mean[c]) / std[c]. Format selects the channel axis: "HWC" (ToTensor
// output) or "CHW" (after ToCHW).
type Normalize struct {
	Mean   []float64
	Std    []float64
	Format string
}

// NewNormalize validates the per-channel statistics.
func NewNormalize(mean, std []float64, format string) (*Normalize, error) {
	if len(mean) == 0 || len(std) != len(mean) {
		return nil, errors.Wrapf(ErrInvalidParams, "Normalize mean and std must be non-empty and of equal length, got %d and %d", len(mean), len(std))
	}
	for _, s := range std {
		if s == 0 {
			return nil, errors.Wrap(ErrInvalidParams, "Normalize std must not contain zeros")
		}
	}
	if format != "HWC" && format != "CHW" {
		return nil, errors.Wrapf(ErrInvalidParams, "Normalize format %q must be HWC or CHW", format)
	}
	return &Normalize{Mean: mean, Std: std, Format: format}, nil
}

// Name implements Transform.
func (n *Normalize) Name() string { return "Normalize" }

// Apply implements Transform.
func (n *Normalize) Apply(value any) (any, error) {
	tensor, err := asTensor(value)
	if err != nil {
		return nil, err
	}
	if tensor.DType() != dtypes.Float32 {
		return nil, errors.Errorf("Normalize: unsupported dtype %s", tensor.DType())
	}
	if tensor.Rank() != 3 {
		return nil, errors.Errorf("Normalize: expected a rank-3 tensor, got shape %s", tensor.Shape())
	}
	dims := tensor.Shape().Dimensions
	channelAxis := 2
	if n.Format == "CHW" {
		channelAxis = 0
	}
	channels := dims[channelAxis]
	if channels != len(n.Mean) {
		return nil, errors.Errorf("Normalize: tensor has %d channels (%s), but %d mean/std values given", channels, n.Format, len(n.Mean))
	}

	flat := tensors.CopyFlatData[float32](tensor)
	if n.Format == "HWC" {
		for i := range flat {
			c := i % channels
			flat[i] = (flat[i] - float32(n.Mean[c])) / float32(n.Std[c])
		}
	} else {
		planeSize := dims[1] * dims[2]
		for i := range flat {
			c := i / planeSize
			flat[i] = (flat[i] - float32(n.Mean[c])) / float32(n.Std[c])
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, dims...), nil
}

// dtypeFromString maps the dtype names used in configurations.
func dtypeFromString(name string) (dtypes.DType, error) {
	switch name {
	case "", "float32":
		return dtypes.Float32, nil
	case "float64":
		return dtypes.Float64, nil
	case "uint8":
		return dtypes.Uint8, nil
	default:
		return dtypes.InvalidDType, errors.Wrapf(ErrInvalidParams, "unsupported dtype %q", name)
	}
}

func init() {
	MustRegister("ToTensor", func(params Params) (Transform, error) {
		cfg := struct {
			DType string `mapstructure:"dtype"`
		}{}
		if err := decodeParamsInto(params, &cfg); err != nil {
			return nil, err
		}
		dtype, err := dtypeFromString(cfg.DType)
		if err != nil {
			return nil, err
		}
		return NewToTensor(dtype), nil
	})
	MustRegister("ToCHW", func(params Params) (Transform, error) {
		if err := decodeParamsInto(params, &struct{}{}); err != nil {
			return nil, err
		}
		return &ToCHW{}, nil
	})
	// "Transpose" is the historical alias for the channel-first conversion.
	MustRegister("Transpose", func(params Params) (Transform, error) {
		if err := decodeParamsInto(params, &struct{}{}); err != nil {
			return nil, err
		}
		return &ToCHW{}, nil
	})
	MustRegister("NormToOne", func(params Params) (Transform, error) {
		if err := decodeParamsInto(params, &struct{}{}); err != nil {
			return nil, err
		}
		return &NormToOne{}, nil
	})
	MustRegister("Clip", func(params Params) (Transform, error) {
		cfg := Clip{Min: 0, Max: 1}
		if err := decodeParamsInto(params, &cfg); err != nil {
			return nil, err
		}
		if cfg.Min > cfg.Max {
			return nil, errors.Wrapf(ErrInvalidParams, "Clip min_val=%g > max_val=%g", cfg.Min, cfg.Max)
		}
		return &cfg, nil
	})
	MustRegister("Normalize", func(params Params) (Transform, error) {
		cfg := struct {
			Mean   []float64 `mapstructure:"mean"`
			Std    []float64 `mapstructure:"std"`
			Format string    `mapstructure:"data_format"`
		}{Mean: ImageNetDefaultMean, Std: ImageNetDefaultStd, Format: "HWC"}
		if err := decodeParamsInto(params, &cfg); err != nil {
			return nil, err
		}
		return NewNormalize(cfg.Mean, cfg.Std, cfg.Format)
	})
}
