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
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Errors reported by the registry and the builder. Check them with errors.Is;
// the returned errors carry extra context about which transform was involved.
var (
	// ErrUnknownTransform means a configuration named a transform that was
	// never registered.
	ErrUnknownTransform = errors.New("unknown transform")

	// ErrDuplicateTransform means Register was called twice with the same
	// name. Registration always fails loudly: silently shadowing an entry of
	// the process-wide catalogue is a correctness hazard.
	ErrDuplicateTransform = errors.New("transform name already registered")

	// ErrInvalidParams means a transform constructor rejected its parameters:
	// unknown keys, wrong types, or out-of-range values.
	ErrInvalidParams = errors.New("invalid transform parameters")
)

// Params holds the keyword configuration of one transform, everything in its
// spec record except the name.
type Params map[string]any

// Constructor instantiates a transform from its configuration parameters.
type Constructor func(params Params) (Transform, error)

// registeredConstructors is the process-wide catalogue. It is populated by
// Register calls during package initialization and read-only afterwards, a
// single-writer-then-many-readers discipline: all registrations must happen
// before any pipeline is built.
var registeredConstructors = make(map[string]Constructor)

// Register adds a named transform constructor to the catalogue.
//
// To be safe, call Register during initialization of a package. It fails with
// ErrDuplicateTransform if the name is taken.
func Register(name string, constructor Constructor) error {
	if name == "" {
		return errors.Wrap(ErrInvalidParams, "transform name must not be empty")
	}
	if _, found := registeredConstructors[name]; found {
		return errors.Wrapf(ErrDuplicateTransform, "transform %q", name)
	}
	registeredConstructors[name] = constructor
	return nil
}

// MustRegister is Register, panicking on error. Meant for init functions.
func MustRegister(name string, constructor Constructor) {
	if err := Register(name, constructor); err != nil {
		exceptions.Panicf("transforms.MustRegister(%q): %+v", name, err)
	}
}

// RegisterConfigType registers a constructor under a name derived from the
// config type C: its type name, with any trailing "Config" trimmed. Parameters
// are decoded into a C before build is called. Use it when the config struct
// is named after the transform; otherwise use Register with an explicit name.
func RegisterConfigType[C any](build func(cfg C) (Transform, error)) error {
	name := strings.TrimSuffix(reflect.TypeFor[C]().Name(), "Config")
	return Register(name, func(params Params) (Transform, error) {
		var cfg C
		if err := decodeParamsInto(params, &cfg); err != nil {
			return nil, errors.WithMessagef(err, "transform %q", name)
		}
		return build(cfg)
	})
}

// decodeParamsInto decodes params into the given config struct pointer, which
// may be pre-filled with defaults. Unknown keys and type mismatches are
// reported as ErrInvalidParams.
func decodeParamsInto(params Params, cfg any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "creating params decoder")
	}
	if err = decoder.Decode(map[string]any(params)); err != nil {
		return errors.Wrapf(ErrInvalidParams, "%v", err)
	}
	return nil
}

// decodeParams decodes params into a zero-valued C.
func decodeParams[C any](params Params) (cfg C, err error) {
	err = decodeParamsInto(params, &cfg)
	return
}

// Spec is a serializable description of one configured transform: a name that
// must resolve in the catalogue plus its keyword parameters.
//
// In YAML a spec is a mapping where every key except "name" is a parameter:
//
//	- name: GaussianBlur
//	  sigma: [0.1, 2.0]
type Spec struct {
	Name   string
	Params Params
}

// UnmarshalYAML implements yaml.Unmarshaler, splitting the "name" key from the
// parameters.
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	var fields map[string]any
	if err := node.Decode(&fields); err != nil {
		return errors.Wrap(err, "transform spec must be a mapping")
	}
	name, ok := fields["name"].(string)
	if !ok || name == "" {
		return errors.Wrap(ErrInvalidParams, `transform spec is missing a "name" key`)
	}
	delete(fields, "name")
	s.Name = name
	s.Params = fields
	return nil
}

// ParseSpecs reads a YAML list of transform specs, e.g. a pipeline section of
// a training configuration file.
func ParseSpecs(data []byte) ([]Spec, error) {
	var specs []Spec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, errors.Wrap(err, "parsing transforms configuration")
	}
	return specs, nil
}

// FromSpec builds one transform from a spec-like value:
//
//   - a Transform is returned unchanged (so pre-built transforms mix freely
//     with declarative entries in the same pipeline);
//   - a Spec (or *Spec) resolves its name in the catalogue and instantiates
//     it with its params;
//   - a map with a "name" key (as yielded by generic YAML/JSON decoding) is
//     converted to a Spec first.
func FromSpec(value any) (Transform, error) {
	switch v := value.(type) {
	case Transform:
		return v, nil
	case Spec:
		return fromSpec(v)
	case *Spec:
		return fromSpec(*v)
	case map[string]any:
		spec, err := specFromMap(v)
		if err != nil {
			return nil, err
		}
		return fromSpec(spec)
	default:
		return nil, errors.Wrapf(ErrInvalidParams, "cannot build a transform from a %T value", value)
	}
}

func specFromMap(fields map[string]any) (Spec, error) {
	name, ok := fields["name"].(string)
	if !ok || name == "" {
		return Spec{}, errors.Wrap(ErrInvalidParams, `transform record is missing a "name" key`)
	}
	params := make(Params, len(fields)-1)
	for key, value := range fields {
		if key == "name" {
			continue
		}
		params[key] = value
	}
	return Spec{Name: name, Params: params}, nil
}

func fromSpec(spec Spec) (Transform, error) {
	constructor, found := registeredConstructors[spec.Name]
	if !found {
		return nil, errors.Wrapf(ErrUnknownTransform, "transform %q", spec.Name)
	}
	t, err := constructor(spec.Params)
	if err != nil {
		return nil, errors.WithMessagef(err, "building transform %q", spec.Name)
	}
	return t, nil
}

// FromSpecs builds a pipeline from an ordered list of spec-like values (see
// FromSpec), preserving order. It fails fast on the first element that fails
// to build: no partial pipeline is ever returned.
func FromSpecs[S any](specs []S) (*Compose, error) {
	stages := make([]Transform, 0, len(specs))
	for i, spec := range specs {
		t, err := FromSpec(spec)
		if err != nil {
			return nil, errors.WithMessagef(err, "pipeline element #%d", i)
		}
		stages = append(stages, t)
	}
	return NewCompose(stages...), nil
}
