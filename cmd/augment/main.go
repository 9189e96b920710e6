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

// augment applies a YAML-declared augmentation pipeline to image files, a
// quick way to eyeball what a training configuration will do to the data.
//
// Example:
//
//	augment -config pipeline.yaml -out /tmp/augmented -repeats 4 img1.jpg img2.png
//
// Each input image is augmented -repeats times and every result is saved as
// <out>/<name>_<i>.png.
package main

import (
	"flag"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gomlx/augment/transforms"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gomlx/types/tensors/images"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagConfig  = flag.String("config", "", "YAML file with the list of transform specs to apply, in order.")
	flagOut     = flag.String("out", ".", "Directory where augmented images are saved.")
	flagRepeats = flag.Int("repeats", 1, "Number of independently augmented copies to generate per input image.")
)

func main() {
	flag.Parse()

	if *flagConfig == "" {
		klog.Errorf("Missing -config with the pipeline definition. See 'augment -help'.")
		os.Exit(1)
	}
	inputs := flag.Args()
	if len(inputs) == 0 {
		klog.Errorf("No input images given. See 'augment -help'.")
		os.Exit(1)
	}

	specs := must.M1(transforms.ParseSpecs(must.M1(os.ReadFile(*flagConfig))))
	pipeline := must.M1(transforms.FromSpecs(specs))
	must.M(os.MkdirAll(*flagOut, 0755))

	bar := progressbar.Default(int64(len(inputs) * *flagRepeats), "augmenting")
	for _, inputPath := range inputs {
		img := must.M1(imaging.Open(inputPath))
		base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
		for i := 0; i < *flagRepeats; i++ {
			value := must.M1(pipeline.Apply(img))
			outPath := filepath.Join(*flagOut, fmt.Sprintf("%s_%d.png", base, i))
			must.M(imaging.Save(asImage(value), outPath))
			_ = bar.Add(1)
		}
	}
}

// asImage converts a pipeline result back to an image, undoing a tensor-stage
// ending if needed.
func asImage(value any) image.Image {
	switch v := value.(type) {
	case image.Image:
		return v
	case *tensors.Tensor:
		return images.ToImage().Single(v)
	default:
		klog.Fatalf("pipeline produced unsupported value type %T", value)
		return nil
	}
}
