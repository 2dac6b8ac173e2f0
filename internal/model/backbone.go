package model

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/Brownie44l1/classify-api/internal/config"
	"github.com/Brownie44l1/classify-api/internal/preprocess"
	"github.com/Brownie44l1/classify-api/internal/ranking"
)

// Backbone describes how a network family wants its input and how its output reads.
type Backbone struct {
	Key        string
	Name       string
	Input      preprocess.Spec
	Activation ranking.Activation
}

var backbones = map[string]Backbone{
	"mobilenet_v2": {
		Key:        "mobilenet_v2",
		Name:       "MobileNetV2",
		Input:      preprocess.Spec{Size: 224, Scheme: preprocess.SchemeSymmetric, Layout: preprocess.NHWC},
		Activation: ranking.Probabilities,
	},
	"resnet18": {
		Key:        "resnet18",
		Name:       "ResNet-18",
		Input:      preprocess.Spec{Size: 224, ResizeShort: 256, Scheme: preprocess.SchemeImageNet, Layout: preprocess.NCHW},
		Activation: ranking.Logits,
	},
	"resnet50": {
		Key:        "resnet50",
		Name:       "ResNet-50",
		Input:      preprocess.Spec{Size: 224, ResizeShort: 256, Scheme: preprocess.SchemeImageNet, Layout: preprocess.NCHW},
		Activation: ranking.Logits,
	},
	// size comes from the metadata image_size
	"fer": {
		Key:        "fer",
		Name:       "FER",
		Input:      preprocess.Spec{Scheme: preprocess.SchemeUnit, Layout: preprocess.NCHW},
		Activation: ranking.Logits,
	},
}

func Backbones() []string {
	keys := make([]string, 0, len(backbones))
	for k := range backbones {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ResolveBackbone picks the catalog entry named by cfg.Backbone and applies
// the config overrides and the metadata image size on top of it.
func ResolveBackbone(cfg config.ModelConfig, metadata Metadata) (Backbone, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Backbone))
	b, ok := backbones[key]
	if !ok {
		return Backbone{}, fmt.Errorf("unknown backbone %q, expected one of %s", cfg.Backbone, strings.Join(Backbones(), ", "))
	}

	if b.Input.Size == 0 {
		b.Input.Size = metadata.ImageSize
	}
	if cfg.ImageSize > 0 {
		b.Input.Size = cfg.ImageSize
	}
	if cfg.ResizeShort > 0 {
		b.Input.ResizeShort = cfg.ResizeShort
	}
	if cfg.Normalization != "" {
		scheme, err := preprocess.ParseScheme(cfg.Normalization)
		if err != nil {
			return Backbone{}, err
		}
		b.Input.Scheme = scheme
	}
	if cfg.Layout != "" {
		layout, err := preprocess.ParseLayout(cfg.Layout)
		if err != nil {
			return Backbone{}, err
		}
		b.Input.Layout = layout
	}
	switch a := ranking.Activation(strings.ToLower(cfg.Activation)); a {
	case "":
	case ranking.Logits, ranking.Probabilities:
		b.Activation = a
	default:
		return Backbone{}, fmt.Errorf("unknown output activation %q", cfg.Activation)
	}

	if err := b.Input.Validate(); err != nil {
		return Backbone{}, fmt.Errorf("backbone %s: %w", b.Key, err)
	}
	return b, nil
}

// inputShape is the tensor shape for one image in the backbone's layout.
func (b Backbone) inputShape() []int64 {
	t := preprocess.Tensor{Layout: b.Input.Layout, Height: b.Input.Size, Width: b.Input.Size}
	return t.Shape()
}

func volume(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return int(n)
}

// fixBatch returns shape with a dynamic leading batch dimension (-1 or 0)
// pinned to a single image.
func fixBatch(shape []int64) []int64 {
	if len(shape) == 0 {
		return nil
	}
	fixed := append([]int64(nil), shape...)
	if fixed[0] <= 0 {
		fixed[0] = 1
	}
	return fixed
}

// checkShapes makes sure the metadata agrees with the backbone before any
// session is created, so a mismatch fails at start-up instead of per request.
// Only the batch dimension may be dynamic; every other dimension must match
// the backbone's layout exactly.
func checkShapes(b Backbone, metadata Metadata) (in, out []int64, err error) {
	in = b.inputShape()
	if len(metadata.InputShape) > 0 {
		declared := fixBatch(metadata.InputShape)
		if !slices.Equal(declared, in) {
			return nil, nil, fmt.Errorf("metadata input shape %v does not match %s input %v", metadata.InputShape, b.Key, in)
		}
	}

	out = fixBatch(metadata.OutputShape)
	if len(out) == 0 {
		out = []int64{1, int64(len(metadata.Classes))}
	}
	if volume(out) <= 0 {
		return nil, nil, fmt.Errorf("model declares no output classes")
	}
	return in, out, nil
}
