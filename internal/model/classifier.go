// Package model loads an ONNX image classifier and runs forward passes on a
// fixed pool of sessions.
package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Brownie44l1/classify-api/internal/config"
	"github.com/Brownie44l1/classify-api/internal/preprocess"
)

var (
	// ErrModelUnavailable means no model is loaded or it is shutting down.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrInference means the forward pass failed or returned something unusable.
	ErrInference = errors.New("inference failed")
)

type runner interface {
	run(input []float32) ([]float32, error)
	destroy()
}

// Classifier is safe for concurrent use. At most len(runners) forward
// passes run at once; further callers wait for a free runner.
type Classifier struct {
	info   Info
	labels Labels

	pool    chan runner
	runners int
	quit    chan struct{}
	once    sync.Once

	inputLen  int
	outputLen int

	log     *zap.Logger
	release func()
}

func newClassifier(info Info, labels Labels, runners []runner, inputLen, outputLen int, log *zap.Logger) *Classifier {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Classifier{
		info:      info,
		labels:    labels,
		pool:      make(chan runner, len(runners)),
		runners:   len(runners),
		quit:      make(chan struct{}),
		inputLen:  inputLen,
		outputLen: outputLen,
		log:       log,
	}
	for _, r := range runners {
		c.pool <- r
	}
	return c
}

// Load reads the metadata, resolves the backbone and opens cfg.Workers
// sessions over the weights at cfg.Path.
func Load(cfg config.ModelConfig, log *zap.Logger) (*Classifier, error) {
	metadata, err := LoadMetadata(cfg.Metadata)
	if err != nil {
		return nil, err
	}

	backbone, err := ResolveBackbone(cfg, metadata)
	if err != nil {
		return nil, err
	}

	in, out, err := checkShapes(backbone, metadata)
	if err != nil {
		return nil, err
	}

	if err := initEnvironment(cfg); err != nil {
		return nil, err
	}

	runners, device, err := newONNXRunners(cfg, in, out, log)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, err
	}

	outputLen := volume(out)
	info := Info{
		Name:          backbone.Name,
		Backbone:      backbone.Key,
		Framework:     "ONNX Runtime",
		Device:        device,
		InputShape:    in,
		OutputClasses: outputLen,
		Normalization: backbone.Input.Scheme,
		Activation:    backbone.Activation,
		Loaded:        true,
		Input:         backbone.Input,
	}
	labels := NewLabels(metadata.Classes, metadata.ClassIDs)
	if labels.Len() != outputLen {
		log.Warn("label table does not match output size",
			zap.Int("labels", labels.Len()), zap.Int("outputs", outputLen))
	}

	log.Info("model loaded",
		zap.String("backbone", info.Backbone),
		zap.String("path", cfg.Path),
		zap.String("device", device),
		zap.Int64s("input_shape", in),
		zap.Int("classes", outputLen),
		zap.Int("workers", len(runners)))

	c := newClassifier(info, labels, runners, volume(in), outputLen, log)
	c.release = func() { _ = ort.DestroyEnvironment() }
	return c, nil
}

// Info describes the loaded model. A nil classifier reports Loaded false.
func (c *Classifier) Info() Info {
	if c == nil {
		return Info{Framework: "ONNX Runtime"}
	}
	return c.info
}

func (c *Classifier) Labels() Labels {
	if c == nil {
		return Labels{}
	}
	return c.labels
}

func (c *Classifier) Loaded() bool {
	if c == nil {
		return false
	}
	select {
	case <-c.quit:
		return false
	default:
		return true
	}
}

type result struct {
	scores []float32
	err    error
}

// Predict runs one forward pass and returns the raw output scores. If ctx
// ends while the pass is running the call returns ctx.Err() and the result
// is discarded once the pass completes.
func (c *Classifier) Predict(ctx context.Context, t *preprocess.Tensor) ([]float32, error) {
	if c == nil {
		return nil, ErrModelUnavailable
	}
	if t == nil || len(t.Data) != c.inputLen {
		n := 0
		if t != nil {
			n = len(t.Data)
		}
		return nil, errors.Wrapf(ErrInference, "expected %d input values, got %d", c.inputLen, n)
	}

	var r runner
	select {
	case <-c.quit:
		return nil, ErrModelUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	case r = <-c.pool:
	}

	done := make(chan result, 1)
	go func() {
		defer func() { c.pool <- r }()
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: errors.Wrap(ErrInference, fmt.Sprint(p))}
			}
		}()
		scores, err := r.run(t.Data)
		if err != nil {
			err = errors.Wrap(ErrInference, err.Error())
		}
		done <- result{scores: scores, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		if len(res.scores) != c.outputLen {
			return nil, errors.Wrapf(ErrInference, "expected %d outputs, got %d", c.outputLen, len(res.scores))
		}
		return res.scores, nil
	}
}

// Close stops new predictions, waits for the in-flight ones and destroys
// every session. It is safe to call more than once.
func (c *Classifier) Close() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		close(c.quit)
		for i := 0; i < c.runners; i++ {
			r := <-c.pool
			r.destroy()
		}
		if c.release != nil {
			c.release()
		}
		c.log.Info("model closed", zap.String("backbone", c.info.Backbone))
	})
}
