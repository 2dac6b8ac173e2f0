// Package pipeline runs uploads through validation, decoding, preprocessing,
// inference and formatting, one image at a time or as a bounded batch.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/classify-api/internal/cache"
	"github.com/Brownie44l1/classify-api/internal/config"
	"github.com/Brownie44l1/classify-api/internal/decoder"
	"github.com/Brownie44l1/classify-api/internal/logger"
	"github.com/Brownie44l1/classify-api/internal/metrics"
	"github.com/Brownie44l1/classify-api/internal/model"
	"github.com/Brownie44l1/classify-api/internal/preprocess"
	"github.com/Brownie44l1/classify-api/internal/ranking"
	"github.com/Brownie44l1/classify-api/internal/response"
	"github.com/Brownie44l1/classify-api/internal/upload"
)

// Classifier is the model the service drives. *model.Classifier implements it.
type Classifier interface {
	Info() model.Info
	Labels() model.Labels
	Loaded() bool
	Predict(ctx context.Context, t *preprocess.Tensor) ([]float32, error)
}

// Result is one successful classification.
type Result struct {
	Filename       string                `json:"filename"`
	Predictions    []response.Prediction `json:"predictions"`
	Summary        *response.Summary     `json:"confidence_stats,omitempty"`
	ProcessingTime float64               `json:"processing_time"`
	Model          string                `json:"model"`
	ImageSize      [2]int                `json:"image_size"`
}

// BatchItem is the outcome of one file of a batch. Exactly one of
// Predictions and Error is set.
type BatchItem struct {
	Filename    string                `json:"filename"`
	Success     bool                  `json:"success"`
	Predictions []response.Prediction `json:"predictions,omitempty"`
	Summary     *response.Summary     `json:"confidence_stats,omitempty"`
	Kind        Kind                  `json:"error_type,omitempty"`
	Error       string                `json:"error,omitempty"`
}

type BatchResult struct {
	TotalImages int         `json:"total_images"`
	Results     []BatchItem `json:"results"`
}

type Service struct {
	classifier  Classifier
	validator   upload.Validator
	topK        int
	timeout     time.Duration
	maxBatch    int
	concurrency int
	debug       bool

	cache   *cache.Cache[Result]
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewService wires a classifier to the pipeline settings of cfg. classifier
// may be nil or unloaded, in which case every prediction fails with
// ErrModelUnavailable. m may be nil.
func NewService(cfg *config.AppConfig, classifier Classifier, m *metrics.Metrics, log *zap.Logger) (*Service, error) {
	results, err := cache.New[Result](cfg.Cache.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	concurrency := cfg.Batch.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{
		classifier:  classifier,
		validator:   upload.Validator{MaxSize: cfg.Upload.MaxFileSize},
		topK:        cfg.Pipeline.TopK,
		timeout:     cfg.Pipeline.Timeout,
		maxBatch:    cfg.Batch.MaxItems,
		concurrency: concurrency,
		debug:       cfg.Server.Debug,
		cache:       results,
		metrics:     m,
		log:         log,
	}, nil
}

func (s *Service) Loaded() bool {
	return s.classifier != nil && s.classifier.Loaded()
}

func (s *Service) Info() model.Info {
	if s.classifier == nil {
		return (*model.Classifier)(nil).Info()
	}
	return s.classifier.Info()
}

func (s *Service) Debug() bool { return s.debug }

// Classify runs the full pipeline for one upload.
func (s *Service) Classify(ctx context.Context, f upload.File) (*Result, error) {
	start := time.Now()
	log := logger.FromContext(ctx, s.log).With(zap.String("filename", f.Filename))

	res, err := s.classify(ctx, f, start)
	elapsed := time.Since(start)
	if err != nil {
		kind := KindOf(err)
		s.metrics.Observe(string(kind), elapsed)
		if kind.ClientError() {
			log.Warn("classification rejected", zap.String("kind", string(kind)), zap.Error(err))
		} else {
			log.Error("classification failed", zap.String("kind", string(kind)), zap.Error(err))
		}
		return nil, err
	}

	s.metrics.Observe("success", elapsed)
	if len(res.Predictions) > 0 {
		top := res.Predictions[0]
		log.Info("prediction",
			zap.String("class", top.Class),
			zap.Float64("confidence", top.Confidence),
			zap.Float64("processing_time", res.ProcessingTime))
	}
	return res, nil
}

func (s *Service) classify(ctx context.Context, f upload.File, start time.Time) (*Result, error) {
	if !s.Loaded() {
		return nil, model.ErrModelUnavailable
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.validator.Validate(f); err != nil {
		return nil, err
	}

	key := cache.Key(f.Data, s.topK)
	if cached, ok := s.cache.Get(key); ok {
		s.metrics.CacheHit()
		cached.Filename = f.Filename
		cached.ProcessingTime = seconds(time.Since(start))
		return &cached, nil
	}

	img, err := decoder.Decode(f.Data)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info := s.classifier.Info()
	tensor, err := preprocess.Run(img, info.Input)
	if err != nil {
		return nil, err
	}

	inferStart := time.Now()
	scores, err := s.classifier.Predict(ctx, tensor)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveInference(time.Since(inferStart))

	k := s.topK
	if k > len(scores) {
		k = len(scores)
	}
	_, top, err := ranking.Select(scores, k, info.Activation)
	if err != nil {
		return nil, errors.Wrap(model.ErrInference, err.Error())
	}

	preds := response.Format(top, s.classifier.Labels())
	res := Result{
		Filename:    f.Filename,
		Predictions: preds,
		Model:       info.Name,
		ImageSize:   [2]int{img.Width, img.Height},
	}
	if summary, ok := response.Summarize(preds); ok {
		res.Summary = &summary
	}
	s.cache.Add(key, res)

	res.ProcessingTime = seconds(time.Since(start))
	return &res, nil
}

// ClassifyBatch classifies files concurrently. Per-file failures are
// reported in the matching BatchItem; only an empty or oversized batch
// fails the call.
func (s *Service) ClassifyBatch(ctx context.Context, files []upload.File) (*BatchResult, error) {
	if err := s.CheckBatch(len(files)); err != nil {
		return nil, err
	}

	items := make([]BatchItem, len(files))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, f := range files {
		g.Go(func() error {
			items[i] = s.batchItem(ctx, f)
			return nil
		})
	}
	_ = g.Wait()

	return &BatchResult{TotalImages: len(files), Results: items}, nil
}

// CheckBatch rejects a batch of n files before any of them is read.
func (s *Service) CheckBatch(n int) error {
	if n > s.maxBatch {
		return &upload.ValidationError{
			Cause:   ErrBatchTooLarge,
			Message: fmt.Sprintf("Maximum %d images allowed per batch", s.maxBatch),
		}
	}
	if n == 0 {
		return &upload.ValidationError{Cause: ErrNoFiles, Message: "No files provided"}
	}
	return nil
}

// batchItem classifies one file of a batch. A panic is contained to its own
// item: the errgroup goroutines are outside the HTTP recovery middleware.
func (s *Service) batchItem(ctx context.Context, f upload.File) (item BatchItem) {
	defer func() {
		if p := recover(); p != nil {
			logger.FromContext(ctx, s.log).Error("panic recovered in batch item",
				zap.String("filename", f.Filename), zap.Any("panic", p), zap.Stack("stack"))
			s.metrics.Observe(string(KindInternal), 0)
			item = BatchItem{Filename: f.Filename, Kind: KindInternal, Error: message(KindInternal, nil)}
		}
	}()

	res, err := s.Classify(ctx, f)
	if err != nil {
		failure := Describe(err, s.debug)
		msg := failure.Message
		if failure.Detail != "" {
			msg += ": " + failure.Detail
		}
		return BatchItem{Filename: f.Filename, Kind: failure.Kind, Error: msg}
	}
	return BatchItem{
		Filename:    f.Filename,
		Success:     true,
		Predictions: res.Predictions,
		Summary:     res.Summary,
	}
}

func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}
