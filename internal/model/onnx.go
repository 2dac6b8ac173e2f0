package model

import (
	"fmt"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/Brownie44l1/classify-api/internal/config"
)

// onnxRunner is one AdvancedSession with its input and output tensors bound.
// A runner is never used by two goroutines at once; the pool hands it out.
type onnxRunner struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func newONNXRunner(cfg config.ModelConfig, in, out []int64, opts *ort.SessionOptions) (*onnxRunner, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(in...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(out...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.Path,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		opts)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &onnxRunner{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (r *onnxRunner) run(input []float32) ([]float32, error) {
	copy(r.inputTensor.GetData(), input)

	if err := r.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	// the output buffer is reused by the next run
	data := r.outputTensor.GetData()
	scores := make([]float32, len(data))
	copy(scores, data)
	return scores, nil
}

func (r *onnxRunner) destroy() {
	if r.inputTensor != nil {
		r.inputTensor.Destroy()
	}
	if r.outputTensor != nil {
		r.outputTensor.Destroy()
	}
	if r.session != nil {
		r.session.Destroy()
	}
}

func initEnvironment(cfg config.ModelConfig) error {
	if ort.IsInitialized() {
		return nil
	}
	if cfg.Library != "" {
		ort.SetSharedLibraryPath(cfg.Library)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// sessionOptions returns the options for the configured accelerator and the
// device name they resolve to. With accelerator "auto" a missing CUDA
// provider falls back to the CPU.
func sessionOptions(cfg config.ModelConfig, log *zap.Logger) (*ort.SessionOptions, string, error) {
	accel := strings.ToLower(cfg.Accelerator)
	if accel == "cpu" {
		return nil, "cpu", nil
	}

	opts, err := cudaOptions()
	if err == nil {
		return opts, "cuda", nil
	}
	if accel == "cuda" {
		return nil, "", err
	}
	log.Warn("CUDA unavailable, falling back to CPU", zap.Error(err))
	return nil, "cpu", nil
}

func cudaOptions() (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to create CUDA provider options: %w", err)
	}
	defer cuda.Destroy()

	if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("failed to enable CUDA provider: %w", err)
	}
	return opts, nil
}

// newONNXRunners creates n sessions on the given options. When a CUDA
// session fails to build under "auto", every runner is rebuilt on the CPU.
func newONNXRunners(cfg config.ModelConfig, in, out []int64, log *zap.Logger) ([]runner, string, error) {
	opts, device, err := sessionOptions(cfg, log)
	if err != nil {
		return nil, "", err
	}

	runners, err := buildRunners(cfg, in, out, opts)
	if opts != nil {
		opts.Destroy()
	}
	if err != nil && device == "cuda" && strings.ToLower(cfg.Accelerator) == "auto" {
		log.Warn("CUDA session failed, retrying on CPU", zap.Error(err))
		device = "cpu"
		runners, err = buildRunners(cfg, in, out, nil)
	}
	if err != nil {
		return nil, "", err
	}
	return runners, device, nil
}

func buildRunners(cfg config.ModelConfig, in, out []int64, opts *ort.SessionOptions) ([]runner, error) {
	runners := make([]runner, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		r, err := newONNXRunner(cfg, in, out, opts)
		if err != nil {
			for _, built := range runners {
				built.destroy()
			}
			return nil, err
		}
		runners = append(runners, r)
	}
	return runners, nil
}
