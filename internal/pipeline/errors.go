package pipeline

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"github.com/Brownie44l1/classify-api/internal/decoder"
	"github.com/Brownie44l1/classify-api/internal/model"
	"github.com/Brownie44l1/classify-api/internal/preprocess"
	"github.com/Brownie44l1/classify-api/internal/upload"
)

var (
	ErrBatchTooLarge = errors.New("batch too large")
	ErrNoFiles       = errors.New("no files provided")
)

// Kind is the client-visible category of a failure.
type Kind string

const (
	KindValidation       Kind = "validation_error"
	KindDecode           Kind = "decode_error"
	KindPreprocess       Kind = "preprocess_error"
	KindInference        Kind = "inference_error"
	KindModelUnavailable Kind = "model_unavailable"
	KindBatchTooLarge    Kind = "batch_too_large"
	KindTimeout          Kind = "timeout"
	KindInternal         Kind = "internal_error"
)

// KindOf classifies err by the sentinel it wraps.
func KindOf(err error) Kind {
	var ve *upload.ValidationError
	switch {
	case errors.Is(err, ErrBatchTooLarge):
		return KindBatchTooLarge
	case errors.As(err, &ve):
		return KindValidation
	case errors.Is(err, decoder.ErrDecode):
		return KindDecode
	case errors.Is(err, preprocess.ErrPreprocess):
		return KindPreprocess
	case errors.Is(err, model.ErrModelUnavailable):
		return KindModelUnavailable
	case errors.Is(err, model.ErrInference):
		return KindInference
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindInternal
	}
}

func (k Kind) Status() int {
	switch k {
	case KindValidation, KindDecode, KindBatchTooLarge:
		return http.StatusBadRequest
	case KindModelUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ClientError reports whether the failure was caused by the request itself.
func (k Kind) ClientError() bool {
	return k.Status() < http.StatusInternalServerError
}

// Failure is the error body returned to clients.
type Failure struct {
	Success bool   `json:"success"`
	Kind    Kind   `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Describe builds the client payload for err. Client errors carry their own
// message; server errors get a generic one, plus the cause when debug is on.
func Describe(err error, debug bool) Failure {
	kind := KindOf(err)
	f := Failure{Kind: kind, Message: message(kind, err)}
	if debug && !kind.ClientError() {
		f.Detail = err.Error()
	}
	return f
}

func message(kind Kind, err error) string {
	var ve *upload.ValidationError
	var de *decoder.DecodeError
	switch kind {
	case KindValidation, KindBatchTooLarge:
		if errors.As(err, &ve) {
			return ve.Message
		}
		return err.Error()
	case KindDecode:
		if errors.As(err, &de) {
			return de.Error()
		}
		return fmt.Sprintf("Could not read image file: %v", err)
	case KindPreprocess:
		return "Failed to prepare image for the model"
	case KindInference:
		return "Model prediction failed"
	case KindModelUnavailable:
		return "Model not available. Please try again later."
	case KindTimeout:
		return "Request timed out"
	default:
		return "Internal server error"
	}
}
