package handlers

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Brownie44l1/classify-api/internal/logger"
	"github.com/Brownie44l1/classify-api/internal/pipeline"
	"github.com/Brownie44l1/classify-api/internal/upload"
)

var errNoFile = errors.New("no file uploaded")

type Handler struct {
	service   *pipeline.Service
	maxMemory int64
	version   string
	log       *zap.Logger
}

func NewHandler(service *pipeline.Service, maxMemory int64, version string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		service:   service,
		maxMemory: maxMemory,
		version:   version,
		log:       log,
	}
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Image Classification API",
		"status":  "running",
		"version": h.version,
		"endpoints": map[string]string{
			"health":     "GET /health",
			"model_info": "GET /model/info",
			"predict":    "POST /predict",
			"batch":      "POST /predict/batch",
			"metrics":    "GET /metrics",
		},
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	info := h.service.Info()
	status := "healthy"
	if !h.service.Loaded() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"model_loaded": h.service.Loaded(),
		"model_name":   info.Name,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"framework":    info.Framework,
	})
}

func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	info := h.service.Info()
	info.Loaded = h.service.Loaded()
	writeJSON(w, http.StatusOK, info)
}

type predictResponse struct {
	Success bool `json:"success"`
	*pipeline.Result
}

// Predict classifies the image in the multipart field "file". The older
// field name "image" is still accepted.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxMemory); err != nil {
		h.writeError(w, r, invalidForm(err))
		return
	}

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["image"]
	}
	if len(headers) == 0 {
		h.writeError(w, r, &upload.ValidationError{Cause: errNoFile, Message: "No file uploaded"})
		return
	}

	f, err := readFile(headers[0])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.service.Classify(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, predictResponse{Success: true, Result: result})
}

type batchResponse struct {
	Success bool `json:"success"`
	*pipeline.BatchResult
}

func (h *Handler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxMemory); err != nil {
		h.writeError(w, r, invalidForm(err))
		return
	}

	headers := r.MultipartForm.File["files"]
	if err := h.service.CheckBatch(len(headers)); err != nil {
		h.writeError(w, r, err)
		return
	}

	files := make([]upload.File, 0, len(headers))
	for _, fh := range headers {
		f, err := readFile(fh)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		files = append(files, f)
	}

	result, err := h.service.ClassifyBatch(r.Context(), files)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{Success: true, BatchResult: result})
}

func readFile(fh *multipart.FileHeader) (upload.File, error) {
	file, err := fh.Open()
	if err != nil {
		return upload.File{}, errors.Wrapf(err, "open upload %s", fh.Filename)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return upload.File{}, errors.Wrapf(err, "read upload %s", fh.Filename)
	}
	return upload.File{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func invalidForm(err error) error {
	return &upload.ValidationError{Cause: err, Message: "Expected a multipart/form-data upload"}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	failure := pipeline.Describe(err, h.service.Debug())
	// classification failures are logged by the service
	if failure.Kind == pipeline.KindInternal {
		logger.FromContext(r.Context(), h.log).Error("request failed",
			zap.String("path", r.URL.Path), zap.String("kind", string(failure.Kind)), zap.Error(err))
	}
	writeJSON(w, failure.Kind.Status(), failure)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
