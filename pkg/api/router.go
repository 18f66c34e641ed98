// Package api exposes the compression service over HTTP under /api.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/imalyk/squnch/pkg/analytics"
	"github.com/imalyk/squnch/pkg/compress"
	"github.com/imalyk/squnch/pkg/job"
	"github.com/imalyk/squnch/pkg/preset"
)

// formOverhead is the slack allowed on top of the file size limit for the
// multipart envelope and the text fields.
const formOverhead = 1 << 20

// Compressor is the part of compress.Service the handlers use.
type Compressor interface {
	SubmitImage(ctx context.Context, u compress.Upload) (compress.ImageResult, error)
	SubmitVideo(ctx context.Context, u compress.Upload) (compress.VideoAccepted, error)
	Progress(ctx context.Context, fileID string) (job.CompressionJob, error)
	OpenDownload(ctx context.Context, fileID string) (*compress.Artifact, error)
	StartBatch(ctx context.Context, fileCount int, totalSize int64) (job.BatchJob, error)
	BatchProgress(ctx context.Context, batchID string) (job.BatchJob, error)
	Presets() []preset.Preset
	AnalyticsSummary(ctx context.Context) (analytics.Summary, error)
}

type Handler struct {
	svc           Compressor
	logger        *slog.Logger
	maxImageBytes int64
	maxVideoBytes int64
}

func NewHandler(svc Compressor, logger *slog.Logger, maxImageBytes, maxVideoBytes int64) *Handler {
	return &Handler{svc: svc, logger: logger, maxImageBytes: maxImageBytes, maxVideoBytes: maxVideoBytes}
}

// Router builds the full HTTP handler including CORS and request logging.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(h.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.methodNotAllowed)

	r.HandleFunc("/api", h.index).Methods(http.MethodGet)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/", h.index).Methods(http.MethodGet)
	api.HandleFunc("/compress/image", h.compressImage).Methods(http.MethodPost)
	api.HandleFunc("/compress/video", h.compressVideo).Methods(http.MethodPost)
	api.HandleFunc("/compress/progress/{fileId}", h.progress).Methods(http.MethodGet)
	api.HandleFunc("/download/{fileId}", h.download).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/batch/start", h.startBatch).Methods(http.MethodPost)
	api.HandleFunc("/batch/progress/{batchId}", h.batchProgress).Methods(http.MethodGet)
	api.HandleFunc("/quality-presets", h.presets).Methods(http.MethodGet)
	api.HandleFunc("/analytics/summary", h.analyticsSummary).Methods(http.MethodGet)

	return cors(h.logRequests(r))
}

// cors answers preflight requests directly and decorates every response.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Expose-Headers",
			"Content-Disposition, X-Original-Size, X-Compressed-Size, X-Compression-Ratio, "+
				"X-Format-Changed, X-Output-Format, X-Processing-Time, X-Quality-Preset")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
