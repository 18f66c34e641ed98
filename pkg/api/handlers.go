package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/imalyk/squnch/pkg/compress"
)

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"message": "Squnch API Ready"})
}

func (h *Handler) compressImage(w http.ResponseWriter, r *http.Request) {
	u, cleanup, err := h.readUpload(w, r, h.maxImageBytes)
	if err != nil {
		h.respondError(w, err)
		return
	}
	defer cleanup()

	res, err := h.svc.SubmitImage(r.Context(), u)
	if err != nil {
		h.respondError(w, err)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", res.ContentType)
	hdr.Set("Content-Length", strconv.Itoa(len(res.Data)))
	hdr.Set("X-File-Id", res.FileID)
	hdr.Set("X-Original-Size", strconv.FormatInt(res.OriginalSize, 10))
	hdr.Set("X-Compressed-Size", strconv.FormatInt(res.CompressedSize, 10))
	hdr.Set("X-Compression-Ratio", strconv.Itoa(res.CompressionRatio))
	hdr.Set("X-Format-Changed", strconv.FormatBool(res.FormatChanged()))
	hdr.Set("X-Output-Format", res.OutputFormat)
	hdr.Set("X-Processing-Time", strconv.FormatInt(res.Duration.Milliseconds(), 10))
	hdr.Set("X-Quality-Preset", res.QualityPreset)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Data); err != nil {
		h.logger.Warn("failed to write image response", "file_id", res.FileID, "error", err)
	}
}

func (h *Handler) compressVideo(w http.ResponseWriter, r *http.Request) {
	u, cleanup, err := h.readUpload(w, r, h.maxVideoBytes)
	if err != nil {
		h.respondError(w, err)
		return
	}
	defer cleanup()

	accepted, err := h.svc.SubmitVideo(r.Context(), u)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		Message string `json:"message"`
		compress.VideoAccepted
	}{Message: "Video compression started", VideoAccepted: accepted})
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	j, err := h.svc.Progress(r.Context(), mux.Vars(r)["fileId"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	art, err := h.svc.OpenDownload(r.Context(), mux.Vars(r)["fileId"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	defer art.Close()

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`,
		art.Name, url.PathEscape(art.Name)))
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	http.ServeContent(rec, r, art.Name, art.ModTime, art)
	// HEAD, 304 and 416 responses carry no file body.
	if r.Method == http.MethodGet && rec.status < http.StatusMultipleChoices {
		art.Delivered()
	}
}

type startBatchRequest struct {
	FileCount int   `json:"fileCount"`
	TotalSize int64 `json:"totalSize"`
}

func (h *Handler) startBatch(w http.ResponseWriter, r *http.Request) {
	var req startBatchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	b, err := h.svc.StartBatch(r.Context(), req.FileCount, req.TotalSize)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (h *Handler) batchProgress(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.BatchProgress(r.Context(), mux.Vars(r)["batchId"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (h *Handler) presets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"presets": h.svc.Presets()})
}

func (h *Handler) analyticsSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.AnalyticsSummary(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
}

var errBodyTooLarge = errors.New("file too large")

// readUpload parses the multipart form and returns the "file" part along
// with the text fields. cleanup releases the form's temporary files.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request, limit int64) (compress.Upload, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit+formOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		// Some multipart paths flatten the error to its text.
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return compress.Upload{}, nil, fmt.Errorf("%w, maximum size is %d bytes", errBodyTooLarge, limit)
		}
		return compress.Upload{}, nil, &compress.ValidationError{Message: "failed to parse upload, expected multipart/form-data"}
	}
	cleanup := func() { _ = r.MultipartForm.RemoveAll() }

	u := compress.Upload{
		FileID:        r.FormValue("fileId"),
		QualityPreset: r.FormValue("qualityPreset"),
		BatchID:       r.FormValue("batchId"),
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		// Left nil so the service reports the missing file.
		return u, cleanup, nil
	}
	u.Body = file
	u.FileName = header.Filename
	u.ContentType = header.Header.Get("Content-Type")
	return u, closeAnd(file, cleanup), nil
}

func closeAnd(f multipart.File, next func()) func() {
	return func() {
		f.Close()
		next()
	}
}
