package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/imalyk/squnch/pkg/compress"
)

type errorBody struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respondError maps the service error taxonomy onto status codes. Internal
// errors are logged and answered with a generic message.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var (
		verr *compress.ValidationError
		cerr *compress.CodecError
	)
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, errorBody{Error: verr.Message})
	case errors.Is(err, errBodyTooLarge):
		respondJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: err.Error()})
	case errors.Is(err, compress.ErrNotFound):
		respondJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
	case errors.Is(err, compress.ErrNotReady):
		respondJSON(w, http.StatusConflict, errorBody{Error: "File not ready for download"})
	case errors.Is(err, compress.ErrConflict):
		respondJSON(w, http.StatusConflict, errorBody{Error: compress.ErrConflict.Error()})
	case errors.As(err, &cerr):
		h.logger.Error("compression failed", "error", err)
		respondJSON(w, http.StatusInternalServerError, errorBody{Error: cerr.Error()})
	default:
		h.logger.Error("request failed", "error", err)
		respondJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}
