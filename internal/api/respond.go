package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/smukkama/heating-monitor/internal/logging"
	"github.com/smukkama/heating-monitor/internal/plug"
	"github.com/smukkama/heating-monitor/internal/protocol"
	"github.com/smukkama/heating-monitor/internal/readings"
	"github.com/smukkama/heating-monitor/internal/telemetry"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondData(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, protocol.Response{Success: true, Message: message, Data: data})
}

func respondList(w http.ResponseWriter, data interface{}, count int) {
	writeJSON(w, http.StatusOK, protocol.Response{Success: true, Data: data, Count: &count})
}

func respondError(w http.ResponseWriter, status int, message string, problems ...string) {
	writeJSON(w, status, protocol.Response{Success: false, Message: message, Errors: problems})
}

// decodeBody reads a JSON body of at most maxBodyBytes into v
func decodeBody(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return protocol.DecodeRequest(data, v)
}

// fail maps service errors to status codes. Anything unknown is a 500 and gets logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var plugErr *plug.ValidationError
	var readingErr *telemetry.ValidationError

	switch {
	case errors.As(err, &plugErr):
		respondError(w, http.StatusBadRequest, plugErr.Error())
	case errors.As(err, &readingErr):
		respondError(w, http.StatusBadRequest, "validation failed", readingErr.Problems...)
	case errors.Is(err, readings.ErrHoursOutOfRange),
		errors.Is(err, readings.ErrInvalidRange),
		errors.Is(err, readings.ErrEmptyBatch):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, plug.ErrAutoModeActive):
		respondError(w, http.StatusConflict, err.Error())
	default:
		logging.FromContext(r.Context(), h.log).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
