package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/siterisk/internal/overlay"
	"github.com/sells-group/siterisk/internal/polygon"
)

// errBadRequest marks request bodies that could not be decoded.
var errBadRequest = eris.New("bad request")

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.String("component", "api"), zap.Error(err))
	}
}

// statusFor maps an error to the HTTP status reported to the client.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case eris.Is(err, errBadRequest),
		eris.Is(err, polygon.ErrInvalidPolygon),
		eris.Is(err, overlay.ErrInvalidArgument):
		return http.StatusBadRequest
	case eris.Is(err, overlay.ErrLayerNotFound):
		return http.StatusNotFound
	case eris.Is(err, overlay.ErrCatalogUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	fields := []zap.Field{
		zap.String("component", "api"),
		zap.String("request_id", RequestID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed", fields...)
	} else {
		zap.L().Debug("request rejected", fields...)
	}
	writeJSON(w, status, errorResponse{Success: false, Error: err.Error()})
}

// decodeBody reads a JSON request body into dst. An empty body decodes as {}.
func decodeBody(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	body := r.Body
	if maxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return eris.Wrapf(err, "request body exceeds %d bytes", maxErr.Limit)
		}
		return eris.Wrapf(errBadRequest, "invalid JSON body: %v", err)
	}
	return nil
}
