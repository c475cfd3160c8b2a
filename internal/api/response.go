package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/khuang/chronosync/internal/errors"
	"github.com/khuang/chronosync/internal/models"
)

// envelope is the wire shape of every response.
type envelope struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
	Timestamp string     `json:"timestamp"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	env.Timestamp = models.Timestamp(time.Now())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	writeJSON(w, statusForCode(code), envelope{
		Success: false,
		Error:   &errorBody{Code: string(code), Message: err.Error()},
	})
}

func statusForCode(code errors.ErrorCode) int {
	switch code {
	case errors.ErrUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrConflict:
		return http.StatusConflict
	case errors.ErrValidation:
		return http.StatusBadRequest
	case errors.ErrQuotaExceeded:
		return http.StatusTooManyRequests
	case errors.ErrNetwork, errors.ErrSyncFailed, errors.ErrCreateFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
