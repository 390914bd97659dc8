package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"bustrack/internal/apperr"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
	Field  string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps err to its HTTP status. Errors without a domain code are
// logged and reported as internal.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "internal server error", Code: string(apperr.CodeInternal)})
		return
	}
	if appErr.Code == apperr.CodeInternal || appErr.Code == apperr.CodeUnavailable {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", appErr.Code, "err", err)
	}
	writeJSON(w, appErr.Code.HTTPStatus(), errorBody{
		Detail: appErr.Message,
		Code:   string(appErr.Code),
		Field:  appErr.Field,
	})
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apperr.New(apperr.CodeInvalidArgument, "request body is required")
		case errors.As(err, &maxErr):
			return apperr.New(apperr.CodeInvalidArgument, fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		default:
			return apperr.Wrap(apperr.CodeInvalidArgument, "malformed JSON body", err)
		}
	}
	return nil
}
