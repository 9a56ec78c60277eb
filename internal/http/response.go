package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_cart/selfcheckout/internal/catalog"
	"github.com/fjod/go_cart/selfcheckout/internal/service"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code,omitempty"`
	Details []string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string, details ...string) {
	respondJSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// handleServiceError converts engine and collaborator errors to HTTP status codes.
func handleServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		var httpStatus int
		switch svcErr.Kind {
		case service.KindNotFound:
			httpStatus = http.StatusNotFound
		case service.KindValidation:
			httpStatus = http.StatusBadRequest
		case service.KindInvalidSessionState:
			httpStatus = http.StatusConflict
		case service.KindForbidden:
			httpStatus = http.StatusForbidden
		default:
			httpStatus = http.StatusInternalServerError
		}
		respondError(w, httpStatus, svcErr.Kind.String(), svcErr.Message, svcErr.Fields...)
		return
	}

	switch {
	case errors.Is(err, catalog.ErrCatalogUnavailable):
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", "catalog is unavailable, try again")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		log.Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
