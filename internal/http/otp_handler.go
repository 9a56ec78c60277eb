package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/go_cart/selfcheckout/internal/logger"
	"github.com/fjod/go_cart/selfcheckout/internal/otp"
	"go.uber.org/zap"
)

type OTPHandler struct {
	verifier otp.Verifier
	timeout  time.Duration
	log      *zap.Logger
}

func NewOTPHandler(verifier otp.Verifier, timeout time.Duration, log *zap.Logger) *OTPHandler {
	return &OTPHandler{
		verifier: verifier,
		timeout:  timeout,
		log:      log,
	}
}

type VerifyOTPRequestDTO struct {
	Subject string `json:"subject"`
	Code    string `json:"code"`
}

type VerifyOTPResponseDTO struct {
	Verified bool `json:"verified"`
}

func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req VerifyOTPRequestDTO
	if !decodeBody(w, r, &req) {
		return
	}

	err := h.verifier.Verify(ctx, req.Subject, req.Code)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, VerifyOTPResponseDTO{Verified: true})
	case errors.Is(err, otp.ErrMissingCode):
		respondError(w, http.StatusBadRequest, "invalid_request", "subject and code are required")
	case errors.Is(err, otp.ErrInvalidOTP):
		respondError(w, http.StatusUnauthorized, "invalid_otp", "invalid code")
	case errors.Is(err, otp.ErrOTPDisabled):
		respondError(w, http.StatusServiceUnavailable, "otp_disabled", "otp verification is not configured")
	default:
		logger.WithTrace(ctx, h.log).Error("otp verification failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
