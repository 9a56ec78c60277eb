package http

import (
	"net/http"
	"time"

	"github.com/fjod/go_cart/selfcheckout/internal/otp"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Engine         SessionEngine
	OTP            otp.Verifier
	Metrics        http.Handler
	RequestTimeout time.Duration
	Log            *zap.Logger
}

// NewRouter wires the session API, OTP verification, health and metrics endpoints.
func NewRouter(cfg RouterConfig) http.Handler {
	sessionHandler := NewSessionHandler(cfg.Engine, cfg.RequestTimeout, cfg.Log)
	otpHandler := NewOTPHandler(cfg.OTP, cfg.RequestTimeout, cfg.Log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RetailerScopeMiddleware)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.StartSession)
			r.Get("/", sessionHandler.ListSessions)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessionHandler.GetSession)
				r.Post("/items", sessionHandler.AddItem)
				r.Delete("/items/{itemID}", sessionHandler.RemoveItem)
				r.Post("/submit", sessionHandler.SubmitSession)
				r.Post("/pay", sessionHandler.MarkSessionPaid)
				r.Post("/verify", sessionHandler.VerifySession)
				r.Patch("/table", sessionHandler.UpdateSessionTable)
				r.Get("/invoice", sessionHandler.GetInvoice)
			})
		})
		r.Post("/otp/verify", otpHandler.Verify)
	})

	return otelhttp.NewHandler(r, "selfcheckout-session-service")
}
