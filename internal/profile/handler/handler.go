// Package handler exposes the profile API over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"cis/internal/apitoken"
	"cis/internal/platform/metrics"
	"cis/internal/profile/models"
	"cis/internal/profile/service"
	"cis/internal/trust"
	dErrors "cis/pkg/domain-errors"
	"cis/pkg/platform/httputil"
	authmw "cis/pkg/platform/middleware/auth"
	"cis/pkg/platform/middleware/metadata"
	"cis/pkg/platform/middleware/requestid"
	"cis/pkg/platform/middleware/requesttime"
	"cis/pkg/requestcontext"
)

// Service accepts and serves profiles.
type Service interface {
	Submit(ctx context.Context, incoming []byte) (*service.Result, error)
	Get(ctx context.Context, userID string) (*models.Profile, error)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// SubmitResponse is the body returned for an accepted submission.
type SubmitResponse struct {
	UserID            string   `json:"user_id"`
	Condition         string   `json:"condition"`
	ChangedAttributes []string `json:"changed_attributes"`
	Version           int64    `json:"version"`
}

// Handler serves the profile routes.
type Handler struct {
	service   Service
	validator authmw.TokenValidator
	logger    *slog.Logger
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	checks    map[string]HealthCheck
	timeout   time.Duration
}

type Option func(h *Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetrics records request metrics into m and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(h *Handler) {
		h.metrics = m
		h.gatherer = g
	}
}

// WithHealthCheck adds a named dependency to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) {
		h.checks[name] = check
	}
}

func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.timeout = d
	}
}

// New creates a Handler.
func New(svc Service, validator authmw.TokenValidator, opts ...Option) *Handler {
	h := &Handler{
		service:   svc,
		validator: validator,
		logger:    slog.Default(),
		checks:    map[string]HealthCheck{},
		timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the full route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
	}

	r.Get("/healthz", h.handleHealth)
	if h.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(h.gatherer))
	}
	r.Group(h.Register)
	return r
}

// Register mounts the authenticated profile routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Use(chimw.Timeout(h.timeout))
	r.Use(authmw.RequireAuth(h.validator, h.logger))
	r.With(authmw.RequireScope(apitoken.ScopeProfileWrite, h.logger)).Post("/v2/user", h.handleSubmit)
	r.With(authmw.RequireScope(apitoken.ScopeProfileRead, h.logger)).Get("/v2/user/{user_id}", h.handleGet)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := httputil.ReadBody(w, r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.service.Submit(ctx, body)
	if err != nil {
		h.logRejection(ctx, err)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if res.Condition == trust.ConditionCreate {
		status = http.StatusCreated
	}
	changed := res.Changed
	if changed == nil {
		changed = []string{}
	}
	httputil.WriteJSON(w, status, SubmitResponse{
		UserID:            res.UserID,
		Condition:         string(res.Condition),
		ChangedAttributes: changed,
		Version:           res.Version,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.service.Get(ctx, chi.URLParam(r, "user_id"))
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			h.logger.ErrorContext(ctx, "failed to read profile",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		httputil.WriteError(w, err)
		return
	}
	doc, err := p.JSON()
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode profile"))
		return
	}
	httputil.WriteRawJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	httputil.WriteJSON(w, status, map[string]any{"status": state, "checks": results})
}

// logRejection logs security rejections at warn under a fixed message so they
// can be alerted on separately from ordinary validation failures.
func (h *Handler) logRejection(ctx context.Context, err error) {
	client := metadata.FromContext(ctx)
	attrs := []any{
		"client_id", requestcontext.ClientID(ctx),
		"client_ip", client.IP,
		"user_agent", client.UserAgent,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	}
	switch {
	case trust.IsSecurityEvent(err):
		h.logger.WarnContext(ctx, "security: signature rejected", attrs...)
	case trust.IsRejection(err):
		h.logger.InfoContext(ctx, "profile rejected", attrs...)
	case dErrors.HasCode(err, dErrors.CodeInternal):
		h.logger.ErrorContext(ctx, "profile submission failed", attrs...)
	default:
		h.logger.InfoContext(ctx, "profile submission not accepted", attrs...)
	}
}
