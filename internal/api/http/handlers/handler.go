package handlers

import (
	"context"
	"divvi/internal/domain"
	"divvi/internal/service"
	"divvi/pkg/httputil"
	"errors"
	"net/http"
	"time"

	"gitlab.com/nevasik7/alerting/logger"
)

type Handler struct {
	Log       logger.Logger
	Revenue   *service.RevenueService
	Referrals *service.ReferralService
}

func NewHandler(log logger.Logger, revenue *service.RevenueService, referrals *service.ReferralService) *Handler {
	if revenue == nil {
		panic("revenue service cannot be nil")
	}
	if referrals == nil {
		panic("referral service cannot be nil")
	}

	return &Handler{Log: log, Revenue: revenue, Referrals: referrals}
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	if err := httputil.JSON(w, http.StatusOK, map[string]any{}, nil); err != nil {
		h.Log.Errorf("Healthz handler error: %s", err.Error())
	}
}

// Check health external services/clients
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	if err := h.Revenue.CheckDependency(ctx); err != nil {
		err = httputil.Error(w, r, http.StatusServiceUnavailable, "dependencies_unhealthy", "dependencies check failed", map[string]any{
			"error": err.Error(),
		})
		if err != nil {
			h.Log.Errorf("Readiness handler error: %s", err.Error())
		}
		return
	}

	if err := httputil.JSON(w, http.StatusOK, map[string]string{"dependencies": "healthy"}, nil); err != nil {
		h.Log.Errorf("Readiness handler error: %s", err.Error())
	}
}

// Maps domain errors to status codes: caller mistakes are 400, a failing
// collaborator is 502, everything else is 500
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var upstream *httputil.UpstreamError

	switch {
	case errors.Is(err, domain.ErrInvalidWindow),
		errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrUnknownProtocol):
		err = httputil.Error(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.As(err, &upstream):
		err = httputil.Error(w, r, http.StatusBadGateway, "upstream_error", err.Error(), nil)
	default:
		err = httputil.Error(w, r, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}

	if err != nil {
		h.Log.Errorf("failed to write error response: %s", err.Error())
	}
}
