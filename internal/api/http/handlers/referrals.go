package handlers

import (
	"divvi/internal/domain"
	"divvi/internal/referrals"
	"divvi/pkg/httputil"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// GET /api/referrals/{protocol}/qualified
func (h *Handler) QualifiedReferrals(w http.ResponseWriter, r *http.Request) {
	protocol, err := domain.ParseProtocol(chi.URLParam(r, "protocol"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	events, err := h.Referrals.Qualified(r.Context(), protocol)
	if err != nil {
		h.Log.Errorf("QualifiedReferrals handler error: %s", err.Error())
		h.writeError(w, r, err)
		return
	}

	h.writeReferrals(w, r, protocol, events)
}

// GET /api/referrals/{protocol}/registered
func (h *Handler) RegisteredReferrals(w http.ResponseWriter, r *http.Request) {
	protocol, err := domain.ParseProtocol(chi.URLParam(r, "protocol"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	events, err := h.Referrals.Registered(r.Context(), protocol)
	if err != nil {
		h.Log.Errorf("RegisteredReferrals handler error: %s", err.Error())
		h.writeError(w, r, err)
		return
	}

	h.writeReferrals(w, r, protocol, events)
}

func (h *Handler) writeReferrals(w http.ResponseWriter, r *http.Request, protocol domain.Protocol, events []referrals.Event) {
	type referralOut struct {
		UserAddress string `json:"user_address"`
		ReferrerID  string `json:"referrer_id"`
		Timestamp   string `json:"timestamp"`
	}

	out := make([]referralOut, 0, len(events))
	for _, ev := range events {
		out = append(out, referralOut{
			UserAddress: ev.UserAddress.Hex(),
			ReferrerID:  ev.ReferrerID,
			Timestamp:   ev.Timestamp.UTC().Format(time.RFC3339),
		})
	}

	body := map[string]any{
		"protocol":  protocol,
		"referrals": out,
	}
	if err := httputil.JSON(w, http.StatusOK, body, nil); err != nil {
		h.Log.Errorf("referrals handler error: %s", err.Error())
	}
}
