package handlers

import (
	"divvi/internal/domain"
	"divvi/pkg/httputil"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// GET /api/revenue/{protocol}?address=0x..&start=..&end=..
// start/end accept RFC3339 or unix seconds
func (h *Handler) CalculateRevenue(w http.ResponseWriter, r *http.Request) {
	protocol, err := domain.ParseProtocol(chi.URLParam(r, "protocol"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	address, err := domain.ParseAddress(r.URL.Query().Get("address"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	window, err := parseWindow(r.URL.Query().Get("start"), r.URL.Query().Get("end"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.Revenue.Calculate(r.Context(), protocol, address, window)
	if err != nil {
		h.Log.Errorf("CalculateRevenue handler error: %s", err.Error())
		h.writeError(w, r, err)
		return
	}

	if err = httputil.JSON(w, http.StatusOK, result, nil); err != nil {
		h.Log.Errorf("CalculateRevenue handler error: %s", err.Error())
	}
}

func parseWindow(start, end string) (domain.Window, error) {
	s, err := parseInstant(start)
	if err != nil {
		return domain.Window{}, err
	}
	e, err := parseInstant(end)
	if err != nil {
		return domain.Window{}, err
	}

	w := domain.Window{Start: s, End: e}
	return w, w.Validate()
}

func parseInstant(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, domain.ErrInvalidWindow
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, domain.ErrInvalidWindow
	}
	return t.UTC(), nil
}
