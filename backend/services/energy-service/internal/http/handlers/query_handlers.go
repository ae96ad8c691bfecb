package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"energymon/backend/services/energy-service/internal/models"
	"energymon/backend/services/energy-service/internal/service"
)

// Querier serves the dashboard read views.
type Querier interface {
	History(ctx context.Context, n *int) ([]models.ReadingView, error)
	Latest(ctx context.Context) (*models.ReadingView, error)
	Realtime() models.RealtimeView
	Monthly(ctx context.Context, year, month int) ([]models.DayView, error)
}

// QueryHandlers groups the read endpoints.
type QueryHandlers struct {
	query  Querier
	logger *zap.Logger
}

// NewQueryHandlers returns handlers.
func NewQueryHandlers(query Querier, logger *zap.Logger) *QueryHandlers {
	return &QueryHandlers{
		query:  query,
		logger: logger,
	}
}

// History handles GET /api/history?n=. Without n the default size applies; n=0 is empty.
func (h *QueryHandlers) History(w http.ResponseWriter, r *http.Request) {
	n, err := optionalInt(r, "n")
	if err != nil {
		writeError(w, http.StatusBadRequest, "n must be an integer")
		return
	}
	views, err := h.query.History(r.Context(), n)
	if err != nil {
		h.fail(w, "history", err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// Latest handles GET /api/latest. An empty store yields {}.
func (h *QueryHandlers) Latest(w http.ResponseWriter, r *http.Request) {
	view, err := h.query.Latest(r.Context())
	if err != nil {
		h.fail(w, "latest", err)
		return
	}
	if view == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Realtime handles GET /api/realtime.
func (h *QueryHandlers) Realtime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.query.Realtime())
}

// Monthly handles GET /api/monthly?year=&month=.
func (h *QueryHandlers) Monthly(w http.ResponseWriter, r *http.Request) {
	year, err := optionalInt(r, "year")
	if err != nil {
		writeError(w, http.StatusBadRequest, "year must be an integer")
		return
	}
	month, err := optionalInt(r, "month")
	if err != nil {
		writeError(w, http.StatusBadRequest, "month must be an integer")
		return
	}
	views, err := h.query.Monthly(r.Context(), valueOr(year, 0), valueOr(month, 0))
	if err != nil {
		h.fail(w, "monthly", err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *QueryHandlers) fail(w http.ResponseWriter, op string, err error) {
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, ve.Error())
		return
	}
	h.logger.Error("query failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to query readings")
}
