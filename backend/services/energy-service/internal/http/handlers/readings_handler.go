package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"energymon/backend/services/energy-service/internal/models"
	"energymon/backend/services/energy-service/internal/service"
)

const maxReadingBody = 64 << 10

// Ingester runs the shared ingestion path.
type Ingester interface {
	Ingest(ctx context.Context, source service.Source, payload []byte) (models.Reading, error)
}

type ackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ReadingsHandler is the push endpoint used by sensor nodes.
type ReadingsHandler struct {
	ingest Ingester
	logger *zap.Logger
}

// NewReadingsHandler returns handler.
func NewReadingsHandler(ingest Ingester, logger *zap.Logger) *ReadingsHandler {
	return &ReadingsHandler{
		ingest: ingest,
		logger: logger,
	}
}

// ServeHTTP handles POST /api/readings.
func (h *ReadingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReadingBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ackResponse{Error: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, ackResponse{Error: "failed to read body"})
		return
	}

	if _, err := h.ingest.Ingest(r.Context(), service.SourcePush, body); err != nil {
		if service.IsDecodeError(err) {
			writeJSON(w, http.StatusBadRequest, ackResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ackResponse{Error: "failed to store reading"})
		return
	}

	writeJSON(w, http.StatusOK, ackResponse{OK: true})
}
