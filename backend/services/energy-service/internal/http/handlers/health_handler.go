package handlers

import (
	"context"
	"net/http"
	"time"
)

// StoreCounter reports storage reachability.
type StoreCounter interface {
	Count(ctx context.Context) (int64, error)
}

// NewHealthHandler returns GET /health handler.
func NewHealthHandler(store StoreCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		n, err := store.Count(ctx)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  "storage unavailable",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "ok",
			"readings": n,
		})
	}
}
