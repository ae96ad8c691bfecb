package httpserver

import (
	"net/http"
	"strings"

	"energymon/backend/services/energy-service/internal/http/handlers"
	"energymon/backend/services/energy-service/internal/http/middleware"
)

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	ReadingsHandler *handlers.ReadingsHandler
	QueryHandlers   *handlers.QueryHandlers
	HealthHandler   http.HandlerFunc
	StreamHandler   http.HandlerFunc
}

// NewRouter wires HTTP routes. Sensor push and health stay open; dashboard reads go through
// authMiddleware.
func NewRouter(deps RouterDeps, authMiddleware func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", methods(deps.HealthHandler, http.MethodGet, http.MethodHead))
	mux.Handle("/api/readings", methods(deps.ReadingsHandler, http.MethodPost))

	authenticated := func(handler http.HandlerFunc) http.Handler {
		return middleware.Chain(handler, authMiddleware)
	}

	mux.Handle("/api/history", methods(authenticated(deps.QueryHandlers.History), http.MethodGet))
	mux.Handle("/api/latest", methods(authenticated(deps.QueryHandlers.Latest), http.MethodGet))
	mux.Handle("/api/realtime", methods(authenticated(deps.QueryHandlers.Realtime), http.MethodGet))
	mux.Handle("/api/monthly", methods(authenticated(deps.QueryHandlers.Monthly), http.MethodGet))
	if deps.StreamHandler != nil {
		mux.Handle("/api/stream", methods(authenticated(deps.StreamHandler), http.MethodGet))
	}

	return mux
}

// methods rejects requests whose method is not listed, advertising the allowed set.
func methods(handler http.Handler, allowed ...string) http.Handler {
	allow := strings.Join(allowed, ", ")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, m := range allowed {
			if r.Method == m {
				handler.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("Allow", allow)
		writeMethodNotAllowed(w)
	})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	_, _ = w.Write([]byte(`{"error":"method not allowed"}` + "\n"))
}
