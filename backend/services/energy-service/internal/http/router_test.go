package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"energymon/backend/libs/db"
	"energymon/backend/services/energy-service/internal/cache"
	"energymon/backend/services/energy-service/internal/http/handlers"
	"energymon/backend/services/energy-service/internal/http/middleware"
	"energymon/backend/services/energy-service/internal/repository"
	"energymon/backend/services/energy-service/internal/service"
)

const routerSecret = "router-secret"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()
	handle, err := db.NewSQLite(ctx, db.SQLiteOptions{Path: filepath.Join(t.TempDir(), "router.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { handle.Close() })

	repo := repository.NewReadingsRepository(handle)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	latest := cache.NewLatest()
	logger := zap.NewNop()

	return NewRouter(RouterDeps{
		ReadingsHandler: handlers.NewReadingsHandler(service.NewIngestor(repo, latest, logger), logger),
		QueryHandlers:   handlers.NewQueryHandlers(service.NewQueryService(repo, latest, service.DefaultQueryOptions()), logger),
		HealthHandler:   handlers.NewHealthHandler(repo),
	}, middleware.AuthMiddleware(routerSecret))
}

func bearer(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "admin"}).SignedString([]byte(routerSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return "Bearer " + token
}

func do(router http.Handler, method, target, body, auth string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPushThenQuery(t *testing.T) {
	router := newTestRouter(t)
	auth := bearer(t)

	rec := do(router, http.MethodPost, "/api/readings", `{"ts":"2024-01-05T10:00:00Z","voltage":230.1,"energy":1.5}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("push: expected 200, got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(router, http.MethodGet, "/api/latest", "", auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("latest: expected 200, got %d", rec.Code)
	}
	var latest map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &latest); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if latest["ts"] != "2024-01-05 17:00:00" || latest["energy_kwh"] != 1.5 {
		t.Fatalf("unexpected latest %v", latest)
	}

	rec = do(router, http.MethodGet, "/api/history?n=10", "", auth)
	var history []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one history row, got %d", len(history))
	}

	rec = do(router, http.MethodGet, "/api/history?n=0", "", auth)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("n=0 must return an empty list, got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(router, http.MethodGet, "/api/monthly?year=2024&month=1", "", auth)
	var monthly []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &monthly); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(monthly) != 1 || monthly[0]["day"] != "2024-01-05" {
		t.Fatalf("unexpected monthly %v", monthly)
	}

	rec = do(router, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"readings":1`) {
		t.Fatalf("unexpected health %d %s", rec.Code, rec.Body.String())
	}
}

func TestQueriesRequireToken(t *testing.T) {
	router := newTestRouter(t)
	for _, target := range []string{"/api/history", "/api/latest", "/api/realtime", "/api/monthly"} {
		if rec := do(router, http.MethodGet, target, "", ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", target, rec.Code)
		}
	}
}

func TestMethodGuard(t *testing.T) {
	router := newTestRouter(t)
	rec := do(router, http.MethodGet, "/api/readings", "", "")
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected 405 with Allow POST, got %d %q", rec.Code, rec.Header().Get("Allow"))
	}
	rec = do(router, http.MethodPost, "/api/latest", "{}", bearer(t))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	rec = do(router, http.MethodHead, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("HEAD /health: expected 200, got %d", rec.Code)
	}
	rec = do(router, http.MethodDelete, "/health", "", "")
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != "GET, HEAD" {
		t.Fatalf("expected 405 with Allow GET, HEAD, got %d %q", rec.Code, rec.Header().Get("Allow"))
	}
}

func TestMalformedPushIsRejected(t *testing.T) {
	router := newTestRouter(t)
	rec := do(router, http.MethodPost, "/api/readings", `{"voltage":"high"}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = do(router, http.MethodGet, "/api/latest", "", bearer(t))
	if strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Fatalf("nothing should be stored, got %s", rec.Body.String())
	}
}
