package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func subjectEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ := SubjectFromContext(r.Context())
		_, _ = w.Write([]byte(subject))
	})
}

func TestAuthMiddlewareTokenSources(t *testing.T) {
	valid := signToken(t, testSecret, jwt.MapClaims{"sub": "admin", "exp": time.Now().Add(time.Hour).Unix()})
	handler := AuthMiddleware(testSecret)(subjectEcho())

	cases := map[string]func(*http.Request){
		"bearer header": func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) },
		"cookie":        func(r *http.Request) { r.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: valid}) },
		"query":         func(r *http.Request) { r.URL.RawQuery = "token=" + valid },
	}
	for name, apply := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/latest", nil)
			apply(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			if rec.Body.String() != "admin" {
				t.Fatalf("expected subject admin, got %q", rec.Body.String())
			}
		})
	}
}

func TestAuthMiddlewareRejects(t *testing.T) {
	expired := signToken(t, testSecret, jwt.MapClaims{"sub": "admin", "exp": time.Now().Add(-time.Hour).Unix()})
	wrongKey := signToken(t, "other", jwt.MapClaims{"sub": "admin"})
	noSubject := signToken(t, testSecret, jwt.MapClaims{"role": "viewer"})

	cases := map[string]string{
		"missing":    "",
		"malformed":  "Token abc",
		"expired":    "Bearer " + expired,
		"wrong key":  "Bearer " + wrongKey,
		"no subject": "Bearer " + noSubject,
	}
	handler := AuthMiddleware(testSecret)(subjectEcho())
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/latest", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestAuthMiddlewareAcceptsUsernameClaim(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{"username": "operator"})
	req := httptest.NewRequest(http.MethodGet, "/api/latest", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	AuthMiddleware(testSecret)(subjectEcho()).ServeHTTP(rec, req)
	if rec.Body.String() != "operator" {
		t.Fatalf("expected operator, got %q", rec.Body.String())
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	rec := httptest.NewRecorder()
	RecoveryMiddleware(zap.NewNop())(panicking).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	final := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") })
	Chain(final, mark("outer"), mark("inner")).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if got := strings.Join(order, ","); got != "outer,inner,handler" {
		t.Fatalf("unexpected order %s", got)
	}
}

func TestLoggingMiddlewareKeepsStatus(t *testing.T) {
	teapot := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rec := httptest.NewRecorder()
	LoggingMiddleware(zap.NewNop())(teapot).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}
}
