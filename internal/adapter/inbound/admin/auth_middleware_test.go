package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clawguard/clawguard/internal/domain/secret"
)

func TestAdminAuthMiddleware_AllowlistedIPAndValidPIN_PassesThrough(t *testing.T) {
	pinHash := secret.Hash("1234")
	h := New(WithIPAllowlist([]string{"192.168.1.0/24"}), WithPINHash(pinHash))

	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	handler := h.adminAuthMiddleware(inner)

	req := httptest.NewRequest(http.MethodGet, "/__admin/api/v1/stats", nil)
	req.RemoteAddr = "192.168.1.50:1234"
	req.Header.Set("X-Admin-PIN", "1234")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Error("middleware should pass through for allowlisted IP with valid PIN")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestAdminAuthMiddleware_NonAllowlistedIP_403(t *testing.T) {
	pinHash := secret.Hash("1234")
	h := New(WithIPAllowlist([]string{"192.168.1.0/24"}), WithPINHash(pinHash))

	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	handler := h.adminAuthMiddleware(inner)

	req := httptest.NewRequest(http.MethodGet, "/__admin/api/v1/stats", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Admin-PIN", "1234")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called {
		t.Error("middleware should NOT pass through for a non-allowlisted IP")
	}
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestAdminAuthMiddleware_WrongPIN_403(t *testing.T) {
	pinHash := secret.Hash("1234")
	h := New(WithIPAllowlist([]string{"192.168.1.0/24"}), WithPINHash(pinHash))

	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	handler := h.adminAuthMiddleware(inner)

	req := httptest.NewRequest(http.MethodGet, "/__admin/api/v1/stats", nil)
	req.RemoteAddr = "192.168.1.50:1234"
	req.Header.Set("X-Admin-PIN", "wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called {
		t.Error("middleware should NOT pass through with an incorrect PIN")
	}
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestAdminAuthMiddleware_MissingPIN_403(t *testing.T) {
	pinHash := secret.Hash("1234")
	h := New(WithIPAllowlist([]string{"192.168.1.0/24"}), WithPINHash(pinHash))

	handler := h.adminAuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/__admin/api/v1/stats", nil)
	req.RemoteAddr = "192.168.1.50:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}
