package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/novamind/nova/internal/config"
	"github.com/novamind/nova/internal/integrity"
)

func testServer(t *testing.T) (*Server, config.Paths, *integrity.Guard) {
	t.Helper()
	paths := config.Paths{DataDir: t.TempDir()}
	if err := paths.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	guard := integrity.NewGuard("YZ")
	return New(paths, guard, "YZ", "test"), paths, guard
}

func seal(t *testing.T, guard *integrity.Guard, path string, payload map[string]any) {
	t.Helper()
	if err := guard.WriteAndSeal(path, payload); err != nil {
		t.Fatal(err)
	}
}

func get(t *testing.T, s *Server, path, remoteAddr string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("GET %s: invalid JSON body %q", path, w.Body.String())
	}
	return w, body
}

func TestHealthAlwaysServes(t *testing.T) {
	s, _, _ := testServer(t)
	w, body := get(t, s, "/health", "127.0.0.1:54321")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestNonLoopbackForbidden(t *testing.T) {
	s, _, _ := testServer(t)
	for _, addr := range []string{"10.1.2.3:1000", "192.168.1.9:443", "not-an-addr"} {
		w, body := get(t, s, "/health", addr)
		if w.Code != http.StatusForbidden {
			t.Errorf("%s: status = %d, want 403", addr, w.Code)
		}
		if body["error"] != "local-only" {
			t.Errorf("%s: body = %v", addr, body)
		}
	}
}

func TestForwardingHeadersCannotSpoofLoopback(t *testing.T) {
	s, _, _ := testServer(t)
	headers := map[string]string{
		"X-Real-IP":       "127.0.0.1",
		"X-Forwarded-For": "127.0.0.1",
	}
	for name, value := range headers {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.1.2.3:4444"
		req.Header.Set(name, value)
		w := httptest.NewRecorder()
		s.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Errorf("%s header bypassed the loopback gate: status = %d", name, w.Code)
		}
	}
}

func TestMetricsServedWhenSealed(t *testing.T) {
	s, paths, guard := testServer(t)
	seal(t, guard, paths.Export("metrics.json"), map[string]any{
		"_owner": "YZ", "resilience": 1.0,
	})

	w, body := get(t, s, "/metrics", "127.0.0.1:1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %v", w.Code, body)
	}
	metrics, ok := body["metrics"].(map[string]any)
	if !ok {
		t.Fatalf("body = %v", body)
	}
	if metrics["resilience"] != 1.0 {
		t.Errorf("resilience = %v", metrics["resilience"])
	}
	if body["owner"] != "YZ" {
		t.Errorf("owner = %v", body["owner"])
	}
}

func TestMissingExportIsConflict(t *testing.T) {
	s, _, _ := testServer(t)
	w, body := get(t, s, "/reflection", "127.0.0.1:1")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if body["error"] != "integrity_or_owner_check_failed" {
		t.Errorf("body = %v", body)
	}
}

func TestTamperedExportIsConflict(t *testing.T) {
	s, paths, guard := testServer(t)
	path := paths.Export("sync_bundle.json")
	seal(t, guard, path, map[string]any{"_owner": "YZ", "loop": map[string]any{}})

	// Modify the artifact behind the sidecar's back.
	if err := os.WriteFile(path, []byte(`{"_owner":"YZ","loop":{"forged":true}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	w, body := get(t, s, "/bundle", "127.0.0.1:1")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	if body["file"] != "sync_bundle.json" {
		t.Errorf("body = %v", body)
	}
}

func TestForeignOwnerIsConflict(t *testing.T) {
	s, paths, guard := testServer(t)
	seal(t, guard, paths.Export("metrics.json"), map[string]any{
		"_owner": "someone-else", "resilience": 1.0,
	})

	w, _ := get(t, s, "/metrics", "127.0.0.1:1")
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 on foreign owner", w.Code)
	}
}

func TestStatusWrapsHeartbeat(t *testing.T) {
	s, paths, guard := testServer(t)
	seal(t, guard, paths.Export("heartbeat.json"), map[string]any{
		"_owner": "YZ", "alive": true,
	})

	w, body := get(t, s, "/status", "[::1]:9")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 from IPv6 loopback", w.Code)
	}
	hb, ok := body["heartbeat"].(map[string]any)
	if !ok || hb["alive"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestUnknownRouteListsEndpoints(t *testing.T) {
	s, _, _ := testServer(t)
	w, body := get(t, s, "/nope", "127.0.0.1:1")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if body["error"] != "not_found" {
		t.Errorf("body = %v", body)
	}
	if eps, ok := body["endpoints"].([]any); !ok || len(eps) != 5 {
		t.Errorf("endpoints = %v", body["endpoints"])
	}
}
