package monitoring

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewHealthChecker(t *testing.T) {
	hc := NewHealthChecker("overpassmap", "1.0.0")
	defer hc.Shutdown()

	if hc.serviceName != "overpassmap" {
		t.Errorf("Expected service name 'overpassmap', got %s", hc.serviceName)
	}
	if hc.version != "1.0.0" {
		t.Errorf("Expected version '1.0.0', got %s", hc.version)
	}
	if hc.connections == nil {
		t.Error("Connections map should be initialized")
	}
}

func TestUpdateAndRemoveConnection(t *testing.T) {
	hc := NewHealthChecker("overpassmap", "1.0.0")
	defer hc.Shutdown()

	hc.UpdateConnection("nominatim", "error", 200, errors.New("connection refused"))

	hc.mu.RLock()
	conn, exists := hc.connections["nominatim"]
	hc.mu.RUnlock()

	if !exists {
		t.Fatal("Connection should exist")
	}
	if conn.Status != "error" || conn.Latency != 200 || conn.LastError != "connection refused" {
		t.Errorf("unexpected connection status: %+v", conn)
	}

	hc.RemoveConnection("nominatim")
	hc.mu.RLock()
	_, exists = hc.connections["nominatim"]
	hc.mu.RUnlock()
	if exists {
		t.Error("Connection should not exist after removal")
	}
}

func TestGetHealthStatus(t *testing.T) {
	tests := []struct {
		name  string
		conns map[string]string
		want  string
	}{
		{"no connections", nil, "healthy"},
		{"all connected", map[string]string{"nominatim": "connected", "overpass": "connected"}, "healthy"},
		{"one degraded", map[string]string{"nominatim": "connected", "overpass": "degraded"}, "degraded"},
		{"minority failing", map[string]string{"nominatim": "connected", "overpass": "connected", "tiles": "error"}, "degraded"},
		{"half failing", map[string]string{"nominatim": "connected", "overpass": "error"}, "degraded"},
		{"majority failing", map[string]string{"nominatim": "disconnected", "overpass": "error", "tiles": "connected"}, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker("overpassmap", "1.0.0")
			defer hc.Shutdown()

			for name, status := range tt.conns {
				hc.UpdateConnection(name, status, 10, nil)
			}
			if got := hc.GetHealth().Status; got != tt.want {
				t.Errorf("Status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestGetHealthFields(t *testing.T) {
	hc := NewHealthChecker("overpassmap", "1.0.0")
	defer hc.Shutdown()

	hc.SetTransport(&TransportInfo{Type: "sse", HTTPAddr: ":7082"})
	health := hc.GetHealth()

	if health.Service != "overpassmap" {
		t.Errorf("Expected service 'overpassmap', got %s", health.Service)
	}
	if health.StartTime.IsZero() {
		t.Error("StartTime should not be zero")
	}
	if health.Transport == nil || health.Transport.Type != "sse" {
		t.Errorf("Transport = %+v, want sse", health.Transport)
	}
	for _, key := range []string{"goroutines", "memory_alloc_mb", "cpu_count", "version_info"} {
		if _, ok := health.Metrics[key]; !ok {
			t.Errorf("Metrics should contain %s", key)
		}
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		failing    bool
		wantStatus int
		wantHealth string
	}{
		{"healthy", false, http.StatusOK, "healthy"},
		{"unhealthy", true, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker("overpassmap", "1.0.0")
			defer hc.Shutdown()

			if tt.failing {
				hc.UpdateConnection("nominatim", "error", 100, errors.New("timeout"))
				hc.UpdateConnection("overpass", "disconnected", 100, errors.New("refused"))
			}

			w := httptest.NewRecorder()
			hc.HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Expected Content-Type 'application/json', got %s", ct)
			}

			var health ServiceHealth
			if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
				t.Fatalf("Failed to decode health response: %v", err)
			}
			if health.Status != tt.wantHealth {
				t.Errorf("Expected status %q, got %q", tt.wantHealth, health.Status)
			}
		})
	}
}

func TestReadinessAndLivenessHandlers(t *testing.T) {
	hc := NewHealthChecker("overpassmap", "1.0.0")
	defer hc.Shutdown()

	w := httptest.NewRecorder()
	hc.ReadinessHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusOK {
		t.Errorf("ready: expected status %d, got %d", http.StatusOK, w.Code)
	}
	var ready map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&ready); err != nil {
		t.Fatalf("Failed to decode readiness response: %v", err)
	}
	if v, ok := ready["ready"].(bool); !ok || !v {
		t.Error("Expected ready to be true")
	}

	w = httptest.NewRecorder()
	hc.LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	var live map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&live); err != nil {
		t.Fatalf("Failed to decode liveness response: %v", err)
	}
	if v, ok := live["alive"].(bool); !ok || !v {
		t.Error("Expected alive to be true")
	}
	if _, ok := live["uptime"]; !ok {
		t.Error("Expected uptime field")
	}
}

func TestConnectionMonitor(t *testing.T) {
	tests := []struct {
		name       string
		check      func() error
		wantStatus string
		wantError  string
	}{
		{"success", func() error { return nil }, "connected", ""},
		{"failure", func() error { return errors.New("overpass unreachable") }, "error", "overpass unreachable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker("overpassmap", "1.0.0")
			defer hc.Shutdown()

			monitor := NewConnectionMonitor("overpass", hc, tt.check, 50*time.Millisecond)
			monitor.Start()
			defer monitor.Stop()

			deadline := time.Now().Add(2 * time.Second)
			var conn *ConnStatus
			for time.Now().Before(deadline) {
				hc.mu.RLock()
				conn = hc.connections["overpass"]
				hc.mu.RUnlock()
				if conn != nil {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}

			if conn == nil {
				t.Fatal("monitor never reported")
			}
			if conn.Status != tt.wantStatus {
				t.Errorf("Expected status %q, got %q", tt.wantStatus, conn.Status)
			}
			if conn.LastError != tt.wantError {
				t.Errorf("Expected error %q, got %q", tt.wantError, conn.LastError)
			}
		})
	}
}

func BenchmarkGetHealth(b *testing.B) {
	hc := NewHealthChecker("overpassmap", "1.0.0")
	defer hc.Shutdown()

	hc.UpdateConnection("nominatim", "connected", 100, nil)
	hc.UpdateConnection("overpass", "error", 300, errors.New("test error"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hc.GetHealth()
	}
}
