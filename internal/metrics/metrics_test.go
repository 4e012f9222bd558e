package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

// TestLoadConfig tests loading metrics configuration from environment variables
func TestLoadConfig(t *testing.T) {
	t.Run("uses defaults when env not set", func(t *testing.T) {
		for _, k := range []string{"METRICS_ENABLED", "METRICS_ADDR", "METRICS_REQUIRE_TLS"} {
			t.Setenv(k, "")
		}
		cfg := LoadConfig()
		if cfg.Enabled {
			t.Error("Enabled should default to false")
		}
		if cfg.Addr != "127.0.0.1:9090" {
			t.Errorf("Addr = %q, want 127.0.0.1:9090", cfg.Addr)
		}
	})

	t.Run("uses env variables when set", func(t *testing.T) {
		t.Setenv("METRICS_ENABLED", "true")
		t.Setenv("METRICS_ADDR", "0.0.0.0:9100")
		t.Setenv("METRICS_REQUIRE_TLS", "not-a-bool")
		cfg := LoadConfig()
		if !cfg.Enabled || cfg.Addr != "0.0.0.0:9100" {
			t.Errorf("cfg = %+v", cfg)
		}
		if cfg.RequireTLS {
			t.Error("invalid bool should fall back to default false")
		}
	})
}

func TestNewMetricsIsolatedRegistries(t *testing.T) {
	a := NewMetrics(nil)
	b := NewMetrics(nil)
	a.IncrementStoreErrors("postgres", "block")
	if got := counterValue(t, b.StoreErrors.WithLabelValues("postgres", "block")); got != 0 {
		t.Errorf("separate instances share state: %v", got)
	}
}

func TestMetricsConvenienceMethods(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveVerdict(false, "bot-detected", 75)
	m.ObserveVerdict(false, "bot-detected", 90)
	m.ObserveVerdict(true, "clean", 0)
	if got := counterValue(t, m.Verdicts.WithLabelValues("false", "bot-detected")); got != 2 {
		t.Errorf("denied bot verdicts = %v, want 2", got)
	}

	m.IncrementStepFallback("fingerprint", "timeout")
	if got := counterValue(t, m.StepFallbacks.WithLabelValues("fingerprint", "timeout")); got != 1 {
		t.Errorf("step fallbacks = %v, want 1", got)
	}

	m.IncrementDomainValidation("validate", "unauthorized_domain")
	m.IncrementEventsEmitted("log")
	m.IncrementSinkErrors("kafka", "produce_error")
	m.IncrementHTTPRequests("/protect", "POST", "200")
	m.IncrementRateLimited("/protect")
	m.ObserveHTTPDuration("/protect", "POST", 10*time.Millisecond)
	m.ObserveStepLatency("detect", time.Millisecond)

	if got := counterValue(t, m.RateLimited.WithLabelValues("/protect")); got != 1 {
		t.Errorf("rate limited = %v, want 1", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveVerdict(true, "clean", 0)
	m.IncrementStoreErrors("memory", "block")
	m.ObserveHTTPDuration("/", "GET", time.Millisecond)
}

func TestDefault(t *testing.T) {
	if Default() == nil || Default() != Default() {
		t.Error("Default should return one shared instance")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics(nil)
	m.ObserveVerdict(true, "clean", 0)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), `originguard_verdicts_total{allowed="true",reason="clean"} 1`) {
		t.Errorf("metrics output missing verdict counter:\n%s", body)
	}
}

func TestServerStartShutdown(t *testing.T) {
	t.Run("disabled server is a no-op", func(t *testing.T) {
		s := NewServer(Config{Enabled: false, Addr: "127.0.0.1:0"}, NewMetrics(nil), nil)
		if err := s.Start(context.Background()); err != nil {
			t.Errorf("Start() error = %v", err)
		}
		if err := s.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})

	t.Run("enabled server shuts down", func(t *testing.T) {
		s := NewServer(Config{Enabled: true, Addr: "127.0.0.1:0"}, NewMetrics(nil), nil)
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
}

func TestNewServerTLS(t *testing.T) {
	s := NewServer(Config{Enabled: true, Addr: "127.0.0.1:0", RequireTLS: true, TLSCert: "c.pem", TLSKey: "k.pem", ClientCA: "/missing/ca.pem"}, NewMetrics(nil), nil)
	if s.server.TLSConfig == nil {
		t.Fatal("TLS config should be set")
	}
	if s.server.TLSConfig.ClientCAs != nil {
		t.Error("unreadable client CA must not be installed")
	}
}

func TestLoadCertPool(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := loadCertPool("/path/to/missing.pem"); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("file without certificates", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ca.pem")
		if err := os.WriteFile(path, []byte("not a cert"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := loadCertPool(path); err == nil {
			t.Error("expected error for file without PEM certificates")
		}
	})
}
