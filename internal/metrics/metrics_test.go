package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue returns the value of the counter name with the given labels.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestObserveTool(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveTool("list", 10*time.Millisecond, nil)
	c.ObserveTool("list", 20*time.Millisecond, nil)
	c.ObserveTool("add", time.Millisecond, errors.New("exit 1"))

	if got := counterValue(t, reg, "foxtales_calibredb_calls_total", map[string]string{"command": "list", "outcome": "success"}); got != 2 {
		t.Errorf("list successes = %v, want 2", got)
	}
	if got := counterValue(t, reg, "foxtales_calibredb_calls_total", map[string]string{"command": "add", "outcome": "failure"}); got != 1 {
		t.Errorf("add failures = %v, want 1", got)
	}

	families, _ := reg.Gather()
	for _, mf := range families {
		if mf.GetName() == "foxtales_calibredb_duration_seconds" {
			for _, m := range mf.GetMetric() {
				if m.GetLabel()[0].GetValue() == "list" && m.GetHistogram().GetSampleCount() != 2 {
					t.Errorf("list samples = %d, want 2", m.GetHistogram().GetSampleCount())
				}
			}
		}
	}
}

func TestObserveCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveCache(false)
	c.ObserveCache(true)
	c.ObserveCache(true)

	if got := counterValue(t, reg, "foxtales_cover_cache_lookups_total", map[string]string{"result": "hit"}); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
	if got := counterValue(t, reg, "foxtales_cover_cache_lookups_total", map[string]string{"result": "miss"}); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	for _, p := range []string{"/", "/", "/missing"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	if got := counterValue(t, reg, "foxtales_http_responses_total", map[string]string{"status_code": "200"}); got != 2 {
		t.Errorf("200s = %v, want 2", got)
	}
	if got := counterValue(t, reg, "foxtales_http_responses_total", map[string]string{"status_code": "404"}); got != 1 {
		t.Errorf("404s = %v, want 1", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordLogin("success")

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `foxtales_logins_total{outcome="success"} 1`) {
		t.Errorf("body missing login counter:\n%s", body)
	}
}
