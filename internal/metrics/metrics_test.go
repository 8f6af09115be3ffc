package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/tphummel/smartmine/internal/metrics"
	"github.com/tphummel/smartmine/internal/models"
)

type fakeSource struct {
	counts   map[models.Status]int
	fallback bool
}

func (f fakeSource) CountByStatus() map[models.Status]int { return f.counts }
func (f fakeSource) UsingFallback() bool                  { return f.fallback }

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestEquipmentCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.Register(reg, fakeSource{
		counts:   map[models.Status]int{models.StatusGood: 2, models.StatusCritical: 3},
		fallback: true,
	})

	families := gather(t, reg)

	units, ok := families["smartmine_equipment"]
	if !ok {
		t.Fatal("smartmine_equipment not exported")
	}
	got := map[string]float64{}
	for _, m := range units.GetMetric() {
		got[labelValue(m, "status")] = m.GetGauge().GetValue()
	}
	want := map[string]float64{"Good": 2, "Warning": 0, "Critical": 3}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("smartmine_equipment{status=%q}: got %v, want %v", k, got[k], v)
		}
	}

	fb, ok := families["smartmine_equipment_fallback"]
	if !ok {
		t.Fatal("smartmine_equipment_fallback not exported")
	}
	if v := fb.GetMetric()[0].GetGauge().GetValue(); v != 1 {
		t.Errorf("smartmine_equipment_fallback: got %v, want 1", v)
	}
}

func TestObserveHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.Register(reg, fakeSource{})

	metrics.ObserveBackendCall(http.MethodGet, "/api/equipment", "ok", 10*time.Millisecond)
	metrics.ObserveFallback(true)
	metrics.ObserveRefresh("accepted")

	families := gather(t, reg)
	for _, name := range []string{
		"smartmine_backend_requests_total",
		"smartmine_backend_request_duration_seconds",
		"smartmine_fallback_loads_total",
		"smartmine_refreshes_total",
	} {
		if _, ok := families[name]; !ok {
			t.Errorf("%s not exported after observation", name)
		}
	}
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.Register(reg, fakeSource{})

	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/equipment/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/equipment/42", nil))

	families := gather(t, reg)
	total, ok := families["smartmine_http_requests_total"]
	if !ok {
		t.Fatal("smartmine_http_requests_total not exported")
	}
	found := false
	for _, m := range total.GetMetric() {
		if labelValue(m, "path") == "/equipment/{id}" && labelValue(m, "status") == "418" {
			found = true
		}
		if labelValue(m, "path") == "/equipment/42" {
			t.Error("path label used the raw URL instead of the route pattern")
		}
	}
	if !found {
		t.Error("no sample for GET /equipment/{id} 418")
	}
}
