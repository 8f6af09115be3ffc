package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/tphummel/smartmine/internal/apiclient"
	"github.com/tphummel/smartmine/internal/backendtest"
	"github.com/tphummel/smartmine/internal/equipment"
	"github.com/tphummel/smartmine/internal/form"
	"github.com/tphummel/smartmine/internal/maintenance"
	"github.com/tphummel/smartmine/internal/middleware"
	"github.com/tphummel/smartmine/internal/models"
	"github.com/tphummel/smartmine/internal/refresh"
	"github.com/tphummel/smartmine/internal/sample"
	"github.com/tphummel/smartmine/internal/store"
	"github.com/tphummel/smartmine/internal/web"
)

// fakeScheduler counts starts without running anything.
type fakeScheduler struct {
	starts atomic.Int32
	stops  atomic.Int32
}

func (f *fakeScheduler) Start(ctx context.Context) { f.starts.Add(1) }
func (f *fakeScheduler) Stop()                     { f.stops.Add(1) }

type fixture struct {
	backend   *backendtest.Server
	store     *store.Store
	scheduler *fakeScheduler
	server    *web.Server
	handler   http.Handler
}

// newFixture wires the console against a fake backend the same way main
// does. snap may be nil for the bundled sample.
func newFixture(t *testing.T, seed bool, snap *sample.Provider) *fixture {
	t.Helper()
	backend := backendtest.New(t)
	if seed {
		backend.Seed(t)
	}
	if snap == nil {
		snap = sample.New()
	}
	api := apiclient.NewClient(backend.URL, 0)
	eq := equipment.NewClient(api, snap, nil)
	st := store.New()
	loader := refresh.NewLoader(eq, st, nil)
	sched := &fakeScheduler{}

	srv, err := web.New(web.Options{
		Store:     st,
		Loader:    loader,
		Scheduler: sched,
		Submitter: &form.Submitter{
			Equipment:   eq,
			Maintenance: maintenance.NewClient(api),
			Store:       st,
			Refresh:     loader.Refresh,
		},
		Maintenance: maintenance.NewClient(api),
		Sample:      snap,
		Version:     "v1.2.3",
		Commit:      "abc123",
	})
	if err != nil {
		t.Fatalf("web.New: %v", err)
	}
	t.Cleanup(srv.Close)
	return &fixture{backend: backend, store: st, scheduler: sched, server: srv, handler: srv.Routes()}
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func (f *fixture) post(path string, v url.Values) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(v.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status: got %d, want %d\nbody: %s", w.Code, want, w.Body.String())
	}
}

func assertContains(t *testing.T, body string, want ...string) {
	t.Helper()
	for _, s := range want {
		if !strings.Contains(body, s) {
			t.Errorf("body missing %q", s)
		}
	}
}

func assertBefore(t *testing.T, body, first, second string) {
	t.Helper()
	i, j := strings.Index(body, first), strings.Index(body, second)
	if i < 0 || j < 0 || i > j {
		t.Errorf("%q (at %d) not before %q (at %d)", first, i, second, j)
	}
}

func addForm(code, name string) url.Values {
	return url.Values{
		form.FieldCode:             {code},
		form.FieldName:             {name},
		form.FieldType:             {"Dozer"},
		form.FieldUsageHours:       {"1200"},
		form.FieldMaintenanceLimit: {"4000"},
	}
}

// --- Health ---

func TestHealth(t *testing.T) {
	f := newFixture(t, true, nil)

	decode := func() map[string]string {
		t.Helper()
		w := f.get("/healthz")
		assertStatus(t, w, http.StatusOK)
		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return body
	}

	body := decode()
	if body["status"] != "ok" || body["version"] != "v1.2.3" || body["commit"] != "abc123" {
		t.Errorf("body: got %v", body)
	}
	if body["data"] != "unloaded" {
		t.Errorf("data before load: got %q, want unloaded", body["data"])
	}

	f.get("/dashboard")
	if got := decode()["data"]; got != "live" {
		t.Errorf("data after load: got %q, want live", got)
	}
}

func TestRoot_RedirectsToDashboard(t *testing.T) {
	f := newFixture(t, true, nil)
	w := f.get("/")
	assertStatus(t, w, http.StatusFound)
	if loc := w.Header().Get("Location"); loc != "/dashboard" {
		t.Errorf("Location: got %q, want /dashboard", loc)
	}
}

func TestResponses_CarryRequestID(t *testing.T) {
	f := newFixture(t, true, nil)
	w := f.get("/healthz")
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("response missing request id header")
	}
}

func TestStatic(t *testing.T) {
	f := newFixture(t, false, nil)
	w := f.get("/static/app.css")
	assertStatus(t, w, http.StatusOK)
	assertContains(t, w.Body.String(), ".bar-fill")
}

func TestSampleData(t *testing.T) {
	f := newFixture(t, false, nil)
	w := f.get("/sample-data.json")
	assertStatus(t, w, http.StatusOK)
	var body struct {
		Equipment []json.RawMessage `json:"equipment"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Equipment) != 8 {
		t.Errorf("equipment: got %d, want 8", len(body.Equipment))
	}
}

func TestSampleData_Missing(t *testing.T) {
	f := newFixture(t, false, sample.FromFS(fstest.MapFS{}))
	assertStatus(t, f.get("/sample-data.json"), http.StatusNotFound)
}

// --- Dashboard ---

func TestDashboard(t *testing.T) {
	f := newFixture(t, true, nil)
	w := f.get("/dashboard")
	assertStatus(t, w, http.StatusOK)
	body := w.Body.String()

	assertContains(t, body,
		`id="total-count">8<`,
		`id="good-count">2<`,
		`id="warning-count">4<`,
		`id="critical-count">2<`,
		`data-good="2"`, `data-warning="4"`, `data-critical="2"`,
	)
	assertBefore(t, body, "Bell B60E", "Atlas Copco ST18")
	assertBefore(t, body, "Liebherr T 284", "Atlas Copco ST18")
	if strings.Contains(body, "Komatsu PC8000") {
		t.Error("sixth alert shown in recent alerts")
	}
	if strings.Contains(body, "Hitachi EX8000") {
		t.Error("good unit shown in recent alerts")
	}
	if strings.Contains(body, "fallback-notice") {
		t.Error("fallback notice shown for live data")
	}
}

func TestDashboard_NoAlerts(t *testing.T) {
	f := newFixture(t, false, nil)
	f.backend.Add(t, models.Equipment{Code: "NEW-001", Name: "New Dozer", Type: "Dozer", UsageHours: 10, MaintenanceLimit: 5000})
	w := f.get("/dashboard")
	assertStatus(t, w, http.StatusOK)
	assertContains(t, w.Body.String(), "No active alerts", `id="total-count">1<`)
}

func TestDashboard_FallsBackToSample(t *testing.T) {
	f := newFixture(t, true, nil)
	f.backend.FailNext("/api/equipment", http.StatusInternalServerError)

	w := f.get("/dashboard")
	assertStatus(t, w, http.StatusOK)
	assertContains(t, w.Body.String(),
		`id="fallback-notice"`,
		"Backend unavailable: showing sample data",
		`id="total-count">8<`,
		`id="critical-count">2<`,
	)
}

func TestDashboard_Unavailable(t *testing.T) {
	f := newFixture(t, false, sample.FromFS(fstest.MapFS{}))
	f.backend.Close()

	w := f.get("/dashboard")
	assertStatus(t, w, http.StatusServiceUnavailable)
	assertContains(t, w.Body.String(), "Cannot load dashboard", "Retry", `href="/dashboard"`)
	if f.store.Loaded() {
		t.Error("store loaded despite failure")
	}
}

// --- Equipment ---

func TestEquipment_ListsAllUnits(t *testing.T) {
	f := newFixture(t, true, nil)
	w := f.get("/equipment")
	assertStatus(t, w, http.StatusOK)
	body := w.Body.String()
	assertContains(t, body, `id="equipment-list"`, "CAT-797F-001", "Hitachi EX8000", "width: 100%", "width: 84%")
	assertContains(t, body, `http-equiv="refresh" content="30"`)
	if f.scheduler.starts.Load() == 0 {
		t.Error("viewing equipment did not start the scheduler")
	}
}

func TestEquipment_Filters(t *testing.T) {
	cases := []struct {
		name    string
		query   string
		want    []string
		notWant []string
	}{
		{"search by type", "?q=Haul+Truck", []string{"Caterpillar 797F", "Liebherr T 284"}, []string{"Hitachi EX8000"}},
		{"search is case-insensitive", "?q=hitachi", []string{"Hitachi EX8000"}, []string{"Caterpillar 797F"}},
		{"search by code", "?q=kom-pc", []string{"Komatsu PC8000"}, []string{"Bell B60E"}},
		{"status filter", "?status=Critical", []string{"Bell B60E", "Liebherr T 284"}, []string{"Caterpillar 797F"}},
		{"combined", "?q=truck&status=Warning", []string{"Caterpillar 797F"}, []string{"Liebherr T 284", "Bell B60E"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, true, nil)
			w := f.get("/equipment" + tc.query)
			assertStatus(t, w, http.StatusOK)
			body := w.Body.String()
			assertContains(t, body, tc.want...)
			for _, s := range tc.notWant {
				if strings.Contains(body, s) {
					t.Errorf("body contains filtered-out %q", s)
				}
			}
		})
	}
}

func TestEquipment_FilterPersists(t *testing.T) {
	f := newFixture(t, true, nil)
	f.get("/equipment?status=Good")
	w := f.get("/equipment")
	body := w.Body.String()
	if strings.Contains(body, "Bell B60E") {
		t.Error("filter reset between requests")
	}
	assertContains(t, body, `<option value="Good" selected>`)

	w = f.get("/equipment?status=all&q=")
	assertContains(t, w.Body.String(), "Bell B60E", "Hitachi EX8000")
}

func TestEquipment_NoMatches(t *testing.T) {
	f := newFixture(t, true, nil)
	w := f.get("/equipment?q=bulldozer")
	assertStatus(t, w, http.StatusOK)
	assertContains(t, w.Body.String(), "No equipment found")
}

func TestEquipment_InvalidStatusFilter(t *testing.T) {
	f := newFixture(t, true, nil)
	w := f.get("/equipment?status=Broken")
	assertStatus(t, w, http.StatusBadRequest)
	assertContains(t, w.Body.String(), "toast-error", "invalid status filter")
	if got := f.store.Filter().Status; got != "all" {
		t.Errorf("filter: got %q, want all", got)
	}
}

func TestEquipment_NewForm(t *testing.T) {
	f := newFixture(t, true, nil)
	w := f.get("/equipment?new=1")
	assertStatus(t, w, http.StatusOK)
	body := w.Body.String()
	assertContains(t, body, `id="equipment-modal"`, "Add Equipment", `name="lastMaintenanceDate"`)
	if strings.Contains(body, `http-equiv="refresh"`) {
		t.Error("page auto-reloads while the form is open")
	}
}

func TestEquipment_EditForm(t *testing.T) {
	f := newFixture(t, true, nil)
	w := f.get("/equipment?edit=3")
	assertStatus(t, w, http.StatusOK)
	body := w.Body.String()
	assertContains(t, body, "Edit Equipment", `value="CAT-797F-001"`, `value="4200"`, `action="/equipment/3"`, "Warning · 84%")
	if strings.Contains(body, `name="lastMaintenanceDate"`) {
		t.Error("edit form offers an initial service date")
	}

	assertStatus(t, f.get("/equipment?edit=99"), http.StatusNotFound)
}

func TestEquipment_DeleteConfirmation(t *testing.T) {
	f := newFixture(t, true, nil)
	body := f.get("/equipment").Body.String()
	assertContains(t, body, "Delete Caterpillar 797F? This cannot be undone.", `action="/equipment/3/delete"`)
}

func TestCreate(t *testing.T) {
	f := newFixture(t, true, nil)
	f.get("/equipment")

	v := addForm("CAT-D11-009", "Caterpillar D11")
	v.Set(form.FieldLastMaintenanceDate, "2024-06-01")
	w := f.post("/equipment", v)
	assertStatus(t, w, http.StatusSeeOther)

	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	q := loc.Query()
	if q.Get("toast") != "Equipment added successfully!" || q.Get("toast_kind") != "success" {
		t.Errorf("toast: got %v", q)
	}
	if q.Get("toast_detail") != "Caterpillar D11 has been added to the fleet." {
		t.Errorf("toast_detail: got %q", q.Get("toast_detail"))
	}

	if got := len(f.store.All()); got != 9 {
		t.Errorf("store after create: got %d units, want 9", got)
	}
	recs := f.backend.Maintenance(t)
	if len(recs) != 4 {
		t.Fatalf("maintenance records: got %d, want 4", len(recs))
	}

	// Following the redirect shows the toast.
	follow := f.get(loc.String())
	assertContains(t, follow.Body.String(), `id="toast"`, "Equipment added successfully!", "Caterpillar D11")
}

func TestCreate_ValidationError(t *testing.T) {
	f := newFixture(t, true, nil)
	v := addForm("CAT-D11-009", "")
	w := f.post("/equipment", v)
	assertStatus(t, w, http.StatusUnprocessableEntity)
	assertContains(t, w.Body.String(), `id="form-error"`, "Please fill all required fields", `value="CAT-D11-009"`)
	if n := len(f.backend.RequestsTo(http.MethodPost, "/api/equipment")); n != 0 {
		t.Errorf("backend POSTs: got %d, want 0", n)
	}
}

func TestCreate_ZeroLimitRejected(t *testing.T) {
	f := newFixture(t, true, nil)
	v := addForm("CAT-D11-009", "Caterpillar D11")
	v.Set(form.FieldMaintenanceLimit, "0")
	w := f.post("/equipment", v)
	assertStatus(t, w, http.StatusUnprocessableEntity)
	assertContains(t, w.Body.String(), "Maintenance limit must be greater than 0")
}

func TestCreate_DuplicateCode(t *testing.T) {
	f := newFixture(t, true, nil)
	w := f.post("/equipment", addForm("CAT-797F-001", "Another 797F"))
	assertStatus(t, w, http.StatusUnprocessableEntity)
	assertContains(t, w.Body.String(), "Failed to add equipment: Equipment code already exists")
}

func TestCreate_BackendFailure(t *testing.T) {
	f := newFixture(t, true, nil)
	f.backend.FailNext("/api/equipment", http.StatusInternalServerError)
	w := f.post("/equipment", addForm("CAT-D11-009", "Caterpillar D11"))
	assertStatus(t, w, http.StatusBadGateway)
	assertContains(t, w.Body.String(), "Server responded with 500")
}

func TestEdit(t *testing.T) {
	f := newFixture(t, true, nil)
	f.get("/equipment")

	v := addForm("CAT-797F-001", "Caterpillar 797F Mk2")
	w := f.post("/equipment/3", v)
	assertStatus(t, w, http.StatusSeeOther)
	assertContains(t, w.Header().Get("Location"), "Equipment+updated+successfully")

	e, ok := f.store.ByID(3)
	if !ok || e.Name != "Caterpillar 797F Mk2" {
		t.Errorf("store after edit: got %+v, ok=%v", e, ok)
	}
}

func TestEdit_NotFound(t *testing.T) {
	f := newFixture(t, true, nil)
	w := f.post("/equipment/99", addForm("NOPE-1", "Nope"))
	assertStatus(t, w, http.StatusNotFound)
	assertContains(t, w.Body.String(), "Failed to update equipment: Equipment not found")
}

func TestEdit_BadID(t *testing.T) {
	f := newFixture(t, true, nil)
	assertStatus(t, f.post("/equipment/abc", addForm("X-1", "X")), http.StatusBadRequest)
}

func TestDelete_RemovesWithoutRefetch(t *testing.T) {
	f := newFixture(t, true, nil)
	f.get("/equipment")
	lists := len(f.backend.RequestsTo(http.MethodGet, "/api/equipment"))

	w := f.post("/equipment/2/delete", nil)
	assertStatus(t, w, http.StatusSeeOther)
	assertContains(t, w.Header().Get("Location"), "Equipment+deleted+successfully")

	if _, ok := f.store.ByID(2); ok {
		t.Error("deleted unit still in store")
	}
	if got := len(f.backend.RequestsTo(http.MethodGet, "/api/equipment")); got != lists {
		t.Errorf("list requests: got %d, want %d", got, lists)
	}
	if got := len(f.backend.Equipment(t)); got != 7 {
		t.Errorf("backend units: got %d, want 7", got)
	}
}

func TestDelete_Failure(t *testing.T) {
	f := newFixture(t, true, nil)
	f.get("/equipment")
	f.backend.FailNext("/api/equipment/2", http.StatusInternalServerError)

	w := f.post("/equipment/2/delete", nil)
	assertStatus(t, w, http.StatusBadGateway)
	assertContains(t, w.Body.String(), "Failed to delete equipment")
	if _, ok := f.store.ByID(2); !ok {
		t.Error("unit removed locally after a failed delete")
	}
}

// --- Alerts ---

func TestAlerts(t *testing.T) {
	f := newFixture(t, true, nil)
	w := f.get("/alerts")
	assertStatus(t, w, http.StatusOK)
	body := w.Body.String()
	assertContains(t, body, `id="alert-list"`, "Immediate maintenance required", "Schedule maintenance soon", "Komatsu PC8000")
	assertBefore(t, body, "Liebherr T 284", "Atlas Copco ST18")
	if strings.Contains(body, "Sandvik DD422i") {
		t.Error("good unit listed as alert")
	}
}

// --- Maintenance ---

func TestMaintenance(t *testing.T) {
	f := newFixture(t, true, nil)
	w := f.get("/maintenance")
	assertStatus(t, w, http.StatusOK)
	body := w.Body.String()
	assertContains(t, body, `id="maintenance-list"`, "Engine Overhaul", "John Smith", "Bell B60E")
	assertBefore(t, body, "2024-03-15", "2024-03-10")
	assertBefore(t, body, "2024-03-10", "2024-03-05")
}

func TestMaintenance_BackendFailure(t *testing.T) {
	f := newFixture(t, true, nil)
	f.backend.FailNext("/api/maintenance", http.StatusInternalServerError)
	w := f.get("/maintenance")
	assertStatus(t, w, http.StatusBadGateway)
	assertContains(t, w.Body.String(), "Cannot load maintenance records", "Server responded with 500", `href="/maintenance"`)
}

func TestClose_StopsScheduler(t *testing.T) {
	f := newFixture(t, true, nil)
	f.server.Close()
	if f.scheduler.stops.Load() == 0 {
		t.Error("Close did not stop the scheduler")
	}
}

// brokenWriter accepts headers but fails every body write.
type brokenWriter struct {
	header http.Header
}

func (b *brokenWriter) Header() http.Header       { return b.header }
func (b *brokenWriter) WriteHeader(int)           {}
func (b *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestWriteFailuresLogged(t *testing.T) {
	var logs bytes.Buffer
	srv, err := web.New(web.Options{
		Store:  store.New(),
		Sample: sample.New(),
		Logger: slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	if err != nil {
		t.Fatalf("web.New: %v", err)
	}
	h := srv.Routes()

	for _, path := range []string{"/healthz", "/sample-data.json"} {
		t.Run(path, func(t *testing.T) {
			logs.Reset()
			h.ServeHTTP(&brokenWriter{header: http.Header{}}, httptest.NewRequest(http.MethodGet, path, nil))
			out := logs.String()
			if !strings.Contains(out, "write response") || !strings.Contains(out, "connection reset") {
				t.Errorf("log: got %q, want write error for %s", out, path)
			}
		})
	}
}
