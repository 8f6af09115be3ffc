// Package backendtest runs an in-process SmartMine backend over SQLite for
// tests. It answers the same REST contract as the real backend, including
// its quirks: POST returns {message,id}, PUT returns {message}, alerts key
// the unit as equipment_id.
package backendtest

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/tphummel/smartmine/internal/middleware"
	"github.com/tphummel/smartmine/internal/models"
)

// Request is one request the fake received.
type Request struct {
	Method    string
	Path      string
	Body      []byte
	RequestID string
}

// Server is a running fake backend.
type Server struct {
	URL string

	srv *httptest.Server
	db  *db

	mu       sync.Mutex
	failures map[string][]int
	requests []Request
}

// New starts an empty fake backend. It is shut down when the test ends.
func New(tb testing.TB) *Server {
	tb.Helper()

	d, err := openDB()
	if err != nil {
		tb.Fatalf("backendtest: %v", err)
	}
	s := &Server{db: d, failures: make(map[string][]int)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/equipment", s.listEquipment)
	mux.HandleFunc("POST /api/equipment", s.createEquipment)
	mux.HandleFunc("PUT /api/equipment/{id}", s.updateEquipment)
	mux.HandleFunc("DELETE /api/equipment/{id}", s.deleteEquipment)
	mux.HandleFunc("POST /api/equipment/{id}/update-hours", s.updateHours)
	mux.HandleFunc("GET /api/alerts", s.alerts)
	mux.HandleFunc("GET /api/dashboard-summary", s.dashboardSummary)
	mux.HandleFunc("GET /api/maintenance", s.listMaintenance)
	mux.HandleFunc("POST /api/maintenance", s.createMaintenance)

	s.srv = httptest.NewServer(s.intercept(mux))
	s.URL = s.srv.URL
	tb.Cleanup(func() {
		s.srv.Close()
		d.close()
	})
	return s
}

// Close stops accepting connections; later requests fail at the transport.
func (s *Server) Close() {
	s.srv.Close()
}

// FailNext makes the next request to path answer status with an empty body.
// Calls queue up.
func (s *Server) FailNext(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = append(s.failures[path], status)
}

// Requests returns every request received so far, in order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsTo returns the requests matching method and path.
func (s *Server) RequestsTo(method, path string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Equipment reads the equipment table directly.
func (s *Server) Equipment(tb testing.TB) []models.Equipment {
	tb.Helper()
	list, err := s.db.listEquipment()
	if err != nil {
		tb.Fatalf("backendtest: list equipment: %v", err)
	}
	return list
}

// Maintenance reads the maintenance table directly.
func (s *Server) Maintenance(tb testing.TB) []models.MaintenanceRecord {
	tb.Helper()
	list, err := s.db.listMaintenance()
	if err != nil {
		tb.Fatalf("backendtest: list maintenance: %v", err)
	}
	return list
}

// Add inserts a unit directly and returns its id.
func (s *Server) Add(tb testing.TB, e models.Equipment) int64 {
	tb.Helper()
	if err := s.db.createEquipment(&e); err != nil {
		tb.Fatalf("backendtest: add %s: %v", e.Code, err)
	}
	return e.ID
}

// Seed loads the backend's stock dataset: eight units and three service
// records.
func (s *Server) Seed(tb testing.TB) {
	tb.Helper()
	units := []models.Equipment{
		{Code: "ATL-ST18-005", Name: "Atlas Copco ST18", Type: "Scooptram", UsageHours: 3400, MaintenanceLimit: 4000},
		{Code: "BEL-B60E-008", Name: "Bell B60E", Type: "Articulated Truck", UsageHours: 6100, MaintenanceLimit: 5000},
		{Code: "CAT-797F-001", Name: "Caterpillar 797F", Type: "Haul Truck", UsageHours: 4200, MaintenanceLimit: 5000},
		{Code: "EPI-BM2-006", Name: "Epiroc Boomer M2", Type: "Face Drill", UsageHours: 2900, MaintenanceLimit: 3000},
		{Code: "HIT-EX8000-007", Name: "Hitachi EX8000", Type: "Excavator", UsageHours: 1800, MaintenanceLimit: 2500},
		{Code: "KOM-PC8000-002", Name: "Komatsu PC8000", Type: "Excavator", UsageHours: 4850, MaintenanceLimit: 5000},
		{Code: "LIE-T284-003", Name: "Liebherr T 284", Type: "Haul Truck", UsageHours: 5200, MaintenanceLimit: 5000},
		{Code: "SAN-DD422-004", Name: "Sandvik DD422i", Type: "Drill Jumbo", UsageHours: 2100, MaintenanceLimit: 3000},
	}
	for _, u := range units {
		s.Add(tb, u)
	}
	recs := []models.MaintenanceRecord{
		{EquipmentID: 2, ServiceDate: "2024-03-15", MaintenanceType: "Engine Overhaul", Technician: "John Smith", Description: "Complete engine teardown and rebuild", UsageAtService: 5500},
		{EquipmentID: 3, ServiceDate: "2024-03-10", MaintenanceType: "Brake Inspection", Technician: "Maria Garcia", Description: "Brake system check and pad replacement", UsageAtService: 4000},
		{EquipmentID: 1, ServiceDate: "2024-03-05", MaintenanceType: "Hydraulic Service", Technician: "Robert Chen", Description: "Hydraulic fluid change and hose inspection", UsageAtService: 3200},
	}
	for _, r := range recs {
		if err := s.db.createMaintenance(&r); err != nil {
			tb.Fatalf("backendtest: seed maintenance: %v", err)
		}
	}
}

// intercept records every request and applies queued failures.
func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:    r.Method,
			Path:      r.URL.Path,
			Body:      body,
			RequestID: r.Header.Get(middleware.RequestIDHeader),
		})
		var fail int
		if q := s.failures[r.URL.Path]; len(q) > 0 {
			fail, s.failures[r.URL.Path] = q[0], q[1:]
		}
		s.mu.Unlock()

		if fail != 0 {
			w.WriteHeader(fail)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil
}

// status mirrors the backend's own ratio rule, which can disagree with the
// client's rounding near the thresholds.
func status(e models.Equipment) models.Status {
	if e.MaintenanceLimit <= 0 {
		return models.StatusCritical
	}
	switch ratio := float64(e.UsageHours) / float64(e.MaintenanceLimit); {
	case ratio >= 1:
		return models.StatusCritical
	case ratio >= 0.75:
		return models.StatusWarning
	}
	return models.StatusGood
}

func (s *Server) listEquipment(w http.ResponseWriter, r *http.Request) {
	list, err := s.db.listEquipment()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list equipment")
		return
	}
	for i := range list {
		list[i].Status = status(list[i])
	}
	writeJSON(w, http.StatusOK, list)
}

// equipmentPatch holds optional fields; absent keys keep the stored value.
type equipmentPatch struct {
	Code             *string `json:"code"`
	Name             *string `json:"name"`
	Type             *string `json:"type"`
	UsageHours       *int    `json:"usage_hours"`
	MaintenanceLimit *int    `json:"maintenance_limit"`
}

func decodePatch(w http.ResponseWriter, r *http.Request) (equipmentPatch, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
	var p equipmentPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return p, false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return p, false
	}
	return p, true
}

func (s *Server) createEquipment(w http.ResponseWriter, r *http.Request) {
	p, ok := decodePatch(w, r)
	if !ok {
		return
	}
	if p.Code == nil || p.Name == nil || p.Type == nil || p.MaintenanceLimit == nil ||
		*p.Code == "" || *p.Name == "" || *p.Type == "" {
		writeError(w, http.StatusBadRequest, "code, name, type, and maintenance_limit are required")
		return
	}
	e := models.Equipment{Code: *p.Code, Name: *p.Name, Type: *p.Type, MaintenanceLimit: *p.MaintenanceLimit}
	if p.UsageHours != nil {
		e.UsageHours = *p.UsageHours
	}
	if err := s.db.createEquipment(&e); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			writeError(w, http.StatusBadRequest, "Equipment code already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create equipment")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Equipment added successfully", "id": e.ID})
}

func (s *Server) updateEquipment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Equipment not found")
		return
	}
	e, err := s.db.getEquipment(id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "Equipment not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get equipment")
		return
	}
	p, ok := decodePatch(w, r)
	if !ok {
		return
	}
	if p.Code != nil {
		e.Code = *p.Code
	}
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.UsageHours != nil {
		e.UsageHours = *p.UsageHours
	}
	if p.MaintenanceLimit != nil {
		e.MaintenanceLimit = *p.MaintenanceLimit
	}
	if err := s.db.updateEquipment(e); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update equipment")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Equipment updated successfully"})
}

func (s *Server) deleteEquipment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Equipment not found")
		return
	}
	err := s.db.deleteEquipment(id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "Equipment not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete equipment")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Equipment deleted successfully"})
}

func (s *Server) updateHours(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Equipment not found")
		return
	}
	e, err := s.db.getEquipment(id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "Equipment not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get equipment")
		return
	}
	p, ok := decodePatch(w, r)
	if !ok {
		return
	}
	if p.UsageHours != nil {
		e.UsageHours = *p.UsageHours
	}
	if err := s.db.updateEquipment(e); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update equipment")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Hours updated",
		"equipment": map[string]any{
			"id":          e.ID,
			"code":        e.Code,
			"name":        e.Name,
			"usage_hours": e.UsageHours,
			"status":      status(*e),
		},
	})
}

func (s *Server) alerts(w http.ResponseWriter, r *http.Request) {
	list, err := s.db.listEquipment()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list equipment")
		return
	}
	out := []map[string]any{}
	for _, e := range list {
		st := status(e)
		if st == models.StatusGood {
			continue
		}
		out = append(out, map[string]any{
			"equipment_id":      e.ID,
			"code":              e.Code,
			"name":              e.Name,
			"status":            st,
			"usage_hours":       e.UsageHours,
			"maintenance_limit": e.MaintenanceLimit,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) dashboardSummary(w http.ResponseWriter, r *http.Request) {
	list, err := s.db.listEquipment()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list equipment")
		return
	}
	sum := models.DashboardSummary{Total: len(list)}
	for _, e := range list {
		switch status(e) {
		case models.StatusGood:
			sum.Good++
		case models.StatusWarning:
			sum.Warning++
		case models.StatusCritical:
			sum.Critical++
		}
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) listMaintenance(w http.ResponseWriter, r *http.Request) {
	list, err := s.db.listMaintenance()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list maintenance")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createMaintenance(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
	var m models.MaintenanceRecord
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if m.EquipmentID == 0 || m.ServiceDate == "" || m.MaintenanceType == "" || m.Technician == "" {
		writeError(w, http.StatusBadRequest, "equipment_id, service_date, maintenance_type, and technician are required")
		return
	}
	m.EquipmentName = ""
	if err := s.db.createMaintenance(&m); err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			writeError(w, http.StatusBadRequest, "Equipment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create maintenance record")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Maintenance record added", "id": m.ID})
}
