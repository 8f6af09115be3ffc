// Package web serves the maintenance console as server-rendered HTML.
package web

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphummel/smartmine/internal/form"
	"github.com/tphummel/smartmine/internal/maintenance"
	"github.com/tphummel/smartmine/internal/metrics"
	"github.com/tphummel/smartmine/internal/middleware"
	"github.com/tphummel/smartmine/internal/models"
	"github.com/tphummel/smartmine/internal/refresh"
	"github.com/tphummel/smartmine/internal/store"
)

//go:embed templates/*.html templates/partials/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

var pageNames = []string{"dashboard", "equipment", "alerts", "maintenance"}

// InitialLoader performs the first load of the collection.
type InitialLoader interface {
	Initial(ctx context.Context) (refresh.Outcome, error)
}

// Scheduler runs the periodic refresh.
type Scheduler interface {
	Start(ctx context.Context)
	Stop()
}

// MaintenanceLister reads the service history.
type MaintenanceLister interface {
	List(ctx context.Context) ([]models.MaintenanceRecord, error)
}

// SampleSource serves the raw bundled snapshot.
type SampleSource interface {
	Raw() ([]byte, error)
}

// Options holds the server's dependencies. Store, Loader, Submitter and
// Maintenance are required.
type Options struct {
	Store       *store.Store
	Loader      InitialLoader
	Scheduler   Scheduler
	Submitter   *form.Submitter
	Maintenance MaintenanceLister
	Sample      SampleSource
	Logger      *slog.Logger
	// Gatherer backs /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer

	// RefreshInterval is advertised to the equipment page so it reloads in
	// step with the scheduler.
	RefreshInterval time.Duration

	Version string
	Commit  string
}

// Server renders the console pages.
type Server struct {
	opts   Options
	logger *slog.Logger
	pages  map[string]*template.Template
}

// New parses the embedded templates and returns a server.
func New(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = refresh.DefaultInterval
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	base, err := template.New("").Funcs(templateFuncs()).ParseFS(templateFS,
		"templates/layout.html", "templates/partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone layout for %s: %w", name, err)
		}
		if _, err := t.ParseFS(templateFS, "templates/"+name+".html"); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		pages[name] = t
	}
	return &Server{opts: opts, logger: logger, pages: pages}, nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"lower": func(s models.Status) string { return strings.ToLower(string(s)) },
		"confirmDelete": func(name string) string {
			return fmt.Sprintf("Delete %s? This cannot be undone.", name)
		},
		"displayName":   maintenance.DisplayName,
		"chartGradient": chartGradient,
	}
}

// chartGradient draws the status distribution as a conic gradient.
func chartGradient(sum models.DashboardSummary) template.CSS {
	if sum.Total == 0 {
		return "#E2E8F0 0% 100%"
	}
	good := sum.Good * 100 / sum.Total
	warning := good + sum.Warning*100/sum.Total
	return template.CSS(fmt.Sprintf("#10B981 0%% %d%%, #F59E0B %d%% %d%%, #EF4444 %d%% 100%%",
		good, good, warning, warning))
}

// Routes builds the console's router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestIDs)
	r.Use(func(next http.Handler) http.Handler {
		return middleware.RequestLogger(s.logger, skipLogging, next)
	})
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", metrics.Handler(s.opts.Gatherer))
	r.Get("/sample-data.json", s.sampleData)

	static, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServerFS(static)))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
	})
	r.Get("/dashboard", s.dashboard)
	r.Get("/alerts", s.alerts)
	r.Get("/maintenance", s.maintenance)

	r.Route("/equipment", func(r chi.Router) {
		r.Get("/", s.equipment)
		r.Post("/", s.createEquipment)
		r.Post("/{id}", s.editEquipment)
		r.Post("/{id}/delete", s.deleteEquipment)
	})
	return r
}

// Close stops the background refresh and drops any list response still in
// flight.
func (s *Server) Close() {
	if s.opts.Scheduler != nil {
		s.opts.Scheduler.Stop()
	}
	s.opts.Store.Invalidate()
}

func skipLogging(r *http.Request) bool {
	return r.URL.Path == "/healthz" || r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/static/")
}

// render executes a page into a buffer first so a template error can still
// produce a clean 500.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.pages[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		s.logger.ErrorContext(r.Context(), "render page", "page", name, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.DebugContext(r.Context(), "write response", "page", name, "error", err)
	}
}
