package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tphummel/smartmine/internal/apiclient"
	"github.com/tphummel/smartmine/internal/derive"
	"github.com/tphummel/smartmine/internal/form"
	"github.com/tphummel/smartmine/internal/health"
	"github.com/tphummel/smartmine/internal/models"
	"github.com/tphummel/smartmine/internal/refresh"
)

// page is the layout's data; every page embeds it.
type page struct {
	Title          string
	Nav            string
	Fallback       bool
	RefreshSeconds int
	Toast          *form.Toast
}

type unavailable struct {
	What     string
	Error    string
	RetryURL string
}

type dashboardPage struct {
	page
	Unavailable *unavailable
	Summary     models.DashboardSummary
	Recent      []derive.Unit
}

type statusOption struct {
	Value    models.StatusFilter
	Label    string
	Selected bool
}

type formView struct {
	Heading   string
	Action    string
	Submit    string
	Editing   bool
	Input     form.Input
	Preview   health.Health
	PreviewOK bool
	Error     string
}

type equipmentPage struct {
	page
	Unavailable   *unavailable
	Filter        models.FilterState
	StatusOptions []statusOption
	Units         []derive.Unit
	Form          *formView
}

type alertsPage struct {
	page
	Unavailable *unavailable
	Alerts      []derive.Unit
}

type maintenancePage struct {
	page
	Unavailable *unavailable
	Records     []models.MaintenanceRecord
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.DebugContext(r.Context(), "write response", "path", r.URL.Path, "error", err)
	}
}

// health handles GET /healthz.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	data := "unloaded"
	if s.opts.Store.Loaded() {
		data = string(s.opts.Store.Source())
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.opts.Version,
		"commit":  s.opts.Commit,
		"data":    data,
	})
}

// sampleData handles GET /sample-data.json.
func (s *Server) sampleData(w http.ResponseWriter, r *http.Request) {
	if s.opts.Sample == nil {
		http.NotFound(w, r)
		return
	}
	raw, err := s.opts.Sample.Raw()
	if err != nil {
		s.logger.WarnContext(r.Context(), "sample data unavailable", "error", err)
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(raw); err != nil {
		s.logger.DebugContext(r.Context(), "write response", "path", r.URL.Path, "error", err)
	}
}

// ensureLoaded performs the initial load on first use. The returned panel is
// nil once the store holds a collection.
func (s *Server) ensureLoaded(ctx context.Context, what, retry string) *unavailable {
	if s.opts.Store.Loaded() {
		return nil
	}
	_, err := s.opts.Loader.Initial(ctx)
	if err == nil || (errors.Is(err, refresh.ErrSuperseded) && s.opts.Store.Loaded()) {
		return nil
	}
	return &unavailable{What: what, Error: err.Error(), RetryURL: retry}
}

func (s *Server) basePage(title, nav string, r *http.Request) page {
	return page{
		Title:    title,
		Nav:      nav,
		Fallback: s.opts.Store.UsingFallback(),
		Toast:    toastFromQuery(r.URL.Query()),
	}
}

// dashboard handles GET /dashboard.
func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	data := dashboardPage{Unavailable: s.ensureLoaded(r.Context(), "dashboard", "/dashboard")}
	data.page = s.basePage("Dashboard", "dashboard", r)
	if data.Unavailable != nil {
		s.render(w, r, http.StatusServiceUnavailable, "dashboard", data)
		return
	}
	all := s.opts.Store.All()
	data.Summary = derive.Summary(all)
	data.Recent = derive.Units(derive.Recent(all, derive.DefaultRecent))
	s.render(w, r, http.StatusOK, "dashboard", data)
}

// alerts handles GET /alerts.
func (s *Server) alerts(w http.ResponseWriter, r *http.Request) {
	data := alertsPage{Unavailable: s.ensureLoaded(r.Context(), "alerts", "/alerts")}
	data.page = s.basePage("Alerts", "alerts", r)
	if data.Unavailable != nil {
		s.render(w, r, http.StatusServiceUnavailable, "alerts", data)
		return
	}
	data.Alerts = derive.Units(derive.Alerts(s.opts.Store.All()))
	s.render(w, r, http.StatusOK, "alerts", data)
}

// maintenance handles GET /maintenance. Records come straight from the
// backend; there is no snapshot to fall back to.
func (s *Server) maintenance(w http.ResponseWriter, r *http.Request) {
	data := maintenancePage{page: s.basePage("Maintenance", "maintenance", r)}
	recs, err := s.opts.Maintenance.List(r.Context())
	if err != nil {
		s.logger.WarnContext(r.Context(), "list maintenance failed", "error", err)
		data.Unavailable = &unavailable{What: "maintenance records", Error: apiclient.Message(err), RetryURL: "/maintenance"}
		s.render(w, r, http.StatusBadGateway, "maintenance", data)
		return
	}
	data.Records = recs
	s.render(w, r, http.StatusOK, "maintenance", data)
}

// equipment handles GET /equipment. The q and status parameters update the
// shared filter; new=1 and edit=ID open the form.
func (s *Server) equipment(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := http.StatusOK
	var toast *form.Toast

	if q.Has("q") {
		s.opts.Store.SetQuery(q.Get("q"))
	}
	if q.Has("status") {
		if err := s.opts.Store.SetStatusFilter(models.StatusFilter(q.Get("status"))); err != nil {
			status = http.StatusBadRequest
			toast = &form.Toast{Kind: form.ToastError, Message: err.Error()}
		}
	}

	var fv *formView
	switch {
	case q.Get("new") != "":
		fv = newForm(form.Input{})
	case q.Get("edit") != "":
		id, err := strconv.ParseInt(q.Get("edit"), 10, 64)
		e, ok := s.opts.Store.ByID(id)
		if err != nil || !ok {
			status = http.StatusNotFound
			toast = &form.Toast{Kind: form.ToastError, Message: "Equipment not found"}
			break
		}
		fv = editForm(id, form.FromEquipment(e))
	}

	s.renderEquipment(w, r, status, fv, toast)
}

func (s *Server) renderEquipment(w http.ResponseWriter, r *http.Request, status int, fv *formView, toast *form.Toast) {
	data := equipmentPage{Unavailable: s.ensureLoaded(r.Context(), "equipment", "/equipment")}
	data.page = s.basePage("Equipment", "equipment", r)
	if toast != nil {
		data.Toast = toast
	}
	data.Form = fv
	data.Filter = s.opts.Store.Filter()
	data.StatusOptions = statusOptions(data.Filter.Status)
	if data.Unavailable != nil {
		s.render(w, r, http.StatusServiceUnavailable, "equipment", data)
		return
	}

	if s.opts.Scheduler != nil {
		s.opts.Scheduler.Start(context.Background())
	}
	if fv == nil {
		data.RefreshSeconds = int(s.opts.RefreshInterval.Seconds())
	}
	data.Units = derive.Units(s.opts.Store.View())
	s.render(w, r, status, "equipment", data)
}

func statusOptions(selected models.StatusFilter) []statusOption {
	opts := []statusOption{
		{Value: models.FilterAll, Label: "All Status"},
		{Value: models.StatusFilter(models.StatusGood), Label: "Good"},
		{Value: models.StatusFilter(models.StatusWarning), Label: "Warning"},
		{Value: models.StatusFilter(models.StatusCritical), Label: "Critical"},
	}
	for i := range opts {
		opts[i].Selected = opts[i].Value == selected
	}
	return opts
}

func newForm(in form.Input) *formView {
	fv := &formView{Heading: "Add Equipment", Action: "/equipment", Submit: "Add Equipment", Input: in}
	fv.Preview, fv.PreviewOK = form.Preview(in.UsageHours, in.MaintenanceLimit)
	return fv
}

func editForm(id int64, in form.Input) *formView {
	fv := &formView{
		Heading: "Edit Equipment",
		Action:  "/equipment/" + strconv.FormatInt(id, 10),
		Submit:  "Save Changes",
		Editing: true,
		Input:   in,
	}
	fv.Preview, fv.PreviewOK = form.Preview(in.UsageHours, in.MaintenanceLimit)
	return fv
}

// createEquipment handles POST /equipment.
func (s *Server) createEquipment(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	in := form.FromValues(r.PostForm)
	toast, err := s.opts.Submitter.Create(r.Context(), in)
	s.opts.Submitter.Settle()
	if err != nil {
		fv := newForm(in)
		s.failSubmission(w, r, err, toast, fv)
		return
	}
	redirectWithToast(w, r, toast)
}

// editEquipment handles POST /equipment/{id}.
func (s *Server) editEquipment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	in := form.FromValues(r.PostForm)
	toast, err := s.opts.Submitter.Edit(r.Context(), id, in)
	s.opts.Submitter.Settle()
	if err != nil {
		s.failSubmission(w, r, err, toast, editForm(id, in))
		return
	}
	redirectWithToast(w, r, toast)
}

// deleteEquipment handles POST /equipment/{id}/delete.
func (s *Server) deleteEquipment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	toast, err := s.opts.Submitter.Delete(r.Context(), id)
	s.opts.Submitter.Settle()
	if err != nil {
		s.failSubmission(w, r, err, toast, nil)
		return
	}
	redirectWithToast(w, r, toast)
}

// failSubmission re-renders the equipment page with the form still open.
func (s *Server) failSubmission(w http.ResponseWriter, r *http.Request, err error, toast form.Toast, fv *formView) {
	status := http.StatusBadGateway
	var verr *form.ValidationError
	switch {
	case errors.Is(err, form.ErrBusy):
		status = http.StatusConflict
		toast = form.Toast{Kind: form.ToastInfo, Message: "Another submission is still in progress"}
	case errors.As(err, &verr):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, apiclient.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apiclient.ErrValidationRejected):
		status = http.StatusUnprocessableEntity
	}
	if fv != nil {
		fv.Error = toast.Message
	}
	s.logger.WarnContext(r.Context(), "submission failed", "error", err, "status", status)
	s.renderEquipment(w, r, status, fv, &toast)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid equipment id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// redirectWithToast sends the browser back to the equipment list carrying
// the toast in the query string.
func redirectWithToast(w http.ResponseWriter, r *http.Request, t form.Toast) {
	v := url.Values{}
	v.Set("toast", t.Message)
	v.Set("toast_kind", string(t.Kind))
	if t.Detail != "" {
		v.Set("toast_detail", t.Detail)
	}
	http.Redirect(w, r, "/equipment?"+v.Encode(), http.StatusSeeOther)
}

func toastFromQuery(q url.Values) *form.Toast {
	msg := q.Get("toast")
	if msg == "" {
		return nil
	}
	kind := form.ToastKind(q.Get("toast_kind"))
	switch kind {
	case form.ToastSuccess, form.ToastError, form.ToastInfo:
	default:
		kind = form.ToastInfo
	}
	return &form.Toast{Kind: kind, Message: msg, Detail: q.Get("toast_detail")}
}
