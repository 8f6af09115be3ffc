package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tphummel/smartmine/internal/metrics"
	"github.com/tphummel/smartmine/internal/middleware"
	"github.com/tphummel/smartmine/internal/models"
)

// DefaultBaseURL is where the SmartMine backend listens by default.
const DefaultBaseURL = "http://127.0.0.1:5000"

// maxBody caps how much of a response body is read.
const maxBody = 4 << 20

// Client is an HTTP client for the SmartMine REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client targeting baseURL. A zero timeout leaves
// requests bounded only by their context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the client's base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// call describes one request.
type call struct {
	op     string // human name for errors, e.g. "list equipment"
	method string
	path   string
	route  string // bounded metrics label
	scope  scope
	body   any
}

// messageResponse is the backend's acknowledgement shape for mutations.
type messageResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

// errorResponse is the backend's error body.
type errorResponse struct {
	Error string `json:"error"`
}

// do performs the request and returns the 2xx body. Non-2xx answers and
// transport failures come back as *Error.
func (c *Client) do(ctx context.Context, cl call) ([]byte, error) {
	start := time.Now()
	data, err := c.roundTrip(ctx, cl)
	metrics.ObserveBackendCall(cl.method, cl.route, outcomeLabel(Kind(err)), time.Since(start))
	return data, err
}

func (c *Client) roundTrip(ctx context.Context, cl call) ([]byte, error) {
	var body io.Reader
	if cl.body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(cl.body); err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", cl.op, err)
		}
		body = &buf
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", cl.op, err)
	}
	ctx, reqID := middleware.EnsureRequestID(ctx)
	req.Header.Set("Accept", "application/json")
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(middleware.RequestIDHeader, reqID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.DebugContext(ctx, "backend request failed", "op", cl.op, "request_id", reqID, "error", err)
		return nil, &Error{Kind: ErrNetwork, Op: cl.op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &Error{Kind: ErrNetwork, Op: cl.op, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	slog.DebugContext(ctx, "backend request", "op", cl.op, "method", cl.method, "path", cl.path,
		"status", resp.StatusCode, "request_id", reqID)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := "Server responded with " + strconv.Itoa(resp.StatusCode)
		var er errorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return nil, &Error{
			Kind:    kindFor(resp.StatusCode, cl.scope),
			Op:      cl.op,
			Status:  resp.StatusCode,
			Message: msg,
		}
	}
	return data, nil
}

// decode unmarshals a 2xx body, reporting malformed JSON as ErrProtocol.
func decode(op string, status int, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &Error{Kind: ErrProtocol, Op: op, Status: status, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// ListEquipment fetches every unit.
func (c *Client) ListEquipment(ctx context.Context) ([]models.Equipment, error) {
	const op = "list equipment"
	data, err := c.do(ctx, call{op: op, method: http.MethodGet, path: "/api/equipment", route: "/api/equipment", scope: scopeCollection})
	if err != nil {
		return nil, err
	}
	out := []models.Equipment{}
	if err := decode(op, http.StatusOK, data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Equipment{}
	}
	return out, nil
}

// CreateEquipment POSTs a new unit and returns the server-assigned record.
// The backend may answer with the full record or only {"message","id"};
// either way the result carries the new id.
func (c *Client) CreateEquipment(ctx context.Context, e models.Equipment) (*models.Equipment, error) {
	const op = "create equipment"
	e.ID = 0
	e.Status = ""
	data, err := c.do(ctx, call{op: op, method: http.MethodPost, path: "/api/equipment", route: "/api/equipment", scope: scopeCreate, body: e})
	if err != nil {
		return nil, err
	}
	out, err := mergeEcho(op, data, e)
	if err != nil {
		return nil, err
	}
	if out.ID == 0 {
		return nil, &Error{Kind: ErrProtocol, Op: op, Status: http.StatusCreated, Err: errors.New("response carries no id")}
	}
	return out, nil
}

// UpdateEquipment PUTs a full replacement for the unit with the given id.
func (c *Client) UpdateEquipment(ctx context.Context, id int64, e models.Equipment) (*models.Equipment, error) {
	const op = "update equipment"
	e.ID = id
	e.Status = ""
	path := "/api/equipment/" + strconv.FormatInt(id, 10)
	data, err := c.do(ctx, call{op: op, method: http.MethodPut, path: path, route: "/api/equipment/{id}", scope: scopeUpdate, body: e})
	if err != nil {
		return nil, err
	}
	out, err := mergeEcho(op, data, e)
	if err != nil {
		return nil, err
	}
	out.ID = id
	return out, nil
}

// DeleteEquipment removes the unit with the given id.
func (c *Client) DeleteEquipment(ctx context.Context, id int64) error {
	path := "/api/equipment/" + strconv.FormatInt(id, 10)
	_, err := c.do(ctx, call{op: "delete equipment", method: http.MethodDelete, path: path, route: "/api/equipment/{id}", scope: scopeDelete})
	return err
}

// UpdateHours sets a unit's usage hours. The backend answers with a partial
// record (no type or limit), which is returned as-is.
func (c *Client) UpdateHours(ctx context.Context, id int64, usageHours int) (*models.Equipment, error) {
	const op = "update hours"
	path := "/api/equipment/" + strconv.FormatInt(id, 10) + "/update-hours"
	body := map[string]int{"usage_hours": usageHours}
	data, err := c.do(ctx, call{op: op, method: http.MethodPost, path: path, route: "/api/equipment/{id}/update-hours", scope: scopeUpdate, body: body})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Equipment *models.Equipment `json:"equipment"`
	}
	if err := decode(op, http.StatusOK, data, &resp); err != nil {
		return nil, err
	}
	if resp.Equipment == nil {
		return &models.Equipment{ID: id, UsageHours: usageHours}, nil
	}
	return resp.Equipment, nil
}

// ListAlerts fetches the backend's non-Good projection.
func (c *Client) ListAlerts(ctx context.Context) ([]models.Equipment, error) {
	const op = "list alerts"
	data, err := c.do(ctx, call{op: op, method: http.MethodGet, path: "/api/alerts", route: "/api/alerts", scope: scopeCollection})
	if err != nil {
		return nil, err
	}
	out := []models.Equipment{}
	if err := decode(op, http.StatusOK, data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Equipment{}
	}
	return out, nil
}

// DashboardSummary fetches the backend's per-status counts.
func (c *Client) DashboardSummary(ctx context.Context) (models.DashboardSummary, error) {
	const op = "dashboard summary"
	data, err := c.do(ctx, call{op: op, method: http.MethodGet, path: "/api/dashboard-summary", route: "/api/dashboard-summary", scope: scopeCollection})
	if err != nil {
		return models.DashboardSummary{}, err
	}
	var out models.DashboardSummary
	if err := decode(op, http.StatusOK, data, &out); err != nil {
		return models.DashboardSummary{}, err
	}
	return out, nil
}

// ListMaintenance fetches every maintenance record.
func (c *Client) ListMaintenance(ctx context.Context) ([]models.MaintenanceRecord, error) {
	const op = "list maintenance"
	data, err := c.do(ctx, call{op: op, method: http.MethodGet, path: "/api/maintenance", route: "/api/maintenance", scope: scopeCollection})
	if err != nil {
		return nil, err
	}
	out := []models.MaintenanceRecord{}
	if err := decode(op, http.StatusOK, data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.MaintenanceRecord{}
	}
	return out, nil
}

// CreateMaintenance POSTs a maintenance record and returns it with its id.
func (c *Client) CreateMaintenance(ctx context.Context, rec models.MaintenanceRecord) (*models.MaintenanceRecord, error) {
	const op = "create maintenance"
	rec.ID = 0
	data, err := c.do(ctx, call{op: op, method: http.MethodPost, path: "/api/maintenance", route: "/api/maintenance", scope: scopeCreate, body: rec})
	if err != nil {
		return nil, err
	}
	var ack messageResponse
	if len(bytes.TrimSpace(data)) > 0 {
		if err := decode(op, http.StatusCreated, data, &ack); err != nil {
			return nil, err
		}
	}
	rec.ID = ack.ID
	return &rec, nil
}

// mergeEcho combines what was sent with what the server echoed. A response
// carrying a code is treated as the full record; anything else (the
// {"message","id"} acknowledgement, or an empty body) keeps the sent fields.
func mergeEcho(op string, data []byte, sent models.Equipment) (*models.Equipment, error) {
	out := sent
	if len(bytes.TrimSpace(data)) == 0 {
		return &out, nil
	}
	var echo models.Equipment
	if err := decode(op, http.StatusOK, data, &echo); err != nil {
		return nil, err
	}
	if echo.Code != "" {
		out = echo
	}
	if echo.ID != 0 {
		out.ID = echo.ID
	}
	return &out, nil
}
