// Package maintenance reads and appends service records. Unlike equipment
// there is no fallback: a failed list is surfaced to the caller.
package maintenance

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/tphummel/smartmine/internal/models"
)

// DateLayout is the service_date format.
const DateLayout = time.DateOnly

const (
	InitialServiceType        = "Initial Service"
	InitialServiceTechnician  = "System"
	InitialServiceDescription = "Initial equipment setup and inspection"
)

// Backend is the subset of apiclient.Client used here.
type Backend interface {
	ListMaintenance(ctx context.Context) ([]models.MaintenanceRecord, error)
	CreateMaintenance(ctx context.Context, rec models.MaintenanceRecord) (*models.MaintenanceRecord, error)
}

type Client struct {
	backend Backend
}

func NewClient(backend Backend) *Client {
	return &Client{backend: backend}
}

// List returns every record, newest service date first.
func (c *Client) List(ctx context.Context) ([]models.MaintenanceRecord, error) {
	recs, err := c.backend.ListMaintenance(ctx)
	if err != nil {
		return nil, err
	}
	return SortByServiceDate(recs), nil
}

// Create appends a record.
func (c *Client) Create(ctx context.Context, rec models.MaintenanceRecord) (*models.MaintenanceRecord, error) {
	if rec.EquipmentID <= 0 {
		return nil, fmt.Errorf("create maintenance: equipment id %d is not valid", rec.EquipmentID)
	}
	return c.backend.CreateMaintenance(ctx, rec)
}

// SortByServiceDate returns a copy of recs ordered newest first. Records
// with equal or unparseable dates keep their relative order; unparseable
// dates sort last.
func SortByServiceDate(recs []models.MaintenanceRecord) []models.MaintenanceRecord {
	out := slices.Clone(recs)
	if out == nil {
		out = []models.MaintenanceRecord{}
	}
	slices.SortStableFunc(out, func(a, b models.MaintenanceRecord) int {
		ta, aok := parseDate(a.ServiceDate)
		tb, bok := parseDate(b.ServiceDate)
		switch {
		case aok && bok:
			return tb.Compare(ta)
		case aok:
			return -1
		case bok:
			return 1
		}
		return 0
	})
	return out
}

func parseDate(s string) (time.Time, bool) {
	t, err := time.Parse(DateLayout, s)
	return t, err == nil
}

// InitialService builds the record chained after a create when the form
// carries an initial service date.
func InitialService(equipmentID int64, date string, usageAtService int) models.MaintenanceRecord {
	return models.MaintenanceRecord{
		EquipmentID:     equipmentID,
		ServiceDate:     date,
		MaintenanceType: InitialServiceType,
		Technician:      InitialServiceTechnician,
		Description:     InitialServiceDescription,
		UsageAtService:  usageAtService,
	}
}

// DisplayName is the record's equipment name, or "Equipment #<id>" when the
// backend did not join it in.
func DisplayName(rec models.MaintenanceRecord) string {
	if rec.EquipmentName != "" {
		return rec.EquipmentName
	}
	return fmt.Sprintf("Equipment #%d", rec.EquipmentID)
}
