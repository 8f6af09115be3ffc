// Package form validates the add/edit equipment form and submits it.
package form

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tphummel/smartmine/internal/health"
	"github.com/tphummel/smartmine/internal/maintenance"
	"github.com/tphummel/smartmine/internal/models"
)

// DefaultMaintenanceLimit is used when the limit field is left empty.
const DefaultMaintenanceLimit = 5000

// MaxHours bounds usage hours and the maintenance limit.
const MaxHours = 1_000_000_000

// Form field names.
const (
	FieldCode                = "code"
	FieldName                = "name"
	FieldType                = "type"
	FieldUsageHours          = "usage_hours"
	FieldMaintenanceLimit    = "maintenance_limit"
	FieldLastMaintenanceDate = "lastMaintenanceDate"
)

// Input is the raw form as submitted.
type Input struct {
	Code                string
	Name                string
	Type                string
	UsageHours          string
	MaintenanceLimit    string
	LastMaintenanceDate string
}

// FromValues reads an Input from posted form values.
func FromValues(v url.Values) Input {
	return Input{
		Code:                v.Get(FieldCode),
		Name:                v.Get(FieldName),
		Type:                v.Get(FieldType),
		UsageHours:          v.Get(FieldUsageHours),
		MaintenanceLimit:    v.Get(FieldMaintenanceLimit),
		LastMaintenanceDate: v.Get(FieldLastMaintenanceDate),
	}
}

// FromEquipment prefills the form for editing e.
func FromEquipment(e models.Equipment) Input {
	return Input{
		Code:             e.Code,
		Name:             e.Name,
		Type:             e.Type,
		UsageHours:       strconv.Itoa(e.UsageHours),
		MaintenanceLimit: strconv.Itoa(e.MaintenanceLimit),
	}
}

// Payload is a validated form.
type Payload struct {
	Equipment models.Equipment
	// InitialServiceDate is empty when the form carried no date.
	InitialServiceDate string
}

// ChainsMaintenance reports whether a create should be followed by an
// initial service record.
func (p Payload) ChainsMaintenance() bool {
	return p.InitialServiceDate != "" && p.Equipment.UsageHours > 0
}

// ValidationError is a form error whose message is shown as-is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

// Validate checks in and converts it to a Payload. Checks run in the order
// the user sees them reported: required fields, usage, limit, date.
func Validate(in Input) (Payload, error) {
	code := strings.TrimSpace(in.Code)
	name := strings.TrimSpace(in.Name)
	typ := strings.TrimSpace(in.Type)
	if code == "" || name == "" || typ == "" {
		return Payload{}, invalid("", "Please fill all required fields")
	}

	usage, ok := wholeNumber(in.UsageHours, 0)
	if !ok {
		return Payload{}, invalid(FieldUsageHours, "Usage hours must be a whole number")
	}
	if usage < 0 {
		return Payload{}, invalid(FieldUsageHours, "Usage hours cannot be negative")
	}
	if usage > MaxHours {
		return Payload{}, invalid(FieldUsageHours, "Usage hours is too large")
	}

	limit, ok := wholeNumber(in.MaintenanceLimit, DefaultMaintenanceLimit)
	if !ok {
		return Payload{}, invalid(FieldMaintenanceLimit, "Maintenance limit must be a whole number")
	}
	if limit <= 0 {
		return Payload{}, invalid(FieldMaintenanceLimit, "Maintenance limit must be greater than 0")
	}
	if limit > MaxHours {
		return Payload{}, invalid(FieldMaintenanceLimit, "Maintenance limit is too large")
	}

	date := strings.TrimSpace(in.LastMaintenanceDate)
	if date != "" {
		if _, err := time.Parse(maintenance.DateLayout, date); err != nil {
			return Payload{}, invalid(FieldLastMaintenanceDate, "Initial service date must be a valid date (YYYY-MM-DD)")
		}
	}

	return Payload{
		Equipment: models.Equipment{
			Code:             code,
			Name:             name,
			Type:             typ,
			UsageHours:       usage,
			MaintenanceLimit: limit,
		},
		InitialServiceDate: date,
	}, nil
}

// wholeNumber parses s, returning def for an empty field.
func wholeNumber(s string, def int) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// Preview is the live health shown while the form is being filled in.
// Unparseable fields fall back to their defaults; ok is false when the
// limit is not positive.
func Preview(usage, limit string) (health.Health, bool) {
	u, uok := wholeNumber(usage, 0)
	if !uok {
		u = 0
	}
	l, lok := wholeNumber(limit, DefaultMaintenanceLimit)
	if !lok {
		l = DefaultMaintenanceLimit
	}
	h, err := health.Classify(u, l)
	if err != nil {
		return health.Health{}, false
	}
	return h, true
}
