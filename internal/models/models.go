package models

import "encoding/json"

// Status is the three-valued health classification of a unit.
type Status string

const (
	StatusGood     Status = "Good"
	StatusWarning  Status = "Warning"
	StatusCritical Status = "Critical"
)

// StatusFilter selects which statuses a view shows.
type StatusFilter string

// FilterAll matches every status.
const FilterAll StatusFilter = "all"

// ValidStatusFilters is the set of allowed status filter values.
var ValidStatusFilters = map[StatusFilter]bool{
	FilterAll:                    true,
	StatusFilter(StatusGood):     true,
	StatusFilter(StatusWarning):  true,
	StatusFilter(StatusCritical): true,
}

// Matches reports whether s passes the filter.
func (f StatusFilter) Matches(s Status) bool {
	return f == FilterAll || Status(f) == s
}

// Equipment is a piece of mining equipment tracked by the backend.
type Equipment struct {
	ID               int64  `json:"id"`
	Code             string `json:"code"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	UsageHours       int    `json:"usage_hours"`
	MaintenanceLimit int    `json:"maintenance_limit"`
	// Status is whatever the server sent, if anything. Views always
	// re-derive it with the health classifier.
	Status Status `json:"status,omitempty"`
}

// UnmarshalJSON accepts "equipment_id" in place of "id", which is how the
// backend's alert projection names the key.
func (e *Equipment) UnmarshalJSON(data []byte) error {
	type plain Equipment
	var aux struct {
		plain
		EquipmentID *int64 `json:"equipment_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = Equipment(aux.plain)
	if e.ID == 0 && aux.EquipmentID != nil {
		e.ID = *aux.EquipmentID
	}
	return nil
}

// MaintenanceRecord is a single service entry. Records are append-only.
type MaintenanceRecord struct {
	ID              int64  `json:"id,omitempty"`
	EquipmentID     int64  `json:"equipment_id"`
	ServiceDate     string `json:"service_date"`
	MaintenanceType string `json:"maintenance_type"`
	Technician      string `json:"technician"`
	Description     string `json:"description"`
	UsageAtService  int    `json:"usage_at_service"`
	EquipmentName   string `json:"equipment_name,omitempty"`
}

// DashboardSummary holds per-status counts over a collection.
type DashboardSummary struct {
	Total    int `json:"total"`
	Good     int `json:"good"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
}

// Consistent reports whether the buckets add up to the total.
func (s DashboardSummary) Consistent() bool {
	return s.Good+s.Warning+s.Critical == s.Total
}

// FilterState is the UI-owned text query and status filter.
type FilterState struct {
	Query  string       `json:"query"`
	Status StatusFilter `json:"status"`
}

// DefaultFilter returns the filter that matches everything.
func DefaultFilter() FilterState {
	return FilterState{Query: "", Status: FilterAll}
}
