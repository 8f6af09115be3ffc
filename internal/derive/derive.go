// Package derive computes the dashboard summary and alert list from an
// equipment collection. Everything here is pure; callers recompute on every
// store update instead of keeping parallel aggregates.
package derive

import (
	"slices"

	"github.com/tphummel/smartmine/internal/health"
	"github.com/tphummel/smartmine/internal/models"
)

// DefaultRecent is how many alerts the dashboard shows.
const DefaultRecent = 5

// Unit is an equipment record with its derived health.
type Unit struct {
	models.Equipment
	Health health.Health
	// Invalid is set when the record's limit is not positive; such a unit
	// is reported as Critical so it is never hidden.
	Invalid bool
}

// Classify returns the unit's health. A non-positive limit is treated as
// Critical.
func Classify(e models.Equipment) Unit {
	h, err := health.Of(e)
	if err != nil {
		return Unit{Equipment: withStatus(e, models.StatusCritical), Health: health.Health{Status: models.StatusCritical}, Invalid: true}
	}
	return Unit{Equipment: withStatus(e, h.Status), Health: h}
}

func withStatus(e models.Equipment, s models.Status) models.Equipment {
	e.Status = s
	return e
}

// Units classifies every record, preserving order.
func Units(list []models.Equipment) []Unit {
	out := make([]Unit, len(list))
	for i, e := range list {
		out[i] = Classify(e)
	}
	return out
}

// Classified returns copies of list whose Status is the classifier's.
func Classified(list []models.Equipment) []models.Equipment {
	out := make([]models.Equipment, len(list))
	for i, e := range list {
		out[i] = Classify(e).Equipment
	}
	return out
}

// Summary counts list by derived status.
func Summary(list []models.Equipment) models.DashboardSummary {
	s := models.DashboardSummary{Total: len(list)}
	for _, e := range list {
		switch Classify(e).Health.Status {
		case models.StatusGood:
			s.Good++
		case models.StatusWarning:
			s.Warning++
		case models.StatusCritical:
			s.Critical++
		}
	}
	return s
}

// Alerts returns the Warning and Critical units, Critical first. Order
// within a status follows the input.
func Alerts(list []models.Equipment) []models.Equipment {
	out := make([]models.Equipment, 0, len(list))
	for _, e := range Classified(list) {
		if e.Status != models.StatusGood {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b models.Equipment) int {
		return health.Severity(b.Status) - health.Severity(a.Status)
	})
	return out
}

// Recent returns the first k alerts.
func Recent(list []models.Equipment, k int) []models.Equipment {
	alerts := Alerts(list)
	if k < 0 {
		k = 0
	}
	if len(alerts) > k {
		alerts = alerts[:k]
	}
	return alerts
}
