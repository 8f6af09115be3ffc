// Package health derives a unit's health status from its usage against its
// maintenance limit. It is the only place thresholds are defined.
package health

import (
	"errors"
	"math"
	"math/bits"

	"github.com/tphummel/smartmine/internal/models"
)

// Thresholds in percent of the maintenance limit. Each boundary belongs to
// the higher-severity bucket.
const (
	WarningPercent  = 75
	CriticalPercent = 100
)

// ErrInvalidLimit is returned when the maintenance limit is not positive.
var ErrInvalidLimit = errors.New("maintenance limit must be greater than 0")

// Health is the classification of a single unit.
type Health struct {
	Status models.Status
	// Percent is round(100*usage/limit), uncapped.
	Percent int
}

// BarWidth is the progress bar fill, capped at 100.
func (h Health) BarWidth() int {
	return min(h.Percent, 100)
}

// Classify maps usage hours and a maintenance limit to a status.
func Classify(usageHours, maintenanceLimit int) (Health, error) {
	if maintenanceLimit <= 0 {
		return Health{}, ErrInvalidLimit
	}
	p := percent(usageHours, maintenanceLimit)
	return Health{Status: statusFor(p), Percent: p}, nil
}

// Of classifies e by its usage and limit, ignoring any server-sent status.
func Of(e models.Equipment) (Health, error) {
	return Classify(e.UsageHours, e.MaintenanceLimit)
}

// percent computes floor(100*usage/limit + 0.5) without overflowing: the
// whole multiples of limit contribute 100 each, and the remainder is scaled
// in 128 bits. Results beyond the int range saturate.
func percent(usage, limit int) int {
	q, r := usage/limit, usage%limit
	if r < 0 {
		q--
		r += limit
	}
	hi, lo := bits.Mul64(100, uint64(r))
	frac, rem := bits.Div64(hi, lo, uint64(limit))
	if rem >= uint64(limit)-rem {
		frac++
	}
	switch {
	case q > (math.MaxInt-100)/100:
		return math.MaxInt
	case q < math.MinInt/100:
		return math.MinInt
	}
	return 100*q + int(frac)
}

func statusFor(p int) models.Status {
	switch {
	case p >= CriticalPercent:
		return models.StatusCritical
	case p >= WarningPercent:
		return models.StatusWarning
	default:
		return models.StatusGood
	}
}

// Severity orders statuses: Good < Warning < Critical.
func Severity(s models.Status) int {
	switch s {
	case models.StatusCritical:
		return 2
	case models.StatusWarning:
		return 1
	default:
		return 0
	}
}
