package factsync

import (
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/venue_backend/models"
	"github.com/shopspring/decimal"
)

var (
	ambiguousWageCentsThreshold = decimal.NewFromInt(100)
	centsPerDollar              = decimal.NewFromInt(100)
)

// WageFromAmbiguousUnit converts an hourly wage whose unit upstream is not
// recorded. Values above 100 are taken as cents, anything else as dollars.
// A real $150/h wage would be misread as $1.50; the source gives no way to tell.
func WageFromAmbiguousUnit(raw decimal.Decimal) decimal.Decimal {
	if raw.GreaterThan(ambiguousWageCentsThreshold) {
		return raw.Div(centsPerDollar)
	}
	return raw
}

// WageFromCents converts an unambiguous cents value to dollars.
func WageFromCents(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(centsPerDollar)
}

type wageRecord struct {
	EmployeeId    string    `db:"employee_id"`
	EffectiveDate time.Time `db:"effective_date"`
	WageCents     int64     `db:"wage_cents"`
}

// wageHistory holds each employee's wage records sorted by effective date.
type wageHistory map[string][]wageRecord

func newWageHistory(records []wageRecord) wageHistory {
	h := make(wageHistory)
	for _, r := range records {
		h[r.EmployeeId] = append(h[r.EmployeeId], r)
	}
	for id := range h {
		recs := h[id]
		sort.SliceStable(recs, func(i, j int) bool { return recs[i].EffectiveDate.Before(recs[j].EffectiveDate) })
	}
	return h
}

// WageAt returns the most recent wage effective on or before the calendar
// date of at. ok is false when no record applies.
func (h wageHistory) WageAt(employeeId string, at time.Time) (decimal.Decimal, bool) {
	on := models.DateOnly(at)
	recs := h[employeeId]
	for i := len(recs) - 1; i >= 0; i-- {
		if !models.DateOnly(recs[i].EffectiveDate).After(on) {
			return WageFromCents(recs[i].WageCents), true
		}
	}
	return decimal.Zero, false
}
