package factsync

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/venue_backend/models"
	"github.com/shopspring/decimal"
)

const (
	queryLaborPunches = `SELECT p.employee_id, COALESCE(p.employee_name, '') AS employee_name,
       p.clock_in, p.clock_out, p.hourly_wage, COALESCE(d.name, '') AS department_name
FROM public.punches p
LEFT JOIN public.departments d ON d.id = p.department_id
WHERE p.location_uuid = $1 AND p.trading_day = $2`

	queryLaborTimeEntries = `SELECT te.employee_id, te.clock_in, te.clock_out
FROM public.time_entries te
WHERE te.location_uuid = $1 AND te.business_date = $2`

	queryLaborEmployeeWages = `SELECT ew.employee_id, ew.effective_date, ew.wage_cents
FROM public.employee_wages ew
WHERE ew.employee_id IN (
    SELECT DISTINCT te.employee_id FROM public.time_entries te
    WHERE te.location_uuid = $1 AND te.business_date = $2
)
ORDER BY ew.employee_id, ew.effective_date`

	queryLaborPunchesLegacy = `SELECT pl.employee_id, pl.total_hours, pl.hourly_wage
FROM public.punches_legacy pl
WHERE pl.location_uuid = $1 AND pl.trading_day = $2`
)

// OvertimeThresholdHours is the daily per-employee threshold; every hour
// above it counts as overtime.
var OvertimeThresholdHours = decimal.NewFromInt(8)

var (
	fohKeywords = []string{"server", "bartender", "bar", "host", "busser", "runner", "foh", "front", "barback", "sommelier", "service"}
	bohKeywords = []string{"kitchen", "cook", "chef", "prep", "dish", "boh", "back", "line", "pastry", "steward"}
)

// ClassifyDepartment buckets a department name. FOH keywords win over BOH.
func ClassifyDepartment(name string) models.Department {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return models.DepartmentOther
	}
	for _, k := range fohKeywords {
		if strings.Contains(n, k) {
			return models.DepartmentFOH
		}
	}
	for _, k := range bohKeywords {
		if strings.Contains(n, k) {
			return models.DepartmentBOH
		}
	}
	return models.DepartmentOther
}

type punchRow struct {
	EmployeeId     string              `db:"employee_id"`
	EmployeeName   string              `db:"employee_name"`
	ClockIn        sql.NullTime        `db:"clock_in"`
	ClockOut       sql.NullTime        `db:"clock_out"`
	HourlyWage     decimal.NullDecimal `db:"hourly_wage"`
	DepartmentName string              `db:"department_name"`
}

type timeEntryRow struct {
	EmployeeId string       `db:"employee_id"`
	ClockIn    sql.NullTime `db:"clock_in"`
	ClockOut   sql.NullTime `db:"clock_out"`
}

type legacyPunchRow struct {
	EmployeeId string              `db:"employee_id"`
	TotalHours decimal.NullDecimal `db:"total_hours"`
	HourlyWage decimal.NullDecimal `db:"hourly_wage"`
}

// laborPunch is one closed punch normalized across tiers.
type laborPunch struct {
	EmployeeId string
	Hours      decimal.Decimal
	Wage       decimal.Decimal
	Department models.Department
}

type DepartmentTotals struct {
	Hours         decimal.Decimal
	Cost          decimal.Decimal
	EmployeeCount int
}

type LaborSummary struct {
	Source        models.LaborSource
	TotalHours    decimal.Decimal
	OtHours       decimal.Decimal
	LaborCost     decimal.Decimal
	PunchCount    int
	EmployeeCount int
	Foh           DepartmentTotals
	Boh           DepartmentTotals
	Other         DepartmentTotals
}

// LaborAggregator reads punches through a three-tier fallback. The first
// tier with at least one closed punch wins.
type LaborAggregator struct {
	q Querier
}

func NewLaborAggregator(q Querier) *LaborAggregator {
	return &LaborAggregator{q: q}
}

// Aggregate returns nil when no tier has data for the venue-day.
func (a *LaborAggregator) Aggregate(ctx context.Context, loc Location, date time.Time) (*LaborSummary, error) {
	date = models.DateOnly(date)

	punches, err := a.tierPunches(ctx, loc, date)
	if err != nil {
		return nil, fmt.Errorf("labor tier 1: %w", err)
	}
	if len(punches) > 0 {
		return summarizeLabor(models.LaborSourcePunches, punches, true), nil
	}

	punches, err = a.tierTimeEntries(ctx, loc, date)
	if err != nil {
		return nil, fmt.Errorf("labor tier 2: %w", err)
	}
	if len(punches) > 0 {
		return summarizeLabor(models.LaborSourceTimeEntries, punches, false), nil
	}

	punches, err = a.tierLegacy(ctx, loc, date)
	if err != nil {
		return nil, fmt.Errorf("labor tier 3: %w", err)
	}
	if len(punches) > 0 {
		return summarizeLabor(models.LaborSourcePunchesLegacy, punches, false), nil
	}
	return nil, nil
}

func (a *LaborAggregator) tierPunches(ctx context.Context, loc Location, date time.Time) ([]laborPunch, error) {
	var rows []punchRow
	if err := a.q.Select(ctx, &rows, queryLaborPunches, loc.ID, date); err != nil {
		return nil, err
	}
	out := make([]laborPunch, 0, len(rows))
	for _, r := range rows {
		hours, ok := punchHours(r.ClockIn, r.ClockOut)
		if !ok {
			continue
		}
		out = append(out, laborPunch{
			EmployeeId: employeeKey(r.EmployeeId, r.EmployeeName),
			Hours:      hours,
			Wage:       WageFromAmbiguousUnit(nullDecimal(r.HourlyWage)),
			Department: ClassifyDepartment(r.DepartmentName),
		})
	}
	return out, nil
}

func (a *LaborAggregator) tierTimeEntries(ctx context.Context, loc Location, date time.Time) ([]laborPunch, error) {
	var rows []timeEntryRow
	if err := a.q.Select(ctx, &rows, queryLaborTimeEntries, loc.ID, date); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	var wages []wageRecord
	if err := a.q.Select(ctx, &wages, queryLaborEmployeeWages, loc.ID, date); err != nil {
		return nil, err
	}
	history := newWageHistory(wages)

	out := make([]laborPunch, 0, len(rows))
	for _, r := range rows {
		hours, ok := punchHours(r.ClockIn, r.ClockOut)
		if !ok {
			continue
		}
		wage, _ := history.WageAt(r.EmployeeId, r.ClockIn.Time)
		out = append(out, laborPunch{
			EmployeeId: strings.TrimSpace(r.EmployeeId),
			Hours:      hours,
			Wage:       wage,
			Department: models.DepartmentOther,
		})
	}
	return out, nil
}

func (a *LaborAggregator) tierLegacy(ctx context.Context, loc Location, date time.Time) ([]laborPunch, error) {
	var rows []legacyPunchRow
	if err := a.q.Select(ctx, &rows, queryLaborPunchesLegacy, loc.ID, date); err != nil {
		return nil, err
	}
	out := make([]laborPunch, 0, len(rows))
	for _, r := range rows {
		if !r.TotalHours.Valid || !r.TotalHours.Decimal.IsPositive() {
			continue
		}
		out = append(out, laborPunch{
			EmployeeId: strings.TrimSpace(r.EmployeeId),
			Hours:      r.TotalHours.Decimal,
			Wage:       WageFromAmbiguousUnit(nullDecimal(r.HourlyWage)),
			Department: models.DepartmentOther,
		})
	}
	return out, nil
}

// summarizeLabor totals punches. Department fields are only filled when the
// tier carries departments; the "other" bucket takes whatever FOH and BOH
// leave so the three add up to the rounded totals.
func summarizeLabor(source models.LaborSource, punches []laborPunch, withDepartments bool) *LaborSummary {
	hoursByEmployee := make(map[string]decimal.Decimal)
	deptEmployees := map[models.Department]map[string]struct{}{
		models.DepartmentFOH:   {},
		models.DepartmentBOH:   {},
		models.DepartmentOther: {},
	}
	deptHours := map[models.Department]decimal.Decimal{}
	deptCost := map[models.Department]decimal.Decimal{}

	totalHours := decimal.Zero
	totalCost := decimal.Zero
	for _, p := range punches {
		cost := p.Hours.Mul(p.Wage)
		totalHours = totalHours.Add(p.Hours)
		totalCost = totalCost.Add(cost)
		hoursByEmployee[p.EmployeeId] = hoursByEmployee[p.EmployeeId].Add(p.Hours)

		deptHours[p.Department] = deptHours[p.Department].Add(p.Hours)
		deptCost[p.Department] = deptCost[p.Department].Add(cost)
		deptEmployees[p.Department][p.EmployeeId] = struct{}{}
	}

	ot := decimal.Zero
	for _, h := range hoursByEmployee {
		if h.GreaterThan(OvertimeThresholdHours) {
			ot = ot.Add(h.Sub(OvertimeThresholdHours))
		}
	}

	s := &LaborSummary{
		Source:        source,
		TotalHours:    totalHours.Round(2),
		OtHours:       ot.Round(2),
		LaborCost:     totalCost.Round(2),
		PunchCount:    len(punches),
		EmployeeCount: len(hoursByEmployee),
		Foh:           zeroDepartment(),
		Boh:           zeroDepartment(),
		Other:         zeroDepartment(),
	}
	if !withDepartments {
		return s
	}

	s.Foh = DepartmentTotals{
		Hours:         deptHours[models.DepartmentFOH].Round(2),
		Cost:          deptCost[models.DepartmentFOH].Round(2),
		EmployeeCount: len(deptEmployees[models.DepartmentFOH]),
	}
	s.Boh = DepartmentTotals{
		Hours:         deptHours[models.DepartmentBOH].Round(2),
		Cost:          deptCost[models.DepartmentBOH].Round(2),
		EmployeeCount: len(deptEmployees[models.DepartmentBOH]),
	}
	s.Other = DepartmentTotals{
		Hours:         s.TotalHours.Sub(s.Foh.Hours).Sub(s.Boh.Hours),
		Cost:          s.LaborCost.Sub(s.Foh.Cost).Sub(s.Boh.Cost),
		EmployeeCount: len(deptEmployees[models.DepartmentOther]),
	}
	return s
}

func zeroDepartment() DepartmentTotals {
	return DepartmentTotals{Hours: decimal.Zero, Cost: decimal.Zero}
}

// punchHours is the worked time of a closed punch. Open or inverted punches
// are reported as not ok.
func punchHours(in, out sql.NullTime) (decimal.Decimal, bool) {
	if !in.Valid || !out.Valid {
		return decimal.Zero, false
	}
	d := out.Time.Sub(in.Time)
	if d <= 0 {
		return decimal.Zero, false
	}
	return decimal.NewFromInt(int64(d / time.Second)).Div(decimal.NewFromInt(3600)), true
}

func employeeKey(id, name string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return strings.ToLower(strings.TrimSpace(name))
}

func nullDecimal(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}
