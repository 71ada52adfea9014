package factsync

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/venue_backend/models"
	"github.com/shopspring/decimal"
)

const (
	queryAlternateDates = `SELECT DISTINCT s.business_date::date AS business_date
FROM public.alt_daily_sales s
WHERE s.location_ref = $1
ORDER BY 1`

	queryAlternateSales = `SELECT COALESCE(NULLIF(TRIM(s.category), ''), 'Uncategorized') AS category,
       COALESCE(SUM(s.covers), 0) AS covers,
       COALESCE(SUM(s.net_sales), 0) AS net_sales,
       COALESCE(SUM(s.tax_total), 0) AS tax_total
FROM public.alt_daily_sales s
WHERE s.location_ref = $1 AND s.business_date = $2
GROUP BY 1
ORDER BY 1`

	queryAlternateTotals = `SELECT COALESCE(SUM(t.gross_sales), 0) AS gross_sales,
       COALESCE(SUM(t.comp_total), 0) AS comps_total
FROM public.alt_daily_totals t
WHERE t.location_ref = $1 AND t.business_date = $2`
)

type alternateSalesRow struct {
	Category string          `db:"category"`
	Covers   int             `db:"covers"`
	NetSales decimal.Decimal `db:"net_sales"`
	TaxTotal decimal.Decimal `db:"tax_total"`
}

type alternateTotalsRow struct {
	GrossSales decimal.Decimal `db:"gross_sales"`
	CompsTotal decimal.Decimal `db:"comps_total"`
}

// AlternateExtractor combines a per-category sales/covers table with a
// gross/comps totals table. The schema has no checks, voids or tips.
type AlternateExtractor struct {
	q Querier
}

func NewAlternateExtractor(q Querier) *AlternateExtractor {
	return &AlternateExtractor{q: q}
}

func (e *AlternateExtractor) Family() models.PosFamily {
	return models.PosFamilyAlternate
}

func (e *AlternateExtractor) ListDates(ctx context.Context, loc Location) ([]time.Time, error) {
	var dates []time.Time
	if err := e.q.Select(ctx, &dates, queryAlternateDates, loc.ID); err != nil {
		return nil, fmt.Errorf("list alternate dates: %w", err)
	}
	return normalizeDates(dates), nil
}

func (e *AlternateExtractor) sales(ctx context.Context, loc Location, date time.Time) ([]alternateSalesRow, error) {
	var rows []alternateSalesRow
	if err := e.q.Select(ctx, &rows, queryAlternateSales, loc.ID, models.DateOnly(date)); err != nil {
		return nil, fmt.Errorf("alternate sales: %w", err)
	}
	return rows, nil
}

// ExtractDay treats zero covers with zero net sales as no data.
func (e *AlternateExtractor) ExtractDay(ctx context.Context, loc Location, date time.Time) (*RawDaySummary, error) {
	rows, err := e.sales(ctx, loc, date)
	if err != nil {
		return nil, err
	}
	covers := 0
	net := decimal.Zero
	tax := decimal.Zero
	for _, r := range rows {
		covers += r.Covers
		net = net.Add(r.NetSales)
		tax = tax.Add(r.TaxTotal)
	}
	if covers == 0 && net.IsZero() {
		return nil, nil
	}

	var totals alternateTotalsRow
	if err := e.q.Get(ctx, &totals, queryAlternateTotals, loc.ID, models.DateOnly(date)); err != nil {
		return nil, fmt.Errorf("alternate totals: %w", err)
	}
	return &RawDaySummary{
		ChecksCount: 0,
		CoversCount: covers,
		GrossSales:  totals.GrossSales,
		NetSales:    net,
		TaxTotal:    tax,
		CompsTotal:  totals.CompsTotal,
		VoidsTotal:  decimal.Zero,
		Source:      models.DataSourcePrimary,
	}, nil
}

// ExtractCategoryBreakdown uses per-category net sales as the allocation
// base; the schema has no item-level gross or quantities.
func (e *AlternateExtractor) ExtractCategoryBreakdown(ctx context.Context, loc Location, date time.Time, day *RawDaySummary) ([]CategoryBreakdown, error) {
	rows, err := e.sales(ctx, loc, date)
	if err != nil {
		return nil, err
	}
	out := make([]CategoryBreakdown, 0, len(rows))
	for _, r := range rows {
		out = append(out, CategoryBreakdown{
			Name:       r.Category,
			Type:       CategoryTypeFor(r.Category),
			Quantity:   decimal.Zero,
			GrossSales: r.NetSales,
		})
	}
	return mergeCategories(out), nil
}

func (e *AlternateExtractor) ExtractTips(ctx context.Context, loc Location, date time.Time, day *RawDaySummary) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (e *AlternateExtractor) ExtractServers(ctx context.Context, loc Location, date time.Time, day *RawDaySummary) ([]ServerBreakdown, error) {
	return nil, nil
}

func (e *AlternateExtractor) ExtractItems(ctx context.Context, loc Location, date time.Time, day *RawDaySummary) ([]ItemBreakdown, error) {
	return nil, nil
}
