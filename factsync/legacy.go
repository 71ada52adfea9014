package factsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/venue_backend/models"
	"github.com/shopspring/decimal"
)

// Primary tables are keyed by location UUID. Historical tables predate the
// UUIDs and are keyed by the location's display name.
const (
	queryLegacyDates = `SELECT d.business_date FROM (
    SELECT DISTINCT c.trading_day::date AS business_date FROM public.tipsee_checks c WHERE c.location_uuid = $1
    UNION
    SELECT DISTINCT h.trading_day::date AS business_date FROM public.tipsee_checks_historical h WHERE h.location = $2
) d
ORDER BY d.business_date`

	queryLegacyLocationName = `SELECT c.location FROM public.tipsee_checks c
WHERE c.location_uuid = $1 AND c.location IS NOT NULL
LIMIT 1`

	queryLegacyDayPrimary = `SELECT COUNT(*) AS checks_count,
       COALESCE(SUM(c.guest_count), 0) AS covers_count,
       COALESCE(SUM(c.sub_total), 0) AS gross_sales,
       COALESCE(SUM(c.revenue_total), 0) AS net_sales,
       COALESCE(SUM(c.tax_total), 0) AS tax_total,
       COALESCE(SUM(c.comp_total), 0) AS comps_total,
       COALESCE(SUM(c.void_total), 0) AS voids_total
FROM public.tipsee_checks c
WHERE c.location_uuid = $1 AND c.trading_day = $2`

	queryLegacyDayHistorical = `SELECT COUNT(*) AS checks_count,
       COALESCE(SUM(h.guest_count), 0) AS covers_count,
       COALESCE(SUM(h.sub_total), 0) AS gross_sales,
       COALESCE(SUM(h.revenue_total), 0) AS net_sales,
       COALESCE(SUM(h.tax_total), 0) AS tax_total,
       COALESCE(SUM(h.comp_total), 0) AS comps_total,
       COALESCE(SUM(h.void_total), 0) AS voids_total
FROM public.tipsee_checks_historical h
WHERE h.location = $1 AND h.trading_day = $2`

	queryLegacyCategoriesPrimary = `SELECT COALESCE(NULLIF(TRIM(i.category), ''), 'Uncategorized') AS category,
       COALESCE(SUM(i.quantity), 0) AS quantity,
       COALESCE(SUM(i.price * i.quantity), 0) AS gross_sales
FROM public.tipsee_check_items i
WHERE i.location_uuid = $1 AND i.trading_day = $2
GROUP BY 1`

	queryLegacyCategoriesHistorical = `SELECT COALESCE(NULLIF(TRIM(i.category), ''), 'Uncategorized') AS category,
       COALESCE(SUM(i.quantity), 0) AS quantity,
       COALESCE(SUM(i.price * i.quantity), 0) AS gross_sales
FROM public.tipsee_check_items_historical i
JOIN public.tipsee_checks_historical h ON h.id = i.check_id
WHERE h.location = $1 AND h.trading_day = $2
GROUP BY 1`

	queryLegacyTipsPrimary = `SELECT COALESCE(SUM(p.tip_amount), 0) AS tips
FROM public.tipsee_payments p
WHERE p.location_uuid = $1 AND p.trading_day = $2`

	queryLegacyTipsHistorical = `SELECT COALESCE(SUM(h.tip_total), 0) AS tips
FROM public.tipsee_checks_historical h
WHERE h.location = $1 AND h.trading_day = $2`

	queryLegacyServersPrimary = `SELECT COALESCE(NULLIF(TRIM(c.employee_name), ''), 'Unknown') AS employee_name,
       COUNT(*) AS checks_count,
       COALESCE(SUM(c.guest_count), 0) AS covers_count,
       COALESCE(SUM(c.sub_total), 0) AS gross_sales,
       COALESCE(SUM(c.revenue_total), 0) AS net_sales,
       COALESCE(SUM(t.tips), 0) AS tips
FROM public.tipsee_checks c
LEFT JOIN (
    SELECT p.check_id, SUM(p.tip_amount) AS tips
    FROM public.tipsee_payments p
    WHERE p.location_uuid = $1 AND p.trading_day = $2
    GROUP BY p.check_id
) t ON t.check_id = c.id
WHERE c.location_uuid = $1 AND c.trading_day = $2
GROUP BY 1`

	queryLegacyServersHistorical = `SELECT COALESCE(NULLIF(TRIM(h.employee_name), ''), 'Unknown') AS employee_name,
       COUNT(*) AS checks_count,
       COALESCE(SUM(h.guest_count), 0) AS covers_count,
       COALESCE(SUM(h.sub_total), 0) AS gross_sales,
       COALESCE(SUM(h.revenue_total), 0) AS net_sales,
       COALESCE(SUM(h.tip_total), 0) AS tips
FROM public.tipsee_checks_historical h
WHERE h.location = $1 AND h.trading_day = $2
GROUP BY 1`

	queryLegacyItemsPrimary = `SELECT TRIM(i.name) AS name,
       COALESCE(NULLIF(TRIM(i.category), ''), 'Uncategorized') AS category,
       COALESCE(SUM(i.quantity), 0) AS quantity,
       COALESCE(SUM(i.price * i.quantity), 0) AS gross_sales
FROM public.tipsee_check_items i
WHERE i.location_uuid = $1 AND i.trading_day = $2 AND i.name IS NOT NULL
GROUP BY 1, 2`

	queryLegacyItemsHistorical = `SELECT TRIM(i.name) AS name,
       COALESCE(NULLIF(TRIM(i.category), ''), 'Uncategorized') AS category,
       COALESCE(SUM(i.quantity), 0) AS quantity,
       COALESCE(SUM(i.price * i.quantity), 0) AS gross_sales
FROM public.tipsee_check_items_historical i
JOIN public.tipsee_checks_historical h ON h.id = i.check_id
WHERE h.location = $1 AND h.trading_day = $2 AND i.name IS NOT NULL
GROUP BY 1, 2`
)

// LegacyExtractor reads the check-level legacy schema. A day comes from the
// primary tables, or from the historical tables when the primary has neither
// checks nor net sales; the two are never merged.
type LegacyExtractor struct {
	q Querier
}

func NewLegacyExtractor(q Querier) *LegacyExtractor {
	return &LegacyExtractor{q: q}
}

func (e *LegacyExtractor) Family() models.PosFamily {
	return models.PosFamilyLegacy
}

func (e *LegacyExtractor) ListDates(ctx context.Context, loc Location) ([]time.Time, error) {
	name, err := e.locationName(ctx, loc)
	if err != nil {
		return nil, err
	}
	var dates []time.Time
	if err := e.q.Select(ctx, &dates, queryLegacyDates, loc.ID, name); err != nil {
		return nil, fmt.Errorf("list legacy dates: %w", err)
	}
	return normalizeDates(dates), nil
}

func (e *LegacyExtractor) ExtractDay(ctx context.Context, loc Location, date time.Time) (*RawDaySummary, error) {
	date = models.DateOnly(date)

	var primary daySummaryRow
	if err := e.q.Get(ctx, &primary, queryLegacyDayPrimary, loc.ID, date); err != nil {
		return nil, fmt.Errorf("legacy primary day: %w", err)
	}
	if !primary.empty() {
		return primary.summary(models.DataSourcePrimary), nil
	}

	name, err := e.locationName(ctx, loc)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, nil
	}
	var historical daySummaryRow
	if err := e.q.Get(ctx, &historical, queryLegacyDayHistorical, name, date); err != nil {
		return nil, fmt.Errorf("legacy historical day: %w", err)
	}
	if historical.empty() {
		return nil, nil
	}
	return historical.summary(models.DataSourceHistorical), nil
}

func (e *LegacyExtractor) ExtractCategoryBreakdown(ctx context.Context, loc Location, date time.Time, day *RawDaySummary) ([]CategoryBreakdown, error) {
	query, key, err := e.pick(ctx, loc, day, queryLegacyCategoriesPrimary, queryLegacyCategoriesHistorical)
	if err != nil || key == "" {
		return nil, err
	}
	var rows []categoryRow
	if err := e.q.Select(ctx, &rows, query, key, models.DateOnly(date)); err != nil {
		return nil, fmt.Errorf("legacy categories: %w", err)
	}
	return categoriesFromRows(rows), nil
}

func (e *LegacyExtractor) ExtractTips(ctx context.Context, loc Location, date time.Time, day *RawDaySummary) (decimal.Decimal, error) {
	query, key, err := e.pick(ctx, loc, day, queryLegacyTipsPrimary, queryLegacyTipsHistorical)
	if err != nil || key == "" {
		return decimal.Zero, err
	}
	var tips decimal.Decimal
	if err := e.q.Get(ctx, &tips, query, key, models.DateOnly(date)); err != nil {
		return decimal.Zero, fmt.Errorf("legacy tips: %w", err)
	}
	return tips, nil
}

func (e *LegacyExtractor) ExtractServers(ctx context.Context, loc Location, date time.Time, day *RawDaySummary) ([]ServerBreakdown, error) {
	query, key, err := e.pick(ctx, loc, day, queryLegacyServersPrimary, queryLegacyServersHistorical)
	if err != nil || key == "" {
		return nil, err
	}
	var rows []serverRow
	if err := e.q.Select(ctx, &rows, query, key, models.DateOnly(date)); err != nil {
		return nil, fmt.Errorf("legacy servers: %w", err)
	}
	return serversFromRows(rows), nil
}

func (e *LegacyExtractor) ExtractItems(ctx context.Context, loc Location, date time.Time, day *RawDaySummary) ([]ItemBreakdown, error) {
	query, key, err := e.pick(ctx, loc, day, queryLegacyItemsPrimary, queryLegacyItemsHistorical)
	if err != nil || key == "" {
		return nil, err
	}
	var rows []itemRow
	if err := e.q.Select(ctx, &rows, query, key, models.DateOnly(date)); err != nil {
		return nil, fmt.Errorf("legacy items: %w", err)
	}
	return itemsFromRows(rows), nil
}

// pick chooses the query and location key matching the table that served day.
func (e *LegacyExtractor) pick(ctx context.Context, loc Location, day *RawDaySummary, primary, historical string) (string, string, error) {
	if day == nil || day.Source != models.DataSourceHistorical {
		return primary, loc.ID, nil
	}
	name, err := e.locationName(ctx, loc)
	if err != nil {
		return "", "", err
	}
	return historical, name, nil
}

// locationName is the key for historical tables. The resolver usually fills
// it; otherwise it is read off any primary check for the UUID.
func (e *LegacyExtractor) locationName(ctx context.Context, loc Location) (string, error) {
	if name := strings.TrimSpace(loc.Name); name != "" {
		return name, nil
	}
	var names []string
	if err := e.q.Select(ctx, &names, queryLegacyLocationName, loc.ID); err != nil {
		return "", fmt.Errorf("legacy location name: %w", err)
	}
	if len(names) == 0 {
		return "", nil
	}
	return strings.TrimSpace(names[0]), nil
}

func normalizeDates(in []time.Time) []time.Time {
	out := make([]time.Time, 0, len(in))
	for _, d := range in {
		out = append(out, models.DateOnly(d))
	}
	return out
}
