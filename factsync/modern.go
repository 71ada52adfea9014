package factsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/venue_backend/models"
	"github.com/shopspring/decimal"
)

// ModernBarRevenueCenter is the revenue-center number the modern POS assigns
// to the bar when the center has no name.
const ModernBarRevenueCenter = 2

const (
	queryModernDates = `SELECT DISTINCT r.business_date::date AS business_date
FROM public.rvc_daily_sales r
WHERE r.location_ref = $1
ORDER BY 1`

	queryModernRevenueCenters = `SELECT r.revenue_center_num,
       COALESCE(r.revenue_center_name, '') AS revenue_center_name,
       COALESCE(r.check_count, 0) AS check_count,
       COALESCE(r.guest_count, 0) AS guest_count,
       COALESCE(r.gross_sales, 0) AS gross_sales,
       COALESCE(r.net_sales, 0) AS net_sales,
       COALESCE(r.tax_total, 0) AS tax_total,
       COALESCE(r.comp_total, 0) AS comp_total,
       COALESCE(r.void_total, 0) AS void_total
FROM public.rvc_daily_sales r
WHERE r.location_ref = $1 AND r.business_date = $2
ORDER BY r.revenue_center_num`
)

type revenueCenterRow struct {
	Number     int             `db:"revenue_center_num"`
	Name       string          `db:"revenue_center_name"`
	CheckCount int             `db:"check_count"`
	GuestCount int             `db:"guest_count"`
	GrossSales decimal.Decimal `db:"gross_sales"`
	NetSales   decimal.Decimal `db:"net_sales"`
	TaxTotal   decimal.Decimal `db:"tax_total"`
	CompTotal  decimal.Decimal `db:"comp_total"`
	VoidTotal  decimal.Decimal `db:"void_total"`
}

// IsBarRevenueCenter reports whether a revenue center sells beverage: its
// name contains "bar", or it has no name and carries the bar number.
func IsBarRevenueCenter(name string, number int) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return number == ModernBarRevenueCenter
	}
	return strings.Contains(strings.ToLower(name), "bar")
}

// ModernExtractor reads sales pre-aggregated by revenue center. It has no
// wine/liquor/beer split, tips, servers or items.
type ModernExtractor struct {
	q Querier
}

func NewModernExtractor(q Querier) *ModernExtractor {
	return &ModernExtractor{q: q}
}

func (e *ModernExtractor) Family() models.PosFamily {
	return models.PosFamilyModern
}

func (e *ModernExtractor) ListDates(ctx context.Context, loc Location) ([]time.Time, error) {
	var dates []time.Time
	if err := e.q.Select(ctx, &dates, queryModernDates, loc.ID); err != nil {
		return nil, fmt.Errorf("list modern dates: %w", err)
	}
	return normalizeDates(dates), nil
}

func (e *ModernExtractor) revenueCenters(ctx context.Context, loc Location, date time.Time) ([]revenueCenterRow, error) {
	var rows []revenueCenterRow
	if err := e.q.Select(ctx, &rows, queryModernRevenueCenters, loc.ID, models.DateOnly(date)); err != nil {
		return nil, fmt.Errorf("modern revenue centers: %w", err)
	}
	return rows, nil
}

func (e *ModernExtractor) ExtractDay(ctx context.Context, loc Location, date time.Time) (*RawDaySummary, error) {
	rows, err := e.revenueCenters(ctx, loc, date)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	var sum daySummaryRow
	for _, r := range rows {
		sum.ChecksCount += r.CheckCount
		sum.CoversCount += r.GuestCount
		sum.GrossSales = sum.GrossSales.Add(r.GrossSales)
		sum.NetSales = sum.NetSales.Add(r.NetSales)
		sum.TaxTotal = sum.TaxTotal.Add(r.TaxTotal)
		sum.CompsTotal = sum.CompsTotal.Add(r.CompTotal)
		sum.VoidsTotal = sum.VoidsTotal.Add(r.VoidTotal)
	}
	if sum.empty() {
		return nil, nil
	}
	return sum.summary(models.DataSourcePrimary), nil
}

// ExtractCategoryBreakdown returns one row per revenue center, typed food or
// other_beverage.
func (e *ModernExtractor) ExtractCategoryBreakdown(ctx context.Context, loc Location, date time.Time, day *RawDaySummary) ([]CategoryBreakdown, error) {
	rows, err := e.revenueCenters(ctx, loc, date)
	if err != nil {
		return nil, err
	}
	out := make([]CategoryBreakdown, 0, len(rows))
	for _, r := range rows {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			name = fmt.Sprintf("Revenue Center %d", r.Number)
		}
		t := models.CategoryTypeFood
		if IsBarRevenueCenter(r.Name, r.Number) {
			t = models.CategoryTypeOtherBeverage
		}
		out = append(out, CategoryBreakdown{
			Name:       name,
			Type:       t,
			Quantity:   decimal.Zero,
			GrossSales: r.GrossSales,
		})
	}
	return mergeCategories(out), nil
}

func (e *ModernExtractor) ExtractTips(ctx context.Context, loc Location, date time.Time, day *RawDaySummary) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (e *ModernExtractor) ExtractServers(ctx context.Context, loc Location, date time.Time, day *RawDaySummary) ([]ServerBreakdown, error) {
	return nil, nil
}

func (e *ModernExtractor) ExtractItems(ctx context.Context, loc Location, date time.Time, day *RawDaySummary) ([]ItemBreakdown, error) {
	return nil, nil
}
