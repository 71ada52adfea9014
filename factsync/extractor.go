package factsync

import (
	"fmt"

	"bitbucket.org/mmdatafocus/venue_backend/models"
	"github.com/shopspring/decimal"
)

// Extractors dispatches on POS family.
type Extractors map[models.PosFamily]Extractor

// NewExtractors returns one extractor per supported family, all reading through q.
func NewExtractors(q Querier) Extractors {
	return Extractors{
		models.PosFamilyLegacy:    NewLegacyExtractor(q),
		models.PosFamilyModern:    NewModernExtractor(q),
		models.PosFamilyAlternate: NewAlternateExtractor(q),
	}
}

func (e Extractors) For(family models.PosFamily) (Extractor, error) {
	ex, ok := e[family]
	if !ok || ex == nil {
		return nil, fmt.Errorf("family %q: %w", family, ErrUnsupportedFamily)
	}
	return ex, nil
}

// daySummaryRow is the aggregate shape every check-level day query returns.
type daySummaryRow struct {
	ChecksCount int             `db:"checks_count"`
	CoversCount int             `db:"covers_count"`
	GrossSales  decimal.Decimal `db:"gross_sales"`
	NetSales    decimal.Decimal `db:"net_sales"`
	TaxTotal    decimal.Decimal `db:"tax_total"`
	CompsTotal  decimal.Decimal `db:"comps_total"`
	VoidsTotal  decimal.Decimal `db:"voids_total"`
}

// empty is the "no data" rule: zero checks and zero net sales. A genuine
// $0 day with no checks cannot be told apart and is skipped too.
func (r daySummaryRow) empty() bool {
	return r.ChecksCount == 0 && r.NetSales.IsZero()
}

func (r daySummaryRow) summary(source models.DataSource) *RawDaySummary {
	return &RawDaySummary{
		ChecksCount: r.ChecksCount,
		CoversCount: r.CoversCount,
		GrossSales:  r.GrossSales,
		NetSales:    r.NetSales,
		TaxTotal:    r.TaxTotal,
		CompsTotal:  r.CompsTotal,
		VoidsTotal:  r.VoidsTotal,
		Source:      source,
	}
}

type categoryRow struct {
	Category   string          `db:"category"`
	Quantity   decimal.Decimal `db:"quantity"`
	GrossSales decimal.Decimal `db:"gross_sales"`
}

type itemRow struct {
	Name       string          `db:"name"`
	Category   string          `db:"category"`
	Quantity   decimal.Decimal `db:"quantity"`
	GrossSales decimal.Decimal `db:"gross_sales"`
}

type serverRow struct {
	EmployeeName string          `db:"employee_name"`
	ChecksCount  int             `db:"checks_count"`
	CoversCount  int             `db:"covers_count"`
	GrossSales   decimal.Decimal `db:"gross_sales"`
	NetSales     decimal.Decimal `db:"net_sales"`
	Tips         decimal.Decimal `db:"tips"`
}

func categoriesFromRows(rows []categoryRow) []CategoryBreakdown {
	out := make([]CategoryBreakdown, 0, len(rows))
	for _, r := range rows {
		out = append(out, CategoryBreakdown{
			Name:       r.Category,
			Type:       CategoryTypeFor(r.Category),
			Quantity:   r.Quantity,
			GrossSales: r.GrossSales,
		})
	}
	return mergeCategories(out)
}

func itemsFromRows(rows []itemRow) []ItemBreakdown {
	out := make([]ItemBreakdown, 0, len(rows))
	for _, r := range rows {
		out = append(out, ItemBreakdown{
			Name:       r.Name,
			Category:   r.Category,
			Type:       CategoryTypeFor(r.Category),
			Quantity:   r.Quantity,
			GrossSales: r.GrossSales,
		})
	}
	return mergeItems(out)
}

func serversFromRows(rows []serverRow) []ServerBreakdown {
	out := make([]ServerBreakdown, 0, len(rows))
	for _, r := range rows {
		out = append(out, ServerBreakdown{
			EmployeeName: r.EmployeeName,
			ChecksCount:  r.ChecksCount,
			CoversCount:  r.CoversCount,
			GrossSales:   r.GrossSales,
			NetSales:     r.NetSales,
			Tips:         r.Tips,
		})
	}
	return mergeServers(out)
}
