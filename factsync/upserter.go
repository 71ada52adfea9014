package factsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/venue_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SalesFacts is everything one venue-day's sales pass writes.
type SalesFacts struct {
	Venue      models.VenueDayFact
	Categories []models.CategoryDayFact
	Servers    []models.ServerDayFact
	Items      []models.ItemDayFact
}

// BuildSalesFacts turns extracted data into fact rows. Categories, servers and
// items are expected to be merged on their keys already.
func BuildSalesFacts(rv ResolvedVenue, date time.Time, day *RawDaySummary, cats []CategoryBreakdown, tips decimal.Decimal, servers []ServerBreakdown, items []ItemBreakdown, syncedAt time.Time) *SalesFacts {
	date = models.DateOnly(date)
	syncedAt = syncedAt.UTC()
	alloc := Allocate(day.NetSales, cats)

	f := &SalesFacts{
		Venue: models.VenueDayFact{
			VenueId:       rv.VenueId,
			BusinessDate:  date,
			GrossSales:    day.GrossSales.Round(2),
			NetSales:      day.NetSales.Round(2),
			FoodSales:     alloc.Food,
			BeverageSales: alloc.Beverage,
			WineSales:     alloc.Wine,
			LiquorSales:   alloc.Liquor,
			BeerSales:     alloc.Beer,
			OtherSales:    alloc.Other,
			CompsTotal:    day.CompsTotal.Round(2),
			VoidsTotal:    day.VoidsTotal.Round(2),
			TaxesTotal:    day.TaxTotal.Round(2),
			TipsTotal:     tips.Round(2),
			ChecksCount:   day.ChecksCount,
			CoversCount:   day.CoversCount,
			ItemsSold:     sumQuantity(cats),
			PosFamily:     rv.Family,
			DataSource:    day.Source,
			IsComplete:    rv.Family == models.PosFamilyLegacy && day.ChecksCount > 0 && len(cats) > 0,
			LastSyncedAt:  syncedAt,
		},
	}

	for _, c := range cats {
		f.Categories = append(f.Categories, models.CategoryDayFact{
			VenueId:      rv.VenueId,
			BusinessDate: date,
			Category:     truncate(c.Name, 128),
			CategoryType: c.Type,
			Quantity:     c.Quantity,
			GrossSales:   c.GrossSales.Round(2),
			NetSales:     CategoryNet(c.GrossSales, alloc.Ratio),
			DataSource:   day.Source,
			LastSyncedAt: syncedAt,
		})
	}
	for _, s := range servers {
		f.Servers = append(f.Servers, models.ServerDayFact{
			VenueId:      rv.VenueId,
			BusinessDate: date,
			EmployeeName: truncate(s.EmployeeName, 255),
			ChecksCount:  s.ChecksCount,
			CoversCount:  s.CoversCount,
			GrossSales:   s.GrossSales.Round(2),
			NetSales:     s.NetSales.Round(2),
			TipsTotal:    s.Tips.Round(2),
			DataSource:   day.Source,
			LastSyncedAt: syncedAt,
		})
	}
	for _, it := range items {
		f.Items = append(f.Items, models.ItemDayFact{
			VenueId:      rv.VenueId,
			BusinessDate: date,
			MenuItemName: truncate(it.Name, 255),
			Category:     truncate(it.Category, 128),
			CategoryType: it.Type,
			Quantity:     it.Quantity,
			GrossSales:   it.GrossSales.Round(2),
			DataSource:   day.Source,
			LastSyncedAt: syncedAt,
		})
	}
	return f
}

// BuildLaborFact links labor totals to the day's sales when they are known.
func BuildLaborFact(venueId string, date time.Time, labor *LaborSummary, sales *models.VenueDayFact, syncedAt time.Time) models.LaborDayFact {
	f := models.LaborDayFact{
		VenueId:            venueId,
		BusinessDate:       models.DateOnly(date),
		TotalHours:         labor.TotalHours,
		OtHours:            labor.OtHours,
		LaborCost:          labor.LaborCost,
		PunchCount:         labor.PunchCount,
		EmployeeCount:      labor.EmployeeCount,
		FohHours:           labor.Foh.Hours,
		FohCost:            labor.Foh.Cost,
		FohEmployeeCount:   labor.Foh.EmployeeCount,
		BohHours:           labor.Boh.Hours,
		BohCost:            labor.Boh.Cost,
		BohEmployeeCount:   labor.Boh.EmployeeCount,
		OtherHours:         labor.Other.Hours,
		OtherCost:          labor.Other.Cost,
		OtherEmployeeCount: labor.Other.EmployeeCount,
		NetSales:           decimal.Zero,
		LaborSource:        labor.Source,
		LastSyncedAt:       syncedAt.UTC(),
	}
	if sales != nil {
		f.NetSales = sales.NetSales
		f.Covers = sales.CoversCount
	}
	return f
}

// FactUpserter writes fact rows. The five tables are written independently:
// a failure in one does not undo the others.
type FactUpserter struct {
	db        *gorm.DB
	batchSize int
}

func NewFactUpserter(db *gorm.DB, batchSize int) *FactUpserter {
	if batchSize <= 0 {
		batchSize = models.DefaultUpsertBatchSize
	}
	return &FactUpserter{db: db, batchSize: batchSize}
}

func (u *FactUpserter) WriteSales(ctx context.Context, f *SalesFacts) error {
	var errs []error
	if err := models.UpsertVenueDayFacts(ctx, u.db, []models.VenueDayFact{f.Venue}, u.batchSize); err != nil {
		errs = append(errs, fmt.Errorf("venue_day_facts: %w", err))
	}
	if err := models.UpsertCategoryDayFacts(ctx, u.db, f.Categories, u.batchSize); err != nil {
		errs = append(errs, fmt.Errorf("category_day_facts: %w", err))
	}
	if err := models.UpsertServerDayFacts(ctx, u.db, f.Servers, u.batchSize); err != nil {
		errs = append(errs, fmt.Errorf("server_day_facts: %w", err))
	}
	if err := models.UpsertItemDayFacts(ctx, u.db, f.Items, u.batchSize); err != nil {
		errs = append(errs, fmt.Errorf("item_day_facts: %w", err))
	}
	return errors.Join(errs...)
}

func (u *FactUpserter) WriteLabor(ctx context.Context, f models.LaborDayFact) error {
	if err := models.UpsertLaborDayFacts(ctx, u.db, []models.LaborDayFact{f}, u.batchSize); err != nil {
		return fmt.Errorf("labor_day_facts: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
