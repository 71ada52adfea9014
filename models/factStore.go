package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultUpsertBatchSize   = 200
	DefaultSyncedDatesPageSz = 1000
)

var (
	dayKeyColumns = []string{"venue_id", "business_date"}

	venueDayFactUpdateColumns = []string{
		"gross_sales", "net_sales", "food_sales", "beverage_sales", "wine_sales", "liquor_sales",
		"beer_sales", "other_sales", "comps_total", "voids_total", "taxes_total", "tips_total",
		"checks_count", "covers_count", "items_sold", "pos_family", "data_source", "is_complete",
		"last_synced_at",
	}
	laborDayFactUpdateColumns = []string{
		"total_hours", "ot_hours", "labor_cost", "punch_count", "employee_count",
		"foh_hours", "foh_cost", "foh_employee_count", "boh_hours", "boh_cost", "boh_employee_count",
		"other_hours", "other_cost", "other_employee_count", "net_sales", "covers", "labor_source",
		"last_synced_at",
	}
	categoryDayFactUpdateColumns = []string{
		"category_type", "quantity", "gross_sales", "net_sales", "data_source", "last_synced_at",
	}
	serverDayFactUpdateColumns = []string{
		"checks_count", "covers_count", "gross_sales", "net_sales", "tips_total", "data_source", "last_synced_at",
	}
	itemDayFactUpdateColumns = []string{
		"category", "category_type", "quantity", "gross_sales", "data_source", "last_synced_at",
	}
)

// upsertRows writes rows in batches with insert-or-update on the natural key.
// MySQL renders ON DUPLICATE KEY UPDATE, Postgres and SQLite ON CONFLICT.
func upsertRows[T any](ctx context.Context, db *gorm.DB, rows []T, keys []string, updates []string, batchSize int) error {
	if len(rows) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = DefaultUpsertBatchSize
	}
	cols := make([]clause.Column, 0, len(keys))
	for _, k := range keys {
		cols = append(cols, clause.Column{Name: k})
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   cols,
			DoUpdates: clause.AssignmentColumns(updates),
		}).
		CreateInBatches(&rows, batchSize).Error
}

func UpsertVenueDayFacts(ctx context.Context, db *gorm.DB, rows []VenueDayFact, batchSize int) error {
	return upsertRows(ctx, db, rows, dayKeyColumns, venueDayFactUpdateColumns, batchSize)
}

func UpsertLaborDayFacts(ctx context.Context, db *gorm.DB, rows []LaborDayFact, batchSize int) error {
	return upsertRows(ctx, db, rows, dayKeyColumns, laborDayFactUpdateColumns, batchSize)
}

func UpsertCategoryDayFacts(ctx context.Context, db *gorm.DB, rows []CategoryDayFact, batchSize int) error {
	return upsertRows(ctx, db, rows, append(append([]string{}, dayKeyColumns...), "category"), categoryDayFactUpdateColumns, batchSize)
}

func UpsertServerDayFacts(ctx context.Context, db *gorm.DB, rows []ServerDayFact, batchSize int) error {
	return upsertRows(ctx, db, rows, append(append([]string{}, dayKeyColumns...), "employee_name"), serverDayFactUpdateColumns, batchSize)
}

func UpsertItemDayFacts(ctx context.Context, db *gorm.DB, rows []ItemDayFact, batchSize int) error {
	return upsertRows(ctx, db, rows, append(append([]string{}, dayKeyColumns...), "menu_item_name"), itemDayFactUpdateColumns, batchSize)
}

// ListSyncedDates returns the business dates already present in venue_day_facts
// for venueId within [start, end], reading pageSize rows at a time.
func ListSyncedDates(ctx context.Context, db *gorm.DB, venueId string, start, end time.Time, pageSize int) ([]time.Time, error) {
	if pageSize <= 0 {
		pageSize = DefaultSyncedDatesPageSz
	}
	start, end = DateOnly(start), DateOnly(end)

	var out []time.Time
	var after *time.Time
	for {
		q := db.WithContext(ctx).Model(&VenueDayFact{}).
			Where("venue_id = ? AND business_date >= ? AND business_date <= ?", venueId, start, end)
		if after != nil {
			q = q.Where("business_date > ?", *after)
		}
		var page []time.Time
		if err := q.Order("business_date ASC").Limit(pageSize).Pluck("business_date", &page).Error; err != nil {
			return nil, fmt.Errorf("list synced dates page: %w", err)
		}
		for _, d := range page {
			out = append(out, DateOnly(d))
		}
		if len(page) < pageSize {
			return out, nil
		}
		last := page[len(page)-1]
		after = &last
	}
}

func GetVenueDayFact(ctx context.Context, db *gorm.DB, venueId string, date time.Time) (*VenueDayFact, error) {
	var f VenueDayFact
	err := db.WithContext(ctx).
		Where("venue_id = ? AND business_date = ?", venueId, DateOnly(date)).
		Take(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func GetLaborDayFact(ctx context.Context, db *gorm.DB, venueId string, date time.Time) (*LaborDayFact, error) {
	var f LaborDayFact
	err := db.WithContext(ctx).
		Where("venue_id = ? AND business_date = ?", venueId, DateOnly(date)).
		Take(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// FactFilter selects fact rows for exports.
type FactFilter struct {
	VenueIds []string
	Start    time.Time
	End      time.Time
}

func (f FactFilter) apply(q *gorm.DB) *gorm.DB {
	q = q.Where("business_date >= ? AND business_date <= ?", DateOnly(f.Start), DateOnly(f.End))
	if ids := cleanIds(f.VenueIds); len(ids) > 0 {
		q = q.Where("venue_id IN ?", ids)
	}
	return q.Order("venue_id ASC, business_date ASC")
}

func ListVenueDayFacts(ctx context.Context, db *gorm.DB, filter FactFilter) ([]VenueDayFact, error) {
	var rows []VenueDayFact
	if err := filter.apply(db.WithContext(ctx)).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func ListLaborDayFacts(ctx context.Context, db *gorm.DB, filter FactFilter) ([]LaborDayFact, error) {
	var rows []LaborDayFact
	if err := filter.apply(db.WithContext(ctx)).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func ListCategoryDayFacts(ctx context.Context, db *gorm.DB, filter FactFilter) ([]CategoryDayFact, error) {
	var rows []CategoryDayFact
	if err := filter.apply(db.WithContext(ctx)).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// DateOnly truncates t to its calendar date in UTC, keeping the wall-clock date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
