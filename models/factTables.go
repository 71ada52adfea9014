package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fact rows are derived data: re-running a sync overwrites them in place.
// None of them carry gorm-managed timestamps; LastSyncedAt is written by the
// sync from its own clock so a repeated run yields identical rows.

// VenueDayFact holds the canonical daily totals for one venue.
// FoodSales + BeverageSales + OtherSales == NetSales to the cent.
type VenueDayFact struct {
	VenueId      string    `gorm:"primaryKey;size:64" json:"venue_id"`
	BusinessDate time.Time `gorm:"primaryKey;type:date;index:idx_vdf_date" json:"business_date"`

	GrossSales    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"gross_sales"`
	NetSales      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"net_sales"`
	FoodSales     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"food_sales"`
	BeverageSales decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"beverage_sales"`
	WineSales     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"wine_sales"`
	LiquorSales   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"liquor_sales"`
	BeerSales     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"beer_sales"`
	OtherSales    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"other_sales"`
	CompsTotal    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"comps_total"`
	VoidsTotal    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"voids_total"`
	TaxesTotal    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"taxes_total"`
	TipsTotal     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"tips_total"`
	ChecksCount   int             `gorm:"not null" json:"checks_count"`
	CoversCount   int             `gorm:"not null" json:"covers_count"`
	ItemsSold     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"items_sold"`

	PosFamily    PosFamily  `gorm:"size:20;not null" json:"pos_family"`
	DataSource   DataSource `gorm:"size:20;not null" json:"data_source"`
	IsComplete   bool       `gorm:"not null" json:"is_complete"`
	LastSyncedAt time.Time  `gorm:"not null" json:"last_synced_at"`
}

// LaborDayFact holds daily labor totals. Department hours add up to at most
// TotalHours, and exactly to it when the punch source carries departments.
type LaborDayFact struct {
	VenueId      string    `gorm:"primaryKey;size:64" json:"venue_id"`
	BusinessDate time.Time `gorm:"primaryKey;type:date;index:idx_ldf_date" json:"business_date"`

	TotalHours    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_hours"`
	OtHours       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"ot_hours"`
	LaborCost     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"labor_cost"`
	PunchCount    int             `gorm:"not null" json:"punch_count"`
	EmployeeCount int             `gorm:"not null" json:"employee_count"`

	FohHours           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"foh_hours"`
	FohCost            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"foh_cost"`
	FohEmployeeCount   int             `gorm:"not null" json:"foh_employee_count"`
	BohHours           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"boh_hours"`
	BohCost            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"boh_cost"`
	BohEmployeeCount   int             `gorm:"not null" json:"boh_employee_count"`
	OtherHours         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"other_hours"`
	OtherCost          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"other_cost"`
	OtherEmployeeCount int             `gorm:"not null" json:"other_employee_count"`

	NetSales     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"net_sales"`
	Covers       int             `gorm:"not null" json:"covers"`
	LaborSource  LaborSource     `gorm:"size:32;not null" json:"labor_source"`
	LastSyncedAt time.Time       `gorm:"not null" json:"last_synced_at"`
}

type CategoryDayFact struct {
	VenueId      string    `gorm:"primaryKey;size:64" json:"venue_id"`
	BusinessDate time.Time `gorm:"primaryKey;type:date" json:"business_date"`
	Category     string    `gorm:"primaryKey;size:128" json:"category"`

	CategoryType CategoryType    `gorm:"size:32;not null" json:"category_type"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	GrossSales   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"gross_sales"`
	NetSales     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"net_sales"`
	DataSource   DataSource      `gorm:"size:20;not null" json:"data_source"`
	LastSyncedAt time.Time       `gorm:"not null" json:"last_synced_at"`
}

type ServerDayFact struct {
	VenueId      string    `gorm:"primaryKey;size:64" json:"venue_id"`
	BusinessDate time.Time `gorm:"primaryKey;type:date" json:"business_date"`
	EmployeeName string    `gorm:"primaryKey;size:255" json:"employee_name"`

	ChecksCount  int             `gorm:"not null" json:"checks_count"`
	CoversCount  int             `gorm:"not null" json:"covers_count"`
	GrossSales   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"gross_sales"`
	NetSales     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"net_sales"`
	TipsTotal    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"tips_total"`
	DataSource   DataSource      `gorm:"size:20;not null" json:"data_source"`
	LastSyncedAt time.Time       `gorm:"not null" json:"last_synced_at"`
}

type ItemDayFact struct {
	VenueId      string    `gorm:"primaryKey;size:64" json:"venue_id"`
	BusinessDate time.Time `gorm:"primaryKey;type:date" json:"business_date"`
	MenuItemName string    `gorm:"primaryKey;size:255" json:"menu_item_name"`

	Category     string          `gorm:"size:128;not null" json:"category"`
	CategoryType CategoryType    `gorm:"size:32;not null" json:"category_type"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	GrossSales   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"gross_sales"`
	DataSource   DataSource      `gorm:"size:20;not null" json:"data_source"`
	LastSyncedAt time.Time       `gorm:"not null" json:"last_synced_at"`
}
