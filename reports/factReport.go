package reports

import (
	"bytes"
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/venue_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const (
	SheetVenueDays  = "Venue Days"
	SheetLabor      = "Labor"
	SheetCategories = "Categories"

	XlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	// "#,##0.00"
	moneyNumFmt = 4
)

var venueDayHeadings = []interface{}{
	"Venue", "Business Date", "POS Family", "Source",
	"Gross Sales", "Net Sales", "Food", "Beverage", "Wine", "Liquor", "Beer", "Other",
	"Comps", "Voids", "Taxes", "Tips",
	"Checks", "Covers", "Items Sold", "Complete", "Last Synced",
}

var laborHeadings = []interface{}{
	"Venue", "Business Date", "Source",
	"Total Hours", "OT Hours", "Labor Cost", "Punches", "Employees",
	"FOH Hours", "FOH Cost", "BOH Hours", "BOH Cost", "Other Hours", "Other Cost",
	"Net Sales", "Covers", "Labor %",
}

var categoryHeadings = []interface{}{
	"Venue", "Business Date", "Category", "Type", "Quantity", "Gross Sales", "Net Sales", "Source",
}

// FactSet is the fact rows one report covers.
type FactSet struct {
	Venues     []models.VenueDayFact
	Labor      []models.LaborDayFact
	Categories []models.CategoryDayFact
}

// BuildFactWorkbook lays venue, labor and category facts out on one sheet
// each, one row per fact.
func BuildFactWorkbook(set FactSet) (*excelize.File, error) {
	venues, labor := set.Venues, set.Labor
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetVenueDays); err != nil {
		return nil, err
	}
	for _, sheet := range []string{SheetLabor, SheetCategories} {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: moneyNumFmt})
	if err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	if err := writeHeader(f, SheetVenueDays, venueDayHeadings, bold); err != nil {
		return nil, err
	}
	for i, v := range venues {
		row := []interface{}{
			v.VenueId, v.BusinessDate.Format("2006-01-02"), string(v.PosFamily), string(v.DataSource),
			money2(v.GrossSales), money2(v.NetSales), money2(v.FoodSales), money2(v.BeverageSales),
			money2(v.WineSales), money2(v.LiquorSales), money2(v.BeerSales), money2(v.OtherSales),
			money2(v.CompsTotal), money2(v.VoidsTotal), money2(v.TaxesTotal), money2(v.TipsTotal),
			v.ChecksCount, v.CoversCount, v.ItemsSold.InexactFloat64(), v.IsComplete,
			v.LastSyncedAt.UTC().Format("2006-01-02 15:04:05"),
		}
		if err := writeRow(f, SheetVenueDays, i+2, row); err != nil {
			return nil, err
		}
	}
	if len(venues) > 0 {
		if err := styleRange(f, SheetVenueDays, 5, 16, len(venues)+1, money); err != nil {
			return nil, err
		}
	}

	if err := writeHeader(f, SheetLabor, laborHeadings, bold); err != nil {
		return nil, err
	}
	for i, l := range labor {
		row := []interface{}{
			l.VenueId, l.BusinessDate.Format("2006-01-02"), string(l.LaborSource),
			money2(l.TotalHours), money2(l.OtHours), money2(l.LaborCost), l.PunchCount, l.EmployeeCount,
			money2(l.FohHours), money2(l.FohCost), money2(l.BohHours), money2(l.BohCost),
			money2(l.OtherHours), money2(l.OtherCost),
			money2(l.NetSales), l.Covers, money2(LaborPercent(l.LaborCost, l.NetSales)),
		}
		if err := writeRow(f, SheetLabor, i+2, row); err != nil {
			return nil, err
		}
	}
	if len(labor) > 0 {
		for _, cols := range [][2]int{{4, 6}, {9, 15}, {17, 17}} {
			if err := styleRange(f, SheetLabor, cols[0], cols[1], len(labor)+1, money); err != nil {
				return nil, err
			}
		}
	}

	if err := writeHeader(f, SheetCategories, categoryHeadings, bold); err != nil {
		return nil, err
	}
	for i, c := range set.Categories {
		row := []interface{}{
			c.VenueId, c.BusinessDate.Format("2006-01-02"), c.Category, string(c.CategoryType),
			c.Quantity.InexactFloat64(), money2(c.GrossSales), money2(c.NetSales), string(c.DataSource),
		}
		if err := writeRow(f, SheetCategories, i+2, row); err != nil {
			return nil, err
		}
	}
	if len(set.Categories) > 0 {
		if err := styleRange(f, SheetCategories, 6, 7, len(set.Categories)+1, money); err != nil {
			return nil, err
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

// WriteFactReport loads the facts matching filter and returns the workbook bytes.
func WriteFactReport(ctx context.Context, db *gorm.DB, filter models.FactFilter) (*bytes.Buffer, error) {
	venues, err := models.ListVenueDayFacts(ctx, db, filter)
	if err != nil {
		return nil, fmt.Errorf("list venue day facts: %w", err)
	}
	labor, err := models.ListLaborDayFacts(ctx, db, filter)
	if err != nil {
		return nil, fmt.Errorf("list labor day facts: %w", err)
	}
	categories, err := models.ListCategoryDayFacts(ctx, db, filter)
	if err != nil {
		return nil, fmt.Errorf("list category day facts: %w", err)
	}
	f, err := BuildFactWorkbook(FactSet{Venues: venues, Labor: labor, Categories: categories})
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.WriteToBuffer()
}

// LaborPercent is labor cost as a percentage of net sales, zero without sales.
func LaborPercent(cost, net decimal.Decimal) decimal.Decimal {
	if !net.IsPositive() {
		return decimal.Zero
	}
	return cost.Div(net).Mul(decimal.NewFromInt(100)).Round(2)
}

func writeHeader(f *excelize.File, sheet string, headings []interface{}, style int) error {
	if err := f.SetSheetRow(sheet, "A1", &headings); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(headings), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func writeRow(f *excelize.File, sheet string, rowNo int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNo)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func styleRange(f *excelize.File, sheet string, fromCol, toCol, lastRow int, style int) error {
	from, err := excelize.CoordinatesToCellName(fromCol, 2)
	if err != nil {
		return err
	}
	to, err := excelize.CoordinatesToCellName(toCol, lastRow)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, from, to, style)
}

func money2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
