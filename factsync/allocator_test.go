package factsync

import (
	"testing"

	"bitbucket.org/mmdatafocus/venue_backend/models"
	"github.com/shopspring/decimal"
)

func TestAllocateModernRevenueCenters(t *testing.T) {
	cats := []CategoryBreakdown{
		{Name: "Dining Room", Type: models.CategoryTypeFood, GrossSales: dec("600")},
		{Name: "Bar", Type: models.CategoryTypeOtherBeverage, GrossSales: dec("900")},
	}
	a := Allocate(dec("1000"), cats)

	mustEqualDecimal(t, "ratio", a.Ratio, dec("0.667"))
	mustEqualDecimal(t, "food", a.Food, dec("400.20"))
	mustEqualDecimal(t, "beverage", a.Beverage, dec("599.80"))
	mustEqualDecimal(t, "other", a.Other, decimal.Zero)
}

func TestAllocateConservesNetSales(t *testing.T) {
	tests := []struct {
		name string
		net  string
		cats []CategoryBreakdown
	}{
		{
			name: "exact ratio",
			net:  "100",
			cats: []CategoryBreakdown{
				{Type: models.CategoryTypeFood, GrossSales: dec("50")},
				{Type: models.CategoryTypeWine, GrossSales: dec("30")},
				{Type: models.CategoryTypeOther, GrossSales: dec("20")},
			},
		},
		{
			name: "rounding remainder goes to other",
			net:  "99.99",
			cats: []CategoryBreakdown{
				{Type: models.CategoryTypeFood, GrossSales: dec("33.33")},
				{Type: models.CategoryTypeBeer, GrossSales: dec("33.33")},
				{Type: models.CategoryTypeOther, GrossSales: dec("33.34")},
			},
		},
		{
			name: "net above gross",
			net:  "1234.57",
			cats: []CategoryBreakdown{
				{Type: models.CategoryTypeFood, GrossSales: dec("700.11")},
				{Type: models.CategoryTypeLiquor, GrossSales: dec("300.07")},
				{Type: models.CategoryTypeWine, GrossSales: dec("111.13")},
			},
		},
		{
			name: "only beverage",
			net:  "87.65",
			cats: []CategoryBreakdown{
				{Type: models.CategoryTypeOtherBeverage, GrossSales: dec("91.10")},
			},
		},
		{
			name: "fractional net",
			net:  "250.005",
			cats: []CategoryBreakdown{
				{Type: models.CategoryTypeFood, GrossSales: dec("100")},
				{Type: models.CategoryTypeOther, GrossSales: dec("200")},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			net := dec(tc.net)
			a := Allocate(net, tc.cats)
			sum := a.Food.Add(a.Beverage).Add(a.Other)
			if !sum.Equal(net.Round(2)) {
				t.Fatalf("food+beverage+other = %s, want %s", sum, net.Round(2))
			}
		})
	}
}

func TestAllocateRemainderPicksLargestBucket(t *testing.T) {
	cats := []CategoryBreakdown{
		{Type: models.CategoryTypeFood, GrossSales: dec("33.33")},
		{Type: models.CategoryTypeBeer, GrossSales: dec("33.33")},
		{Type: models.CategoryTypeOther, GrossSales: dec("33.34")},
	}
	a := Allocate(dec("99.99"), cats)
	mustEqualDecimal(t, "food", a.Food, dec("33.33"))
	mustEqualDecimal(t, "beverage", a.Beverage, dec("33.33"))
	mustEqualDecimal(t, "other", a.Other, dec("33.33"))
}

func TestAllocateBeverageSubtypes(t *testing.T) {
	cats := []CategoryBreakdown{
		{Type: models.CategoryTypeFood, GrossSales: dec("50")},
		{Type: models.CategoryTypeWine, GrossSales: dec("20")},
		{Type: models.CategoryTypeLiquor, GrossSales: dec("20")},
		{Type: models.CategoryTypeBeer, GrossSales: dec("10")},
	}
	a := Allocate(dec("50"), cats)

	mustEqualDecimal(t, "ratio", a.Ratio, dec("0.5"))
	mustEqualDecimal(t, "food", a.Food, dec("25"))
	mustEqualDecimal(t, "beverage", a.Beverage, dec("25"))
	mustEqualDecimal(t, "wine", a.Wine, dec("10"))
	mustEqualDecimal(t, "liquor", a.Liquor, dec("10"))
	mustEqualDecimal(t, "beer", a.Beer, dec("5"))
}

func TestAllocateZeroInputs(t *testing.T) {
	food := []CategoryBreakdown{{Type: models.CategoryTypeFood, GrossSales: dec("10")}}
	tests := []struct {
		name string
		net  decimal.Decimal
		cats []CategoryBreakdown
	}{
		{name: "zero net", net: decimal.Zero, cats: food},
		{name: "negative net", net: dec("-5"), cats: food},
		{name: "no categories", net: dec("100"), cats: nil},
		{name: "zero gross", net: dec("100"), cats: []CategoryBreakdown{{Type: models.CategoryTypeFood, GrossSales: decimal.Zero}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := Allocate(tc.net, tc.cats)
			for field, v := range map[string]decimal.Decimal{
				"ratio": a.Ratio, "food": a.Food, "beverage": a.Beverage, "other": a.Other,
				"wine": a.Wine, "liquor": a.Liquor, "beer": a.Beer,
			} {
				if !v.IsZero() {
					t.Fatalf("%s = %s, want 0", field, v)
				}
			}
		})
	}
}
