package factsync

import (
	"bitbucket.org/mmdatafocus/venue_backend/models"
	"github.com/shopspring/decimal"
)

const ratioPlaces = 3

// Allocation is net sales split by category. Food + Beverage + Other always
// equals the allocated net to the cent. Wine, Liquor and Beer are shares of
// Beverage and are not forced to reconcile.
type Allocation struct {
	Ratio    decimal.Decimal
	Food     decimal.Decimal
	Beverage decimal.Decimal
	Other    decimal.Decimal
	Wine     decimal.Decimal
	Liquor   decimal.Decimal
	Beer     decimal.Decimal
}

// Allocate scales item-level gross sales down (or up) to the check-level net.
// The ratio is rounded to three places, each bucket to cents, and whatever
// the rounding leaves over goes to the largest of food, beverage and other.
func Allocate(netSales decimal.Decimal, categories []CategoryBreakdown) Allocation {
	zero := Allocation{
		Ratio: decimal.Zero, Food: decimal.Zero, Beverage: decimal.Zero, Other: decimal.Zero,
		Wine: decimal.Zero, Liquor: decimal.Zero, Beer: decimal.Zero,
	}

	var food, bev, other, wine, liquor, beer decimal.Decimal
	for _, c := range categories {
		switch c.Type {
		case models.CategoryTypeFood:
			food = food.Add(c.GrossSales)
		case models.CategoryTypeWine:
			wine = wine.Add(c.GrossSales)
			bev = bev.Add(c.GrossSales)
		case models.CategoryTypeLiquor:
			liquor = liquor.Add(c.GrossSales)
			bev = bev.Add(c.GrossSales)
		case models.CategoryTypeBeer:
			beer = beer.Add(c.GrossSales)
			bev = bev.Add(c.GrossSales)
		case models.CategoryTypeOtherBeverage:
			bev = bev.Add(c.GrossSales)
		default:
			other = other.Add(c.GrossSales)
		}
	}
	gross := food.Add(bev).Add(other)
	if !netSales.IsPositive() || !gross.IsPositive() {
		return zero
	}

	ratio := netSales.Div(gross).Round(ratioPlaces)
	a := Allocation{
		Ratio:    ratio,
		Food:     scale(food, ratio),
		Beverage: scale(bev, ratio),
		Other:    scale(other, ratio),
		Wine:     scale(wine, ratio),
		Liquor:   scale(liquor, ratio),
		Beer:     scale(beer, ratio),
	}

	remainder := netSales.Round(2).Sub(a.Food.Add(a.Beverage).Add(a.Other))
	if !remainder.IsZero() {
		switch {
		case a.Food.GreaterThanOrEqual(a.Beverage) && a.Food.GreaterThanOrEqual(a.Other):
			a.Food = a.Food.Add(remainder)
		case a.Beverage.GreaterThanOrEqual(a.Other):
			a.Beverage = a.Beverage.Add(remainder)
		default:
			a.Other = a.Other.Add(remainder)
		}
	}
	return a
}

// CategoryNet is the per-category share of net sales under ratio.
func CategoryNet(gross decimal.Decimal, ratio decimal.Decimal) decimal.Decimal {
	return scale(gross, ratio)
}

func scale(v, ratio decimal.Decimal) decimal.Decimal {
	return v.Mul(ratio).Round(2)
}
