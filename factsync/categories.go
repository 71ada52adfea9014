package factsync

import (
	"sort"
	"strings"

	"bitbucket.org/mmdatafocus/venue_backend/models"
	"github.com/shopspring/decimal"
)

// categoryTypes maps lower-cased POS category names to the sales taxonomy.
// Anything not listed is "other".
var categoryTypes = map[string]models.CategoryType{
	"food":           models.CategoryTypeFood,
	"food sales":     models.CategoryTypeFood,
	"appetizers":     models.CategoryTypeFood,
	"appetizer":      models.CategoryTypeFood,
	"starters":       models.CategoryTypeFood,
	"entrees":        models.CategoryTypeFood,
	"entree":         models.CategoryTypeFood,
	"mains":          models.CategoryTypeFood,
	"sides":          models.CategoryTypeFood,
	"salads":         models.CategoryTypeFood,
	"soups":          models.CategoryTypeFood,
	"desserts":       models.CategoryTypeFood,
	"dessert":        models.CategoryTypeFood,
	"raw bar":        models.CategoryTypeFood,
	"sushi":          models.CategoryTypeFood,
	"brunch":         models.CategoryTypeFood,
	"lunch":          models.CategoryTypeFood,
	"dinner":         models.CategoryTypeFood,
	"kids":           models.CategoryTypeFood,
	"wine":           models.CategoryTypeWine,
	"wines":          models.CategoryTypeWine,
	"wine by glass":  models.CategoryTypeWine,
	"wine btg":       models.CategoryTypeWine,
	"btg":            models.CategoryTypeWine,
	"bottle wine":    models.CategoryTypeWine,
	"wine bottle":    models.CategoryTypeWine,
	"btl wine":       models.CategoryTypeWine,
	"champagne":      models.CategoryTypeWine,
	"sparkling":      models.CategoryTypeWine,
	"sake":           models.CategoryTypeWine,
	"liquor":         models.CategoryTypeLiquor,
	"spirits":        models.CategoryTypeLiquor,
	"cocktails":      models.CategoryTypeLiquor,
	"cocktail":       models.CategoryTypeLiquor,
	"bottle service": models.CategoryTypeLiquor,
	"vodka":          models.CategoryTypeLiquor,
	"tequila":        models.CategoryTypeLiquor,
	"whiskey":        models.CategoryTypeLiquor,
	"bourbon":        models.CategoryTypeLiquor,
	"scotch":         models.CategoryTypeLiquor,
	"gin":            models.CategoryTypeLiquor,
	"rum":            models.CategoryTypeLiquor,
	"mezcal":         models.CategoryTypeLiquor,
	"beer":           models.CategoryTypeBeer,
	"beers":          models.CategoryTypeBeer,
	"draft beer":     models.CategoryTypeBeer,
	"bottle beer":    models.CategoryTypeBeer,
	"draft":          models.CategoryTypeBeer,
	"cider":          models.CategoryTypeBeer,
	"beverage":       models.CategoryTypeOtherBeverage,
	"beverages":      models.CategoryTypeOtherBeverage,
	"bar":            models.CategoryTypeOtherBeverage,
	"n/a beverage":   models.CategoryTypeOtherBeverage,
	"na beverage":    models.CategoryTypeOtherBeverage,
	"non-alcoholic":  models.CategoryTypeOtherBeverage,
	"soft drinks":    models.CategoryTypeOtherBeverage,
	"coffee":         models.CategoryTypeOtherBeverage,
	"tea":            models.CategoryTypeOtherBeverage,
	"juice":          models.CategoryTypeOtherBeverage,
	"mocktails":      models.CategoryTypeOtherBeverage,
}

// CategoryTypeFor normalizes a POS category name.
func CategoryTypeFor(name string) models.CategoryType {
	key := strings.Join(strings.Fields(strings.ToLower(name)), " ")
	if t, ok := categoryTypes[key]; ok {
		return t
	}
	return models.CategoryTypeOther
}

// mergeCategories folds rows that share a name (case and spacing
// insensitive) and returns them sorted by name.
func mergeCategories(in []CategoryBreakdown) []CategoryBreakdown {
	byKey := make(map[string]*CategoryBreakdown, len(in))
	order := make([]string, 0, len(in))
	for _, c := range in {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			name = "Uncategorized"
		}
		key := strings.ToLower(name)
		if cur, ok := byKey[key]; ok {
			cur.Quantity = cur.Quantity.Add(c.Quantity)
			cur.GrossSales = cur.GrossSales.Add(c.GrossSales)
			continue
		}
		t := c.Type
		if t == "" {
			t = CategoryTypeFor(name)
		}
		byKey[key] = &CategoryBreakdown{Name: name, Type: t, Quantity: c.Quantity, GrossSales: c.GrossSales}
		order = append(order, key)
	}
	sort.Strings(order)
	out := make([]CategoryBreakdown, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out
}

func mergeItems(in []ItemBreakdown) []ItemBreakdown {
	byKey := make(map[string]*ItemBreakdown, len(in))
	order := make([]string, 0, len(in))
	for _, it := range in {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if cur, ok := byKey[key]; ok {
			cur.Quantity = cur.Quantity.Add(it.Quantity)
			cur.GrossSales = cur.GrossSales.Add(it.GrossSales)
			continue
		}
		t := it.Type
		if t == "" {
			t = CategoryTypeFor(it.Category)
		}
		byKey[key] = &ItemBreakdown{Name: name, Category: strings.TrimSpace(it.Category), Type: t, Quantity: it.Quantity, GrossSales: it.GrossSales}
		order = append(order, key)
	}
	sort.Strings(order)
	out := make([]ItemBreakdown, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out
}

func mergeServers(in []ServerBreakdown) []ServerBreakdown {
	byKey := make(map[string]*ServerBreakdown, len(in))
	order := make([]string, 0, len(in))
	for _, s := range in {
		name := strings.TrimSpace(s.EmployeeName)
		if name == "" {
			name = "Unknown"
		}
		key := strings.ToLower(name)
		if cur, ok := byKey[key]; ok {
			cur.ChecksCount += s.ChecksCount
			cur.CoversCount += s.CoversCount
			cur.GrossSales = cur.GrossSales.Add(s.GrossSales)
			cur.NetSales = cur.NetSales.Add(s.NetSales)
			cur.Tips = cur.Tips.Add(s.Tips)
			continue
		}
		cp := s
		cp.EmployeeName = name
		byKey[key] = &cp
		order = append(order, key)
	}
	sort.Strings(order)
	out := make([]ServerBreakdown, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out
}

func sumQuantity(cats []CategoryBreakdown) decimal.Decimal {
	total := decimal.Zero
	for _, c := range cats {
		total = total.Add(c.Quantity)
	}
	return total
}
