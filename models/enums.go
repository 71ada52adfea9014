package models

import (
	"errors"
	"strings"
)

// PosFamily identifies the vendor schema a venue's POS data lives in.
type PosFamily string

const (
	PosFamilyLegacy    PosFamily = "legacy"
	PosFamilyModern    PosFamily = "modern"
	PosFamilyAlternate PosFamily = "alternate"
)

func (f PosFamily) Valid() bool {
	switch f {
	case PosFamilyLegacy, PosFamilyModern, PosFamilyAlternate:
		return true
	}
	return false
}

// ParsePosFamily accepts the family names plus the vendor tags found in the
// POS location metadata. Empty input is legacy.
func ParsePosFamily(s string) (PosFamily, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "legacy", "tipsee":
		return PosFamilyLegacy, nil
	case "modern", "simphony", "micros":
		return PosFamilyModern, nil
	case "alternate", "alt", "upserve":
		return PosFamilyAlternate, nil
	}
	return "", errors.New("invalid pos family")
}

// CategoryType is the fixed sales taxonomy categories are normalized into.
type CategoryType string

const (
	CategoryTypeFood          CategoryType = "food"
	CategoryTypeWine          CategoryType = "wine"
	CategoryTypeLiquor        CategoryType = "liquor"
	CategoryTypeBeer          CategoryType = "beer"
	CategoryTypeOtherBeverage CategoryType = "other_beverage"
	CategoryTypeOther         CategoryType = "other"
)

func (c CategoryType) IsBeverage() bool {
	switch c {
	case CategoryTypeWine, CategoryTypeLiquor, CategoryTypeBeer, CategoryTypeOtherBeverage:
		return true
	}
	return false
}

// DataSource records which source table served a day.
type DataSource string

const (
	DataSourcePrimary    DataSource = "primary"
	DataSourceHistorical DataSource = "historical"
)

// LaborSource records which punch table tier produced a labor row.
type LaborSource string

const (
	LaborSourceNone          LaborSource = ""
	LaborSourcePunches       LaborSource = "punches"
	LaborSourceTimeEntries   LaborSource = "time_entries"
	LaborSourcePunchesLegacy LaborSource = "punches_legacy"
)

// Department is the FOH/BOH/other bucket a punch is attributed to.
type Department string

const (
	DepartmentFOH   Department = "foh"
	DepartmentBOH   Department = "boh"
	DepartmentOther Department = "other"
)
