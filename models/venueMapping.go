package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// VenueMapping links an internal venue to its location in a POS vendor's data.
// Operators maintain it; the sync only reads it.
type VenueMapping struct {
	ID                 uint      `gorm:"primary_key" json:"id"`
	VenueId            string    `gorm:"size:64;not null;uniqueIndex:idx_vpm_venue_location,priority:1" json:"venue_id"`
	SourceLocationId   string    `gorm:"size:128;not null;uniqueIndex:idx_vpm_venue_location,priority:2" json:"source_location_id"`
	SourceLocationName *string   `gorm:"size:255" json:"source_location_name"`
	PosFamily          PosFamily `gorm:"size:20;not null" json:"pos_family"`
	IsActive           bool      `gorm:"not null;index" json:"is_active"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (VenueMapping) TableName() string {
	return "venue_pos_mappings"
}

// ListActiveMappings returns active mappings ordered by venue, optionally
// restricted to venueIds.
func ListActiveMappings(ctx context.Context, db *gorm.DB, venueIds []string) ([]VenueMapping, error) {
	var mappings []VenueMapping
	q := db.WithContext(ctx).Where("is_active = ?", true)
	if ids := cleanIds(venueIds); len(ids) > 0 {
		q = q.Where("venue_id IN ?", ids)
	}
	if err := q.Order("venue_id ASC, id ASC").Find(&mappings).Error; err != nil {
		return nil, err
	}
	return mappings, nil
}

// GetActiveMapping returns the active mapping for venueId, or nil when none exists.
func GetActiveMapping(ctx context.Context, db *gorm.DB, venueId string) (*VenueMapping, error) {
	var m VenueMapping
	err := db.WithContext(ctx).
		Where("venue_id = ? AND is_active = ?", strings.TrimSpace(venueId), true).
		Order("id ASC").
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func cleanIds(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
