package factsync

import (
	"context"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/venue_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const queryPosLocation = `SELECT l.location_uuid, COALESCE(l.location_name, '') AS location_name, COALESCE(l.pos_type, '') AS pos_type
FROM public.pos_locations l
WHERE l.location_uuid = $1
LIMIT 1`

type posLocationRow struct {
	LocationUUID string `db:"location_uuid"`
	LocationName string `db:"location_name"`
	PosType      string `db:"pos_type"`
}

// Resolver turns a venue mapping into the location and POS family to extract from.
type Resolver struct {
	db     *gorm.DB
	q      Querier
	logger *logrus.Logger
}

func NewResolver(db *gorm.DB, q Querier, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Resolver{db: db, q: q, logger: logger}
}

// ResolveVenue looks up the venue's active mapping. ErrNoActiveMapping means
// the venue should be skipped.
func (r *Resolver) ResolveVenue(ctx context.Context, venueId string) (*ResolvedVenue, error) {
	m, err := models.GetActiveMapping(ctx, r.db, venueId)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("venue %s: %w", venueId, ErrNoActiveMapping)
	}
	return r.Resolve(ctx, *m)
}

// Resolve classifies a mapping. Mappings tagged legacy (or untagged) are
// checked against the source location metadata, whose pos_type tag can move
// them to the modern or alternate schema; no tag keeps them legacy.
func (r *Resolver) Resolve(ctx context.Context, m models.VenueMapping) (*ResolvedVenue, error) {
	if !m.IsActive {
		return nil, fmt.Errorf("venue %s: %w", m.VenueId, ErrNoActiveMapping)
	}
	rv := &ResolvedVenue{
		VenueId:   m.VenueId,
		MappingId: m.ID,
		Location:  Location{ID: strings.TrimSpace(m.SourceLocationId)},
		Family:    m.PosFamily,
	}
	if m.SourceLocationName != nil {
		rv.Location.Name = strings.TrimSpace(*m.SourceLocationName)
	}
	if rv.Family == models.PosFamilyModern || rv.Family == models.PosFamilyAlternate {
		return rv, nil
	}
	if rv.Family != "" && rv.Family != models.PosFamilyLegacy {
		return nil, fmt.Errorf("venue %s family %q: %w", m.VenueId, rv.Family, ErrUnsupportedFamily)
	}
	rv.Family = models.PosFamilyLegacy

	var rows []posLocationRow
	if err := r.q.Select(ctx, &rows, queryPosLocation, rv.Location.ID); err != nil {
		return nil, fmt.Errorf("pos location lookup: %w", err)
	}
	if len(rows) == 0 {
		return rv, nil
	}
	meta := rows[0]
	if name := strings.TrimSpace(meta.LocationName); name != "" {
		rv.Location.Name = name
	}
	family, err := models.ParsePosFamily(meta.PosType)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"module":   "factsync",
			"funcName": "Resolve",
			"venue_id": m.VenueId,
			"pos_type": meta.PosType,
		}).Warn("unknown pos_type tag; treating venue as legacy")
		return rv, nil
	}
	rv.Family = family
	return rv, nil
}
