package factsync

import (
	"context"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/venue_backend/models"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func testLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestResolveClassifiesLegacyMappings(t *testing.T) {
	tests := []struct {
		name       string
		posType    string
		rows       bool
		wantFamily models.PosFamily
		wantName   string
	}{
		{name: "tag moves venue to modern", posType: "simphony", rows: true, wantFamily: models.PosFamilyModern, wantName: "Harbor"},
		{name: "tag moves venue to alternate", posType: "upserve", rows: true, wantFamily: models.PosFamilyAlternate, wantName: "Harbor"},
		{name: "empty tag stays legacy", posType: "", rows: true, wantFamily: models.PosFamilyLegacy, wantName: "Harbor"},
		{name: "unknown tag stays legacy", posType: "abacus", rows: true, wantFamily: models.PosFamilyLegacy, wantName: "Harbor"},
		{name: "no metadata stays legacy", rows: false, wantFamily: models.PosFamilyLegacy, wantName: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := newFakeQuerier()
			if tc.rows {
				q.value(queryPosLocation, []posLocationRow{{LocationUUID: "uuid-1", LocationName: "Harbor", PosType: tc.posType}})
			}
			r := NewResolver(nil, q, testLogger())
			rv, err := r.Resolve(context.Background(), models.VenueMapping{
				ID: 7, VenueId: "venue-1", SourceLocationId: " uuid-1 ", PosFamily: models.PosFamilyLegacy, IsActive: true,
			})
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if rv.Family != tc.wantFamily {
				t.Fatalf("family = %q, want %q", rv.Family, tc.wantFamily)
			}
			if rv.Location.ID != "uuid-1" || rv.Location.Name != tc.wantName {
				t.Fatalf("location = %+v", rv.Location)
			}
			if rv.MappingId != 7 {
				t.Fatalf("mapping id = %d", rv.MappingId)
			}
		})
	}
}

func TestResolveTrustsExplicitFamilies(t *testing.T) {
	q := newFakeQuerier()
	r := NewResolver(nil, q, testLogger())
	name := "Pier 9"
	rv, err := r.Resolve(context.Background(), models.VenueMapping{
		VenueId: "venue-2", SourceLocationId: "rvc-9", SourceLocationName: &name, PosFamily: models.PosFamilyModern, IsActive: true,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rv.Family != models.PosFamilyModern || rv.Location.Name != "Pier 9" {
		t.Fatalf("resolved = %+v", rv)
	}
	if q.callCount(queryPosLocation) != 0 {
		t.Fatalf("modern mappings need no metadata lookup")
	}
}

func TestResolveRejectsInactiveAndUnknown(t *testing.T) {
	r := NewResolver(nil, newFakeQuerier(), testLogger())

	_, err := r.Resolve(context.Background(), models.VenueMapping{VenueId: "v", SourceLocationId: "x", PosFamily: models.PosFamilyLegacy})
	if !errors.Is(err, ErrNoActiveMapping) {
		t.Fatalf("inactive mapping err = %v", err)
	}
	_, err = r.Resolve(context.Background(), models.VenueMapping{VenueId: "v", SourceLocationId: "x", PosFamily: "bogus", IsActive: true})
	if !errors.Is(err, ErrUnsupportedFamily) {
		t.Fatalf("unknown family err = %v", err)
	}
}

func TestResolveVenueFromStore(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	if err := db.Create(&models.VenueMapping{VenueId: "venue-1", SourceLocationId: "alt-1", PosFamily: models.PosFamilyAlternate, IsActive: true}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	r := NewResolver(db, newFakeQuerier(), testLogger())

	rv, err := r.ResolveVenue(ctx, "venue-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rv.Family != models.PosFamilyAlternate || rv.Location.ID != "alt-1" {
		t.Fatalf("resolved = %+v", rv)
	}

	if _, err := r.ResolveVenue(ctx, "venue-404"); !errors.Is(err, ErrNoActiveMapping) {
		t.Fatalf("missing venue err = %v", err)
	}
}
