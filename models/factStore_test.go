package models

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "facts.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestUpsertVenueDayFactsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	syncedAt := time.Date(2025, 3, 2, 6, 0, 0, 0, time.UTC)

	row := VenueDayFact{
		VenueId:       "venue-1",
		BusinessDate:  day("2025-03-01"),
		GrossSales:    decimal.RequireFromString("1500.00"),
		NetSales:      decimal.RequireFromString("1000.00"),
		FoodSales:     decimal.RequireFromString("400.20"),
		BeverageSales: decimal.RequireFromString("599.80"),
		ChecksCount:   42,
		CoversCount:   80,
		PosFamily:     PosFamilyModern,
		DataSource:    DataSourcePrimary,
		LastSyncedAt:  syncedAt,
	}

	for i := 0; i < 2; i++ {
		if err := UpsertVenueDayFacts(ctx, db, []VenueDayFact{row}, 200); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	var count int64
	if err := db.Model(&VenueDayFact{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row after two upserts, got %d", count)
	}

	got, err := GetVenueDayFact(ctx, db, "venue-1", day("2025-03-01"))
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if !got.NetSales.Equal(row.NetSales) || !got.FoodSales.Equal(row.FoodSales) || got.ChecksCount != 42 {
		t.Fatalf("unexpected row: %+v", got)
	}
	if !got.LastSyncedAt.Equal(syncedAt) {
		t.Fatalf("last_synced_at=%s want %s", got.LastSyncedAt, syncedAt)
	}

	row.NetSales = decimal.RequireFromString("1100.00")
	row.ChecksCount = 43
	if err := UpsertVenueDayFacts(ctx, db, []VenueDayFact{row}, 200); err != nil {
		t.Fatalf("upsert changed row: %v", err)
	}
	got, _ = GetVenueDayFact(ctx, db, "venue-1", day("2025-03-01"))
	if !got.NetSales.Equal(decimal.RequireFromString("1100.00")) || got.ChecksCount != 43 {
		t.Fatalf("expected overwrite in place, got %+v", got)
	}
}

func TestUpsertSecondaryFactsUseDimensionKey(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	d := day("2025-03-01")

	cats := []CategoryDayFact{
		{VenueId: "v", BusinessDate: d, Category: "Food", CategoryType: CategoryTypeFood, GrossSales: decimal.NewFromInt(600), DataSource: DataSourcePrimary},
		{VenueId: "v", BusinessDate: d, Category: "Wine", CategoryType: CategoryTypeWine, GrossSales: decimal.NewFromInt(300), DataSource: DataSourcePrimary},
	}
	if err := UpsertCategoryDayFacts(ctx, db, cats, 1); err != nil {
		t.Fatalf("upsert categories: %v", err)
	}
	cats[1].GrossSales = decimal.NewFromInt(350)
	if err := UpsertCategoryDayFacts(ctx, db, cats, 1); err != nil {
		t.Fatalf("re-upsert categories: %v", err)
	}
	rows, err := ListCategoryDayFacts(ctx, db, FactFilter{Start: d, End: d})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 category rows, got %d", len(rows))
	}

	servers := []ServerDayFact{{VenueId: "v", BusinessDate: d, EmployeeName: "Ana", ChecksCount: 3, DataSource: DataSourcePrimary}}
	if err := UpsertServerDayFacts(ctx, db, servers, 200); err != nil {
		t.Fatalf("upsert servers: %v", err)
	}
	items := []ItemDayFact{{VenueId: "v", BusinessDate: d, MenuItemName: "Burger", Category: "Food", CategoryType: CategoryTypeFood, Quantity: decimal.NewFromInt(2), DataSource: DataSourcePrimary}}
	if err := UpsertItemDayFacts(ctx, db, items, 200); err != nil {
		t.Fatalf("upsert items: %v", err)
	}
	if err := UpsertItemDayFacts(ctx, db, items, 200); err != nil {
		t.Fatalf("re-upsert items: %v", err)
	}
	var n int64
	db.Model(&ItemDayFact{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected 1 item row, got %d", n)
	}
}

func TestListSyncedDatesPaginates(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	var rows []VenueDayFact
	for _, s := range []string{"2025-01-01", "2025-01-02", "2025-01-03", "2025-01-04", "2025-01-05"} {
		rows = append(rows, VenueDayFact{VenueId: "v1", BusinessDate: day(s), PosFamily: PosFamilyLegacy, DataSource: DataSourcePrimary})
	}
	rows = append(rows, VenueDayFact{VenueId: "v2", BusinessDate: day("2025-01-03"), PosFamily: PosFamilyLegacy, DataSource: DataSourcePrimary})
	if err := UpsertVenueDayFacts(ctx, db, rows, 200); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := ListSyncedDates(ctx, db, "v1", day("2025-01-02"), day("2025-01-05"), 2)
	if err != nil {
		t.Fatalf("ListSyncedDates: %v", err)
	}
	want := []string{"2025-01-02", "2025-01-03", "2025-01-04", "2025-01-05"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i, w := range want {
		if got[i].Format("2006-01-02") != w {
			t.Fatalf("got[%d]=%s want %s", i, got[i].Format("2006-01-02"), w)
		}
	}
}

func TestListActiveMappings(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	name := "Downtown"
	seed := []VenueMapping{
		{VenueId: "b", SourceLocationId: "loc-b", PosFamily: PosFamilyLegacy, IsActive: true},
		{VenueId: "a", SourceLocationId: "loc-a", SourceLocationName: &name, PosFamily: PosFamilyModern, IsActive: true},
		{VenueId: "c", SourceLocationId: "loc-c", PosFamily: PosFamilyLegacy, IsActive: false},
	}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	all, err := ListActiveMappings(ctx, db, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].VenueId != "a" || all[1].VenueId != "b" {
		t.Fatalf("unexpected mappings: %+v", all)
	}

	only, err := ListActiveMappings(ctx, db, []string{" b ", "c"})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(only) != 1 || only[0].VenueId != "b" {
		t.Fatalf("unexpected filtered mappings: %+v", only)
	}

	m, err := GetActiveMapping(ctx, db, "c")
	if err != nil || m != nil {
		t.Fatalf("inactive mapping should not resolve: %+v %v", m, err)
	}
}

func TestRunCountersStatus(t *testing.T) {
	cases := []struct {
		c    RunCounters
		want string
	}{
		{RunCounters{DaysSynced: 3}, SyncRunStatusSuccess},
		{RunCounters{}, SyncRunStatusSuccess},
		{RunCounters{DaysSynced: 2, DaysFailed: 1, ErrorCount: 1}, SyncRunStatusPartial},
		{RunCounters{DaysFailed: 2, ErrorCount: 2}, SyncRunStatusFailed},
	}
	for _, tc := range cases {
		if got := tc.c.Status(); got != tc.want {
			t.Fatalf("%+v: got %s want %s", tc.c, got, tc.want)
		}
	}
}

func TestFactSyncRunLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	run := FactSyncRun{TriggeredBy: SyncTriggeredManual, StartDate: day("2025-01-01"), EndDate: day("2025-01-31"), VenueIdsJSON: EncodeVenueIds([]string{"v1", "v1", " "})}
	if err := CreateFactSyncRun(ctx, db, &run); err != nil {
		t.Fatalf("create: %v", err)
	}
	if run.Status != SyncRunStatusQueued {
		t.Fatalf("status=%s", run.Status)
	}
	started := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	if err := MarkFactSyncRunRunning(ctx, db, &run, started); err != nil {
		t.Fatalf("running: %v", err)
	}
	d := day("2025-01-02")
	if err := CreateFactSyncError(ctx, db, run.ID, "v1", &d, SyncStageExtract, "boom", true); err != nil {
		t.Fatalf("sync error: %v", err)
	}
	if err := FinishFactSyncRun(ctx, db, &run, RunCounters{VenuesTotal: 1, DaysTotal: 2, DaysSynced: 1, DaysFailed: 1, ErrorCount: 1}, started.Add(1500*time.Millisecond)); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, err := GetFactSyncRun(ctx, db, run.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != SyncRunStatusPartial || got.DurationMs != 1500 || got.DaysSynced != 1 {
		t.Fatalf("unexpected run: %+v", got)
	}
	if ids := got.VenueIds(); len(ids) != 1 || ids[0] != "v1" {
		t.Fatalf("venue ids=%v", ids)
	}
	errs, err := ListFactSyncErrors(ctx, db, run.ID)
	if err != nil || len(errs) != 1 || errs[0].Stage != SyncStageExtract {
		t.Fatalf("errors=%+v err=%v", errs, err)
	}
}

func TestMarkFactSyncRunRunningClaimsOnce(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	run := FactSyncRun{TriggeredBy: SyncTriggeredManual, StartDate: day("2025-01-01"), EndDate: day("2025-01-02")}
	if err := CreateFactSyncRun(ctx, db, &run); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Two workers loaded the same queued row.
	first, second := run, run
	started := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	if err := MarkFactSyncRunRunning(ctx, db, &first, started); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := MarkFactSyncRunRunning(ctx, db, &second, started.Add(time.Second)); !errors.Is(err, ErrRunNotQueued) {
		t.Fatalf("second claim err = %v, want ErrRunNotQueued", err)
	}
	if second.Status != SyncRunStatusQueued || second.StartedAt != nil {
		t.Fatalf("losing claim changed its copy: %+v", second)
	}

	got, err := GetFactSyncRun(ctx, db, run.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != SyncRunStatusRunning || got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Fatalf("stored run = %+v", got)
	}
}

func TestUnresolvedErrorDates(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	run := FactSyncRun{StartDate: day("2025-03-01"), EndDate: day("2025-03-31")}
	if err := CreateFactSyncRun(ctx, db, &run); err != nil {
		t.Fatalf("create: %v", err)
	}
	d1, d2, outside := day("2025-03-02"), day("2025-03-05"), day("2025-04-01")
	for _, e := range []struct {
		venue string
		date  *time.Time
	}{
		{"v1", &d1}, {"v1", &d1}, {"v1", &d2}, {"v1", &outside}, {"v1", nil}, {"v2", &d1},
	} {
		if err := CreateFactSyncError(ctx, db, run.ID, e.venue, e.date, SyncStageLabor, "boom", false); err != nil {
			t.Fatalf("sync error: %v", err)
		}
	}

	got, err := ListUnresolvedErrorDates(ctx, db, "v1", day("2025-03-01"), day("2025-03-31"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || !got[0].Equal(d1) || !got[1].Equal(d2) {
		t.Fatalf("unresolved = %v", got)
	}

	if err := ResolveFactSyncErrors(ctx, db, "v1", d1, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got, err = ListUnresolvedErrorDates(ctx, db, "v1", day("2025-03-01"), day("2025-03-31"))
	if err != nil {
		t.Fatalf("list after resolve: %v", err)
	}
	if len(got) != 1 || !got[0].Equal(d2) {
		t.Fatalf("unresolved after resolve = %v", got)
	}
	other, err := ListUnresolvedErrorDates(ctx, db, "v2", day("2025-03-01"), day("2025-03-31"))
	if err != nil || len(other) != 1 {
		t.Fatalf("other venue = %v, %v", other, err)
	}
}
