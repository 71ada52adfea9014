package factsync

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/venue_backend/config"
	"bitbucket.org/mmdatafocus/venue_backend/models"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"gorm.io/gorm"
)

func TestMissingDates(t *testing.T) {
	d := func(s string) time.Time { return day(s) }
	tests := []struct {
		name   string
		source []time.Time
		synced []time.Time
		start  string
		end    string
		want   []time.Time
	}{
		{
			name:   "set difference",
			source: []time.Time{d("2025-03-01"), d("2025-03-02"), d("2025-03-03"), d("2025-03-04"), d("2025-03-05")},
			synced: []time.Time{d("2025-03-01"), d("2025-03-03")},
			start:  "2025-03-01", end: "2025-03-05",
			want: []time.Time{d("2025-03-02"), d("2025-03-04"), d("2025-03-05")},
		},
		{
			name:   "filters to range and sorts",
			source: []time.Time{d("2025-03-09"), d("2025-02-28"), d("2025-03-02"), d("2025-03-01")},
			start:  "2025-03-01", end: "2025-03-05",
			want: []time.Time{d("2025-03-01"), d("2025-03-02")},
		},
		{
			name:   "dedupes and ignores time of day",
			source: []time.Time{time.Date(2025, 3, 2, 23, 0, 0, 0, time.UTC), d("2025-03-02")},
			synced: []time.Time{time.Date(2025, 3, 1, 5, 0, 0, 0, time.UTC)},
			start:  "2025-03-01", end: "2025-03-02",
			want: []time.Time{d("2025-03-02")},
		},
		{
			name:   "everything synced",
			source: []time.Time{d("2025-03-01")},
			synced: []time.Time{d("2025-03-01")},
			start:  "2025-03-01", end: "2025-03-01",
			want: []time.Time{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := MissingDates(tc.source, tc.synced, d(tc.start), d(tc.end))
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("MissingDates = %v, want %v", got, tc.want)
			}
		})
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []config.VenueDaySyncedMessage
}

func (p *recordingPublisher) PublishVenueDay(ctx context.Context, msg config.VenueDaySyncedMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

type stubLocker struct {
	locked map[string]bool
	lease  *stubLease
}

func (l stubLocker) Lock(ctx context.Context, venueId string) (VenueLease, error) {
	if l.locked[venueId] {
		return nil, ErrVenueLocked
	}
	if l.lease != nil {
		return l.lease, nil
	}
	return &stubLease{}, nil
}

// stubLease counts calls. Refresh returns refreshErr when it is set.
type stubLease struct {
	mu         sync.Mutex
	refreshes  int
	released   int
	refreshErr error
}

func (l *stubLease) Refresh(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshes++
	return l.refreshErr
}

func (l *stubLease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released++
}

var fixedSyncedAt = time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)

// seedVenues maps venue-a to a legacy location and venue-b to a modern one.
// venue-a already has 2025-03-01 synced.
func seedVenues(t *testing.T, db *gorm.DB) {
	t.Helper()
	name := "Harbor"
	seed := []any{
		&models.VenueMapping{VenueId: "venue-a", SourceLocationId: "uuid-a", SourceLocationName: &name, PosFamily: models.PosFamilyLegacy, IsActive: true},
		&models.VenueMapping{VenueId: "venue-b", SourceLocationId: "rvc-b", PosFamily: models.PosFamilyModern, IsActive: true},
		&models.VenueMapping{VenueId: "venue-c", SourceLocationId: "gone", PosFamily: models.PosFamilyLegacy, IsActive: false},
	}
	for _, s := range seed {
		if err := db.Create(s).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	err := models.UpsertVenueDayFacts(context.Background(), db, []models.VenueDayFact{{
		VenueId: "venue-a", BusinessDate: day("2025-03-01"), PosFamily: models.PosFamilyLegacy,
		DataSource: models.DataSourcePrimary, LastSyncedAt: fixedSyncedAt,
	}}, 0)
	if err != nil {
		t.Fatalf("seed fact: %v", err)
	}
}

// sourceFixture answers venue-a's legacy queries and venue-b's modern ones.
// venue-b's 2025-03-02 revenue-center query fails.
func sourceFixture() *fakeQuerier {
	shift := time.Date(2025, 3, 2, 15, 0, 0, 0, time.UTC)
	return newFakeQuerier().
		value(queryLegacyDates, []time.Time{day("2025-03-01"), day("2025-03-02"), day("2025-03-03")}).
		value(queryModernDates, []time.Time{day("2025-03-01"), day("2025-03-02")}).
		value(queryLegacyDayPrimary, daySummaryRow{
			ChecksCount: 10, CoversCount: 20, GrossSales: dec("550"), NetSales: dec("500"), TaxTotal: dec("40"),
		}).
		value(queryLegacyCategoriesPrimary, []categoryRow{
			{Category: "Entrees", Quantity: dec("12"), GrossSales: dec("300")},
			{Category: "Wine", Quantity: dec("5"), GrossSales: dec("250")},
		}).
		value(queryLegacyTipsPrimary, dec("90")).
		value(queryLegacyServersPrimary, []serverRow{{EmployeeName: "Ana", ChecksCount: 10, CoversCount: 20, GrossSales: dec("550"), NetSales: dec("500"), Tips: dec("90")}}).
		value(queryLegacyItemsPrimary, []itemRow{{Name: "Steak", Category: "Entrees", Quantity: dec("4"), GrossSales: dec("160")}}).
		on(queryModernRevenueCenters, func(args []any) (any, error) {
			if args[1].(time.Time).Equal(day("2025-03-02")) {
				return nil, errors.New("relation rvc_daily_sales is locked")
			}
			return []revenueCenterRow{
				{Number: 1, Name: "Dining Room", CheckCount: 40, GuestCount: 90, GrossSales: dec("600"), NetSales: dec("400")},
				{Number: 2, CheckCount: 60, GuestCount: 70, GrossSales: dec("900"), NetSales: dec("600")},
			}, nil
		}).
		on(queryLaborTimeEntries, func(args []any) (any, error) {
			if args[0] != "uuid-a" {
				return nil, nil
			}
			return []timeEntryRow{timeEntry("e1", shift, 8*time.Hour+30*time.Minute)}, nil
		}).
		value(queryLaborEmployeeWages, []wageRecord{{EmployeeId: "e1", EffectiveDate: day("2025-01-01"), WageCents: 1500}})
}

func newTestOrchestrator(db *gorm.DB, q Querier, opts Options) *Orchestrator {
	opts.Logger = testLogger()
	opts.Now = func() time.Time { return fixedSyncedAt }
	return NewOrchestrator(db, q, opts)
}

func TestRunSyncsMissingDaysAndIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedVenues(t, db)

	run := models.FactSyncRun{TriggeredBy: models.SyncTriggeredCLI, StartDate: day("2025-03-01"), EndDate: day("2025-03-31")}
	if err := models.CreateFactSyncRun(ctx, db, &run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	var progress []Progress
	events := &recordingPublisher{}
	o := newTestOrchestrator(db, sourceFixture(), Options{
		Progress: func(p Progress) { progress = append(progress, p) },
		Events:   events,
	})

	res, err := o.Run(ctx, RunRequest{Start: day("2025-03-01"), End: day("2025-03-31"), RunId: run.ID})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := models.RunCounters{VenuesTotal: 2, DaysTotal: 4, DaysSynced: 3, DaysFailed: 1, ErrorCount: 1}
	if res.Counters != want {
		t.Fatalf("counters = %+v, want %+v", res.Counters, want)
	}
	if res.Counters.Status() != models.SyncRunStatusPartial {
		t.Fatalf("status = %s", res.Counters.Status())
	}
	if len(progress) != 4 || progress[3].Processed != 4 || progress[3].Total != 4 {
		t.Fatalf("progress = %+v", progress)
	}
	if len(res.Failures) != 1 || res.Failures[0].VenueId != "venue-b" || res.Failures[0].Stage != models.SyncStageExtract {
		t.Fatalf("failures = %+v", res.Failures)
	}

	errs, err := models.ListFactSyncErrors(ctx, db, run.ID)
	if err != nil {
		t.Fatalf("list errors: %v", err)
	}
	if len(errs) != 1 || errs[0].VenueId != "venue-b" || errs[0].BusinessDate == nil || !errs[0].BusinessDate.Equal(day("2025-03-02")) {
		t.Fatalf("sync errors = %+v", errs)
	}
	if errs[0].Retryable {
		t.Fatalf("a query error is not a transient connection error")
	}

	fact, err := models.GetVenueDayFact(ctx, db, "venue-a", day("2025-03-02"))
	if err != nil || fact == nil {
		t.Fatalf("venue-a 2025-03-02 fact: %+v, %v", fact, err)
	}
	if fact.PosFamily != models.PosFamilyLegacy || fact.DataSource != models.DataSourcePrimary || !fact.IsComplete {
		t.Fatalf("fact = %+v", fact)
	}
	mustEqualDecimal(t, "allocated net", fact.FoodSales.Add(fact.BeverageSales).Add(fact.OtherSales), dec("500"))
	mustEqualDecimal(t, "tips", fact.TipsTotal, dec("90"))
	mustEqualDecimal(t, "items sold", fact.ItemsSold, dec("17"))
	if !fact.LastSyncedAt.Equal(fixedSyncedAt) {
		t.Fatalf("last synced at = %s", fact.LastSyncedAt)
	}

	labor, err := models.GetLaborDayFact(ctx, db, "venue-a", day("2025-03-02"))
	if err != nil || labor == nil {
		t.Fatalf("labor fact: %+v, %v", labor, err)
	}
	mustEqualDecimal(t, "labor cost", labor.LaborCost, dec("127.50"))
	mustEqualDecimal(t, "labor net link", labor.NetSales, fact.NetSales)
	if labor.Covers != 20 {
		t.Fatalf("labor covers = %d", labor.Covers)
	}

	modern, err := models.GetVenueDayFact(ctx, db, "venue-b", day("2025-03-01"))
	if err != nil || modern == nil {
		t.Fatalf("venue-b fact: %+v, %v", modern, err)
	}
	mustEqualDecimal(t, "modern food", modern.FoodSales, dec("400.20"))
	mustEqualDecimal(t, "modern beverage", modern.BeverageSales, dec("599.80"))
	if modern.IsComplete {
		t.Fatalf("modern facts are never complete")
	}

	if len(events.msgs) != 3 {
		t.Fatalf("events = %d, want 3", len(events.msgs))
	}
}

func TestRunOnlyRetriesWhatIsMissing(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedVenues(t, db)
	o := newTestOrchestrator(db, sourceFixture(), Options{})
	req := RunRequest{Start: day("2025-03-01"), End: day("2025-03-31")}

	if _, err := o.Run(ctx, req); err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := o.Run(ctx, req)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Counters.DaysTotal != 1 || second.Counters.DaysFailed != 1 {
		t.Fatalf("second run should only retry the failed day, counters = %+v", second.Counters)
	}
}

func TestRunSkipsRequestedVenuesWithoutMapping(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedVenues(t, db)
	o := newTestOrchestrator(db, sourceFixture(), Options{})

	res, err := o.Run(ctx, RunRequest{
		Start: day("2025-03-01"), End: day("2025-03-31"),
		VenueIds: []string{"venue-a", "venue-c", " ghost "},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Counters.VenuesTotal != 3 || res.Counters.VenuesSkipped != 2 {
		t.Fatalf("counters = %+v", res.Counters)
	}
	if res.Counters.DaysTotal != 2 || res.HasFailures() {
		t.Fatalf("venue-a should sync cleanly, counters = %+v", res.Counters)
	}
}

func TestRunRecordsLockedVenue(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedVenues(t, db)
	o := newTestOrchestrator(db, sourceFixture(), Options{Locker: stubLocker{locked: map[string]bool{"venue-a": true}}})

	res, err := o.Run(ctx, RunRequest{Start: day("2025-03-01"), End: day("2025-03-31"), VenueIds: []string{"venue-a"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Counters.DaysFailed != 2 || res.Counters.ErrorCount != 1 {
		t.Fatalf("counters = %+v", res.Counters)
	}
	if !errors.Is(res.Failures[0].Err, ErrVenueLocked) || res.Failures[0].Stage != models.SyncStageLock {
		t.Fatalf("failure = %+v", res.Failures[0])
	}
}

func TestRunRejectsInvertedRange(t *testing.T) {
	o := newTestOrchestrator(newTestDB(t), newFakeQuerier(), Options{})
	if _, err := o.Run(context.Background(), RunRequest{Start: day("2025-03-02"), End: day("2025-03-01")}); err == nil {
		t.Fatalf("expected an error for end before start")
	}
}

func TestSyncVenueDayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedVenues(t, db)
	o := newTestOrchestrator(db, sourceFixture(), Options{})

	var snapshots []models.VenueDayFact
	for i := 0; i < 2; i++ {
		out, err := o.SyncVenueDayById(ctx, "venue-a", day("2025-03-02"))
		if err != nil {
			t.Fatalf("sync %d: %v", i, err)
		}
		if !out.HasSales || !out.HasLabor {
			t.Fatalf("outcome = %+v", out)
		}
		f, err := models.GetVenueDayFact(ctx, db, "venue-a", day("2025-03-02"))
		if err != nil || f == nil {
			t.Fatalf("read fact: %+v, %v", f, err)
		}
		snapshots = append(snapshots, *f)
	}
	a, b := snapshots[0], snapshots[1]
	if !a.NetSales.Equal(b.NetSales) || !a.FoodSales.Equal(b.FoodSales) || !a.BeverageSales.Equal(b.BeverageSales) ||
		a.ChecksCount != b.ChecksCount || !a.LastSyncedAt.Equal(b.LastSyncedAt) {
		t.Fatalf("re-sync changed the row: %+v vs %+v", a, b)
	}

	var categories int64
	if err := db.Model(&models.CategoryDayFact{}).Where("venue_id = ?", "venue-a").Count(&categories).Error; err != nil {
		t.Fatalf("count categories: %v", err)
	}
	if categories != 2 {
		t.Fatalf("category rows = %d, want 2", categories)
	}

	if _, err := o.SyncVenueDayById(ctx, "venue-c", day("2025-03-02")); !errors.Is(err, ErrNoActiveMapping) {
		t.Fatalf("inactive venue err = %v", err)
	}
}

func TestRunResyncsDayWhoseLaborFailed(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedVenues(t, db)

	laborDown := true
	shift := time.Date(2025, 3, 2, 15, 0, 0, 0, time.UTC)
	q := sourceFixture().on(queryLaborTimeEntries, func(args []any) (any, error) {
		if laborDown && args[1].(time.Time).Equal(day("2025-03-02")) {
			return nil, errors.New("time_entries: connection reset by peer")
		}
		return []timeEntryRow{timeEntry("e1", shift, 8*time.Hour+30*time.Minute)}, nil
	})
	o := newTestOrchestrator(db, q, Options{})

	runOnce := func() RunResult {
		t.Helper()
		run := models.FactSyncRun{TriggeredBy: models.SyncTriggeredCLI, StartDate: day("2025-03-01"), EndDate: day("2025-03-31")}
		if err := models.CreateFactSyncRun(ctx, db, &run); err != nil {
			t.Fatalf("create run: %v", err)
		}
		res, err := o.Run(ctx, RunRequest{Start: day("2025-03-01"), End: day("2025-03-31"), VenueIds: []string{"venue-a"}, RunId: run.ID})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return res
	}

	first := runOnce()
	if first.Counters.DaysTotal != 2 || first.Counters.DaysFailed != 1 {
		t.Fatalf("first run counters = %+v", first.Counters)
	}
	if f, err := models.GetVenueDayFact(ctx, db, "venue-a", day("2025-03-02")); err != nil || f == nil {
		t.Fatalf("sales half should have landed: %+v, %v", f, err)
	}
	if l, err := models.GetLaborDayFact(ctx, db, "venue-a", day("2025-03-02")); err != nil || l != nil {
		t.Fatalf("labor fact before retry: %+v, %v", l, err)
	}

	laborDown = false
	second := runOnce()
	if second.Counters.DaysTotal != 1 || second.Counters.DaysSynced != 1 || second.HasFailures() {
		t.Fatalf("second run should resync only the failed day, counters = %+v", second.Counters)
	}
	labor, err := models.GetLaborDayFact(ctx, db, "venue-a", day("2025-03-02"))
	if err != nil || labor == nil {
		t.Fatalf("labor fact after retry: %+v, %v", labor, err)
	}
	mustEqualDecimal(t, "labor cost", labor.LaborCost, dec("127.50"))

	third := runOnce()
	if third.Counters.DaysTotal != 0 {
		t.Fatalf("resolved day was planned again, counters = %+v", third.Counters)
	}
}

func TestRunRefreshesVenueLeaseBetweenDays(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedVenues(t, db)
	lease := &stubLease{}
	o := newTestOrchestrator(db, sourceFixture(), Options{Locker: stubLocker{lease: lease}})

	res, err := o.Run(ctx, RunRequest{Start: day("2025-03-01"), End: day("2025-03-31"), VenueIds: []string{"venue-a"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Counters.DaysSynced != 2 || res.HasFailures() {
		t.Fatalf("counters = %+v", res.Counters)
	}
	if lease.refreshes != 1 || lease.released != 1 {
		t.Fatalf("refreshes = %d, released = %d", lease.refreshes, lease.released)
	}
}

func TestRunStopsVenueWhenLeaseIsLost(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedVenues(t, db)
	lease := &stubLease{refreshErr: ErrVenueLocked}
	o := newTestOrchestrator(db, sourceFixture(), Options{Locker: stubLocker{lease: lease}})

	res, err := o.Run(ctx, RunRequest{Start: day("2025-03-01"), End: day("2025-03-31"), VenueIds: []string{"venue-a"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Counters.DaysSynced != 1 || res.Counters.DaysFailed != 1 || res.Counters.ErrorCount != 1 {
		t.Fatalf("counters = %+v", res.Counters)
	}
	if res.Failures[0].Stage != models.SyncStageLock || !errors.Is(res.Failures[0].Err, ErrVenueLocked) {
		t.Fatalf("failure = %+v", res.Failures[0])
	}
	if f, err := models.GetVenueDayFact(ctx, db, "venue-a", day("2025-03-03")); err != nil || f != nil {
		t.Fatalf("day after the lost lease was synced: %+v, %v", f, err)
	}
	if lease.released != 1 {
		t.Fatalf("released = %d", lease.released)
	}
}

func TestRunLogsFailuresUnderTheFailingStep(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedVenues(t, db)
	logger, hook := test.NewNullLogger()
	q := sourceFixture().on(queryLegacyDates, func([]any) (any, error) {
		return nil, errors.New("business_dates: permission denied")
	})
	o := NewOrchestrator(db, q, Options{Logger: logger, Now: func() time.Time { return fixedSyncedAt }})

	if _, err := o.Run(ctx, RunRequest{Start: day("2025-03-01"), End: day("2025-03-31")}); err != nil {
		t.Fatalf("run: %v", err)
	}

	funcs := map[string]string{}
	for _, e := range hook.AllEntries() {
		if e.Level != logrus.ErrorLevel {
			continue
		}
		stage, _ := e.Data["context"].(string)
		fn, _ := e.Data["funcName"].(string)
		funcs[stage] = fn
	}
	if funcs[models.SyncStageListDates] != "plan" {
		t.Fatalf("list_dates failure logged under %q", funcs[models.SyncStageListDates])
	}
	if funcs[models.SyncStageExtract] != "runVenue" {
		t.Fatalf("extract failure logged under %q", funcs[models.SyncStageExtract])
	}
}
