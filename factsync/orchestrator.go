package factsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/venue_backend/config"
	"bitbucket.org/mmdatafocus/venue_backend/models"
	"bitbucket.org/mmdatafocus/venue_backend/sourcedb"
	"bitbucket.org/mmdatafocus/venue_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const dateLayout = utils.DateLayout

// Progress is reported after every venue-day, successful or not.
type Progress struct {
	Processed int
	Total     int
	VenueId   string
	Date      time.Time
	Err       error
}

type ProgressFunc func(Progress)

// DayFailure is one isolated failure. Date is nil when the whole venue failed
// before any day was attempted.
type DayFailure struct {
	VenueId string
	Date    *time.Time
	Stage   string
	Err     error
}

// DayOutcome reports which fact groups a venue-day sync wrote.
type DayOutcome struct {
	HasSales bool
	HasLabor bool
}

type Options struct {
	Logger              *logrus.Logger
	Now                 func() time.Time
	Progress            ProgressFunc
	Events              EventPublisher
	Locker              VenueLocker
	Concurrency         int
	SyncedDatesPageSize int
	UpsertBatchSize     int
	Tracer              trace.Tracer
}

// Orchestrator drives a backfill: for every active venue it diffs source
// dates against synced dates and syncs each missing day.
type Orchestrator struct {
	db          *gorm.DB
	resolver    *Resolver
	extractors  Extractors
	labor       *LaborAggregator
	upserter    *FactUpserter
	logger      *logrus.Logger
	now         func() time.Time
	progress    ProgressFunc
	events      EventPublisher
	locker      VenueLocker
	concurrency int
	pageSize    int
	tracer      trace.Tracer
}

func NewOrchestrator(db *gorm.DB, q Querier, opts Options) *Orchestrator {
	o := &Orchestrator{
		db:          db,
		extractors:  NewExtractors(q),
		labor:       NewLaborAggregator(q),
		upserter:    NewFactUpserter(db, opts.UpsertBatchSize),
		logger:      opts.Logger,
		now:         opts.Now,
		progress:    opts.Progress,
		events:      opts.Events,
		locker:      opts.Locker,
		concurrency: opts.Concurrency,
		pageSize:    opts.SyncedDatesPageSize,
		tracer:      opts.Tracer,
	}
	if o.logger == nil {
		o.logger = config.GetLogger()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.concurrency <= 0 {
		o.concurrency = 1
	}
	if o.pageSize <= 0 {
		o.pageSize = models.DefaultSyncedDatesPageSz
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("venue-fact-sync")
	}
	o.resolver = NewResolver(db, q, o.logger)
	return o
}

type RunRequest struct {
	Start         time.Time
	End           time.Time
	VenueIds      []string
	RunId         uint
	CorrelationId string
}

type RunResult struct {
	Counters models.RunCounters
	Failures []DayFailure
}

func (r RunResult) HasFailures() bool {
	return r.Counters.ErrorCount > 0 || r.Counters.DaysFailed > 0
}

type venuePlan struct {
	venue     ResolvedVenue
	extractor Extractor
	dates     []time.Time
}

// runState collects counters from venue workers and serializes progress.
type runState struct {
	mu        sync.Mutex
	counters  models.RunCounters
	failures  []DayFailure
	processed int
	total     int
	progress  ProgressFunc
}

func (s *runState) fail(f DayFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.ErrorCount++
	s.failures = append(s.failures, f)
}

func (s *runState) skipVenue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters.VenuesSkipped++
}

func (s *runState) advance(venueId string, date time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	if err != nil {
		s.counters.DaysFailed++
	} else {
		s.counters.DaysSynced++
	}
	if s.progress != nil {
		s.progress(Progress{Processed: s.processed, Total: s.total, VenueId: venueId, Date: date, Err: err})
	}
}

// Run syncs every missing venue-day in [req.Start, req.End]. Per-day and
// per-venue failures are logged, recorded against req.RunId and skipped; the
// returned error is reserved for failures that stop the whole run.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	start, end := models.DateOnly(req.Start), models.DateOnly(req.End)
	if end.Before(start) {
		return RunResult{}, fmt.Errorf("end date %s is before start date %s", end.Format(dateLayout), start.Format(dateLayout))
	}
	if req.RunId != 0 {
		ctx = utils.SetRunIdInContext(ctx, req.RunId)
	}
	if req.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, req.CorrelationId)
	}
	syncedAt := o.now().UTC()

	mappings, err := models.ListActiveMappings(ctx, o.db, req.VenueIds)
	if err != nil {
		return RunResult{}, fmt.Errorf("list venue mappings: %w", err)
	}

	state := &runState{progress: o.progress}
	plans := o.plan(ctx, req, mappings, start, end, state)
	for _, p := range plans {
		state.total += len(p.dates)
	}
	state.counters.DaysTotal = state.total

	o.logger.WithFields(logrus.Fields{
		"module":         "factsync",
		"funcName":       "Run",
		"run_id":         req.RunId,
		"correlation_id": req.CorrelationId,
		"venues":         state.counters.VenuesTotal,
		"days":           state.total,
		"start":          start.Format(dateLayout),
		"end":            end.Format(dateLayout),
	}).Info("fact sync planned")

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for _, p := range plans {
		p := p
		g.Go(func() error {
			o.runVenue(ctx, req.RunId, p, syncedAt, state)
			return nil
		})
	}
	_ = g.Wait()

	res := RunResult{Counters: state.counters, Failures: state.failures}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// plan resolves every venue and computes its missing dates. Venues that fail
// here are recorded and left out.
func (o *Orchestrator) plan(ctx context.Context, req RunRequest, mappings []models.VenueMapping, start, end time.Time, state *runState) []venuePlan {
	seen := make(map[string]bool, len(mappings))
	var plans []venuePlan

	for _, m := range mappings {
		if seen[m.VenueId] {
			o.logger.WithFields(logrus.Fields{
				"module":     "factsync",
				"funcName":   "plan",
				"venue_id":   m.VenueId,
				"mapping_id": m.ID,
			}).Warn("venue has more than one active mapping; using the oldest")
			continue
		}
		seen[m.VenueId] = true
		state.counters.VenuesTotal++

		rv, err := o.resolver.Resolve(ctx, m)
		if errors.Is(err, ErrNoActiveMapping) {
			state.skipVenue()
			continue
		}
		if err != nil {
			o.recordFailure(ctx, "plan", req.RunId, state, DayFailure{VenueId: m.VenueId, Stage: models.SyncStageResolve, Err: err})
			state.skipVenue()
			continue
		}
		ex, err := o.extractors.For(rv.Family)
		if err != nil {
			o.recordFailure(ctx, "plan", req.RunId, state, DayFailure{VenueId: m.VenueId, Stage: models.SyncStageResolve, Err: err})
			state.skipVenue()
			continue
		}

		sourceDates, err := ex.ListDates(ctx, rv.Location)
		if err != nil {
			o.recordFailure(ctx, "plan", req.RunId, state, DayFailure{VenueId: m.VenueId, Stage: models.SyncStageListDates, Err: err})
			state.skipVenue()
			continue
		}
		synced, err := models.ListSyncedDates(ctx, o.db, rv.VenueId, start, end, o.pageSize)
		if err != nil {
			o.recordFailure(ctx, "plan", req.RunId, state, DayFailure{VenueId: m.VenueId, Stage: models.SyncStageListDates, Err: err})
			state.skipVenue()
			continue
		}
		// A venue row can exist while labor or a breakdown table failed to
		// write; such days stay open until a clean sync resolves them.
		failed, err := models.ListUnresolvedErrorDates(ctx, o.db, rv.VenueId, start, end)
		if err != nil {
			o.recordFailure(ctx, "plan", req.RunId, state, DayFailure{VenueId: m.VenueId, Stage: models.SyncStageListDates, Err: err})
			state.skipVenue()
			continue
		}

		missing := MissingDates(sourceDates, withoutDates(synced, failed), start, end)
		o.logger.WithFields(logrus.Fields{
			"module":       "factsync",
			"funcName":     "plan",
			"venue_id":     rv.VenueId,
			"pos_family":   string(rv.Family),
			"source_dates": len(sourceDates),
			"synced_dates": len(synced),
			"failed_dates": len(failed),
			"missing":      len(missing),
		}).Info("venue planned")
		if len(missing) == 0 {
			continue
		}
		plans = append(plans, venuePlan{venue: *rv, extractor: ex, dates: missing})
	}

	for _, id := range requestedWithoutMapping(req.VenueIds, seen) {
		o.logger.WithFields(logrus.Fields{
			"module":   "factsync",
			"funcName": "plan",
			"venue_id": id,
		}).Warn("no active venue mapping; skipping venue")
		state.counters.VenuesTotal++
		state.skipVenue()
	}
	return plans
}

func (o *Orchestrator) runVenue(ctx context.Context, runId uint, p venuePlan, syncedAt time.Time, state *runState) {
	ctx = utils.SetVenueIdInContext(ctx, p.venue.VenueId)

	var lease VenueLease
	if o.locker != nil {
		var err error
		lease, err = o.locker.Lock(ctx, p.venue.VenueId)
		if err != nil {
			o.recordFailure(ctx, "runVenue", runId, state, DayFailure{VenueId: p.venue.VenueId, Stage: models.SyncStageLock, Err: err})
			for _, d := range p.dates {
				state.advance(p.venue.VenueId, d, err)
			}
			return
		}
		defer lease.Release()
	}

	for i, d := range p.dates {
		if ctx.Err() != nil {
			return
		}
		if lease != nil && i > 0 {
			if err := lease.Refresh(ctx); err != nil {
				err = fmt.Errorf("refresh venue lease: %w", err)
				o.recordFailure(ctx, "runVenue", runId, state, DayFailure{VenueId: p.venue.VenueId, Stage: models.SyncStageLock, Err: err})
				for _, rest := range p.dates[i:] {
					state.advance(p.venue.VenueId, rest, err)
				}
				return
			}
		}
		_, stage, err := o.syncDay(ctx, p.venue, p.extractor, d, syncedAt, runId)
		if err != nil {
			date := d
			o.recordFailure(ctx, "runVenue", runId, state, DayFailure{VenueId: p.venue.VenueId, Date: &date, Stage: stage, Err: err})
		}
		state.advance(p.venue.VenueId, d, err)
	}
}

// SyncVenueDay re-syncs one day for an already resolved venue regardless of
// whether it was synced before.
func (o *Orchestrator) SyncVenueDay(ctx context.Context, rv ResolvedVenue, date time.Time) (DayOutcome, error) {
	ex, err := o.extractors.For(rv.Family)
	if err != nil {
		return DayOutcome{}, err
	}
	out, _, err := o.syncDay(ctx, rv, ex, date, o.now().UTC(), 0)
	return out, err
}

// SyncVenueDayById resolves venueId and re-syncs one day.
func (o *Orchestrator) SyncVenueDayById(ctx context.Context, venueId string, date time.Time) (DayOutcome, error) {
	rv, err := o.resolver.ResolveVenue(ctx, venueId)
	if err != nil {
		return DayOutcome{}, err
	}
	return o.SyncVenueDay(ctx, *rv, date)
}

// syncDay runs extract, allocate and upsert for sales, then labor on its own.
// A failure in one half does not stop the other. The stage of the first
// failure is returned with the joined error.
func (o *Orchestrator) syncDay(ctx context.Context, rv ResolvedVenue, ex Extractor, date time.Time, syncedAt time.Time, runId uint) (DayOutcome, string, error) {
	date = models.DateOnly(date)
	ctx, span := o.tracer.Start(ctx, "factsync.SyncVenueDay", trace.WithAttributes(
		attribute.String("venue_id", rv.VenueId),
		attribute.String("business_date", date.Format(dateLayout)),
		attribute.String("pos_family", string(rv.Family)),
	))
	defer span.End()

	var out DayOutcome
	salesFact, salesStage, salesErr := o.syncSales(ctx, rv, ex, date, syncedAt)
	if salesErr == nil && salesFact != nil {
		out.HasSales = true
	}

	hasLabor, laborStage, laborErr := o.syncLabor(ctx, rv, date, salesFact, syncedAt)
	out.HasLabor = hasLabor

	err := errors.Join(salesErr, laborErr)
	stage := salesStage
	if stage == "" {
		stage = laborStage
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
	} else if rerr := models.ResolveFactSyncErrors(ctx, o.db, rv.VenueId, date, syncedAt); rerr != nil {
		o.logger.WithFields(logrus.Fields{
			"module":        "factsync",
			"funcName":      "syncDay",
			"venue_id":      rv.VenueId,
			"business_date": date.Format(dateLayout),
		}).Warnf("resolve fact sync errors: %v", rerr)
	}

	if o.events != nil && (out.HasSales || out.HasLabor) {
		cid, _ := utils.GetCorrelationIdFromContext(ctx)
		msg := config.VenueDaySyncedMessage{
			VenueId:       rv.VenueId,
			BusinessDate:  date.Format(dateLayout),
			RunId:         runId,
			HasSales:      out.HasSales,
			HasLabor:      out.HasLabor,
			SyncedAt:      syncedAt,
			CorrelationId: cid,
		}
		if perr := o.events.PublishVenueDay(ctx, msg); perr != nil {
			o.logger.WithFields(logrus.Fields{
				"module":        "factsync",
				"funcName":      "syncDay",
				"venue_id":      rv.VenueId,
				"business_date": msg.BusinessDate,
			}).Warnf("publish venue-day event: %v", perr)
		}
	}
	return out, stage, err
}

// syncSales returns the written venue fact, or nil when the source had no data.
func (o *Orchestrator) syncSales(ctx context.Context, rv ResolvedVenue, ex Extractor, date time.Time, syncedAt time.Time) (*models.VenueDayFact, string, error) {
	day, err := ex.ExtractDay(ctx, rv.Location, date)
	if err != nil {
		return nil, models.SyncStageExtract, fmt.Errorf("stage %s: %w", models.SyncStageExtract, err)
	}
	if day == nil {
		return nil, "", nil
	}
	cats, err := ex.ExtractCategoryBreakdown(ctx, rv.Location, date, day)
	if err != nil {
		return nil, models.SyncStageExtract, fmt.Errorf("stage %s: %w", models.SyncStageExtract, err)
	}
	tips, err := ex.ExtractTips(ctx, rv.Location, date, day)
	if err != nil {
		return nil, models.SyncStageExtract, fmt.Errorf("stage %s: %w", models.SyncStageExtract, err)
	}
	servers, err := ex.ExtractServers(ctx, rv.Location, date, day)
	if err != nil {
		return nil, models.SyncStageExtract, fmt.Errorf("stage %s: %w", models.SyncStageExtract, err)
	}
	items, err := ex.ExtractItems(ctx, rv.Location, date, day)
	if err != nil {
		return nil, models.SyncStageExtract, fmt.Errorf("stage %s: %w", models.SyncStageExtract, err)
	}

	facts := BuildSalesFacts(rv, date, day, cats, tips, servers, items, syncedAt)
	if err := o.upserter.WriteSales(ctx, facts); err != nil {
		return &facts.Venue, models.SyncStageUpsert, fmt.Errorf("stage %s: %w", models.SyncStageUpsert, err)
	}
	return &facts.Venue, "", nil
}

// syncLabor aggregates punches and links them to sales. When this pass wrote
// no sales row, the stored one (if any) is used for the link.
func (o *Orchestrator) syncLabor(ctx context.Context, rv ResolvedVenue, date time.Time, sales *models.VenueDayFact, syncedAt time.Time) (bool, string, error) {
	summary, err := o.labor.Aggregate(ctx, rv.Location, date)
	if err != nil {
		return false, models.SyncStageLabor, fmt.Errorf("stage %s: %w", models.SyncStageLabor, err)
	}
	if summary == nil {
		return false, "", nil
	}
	if sales == nil {
		stored, err := models.GetVenueDayFact(ctx, o.db, rv.VenueId, date)
		if err != nil {
			o.logger.WithFields(logrus.Fields{
				"module":        "factsync",
				"funcName":      "syncLabor",
				"venue_id":      rv.VenueId,
				"business_date": date.Format(dateLayout),
			}).Warnf("read venue day fact for labor link: %v", err)
		}
		sales = stored
	}
	fact := BuildLaborFact(rv.VenueId, date, summary, sales, syncedAt)
	if err := o.upserter.WriteLabor(ctx, fact); err != nil {
		return false, models.SyncStageUpsert, fmt.Errorf("stage %s: %w", models.SyncStageUpsert, err)
	}
	return true, "", nil
}

// recordFailure logs f under funcName, counts it and stores it against runId.
func (o *Orchestrator) recordFailure(ctx context.Context, funcName string, runId uint, state *runState, f DayFailure) {
	data := map[string]any{"venue_id": f.VenueId, "run_id": runId}
	if f.Date != nil {
		data["business_date"] = f.Date.Format(dateLayout)
	}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		data["correlation_id"] = cid
	}
	config.LogError(o.logger, "factsync", funcName, f.Stage, data, f.Err)
	state.fail(f)

	if runId == 0 {
		return
	}
	if err := models.CreateFactSyncError(ctx, o.db, runId, f.VenueId, f.Date, f.Stage, f.Err.Error(), sourcedb.IsTransient(f.Err)); err != nil {
		config.LogError(o.logger, "factsync", "recordFailure", "create fact sync error", data, err)
	}
}

// MissingDates returns the source dates within [start, end] that are not in
// synced, ascending and without duplicates.
func MissingDates(source, synced []time.Time, start, end time.Time) []time.Time {
	start, end = models.DateOnly(start), models.DateOnly(end)
	have := make(map[time.Time]struct{}, len(synced))
	for _, d := range synced {
		have[models.DateOnly(d)] = struct{}{}
	}
	seen := make(map[time.Time]struct{}, len(source))
	out := make([]time.Time, 0, len(source))
	for _, d := range source {
		d = models.DateOnly(d)
		if d.Before(start) || d.After(end) {
			continue
		}
		if _, ok := have[d]; ok {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// withoutDates returns dates minus drop, compared by calendar day.
func withoutDates(dates, drop []time.Time) []time.Time {
	if len(drop) == 0 {
		return dates
	}
	skip := make(map[time.Time]struct{}, len(drop))
	for _, d := range drop {
		skip[models.DateOnly(d)] = struct{}{}
	}
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		if _, ok := skip[models.DateOnly(d)]; !ok {
			out = append(out, d)
		}
	}
	return out
}

func requestedWithoutMapping(requested []string, seen map[string]bool) []string {
	var out []string
	dup := make(map[string]bool)
	for _, id := range requested {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] || dup[id] {
			continue
		}
		dup[id] = true
		out = append(out, id)
	}
	return out
}
