package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredCLI    = "cli"
	SyncTriggeredManual = "manual"
	SyncTriggeredRetry  = "retry"
	SyncTriggeredSystem = "system"
)

// Stages a venue-day can fail in. Stored on FactSyncError.
const (
	SyncStageResolve   = "resolve"
	SyncStageListDates = "list_dates"
	SyncStageExtract   = "extract"
	SyncStageUpsert    = "upsert"
	SyncStageLabor     = "labor"
	SyncStageLock      = "lock"
)

// ErrRunNotQueued is returned when another worker already claimed the run.
var ErrRunNotQueued = errors.New("fact sync run is not queued")

type FactSyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	Status        string     `gorm:"size:20;not null;index" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	StartDate     time.Time  `gorm:"type:date;not null" json:"start_date"`
	EndDate       time.Time  `gorm:"type:date;not null" json:"end_date"`
	VenueIdsJSON  []byte     `gorm:"type:json" json:"venue_ids"`
	CorrelationId string     `gorm:"size:64;index" json:"correlation_id"`
	VenuesTotal   int        `json:"venues_total"`
	VenuesSkipped int        `json:"venues_skipped"`
	DaysTotal     int        `json:"days_total"`
	DaysSynced    int        `json:"days_synced"`
	DaysFailed    int        `json:"days_failed"`
	ErrorCount    int        `json:"error_count"`
	ParentRunId   *uint      `gorm:"index" json:"parent_run_id"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r FactSyncRun) IsFinished() bool {
	return r.Status == SyncRunStatusSuccess || r.Status == SyncRunStatusFailed || r.Status == SyncRunStatusPartial
}

// VenueIds decodes VenueIdsJSON. Malformed or empty JSON means all venues.
func (r FactSyncRun) VenueIds() []string {
	if len(r.VenueIdsJSON) == 0 {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(r.VenueIdsJSON, &ids); err != nil {
		return nil
	}
	return ids
}

func EncodeVenueIds(ids []string) []byte {
	ids = cleanIds(ids)
	if len(ids) == 0 {
		return nil
	}
	b, _ := json.Marshal(ids)
	return b
}

type FactSyncError struct {
	ID           uint       `gorm:"primary_key" json:"id"`
	SyncRunId    uint       `gorm:"index;not null" json:"sync_run_id"`
	VenueId      string     `gorm:"size:64;index" json:"venue_id"`
	BusinessDate *time.Time `gorm:"type:date" json:"business_date"`
	Stage        string     `gorm:"size:32" json:"stage"`
	Message      string     `gorm:"type:text" json:"message"`
	Retryable    bool       `json:"retryable"`
	ResolvedAt   *time.Time `gorm:"index" json:"resolved_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// RunCounters is the summary a finished run writes back.
type RunCounters struct {
	VenuesTotal   int
	VenuesSkipped int
	DaysTotal     int
	DaysSynced    int
	DaysFailed    int
	ErrorCount    int
}

// Status derives the final run status: any failure with no synced day is a
// failed run, failures alongside synced days are partial.
func (c RunCounters) Status() string {
	if c.ErrorCount == 0 && c.DaysFailed == 0 {
		return SyncRunStatusSuccess
	}
	if c.DaysSynced == 0 {
		return SyncRunStatusFailed
	}
	return SyncRunStatusPartial
}

func CreateFactSyncRun(ctx context.Context, db *gorm.DB, run *FactSyncRun) error {
	if run.Status == "" {
		run.Status = SyncRunStatusQueued
	}
	run.StartDate = DateOnly(run.StartDate)
	run.EndDate = DateOnly(run.EndDate)
	return db.WithContext(ctx).Create(run).Error
}

// GetFactSyncRun returns nil when the run does not exist.
func GetFactSyncRun(ctx context.Context, db *gorm.DB, id uint) (*FactSyncRun, error) {
	var run FactSyncRun
	err := db.WithContext(ctx).Where("id = ?", id).Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func ListFactSyncRuns(ctx context.Context, db *gorm.DB, limit int) ([]FactSyncRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var runs []FactSyncRun
	if err := db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// MarkFactSyncRunRunning claims a queued run. The status check is part of the
// update, so of two workers racing on one run only the first gets nil; the
// other gets ErrRunNotQueued.
func MarkFactSyncRunRunning(ctx context.Context, db *gorm.DB, run *FactSyncRun, startedAt time.Time) error {
	res := db.WithContext(ctx).Model(&FactSyncRun{}).
		Where("id = ? AND status = ?", run.ID, SyncRunStatusQueued).
		Updates(map[string]interface{}{
			"status":     SyncRunStatusRunning,
			"started_at": startedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRunNotQueued
	}
	run.Status = SyncRunStatusRunning
	run.StartedAt = &startedAt
	return nil
}

func FinishFactSyncRun(ctx context.Context, db *gorm.DB, run *FactSyncRun, counters RunCounters, finishedAt time.Time) error {
	status := counters.Status()
	var durationMs int64
	if run.StartedAt != nil {
		durationMs = finishedAt.Sub(*run.StartedAt).Milliseconds()
	}
	run.Status = status
	run.FinishedAt = &finishedAt
	run.DurationMs = durationMs
	run.VenuesTotal = counters.VenuesTotal
	run.VenuesSkipped = counters.VenuesSkipped
	run.DaysTotal = counters.DaysTotal
	run.DaysSynced = counters.DaysSynced
	run.DaysFailed = counters.DaysFailed
	run.ErrorCount = counters.ErrorCount
	return db.WithContext(ctx).Model(run).Updates(map[string]interface{}{
		"status":         status,
		"finished_at":    finishedAt,
		"duration_ms":    durationMs,
		"venues_total":   counters.VenuesTotal,
		"venues_skipped": counters.VenuesSkipped,
		"days_total":     counters.DaysTotal,
		"days_synced":    counters.DaysSynced,
		"days_failed":    counters.DaysFailed,
		"error_count":    counters.ErrorCount,
	}).Error
}

// FailFactSyncRun marks a run failed before any venue was processed.
func FailFactSyncRun(ctx context.Context, db *gorm.DB, run *FactSyncRun, finishedAt time.Time) error {
	run.Status = SyncRunStatusFailed
	run.FinishedAt = &finishedAt
	return db.WithContext(ctx).Model(run).Updates(map[string]interface{}{
		"status":      SyncRunStatusFailed,
		"finished_at": finishedAt,
		"error_count": gorm.Expr("error_count + 1"),
	}).Error
}

func CreateFactSyncError(ctx context.Context, db *gorm.DB, runId uint, venueId string, date *time.Time, stage string, message string, retryable bool) error {
	if runId == 0 {
		return nil
	}
	var bd *time.Time
	if date != nil {
		d := DateOnly(*date)
		bd = &d
	}
	return db.WithContext(ctx).Create(&FactSyncError{
		SyncRunId:    runId,
		VenueId:      venueId,
		BusinessDate: bd,
		Stage:        stage,
		Message:      message,
		Retryable:    retryable,
	}).Error
}

func ListFactSyncErrors(ctx context.Context, db *gorm.DB, runId uint) ([]FactSyncError, error) {
	var errs []FactSyncError
	if err := db.WithContext(ctx).Where("sync_run_id = ?", runId).Order("id ASC").Find(&errs).Error; err != nil {
		return nil, err
	}
	return errs, nil
}

// ListUnresolvedErrorDates returns the business dates in [start, end] that
// have a recorded failure for venueId not yet cleared by a clean sync.
func ListUnresolvedErrorDates(ctx context.Context, db *gorm.DB, venueId string, start, end time.Time) ([]time.Time, error) {
	start, end = DateOnly(start), DateOnly(end)
	var dates []time.Time
	err := db.WithContext(ctx).Model(&FactSyncError{}).
		Distinct("business_date").
		Where("venue_id = ? AND business_date IS NOT NULL AND resolved_at IS NULL", venueId).
		Where("business_date >= ? AND business_date <= ?", start, end).
		Order("business_date ASC").
		Pluck("business_date", &dates).Error
	if err != nil {
		return nil, err
	}
	for i, d := range dates {
		dates[i] = DateOnly(d)
	}
	return dates, nil
}

// ResolveFactSyncErrors clears the open failures of one venue-day.
func ResolveFactSyncErrors(ctx context.Context, db *gorm.DB, venueId string, date time.Time, resolvedAt time.Time) error {
	return db.WithContext(ctx).Model(&FactSyncError{}).
		Where("venue_id = ? AND business_date = ? AND resolved_at IS NULL", venueId, DateOnly(date)).
		Update("resolved_at", resolvedAt).Error
}
