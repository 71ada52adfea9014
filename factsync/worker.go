package factsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/venue_backend/config"
	"bitbucket.org/mmdatafocus/venue_backend/models"
	"bitbucket.org/mmdatafocus/venue_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var ErrRunNotFound = errors.New("sync run not found")

// Runner executes queued FactSyncRun rows. The batch command, the service's
// in-process dispatcher and the Pub/Sub push endpoint all go through it.
type Runner struct {
	db           *gorm.DB
	orchestrator *Orchestrator
	logger       *logrus.Logger
	now          func() time.Time
}

func NewRunner(db *gorm.DB, orchestrator *Orchestrator, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Runner{db: db, orchestrator: orchestrator, logger: logger, now: time.Now}
}

// ProcessRun runs a queued sync run to completion. Runs that are already
// running or finished are returned untouched so Pub/Sub redeliveries are
// harmless.
func (r *Runner) ProcessRun(ctx context.Context, runId uint) (*models.FactSyncRun, RunResult, error) {
	run, err := models.GetFactSyncRun(ctx, r.db, runId)
	if err != nil {
		return nil, RunResult{}, err
	}
	if run == nil {
		return nil, RunResult{}, fmt.Errorf("run %d: %w", runId, ErrRunNotFound)
	}
	if run.Status != models.SyncRunStatusQueued {
		r.logger.WithFields(logrus.Fields{
			"module":   "factsync",
			"funcName": "ProcessRun",
			"run_id":   run.ID,
			"status":   run.Status,
		}).Info("sync run is not queued; skipping")
		return run, RunResult{}, nil
	}

	ctx = utils.SetRunIdInContext(ctx, run.ID)
	if run.TriggeredBy != "" {
		ctx = utils.SetTriggeredByInContext(ctx, run.TriggeredBy)
	}
	if run.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, run.CorrelationId)
	}

	if err := models.MarkFactSyncRunRunning(ctx, r.db, run, r.now().UTC()); err != nil {
		if errors.Is(err, models.ErrRunNotQueued) {
			r.logger.WithFields(logrus.Fields{
				"module":   "factsync",
				"funcName": "ProcessRun",
				"run_id":   run.ID,
			}).Info("sync run was claimed by another worker; skipping")
			return run, RunResult{}, nil
		}
		return run, RunResult{}, err
	}

	res, runErr := r.orchestrator.Run(ctx, RunRequest{
		Start:         run.StartDate,
		End:           run.EndDate,
		VenueIds:      run.VenueIds(),
		RunId:         run.ID,
		CorrelationId: run.CorrelationId,
	})

	// The request context may be gone by now; bookkeeping must still land.
	writeCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		config.LogError(r.logger, "factsync", "ProcessRun", "orchestrator run", map[string]any{"run_id": run.ID}, runErr)
		if err := models.FailFactSyncRun(writeCtx, r.db, run, r.now().UTC()); err != nil {
			config.LogError(r.logger, "factsync", "ProcessRun", "fail sync run", map[string]any{"run_id": run.ID}, err)
		}
		return run, res, runErr
	}

	if err := models.FinishFactSyncRun(writeCtx, r.db, run, res.Counters, r.now().UTC()); err != nil {
		return run, res, err
	}
	r.logger.WithFields(logrus.Fields{
		"module":         "factsync",
		"funcName":       "ProcessRun",
		"run_id":         run.ID,
		"status":         run.Status,
		"days_total":     res.Counters.DaysTotal,
		"days_synced":    res.Counters.DaysSynced,
		"days_failed":    res.Counters.DaysFailed,
		"venues_skipped": res.Counters.VenuesSkipped,
		"duration_ms":    run.DurationMs,
	}).Info("sync run finished")
	return run, res, nil
}

// Dispatcher hands a queued run to whatever executes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, run models.FactSyncRun) error
}

type inProcessDispatcher struct {
	runner *Runner
	logger *logrus.Logger
}

// NewInProcessDispatcher runs each dispatched run in its own goroutine,
// detached from the caller's cancellation.
func NewInProcessDispatcher(runner *Runner, logger *logrus.Logger) Dispatcher {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &inProcessDispatcher{runner: runner, logger: logger}
}

func (d *inProcessDispatcher) Dispatch(ctx context.Context, run models.FactSyncRun) error {
	bg := context.WithoutCancel(ctx)
	go func() {
		if _, _, err := d.runner.ProcessRun(bg, run.ID); err != nil {
			config.LogError(d.logger, "factsync", "Dispatch", "process run", map[string]any{"run_id": run.ID}, err)
		}
	}()
	return nil
}
