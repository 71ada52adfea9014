package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/venue_backend/config"
	"bitbucket.org/mmdatafocus/venue_backend/factsync"
	"bitbucket.org/mmdatafocus/venue_backend/models"
	"bitbucket.org/mmdatafocus/venue_backend/sourcedb"
	"bitbucket.org/mmdatafocus/venue_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func main() {
	os.Exit(run())
}

func run() int {
	settings, err := config.LoadSyncSettings()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	startFlag := flag.String("start", "", "First business date, YYYY-MM-DD (default FACT_SYNC_FISCAL_YEAR_START)")
	endFlag := flag.String("end", "", "Last business date, YYYY-MM-DD (default yesterday)")
	venues := flag.String("venues", "", "Optional comma separated venue ids")
	flag.Parse()

	start, err := utils.ParseDateOr(*startFlag, settings.FiscalYearStartDate())
	if err != nil {
		fmt.Fprintln(os.Stderr, "-start:", err)
		return 1
	}
	end, err := utils.ParseDateOr(*endFlag, utils.Yesterday(time.Now(), time.Local))
	if err != nil {
		fmt.Fprintln(os.Stderr, "-end:", err)
		return 1
	}
	if end.Before(start) {
		fmt.Fprintf(os.Stderr, "-end %s is before -start %s\n", end.Format(utils.DateLayout), start.Format(utils.DateLayout))
		return 1
	}

	logger := config.GetLogger()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		return 1
	}
	if !config.EnvBoolDefault("SKIP_MIGRATIONS", false) {
		models.MigrateTable()
	}
	if settings.VenueLockEnabled {
		if err := config.ConnectRedisWithRetry(ctx, 3); err != nil {
			logger.WithFields(logrus.Fields{"field": "redis"}).Warn(err)
		}
	}

	source := sourcedb.NewManager(sourcedb.ConfigFromEnv(), sourcedb.WithLogger(logger))
	defer source.Close()

	opts := factsync.OptionsFromSettings(settings, logger)
	opts.Progress = consoleProgress
	orchestrator := factsync.NewOrchestrator(db, source, opts)

	venueIds := splitAndTrim(*venues)
	syncRun := models.FactSyncRun{
		TriggeredBy:   models.SyncTriggeredCLI,
		StartDate:     start,
		EndDate:       end,
		VenueIdsJSON:  models.EncodeVenueIds(venueIds),
		CorrelationId: uuid.NewString(),
	}
	if err := models.CreateFactSyncRun(ctx, db, &syncRun); err != nil {
		config.LogError(logger, "fact-sync", "run", "create run", nil, err)
		return 1
	}
	fmt.Printf("fact sync run %d: %s..%s\n", syncRun.ID, start.Format(utils.DateLayout), end.Format(utils.DateLayout))

	runner := factsync.NewRunner(db, orchestrator, logger)
	finished, res, err := runner.ProcessRun(ctx, syncRun.ID)
	if err != nil {
		config.LogError(logger, "fact-sync", "run", "process run", map[string]any{"run_id": syncRun.ID}, err)
		return 1
	}

	c := res.Counters
	fmt.Printf("\nstatus=%s venues=%d skipped=%d days=%d synced=%d failed=%d errors=%d\n",
		finished.Status, c.VenuesTotal, c.VenuesSkipped, c.DaysTotal, c.DaysSynced, c.DaysFailed, c.ErrorCount)
	for _, f := range res.Failures {
		date := "-"
		if f.Date != nil {
			date = f.Date.Format(utils.DateLayout)
		}
		fmt.Printf("  %s %s [%s] %v\n", f.VenueId, date, f.Stage, f.Err)
	}
	if res.HasFailures() {
		return 1
	}
	return 0
}

func consoleProgress(p factsync.Progress) {
	mark := "ok"
	if p.Err != nil {
		mark = "FAILED"
	}
	fmt.Printf("[%d/%d] %s %s %s\n", p.Processed, p.Total, p.VenueId, p.Date.Format(utils.DateLayout), mark)
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
