package factsync

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/venue_backend/config"
	"bitbucket.org/mmdatafocus/venue_backend/models"
	"bitbucket.org/mmdatafocus/venue_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// API serves the fact-sync HTTP endpoints.
type API struct {
	db           *gorm.DB
	orchestrator *Orchestrator
	dispatcher   Dispatcher
	logger       *logrus.Logger
	validate     *validator.Validate
	now          func() time.Time
}

func NewAPI(db *gorm.DB, orchestrator *Orchestrator, dispatcher Dispatcher, logger *logrus.Logger) *API {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &API{
		db:           db,
		orchestrator: orchestrator,
		dispatcher:   dispatcher,
		logger:       logger,
		validate:     validator.New(),
		now:          time.Now,
	}
}

// Register mounts the API routes on r.
func (a *API) Register(r gin.IRouter) {
	r.POST("/runs", a.TriggerRunHandler())
	r.GET("/runs", a.SyncHistoryHandler())
	r.GET("/runs/:id", a.SyncRunDetailHandler())
	r.POST("/runs/:id/retry", a.RetrySyncRunHandler())
	r.POST("/venues/:venueId/days/:date/sync", a.SyncVenueDayHandler())
}

// RequireToken compares the token header with the shared API token. An empty
// expected token disables the check.
func RequireToken(expected string) gin.HandlerFunc {
	expected = strings.TrimSpace(expected)
	return func(c *gin.Context) {
		if expected == "" {
			c.Next()
			return
		}
		got := strings.TrimSpace(c.GetHeader("token"))
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (a *API) TriggerRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TriggerRunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := a.validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		start, _ := time.Parse(dateLayout, req.StartDate)
		end, _ := time.Parse(dateLayout, req.EndDate)
		if end.Before(start) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "endDate must not be before startDate"})
			return
		}

		ctx := c.Request.Context()
		cid, _ := utils.GetCorrelationIdFromContext(ctx)
		run := models.FactSyncRun{
			Status:        models.SyncRunStatusQueued,
			TriggeredBy:   models.SyncTriggeredManual,
			StartDate:     start,
			EndDate:       end,
			VenueIdsJSON:  models.EncodeVenueIds(req.VenueIds),
			CorrelationId: cid,
		}
		if err := models.CreateFactSyncRun(ctx, a.db, &run); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !a.dispatch(c, &run) {
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": run.ID})
	}
}

func (a *API) SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		runs, err := models.ListFactSyncRuns(c.Request.Context(), a.db, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func (a *API) SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := a.loadRun(c)
		if !ok {
			return
		}
		errs, err := models.ListFactSyncErrors(c.Request.Context(), a.db, run.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(*run),
			Errors:          mapErrors(errs),
		})
	}
}

// RetrySyncRunHandler queues a child run over the same range and venues.
// Days the parent already synced are skipped by the missing-date diff.
func (a *API) RetrySyncRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := a.loadRun(c)
		if !ok {
			return
		}
		if !run.IsFinished() {
			c.JSON(http.StatusConflict, gin.H{"error": "run has not finished"})
			return
		}

		ctx := c.Request.Context()
		cid, _ := utils.GetCorrelationIdFromContext(ctx)
		newRun := models.FactSyncRun{
			Status:        models.SyncRunStatusQueued,
			TriggeredBy:   models.SyncTriggeredRetry,
			StartDate:     run.StartDate,
			EndDate:       run.EndDate,
			VenueIdsJSON:  run.VenueIdsJSON,
			CorrelationId: cid,
			ParentRunId:   &run.ID,
		}
		if err := models.CreateFactSyncRun(ctx, a.db, &newRun); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !a.dispatch(c, &newRun) {
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": newRun.ID})
	}
}

// SyncVenueDayHandler re-syncs one venue-day synchronously, even when it was
// synced before.
func (a *API) SyncVenueDayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		venueId := strings.TrimSpace(c.Param("venueId"))
		date, err := utils.ParseDate(c.Param("date"))
		if venueId == "" || err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid venue id or date"})
			return
		}

		ctx := utils.SetVenueIdInContext(c.Request.Context(), venueId)
		ctx = utils.SetTriggeredByInContext(ctx, models.SyncTriggeredManual)
		out, err := a.orchestrator.SyncVenueDayById(ctx, venueId, date)
		resp := VenueDayResponse{
			VenueId:      venueId,
			BusinessDate: date.Format(dateLayout),
			HasSales:     out.HasSales,
			HasLabor:     out.HasLabor,
		}
		switch {
		case errors.Is(err, ErrNoActiveMapping):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		case errors.Is(err, ErrUnsupportedFamily):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		case err != nil:
			config.LogError(a.logger, "factsync", "SyncVenueDayHandler", "sync venue day", map[string]any{
				"venue_id":      venueId,
				"business_date": resp.BusinessDate,
			}, err)
			resp.Error = err.Error()
			c.JSON(http.StatusBadGateway, resp)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (a *API) loadRun(c *gin.Context) (*models.FactSyncRun, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return nil, false
	}
	run, err := models.GetFactSyncRun(c.Request.Context(), a.db, uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return nil, false
	}
	return run, true
}

// dispatch hands the run off. A run that cannot be dispatched is marked failed
// so it does not sit queued forever.
func (a *API) dispatch(c *gin.Context, run *models.FactSyncRun) bool {
	ctx := c.Request.Context()
	if err := a.dispatcher.Dispatch(ctx, *run); err != nil {
		config.LogError(a.logger, "factsync", "dispatch", "dispatch run", map[string]any{"run_id": run.ID}, err)
		if ferr := models.FailFactSyncRun(ctx, a.db, run, a.now().UTC()); ferr != nil {
			config.LogError(a.logger, "factsync", "dispatch", "fail sync run", map[string]any{"run_id": run.ID}, ferr)
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to dispatch run", "id": run.ID})
		return false
	}
	return true
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

func mapRunToResponse(run models.FactSyncRun) SyncRunResponse {
	venueIds := run.VenueIds()
	if venueIds == nil {
		venueIds = []string{}
	}
	return SyncRunResponse{
		ID:            run.ID,
		Status:        run.Status,
		TriggeredBy:   run.TriggeredBy,
		StartDate:     run.StartDate.Format(dateLayout),
		EndDate:       run.EndDate.Format(dateLayout),
		VenueIds:      venueIds,
		VenuesTotal:   run.VenuesTotal,
		VenuesSkipped: run.VenuesSkipped,
		DaysTotal:     run.DaysTotal,
		DaysSynced:    run.DaysSynced,
		DaysFailed:    run.DaysFailed,
		ErrorCount:    run.ErrorCount,
		StartedAt:     formatTime(run.StartedAt),
		FinishedAt:    formatTime(run.FinishedAt),
		DurationMs:    run.DurationMs,
		ParentRunId:   run.ParentRunId,
	}
}

func mapErrors(errorsList []models.FactSyncError) []SyncErrorResponse {
	out := make([]SyncErrorResponse, 0, len(errorsList))
	for _, errItem := range errorsList {
		out = append(out, SyncErrorResponse{
			ID:           errItem.ID,
			VenueId:      errItem.VenueId,
			BusinessDate: formatDate(errItem.BusinessDate),
			Stage:        errItem.Stage,
			Message:      errItem.Message,
			Retryable:    errItem.Retryable,
		})
	}
	return out
}
