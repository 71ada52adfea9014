package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/venue_backend/config"
	"bitbucket.org/mmdatafocus/venue_backend/factsync"
	"bitbucket.org/mmdatafocus/venue_backend/middlewares"
	"bitbucket.org/mmdatafocus/venue_backend/models"
	"bitbucket.org/mmdatafocus/venue_backend/sourcedb"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("FACT_SYNC_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()
	settings, err := config.LoadSyncSettings()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "settings"}).Fatal(err)
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Routes are mounted before the DB is up; the readiness gate below
	// answers 503 until the services are built.
	var ready atomic.Pointer[services]

	r := gin.New()
	r.Use(middlewares.CorrelationId())
	r.Use(readinessGate(&ready))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(middlewares.BearerToken())
	r.Use(middlewares.RequestLogger(logger))
	r.Use(gin.Recovery())

	group := r.Group("/api/fact-sync")
	group.Use(factsync.RequireToken(settings.APIToken))
	group.POST("/runs", deferred(&ready, func(s *services) gin.HandlerFunc { return s.api.TriggerRunHandler() }))
	group.GET("/runs", deferred(&ready, func(s *services) gin.HandlerFunc { return s.api.SyncHistoryHandler() }))
	group.GET("/runs/:id", deferred(&ready, func(s *services) gin.HandlerFunc { return s.api.SyncRunDetailHandler() }))
	group.POST("/runs/:id/retry", deferred(&ready, func(s *services) gin.HandlerFunc { return s.api.RetrySyncRunHandler() }))
	group.POST("/venues/:venueId/days/:date/sync", deferred(&ready, func(s *services) gin.HandlerFunc { return s.api.SyncVenueDayHandler() }))

	// Pub/Sub push endpoint for the run worker.
	r.POST("/pubsub/fact-sync", deferred(&ready, func(s *services) gin.HandlerFunc { return s.push }))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	if settings.VenueLockEnabled {
		if err := config.ConnectRedisWithRetry(sigCtx, intFromEnv("REDIS_CONNECT_ATTEMPTS", 5)); err != nil {
			logger.WithFields(logrus.Fields{"field": "redis"}).Warn(err)
		}
	}

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	source := sourcedb.NewManager(sourcedb.ConfigFromEnv(), sourcedb.WithLogger(logger))
	defer source.Close()

	ready.Store(buildServices(db, source, settings, logger))

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

type services struct {
	api  *factsync.API
	push gin.HandlerFunc
}

func buildServices(db *gorm.DB, source factsync.Querier, settings config.SyncSettings, logger *logrus.Logger) *services {
	orchestrator := factsync.NewOrchestrator(db, source, factsync.OptionsFromSettings(settings, logger))
	runner := factsync.NewRunner(db, orchestrator, logger)

	var dispatcher factsync.Dispatcher
	if settings.PubSubDispatch {
		dispatcher = factsync.NewPubSubDispatcher(settings.DispatchTopic)
	} else {
		dispatcher = factsync.NewInProcessDispatcher(runner, logger)
	}
	logger.WithFields(logrus.Fields{
		"pubsub_dispatch":   settings.PubSubDispatch,
		"venue_concurrency": settings.VenueConcurrency,
		"venue_lock":        settings.VenueLockEnabled,
	}).Info("fact sync service ready")
	return &services{
		api:  factsync.NewAPI(db, orchestrator, dispatcher, logger),
		push: factsync.PubSubPushHandler(runner, logger),
	}
}

// readinessGate answers 503 until ready holds the built services. The
// services are stored only after the DB is connected, so ready is the one
// signal the request goroutines read.
func readinessGate(ready *atomic.Pointer[services]) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if ready.Load() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	}
}

// deferred resolves a handler per request, after the readiness gate has
// confirmed the services are built.
func deferred(ready *atomic.Pointer[services], handler func(*services) gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := ready.Load()
		if s == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		handler(s)(c)
	}
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

func intFromEnv(key string, def int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}
