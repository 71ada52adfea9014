package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const DefaultFiscalYearStart = "2025-01-01"

// SyncSettings is the env-driven configuration of the fact-sync pipeline.
//
// Set via env:
// - FACT_SYNC_FISCAL_YEAR_START (default 2025-01-01): default -start of the batch command
// - FACT_SYNC_VENUE_CONCURRENCY (default 1): venues processed in parallel
// - FACT_SYNC_VENUE_LOCK=true: take a Redis lease per venue while syncing it
// - FACT_SYNC_VENUE_LOCK_TTL_SECONDS (default 900)
// - FACT_SYNC_EVENTS_TOPIC: Pub/Sub topic for venue-day events (empty disables)
// - FACT_SYNC_TOPIC (default fact-sync): Pub/Sub topic used to dispatch queued runs
// - FACT_SYNC_PUBSUB_DISPATCH=true: dispatch runs through Pub/Sub instead of in-process
// - FACT_SYNC_SYNCED_DATES_PAGE_SIZE (default 1000)
// - FACT_SYNC_UPSERT_BATCH_SIZE (default 200)
// - FACT_SYNC_API_TOKEN: shared token required by the service API
type SyncSettings struct {
	FiscalYearStart     string        `validate:"required,datetime=2006-01-02"`
	VenueConcurrency    int           `validate:"min=1,max=16"`
	VenueLockEnabled    bool
	VenueLockTTL        time.Duration `validate:"min=1s"`
	EventsTopic         string        `validate:"omitempty,max=255"`
	DispatchTopic       string        `validate:"required,max=255"`
	PubSubDispatch      bool
	SyncedDatesPageSize int           `validate:"min=1,max=10000"`
	UpsertBatchSize     int           `validate:"min=1,max=1000"`
	APIToken            string
}

var settingsValidator = validator.New()

// LoadSyncSettings reads SyncSettings from the environment and validates them.
func LoadSyncSettings() (SyncSettings, error) {
	s := SyncSettings{
		FiscalYearStart:     stringFromEnv("FACT_SYNC_FISCAL_YEAR_START", DefaultFiscalYearStart),
		VenueConcurrency:    intFromEnv("FACT_SYNC_VENUE_CONCURRENCY", 1),
		VenueLockEnabled:    EnvBoolDefault("FACT_SYNC_VENUE_LOCK", false),
		VenueLockTTL:        time.Duration(intFromEnv("FACT_SYNC_VENUE_LOCK_TTL_SECONDS", 900)) * time.Second,
		EventsTopic:         strings.TrimSpace(os.Getenv("FACT_SYNC_EVENTS_TOPIC")),
		DispatchTopic:       stringFromEnv("FACT_SYNC_TOPIC", "fact-sync"),
		PubSubDispatch:      EnvBoolDefault("FACT_SYNC_PUBSUB_DISPATCH", false),
		SyncedDatesPageSize: intFromEnv("FACT_SYNC_SYNCED_DATES_PAGE_SIZE", 1000),
		UpsertBatchSize:     intFromEnv("FACT_SYNC_UPSERT_BATCH_SIZE", 200),
		APIToken:            strings.TrimSpace(os.Getenv("FACT_SYNC_API_TOKEN")),
	}
	if err := settingsValidator.Struct(s); err != nil {
		return s, fmt.Errorf("invalid fact sync settings: %w", err)
	}
	return s, nil
}

// FiscalYearStartDate parses FiscalYearStart as a UTC calendar date.
func (s SyncSettings) FiscalYearStartDate() time.Time {
	t, err := time.Parse("2006-01-02", s.FiscalYearStart)
	if err != nil {
		t, _ = time.Parse("2006-01-02", DefaultFiscalYearStart)
	}
	return t
}

func EnvBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

func stringFromEnv(key string, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
