package factsync

import (
	"bitbucket.org/mmdatafocus/venue_backend/config"
	"github.com/sirupsen/logrus"
)

// OptionsFromSettings maps env settings onto orchestrator options. The venue
// lock is only wired when Redis is connected; a missing client downgrades to
// uncoordinated runs with a warning.
func OptionsFromSettings(s config.SyncSettings, logger *logrus.Logger) Options {
	opts := Options{
		Logger:              logger,
		Concurrency:         s.VenueConcurrency,
		SyncedDatesPageSize: s.SyncedDatesPageSize,
		UpsertBatchSize:     s.UpsertBatchSize,
	}
	if s.VenueLockEnabled {
		if client := config.GetRedisLock(); client != nil {
			opts.Locker = NewRedisVenueLocker(client, s.VenueLockTTL)
		} else if logger != nil {
			logger.WithFields(logrus.Fields{"field": "venue_lock"}).Warn("FACT_SYNC_VENUE_LOCK=true but redis is not connected; running without venue leases")
		}
	}
	if s.EventsTopic != "" {
		opts.Events = NewPubSubEventPublisher(s.EventsTopic)
	}
	return opts
}
