package models

import (
	"log"

	"bitbucket.org/mmdatafocus/venue_backend/config"
	"gorm.io/gorm"
)

func MigrateTable() {
	if err := AutoMigrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

// AutoMigrate creates or updates every table the sync owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&VenueMapping{},
		&VenueDayFact{}, &LaborDayFact{}, &CategoryDayFact{}, &ServerDayFact{}, &ItemDayFact{},
		&FactSyncRun{}, &FactSyncError{},
	)
}
