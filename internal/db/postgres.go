// Package db opens the Postgres connection and owns the schema migration,
// the same split the teacher keeps between internal/db and internal/app:
// connection concerns live here, call-site wiring lives in internal/app.
package db

import (
	stdlog "log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/upnorthmedia/content-pipeline/internal/domain/content"
	"github.com/upnorthmedia/content-pipeline/internal/jobqueue"
	"github.com/upnorthmedia/content-pipeline/internal/pkg/logger"
)

// Open connects to Postgres with a GORM logger tuned for a polling
// worker: record-not-found is routine here, not an error worth logging.
func Open(dsn string, log *logger.Logger) (*gorm.DB, error) {
	gormLog := gormLogger.New(
		stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		return nil, err
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		log.Error("failed to enable uuid-ossp extension", "error", err)
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates/updates the tables for every domain model this
// process owns (§4.A-§4.E, §6 job_queue).
func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&content.Profile{},
		&content.Post{},
		&content.Link{},
		&jobqueue.Record{},
	)
}
