// Package history persists a record of every finished download, so past
// batches survive restarts and can be inspected later.
package history

import (
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"moul.io/zapgorm2"

	"github.com/hexi/data-portal/internal/session"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// DownloadRecord is one finished (completed, failed or cancelled) download.
type DownloadRecord struct {
	ID         int64 `gorm:"primaryKey"`
	BatchID    string
	Path       string
	Name       string
	Status     string
	Bytes      int64
	DurationMs int64
	Err        string
	FinishedAt time.Time
}

func (DownloadRecord) TableName() string {
	return "download_history"
}

// Store implements session.Recorder on a sqlite database.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewStore(path string, log *zap.Logger) (*Store, error) {
	gormLogger := zapgorm2.New(log.Named("gorm"))
	gormLogger.SetAsDefault()
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Migrate brings the schema up to date; a no-op when already current.
func (s *Store) Migrate() error {
	src, err := iofs.New(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(sqlDB, &sqlite3.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	switch err = m.Up(); err {
	case nil:
		s.log.Debug("history database migration complete")
	case migrate.ErrNoChange:
		s.log.Debug("no history database migration required")
	default:
		return err
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordDownload implements session.Recorder.
func (s *Store) RecordDownload(rec *session.Record) error {
	row := DownloadRecord{
		BatchID:    rec.BatchID,
		Path:       rec.Path,
		Name:       rec.Name,
		Status:     string(rec.Status),
		Bytes:      rec.Bytes,
		DurationMs: rec.Duration.Milliseconds(),
		Err:        rec.Err,
		FinishedAt: rec.FinishedAt,
	}
	return s.db.Create(&row).Error
}

// Recent returns the most recently finished downloads, newest first.
func (s *Store) Recent(limit int) ([]DownloadRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []DownloadRecord
	err := s.db.Order("finished_at DESC, id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// ByBatch returns every record for one batch in insertion order.
func (s *Store) ByBatch(batchID string) ([]DownloadRecord, error) {
	var rows []DownloadRecord
	err := s.db.Where("batch_id = ?", batchID).Order("id ASC").Find(&rows).Error
	return rows, err
}
