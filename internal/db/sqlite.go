package db

import (
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pysugar/go-sonar/internal/db/models"
)

// foreignKeysPragma makes SQLite honor ON DELETE CASCADE for sonar_data.
const foreignKeysPragma = "_pragma=foreign_keys(1)"

// InitDB opens the SQLite database at dbPath and migrates the capture tables.
// Plugins such as the per-request query log are registered before migration.
func InitDB(dbPath string, plugins ...gorm.Plugin) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(WithForeignKeys(dbPath)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	for _, p := range plugins {
		if err := db.Use(p); err != nil {
			return nil, err
		}
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the capture tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.RequestRecord{}, &models.DataEntry{})
}

// WithForeignKeys appends the foreign key pragma to a SQLite DSN unless it is
// already present.
func WithForeignKeys(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + foreignKeysPragma
}
