package database

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noah-isme/lms-gateway/internal/models"
)

const sqlitePrefix = "sqlite://"

// Connect opens the preference store. DSNs starting with sqlite:// use an
// embedded sqlite file; anything else is handed to the postgres driver.
func Connect(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("database dsn must not be empty")
	}

	config := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, sqlitePrefix) {
		dialector = sqlite.Open(strings.TrimPrefix(dsn, sqlitePrefix))
	} else {
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", dialector.Name(), err)
	}

	return db, nil
}

// Migrate creates or updates the gateway's tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Preference{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
