package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/quantdesk/mirror-api/internal/audit"
	"github.com/quantdesk/mirror-api/internal/database/migrations"
	"github.com/quantdesk/mirror-api/internal/ledger"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	if path == "" {
		path = "mirror.db"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Auto-migrate schemas
	err = db.AutoMigrate(
		&ledger.Account{},
		&ledger.Wallet{},
		&ledger.Balance{},
		&ledger.Order{},
		&ledger.SyncCursor{},
		&audit.Entry{},
	)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddOrderHistoryIndex(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
