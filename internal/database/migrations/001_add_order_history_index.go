package migrations

import (
	"gorm.io/gorm"
)

// AddOrderHistoryIndex backs the paginated order-history read with a
// composite index. AutoMigrate only creates the single-column indexes
// declared on the model.
func AddOrderHistoryIndex(db *gorm.DB) error {
	return db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_order_history ON orders (account_id, placed_at, venue_order_id)",
	).Error
}
