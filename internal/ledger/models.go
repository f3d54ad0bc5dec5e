package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Account is the local identity of one venue account. The owner is
// immutable once created; accounts are retired by deactivation, never
// reassigned.
type Account struct {
	gorm.Model     `json:"-"`
	AccountID      string `gorm:"uniqueIndex" json:"account_id"`
	OwnerID        string `json:"owner_id"`
	Venue          string `json:"venue"`
	CredentialsRef string `json:"credentials_ref"`
	Active         bool   `json:"active"`
	Symbols        string `json:"symbols"` // JSON array of tracked symbols
}

// Wallet is a sub-ledger of an account, one per wallet type. Created
// lazily on the first sync that reports the type.
type Wallet struct {
	gorm.Model `json:"-"`
	AccountID  string `gorm:"uniqueIndex:idx_wallet_account_type" json:"account_id"`
	WalletType string `gorm:"uniqueIndex:idx_wallet_account_type" json:"wallet_type"`
}

// Balance mirrors one asset of one wallet. Values are stored verbatim
// from the venue; no field is ever derived from the others locally.
type Balance struct {
	gorm.Model     `json:"-"`
	WalletID       uint            `gorm:"uniqueIndex:idx_balance_wallet_asset" json:"-"`
	Asset          string          `gorm:"uniqueIndex:idx_balance_wallet_asset" json:"asset"`
	Total          decimal.Decimal `gorm:"type:decimal(32,16)" json:"total"`
	Available      decimal.Decimal `gorm:"type:decimal(32,16)" json:"available"`
	InOrder        decimal.Decimal `gorm:"type:decimal(32,16)" json:"in_order"`
	Frozen         decimal.Decimal `gorm:"type:decimal(32,16)" json:"frozen"`
	Borrowed       decimal.Decimal `gorm:"type:decimal(32,16)" json:"borrowed"`
	VenueUpdatedAt time.Time       `json:"venue_updated_at"`
}

// Order mirrors one venue order, keyed by (account, venue order id).
// Status moves through the forward-only lattice only.
type Order struct {
	gorm.Model       `json:"-"`
	AccountID        string          `gorm:"uniqueIndex:idx_order_account_venue_id" json:"account_id"`
	VenueOrderID     string          `gorm:"uniqueIndex:idx_order_account_venue_id" json:"venue_order_id"`
	Symbol           string          `gorm:"index" json:"symbol"`
	Side             string          `json:"side"`
	OrderType        string          `json:"order_type"`
	Status           string          `gorm:"index" json:"status"`
	Price            decimal.Decimal `gorm:"type:decimal(32,16)" json:"price"`
	Quantity         decimal.Decimal `gorm:"type:decimal(32,16)" json:"quantity"`
	ExecutedQuantity decimal.Decimal `gorm:"type:decimal(32,16)" json:"executed_quantity"`
	PlacedAt         time.Time       `gorm:"index" json:"placed_at"`
	VenueUpdatedAt   time.Time       `json:"venue_updated_at"`
}

// SyncCursor marks the latest successfully-applied sync per account.
// Advances only when an apply phase commits in full.
type SyncCursor struct {
	gorm.Model   `json:"-"`
	AccountID    string    `gorm:"uniqueIndex" json:"account_id"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// ApplyStats summarizes one committed sync apply for the audit trail.
type ApplyStats struct {
	WalletsCreated  int `json:"wallets_created"`
	BalancesApplied int `json:"balances_applied"`
	BalancesSkipped int `json:"balances_skipped"`
	OrdersApplied   int `json:"orders_applied"`
	OrderAnomalies  int `json:"order_anomalies"`
}

// OrderFilter narrows the order-history read side. Zero values mean no
// constraint; pagination defaults are applied by the query.
type OrderFilter struct {
	Symbol   string `form:"symbol"`
	Status   string `form:"status"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}
