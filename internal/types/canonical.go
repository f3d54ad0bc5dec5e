package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceRecord is the canonical, venue-agnostic balance for one asset.
// Fields are stored verbatim from the venue; no field is ever derived
// from the others because venues disagree about what the sum represents.
type BalanceRecord struct {
	Asset     string          `json:"asset"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	InOrder   decimal.Decimal `json:"in_order"`
	Frozen    decimal.Decimal `json:"frozen"`
	Borrowed  decimal.Decimal `json:"borrowed"`
}

// OrderRecord is the canonical representation of a venue order.
type OrderRecord struct {
	VenueOrderID     string          `json:"venue_order_id"`
	Symbol           string          `json:"symbol"`
	Side             OrderSide       `json:"side"`
	Type             string          `json:"type"`
	Status           OrderStatus     `json:"status"`
	Price            decimal.Decimal `json:"price"`
	Quantity         decimal.Decimal `json:"quantity"`
	ExecutedQuantity decimal.Decimal `json:"executed_quantity"`
	PlacedAt         time.Time       `json:"placed_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// AccountInfo is the canonical account snapshot.
type AccountInfo struct {
	VenueAccountID string     `json:"venue_account_id"`
	CanTrade       bool       `json:"can_trade"`
	CanWithdraw    bool       `json:"can_withdraw"`
	WalletType     WalletType `json:"wallet_type"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// BalanceSnapshot groups the balances of one wallet type as fetched in a
// single sync cycle.
type BalanceSnapshot struct {
	WalletType WalletType      `json:"wallet_type"`
	Balances   []BalanceRecord `json:"balances"`
	FetchedAt  time.Time       `json:"fetched_at"`
}

// Ticker is a canonical last-price quote.
type Ticker struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Candle is a canonical OHLCV bar. All numeric fields are fixed-point
// decimals parsed straight from the venue strings.
type Candle struct {
	Symbol   string          `json:"symbol"`
	OpenTime time.Time       `json:"open_time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

// OrderRequest is the inbound request to place an order.
type OrderRequest struct {
	Symbol string          `json:"symbol" binding:"required"`
	Side   OrderSide       `json:"side" binding:"required"`
	Type   string          `json:"type" binding:"required"`
	Amount decimal.Decimal `json:"amount" binding:"required"`
	Price  decimal.Decimal `json:"price"`
	BotID  string          `json:"bot_id"`
}

// OrderAck is the venue acknowledgement of a successful placement.
type OrderAck struct {
	VenueOrderID string          `json:"venue_order_id"`
	Symbol       string          `json:"symbol"`
	Status       OrderStatus     `json:"status"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	PlacedAt     time.Time       `json:"placed_at"`
}
