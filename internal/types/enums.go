package types

// WalletType identifies the sub-ledger a balance belongs to.
type WalletType string

const (
	WalletSpot    WalletType = "SPOT"
	WalletMargin  WalletType = "MARGIN"
	WalletFutures WalletType = "FUTURES"
	WalletFunding WalletType = "FUNDING"
	WalletOther   WalletType = "OTHER"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus is the canonical order state. Transitions are forward-only:
// NEW -> PARTIALLY_FILLED -> FILLED, with CANCELED, REJECTED and EXPIRED
// reachable from any non-terminal state. Terminal states never transition.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

var statusRank = map[OrderStatus]int{
	StatusNew:             0,
	StatusPartiallyFilled: 1,
	StatusFilled:          2,
}

// Valid reports whether s is one of the canonical statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusNew, StatusPartiallyFilled, StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next respects the
// forward-only lattice. A transition to the same status is allowed so
// that re-applying an identical sync payload stays a no-op.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	if next.Terminal() {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// VenueID identifies a supported exchange.
type VenueID string

const (
	VenueBinance VenueID = "binance"
	VenueBybit   VenueID = "bybit"
	VenueMock    VenueID = "mock"
)

// PayloadKind names the shape of a raw venue payload handed to the
// normalizer.
type PayloadKind string

const (
	KindAccountInfo PayloadKind = "account_info"
	KindBalances    PayloadKind = "balances"
	KindOrders      PayloadKind = "orders"
	KindTicker      PayloadKind = "ticker"
	KindOHLCV       PayloadKind = "ohlcv"
	KindOrderAck    PayloadKind = "order_ack"
)
