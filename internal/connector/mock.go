package connector

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/quantdesk/mirror-api/internal/types"
)

// Mock venue wire shapes. They deliberately differ from the canonical
// schema so the normalizer has real mapping work to do in tests and in
// the simulation binary.
type MockBalance struct {
	Coin   string `json:"coin"`
	Total  string `json:"total"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
	Frozen string `json:"frozen"`
	Loan   string `json:"loan"`
}

type MockOrder struct {
	ID        string `json:"id"`
	Sym       string `json:"sym"`
	Side      string `json:"side"`
	Kind      string `json:"kind"`
	State     string `json:"state"`
	Px        string `json:"px"`
	Qty       string `json:"qty"`
	Filled    string `json:"filled"`
	CreatedMS int64  `json:"created_ms"`
	UpdatedMS int64  `json:"updated_ms"`
}

type MockAccountInfo struct {
	AccountID string `json:"account_id"`
	Trading   bool   `json:"trading"`
	Withdraw  bool   `json:"withdraw"`
	TSMS      int64  `json:"ts_ms"`
}

type MockTicker struct {
	Sym  string `json:"sym"`
	Last string `json:"last"`
	TSMS int64  `json:"ts_ms"`
}

type MockCandle struct {
	Sym    string `json:"sym"`
	OpenMS int64  `json:"open_ms"`
	O      string `json:"o"`
	H      string `json:"h"`
	L      string `json:"l"`
	C      string `json:"c"`
	V      string `json:"v"`
}

// MockConnector is a scriptable in-memory venue used by tests and the
// simulation binary. Safe for concurrent use.
type MockConnector struct {
	mu       sync.Mutex
	account  MockAccountInfo
	balances []MockBalance
	orders   []MockOrder
	tickers  map[string]MockTicker
	candles  map[string][]MockCandle
	failures map[string][]error
	nextID   int64
	now      func() time.Time
}

func NewMockConnector() *MockConnector {
	return &MockConnector{
		account:  MockAccountInfo{AccountID: "mock-account", Trading: true, Withdraw: true},
		tickers:  make(map[string]MockTicker),
		candles:  make(map[string][]MockCandle),
		failures: make(map[string][]error),
		nextID:   1000,
		now:      time.Now,
	}
}

// NewMockFactory hands the same scripted instance to every account; the
// mock venue is a single shared world.
func NewMockFactory(m *MockConnector) Factory {
	return func(Credentials) (Connector, error) { return m, nil }
}

// SetClock fixes the mock's notion of time for deterministic tests.
func (m *MockConnector) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// FailNext scripts the next call of op to fail with err.
func (m *MockConnector) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

func (m *MockConnector) SetBalances(balances []MockBalance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances = balances
}

func (m *MockConnector) SetOrders(orders []MockOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = orders
}

func (m *MockConnector) SetTicker(t MockTicker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers[t.Sym] = t
}

func (m *MockConnector) SetCandles(symbol string, candles []MockCandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[symbol] = candles
}

// Orders returns a copy of the venue-side order book for assertions.
func (m *MockConnector) Orders() []MockOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockOrder, len(m.orders))
	copy(out, m.orders)
	return out
}

func (m *MockConnector) popFailure(op string) error {
	queue := m.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	m.failures[op] = queue[1:]
	return err
}

func (m *MockConnector) Venue() types.VenueID { return types.VenueMock }

func (m *MockConnector) FetchAccountInfo(ctx context.Context) (RawPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("fetch_account_info"); err != nil {
		return RawPayload{}, err
	}
	info := m.account
	info.TSMS = m.now().UnixMilli()
	return marshalRaw(types.VenueMock, types.KindAccountInfo, info)
}

func (m *MockConnector) FetchBalances(ctx context.Context) (RawPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("fetch_balances"); err != nil {
		return RawPayload{}, err
	}
	return marshalRaw(types.VenueMock, types.KindBalances, m.balances)
}

func (m *MockConnector) FetchOrders(ctx context.Context, since time.Time) (RawPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("fetch_orders"); err != nil {
		return RawPayload{}, err
	}
	sinceMS := since.UnixMilli()
	out := make([]MockOrder, 0, len(m.orders))
	for _, o := range m.orders {
		if o.UpdatedMS >= sinceMS {
			out = append(out, o)
		}
	}
	return marshalRaw(types.VenueMock, types.KindOrders, out)
}

func (m *MockConnector) PlaceOrder(ctx context.Context, req types.OrderRequest) (RawPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("place_order"); err != nil {
		return RawPayload{}, err
	}
	m.nextID++
	now := m.now().UnixMilli()
	order := MockOrder{
		ID:        strconv.FormatInt(m.nextID, 10),
		Sym:       req.Symbol,
		Side:      string(req.Side),
		Kind:      req.Type,
		State:     "open",
		Px:        req.Price.String(),
		Qty:       req.Amount.String(),
		Filled:    "0",
		CreatedMS: now,
		UpdatedMS: now,
	}
	m.orders = append(m.orders, order)
	return marshalRaw(types.VenueMock, types.KindOrderAck, order)
}

func (m *MockConnector) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("cancel_order"); err != nil {
		return err
	}
	for i, o := range m.orders {
		if o.ID == venueOrderID {
			m.orders[i].State = "cancelled"
			m.orders[i].UpdatedMS = m.now().UnixMilli()
			return nil
		}
	}
	return &types.VenueRejectionError{
		Venue:  types.VenueMock,
		Op:     "cancel_order",
		Code:   "not_found",
		Reason: fmt.Sprintf("unknown order %s", venueOrderID),
	}
}

func (m *MockConnector) FetchTicker(ctx context.Context, symbol string) (RawPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("fetch_ticker"); err != nil {
		return RawPayload{}, err
	}
	t, ok := m.tickers[symbol]
	if !ok {
		return RawPayload{}, &types.VenueRejectionError{
			Venue:  types.VenueMock,
			Op:     "fetch_ticker",
			Code:   "not_found",
			Reason: fmt.Sprintf("unknown symbol %s", symbol),
		}
	}
	return marshalRaw(types.VenueMock, types.KindTicker, t)
}

func (m *MockConnector) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) (RawPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("fetch_ohlcv"); err != nil {
		return RawPayload{}, err
	}
	candles := m.candles[symbol]
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return marshalRaw(types.VenueMock, types.KindOHLCV, candles)
}
