package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quantdesk/mirror-api/internal/audit"
	"github.com/quantdesk/mirror-api/internal/config"
	"github.com/quantdesk/mirror-api/internal/connector"
	"github.com/quantdesk/mirror-api/internal/gateway"
	"github.com/quantdesk/mirror-api/internal/ledger"
	"github.com/quantdesk/mirror-api/internal/types"
)

type harness struct {
	engine   *Engine
	mock     *connector.MockConnector
	db       *ledger.Database
	locks    *ledger.AccountLocks
	registry *connector.Registry
	creds    *connector.StaticCredentialSource
	sink     *audit.Sink
	store    *config.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&ledger.Account{}, &ledger.Wallet{}, &ledger.Balance{},
		&ledger.Order{}, &ledger.SyncCursor{}, &audit.Entry{},
	))

	mock := connector.NewMockConnector()
	registry := connector.NewRegistry()
	registry.Register(types.VenueMock, connector.NewMockFactory(mock))

	creds := connector.NewStaticCredentialSource()
	creds.Set("mock-test", connector.Credentials{APIKey: "k", APISecret: "s"})

	db := ledger.NewDatabase(gdb)
	require.NoError(t, db.CreateAccount(&ledger.Account{
		AccountID:      "acct-1",
		OwnerID:        "owner-1",
		Venue:          string(types.VenueMock),
		CredentialsRef: "mock-test",
		Active:         true,
	}))

	locks := ledger.NewAccountLocks()
	store := config.NewStore("", config.Default())
	sink := audit.NewSink(gdb)
	engine := NewEngine(db, registry, creds, locks, sink, store)

	return &harness{
		engine:   engine,
		mock:     mock,
		db:       db,
		locks:    locks,
		registry: registry,
		creds:    creds,
		sink:     sink,
		store:    store,
	}
}

func seedMock(mock *connector.MockConnector, updated time.Time) {
	mock.SetBalances([]connector.MockBalance{
		{Coin: "BTC", Total: "1.5", Free: "1.0", Locked: "0.5"},
		{Coin: "USDT", Total: "10000", Free: "9000", Locked: "1000"},
	})
	mock.SetOrders([]connector.MockOrder{
		{
			ID: "ord-1", Sym: "BTCUSDT", Side: "BUY", Kind: "LIMIT", State: "open",
			Px: "64000", Qty: "1", Filled: "0",
			CreatedMS: updated.Add(-time.Hour).UnixMilli(), UpdatedMS: updated.UnixMilli(),
		},
	})
}

func TestSyncAccountPopulatesMirror(t *testing.T) {
	h := newHarness(t)
	updated := time.Now().UTC().Truncate(time.Second)
	seedMock(h.mock, updated)

	result, err := h.engine.SyncAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, result.State)
	require.Equal(t, 1, result.Stats.WalletsCreated)
	require.Equal(t, 2, result.Stats.BalancesApplied)
	require.Equal(t, 1, result.Stats.OrdersApplied)

	available, err := h.db.GetAvailableBalance("acct-1", "BTC")
	require.NoError(t, err)
	require.True(t, available.Equal(decimal.RequireFromString("1.0")))

	order, err := h.db.GetOrder("acct-1", "ord-1")
	require.NoError(t, err)
	require.Equal(t, string(types.StatusNew), order.Status)

	// Cursor lands on the largest venue timestamp observed this cycle.
	cursor, err := h.db.GetSyncCursor("acct-1")
	require.NoError(t, err)
	require.False(t, cursor.Before(updated))
}

func TestSyncAccountIsIdempotent(t *testing.T) {
	h := newHarness(t)
	updated := time.Now().UTC().Truncate(time.Second)
	seedMock(h.mock, updated)

	_, err := h.engine.SyncAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	cursorBefore, err := h.db.GetSyncCursor("acct-1")
	require.NoError(t, err)

	// Venue state unchanged: the second sync converges to the same mirror.
	result, err := h.engine.SyncAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, result.State)
	require.Equal(t, 0, result.Stats.OrdersApplied)
	require.Equal(t, 0, result.Stats.OrderAnomalies)

	cursorAfter, err := h.db.GetSyncCursor("acct-1")
	require.NoError(t, err)
	require.True(t, cursorAfter.Equal(cursorBefore))
}

func TestSyncAccountFetchFailureLeavesMirrorUntouched(t *testing.T) {
	h := newHarness(t)
	updated := time.Now().UTC().Truncate(time.Second)
	seedMock(h.mock, updated)

	_, err := h.engine.SyncAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	cursorBefore, err := h.db.GetSyncCursor("acct-1")
	require.NoError(t, err)

	h.mock.FailNext("fetch_balances", &types.ConnectivityError{
		Venue: types.VenueMock, Op: "fetch_balances", Err: context.DeadlineExceeded,
	})
	result, err := h.engine.SyncAccount(context.Background(), "acct-1")
	require.Error(t, err)
	require.Equal(t, StateFailed, result.State)
	require.True(t, types.Retryable(err))

	// Failed attempt: cursor untouched, balances untouched.
	cursorAfter, err := h.db.GetSyncCursor("acct-1")
	require.NoError(t, err)
	require.True(t, cursorAfter.Equal(cursorBefore))
}

func TestSyncAccountNormalizationFailureAppliesNothing(t *testing.T) {
	h := newHarness(t)
	h.mock.SetBalances([]connector.MockBalance{
		{Coin: "BTC", Total: "1.0", Free: "1.0"},
	})
	h.mock.SetOrders([]connector.MockOrder{
		{ID: "ord-x", Sym: "BTCUSDT", Side: "BUY", Kind: "LIMIT", State: "limbo",
			Px: "1", Qty: "1", Filled: "0",
			CreatedMS: time.Now().UnixMilli(), UpdatedMS: time.Now().UnixMilli()},
	})

	result, err := h.engine.SyncAccount(context.Background(), "acct-1")
	require.Error(t, err)
	require.Equal(t, StateFailed, result.State)
	var shapeErr *types.DataShapeError
	require.ErrorAs(t, err, &shapeErr)

	// The cycle is all-or-nothing: the good balances were not applied.
	available, err := h.db.GetAvailableBalance("acct-1", "BTC")
	require.NoError(t, err)
	require.True(t, available.IsZero())
}

func TestSyncAfterGatewayCancelConverges(t *testing.T) {
	h := newHarness(t)
	h.mock.SetBalances([]connector.MockBalance{
		{Coin: "USDT", Total: "100000", Free: "100000", Locked: "0"},
	})
	gw := gateway.NewGateway(h.db, h.registry, h.creds, h.locks, h.sink, h.store)

	ack, err := gw.PlaceOrder(context.Background(), "acct-1", types.OrderRequest{
		Symbol: "BTCUSDT",
		Side:   types.SideBuy,
		Type:   "LIMIT",
		Amount: decimal.NewFromInt(1),
		Price:  decimal.NewFromInt(64000),
	})
	require.NoError(t, err)
	require.NoError(t, gw.CancelOrder(context.Background(), "acct-1", ack.VenueOrderID))

	order, err := h.db.GetOrder("acct-1", ack.VenueOrderID)
	require.NoError(t, err)
	require.Equal(t, string(types.StatusCanceled), order.Status)

	// The venue reports the same order cancelled; the sync confirms the
	// optimistic local state without touching the row.
	result, err := h.engine.SyncAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, result.State)
	require.Equal(t, 0, result.Stats.OrdersApplied)
	require.Equal(t, 0, result.Stats.OrderAnomalies)

	order, err = h.db.GetOrder("acct-1", ack.VenueOrderID)
	require.NoError(t, err)
	require.Equal(t, string(types.StatusCanceled), order.Status)
}

func TestSyncAccountRejectsConcurrentAttempt(t *testing.T) {
	h := newHarness(t)
	seedMock(h.mock, time.Now().UTC())

	release, ok := h.locks.TryAcquire("acct-1")
	require.True(t, ok)
	defer release()

	_, err := h.engine.SyncAccount(context.Background(), "acct-1")
	require.ErrorIs(t, err, ErrSyncInProgress)
}

func TestSyncAccountRequiresActiveAccount(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.SyncAccount(context.Background(), "acct-unknown")
	var consistency *types.LocalConsistencyError
	require.ErrorAs(t, err, &consistency)

	require.NoError(t, h.db.DeactivateAccount("acct-1"))
	_, err = h.engine.SyncAccount(context.Background(), "acct-1")
	require.ErrorAs(t, err, &consistency)
}
