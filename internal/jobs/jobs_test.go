package jobs

import (
	"context"
	"errors"
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
	"github.com/quantdesk/mirror-api/internal/reconcile"
	"github.com/quantdesk/mirror-api/internal/types"
)

type harness struct {
	dispatcher *Dispatcher
	mock       *connector.MockConnector
	db         *ledger.Database
	sink       *audit.Sink
}

func testJobsConfig() config.JobsConfig {
	return config.JobsConfig{
		Workers:     2,
		QueueSize:   16,
		MaxAttempts: 3,
		BackoffMin:  time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	}
}

func newHarness(t *testing.T, jobsCfg config.JobsConfig) *harness {
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
	mock.SetBalances([]connector.MockBalance{
		{Coin: "USDT", Total: "10000", Free: "10000", Locked: "0"},
	})
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
	sink := audit.NewSink(gdb)
	store := config.NewStore("", config.Default())
	engine := reconcile.NewEngine(db, registry, creds, locks, sink, store)
	gw := gateway.NewGateway(db, registry, creds, locks, sink, store)

	return &harness{
		dispatcher: NewDispatcher(engine, gw, sink, jobsCfg),
		mock:       mock,
		db:         db,
		sink:       sink,
	}
}

func waitForTerminal(t *testing.T, d *Dispatcher, id string) *Status {
	t.Helper()
	var status *Status
	require.Eventually(t, func() bool {
		status = d.Status(id)
		if status == nil {
			return false
		}
		return status.State == StateSucceeded || status.State == StateFailed
	}, 5*time.Second, 5*time.Millisecond)
	return status
}

func TestDispatcherRunsSyncJob(t *testing.T) {
	h := newHarness(t, testJobsConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.dispatcher.Start(ctx)

	handle, err := h.dispatcher.SubmitAccountSync("acct-1")
	require.NoError(t, err)
	require.Equal(t, KindAccountSync, handle.Kind)

	status := waitForTerminal(t, h.dispatcher, handle.ID)
	require.Equal(t, StateSucceeded, status.State)
	require.Equal(t, 1, status.Attempts)

	available, err := h.db.GetAvailableBalance("acct-1", "USDT")
	require.NoError(t, err)
	require.True(t, available.Equal(decimal.RequireFromString("10000")))
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	h := newHarness(t, testJobsConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.dispatcher.Start(ctx)

	// First fetch attempt times out; the retry finds a healthy venue.
	h.mock.FailNext("fetch_balances", &types.ConnectivityError{
		Venue: types.VenueMock, Op: "fetch_balances", Err: context.DeadlineExceeded,
	})

	handle, err := h.dispatcher.SubmitAccountSync("acct-1")
	require.NoError(t, err)

	status := waitForTerminal(t, h.dispatcher, handle.ID)
	require.Equal(t, StateSucceeded, status.State)
	require.Equal(t, 2, status.Attempts)
}

func TestDispatcherDoesNotRetryDeterministicFailures(t *testing.T) {
	h := newHarness(t, testJobsConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.dispatcher.Start(ctx)

	// An invalid request fails the same way every time; one attempt only.
	handle, err := h.dispatcher.SubmitOrderPlacement("acct-1", types.OrderRequest{
		Symbol: "BTCUSDT", Side: "LONG", Type: "LIMIT",
		Amount: decimal.NewFromInt(1), Price: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	status := waitForTerminal(t, h.dispatcher, handle.ID)
	require.Equal(t, StateFailed, status.State)
	require.Equal(t, 1, status.Attempts)
	require.NotEmpty(t, status.LastError)
}

func TestDispatcherExhaustsAttempts(t *testing.T) {
	cfg := testJobsConfig()
	cfg.MaxAttempts = 2
	h := newHarness(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.dispatcher.Start(ctx)

	for i := 0; i < cfg.MaxAttempts; i++ {
		h.mock.FailNext("fetch_orders", &types.RateLimitedError{
			Venue: types.VenueMock, Op: "fetch_orders",
		})
	}

	handle, err := h.dispatcher.SubmitAccountSync("acct-1")
	require.NoError(t, err)

	status := waitForTerminal(t, h.dispatcher, handle.ID)
	require.Equal(t, StateFailed, status.State)
	require.Equal(t, cfg.MaxAttempts, status.Attempts)

	// Exhaustion is recorded durably, keyed to the job, on top of the
	// per-attempt entries the engine wrote.
	entries, _, err := h.sink.List(audit.EntryFilter{Kind: audit.KindSyncAttempt, AccountID: "acct-1"})
	require.NoError(t, err)
	var exhaustion *audit.Entry
	for i := range entries {
		if entries[i].TargetType == "job" && entries[i].TargetID == handle.ID {
			exhaustion = &entries[i]
		}
	}
	require.NotNil(t, exhaustion)
	require.Equal(t, audit.OutcomeFailed, exhaustion.Outcome)
}

func TestSubmitRejectsWhenQueueIsFull(t *testing.T) {
	cfg := testJobsConfig()
	cfg.QueueSize = 1
	h := newHarness(t, cfg)
	// No Start: nothing drains the queue.

	_, err := h.dispatcher.SubmitAccountSync("acct-1")
	require.NoError(t, err)

	_, err = h.dispatcher.SubmitAccountSync("acct-1")
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestStatusUnknownJob(t *testing.T) {
	h := newHarness(t, testJobsConfig())
	require.Nil(t, h.dispatcher.Status("no-such-job"))
}

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"connectivity", &types.ConnectivityError{Venue: types.VenueMock, Op: "x"}, true},
		{"rate limited", &types.RateLimitedError{Venue: types.VenueMock, Op: "x"}, true},
		{"authentication", &types.AuthenticationError{Venue: types.VenueMock, Op: "x"}, false},
		{"sync in progress", reconcile.ErrSyncInProgress, true},
		{"venue rejection", &types.VenueRejectionError{Venue: types.VenueMock, Op: "x"}, false},
		{"data shape", &types.DataShapeError{Venue: types.VenueMock, Kind: types.KindOrders}, false},
		{"local consistency", &types.LocalConsistencyError{Entity: "account", Key: "a"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, retryable(tt.err))
		})
	}
}
