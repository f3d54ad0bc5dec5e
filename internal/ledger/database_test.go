package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quantdesk/mirror-api/internal/types"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Account{}, &Wallet{}, &Balance{}, &Order{}, &SyncCursor{}))
	return NewDatabase(db)
}

func testAccount() *Account {
	return &Account{
		AccountID:      "acct-1",
		OwnerID:        "owner-1",
		Venue:          "mock",
		CredentialsRef: "mock-test",
		Active:         true,
	}
}

func snapshot(fetchedAt time.Time, balances ...types.BalanceRecord) types.BalanceSnapshot {
	return types.BalanceSnapshot{
		WalletType: types.WalletSpot,
		Balances:   balances,
		FetchedAt:  fetchedAt,
	}
}

func balanceOf(total, available string) types.BalanceRecord {
	return types.BalanceRecord{
		Asset:     "BTC",
		Total:     decimal.RequireFromString(total),
		Available: decimal.RequireFromString(available),
	}
}

func orderRecord(id string, status types.OrderStatus, updatedAt time.Time) types.OrderRecord {
	return types.OrderRecord{
		VenueOrderID:     id,
		Symbol:           "BTCUSDT",
		Side:             types.SideBuy,
		Type:             "LIMIT",
		Status:           status,
		Price:            decimal.RequireFromString("64000"),
		Quantity:         decimal.RequireFromString("1"),
		ExecutedQuantity: decimal.Zero,
		PlacedAt:         updatedAt.Add(-time.Minute),
		UpdatedAt:        updatedAt,
	}
}

func TestAccountLifecycle(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.CreateAccount(testAccount()))

	account, err := db.GetAccount("acct-1")
	require.NoError(t, err)
	require.NotNil(t, account)
	require.True(t, account.Active)

	missing, err := db.GetAccount("acct-unknown")
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, db.DeactivateAccount("acct-1"))
	account, err = db.GetAccount("acct-1")
	require.NoError(t, err)
	require.False(t, account.Active)

	require.ErrorIs(t, db.DeactivateAccount("acct-unknown"), gorm.ErrRecordNotFound)
}

func TestCreateAccountRequiresIdentity(t *testing.T) {
	db := newTestDB(t)

	err := db.CreateAccount(&Account{AccountID: "acct-1"})
	var consistency *types.LocalConsistencyError
	require.ErrorAs(t, err, &consistency)
}

func TestApplySyncCreatesWalletsLazily(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	stats, err := db.ApplySync("acct-1",
		[]types.BalanceSnapshot{snapshot(now, balanceOf("1.5", "1.0"))},
		nil, now)
	require.NoError(t, err)
	require.Equal(t, 1, stats.WalletsCreated)
	require.Equal(t, 1, stats.BalancesApplied)

	// Second cycle reuses the wallet.
	stats, err = db.ApplySync("acct-1",
		[]types.BalanceSnapshot{snapshot(now.Add(time.Minute), balanceOf("2.0", "1.5"))},
		nil, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 0, stats.WalletsCreated)
	require.Equal(t, 1, stats.BalancesApplied)

	available, err := db.GetAvailableBalance("acct-1", "BTC")
	require.NoError(t, err)
	require.True(t, available.Equal(decimal.RequireFromString("1.5")))
}

func TestApplySyncIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	snapshots := []types.BalanceSnapshot{snapshot(now, balanceOf("1.5", "1.0"))}
	orders := []types.OrderRecord{orderRecord("ord-1", types.StatusPartiallyFilled, now)}

	_, err := db.ApplySync("acct-1", snapshots, orders, now)
	require.NoError(t, err)

	// Re-applying the identical payload changes nothing.
	stats, err := db.ApplySync("acct-1", snapshots, orders, now)
	require.NoError(t, err)
	require.Equal(t, 0, stats.OrdersApplied)
	require.Equal(t, 0, stats.OrderAnomalies)

	order, err := db.GetOrder("acct-1", "ord-1")
	require.NoError(t, err)
	require.Equal(t, string(types.StatusPartiallyFilled), order.Status)

	cursor, err := db.GetSyncCursor("acct-1")
	require.NoError(t, err)
	require.True(t, cursor.Equal(now))
}

func TestApplyBalancesLastWriterWins(t *testing.T) {
	db := newTestDB(t)
	t1 := time.Now().UTC().Truncate(time.Second)
	t2 := t1.Add(time.Minute)

	_, err := db.ApplySync("acct-1", []types.BalanceSnapshot{snapshot(t2, balanceOf("2.0", "2.0"))}, nil, t2)
	require.NoError(t, err)

	// An older snapshot never clobbers the newer row.
	stats, err := db.ApplySync("acct-1", []types.BalanceSnapshot{snapshot(t1, balanceOf("1.0", "1.0"))}, nil, t2)
	require.NoError(t, err)
	require.Equal(t, 0, stats.BalancesApplied)
	require.Equal(t, 1, stats.BalancesSkipped)

	available, err := db.GetAvailableBalance("acct-1", "BTC")
	require.NoError(t, err)
	require.True(t, available.Equal(decimal.RequireFromString("2.0")))
}

func TestApplyOrderForwardOnly(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	_, err := db.ApplySync("acct-1", nil,
		[]types.OrderRecord{orderRecord("ord-1", types.StatusFilled, now)}, now)
	require.NoError(t, err)

	// A late NEW update is an anomaly: counted, never applied.
	stats, err := db.ApplySync("acct-1", nil,
		[]types.OrderRecord{orderRecord("ord-1", types.StatusNew, now.Add(time.Minute))}, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, stats.OrderAnomalies)
	require.Equal(t, 0, stats.OrdersApplied)

	order, err := db.GetOrder("acct-1", "ord-1")
	require.NoError(t, err)
	require.Equal(t, string(types.StatusFilled), order.Status)
}

func TestApplyOrderProgression(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	_, err := db.ApplySync("acct-1", nil,
		[]types.OrderRecord{orderRecord("ord-1", types.StatusNew, now)}, now)
	require.NoError(t, err)

	stats, err := db.ApplySync("acct-1", nil,
		[]types.OrderRecord{orderRecord("ord-1", types.StatusPartiallyFilled, now.Add(time.Minute))}, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, stats.OrdersApplied)
	require.Equal(t, 0, stats.OrderAnomalies)

	order, err := db.GetOrder("acct-1", "ord-1")
	require.NoError(t, err)
	require.Equal(t, string(types.StatusPartiallyFilled), order.Status)
}

func TestApplyOrderRejectsInvalidRecords(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	_, err := db.ApplySync("acct-1", nil,
		[]types.OrderRecord{orderRecord("", types.StatusNew, now)}, now)
	var consistency *types.LocalConsistencyError
	require.ErrorAs(t, err, &consistency)

	_, err = db.ApplySync("acct-1", nil,
		[]types.OrderRecord{orderRecord("ord-1", types.OrderStatus("LIMBO"), now)}, now)
	require.ErrorAs(t, err, &consistency)
}

func TestCursorNeverMovesBackward(t *testing.T) {
	db := newTestDB(t)
	t1 := time.Now().UTC().Truncate(time.Second)
	t2 := t1.Add(time.Hour)

	_, err := db.ApplySync("acct-1", nil, nil, t2)
	require.NoError(t, err)

	_, err = db.ApplySync("acct-1", nil, nil, t1)
	require.NoError(t, err)

	cursor, err := db.GetSyncCursor("acct-1")
	require.NoError(t, err)
	require.True(t, cursor.Equal(t2))

	// A cycle with no observed timestamps leaves the cursor alone.
	_, err = db.ApplySync("acct-1", nil, nil, time.Time{})
	require.NoError(t, err)
	cursor, err = db.GetSyncCursor("acct-1")
	require.NoError(t, err)
	require.True(t, cursor.Equal(t2))
}

func TestMarkOrderCanceled(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	_, _, err := db.UpsertLocalOrder("acct-1", orderRecord("ord-1", types.StatusNew, now))
	require.NoError(t, err)

	require.NoError(t, db.MarkOrderCanceled("acct-1", "ord-1", now.Add(time.Minute)))
	order, err := db.GetOrder("acct-1", "ord-1")
	require.NoError(t, err)
	require.Equal(t, string(types.StatusCanceled), order.Status)

	// Terminal orders are left untouched.
	_, _, err = db.UpsertLocalOrder("acct-1", orderRecord("ord-2", types.StatusFilled, now))
	require.NoError(t, err)
	require.NoError(t, db.MarkOrderCanceled("acct-1", "ord-2", now.Add(time.Minute)))
	order, err = db.GetOrder("acct-1", "ord-2")
	require.NoError(t, err)
	require.Equal(t, string(types.StatusFilled), order.Status)
}

func TestOrderHistoryPaginationIsStable(t *testing.T) {
	db := newTestDB(t)
	base := time.Now().UTC().Truncate(time.Second)

	var records []types.OrderRecord
	for i, id := range []string{"ord-a", "ord-b", "ord-c", "ord-d", "ord-e"} {
		rec := orderRecord(id, types.StatusNew, base.Add(time.Duration(i)*time.Minute))
		records = append(records, rec)
	}
	_, err := db.ApplySync("acct-1", nil, records, base)
	require.NoError(t, err)

	var seen []string
	for page := 1; page <= 3; page++ {
		orders, total, err := db.GetOrderHistory("acct-1", OrderFilter{Page: page, PageSize: 2})
		require.NoError(t, err)
		require.EqualValues(t, 5, total)
		for _, o := range orders {
			seen = append(seen, o.VenueOrderID)
		}
	}
	require.Equal(t, []string{"ord-a", "ord-b", "ord-c", "ord-d", "ord-e"}, seen)
}

func TestOrderHistoryFilters(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	filled := orderRecord("ord-1", types.StatusFilled, now)
	open := orderRecord("ord-2", types.StatusNew, now.Add(time.Minute))
	open.Symbol = "ETHUSDT"
	_, err := db.ApplySync("acct-1", nil, []types.OrderRecord{filled, open}, now)
	require.NoError(t, err)

	orders, total, err := db.GetOrderHistory("acct-1", OrderFilter{Status: string(types.StatusFilled)})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "ord-1", orders[0].VenueOrderID)

	orders, total, err = db.GetOrderHistory("acct-1", OrderFilter{Symbol: "ETHUSDT"})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "ord-2", orders[0].VenueOrderID)
}

func TestGetAvailableBalanceSumsWallets(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	spot := snapshot(now, balanceOf("1.0", "1.0"))
	margin := types.BalanceSnapshot{
		WalletType: types.WalletMargin,
		Balances:   []types.BalanceRecord{balanceOf("0.5", "0.25")},
		FetchedAt:  now,
	}
	_, err := db.ApplySync("acct-1", []types.BalanceSnapshot{spot, margin}, nil, now)
	require.NoError(t, err)

	available, err := db.GetAvailableBalance("acct-1", "BTC")
	require.NoError(t, err)
	require.True(t, available.Equal(decimal.RequireFromString("1.25")))

	// Unknown assets read as zero, not as an error.
	available, err = db.GetAvailableBalance("acct-1", "DOGE")
	require.NoError(t, err)
	require.True(t, available.IsZero())
}
