package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/quantdesk/mirror-api/internal/types"
)

// Database owns the ledger mirror's write invariants. All mutation goes
// through the reconciliation engine or the order gateway; presentation
// code only ever reaches the read-side methods.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateAccount(account *Account) error {
	if account.AccountID == "" || account.OwnerID == "" || account.Venue == "" {
		return &types.LocalConsistencyError{
			Entity: "account",
			Key:    account.AccountID,
			Reason: "account id, owner and venue are required",
		}
	}
	return d.db.Create(account).Error
}

func (d *Database) GetAccount(accountID string) (*Account, error) {
	var account Account
	if err := d.db.Where("account_id = ?", accountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// ListActiveAccounts returns every account eligible for background
// syncing.
func (d *Database) ListActiveAccounts() ([]Account, error) {
	var accounts []Account
	if err := d.db.Where("active = ?", true).Order("account_id asc").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// DeactivateAccount retires an account. Identity is immutable; there is
// no reactivation-with-new-owner path.
func (d *Database) DeactivateAccount(accountID string) error {
	result := d.db.Model(&Account{}).Where("account_id = ?", accountID).Update("active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// TrackedSymbols decodes the account's tracked symbol list.
func (a *Account) TrackedSymbols() ([]string, error) {
	if a.Symbols == "" {
		return nil, nil
	}
	var symbols []string
	if err := json.Unmarshal([]byte(a.Symbols), &symbols); err != nil {
		return nil, fmt.Errorf("failed to decode tracked symbols for %s: %w", a.AccountID, err)
	}
	return symbols, nil
}

// ApplySync writes one sync cycle's balances, orders and cursor advance
// as a single transaction. A crash mid-apply rolls the whole cycle
// back; the mirror is never visible half-updated.
func (d *Database) ApplySync(accountID string, snapshots []types.BalanceSnapshot, orders []types.OrderRecord, cursor time.Time) (*ApplyStats, error) {
	stats := &ApplyStats{}
	err := d.db.Transaction(func(tx *gorm.DB) error {
		for _, snapshot := range snapshots {
			wallet, created, err := getOrCreateWallet(tx, accountID, snapshot.WalletType)
			if err != nil {
				return err
			}
			if created {
				stats.WalletsCreated++
			}
			applied, skipped, err := applyBalances(tx, wallet.ID, snapshot)
			if err != nil {
				return err
			}
			stats.BalancesApplied += applied
			stats.BalancesSkipped += skipped
		}
		for _, rec := range orders {
			applied, anomaly, err := applyOrder(tx, accountID, rec)
			if err != nil {
				return err
			}
			if applied {
				stats.OrdersApplied++
			}
			if anomaly {
				stats.OrderAnomalies++
			}
		}
		return advanceCursor(tx, accountID, cursor)
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func getOrCreateWallet(tx *gorm.DB, accountID string, walletType types.WalletType) (*Wallet, bool, error) {
	var wallet Wallet
	err := tx.Where("account_id = ? AND wallet_type = ?", accountID, string(walletType)).First(&wallet).Error
	if err == nil {
		return &wallet, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	wallet = Wallet{AccountID: accountID, WalletType: string(walletType)}
	if err := tx.Create(&wallet).Error; err != nil {
		return nil, false, err
	}
	return &wallet, true, nil
}

// applyBalances wholesale-replaces each reported asset for this cycle.
// Last writer wins per (wallet, asset), versioned by the snapshot's
// fetch time; an older snapshot never clobbers a newer row.
func applyBalances(tx *gorm.DB, walletID uint, snapshot types.BalanceSnapshot) (applied, skipped int, err error) {
	for _, rec := range snapshot.Balances {
		if rec.Asset == "" {
			return applied, skipped, &types.LocalConsistencyError{
				Entity: "balance",
				Key:    fmt.Sprintf("wallet %d", walletID),
				Reason: "empty asset symbol",
			}
		}
		var existing Balance
		err := tx.Where("wallet_id = ? AND asset = ?", walletID, rec.Asset).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := Balance{
				WalletID:       walletID,
				Asset:          rec.Asset,
				Total:          rec.Total,
				Available:      rec.Available,
				InOrder:        rec.InOrder,
				Frozen:         rec.Frozen,
				Borrowed:       rec.Borrowed,
				VenueUpdatedAt: snapshot.FetchedAt,
			}
			if err := tx.Create(&row).Error; err != nil {
				return applied, skipped, err
			}
			applied++
		case err != nil:
			return applied, skipped, err
		case existing.VenueUpdatedAt.After(snapshot.FetchedAt):
			skipped++
		default:
			existing.Total = rec.Total
			existing.Available = rec.Available
			existing.InOrder = rec.InOrder
			existing.Frozen = rec.Frozen
			existing.Borrowed = rec.Borrowed
			existing.VenueUpdatedAt = snapshot.FetchedAt
			if err := tx.Save(&existing).Error; err != nil {
				return applied, skipped, err
			}
			applied++
		}
	}
	return applied, skipped, nil
}

// applyOrder upserts one order under the forward-only status lattice.
// A regression out of a terminal state is an anomaly: logged, counted,
// never applied. Venues do send out-of-order updates and they must not
// corrupt history.
func applyOrder(tx *gorm.DB, accountID string, rec types.OrderRecord) (applied, anomaly bool, err error) {
	if rec.VenueOrderID == "" {
		return false, false, &types.LocalConsistencyError{
			Entity: "order",
			Key:    accountID,
			Reason: "empty venue order id",
		}
	}
	if !rec.Status.Valid() {
		return false, false, &types.LocalConsistencyError{
			Entity: "order",
			Key:    rec.VenueOrderID,
			Reason: "invalid status " + string(rec.Status),
		}
	}

	var existing Order
	err = tx.Where("account_id = ? AND venue_order_id = ?", accountID, rec.VenueOrderID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row := Order{
			AccountID:        accountID,
			VenueOrderID:     rec.VenueOrderID,
			Symbol:           rec.Symbol,
			Side:             string(rec.Side),
			OrderType:        rec.Type,
			Status:           string(rec.Status),
			Price:            rec.Price,
			Quantity:         rec.Quantity,
			ExecutedQuantity: rec.ExecutedQuantity,
			PlacedAt:         rec.PlacedAt,
			VenueUpdatedAt:   rec.UpdatedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return false, false, err
		}
		return true, false, nil
	}
	if err != nil {
		return false, false, err
	}

	current := types.OrderStatus(existing.Status)
	if !current.CanTransition(rec.Status) {
		log.Warn().
			Str("account_id", accountID).
			Str("venue_order_id", rec.VenueOrderID).
			Str("current_status", existing.Status).
			Str("incoming_status", string(rec.Status)).
			Msg("rejected out-of-order status regression")
		return false, true, nil
	}
	if current == rec.Status && !rec.UpdatedAt.After(existing.VenueUpdatedAt) {
		// Identical or stale update; re-applying the same payload is a
		// no-op by design.
		return false, false, nil
	}

	existing.Symbol = rec.Symbol
	existing.Side = string(rec.Side)
	existing.OrderType = rec.Type
	existing.Status = string(rec.Status)
	existing.Price = rec.Price
	existing.Quantity = rec.Quantity
	existing.ExecutedQuantity = rec.ExecutedQuantity
	existing.PlacedAt = rec.PlacedAt
	existing.VenueUpdatedAt = rec.UpdatedAt
	if err := tx.Save(&existing).Error; err != nil {
		return false, false, err
	}
	return true, false, nil
}

func advanceCursor(tx *gorm.DB, accountID string, to time.Time) error {
	if to.IsZero() {
		return nil
	}
	var cursor SyncCursor
	err := tx.Where("account_id = ?", accountID).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(&SyncCursor{AccountID: accountID, LastSyncedAt: to}).Error
	}
	if err != nil {
		return err
	}
	if to.After(cursor.LastSyncedAt) {
		cursor.LastSyncedAt = to
		return tx.Save(&cursor).Error
	}
	return nil
}

// GetSyncCursor returns the account's cursor, or the zero time if the
// account has never completed a sync.
func (d *Database) GetSyncCursor(accountID string) (time.Time, error) {
	var cursor SyncCursor
	err := d.db.Where("account_id = ?", accountID).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return cursor.LastSyncedAt, nil
}

// UpsertLocalOrder reflects a gateway-side order event ahead of the
// next full sync. Same lattice rules as the sync path, own transaction.
func (d *Database) UpsertLocalOrder(accountID string, rec types.OrderRecord) (applied, anomaly bool, err error) {
	err = d.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		applied, anomaly, txErr = applyOrder(tx, accountID, rec)
		return txErr
	})
	return applied, anomaly, err
}

// MarkOrderCanceled optimistically cancels a local order after the
// venue accepted the cancellation. An already-terminal order is left
// untouched; the next sync is authoritative either way.
func (d *Database) MarkOrderCanceled(accountID, venueOrderID string, at time.Time) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		var existing Order
		if err := tx.Where("account_id = ? AND venue_order_id = ?", accountID, venueOrderID).First(&existing).Error; err != nil {
			return err
		}
		if types.OrderStatus(existing.Status).Terminal() {
			return nil
		}
		existing.Status = string(types.StatusCanceled)
		existing.VenueUpdatedAt = at
		return tx.Save(&existing).Error
	})
}

// GetOrder returns one mirrored order, or nil when unknown.
func (d *Database) GetOrder(accountID, venueOrderID string) (*Order, error) {
	var order Order
	err := d.db.Where("account_id = ? AND venue_order_id = ?", accountID, venueOrderID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetAvailableBalance sums the last-known available balance for one
// asset across the account's wallets. Non-authoritative: the venue is
// ground truth and this figure may be stale.
func (d *Database) GetAvailableBalance(accountID, asset string) (decimal.Decimal, error) {
	var balances []Balance
	walletIDs := d.db.Model(&Wallet{}).Select("id").Where("account_id = ?", accountID)
	if err := d.db.Where("wallet_id IN (?) AND asset = ?", walletIDs, asset).Find(&balances).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, b := range balances {
		total = total.Add(b.Available)
	}
	return total, nil
}

// GetBalances returns every mirrored balance of one account.
func (d *Database) GetBalances(accountID string) ([]Balance, error) {
	var balances []Balance
	walletIDs := d.db.Model(&Wallet{}).Select("id").Where("account_id = ?", accountID)
	if err := d.db.Where("wallet_id IN (?)", walletIDs).Order("asset asc").Find(&balances).Error; err != nil {
		return nil, err
	}
	return balances, nil
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// GetOrderHistory pages through an account's mirrored orders, stably
// ordered by placement time then venue order id.
func (d *Database) GetOrderHistory(accountID string, filter OrderFilter) ([]Order, int64, error) {
	query := d.db.Model(&Order{}).Where("account_id = ?", accountID)
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}

	var orders []Order
	err := query.
		Order("placed_at asc, venue_order_id asc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}
