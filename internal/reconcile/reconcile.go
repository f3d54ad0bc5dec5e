// Package reconcile drives the sync cycle that keeps the ledger mirror
// converged with venue state. One cycle fetches venue truth, normalizes
// it, and applies it atomically; the venue is always ground truth and
// the mirror only ever catches up to it.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantdesk/mirror-api/internal/audit"
	"github.com/quantdesk/mirror-api/internal/config"
	"github.com/quantdesk/mirror-api/internal/connector"
	"github.com/quantdesk/mirror-api/internal/ledger"
	"github.com/quantdesk/mirror-api/internal/normalizer"
	"github.com/quantdesk/mirror-api/internal/types"
)

// ErrSyncInProgress is returned when an account already has a running
// sync attempt. Safe to retry after the running attempt finishes.
var ErrSyncInProgress = errors.New("sync already in progress for account")

// Sync attempt states, in the order an attempt moves through them.
const (
	StatePending     = "PENDING"
	StateFetching    = "FETCHING"
	StateNormalizing = "NORMALIZING"
	StateDiffing     = "DIFFING"
	StateApplying    = "APPLYING"
	StateCompleted   = "COMPLETED"
	StateFailed      = "FAILED"
)

// Result describes one finished sync attempt.
type Result struct {
	AccountID  string             `json:"account_id"`
	State      string             `json:"state"`
	Stats      *ledger.ApplyStats `json:"stats,omitempty"`
	Cursor     time.Time          `json:"cursor,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Error      string             `json:"error,omitempty"`
}

type Engine struct {
	db       *ledger.Database
	registry *connector.Registry
	creds    connector.CredentialSource
	locks    *ledger.AccountLocks
	sink     *audit.Sink
	cfg      *config.Store
	logger   zerolog.Logger
}

func NewEngine(db *ledger.Database, registry *connector.Registry, creds connector.CredentialSource, locks *ledger.AccountLocks, sink *audit.Sink, cfg *config.Store) *Engine {
	return &Engine{
		db:       db,
		registry: registry,
		creds:    creds,
		locks:    locks,
		sink:     sink,
		cfg:      cfg,
		logger:   log.With().Str("service", "reconcile").Logger(),
	}
}

// SyncAccount runs one full sync attempt for the account. At most one
// attempt runs per account at any time; a second caller is rejected
// with ErrSyncInProgress rather than queued. Re-running a completed
// sync against unchanged venue state is a no-op.
func (e *Engine) SyncAccount(ctx context.Context, accountID string) (*Result, error) {
	result := &Result{AccountID: accountID, State: StatePending, StartedAt: time.Now().UTC()}

	account, err := e.db.GetAccount(accountID)
	if err != nil {
		return e.fail(result, err)
	}
	if account == nil {
		return e.fail(result, &types.LocalConsistencyError{Entity: "account", Key: accountID, Reason: "unknown account"})
	}
	if !account.Active {
		return e.fail(result, &types.LocalConsistencyError{Entity: "account", Key: accountID, Reason: "account is deactivated"})
	}

	release, ok := e.locks.TryAcquire(accountID)
	if !ok {
		return nil, ErrSyncInProgress
	}
	defer release()

	conn, err := e.connect(account)
	if err != nil {
		return e.fail(result, err)
	}

	cursor, err := e.db.GetSyncCursor(accountID)
	if err != nil {
		return e.fail(result, err)
	}
	since := cursor
	if since.IsZero() {
		since = result.StartedAt.Add(-e.cfg.Current().Sync.OrderLookback)
	}

	e.logger.Info().
		Str("account_id", accountID).
		Str("venue", string(conn.Venue())).
		Time("since", since).
		Msg("starting sync attempt")

	result.State = StateFetching
	payloads, fetchedAt, err := e.fetch(ctx, conn, since)
	if err != nil {
		return e.fail(result, err)
	}

	result.State = StateNormalizing
	canonical, maxObserved, err := e.normalize(conn.Venue(), payloads)
	if err != nil {
		return e.fail(result, err)
	}

	// Diffing and applying happen inside one ledger transaction; the
	// split is observational only.
	result.State = StateDiffing
	snapshots := buildSnapshots(canonical, fetchedAt)
	var orders []types.OrderRecord
	if c := canonical[types.KindOrders]; c != nil {
		orders = c.Orders
	}

	result.State = StateApplying
	stats, err := e.db.ApplySync(accountID, snapshots, orders, maxObserved)
	if err != nil {
		return e.fail(result, err)
	}

	result.State = StateCompleted
	result.Stats = stats
	result.Cursor = maxObserved
	result.FinishedAt = time.Now().UTC()

	e.logger.Info().
		Str("account_id", accountID).
		Int("balances_applied", stats.BalancesApplied).
		Int("orders_applied", stats.OrdersApplied).
		Int("order_anomalies", stats.OrderAnomalies).
		Time("cursor", maxObserved).
		Msg("sync attempt completed")
	e.sink.Emit(audit.KindSyncAttempt, accountID, "sync", "", audit.OutcomeSuccess, result)

	return result, nil
}

func (e *Engine) connect(account *ledger.Account) (connector.Connector, error) {
	creds, err := e.creds.Resolve(account.CredentialsRef)
	if err != nil {
		// An unresolvable reference needs the same external remediation
		// as venue-rejected credentials.
		return nil, &types.AuthenticationError{Venue: types.VenueID(account.Venue), Op: "resolve_credentials", Err: err}
	}
	symbols, err := account.TrackedSymbols()
	if err != nil {
		return nil, err
	}
	creds.Symbols = symbols
	return e.registry.Connect(types.VenueID(account.Venue), creds)
}

// fetch pulls account info, balances and orders concurrently. The cycle
// is all-or-nothing: any fetch failure fails the attempt.
func (e *Engine) fetch(ctx context.Context, conn connector.Connector, since time.Time) (map[types.PayloadKind]connector.RawPayload, time.Time, error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		payloads = make(map[types.PayloadKind]connector.RawPayload, 3)
		firstErr error
	)

	fetches := []func(context.Context) (connector.RawPayload, error){
		func(ctx context.Context) (connector.RawPayload, error) { return conn.FetchAccountInfo(ctx) },
		func(ctx context.Context) (connector.RawPayload, error) { return conn.FetchBalances(ctx) },
		func(ctx context.Context) (connector.RawPayload, error) { return conn.FetchOrders(ctx, since) },
	}
	for _, fetch := range fetches {
		wg.Add(1)
		go func(fetch func(context.Context) (connector.RawPayload, error)) {
			defer wg.Done()
			payload, err := fetch(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			payloads[payload.Kind] = payload
		}(fetch)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, time.Time{}, firstErr
	}
	return payloads, time.Now().UTC(), nil
}

func (e *Engine) normalize(venue types.VenueID, payloads map[types.PayloadKind]connector.RawPayload) (map[types.PayloadKind]*normalizer.Canonical, time.Time, error) {
	canonical := make(map[types.PayloadKind]*normalizer.Canonical, len(payloads))
	var maxObserved time.Time
	for kind, payload := range payloads {
		c, err := normalizer.Normalize(venue, kind, payload.Data)
		if err != nil {
			return nil, time.Time{}, err
		}
		canonical[kind] = c
		if c.MaxObservedAt.After(maxObserved) {
			maxObserved = c.MaxObservedAt
		}
	}
	return canonical, maxObserved, nil
}

// buildSnapshots stamps the fetched balances with the cycle's fetch
// time, grouped under the wallet type the account info reported.
func buildSnapshots(canonical map[types.PayloadKind]*normalizer.Canonical, fetchedAt time.Time) []types.BalanceSnapshot {
	balances := canonical[types.KindBalances]
	if balances == nil || len(balances.Balances) == 0 {
		return nil
	}
	walletType := types.WalletSpot
	if info := canonical[types.KindAccountInfo]; info != nil && info.AccountInfo != nil {
		walletType = info.AccountInfo.WalletType
	}
	return []types.BalanceSnapshot{{
		WalletType: walletType,
		Balances:   balances.Balances,
		FetchedAt:  fetchedAt,
	}}
}

// fail finalizes a failed attempt. The cursor is untouched: the next
// attempt refetches the same window, which the idempotent apply absorbs.
func (e *Engine) fail(result *Result, err error) (*Result, error) {
	result.State = StateFailed
	result.Error = err.Error()
	result.FinishedAt = time.Now().UTC()

	e.logger.Error().Err(err).
		Str("account_id", result.AccountID).
		Msg("sync attempt failed")
	e.sink.Emit(audit.KindSyncAttempt, result.AccountID, "sync", "", audit.OutcomeFailed, result)

	return result, err
}
