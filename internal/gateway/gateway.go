// Package gateway is the single write path to venues. Every order
// placed or cancelled through the system goes through here, gets
// validated, hits the venue, and is optimistically reflected in the
// ledger mirror ahead of the next sync.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantdesk/mirror-api/internal/audit"
	"github.com/quantdesk/mirror-api/internal/config"
	"github.com/quantdesk/mirror-api/internal/connector"
	"github.com/quantdesk/mirror-api/internal/ledger"
	"github.com/quantdesk/mirror-api/internal/normalizer"
	"github.com/quantdesk/mirror-api/internal/types"
)

var (
	// ErrInvalidRequest marks a request that failed local validation and
	// never reached the venue.
	ErrInvalidRequest = errors.New("invalid order request")
	// ErrInsufficientBalance is returned under strict balance checking
	// when the mirrored available balance cannot cover the order.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrUnknownOrder is returned when a cancellation targets an order
	// the mirror has never seen.
	ErrUnknownOrder = errors.New("unknown order")
	// ErrOrderTerminal is returned when a cancellation targets an order
	// already in a terminal state.
	ErrOrderTerminal = errors.New("order already in a terminal state")
)

const (
	orderTypeLimit  = "LIMIT"
	orderTypeMarket = "MARKET"
)

// Canonical failure reasons recorded in the audit trail. Venue-specific
// rejection codes collapse into this set so the trail reads the same
// across venues.
const (
	ReasonInvalidRequest      = "INVALID_REQUEST"
	ReasonInsufficientBalance = "INSUFFICIENT_BALANCE"
	ReasonRateLimited         = "RATE_LIMITED"
	ReasonInvalidCredentials  = "INVALID_CREDENTIALS"
	ReasonVenueRejected       = "VENUE_REJECTED"
	ReasonVenueUnavailable    = "VENUE_UNAVAILABLE"
	ReasonMalformedAck        = "MALFORMED_ACK"
	ReasonUnknownOrder        = "UNKNOWN_ORDER"
	ReasonOrderTerminal       = "ORDER_TERMINAL"
	ReasonUnknownAccount      = "UNKNOWN_ACCOUNT"
	ReasonInternal            = "INTERNAL"
)

// Venue rejection codes that mean "not enough funds": Binance -2010 and
// -2011, Bybit 170131.
var insufficientBalanceCodes = map[string]bool{
	"-2010":  true,
	"-2011":  true,
	"170131": true,
}

// failureReason folds an error into the canonical reason set.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return ReasonInvalidRequest
	case errors.Is(err, ErrInsufficientBalance):
		return ReasonInsufficientBalance
	case errors.Is(err, ErrUnknownOrder):
		return ReasonUnknownOrder
	case errors.Is(err, ErrOrderTerminal):
		return ReasonOrderTerminal
	}
	var rejection *types.VenueRejectionError
	if errors.As(err, &rejection) {
		if insufficientBalanceCodes[rejection.Code] {
			return ReasonInsufficientBalance
		}
		return ReasonVenueRejected
	}
	var rateErr *types.RateLimitedError
	if errors.As(err, &rateErr) {
		return ReasonRateLimited
	}
	var authErr *types.AuthenticationError
	if errors.As(err, &authErr) {
		return ReasonInvalidCredentials
	}
	var connErr *types.ConnectivityError
	if errors.As(err, &connErr) {
		return ReasonVenueUnavailable
	}
	var shapeErr *types.DataShapeError
	if errors.As(err, &shapeErr) {
		return ReasonMalformedAck
	}
	var consistencyErr *types.LocalConsistencyError
	if errors.As(err, &consistencyErr) && consistencyErr.Entity == "account" {
		return ReasonUnknownAccount
	}
	return ReasonInternal
}

type Gateway struct {
	db       *ledger.Database
	registry *connector.Registry
	creds    connector.CredentialSource
	locks    *ledger.AccountLocks
	sink     *audit.Sink
	cfg      *config.Store
	logger   zerolog.Logger
}

func NewGateway(db *ledger.Database, registry *connector.Registry, creds connector.CredentialSource, locks *ledger.AccountLocks, sink *audit.Sink, cfg *config.Store) *Gateway {
	return &Gateway{
		db:       db,
		registry: registry,
		creds:    creds,
		locks:    locks,
		sink:     sink,
		cfg:      cfg,
		logger:   log.With().Str("service", "gateway").Logger(),
	}
}

// PlaceOrder validates the request, submits it to the venue, and
// records the acknowledged order locally in NEW status. On any venue
// failure nothing is recorded; the mirror only ever reflects orders
// the venue acknowledged.
func (g *Gateway) PlaceOrder(ctx context.Context, accountID string, req types.OrderRequest) (*types.OrderAck, error) {
	account, err := g.activeAccount(accountID)
	if err != nil {
		g.sink.Emit(audit.KindOrderPlacement, accountID, "order", "", audit.OutcomeRejected, placementDetail(req, err))
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		g.sink.Emit(audit.KindOrderPlacement, accountID, "order", "", audit.OutcomeRejected, placementDetail(req, err))
		return nil, err
	}
	if err := g.balanceGuard(accountID, req); err != nil {
		g.sink.Emit(audit.KindOrderPlacement, accountID, "order", "", audit.OutcomeRejected, placementDetail(req, err))
		return nil, err
	}

	conn, err := g.connect(account)
	if err != nil {
		g.sink.Emit(audit.KindOrderPlacement, accountID, "order", "", audit.OutcomeFailed, placementDetail(req, err))
		return nil, err
	}

	raw, err := conn.PlaceOrder(ctx, req)
	if err != nil {
		g.logger.Error().Err(err).
			Str("account_id", accountID).
			Str("symbol", req.Symbol).
			Msg("venue refused order placement")
		g.sink.Emit(audit.KindOrderPlacement, accountID, "order", "", audit.OutcomeFailed, placementDetail(req, err))
		return nil, err
	}

	canonical, err := normalizer.Normalize(raw.Venue, raw.Kind, raw.Data)
	if err != nil {
		// The venue accepted the order but we could not read the ack. The
		// next sync picks the order up; surface the shape failure loudly.
		g.logger.Error().Err(err).
			Str("account_id", accountID).
			Str("symbol", req.Symbol).
			Msg("placed order but failed to normalize the ack")
		g.sink.Emit(audit.KindOrderPlacement, accountID, "order", "", audit.OutcomeFailed, placementDetail(req, err))
		return nil, err
	}
	ack := completeAck(canonical.OrderAck, req, time.Now().UTC())

	record := types.OrderRecord{
		VenueOrderID:     ack.VenueOrderID,
		Symbol:           ack.Symbol,
		Side:             req.Side,
		Type:             req.Type,
		Status:           ack.Status,
		Price:            ack.Price,
		Quantity:         ack.Quantity,
		ExecutedQuantity: decimal.Zero,
		PlacedAt:         ack.PlacedAt,
		UpdatedAt:        ack.PlacedAt,
	}
	release, err := g.locks.Acquire(ctx, accountID)
	if err != nil {
		g.sink.Emit(audit.KindOrderPlacement, accountID, "order", ack.VenueOrderID, audit.OutcomeFailed, placementDetail(req, err))
		return nil, err
	}
	_, _, err = g.db.UpsertLocalOrder(accountID, record)
	release()
	if err != nil {
		g.sink.Emit(audit.KindOrderPlacement, accountID, "order", ack.VenueOrderID, audit.OutcomeFailed, placementDetail(req, err))
		return nil, err
	}

	g.logger.Info().
		Str("account_id", accountID).
		Str("venue_order_id", ack.VenueOrderID).
		Str("symbol", ack.Symbol).
		Str("side", string(req.Side)).
		Msg("order placed")
	g.sink.Emit(audit.KindOrderPlacement, accountID, "order", ack.VenueOrderID, audit.OutcomeSuccess, ack)

	return ack, nil
}

// CancelOrder asks the venue to cancel a mirrored order, then
// optimistically marks it CANCELED locally. The next sync confirms or
// corrects the final state.
func (g *Gateway) CancelOrder(ctx context.Context, accountID, venueOrderID string) error {
	account, err := g.activeAccount(accountID)
	if err != nil {
		g.sink.Emit(audit.KindOrderCancellation, accountID, "order", venueOrderID, audit.OutcomeRejected, cancellationDetail(err))
		return err
	}
	order, err := g.db.GetOrder(accountID, venueOrderID)
	if err != nil {
		g.sink.Emit(audit.KindOrderCancellation, accountID, "order", venueOrderID, audit.OutcomeFailed, cancellationDetail(err))
		return err
	}
	if order == nil {
		err := fmt.Errorf("%w: %s", ErrUnknownOrder, venueOrderID)
		g.sink.Emit(audit.KindOrderCancellation, accountID, "order", venueOrderID, audit.OutcomeRejected, cancellationDetail(err))
		return err
	}
	if types.OrderStatus(order.Status).Terminal() {
		err := fmt.Errorf("%w: %s is %s", ErrOrderTerminal, venueOrderID, order.Status)
		g.sink.Emit(audit.KindOrderCancellation, accountID, "order", venueOrderID, audit.OutcomeRejected, cancellationDetail(err))
		return err
	}

	conn, err := g.connect(account)
	if err != nil {
		g.sink.Emit(audit.KindOrderCancellation, accountID, "order", venueOrderID, audit.OutcomeFailed, cancellationDetail(err))
		return err
	}
	if err := conn.CancelOrder(ctx, order.Symbol, venueOrderID); err != nil {
		g.logger.Error().Err(err).
			Str("account_id", accountID).
			Str("venue_order_id", venueOrderID).
			Msg("venue refused cancellation")
		g.sink.Emit(audit.KindOrderCancellation, accountID, "order", venueOrderID, audit.OutcomeFailed, cancellationDetail(err))
		return err
	}

	release, err := g.locks.Acquire(ctx, accountID)
	if err != nil {
		g.sink.Emit(audit.KindOrderCancellation, accountID, "order", venueOrderID, audit.OutcomeFailed, cancellationDetail(err))
		return err
	}
	err = g.db.MarkOrderCanceled(accountID, venueOrderID, time.Now().UTC())
	release()
	if err != nil {
		g.sink.Emit(audit.KindOrderCancellation, accountID, "order", venueOrderID, audit.OutcomeFailed, cancellationDetail(err))
		return err
	}

	g.logger.Info().
		Str("account_id", accountID).
		Str("venue_order_id", venueOrderID).
		Msg("order cancelled")
	g.sink.Emit(audit.KindOrderCancellation, accountID, "order", venueOrderID, audit.OutcomeSuccess, nil)
	return nil
}

func (g *Gateway) activeAccount(accountID string) (*ledger.Account, error) {
	account, err := g.db.GetAccount(accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, &types.LocalConsistencyError{Entity: "account", Key: accountID, Reason: "unknown account"}
	}
	if !account.Active {
		return nil, &types.LocalConsistencyError{Entity: "account", Key: accountID, Reason: "account is deactivated"}
	}
	return account, nil
}

func (g *Gateway) connect(account *ledger.Account) (connector.Connector, error) {
	creds, err := g.creds.Resolve(account.CredentialsRef)
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
	return g.registry.Connect(types.VenueID(account.Venue), creds)
}

func validateRequest(req types.OrderRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return fmt.Errorf("%w: side must be BUY or SELL", ErrInvalidRequest)
	}
	if req.Type != orderTypeLimit && req.Type != orderTypeMarket {
		return fmt.Errorf("%w: type must be LIMIT or MARKET", ErrInvalidRequest)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if req.Type == orderTypeLimit && !req.Price.IsPositive() {
		return fmt.Errorf("%w: limit orders need a positive price", ErrInvalidRequest)
	}
	return nil
}

// balanceGuard checks the mirrored available balance against the order.
// The mirror is non-authoritative and possibly stale, so the default is
// to warn and let the venue decide; strict mode blocks submission.
func (g *Gateway) balanceGuard(accountID string, req types.OrderRequest) error {
	asset, required := requiredFunds(req)
	if asset == "" {
		return nil
	}
	available, err := g.db.GetAvailableBalance(accountID, asset)
	if err != nil {
		return err
	}
	if available.GreaterThanOrEqual(required) {
		return nil
	}
	if g.cfg.Current().Gateway.StrictBalanceCheck {
		return fmt.Errorf("%w: need %s %s, mirror shows %s", ErrInsufficientBalance, required, asset, available)
	}
	g.logger.Warn().
		Str("account_id", accountID).
		Str("asset", asset).
		Str("required", required.String()).
		Str("available", available.String()).
		Msg("mirrored balance below order size, deferring to venue")
	return nil
}

// Quote assets recognized when splitting a concatenated pair symbol.
var knownQuotes = []string{"USDT", "USDC", "BUSD", "BTC", "ETH", "EUR", "USD"}

// requiredFunds returns the asset an order spends and how much of it.
// A pair we cannot split, or a market buy with no known price, yields
// no check at all.
func requiredFunds(req types.OrderRequest) (string, decimal.Decimal) {
	base, quote, ok := splitSymbol(req.Symbol)
	if !ok {
		return "", decimal.Zero
	}
	if req.Side == types.SideSell {
		return base, req.Amount
	}
	if req.Type == orderTypeLimit {
		return quote, req.Price.Mul(req.Amount)
	}
	return "", decimal.Zero
}

func splitSymbol(symbol string) (base, quote string, ok bool) {
	for _, q := range knownQuotes {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return strings.TrimSuffix(symbol, q), q, true
		}
	}
	return "", "", false
}

// completeAck fills the fields a venue ack omits from the request that
// produced it.
func completeAck(ack *types.OrderAck, req types.OrderRequest, now time.Time) *types.OrderAck {
	out := *ack
	if out.Symbol == "" {
		out.Symbol = req.Symbol
	}
	if out.Status == "" {
		out.Status = types.StatusNew
	}
	if out.Price.IsZero() {
		out.Price = req.Price
	}
	if out.Quantity.IsZero() {
		out.Quantity = req.Amount
	}
	if out.PlacedAt.IsZero() {
		out.PlacedAt = now
	}
	return &out
}

func placementDetail(req types.OrderRequest, err error) map[string]interface{} {
	return map[string]interface{}{
		"symbol": req.Symbol,
		"side":   req.Side,
		"type":   req.Type,
		"amount": req.Amount,
		"price":  req.Price,
		"bot_id": req.BotID,
		"reason": failureReason(err),
		"error":  err.Error(),
	}
}

func cancellationDetail(err error) map[string]interface{} {
	return map[string]interface{}{
		"reason": failureReason(err),
		"error":  err.Error(),
	}
}
