package connector

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"

	"github.com/quantdesk/mirror-api/internal/config"
	"github.com/quantdesk/mirror-api/internal/types"
)

// BinanceConnector is the reference venue adapter, built over the spot
// REST client of github.com/adshao/go-binance/v2.
type BinanceConnector struct {
	client  *binance.Client
	symbols []string
	guard   guard
}

// NewBinanceFactory returns the registry factory for Binance, with call
// bounds taken from the venue configuration.
func NewBinanceFactory(cfg config.VenueConfig) Factory {
	return func(creds Credentials) (Connector, error) {
		return &BinanceConnector{
			client:  binance.NewClient(creds.APIKey, creds.APISecret),
			symbols: creds.Symbols,
			guard:   newGuard(cfg.RequestsPerSecond, cfg.Burst, cfg.CallTimeout),
		}, nil
	}
}

func (c *BinanceConnector) Venue() types.VenueID { return types.VenueBinance }

func (c *BinanceConnector) FetchAccountInfo(ctx context.Context) (RawPayload, error) {
	var account *binance.Account
	err := c.guard.call(ctx, types.VenueBinance, "fetch_account_info", func(ctx context.Context) error {
		var err error
		account, err = c.client.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return RawPayload{}, classifyBinance("fetch_account_info", err)
	}
	return marshalRaw(types.VenueBinance, types.KindAccountInfo, account)
}

func (c *BinanceConnector) FetchBalances(ctx context.Context) (RawPayload, error) {
	var account *binance.Account
	err := c.guard.call(ctx, types.VenueBinance, "fetch_balances", func(ctx context.Context) error {
		var err error
		account, err = c.client.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return RawPayload{}, classifyBinance("fetch_balances", err)
	}
	return marshalRaw(types.VenueBinance, types.KindBalances, account.Balances)
}

// FetchOrders lists orders since the given time for every tracked
// symbol. Binance cannot list historical orders account-wide, so the
// tracked symbol set drives one call each.
func (c *BinanceConnector) FetchOrders(ctx context.Context, since time.Time) (RawPayload, error) {
	all := make([]*binance.Order, 0)
	for _, symbol := range c.symbols {
		var orders []*binance.Order
		err := c.guard.call(ctx, types.VenueBinance, "fetch_orders", func(ctx context.Context) error {
			var err error
			orders, err = c.client.NewListOrdersService().
				Symbol(symbol).
				StartTime(since.UnixMilli()).
				Do(ctx)
			return err
		})
		if err != nil {
			return RawPayload{}, classifyBinance("fetch_orders", err)
		}
		all = append(all, orders...)
	}
	return marshalRaw(types.VenueBinance, types.KindOrders, all)
}

func (c *BinanceConnector) PlaceOrder(ctx context.Context, req types.OrderRequest) (RawPayload, error) {
	var resp *binance.CreateOrderResponse
	err := c.guard.call(ctx, types.VenueBinance, "place_order", func(ctx context.Context) error {
		svc := c.client.NewCreateOrderService().
			Symbol(req.Symbol).
			Side(binance.SideType(req.Side)).
			Type(binance.OrderType(req.Type)).
			Quantity(req.Amount.String())
		if binance.OrderType(req.Type) == binance.OrderTypeLimit {
			svc = svc.Price(req.Price.String()).TimeInForce(binance.TimeInForceTypeGTC)
		}
		var err error
		resp, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return RawPayload{}, classifyBinance("place_order", err)
	}
	return marshalRaw(types.VenueBinance, types.KindOrderAck, resp)
}

func (c *BinanceConnector) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	orderID, err := strconv.ParseInt(venueOrderID, 10, 64)
	if err != nil {
		return &types.VenueRejectionError{
			Venue:  types.VenueBinance,
			Op:     "cancel_order",
			Code:   "local",
			Reason: "binance order ids are numeric: " + venueOrderID,
		}
	}
	err = c.guard.call(ctx, types.VenueBinance, "cancel_order", func(ctx context.Context) error {
		_, err := c.client.NewCancelOrderService().
			Symbol(symbol).
			OrderID(orderID).
			Do(ctx)
		return err
	})
	if err != nil {
		return classifyBinance("cancel_order", err)
	}
	return nil
}

func (c *BinanceConnector) FetchTicker(ctx context.Context, symbol string) (RawPayload, error) {
	var prices []*binance.SymbolPrice
	err := c.guard.call(ctx, types.VenueBinance, "fetch_ticker", func(ctx context.Context) error {
		var err error
		prices, err = c.client.NewListPricesService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return RawPayload{}, classifyBinance("fetch_ticker", err)
	}
	return marshalRaw(types.VenueBinance, types.KindTicker, prices)
}

func (c *BinanceConnector) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) (RawPayload, error) {
	var klines []*binance.Kline
	err := c.guard.call(ctx, types.VenueBinance, "fetch_ohlcv", func(ctx context.Context) error {
		var err error
		klines, err = c.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
		return err
	})
	if err != nil {
		return RawPayload{}, classifyBinance("fetch_ohlcv", err)
	}
	return marshalRaw(types.VenueBinance, types.KindOHLCV, klines)
}

// marshalRaw re-serializes an SDK response so downstream code sees the
// venue wire shape, not SDK types.
func marshalRaw(venue types.VenueID, kind types.PayloadKind, v interface{}) (RawPayload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return RawPayload{}, errors.Wrapf(err, "failed to serialize %s payload from %s", kind, venue)
	}
	return RawPayload{Venue: venue, Kind: kind, Data: data}, nil
}

// Binance API error codes that map onto the failure taxonomy. Everything
// the venue said with an unrecognized code is a rejection of this
// request; everything it did not say is a connectivity failure.
var (
	binanceRateLimitCodes = map[int64]bool{
		-1003: true, // TOO_MANY_REQUESTS
		-1015: true, // TOO_MANY_ORDERS
	}
	binanceAuthCodes = map[int64]bool{
		-1002: true, // UNAUTHORIZED
		-1022: true, // INVALID_SIGNATURE
		-2014: true, // BAD_API_KEY_FMT
		-2015: true, // REJECTED_API_KEY
	}
)

func classifyBinance(op string, err error) error {
	if apiErr, ok := err.(*common.APIError); ok {
		switch {
		case binanceRateLimitCodes[apiErr.Code]:
			return &types.RateLimitedError{Venue: types.VenueBinance, Op: op, Err: err}
		case binanceAuthCodes[apiErr.Code]:
			return &types.AuthenticationError{Venue: types.VenueBinance, Op: op, Err: err}
		default:
			return &types.VenueRejectionError{
				Venue:  types.VenueBinance,
				Op:     op,
				Code:   strconv.FormatInt(apiErr.Code, 10),
				Reason: apiErr.Message,
			}
		}
	}
	return &types.ConnectivityError{Venue: types.VenueBinance, Op: op, Err: err}
}
