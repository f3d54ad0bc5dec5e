package connector

import (
	"context"
	"strings"
	"time"

	"github.com/hirokisan/bybit/v2"

	"github.com/quantdesk/mirror-api/internal/config"
	"github.com/quantdesk/mirror-api/internal/types"
)

// BybitConnector adapts the Bybit V5 unified-account REST API through
// github.com/hirokisan/bybit/v2.
type BybitConnector struct {
	client  *bybit.Client
	symbols []string
	guard   guard
}

func NewBybitFactory(cfg config.VenueConfig) Factory {
	return func(creds Credentials) (Connector, error) {
		// The hirokisan client ignores the request context, so the call
		// timeout is enforced on its HTTP transport.
		client := bybit.NewClient().
			WithHTTPClient(venueHTTPClient(cfg.CallTimeout)).
			WithAuth(creds.APIKey, creds.APISecret)
		return &BybitConnector{
			client:  client,
			symbols: creds.Symbols,
			guard:   newGuard(cfg.RequestsPerSecond, cfg.Burst, cfg.CallTimeout),
		}, nil
	}
}

func (c *BybitConnector) Venue() types.VenueID { return types.VenueBybit }

func (c *BybitConnector) FetchAccountInfo(ctx context.Context) (RawPayload, error) {
	var res *bybit.V5GetWalletBalanceResponse
	err := c.guard.call(ctx, types.VenueBybit, "fetch_account_info", func(ctx context.Context) error {
		var err error
		res, err = c.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5("UNIFIED"), nil)
		return err
	})
	if err != nil {
		return RawPayload{}, classifyBybit("fetch_account_info", err)
	}
	return marshalRaw(types.VenueBybit, types.KindAccountInfo, res.Result)
}

func (c *BybitConnector) FetchBalances(ctx context.Context) (RawPayload, error) {
	var res *bybit.V5GetWalletBalanceResponse
	err := c.guard.call(ctx, types.VenueBybit, "fetch_balances", func(ctx context.Context) error {
		var err error
		res, err = c.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5("UNIFIED"), nil)
		return err
	})
	if err != nil {
		return RawPayload{}, classifyBybit("fetch_balances", err)
	}
	return marshalRaw(types.VenueBybit, types.KindBalances, res.Result)
}

func (c *BybitConnector) FetchOrders(ctx context.Context, since time.Time) (RawPayload, error) {
	startTime := int(since.UnixMilli())
	all := make([]bybit.V5GetOrder, 0)
	for _, s := range c.symbols {
		symbol := bybit.SymbolV5(s)
		var res *bybit.V5GetOrdersResponse
		err := c.guard.call(ctx, types.VenueBybit, "fetch_orders", func(ctx context.Context) error {
			var err error
			res, err = c.client.V5().Order().GetHistoryOrders(bybit.V5GetHistoryOrdersParam{
				Category:  bybit.CategoryV5Spot,
				Symbol:    &symbol,
				StartTime: &startTime,
			})
			return err
		})
		if err != nil {
			return RawPayload{}, classifyBybit("fetch_orders", err)
		}
		all = append(all, res.Result.List...)
	}
	return marshalRaw(types.VenueBybit, types.KindOrders, all)
}

func (c *BybitConnector) PlaceOrder(ctx context.Context, req types.OrderRequest) (RawPayload, error) {
	var res *bybit.V5CreateOrderResponse
	err := c.guard.call(ctx, types.VenueBybit, "place_order", func(ctx context.Context) error {
		param := bybit.V5CreateOrderParam{
			Category:  bybit.CategoryV5Spot,
			Symbol:    bybit.SymbolV5(req.Symbol),
			Side:      bybit.Side(bybitCase(string(req.Side))),
			OrderType: bybit.OrderType(bybitCase(req.Type)),
			Qty:       req.Amount.String(),
		}
		if !req.Price.IsZero() {
			price := req.Price.String()
			param.Price = &price
		}
		var err error
		res, err = c.client.V5().Order().CreateOrder(param)
		return err
	})
	if err != nil {
		return RawPayload{}, classifyBybit("place_order", err)
	}
	return marshalRaw(types.VenueBybit, types.KindOrderAck, res.Result)
}

func (c *BybitConnector) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	err := c.guard.call(ctx, types.VenueBybit, "cancel_order", func(ctx context.Context) error {
		_, err := c.client.V5().Order().CancelOrder(bybit.V5CancelOrderParam{
			Category: bybit.CategoryV5Spot,
			Symbol:   bybit.SymbolV5(symbol),
			OrderID:  &venueOrderID,
		})
		return err
	})
	if err != nil {
		return classifyBybit("cancel_order", err)
	}
	return nil
}

func (c *BybitConnector) FetchTicker(ctx context.Context, symbol string) (RawPayload, error) {
	sym := bybit.SymbolV5(symbol)
	var res *bybit.V5GetTickersResponse
	err := c.guard.call(ctx, types.VenueBybit, "fetch_ticker", func(ctx context.Context) error {
		var err error
		res, err = c.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
			Category: bybit.CategoryV5Spot,
			Symbol:   &sym,
		})
		return err
	})
	if err != nil {
		return RawPayload{}, classifyBybit("fetch_ticker", err)
	}
	return marshalRaw(types.VenueBybit, types.KindTicker, res.Result.Spot)
}

func (c *BybitConnector) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) (RawPayload, error) {
	var res *bybit.V5GetKlineResponse
	err := c.guard.call(ctx, types.VenueBybit, "fetch_ohlcv", func(ctx context.Context) error {
		var err error
		res, err = c.client.V5().Market().GetKline(bybit.V5GetKlineParam{
			Category: bybit.CategoryV5Spot,
			Symbol:   bybit.SymbolV5(symbol),
			Interval: bybit.Interval(interval),
			Limit:    &limit,
		})
		return err
	})
	if err != nil {
		return RawPayload{}, classifyBybit("fetch_ohlcv", err)
	}
	return marshalRaw(types.VenueBybit, types.KindOHLCV, res.Result)
}

// bybitCase maps canonical upper-case enums onto Bybit's capitalized
// wire values ("BUY" -> "Buy", "MARKET" -> "Market").
func bybitCase(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// Bybit V5 ret codes worth distinguishing. The SDK surfaces API failures
// as plain errors carrying the ret code and message, so classification
// matches on the code text.
var (
	bybitAuthCodes      = []string{"10003", "10004", "10005", "33004"}
	bybitRateLimitCodes = []string{"10006", "10018"}
)

func classifyBybit(op string, err error) error {
	msg := err.Error()
	for _, code := range bybitRateLimitCodes {
		if strings.Contains(msg, code) {
			return &types.RateLimitedError{Venue: types.VenueBybit, Op: op, Err: err}
		}
	}
	for _, code := range bybitAuthCodes {
		if strings.Contains(msg, code) {
			return &types.AuthenticationError{Venue: types.VenueBybit, Op: op, Err: err}
		}
	}
	if strings.Contains(msg, "retCode") || strings.Contains(msg, "ret_code") {
		return &types.VenueRejectionError{Venue: types.VenueBybit, Op: op, Code: "api", Reason: msg}
	}
	return &types.ConnectivityError{Venue: types.VenueBybit, Op: op, Err: err}
}
