package normalizer

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/mirror-api/internal/types"
)

// Bybit V5 wire shapes.

type bybitWalletResult struct {
	List []bybitWalletAccount `json:"list"`
}

type bybitWalletAccount struct {
	AccountType string      `json:"accountType"`
	Coin        []bybitCoin `json:"coin"`
}

type bybitCoin struct {
	Coin                string `json:"coin"`
	WalletBalance       string `json:"walletBalance"`
	Locked              string `json:"locked"`
	AvailableToWithdraw string `json:"availableToWithdraw"`
	BorrowAmount        string `json:"borrowAmount"`
}

type bybitOrder struct {
	OrderID     string `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	OrderStatus string `json:"orderStatus"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	CreatedTime string `json:"createdTime"`
	UpdatedTime string `json:"updatedTime"`
}

type bybitTickerResult struct {
	List []bybitTicker `json:"list"`
}

type bybitTicker struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
}

type bybitKlineResult struct {
	Symbol string       `json:"symbol"`
	List   []bybitKline `json:"list"`
}

type bybitKline struct {
	StartTime string `json:"startTime"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
}

type bybitOrderAck struct {
	OrderID string `json:"orderId"`
}

// bybitStatusMap covers the V5 spot order statuses.
var bybitStatusMap = map[string]types.OrderStatus{
	"New":                     types.StatusNew,
	"PartiallyFilled":         types.StatusPartiallyFilled,
	"Filled":                  types.StatusFilled,
	"Cancelled":               types.StatusCanceled,
	"PartiallyFilledCanceled": types.StatusCanceled,
	"Rejected":                types.StatusRejected,
	"Deactivated":             types.StatusExpired,
}

var bybitSideMap = map[string]types.OrderSide{
	"Buy":  types.SideBuy,
	"Sell": types.SideSell,
}

func bybitWalletType(accountType string) types.WalletType {
	switch accountType {
	case "SPOT", "UNIFIED":
		return types.WalletSpot
	case "CONTRACT":
		return types.WalletFutures
	case "FUND":
		return types.WalletFunding
	default:
		return types.WalletOther
	}
}

func parseBybitAccountInfo(raw []byte) (*Canonical, error) {
	var result bybitWalletResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &types.DataShapeError{Venue: types.VenueBybit, Kind: types.KindAccountInfo, Reason: err.Error()}
	}
	if len(result.List) == 0 {
		return nil, &types.DataShapeError{
			Venue: types.VenueBybit, Kind: types.KindAccountInfo,
			Field: "list", Reason: "empty wallet list",
		}
	}
	acct := result.List[0]
	return &Canonical{
		AccountInfo: &types.AccountInfo{
			VenueAccountID: acct.AccountType,
			// The V5 wallet endpoint has no explicit permission flags; a
			// readable unified wallet implies an active trading account.
			CanTrade:    true,
			CanWithdraw: true,
			WalletType:  bybitWalletType(acct.AccountType),
		},
	}, nil
}

func parseBybitBalances(raw []byte) (*Canonical, error) {
	var result bybitWalletResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &types.DataShapeError{Venue: types.VenueBybit, Kind: types.KindBalances, Reason: err.Error()}
	}
	if len(result.List) == 0 {
		return nil, &types.DataShapeError{
			Venue: types.VenueBybit, Kind: types.KindBalances,
			Field: "list", Reason: "empty wallet list",
		}
	}
	out := make([]types.BalanceRecord, 0)
	for _, coin := range result.List[0].Coin {
		if coin.Coin == "" {
			return nil, &types.DataShapeError{
				Venue: types.VenueBybit, Kind: types.KindBalances,
				Field: "coin", Reason: "empty asset symbol",
			}
		}
		total, err := parseDecimal(types.VenueBybit, types.KindBalances, "walletBalance", coin.WalletBalance)
		if err != nil {
			return nil, err
		}
		// Unified accounts report empty strings for fields that do not
		// apply to the coin; the venue documents empty-means-zero.
		locked, err := parseOptionalDecimal(types.VenueBybit, types.KindBalances, "locked", coin.Locked)
		if err != nil {
			return nil, err
		}
		available, err := parseOptionalDecimal(types.VenueBybit, types.KindBalances, "availableToWithdraw", coin.AvailableToWithdraw)
		if err != nil {
			return nil, err
		}
		borrowed, err := parseOptionalDecimal(types.VenueBybit, types.KindBalances, "borrowAmount", coin.BorrowAmount)
		if err != nil {
			return nil, err
		}
		out = append(out, types.BalanceRecord{
			Asset:     coin.Coin,
			Total:     total,
			Available: available,
			InOrder:   locked,
			Frozen:    decimal.Zero,
			Borrowed:  borrowed,
		})
	}
	return &Canonical{Balances: out}, nil
}

func parseBybitOrders(raw []byte) (*Canonical, error) {
	var orders []bybitOrder
	if err := json.Unmarshal(raw, &orders); err != nil {
		return nil, &types.DataShapeError{Venue: types.VenueBybit, Kind: types.KindOrders, Reason: err.Error()}
	}
	out := make([]types.OrderRecord, 0, len(orders))
	var maxObserved time.Time
	for _, o := range orders {
		if o.OrderID == "" {
			return nil, &types.DataShapeError{
				Venue: types.VenueBybit, Kind: types.KindOrders,
				Field: "orderId", Reason: "missing order id",
			}
		}
		status, ok := bybitStatusMap[o.OrderStatus]
		if !ok {
			return nil, &types.DataShapeError{
				Venue: types.VenueBybit, Kind: types.KindOrders,
				Field: "orderStatus", Reason: "unknown status " + o.OrderStatus,
			}
		}
		side, ok := bybitSideMap[o.Side]
		if !ok {
			return nil, &types.DataShapeError{
				Venue: types.VenueBybit, Kind: types.KindOrders,
				Field: "side", Reason: "unknown side " + o.Side,
			}
		}
		price, err := parseOptionalDecimal(types.VenueBybit, types.KindOrders, "price", o.Price)
		if err != nil {
			return nil, err
		}
		qty, err := parseDecimal(types.VenueBybit, types.KindOrders, "qty", o.Qty)
		if err != nil {
			return nil, err
		}
		executed, err := parseOptionalDecimal(types.VenueBybit, types.KindOrders, "cumExecQty", o.CumExecQty)
		if err != nil {
			return nil, err
		}
		placed, err := bybitMillis(types.KindOrders, "createdTime", o.CreatedTime)
		if err != nil {
			return nil, err
		}
		updated, err := bybitMillis(types.KindOrders, "updatedTime", o.UpdatedTime)
		if err != nil {
			return nil, err
		}
		out = append(out, types.OrderRecord{
			VenueOrderID:     o.OrderID,
			Symbol:           o.Symbol,
			Side:             side,
			Type:             o.OrderType,
			Status:           status,
			Price:            price,
			Quantity:         qty,
			ExecutedQuantity: executed,
			PlacedAt:         placed,
			UpdatedAt:        updated,
		})
		maxObserved = laterOf(maxObserved, updated)
	}
	return &Canonical{Orders: out, MaxObservedAt: maxObserved}, nil
}

// bybitMillis parses Bybit's string epoch-millisecond timestamps.
func bybitMillis(kind types.PayloadKind, field, s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, &types.DataShapeError{
			Venue: types.VenueBybit, Kind: kind,
			Field: field, Reason: "not an epoch-millis timestamp: " + s,
		}
	}
	return time.UnixMilli(ms).UTC(), nil
}

func parseBybitTicker(raw []byte) (*Canonical, error) {
	var result bybitTickerResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &types.DataShapeError{Venue: types.VenueBybit, Kind: types.KindTicker, Reason: err.Error()}
	}
	if len(result.List) == 0 {
		return nil, &types.DataShapeError{
			Venue: types.VenueBybit, Kind: types.KindTicker,
			Field: "list", Reason: "empty ticker list",
		}
	}
	price, err := parseDecimal(types.VenueBybit, types.KindTicker, "lastPrice", result.List[0].LastPrice)
	if err != nil {
		return nil, err
	}
	return &Canonical{
		Ticker: &types.Ticker{Symbol: result.List[0].Symbol, Price: price},
	}, nil
}

func parseBybitOHLCV(raw []byte) (*Canonical, error) {
	var result bybitKlineResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &types.DataShapeError{Venue: types.VenueBybit, Kind: types.KindOHLCV, Reason: err.Error()}
	}
	out := make([]types.Candle, 0, len(result.List))
	for _, k := range result.List {
		openTime, err := bybitMillis(types.KindOHLCV, "startTime", k.StartTime)
		if err != nil {
			return nil, err
		}
		open, err := parseDecimal(types.VenueBybit, types.KindOHLCV, "open", k.Open)
		if err != nil {
			return nil, err
		}
		high, err := parseDecimal(types.VenueBybit, types.KindOHLCV, "high", k.High)
		if err != nil {
			return nil, err
		}
		low, err := parseDecimal(types.VenueBybit, types.KindOHLCV, "low", k.Low)
		if err != nil {
			return nil, err
		}
		closePrice, err := parseDecimal(types.VenueBybit, types.KindOHLCV, "close", k.Close)
		if err != nil {
			return nil, err
		}
		volume, err := parseDecimal(types.VenueBybit, types.KindOHLCV, "volume", k.Volume)
		if err != nil {
			return nil, err
		}
		out = append(out, types.Candle{
			Symbol:   result.Symbol,
			OpenTime: openTime,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePrice,
			Volume:   volume,
		})
	}
	return &Canonical{Candles: out}, nil
}

func parseBybitOrderAck(raw []byte) (*Canonical, error) {
	var ack bybitOrderAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, &types.DataShapeError{Venue: types.VenueBybit, Kind: types.KindOrderAck, Reason: err.Error()}
	}
	if ack.OrderID == "" {
		return nil, &types.DataShapeError{
			Venue: types.VenueBybit, Kind: types.KindOrderAck,
			Field: "orderId", Reason: "missing order id",
		}
	}
	// The V5 create-order ack carries only ids; the gateway fills the
	// rest from the request it submitted.
	return &Canonical{
		OrderAck: &types.OrderAck{
			VenueOrderID: ack.OrderID,
			Status:       types.StatusNew,
		},
	}, nil
}
