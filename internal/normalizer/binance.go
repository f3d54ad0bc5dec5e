package normalizer

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/mirror-api/internal/types"
)

// Binance spot wire shapes, as serialized by the REST API.

type binanceAccount struct {
	CanTrade    *bool  `json:"canTrade"`
	CanWithdraw *bool  `json:"canWithdraw"`
	UpdateTime  uint64 `json:"updateTime"`
	AccountType string `json:"accountType"`
}

type binanceBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

type binanceOrder struct {
	OrderID          int64  `json:"orderId"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	Type             string `json:"type"`
	Status           string `json:"status"`
	Price            string `json:"price"`
	OrigQuantity     string `json:"origQty"`
	ExecutedQuantity string `json:"executedQty"`
	Time             int64  `json:"time"`
	UpdateTime       int64  `json:"updateTime"`
}

type binancePrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type binanceKline struct {
	OpenTime int64  `json:"openTime"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
}

type binanceOrderAck struct {
	OrderID          int64  `json:"orderId"`
	Symbol           string `json:"symbol"`
	TransactTime     int64  `json:"transactTime"`
	Price            string `json:"price"`
	OrigQuantity     string `json:"origQty"`
	ExecutedQuantity string `json:"executedQty"`
	Status           string `json:"status"`
}

// binanceStatusMap covers every order status Binance spot documents.
var binanceStatusMap = map[string]types.OrderStatus{
	"NEW":              types.StatusNew,
	"PARTIALLY_FILLED": types.StatusPartiallyFilled,
	"FILLED":           types.StatusFilled,
	"CANCELED":         types.StatusCanceled,
	"PENDING_CANCEL":   types.StatusCanceled,
	"REJECTED":         types.StatusRejected,
	"EXPIRED":          types.StatusExpired,
	"EXPIRED_IN_MATCH": types.StatusExpired,
}

func parseBinanceAccountInfo(raw []byte) (*Canonical, error) {
	var acct binanceAccount
	if err := json.Unmarshal(raw, &acct); err != nil {
		return nil, &types.DataShapeError{Venue: types.VenueBinance, Kind: types.KindAccountInfo, Reason: err.Error()}
	}
	if acct.CanTrade == nil || acct.CanWithdraw == nil {
		return nil, &types.DataShapeError{
			Venue: types.VenueBinance, Kind: types.KindAccountInfo,
			Field: "canTrade", Reason: "missing account flags",
		}
	}
	updated := time.UnixMilli(int64(acct.UpdateTime)).UTC()
	return &Canonical{
		AccountInfo: &types.AccountInfo{
			VenueAccountID: acct.AccountType,
			CanTrade:       *acct.CanTrade,
			CanWithdraw:    *acct.CanWithdraw,
			WalletType:     binanceWalletType(acct.AccountType),
			UpdatedAt:      updated,
		},
		MaxObservedAt: updated,
	}, nil
}

func binanceWalletType(accountType string) types.WalletType {
	switch accountType {
	case "SPOT":
		return types.WalletSpot
	case "MARGIN":
		return types.WalletMargin
	case "FUTURES":
		return types.WalletFutures
	case "FUNDING":
		return types.WalletFunding
	default:
		return types.WalletOther
	}
}

func parseBinanceBalances(raw []byte) (*Canonical, error) {
	var balances []binanceBalance
	if err := json.Unmarshal(raw, &balances); err != nil {
		return nil, &types.DataShapeError{Venue: types.VenueBinance, Kind: types.KindBalances, Reason: err.Error()}
	}
	out := make([]types.BalanceRecord, 0, len(balances))
	for _, b := range balances {
		if b.Asset == "" {
			return nil, &types.DataShapeError{
				Venue: types.VenueBinance, Kind: types.KindBalances,
				Field: "asset", Reason: "empty asset symbol",
			}
		}
		free, err := parseDecimal(types.VenueBinance, types.KindBalances, "free", b.Free)
		if err != nil {
			return nil, err
		}
		locked, err := parseDecimal(types.VenueBinance, types.KindBalances, "locked", b.Locked)
		if err != nil {
			return nil, err
		}
		out = append(out, types.BalanceRecord{
			Asset: b.Asset,
			// Binance defines the spot total as free+locked; summing the
			// venue's own components is the venue's contract, not a local
			// derivation.
			Total:     free.Add(locked),
			Available: free,
			InOrder:   locked,
			Frozen:    decimal.Zero,
			Borrowed:  decimal.Zero,
		})
	}
	return &Canonical{Balances: out}, nil
}

func parseBinanceOrders(raw []byte) (*Canonical, error) {
	var orders []binanceOrder
	if err := json.Unmarshal(raw, &orders); err != nil {
		return nil, &types.DataShapeError{Venue: types.VenueBinance, Kind: types.KindOrders, Reason: err.Error()}
	}
	out := make([]types.OrderRecord, 0, len(orders))
	var maxObserved time.Time
	for _, o := range orders {
		rec, err := binanceOrderRecord(o)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
		maxObserved = laterOf(maxObserved, rec.UpdatedAt)
	}
	return &Canonical{Orders: out, MaxObservedAt: maxObserved}, nil
}

func binanceOrderRecord(o binanceOrder) (types.OrderRecord, error) {
	if o.OrderID == 0 {
		return types.OrderRecord{}, &types.DataShapeError{
			Venue: types.VenueBinance, Kind: types.KindOrders,
			Field: "orderId", Reason: "missing order id",
		}
	}
	status, ok := binanceStatusMap[o.Status]
	if !ok {
		return types.OrderRecord{}, &types.DataShapeError{
			Venue: types.VenueBinance, Kind: types.KindOrders,
			Field: "status", Reason: "unknown status " + o.Status,
		}
	}
	side := types.OrderSide(o.Side)
	if side != types.SideBuy && side != types.SideSell {
		return types.OrderRecord{}, &types.DataShapeError{
			Venue: types.VenueBinance, Kind: types.KindOrders,
			Field: "side", Reason: "unknown side " + o.Side,
		}
	}
	price, err := parseDecimal(types.VenueBinance, types.KindOrders, "price", o.Price)
	if err != nil {
		return types.OrderRecord{}, err
	}
	qty, err := parseDecimal(types.VenueBinance, types.KindOrders, "origQty", o.OrigQuantity)
	if err != nil {
		return types.OrderRecord{}, err
	}
	executed, err := parseDecimal(types.VenueBinance, types.KindOrders, "executedQty", o.ExecutedQuantity)
	if err != nil {
		return types.OrderRecord{}, err
	}
	return types.OrderRecord{
		VenueOrderID:     strconv.FormatInt(o.OrderID, 10),
		Symbol:           o.Symbol,
		Side:             side,
		Type:             o.Type,
		Status:           status,
		Price:            price,
		Quantity:         qty,
		ExecutedQuantity: executed,
		PlacedAt:         time.UnixMilli(o.Time).UTC(),
		UpdatedAt:        time.UnixMilli(o.UpdateTime).UTC(),
	}, nil
}

func parseBinanceTicker(raw []byte) (*Canonical, error) {
	var prices []binancePrice
	if err := json.Unmarshal(raw, &prices); err != nil {
		return nil, &types.DataShapeError{Venue: types.VenueBinance, Kind: types.KindTicker, Reason: err.Error()}
	}
	if len(prices) == 0 {
		return nil, &types.DataShapeError{
			Venue: types.VenueBinance, Kind: types.KindTicker,
			Reason: "empty price list",
		}
	}
	price, err := parseDecimal(types.VenueBinance, types.KindTicker, "price", prices[0].Price)
	if err != nil {
		return nil, err
	}
	return &Canonical{
		Ticker: &types.Ticker{Symbol: prices[0].Symbol, Price: price},
	}, nil
}

func parseBinanceOHLCV(raw []byte) (*Canonical, error) {
	var klines []binanceKline
	if err := json.Unmarshal(raw, &klines); err != nil {
		return nil, &types.DataShapeError{Venue: types.VenueBinance, Kind: types.KindOHLCV, Reason: err.Error()}
	}
	out := make([]types.Candle, 0, len(klines))
	for _, k := range klines {
		open, err := parseDecimal(types.VenueBinance, types.KindOHLCV, "open", k.Open)
		if err != nil {
			return nil, err
		}
		high, err := parseDecimal(types.VenueBinance, types.KindOHLCV, "high", k.High)
		if err != nil {
			return nil, err
		}
		low, err := parseDecimal(types.VenueBinance, types.KindOHLCV, "low", k.Low)
		if err != nil {
			return nil, err
		}
		closePrice, err := parseDecimal(types.VenueBinance, types.KindOHLCV, "close", k.Close)
		if err != nil {
			return nil, err
		}
		volume, err := parseDecimal(types.VenueBinance, types.KindOHLCV, "volume", k.Volume)
		if err != nil {
			return nil, err
		}
		out = append(out, types.Candle{
			OpenTime: time.UnixMilli(k.OpenTime).UTC(),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePrice,
			Volume:   volume,
		})
	}
	return &Canonical{Candles: out}, nil
}

func parseBinanceOrderAck(raw []byte) (*Canonical, error) {
	var ack binanceOrderAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, &types.DataShapeError{Venue: types.VenueBinance, Kind: types.KindOrderAck, Reason: err.Error()}
	}
	if ack.OrderID == 0 {
		return nil, &types.DataShapeError{
			Venue: types.VenueBinance, Kind: types.KindOrderAck,
			Field: "orderId", Reason: "missing order id",
		}
	}
	status := types.StatusNew
	if mapped, ok := binanceStatusMap[ack.Status]; ok {
		status = mapped
	}
	price, err := parseOptionalDecimal(types.VenueBinance, types.KindOrderAck, "price", ack.Price)
	if err != nil {
		return nil, err
	}
	qty, err := parseOptionalDecimal(types.VenueBinance, types.KindOrderAck, "origQty", ack.OrigQuantity)
	if err != nil {
		return nil, err
	}
	placed := time.UnixMilli(ack.TransactTime).UTC()
	return &Canonical{
		OrderAck: &types.OrderAck{
			VenueOrderID: strconv.FormatInt(ack.OrderID, 10),
			Symbol:       ack.Symbol,
			Status:       status,
			Price:        price,
			Quantity:     qty,
			PlacedAt:     placed,
		},
		MaxObservedAt: placed,
	}, nil
}
