package normalizer

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/mirror-api/internal/types"
)

// Mock venue wire shapes, mirroring internal/connector's scriptable
// venue. Declared again here on purpose: the normalizer owns its wire
// contracts and decodes them independently of whoever produced the
// bytes.

type mockBalance struct {
	Coin   string `json:"coin"`
	Total  string `json:"total"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
	Frozen string `json:"frozen"`
	Loan   string `json:"loan"`
}

type mockOrder struct {
	ID        string `json:"id"`
	Sym       string `json:"sym"`
	Side      string `json:"side"`
	Kind      string `json:"kind"`
	State     string `json:"state"`
	Px        string `json:"px"`
	Qty       string `json:"qty"`
	Filled    string `json:"filled"`
	CreatedMS int64  `json:"created_ms"`
	UpdatedMS int64  `json:"updated_ms"`
}

type mockAccountInfo struct {
	AccountID string `json:"account_id"`
	Trading   bool   `json:"trading"`
	Withdraw  bool   `json:"withdraw"`
	TSMS      int64  `json:"ts_ms"`
}

type mockTicker struct {
	Sym  string `json:"sym"`
	Last string `json:"last"`
	TSMS int64  `json:"ts_ms"`
}

type mockCandle struct {
	Sym    string `json:"sym"`
	OpenMS int64  `json:"open_ms"`
	O      string `json:"o"`
	H      string `json:"h"`
	L      string `json:"l"`
	C      string `json:"c"`
	V      string `json:"v"`
}

var mockStateMap = map[string]types.OrderStatus{
	"open":      types.StatusNew,
	"partial":   types.StatusPartiallyFilled,
	"done":      types.StatusFilled,
	"cancelled": types.StatusCanceled,
	"rejected":  types.StatusRejected,
	"expired":   types.StatusExpired,
}

func parseMockAccountInfo(raw []byte) (*Canonical, error) {
	var info mockAccountInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, &types.DataShapeError{Venue: types.VenueMock, Kind: types.KindAccountInfo, Reason: err.Error()}
	}
	if info.AccountID == "" {
		return nil, &types.DataShapeError{
			Venue: types.VenueMock, Kind: types.KindAccountInfo,
			Field: "account_id", Reason: "missing account id",
		}
	}
	updated := time.UnixMilli(info.TSMS).UTC()
	return &Canonical{
		AccountInfo: &types.AccountInfo{
			VenueAccountID: info.AccountID,
			CanTrade:       info.Trading,
			CanWithdraw:    info.Withdraw,
			WalletType:     types.WalletSpot,
			UpdatedAt:      updated,
		},
		MaxObservedAt: updated,
	}, nil
}

func parseMockBalances(raw []byte) (*Canonical, error) {
	var balances []mockBalance
	if err := json.Unmarshal(raw, &balances); err != nil {
		return nil, &types.DataShapeError{Venue: types.VenueMock, Kind: types.KindBalances, Reason: err.Error()}
	}
	out := make([]types.BalanceRecord, 0, len(balances))
	for _, b := range balances {
		if b.Coin == "" {
			return nil, &types.DataShapeError{
				Venue: types.VenueMock, Kind: types.KindBalances,
				Field: "coin", Reason: "empty asset symbol",
			}
		}
		total, err := parseDecimal(types.VenueMock, types.KindBalances, "total", b.Total)
		if err != nil {
			return nil, err
		}
		free, err := parseDecimal(types.VenueMock, types.KindBalances, "free", b.Free)
		if err != nil {
			return nil, err
		}
		locked, err := parseOptionalDecimal(types.VenueMock, types.KindBalances, "locked", b.Locked)
		if err != nil {
			return nil, err
		}
		frozen, err := parseOptionalDecimal(types.VenueMock, types.KindBalances, "frozen", b.Frozen)
		if err != nil {
			return nil, err
		}
		loan, err := parseOptionalDecimal(types.VenueMock, types.KindBalances, "loan", b.Loan)
		if err != nil {
			return nil, err
		}
		out = append(out, types.BalanceRecord{
			Asset:     b.Coin,
			Total:     total,
			Available: free,
			InOrder:   locked,
			Frozen:    frozen,
			Borrowed:  loan,
		})
	}
	return &Canonical{Balances: out}, nil
}

func parseMockOrders(raw []byte) (*Canonical, error) {
	var orders []mockOrder
	if err := json.Unmarshal(raw, &orders); err != nil {
		return nil, &types.DataShapeError{Venue: types.VenueMock, Kind: types.KindOrders, Reason: err.Error()}
	}
	out := make([]types.OrderRecord, 0, len(orders))
	var maxObserved time.Time
	for _, o := range orders {
		rec, err := mockOrderRecord(o)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
		maxObserved = laterOf(maxObserved, rec.UpdatedAt)
	}
	return &Canonical{Orders: out, MaxObservedAt: maxObserved}, nil
}

func mockOrderRecord(o mockOrder) (types.OrderRecord, error) {
	if o.ID == "" {
		return types.OrderRecord{}, &types.DataShapeError{
			Venue: types.VenueMock, Kind: types.KindOrders,
			Field: "id", Reason: "missing order id",
		}
	}
	status, ok := mockStateMap[o.State]
	if !ok {
		return types.OrderRecord{}, &types.DataShapeError{
			Venue: types.VenueMock, Kind: types.KindOrders,
			Field: "state", Reason: "unknown state " + o.State,
		}
	}
	side := types.OrderSide(o.Side)
	if side != types.SideBuy && side != types.SideSell {
		return types.OrderRecord{}, &types.DataShapeError{
			Venue: types.VenueMock, Kind: types.KindOrders,
			Field: "side", Reason: "unknown side " + o.Side,
		}
	}
	price, err := parseOptionalDecimal(types.VenueMock, types.KindOrders, "px", o.Px)
	if err != nil {
		return types.OrderRecord{}, err
	}
	qty, err := parseDecimal(types.VenueMock, types.KindOrders, "qty", o.Qty)
	if err != nil {
		return types.OrderRecord{}, err
	}
	filled, err := parseOptionalDecimal(types.VenueMock, types.KindOrders, "filled", o.Filled)
	if err != nil {
		return types.OrderRecord{}, err
	}
	return types.OrderRecord{
		VenueOrderID:     o.ID,
		Symbol:           o.Sym,
		Side:             side,
		Type:             o.Kind,
		Status:           status,
		Price:            price,
		Quantity:         qty,
		ExecutedQuantity: filled,
		PlacedAt:         time.UnixMilli(o.CreatedMS).UTC(),
		UpdatedAt:        time.UnixMilli(o.UpdatedMS).UTC(),
	}, nil
}

func parseMockTicker(raw []byte) (*Canonical, error) {
	var t mockTicker
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, &types.DataShapeError{Venue: types.VenueMock, Kind: types.KindTicker, Reason: err.Error()}
	}
	price, err := parseDecimal(types.VenueMock, types.KindTicker, "last", t.Last)
	if err != nil {
		return nil, err
	}
	return &Canonical{
		Ticker: &types.Ticker{
			Symbol:    t.Sym,
			Price:     price,
			FetchedAt: time.UnixMilli(t.TSMS).UTC(),
		},
	}, nil
}

func parseMockOHLCV(raw []byte) (*Canonical, error) {
	var candles []mockCandle
	if err := json.Unmarshal(raw, &candles); err != nil {
		return nil, &types.DataShapeError{Venue: types.VenueMock, Kind: types.KindOHLCV, Reason: err.Error()}
	}
	out := make([]types.Candle, 0, len(candles))
	for _, k := range candles {
		fields := map[string]string{"o": k.O, "h": k.H, "l": k.L, "c": k.C, "v": k.V}
		parsed := make(map[string]decimal.Decimal, len(fields))
		for name, value := range fields {
			d, err := parseDecimal(types.VenueMock, types.KindOHLCV, name, value)
			if err != nil {
				return nil, err
			}
			parsed[name] = d
		}
		out = append(out, types.Candle{
			Symbol:   k.Sym,
			OpenTime: time.UnixMilli(k.OpenMS).UTC(),
			Open:     parsed["o"],
			High:     parsed["h"],
			Low:      parsed["l"],
			Close:    parsed["c"],
			Volume:   parsed["v"],
		})
	}
	return &Canonical{Candles: out}, nil
}

func parseMockOrderAck(raw []byte) (*Canonical, error) {
	var o mockOrder
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, &types.DataShapeError{Venue: types.VenueMock, Kind: types.KindOrderAck, Reason: err.Error()}
	}
	rec, err := mockOrderRecord(o)
	if err != nil {
		return nil, err
	}
	return &Canonical{
		OrderAck: &types.OrderAck{
			VenueOrderID: rec.VenueOrderID,
			Symbol:       rec.Symbol,
			Status:       rec.Status,
			Price:        rec.Price,
			Quantity:     rec.Quantity,
			PlacedAt:     rec.PlacedAt,
		},
		MaxObservedAt: rec.UpdatedAt,
	}, nil
}
