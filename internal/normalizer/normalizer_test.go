package normalizer

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/mirror-api/internal/types"
)

func TestNormalizeBinanceOHLCV(t *testing.T) {
	raw := []byte(`[
		{"openTime":1700000000000,"open":"34250.10","high":"34310.55","low":"34198.00","close":"34301.12","volume":"128.04310000"},
		{"openTime":1700000060000,"open":"34301.12","high":"34355.00","low":"34290.01","close":"34344.90","volume":"96.11020000"}
	]`)

	c, err := Normalize(types.VenueBinance, types.KindOHLCV, raw)
	require.NoError(t, err)
	require.Len(t, c.Candles, 2)

	first := c.Candles[0]
	require.Equal(t, time.UnixMilli(1700000000000).UTC(), first.OpenTime)
	require.True(t, first.Open.Equal(decimal.RequireFromString("34250.10")))
	require.True(t, first.High.Equal(decimal.RequireFromString("34310.55")))
	require.True(t, first.Low.Equal(decimal.RequireFromString("34198.00")))
	require.True(t, first.Close.Equal(decimal.RequireFromString("34301.12")))
	require.True(t, first.Volume.Equal(decimal.RequireFromString("128.0431")))

	// Values survive exactly; no binary-float artifacts.
	require.True(t, first.High.Sub(first.Low).Equal(decimal.RequireFromString("112.55")))
}

func TestNormalizeBinanceBalances(t *testing.T) {
	raw := []byte(`[
		{"asset":"BTC","free":"0.5","locked":"0.1"},
		{"asset":"USDT","free":"1000","locked":"0"}
	]`)

	c, err := Normalize(types.VenueBinance, types.KindBalances, raw)
	require.NoError(t, err)
	require.Len(t, c.Balances, 2)

	btc := c.Balances[0]
	require.Equal(t, "BTC", btc.Asset)
	require.True(t, btc.Total.Equal(decimal.RequireFromString("0.6")))
	require.True(t, btc.Available.Equal(decimal.RequireFromString("0.5")))
	require.True(t, btc.InOrder.Equal(decimal.RequireFromString("0.1")))
	require.True(t, btc.Borrowed.IsZero())
}

func TestNormalizeBinanceOrders(t *testing.T) {
	raw := []byte(`[
		{"orderId":12345,"symbol":"BTCUSDT","side":"BUY","type":"LIMIT","status":"PARTIALLY_FILLED",
		 "price":"34000.00","origQty":"1.0","executedQty":"0.4","time":1700000000000,"updateTime":1700000100000},
		{"orderId":12346,"symbol":"ETHUSDT","side":"SELL","type":"MARKET","status":"FILLED",
		 "price":"0.00000000","origQty":"2.0","executedQty":"2.0","time":1700000200000,"updateTime":1700000300000}
	]`)

	c, err := Normalize(types.VenueBinance, types.KindOrders, raw)
	require.NoError(t, err)
	require.Len(t, c.Orders, 2)

	first := c.Orders[0]
	require.Equal(t, "12345", first.VenueOrderID)
	require.Equal(t, types.SideBuy, first.Side)
	require.Equal(t, types.StatusPartiallyFilled, first.Status)
	require.True(t, first.ExecutedQuantity.Equal(decimal.RequireFromString("0.4")))

	// The cursor candidate is the largest update time in the payload.
	require.Equal(t, time.UnixMilli(1700000300000).UTC(), c.MaxObservedAt)
}

func TestNormalizeBinanceStatusMapping(t *testing.T) {
	tests := []struct {
		venueStatus string
		want        types.OrderStatus
	}{
		{"NEW", types.StatusNew},
		{"PARTIALLY_FILLED", types.StatusPartiallyFilled},
		{"FILLED", types.StatusFilled},
		{"CANCELED", types.StatusCanceled},
		{"PENDING_CANCEL", types.StatusCanceled},
		{"REJECTED", types.StatusRejected},
		{"EXPIRED", types.StatusExpired},
		{"EXPIRED_IN_MATCH", types.StatusExpired},
	}
	for _, tt := range tests {
		t.Run(tt.venueStatus, func(t *testing.T) {
			require.Equal(t, tt.want, binanceStatusMap[tt.venueStatus])
		})
	}
}

func TestNormalizeBybitBalances(t *testing.T) {
	raw := []byte(`{"list":[{"accountType":"UNIFIED","coin":[
		{"coin":"USDT","walletBalance":"1500.25","locked":"100","availableToWithdraw":"1400.25","borrowAmount":"0"},
		{"coin":"BTC","walletBalance":"0.75","locked":"","availableToWithdraw":"0.75","borrowAmount":""}
	]}]}`)

	c, err := Normalize(types.VenueBybit, types.KindBalances, raw)
	require.NoError(t, err)
	require.Len(t, c.Balances, 2)

	usdt := c.Balances[0]
	require.True(t, usdt.Total.Equal(decimal.RequireFromString("1500.25")))
	require.True(t, usdt.InOrder.Equal(decimal.RequireFromString("100")))

	// Empty strings are documented empty-means-zero for unified accounts.
	btc := c.Balances[1]
	require.True(t, btc.InOrder.IsZero())
	require.True(t, btc.Borrowed.IsZero())
}

func TestNormalizeBybitOrders(t *testing.T) {
	raw := []byte(`[
		{"orderId":"ord-1","symbol":"BTCUSDT","side":"Buy","orderType":"Limit","orderStatus":"PartiallyFilledCanceled",
		 "price":"64000","qty":"0.5","cumExecQty":"0.2","createdTime":"1700000000000","updatedTime":"1700000500000"}
	]`)

	c, err := Normalize(types.VenueBybit, types.KindOrders, raw)
	require.NoError(t, err)
	require.Len(t, c.Orders, 1)
	require.Equal(t, types.StatusCanceled, c.Orders[0].Status)
	require.Equal(t, types.SideBuy, c.Orders[0].Side)
	require.Equal(t, time.UnixMilli(1700000500000).UTC(), c.MaxObservedAt)
}

func TestNormalizeMockOrders(t *testing.T) {
	raw := []byte(`[
		{"id":"1001","sym":"BTCUSDT","side":"BUY","kind":"LIMIT","state":"partial",
		 "px":"64000","qty":"1","filled":"0.25","created_ms":1700000000000,"updated_ms":1700000100000}
	]`)

	c, err := Normalize(types.VenueMock, types.KindOrders, raw)
	require.NoError(t, err)
	require.Len(t, c.Orders, 1)
	require.Equal(t, types.StatusPartiallyFilled, c.Orders[0].Status)
	require.True(t, c.Orders[0].ExecutedQuantity.Equal(decimal.RequireFromString("0.25")))
}

func TestNormalizeRejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name  string
		venue types.VenueID
		kind  types.PayloadKind
		raw   string
	}{
		{"not json", types.VenueBinance, types.KindBalances, `{{`},
		{"binance balance missing asset", types.VenueBinance, types.KindBalances, `[{"free":"1","locked":"0"}]`},
		{"binance non-decimal free", types.VenueBinance, types.KindBalances, `[{"asset":"BTC","free":"abc","locked":"0"}]`},
		{"binance unknown status", types.VenueBinance, types.KindOrders,
			`[{"orderId":1,"symbol":"BTCUSDT","side":"BUY","type":"LIMIT","status":"SETTLING","price":"1","origQty":"1","executedQty":"0","time":1,"updateTime":1}]`},
		{"binance missing order id", types.VenueBinance, types.KindOrders,
			`[{"symbol":"BTCUSDT","side":"BUY","type":"LIMIT","status":"NEW","price":"1","origQty":"1","executedQty":"0","time":1,"updateTime":1}]`},
		{"bybit unknown side", types.VenueBybit, types.KindOrders,
			`[{"orderId":"o1","symbol":"BTCUSDT","side":"Long","orderType":"Limit","orderStatus":"New","price":"1","qty":"1","cumExecQty":"0","createdTime":"1","updatedTime":"1"}]`},
		{"bybit bad timestamp", types.VenueBybit, types.KindOrders,
			`[{"orderId":"o1","symbol":"BTCUSDT","side":"Buy","orderType":"Limit","orderStatus":"New","price":"1","qty":"1","cumExecQty":"0","createdTime":"yesterday","updatedTime":"1"}]`},
		{"bybit empty wallet list", types.VenueBybit, types.KindBalances, `{"list":[]}`},
		{"mock unknown state", types.VenueMock, types.KindOrders,
			`[{"id":"1","sym":"X","side":"BUY","kind":"LIMIT","state":"limbo","px":"1","qty":"1","filled":"0","created_ms":1,"updated_ms":1}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.venue, tt.kind, []byte(tt.raw))
			require.Error(t, err)
			var shapeErr *types.DataShapeError
			require.ErrorAs(t, err, &shapeErr)
		})
	}
}

func TestNormalizeUnsupportedPair(t *testing.T) {
	_, err := Normalize(types.VenueID("kraken"), types.KindBalances, []byte(`[]`))
	require.Error(t, err)
	var shapeErr *types.DataShapeError
	require.ErrorAs(t, err, &shapeErr)

	require.False(t, Supports(types.VenueID("kraken"), types.KindBalances))
	require.True(t, Supports(types.VenueBinance, types.KindBalances))
}

func TestSupportMatrixIsTotalPerVenue(t *testing.T) {
	kinds := []types.PayloadKind{
		types.KindAccountInfo, types.KindBalances, types.KindOrders,
		types.KindTicker, types.KindOHLCV, types.KindOrderAck,
	}
	venues := []types.VenueID{types.VenueBinance, types.VenueBybit, types.VenueMock}
	for _, venue := range venues {
		for _, kind := range kinds {
			require.True(t, Supports(venue, kind), "%s/%s missing from support matrix", venue, kind)
		}
	}
}
