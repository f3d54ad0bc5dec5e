// Package normalizer maps raw venue payloads onto the canonical schema.
// Normalization is a pure function over the declared support matrix of
// (venue, kind) pairs: a payload either becomes a fully-populated
// canonical record or fails with a DataShapeError. It never returns a
// partially-filled record and never touches the clock, the network or
// the ledger.
package normalizer

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantdesk/mirror-api/internal/types"
)

// Canonical is the typed result of normalizing one raw payload. Exactly
// the fields matching the payload kind are populated.
type Canonical struct {
	AccountInfo *types.AccountInfo
	Balances    []types.BalanceRecord
	Orders      []types.OrderRecord
	Ticker      *types.Ticker
	Candles     []types.Candle
	OrderAck    *types.OrderAck

	// MaxObservedAt is the largest venue timestamp seen in the payload.
	// The reconciliation engine advances the sync cursor to the maximum
	// across all payloads of a successful cycle.
	MaxObservedAt time.Time
}

type matrixKey struct {
	venue types.VenueID
	kind  types.PayloadKind
}

type parseFunc func(raw []byte) (*Canonical, error)

// supportMatrix declares every (venue, kind) pair the normalizer is
// total over. Anything else fails loudly.
var supportMatrix = map[matrixKey]parseFunc{
	{types.VenueBinance, types.KindAccountInfo}: parseBinanceAccountInfo,
	{types.VenueBinance, types.KindBalances}:    parseBinanceBalances,
	{types.VenueBinance, types.KindOrders}:      parseBinanceOrders,
	{types.VenueBinance, types.KindTicker}:      parseBinanceTicker,
	{types.VenueBinance, types.KindOHLCV}:       parseBinanceOHLCV,
	{types.VenueBinance, types.KindOrderAck}:    parseBinanceOrderAck,

	{types.VenueBybit, types.KindAccountInfo}: parseBybitAccountInfo,
	{types.VenueBybit, types.KindBalances}:    parseBybitBalances,
	{types.VenueBybit, types.KindOrders}:      parseBybitOrders,
	{types.VenueBybit, types.KindTicker}:      parseBybitTicker,
	{types.VenueBybit, types.KindOHLCV}:       parseBybitOHLCV,
	{types.VenueBybit, types.KindOrderAck}:    parseBybitOrderAck,

	{types.VenueMock, types.KindAccountInfo}: parseMockAccountInfo,
	{types.VenueMock, types.KindBalances}:    parseMockBalances,
	{types.VenueMock, types.KindOrders}:      parseMockOrders,
	{types.VenueMock, types.KindTicker}:      parseMockTicker,
	{types.VenueMock, types.KindOHLCV}:       parseMockOHLCV,
	{types.VenueMock, types.KindOrderAck}:    parseMockOrderAck,
}

// Normalize converts a raw venue payload into canonical records, or
// fails with a DataShapeError if the (venue, kind) pair is unsupported
// or the payload does not match the venue's declared shape.
func Normalize(venue types.VenueID, kind types.PayloadKind, raw []byte) (*Canonical, error) {
	parse, ok := supportMatrix[matrixKey{venue, kind}]
	if !ok {
		return nil, &types.DataShapeError{
			Venue:  venue,
			Kind:   kind,
			Reason: "unsupported (venue, kind) pair",
		}
	}
	return parse(raw)
}

// Supports reports whether the (venue, kind) pair is in the support
// matrix.
func Supports(venue types.VenueID, kind types.PayloadKind) bool {
	_, ok := supportMatrix[matrixKey{venue, kind}]
	return ok
}

// parseDecimal parses a venue decimal string strictly. Monetary values
// never pass through binary floats.
func parseDecimal(venue types.VenueID, kind types.PayloadKind, field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &types.DataShapeError{
			Venue:  venue,
			Kind:   kind,
			Field:  field,
			Reason: "not a decimal: " + s,
		}
	}
	return d, nil
}

// parseOptionalDecimal treats an absent value as zero. Only used where
// the venue contract documents empty-means-zero.
func parseOptionalDecimal(venue types.VenueID, kind types.PayloadKind, field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return parseDecimal(venue, kind, field, s)
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
