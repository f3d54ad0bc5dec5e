package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrderStatusCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
		ok   bool
	}{
		{"new to partially filled", StatusNew, StatusPartiallyFilled, true},
		{"new to filled", StatusNew, StatusFilled, true},
		{"new to canceled", StatusNew, StatusCanceled, true},
		{"new to rejected", StatusNew, StatusRejected, true},
		{"partial to filled", StatusPartiallyFilled, StatusFilled, true},
		{"partial to canceled", StatusPartiallyFilled, StatusCanceled, true},
		{"partial to expired", StatusPartiallyFilled, StatusExpired, true},
		{"same status is a no-op", StatusPartiallyFilled, StatusPartiallyFilled, true},
		{"terminal same status is a no-op", StatusFilled, StatusFilled, true},

		{"filled back to new", StatusFilled, StatusNew, false},
		{"filled to canceled", StatusFilled, StatusCanceled, false},
		{"canceled to filled", StatusCanceled, StatusFilled, false},
		{"rejected to new", StatusRejected, StatusNew, false},
		{"expired to partially filled", StatusExpired, StatusPartiallyFilled, false},
		{"partial back to new", StatusPartiallyFilled, StatusNew, false},
		{"unknown target", StatusNew, OrderStatus("SETTLING"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	require.False(t, StatusNew.Terminal())
	require.False(t, StatusPartiallyFilled.Terminal())
	require.True(t, StatusFilled.Terminal())
	require.True(t, StatusCanceled.Terminal())
	require.True(t, StatusRejected.Terminal())
	require.True(t, StatusExpired.Terminal())
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"connectivity", &ConnectivityError{Venue: VenueBinance, Op: "fetch_balances", Err: errors.New("dial timeout")}, true},
		{"rate limited", &RateLimitedError{Venue: VenueBybit, Op: "fetch_orders", Err: errors.New("429")}, true},
		{"wrapped connectivity", fmt.Errorf("sync failed: %w", &ConnectivityError{Venue: VenueMock, Op: "x", Err: errors.New("reset")}), true},
		{"authentication", &AuthenticationError{Venue: VenueBinance, Op: "fetch_balances", Err: errors.New("bad key")}, false},
		{"venue rejection", &VenueRejectionError{Venue: VenueBinance, Op: "place_order", Code: "-2010", Reason: "insufficient balance"}, false},
		{"data shape", &DataShapeError{Venue: VenueBybit, Kind: KindOrders, Field: "qty", Reason: "not a decimal"}, false},
		{"local consistency", &LocalConsistencyError{Entity: "account", Key: "a1", Reason: "unknown"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.retryable, Retryable(tt.err))
		})
	}
}
