package connector

import (
	"errors"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/mirror-api/internal/types"
)

func TestClassifyBinance(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want interface{}
	}{
		{"too many requests", &common.APIError{Code: -1003, Message: "Too many requests."}, &types.RateLimitedError{}},
		{"too many orders", &common.APIError{Code: -1015, Message: "Too many new orders."}, &types.RateLimitedError{}},
		{"unauthorized", &common.APIError{Code: -1002, Message: "You are not authorized."}, &types.AuthenticationError{}},
		{"bad signature", &common.APIError{Code: -1022, Message: "Signature for this request is not valid."}, &types.AuthenticationError{}},
		{"bad key format", &common.APIError{Code: -2014, Message: "API-key format invalid."}, &types.AuthenticationError{}},
		{"rejected key", &common.APIError{Code: -2015, Message: "Invalid API-key, IP, or permissions."}, &types.AuthenticationError{}},
		{"insufficient balance", &common.APIError{Code: -2010, Message: "Account has insufficient balance."}, &types.VenueRejectionError{}},
		{"transport failure", errors.New("connection reset by peer"), &types.ConnectivityError{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyBinance("place_order", tt.err)
			switch tt.want.(type) {
			case *types.RateLimitedError:
				var e *types.RateLimitedError
				require.ErrorAs(t, got, &e)
				require.Equal(t, types.VenueBinance, e.Venue)
			case *types.AuthenticationError:
				var e *types.AuthenticationError
				require.ErrorAs(t, got, &e)
			case *types.VenueRejectionError:
				var e *types.VenueRejectionError
				require.ErrorAs(t, got, &e)
				require.Equal(t, "-2010", e.Code)
			case *types.ConnectivityError:
				var e *types.ConnectivityError
				require.ErrorAs(t, got, &e)
			}
		})
	}
}

func TestClassifyBinanceRetryability(t *testing.T) {
	require.True(t, types.Retryable(classifyBinance("x", &common.APIError{Code: -1003})))
	require.False(t, types.Retryable(classifyBinance("x", &common.APIError{Code: -2010})))
	require.True(t, types.Retryable(classifyBinance("x", errors.New("timeout"))))
}

func TestClassifyBybit(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want interface{}
	}{
		{"invalid api key", errors.New("retCode: 10003, retMsg: API key is invalid"), &types.AuthenticationError{}},
		{"signature error", errors.New("retCode: 10004, retMsg: error sign"), &types.AuthenticationError{}},
		{"permission denied", errors.New("retCode: 10005, retMsg: Permission denied"), &types.AuthenticationError{}},
		{"api key expired", errors.New("retCode: 33004, retMsg: apikey already expired"), &types.AuthenticationError{}},
		{"too many visits", errors.New("retCode: 10006, retMsg: Too many visits"), &types.RateLimitedError{}},
		{"ip rate limit", errors.New("retCode: 10018, retMsg: exceeded IP rate limit"), &types.RateLimitedError{}},
		{"order rejection", errors.New("retCode: 170131, retMsg: Insufficient balance"), &types.VenueRejectionError{}},
		{"transport failure", errors.New("dial tcp: i/o timeout"), &types.ConnectivityError{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyBybit("place_order", tt.err)
			switch tt.want.(type) {
			case *types.RateLimitedError:
				var e *types.RateLimitedError
				require.ErrorAs(t, got, &e)
				require.Equal(t, types.VenueBybit, e.Venue)
			case *types.AuthenticationError:
				var e *types.AuthenticationError
				require.ErrorAs(t, got, &e)
			case *types.VenueRejectionError:
				var e *types.VenueRejectionError
				require.ErrorAs(t, got, &e)
			case *types.ConnectivityError:
				var e *types.ConnectivityError
				require.ErrorAs(t, got, &e)
			}
		})
	}
}

func TestBybitCase(t *testing.T) {
	require.Equal(t, "Buy", bybitCase("BUY"))
	require.Equal(t, "Sell", bybitCase("SELL"))
	require.Equal(t, "Market", bybitCase("MARKET"))
	require.Equal(t, "Limit", bybitCase("Limit"))
	require.Equal(t, "", bybitCase(""))
}

func TestVenueHTTPClientCarriesCallTimeout(t *testing.T) {
	require.Equal(t, 5*time.Second, venueHTTPClient(5*time.Second).Timeout)

	// An unset timeout still bounds the call.
	require.Equal(t, 10*time.Second, venueHTTPClient(0).Timeout)
}

func TestEnvCredentialSource(t *testing.T) {
	t.Setenv("BINANCE_MAIN_API_KEY", "key-1")
	t.Setenv("BINANCE_MAIN_API_SECRET", "secret-1")

	source := EnvCredentialSource{}
	creds, err := source.Resolve("binance-main")
	require.NoError(t, err)
	require.Equal(t, "key-1", creds.APIKey)
	require.Equal(t, "secret-1", creds.APISecret)

	_, err = source.Resolve("missing-ref")
	require.Error(t, err)
}
