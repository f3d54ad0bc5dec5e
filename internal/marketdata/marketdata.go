// Package marketdata serves last-price and OHLCV lookups straight off
// the venues' public endpoints, through the same connector and
// normalizer path the sync cycle uses. Nothing here touches the ledger.
package marketdata

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantdesk/mirror-api/internal/connector"
	"github.com/quantdesk/mirror-api/internal/normalizer"
	"github.com/quantdesk/mirror-api/internal/types"
	"github.com/quantdesk/mirror-api/pkg/response"
)

type Service struct {
	registry *connector.Registry
	logger   zerolog.Logger
}

func NewService(registry *connector.Registry) *Service {
	return &Service{
		registry: registry,
		logger:   log.With().Str("service", "marketdata").Logger(),
	}
}

// Ticker fetches and normalizes the last price for one symbol. Public
// endpoint, so the connector is built without credentials.
func (s *Service) Ticker(ctx context.Context, venue types.VenueID, symbol string) (*types.Ticker, error) {
	conn, err := s.registry.Connect(venue, connector.Credentials{})
	if err != nil {
		return nil, err
	}
	raw, err := conn.FetchTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	canonical, err := normalizer.Normalize(raw.Venue, raw.Kind, raw.Data)
	if err != nil {
		return nil, err
	}
	ticker := canonical.Ticker
	if ticker.FetchedAt.IsZero() {
		ticker.FetchedAt = time.Now().UTC()
	}
	return ticker, nil
}

// OHLCV fetches and normalizes candles for one symbol.
func (s *Service) OHLCV(ctx context.Context, venue types.VenueID, symbol, interval string, limit int) ([]types.Candle, error) {
	conn, err := s.registry.Connect(venue, connector.Credentials{})
	if err != nil {
		return nil, err
	}
	raw, err := conn.FetchOHLCV(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	canonical, err := normalizer.Normalize(raw.Venue, raw.Kind, raw.Data)
	if err != nil {
		return nil, err
	}
	return canonical.Candles, nil
}

// GinHandlers exposes market data lookups over HTTP.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetTickerHandler handles GET requests for a symbol's last price
func (h *GinHandlers) GetTickerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		venue := types.VenueID(c.Param("venue"))
		ticker, err := h.service.Ticker(c.Request.Context(), venue, c.Param("symbol"))
		response.Handle(c, ticker, err)
	}
}

// GetOHLCVHandler handles GET requests for a symbol's candles
func (h *GinHandlers) GetOHLCVHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		venue := types.VenueID(c.Param("venue"))
		interval := c.DefaultQuery("interval", "1m")
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
		if err != nil || limit < 1 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		candles, err := h.service.OHLCV(c.Request.Context(), venue, c.Param("symbol"), interval, limit)
		response.Handle(c, candles, err)
	}
}
