package jobs

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/quantdesk/mirror-api/internal/types"
	"github.com/quantdesk/mirror-api/pkg/response"
)

// GinHandlers exposes job submission and inspection over HTTP. Every
// venue-touching operation is asynchronous: the caller gets a job
// handle back and polls it.
type GinHandlers struct {
	dispatcher *Dispatcher
}

func NewGinHandlers(dispatcher *Dispatcher) *GinHandlers {
	return &GinHandlers{dispatcher: dispatcher}
}

// PlaceOrderRequest wraps the order body with the account it targets.
type PlaceOrderRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	types.OrderRequest
}

// SyncAccountHandler handles POST requests to queue a sync attempt
func (h *GinHandlers) SyncAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		handle, err := h.dispatcher.SubmitAccountSync(c.Param("account_id"))
		if err != nil {
			handleSubmitError(c, err)
			return
		}
		response.Accepted(c, handle)
	}
}

// PlaceOrderHandler handles POST requests to queue an order placement
func (h *GinHandlers) PlaceOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PlaceOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
		handle, err := h.dispatcher.SubmitOrderPlacement(req.AccountID, req.OrderRequest)
		if err != nil {
			handleSubmitError(c, err)
			return
		}
		response.Accepted(c, handle)
	}
}

// CancelOrderHandler handles DELETE requests to queue a cancellation
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Query("account_id")
		if accountID == "" {
			response.BadRequest(c, "account_id query parameter is required")
			return
		}
		handle, err := h.dispatcher.SubmitOrderCancellation(accountID, c.Param("venue_order_id"))
		if err != nil {
			handleSubmitError(c, err)
			return
		}
		response.Accepted(c, handle)
	}
}

// JobStatusHandler handles GET requests for a job's progress
func (h *GinHandlers) JobStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := h.dispatcher.Status(c.Param("job_id"))
		if status == nil {
			response.NotFound(c, "Job not found")
			return
		}
		response.Success(c, status)
	}
}

func handleSubmitError(c *gin.Context, err error) {
	if errors.Is(err, ErrQueueFull) {
		response.TooManyRequests(c, err.Error())
		return
	}
	response.Handle(c, nil, err)
}
