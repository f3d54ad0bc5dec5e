package audit

import (
	"github.com/gin-gonic/gin"

	"github.com/quantdesk/mirror-api/pkg/response"
)

// GinHandlers exposes the audit trail read side.
type GinHandlers struct {
	sink *Sink
}

func NewGinHandlers(sink *Sink) *GinHandlers {
	return &GinHandlers{sink: sink}
}

// ListEntriesHandler handles GET requests for the audit trail
func (h *GinHandlers) ListEntriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter EntryFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			response.BadRequest(c, "Invalid query parameters")
			return
		}
		entries, total, err := h.sink.List(filter)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{
			"entries": entries,
			"total":   total,
		})
	}
}
