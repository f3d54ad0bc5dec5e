package ledger

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/quantdesk/mirror-api/internal/audit"
	"github.com/quantdesk/mirror-api/pkg/response"
)

// GinHandlers exposes the ledger mirror's account management and read
// side over HTTP.
type GinHandlers struct {
	db   *Database
	sink *audit.Sink
}

func NewGinHandlers(db *Database, sink *audit.Sink) *GinHandlers {
	return &GinHandlers{db: db, sink: sink}
}

// CreateAccountRequest registers a venue account for mirroring. The
// secret itself never crosses this API; only a reference does.
type CreateAccountRequest struct {
	AccountID      string   `json:"account_id" binding:"required"`
	OwnerID        string   `json:"owner_id" binding:"required"`
	Venue          string   `json:"venue" binding:"required"`
	CredentialsRef string   `json:"credentials_ref" binding:"required"`
	Symbols        []string `json:"symbols"`
}

// CreateAccountHandler handles POST requests to register an account
func (h *GinHandlers) CreateAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		existing, err := h.db.GetAccount(req.AccountID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if existing != nil {
			response.Conflict(c, "Account already exists")
			return
		}

		symbols, err := json.Marshal(req.Symbols)
		if err != nil {
			response.BadRequest(c, "Invalid symbol list")
			return
		}
		account := &Account{
			AccountID:      req.AccountID,
			OwnerID:        req.OwnerID,
			Venue:          req.Venue,
			CredentialsRef: req.CredentialsRef,
			Active:         true,
			Symbols:        string(symbols),
		}
		if err := h.db.CreateAccount(account); err != nil {
			response.Handle(c, nil, err)
			return
		}

		h.sink.Emit(audit.KindAccountChange, req.AccountID, "account", req.AccountID, audit.OutcomeSuccess, req)
		response.Success(c, account)
	}
}

// GetAccountHandler handles GET requests for one account
func (h *GinHandlers) GetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := h.db.GetAccount(c.Param("account_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if account == nil {
			response.NotFound(c, "Account not found")
			return
		}
		response.Success(c, account)
	}
}

// DeactivateAccountHandler handles DELETE requests to retire an account
func (h *GinHandlers) DeactivateAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")
		if err := h.db.DeactivateAccount(accountID); err != nil {
			response.Handle(c, nil, err)
			return
		}
		h.sink.Emit(audit.KindAccountChange, accountID, "account", accountID, audit.OutcomeSuccess,
			map[string]string{"change": "deactivated"})
		response.Success(c, gin.H{"account_id": accountID, "active": false})
	}
}

// GetBalancesHandler handles GET requests for every mirrored balance of
// an account
func (h *GinHandlers) GetBalancesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		balances, err := h.db.GetBalances(c.Param("account_id"))
		response.Handle(c, balances, err)
	}
}

// GetBalanceHandler handles GET requests for one asset's available
// balance
func (h *GinHandlers) GetBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")
		asset := c.Param("asset")
		available, err := h.db.GetAvailableBalance(accountID, asset)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{
			"account_id": accountID,
			"asset":      asset,
			"available":  available,
		})
	}
}

// GetOrderHistoryHandler handles GET requests for the paginated order
// history of an account
func (h *GinHandlers) GetOrderHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter OrderFilter
		if err := c.ShouldBindQuery(&filter); err != nil {
			response.BadRequest(c, "Invalid query parameters")
			return
		}
		orders, total, err := h.db.GetOrderHistory(c.Param("account_id"), filter)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{
			"orders": orders,
			"total":  total,
		})
	}
}
