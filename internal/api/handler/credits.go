package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/rnaseq_go_server/internal/api/middleware"
	"github.com/qs3c/rnaseq_go_server/internal/model/dto"
	"github.com/qs3c/rnaseq_go_server/internal/pkg/response"
	"github.com/qs3c/rnaseq_go_server/internal/service"
)

type CreditsHandler struct {
	creditService *service.CreditService
}

func NewCreditsHandler(creditService *service.CreditService) *CreditsHandler {
	return &CreditsHandler{
		creditService: creditService,
	}
}

// GetBalance 获取当前积分余额
// GET /api/v1/user/credits
func (h *CreditsHandler) GetBalance(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	balance, err := h.creditService.GetBalance(userID)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, dto.CreditBalanceResponse{Balance: balance})
}

// ListTransactions 获取积分流水
// GET /api/v1/user/credits/transactions
func (h *CreditsHandler) ListTransactions(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	txns, err := h.creditService.ListTransactions(userID, limit)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	items := make([]dto.CreditTransactionItem, len(txns))
	for i, t := range txns {
		items[i] = dto.CreditTransactionItem{
			ID:           t.ID,
			Type:         t.Type,
			Amount:       t.Amount,
			BalanceAfter: t.BalanceAfter,
			JobID:        t.JobID,
			Reason:       t.Reason,
			CreatedAt:    t.CreatedAt.Format(time.RFC3339),
		}
	}

	response.Success(c, gin.H{"transactions": items})
}
