package handler

import (
	"custodial-ledger/internal/adapter/http/dto"
	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/pkg/apperror"
	"custodial-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const defaultTransactionLimit = 50

// WalletHandler answers read-only wallet questions.
type WalletHandler struct {
	balances  ports.BalanceQueryService
	transfers ports.TransferService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(balances ports.BalanceQueryService, transfers ports.TransferService) *WalletHandler {
	return &WalletHandler{
		balances:  balances,
		transfers: transfers,
	}
}

// GetBalances handles GET /api/v1/wallets/:id/balances.
// With ?token= it returns that single balance, zero if the row was never created.
func (h *WalletHandler) GetBalances(c *gin.Context) {
	walletID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var q dto.BalanceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	if q.Token != "" {
		b, err := h.balances.Balance(c.Request.Context(), walletID, domain.TokenType(q.Token))
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, []dto.BalanceResponse{dto.NewBalanceResponse(*b)})
		return
	}

	list, err := h.balances.Balances(c.Request.Context(), walletID)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]dto.BalanceResponse, 0, len(list))
	for _, b := range list {
		out = append(out, dto.NewBalanceResponse(b))
	}
	response.OK(c, out)
}

// ListTransactions handles GET /api/v1/wallets/:id/transactions.
func (h *WalletHandler) ListTransactions(c *gin.Context) {
	walletID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var q dto.TransactionListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultTransactionLimit
	}

	txns, err := h.transfers.ListTransactions(c.Request.Context(), walletID, q.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewTransactionListResponse(txns))
}

// pathUUID parses a path parameter, writing a 400 when it is not a UUID.
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Error(c, apperror.Validation("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}
