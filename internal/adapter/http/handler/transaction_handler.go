package handler

import (
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// TransactionHandler exposes transaction lookups.
type TransactionHandler struct {
	transfers ports.TransferService
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(transfers ports.TransferService) *TransactionHandler {
	return &TransactionHandler{transfers: transfers}
}

// GetTransaction handles GET /api/v1/transactions/:id.
func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	txn, err := h.transfers.GetTransaction(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, txn.Snapshot())
}
