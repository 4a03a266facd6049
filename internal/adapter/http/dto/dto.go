package dto

import (
	"time"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/pkg/money"

	"github.com/google/uuid"
)

// EventListQuery is the query string of GET /api/v1/events.
type EventListQuery struct {
	Type  string `form:"type" binding:"omitempty,event_type"`
	Limit int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// TransactionListQuery is the query string of GET /api/v1/wallets/:id/transactions.
type TransactionListQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=200"`
}

// BalanceQuery is the query string of GET /api/v1/wallets/:id/balances.
type BalanceQuery struct {
	Token string `form:"token" binding:"omitempty,token_type"`
}

// BalanceResponse is one wallet balance. Amounts are decimal strings.
type BalanceResponse struct {
	WalletID    uuid.UUID `json:"wallet_id"`
	TokenType   string    `json:"token_type"`
	Amount      string    `json:"amount"`
	LastUpdated time.Time `json:"last_updated"`
}

// EventListResponse wraps event history results.
type EventListResponse struct {
	Events []domain.DomainEvent `json:"events"`
	Count  int                  `json:"count"`
}

// TransactionListResponse wraps a page of transactions.
type TransactionListResponse struct {
	Transactions []domain.TransactionSnapshot `json:"transactions"`
	Count        int                          `json:"count"`
}

// NewBalanceResponse converts a domain balance.
func NewBalanceResponse(b domain.WalletBalance) BalanceResponse {
	return BalanceResponse{
		WalletID:    b.WalletID,
		TokenType:   string(b.TokenType),
		Amount:      b.Amount.StringFixed(money.CryptoScale),
		LastUpdated: b.LastUpdated,
	}
}

// NewTransactionListResponse converts a page of transactions.
func NewTransactionListResponse(txns []domain.Transaction) TransactionListResponse {
	out := make([]domain.TransactionSnapshot, 0, len(txns))
	for i := range txns {
		out = append(out, txns[i].Snapshot())
	}
	return TransactionListResponse{Transactions: out, Count: len(out)}
}
