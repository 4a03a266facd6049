package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNegativeBalance is returned by storage when a write would leave a balance below zero.
var ErrNegativeBalance = errors.New("balance would become negative")

// WalletStatus is the lifecycle state of a custodial wallet.
type WalletStatus string

const (
	WalletStatusActive WalletStatus = "ACTIVE"
	WalletStatusFrozen WalletStatus = "FROZEN"
	WalletStatusClosed WalletStatus = "CLOSED"
)

// Wallet is a user's custodial account. Balances live in WalletBalance rows.
type Wallet struct {
	ID        uuid.UUID    `json:"id"`
	UserID    uuid.UUID    `json:"user_id"`
	Status    WalletStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// IsActive returns true if the wallet may send or receive funds.
func (w *Wallet) IsActive() bool {
	return w.Status == WalletStatusActive
}

// WalletBalance is the amount of one token held by one wallet. Amount is never negative.
type WalletBalance struct {
	WalletID    uuid.UUID       `json:"wallet_id"`
	TokenType   TokenType       `json:"token_type"`
	Amount      decimal.Decimal `json:"amount"`
	LastUpdated time.Time       `json:"last_updated"`
}

// BalanceChange describes one applied balance delta.
type BalanceChange struct {
	WalletID uuid.UUID
	Token    TokenType
	Previous decimal.Decimal
	New      decimal.Decimal
	Delta    decimal.Decimal
	Reason   string
}
