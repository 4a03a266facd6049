package dto

import (
	"custodial-ledger/internal/core/domain"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("event_type", validateEventType)
		_ = v.RegisterValidation("token_type", validateTokenType)
	}
}

func validateEventType(fl validator.FieldLevel) bool {
	switch domain.EventType(fl.Field().String()) {
	case domain.EventTransactionCreated,
		domain.EventTransactionStatusChanged,
		domain.EventWalletBalanceUpdated,
		domain.EventRampOrderStatusChanged:
		return true
	}
	return false
}

// validateTokenType accepts the supported token symbols, case-sensitively.
func validateTokenType(fl validator.FieldLevel) bool {
	return domain.TokenType(fl.Field().String()).IsValid()
}
