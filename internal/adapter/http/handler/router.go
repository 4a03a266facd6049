package handler

import (
	"custodial-ledger/internal/adapter/http/middleware"
	"custodial-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Balances       ports.BalanceQueryService
	Transfers      ports.TransferService
	Events         ports.EventHistory
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine for the read-only ops surface.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	v1 := r.Group("/api/v1")

	eventHandler := NewEventHandler(deps.Events)
	v1.GET("/events", eventHandler.ListEvents)

	walletHandler := NewWalletHandler(deps.Balances, deps.Transfers)
	wallets := v1.Group("/wallets/:id")
	{
		wallets.GET("/balances", walletHandler.GetBalances)
		wallets.GET("/transactions", walletHandler.ListTransactions)
	}

	txHandler := NewTransactionHandler(deps.Transfers)
	v1.GET("/transactions/:id", txHandler.GetTransaction)

	return r
}
