package handler

import (
	"custodial-ledger/internal/adapter/http/dto"
	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/pkg/apperror"
	"custodial-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

const defaultEventLimit = 100

// EventHandler exposes the in-memory event history.
type EventHandler struct {
	history ports.EventHistory
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(history ports.EventHistory) *EventHandler {
	return &EventHandler{history: history}
}

// ListEvents handles GET /api/v1/events.
func (h *EventHandler) ListEvents(c *gin.Context) {
	var q dto.EventListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultEventLimit
	}

	events := h.history.History(domain.EventFilter{
		Type:  domain.EventType(q.Type),
		Limit: q.Limit,
	})
	if events == nil {
		events = []domain.DomainEvent{}
	}

	response.OK(c, dto.EventListResponse{Events: events, Count: len(events)})
}
