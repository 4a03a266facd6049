package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/pkg/apperror"
	"custodial-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ReconciliationServiceImpl implements ports.ReconciliationService.
type ReconciliationServiceImpl struct {
	walletRepo ports.WalletRepository
	orderRepo  ports.RampOrderRepository
	markerRepo ports.ProcessedNotificationRepository
	cache      ports.IdempotencyCache // optional
	cacheTTL   time.Duration
	ledger     *BalanceLedger
	uow        *UnitOfWork
	publisher  ports.EventPublisher
	log        zerolog.Logger
}

// NewReconciliationService creates a new ReconciliationServiceImpl. cache may be nil.
func NewReconciliationService(
	walletRepo ports.WalletRepository,
	orderRepo ports.RampOrderRepository,
	markerRepo ports.ProcessedNotificationRepository,
	cache ports.IdempotencyCache,
	cacheTTL time.Duration,
	ledger *BalanceLedger,
	uow *UnitOfWork,
	publisher ports.EventPublisher,
	log zerolog.Logger,
) *ReconciliationServiceImpl {
	return &ReconciliationServiceImpl{
		walletRepo: walletRepo,
		orderRepo:  orderRepo,
		markerRepo: markerRepo,
		cache:      cache,
		cacheTTL:   cacheTTL,
		ledger:     ledger,
		uow:        uow,
		publisher:  publisher,
		log:        log.With().Str("component", "reconciliation").Logger(),
	}
}

// CreateRampOrder records the user's intent for an on/off-ramp as a PENDING order.
// The intended amounts are informational; settlement uses the provider's reported values.
func (s *ReconciliationServiceImpl) CreateRampOrder(ctx context.Context, req ports.CreateRampOrderRequest) (*domain.RampOrder, error) {
	provider, err := domain.ParseProvider(string(req.Provider))
	if err != nil {
		return nil, apperror.ErrUnknownProvider(string(req.Provider))
	}
	if err := validateRampOrder(req); err != nil {
		return nil, err
	}

	var order *domain.RampOrder
	err = s.uow.Run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		w, err := s.walletRepo.GetByID(ctx, tx, req.WalletID)
		if err != nil {
			return apperror.ErrDatabaseError(err)
		}
		if w == nil {
			return apperror.ErrNotFound("wallet")
		}
		if w.UserID != req.UserID {
			return apperror.Validation("Wallet does not belong to user")
		}
		if !w.IsActive() {
			return apperror.ErrInvalidState("wallet is " + string(w.Status))
		}

		metadata := make(map[string]string, len(req.Metadata)+1)
		for k, v := range req.Metadata {
			metadata[k] = v
		}
		if key := strings.TrimSpace(req.CorrelationKey); key != "" {
			metadata[domain.MetadataCorrelationKey] = key
		}

		now := time.Now().UTC()
		order = &domain.RampOrder{
			ID:           uuid.New(),
			UserID:       req.UserID,
			WalletID:     req.WalletID,
			Provider:     provider,
			Direction:    req.Direction,
			Status:       domain.RampStatusPending,
			FiatCurrency: strings.ToUpper(strings.TrimSpace(req.FiatCurrency)),
			FiatAmount:   money.Fiat(req.FiatAmount),
			TokenType:    req.TokenType,
			TokenAmount:  req.TokenAmount,
			ExchangeRate: money.Crypto(req.FiatAmount.DivRound(req.TokenAmount, money.CryptoScale+1)),
			Fee:          decimal.Zero,
			Metadata:     metadata,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return apperror.ErrDatabaseError(err)
		}
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("provider", string(order.Provider)).
		Str("direction", string(order.Direction)).
		Str("wallet_id", order.WalletID.String()).
		Msg("ramp order created")

	return order, nil
}

// HandleProviderNotification folds one provider notification into ramp order state.
// A notification is applied at most once per (provider, event id): the Redis cache
// short-circuits replays and the processed_notifications marker, written in the same
// transaction as the order and balance changes, is authoritative.
// Unmatched or unusable notifications are recorded as DISCARDED and not returned as errors.
func (s *ReconciliationServiceImpl) HandleProviderNotification(ctx context.Context, n domain.ProviderNotification) (*ports.ReconciliationResult, error) {
	if strings.TrimSpace(n.EventID) == "" {
		return nil, apperror.Validation("Event id is required")
	}
	providerKey := strings.ToLower(strings.TrimSpace(n.Provider))
	cacheKey := domain.BuildNotificationKey(providerKey, n.EventID)

	if prior := s.cachedOutcome(ctx, cacheKey); prior != "" {
		s.log.Debug().Str("key", cacheKey).Msg("duplicate notification short-circuited by cache")
		return &ports.ReconciliationResult{
			Outcome: domain.OutcomeDuplicate,
			Reason:  "event already processed as " + prior,
		}, nil
	}

	var (
		result *ports.ReconciliationResult
		stored domain.ReconciliationOutcome
		events []domain.DomainEvent
	)
	err := s.uow.Run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		events = nil

		now := time.Now().UTC()
		marker := &domain.ProcessedNotification{
			Provider:    providerKey,
			EventID:     n.EventID,
			Outcome:     domain.OutcomeApplied,
			ProcessedAt: now,
		}
		inserted, err := s.markerRepo.Insert(ctx, tx, marker)
		if err != nil {
			return apperror.ErrDatabaseError(err)
		}
		if !inserted {
			result, stored, err = s.duplicate(ctx, tx, providerKey, n.EventID)
			return err
		}

		res, evts, err := s.apply(ctx, tx, n, now)
		if err != nil {
			return err
		}

		marker.RampOrderID = res.RampOrderID
		marker.Outcome = res.Outcome
		if res.Reason != "" {
			reason := res.Reason
			marker.Reason = &reason
		}
		if err := s.markerRepo.UpdateOutcome(ctx, tx, marker); err != nil {
			return apperror.ErrDatabaseError(err)
		}

		result, stored, events = res, res.Outcome, evts
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}

	s.remember(ctx, cacheKey, stored)
	s.publisher.PublishAll(ctx, events)

	logEvent := s.log.Info()
	if result.Outcome == domain.OutcomeDiscarded {
		logEvent = s.log.Warn()
	}
	logEvent.
		Str("provider", providerKey).
		Str("event_id", n.EventID).
		Str("outcome", string(result.Outcome)).
		Str("status", string(result.Status)).
		Str("reason", result.Reason).
		Msg("provider notification reconciled")

	return result, nil
}

func (s *ReconciliationServiceImpl) duplicate(
	ctx context.Context,
	tx pgx.Tx,
	provider, eventID string,
) (*ports.ReconciliationResult, domain.ReconciliationOutcome, error) {
	prior, err := s.markerRepo.Get(ctx, tx, provider, eventID)
	if err != nil {
		return nil, "", apperror.ErrDatabaseError(err)
	}
	res := &ports.ReconciliationResult{Outcome: domain.OutcomeDuplicate, Reason: "event already processed"}
	if prior == nil {
		return res, "", nil
	}
	res.RampOrderID = prior.RampOrderID
	res.Reason = "event already processed as " + string(prior.Outcome)
	return res, prior.Outcome, nil
}

func (s *ReconciliationServiceImpl) apply(
	ctx context.Context,
	tx pgx.Tx,
	n domain.ProviderNotification,
	now time.Time,
) (*ports.ReconciliationResult, []domain.DomainEvent, error) {
	provider, err := domain.ParseProvider(n.Provider)
	if err != nil {
		s.log.Warn().
			Str("error_code", apperror.CodeUnknownProvider).
			Str("provider", n.Provider).
			Str("event_id", n.EventID).
			Msg("notification from unknown provider")
		return discarded(nil, apperror.ErrUnknownProvider(n.Provider).Message), nil, nil
	}

	order, err := s.locateOrder(ctx, tx, provider, n)
	if err != nil {
		return nil, nil, err
	}
	if order == nil {
		s.log.Warn().
			Str("error_code", apperror.CodeUnknownProvider).
			Str("provider", string(provider)).
			Str("provider_order_id", n.ProviderOrderID).
			Str("correlation_key", n.CorrelationKey).
			Msg("no ramp order matches notification")
		return discarded(nil, "no matching ramp order"), nil, nil
	}

	if order.IsTerminal() {
		return &ports.ReconciliationResult{
			Outcome:     domain.OutcomeNoop,
			RampOrderID: &order.ID,
			Status:      order.Status,
			Reason:      "ramp order already " + string(order.Status),
		}, nil, nil
	}

	mapping := domain.MapProviderStatus(domain.ProviderStatus{Provider: provider, Raw: n.ProviderStatus})
	if !mapping.Known {
		s.log.Warn().
			Str("error_code", apperror.CodeUnknownProvider).
			Str("provider", string(provider)).
			Str("provider_status", n.ProviderStatus).
			Msg("unrecognised provider status, treating as PENDING")
	}

	if field := outOfRangeAmount(n.Actual); field != "" {
		s.log.Warn().
			Str("event_id", n.EventID).
			Str("order_id", order.ID.String()).
			Str("field", field).
			Msg("provider reported an amount outside column precision")
		return discarded(&order.ID, "reported "+field+" amount out of range"), nil, nil
	}

	previous := order.Status
	applyActualAmounts(order, n.Actual)
	order.UpdatedAt = now

	var change *domain.BalanceChange
	if mapping.Status == domain.RampStatusCompleted {
		if !order.AmountsConfirmed || !order.TokenAmount.IsPositive() {
			return discarded(&order.ID, "completion reported without an actual token amount"), nil, nil
		}

		delta, reason := order.TokenAmount, ReasonOnrampSettled
		if order.Direction == domain.RampDirectionOfframp {
			delta, reason = delta.Neg(), ReasonOfframpSettled
		}
		change, err = s.ledger.ApplyBalanceDelta(ctx, tx, order.WalletID, order.TokenType, delta, reason)
		if err != nil {
			if apperror.HasCode(err, apperror.CodeInsufficientBalance) {
				return discarded(&order.ID, "insufficient balance to settle offramp"), nil, nil
			}
			return nil, nil, err
		}
	}

	advanced := order.Advance(mapping.Status, now)
	if advanced && (order.Status == domain.RampStatusFailed || order.Status == domain.RampStatusCancelled) {
		reason := fmt.Sprintf("provider status %s", n.ProviderStatus)
		order.FailureReason = &reason
	}

	if err := s.orderRepo.Update(ctx, tx, order); err != nil {
		return nil, nil, apperror.ErrDatabaseError(err)
	}

	var events []domain.DomainEvent
	if advanced {
		events = append(events, domain.NewRampOrderStatusChangedEvent(order, previous, now))
	}
	if change != nil {
		events = append(events, domain.NewWalletBalanceUpdatedEvent(*change, now))
	}

	return &ports.ReconciliationResult{
		Outcome:     domain.OutcomeApplied,
		RampOrderID: &order.ID,
		Status:      order.Status,
	}, events, nil
}

// locateOrder matches by provider transaction id first, then falls back to the newest
// PENDING order with the same correlation key. A fallback match adopts the provider id.
func (s *ReconciliationServiceImpl) locateOrder(
	ctx context.Context,
	tx pgx.Tx,
	provider domain.Provider,
	n domain.ProviderNotification,
) (*domain.RampOrder, error) {
	providerOrderID := strings.TrimSpace(n.ProviderOrderID)
	if providerOrderID != "" {
		order, err := s.orderRepo.GetByProviderTxIDForUpdate(ctx, tx, provider, providerOrderID)
		if err != nil {
			return nil, apperror.ErrDatabaseError(err)
		}
		if order != nil {
			return order, nil
		}
	}

	key := strings.TrimSpace(n.CorrelationKey)
	if key == "" {
		return nil, nil
	}
	order, err := s.orderRepo.FindPendingByCorrelationForUpdate(ctx, tx, provider, key)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if order == nil || providerOrderID == "" {
		return order, nil
	}
	if order.ProviderTransactionID != nil && *order.ProviderTransactionID != providerOrderID {
		// Already correlated with a different provider order.
		return nil, nil
	}
	order.ProviderTransactionID = &providerOrderID
	return order, nil
}

func (s *ReconciliationServiceImpl) cachedOutcome(ctx context.Context, key string) string {
	if s.cache == nil {
		return ""
	}
	val, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("redis notification check failed, falling through to DB")
		return ""
	}
	return string(val)
}

func (s *ReconciliationServiceImpl) remember(ctx context.Context, key string, outcome domain.ReconciliationOutcome) {
	if s.cache == nil || outcome == "" {
		return
	}
	if err := s.cache.Set(ctx, key, []byte(outcome), s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache notification outcome in redis")
	}
}

// applyActualAmounts overwrites the order's intent with provider-reported values.
// Negative values are ignored.
func applyActualAmounts(order *domain.RampOrder, a domain.ActualAmounts) {
	if a.Crypto.Valid && !a.Crypto.Decimal.IsNegative() {
		order.TokenAmount = money.Crypto(a.Crypto.Decimal)
		order.AmountsConfirmed = true
	}
	if a.Fiat.Valid && !a.Fiat.Decimal.IsNegative() {
		order.FiatAmount = money.Fiat(a.Fiat.Decimal)
	}
	if a.Rate.Valid && !a.Rate.Decimal.IsNegative() {
		order.ExchangeRate = money.Crypto(a.Rate.Decimal)
	}
	if a.Fee.Valid && !a.Fee.Decimal.IsNegative() {
		order.Fee = money.Crypto(a.Fee.Decimal)
	}
}

// outOfRangeAmount names the first reported amount that cannot be stored, or "".
func outOfRangeAmount(a domain.ActualAmounts) string {
	switch {
	case a.Crypto.Valid && !money.CryptoInRange(a.Crypto.Decimal):
		return "crypto"
	case a.Fiat.Valid && !money.FiatInRange(a.Fiat.Decimal):
		return "fiat"
	case a.Rate.Valid && !money.CryptoInRange(a.Rate.Decimal):
		return "rate"
	case a.Fee.Valid && !money.CryptoInRange(a.Fee.Decimal):
		return "fee"
	}
	return ""
}

func discarded(orderID *uuid.UUID, reason string) *ports.ReconciliationResult {
	return &ports.ReconciliationResult{
		Outcome:     domain.OutcomeDiscarded,
		RampOrderID: orderID,
		Reason:      reason,
	}
}

func validateRampOrder(req ports.CreateRampOrderRequest) error {
	if !req.Direction.IsValid() {
		return apperror.Validation(fmt.Sprintf("Unsupported ramp direction %q", req.Direction))
	}
	if !req.TokenType.IsValid() {
		return apperror.ErrUnsupportedToken(string(req.TokenType))
	}
	if len(strings.TrimSpace(req.FiatCurrency)) != 3 {
		return apperror.Validation("Fiat currency must be an ISO 4217 code")
	}
	if !req.FiatAmount.IsPositive() || !money.FitsScale(req.FiatAmount, money.FiatScale) {
		return apperror.Validation("Invalid fiat amount")
	}
	if !req.TokenAmount.IsPositive() || !money.FitsScale(req.TokenAmount, money.CryptoScale) {
		return apperror.ErrInvalidAmount()
	}
	return nil
}
