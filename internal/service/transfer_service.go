package service

import (
	"context"
	"errors"
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

// TransferServiceImpl implements ports.TransferService.
type TransferServiceImpl struct {
	walletRepo ports.WalletRepository
	txRepo     ports.TransactionRepository
	ledger     *BalanceLedger
	uow        *UnitOfWork
	publisher  ports.EventPublisher
	log        zerolog.Logger
}

// NewTransferService creates a new TransferServiceImpl.
func NewTransferService(
	walletRepo ports.WalletRepository,
	txRepo ports.TransactionRepository,
	ledger *BalanceLedger,
	uow *UnitOfWork,
	publisher ports.EventPublisher,
	log zerolog.Logger,
) *TransferServiceImpl {
	return &TransferServiceImpl{
		walletRepo: walletRepo,
		txRepo:     txRepo,
		ledger:     ledger,
		uow:        uow,
		publisher:  publisher,
		log:        log.With().Str("component", "transfer").Logger(),
	}
}

// Transfer moves amount of token from sender to recipient in one unit of work.
// The transaction row, both balance writes and the confirmation commit together;
// events are published only after the commit.
func (s *TransferServiceImpl) Transfer(ctx context.Context, req ports.TransferRequest) (*domain.Transaction, error) {
	if err := validateTransfer(req); err != nil {
		return nil, err
	}

	var (
		txn    *domain.Transaction
		events []domain.DomainEvent
	)

	err := s.uow.Run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		events = nil

		if _, err := s.activeWallet(ctx, tx, req.SenderWalletID, "sender wallet"); err != nil {
			return err
		}
		if _, err := s.activeWallet(ctx, tx, req.RecipientWalletID, "recipient wallet"); err != nil {
			return err
		}

		balances, err := s.ledger.LockBalances(ctx, tx, req.Token, req.SenderWalletID, req.RecipientWalletID)
		if err != nil {
			return err
		}
		if balances[req.SenderWalletID].Amount.LessThan(req.Amount) {
			return apperror.ErrInsufficientBalance()
		}

		now := time.Now().UTC()
		txn = &domain.Transaction{
			ID:          uuid.New(),
			Type:        domain.TransactionTypeTransfer,
			SenderID:    req.SenderWalletID,
			Destination: domain.InternalDestination{WalletID: req.RecipientWalletID},
			Amount:      req.Amount,
			TokenType:   req.Token,
			Fee:         decimal.Zero,
			Description: req.Description,
			Status:      domain.TransactionStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.txRepo.Create(ctx, tx, txn); err != nil {
			return apperror.ErrDatabaseError(err)
		}

		debit, err := s.ledger.ApplyBalanceDelta(ctx, tx, req.SenderWalletID, req.Token, req.Amount.Neg(), ReasonTransferDebit)
		if err != nil {
			return err
		}
		credit, err := s.ledger.ApplyBalanceDelta(ctx, tx, req.RecipientWalletID, req.Token, req.Amount, ReasonTransferCredit)
		if err != nil {
			return err
		}

		if err := txn.Confirm(now, nil); err != nil {
			return transitionError(err)
		}
		if err := s.txRepo.Update(ctx, tx, txn); err != nil {
			return apperror.ErrDatabaseError(err)
		}

		events = []domain.DomainEvent{
			domain.NewTransactionCreatedEvent(txn, now),
			domain.NewWalletBalanceUpdatedEvent(*debit, now),
			domain.NewWalletBalanceUpdatedEvent(*credit, now),
		}
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}

	s.publisher.PublishAll(ctx, events)

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("sender_id", req.SenderWalletID.String()).
		Str("recipient_id", req.RecipientWalletID.String()).
		Str("token", string(req.Token)).
		Str("amount", req.Amount.String()).
		Msg("transfer confirmed")

	return txn, nil
}

// CreateWithdrawal records a PENDING outbound transfer to an external address.
// Funds stay in the wallet until ConfirmTransaction debits amount plus fee.
func (s *TransferServiceImpl) CreateWithdrawal(ctx context.Context, req ports.WithdrawalRequest) (*domain.Transaction, error) {
	if err := validateWithdrawal(req); err != nil {
		return nil, err
	}

	var txn *domain.Transaction
	err := s.uow.Run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := s.activeWallet(ctx, tx, req.SenderWalletID, "sender wallet"); err != nil {
			return err
		}

		balances, err := s.ledger.LockBalances(ctx, tx, req.Token, req.SenderWalletID)
		if err != nil {
			return err
		}
		if balances[req.SenderWalletID].Amount.LessThan(req.Amount.Add(req.Fee)) {
			return apperror.ErrInsufficientBalance()
		}

		now := time.Now().UTC()
		txn = &domain.Transaction{
			ID:          uuid.New(),
			Type:        domain.TransactionTypeWithdrawal,
			SenderID:    req.SenderWalletID,
			Destination: domain.ExternalDestination{Address: strings.TrimSpace(req.Address)},
			Amount:      req.Amount,
			TokenType:   req.Token,
			Fee:         req.Fee,
			Description: req.Description,
			Status:      domain.TransactionStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.txRepo.Create(ctx, tx, txn); err != nil {
			return apperror.ErrDatabaseError(err)
		}
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}

	s.publisher.Publish(ctx, domain.NewTransactionCreatedEvent(txn, txn.CreatedAt))

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("sender_id", req.SenderWalletID.String()).
		Str("amount", req.Amount.String()).
		Str("fee", req.Fee.String()).
		Msg("withdrawal created")

	return txn, nil
}

// ConfirmTransaction settles a PENDING withdrawal: debits amount plus fee and stamps confirmedAt.
func (s *TransferServiceImpl) ConfirmTransaction(ctx context.Context, id uuid.UUID, externalReferenceID *string) (*domain.Transaction, error) {
	var (
		txn    *domain.Transaction
		events []domain.DomainEvent
	)

	err := s.uow.Run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		events = nil

		t, err := s.lockTransaction(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.IsTerminal() {
			return apperror.ErrInvalidState("transaction is already " + string(t.Status))
		}
		if t.Type != domain.TransactionTypeWithdrawal {
			return apperror.ErrInvalidState("only withdrawals are confirmed externally")
		}

		now := time.Now().UTC()
		previous := t.Status

		debit, err := s.ledger.ApplyBalanceDelta(ctx, tx, t.SenderID, t.TokenType, t.TotalDebit().Neg(), ReasonWithdrawal)
		if err != nil {
			return err
		}

		if err := t.Confirm(now, externalReferenceID); err != nil {
			return transitionError(err)
		}
		if err := s.txRepo.Update(ctx, tx, t); err != nil {
			return apperror.ErrDatabaseError(err)
		}

		txn = t
		events = []domain.DomainEvent{
			domain.NewTransactionStatusChangedEvent(t, previous, now),
			domain.NewWalletBalanceUpdatedEvent(*debit, now),
		}
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}

	s.publisher.PublishAll(ctx, events)
	s.log.Info().Str("tx_id", id.String()).Msg("transaction confirmed")
	return txn, nil
}

// FailTransaction marks a PENDING transaction FAILED. Balances are untouched.
func (s *TransferServiceImpl) FailTransaction(ctx context.Context, id uuid.UUID, reason string) (*domain.Transaction, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperror.Validation("Failure reason is required")
	}
	return s.transition(ctx, id, func(t *domain.Transaction, now time.Time) error {
		return t.Fail(now, reason)
	})
}

// CancelTransaction cancels a PENDING transaction on behalf of its sender. Balances are untouched.
func (s *TransferServiceImpl) CancelTransaction(ctx context.Context, id uuid.UUID, requesterID uuid.UUID) (*domain.Transaction, error) {
	return s.transition(ctx, id, func(t *domain.Transaction, now time.Time) error {
		if t.SenderID != requesterID {
			return apperror.ErrInvalidState("only the sender may cancel a transaction")
		}
		return t.Cancel(now)
	})
}

// GetTransaction fetches a transaction by id.
func (s *TransferServiceImpl) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var txn *domain.Transaction
	err := s.uow.ExecuteReadOnly(ctx, func(ctx context.Context, tx pgx.Tx) error {
		t, err := s.txRepo.GetByID(ctx, tx, id)
		if err != nil {
			return apperror.ErrDatabaseError(err)
		}
		if t == nil {
			return apperror.ErrNotFound("transaction")
		}
		txn = t
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}
	return txn, nil
}

// ListTransactions returns the newest transactions a wallet sent or received.
func (s *TransferServiceImpl) ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	err := s.uow.ExecuteReadOnly(ctx, func(ctx context.Context, tx pgx.Tx) error {
		list, err := s.txRepo.ListByWallet(ctx, tx, walletID, limit)
		if err != nil {
			return apperror.ErrDatabaseError(err)
		}
		txns = list
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}
	return txns, nil
}

func (s *TransferServiceImpl) transition(
	ctx context.Context,
	id uuid.UUID,
	apply func(t *domain.Transaction, now time.Time) error,
) (*domain.Transaction, error) {
	var txn *domain.Transaction
	var previous domain.TransactionStatus

	err := s.uow.Run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		t, err := s.lockTransaction(ctx, tx, id)
		if err != nil {
			return err
		}

		previous = t.Status
		if err := apply(t, time.Now().UTC()); err != nil {
			return transitionError(err)
		}
		if err := s.txRepo.Update(ctx, tx, t); err != nil {
			return apperror.ErrDatabaseError(err)
		}
		txn = t
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}

	s.publisher.Publish(ctx, domain.NewTransactionStatusChangedEvent(txn, previous, txn.UpdatedAt))
	s.log.Info().
		Str("tx_id", id.String()).
		Str("from", string(previous)).
		Str("to", string(txn.Status)).
		Msg("transaction status changed")
	return txn, nil
}

func (s *TransferServiceImpl) lockTransaction(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	t, err := s.txRepo.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if t == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	return t, nil
}

func (s *TransferServiceImpl) activeWallet(ctx context.Context, tx pgx.Tx, id uuid.UUID, entity string) (*domain.Wallet, error) {
	w, err := s.walletRepo.GetByID(ctx, tx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if w == nil {
		return nil, apperror.ErrNotFound(entity)
	}
	if !w.IsActive() {
		return nil, apperror.ErrInvalidState(entity + " is " + string(w.Status))
	}
	return w, nil
}

// transitionError maps lifecycle violations to InvalidState and passes AppErrors through.
func transitionError(err error) error {
	if errors.Is(err, domain.ErrInvalidTransition) {
		return apperror.ErrInvalidState(err.Error())
	}
	return err
}

func validateTransfer(req ports.TransferRequest) error {
	if req.SenderWalletID == req.RecipientWalletID {
		return apperror.ErrSelfTransfer()
	}
	return validateAmount(req.Token, req.Amount)
}

func validateWithdrawal(req ports.WithdrawalRequest) error {
	if strings.TrimSpace(req.Address) == "" {
		return apperror.Validation("Destination address is required")
	}
	if req.Fee.IsNegative() || !money.FitsScale(req.Fee, money.CryptoScale) {
		return apperror.Validation("Invalid fee")
	}
	return validateAmount(req.Token, req.Amount)
}

func validateAmount(token domain.TokenType, amount decimal.Decimal) error {
	if !token.IsValid() {
		return apperror.ErrUnsupportedToken(string(token))
	}
	if !amount.IsPositive() || !money.FitsScale(amount, money.CryptoScale) {
		return apperror.ErrInvalidAmount()
	}
	return nil
}
