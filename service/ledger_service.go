package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/layer-3/usdcpay/core"
	"github.com/layer-3/usdcpay/internal/metrics"
	"github.com/layer-3/usdcpay/ports"
)

const (
	// ListLimit bounds a user's transaction history.
	ListLimit = 50
	// MaxNoteLength is the longest note, in characters.
	MaxNoteLength = 280
)

// CreateTransferInput describes a new outgoing transfer.
type CreateTransferInput struct {
	RecipientAddress string
	Amount           string
	Note             *string
}

// LedgerService records transfers and answers history queries.
type LedgerService struct {
	txs        ports.TransactionStore
	identity   *IdentityService
	transactor ports.Transactor
	events     *eventNotifier
	logger     *slog.Logger
}

func NewLedgerService(
	txs ports.TransactionStore,
	identity *IdentityService,
	transactor ports.Transactor,
	events ports.EventPublisher,
	logger *slog.Logger,
) *LedgerService {
	logger = logger.With("component", "ledger")
	return &LedgerService{
		txs:        txs,
		identity:   identity,
		transactor: transactor,
		events:     newEventNotifier(events, logger),
		logger:     logger,
	}
}

// Create records a PENDING transfer from the caller to in.RecipientAddress.
func (s *LedgerService) Create(ctx context.Context, who core.Identity, in CreateTransferInput) (*core.Transaction, error) {
	if !core.ValidAddress(in.RecipientAddress) {
		return nil, core.Validation("Invalid Ethereum address")
	}

	amount, err := core.ParseAmount(in.Amount)
	if err != nil {
		return nil, err
	}

	note := trimmed(in.Note)
	if note != nil && utf8.RuneCountInString(*note) > MaxNoteLength {
		return nil, core.Validation(fmt.Sprintf("Note must be at most %d characters", MaxNoteLength))
	}

	recipientAddress := core.NormalizeAddress(in.RecipientAddress)

	var tx *core.Transaction
	err = s.transactor.InTx(ctx, func(ctx context.Context) error {
		recipient, err := s.identity.Resolve(ctx, recipientAddress)
		if err != nil {
			return err
		}

		tx, err = s.txs.Create(ctx, core.NewTransaction{
			SenderID:         who.UserID,
			RecipientID:      recipient.ID,
			RecipientAddress: recipientAddress,
			Amount:           amount.String(),
			Note:             note,
		})
		return err
	})
	if errors.Is(err, core.ErrUserNotFound) {
		// The sender row vanished under a still-valid token.
		return nil, core.Unauthorized("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	metrics.TransactionsCreatedTotal.Inc()
	s.logger.InfoContext(ctx, "transaction created",
		"transaction_id", tx.ID,
		"amount", tx.Amount,
		"sender_id", tx.SenderID,
		"recipient_id", tx.RecipientID,
	)
	s.events.notify(ctx, core.EventTransactionCreated, tx)

	return tx, nil
}

// ListForUser returns the caller's sent and received transfers, newest first.
func (s *LedgerService) ListForUser(ctx context.Context, who core.Identity) ([]*core.Transaction, error) {
	txs, err := s.txs.ListForUser(ctx, who.UserID, ListLimit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

func (s *LedgerService) Get(ctx context.Context, id string) (*core.Transaction, error) {
	tx, err := s.txs.GetByID(ctx, id)
	if errors.Is(err, core.ErrTransactionNotFound) {
		return nil, core.NotFound("Transaction not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}
