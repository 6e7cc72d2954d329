package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/layer-3/usdcpay/core"
	"github.com/layer-3/usdcpay/internal/metrics"
	"github.com/layer-3/usdcpay/ports"
)

const finalizeTimeout = 10 * time.Second

// ErrShuttingDown is returned by Execute once Drain has been called.
var ErrShuttingDown = core.Unavailable("Service is shutting down")

// SettlementService pushes PENDING transactions on chain.
type SettlementService struct {
	txs     ports.TransactionStore
	signers ports.SignerProvider
	chain   ports.Chain
	events  *eventNotifier
	logger  *slog.Logger
	timeout time.Duration

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

func NewSettlementService(
	txs ports.TransactionStore,
	signers ports.SignerProvider,
	chain ports.Chain,
	events ports.EventPublisher,
	logger *slog.Logger,
	timeout time.Duration,
) *SettlementService {
	logger = logger.With("component", "settlement")
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &SettlementService{
		txs:     txs,
		signers: signers,
		chain:   chain,
		events:  newEventNotifier(events, logger),
		logger:  logger,
		timeout: timeout,
	}
}

// Execute settles transaction id from the caller's wallet.
//
// On a chain failure the FAILED record is returned together with a
// SettlementFailed error.
func (s *SettlementService) Execute(ctx context.Context, who core.Identity, id string, cred ports.Credential) (*core.Transaction, error) {
	tx, err := s.txs.GetByID(ctx, id)
	if errors.Is(err, core.ErrTransactionNotFound) {
		return nil, core.NotFound("Transaction not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}

	if tx.SenderID != who.UserID {
		return nil, core.Forbidden("Only the sender can execute this transaction")
	}
	if tx.Status != core.StatusPending {
		return nil, core.Conflict("Transaction is not pending")
	}

	amount, err := core.ParseAmount(tx.Amount)
	if err != nil {
		return nil, fmt.Errorf("stored amount %q: %w", tx.Amount, err)
	}

	signer, err := s.signers.SignerFor(ctx, who.WalletAddress, cred)
	if err != nil {
		return nil, err
	}

	if !s.begin() {
		return nil, ErrShuttingDown
	}
	defer s.inflight.Done()

	claimed, err := s.txs.Claim(ctx, tx.ID)
	if errors.Is(err, core.ErrNotPending) {
		return nil, core.Conflict("Transaction is not pending")
	}
	if err != nil {
		return nil, fmt.Errorf("claim transaction: %w", err)
	}

	// The transfer outlives a disconnecting client but not the timeout.
	chainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	start := time.Now()
	hash, err := s.chain.Submit(chainCtx, signer, claimed.RecipientAddress, amount)
	if err != nil {
		s.logger.ErrorContext(ctx, "transaction failed", "transaction_id", tx.ID, "stage", "submit", "error", err)
		return s.finalize(ctx, claimed, core.StatusFailed, nil, start)
	}

	s.recordSubmission(ctx, tx.ID, hash)

	if err := s.chain.Confirm(chainCtx, hash); err != nil {
		s.logger.ErrorContext(ctx, "transaction failed",
			"transaction_id", tx.ID,
			"stage", "confirm",
			"tx_hash", hash,
			"error", err,
		)
		return s.finalize(ctx, claimed, core.StatusFailed, nil, start)
	}

	s.logger.InfoContext(ctx, "transaction completed", "transaction_id", tx.ID, "tx_hash", hash)
	return s.finalize(ctx, claimed, core.StatusCompleted, &hash, start)
}

// recordSubmission keeps the broadcast hash on the PROCESSING row so an
// interrupted settlement can be reconciled. A failure here does not stop the
// settlement, the transfer is already on its way.
func (s *SettlementService) recordSubmission(ctx context.Context, id, hash string) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := s.txs.RecordSubmission(storeCtx, id, hash); err != nil {
		s.logger.ErrorContext(ctx, "failed to record submitted transfer",
			"transaction_id", id,
			"tx_hash", hash,
			"error", err,
		)
	}
}

func (s *SettlementService) finalize(ctx context.Context, tx *core.Transaction, status core.Status, hash *string, start time.Time) (*core.Transaction, error) {
	outcome := "completed"
	if status == core.StatusFailed {
		outcome = "failed"
	}
	metrics.SettlementsTotal.WithLabelValues(outcome).Inc()
	metrics.SettlementDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	// Record the outcome even if the chain call used up its deadline or the
	// client went away.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	final, err := s.txs.Finalize(storeCtx, tx.ID, status, hash)
	if err != nil {
		attrs := []any{"transaction_id", tx.ID, "status", status, "error", err}
		if hash != nil {
			attrs = append(attrs, "tx_hash", *hash)
		}
		s.logger.ErrorContext(ctx, "failed to record settlement outcome", attrs...)
		return nil, fmt.Errorf("finalize transaction: %w", err)
	}

	if status == core.StatusFailed {
		s.events.notify(ctx, core.EventTransactionFailed, final)
		return final, core.SettlementFailure()
	}

	s.events.notify(ctx, core.EventTransactionCompleted, final)
	return final, nil
}

func (s *SettlementService) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.draining {
		return false
	}
	s.inflight.Add(1)
	return true
}

// DrainTimeout is the longest a single settlement can still take once it has
// been claimed.
func (s *SettlementService) DrainTimeout() time.Duration {
	return s.timeout + 2*finalizeTimeout
}

// Drain refuses new settlements and waits for the in-flight ones to record
// their outcome, or for ctx to end.
func (s *SettlementService) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain settlements: %w", ctx.Err())
	}
}

// ReportStale logs every transaction left PROCESSING for longer than
// olderThan, with the hash it was broadcast under if any. These rows need
// reconciliation against the chain. It returns how many were found.
func (s *SettlementService) ReportStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.txs.ListProcessing(ctx, time.Now().Add(-olderThan), 100)
	if err != nil {
		return 0, fmt.Errorf("list stale settlements: %w", err)
	}

	for _, tx := range stale {
		hash := ""
		if tx.SubmittedHash != nil {
			hash = *tx.SubmittedHash
		}
		s.logger.WarnContext(ctx, "settlement left processing",
			"transaction_id", tx.ID,
			"submitted_tx_hash", hash,
			"updated_at", tx.UpdatedAt,
		)
	}
	metrics.StaleSettlements.Set(float64(len(stale)))
	return len(stale), nil
}
