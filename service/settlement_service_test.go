package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/layer-3/usdcpay/core"
	"github.com/layer-3/usdcpay/internal/metrics"
	"github.com/layer-3/usdcpay/ports"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settlementFixture struct {
	*ledgerFixture
	chain      *fakeChain
	signers    *fakeSigners
	settlement *SettlementService
	tx         *core.Transaction
}

func newSettlementFixture(t *testing.T, timeout time.Duration) *settlementFixture {
	t.Helper()

	lf := newLedgerFixture(t)
	chain := &fakeChain{hash: "0x9f2c"}
	signers := &fakeSigners{}
	settlement := NewSettlementService(lf.ledger.Transactions(), signers, chain, lf.publisher, discard, timeout)

	tx, err := lf.svc.Create(context.Background(), lf.sender, CreateTransferInput{RecipientAddress: walletB, Amount: "10000000"})
	require.NoError(t, err)

	return &settlementFixture{ledgerFixture: lf, chain: chain, signers: signers, settlement: settlement, tx: tx}
}

func TestExecuteCompletes(t *testing.T) {
	f := newSettlementFixture(t, time.Minute)
	before := testutil.ToFloat64(metrics.SettlementsTotal.WithLabelValues("completed"))

	got, err := f.settlement.Execute(context.Background(), f.sender, f.tx.ID, ports.Credential{})
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, got.Status)
	require.NotNil(t, got.TxHash)
	assert.Equal(t, "0x9f2c", *got.TxHash)

	require.Len(t, f.chain.calls, 1)
	assert.Equal(t, transferCall{from: f.sender.WalletAddress, to: walletB, amount: "10000000"}, f.chain.calls[0])
	assert.Equal(t, []string{core.EventTransactionCreated, core.EventTransactionCompleted}, f.publisher.names())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SettlementsTotal.WithLabelValues("completed")))
}

func TestExecuteChainFailure(t *testing.T) {
	f := newSettlementFixture(t, time.Minute)
	f.chain.err = errRPC

	got, err := f.settlement.Execute(context.Background(), f.sender, f.tx.ID, ports.Credential{})
	require.ErrorIs(t, err, core.ErrSettlementFailed)
	assert.Equal(t, "Transaction failed", err.Error())
	assert.NotContains(t, err.Error(), "reverted")

	require.NotNil(t, got)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Nil(t, got.TxHash)

	stored, err := f.svc.Get(context.Background(), f.tx.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, stored.Status)
	assert.Equal(t, core.EventTransactionFailed, f.publisher.names()[1])
}

func TestExecuteTerminalIsFinal(t *testing.T) {
	f := newSettlementFixture(t, time.Minute)
	ctx := context.Background()

	_, err := f.settlement.Execute(ctx, f.sender, f.tx.ID, ports.Credential{})
	require.NoError(t, err)

	_, err = f.settlement.Execute(ctx, f.sender, f.tx.ID, ports.Credential{})
	require.ErrorIs(t, err, core.ErrConflict)
	assert.Equal(t, "Transaction is not pending", err.Error())
	assert.Equal(t, 1, f.chain.callCount())

	stored, err := f.svc.Get(ctx, f.tx.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, stored.Status)
}

func TestExecuteFailedIsFinal(t *testing.T) {
	f := newSettlementFixture(t, time.Minute)
	ctx := context.Background()
	f.chain.err = errRPC

	_, err := f.settlement.Execute(ctx, f.sender, f.tx.ID, ports.Credential{})
	require.ErrorIs(t, err, core.ErrSettlementFailed)

	f.chain.err = nil
	_, err = f.settlement.Execute(ctx, f.sender, f.tx.ID, ports.Credential{})
	assert.ErrorIs(t, err, core.ErrConflict)
}

func TestExecuteNotFound(t *testing.T) {
	f := newSettlementFixture(t, time.Minute)

	_, err := f.settlement.Execute(context.Background(), f.sender, "missing", ports.Credential{})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestExecuteBySomeoneElse(t *testing.T) {
	f := newSettlementFixture(t, time.Minute)
	ctx := context.Background()

	recipient, err := f.identity.Resolve(ctx, walletB)
	require.NoError(t, err)

	_, err = f.settlement.Execute(ctx, core.Identity{UserID: recipient.ID, WalletAddress: walletB}, f.tx.ID, ports.Credential{})
	assert.ErrorIs(t, err, core.ErrForbidden)
	assert.Zero(t, f.chain.callCount())
}

func TestExecuteSignerRejected(t *testing.T) {
	f := newSettlementFixture(t, time.Minute)
	f.signers.err = core.Unauthorized("Private key does not match sender wallet")

	_, err := f.settlement.Execute(context.Background(), f.sender, f.tx.ID, ports.Credential{PrivateKey: "0x01"})
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	assert.Zero(t, f.chain.callCount())

	stored, err := f.svc.Get(context.Background(), f.tx.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, stored.Status)
}

func TestExecuteConcurrentSettlesOnce(t *testing.T) {
	f := newSettlementFixture(t, time.Minute)
	f.chain.block = make(chan struct{})

	const callers = 5
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.settlement.Execute(context.Background(), f.sender, f.tx.ID, ports.Credential{})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}

	// Let the losers observe PROCESSING before the winner finishes.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) == callers-1
	}, 2*time.Second, 5*time.Millisecond)
	close(f.chain.block)
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, core.ErrConflict)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, f.chain.callCount())
}

func TestExecuteSurvivesClientCancellation(t *testing.T) {
	f := newSettlementFixture(t, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := f.settlement.Execute(ctx, f.sender, f.tx.ID, ports.Credential{})
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, got.Status)
	require.Len(t, f.chain.ctxErrs, 1)
	assert.NoError(t, f.chain.ctxErrs[0])
}

func TestExecuteTimeoutMarksFailed(t *testing.T) {
	f := newSettlementFixture(t, 20*time.Millisecond)
	f.chain.block = make(chan struct{})
	defer close(f.chain.block)

	got, err := f.settlement.Execute(context.Background(), f.sender, f.tx.ID, ports.Credential{})
	require.ErrorIs(t, err, core.ErrSettlementFailed)
	assert.Equal(t, core.StatusFailed, got.Status)
}

func TestExecuteKeepsSubmittedHashOnFailure(t *testing.T) {
	f := newSettlementFixture(t, time.Minute)
	f.chain.err = errRPC

	got, err := f.settlement.Execute(context.Background(), f.sender, f.tx.ID, ports.Credential{})
	require.ErrorIs(t, err, core.ErrSettlementFailed)
	assert.Nil(t, got.TxHash)

	stored, err := f.ledger.Transactions().GetByID(context.Background(), f.tx.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, stored.Status)
	assert.Nil(t, stored.TxHash)
	require.NotNil(t, stored.SubmittedHash)
	assert.Equal(t, "0x9f2c", *stored.SubmittedHash)
}

func TestExecuteSubmitFailure(t *testing.T) {
	f := newSettlementFixture(t, time.Minute)
	f.chain.submitErr = errRPC

	got, err := f.settlement.Execute(context.Background(), f.sender, f.tx.ID, ports.Credential{})
	require.ErrorIs(t, err, core.ErrSettlementFailed)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Nil(t, got.SubmittedHash)
}

func TestDrainWaitsForInflightSettlement(t *testing.T) {
	f := newSettlementFixture(t, time.Minute)
	ctx := context.Background()
	f.chain.block = make(chan struct{})

	second, err := f.svc.Create(ctx, f.sender, CreateTransferInput{RecipientAddress: walletB, Amount: "1"})
	require.NoError(t, err)

	type result struct {
		tx  *core.Transaction
		err error
	}
	executed := make(chan result, 1)
	go func() {
		tx, err := f.settlement.Execute(ctx, f.sender, f.tx.ID, ports.Credential{})
		executed <- result{tx, err}
	}()

	// Broadcast, waiting for the receipt.
	require.Eventually(t, func() bool {
		stored, err := f.ledger.Transactions().GetByID(ctx, f.tx.ID)
		return err == nil && stored.Status == core.StatusProcessing && stored.SubmittedHash != nil
	}, 2*time.Second, 5*time.Millisecond)

	drained := make(chan error, 1)
	go func() { drained <- f.settlement.Drain(ctx) }()

	require.Eventually(t, func() bool {
		f.settlement.mu.Lock()
		defer f.settlement.mu.Unlock()
		return f.settlement.draining
	}, 2*time.Second, 5*time.Millisecond)

	_, err = f.settlement.Execute(ctx, f.sender, second.ID, ports.Credential{})
	assert.ErrorIs(t, err, ErrShuttingDown)

	select {
	case <-drained:
		t.Fatal("drain returned while a settlement was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.chain.block)
	require.NoError(t, <-drained)

	res := <-executed
	require.NoError(t, res.err)
	assert.Equal(t, core.StatusCompleted, res.tx.Status)

	untouched, err := f.svc.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, untouched.Status)
}

func TestDrainGivesUp(t *testing.T) {
	f := newSettlementFixture(t, time.Minute)
	f.chain.block = make(chan struct{})
	t.Cleanup(func() { close(f.chain.block) })

	go func() {
		_, _ = f.settlement.Execute(context.Background(), f.sender, f.tx.ID, ports.Credential{})
	}()
	require.Eventually(t, func() bool {
		stored, err := f.svc.Get(context.Background(), f.tx.ID)
		return err == nil && stored.Status == core.StatusProcessing
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.settlement.Drain(ctx), context.DeadlineExceeded)
}

func TestDrainIdle(t *testing.T) {
	f := newSettlementFixture(t, time.Minute)
	require.NoError(t, f.settlement.Drain(context.Background()))
	assert.Equal(t, time.Minute+2*finalizeTimeout, f.settlement.DrainTimeout())
}

func TestReportStale(t *testing.T) {
	f := newSettlementFixture(t, time.Minute)
	ctx := context.Background()
	txs := f.ledger.Transactions()

	_, err := txs.Claim(ctx, f.tx.ID)
	require.NoError(t, err)
	require.NoError(t, txs.RecordSubmission(ctx, f.tx.ID, "0xdead"))
	time.Sleep(2 * time.Millisecond)

	n, err := f.settlement.ReportStale(ctx, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StaleSettlements))

	n, err = f.settlement.ReportStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}
