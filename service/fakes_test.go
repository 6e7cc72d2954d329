package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"

	"github.com/layer-3/usdcpay/core"
	"github.com/layer-3/usdcpay/ports"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSigner struct{ address string }

func (s fakeSigner) Address() string { return s.address }

type fakeSigners struct {
	err error
}

func (f *fakeSigners) SignerFor(_ context.Context, walletAddress string, _ ports.Credential) (ports.Signer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return fakeSigner{address: walletAddress}, nil
}

type transferCall struct {
	from   string
	to     string
	amount string
}

type fakeChain struct {
	mu        sync.Mutex
	calls     []transferCall
	hash      string
	submitErr error
	// err is returned by Confirm and BalanceOf.
	err     error
	balance *big.Int
	// block, when set, is waited on inside Confirm; a closed ctx wins.
	block   chan struct{}
	ctxErrs []error
}

func (c *fakeChain) Submit(ctx context.Context, from ports.Signer, to string, amount *big.Int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, transferCall{from: from.Address(), to: to, amount: amount.String()})
	c.ctxErrs = append(c.ctxErrs, ctx.Err())
	if c.submitErr != nil {
		return "", c.submitErr
	}
	return c.hash, nil
}

func (c *fakeChain) Confirm(ctx context.Context, _ string) error {
	c.mu.Lock()
	block := c.block
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.err
}

func (c *fakeChain) BalanceOf(_ context.Context, _ string) (*big.Int, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.balance, nil
}

func (c *fakeChain) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type recordedEvent struct {
	event  string
	status core.Status
	id     string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (p *fakePublisher) PublishTransaction(_ context.Context, event string, tx *core.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, recordedEvent{event: event, status: tx.Status, id: tx.ID})
	return nil
}

func (p *fakePublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.event
	}
	return out
}

var errRPC = errors.New("execution reverted: transfer amount exceeds balance")
