package service

import (
	"context"
	"fmt"

	"github.com/layer-3/usdcpay/core"
	"github.com/layer-3/usdcpay/ports"
)

// BalanceService reads on-chain USDC balances.
type BalanceService struct {
	chain ports.Chain
}

func NewBalanceService(chain ports.Chain) *BalanceService {
	return &BalanceService{chain: chain}
}

func (s *BalanceService) BalanceOf(ctx context.Context, address string) (*core.Balance, error) {
	if !core.ValidAddress(address) {
		return nil, core.Validation("Invalid Ethereum address")
	}

	addr := core.NormalizeAddress(address)
	raw, err := s.chain.BalanceOf(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}

	return &core.Balance{
		Address:   addr,
		Raw:       raw.String(),
		Formatted: core.FormatUSDC(raw),
	}, nil
}
