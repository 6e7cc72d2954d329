package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/layer-3/usdcpay/ports"
)

// MainnetUSDC is the USDC token contract on Ethereum mainnet.
const MainnetUSDC = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"

const erc20ABI = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	ErrUnknownSigner = errors.New("signer was not issued by this chain client")
	ErrReverted      = errors.New("transfer reverted")
)

// Backend is the part of an RPC client the USDC binding needs.
// *ethclient.Client and the simulated backend satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// USDC talks to the USDC ERC-20 contract.
type USDC struct {
	backend  Backend
	contract *bind.BoundContract
}

func NewUSDC(backend Backend, contractAddress string) (*USDC, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid USDC contract address %q", contractAddress)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	return &USDC{
		backend:  backend,
		contract: bind.NewBoundContract(common.HexToAddress(contractAddress), parsed, backend, backend, backend),
	}, nil
}

var _ ports.Chain = (*USDC)(nil)

// TxError is returned when a broadcast transfer does not succeed.
type TxError struct {
	Hash string
	Err  error
}

func (e *TxError) Error() string { return fmt.Sprintf("tx %s: %v", e.Hash, e.Err) }
func (e *TxError) Unwrap() error { return e.Err }

func (u *USDC) Submit(ctx context.Context, from ports.Signer, to string, amount *big.Int) (string, error) {
	s, ok := from.(*Signer)
	if !ok {
		return "", ErrUnknownSigner
	}
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("invalid recipient address %q", to)
	}

	opts := *s.opts
	opts.Context = ctx

	tx, err := u.contract.Transact(&opts, "transfer", common.HexToAddress(to), amount)
	if err != nil {
		return "", fmt.Errorf("submit transfer: %w", err)
	}
	return tx.Hash().Hex(), nil
}

func (u *USDC) Confirm(ctx context.Context, hash string) error {
	receipt, err := bind.WaitMinedHash(ctx, u.backend, common.HexToHash(hash))
	if err != nil {
		return &TxError{Hash: hash, Err: fmt.Errorf("wait mined: %w", err)}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return &TxError{Hash: hash, Err: ErrReverted}
	}
	return nil
}

func (u *USDC) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}

	var out []interface{}
	err := u.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("call balanceOf: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("balanceOf returned %d values", len(out))
	}

	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned %T", out[0])
	}
	return balance, nil
}
