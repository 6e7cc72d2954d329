package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/usdcpay/core"
	"github.com/layer-3/usdcpay/ports"
)

// Signer authorizes transfers from a single address.
type Signer struct {
	address common.Address
	opts    *bind.TransactOpts
}

func (s *Signer) Address() string {
	return strings.ToLower(s.address.Hex())
}

// SignerProviderConfig configures where signing keys come from.
type SignerProviderConfig struct {
	ChainID *big.Int
	// Keystore holds custodial keys; nil disables custodial signing.
	Keystore   *keystore.KeyStore
	Passphrase string
	// AllowRequestKeys accepts a raw private key presented by the caller.
	AllowRequestKeys bool
}

// SignerProvider hands out signers from the custodial keystore, or from a
// caller-supplied key when that is enabled.
// Custodial keys are never left unlocked in the keystore; each transaction is
// signed by decrypting the key with the passphrase.
type SignerProvider struct {
	cfg SignerProviderConfig
	// verified holds the custodial addresses whose passphrase was checked.
	verified sync.Map
}

func NewSignerProvider(cfg SignerProviderConfig) (*SignerProvider, error) {
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("chain id is required")
	}
	return &SignerProvider{cfg: cfg}, nil
}

var _ ports.SignerProvider = (*SignerProvider)(nil)

func (p *SignerProvider) SignerFor(ctx context.Context, walletAddress string, cred ports.Credential) (ports.Signer, error) {
	if !common.IsHexAddress(walletAddress) {
		return nil, core.Validation("Invalid wallet address")
	}
	wallet := common.HexToAddress(walletAddress)

	if cred.PrivateKey != "" {
		if !p.cfg.AllowRequestKeys {
			return nil, core.Validation("Private keys are not accepted")
		}
		return p.keySigner(wallet, cred.PrivateKey)
	}

	return p.custodialSigner(wallet)
}

func (p *SignerProvider) keySigner(wallet common.Address, privateKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimPrefix(privateKey, "0x"), "0X"))
	if err != nil {
		return nil, core.Unauthorized("Invalid private key")
	}

	address := crypto.PubkeyToAddress(key.PublicKey)
	if address != wallet {
		return nil, core.Unauthorized("Private key does not match sender wallet")
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, p.cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("keyed transactor: %w", err)
	}
	return &Signer{address: address, opts: opts}, nil
}

func (p *SignerProvider) custodialSigner(wallet common.Address) (*Signer, error) {
	ks := p.cfg.Keystore
	if ks == nil || !ks.HasAddress(wallet) {
		return nil, core.Unauthorized("No signing key available for sender wallet")
	}
	account := accounts.Account{Address: wallet}

	if _, ok := p.verified.Load(wallet); !ok {
		if _, err := ks.SignHashWithPassphrase(account, p.cfg.Passphrase, make([]byte, 32)); err != nil {
			return nil, fmt.Errorf("decrypt keystore account: %w", err)
		}
		p.verified.Store(wallet, struct{}{})
	}

	chainID := p.cfg.ChainID
	passphrase := p.cfg.Passphrase
	opts := &bind.TransactOpts{
		From: wallet,
		Signer: func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if addr != wallet {
				return nil, bind.ErrNotAuthorized
			}
			return ks.SignTxWithPassphrase(account, passphrase, tx, chainID)
		},
		Context: context.Background(),
	}
	return &Signer{address: wallet, opts: opts}, nil
}
