package ports

import (
	"context"
	"math/big"
)

// Signer is a capability to authorize transfers from one wallet.
type Signer interface {
	Address() string
}

// Credential is what the caller presents to obtain a Signer.
// An empty PrivateKey selects the custodial signer of the wallet.
type Credential struct {
	PrivateKey string
}

// SignerProvider resolves the signer allowed to spend from walletAddress.
type SignerProvider interface {
	SignerFor(ctx context.Context, walletAddress string, cred Credential) (Signer, error)
}

// Chain is the USDC token on the settlement network.
type Chain interface {
	// Submit broadcasts transfer(to, amount) signed by from and returns the
	// transaction hash.
	Submit(ctx context.Context, from Signer, to string, amount *big.Int) (string, error)
	// Confirm blocks until hash is mined and fails unless it succeeded.
	Confirm(ctx context.Context, hash string) error
	BalanceOf(ctx context.Context, address string) (*big.Int, error)
}
