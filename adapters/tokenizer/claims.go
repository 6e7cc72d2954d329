package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionClaims combines standard claims with the identity of the session
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID        string `json:"id"`
	WalletAddress string `json:"walletAddress"`
}
