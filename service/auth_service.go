package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/usdcpay/core"
	"github.com/layer-3/usdcpay/internal/metrics"
	"github.com/layer-3/usdcpay/ports"
)

// nonceSpace bounds the random part of a login nonce: [0, 10^18).
var nonceSpace = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// AuthService handles authentication business logic
type AuthService struct {
	tokenizer ports.Tokenizer
	verifier  ports.SignatureVerifier
	nonces    ports.NonceStore
	identity  *IdentityService
	logger    *slog.Logger

	nonceTTL time.Duration
	tokenTTL time.Duration
	now      func() time.Time
}

// AuthOptions overrides the default lifetimes.
type AuthOptions struct {
	NonceTTL time.Duration
	TokenTTL time.Duration
}

// NewAuthService creates a new authentication service
func NewAuthService(
	tokenizer ports.Tokenizer,
	verifier ports.SignatureVerifier,
	nonces ports.NonceStore,
	identity *IdentityService,
	logger *slog.Logger,
	opts AuthOptions,
) *AuthService {
	s := &AuthService{
		tokenizer: tokenizer,
		verifier:  verifier,
		nonces:    nonces,
		identity:  identity,
		logger:    logger.With("component", "auth"),
		nonceTTL:  5 * time.Minute,
		tokenTTL:  24 * time.Hour,
		now:       time.Now,
	}
	if opts.NonceTTL > 0 {
		s.nonceTTL = opts.NonceTTL
	}
	if opts.TokenTTL > 0 {
		s.tokenTTL = opts.TokenTTL
	}
	return s
}

// IssueNonce returns a fresh login challenge and remembers it until it is
// used or expires.
func (s *AuthService) IssueNonce(ctx context.Context) (string, error) {
	n, err := rand.Int(rand.Reader, nonceSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	nonce := n.String()

	if err := s.nonces.Save(ctx, nonce, s.nonceTTL); err != nil {
		return "", fmt.Errorf("failed to store nonce: %w", err)
	}
	metrics.NoncesIssuedTotal.Inc()

	return core.NoncePrefix + nonce, nil
}

// Authenticate logs a wallet in with a signed nonce message
func (s *AuthService) Authenticate(ctx context.Context, walletAddress, signature, message string) (*core.AuthResult, error) {
	if !core.ValidAddress(walletAddress) || signature == "" || message == "" {
		metrics.AuthAttemptsTotal.WithLabelValues("invalid_input").Inc()
		return nil, core.Validation("Invalid input")
	}

	// Signature first: a bad signature must not burn the nonce.
	if !s.verifier.Verify(message, signature, walletAddress) {
		metrics.AuthAttemptsTotal.WithLabelValues("invalid_signature").Inc()
		return nil, core.Unauthorized("Invalid signature")
	}

	nonce, ok := strings.CutPrefix(message, core.NoncePrefix)
	if !ok || nonce == "" {
		metrics.AuthAttemptsTotal.WithLabelValues("invalid_nonce").Inc()
		return nil, core.Unauthorized("Invalid or expired nonce")
	}

	live, err := s.nonces.Consume(ctx, nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to consume nonce: %w", err)
	}
	if !live {
		metrics.AuthAttemptsTotal.WithLabelValues("invalid_nonce").Inc()
		return nil, core.Unauthorized("Invalid or expired nonce")
	}

	user, err := s.identity.Resolve(ctx, walletAddress)
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &core.Session{
		ID:            uuid.New().String(),
		UserID:        user.ID,
		WalletAddress: user.WalletAddress,
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.tokenTTL),
	}

	token, err := s.tokenizer.SessionToToken(session)
	if err != nil {
		return nil, fmt.Errorf("failed to create session token: %w", err)
	}

	metrics.AuthAttemptsTotal.WithLabelValues("success").Inc()
	s.logger.InfoContext(ctx, "wallet authenticated", "user_id", user.ID, "wallet", user.WalletAddress)

	return &core.AuthResult{Token: token, User: user}, nil
}

// ValidateToken turns a bearer token into the caller identity
func (s *AuthService) ValidateToken(ctx context.Context, token string) (core.Identity, error) {
	session, err := s.tokenizer.TokenToSession(token)
	if err != nil {
		return core.Identity{}, err
	}
	return session.Identity(), nil
}
