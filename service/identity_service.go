package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/layer-3/usdcpay/core"
	"github.com/layer-3/usdcpay/ports"
)

const (
	// SearchLimit caps user search results.
	SearchLimit = 10

	minUsernameLength = 3
	maxUsernameLength = 30
)

// IdentityService maps wallet addresses to users and manages profiles.
type IdentityService struct {
	users  ports.UserStore
	logger *slog.Logger
}

func NewIdentityService(users ports.UserStore, logger *slog.Logger) *IdentityService {
	return &IdentityService{users: users, logger: logger.With("component", "identity")}
}

// Resolve returns the user owning walletAddress, creating it on first sight.
func (s *IdentityService) Resolve(ctx context.Context, walletAddress string) (*core.User, error) {
	if !core.ValidAddress(walletAddress) {
		return nil, core.Validation("Invalid wallet address")
	}

	user, err := s.users.FindOrCreate(ctx, core.NormalizeAddress(walletAddress))
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	return user, nil
}

// Register creates a user explicitly.
func (s *IdentityService) Register(ctx context.Context, walletAddress string, username, email *string) (*core.User, error) {
	if !core.ValidAddress(walletAddress) {
		return nil, core.Validation("Invalid wallet address")
	}

	username = trimmed(username)
	if err := checkUsername(username); err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, core.NormalizeAddress(walletAddress), username, trimmed(email))
	if errors.Is(err, core.ErrUserExists) {
		return nil, core.Conflict("User already exists")
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

func (s *IdentityService) Get(ctx context.Context, id string) (*core.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, core.ErrUserNotFound) {
		return nil, core.NotFound("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// UpdateProfile applies a partial profile change to the caller's own user.
func (s *IdentityService) UpdateProfile(ctx context.Context, who core.Identity, update core.ProfileUpdate) (*core.User, error) {
	update = core.ProfileUpdate{Username: trimmed(update.Username), Email: trimmed(update.Email)}
	if update.Empty() {
		return s.Get(ctx, who.UserID)
	}
	if err := checkUsername(update.Username); err != nil {
		return nil, err
	}

	user, err := s.users.UpdateProfile(ctx, who.UserID, update)
	switch {
	case errors.Is(err, core.ErrUserNotFound):
		return nil, core.NotFound("User not found")
	case errors.Is(err, core.ErrUserExists):
		return nil, core.Conflict("Username already taken")
	case err != nil:
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return user, nil
}

// Search matches query against usernames and wallet addresses.
func (s *IdentityService) Search(ctx context.Context, query string) ([]*core.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, core.Validation("Search query is required")
	}

	users, err := s.users.Search(ctx, query, SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

// trimmed drops surrounding whitespace and turns blank values into nil.
func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func checkUsername(username *string) error {
	if username == nil {
		return nil
	}
	if n := utf8.RuneCountInString(*username); n < minUsernameLength || n > maxUsernameLength {
		return core.Validation(fmt.Sprintf("Username must be %d to %d characters", minUsernameLength, maxUsernameLength))
	}
	return nil
}
