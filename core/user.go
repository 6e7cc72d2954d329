package core

import "time"

// User is a wallet-linked account.
type User struct {
	ID            string
	WalletAddress string // lower-cased, unique, immutable
	Username      *string
	Email         *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProfileUpdate is a partial profile change; nil fields stay unchanged.
type ProfileUpdate struct {
	Username *string
	Email    *string
}

// Empty reports whether the update changes nothing.
func (p ProfileUpdate) Empty() bool {
	return p.Username == nil && p.Email == nil
}
