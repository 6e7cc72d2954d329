package core

import "time"

// NoncePrefix is the human-readable part of every login challenge.
const NoncePrefix = "Sign this message to verify your wallet ownership: "

// Session represents an authenticated user session
type Session struct {
	ID            string    // Unique session identifier (JWT ID)
	UserID        string    // ID of the user the session belongs to
	WalletAddress string    // Lower-cased wallet address at issuance time
	IssuedAt      time.Time // When the session was created
	ExpiresAt     time.Time // When the session stops being accepted
}

// Identity is the authenticated caller of a protected operation.
type Identity struct {
	UserID        string
	WalletAddress string
}

// Identity returns the caller identity carried by the session.
func (s *Session) Identity() Identity {
	return Identity{UserID: s.UserID, WalletAddress: s.WalletAddress}
}

// AuthResult is returned by a successful wallet login.
type AuthResult struct {
	Token string
	User  *User
}
