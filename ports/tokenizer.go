package ports

import "github.com/layer-3/usdcpay/core"

// Tokenizer converts between sessions and bearer tokens
type Tokenizer interface {
	SessionToToken(session *core.Session) (string, error)
	TokenToSession(token string) (*core.Session, error)
}

// SignatureVerifier checks that message was signed by claimedAddress.
// Malformed input yields false, never an error.
type SignatureVerifier interface {
	Verify(message, signature, claimedAddress string) bool
}
