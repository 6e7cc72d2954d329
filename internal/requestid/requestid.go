// Package requestid carries the per-request correlation ID that ties API
// responses to log lines and published events.
package requestid

import (
	"context"
	"regexp"

	"github.com/google/uuid"
)

// Header is where clients may supply an ID and where the server echoes it.
const Header = "X-Request-ID"

var wellFormed = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

type key struct{}

// Resolve keeps a client supplied ID when it is safe to log and otherwise
// mints a fresh UUID.
func Resolve(incoming string) string {
	if wellFormed.MatchString(incoming) {
		return incoming
	}
	return uuid.NewString()
}

func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, key{}, id)
}

// From returns the ID stored by With, or "".
func From(ctx context.Context) string {
	id, _ := ctx.Value(key{}).(string)
	return id
}
