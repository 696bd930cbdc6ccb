// Package identity resolves the acting principal for an agent invocation.
//
// A thread id has the form "<user-id>:<opaque-token>". The integer prefix is
// the id of the user who owns the conversation; it is decoded once per
// invocation and carried on the request context so that tool handlers can
// resolve their injected parameters without trusting anything the model
// supplies.
package identity

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type userIDKey struct{}

// WithUser returns a context carrying the acting user's id. It is set once
// per top-level invocation, immediately after the thread id is decoded, and
// is never mutated by tool logic.
func WithUser(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserFrom returns the acting user's id, if one was resolved for this
// invocation.
func UserFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey{}).(int64)
	return id, ok
}

// ParseThreadID extracts the user id from a thread id of the form
// "<user-id>:<token>". A malformed id (no separator, empty or non-integer
// prefix) resolves to no identity rather than an error: tools that need an
// identity then see an explicit absent value.
func ParseThreadID(threadID string) (int64, bool) {
	prefix, _, found := strings.Cut(threadID, ":")
	if !found || prefix == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// NewThreadID mints a thread id for a new conversation owned by userID.
func NewThreadID(userID int64) string {
	return strconv.FormatInt(userID, 10) + ":" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
