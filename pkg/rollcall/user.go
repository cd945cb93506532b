package rollcall

import (
	"context"
	"strings"
)

// ServiceUserDirectory is the service registry key for the optional user directory.
const ServiceUserDirectory = "rollcall.user_directory"

// UserLookup is one user reference to validate.
type UserLookup struct {
	// Platform is the platform the reference was written on.
	Platform Platform
	// SinkID is the driver instance that received the reference.
	SinkID string
	// Token is the raw reference captured after '@', e.g. "U024BE7LH" or "alice".
	Token string
}

// UserDirectory validates and canonicalizes user references.
type UserDirectory interface {
	// ResolveUser returns the canonical member ID for lookup.Token.
	// It returns an error wrapping ErrUserNotFound when the user does not exist.
	ResolveUser(ctx context.Context, lookup UserLookup) (string, error)
}

// UserDirectoryFunc adapts a function to UserDirectory.
type UserDirectoryFunc func(ctx context.Context, lookup UserLookup) (string, error)

// ResolveUser calls f.
func (f UserDirectoryFunc) ResolveUser(ctx context.Context, lookup UserLookup) (string, error) {
	return f(ctx, lookup)
}

// PassthroughUserDirectory accepts every reference verbatim.
var PassthroughUserDirectory UserDirectory = UserDirectoryFunc(
	func(_ context.Context, lookup UserLookup) (string, error) {
		return lookup.Token, nil
	},
)

// FormatUserMention renders a stored member ID as a notifying mention on platform.
func FormatUserMention(platform Platform, memberID string) string {
	switch platform {
	case PlatformSlack:
		return "<@" + memberID + ">"
	default:
		if strings.HasPrefix(memberID, "@") {
			return memberID
		}
		return "@" + memberID
	}
}
