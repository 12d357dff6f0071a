package middleware

import (
	"context"

	"go-wiki-engine/internal/wiki"
)

// contextKey defines a custom type for context keys to avoid collisions.
type contextKey string

const userContextKey = contextKey("user")

// UserInfo represents the essential user information stored in the session and request context.
type UserInfo struct {
	Subject   string
	Groups    []string
	IPAddress string
}

// Principal converts the request user into the wiki core's principal type.
// The "anonymous" subject maps to the zero (anonymous) principal.
func (u *UserInfo) Principal() wiki.Principal {
	p := wiki.Principal{Groups: u.Groups, IPAddress: u.IPAddress}
	if u.Subject != "" && u.Subject != "anonymous" {
		p.ID = u.Subject
	}
	return p
}

// GetUserInfo retrieves the user information from the request context.
func GetUserInfo(ctx context.Context) *UserInfo {
	if userInfo, ok := ctx.Value(userContextKey).(*UserInfo); ok {
		return userInfo
	}
	// Return an anonymous user if no user info is found in the context.
	return &UserInfo{Subject: "anonymous"}
}

// SetUserInfo adds the user information to the request context.
func SetUserInfo(ctx context.Context, userInfo *UserInfo) context.Context {
	return context.WithValue(ctx, userContextKey, userInfo)
}
