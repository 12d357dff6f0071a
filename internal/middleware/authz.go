package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/casbin/casbin/v2"

	"go-wiki-engine/internal/session"
)

// Authorizer creates a new middleware for authorization.
// It resolves the acting user from the session, attaches it to the request
// context, and checks route access with Casbin.
func Authorizer(e casbin.IEnforcer, sm session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Get the user's subject from the session.
			// If not present, it will be an empty string.
			subject := sm.GetString(r.Context(), "user_subject")
			if subject == "" {
				subject = "anonymous"
			}
			groups := splitGroups(sm.GetString(r.Context(), "user_groups"))

			// Add user info to the request context for downstream handlers.
			userInfo := &UserInfo{
				Subject:   subject,
				Groups:    groups,
				IPAddress: clientIP(r),
			}
			r = r.WithContext(SetUserInfo(r.Context(), userInfo))

			// Use Casbin to enforce the route policy.
			allowed, err := e.Enforce(subject, r.URL.Path, r.Method)
			if err != nil {
				http.Error(w, "Authorization error", http.StatusInternalServerError)
				return
			}

			if !allowed {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func splitGroups(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
