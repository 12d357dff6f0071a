package auth

import (
	"fmt"

	"github.com/casbin/casbin/v2"
)

// Checker answers wiki capability queries against the Casbin enforcer.
// Capabilities are modeled as policy objects with a "wiki:" prefix so they
// share the rule table with route policies without colliding.
type Checker struct {
	enforcer casbin.IEnforcer
}

// NewChecker creates a new Checker.
func NewChecker(enforcer casbin.IEnforcer) *Checker {
	return &Checker{enforcer: enforcer}
}

// HasCapability reports whether the principal (directly or through a role)
// holds the named capability.
func (c *Checker) HasCapability(principal, capability string) (bool, error) {
	ok, err := c.enforcer.Enforce(principal, "wiki:"+capability, "use")
	if err != nil {
		return false, fmt.Errorf("failed to check capability %q for %q: %w", capability, principal, err)
	}
	return ok, nil
}
