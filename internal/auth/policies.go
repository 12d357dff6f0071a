package auth

import (
	"fmt"

	"github.com/casbin/casbin/v2"

	"go-wiki-engine/internal/logger"
)

// SeedDefaultPolicies ensures that the application has a baseline set of
// authorization rules. It checks if each default policy exists before adding
// it, making the operation idempotent and safe to run on every application
// start.
func SeedDefaultPolicies(e casbin.IEnforcer, log logger.Logger) {
	log.Info("Seeding default authorization policies...")

	// Route policies gate the HTTP surface; capability policies gate the wiki
	// core's global overrides. The 'editor' role inherits from 'anonymous' and
	// 'moderator' from 'editor'.
	policies := [][]string{
		// Anonymous users can read the wiki and reach the auth routes.
		{"anonymous", "/", "GET"},
		{"anonymous", "/wiki/*", "GET"},
		{"anonymous", "/auth/login", "GET"},
		{"anonymous", "/auth/callback", "GET"},
		{"anonymous", "/sitemap.xml", "GET"},

		// Editors can create and edit articles.
		{"editor", "/wiki/*", "POST"},
		{"editor", "/_create/*", "GET"},
		{"editor", "/_create/*", "POST"},
		{"editor", "/_edit/*", "GET"},
		{"editor", "/_edit/*", "POST"},
		{"editor", "/_history/*", "GET"},
		{"editor", "/_rollback/*", "POST"},
		{"editor", "/auth/logout", "GET"},

		// Moderators additionally manage structure and settings.
		{"moderator", "/_settings/*", "GET"},
		{"moderator", "/_settings/*", "POST"},
		{"moderator", "/_move/*", "GET"},
		{"moderator", "/_move/*", "POST"},
		{"moderator", "/_delete/*", "POST"},
		{"moderator", "/_purge/*", "POST"},
		{"moderator", "/_restore/*", "POST"},

		// Wiki-core capabilities.
		{"moderator", "wiki:moderate", "use"},
		{"moderator", "wiki:assign", "use"},
	}
	for _, p := range policies {
		if has, _ := e.HasPolicy(p); !has {
			if _, err := e.AddPolicy(p); err != nil {
				log.Error(err, fmt.Sprintf("Failed to add policy %v", p))
			}
		}
	}

	roles := [][2]string{
		{"editor", "anonymous"},
		{"moderator", "editor"},
	}
	for _, r := range roles {
		if has, _ := e.HasRoleForUser(r[0], r[1]); !has {
			if _, err := e.AddRoleForUser(r[0], r[1]); err != nil {
				log.Error(err, fmt.Sprintf("Failed to add role %q -> %q", r[0], r[1]))
			}
		}
	}
	log.Info("Policy seeding complete.")
}
