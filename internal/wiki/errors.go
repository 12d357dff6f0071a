package wiki

import (
	"errors"
	"fmt"

	"go-wiki-engine/internal/data"
)

// Sentinel errors for structural failures. Callers match with errors.Is.
var (
	// ErrNotFound is returned when a path segment or record does not resolve.
	ErrNotFound = errors.New("wiki: not found")
	// ErrPermissionDenied is returned on any failed access check. It is never
	// downgraded to a partial result.
	ErrPermissionDenied = errors.New("wiki: permission denied")
)

// NoRootError means a site has no root path node. This is a configuration
// problem requiring operator intervention, not a user-recoverable state.
type NoRootError struct {
	Site string
}

func (e *NoRootError) Error() string {
	return fmt.Sprintf("wiki: no root path exists for site %q", e.Site)
}

// MultipleRootsError means a site has more than one root path node.
// Like NoRootError, this is fatal and requires operator intervention.
type MultipleRootsError struct {
	Site  string
	Count int
}

func (e *MultipleRootsError) Error() string {
	return fmt.Sprintf("wiki: site %q has %d root paths, expected exactly one", e.Site, e.Count)
}

// ValidationError reports malformed input (bad slug, reserved word, missing
// title). It is surfaced to the caller for correction and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("wiki: invalid %s: %s", e.Field, e.Message)
}

// ConflictError reports an optimistic-concurrency failure: a stale revision
// base, a duplicate revision number race, or a slug collision. When the
// conflict comes from a stale edit base, MergedContent carries the submitted
// content merged against the new current revision and CurrentRevision names
// the revision the caller must rebase on. The merge is never auto-committed;
// the caller has to resubmit explicitly.
type ConflictError struct {
	Message         string
	MergedContent   string
	CurrentRevision *data.Revision
}

func (e *ConflictError) Error() string {
	return "wiki: conflict: " + e.Message
}

// IsFatal reports whether err is a structural invariant violation that
// operators must resolve, as opposed to a user-correctable failure.
func IsFatal(err error) bool {
	var noRoot *NoRootError
	var multi *MultipleRootsError
	return errors.As(err, &noRoot) || errors.As(err, &multi)
}
