package wiki

import (
	"context"
	"fmt"

	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/plugin"
)

// KindURLPath is the relation kind under which articles attach to path nodes.
const KindURLPath = "urlpath"

// RelationKind describes one attachable object kind. Articles reference
// objects through a (kind, id) pair; kinds resolve through this dispatch
// table instead of a reflection-based generic foreign key.
type RelationKind struct {
	// Name tags relation rows.
	Name string
	// InheritsPermissions opts objects of this kind into recursive
	// permission propagation.
	InheritsPermissions bool
}

// RelationRegistry is the dispatch table of registered relation kinds. Like
// the plugin registry it is populated once at startup.
type RelationRegistry struct {
	kinds map[string]RelationKind
}

// NewRelationRegistry creates a registry pre-loaded with the path-tree kind,
// which always participates in permission inheritance.
func NewRelationRegistry() *RelationRegistry {
	r := &RelationRegistry{kinds: make(map[string]RelationKind)}
	// Registering the built-in kind cannot collide.
	_ = r.Register(RelationKind{Name: KindURLPath, InheritsPermissions: true})
	return r
}

// Register adds a relation kind. Duplicate names fail with
// plugin.ErrAlreadyRegistered.
func (r *RelationRegistry) Register(kind RelationKind) error {
	if kind.Name == "" {
		return fmt.Errorf("relation kind requires a name")
	}
	if _, ok := r.kinds[kind.Name]; ok {
		return fmt.Errorf("%w: relation kind %q", plugin.ErrAlreadyRegistered, kind.Name)
	}
	r.kinds[kind.Name] = kind
	return nil
}

// Known reports whether a kind is registered.
func (r *RelationRegistry) Known(name string) bool {
	_, ok := r.kinds[name]
	return ok
}

// InheritsPermissions reports whether objects of the kind opt into
// permission propagation. Unknown kinds do not inherit.
func (r *RelationRegistry) InheritsPermissions(name string) bool {
	return r.kinds[name].InheritsPermissions
}

// Relate attaches an article to an object of a registered kind. Attaching to
// an unregistered kind is a programming error surfaced as ValidationError.
func (r *RelationRegistry) Relate(ctx context.Context, repo ArticleRepository, articleID int64, kind string, objectID int64) error {
	if !r.Known(kind) {
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unregistered relation kind %q", kind)}
	}
	rel := &data.ArticleRelation{ArticleID: articleID, Kind: kind, ObjectID: objectID}
	if err := repo.CreateRelation(ctx, rel); err != nil {
		return fmt.Errorf("failed to relate article %d to %s %d: %w", articleID, kind, objectID, err)
	}
	return nil
}
