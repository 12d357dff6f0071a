// Package wiki implements the content core: per-article immutable revision
// chains, the hierarchical URL path tree, permission computation and
// propagation, the rendered-content cache and plugin attachments. The HTTP
// layer is a thin translator onto these services.
package wiki

import (
	"context"

	"go-wiki-engine/internal/data"
)

// Principal identifies the acting user for permission checks and revision
// attribution. A zero ID means anonymous; anonymous principals still carry
// the request IP when IP logging is enabled.
type Principal struct {
	ID        string
	Groups    []string
	IPAddress string
}

// Anonymous reports whether the principal is unauthenticated.
func (p Principal) Anonymous() bool {
	return p.ID == ""
}

// InGroup reports whether the principal belongs to the named group.
func (p Principal) InGroup(group string) bool {
	for _, g := range p.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Capabilities known to the permission layer. They are granted through the
// authorization backend, not stored on articles.
const (
	// CapModerate overrides read/write checks entirely.
	CapModerate = "moderate"
	// CapAssign allows changing owner/group on articles the principal does
	// not own.
	CapAssign = "assign"
)

// CapabilityChecker answers global capability queries for a principal.
type CapabilityChecker interface {
	HasCapability(principal, capability string) (bool, error)
}

// ArticleRepository is the persistence contract for articles, revisions and
// article-object relations.
type ArticleRepository interface {
	CreateArticle(ctx context.Context, article *data.Article) error
	GetArticle(ctx context.Context, id int64) (*data.Article, error)
	UpdateArticle(ctx context.Context, article *data.Article) error
	AddRevision(ctx context.Context, rev *data.Revision) error
	CurrentRevision(ctx context.Context, articleID int64) (*data.Revision, error)
	GetRevision(ctx context.Context, id int64) (*data.Revision, error)
	GetRevisionByNumber(ctx context.Context, articleID int64, number int) (*data.Revision, error)
	ListRevisions(ctx context.Context, articleID int64) ([]*data.Revision, error)
	CreateRelation(ctx context.Context, rel *data.ArticleRelation) error
	RelationsForArticle(ctx context.Context, articleID int64) ([]*data.ArticleRelation, error)
}

// PathRepository is the persistence contract for the URL path tree.
type PathRepository interface {
	RootNodes(ctx context.Context, site string) ([]*data.URLPath, error)
	GetNode(ctx context.Context, id int64) (*data.URLPath, error)
	Children(ctx context.Context, parentID int64) ([]*data.URLPath, error)
	ChildBySlug(ctx context.Context, parentID int64, slug string, caseSensitive bool) (*data.URLPath, error)
	Ancestors(ctx context.Context, nodeID int64) ([]*data.URLPath, error)
	Descendants(ctx context.Context, nodeID int64) ([]*data.URLPath, error)
	NodesForArticle(ctx context.Context, site string, articleID int64) ([]*data.URLPath, error)
	CreatePathWithArticle(ctx context.Context, node *data.URLPath, article *data.Article, rev *data.Revision) error
	MoveNode(ctx context.Context, nodeID, newParentID int64, newSlug string) error
	SetMovedTo(ctx context.Context, nodeID int64, movedToID *int64) error
	ReparentChildren(ctx context.Context, nodeID, newParentID int64) error
	PurgeNodes(ctx context.Context, nodes []*data.URLPath) error
}

// PluginRepository is the persistence contract for plugin attachments.
type PluginRepository interface {
	CreateSimplePlugin(ctx context.Context, p *data.SimplePlugin) error
	SimplePluginsForArticle(ctx context.Context, articleID int64) ([]*data.SimplePlugin, error)
	RebindSimplePlugins(ctx context.Context, articleID, revisionID int64) error
	CreateReusablePlugin(ctx context.Context, p *data.ReusablePlugin, articleIDs []int64) error
	ReusablePluginArticles(ctx context.Context, pluginID int64) ([]int64, error)
	CreateRevisionPlugin(ctx context.Context, p *data.RevisionPlugin) error
	GetRevisionPlugin(ctx context.Context, id int64) (*data.RevisionPlugin, error)
	AddPluginRevision(ctx context.Context, rev *data.PluginRevision) error
	CurrentPluginRevision(ctx context.Context, pluginID int64) (*data.PluginRevision, error)
}

// RenderContext carries the inputs the markdown/sanitize collaborator may
// depend on besides the raw content.
type RenderContext struct {
	Article   *data.Article
	Language  string
	Principal Principal
	Preview   bool
}

// Renderer is the external markdown/sanitize collaborator. The core passes
// registry-derived extension and whitelist sets into its construction but
// does not implement rendering itself.
type Renderer interface {
	Render(ctx context.Context, content string, rc RenderContext) (string, error)
}
