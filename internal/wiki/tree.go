package wiki

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go-wiki-engine/internal/config"
	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/logger"
)

var numericSlug = regexp.MustCompile(`^[0-9]+$`)

// TreeService manages the hierarchical URL path tree of a site: resolution of
// slash-separated paths to articles, node creation, moves, logical deletion
// and physical purges. Every site has exactly one root node with an empty
// slug; all other nodes hang off it.
type TreeService struct {
	paths    PathRepository
	articles ArticleRepository
	svc      *ArticleService
	perms    *PermissionService
	cache    *RenderCache
	cfg      config.WikiConfig
	log      logger.Logger
}

// NewTreeService creates a new TreeService.
func NewTreeService(paths PathRepository, articles ArticleRepository, svc *ArticleService, perms *PermissionService, cache *RenderCache, cfg config.WikiConfig, log logger.Logger) *TreeService {
	return &TreeService{
		paths:    paths,
		articles: articles,
		svc:      svc,
		perms:    perms,
		cache:    cache,
		cfg:      cfg,
		log:      log,
	}
}

// Root returns the site's single root node. Zero roots means the site is
// uninitialized (NoRootError); more than one means the tree invariant is
// broken and nothing sensible can be resolved (MultipleRootsError).
func (s *TreeService) Root(ctx context.Context) (*data.URLPath, error) {
	roots, err := s.paths.RootNodes(ctx, s.cfg.Site)
	if err != nil {
		return nil, err
	}
	switch len(roots) {
	case 0:
		return nil, &NoRootError{Site: s.cfg.Site}
	case 1:
		return roots[0], nil
	default:
		return nil, &MultipleRootsError{Site: s.cfg.Site, Count: len(roots)}
	}
}

// Resolve walks a slash-separated path from the site root to a node. The
// empty path resolves to the root. Redirect stubs at the final node are
// followed; a missing segment surfaces as ErrNotFound.
func (s *TreeService) Resolve(ctx context.Context, path string) (*data.URLPath, error) {
	node, err := s.Root(ctx)
	if err != nil {
		return nil, err
	}
	for _, segment := range splitPath(path) {
		child, err := s.paths.ChildBySlug(ctx, node.ID, segment, s.cfg.URLCaseSensitive)
		if err != nil {
			if errors.Is(err, data.ErrNotFound) {
				return nil, fmt.Errorf("no article at %q: %w", path, ErrNotFound)
			}
			return nil, err
		}
		node = child
	}
	return s.followRedirects(ctx, node)
}

// GetNode retrieves a single node by ID.
func (s *TreeService) GetNode(ctx context.Context, nodeID int64) (*data.URLPath, error) {
	node, err := s.paths.GetNode(ctx, nodeID)
	if err != nil {
		return nil, mapDataErr(err)
	}
	return node, nil
}

// Children lists a node's direct children.
func (s *TreeService) Children(ctx context.Context, nodeID int64) ([]*data.URLPath, error) {
	return s.paths.Children(ctx, nodeID)
}

// Descendants returns a node's subtree excluding the node, shallowest first.
func (s *TreeService) Descendants(ctx context.Context, nodeID int64) ([]*data.URLPath, error) {
	return s.paths.Descendants(ctx, nodeID)
}

// NodesForArticle lists the nodes an article is mounted at.
func (s *TreeService) NodesForArticle(ctx context.Context, articleID int64) ([]*data.URLPath, error) {
	return s.paths.NodesForArticle(ctx, s.cfg.Site, articleID)
}

// Path returns the canonical slash-separated path of a node, with a trailing
// slash. The root's path is the empty string.
func (s *TreeService) Path(ctx context.Context, node *data.URLPath) (string, error) {
	if node.ParentID == nil {
		return "", nil
	}
	ancestors, err := s.paths.Ancestors(ctx, node.ID)
	if err != nil {
		return "", err
	}
	var segments []string
	for _, a := range ancestors {
		if a.ParentID == nil {
			continue
		}
		segments = append(segments, a.Slug)
	}
	segments = append(segments, node.Slug)
	return strings.Join(segments, "/") + "/", nil
}

// CreateRoot initializes the site with a root node and its article. Calling
// it on an initialized site returns the existing root unchanged.
func (s *TreeService) CreateRoot(ctx context.Context, title, content string, by Principal) (*data.URLPath, error) {
	root, err := s.Root(ctx)
	if err == nil {
		return root, nil
	}
	var noRoot *NoRootError
	if !errors.As(err, &noRoot) {
		return nil, err
	}

	node := &data.URLPath{Site: s.cfg.Site, ParentID: nil, Slug: ""}
	article := &data.Article{GroupRead: true, GroupWrite: true, OtherRead: true, OtherWrite: true}
	rev := &data.Revision{Title: title, Content: NormalizeContent(content)}
	s.svc.setAttribution(rev, by)
	if err := s.paths.CreatePathWithArticle(ctx, node, article, rev); err != nil {
		return nil, mapDataErr(err)
	}
	s.log.Info(fmt.Sprintf("created root node %d for site %q", node.ID, s.cfg.Site))
	return node, nil
}

// CreatePath creates a child node under the parent together with its article
// and first revision. The new article copies owner, group and ACL flags from
// the parent's article so permissions flow down by default.
func (s *TreeService) CreatePath(ctx context.Context, parentID int64, slug, title, content, message string, by Principal) (*data.URLPath, error) {
	parent, err := s.paths.GetNode(ctx, parentID)
	if err != nil {
		return nil, mapDataErr(err)
	}
	parentArticle, err := s.articles.GetArticle(ctx, parent.ArticleID)
	if err != nil {
		return nil, mapDataErr(err)
	}
	if err := s.perms.RequireWrite(parentArticle, by); err != nil {
		return nil, err
	}
	if err := s.validateSlug(ctx, parentID, slug); err != nil {
		return nil, err
	}
	if strings.TrimSpace(title) == "" {
		return nil, &ValidationError{Field: "title", Message: "an article requires a title"}
	}

	node := &data.URLPath{Site: s.cfg.Site, ParentID: &parentID, Slug: slug}
	article := &data.Article{
		OwnerID:    parentArticle.OwnerID,
		GroupName:  parentArticle.GroupName,
		GroupRead:  parentArticle.GroupRead,
		GroupWrite: parentArticle.GroupWrite,
		OtherRead:  parentArticle.OtherRead,
		OtherWrite: parentArticle.OtherWrite,
	}
	if article.OwnerID == nil && !by.Anonymous() {
		id := by.ID
		article.OwnerID = &id
	}
	rev := &data.Revision{Title: title, Content: NormalizeContent(content), UserMessage: message}
	s.svc.setAttribution(rev, by)

	if err := s.paths.CreatePathWithArticle(ctx, node, article, rev); err != nil {
		if errors.Is(err, data.ErrDuplicateKey) {
			return nil, s.slugTakenError(ctx, parentID, slug)
		}
		return nil, mapDataErr(err)
	}
	s.cache.InvalidateTree(ctx, parent.ArticleID)
	return node, nil
}

// Move reparents a subtree under a new parent with a new slug. The root
// cannot be moved, and a node cannot be moved under itself or one of its own
// descendants. With leaveRedirect, a stub article stays at the old location
// pointing at the new one.
func (s *TreeService) Move(ctx context.Context, nodeID, newParentID int64, newSlug string, leaveRedirect bool, by Principal) error {
	if err := s.perms.RequireModerate(by); err != nil {
		return err
	}
	node, err := s.paths.GetNode(ctx, nodeID)
	if err != nil {
		return mapDataErr(err)
	}
	if node.ParentID == nil {
		return &ValidationError{Field: "node", Message: "the root node cannot be moved"}
	}
	if nodeID == newParentID {
		return &ValidationError{Field: "parent", Message: "cannot move a node under itself"}
	}
	descendants, err := s.paths.Descendants(ctx, nodeID)
	if err != nil {
		return err
	}
	for _, desc := range descendants {
		if desc.ID == newParentID {
			return &ValidationError{Field: "parent", Message: "cannot move a node under its own descendant"}
		}
	}
	if _, err := s.paths.GetNode(ctx, newParentID); err != nil {
		return mapDataErr(err)
	}
	if err := s.validateSlug(ctx, newParentID, newSlug); err != nil {
		return err
	}

	oldParentID := *node.ParentID
	oldSlug := node.Slug
	if err := s.paths.MoveNode(ctx, nodeID, newParentID, newSlug); err != nil {
		if errors.Is(err, data.ErrDuplicateKey) {
			return s.slugTakenError(ctx, newParentID, newSlug)
		}
		return mapDataErr(err)
	}

	if leaveRedirect {
		if err := s.createRedirectStub(ctx, oldParentID, oldSlug, nodeID, by); err != nil {
			s.log.Error(err, fmt.Sprintf("failed to leave redirect stub for moved node %d", nodeID))
		}
	}

	// Cached paths under both the old and the new parent are stale now.
	s.cache.InvalidateTree(ctx, node.ArticleID)
	if oldParent, err := s.paths.GetNode(ctx, oldParentID); err == nil {
		s.cache.InvalidateTree(ctx, oldParent.ArticleID)
	}
	return nil
}

// DeleteSubtree logically deletes the node's article. Descendants stay in
// place but become unreachable through the deleted ancestor until a restore.
// Already-deleted nodes are a no-op.
func (s *TreeService) DeleteSubtree(ctx context.Context, nodeID int64, by Principal) error {
	node, err := s.paths.GetNode(ctx, nodeID)
	if err != nil {
		return mapDataErr(err)
	}
	if node.ParentID == nil {
		return &ValidationError{Field: "node", Message: "the root node cannot be deleted"}
	}
	return s.svc.Delete(ctx, node.ArticleID, by)
}

// PurgeSubtree physically removes the node, its whole subtree and all their
// articles and revision history. Requires the moderate capability; the root
// node cannot be purged.
func (s *TreeService) PurgeSubtree(ctx context.Context, nodeID int64, by Principal) error {
	if err := s.perms.RequireModerate(by); err != nil {
		return err
	}
	node, err := s.paths.GetNode(ctx, nodeID)
	if err != nil {
		return mapDataErr(err)
	}
	if node.ParentID == nil {
		return &ValidationError{Field: "node", Message: "the root node cannot be purged"}
	}
	descendants, err := s.paths.Descendants(ctx, nodeID)
	if err != nil {
		return err
	}

	// Deepest first, then the node itself.
	ordered := make([]*data.URLPath, 0, len(descendants)+1)
	for i := len(descendants) - 1; i >= 0; i-- {
		ordered = append(ordered, descendants[i])
	}
	ordered = append(ordered, node)
	for _, n := range ordered {
		s.cache.Invalidate(ctx, n.ArticleID)
	}
	if err := s.paths.PurgeNodes(ctx, ordered); err != nil {
		return mapDataErr(err)
	}
	if parent := node.ParentID; parent != nil {
		if parentNode, err := s.paths.GetNode(ctx, *parent); err == nil {
			s.cache.InvalidateTree(ctx, parentNode.ArticleID)
		}
	}
	return nil
}

// PurgeArticle physically removes a single article and its path nodes.
// Orphaned children are reparented under the lost-and-found node, which is
// created on first use, so no subtree is ever silently destroyed with its
// ancestor.
func (s *TreeService) PurgeArticle(ctx context.Context, articleID int64, by Principal) error {
	if err := s.perms.RequireModerate(by); err != nil {
		return err
	}
	nodes, err := s.paths.NodesForArticle(ctx, s.cfg.Site, articleID)
	if err != nil {
		return err
	}
	if len(nodes) > 0 {
		lostAndFound, err := s.lostAndFound(ctx, by)
		if err != nil {
			return err
		}
		for _, node := range nodes {
			if node.ID == lostAndFound.ID || node.ParentID == nil {
				return &ValidationError{Field: "article", Message: "cannot purge a structural node's article"}
			}
			if err := s.paths.ReparentChildren(ctx, node.ID, lostAndFound.ID); err != nil {
				return mapDataErr(err)
			}
		}
	}
	s.cache.Invalidate(ctx, articleID)
	if err := s.paths.PurgeNodes(ctx, nodes); err != nil {
		return mapDataErr(err)
	}
	return nil
}

// IsDeleted reports whether the node's own article is logically deleted.
func (s *TreeService) IsDeleted(ctx context.Context, node *data.URLPath) (bool, error) {
	current, err := s.articles.CurrentRevision(ctx, node.ArticleID)
	if err != nil {
		return false, mapDataErr(err)
	}
	return current.Deleted, nil
}

// FirstDeletedAncestor returns the shallowest deleted node on the path from
// the root to (and including) the given node, or nil when the whole chain is
// live. Resolution through a deleted ancestor is how subtree deletion hides
// content without touching descendant rows.
func (s *TreeService) FirstDeletedAncestor(ctx context.Context, node *data.URLPath) (*data.URLPath, error) {
	ancestors, err := s.paths.Ancestors(ctx, node.ID)
	if err != nil {
		return nil, err
	}
	for _, candidate := range append(ancestors, node) {
		deleted, err := s.IsDeleted(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if deleted {
			return candidate, nil
		}
	}
	return nil, nil
}

// lostAndFound returns the site's lost-and-found node, creating it under the
// root on first use. It is deliberately restricted: readable and writable
// only through moderation.
func (s *TreeService) lostAndFound(ctx context.Context, by Principal) (*data.URLPath, error) {
	root, err := s.Root(ctx)
	if err != nil {
		return nil, err
	}
	node, err := s.paths.ChildBySlug(ctx, root.ID, s.cfg.LostAndFoundSlug, false)
	if err == nil {
		return node, nil
	}
	if !errors.Is(err, data.ErrNotFound) {
		return nil, err
	}

	node = &data.URLPath{Site: s.cfg.Site, ParentID: &root.ID, Slug: s.cfg.LostAndFoundSlug}
	article := &data.Article{GroupRead: true}
	rev := &data.Revision{
		Title:        "Lost and found",
		Content:      NormalizeContent("Articles whose parent was purged are moved here.\n"),
		AutomaticLog: "lost-and-found node created",
	}
	s.svc.setAttribution(rev, by)
	if err := s.paths.CreatePathWithArticle(ctx, node, article, rev); err != nil {
		if errors.Is(err, data.ErrDuplicateKey) {
			// Lost a creation race; the winner's node is the one to use.
			return s.paths.ChildBySlug(ctx, root.ID, s.cfg.LostAndFoundSlug, false)
		}
		return nil, mapDataErr(err)
	}
	s.log.Info(fmt.Sprintf("created lost-and-found node %d for site %q", node.ID, s.cfg.Site))
	return node, nil
}

// createRedirectStub plants a placeholder article at a vacated location whose
// node points at the moved subtree.
func (s *TreeService) createRedirectStub(ctx context.Context, parentID int64, slug string, targetID int64, by Principal) error {
	target, err := s.paths.GetNode(ctx, targetID)
	if err != nil {
		return err
	}
	newPath, err := s.Path(ctx, target)
	if err != nil {
		return err
	}
	stub := &data.URLPath{Site: s.cfg.Site, ParentID: &parentID, Slug: slug}
	article := &data.Article{OtherRead: true}
	rev := &data.Revision{
		Title:        slug,
		Content:      NormalizeContent(fmt.Sprintf("This article has moved to [%s](/%s).\n", newPath, newPath)),
		AutomaticLog: fmt.Sprintf("moved to %s", newPath),
	}
	s.svc.setAttribution(rev, by)
	if err := s.paths.CreatePathWithArticle(ctx, stub, article, rev); err != nil {
		return mapDataErr(err)
	}
	return s.paths.SetMovedTo(ctx, stub.ID, &targetID)
}

// followRedirects resolves moved_to chains with a hop limit so a pointer
// cycle cannot hang resolution.
func (s *TreeService) followRedirects(ctx context.Context, node *data.URLPath) (*data.URLPath, error) {
	for hops := 0; node.MovedToID != nil && hops < 10; hops++ {
		next, err := s.paths.GetNode(ctx, *node.MovedToID)
		if err != nil {
			if errors.Is(err, data.ErrNotFound) {
				return node, nil
			}
			return nil, err
		}
		node = next
	}
	return node, nil
}

// validateSlug enforces the slug rules: non-empty, no path separators, no
// leading underscore (reserved for internal routes), not a reserved word,
// not purely numeric (would collide with revision-number URLs), and unique
// among the parent's children.
func (s *TreeService) validateSlug(ctx context.Context, parentID int64, slug string) error {
	if slug == "" {
		return &ValidationError{Field: "slug", Message: "a slug is required"}
	}
	if strings.ContainsAny(slug, "/ ") {
		return &ValidationError{Field: "slug", Message: "a slug cannot contain slashes or spaces"}
	}
	if strings.HasPrefix(slug, "_") {
		return &ValidationError{Field: "slug", Message: "a slug may not begin with an underscore"}
	}
	for _, reserved := range s.cfg.ReservedSlugs {
		if strings.EqualFold(slug, reserved) {
			return &ValidationError{Field: "slug", Message: fmt.Sprintf("%q is a reserved word", slug)}
		}
	}
	if numericSlug.MatchString(slug) {
		return &ValidationError{Field: "slug", Message: "a slug may not be purely numeric"}
	}
	if _, err := s.paths.ChildBySlug(ctx, parentID, slug, s.cfg.URLCaseSensitive); err == nil {
		return s.slugTakenError(ctx, parentID, slug)
	} else if !errors.Is(err, data.ErrNotFound) {
		return err
	}
	return nil
}

// slugTakenError distinguishes a live sibling from a logically deleted one,
// since the fix differs (pick another slug vs. restore or purge).
func (s *TreeService) slugTakenError(ctx context.Context, parentID int64, slug string) error {
	if sibling, err := s.paths.ChildBySlug(ctx, parentID, slug, s.cfg.URLCaseSensitive); err == nil {
		if deleted, err := s.IsDeleted(ctx, sibling); err == nil && deleted {
			return &ValidationError{Field: "slug", Message: fmt.Sprintf("a deleted article with slug %q already exists", slug)}
		}
	}
	return &ValidationError{Field: "slug", Message: fmt.Sprintf("an article with slug %q already exists", slug)}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
