package handler

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/middleware"
	"go-wiki-engine/internal/plugin"
	"go-wiki-engine/internal/view"
	"go-wiki-engine/internal/wiki"
)

// PageHandler holds the dependencies for the article handlers.
type PageHandler struct {
	articles *wiki.ArticleService
	tree     *wiki.TreeService
	perms    *wiki.PermissionService
	cache    *wiki.RenderCache
	registry *plugin.Registry
	view     *view.View
	log      logger.Logger
}

// NewPageHandler creates a new PageHandler with the given dependencies.
func NewPageHandler(articles *wiki.ArticleService, tree *wiki.TreeService, perms *wiki.PermissionService, cache *wiki.RenderCache, registry *plugin.Registry, v *view.View, log logger.Logger) *PageHandler {
	return &PageHandler{
		articles: articles,
		tree:     tree,
		perms:    perms,
		cache:    cache,
		registry: registry,
		view:     v,
		log:      log,
	}
}

type childLink struct {
	Slug string
	Path string
}

// viewArticle resolves the wildcard path to a node and renders its article.
func (h *PageHandler) viewArticle(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	ctx := r.Context()
	userInfo := middleware.GetUserInfo(ctx)
	p := userInfo.Principal()

	node, err := h.tree.Resolve(ctx, chi.URLParam(r, "*"))
	if err != nil {
		return middleware.FromError(err)
	}
	article, err := h.articles.Get(ctx, node.ArticleID, p)
	if err != nil {
		return middleware.FromError(err)
	}
	rev, err := h.articles.CurrentRevision(ctx, node.ArticleID)
	if err != nil {
		return middleware.FromError(err)
	}

	canModerate, err := h.perms.CanModerate(p)
	if err != nil {
		return middleware.FromError(err)
	}
	deletedAncestor, err := h.tree.FirstDeletedAncestor(ctx, node)
	if err != nil {
		return middleware.FromError(err)
	}
	if deletedAncestor != nil && !canModerate {
		return middleware.FromError(fmt.Errorf("article is deleted: %w", wiki.ErrNotFound))
	}

	content, err := h.cache.Content(ctx, article, rev, "en", p)
	if err != nil {
		return middleware.FromError(err)
	}

	children, err := h.childLinks(r, node)
	if err != nil {
		return middleware.FromError(err)
	}

	pageData := map[string]interface{}{
		"Title":       rev.Title,
		"Content":     template.HTML(content),
		"ArticleID":   article.ID,
		"NodeID":      node.ID,
		"Deleted":     deletedAncestor != nil,
		"CanModerate": canModerate,
		"Children":    children,
		"User":        userName(userInfo),
	}
	if err := h.view.Render(w, r, "article.html", pageData); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to render article", Code: http.StatusInternalServerError}
	}
	return nil
}

// createForm shows the new-article form under a parent node.
func (h *PageHandler) createForm(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	nodeID, appErr := pathID(r, "nodeID")
	if appErr != nil {
		return appErr
	}
	return h.renderCreate(w, r, nodeID, "", "", "", "")
}

// createSave creates the article and redirects to its new path.
func (h *PageHandler) createSave(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	ctx := r.Context()
	nodeID, appErr := pathID(r, "nodeID")
	if appErr != nil {
		return appErr
	}
	p := middleware.GetUserInfo(ctx).Principal()
	slug := strings.TrimSpace(r.FormValue("slug"))
	title := r.FormValue("title")
	content := r.FormValue("content")

	node, err := h.tree.CreatePath(ctx, nodeID, slug, title, content, "", p)
	if err != nil {
		var validation *wiki.ValidationError
		if errors.As(err, &validation) {
			return h.renderCreate(w, r, nodeID, slug, title, content, validation.Message)
		}
		return middleware.FromError(err)
	}
	path, err := h.tree.Path(ctx, node)
	if err != nil {
		return middleware.FromError(err)
	}
	http.Redirect(w, r, "/wiki/"+path, http.StatusFound)
	return nil
}

// editForm shows the edit form pre-filled with the current revision.
func (h *PageHandler) editForm(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	ctx := r.Context()
	articleID, appErr := pathID(r, "articleID")
	if appErr != nil {
		return appErr
	}
	rev, err := h.articles.CurrentRevision(ctx, articleID)
	if err != nil {
		return middleware.FromError(err)
	}
	return h.renderEdit(w, r, articleID, rev.ID, rev.Title, rev.Content, false)
}

// editSave submits an edit against the base revision the form was loaded
// with. A stale base comes back as a conflict: the merged content is shown
// for confirmation instead of being committed.
func (h *PageHandler) editSave(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	ctx := r.Context()
	articleID, appErr := pathID(r, "articleID")
	if appErr != nil {
		return appErr
	}
	p := middleware.GetUserInfo(ctx).Principal()
	baseRevisionID, err := strconv.ParseInt(r.FormValue("base_revision_id"), 10, 64)
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Invalid base revision", Code: http.StatusBadRequest}
	}
	title := r.FormValue("title")
	content := r.FormValue("content")
	message := r.FormValue("message")

	if _, err := h.articles.SubmitEdit(ctx, articleID, baseRevisionID, title, content, message, p); err != nil {
		var conflict *wiki.ConflictError
		if errors.As(err, &conflict) && conflict.CurrentRevision != nil {
			return h.renderEdit(w, r, articleID, conflict.CurrentRevision.ID, title, conflict.MergedContent, true)
		}
		return middleware.FromError(err)
	}
	return h.redirectToArticle(w, r, articleID)
}

// historyHandler lists the article's revisions, newest first.
func (h *PageHandler) historyHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	ctx := r.Context()
	articleID, appErr := pathID(r, "articleID")
	if appErr != nil {
		return appErr
	}
	userInfo := middleware.GetUserInfo(ctx)
	revs, err := h.articles.History(ctx, articleID, userInfo.Principal())
	if err != nil {
		return middleware.FromError(err)
	}
	title := ""
	if len(revs) > 0 {
		title = revs[0].Title
	}
	pageData := map[string]interface{}{
		"Title":     title,
		"Revisions": revs,
		"User":      userName(userInfo),
	}
	if err := h.view.Render(w, r, "history.html", pageData); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to render history", Code: http.StatusInternalServerError}
	}
	return nil
}

// rollbackHandler makes an old revision's content current again.
func (h *PageHandler) rollbackHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	ctx := r.Context()
	articleID, appErr := pathID(r, "articleID")
	if appErr != nil {
		return appErr
	}
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Invalid revision number", Code: http.StatusBadRequest}
	}
	p := middleware.GetUserInfo(ctx).Principal()
	if _, err := h.articles.Rollback(ctx, articleID, number, p); err != nil {
		return middleware.FromError(err)
	}
	return h.redirectToArticle(w, r, articleID)
}

// deleteHandler logically deletes a subtree.
func (h *PageHandler) deleteHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	ctx := r.Context()
	nodeID, appErr := pathID(r, "nodeID")
	if appErr != nil {
		return appErr
	}
	p := middleware.GetUserInfo(ctx).Principal()
	if err := h.tree.DeleteSubtree(ctx, nodeID, p); err != nil {
		return middleware.FromError(err)
	}
	http.Redirect(w, r, "/wiki/", http.StatusFound)
	return nil
}

// purgeHandler physically removes a subtree and its history.
func (h *PageHandler) purgeHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	ctx := r.Context()
	nodeID, appErr := pathID(r, "nodeID")
	if appErr != nil {
		return appErr
	}
	p := middleware.GetUserInfo(ctx).Principal()
	if err := h.tree.PurgeSubtree(ctx, nodeID, p); err != nil {
		return middleware.FromError(err)
	}
	http.Redirect(w, r, "/wiki/", http.StatusFound)
	return nil
}

// restoreHandler clears the logical-delete flag on an article.
func (h *PageHandler) restoreHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	ctx := r.Context()
	articleID, appErr := pathID(r, "articleID")
	if appErr != nil {
		return appErr
	}
	p := middleware.GetUserInfo(ctx).Principal()
	if err := h.articles.Restore(ctx, articleID, p); err != nil {
		return middleware.FromError(err)
	}
	return h.redirectToArticle(w, r, articleID)
}

// moveForm shows the move form for a node.
func (h *PageHandler) moveForm(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	ctx := r.Context()
	nodeID, appErr := pathID(r, "nodeID")
	if appErr != nil {
		return appErr
	}
	node, err := h.tree.GetNode(ctx, nodeID)
	if err != nil {
		return middleware.FromError(err)
	}
	rev, err := h.articles.CurrentRevision(ctx, node.ArticleID)
	if err != nil {
		return middleware.FromError(err)
	}
	return h.renderMove(w, r, nodeID, rev.Title, "", node.Slug, "")
}

// moveSave reparents a subtree to the submitted parent path and slug.
func (h *PageHandler) moveSave(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	ctx := r.Context()
	nodeID, appErr := pathID(r, "nodeID")
	if appErr != nil {
		return appErr
	}
	p := middleware.GetUserInfo(ctx).Principal()
	parentPath := r.FormValue("parent_path")
	slug := strings.TrimSpace(r.FormValue("slug"))
	leaveRedirect := r.FormValue("redirect") != ""

	parent, err := h.tree.Resolve(ctx, parentPath)
	if err != nil {
		return middleware.FromError(err)
	}
	if err := h.tree.Move(ctx, nodeID, parent.ID, slug, leaveRedirect, p); err != nil {
		var validation *wiki.ValidationError
		if errors.As(err, &validation) {
			node, nodeErr := h.tree.GetNode(ctx, nodeID)
			if nodeErr != nil {
				return middleware.FromError(nodeErr)
			}
			rev, revErr := h.articles.CurrentRevision(ctx, node.ArticleID)
			if revErr != nil {
				return middleware.FromError(revErr)
			}
			return h.renderMove(w, r, nodeID, rev.Title, parentPath, slug, validation.Message)
		}
		return middleware.FromError(err)
	}
	moved, err := h.tree.GetNode(ctx, nodeID)
	if err != nil {
		return middleware.FromError(err)
	}
	path, err := h.tree.Path(ctx, moved)
	if err != nil {
		return middleware.FromError(err)
	}
	http.Redirect(w, r, "/wiki/"+path, http.StatusFound)
	return nil
}

// settingsForm shows ownership, ACL and propagation controls for an article.
func (h *PageHandler) settingsForm(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	ctx := r.Context()
	articleID, appErr := pathID(r, "articleID")
	if appErr != nil {
		return appErr
	}
	userInfo := middleware.GetUserInfo(ctx)
	article, err := h.articles.Get(ctx, articleID, userInfo.Principal())
	if err != nil {
		return middleware.FromError(err)
	}
	rev, err := h.articles.CurrentRevision(ctx, articleID)
	if err != nil {
		return middleware.FromError(err)
	}
	return h.renderSettings(w, r, article, rev.Title, "")
}

// settingsSave applies ACL, ownership and propagation changes in one post.
func (h *PageHandler) settingsSave(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	ctx := r.Context()
	articleID, appErr := pathID(r, "articleID")
	if appErr != nil {
		return appErr
	}
	p := middleware.GetUserInfo(ctx).Principal()

	groupRead := r.FormValue("group_read") != ""
	groupWrite := r.FormValue("group_write") != ""
	otherRead := r.FormValue("other_read") != ""
	otherWrite := r.FormValue("other_write") != ""
	if err := h.articles.UpdateACL(ctx, articleID, groupRead, groupWrite, otherRead, otherWrite, p); err != nil {
		return middleware.FromError(err)
	}
	if err := h.articles.SetOwner(ctx, articleID, optional(r.FormValue("owner")), p); err != nil {
		return middleware.FromError(err)
	}
	if err := h.articles.SetGroup(ctx, articleID, optional(r.FormValue("group")), p); err != nil {
		return middleware.FromError(err)
	}

	nodes, err := h.tree.NodesForArticle(ctx, articleID)
	if err != nil {
		return middleware.FromError(err)
	}
	propagations := []struct {
		form  string
		field wiki.PropagateField
	}{
		{"propagate_acl", wiki.PropagateACL},
		{"propagate_owner", wiki.PropagateOwner},
		{"propagate_group", wiki.PropagateGroup},
	}
	for _, prop := range propagations {
		if r.FormValue(prop.form) == "" {
			continue
		}
		for _, node := range nodes {
			if err := h.perms.PropagateRecursive(ctx, node.ID, prop.field, p); err != nil {
				return middleware.FromError(err)
			}
		}
	}
	return h.redirectToArticle(w, r, articleID)
}

func (h *PageHandler) renderCreate(w http.ResponseWriter, r *http.Request, nodeID int64, slug, title, content, errMsg string) *middleware.AppError {
	ctx := r.Context()
	node, err := h.tree.GetNode(ctx, nodeID)
	if err != nil {
		return middleware.FromError(err)
	}
	parentPath, err := h.tree.Path(ctx, node)
	if err != nil {
		return middleware.FromError(err)
	}
	pageData := map[string]interface{}{
		"ParentNodeID": nodeID,
		"ParentPath":   parentPath,
		"Slug":         slug,
		"Title":        title,
		"Content":      content,
		"Error":        errMsg,
		"User":         userName(middleware.GetUserInfo(ctx)),
	}
	if err := h.view.Render(w, r, "create.html", pageData); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to render create form", Code: http.StatusInternalServerError}
	}
	return nil
}

func (h *PageHandler) renderEdit(w http.ResponseWriter, r *http.Request, articleID, baseRevisionID int64, title, content string, conflict bool) *middleware.AppError {
	pageData := map[string]interface{}{
		"ArticleID":      articleID,
		"BaseRevisionID": baseRevisionID,
		"Title":          title,
		"Content":        content,
		"Conflict":       conflict,
		"User":           userName(middleware.GetUserInfo(r.Context())),
	}
	if err := h.view.Render(w, r, "edit.html", pageData); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to render edit form", Code: http.StatusInternalServerError}
	}
	return nil
}

func (h *PageHandler) renderMove(w http.ResponseWriter, r *http.Request, nodeID int64, title, parentPath, slug, errMsg string) *middleware.AppError {
	pageData := map[string]interface{}{
		"NodeID":     nodeID,
		"Title":      title,
		"ParentPath": parentPath,
		"Slug":       slug,
		"Error":      errMsg,
		"User":       userName(middleware.GetUserInfo(r.Context())),
	}
	if err := h.view.Render(w, r, "move.html", pageData); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to render move form", Code: http.StatusInternalServerError}
	}
	return nil
}

func (h *PageHandler) renderSettings(w http.ResponseWriter, r *http.Request, article *data.Article, title, errMsg string) *middleware.AppError {
	pageData := map[string]interface{}{
		"ArticleID":      article.ID,
		"Title":          title,
		"Owner":          stringOrEmpty(article.OwnerID),
		"Group":          stringOrEmpty(article.GroupName),
		"GroupRead":      article.GroupRead,
		"GroupWrite":     article.GroupWrite,
		"OtherRead":      article.OtherRead,
		"OtherWrite":     article.OtherWrite,
		"SettingsPanels": h.registry.SettingsPanels(),
		"Error":          errMsg,
		"User":           userName(middleware.GetUserInfo(r.Context())),
	}
	if err := h.view.Render(w, r, "settings.html", pageData); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to render settings", Code: http.StatusInternalServerError}
	}
	return nil
}

// redirectToArticle sends the browser to the article's first mounted path.
func (h *PageHandler) redirectToArticle(w http.ResponseWriter, r *http.Request, articleID int64) *middleware.AppError {
	nodes, err := h.tree.NodesForArticle(r.Context(), articleID)
	if err != nil || len(nodes) == 0 {
		http.Redirect(w, r, "/wiki/", http.StatusFound)
		return nil
	}
	path, err := h.tree.Path(r.Context(), nodes[0])
	if err != nil {
		http.Redirect(w, r, "/wiki/", http.StatusFound)
		return nil
	}
	http.Redirect(w, r, "/wiki/"+path, http.StatusFound)
	return nil
}

func (h *PageHandler) childLinks(r *http.Request, node *data.URLPath) ([]childLink, error) {
	children, err := h.tree.Children(r.Context(), node.ID)
	if err != nil {
		return nil, err
	}
	links := make([]childLink, 0, len(children))
	for _, child := range children {
		path, err := h.tree.Path(r.Context(), child)
		if err != nil {
			return nil, err
		}
		links = append(links, childLink{Slug: child.Slug, Path: path})
	}
	return links, nil
}

func pathID(r *http.Request, name string) (int64, *middleware.AppError) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, &middleware.AppError{Error: err, Message: "Invalid identifier", Code: http.StatusBadRequest}
	}
	return id, nil
}

func userName(u *middleware.UserInfo) string {
	if u.Subject == "anonymous" {
		return ""
	}
	return u.Subject
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
