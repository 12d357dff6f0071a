package wiki

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go-wiki-engine/internal/config"
	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/merge"
)

// ArticleService manages per-article revision chains. Revisions are append
// only: content corrections, deletions, locks and rollbacks all create a new
// revision and repoint the article's current pointer.
type ArticleService struct {
	repo    ArticleRepository
	plugins PluginRepository
	perms   *PermissionService
	cache   *RenderCache
	cfg     config.WikiConfig
	log     logger.Logger

	// Revision number assignment is the single serialization point for a
	// chain. The per-article mutex serializes in-process appends; the
	// (article, revision_number) unique key backstops racing processes.
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewArticleService creates a new ArticleService.
func NewArticleService(repo ArticleRepository, plugins PluginRepository, perms *PermissionService, cache *RenderCache, cfg config.WikiConfig, log logger.Logger) *ArticleService {
	return &ArticleService{
		repo:    repo,
		plugins: plugins,
		perms:   perms,
		cache:   cache,
		cfg:     cfg,
		log:     log,
		locks:   make(map[int64]*sync.Mutex),
	}
}

// Get retrieves an article after checking read access.
func (s *ArticleService) Get(ctx context.Context, articleID int64, by Principal) (*data.Article, error) {
	article, err := s.repo.GetArticle(ctx, articleID)
	if err != nil {
		return nil, mapDataErr(err)
	}
	if err := s.perms.RequireRead(article, by); err != nil {
		return nil, err
	}
	return article, nil
}

// CurrentRevision returns the article's live revision.
func (s *ArticleService) CurrentRevision(ctx context.Context, articleID int64) (*data.Revision, error) {
	rev, err := s.repo.CurrentRevision(ctx, articleID)
	if err != nil {
		return nil, mapDataErr(err)
	}
	return rev, nil
}

// History lists an article's revisions, newest first.
func (s *ArticleService) History(ctx context.Context, articleID int64, by Principal) ([]*data.Revision, error) {
	article, err := s.repo.GetArticle(ctx, articleID)
	if err != nil {
		return nil, mapDataErr(err)
	}
	if err := s.perms.RequireRead(article, by); err != nil {
		return nil, err
	}
	revs, err := s.repo.ListRevisions(ctx, articleID)
	if err != nil {
		return nil, err
	}
	return revs, nil
}

// Append adds a revision to the article's chain: the revision number becomes
// max+1 (0 for the first), the previous pointer is set to the current
// revision, and the insert plus current-pointer repoint commit atomically.
// A number race surfaces as ConflictError; retry with a fresh predecessor.
//
// Append also performs the mutation side effects that used to ride on
// implicit hooks: active simple plugins are re-bound to the new revision and
// the render cache is invalidated for the article and its tree ancestors.
func (s *ArticleService) Append(ctx context.Context, articleID int64, rev *data.Revision, by Principal) error {
	article, err := s.repo.GetArticle(ctx, articleID)
	if err != nil {
		return mapDataErr(err)
	}
	if err := s.perms.RequireWrite(article, by); err != nil {
		return err
	}
	if strings.TrimSpace(rev.Title) == "" {
		return &ValidationError{Field: "title", Message: "a revision requires a title"}
	}

	rev.ArticleID = articleID
	rev.Content = NormalizeContent(rev.Content)
	s.setAttribution(rev, by)

	lock := s.lockFor(articleID)
	lock.Lock()
	err = s.repo.AddRevision(ctx, rev)
	lock.Unlock()
	if err != nil {
		if errors.Is(err, data.ErrDuplicateKey) {
			return &ConflictError{Message: fmt.Sprintf("revision number race on article %d", articleID)}
		}
		return mapDataErr(err)
	}

	s.afterRevision(ctx, articleID, rev.ID)
	return nil
}

// InheritPredecessor builds an unsaved revision copying content, title,
// deleted and locked from the article's current revision. Callers mutate the
// fields that change, then Append. This is how metadata-only changes still
// leave an audit trail entry.
func (s *ArticleService) InheritPredecessor(ctx context.Context, articleID int64) (*data.Revision, error) {
	current, err := s.repo.CurrentRevision(ctx, articleID)
	if err != nil {
		return nil, mapDataErr(err)
	}
	return &data.Revision{
		ArticleID: articleID,
		Title:     current.Title,
		Content:   current.Content,
		Deleted:   current.Deleted,
		Locked:    current.Locked,
	}, nil
}

// SubmitEdit is the optimistic-concurrency editing path. When the submitted
// base revision is no longer current, the submitted content is merged
// against the new current content and returned inside a ConflictError for
// the writer to confirm; nothing is committed. Stale-base writes never win
// silently.
func (s *ArticleService) SubmitEdit(ctx context.Context, articleID, baseRevisionID int64, title, content, message string, by Principal) (*data.Revision, error) {
	article, err := s.repo.GetArticle(ctx, articleID)
	if err != nil {
		return nil, mapDataErr(err)
	}
	if err := s.perms.RequireWrite(article, by); err != nil {
		return nil, err
	}
	current, err := s.repo.CurrentRevision(ctx, articleID)
	if err != nil {
		return nil, mapDataErr(err)
	}
	if current.Locked {
		moderate, err := s.perms.CanModerate(by)
		if err != nil {
			return nil, err
		}
		if !moderate {
			return nil, fmt.Errorf("article %d is locked: %w", articleID, ErrPermissionDenied)
		}
	}
	if current.ID != baseRevisionID {
		merged := merge.Simple(current.Content, content)
		return nil, &ConflictError{
			Message:         fmt.Sprintf("article %d changed while editing: current revision is %d, edit was based on %d", articleID, current.ID, baseRevisionID),
			MergedContent:   merged,
			CurrentRevision: current,
		}
	}

	rev := &data.Revision{
		ArticleID:   articleID,
		Title:       title,
		Content:     content,
		UserMessage: message,
		Deleted:     current.Deleted,
		Locked:      current.Locked,
	}
	if err := s.Append(ctx, articleID, rev, by); err != nil {
		return nil, err
	}
	return rev, nil
}

// Delete marks the article logically deleted by appending a deleted=true
// revision. Calling it on an already-deleted article is a no-op.
func (s *ArticleService) Delete(ctx context.Context, articleID int64, by Principal) error {
	current, err := s.repo.CurrentRevision(ctx, articleID)
	if err != nil {
		return mapDataErr(err)
	}
	if current.Deleted {
		return nil
	}
	rev, err := s.InheritPredecessor(ctx, articleID)
	if err != nil {
		return err
	}
	rev.Deleted = true
	rev.AutomaticLog = "article marked as deleted"
	return s.Append(ctx, articleID, rev, by)
}

// Restore clears the logical-delete flag. Restoring requires the moderate
// capability since deleted content is hidden from regular writers.
func (s *ArticleService) Restore(ctx context.Context, articleID int64, by Principal) error {
	if err := s.perms.RequireModerate(by); err != nil {
		return err
	}
	current, err := s.repo.CurrentRevision(ctx, articleID)
	if err != nil {
		return mapDataErr(err)
	}
	if !current.Deleted {
		return nil
	}
	rev, err := s.InheritPredecessor(ctx, articleID)
	if err != nil {
		return err
	}
	rev.Deleted = false
	rev.AutomaticLog = "article restored"
	return s.Append(ctx, articleID, rev, by)
}

// SetLocked locks or unlocks the article against edits via an audit
// revision. Requires the moderate capability.
func (s *ArticleService) SetLocked(ctx context.Context, articleID int64, locked bool, by Principal) error {
	if err := s.perms.RequireModerate(by); err != nil {
		return err
	}
	rev, err := s.InheritPredecessor(ctx, articleID)
	if err != nil {
		return err
	}
	if rev.Locked == locked {
		return nil
	}
	rev.Locked = locked
	if locked {
		rev.AutomaticLog = "article locked"
	} else {
		rev.AutomaticLog = "article unlocked"
	}
	return s.Append(ctx, articleID, rev, by)
}

// Rollback makes an older revision's content current again by appending a
// new revision with that content. History is never rewritten.
func (s *ArticleService) Rollback(ctx context.Context, articleID int64, revisionNumber int, by Principal) (*data.Revision, error) {
	old, err := s.repo.GetRevisionByNumber(ctx, articleID, revisionNumber)
	if err != nil {
		return nil, mapDataErr(err)
	}
	rev, err := s.InheritPredecessor(ctx, articleID)
	if err != nil {
		return nil, err
	}
	rev.Title = old.Title
	rev.Content = old.Content
	rev.AutomaticLog = fmt.Sprintf("reverted to revision %d", revisionNumber)
	if err := s.Append(ctx, articleID, rev, by); err != nil {
		return nil, err
	}
	return rev, nil
}

// UpdateACL replaces the article's four ACL flags.
func (s *ArticleService) UpdateACL(ctx context.Context, articleID int64, groupRead, groupWrite, otherRead, otherWrite bool, by Principal) error {
	article, err := s.repo.GetArticle(ctx, articleID)
	if err != nil {
		return mapDataErr(err)
	}
	if err := s.perms.RequireWrite(article, by); err != nil {
		return err
	}
	article.GroupRead = groupRead
	article.GroupWrite = groupWrite
	article.OtherRead = otherRead
	article.OtherWrite = otherWrite
	if err := s.repo.UpdateArticle(ctx, article); err != nil {
		return mapDataErr(err)
	}
	s.invalidate(ctx, articleID)
	return nil
}

// SetOwner changes the article's owner. Changing ownership of an article the
// principal does not own requires the assign capability.
func (s *ArticleService) SetOwner(ctx context.Context, articleID int64, owner *string, by Principal) error {
	article, err := s.repo.GetArticle(ctx, articleID)
	if err != nil {
		return mapDataErr(err)
	}
	if err := s.perms.RequireAssign(article, by); err != nil {
		return err
	}
	article.OwnerID = owner
	if err := s.repo.UpdateArticle(ctx, article); err != nil {
		return mapDataErr(err)
	}
	s.invalidate(ctx, articleID)
	return nil
}

// SetGroup changes the article's group under the same rule as SetOwner.
func (s *ArticleService) SetGroup(ctx context.Context, articleID int64, group *string, by Principal) error {
	article, err := s.repo.GetArticle(ctx, articleID)
	if err != nil {
		return mapDataErr(err)
	}
	if err := s.perms.RequireAssign(article, by); err != nil {
		return err
	}
	article.GroupName = group
	if err := s.repo.UpdateArticle(ctx, article); err != nil {
		return mapDataErr(err)
	}
	s.invalidate(ctx, articleID)
	return nil
}

// NormalizeContent enforces DOS line endings. It is the standard for web
// browsers, but programmatically created revisions might carry UNIX line
// endings instead.
func NormalizeContent(content string) string {
	content = strings.ReplaceAll(content, "\r", "")
	return strings.ReplaceAll(content, "\n", "\r\n")
}

// afterRevision runs the explicit post-append side effects. Both are best
// effort: a cache or plugin sync failure must not fail the append that
// already committed.
func (s *ArticleService) afterRevision(ctx context.Context, articleID, revisionID int64) {
	if s.plugins != nil {
		if err := s.plugins.RebindSimplePlugins(ctx, articleID, revisionID); err != nil {
			s.log.Error(err, fmt.Sprintf("failed to rebind simple plugins of article %d", articleID))
		}
	}
	s.invalidate(ctx, articleID)
}

func (s *ArticleService) invalidate(ctx context.Context, articleID int64) {
	if s.cache != nil {
		s.cache.InvalidateTree(ctx, articleID)
	}
}

func (s *ArticleService) setAttribution(rev *data.Revision, by Principal) {
	if !by.Anonymous() {
		id := by.ID
		rev.UserID = &id
		if s.cfg.LogIPsUsers && by.IPAddress != "" {
			ip := by.IPAddress
			rev.IPAddress = &ip
		}
		return
	}
	if s.cfg.LogIPsAnonymous && by.IPAddress != "" {
		ip := by.IPAddress
		rev.IPAddress = &ip
	}
}

func (s *ArticleService) lockFor(articleID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[articleID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[articleID] = lock
	}
	return lock
}

// mapDataErr translates repository sentinels into the service taxonomy.
func mapDataErr(err error) error {
	if errors.Is(err, data.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
