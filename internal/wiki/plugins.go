package wiki

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/logger"
)

// PluginService creates and maintains the three plugin attachment variants:
// simple plugins pinned to the owning article's revision stream, reusable
// plugins shared across articles, and revision-tracked plugins carrying their
// own chain.
type PluginService struct {
	repo     PluginRepository
	articles ArticleRepository
	svc      *ArticleService
	perms    *PermissionService
	log      logger.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewPluginService creates a new PluginService.
func NewPluginService(repo PluginRepository, articles ArticleRepository, svc *ArticleService, perms *PermissionService, log logger.Logger) *PluginService {
	return &PluginService{
		repo:     repo,
		articles: articles,
		svc:      svc,
		perms:    perms,
		log:      log,
		locks:    make(map[int64]*sync.Mutex),
	}
}

// CreateSimple attaches a simple plugin to an article. The attachment itself
// appends an audit revision inheriting the current one, and the plugin is
// bound to that new revision so the article's history records when the
// attachment happened. An article without any revision cannot take plugins;
// that fails here, synchronously, not at render time.
func (s *PluginService) CreateSimple(ctx context.Context, articleID int64, name string, by Principal) (*data.SimplePlugin, error) {
	article, err := s.articles.GetArticle(ctx, articleID)
	if err != nil {
		return nil, mapDataErr(err)
	}
	if err := s.perms.RequireWrite(article, by); err != nil {
		return nil, err
	}
	if article.CurrentRevisionID == nil {
		return nil, &ValidationError{Field: "article", Message: fmt.Sprintf("article %d has no revisions to attach a plugin to", articleID)}
	}

	rev, err := s.svc.InheritPredecessor(ctx, articleID)
	if err != nil {
		return nil, err
	}
	rev.AutomaticLog = fmt.Sprintf("plugin %q attached", name)
	if err := s.svc.Append(ctx, articleID, rev, by); err != nil {
		return nil, err
	}

	p := &data.SimplePlugin{ArticleID: articleID, RevisionID: rev.ID, Name: name}
	if err := s.repo.CreateSimplePlugin(ctx, p); err != nil {
		return nil, mapDataErr(err)
	}
	return p, nil
}

// SimplePlugins lists an article's active simple plugins.
func (s *PluginService) SimplePlugins(ctx context.Context, articleID int64) ([]*data.SimplePlugin, error) {
	plugins, err := s.repo.SimplePluginsForArticle(ctx, articleID)
	if err != nil {
		return nil, mapDataErr(err)
	}
	return plugins, nil
}

// CreateReusable creates a plugin shared by several articles. The first
// article is the original: it anchors all later permission checks, so write
// access to it is required up front.
func (s *PluginService) CreateReusable(ctx context.Context, articleIDs []int64, name string, by Principal) (*data.ReusablePlugin, error) {
	if len(articleIDs) == 0 {
		return nil, &ValidationError{Field: "articles", Message: "a reusable plugin requires at least one article"}
	}
	original, err := s.articles.GetArticle(ctx, articleIDs[0])
	if err != nil {
		return nil, mapDataErr(err)
	}
	if err := s.perms.RequireWrite(original, by); err != nil {
		return nil, err
	}
	for _, id := range articleIDs[1:] {
		if _, err := s.articles.GetArticle(ctx, id); err != nil {
			return nil, mapDataErr(err)
		}
	}

	p := &data.ReusablePlugin{OriginalArticleID: &original.ID, Name: name}
	if err := s.repo.CreateReusablePlugin(ctx, p, articleIDs); err != nil {
		return nil, mapDataErr(err)
	}
	return p, nil
}

// CanWriteReusable checks write access on a reusable plugin through its
// original article. A plugin whose original article was purged is orphaned
// and only moderators may touch it.
func (s *PluginService) CanWriteReusable(ctx context.Context, p *data.ReusablePlugin, by Principal) (bool, error) {
	if p.OriginalArticleID == nil {
		return s.perms.CanModerate(by)
	}
	original, err := s.articles.GetArticle(ctx, *p.OriginalArticleID)
	if err != nil {
		return false, mapDataErr(err)
	}
	return s.perms.CanWrite(original, by)
}

// CreateRevisionPlugin creates a plugin with its own revision chain and
// appends the chain's initial revision.
func (s *PluginService) CreateRevisionPlugin(ctx context.Context, articleID int64, name, content string, by Principal) (*data.RevisionPlugin, error) {
	article, err := s.articles.GetArticle(ctx, articleID)
	if err != nil {
		return nil, mapDataErr(err)
	}
	if err := s.perms.RequireWrite(article, by); err != nil {
		return nil, err
	}

	p := &data.RevisionPlugin{ArticleID: articleID, Name: name}
	if err := s.repo.CreateRevisionPlugin(ctx, p); err != nil {
		return nil, mapDataErr(err)
	}
	if _, err := s.AppendPluginRevision(ctx, p.ID, content, by); err != nil {
		return nil, err
	}
	return p, nil
}

// AppendPluginRevision appends to a plugin's own chain under the same
// discipline as article revisions: serialized per chain, number races
// surfacing as ConflictError.
func (s *PluginService) AppendPluginRevision(ctx context.Context, pluginID int64, content string, by Principal) (*data.PluginRevision, error) {
	plugin, err := s.repo.GetRevisionPlugin(ctx, pluginID)
	if err != nil {
		return nil, mapDataErr(err)
	}
	article, err := s.articles.GetArticle(ctx, plugin.ArticleID)
	if err != nil {
		return nil, mapDataErr(err)
	}
	if err := s.perms.RequireWrite(article, by); err != nil {
		return nil, err
	}

	rev := &data.PluginRevision{PluginID: pluginID, Content: NormalizeContent(content)}
	if !by.Anonymous() {
		id := by.ID
		rev.UserID = &id
	}
	if by.IPAddress != "" {
		ip := by.IPAddress
		rev.IPAddress = &ip
	}

	lock := s.lockFor(pluginID)
	lock.Lock()
	err = s.repo.AddPluginRevision(ctx, rev)
	lock.Unlock()
	if err != nil {
		if errors.Is(err, data.ErrDuplicateKey) {
			return nil, &ConflictError{Message: fmt.Sprintf("revision number race on plugin %d", pluginID)}
		}
		return nil, mapDataErr(err)
	}
	return rev, nil
}

// CurrentPluginRevision returns the live revision of a plugin chain.
func (s *PluginService) CurrentPluginRevision(ctx context.Context, pluginID int64) (*data.PluginRevision, error) {
	rev, err := s.repo.CurrentPluginRevision(ctx, pluginID)
	if err != nil {
		return nil, mapDataErr(err)
	}
	return rev, nil
}

func (s *PluginService) lockFor(pluginID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[pluginID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[pluginID] = lock
	}
	return lock
}
