//go:build unit

package wiki

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go-wiki-engine/internal/config"
	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/logger"
)

// fakeStore is an in-memory implementation of the three repository contracts,
// mirroring the SQL implementations' semantics: append numbering, unique-key
// races surfacing as data.ErrDuplicateKey, relations created alongside paths.
type fakeStore struct {
	mu sync.Mutex

	articles  map[int64]*data.Article
	revisions map[int64]*data.Revision
	nodes     map[int64]*data.URLPath
	relations []*data.ArticleRelation

	simplePlugins   map[int64]*data.SimplePlugin
	reusablePlugins map[int64]*data.ReusablePlugin
	reusableLinks   map[int64][]int64
	revisionPlugins map[int64]*data.RevisionPlugin
	pluginRevisions map[int64]*data.PluginRevision

	nextID int64

	addRevisionErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		articles:        make(map[int64]*data.Article),
		revisions:       make(map[int64]*data.Revision),
		nodes:           make(map[int64]*data.URLPath),
		simplePlugins:   make(map[int64]*data.SimplePlugin),
		reusablePlugins: make(map[int64]*data.ReusablePlugin),
		reusableLinks:   make(map[int64][]int64),
		revisionPlugins: make(map[int64]*data.RevisionPlugin),
		pluginRevisions: make(map[int64]*data.PluginRevision),
	}
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

// --- ArticleRepository ---

func (s *fakeStore) CreateArticle(ctx context.Context, article *data.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	article.ID = s.id()
	article.Created = time.Now().UTC()
	article.Modified = article.Created
	s.articles[article.ID] = article
	return nil
}

func (s *fakeStore) GetArticle(ctx context.Context, id int64) (*data.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return article, nil
}

func (s *fakeStore) UpdateArticle(ctx context.Context, article *data.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.articles[article.ID]; !ok {
		return data.ErrNotFound
	}
	article.Modified = time.Now().UTC()
	s.articles[article.ID] = article
	return nil
}

func (s *fakeStore) AddRevision(ctx context.Context, rev *data.Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addRevisionErr != nil {
		return s.addRevisionErr
	}
	article, ok := s.articles[rev.ArticleID]
	if !ok {
		return data.ErrNotFound
	}
	rev.RevisionNumber = s.nextNumberLocked(rev.ArticleID)
	for _, existing := range s.revisions {
		if existing.ArticleID == rev.ArticleID && existing.RevisionNumber == rev.RevisionNumber {
			return data.ErrDuplicateKey
		}
	}
	rev.PreviousID = article.CurrentRevisionID
	rev.ID = s.id()
	rev.Created = time.Now().UTC()
	s.revisions[rev.ID] = rev
	current := rev.ID
	article.CurrentRevisionID = &current
	return nil
}

func (s *fakeStore) nextNumberLocked(articleID int64) int {
	next := 0
	for _, rev := range s.revisions {
		if rev.ArticleID == articleID && rev.RevisionNumber >= next {
			next = rev.RevisionNumber + 1
		}
	}
	return next
}

func (s *fakeStore) CurrentRevision(ctx context.Context, articleID int64) (*data.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[articleID]
	if !ok || article.CurrentRevisionID == nil {
		return nil, data.ErrNotFound
	}
	rev, ok := s.revisions[*article.CurrentRevisionID]
	if !ok {
		return nil, data.ErrNotFound
	}
	return rev, nil
}

func (s *fakeStore) GetRevision(ctx context.Context, id int64) (*data.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rev, ok := s.revisions[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return rev, nil
}

func (s *fakeStore) GetRevisionByNumber(ctx context.Context, articleID int64, number int) (*data.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rev := range s.revisions {
		if rev.ArticleID == articleID && rev.RevisionNumber == number {
			return rev, nil
		}
	}
	return nil, data.ErrNotFound
}

func (s *fakeStore) ListRevisions(ctx context.Context, articleID int64) ([]*data.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var revs []*data.Revision
	for _, rev := range s.revisions {
		if rev.ArticleID == articleID {
			revs = append(revs, rev)
		}
	}
	sort.Slice(revs, func(i, j int) bool { return revs[i].RevisionNumber > revs[j].RevisionNumber })
	return revs, nil
}

func (s *fakeStore) CreateRelation(ctx context.Context, rel *data.ArticleRelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.relations {
		if existing.ArticleID == rel.ArticleID && existing.Kind == rel.Kind && existing.ObjectID == rel.ObjectID {
			return nil
		}
	}
	rel.ID = s.id()
	s.relations = append(s.relations, rel)
	return nil
}

func (s *fakeStore) RelationsForArticle(ctx context.Context, articleID int64) ([]*data.ArticleRelation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rels []*data.ArticleRelation
	for _, rel := range s.relations {
		if rel.ArticleID == articleID {
			rels = append(rels, rel)
		}
	}
	return rels, nil
}

// --- PathRepository ---

func (s *fakeStore) RootNodes(ctx context.Context, site string) ([]*data.URLPath, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var roots []*data.URLPath
	for _, node := range s.nodes {
		if node.Site == site && node.ParentID == nil {
			roots = append(roots, node)
		}
	}
	return roots, nil
}

func (s *fakeStore) GetNode(ctx context.Context, id int64) (*data.URLPath, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return node, nil
}

func (s *fakeStore) Children(ctx context.Context, parentID int64) ([]*data.URLPath, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	children := s.childrenLocked(parentID)
	sort.Slice(children, func(i, j int) bool { return children[i].Slug < children[j].Slug })
	return children, nil
}

func (s *fakeStore) childrenLocked(parentID int64) []*data.URLPath {
	var children []*data.URLPath
	for _, node := range s.nodes {
		if node.ParentID != nil && *node.ParentID == parentID {
			children = append(children, node)
		}
	}
	return children
}

func (s *fakeStore) ChildBySlug(ctx context.Context, parentID int64, slug string, caseSensitive bool) (*data.URLPath, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, node := range s.childrenLocked(parentID) {
		if caseSensitive && node.Slug == slug {
			return node, nil
		}
		if !caseSensitive && strings.EqualFold(node.Slug, slug) {
			return node, nil
		}
	}
	return nil, data.ErrNotFound
}

func (s *fakeStore) Ancestors(ctx context.Context, nodeID int64) ([]*data.URLPath, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[nodeID]
	if !ok {
		return nil, data.ErrNotFound
	}
	var chain []*data.URLPath
	for node.ParentID != nil {
		node = s.nodes[*node.ParentID]
		chain = append([]*data.URLPath{node}, chain...)
	}
	return chain, nil
}

func (s *fakeStore) Descendants(ctx context.Context, nodeID int64) ([]*data.URLPath, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type entry struct {
		node  *data.URLPath
		depth int
	}
	var out []entry
	var walk func(parentID int64, depth int)
	walk = func(parentID int64, depth int) {
		for _, child := range s.childrenLocked(parentID) {
			out = append(out, entry{child, depth})
			walk(child.ID, depth+1)
		}
	}
	walk(nodeID, 1)
	sort.Slice(out, func(i, j int) bool {
		if out[i].depth != out[j].depth {
			return out[i].depth < out[j].depth
		}
		return out[i].node.Slug < out[j].node.Slug
	})
	nodes := make([]*data.URLPath, len(out))
	for i, e := range out {
		nodes[i] = e.node
	}
	return nodes, nil
}

func (s *fakeStore) NodesForArticle(ctx context.Context, site string, articleID int64) ([]*data.URLPath, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var nodes []*data.URLPath
	for _, node := range s.nodes {
		if node.Site == site && node.ArticleID == articleID {
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}

func (s *fakeStore) CreatePathWithArticle(ctx context.Context, node *data.URLPath, article *data.Article, rev *data.Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.nodes {
		if existing.Site == node.Site && sameParent(existing.ParentID, node.ParentID) && existing.Slug == node.Slug {
			return data.ErrDuplicateKey
		}
	}
	article.ID = s.id()
	article.Created = time.Now().UTC()
	article.Modified = article.Created
	s.articles[article.ID] = article

	rev.ID = s.id()
	rev.ArticleID = article.ID
	rev.RevisionNumber = 0
	rev.PreviousID = nil
	rev.Created = article.Created
	s.revisions[rev.ID] = rev
	current := rev.ID
	article.CurrentRevisionID = &current

	node.ID = s.id()
	node.ArticleID = article.ID
	s.nodes[node.ID] = node
	s.relations = append(s.relations, &data.ArticleRelation{
		ID: s.id(), ArticleID: article.ID, Kind: "urlpath", ObjectID: node.ID,
	})
	return nil
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *fakeStore) MoveNode(ctx context.Context, nodeID, newParentID int64, newSlug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[nodeID]
	if !ok {
		return data.ErrNotFound
	}
	for _, existing := range s.childrenLocked(newParentID) {
		if existing.ID != nodeID && existing.Slug == newSlug {
			return data.ErrDuplicateKey
		}
	}
	parent := newParentID
	node.ParentID = &parent
	node.Slug = newSlug
	return nil
}

func (s *fakeStore) SetMovedTo(ctx context.Context, nodeID int64, movedToID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[nodeID]
	if !ok {
		return data.ErrNotFound
	}
	node.MovedToID = movedToID
	return nil
}

func (s *fakeStore) ReparentChildren(ctx context.Context, nodeID, newParentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, child := range s.childrenLocked(nodeID) {
		parent := newParentID
		child.ParentID = &parent
	}
	return nil
}

func (s *fakeStore) PurgeNodes(ctx context.Context, nodes []*data.URLPath) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, node := range nodes {
		delete(s.nodes, node.ID)
		delete(s.articles, node.ArticleID)
		for id, rev := range s.revisions {
			if rev.ArticleID == node.ArticleID {
				delete(s.revisions, id)
			}
		}
		kept := s.relations[:0]
		for _, rel := range s.relations {
			if rel.ArticleID != node.ArticleID {
				kept = append(kept, rel)
			}
		}
		s.relations = kept
	}
	return nil
}

// --- PluginRepository ---

func (s *fakeStore) CreateSimplePlugin(ctx context.Context, p *data.SimplePlugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.id()
	p.Created = time.Now().UTC()
	s.simplePlugins[p.ID] = p
	return nil
}

func (s *fakeStore) SimplePluginsForArticle(ctx context.Context, articleID int64) ([]*data.SimplePlugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var plugins []*data.SimplePlugin
	for _, p := range s.simplePlugins {
		if p.ArticleID == articleID && !p.Deleted {
			plugins = append(plugins, p)
		}
	}
	return plugins, nil
}

func (s *fakeStore) RebindSimplePlugins(ctx context.Context, articleID, revisionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.simplePlugins {
		if p.ArticleID == articleID && !p.Deleted {
			p.RevisionID = revisionID
		}
	}
	return nil
}

func (s *fakeStore) CreateReusablePlugin(ctx context.Context, p *data.ReusablePlugin, articleIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.id()
	p.Created = time.Now().UTC()
	s.reusablePlugins[p.ID] = p
	s.reusableLinks[p.ID] = append([]int64(nil), articleIDs...)
	return nil
}

func (s *fakeStore) ReusablePluginArticles(ctx context.Context, pluginID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.reusableLinks[pluginID]...), nil
}

func (s *fakeStore) CreateRevisionPlugin(ctx context.Context, p *data.RevisionPlugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.id()
	p.Created = time.Now().UTC()
	s.revisionPlugins[p.ID] = p
	return nil
}

func (s *fakeStore) GetRevisionPlugin(ctx context.Context, id int64) (*data.RevisionPlugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.revisionPlugins[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) AddPluginRevision(ctx context.Context, rev *data.PluginRevision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	plugin, ok := s.revisionPlugins[rev.PluginID]
	if !ok {
		return data.ErrNotFound
	}
	next := 0
	for _, existing := range s.pluginRevisions {
		if existing.PluginID == rev.PluginID && existing.RevisionNumber >= next {
			next = existing.RevisionNumber + 1
		}
	}
	rev.RevisionNumber = next
	rev.PreviousID = plugin.CurrentRevisionID
	rev.ID = s.id()
	rev.Created = time.Now().UTC()
	s.pluginRevisions[rev.ID] = rev
	current := rev.ID
	plugin.CurrentRevisionID = &current
	return nil
}

func (s *fakeStore) CurrentPluginRevision(ctx context.Context, pluginID int64) (*data.PluginRevision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plugin, ok := s.revisionPlugins[pluginID]
	if !ok || plugin.CurrentRevisionID == nil {
		return nil, data.ErrNotFound
	}
	rev, ok := s.pluginRevisions[*plugin.CurrentRevisionID]
	if !ok {
		return nil, data.ErrNotFound
	}
	return rev, nil
}

// fakeChecker grants capabilities from a static map.
type fakeChecker struct {
	caps map[string][]string
}

func (c *fakeChecker) HasCapability(principal, capability string) (bool, error) {
	for _, granted := range c.caps[principal] {
		if granted == capability {
			return true, nil
		}
	}
	return false, nil
}

// fakeCacheStore is an in-memory CacheStore.
type fakeCacheStore struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
}

func newFakeCacheStore() *fakeCacheStore {
	return &fakeCacheStore{entries: make(map[string][]byte)}
}

func (c *fakeCacheStore) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

func (c *fakeCacheStore) Set(key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append([]byte(nil), value...)
	c.sets++
	return nil
}

func (c *fakeCacheStore) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *fakeCacheStore) DeleteMany(keys []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

// fakeRenderer wraps content in a tag and counts invocations.
type fakeRenderer struct {
	mu    sync.Mutex
	calls int
}

func (r *fakeRenderer) Render(ctx context.Context, content string, rc RenderContext) (string, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return "<p>" + content + "</p>", nil
}

func (r *fakeRenderer) renderCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// testEnv wires the full service stack over the fakes.
type testEnv struct {
	store    *fakeStore
	checker  *fakeChecker
	cacheSt  *fakeCacheStore
	renderer *fakeRenderer
	cache    *RenderCache
	perms    *PermissionService
	articles *ArticleService
	tree     *TreeService
	plugins  *PluginService
	cfg      config.WikiConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newFakeStore()
	checker := &fakeChecker{caps: map[string][]string{
		"mod":   {CapModerate, CapAssign},
		"owner": {},
	}}
	cacheStore := newFakeCacheStore()
	renderer := &fakeRenderer{}
	log := logger.Discard()
	cfg := config.WikiConfig{
		Site:             "default",
		URLCaseSensitive: false,
		ReservedSlugs:    []string{"admin", "_plugin", "_revision"},
		LostAndFoundSlug: "lost-and-found",
		LogIPsUsers:      false,
		LogIPsAnonymous:  true,
	}

	cache := NewRenderCache(cacheStore, renderer, store, cfg.Site, time.Hour, log)
	relations := NewRelationRegistry()
	perms := NewPermissionService(checker, store, store, relations, cache, log)
	articles := NewArticleService(store, store, perms, cache, cfg, log)
	tree := NewTreeService(store, store, articles, perms, cache, cfg, log)
	plugins := NewPluginService(store, store, articles, perms, log)

	return &testEnv{
		store:    store,
		checker:  checker,
		cacheSt:  cacheStore,
		renderer: renderer,
		cache:    cache,
		perms:    perms,
		articles: articles,
		tree:     tree,
		plugins:  plugins,
		cfg:      cfg,
	}
}

// mustRoot initializes the site and returns the root node.
func (e *testEnv) mustRoot(t *testing.T) *data.URLPath {
	t.Helper()
	root, err := e.tree.CreateRoot(context.Background(), "Home", "Welcome.\n", Principal{})
	if err != nil {
		t.Fatalf("CreateRoot failed: %v", err)
	}
	return root
}

// mustCreate creates a child article under the parent and returns its node.
func (e *testEnv) mustCreate(t *testing.T, parentID int64, slug, title string, by Principal) *data.URLPath {
	t.Helper()
	node, err := e.tree.CreatePath(context.Background(), parentID, slug, title, "content of "+title+"\n", "", by)
	if err != nil {
		t.Fatalf("CreatePath(%q) failed: %v", slug, err)
	}
	return node
}
