package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/logger"
)

// CacheStore is the byte store backing the render cache. Implemented by the
// SQLite cache; faked in tests.
type CacheStore interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	DeleteMany(keys []string) error
}

// RenderCache memoizes rendered article content per (current revision,
// language, viewer). A secondary index tracks every key derived from an
// article's current state so one Invalidate call purges all per-viewer
// variants. The cache is never the source of truth: every store failure is
// logged and treated as a miss, and entries expire on a TTL as a safety net
// independent of explicit invalidation.
type RenderCache struct {
	store    CacheStore
	renderer Renderer
	paths    PathRepository
	site     string
	ttl      time.Duration
	log      logger.Logger
}

// NewRenderCache creates a new RenderCache.
func NewRenderCache(store CacheStore, renderer Renderer, paths PathRepository, site string, ttl time.Duration, log logger.Logger) *RenderCache {
	return &RenderCache{
		store:    store,
		renderer: renderer,
		paths:    paths,
		site:     site,
		ttl:      ttl,
		log:      log,
	}
}

// Content returns the rendered HTML of the article's given revision for one
// viewer, rendering and storing it on a miss. A nil revision (article
// without content) renders empty.
func (c *RenderCache) Content(ctx context.Context, article *data.Article, rev *data.Revision, language string, viewer Principal) (string, error) {
	if rev == nil {
		return "", nil
	}
	key := contentKey(article.ID, rev.ID, language, viewer)
	if cached, err := c.store.Get(key); err != nil {
		c.log.Error(err, "render cache read failed")
	} else if cached != nil {
		return string(cached), nil
	}

	html, err := c.renderer.Render(ctx, rev.Content, RenderContext{
		Article:   article,
		Language:  language,
		Principal: viewer,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render article %d: %w", article.ID, err)
	}

	if err := c.store.Set(key, []byte(html), c.ttl); err != nil {
		c.log.Error(err, "render cache write failed")
		return html, nil
	}
	c.indexKey(article.ID, key)
	return html, nil
}

// Invalidate purges every cached variant derived from the article's current
// state. Failures are logged, never propagated.
func (c *RenderCache) Invalidate(ctx context.Context, articleID int64) {
	index := indexKeyName(articleID)
	keys := c.readIndex(index)
	if err := c.store.DeleteMany(append(keys, index)); err != nil {
		c.log.Error(err, fmt.Sprintf("failed to invalidate render cache for article %d", articleID))
	}
}

// InvalidateTree purges the article's variants and those of every tree
// ancestor, since rendering may depend on ancestor-derived context.
func (c *RenderCache) InvalidateTree(ctx context.Context, articleID int64) {
	c.Invalidate(ctx, articleID)
	if c.paths == nil {
		return
	}
	nodes, err := c.paths.NodesForArticle(ctx, c.site, articleID)
	if err != nil {
		c.log.Error(err, fmt.Sprintf("failed to find nodes of article %d for cache invalidation", articleID))
		return
	}
	seen := map[int64]bool{articleID: true}
	for _, node := range nodes {
		ancestors, err := c.paths.Ancestors(ctx, node.ID)
		if err != nil {
			c.log.Error(err, fmt.Sprintf("failed to walk ancestors of node %d for cache invalidation", node.ID))
			continue
		}
		for _, ancestor := range ancestors {
			if seen[ancestor.ArticleID] {
				continue
			}
			seen[ancestor.ArticleID] = true
			c.Invalidate(ctx, ancestor.ArticleID)
		}
	}
}

// indexKey appends a content key to the article's key-group index.
func (c *RenderCache) indexKey(articleID int64, key string) {
	index := indexKeyName(articleID)
	keys := c.readIndex(index)
	for _, k := range keys {
		if k == key {
			return
		}
	}
	keys = append(keys, key)
	encoded, err := json.Marshal(keys)
	if err != nil {
		c.log.Error(err, "failed to encode render cache index")
		return
	}
	if err := c.store.Set(index, encoded, c.ttl); err != nil {
		c.log.Error(err, "failed to store render cache index")
	}
}

func (c *RenderCache) readIndex(index string) []string {
	raw, err := c.store.Get(index)
	if err != nil {
		c.log.Error(err, "failed to read render cache index")
		return nil
	}
	if raw == nil {
		return nil
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		c.log.Error(err, "failed to decode render cache index")
		return nil
	}
	return keys
}

func contentKey(articleID, revisionID int64, language string, viewer Principal) string {
	who := "anonymous"
	if !viewer.Anonymous() {
		who = viewer.ID
	}
	return fmt.Sprintf("wiki-article-%d-%d-%s-%s", articleID, revisionID, language, who)
}

func indexKeyName(articleID int64) string {
	return fmt.Sprintf("wiki-article-keys-%d", articleID)
}
