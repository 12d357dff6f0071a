package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLPathRepository persists the hierarchical URL path tree using sqlx.
// Storage is an adjacency list; descendant and ancestor traversal use
// indexed recursive queries so lookups stay cheap without nested sets.
type SQLPathRepository struct {
	db *sqlx.DB
}

// NewSQLPathRepository creates a new SQLPathRepository.
func NewSQLPathRepository(db *sqlx.DB) *SQLPathRepository {
	return &SQLPathRepository{db: db}
}

const pathColumns = `id, site, parent_id, slug, article_id, moved_to_id`

// RootNodes returns every root node of a site. The tree invariant is exactly
// one; the service layer turns violations into NoRoot/MultipleRoots.
func (r *SQLPathRepository) RootNodes(ctx context.Context, site string) ([]*URLPath, error) {
	var nodes []*URLPath
	query := `SELECT ` + pathColumns + ` FROM url_paths WHERE site = ? AND parent_id IS NULL`
	if err := r.db.SelectContext(ctx, &nodes, query, site); err != nil {
		return nil, fmt.Errorf("failed to get root nodes for site %q: %w", site, err)
	}
	return nodes, nil
}

// GetNode retrieves a single path node by its ID.
func (r *SQLPathRepository) GetNode(ctx context.Context, id int64) (*URLPath, error) {
	var node URLPath
	query := `SELECT ` + pathColumns + ` FROM url_paths WHERE id = ?`
	if err := r.db.GetContext(ctx, &node, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get path node %d: %w", id, err)
	}
	return &node, nil
}

// Children lists a node's direct children ordered by slug.
func (r *SQLPathRepository) Children(ctx context.Context, parentID int64) ([]*URLPath, error) {
	var nodes []*URLPath
	query := `SELECT ` + pathColumns + ` FROM url_paths WHERE parent_id = ? ORDER BY slug`
	if err := r.db.SelectContext(ctx, &nodes, query, parentID); err != nil {
		return nil, fmt.Errorf("failed to list children of node %d: %w", parentID, err)
	}
	return nodes, nil
}

// ChildBySlug finds a direct child by slug under the given case policy.
// Matching is done case-insensitively in SQL and, when caseSensitive is set,
// narrowed to an exact match here so behavior is identical on both drivers.
func (r *SQLPathRepository) ChildBySlug(ctx context.Context, parentID int64, slug string, caseSensitive bool) (*URLPath, error) {
	var nodes []*URLPath
	query := `SELECT ` + pathColumns + ` FROM url_paths WHERE parent_id = ? AND LOWER(slug) = LOWER(?)`
	if err := r.db.SelectContext(ctx, &nodes, query, parentID, slug); err != nil {
		return nil, fmt.Errorf("failed to look up slug %q under node %d: %w", slug, parentID, err)
	}
	for _, node := range nodes {
		if !caseSensitive || node.Slug == slug {
			return node, nil
		}
	}
	return nil, ErrNotFound
}

// Ancestors returns the chain from the site root down to (excluding) the
// node itself. Depth is the distance from the node, so the result is ordered
// root first.
func (r *SQLPathRepository) Ancestors(ctx context.Context, nodeID int64) ([]*URLPath, error) {
	var nodes []*URLPath
	query := `WITH RECURSIVE chain(id, site, parent_id, slug, article_id, moved_to_id, depth) AS (
	            SELECT ` + pathColumns + `, 0 FROM url_paths WHERE id = ?
	            UNION ALL
	            SELECT u.id, u.site, u.parent_id, u.slug, u.article_id, u.moved_to_id, c.depth + 1
	            FROM url_paths u JOIN chain c ON c.parent_id = u.id
	          )
	          SELECT * FROM chain WHERE id <> ? ORDER BY depth DESC`
	if err := r.db.SelectContext(ctx, &nodes, query, nodeID, nodeID); err != nil {
		return nil, fmt.Errorf("failed to get ancestors of node %d: %w", nodeID, err)
	}
	return nodes, nil
}

// Descendants returns the node's subtree excluding the node itself, ordered
// shallowest first. Reverse the slice for a post-order (deepest first) walk.
func (r *SQLPathRepository) Descendants(ctx context.Context, nodeID int64) ([]*URLPath, error) {
	var nodes []*URLPath
	query := `WITH RECURSIVE tree(id, site, parent_id, slug, article_id, moved_to_id, depth) AS (
	            SELECT ` + pathColumns + `, 0 FROM url_paths WHERE id = ?
	            UNION ALL
	            SELECT u.id, u.site, u.parent_id, u.slug, u.article_id, u.moved_to_id, t.depth + 1
	            FROM url_paths u JOIN tree t ON u.parent_id = t.id
	          )
	          SELECT * FROM tree WHERE id <> ? ORDER BY depth, slug`
	if err := r.db.SelectContext(ctx, &nodes, query, nodeID, nodeID); err != nil {
		return nil, fmt.Errorf("failed to get descendants of node %d: %w", nodeID, err)
	}
	return nodes, nil
}

// NodesForArticle lists the path nodes an article is mounted at.
func (r *SQLPathRepository) NodesForArticle(ctx context.Context, site string, articleID int64) ([]*URLPath, error) {
	var nodes []*URLPath
	query := `SELECT ` + pathColumns + ` FROM url_paths WHERE site = ? AND article_id = ?`
	if err := r.db.SelectContext(ctx, &nodes, query, site, articleID); err != nil {
		return nil, fmt.Errorf("failed to get nodes for article %d: %w", articleID, err)
	}
	return nodes, nil
}

// CreatePathWithArticle creates the article, its first revision and the path
// node as one atomic unit. A slug collision under the parent surfaces as
// ErrDuplicateKey.
func (r *SQLPathRepository) CreatePathWithArticle(ctx context.Context, node *URLPath, article *Article, rev *Revision) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin path creation: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	article.Created = now
	article.Modified = now
	res, err := tx.NamedExecContext(ctx,
		`INSERT INTO articles (current_revision_id, owner_id, group_name, group_read, group_write, other_read, other_write, created, modified)
		 VALUES (NULL, :owner_id, :group_name, :group_read, :group_write, :other_read, :other_write, :created, :modified)`, article)
	if err != nil {
		return fmt.Errorf("failed to create article for path: %w", err)
	}
	if article.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get article id: %w", err)
	}

	rev.ArticleID = article.ID
	rev.RevisionNumber = 0
	rev.PreviousID = nil
	rev.Created = now
	res, err = tx.NamedExecContext(ctx,
		`INSERT INTO revisions (article_id, revision_number, title, content, user_message, automatic_log, user_id, ip_address, previous_revision_id, deleted, locked, created)
		 VALUES (:article_id, :revision_number, :title, :content, :user_message, :automatic_log, :user_id, :ip_address, :previous_revision_id, :deleted, :locked, :created)`, rev)
	if err != nil {
		return fmt.Errorf("failed to create first revision: %w", err)
	}
	if rev.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get revision id: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE articles SET current_revision_id = ? WHERE id = ?`, rev.ID, article.ID); err != nil {
		return fmt.Errorf("failed to point article at first revision: %w", err)
	}
	article.CurrentRevisionID = &rev.ID

	node.ArticleID = article.ID
	res, err = tx.NamedExecContext(ctx,
		`INSERT INTO url_paths (site, parent_id, slug, article_id, moved_to_id)
		 VALUES (:site, :parent_id, :slug, :article_id, :moved_to_id)`, node)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to create path node: %w", err)
	}
	if node.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get path node id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO article_relations (article_id, kind, object_id) VALUES (?, ?, ?)`,
		article.ID, "urlpath", node.ID); err != nil {
		return fmt.Errorf("failed to relate article to path: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit path creation: %w", err)
	}
	return nil
}

// MoveNode reparents a node under a new parent with a new slug. Collision
// with an existing sibling at the destination surfaces as ErrDuplicateKey.
// Cycle prevention is the service layer's responsibility.
func (r *SQLPathRepository) MoveNode(ctx context.Context, nodeID, newParentID int64, newSlug string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE url_paths SET parent_id = ?, slug = ? WHERE id = ?`, newParentID, newSlug, nodeID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to move node %d: %w", nodeID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMovedTo marks a node as a redirect stub pointing at another node.
func (r *SQLPathRepository) SetMovedTo(ctx context.Context, nodeID int64, movedToID *int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE url_paths SET moved_to_id = ? WHERE id = ?`, movedToID, nodeID)
	if err != nil {
		return fmt.Errorf("failed to set redirect on node %d: %w", nodeID, err)
	}
	return nil
}

// ReparentChildren moves every direct child of a node under a new parent.
// Each child keeps its slug; the caller ensures the destination is safe.
func (r *SQLPathRepository) ReparentChildren(ctx context.Context, nodeID, newParentID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE url_paths SET parent_id = ? WHERE parent_id = ?`, newParentID, nodeID)
	if err != nil {
		return fmt.Errorf("failed to reparent children of node %d: %w", nodeID, err)
	}
	return nil
}

// PurgeNodes physically removes the given nodes, their articles and all
// revision history in one transaction. Callers pass the nodes in post-order
// (deepest first) so no node is removed before its children.
func (r *SQLPathRepository) PurgeNodes(ctx context.Context, nodes []*URLPath) error {
	if len(nodes) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin purge: %w", err)
	}
	defer tx.Rollback()

	// Nodes are removed one at a time in the given post-order so the
	// parent-pointer constraint is never violated mid-statement.
	articleIDs := make([]int64, 0, len(nodes))
	for _, n := range nodes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM url_paths WHERE id = ?`, n.ID); err != nil {
			return fmt.Errorf("failed to delete path node %d: %w", n.ID, err)
		}
		articleIDs = append(articleIDs, n.ArticleID)
	}

	if err := purgeArticlesTx(ctx, tx, articleIDs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purge: %w", err)
	}
	return nil
}

func purgeArticlesTx(ctx context.Context, tx *sqlx.Tx, articleIDs []int64) error {
	steps := []string{
		`UPDATE articles SET current_revision_id = NULL WHERE id IN (?)`,
		`DELETE FROM plugin_revisions WHERE plugin_id IN (SELECT id FROM revision_plugins WHERE article_id IN (?))`,
		`DELETE FROM revision_plugins WHERE article_id IN (?)`,
		`DELETE FROM simple_plugins WHERE article_id IN (?)`,
		`DELETE FROM reusable_plugin_articles WHERE article_id IN (?)`,
		`DELETE FROM article_relations WHERE article_id IN (?)`,
		`DELETE FROM revisions WHERE article_id IN (?)`,
		`DELETE FROM articles WHERE id IN (?)`,
	}
	for _, step := range steps {
		query, args, err := sqlx.In(step, articleIDs)
		if err != nil {
			return fmt.Errorf("failed to expand purge query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("failed to purge (%s): %w", strings.SplitN(step, " WHERE", 2)[0], err)
		}
	}
	return nil
}
