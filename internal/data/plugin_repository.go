package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLPluginRepository persists the three plugin attachment variants.
type SQLPluginRepository struct {
	db *sqlx.DB
}

// NewSQLPluginRepository creates a new SQLPluginRepository.
func NewSQLPluginRepository(db *sqlx.DB) *SQLPluginRepository {
	return &SQLPluginRepository{db: db}
}

// CreateSimplePlugin inserts a simple plugin row bound to one revision.
func (r *SQLPluginRepository) CreateSimplePlugin(ctx context.Context, p *SimplePlugin) error {
	p.Created = time.Now().UTC()
	res, err := r.db.NamedExecContext(ctx,
		`INSERT INTO simple_plugins (article_id, revision_id, name, deleted, created)
		 VALUES (:article_id, :revision_id, :name, :deleted, :created)`, p)
	if err != nil {
		return fmt.Errorf("failed to create simple plugin: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get simple plugin id: %w", err)
	}
	return nil
}

// SimplePluginsForArticle lists the active simple plugins of an article.
func (r *SQLPluginRepository) SimplePluginsForArticle(ctx context.Context, articleID int64) ([]*SimplePlugin, error) {
	var plugins []*SimplePlugin
	query := `SELECT * FROM simple_plugins WHERE article_id = ? AND deleted = ?`
	if err := r.db.SelectContext(ctx, &plugins, query, articleID, false); err != nil {
		return nil, fmt.Errorf("failed to list simple plugins of article %d: %w", articleID, err)
	}
	return plugins, nil
}

// RebindSimplePlugins points every active simple plugin of an article at a
// new revision. Called after each successful append.
func (r *SQLPluginRepository) RebindSimplePlugins(ctx context.Context, articleID, revisionID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE simple_plugins SET revision_id = ? WHERE article_id = ? AND deleted = ?`,
		revisionID, articleID, false)
	if err != nil {
		return fmt.Errorf("failed to rebind simple plugins of article %d: %w", articleID, err)
	}
	return nil
}

// CreateReusablePlugin inserts a reusable plugin and its article bindings in
// one transaction.
func (r *SQLPluginRepository) CreateReusablePlugin(ctx context.Context, p *ReusablePlugin, articleIDs []int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reusable plugin creation: %w", err)
	}
	defer tx.Rollback()

	p.Created = time.Now().UTC()
	res, err := tx.NamedExecContext(ctx,
		`INSERT INTO reusable_plugins (original_article_id, name, deleted, created)
		 VALUES (:original_article_id, :name, :deleted, :created)`, p)
	if err != nil {
		return fmt.Errorf("failed to create reusable plugin: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get reusable plugin id: %w", err)
	}
	for _, articleID := range articleIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO reusable_plugin_articles (plugin_id, article_id) VALUES (?, ?)`,
			p.ID, articleID); err != nil {
			return fmt.Errorf("failed to bind reusable plugin to article %d: %w", articleID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reusable plugin: %w", err)
	}
	return nil
}

// ReusablePluginArticles lists the article IDs a reusable plugin is bound to.
func (r *SQLPluginRepository) ReusablePluginArticles(ctx context.Context, pluginID int64) ([]int64, error) {
	var ids []int64
	query := `SELECT article_id FROM reusable_plugin_articles WHERE plugin_id = ? ORDER BY article_id`
	if err := r.db.SelectContext(ctx, &ids, query, pluginID); err != nil {
		return nil, fmt.Errorf("failed to list articles of reusable plugin %d: %w", pluginID, err)
	}
	return ids, nil
}

// CreateRevisionPlugin inserts a revision-tracked plugin with an empty chain.
func (r *SQLPluginRepository) CreateRevisionPlugin(ctx context.Context, p *RevisionPlugin) error {
	p.Created = time.Now().UTC()
	res, err := r.db.NamedExecContext(ctx,
		`INSERT INTO revision_plugins (article_id, name, current_revision_id, deleted, created)
		 VALUES (:article_id, :name, NULL, :deleted, :created)`, p)
	if err != nil {
		return fmt.Errorf("failed to create revision plugin: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get revision plugin id: %w", err)
	}
	return nil
}

// GetRevisionPlugin retrieves a revision-tracked plugin by its ID.
func (r *SQLPluginRepository) GetRevisionPlugin(ctx context.Context, id int64) (*RevisionPlugin, error) {
	var p RevisionPlugin
	if err := r.db.GetContext(ctx, &p, `SELECT * FROM revision_plugins WHERE id = ?`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get revision plugin %d: %w", id, err)
	}
	return &p, nil
}

// AddPluginRevision appends to a plugin's own chain with the same atomic
// shape as article revisions: number assignment, previous pointer, insert and
// current-pointer repoint in one transaction. Number races surface as
// ErrDuplicateKey.
func (r *SQLPluginRepository) AddPluginRevision(ctx context.Context, rev *PluginRevision) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin plugin revision transaction: %w", err)
	}
	defer tx.Rollback()

	var plugin RevisionPlugin
	if err := tx.GetContext(ctx, &plugin, `SELECT * FROM revision_plugins WHERE id = ?`, rev.PluginID); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load revision plugin %d: %w", rev.PluginID, err)
	}

	var maxNumber sql.NullInt64
	if err := tx.GetContext(ctx, &maxNumber,
		`SELECT MAX(revision_number) FROM plugin_revisions WHERE plugin_id = ?`, rev.PluginID); err != nil {
		return fmt.Errorf("failed to get latest plugin revision number: %w", err)
	}
	if maxNumber.Valid {
		rev.RevisionNumber = int(maxNumber.Int64) + 1
	} else {
		rev.RevisionNumber = 0
	}
	rev.PreviousID = plugin.CurrentRevisionID
	rev.Created = time.Now().UTC()

	res, err := tx.NamedExecContext(ctx,
		`INSERT INTO plugin_revisions (plugin_id, revision_number, content, user_id, ip_address, previous_revision_id, deleted, locked, created)
		 VALUES (:plugin_id, :revision_number, :content, :user_id, :ip_address, :previous_revision_id, :deleted, :locked, :created)`, rev)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert plugin revision: %w", err)
	}
	if rev.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get plugin revision id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE revision_plugins SET current_revision_id = ? WHERE id = ?`, rev.ID, rev.PluginID); err != nil {
		return fmt.Errorf("failed to repoint plugin current revision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plugin revision: %w", err)
	}
	return nil
}

// CurrentPluginRevision returns the plugin chain's live revision.
func (r *SQLPluginRepository) CurrentPluginRevision(ctx context.Context, pluginID int64) (*PluginRevision, error) {
	var rev PluginRevision
	query := `SELECT pr.* FROM plugin_revisions pr
	          JOIN revision_plugins p ON p.current_revision_id = pr.id
	          WHERE p.id = ?`
	if err := r.db.GetContext(ctx, &rev, query, pluginID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get current revision of plugin %d: %w", pluginID, err)
	}
	return &rev, nil
}
