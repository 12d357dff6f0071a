package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLArticleRepository persists articles and their revision chains using sqlx.
type SQLArticleRepository struct {
	db *sqlx.DB
}

// NewSQLArticleRepository creates a new SQLArticleRepository.
func NewSQLArticleRepository(db *sqlx.DB) *SQLArticleRepository {
	return &SQLArticleRepository{db: db}
}

// CreateArticle inserts a new article and fills in its generated ID.
func (r *SQLArticleRepository) CreateArticle(ctx context.Context, article *Article) error {
	now := time.Now().UTC()
	article.Created = now
	article.Modified = now
	query := `INSERT INTO articles (current_revision_id, owner_id, group_name, group_read, group_write, other_read, other_write, created, modified)
	          VALUES (:current_revision_id, :owner_id, :group_name, :group_read, :group_write, :other_read, :other_write, :created, :modified)`
	res, err := r.db.NamedExecContext(ctx, query, article)
	if err != nil {
		return fmt.Errorf("failed to create article: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get article id: %w", err)
	}
	article.ID = id
	return nil
}

// GetArticle retrieves a single article by its ID.
func (r *SQLArticleRepository) GetArticle(ctx context.Context, id int64) (*Article, error) {
	var article Article
	query := `SELECT * FROM articles WHERE id = ?`
	if err := r.db.GetContext(ctx, &article, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get article %d: %w", id, err)
	}
	return &article, nil
}

// UpdateArticle persists the article's mutable attributes: ownership, group
// and ACL flags. The current-revision pointer is owned by AddRevision.
func (r *SQLArticleRepository) UpdateArticle(ctx context.Context, article *Article) error {
	article.Modified = time.Now().UTC()
	query := `UPDATE articles SET owner_id = :owner_id, group_name = :group_name,
	          group_read = :group_read, group_write = :group_write,
	          other_read = :other_read, other_write = :other_write,
	          modified = :modified WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, article)
	if err != nil {
		return fmt.Errorf("failed to update article: %w", err)
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

// AddRevision appends a revision to an article's chain as one atomic unit:
// it assigns the next revision number, points the revision at the current
// revision, inserts it and repoints the article, all in a single transaction.
// A (article_id, revision_number) unique-key race surfaces as ErrDuplicateKey;
// the caller retries with a fresh predecessor lookup.
func (r *SQLArticleRepository) AddRevision(ctx context.Context, rev *Revision) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin revision transaction: %w", err)
	}
	defer tx.Rollback()

	var article Article
	if err := tx.GetContext(ctx, &article, `SELECT * FROM articles WHERE id = ?`, rev.ArticleID); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load article %d: %w", rev.ArticleID, err)
	}

	var maxNumber sql.NullInt64
	if err := tx.GetContext(ctx, &maxNumber,
		`SELECT MAX(revision_number) FROM revisions WHERE article_id = ?`, rev.ArticleID); err != nil {
		return fmt.Errorf("failed to get latest revision number: %w", err)
	}
	if maxNumber.Valid {
		rev.RevisionNumber = int(maxNumber.Int64) + 1
	} else {
		rev.RevisionNumber = 0
	}
	rev.PreviousID = article.CurrentRevisionID
	rev.Created = time.Now().UTC()

	res, err := tx.NamedExecContext(ctx,
		`INSERT INTO revisions (article_id, revision_number, title, content, user_message, automatic_log, user_id, ip_address, previous_revision_id, deleted, locked, created)
		 VALUES (:article_id, :revision_number, :title, :content, :user_message, :automatic_log, :user_id, :ip_address, :previous_revision_id, :deleted, :locked, :created)`, rev)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert revision: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get revision id: %w", err)
	}
	rev.ID = id

	if _, err := tx.ExecContext(ctx,
		`UPDATE articles SET current_revision_id = ?, modified = ? WHERE id = ?`,
		rev.ID, rev.Created, rev.ArticleID); err != nil {
		return fmt.Errorf("failed to repoint current revision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit revision: %w", err)
	}
	return nil
}

// CurrentRevision returns the article's live revision, or ErrNotFound when
// the article has no revisions yet.
func (r *SQLArticleRepository) CurrentRevision(ctx context.Context, articleID int64) (*Revision, error) {
	var rev Revision
	query := `SELECT r.* FROM revisions r
	          JOIN articles a ON a.current_revision_id = r.id
	          WHERE a.id = ?`
	if err := r.db.GetContext(ctx, &rev, query, articleID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get current revision of article %d: %w", articleID, err)
	}
	return &rev, nil
}

// GetRevision retrieves a single revision by its ID.
func (r *SQLArticleRepository) GetRevision(ctx context.Context, id int64) (*Revision, error) {
	var rev Revision
	if err := r.db.GetContext(ctx, &rev, `SELECT * FROM revisions WHERE id = ?`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get revision %d: %w", id, err)
	}
	return &rev, nil
}

// GetRevisionByNumber retrieves one revision of an article by chain position.
func (r *SQLArticleRepository) GetRevisionByNumber(ctx context.Context, articleID int64, number int) (*Revision, error) {
	var rev Revision
	query := `SELECT * FROM revisions WHERE article_id = ? AND revision_number = ?`
	if err := r.db.GetContext(ctx, &rev, query, articleID, number); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get revision %d of article %d: %w", number, articleID, err)
	}
	return &rev, nil
}

// ListRevisions returns an article's full history, newest first.
func (r *SQLArticleRepository) ListRevisions(ctx context.Context, articleID int64) ([]*Revision, error) {
	var revs []*Revision
	query := `SELECT * FROM revisions WHERE article_id = ? ORDER BY revision_number DESC`
	if err := r.db.SelectContext(ctx, &revs, query, articleID); err != nil {
		return nil, fmt.Errorf("failed to list revisions of article %d: %w", articleID, err)
	}
	return revs, nil
}

// CreateRelation records that an article is attached to an object of a
// registered kind. The operation is idempotent for an existing pair.
func (r *SQLArticleRepository) CreateRelation(ctx context.Context, rel *ArticleRelation) error {
	res, err := r.db.NamedExecContext(ctx,
		`INSERT INTO article_relations (article_id, kind, object_id) VALUES (:article_id, :kind, :object_id)`, rel)
	if err != nil {
		if isUniqueViolation(err) {
			// Already related; load the existing row id.
			return r.db.GetContext(ctx, &rel.ID,
				`SELECT id FROM article_relations WHERE kind = ? AND object_id = ?`, rel.Kind, rel.ObjectID)
		}
		return fmt.Errorf("failed to create article relation: %w", err)
	}
	rel.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get relation id: %w", err)
	}
	return nil
}

// RelationsForArticle lists all object attachments of an article.
func (r *SQLArticleRepository) RelationsForArticle(ctx context.Context, articleID int64) ([]*ArticleRelation, error) {
	var rels []*ArticleRelation
	query := `SELECT * FROM article_relations WHERE article_id = ?`
	if err := r.db.SelectContext(ctx, &rels, query, articleID); err != nil {
		return nil, fmt.Errorf("failed to list relations of article %d: %w", articleID, err)
	}
	return rels, nil
}
