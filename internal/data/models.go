package data

import (
	"time"
)

// Article is the mutable container for a chain of immutable revisions.
// CurrentRevisionID is nil only before the first revision exists.
type Article struct {
	ID                int64     `db:"id"`
	CurrentRevisionID *int64    `db:"current_revision_id"`
	OwnerID           *string   `db:"owner_id"`
	GroupName         *string   `db:"group_name"`
	GroupRead         bool      `db:"group_read"`
	GroupWrite        bool      `db:"group_write"`
	OtherRead         bool      `db:"other_read"`
	OtherWrite        bool      `db:"other_write"`
	Created           time.Time `db:"created"`
	Modified          time.Time `db:"modified"`
}

// Revision is an immutable content/metadata snapshot in an article's history.
// Rows are never updated or deleted; corrections append a new revision and
// repoint the article. Deleted and Locked describe the article's state as of
// this revision, not the revision row itself.
type Revision struct {
	ID             int64     `db:"id"`
	ArticleID      int64     `db:"article_id"`
	RevisionNumber int       `db:"revision_number"`
	Title          string    `db:"title"`
	Content        string    `db:"content"`
	UserMessage    string    `db:"user_message"`
	AutomaticLog   string    `db:"automatic_log"`
	UserID         *string   `db:"user_id"`
	IPAddress      *string   `db:"ip_address"`
	PreviousID     *int64    `db:"previous_revision_id"`
	Deleted        bool      `db:"deleted"`
	Locked         bool      `db:"locked"`
	Created        time.Time `db:"created"`
}

// URLPath is a node in the slug-addressed hierarchical namespace.
// The root of a site is the only node with a nil parent and an empty slug.
type URLPath struct {
	ID        int64  `db:"id"`
	Site      string `db:"site"`
	ParentID  *int64 `db:"parent_id"`
	Slug      string `db:"slug"`
	ArticleID int64  `db:"article_id"`
	MovedToID *int64 `db:"moved_to_id"`
	// Depth is populated by recursive ancestor/descendant queries; it is not
	// a stored column.
	Depth int `db:"depth"`
}

// IsRoot reports whether the node is a site root.
func (p *URLPath) IsRoot() bool {
	return p.ParentID == nil
}

// ArticleRelation binds an article to an arbitrary registered object kind.
// The (Kind, ObjectID) pair replaces a reflection-based generic foreign key;
// kinds are resolved through a dispatch table at the service layer.
type ArticleRelation struct {
	ID        int64  `db:"id"`
	ArticleID int64  `db:"article_id"`
	Kind      string `db:"kind"`
	ObjectID  int64  `db:"object_id"`
}

// SimplePlugin is an auxiliary content block bound to one specific revision
// snapshot. Every new revision of the owning article re-binds active simple
// plugins to the new revision.
type SimplePlugin struct {
	ID         int64     `db:"id"`
	ArticleID  int64     `db:"article_id"`
	RevisionID int64     `db:"revision_id"`
	Name       string    `db:"name"`
	Deleted    bool      `db:"deleted"`
	Created    time.Time `db:"created"`
}

// ReusablePlugin is shared between several articles. Permissions are checked
// against the original article it was created on.
type ReusablePlugin struct {
	ID                int64     `db:"id"`
	OriginalArticleID *int64    `db:"original_article_id"`
	Name              string    `db:"name"`
	Deleted           bool      `db:"deleted"`
	Created           time.Time `db:"created"`
}

// RevisionPlugin keeps its own independent chain of plugin revisions,
// mirroring the article/revision pattern.
type RevisionPlugin struct {
	ID                int64     `db:"id"`
	ArticleID         int64     `db:"article_id"`
	Name              string    `db:"name"`
	CurrentRevisionID *int64    `db:"current_revision_id"`
	Deleted           bool      `db:"deleted"`
	Created           time.Time `db:"created"`
}

// PluginRevision is an immutable snapshot in a RevisionPlugin's chain.
type PluginRevision struct {
	ID             int64     `db:"id"`
	PluginID       int64     `db:"plugin_id"`
	RevisionNumber int       `db:"revision_number"`
	Content        string    `db:"content"`
	UserID         *string   `db:"user_id"`
	IPAddress      *string   `db:"ip_address"`
	PreviousID     *int64    `db:"previous_revision_id"`
	Deleted        bool      `db:"deleted"`
	Locked         bool      `db:"locked"`
	Created        time.Time `db:"created"`
}
