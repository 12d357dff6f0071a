//go:build unit

package wiki

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRoot_UninitializedSite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.tree.Root(ctx)
	var noRoot *NoRootError
	if !errors.As(err, &noRoot) {
		t.Fatalf("expected NoRootError, got %v", err)
	}
	if _, err := env.tree.Resolve(ctx, "anything"); !errors.As(err, &noRoot) {
		t.Fatalf("Resolve on uninitialized site should fail with NoRootError, got %v", err)
	}
}

func TestCreateRoot_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	root := env.mustRoot(t)
	again, err := env.tree.CreateRoot(ctx, "Other", "other\n", Principal{})
	if err != nil {
		t.Fatalf("second CreateRoot failed: %v", err)
	}
	if again.ID != root.ID {
		t.Errorf("expected the existing root %d, got %d", root.ID, again.ID)
	}
	current, _ := env.articles.CurrentRevision(ctx, root.ArticleID)
	if current.Title != "Home" {
		t.Errorf("second CreateRoot must not touch the root article, got title %q", current.Title)
	}
}

func TestResolve_WalksSegmentsCaseInsensitively(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := Principal{ID: "alice"}
	root := env.mustRoot(t)
	docs := env.mustCreate(t, root.ID, "docs", "Docs", alice)
	guide := env.mustCreate(t, docs.ID, "guide", "Guide", alice)

	for _, path := range []string{"docs/guide", "/docs/guide/", "Docs/GUIDE"} {
		node, err := env.tree.Resolve(ctx, path)
		if err != nil {
			t.Fatalf("Resolve(%q) failed: %v", path, err)
		}
		if node.ID != guide.ID {
			t.Errorf("Resolve(%q) = node %d, want %d", path, node.ID, guide.ID)
		}
	}

	if node, err := env.tree.Resolve(ctx, ""); err != nil || node.ID != root.ID {
		t.Errorf("empty path should resolve to the root, got node %v err %v", node, err)
	}
	if _, err := env.tree.Resolve(ctx, "docs/missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a missing segment, got %v", err)
	}
}

func TestPath_RoundTripsWithResolve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := Principal{ID: "alice"}
	root := env.mustRoot(t)
	docs := env.mustCreate(t, root.ID, "docs", "Docs", alice)
	guide := env.mustCreate(t, docs.ID, "guide", "Guide", alice)

	path, err := env.tree.Path(ctx, guide)
	if err != nil {
		t.Fatalf("Path failed: %v", err)
	}
	if path != "docs/guide/" {
		t.Errorf("expected path \"docs/guide/\", got %q", path)
	}
	if rootPath, _ := env.tree.Path(ctx, root); rootPath != "" {
		t.Errorf("root path should be empty, got %q", rootPath)
	}
	node, err := env.tree.Resolve(ctx, path)
	if err != nil || node.ID != guide.ID {
		t.Errorf("Path output should resolve back to the node, got %v err %v", node, err)
	}
}

func TestCreatePath_SlugValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := Principal{ID: "alice"}
	root := env.mustRoot(t)
	env.mustCreate(t, root.ID, "taken", "Taken", alice)

	cases := []struct {
		slug    string
		wantMsg string
	}{
		{"", "required"},
		{"has/slash", "slashes"},
		{"has space", "slashes"},
		{"_internal", "underscore"},
		{"Admin", "reserved"},
		{"12345", "numeric"},
		{"taken", "already exists"},
		{"TAKEN", "already exists"},
	}
	for _, tc := range cases {
		_, err := env.tree.CreatePath(ctx, root.ID, tc.slug, "Title", "content\n", "", alice)
		var validation *ValidationError
		if !errors.As(err, &validation) {
			t.Errorf("slug %q: expected ValidationError, got %v", tc.slug, err)
			continue
		}
		if !strings.Contains(validation.Message, tc.wantMsg) {
			t.Errorf("slug %q: message %q does not mention %q", tc.slug, validation.Message, tc.wantMsg)
		}
	}
}

func TestCreatePath_DeletedSiblingMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := Principal{ID: "alice"}
	root := env.mustRoot(t)
	node := env.mustCreate(t, root.ID, "page", "Page", alice)

	if err := env.tree.DeleteSubtree(ctx, node.ID, alice); err != nil {
		t.Fatalf("DeleteSubtree failed: %v", err)
	}
	_, err := env.tree.CreatePath(ctx, root.ID, "page", "Page", "content\n", "", alice)
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !strings.Contains(validation.Message, "deleted article") {
		t.Errorf("expected the deleted-sibling message, got %q", validation.Message)
	}
}

func TestCreatePath_InheritsPermissionsFromParent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := Principal{ID: "alice"}
	mod := Principal{ID: "mod"}
	root := env.mustRoot(t)
	parent := env.mustCreate(t, root.ID, "parent", "Parent", alice)

	group := "team"
	if err := env.articles.SetGroup(ctx, parent.ArticleID, &group, alice); err != nil {
		t.Fatalf("SetGroup failed: %v", err)
	}
	if err := env.articles.UpdateACL(ctx, parent.ArticleID, true, true, true, false, alice); err != nil {
		t.Fatalf("UpdateACL failed: %v", err)
	}

	child := env.mustCreate(t, parent.ID, "child", "Child", mod)
	article, err := env.articles.Get(ctx, child.ArticleID, mod)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if article.OwnerID == nil || *article.OwnerID != "alice" {
		t.Error("child should inherit the parent's owner")
	}
	if article.GroupName == nil || *article.GroupName != "team" {
		t.Error("child should inherit the parent's group")
	}
	if article.OtherWrite {
		t.Error("child should inherit the parent's ACL flags")
	}
}

func TestMove_RejectsCyclesAndRoot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := Principal{ID: "alice"}
	mod := Principal{ID: "mod"}
	root := env.mustRoot(t)
	a := env.mustCreate(t, root.ID, "a", "A", alice)
	b := env.mustCreate(t, a.ID, "b", "B", alice)

	var validation *ValidationError
	if err := env.tree.Move(ctx, root.ID, a.ID, "root", false, mod); !errors.As(err, &validation) {
		t.Errorf("moving the root should fail, got %v", err)
	}
	if err := env.tree.Move(ctx, a.ID, a.ID, "a", false, mod); !errors.As(err, &validation) {
		t.Errorf("moving a node under itself should fail, got %v", err)
	}
	if err := env.tree.Move(ctx, a.ID, b.ID, "a", false, mod); !errors.As(err, &validation) {
		t.Errorf("moving a node under its descendant should fail, got %v", err)
	}
	if err := env.tree.Move(ctx, a.ID, root.ID, "a2", false, alice); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("move should require moderate, got %v", err)
	}
}

func TestMove_ReparentsSubtree(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := Principal{ID: "alice"}
	mod := Principal{ID: "mod"}
	root := env.mustRoot(t)
	docs := env.mustCreate(t, root.ID, "docs", "Docs", alice)
	guide := env.mustCreate(t, docs.ID, "guide", "Guide", alice)
	archive := env.mustCreate(t, root.ID, "archive", "Archive", alice)

	if err := env.tree.Move(ctx, docs.ID, archive.ID, "old-docs", false, mod); err != nil {
		t.Fatalf("Move failed: %v", err)
	}

	node, err := env.tree.Resolve(ctx, "archive/old-docs/guide")
	if err != nil {
		t.Fatalf("descendant should move with its parent: %v", err)
	}
	if node.ID != guide.ID {
		t.Errorf("resolved node %d, want %d", node.ID, guide.ID)
	}
	if _, err := env.tree.Resolve(ctx, "docs"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old path should be gone without a redirect, got %v", err)
	}
}

func TestMove_LeavesRedirectStub(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := Principal{ID: "alice"}
	mod := Principal{ID: "mod"}
	root := env.mustRoot(t)
	docs := env.mustCreate(t, root.ID, "docs", "Docs", alice)
	archive := env.mustCreate(t, root.ID, "archive", "Archive", alice)

	if err := env.tree.Move(ctx, docs.ID, archive.ID, "docs", true, mod); err != nil {
		t.Fatalf("Move failed: %v", err)
	}

	// The old path still resolves, through the stub, to the moved node.
	node, err := env.tree.Resolve(ctx, "docs")
	if err != nil {
		t.Fatalf("redirect stub should keep the old path alive: %v", err)
	}
	if node.ID != docs.ID {
		t.Errorf("old path should follow moved_to to node %d, got %d", docs.ID, node.ID)
	}
	path, _ := env.tree.Path(ctx, node)
	if path != "archive/docs/" {
		t.Errorf("expected resolution at the new location, got %q", path)
	}
}

func TestMove_SlugCollisionAtDestination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := Principal{ID: "alice"}
	mod := Principal{ID: "mod"}
	root := env.mustRoot(t)
	a := env.mustCreate(t, root.ID, "a", "A", alice)
	dest := env.mustCreate(t, root.ID, "dest", "Dest", alice)
	env.mustCreate(t, dest.ID, "a", "Existing", alice)

	err := env.tree.Move(ctx, a.ID, dest.ID, "a", false, mod)
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError on slug collision, got %v", err)
	}
}

func TestDeleteSubtree_HidesDescendantsUntilRestore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := Principal{ID: "alice"}
	mod := Principal{ID: "mod"}
	root := env.mustRoot(t)
	docs := env.mustCreate(t, root.ID, "docs", "Docs", alice)
	guide := env.mustCreate(t, docs.ID, "guide", "Guide", alice)

	if err := env.tree.DeleteSubtree(ctx, docs.ID, alice); err != nil {
		t.Fatalf("DeleteSubtree failed: %v", err)
	}
	if err := env.tree.DeleteSubtree(ctx, docs.ID, alice); err != nil {
		t.Fatalf("DeleteSubtree should be idempotent: %v", err)
	}

	// The descendant's own article is untouched; it is hidden through the
	// deleted ancestor.
	if deleted, _ := env.tree.IsDeleted(ctx, guide); deleted {
		t.Error("descendant article must not be marked deleted itself")
	}
	blocker, err := env.tree.FirstDeletedAncestor(ctx, guide)
	if err != nil {
		t.Fatalf("FirstDeletedAncestor failed: %v", err)
	}
	if blocker == nil || blocker.ID != docs.ID {
		t.Fatalf("expected the deleted ancestor %d, got %v", docs.ID, blocker)
	}

	if err := env.articles.Restore(ctx, docs.ArticleID, mod); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	blocker, _ = env.tree.FirstDeletedAncestor(ctx, guide)
	if blocker != nil {
		t.Errorf("restore should clear the chain, got blocker %v", blocker)
	}
}

func TestDeleteSubtree_RootIsUndeletable(t *testing.T) {
	env := newTestEnv(t)
	root := env.mustRoot(t)

	err := env.tree.DeleteSubtree(context.Background(), root.ID, Principal{ID: "mod"})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestPurgeSubtree_RemovesEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := Principal{ID: "alice"}
	mod := Principal{ID: "mod"}
	root := env.mustRoot(t)
	docs := env.mustCreate(t, root.ID, "docs", "Docs", alice)
	guide := env.mustCreate(t, docs.ID, "guide", "Guide", alice)

	if err := env.tree.PurgeSubtree(ctx, docs.ID, alice); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("purge should require moderate, got %v", err)
	}
	if err := env.tree.PurgeSubtree(ctx, docs.ID, mod); err != nil {
		t.Fatalf("PurgeSubtree failed: %v", err)
	}

	if _, err := env.tree.Resolve(ctx, "docs"); !errors.Is(err, ErrNotFound) {
		t.Errorf("purged path should be gone, got %v", err)
	}
	if _, err := env.store.GetArticle(ctx, guide.ArticleID); err == nil {
		t.Error("descendant article rows should be purged")
	}
	if _, err := env.store.GetArticle(ctx, docs.ArticleID); err == nil {
		t.Error("article rows should be purged")
	}
}

func TestPurgeArticle_ReparentsChildrenToLostAndFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := Principal{ID: "alice"}
	mod := Principal{ID: "mod"}
	root := env.mustRoot(t)
	docs := env.mustCreate(t, root.ID, "docs", "Docs", alice)
	guide := env.mustCreate(t, docs.ID, "guide", "Guide", alice)

	if err := env.tree.PurgeArticle(ctx, docs.ArticleID, mod); err != nil {
		t.Fatalf("PurgeArticle failed: %v", err)
	}

	if _, err := env.store.GetArticle(ctx, docs.ArticleID); err == nil {
		t.Error("purged article should be gone")
	}
	node, err := env.tree.Resolve(ctx, env.cfg.LostAndFoundSlug+"/guide")
	if err != nil {
		t.Fatalf("orphan should be reachable under lost-and-found: %v", err)
	}
	if node.ID != guide.ID {
		t.Errorf("expected node %d under lost-and-found, got %d", guide.ID, node.ID)
	}
}

func TestPurgeArticle_RefusesStructuralNodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := Principal{ID: "alice"}
	mod := Principal{ID: "mod"}
	root := env.mustRoot(t)
	docs := env.mustCreate(t, root.ID, "docs", "Docs", alice)

	// Create the lost-and-found node by purging something once.
	if err := env.tree.PurgeArticle(ctx, docs.ArticleID, mod); err != nil {
		t.Fatalf("PurgeArticle failed: %v", err)
	}
	lostAndFound, err := env.tree.Resolve(ctx, env.cfg.LostAndFoundSlug)
	if err != nil {
		t.Fatalf("Resolve lost-and-found failed: %v", err)
	}

	var validation *ValidationError
	if err := env.tree.PurgeArticle(ctx, root.ArticleID, mod); !errors.As(err, &validation) {
		t.Errorf("purging the root article should fail, got %v", err)
	}
	if err := env.tree.PurgeArticle(ctx, lostAndFound.ArticleID, mod); !errors.As(err, &validation) {
		t.Errorf("purging the lost-and-found article should fail, got %v", err)
	}
}
