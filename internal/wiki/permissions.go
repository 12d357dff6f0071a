package wiki

import (
	"context"
	"errors"
	"fmt"

	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/logger"
)

// PermissionService computes effective access for (principal, article) pairs
// and propagates permission attributes down the path tree. Effective access
// is never stored: it is derived from owner match, group membership plus the
// group flags, the other flags, and the global capability overrides.
type PermissionService struct {
	checker   CapabilityChecker
	articles  ArticleRepository
	paths     PathRepository
	relations *RelationRegistry
	cache     *RenderCache
	log       logger.Logger
}

// NewPermissionService creates a new PermissionService.
func NewPermissionService(checker CapabilityChecker, articles ArticleRepository, paths PathRepository, relations *RelationRegistry, cache *RenderCache, log logger.Logger) *PermissionService {
	return &PermissionService{
		checker:   checker,
		articles:  articles,
		paths:     paths,
		relations: relations,
		cache:     cache,
		log:       log,
	}
}

// CanRead reports whether the principal may read the article.
func (s *PermissionService) CanRead(article *data.Article, p Principal) (bool, error) {
	return s.allowed(article, p, article.GroupRead, article.OtherRead)
}

// CanWrite reports whether the principal may write the article.
func (s *PermissionService) CanWrite(article *data.Article, p Principal) (bool, error) {
	return s.allowed(article, p, article.GroupWrite, article.OtherWrite)
}

// CanModerate reports whether the principal holds the moderate capability.
func (s *PermissionService) CanModerate(p Principal) (bool, error) {
	return s.hasCapability(p, CapModerate)
}

// CanAssign reports whether the principal may change owner/group on the
// article: either they own it, or they hold the assign capability.
func (s *PermissionService) CanAssign(article *data.Article, p Principal) (bool, error) {
	if isOwner(article, p) {
		return true, nil
	}
	return s.hasCapability(p, CapAssign)
}

// RequireRead returns ErrPermissionDenied unless the principal may read.
func (s *PermissionService) RequireRead(article *data.Article, p Principal) error {
	ok, err := s.CanRead(article, p)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("read access to article %d denied: %w", article.ID, ErrPermissionDenied)
	}
	return nil
}

// RequireWrite returns ErrPermissionDenied unless the principal may write.
func (s *PermissionService) RequireWrite(article *data.Article, p Principal) error {
	ok, err := s.CanWrite(article, p)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("write access to article %d denied: %w", article.ID, ErrPermissionDenied)
	}
	return nil
}

// RequireModerate returns ErrPermissionDenied unless the principal holds the
// moderate capability.
func (s *PermissionService) RequireModerate(p Principal) error {
	ok, err := s.CanModerate(p)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("moderate capability required: %w", ErrPermissionDenied)
	}
	return nil
}

// RequireAssign returns ErrPermissionDenied unless the principal may change
// ownership of the article.
func (s *PermissionService) RequireAssign(article *data.Article, p Principal) error {
	ok, err := s.CanAssign(article, p)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("ownership change on article %d denied: %w", article.ID, ErrPermissionDenied)
	}
	return nil
}

// PropagateField selects which attribute group a recursive propagation
// copies. The three modes are independently triggerable.
type PropagateField int

const (
	// PropagateACL copies the four read/write flags.
	PropagateACL PropagateField = iota
	// PropagateOwner copies the owner.
	PropagateOwner
	// PropagateGroup copies the group.
	PropagateGroup
)

// PropagateRecursive copies the selected attribute group from the node's
// article onto every descendant whose relation kind opts into permission
// inheritance. The walk is best effort: each descendant update is an
// independent idempotent full-field copy, so a failure partway leaves the
// already-visited descendants updated and reports the failures without
// rolling anything back.
func (s *PermissionService) PropagateRecursive(ctx context.Context, nodeID int64, field PropagateField, by Principal) error {
	node, err := s.paths.GetNode(ctx, nodeID)
	if err != nil {
		return mapDataErr(err)
	}
	source, err := s.articles.GetArticle(ctx, node.ArticleID)
	if err != nil {
		return mapDataErr(err)
	}
	if err := s.RequireAssign(source, by); err != nil {
		return err
	}

	descendants, err := s.paths.Descendants(ctx, nodeID)
	if err != nil {
		return err
	}

	var failures []error
	for _, desc := range descendants {
		if !s.relations.InheritsPermissions("urlpath") {
			continue
		}
		if err := s.copyField(ctx, source, desc.ArticleID, field); err != nil {
			s.log.Error(err, fmt.Sprintf("failed to propagate permissions to article %d", desc.ArticleID))
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

func (s *PermissionService) copyField(ctx context.Context, source *data.Article, targetID int64, field PropagateField) error {
	target, err := s.articles.GetArticle(ctx, targetID)
	if err != nil {
		return err
	}
	switch field {
	case PropagateACL:
		target.GroupRead = source.GroupRead
		target.GroupWrite = source.GroupWrite
		target.OtherRead = source.OtherRead
		target.OtherWrite = source.OtherWrite
	case PropagateOwner:
		target.OwnerID = source.OwnerID
	case PropagateGroup:
		target.GroupName = source.GroupName
	}
	if err := s.articles.UpdateArticle(ctx, target); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, targetID)
	}
	return nil
}

func (s *PermissionService) allowed(article *data.Article, p Principal, groupFlag, otherFlag bool) (bool, error) {
	moderate, err := s.hasCapability(p, CapModerate)
	if err != nil {
		return false, err
	}
	if moderate {
		return true, nil
	}
	if isOwner(article, p) {
		return true, nil
	}
	if article.GroupName != nil && p.InGroup(*article.GroupName) {
		if groupFlag {
			return true, nil
		}
	}
	return otherFlag, nil
}

func (s *PermissionService) hasCapability(p Principal, capability string) (bool, error) {
	if p.Anonymous() || s.checker == nil {
		return false, nil
	}
	ok, err := s.checker.HasCapability(p.ID, capability)
	if err != nil {
		return false, fmt.Errorf("capability check failed: %w", err)
	}
	return ok, nil
}

func isOwner(article *data.Article, p Principal) bool {
	return article.OwnerID != nil && !p.Anonymous() && *article.OwnerID == p.ID
}
