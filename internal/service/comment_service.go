package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/staff-portal-api/internal/models"
	appErrors "github.com/noah-isme/staff-portal-api/pkg/errors"
)

type commentStore interface {
	Create(ctx context.Context, comment *models.Comment) error
	GetByID(ctx context.Context, id string) (*models.Comment, error)
	ListByResource(ctx context.Context, ref models.ResourceRef) ([]models.Comment, error)
}

// ResourceLookup loads a commentable resource by id.
type ResourceLookup func(ctx context.Context, id string) (*models.Submission, error)

// CommentService manages comment threads on reports and proposals.
type CommentService struct {
	comments  commentStore
	resources map[models.ResourceKind]ResourceLookup
	notifier  eventNotifier
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCommentService constructs the service. resources maps each commentable
// kind to its lookup.
func NewCommentService(comments commentStore, resources map[models.ResourceKind]ResourceLookup, notifier eventNotifier, validate *validator.Validate, logger *zap.Logger) *CommentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommentService{comments: comments, resources: resources, notifier: notifier, validator: validate, logger: logger}
}

// CreateCommentRequest is the payload for a comment or reply.
type CreateCommentRequest struct {
	Body     string  `json:"body" validate:"required,max=5000"`
	ParentID *string `json:"parent_id" validate:"omitempty,uuid"`
}

// Create posts a comment on the resource and notifies the people involved.
func (s *CommentService) Create(ctx context.Context, ref models.ResourceRef, req CreateCommentRequest, actor *models.JWTClaims) (*models.Comment, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing user context")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "comment body is empty")
	}
	resource, err := s.resource(ctx, ref, actor)
	if err != nil {
		return nil, err
	}

	var parent *models.Comment
	if req.ParentID != nil && *req.ParentID != "" {
		parent, err = s.comments.GetByID(ctx, *req.ParentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "parent comment not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load parent comment")
		}
		if parent.Resource() != ref {
			return nil, appErrors.Clone(appErrors.ErrValidation, "parent comment belongs to another resource")
		}
	}

	comment := &models.Comment{
		CommentableType: ref.Kind,
		CommentableID:   ref.ID,
		AuthorID:        actor.UserID,
		AuthorName:      actor.FullName,
		Body:            req.Body,
	}
	if parent != nil {
		comment.ParentID = &parent.ID
	}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create comment")
	}

	if _, err := s.notifier.Notify(ctx, models.NotificationEvent{
		Kind:          models.EventNewComment,
		ActorID:       actor.UserID,
		Comment:       comment,
		ParentComment: parent,
		Submission:    resource,
	}); err != nil {
		s.logger.Warn("comment notification failed", zap.String("comment_id", comment.ID), zap.Error(err))
	}
	return comment, nil
}

// List returns the thread of a resource, oldest first.
func (s *CommentService) List(ctx context.Context, ref models.ResourceRef, actor *models.JWTClaims) ([]models.Comment, error) {
	if _, err := s.resource(ctx, ref, actor); err != nil {
		return nil, err
	}
	comments, err := s.comments.ListByResource(ctx, ref)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list comments")
	}
	return comments, nil
}

func (s *CommentService) resource(ctx context.Context, ref models.ResourceRef, actor *models.JWTClaims) (*models.Submission, error) {
	lookup, ok := s.resources[ref.Kind]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "unknown commentable type")
	}
	resource, err := lookup(ctx, ref.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, string(ref.Kind)+" not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load "+string(ref.Kind))
	}
	if !canSeeSubmission(resource, actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, string(ref.Kind)+" is not accessible")
	}
	return resource, nil
}
