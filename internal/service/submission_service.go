package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/staff-portal-api/internal/models"
	"github.com/noah-isme/staff-portal-api/internal/repository"
	appErrors "github.com/noah-isme/staff-portal-api/pkg/errors"
)

type submissionStore interface {
	Create(ctx context.Context, s *models.Submission) error
	GetByID(ctx context.Context, kind models.ResourceKind, id string) (*models.Submission, error)
	List(ctx context.Context, kind models.ResourceKind, filter models.SubmissionFilter) ([]models.Submission, int, error)
	UpdateStatus(ctx context.Context, s *models.Submission, from models.SubmissionStatus) error
}

type transitionActor int

const (
	actorOwner transitionActor = iota + 1
	actorReviewer
)

// submissionTransitions lists who may move a submission from one status to another.
var submissionTransitions = map[models.SubmissionStatus]map[models.SubmissionStatus]transitionActor{
	models.SubmissionDraft: {
		models.SubmissionSubmitted: actorOwner,
	},
	models.SubmissionRevisionRequested: {
		models.SubmissionSubmitted: actorOwner,
	},
	models.SubmissionSubmitted: {
		models.SubmissionUnderReview:       actorReviewer,
		models.SubmissionApproved:          actorReviewer,
		models.SubmissionRejected:          actorReviewer,
		models.SubmissionRevisionRequested: actorReviewer,
	},
	models.SubmissionUnderReview: {
		models.SubmissionApproved:          actorReviewer,
		models.SubmissionRejected:          actorReviewer,
		models.SubmissionRevisionRequested: actorReviewer,
	},
}

// SubmissionService runs the review workflow of reports and proposals.
type SubmissionService struct {
	store     submissionStore
	notifier  eventNotifier
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewSubmissionService constructs the service.
func NewSubmissionService(store submissionStore, notifier eventNotifier, validate *validator.Validate, logger *zap.Logger) *SubmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionService{store: store, notifier: notifier, validator: validate, logger: logger, now: time.Now}
}

// CreateSubmissionRequest is the payload for a new report or proposal.
type CreateSubmissionRequest struct {
	Title  string   `json:"title" validate:"required,max=200"`
	Body   string   `json:"body" validate:"required"`
	Budget *float64 `json:"budget" validate:"omitempty,gte=0"`
	Submit bool     `json:"submit"`
}

// ChangeStatusRequest moves a submission through the workflow.
type ChangeStatusRequest struct {
	Status string  `json:"status" validate:"required,oneof=submitted under_review approved rejected revision_requested"`
	Note   *string `json:"note" validate:"omitempty,max=2000"`
}

// ListSubmissionsRequest carries listing filters.
type ListSubmissionsRequest struct {
	Status   string
	Mine     bool
	Page     int
	PageSize int
}

// Create stores a draft, or a submitted item when req.Submit is set.
func (s *SubmissionService) Create(ctx context.Context, kind models.ResourceKind, req CreateSubmissionRequest, actor *models.JWTClaims) (*models.Submission, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing user context")
	}
	if !kind.Valid() {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "unknown resource kind")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	submission := &models.Submission{
		Kind:         kind,
		Title:        strings.TrimSpace(req.Title),
		Body:         req.Body,
		DepartmentID: actor.DepartmentID,
		AuthorID:     actor.UserID,
		Status:       models.SubmissionDraft,
	}
	if kind == models.ResourceProposal {
		submission.Budget = req.Budget
	}
	if req.Submit {
		at := s.now().UTC()
		submission.Status = models.SubmissionSubmitted
		submission.SubmittedAt = &at
	}
	if err := s.store.Create(ctx, submission); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to create %s", kind))
	}
	return submission, nil
}

// Get returns a submission the actor may see.
func (s *SubmissionService) Get(ctx context.Context, kind models.ResourceKind, id string, actor *models.JWTClaims) (*models.Submission, error) {
	submission, err := s.load(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if !canSeeSubmission(submission, actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("%s is not accessible", kind))
	}
	return submission, nil
}

// List returns the actor's own items, or everything for reviewers and admins.
func (s *SubmissionService) List(ctx context.Context, kind models.ResourceKind, req ListSubmissionsRequest, actor *models.JWTClaims) ([]models.Submission, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing user context")
	}
	if !kind.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "unknown resource kind")
	}
	filter := models.SubmissionFilter{Page: req.Page, PageSize: req.PageSize}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	if req.Mine || !isReviewer(actor) {
		filter.AuthorID = &actor.UserID
	}
	if req.Status != "" {
		status := models.SubmissionStatus(req.Status)
		filter.Status = &status
	}
	items, total, err := s.store.List(ctx, kind, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to list %ss", kind))
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return items, pagination, nil
}

// ChangeStatus applies a workflow transition and notifies the owner when
// someone else made the change.
func (s *SubmissionService) ChangeStatus(ctx context.Context, kind models.ResourceKind, id string, req ChangeStatusRequest, actor *models.JWTClaims) (*models.Submission, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing user context")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	submission, err := s.load(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if !canSeeSubmission(submission, actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("%s is not accessible", kind))
	}

	from, to := submission.Status, models.SubmissionStatus(req.Status)
	required, ok := submissionTransitions[from][to]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move %s from %s to %s", kind, from, to))
	}
	switch required {
	case actorOwner:
		if submission.AuthorID != actor.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only the author can submit")
		}
	case actorReviewer:
		if !isReviewer(actor) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "reviewer role required")
		}
	}

	at := s.now().UTC()
	submission.Status = to
	if required == actorOwner {
		submission.SubmittedAt = &at
	} else {
		reviewer := actor.UserID
		submission.ReviewerID = &reviewer
		submission.ReviewNote = req.Note
		if to != models.SubmissionUnderReview {
			submission.ReviewedAt = &at
		}
	}
	if err := s.store.UpdateStatus(ctx, submission, from); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("%s status changed concurrently", kind))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to update %s", kind))
	}
	s.logger.Info("submission status changed",
		zap.String("kind", string(kind)),
		zap.String("id", submission.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor_id", actor.UserID),
	)

	event := models.EventReportStatusChanged
	if kind == models.ResourceProposal {
		event = models.EventProposalStatusChanged
	}
	if _, err := s.notifier.Notify(ctx, models.NotificationEvent{
		Kind:           event,
		ActorID:        actor.UserID,
		Submission:     submission,
		PreviousStatus: from,
	}); err != nil {
		s.logger.Warn("status notification failed", zap.String("id", submission.ID), zap.Error(err))
	}
	return submission, nil
}

// Lookup resolves a commentable resource of this kind.
func (s *SubmissionService) Lookup(kind models.ResourceKind) ResourceLookup {
	return func(ctx context.Context, id string) (*models.Submission, error) {
		return s.store.GetByID(ctx, kind, id)
	}
}

func (s *SubmissionService) load(ctx context.Context, kind models.ResourceKind, id string) (*models.Submission, error) {
	submission, err := s.store.GetByID(ctx, kind, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, repository.ErrUnknownResource) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s not found", kind))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to load %s", kind))
	}
	return submission, nil
}

func isReviewer(actor *models.JWTClaims) bool {
	return actor.HasRole(models.RoleReviewer, models.RoleAdmin, models.RoleSuperAdmin)
}

func canSeeSubmission(s *models.Submission, actor *models.JWTClaims) bool {
	if actor == nil {
		return false
	}
	return s.AuthorID == actor.UserID || isReviewer(actor)
}
