package service

import (
	"context"
	"database/sql"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/staff-portal-api/internal/models"
	appErrors "github.com/noah-isme/staff-portal-api/pkg/errors"
)

type submissionStoreStub struct {
	items      map[string]*models.Submission
	lastFilter models.SubmissionFilter
	conflict   bool
}

func newSubmissionStoreStub() *submissionStoreStub {
	return &submissionStoreStub{items: map[string]*models.Submission{}}
}

func (s *submissionStoreStub) Create(ctx context.Context, sub *models.Submission) error {
	sub.ID = uuid.NewString()
	copied := *sub
	s.items[sub.ID] = &copied
	return nil
}

func (s *submissionStoreStub) GetByID(ctx context.Context, kind models.ResourceKind, id string) (*models.Submission, error) {
	sub, ok := s.items[id]
	if !ok || sub.Kind != kind {
		return nil, sql.ErrNoRows
	}
	copied := *sub
	return &copied, nil
}

func (s *submissionStoreStub) List(ctx context.Context, kind models.ResourceKind, filter models.SubmissionFilter) ([]models.Submission, int, error) {
	s.lastFilter = filter
	return []models.Submission{}, 0, nil
}

func (s *submissionStoreStub) UpdateStatus(ctx context.Context, sub *models.Submission, from models.SubmissionStatus) error {
	current, ok := s.items[sub.ID]
	if !ok || current.Status != from || s.conflict {
		return sql.ErrNoRows
	}
	copied := *sub
	s.items[sub.ID] = &copied
	return nil
}

func staffClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, FullName: "Staff " + id, Roles: []string{string(models.RoleStaff)}}
}

func reviewerClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, FullName: "Reviewer " + id, Roles: []string{string(models.RoleStaff), string(models.RoleReviewer)}}
}

func newSubmissionFixture() (*SubmissionService, *submissionStoreStub, *notifierStub) {
	store := newSubmissionStoreStub()
	notifier := &notifierStub{}
	svc := NewSubmissionService(store, notifier, nil, nil)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return svc, store, notifier
}

func TestSubmissionCreateDraftAndSubmitted(t *testing.T) {
	svc, _, _ := newSubmissionFixture()
	budget := 1200.0

	draft, err := svc.Create(context.Background(), models.ResourceReport, CreateSubmissionRequest{Title: "Q3", Body: "numbers", Budget: &budget}, staffClaims("u1"))
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionDraft, draft.Status)
	assert.Nil(t, draft.Budget)
	assert.Nil(t, draft.SubmittedAt)

	proposal, err := svc.Create(context.Background(), models.ResourceProposal, CreateSubmissionRequest{Title: "Lab", Body: "x", Budget: &budget, Submit: true}, staffClaims("u1"))
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionSubmitted, proposal.Status)
	require.NotNil(t, proposal.Budget)
	require.NotNil(t, proposal.SubmittedAt)

	_, err = svc.Create(context.Background(), models.ResourceKind("memo"), CreateSubmissionRequest{Title: "x", Body: "y"}, staffClaims("u1"))
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, appErrors.FromError(err).Status)
}

func TestSubmissionReviewNotifiesOwner(t *testing.T) {
	svc, store, notifier := newSubmissionFixture()
	created, err := svc.Create(context.Background(), models.ResourceReport, CreateSubmissionRequest{Title: "Q3", Body: "b", Submit: true}, staffClaims("u1"))
	require.NoError(t, err)

	note := "Great work"
	updated, err := svc.ChangeStatus(context.Background(), models.ResourceReport, created.ID, ChangeStatusRequest{Status: "approved", Note: &note}, reviewerClaims("r1"))
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionApproved, updated.Status)
	require.NotNil(t, updated.ReviewerID)
	assert.Equal(t, "r1", *updated.ReviewerID)
	require.NotNil(t, updated.ReviewedAt)
	assert.Equal(t, models.SubmissionApproved, store.items[created.ID].Status)

	require.Len(t, notifier.events, 1)
	event := notifier.events[0]
	assert.Equal(t, models.EventReportStatusChanged, event.Kind)
	assert.Equal(t, "r1", event.ActorID)
	assert.Equal(t, models.SubmissionSubmitted, event.PreviousStatus)
}

func TestSubmissionOwnerSubmitsProposal(t *testing.T) {
	svc, _, notifier := newSubmissionFixture()
	created, err := svc.Create(context.Background(), models.ResourceProposal, CreateSubmissionRequest{Title: "Lab", Body: "b"}, staffClaims("u1"))
	require.NoError(t, err)

	_, err = svc.ChangeStatus(context.Background(), models.ResourceProposal, created.ID, ChangeStatusRequest{Status: "submitted"}, reviewerClaims("r1"))
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, appErrors.FromError(err).Status)

	updated, err := svc.ChangeStatus(context.Background(), models.ResourceProposal, created.ID, ChangeStatusRequest{Status: "submitted"}, staffClaims("u1"))
	require.NoError(t, err)
	require.NotNil(t, updated.SubmittedAt)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, models.EventProposalStatusChanged, notifier.events[0].Kind)
	assert.Equal(t, "u1", notifier.events[0].ActorID)
}

func TestSubmissionTransitionRules(t *testing.T) {
	svc, _, _ := newSubmissionFixture()
	created, err := svc.Create(context.Background(), models.ResourceReport, CreateSubmissionRequest{Title: "Q3", Body: "b"}, staffClaims("u1"))
	require.NoError(t, err)

	_, err = svc.ChangeStatus(context.Background(), models.ResourceReport, created.ID, ChangeStatusRequest{Status: "approved"}, reviewerClaims("r1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)

	_, err = svc.ChangeStatus(context.Background(), models.ResourceReport, created.ID, ChangeStatusRequest{Status: "draft"}, staffClaims("u1"))
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, appErrors.FromError(err).Status)

	_, err = svc.ChangeStatus(context.Background(), models.ResourceReport, created.ID, ChangeStatusRequest{Status: "submitted"}, staffClaims("u2"))
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, appErrors.FromError(err).Status)
}

func TestSubmissionStaffCannotReview(t *testing.T) {
	svc, _, _ := newSubmissionFixture()
	created, err := svc.Create(context.Background(), models.ResourceReport, CreateSubmissionRequest{Title: "Q3", Body: "b", Submit: true}, staffClaims("u1"))
	require.NoError(t, err)

	_, err = svc.ChangeStatus(context.Background(), models.ResourceReport, created.ID, ChangeStatusRequest{Status: "approved"}, staffClaims("u1"))
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, appErrors.FromError(err).Status)
}

func TestSubmissionConcurrentChangeConflicts(t *testing.T) {
	svc, store, notifier := newSubmissionFixture()
	created, err := svc.Create(context.Background(), models.ResourceReport, CreateSubmissionRequest{Title: "Q3", Body: "b", Submit: true}, staffClaims("u1"))
	require.NoError(t, err)
	store.conflict = true

	_, err = svc.ChangeStatus(context.Background(), models.ResourceReport, created.ID, ChangeStatusRequest{Status: "rejected"}, reviewerClaims("r1"))
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, appErrors.FromError(err).Status)
	assert.Empty(t, notifier.events)
}

func TestSubmissionListScopesStaffToOwnItems(t *testing.T) {
	svc, store, _ := newSubmissionFixture()

	_, pagination, err := svc.List(context.Background(), models.ResourceReport, ListSubmissionsRequest{Status: "submitted"}, staffClaims("u1"))
	require.NoError(t, err)
	require.NotNil(t, store.lastFilter.AuthorID)
	assert.Equal(t, "u1", *store.lastFilter.AuthorID)
	require.NotNil(t, store.lastFilter.Status)
	assert.Equal(t, 20, pagination.PageSize)

	_, _, err = svc.List(context.Background(), models.ResourceReport, ListSubmissionsRequest{}, reviewerClaims("r1"))
	require.NoError(t, err)
	assert.Nil(t, store.lastFilter.AuthorID)
}

func TestSubmissionGetAccess(t *testing.T) {
	svc, _, _ := newSubmissionFixture()
	created, err := svc.Create(context.Background(), models.ResourceReport, CreateSubmissionRequest{Title: "Q3", Body: "b"}, staffClaims("u1"))
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), models.ResourceReport, created.ID, staffClaims("u2"))
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, appErrors.FromError(err).Status)

	_, err = svc.Get(context.Background(), models.ResourceProposal, created.ID, reviewerClaims("r1"))
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, appErrors.FromError(err).Status)
}
