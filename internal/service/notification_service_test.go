package service

import (
	"context"
	"database/sql"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/staff-portal-api/internal/models"
	appErrors "github.com/noah-isme/staff-portal-api/pkg/errors"
)

type inboxStub struct {
	items      map[string]*models.Notification
	lastFilter models.NotificationFilter
}

func (i *inboxStub) GetByID(ctx context.Context, id string) (*models.Notification, error) {
	n, ok := i.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *n
	return &copied, nil
}

func (i *inboxStub) ListByUser(ctx context.Context, userID string, filter models.NotificationFilter) ([]models.Notification, int, error) {
	i.lastFilter = filter
	var out []models.Notification
	for _, n := range i.items {
		if n.UserID == userID {
			out = append(out, *n)
		}
	}
	return out, len(out), nil
}

func (i *inboxStub) CountUnread(ctx context.Context, userID string) (int, error) {
	count := 0
	for _, n := range i.items {
		if n.UserID == userID && n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (i *inboxStub) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	n, ok := i.items[id]
	if !ok || n.UserID != userID {
		return sql.ErrNoRows
	}
	if n.ReadAt == nil {
		n.ReadAt = &at
	}
	return nil
}

func (i *inboxStub) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	var updated int64
	for _, n := range i.items {
		if n.UserID == userID && n.ReadAt == nil {
			n.ReadAt = &at
			updated++
		}
	}
	return updated, nil
}

func (i *inboxStub) Delete(ctx context.Context, id, userID string) error {
	n, ok := i.items[id]
	if !ok || n.UserID != userID {
		return sql.ErrNoRows
	}
	delete(i.items, id)
	return nil
}

type preferenceStoreStub struct {
	stored map[string]models.NotificationPreference
}

func (p *preferenceStoreStub) Get(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	pref, ok := p.stored[userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &pref, nil
}

func (p *preferenceStoreStub) Upsert(ctx context.Context, pref *models.NotificationPreference) error {
	p.stored[pref.UserID] = *pref
	return nil
}

func newInboxFixture() (*NotificationService, *inboxStub, *preferenceStoreStub, *notifierStub) {
	inbox := &inboxStub{items: map[string]*models.Notification{
		"n1": {ID: "n1", UserID: "u1", Type: models.NotificationComment},
		"n2": {ID: "n2", UserID: "u1", Type: models.NotificationSystem},
		"n3": {ID: "n3", UserID: "u2", Type: models.NotificationSystem},
	}}
	prefs := &preferenceStoreStub{stored: map[string]models.NotificationPreference{}}
	notifier := &notifierStub{}
	svc := NewNotificationService(inbox, prefs, notifier, nil, nil)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC) }
	return svc, inbox, prefs, notifier
}

func TestInboxMarkReadOwnerOnly(t *testing.T) {
	svc, inbox, _, _ := newInboxFixture()

	n, err := svc.MarkRead(context.Background(), "n1", "u1")
	require.NoError(t, err)
	require.NotNil(t, n.ReadAt)
	first := *n.ReadAt

	svc.now = func() time.Time { return first.Add(time.Hour) }
	again, err := svc.MarkRead(context.Background(), "n1", "u1")
	require.NoError(t, err)
	assert.Equal(t, first, *again.ReadAt)

	_, err = svc.MarkRead(context.Background(), "n3", "u1")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, appErrors.FromError(err).Status)
	assert.Nil(t, inbox.items["n3"].ReadAt)
}

func TestInboxCountsAndMarkAll(t *testing.T) {
	svc, _, _, _ := newInboxFixture()

	count, err := svc.UnreadCount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	updated, err := svc.MarkAllRead(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	count, err = svc.UnreadCount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestInboxListFilters(t *testing.T) {
	svc, inbox, _, _ := newInboxFixture()

	items, pagination, err := svc.List(context.Background(), "u1", ListNotificationsRequest{UnreadOnly: true, Type: "system", Page: 2})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 2, pagination.Page)
	assert.True(t, inbox.lastFilter.UnreadOnly)
	require.NotNil(t, inbox.lastFilter.Type)
	assert.Equal(t, models.NotificationSystem, *inbox.lastFilter.Type)

	_, _, err = svc.List(context.Background(), "u1", ListNotificationsRequest{Type: "birthday"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, appErrors.FromError(err).Status)
}

func TestInboxDelete(t *testing.T) {
	svc, inbox, _, _ := newInboxFixture()

	err := svc.Delete(context.Background(), "n3", "u1")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, appErrors.FromError(err).Status)

	require.NoError(t, svc.Delete(context.Background(), "n1", "u1"))
	assert.NotContains(t, inbox.items, "n1")
}

func TestPreferencesDefaultAndMerge(t *testing.T) {
	svc, _, prefs, _ := newInboxFixture()

	pref, err := svc.GetPreferences(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, pref.EmailEnabled)
	assert.Len(t, pref.Types, len(models.NotificationTypes()))

	off := false
	updated, err := svc.UpdatePreferences(context.Background(), "u1", UpdatePreferencesRequest{
		EmailEnabled: &off,
		Types:        map[string]bool{"announcement": false},
	})
	require.NoError(t, err)
	assert.False(t, updated.EmailEnabled)
	assert.False(t, updated.Allows(models.NotificationAnnouncement))
	assert.True(t, updated.Allows(models.NotificationComment))

	stored := prefs.stored["u1"]
	assert.False(t, stored.Types[models.NotificationAnnouncement])

	again, err := svc.UpdatePreferences(context.Background(), "u1", UpdatePreferencesRequest{Types: map[string]bool{"comment": false}})
	require.NoError(t, err)
	assert.False(t, again.EmailEnabled)
	assert.False(t, again.Allows(models.NotificationAnnouncement))
	assert.False(t, again.Allows(models.NotificationComment))
}

func TestPreferencesRejectUnknownType(t *testing.T) {
	svc, _, prefs, _ := newInboxFixture()

	_, err := svc.UpdatePreferences(context.Background(), "u1", UpdatePreferencesRequest{Types: map[string]bool{"birthday": false}})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, appErrors.FromError(err).Status)
	assert.Empty(t, prefs.stored)
}

func TestSendSystemMessage(t *testing.T) {
	svc, _, _, notifier := newInboxFixture()

	_, err := svc.SendSystem(context.Background(), SystemMessageRequest{Title: "Maintenance", Message: "Tonight", UserIDs: []string{"u1"}}, &models.JWTClaims{UserID: "admin"})
	require.NoError(t, err)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, models.EventSystemMessage, notifier.events[0].Kind)
	assert.Equal(t, []string{"u1"}, notifier.events[0].System.UserIDs)

	_, err = svc.SendSystem(context.Background(), SystemMessageRequest{Message: "no title"}, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, appErrors.FromError(err).Status)
}
