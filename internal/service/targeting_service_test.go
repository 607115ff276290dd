package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/staff-portal-api/internal/models"
	appErrors "github.com/noah-isme/staff-portal-api/pkg/errors"
)

type audienceDirectoryStub struct {
	active  []string
	byDept  map[string][]string
	byRole  map[string][]string
	err     error
	roleArg []string
}

func (s *audienceDirectoryStub) ListActiveIDs(ctx context.Context) ([]string, error) {
	return s.active, s.err
}

func (s *audienceDirectoryStub) ListIDsByDepartments(ctx context.Context, departmentIDs []string) ([]string, error) {
	var out []string
	for _, d := range departmentIDs {
		out = append(out, s.byDept[d]...)
	}
	return out, s.err
}

func (s *audienceDirectoryStub) ListIDsByRoles(ctx context.Context, roles []string) ([]string, error) {
	s.roleArg = roles
	var out []string
	for _, r := range roles {
		out = append(out, s.byRole[r]...)
	}
	return out, s.err
}

type targetStoreStub struct {
	departments map[string]bool
	users       map[string]bool
	roles       map[string]bool
	reads       map[string]time.Time
	err         error
}

func (s *targetStoreStub) TargetsDepartment(ctx context.Context, announcementID, departmentID string) (bool, error) {
	return s.departments[departmentID], s.err
}

func (s *targetStoreStub) TargetsUser(ctx context.Context, announcementID, userID string) (bool, error) {
	return s.users[userID], s.err
}

func (s *targetStoreStub) TargetsAnyRole(ctx context.Context, announcementID string, roles []string) (bool, error) {
	for _, r := range roles {
		if s.roles[r] {
			return true, s.err
		}
	}
	return false, s.err
}

func (s *targetStoreStub) ReadAt(ctx context.Context, announcementID, userID string) (*time.Time, error) {
	if at, ok := s.reads[userID]; ok {
		return &at, nil
	}
	return nil, s.err
}

func (s *targetStoreStub) MarkRead(ctx context.Context, announcementID, userID string, at time.Time) (time.Time, error) {
	if first, ok := s.reads[userID]; ok {
		return first, nil
	}
	s.reads[userID] = at
	return at, nil
}

func newTargetingFixture() (*TargetingService, *audienceDirectoryStub, *targetStoreStub) {
	users := &audienceDirectoryStub{
		active: []string{"u3", "u1", "u2", "u4"},
		byDept: map[string][]string{"d1": {"u2", "u1"}, "d2": {"u3", "u1"}},
		byRole: map[string][]string{"reviewer": {"u4", "u2"}},
	}
	store := &targetStoreStub{
		departments: map[string]bool{"d1": true},
		users:       map[string]bool{"u9": true},
		roles:       map[string]bool{"reviewer": true},
		reads:       map[string]time.Time{},
	}
	return NewTargetingService(users, store, nil), users, store
}

func TestResolveTargetsByMode(t *testing.T) {
	svc, users, _ := newTargetingFixture()
	ctx := context.Background()

	ids, err := svc.ResolveTargets(ctx, &models.Announcement{Target: models.TargetRule{Mode: models.TargetAll}})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3", "u4"}, ids)

	ids, err = svc.ResolveTargets(ctx, &models.Announcement{Target: models.TargetRule{Mode: models.TargetDepartments, DepartmentIDs: []string{"d1", "d2"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3"}, ids)

	ids, err = svc.ResolveTargets(ctx, &models.Announcement{Target: models.TargetRule{Mode: models.TargetUsers, UserIDs: []string{"u9", "u5", "u9", ""}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"u5", "u9"}, ids)

	ids, err = svc.ResolveTargets(ctx, &models.Announcement{Target: models.TargetRule{Mode: models.TargetRoles, RoleNames: []string{"reviewer", "reviewer"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u4"}, ids)
	assert.Equal(t, []string{"reviewer"}, users.roleArg)
}

func TestResolveTargetsFallsBackToStoredMode(t *testing.T) {
	svc, _, _ := newTargetingFixture()

	ids, err := svc.ResolveTargets(context.Background(), &models.Announcement{TargetMode: models.TargetAll})
	require.NoError(t, err)
	assert.Len(t, ids, 4)
}

func TestResolveTargetsEmptyAndFailure(t *testing.T) {
	svc, users, _ := newTargetingFixture()

	ids, err := svc.ResolveTargets(context.Background(), &models.Announcement{Target: models.TargetRule{Mode: models.TargetDepartments, DepartmentIDs: []string{"d7"}}})
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = svc.ResolveTargets(context.Background(), &models.Announcement{Target: models.TargetRule{Mode: "unknown"}})
	require.NoError(t, err)
	assert.Empty(t, ids)

	users.err = errors.New("db down")
	_, err = svc.ResolveTargets(context.Background(), &models.Announcement{Target: models.TargetRule{Mode: models.TargetAll}})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestCanView(t *testing.T) {
	svc, _, _ := newTargetingFixture()
	ctx := context.Background()
	d1, d2 := "d1", "d2"

	deptAnnouncement := &models.Announcement{ID: "a1", TargetMode: models.TargetDepartments}
	ok, err := svc.CanView(ctx, deptAnnouncement, &models.User{ID: "u1", DepartmentID: &d1, Roles: []string{"staff"}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CanView(ctx, deptAnnouncement, &models.User{ID: "u3", DepartmentID: &d2, Roles: []string{"staff"}})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.CanView(ctx, deptAnnouncement, &models.User{ID: "u5", Roles: []string{"staff"}})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.CanView(ctx, deptAnnouncement, &models.User{ID: "admin", Roles: []string{"super_admin"}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CanView(ctx, &models.Announcement{ID: "a2", TargetMode: models.TargetUsers}, &models.User{ID: "u9"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CanView(ctx, &models.Announcement{ID: "a3", TargetMode: models.TargetRoles}, &models.User{ID: "u4", Roles: []string{"staff", "reviewer"}})
	require.NoError(t, err)
	assert.True(t, ok)

	deleted := time.Now()
	ok, err = svc.CanView(ctx, &models.Announcement{ID: "a4", TargetMode: models.TargetAll, DeletedAt: &deleted}, &models.User{ID: "admin", Roles: []string{"admin"}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMarkReadKeepsFirstReadTime(t *testing.T) {
	svc, _, _ := newTargetingFixture()
	first := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return first }

	at, err := svc.MarkRead(context.Background(), "a1", "u1")
	require.NoError(t, err)
	assert.Equal(t, first, at)

	svc.now = func() time.Time { return first.Add(time.Hour) }
	at, err = svc.MarkRead(context.Background(), "a1", "u1")
	require.NoError(t, err)
	assert.Equal(t, first, at)

	read, err := svc.IsReadBy(context.Background(), "a1", "u1")
	require.NoError(t, err)
	assert.True(t, read)

	read, err = svc.IsReadBy(context.Background(), "a1", "u2")
	require.NoError(t, err)
	assert.False(t, read)
}

func TestComputeStatus(t *testing.T) {
	svc, _, _ := newTargetingFixture()
	now := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	later, earlier := now.Add(time.Hour), now.Add(-time.Hour)

	assert.Equal(t, models.StatusScheduled, svc.ComputeStatus(&models.Announcement{StartsAt: &later}, now))
	assert.Equal(t, models.StatusExpired, svc.ComputeStatus(&models.Announcement{ExpiresAt: &earlier}, now))
	assert.Equal(t, models.StatusActive, svc.ComputeStatus(&models.Announcement{StartsAt: &earlier, ExpiresAt: &later}, now))
}
