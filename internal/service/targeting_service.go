package service

import (
	"context"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/staff-portal-api/internal/models"
	appErrors "github.com/noah-isme/staff-portal-api/pkg/errors"
)

type audienceDirectory interface {
	ListActiveIDs(ctx context.Context) ([]string, error)
	ListIDsByDepartments(ctx context.Context, departmentIDs []string) ([]string, error)
	ListIDsByRoles(ctx context.Context, roles []string) ([]string, error)
}

type targetStore interface {
	TargetsDepartment(ctx context.Context, announcementID, departmentID string) (bool, error)
	TargetsUser(ctx context.Context, announcementID, userID string) (bool, error)
	TargetsAnyRole(ctx context.Context, announcementID string, roles []string) (bool, error)
	ReadAt(ctx context.Context, announcementID, userID string) (*time.Time, error)
	MarkRead(ctx context.Context, announcementID, userID string, at time.Time) (time.Time, error)
}

// TargetingService decides who an announcement is for and tracks who read it.
type TargetingService struct {
	users  audienceDirectory
	store  targetStore
	logger *zap.Logger
	now    func() time.Time
}

// NewTargetingService constructs the resolver.
func NewTargetingService(users audienceDirectory, store targetStore, logger *zap.Logger) *TargetingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TargetingService{users: users, store: store, logger: logger, now: time.Now}
}

// ResolveTargets returns the sorted, de-duplicated ids of every user the
// announcement is addressed to. An empty configuration yields an empty set.
func (s *TargetingService) ResolveTargets(ctx context.Context, announcement *models.Announcement) ([]string, error) {
	rule := announcement.Target
	if rule.Mode == "" {
		rule.Mode = announcement.TargetMode
	}

	var (
		ids []string
		err error
	)
	switch rule.Mode {
	case models.TargetAll:
		ids, err = s.users.ListActiveIDs(ctx)
	case models.TargetDepartments:
		ids, err = s.users.ListIDsByDepartments(ctx, rule.DepartmentIDs)
	case models.TargetUsers:
		ids = rule.UserIDs
	case models.TargetRoles:
		ids, err = s.users.ListIDsByRoles(ctx, lo.Uniq(rule.RoleNames))
	default:
		s.logger.Warn("announcement has unknown target mode", zap.String("announcement_id", announcement.ID), zap.String("mode", string(rule.Mode)))
		return []string{}, nil
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve announcement audience")
	}
	return normalizeIDs(ids), nil
}

// IsTargetedTo reports whether the user falls inside the announcement's audience.
func (s *TargetingService) IsTargetedTo(ctx context.Context, announcement *models.Announcement, user *models.User) (bool, error) {
	if user == nil {
		return false, nil
	}
	var (
		ok  bool
		err error
	)
	switch announcement.TargetMode {
	case models.TargetAll:
		return true, nil
	case models.TargetDepartments:
		if user.DepartmentID == nil || *user.DepartmentID == "" {
			return false, nil
		}
		ok, err = s.store.TargetsDepartment(ctx, announcement.ID, *user.DepartmentID)
	case models.TargetUsers:
		ok, err = s.store.TargetsUser(ctx, announcement.ID, user.ID)
	case models.TargetRoles:
		ok, err = s.store.TargetsAnyRole(ctx, announcement.ID, user.Roles)
	default:
		return false, nil
	}
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to evaluate announcement target")
	}
	return ok, nil
}

// CanView allows admin-class users and targeted users. Deleted announcements are never viewable.
func (s *TargetingService) CanView(ctx context.Context, announcement *models.Announcement, user *models.User) (bool, error) {
	if announcement == nil || announcement.DeletedAt != nil {
		return false, nil
	}
	if user.IsAdmin() {
		return true, nil
	}
	return s.IsTargetedTo(ctx, announcement, user)
}

// IsReadBy reports whether the user has a read mark on the announcement.
func (s *TargetingService) IsReadBy(ctx context.Context, announcementID, userID string) (bool, error) {
	readAt, err := s.ReadAt(ctx, announcementID, userID)
	if err != nil {
		return false, err
	}
	return readAt != nil, nil
}

// ReadAt returns the user's read time, nil when unread.
func (s *TargetingService) ReadAt(ctx context.Context, announcementID, userID string) (*time.Time, error) {
	readAt, err := s.store.ReadAt(ctx, announcementID, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load read state")
	}
	return readAt, nil
}

// MarkRead records the read mark and returns the first stored read time.
func (s *TargetingService) MarkRead(ctx context.Context, announcementID, userID string) (time.Time, error) {
	readAt, err := s.store.MarkRead(ctx, announcementID, userID, s.now().UTC())
	if err != nil {
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark announcement read")
	}
	return readAt, nil
}

// ComputeStatus derives the lifecycle state of an announcement at now.
func (s *TargetingService) ComputeStatus(announcement *models.Announcement, now time.Time) models.AnnouncementStatus {
	return announcement.Status(now)
}

func normalizeIDs(ids []string) []string {
	out := lo.Uniq(lo.Compact(ids))
	sort.Strings(out)
	return out
}
