package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/staff-portal-api/internal/models"
)

type dueAnnouncementLister interface {
	ListDueForPublication(ctx context.Context, now time.Time, limit int) ([]models.Announcement, error)
}

type announcementPublisher interface {
	Publish(ctx context.Context, announcement *models.Announcement) bool
}

// SchedulerConfig tunes the publication job.
type SchedulerConfig struct {
	Schedule string
	Batch    int
	Timeout  time.Duration
}

// AnnouncementScheduler publishes announcements whose start time has passed.
type AnnouncementScheduler struct {
	lister    dueAnnouncementLister
	publisher announcementPublisher
	cfg       SchedulerConfig
	logger    *zap.Logger
	now       func() time.Time

	cron    *cron.Cron
	running sync.Mutex
}

// NewAnnouncementScheduler validates the schedule expression and builds the scheduler.
func NewAnnouncementScheduler(lister dueAnnouncementLister, publisher announcementPublisher, cfg SchedulerConfig, logger *zap.Logger) (*AnnouncementScheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid publish schedule %q: %w", cfg.Schedule, err)
	}
	return &AnnouncementScheduler{
		lister:    lister,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Start registers the job and starts the cron runner.
func (s *AnnouncementScheduler) Start() error {
	s.cron = cron.New(cron.WithLocation(time.UTC))
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("register publish job: %w", err)
	}
	s.cron.Start()
	s.logger.Info("announcement scheduler started", zap.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop halts the runner and waits for a running job to finish.
func (s *AnnouncementScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce publishes every due announcement and returns how many were published.
// Overlapping runs are skipped.
func (s *AnnouncementScheduler) RunOnce(ctx context.Context) int {
	if !s.running.TryLock() {
		s.logger.Debug("publication run still in progress, skipping")
		return 0
	}
	defer s.running.Unlock()

	due, err := s.lister.ListDueForPublication(ctx, s.now().UTC(), s.cfg.Batch)
	if err != nil {
		s.logger.Error("failed to list due announcements", zap.Error(err))
		return 0
	}
	published := 0
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		if s.publisher.Publish(ctx, &due[i]) {
			published++
		}
	}
	if len(due) > 0 {
		s.logger.Info("scheduled announcements processed", zap.Int("due", len(due)), zap.Int("published", published))
	}
	return published
}
