// Package cron runs the periodic jobs: finishing interrupted booking
// operations, reminding requesters of upcoming bookings and snapshotting
// platform metrics.
package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/meinhoongagan/service-marketplace/config"
	"github.com/meinhoongagan/service-marketplace/lifecycle"
	"github.com/meinhoongagan/service-marketplace/marketplace"
	"github.com/meinhoongagan/service-marketplace/models"
	"github.com/meinhoongagan/service-marketplace/notify"
	"github.com/meinhoongagan/service-marketplace/utils"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ReminderWindow is how far ahead accepted bookings get a reminder.
const ReminderWindow = time.Hour

type Reconciler interface {
	Reconcile(ctx context.Context) (lifecycle.ReconcileReport, error)
}

type Snapshotter interface {
	Snapshot(ctx context.Context) (marketplace.Report, models.PlatformMetric, error)
}

// Jobs are the dependencies of the scheduled jobs. A nil Reconciler or
// Snapshotter disables its job.
type Jobs struct {
	Tables     *models.Tables
	Notifier   notify.Notifier
	Reconciler Reconciler
	Metrics    Snapshotter
}

type Scheduler struct {
	jobs   Jobs
	cron   *cron.Cron
	log    *zap.Logger
	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
}

// New registers the jobs on the schedules of cfg. Empty schedules are
// skipped.
func New(cfg config.CronConfig, jobs Jobs, log *zap.Logger) (*Scheduler, error) {
	log = log.Named("cron")
	cronLog := cron.PrintfLogger(zap.NewStdLog(log))
	s := &Scheduler{
		jobs: jobs,
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		log: log,
		now: time.Now,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	add := func(name, spec string, run func(ctx context.Context) error) error {
		if spec == "" {
			return nil
		}
		_, err := s.cron.AddFunc(spec, func() {
			if err := run(s.ctx); err != nil {
				s.log.Error("job failed", zap.String("job", name), zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %s job %q: %w", name, spec, err)
		}
		return nil
	}
	if jobs.Reconciler != nil {
		if err := add("reconcile", cfg.Reconcile, s.reconcile); err != nil {
			return nil, err
		}
	}
	if err := add("reminders", cfg.Reminders, func(ctx context.Context) error {
		_, err := s.SendReminders(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if jobs.Metrics != nil {
		if err := add("metrics", cfg.Metrics, s.snapshot); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("cron job scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("jobs still running at shutdown")
	}
	s.cancel()
}

func (s *Scheduler) reconcile(ctx context.Context) error {
	report, err := s.jobs.Reconciler.Reconcile(ctx)
	if err != nil {
		return err
	}
	if report.Pending > 0 {
		s.log.Info("reconciled operations",
			zap.Int("pending", report.Pending),
			zap.Int("completed", report.Completed),
			zap.Int("failed", report.Failed),
			zap.Int("errors", report.Errors))
	}
	return nil
}

func (s *Scheduler) snapshot(ctx context.Context) error {
	_, m, err := s.jobs.Metrics.Snapshot(ctx)
	if err != nil {
		return err
	}
	s.log.Debug("platform metrics recorded", zap.Int64("metric_id", m.ID))
	return nil
}

// SendReminders notifies the requester of every accepted booking that starts
// within ReminderWindow. Each booking is reminded once; the count covers the
// bookings in the window.
func (s *Scheduler) SendReminders(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.jobs.Tables.Bookings.Filter(ctx, func(b models.Booking) bool {
		return b.BookingStatus == models.BookingAccepted &&
			b.ServiceDate.After(now) && !b.ServiceDate.After(now.Add(ReminderWindow))
	})
	if err != nil {
		return 0, err
	}
	for _, b := range due {
		name := "your service"
		if svc, err := s.jobs.Tables.Services.Get(ctx, b.ServiceID); err == nil {
			name = svc.ServiceName
		}
		_, err := s.jobs.Notifier.Notify(ctx, notify.Message{
			UserID:    b.UserID,
			BookingID: b.ID,
			Text: fmt.Sprintf("Reminder: your booking #%d for %s is scheduled at %s.",
				b.ID, name, utils.FormatDateTime(b.ServiceDate)),
			DedupeKey: fmt.Sprintf("reminder:%d", b.ID),
		})
		if err != nil {
			s.log.Error("failed to send reminder", zap.Int64("booking_id", b.ID), zap.Error(err))
		}
	}
	if len(due) > 0 {
		s.log.Info("sent booking reminders", zap.Int("bookings", len(due)))
	}
	return len(due), nil
}
