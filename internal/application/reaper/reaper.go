// Package reaper runs the periodic sweeps: stale reports, old task mappings and dead sessions.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/fin-analyzer/internal/application"
	"github.com/bryanwahyu/fin-analyzer/internal/application/reports"
	domain "github.com/bryanwahyu/fin-analyzer/internal/domain/reports"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/tasks"
)

const (
	batchSize  = 100
	jobTimeout = 2 * time.Minute
)

type Options struct {
	StaleSchedule        string
	StaleAfter           time.Duration
	MappingSchedule      string
	MappingRetentionDays int
	SessionSchedule      string
}

// MappingPurger deletes mappings older than a number of days.
type MappingPurger interface {
	Purge(ctx context.Context, days int) (int64, error)
}

type SessionPurger interface {
	PurgeSessions(ctx context.Context) (int64, error)
}

type Reaper struct {
	Reports    domain.Repository
	Lifecycle  *reports.Lifecycle
	Dispatcher tasks.Dispatcher
	Mappings   MappingPurger
	Sessions   SessionPurger
	Clock      application.Clock
	Log        logrus.FieldLogger
	Opts       Options

	cron *cron.Cron
}

// AbandonedSummary is the diagnostic left on a report nobody is working on.
func AbandonedSummary(after time.Duration) string {
	return fmt.Sprintf("analysis abandoned: no worker heartbeat within %v", after)
}

// SweepStale fails active reports that have not been touched within StaleAfter and have no live task.
func (r *Reaper) SweepStale(ctx context.Context) (int, error) {
	if r.Opts.StaleAfter <= 0 {
		return 0, nil
	}
	f := domain.Filter{Statuses: domain.Active, UpdatedBefore: r.Clock.Now().Add(-r.Opts.StaleAfter)}

	var stale []*domain.Report
	for offset := 0; ; offset += batchSize {
		page, err := r.Reports.List(ctx, "", f, batchSize, offset)
		if err != nil {
			return 0, fmt.Errorf("list stale reports: %w", err)
		}
		stale = append(stale, page...)
		if len(page) < batchSize {
			break
		}
	}

	failed := 0
	msg := AbandonedSummary(r.Opts.StaleAfter)
	for _, rep := range stale {
		log := r.Log.WithFields(logrus.Fields{"report_id": rep.ID, "user_id": rep.UserID})
		if taskID, live := r.Dispatcher.ReportTask(rep.ID); live {
			log.WithField("task_id", taskID).Debug("stale report still has a live task")
			continue
		}
		if err := r.Lifecycle.Fail(ctx, rep.ID, rep.UserID, msg); err != nil {
			log.WithError(err).Error("could not fail stale report")
			continue
		}
		log.Warn("stale report failed")
		failed++
	}
	return failed, nil
}

func (r *Reaper) add(schedule, name string, job func(ctx context.Context) (int64, error)) error {
	if schedule == "" {
		return nil
	}
	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		n, err := job(ctx)
		if err != nil {
			r.Log.WithError(err).WithField("job", name).Error("sweep failed")
			return
		}
		r.Log.WithFields(logrus.Fields{"job": name, "affected": n}).Debug("sweep done")
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, schedule, err)
	}
	return nil
}

// Start registers the jobs and starts the scheduler.
func (r *Reaper) Start() error {
	r.cron = cron.New()
	if err := r.add(r.Opts.StaleSchedule, "stale_reports", func(ctx context.Context) (int64, error) {
		n, err := r.SweepStale(ctx)
		return int64(n), err
	}); err != nil {
		return err
	}
	if r.Mappings != nil && r.Opts.MappingRetentionDays > 0 {
		if err := r.add(r.Opts.MappingSchedule, "mapping_retention", func(ctx context.Context) (int64, error) {
			return r.Mappings.Purge(ctx, r.Opts.MappingRetentionDays)
		}); err != nil {
			return err
		}
	}
	if r.Sessions != nil {
		if err := r.add(r.Opts.SessionSchedule, "session_cleanup", r.Sessions.PurgeSessions); err != nil {
			return err
		}
	}
	r.cron.Start()
	r.Log.WithField("jobs", len(r.cron.Entries())).Info("reaper started")
	return nil
}

// Stop waits for running jobs or until ctx is done.
func (r *Reaper) Stop(ctx context.Context) {
	if r.cron == nil {
		return
	}
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
}
