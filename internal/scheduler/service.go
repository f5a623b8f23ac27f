package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/creatorhq/mentions-sync/internal/archive"
	"github.com/creatorhq/mentions-sync/internal/config"
	"github.com/creatorhq/mentions-sync/internal/engine"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Service drives the safety-net resync and the daily snapshot archive.
// The change-feed is the primary resync trigger; the cron sweep bounds
// staleness when feed events are dropped.
type Service struct {
	config  *config.Config
	engine  *engine.Engine
	archive archive.ArchiveInterface
	cron    *cron.Cron
}

// NewService creates a scheduler. archive may be nil; the daily
// snapshot job is then skipped.
func NewService(cfg *config.Config, eng *engine.Engine, arc archive.ArchiveInterface) *Service {
	return &Service{
		config:  cfg,
		engine:  eng,
		archive: arc,
		cron:    cron.New(cron.WithSeconds()),
	}
}

// Start begins the scheduled jobs
func (s *Service) Start() error {
	_, err := s.cron.AddFunc(s.config.ResyncSchedule, func() {
		logrus.Info("Starting scheduled reconciliation resync")
		if err := s.engine.Refresh(context.Background()); err != nil {
			logrus.Errorf("Scheduled resync failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid resync schedule %q: %w", s.config.ResyncSchedule, err)
	}

	if s.archive != nil {
		// Archive the stats snapshot just after midnight UTC, then
		// prune snapshots past the retention window.
		_, err = s.cron.AddFunc("0 5 0 * * *", func() {
			if err := s.archiveSnapshot(); err != nil {
				logrus.Errorf("Snapshot archive failed: %v", err)
			}
			if err := s.pruneSnapshots(); err != nil {
				logrus.Errorf("Snapshot prune failed: %v", err)
			}
		})
		if err != nil {
			return err
		}
	}

	s.cron.Start()
	logrus.Infof("Scheduler started (resync %q)", s.config.ResyncSchedule)
	return nil
}

// Stop stops the scheduler
func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		logrus.Info("Scheduler stopped")
	}
}

// snapshotPrefix and snapshotDateLayout define the daily snapshot
// naming scheme, stats-YYYY-MM-DD.json.
const (
	snapshotPrefix     = "stats-"
	snapshotDateLayout = "2006-01-02"
)

// SnapshotName returns the archive name for the snapshot of the given
// day.
func SnapshotName(day time.Time) string {
	return fmt.Sprintf("%s%s.json", snapshotPrefix, day.UTC().Format(snapshotDateLayout))
}

// snapshotDay parses the day back out of a snapshot name. Names not
// matching the daily scheme report false.
func snapshotDay(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, ".json") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), ".json")
	day, err := time.Parse(snapshotDateLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

func (s *Service) archiveSnapshot() error {
	snap := s.engine.Snapshot()

	payload := struct {
		TakenAt     time.Time   `json:"taken_at"`
		ProjectID   string      `json:"project_id"`
		Stats       interface{} `json:"stats"`
		Performance interface{} `json:"performance"`
	}{
		TakenAt:     time.Now().UTC(),
		ProjectID:   s.config.ProjectID,
		Stats:       snap.Stats,
		Performance: snap.Performance,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return s.archive.Store(SnapshotName(time.Now()), data)
}

// pruneSnapshots deletes daily snapshots older than the configured
// retention window. Foreign names under the prefix are left alone.
func (s *Service) pruneSnapshots() error {
	names, err := s.archive.List(snapshotPrefix)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.ArchiveRetention)
	for _, name := range names {
		day, ok := snapshotDay(name)
		if !ok || !day.Before(cutoff) {
			continue
		}
		if err := s.archive.Delete(name); err != nil {
			return fmt.Errorf("failed to delete snapshot %s: %w", name, err)
		}
		logrus.Infof("Pruned archived snapshot %s", name)
	}

	return nil
}
