package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/interfaces"
	"github.com/ternarybob/catchall/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// MonitorStorage implements the MonitorStorage interface for Badger.
// Runs are keyed by run ID and filtered by MonitorID.
type MonitorStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewMonitorStorage creates a new MonitorStorage instance
func NewMonitorStorage(db *BadgerDB, logger arbor.ILogger) interfaces.MonitorStorage {
	return &MonitorStorage{
		db:     db,
		logger: logger,
	}
}

func (s *MonitorStorage) SaveMonitor(ctx context.Context, monitor *models.Monitor) error {
	if monitor.ID == "" {
		return fmt.Errorf("monitor ID is required")
	}
	if monitor.CreatedAt.IsZero() {
		monitor.CreatedAt = time.Now()
	}
	if err := s.db.Store().Upsert(monitor.ID, monitor); err != nil {
		return fmt.Errorf("failed to save monitor: %w", err)
	}
	return nil
}

func (s *MonitorStorage) GetMonitor(ctx context.Context, id string) (*models.Monitor, error) {
	var monitor models.Monitor
	if err := s.db.Store().Get(id, &monitor); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("monitor %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get monitor: %w", err)
	}
	return &monitor, nil
}

// ListMonitors returns monitors oldest first
func (s *MonitorStorage) ListMonitors(ctx context.Context) ([]*models.Monitor, error) {
	var monitors []models.Monitor
	if err := s.db.Store().Find(&monitors, nil); err != nil {
		return nil, fmt.Errorf("failed to list monitors: %w", err)
	}

	sort.SliceStable(monitors, func(i, j int) bool {
		return monitors[i].CreatedAt.Before(monitors[j].CreatedAt)
	})

	result := make([]*models.Monitor, len(monitors))
	for i := range monitors {
		result[i] = &monitors[i]
	}
	return result, nil
}

// DeleteMonitor removes a monitor and its run history
func (s *MonitorStorage) DeleteMonitor(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Monitor{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete monitor: %w", err)
	}
	if err := s.db.Store().DeleteMatching(&models.MonitorRun{}, badgerhold.Where("MonitorID").Eq(id)); err != nil {
		return fmt.Errorf("failed to delete monitor runs: %w", err)
	}
	return nil
}

func (s *MonitorStorage) SaveRun(ctx context.Context, run *models.MonitorRun) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if run.MonitorID == "" {
		return fmt.Errorf("run %s has no monitor ID", run.ID)
	}
	if err := s.db.Store().Upsert(run.ID, run); err != nil {
		return fmt.Errorf("failed to save monitor run: %w", err)
	}
	return nil
}

// ListRuns returns a monitor's runs ordered by start time
func (s *MonitorStorage) ListRuns(ctx context.Context, monitorID string, order models.SortOrder) ([]*models.MonitorRun, error) {
	var runs []models.MonitorRun
	if err := s.db.Store().Find(&runs, badgerhold.Where("MonitorID").Eq(monitorID)); err != nil {
		return nil, fmt.Errorf("failed to list monitor runs: %w", err)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		a, b := startedAt(runs[i]), startedAt(runs[j])
		if order == models.SortAsc {
			return a.Before(b)
		}
		return b.Before(a)
	})

	result := make([]*models.MonitorRun, len(runs))
	for i := range runs {
		result[i] = &runs[i]
	}
	return result, nil
}

func (s *MonitorStorage) LatestRun(ctx context.Context, monitorID string) (*models.MonitorRun, error) {
	runs, err := s.ListRuns(ctx, monitorID, models.SortDesc)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("runs of monitor %s: %w", monitorID, interfaces.ErrNotFound)
	}
	return runs[0], nil
}

func startedAt(run models.MonitorRun) time.Time {
	if run.StartedAt == nil {
		return time.Time{}
	}
	return run.StartedAt.Time
}
