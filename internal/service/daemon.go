package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/Ning0612/rclonesync/internal/config"
	"github.com/Ning0612/rclonesync/internal/scheduler"
	"github.com/Ning0612/rclonesync/internal/state"
)

// HistoryReader reads back recorded runs
type HistoryReader interface {
	History(stableID string, limit int) ([]state.RunRecord, error)
}

// DaemonService runs the pair's sync repeatedly in-process
type DaemonService struct {
	mu        sync.RWMutex
	syncSvc   *SyncService
	history   HistoryReader
	scheduler scheduler.Scheduler
}

// DaemonStatus represents the current daemon status
type DaemonStatus struct {
	Running        bool
	SchedulerStats *scheduler.Status
	LastRun        *state.RunRecord
}

// NewDaemonService creates a daemon around a sync service built from cfg
// and deps. If deps.History can read runs back, Status reports the last one.
func NewDaemonService(cfg *config.Config, deps Deps) (*DaemonService, error) {
	syncSvc, err := NewSyncService(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync service: %w", err)
	}

	d := &DaemonService{syncSvc: syncSvc}
	if reader, ok := deps.History.(HistoryReader); ok {
		d.history = reader
	}
	return d, nil
}

// RunSync performs one full run and reports a non-zero exit as an error.
// It implements scheduler.SyncRunner.
func (d *DaemonService) RunSync(ctx context.Context) error {
	res := d.syncSvc.Run(ctx)
	if res.ExitCode == 0 {
		return nil
	}
	if res.Err != nil {
		return fmt.Errorf("run %s exited with code %d: %w", res.Identity.ShortRunID(), res.ExitCode, res.Err)
	}
	return fmt.Errorf("run %s exited with code %d", res.Identity.ShortRunID(), res.ExitCode)
}

// Start starts the scheduling loop in the background
func (d *DaemonService) Start(ctx context.Context, schedConfig scheduler.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.scheduler != nil {
		return fmt.Errorf("daemon is already running")
	}

	sched, err := scheduler.NewIntervalScheduler(schedConfig, d)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	d.scheduler = sched
	return nil
}

// Wait blocks until the scheduling loop exits
func (d *DaemonService) Wait() {
	d.mu.RLock()
	sched := d.scheduler
	d.mu.RUnlock()

	if sched != nil {
		<-sched.Done()
	}
}

// Stop stops the daemon
func (d *DaemonService) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.scheduler == nil {
		return fmt.Errorf("daemon is not running")
	}

	if err := d.scheduler.Stop(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}

	d.scheduler = nil
	return nil
}

// Status returns the current daemon status
func (d *DaemonService) Status() *DaemonStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := &DaemonStatus{
		Running: d.scheduler != nil && d.scheduler.Status().Running,
	}

	if d.scheduler != nil {
		status.SchedulerStats = d.scheduler.Status()
	}

	if d.history != nil {
		runs, err := d.history.History(d.syncSvc.Identity().StableID, 1)
		if err == nil && len(runs) > 0 {
			status.LastRun = &runs[0]
		}
	}

	return status
}

var _ scheduler.SyncRunner = (*DaemonService)(nil)
