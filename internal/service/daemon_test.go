package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ning0612/rclonesync/internal/domain"
	"github.com/Ning0612/rclonesync/internal/lock"
	"github.com/Ning0612/rclonesync/internal/scheduler"
	"github.com/Ning0612/rclonesync/internal/state"
	"github.com/Ning0612/rclonesync/internal/testutil"
)

func newTestDaemon(t *testing.T, f *fixture, deps Deps) *DaemonService {
	t.Helper()

	deps.Runner = f.engine
	deps.Stdout = f.stdout
	deps.LockDir = f.lockDir

	daemon, err := NewDaemonService(f.cfg, deps)
	if err != nil {
		t.Fatalf("Failed to create daemon service: %v", err)
	}
	return daemon
}

func TestNewDaemonService(t *testing.T) {
	f := newFixture(t)
	daemon := newTestDaemon(t, f, Deps{})

	if daemon.syncSvc == nil {
		t.Error("Sync service is nil")
	}
	if daemon.history != nil {
		t.Error("History reader should be nil without a store")
	}
}

func TestNewDaemonService_NilConfig(t *testing.T) {
	_, err := NewDaemonService(nil, Deps{})
	if err == nil {
		t.Error("Expected error for nil config, got nil")
	}
}

func TestDaemonService_StartStop(t *testing.T) {
	f := newFixture(t)
	daemon := newTestDaemon(t, f, Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := daemon.Start(ctx, scheduler.Config{Interval: 100 * time.Millisecond}); err != nil {
		t.Fatalf("Failed to start daemon: %v", err)
	}

	if !daemon.Status().Running {
		t.Error("Daemon should be running")
	}

	// The first run starts immediately
	ok := testutil.WaitForCondition(2*time.Second, func() bool {
		return daemon.Status().SchedulerStats.SuccessfulRuns >= 1
	})
	if !ok {
		t.Errorf("Expected a successful run, got %+v", daemon.Status().SchedulerStats)
	}

	if err := daemon.Stop(); err != nil {
		t.Fatalf("Failed to stop daemon: %v", err)
	}

	if daemon.Status().Running {
		t.Error("Daemon should not be running after stop")
	}
}

func TestDaemonService_DoubleStart(t *testing.T) {
	f := newFixture(t)
	daemon := newTestDaemon(t, f, Deps{})

	ctx := context.Background()
	cfg := scheduler.Config{Interval: time.Second, SkipInitialRun: true}

	if err := daemon.Start(ctx, cfg); err != nil {
		t.Fatalf("Failed to start daemon: %v", err)
	}
	defer daemon.Stop()

	if err := daemon.Start(ctx, cfg); err == nil {
		t.Error("Expected error when starting already running daemon")
	}
}

func TestDaemonService_StopNotRunning(t *testing.T) {
	f := newFixture(t)
	daemon := newTestDaemon(t, f, Deps{})

	if err := daemon.Stop(); err == nil {
		t.Error("Expected error when stopping non-running daemon")
	}
}

func TestDaemonService_InvalidInterval(t *testing.T) {
	f := newFixture(t)
	daemon := newTestDaemon(t, f, Deps{})

	if err := daemon.Start(context.Background(), scheduler.Config{}); err == nil {
		t.Error("Expected error for zero interval")
	}
	if daemon.Status().Running {
		t.Error("Daemon should not be running after a failed start")
	}
}

func TestDaemonService_RunSync(t *testing.T) {
	f := newFixture(t)
	daemon := newTestDaemon(t, f, Deps{})

	if err := daemon.RunSync(context.Background()); err != nil {
		t.Fatalf("Expected successful run, got %v", err)
	}

	f.engine.SyncExitCode = 4
	err := daemon.RunSync(context.Background())
	if err == nil {
		t.Fatal("Expected error for failed run, got nil")
	}
	if !errors.Is(err, domain.ErrEngineFailed) {
		t.Errorf("Expected ErrEngineFailed, got %v", err)
	}
}

func TestDaemonService_LockedRunFails(t *testing.T) {
	f := newFixture(t)
	daemon := newTestDaemon(t, f, Deps{})

	held := lock.New(daemon.syncSvc.LockPath())
	if err := held.TryAcquire(lock.LockInfo{}); err != nil {
		t.Fatalf("Failed to hold lock: %v", err)
	}
	defer held.Release()

	err := daemon.RunSync(context.Background())
	if !errors.Is(err, domain.ErrAlreadyLocked) {
		t.Errorf("Expected ErrAlreadyLocked, got %v", err)
	}
	if len(f.engine.CallsTo("sync")) != 0 {
		t.Error("Engine should not run while the pair is locked")
	}
}

func TestDaemonService_Status(t *testing.T) {
	f := newFixture(t)
	store, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	daemon := newTestDaemon(t, f, Deps{History: store})

	status := daemon.Status()
	if status == nil {
		t.Fatal("Status should not be nil")
	}
	if status.Running {
		t.Error("Daemon should not be running initially")
	}
	if status.LastRun != nil {
		t.Error("Expected no last run before any sync")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := daemon.Start(ctx, scheduler.Config{Interval: time.Hour}); err != nil {
		t.Fatalf("Failed to start daemon: %v", err)
	}
	defer daemon.Stop()

	ok := testutil.WaitForCondition(2*time.Second, func() bool {
		return daemon.Status().LastRun != nil
	})
	if !ok {
		t.Fatal("Expected the first run to be recorded")
	}

	status = daemon.Status()
	if !status.Running {
		t.Error("Daemon should be running")
	}
	if status.SchedulerStats == nil {
		t.Fatal("Scheduler stats should not be nil when running")
	}
	if status.LastRun.Status != domain.RunSuccess {
		t.Errorf("Expected last run to succeed, got %s", status.LastRun.Status)
	}
}

func TestDaemonService_ContextCancelEndsWait(t *testing.T) {
	f := newFixture(t)
	f.stdout = &bytes.Buffer{}
	daemon := newTestDaemon(t, f, Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	if err := daemon.Start(ctx, scheduler.Config{Interval: time.Hour, SkipInitialRun: true}); err != nil {
		t.Fatalf("Failed to start daemon: %v", err)
	}

	done := make(chan struct{})
	go func() {
		daemon.Wait()
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after context cancellation")
	}
}
