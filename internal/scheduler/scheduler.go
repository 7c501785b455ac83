package scheduler

import (
	"context"
	"time"
)

// Scheduler runs one pair's sync repeatedly
type Scheduler interface {
	// Start begins the scheduling loop
	Start(ctx context.Context) error

	// Stop gracefully stops the scheduler
	Stop() error

	// Done is closed once the loop has exited
	Done() <-chan struct{}

	// Status returns the current scheduler status
	Status() *Status
}

// Status represents the current state of a scheduler
type Status struct {
	Running        bool
	LastRunTime    time.Time
	NextRunTime    time.Time
	TotalRuns      int
	SuccessfulRuns int
	FailedRuns     int
	LastError      string
}

// Config contains scheduler configuration
type Config struct {
	// Interval specifies the duration between sync runs
	Interval time.Duration

	// SkipInitialRun waits one interval before the first run
	SkipInitialRun bool
}

// SyncRunner executes one complete sync run. Each call is independent and
// acquires its own lock; a run that finds the pair locked returns an error.
type SyncRunner interface {
	RunSync(ctx context.Context) error
}

// RunnerFunc adapts a function to SyncRunner
type RunnerFunc func(ctx context.Context) error

// RunSync calls f(ctx)
func (f RunnerFunc) RunSync(ctx context.Context) error {
	return f(ctx)
}
