package domain

import "time"

// Pair is the unit of mutual exclusion: one source synced to one destination
type Pair struct {
	Source      string
	Destination string
}

// RunIdentity correlates every status line of a single run
type RunIdentity struct {
	// StableID is derived from the pair only and names the lock file
	StableID string

	// RunID is derived from the start second and StableID
	RunID string

	// StartTime is the wall-clock start of the run
	StartTime time.Time
}

// ShortRunID returns the run id prefix printed on every status line
func (r RunIdentity) ShortRunID() string {
	const n = 7
	if len(r.RunID) < n {
		return r.RunID
	}
	return r.RunID[:n]
}

// RunStatus is the terminal status of a recorded run
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// IsValid checks if the status is a known value
func (s RunStatus) IsValid() bool {
	switch s {
	case RunSuccess, RunFailed:
		return true
	}
	return false
}
