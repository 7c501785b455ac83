// Package logloc decides where the sync engine writes its log and keeps
// that log from growing without bound.
package logloc

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/Ning0612/rclonesync/internal/domain"
	"github.com/Ning0612/rclonesync/internal/engine"
)

const (
	// LogDirName is the per-tree directory holding engine logs
	LogDirName = ".rclone"
	// LogFileBase starts every engine log file name
	LogFileBase = "rclone"
)

// Side names where the log was placed
type Side int

const (
	SideSystem Side = iota
	SideSource
	SideDestination
)

func (s Side) String() string {
	switch s {
	case SideSource:
		return "source"
	case SideDestination:
		return "destination"
	default:
		return "system"
	}
}

// placement is keyed by (source is local dir, destination is local dir)
var placement = map[[2]bool]Side{
	{true, true}:   SideSource,
	{true, false}:  SideSource,
	{false, true}:  SideDestination,
	{false, false}: SideSystem,
}

// Decide returns the side that hosts the log for the given reachability
func Decide(sourceLocal, destinationLocal bool) Side {
	return placement[[2]bool{sourceLocal, destinationLocal}]
}

// Location is a resolved engine log path
type Location struct {
	Side  Side
	Dir   string
	Label string
	Path  string
}

// Locator resolves engine log locations
type Locator struct {
	fs        afero.Fs
	systemDir string
	override  string
}

// NewLocator creates a locator. systemDir is used when neither side is a
// local directory; a non-empty override replaces whichever directory the
// decision table picks.
func NewLocator(fs afero.Fs, systemDir, override string) *Locator {
	return &Locator{fs: fs, systemDir: systemDir, override: override}
}

// Locate computes the log path for a pair without touching the filesystem
// beyond reachability checks
func (l *Locator) Locate(source, destination string) Location {
	side := Decide(l.isLocalDir(source), l.isLocalDir(destination))

	var loc Location
	loc.Side = side
	switch side {
	case SideSource:
		loc.Dir = filepath.Join(source, LogDirName)
		loc.Label = engine.RemoteLabel(destination)
	case SideDestination:
		loc.Dir = filepath.Join(destination, LogDirName)
		loc.Label = engine.RemoteLabel(source)
	default:
		loc.Dir = l.systemDir
	}
	if l.override != "" {
		loc.Dir = l.override
	}

	loc.Path = filepath.Join(loc.Dir, FileName(loc.Label))
	return loc
}

// Prepare creates the parent directory of the log file. It is idempotent.
func (l *Locator) Prepare(loc Location) error {
	if err := l.fs.MkdirAll(filepath.Dir(loc.Path), 0755); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrLogLocation, loc.Path, err)
	}
	return nil
}

// Resolve locates and prepares the log for a pair
func (l *Locator) Resolve(source, destination string) (Location, error) {
	loc := l.Locate(source, destination)
	if err := l.Prepare(loc); err != nil {
		return loc, err
	}
	return loc, nil
}

func (l *Locator) isLocalDir(path string) bool {
	if path == "" || engine.IsRemote(path) {
		return false
	}
	ok, err := afero.DirExists(l.fs, path)
	return err == nil && ok
}

// FileName returns the log file name for a remote label
func FileName(label string) string {
	if label == "" {
		return LogFileBase + ".log"
	}
	return LogFileBase + "-" + label + ".log"
}
