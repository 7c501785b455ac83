package logloc

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Ning0612/rclonesync/internal/domain"
)

const megabyte = 1024 * 1024

// Rotator trims a growing log file
type Rotator interface {
	Rotate(path string) error
}

// SizeRotator rotates a log once it exceeds MaxSizeMB, keeping MaxBackups
// compressed generations next to it. It works on the OS filesystem only,
// since that is where the engine writes its log.
//
// One lumberjack.Logger is kept per path: each one owns a compression
// goroutine for its lifetime, so a scheduled loop must not create a new
// one per run.
type SizeRotator struct {
	MaxSizeMB  int
	MaxBackups int

	mu      sync.Mutex
	loggers map[string]*lumberjack.Logger
}

// NewSizeRotator creates a rotator with the given limits
func NewSizeRotator(maxSizeMB, maxBackups int) *SizeRotator {
	return &SizeRotator{
		MaxSizeMB:  maxSizeMB,
		MaxBackups: maxBackups,
	}
}

// Rotate moves path aside when it is over the size limit. A missing file or
// one under the limit is left alone. Errors wrap domain.ErrLogRotation.
func (r *SizeRotator) Rotate(path string) error {
	if r.MaxSizeMB <= 0 {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", domain.ErrLogRotation, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", domain.ErrLogRotation, path)
	}
	if info.Size() <= int64(r.MaxSizeMB)*megabyte {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	lj := r.loggerFor(path)
	if err := lj.Rotate(); err != nil {
		lj.Close()
		return fmt.Errorf("%w: %v", domain.ErrLogRotation, err)
	}
	// The engine appends to the fresh file; do not hold it open
	if err := lj.Close(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrLogRotation, err)
	}
	return nil
}

// loggerFor must be called with r.mu held
func (r *SizeRotator) loggerFor(path string) *lumberjack.Logger {
	if r.loggers == nil {
		r.loggers = make(map[string]*lumberjack.Logger)
	}
	lj, ok := r.loggers[path]
	if !ok {
		lj = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    r.MaxSizeMB,
			MaxBackups: r.MaxBackups,
			Compress:   true,
		}
		r.loggers[path] = lj
	}
	return lj
}
