package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/Ning0612/rclonesync/internal/config"
	"github.com/Ning0612/rclonesync/internal/domain"
	"github.com/Ning0612/rclonesync/internal/engine"
	"github.com/Ning0612/rclonesync/internal/identity"
	"github.com/Ning0612/rclonesync/internal/lock"
	"github.com/Ning0612/rclonesync/internal/logger"
	"github.com/Ning0612/rclonesync/internal/logloc"
	"github.com/Ning0612/rclonesync/internal/output"
	"github.com/Ning0612/rclonesync/internal/state"
)

// State is a step of a single sync run
type State int

const (
	StateValidating State = iota
	StateLocatingLog
	StateLocking
	StateSyncing
	StateReporting
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateLocatingLog:
		return "locating-log"
	case StateLocking:
		return "locking"
	case StateSyncing:
		return "syncing"
	case StateReporting:
		return "reporting"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Recorder stores the outcome of a run
type Recorder interface {
	SaveRun(record state.RunRecord) (int64, error)
}

// Deps are the collaborators of SyncService. Zero values are replaced
// with the production implementations.
type Deps struct {
	Runner  engine.Runner
	Fs      afero.Fs
	Rotator logloc.Rotator
	History Recorder
	Stdout  io.Writer
	Now     func() time.Time
	Hasher  identity.Hasher
	// LockDir holds pair lock files; empty means the temporary directory
	LockDir string
}

// RunResult describes how a run ended
type RunResult struct {
	Identity  domain.RunIdentity
	State     State
	ExitCode  int
	Err       error
	LogFile   string
	BackupDir string
	Duration  time.Duration
}

// SyncService runs one pair through validation, locking, the engine and
// reporting
type SyncService struct {
	config    *config.Config
	runner    engine.Runner
	validator *engine.PathValidator
	fs        afero.Fs
	rotator   logloc.Rotator
	history   Recorder
	stdout    io.Writer
	now       func() time.Time
	hasher    identity.Hasher
	lockDir   string
}

// NewSyncService creates a new sync service
func NewSyncService(cfg *config.Config, deps Deps) (*SyncService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if deps.Runner == nil {
		deps.Runner = engine.NewExecRunner(cfg.RcloneBinary)
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.Rotator == nil {
		deps.Rotator = logloc.NewSizeRotator(cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Hasher == nil {
		deps.Hasher = identity.NewHasher()
	}

	return &SyncService{
		config:    cfg,
		runner:    deps.Runner,
		validator: engine.NewPathValidator(deps.Runner),
		fs:        deps.Fs,
		rotator:   deps.Rotator,
		history:   deps.History,
		stdout:    deps.Stdout,
		now:       deps.Now,
		hasher:    deps.Hasher,
		lockDir:   deps.LockDir,
	}, nil
}

// Identity returns the identity a run starting now would get
func (s *SyncService) Identity() domain.RunIdentity {
	return identity.New(s.hasher, s.config.Pair(), s.now())
}

// LockPath returns the lock file of the configured pair
func (s *SyncService) LockPath() string {
	return lock.PathFor(s.lockDir, s.Identity().StableID)
}

// Run performs one sync. Every fatal error produces exactly one formatted
// line on stdout; the result carries the process exit code.
func (s *SyncService) Run(ctx context.Context) *RunResult {
	pair := s.config.Pair()
	start := s.now()
	ident := identity.New(s.hasher, pair, start)

	out := output.New(s.stdout, ident)
	out.SetClock(s.now)
	defer out.Flush()

	res := &RunResult{Identity: ident, State: StateValidating}
	log := logger.ForRun(ident.ShortRunID(), ident.StableID)

	abort := func(code int, err error, msg string) *RunResult {
		out.Flush()
		out.Print(msg)
		log.Warn("run aborted", "state", res.State.String(), "error", err)
		res.State = StateAborted
		res.ExitCode = code
		res.Err = err
		res.Duration = s.now().Sub(start)
		return res
	}

	// Validating
	for _, p := range []string{pair.Source, pair.Destination} {
		if err := s.validator.Validate(ctx, p); err != nil {
			return abort(1, err, fmt.Sprintf("input path (%s) does not exist, script will exit", p))
		}
	}

	// LocatingLog
	res.State = StateLocatingLog
	locator := logloc.NewLocator(s.fs, s.config.SystemLogDir, s.config.LogPath)
	loc, err := locator.Resolve(pair.Source, pair.Destination)
	if err != nil {
		return abort(1, err, fmt.Sprintf("cannot create log directory for %s, script will exit", loc.Path))
	}
	res.LogFile = loc.Path
	log.Debug("engine log located", "side", loc.Side.String(), "path", loc.Path)

	// Locking
	res.State = StateLocking
	pl := lock.New(lock.PathFor(s.lockDir, ident.StableID))
	if err := pl.TryAcquire(lock.NewLockInfo(ident, pair)); err != nil {
		if errors.Is(err, domain.ErrAlreadyLocked) {
			return abort(1, err, "another sync is already in progress, script will exit")
		}
		return abort(1, err, fmt.Sprintf("cannot lock %s, script will exit", pl.Path()))
	}
	defer func() {
		if err := pl.Release(); err != nil {
			log.Warn("failed to release lock", "path", pl.Path(), "error", err)
		}
	}()

	// Syncing
	res.State = StateSyncing
	if err := s.rotator.Rotate(loc.Path); err != nil {
		log.Debug("log rotation skipped", "path", loc.Path, "error", err)
	}

	syncStart := s.now()
	res.BackupDir = engine.JoinPath(pair.Destination, engine.BackupDirName(syncStart))
	args, err := engine.SyncArgs(s.syncOptions(pair, loc.Path, res.BackupDir))
	if err != nil {
		res.Err = err
		res.ExitCode = 1
		res.State = StateAborted
		out.Printf("invalid sync arguments: %v, script will exit", err)
		s.record(ident, pair, res)
		return res
	}
	log.Info("starting sync", "args", args)

	runErr := s.runner.Run(ctx, args, engine.WithStdout(out), engine.WithStderr(out))
	out.Flush()
	res.Duration = s.now().Sub(syncStart)

	if runErr != nil {
		res.Err = runErr
		res.ExitCode = engine.ExitCode(runErr)
		res.State = StateAborted
		out.Printf("sync failed with exit code %d", res.ExitCode)
		log.Warn("sync failed", "exit_code", res.ExitCode, "error", runErr)
		s.record(ident, pair, res)
		return res
	}

	// Reporting
	res.State = StateReporting
	if err := s.echoLog(loc.Path, out); err != nil {
		log.Warn("failed to echo engine log", "path", loc.Path, "error", err)
	}
	out.Printf("sync completed in %s", output.FormatDuration(res.Duration))

	res.State = StateDone
	s.record(ident, pair, res)
	return res
}

func (s *SyncService) syncOptions(pair domain.Pair, logFile, backupDir string) engine.SyncOptions {
	return engine.SyncOptions{
		Source:            pair.Source,
		Target:            engine.JoinPath(pair.Destination, engine.LatestDirName),
		ExcludeFile:       s.excludeFile(),
		ExcludeIfPresent:  s.config.ExcludeIfPresent,
		BackupDir:         backupDir,
		LogFile:           logFile,
		DeleteExcluded:    s.config.DeleteExcluded,
		BWLimit:           s.config.BWLimit,
		MinAge:            s.config.MinAge,
		Transfers:         s.config.Transfers,
		Checkers:          s.config.Checkers,
		ProviderTrashFlag: s.config.ProviderTrashFlag,
		IgnoreCase:        s.config.IgnoreCase,
		Extra:             s.config.ExtraArgs,
	}
}

// excludeFile returns the exclusion file to pass. A configured file is
// always passed; the default one only when it exists.
func (s *SyncService) excludeFile() string {
	path := s.config.ExcludeFile
	if path == "" || s.config.ExcludeFileExplicit {
		return path
	}
	if ok, err := afero.Exists(s.fs, path); err != nil || !ok {
		return ""
	}
	return path
}

func (s *SyncService) echoLog(path string, out *output.Formatter) error {
	f, err := s.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	if _, err := io.Copy(out, f); err != nil {
		return err
	}
	out.Flush()
	return nil
}

// record saves the run to history. Failures never change the outcome.
func (s *SyncService) record(ident domain.RunIdentity, pair domain.Pair, res *RunResult) {
	if s.history == nil {
		return
	}

	status := domain.RunSuccess
	errMsg := ""
	if res.ExitCode != 0 {
		status = domain.RunFailed
	}
	if res.Err != nil {
		errMsg = res.Err.Error()
	}

	_, err := s.history.SaveRun(state.RunRecord{
		StableID:    ident.StableID,
		RunID:       ident.RunID,
		Source:      pair.Source,
		Destination: pair.Destination,
		StartTime:   ident.StartTime,
		EndTime:     s.now(),
		Status:      status,
		ExitCode:    res.ExitCode,
		Error:       errMsg,
		BackupDir:   res.BackupDir,
		LogFile:     res.LogFile,
	})
	if err != nil {
		logger.Get().Warn("failed to record run", "run_id", ident.ShortRunID(), "error", err)
	}
}
