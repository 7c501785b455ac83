package service

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/rclonesync/internal/config"
	"github.com/Ning0612/rclonesync/internal/domain"
	"github.com/Ning0612/rclonesync/internal/engine"
	"github.com/Ning0612/rclonesync/internal/engine/enginetest"
	"github.com/Ning0612/rclonesync/internal/lock"
	"github.com/Ning0612/rclonesync/internal/state"
	"github.com/Ning0612/rclonesync/internal/testutil"
)

var (
	lineFormat   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z \| [0-9a-f]{7} \| .+$`)
	backupFormat = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{6}Z$`)
)

// tickingClock returns a time source that advances one second per call
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(time.Second)
		return t
	}
}

func testConfig(t *testing.T, source, destination string) *config.Config {
	t.Helper()
	return &config.Config{
		Source:           source,
		Destination:      destination,
		ExcludeFile:      filepath.Join(t.TempDir(), config.DefaultExcludeFileName),
		ExcludeIfPresent: config.DefaultExcludeIfPresent,
		SystemLogDir:     t.TempDir(),
		RcloneBinary:     config.DefaultRcloneBinary,
		LogMaxSizeMB:     config.DefaultLogMaxSizeMB,
		LogMaxBackups:    config.DefaultLogMaxBackups,
		LogLevel:         "warn",
	}
}

type fixture struct {
	src, dst string
	lockDir  string
	engine   *enginetest.Engine
	stdout   *bytes.Buffer
	cfg      *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		src:     t.TempDir(),
		dst:     t.TempDir(),
		lockDir: t.TempDir(),
		engine:  enginetest.New(nil),
		stdout:  &bytes.Buffer{},
	}
	testutil.CreateTestFile(t, f.src, "a.txt", []byte("alpha"))
	testutil.CreateTestFile(t, f.src, "b.txt", []byte("bravo"))
	f.cfg = testConfig(t, f.src, f.dst)
	return f
}

func (f *fixture) service(t *testing.T, deps Deps) *SyncService {
	t.Helper()
	if deps.Runner == nil {
		deps.Runner = f.engine
	}
	if deps.Stdout == nil {
		deps.Stdout = f.stdout
	}
	if deps.LockDir == "" {
		deps.LockDir = f.lockDir
	}
	if deps.Now == nil {
		deps.Now = tickingClock(time.Date(2026, 10, 16, 8, 9, 10, 0, time.UTC))
	}
	svc, err := NewSyncService(f.cfg, deps)
	require.NoError(t, err)
	return svc
}

func outputLines(buf *bytes.Buffer) []string {
	text := strings.TrimRight(buf.String(), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []state.RunRecord
	err     error
}

func (m *memoryRecorder) SaveRun(rec state.RunRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.records = append(m.records, rec)
	return int64(len(m.records)), nil
}

func TestNewSyncService_Invalid(t *testing.T) {
	_, err := NewSyncService(nil, Deps{})
	assert.Error(t, err)

	_, err = NewSyncService(&config.Config{Source: "/a"}, Deps{})
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, Deps{})

	res := svc.Run(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, StateDone, res.State)

	// latest mirrors the source
	assert.Equal(t, "alpha", testutil.ReadFile(t, filepath.Join(f.dst, "latest", "a.txt")))
	assert.Equal(t, "bravo", testutil.ReadFile(t, filepath.Join(f.dst, "latest", "b.txt")))

	// Source is local so the log sits beside it
	assert.Equal(t, filepath.Join(f.src, ".rclone", "rclone.log"), res.LogFile)
	assert.Contains(t, testutil.ReadFile(t, res.LogFile), "a.txt: Copied (new)")

	assert.True(t, backupFormat.MatchString(filepath.Base(res.BackupDir)), res.BackupDir)
	assert.Equal(t, f.dst, filepath.Dir(res.BackupDir))

	lines := outputLines(f.stdout)
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Regexp(t, lineFormat, line)
	}
	// The engine log is echoed before the completion line
	assert.Contains(t, f.stdout.String(), "a.txt: Copied (new)")
	assert.Regexp(t, `\| sync completed in \d+s$`, lines[len(lines)-1])

	// One short run id on every line
	short := res.Identity.ShortRunID()
	for _, line := range lines {
		assert.Contains(t, line, " | "+short+" | ")
	}
}

func TestRun_BackupDirReceivesReplacedFiles(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, Deps{})

	first := svc.Run(context.Background())
	require.Equal(t, 0, first.ExitCode)

	testutil.CreateTestFile(t, f.src, "a.txt", []byte("alpha v2"))
	require.NoError(t, os.Remove(filepath.Join(f.src, "b.txt")))

	second := svc.Run(context.Background())
	require.Equal(t, 0, second.ExitCode)
	assert.NotEqual(t, first.BackupDir, second.BackupDir)
	assert.NotEqual(t, first.Identity.RunID, second.Identity.RunID)
	assert.Equal(t, first.Identity.StableID, second.Identity.StableID)

	assert.Equal(t, "alpha v2", testutil.ReadFile(t, filepath.Join(f.dst, "latest", "a.txt")))
	assert.Equal(t, "alpha", testutil.ReadFile(t, filepath.Join(second.BackupDir, "a.txt")))
	assert.Equal(t, "bravo", testutil.ReadFile(t, filepath.Join(second.BackupDir, "b.txt")))
	assert.NoFileExists(t, filepath.Join(f.dst, "latest", "b.txt"))

	entries, err := os.ReadDir(f.dst)
	require.NoError(t, err)
	var backups int
	for _, e := range entries {
		if backupFormat.MatchString(e.Name()) {
			backups++
		}
	}
	assert.GreaterOrEqual(t, backups, 1)
}

func TestRun_MissingSource(t *testing.T) {
	f := newFixture(t)
	missing := filepath.Join(f.src, "does-not-exist")
	f.cfg.Source = missing
	svc := f.service(t, Deps{})

	res := svc.Run(context.Background())
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, StateAborted, res.State)
	assert.ErrorIs(t, res.Err, domain.ErrPathUnreachable)

	lines := outputLines(f.stdout)
	require.Len(t, lines, 1)
	assert.Regexp(t, lineFormat, lines[0])
	assert.Contains(t, lines[0], "input path ("+missing+") does not exist, script will exit")

	// No side effects: no engine sync, no lock file, no log directory
	assert.Empty(t, f.engine.CallsTo("sync"))
	assert.NoFileExists(t, lock.PathFor(f.lockDir, res.Identity.StableID))
	assert.NoDirExists(t, filepath.Join(f.dst, ".rclone"))
	assert.NoDirExists(t, filepath.Join(f.src, ".rclone"))
}

func TestRun_MissingDestination(t *testing.T) {
	f := newFixture(t)
	f.cfg.Destination = "gdrive:backup"
	svc := f.service(t, Deps{})

	res := svc.Run(context.Background())
	assert.Equal(t, 1, res.ExitCode)
	assert.ErrorIs(t, res.Err, domain.ErrPathUnreachable)
	assert.Len(t, f.engine.CallsTo("lsd"), 2)
	assert.Empty(t, f.engine.CallsTo("sync"))
}

func TestRun_AlreadyLocked(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, Deps{})

	held := lock.New(svc.LockPath())
	require.NoError(t, held.TryAcquire(lock.LockInfo{PID: os.Getpid()}))
	defer held.Release()

	res := svc.Run(context.Background())
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, StateAborted, res.State)
	assert.ErrorIs(t, res.Err, domain.ErrAlreadyLocked)
	assert.Empty(t, f.engine.CallsTo("sync"))

	lines := outputLines(f.stdout)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "another sync is already in progress, script will exit")
}

func TestRun_ConcurrentRunsSamePair(t *testing.T) {
	f := newFixture(t)

	entered := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	f.engine.BeforeSync = func(ctx context.Context, args []string) {
		once.Do(func() {
			close(entered)
			<-proceed
		})
	}

	first := f.service(t, Deps{})
	done := make(chan *RunResult, 1)
	go func() { done <- first.Run(context.Background()) }()

	<-entered
	secondOut := &bytes.Buffer{}
	second := f.service(t, Deps{Stdout: secondOut})
	res := second.Run(context.Background())
	close(proceed)

	assert.Equal(t, 1, res.ExitCode)
	assert.ErrorIs(t, res.Err, domain.ErrAlreadyLocked)
	assert.Len(t, f.engine.CallsTo("sync"), 1)

	firstRes := <-done
	assert.Equal(t, 0, firstRes.ExitCode)

	// The lock is free again once the first run is done
	status, err := lock.Probe(first.LockPath())
	require.NoError(t, err)
	assert.False(t, status.Locked)
}

func TestRun_DifferentPairsDoNotContend(t *testing.T) {
	f := newFixture(t)
	other := t.TempDir()

	entered := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	f.engine.BeforeSync = func(ctx context.Context, args []string) {
		once.Do(func() {
			close(entered)
			<-proceed
		})
	}

	first := f.service(t, Deps{})
	done := make(chan *RunResult, 1)
	go func() { done <- first.Run(context.Background()) }()
	<-entered

	cfg := testConfig(t, f.src, other)
	otherEngine := enginetest.New(nil)
	second, err := NewSyncService(cfg, Deps{Runner: otherEngine, Stdout: &bytes.Buffer{}, LockDir: f.lockDir})
	require.NoError(t, err)
	res := second.Run(context.Background())
	close(proceed)

	assert.Equal(t, 0, res.ExitCode)
	assert.Len(t, otherEngine.CallsTo("sync"), 1)
	assert.Equal(t, 0, (<-done).ExitCode)
}

func TestRun_EngineFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.engine.SyncExitCode = 7
	recorder := &memoryRecorder{}
	svc := f.service(t, Deps{History: recorder})

	res := svc.Run(context.Background())
	assert.Equal(t, 7, res.ExitCode)
	assert.ErrorIs(t, res.Err, domain.ErrEngineFailed)
	assert.NotContains(t, f.stdout.String(), "sync completed")

	failures := 0
	for _, line := range outputLines(f.stdout) {
		assert.Regexp(t, lineFormat, line)
		if strings.Contains(line, "sync failed with exit code 7") {
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	require.Len(t, recorder.records, 1)
	assert.Equal(t, domain.RunFailed, recorder.records[0].Status)
	assert.Equal(t, 7, recorder.records[0].ExitCode)

	// Lock released after failure
	status, err := lock.Probe(svc.LockPath())
	require.NoError(t, err)
	assert.False(t, status.Locked)
}

func TestRun_EngineMissing(t *testing.T) {
	f := newFixture(t)
	runner := &failingSyncRunner{inner: f.engine, binary: engine.NewExecRunner(filepath.Join(t.TempDir(), "no-such-rclone"))}
	svc := f.service(t, Deps{Runner: runner})

	res := svc.Run(context.Background())
	assert.Equal(t, 1, res.ExitCode)
	assert.ErrorIs(t, res.Err, domain.ErrEngineFailed)
}

// failingSyncRunner validates paths with the fake and runs "sync" with a
// real runner whose binary does not exist
type failingSyncRunner struct {
	inner  engine.Runner
	binary engine.Runner
}

func (r *failingSyncRunner) Run(ctx context.Context, args []string, opts ...engine.Option) error {
	if len(args) > 0 && args[0] == "sync" {
		return r.binary.Run(ctx, args, opts...)
	}
	return r.inner.Run(ctx, args, opts...)
}

func TestRun_RecordsHistory(t *testing.T) {
	f := newFixture(t)
	store, err := state.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	svc := f.service(t, Deps{History: store})
	res := svc.Run(context.Background())
	require.Equal(t, 0, res.ExitCode)

	last, err := store.LastSuccess(res.Identity.StableID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, res.Identity.RunID, last.RunID)
	assert.Equal(t, res.BackupDir, last.BackupDir)
	assert.Equal(t, res.LogFile, last.LogFile)
}

func TestRun_HistoryFailureDoesNotChangeOutcome(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, Deps{History: &memoryRecorder{err: assert.AnError}})

	res := svc.Run(context.Background())
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, StateDone, res.State)
}

func TestRun_NotRecordedBeforeLock(t *testing.T) {
	f := newFixture(t)
	f.cfg.Source = filepath.Join(f.src, "missing")
	recorder := &memoryRecorder{}
	svc := f.service(t, Deps{History: recorder})

	res := svc.Run(context.Background())
	assert.Equal(t, 1, res.ExitCode)
	assert.Empty(t, recorder.records)
}

type failingRotator struct{ calls int }

func (r *failingRotator) Rotate(path string) error {
	r.calls++
	return domain.ErrLogRotation
}

func TestRun_RotationFailureIgnored(t *testing.T) {
	f := newFixture(t)
	rotator := &failingRotator{}
	svc := f.service(t, Deps{Rotator: rotator})

	res := svc.Run(context.Background())
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, 1, rotator.calls)
	assert.NotContains(t, f.stdout.String(), "rotation")
}

func TestRun_SyncArgs(t *testing.T) {
	f := newFixture(t)
	testutil.CreateTestFile(t, filepath.Dir(f.cfg.ExcludeFile), config.DefaultExcludeFileName, []byte("*.tmp\n"))
	f.cfg.BWLimit = "08:00,512k 19:00,off"
	f.cfg.Transfers = 2
	f.cfg.ExtraArgs = []string{"--dry-run"}
	svc := f.service(t, Deps{})

	res := svc.Run(context.Background())
	require.Equal(t, 0, res.ExitCode)

	calls := f.engine.CallsTo("sync")
	require.Len(t, calls, 1)
	args := calls[0]

	assert.Equal(t, []string{"sync", f.src, f.dst + "/latest"}, args[:3])
	assert.Equal(t, "--dry-run", args[len(args)-1])
	assert.Contains(t, strings.Join(args, " "), "--exclude-from "+f.cfg.ExcludeFile)
	assert.Contains(t, strings.Join(args, " "), "--backup-dir "+res.BackupDir)
	assert.Contains(t, strings.Join(args, " "), "--log-file "+res.LogFile)
	assert.Contains(t, args, "08:00,512k 19:00,off")
}

func TestRun_DefaultExcludeFileSkippedWhenMissing(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, Deps{})

	require.Equal(t, 0, svc.Run(context.Background()).ExitCode)
	assert.NotContains(t, f.engine.CallsTo("sync")[0], "--exclude-from")
}

func TestExcludeFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/opt/exclude.txt", []byte("*.tmp\n"), 0644))

	tests := []struct {
		name     string
		path     string
		explicit bool
		want     string
	}{
		{"default present", "/opt/exclude.txt", false, "/opt/exclude.txt"},
		{"default missing", "/opt/missing.txt", false, ""},
		{"explicit missing is still passed", "/opt/missing.txt", true, "/opt/missing.txt"},
		{"none", "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &SyncService{
				config: &config.Config{ExcludeFile: tt.path, ExcludeFileExplicit: tt.explicit},
				fs:     fs,
			}
			assert.Equal(t, tt.want, svc.excludeFile())
		})
	}
}

func TestRun_LogPathOverride(t *testing.T) {
	f := newFixture(t)
	logDir := filepath.Join(t.TempDir(), "logs")
	f.cfg.LogPath = logDir
	svc := f.service(t, Deps{})

	res := svc.Run(context.Background())
	require.Equal(t, 0, res.ExitCode)
	assert.Equal(t, filepath.Join(logDir, "rclone.log"), res.LogFile)
	assert.FileExists(t, res.LogFile)
	assert.NoDirExists(t, filepath.Join(f.src, ".rclone"))
}

func TestRun_CanceledContext(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := svc.Run(ctx)
	assert.Equal(t, 1, res.ExitCode)
	assert.Empty(t, f.engine.CallsTo("sync"))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "validating", StateValidating.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "aborted", StateAborted.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestRun_RealRclone(t *testing.T) {
	binary, err := exec.LookPath("rclone")
	if err != nil {
		t.Skip("rclone not installed")
	}

	f := newFixture(t)
	f.cfg.RcloneBinary = binary
	svc, err := NewSyncService(f.cfg, Deps{Stdout: f.stdout, LockDir: f.lockDir})
	require.NoError(t, err)

	res := svc.Run(context.Background())
	require.Equal(t, 0, res.ExitCode, f.stdout.String())
	assert.Equal(t, "alpha", testutil.ReadFile(t, filepath.Join(f.dst, "latest", "a.txt")))
	for _, line := range outputLines(f.stdout) {
		assert.Regexp(t, lineFormat, line)
	}
}
