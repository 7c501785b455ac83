// Package enginetest provides an in-process stand-in for the sync engine.
// It understands the "lsd" and "sync" invocations built by package engine
// and applies them to local paths on an afero filesystem.
package enginetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/Ning0612/rclonesync/internal/engine"
)

// Exit codes used by the fake, matching the engine's documented codes
const (
	ExitDirNotFound = 3
	ExitUsage       = 2
)

var valueFlags = map[string]bool{
	"--exclude-from":       true,
	"--exclude-if-present": true,
	"--backup-dir":         true,
	"--retries":            true,
	"--low-level-retries":  true,
	"--bwlimit":            true,
	"--min-age":            true,
	"--transfers":          true,
	"--checkers":           true,
	"--log-file":           true,
	"--log-level":          true,
}

// Engine records every invocation and simulates its effect
type Engine struct {
	Fs afero.Fs

	// Remotes lists remote names that "lsd" reports as reachable
	Remotes map[string]bool
	// SyncExitCode makes "sync" fail with this code after logging
	SyncExitCode int
	// BeforeSync runs at the start of every "sync", e.g. to block
	BeforeSync func(ctx context.Context, args []string)

	mu    sync.Mutex
	calls [][]string
}

// New creates a fake engine on fs. A nil fs means the OS filesystem.
func New(fs afero.Fs) *Engine {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Engine{Fs: fs, Remotes: make(map[string]bool)}
}

// Calls returns a copy of all recorded argument vectors
func (e *Engine) Calls() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([][]string, len(e.calls))
	for i, c := range e.calls {
		out[i] = append([]string(nil), c...)
	}
	return out
}

// CallsTo returns the recorded vectors for one subcommand
func (e *Engine) CallsTo(subcommand string) [][]string {
	var out [][]string
	for _, c := range e.Calls() {
		if len(c) > 0 && c[0] == subcommand {
			out = append(out, c)
		}
	}
	return out
}

// Run implements engine.Runner
func (e *Engine) Run(ctx context.Context, args []string, opts ...engine.Option) error {
	e.mu.Lock()
	e.calls = append(e.calls, append([]string(nil), args...))
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &engine.ExitError{Args: args, Code: 1, Err: err}
	}
	if len(args) == 0 {
		return usage(args, "no subcommand")
	}

	o := engine.ApplyOptions(opts...)

	switch args[0] {
	case "lsd":
		if len(args) != 2 {
			return usage(args, "lsd takes one path")
		}
		return e.list(args, args[1], o)
	case "sync":
		return e.sync(ctx, args)
	default:
		return usage(args, "unknown subcommand "+args[0])
	}
}

func usage(args []string, msg string) error {
	return &engine.ExitError{Args: args, Code: ExitUsage, Err: errors.New(msg)}
}

func (e *Engine) list(args []string, path string, o *engine.RunOptions) error {
	if engine.IsRemote(path) {
		if e.Remotes[engine.RemoteLabel(path)] {
			return nil
		}
		return &engine.ExitError{Args: args, Code: 1, Err: fmt.Errorf("didn't find section in config file")}
	}

	entries, err := afero.ReadDir(e.Fs, path)
	if err != nil {
		return &engine.ExitError{Args: args, Code: ExitDirNotFound, Err: fmt.Errorf("directory not found: %s", path)}
	}
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(o.Stdout, "%12d %s %9d %s\n", -1, entry.ModTime().Format("2006-01-02 15:04:05"), -1, entry.Name())
		}
	}
	return nil
}

type syncRequest struct {
	source, target   string
	backupDir        string
	logFile          string
	excludeIfPresent string
	excludePatterns  []string
	deleteExcluded   bool
}

func (e *Engine) parseSync(args []string) (*syncRequest, error) {
	req := &syncRequest{}
	var positional []string

	for i := 1; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			positional = append(positional, arg)
			continue
		}
		name, value, hasValue := strings.Cut(arg, "=")
		if valueFlags[name] && !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("flag %s needs a value", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--backup-dir":
			req.backupDir = value
		case "--log-file":
			req.logFile = value
		case "--exclude-if-present":
			req.excludeIfPresent = value
		case "--delete-excluded":
			req.deleteExcluded = true
		case "--exclude-from":
			data, err := afero.ReadFile(e.Fs, value)
			if err != nil {
				return nil, fmt.Errorf("failed to read exclude file: %w", err)
			}
			for _, line := range strings.Split(string(data), "\n") {
				line = strings.TrimSpace(line)
				if line != "" && !strings.HasPrefix(line, "#") {
					req.excludePatterns = append(req.excludePatterns, line)
				}
			}
		}
	}

	if len(positional) != 2 {
		return nil, fmt.Errorf("sync takes two paths, got %d", len(positional))
	}
	req.source, req.target = positional[0], positional[1]
	if engine.IsRemote(req.source) || engine.IsRemote(req.target) {
		return nil, fmt.Errorf("fake engine only syncs local paths")
	}
	return req, nil
}

func (e *Engine) sync(ctx context.Context, args []string) error {
	if e.BeforeSync != nil {
		e.BeforeSync(ctx, args)
	}

	req, err := e.parseSync(args)
	if err != nil {
		return usage(args, err.Error())
	}

	log := &logWriter{fs: e.Fs, path: req.logFile}
	if err := log.open(); err != nil {
		return &engine.ExitError{Args: args, Code: 1, Err: err}
	}
	defer log.close()

	if e.SyncExitCode != 0 {
		log.printf("ERROR", "Attempt 1/1 failed with 1 errors")
		return &engine.ExitError{Args: args, Code: e.SyncExitCode, Err: errors.New("sync failed")}
	}

	changed, err := e.apply(ctx, req, log)
	if err != nil {
		log.printf("ERROR", "%v", err)
		return &engine.ExitError{Args: args, Code: 1, Err: err}
	}
	if changed == 0 {
		log.printf("INFO", "There was nothing to transfer")
	}
	return nil
}

func (e *Engine) apply(ctx context.Context, req *syncRequest, log *logWriter) (int, error) {
	sourceFiles, excludedDirs, err := e.scan(req)
	if err != nil {
		return 0, err
	}

	if err := e.Fs.MkdirAll(req.target, 0755); err != nil {
		return 0, err
	}
	changed := 0

	rels := make([]string, 0, len(sourceFiles))
	for rel := range sourceFiles {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	for _, rel := range rels {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		data := sourceFiles[rel]
		dst := filepath.Join(req.target, rel)

		existing, readErr := afero.ReadFile(e.Fs, dst)
		switch {
		case readErr == nil && bytes.Equal(existing, data):
			continue
		case readErr == nil:
			if err := e.moveToBackup(req, rel); err != nil {
				return changed, err
			}
			log.printf("INFO", "%s: Moved into backup dir", rel)
			log.printf("INFO", "%s: Copied (replaced existing)", rel)
		default:
			log.printf("INFO", "%s: Copied (new)", rel)
		}

		if err := e.Fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return changed, err
		}
		if err := afero.WriteFile(e.Fs, dst, data, 0644); err != nil {
			return changed, err
		}
		changed++
	}

	// Files only present at the target are moved aside, not deleted
	var stale []string
	err = afero.Walk(e.Fs, req.target, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(req.target, path)
		if _, ok := sourceFiles[rel]; ok {
			return nil
		}
		if !req.deleteExcluded && underAny(rel, excludedDirs) {
			return nil
		}
		stale = append(stale, rel)
		return nil
	})
	if err != nil {
		return changed, err
	}
	for _, rel := range stale {
		if err := e.moveToBackup(req, rel); err != nil {
			return changed, err
		}
		log.printf("INFO", "%s: Moved into backup dir", rel)
		changed++
	}
	return changed, nil
}

// scan reads all source files that survive the exclusion rules
func (e *Engine) scan(req *syncRequest) (map[string][]byte, []string, error) {
	files := make(map[string][]byte)
	var excludedDirs []string

	err := afero.Walk(e.Fs, req.source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(req.source, path)
		if info.IsDir() {
			if req.excludeIfPresent != "" {
				if ok, _ := afero.Exists(e.Fs, filepath.Join(path, req.excludeIfPresent)); ok {
					excludedDirs = append(excludedDirs, rel)
					return filepath.SkipDir
				}
			}
			return nil
		}
		if matchesAny(info.Name(), req.excludePatterns) {
			return nil
		}
		data, err := afero.ReadFile(e.Fs, path)
		if err != nil {
			return err
		}
		files[rel] = data
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read source: %w", err)
	}
	return files, excludedDirs, nil
}

func (e *Engine) moveToBackup(req *syncRequest, rel string) error {
	if req.backupDir == "" {
		return e.Fs.Remove(filepath.Join(req.target, rel))
	}
	dst := filepath.Join(req.backupDir, rel)
	if err := e.Fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return e.Fs.Rename(filepath.Join(req.target, rel), dst)
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

func underAny(rel string, dirs []string) bool {
	for _, d := range dirs {
		if d == "." || rel == d || strings.HasPrefix(rel, d+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// logWriter appends engine-style lines to the log file, if one was given
type logWriter struct {
	fs   afero.Fs
	path string
	f    afero.File
}

// open creates the log file up front like the engine does
func (l *logWriter) open() error {
	if l.path == "" {
		return nil
	}
	f, err := l.fs.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	l.f = f
	return nil
}

func (l *logWriter) printf(level, format string, args ...any) {
	if l.f == nil {
		return
	}
	fmt.Fprintf(l.f, "%s %-5s : %s\n", time.Now().Format("2006/01/02 15:04:05"), level, fmt.Sprintf(format, args...))
}

func (l *logWriter) close() {
	if l.f != nil {
		l.f.Close()
	}
}
