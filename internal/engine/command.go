package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Ning0612/rclonesync/internal/domain"
)

const (
	// DefaultRetries is one full retry: the harness runs periodically and
	// prefers failing fast to retrying for long inside one run
	DefaultRetries = 1
	// DefaultLowLevelRetries bounds per-operation retries
	DefaultLowLevelRetries = 2
	// DefaultLogLevel is the engine log verbosity
	DefaultLogLevel = "INFO"
)

// SyncOptions is the fully resolved option set for one engine invocation
type SyncOptions struct {
	Source string
	// Target is the mirror destination, normally <destination>/latest
	Target string

	// ExcludeFile is passed as --exclude-from when non-empty
	ExcludeFile      string
	ExcludeIfPresent string
	BackupDir        string
	LogFile          string
	LogLevel         string

	DeleteExcluded    bool
	BWLimit           string
	MinAge            string
	Transfers         int
	Checkers          int
	ProviderTrashFlag string
	IgnoreCase        bool

	Retries         int
	LowLevelRetries int

	// Extra is appended verbatim and last so it can override earlier flags
	Extra []string
}

// Command assembles an argument vector one typed element at a time.
// The vector is handed to a subprocess directly and never through a
// shell, so validation only has to reject what cannot be passed safely.
type Command struct {
	args []string
	err  error
}

// NewCommand starts a vector with an engine subcommand
func NewCommand(subcommand string) *Command {
	c := &Command{}
	if subcommand == "" || strings.HasPrefix(subcommand, "-") {
		c.err = fmt.Errorf("%w: bad subcommand %q", domain.ErrInvalidArgument, subcommand)
		return c
	}
	c.args = append(c.args, subcommand)
	return c
}

// Path appends a positional path. Local paths beginning with '-' are
// prefixed with "./" so the engine cannot mistake them for flags.
func (c *Command) Path(p string) *Command {
	if c.err != nil {
		return c
	}
	if err := checkToken(p); err != nil {
		c.err = fmt.Errorf("%w: path %q: %v", domain.ErrInvalidArgument, p, err)
		return c
	}
	if strings.HasPrefix(p, "-") && !IsRemote(p) {
		p = "./" + p
	}
	c.args = append(c.args, p)
	return c
}

// Flag appends a boolean long flag
func (c *Command) Flag(name string) *Command {
	if c.err != nil {
		return c
	}
	if err := checkFlagName(name); err != nil {
		c.err = err
		return c
	}
	c.args = append(c.args, name)
	return c
}

// FlagIf appends a boolean long flag when cond is true
func (c *Command) FlagIf(cond bool, name string) *Command {
	if !cond {
		return c
	}
	return c.Flag(name)
}

// Value appends a long flag followed by its value as a separate element
func (c *Command) Value(name, value string) *Command {
	if c.err != nil {
		return c
	}
	if err := checkFlagName(name); err != nil {
		c.err = err
		return c
	}
	if err := checkToken(value); err != nil {
		c.err = fmt.Errorf("%w: value of %s: %v", domain.ErrInvalidArgument, name, err)
		return c
	}
	c.args = append(c.args, name, value)
	return c
}

// ValueIf appends name and value when value is non-empty
func (c *Command) ValueIf(name, value string) *Command {
	if value == "" {
		return c
	}
	return c.Value(name, value)
}

// IntIf appends name and n when n is positive
func (c *Command) IntIf(name string, n int) *Command {
	if n <= 0 {
		return c
	}
	return c.Value(name, strconv.Itoa(n))
}

// Raw appends caller-supplied tokens verbatim
func (c *Command) Raw(tokens ...string) *Command {
	if c.err != nil {
		return c
	}
	for _, tok := range tokens {
		if strings.ContainsRune(tok, 0) {
			c.err = fmt.Errorf("%w: passthrough argument %q contains NUL", domain.ErrInvalidArgument, tok)
			return c
		}
	}
	c.args = append(c.args, tokens...)
	return c
}

// Args returns the assembled vector or the first validation error
func (c *Command) Args() ([]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make([]string, len(c.args))
	copy(out, c.args)
	return out, nil
}

func checkFlagName(name string) error {
	if !strings.HasPrefix(name, "--") || len(name) < 3 {
		return fmt.Errorf("%w: %q is not a long flag", domain.ErrInvalidArgument, name)
	}
	if strings.ContainsAny(name, " \t\n\x00") {
		return fmt.Errorf("%w: flag %q contains whitespace", domain.ErrInvalidArgument, name)
	}
	return nil
}

func checkToken(s string) error {
	if s == "" {
		return errors.New("empty")
	}
	if strings.ContainsRune(s, 0) {
		return errors.New("contains NUL")
	}
	if strings.ContainsAny(s, "\r\n") {
		return errors.New("contains a line break")
	}
	return nil
}

// SyncArgs builds the argument vector for "sync" from opts
func SyncArgs(opts SyncOptions) ([]string, error) {
	retries := opts.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}
	lowLevel := opts.LowLevelRetries
	if lowLevel <= 0 {
		lowLevel = DefaultLowLevelRetries
	}
	logLevel := opts.LogLevel
	if logLevel == "" {
		logLevel = DefaultLogLevel
	}

	c := NewCommand("sync").
		Path(opts.Source).
		Path(opts.Target).
		ValueIf("--exclude-from", opts.ExcludeFile).
		Value("--exclude-if-present", opts.ExcludeIfPresent).
		Value("--backup-dir", opts.BackupDir).
		FlagIf(opts.DeleteExcluded, "--delete-excluded").
		Value("--retries", strconv.Itoa(retries)).
		Value("--low-level-retries", strconv.Itoa(lowLevel)).
		ValueIf("--bwlimit", opts.BWLimit).
		ValueIf("--min-age", opts.MinAge).
		IntIf("--transfers", opts.Transfers).
		IntIf("--checkers", opts.Checkers)

	if opts.ProviderTrashFlag != "" {
		c = c.Raw(opts.ProviderTrashFlag)
	}

	c = c.FlagIf(opts.IgnoreCase, "--ignore-case").
		Value("--log-file", opts.LogFile).
		Value("--log-level", logLevel).
		Raw(opts.Extra...)

	return c.Args()
}

// ListArgs builds the argument vector that lists the directories at path
func ListArgs(path string) ([]string, error) {
	return NewCommand("lsd").Path(path).Args()
}
