package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Ning0612/rclonesync/internal/domain"
)

const (
	// DefaultExcludeFileName is looked up next to the executable
	DefaultExcludeFileName = "exclude.txt"
	// DefaultExcludeIfPresent marks directories the engine skips entirely
	DefaultExcludeIfPresent = ".rcloneignore"
	// DefaultSystemLogDir holds engine logs when neither side is local
	DefaultSystemLogDir = "/var/log/rclone"
	// DefaultRcloneBinary is resolved through PATH
	DefaultRcloneBinary = "rclone"
	// DefaultLogMaxSizeMB is the engine log size that triggers rotation
	DefaultLogMaxSizeMB = 10
	// DefaultLogMaxBackups is how many rotated engine logs are kept
	DefaultLogMaxBackups = 5
)

// Config is resolved once at startup and passed to every component.
// Components never read the environment themselves.
type Config struct {
	// Source and Destination are the pair being synced
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`

	// ExtraArgs are appended verbatim after every generated flag
	ExtraArgs []string `yaml:"extra_args,omitempty"`

	// ExcludeFile is the newline-delimited exclusion pattern file
	ExcludeFile string `yaml:"exclude_file"`
	// ExcludeFileExplicit is true when ExcludeFile came from configuration
	// rather than the built-in default
	ExcludeFileExplicit bool `yaml:"exclude_file_explicit"`

	// ExcludeIfPresent is the marker file name that skips a directory
	ExcludeIfPresent string `yaml:"exclude_if_present"`

	// LogPath replaces the computed engine log directory when set
	LogPath string `yaml:"log_path,omitempty"`
	// SystemLogDir is used when neither side of the pair is local
	SystemLogDir string `yaml:"system_log_dir"`

	// Engine tuning, passed as flags only when set
	BWLimit           string `yaml:"bwlimit,omitempty"`
	MinAge            string `yaml:"min_age,omitempty"`
	Transfers         int    `yaml:"transfers,omitempty"`
	Checkers          int    `yaml:"checkers,omitempty"`
	DeleteExcluded    bool   `yaml:"delete_excluded"`
	ProviderTrashFlag string `yaml:"provider_trash_flag,omitempty"`
	IgnoreCase        bool   `yaml:"ignore_case"`

	// RcloneBinary is the sync engine executable
	RcloneBinary string `yaml:"rclone_binary"`

	// StateDir holds the run history database
	StateDir string `yaml:"state_dir"`

	// Engine log rotation thresholds
	LogMaxSizeMB  int `yaml:"log_max_size_mb"`
	LogMaxBackups int `yaml:"log_max_backups"`

	// LogLevel controls diagnostic logging on stderr
	LogLevel string `yaml:"log_level"`
}

// Pair returns the (source, destination) pair of this configuration
func (c *Config) Pair() domain.Pair {
	return domain.Pair{Source: c.Source, Destination: c.Destination}
}

// Validate checks if the configuration is complete and consistent
func (c *Config) Validate() error {
	if err := c.validatePair(); err != nil {
		return err
	}
	return c.ValidateSettings()
}

func (c *Config) validatePair() error {
	if c.Source == "" {
		return fmt.Errorf("%w: source path cannot be empty", domain.ErrConfigInvalid)
	}
	if c.Destination == "" {
		return fmt.Errorf("%w: destination path cannot be empty", domain.ErrConfigInvalid)
	}
	if c.Source == c.Destination {
		return fmt.Errorf("%w: source and destination cannot be the same", domain.ErrConfigInvalid)
	}
	return nil
}

// ValidateSettings checks everything except the pair, for commands that
// only read state
func (c *Config) ValidateSettings() error {
	if c.ExcludeIfPresent == "" {
		return fmt.Errorf("%w: EXCLUDE_IF_PRESENT cannot be empty", domain.ErrConfigInvalid)
	}
	if strings.ContainsAny(c.ExcludeIfPresent, `/\`) {
		return fmt.Errorf("%w: EXCLUDE_IF_PRESENT must be a file name, got %q", domain.ErrConfigInvalid, c.ExcludeIfPresent)
	}
	if c.Transfers < 0 {
		return fmt.Errorf("%w: TRANSFERS must not be negative, got %d", domain.ErrConfigInvalid, c.Transfers)
	}
	if c.Checkers < 0 {
		return fmt.Errorf("%w: CHECKERS must not be negative, got %d", domain.ErrConfigInvalid, c.Checkers)
	}
	if c.ProviderTrashFlag != "" && !strings.HasPrefix(c.ProviderTrashFlag, "--") {
		return fmt.Errorf("%w: PROVIDER_TRASH_FLAG must be a long flag, got %q", domain.ErrConfigInvalid, c.ProviderTrashFlag)
	}
	if c.RcloneBinary == "" {
		return fmt.Errorf("%w: RCLONE_BINARY cannot be empty", domain.ErrConfigInvalid)
	}
	if c.LogMaxSizeMB <= 0 {
		return fmt.Errorf("%w: LOG_MAX_SIZE_MB must be positive, got %d", domain.ErrConfigInvalid, c.LogMaxSizeMB)
	}
	if c.LogMaxBackups < 0 {
		return fmt.Errorf("%w: LOG_MAX_BACKUPS must not be negative, got %d", domain.ErrConfigInvalid, c.LogMaxBackups)
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	// Expand ~ to home directory
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
				path = filepath.Join(home, path[2:])
			} else if len(path) == 1 {
				path = home
			}
		}
	}
	// Expand environment variables
	path = os.ExpandEnv(path)
	return filepath.Clean(path)
}
