package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/Ning0612/rclonesync/internal/domain"
)

// Configuration keys. Each key is read from the environment variable of
// the same name in upper case.
const (
	KeyExcludeFile       = "exclude_file"
	KeyExcludeIfPresent  = "exclude_if_present"
	KeyLogPath           = "log_path"
	KeySystemLogDir      = "system_log_dir"
	KeyBWLimit           = "bwlimit"
	KeyMinAge            = "min_age"
	KeyTransfers         = "transfers"
	KeyCheckers          = "checkers"
	KeyDeleteExcluded    = "delete_excluded"
	KeyProviderTrashFlag = "provider_trash_flag"
	KeyIgnoreCase        = "ignore_case"
	KeyRcloneBinary      = "rclone_binary"
	KeyStateDir          = "state_dir"
	KeyLogMaxSizeMB      = "log_max_size_mb"
	KeyLogMaxBackups     = "log_max_backups"
	KeyLogLevel          = "rclonesync_log_level"
)

var allKeys = []string{
	KeyExcludeFile, KeyExcludeIfPresent, KeyLogPath, KeySystemLogDir,
	KeyBWLimit, KeyMinAge, KeyTransfers, KeyCheckers, KeyDeleteExcluded,
	KeyProviderTrashFlag, KeyIgnoreCase, KeyRcloneBinary, KeyStateDir,
	KeyLogMaxSizeMB, KeyLogMaxBackups, KeyLogLevel,
}

// LoadOptions controls where configuration is read from
type LoadOptions struct {
	// Source, Destination and ExtraArgs come from the command line
	Source      string
	Destination string
	ExtraArgs   []string

	// EnvFile is an optional dotenv file layered beneath the environment
	EnvFile string

	// ConfigFile is an optional YAML file layered beneath the environment
	ConfigFile string

	// ExecutableDir locates the default exclude file (empty = os.Executable)
	ExecutableDir string

	// SettingsOnly skips pair validation, for commands that do not sync
	SettingsOnly bool
}

// DefaultStateDir returns the default directory for the run history database
func DefaultStateDir() string {
	if configDir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(configDir, "rclonesync")
	}
	return filepath.Join(os.TempDir(), "rclonesync")
}

// Load builds a Config from built-in defaults, the optional env file, the
// optional config file and the process environment, in increasing order
// of precedence.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	v.SetDefault(KeyExcludeIfPresent, DefaultExcludeIfPresent)
	v.SetDefault(KeySystemLogDir, DefaultSystemLogDir)
	v.SetDefault(KeyRcloneBinary, DefaultRcloneBinary)
	v.SetDefault(KeyStateDir, DefaultStateDir())
	v.SetDefault(KeyLogMaxSizeMB, DefaultLogMaxSizeMB)
	v.SetDefault(KeyLogMaxBackups, DefaultLogMaxBackups)
	v.SetDefault(KeyLogLevel, "warn")

	explicitExclude := false
	if opts.EnvFile != "" {
		values, err := godotenv.Read(opts.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("%w: env file %s: %v", domain.ErrConfigInvalid, opts.EnvFile, err)
		}
		for key, value := range values {
			key = strings.ToLower(key)
			v.SetDefault(key, value)
			if key == KeyExcludeFile && value != "" {
				explicitExclude = true
			}
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
		}
	}

	for _, key := range allKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("%w: bind %s: %v", domain.ErrConfigInvalid, key, err)
		}
	}

	cfg := &Config{
		Source:            opts.Source,
		Destination:       opts.Destination,
		ExtraArgs:         opts.ExtraArgs,
		ExcludeFile:       ExpandPath(v.GetString(KeyExcludeFile)),
		ExcludeIfPresent:  v.GetString(KeyExcludeIfPresent),
		LogPath:           ExpandPath(v.GetString(KeyLogPath)),
		SystemLogDir:      ExpandPath(v.GetString(KeySystemLogDir)),
		BWLimit:           strings.TrimSpace(v.GetString(KeyBWLimit)),
		MinAge:            strings.TrimSpace(v.GetString(KeyMinAge)),
		ProviderTrashFlag: strings.TrimSpace(v.GetString(KeyProviderTrashFlag)),
		RcloneBinary:      v.GetString(KeyRcloneBinary),
		StateDir:          ExpandPath(v.GetString(KeyStateDir)),
		LogLevel:          v.GetString(KeyLogLevel),
	}

	var err error
	if cfg.Transfers, err = intValue(v, KeyTransfers); err != nil {
		return nil, err
	}
	if cfg.Checkers, err = intValue(v, KeyCheckers); err != nil {
		return nil, err
	}
	if cfg.LogMaxSizeMB, err = intValue(v, KeyLogMaxSizeMB); err != nil {
		return nil, err
	}
	if cfg.LogMaxBackups, err = intValue(v, KeyLogMaxBackups); err != nil {
		return nil, err
	}
	if cfg.DeleteExcluded, err = boolValue(v, KeyDeleteExcluded); err != nil {
		return nil, err
	}
	if cfg.IgnoreCase, err = boolValue(v, KeyIgnoreCase); err != nil {
		return nil, err
	}

	if cfg.ExcludeFile != "" {
		cfg.ExcludeFileExplicit = explicitExclude || v.InConfig(KeyExcludeFile) || envSet(KeyExcludeFile)
	} else {
		cfg.ExcludeFile = defaultExcludeFile(opts.ExecutableDir)
	}

	validate := cfg.Validate
	if opts.SettingsOnly {
		validate = cfg.ValidateSettings
	}
	if err := validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// intValue parses key strictly; an unset key is zero
func intValue(v *viper.Viper, key string) (int, error) {
	raw := v.Get(key)
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		raw = s
	}
	if raw == nil {
		return 0, nil
	}
	n, err := cast.ToIntE(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %v", domain.ErrConfigInvalid, strings.ToUpper(key), raw)
	}
	return n, nil
}

// boolValue parses key strictly; an unset key is false
func boolValue(v *viper.Viper, key string) (bool, error) {
	raw := v.Get(key)
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return false, nil
		}
		raw = s
	}
	if raw == nil {
		return false, nil
	}
	b, err := cast.ToBoolE(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean, got %v", domain.ErrConfigInvalid, strings.ToUpper(key), raw)
	}
	return b, nil
}

func envSet(key string) bool {
	value, ok := os.LookupEnv(strings.ToUpper(key))
	return ok && value != ""
}

func defaultExcludeFile(executableDir string) string {
	if executableDir == "" {
		if exe, err := os.Executable(); err == nil {
			executableDir = filepath.Dir(exe)
		}
	}
	return filepath.Join(executableDir, DefaultExcludeFileName)
}
