package engine

import (
	"strings"
	"time"
)

// BackupDirLayout names per-run backup directories (UTC, ISO-8601 basic time)
const BackupDirLayout = "2006-01-02T150405Z"

// LatestDirName is the destination subtree mirroring the source
const LatestDirName = "latest"

// IsRemote reports whether path is an rclone remote specifier such as
// "gdrive:backup" or ":s3,provider=AWS:bucket" rather than a local path.
// A single-letter prefix before ':' is a drive letter, not a remote.
func IsRemote(path string) bool {
	if strings.HasPrefix(path, ":") {
		return true
	}
	colon := strings.IndexByte(path, ':')
	if colon < 0 {
		return false
	}
	if sep := strings.IndexAny(path, `/\`); sep >= 0 && sep < colon {
		return false
	}
	return colon > 1
}

// RemoteLabel returns a file-name-safe label for a remote specifier: the
// remote name, or the backend name of an on-the-fly ":backend,...:" remote.
// Local paths have no label.
func RemoteLabel(path string) string {
	if !IsRemote(path) {
		return ""
	}
	name := path
	if strings.HasPrefix(name, ":") {
		name = name[1:]
		if end := strings.IndexAny(name, ",:"); end >= 0 {
			name = name[:end]
		}
	} else {
		name = name[:strings.IndexByte(name, ':')]
	}
	return sanitizeLabel(name)
}

func sanitizeLabel(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}

// JoinPath appends elem to a local path or remote specifier using '/'
func JoinPath(base, elem string) string {
	if base == "" {
		return elem
	}
	if strings.HasSuffix(base, ":") || strings.HasSuffix(base, "/") || strings.HasSuffix(base, `\`) {
		return base + elem
	}
	return base + "/" + elem
}

// BackupDirName returns the backup directory name for a run started at t
func BackupDirName(t time.Time) string {
	return t.UTC().Format(BackupDirLayout)
}
