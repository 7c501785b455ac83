package output

import (
	"strconv"
	"strings"
	"time"
)

// FormatDuration renders d as a compact "1d2h3m4s" string, truncated to
// whole seconds. Days, hours and minutes are omitted when zero; seconds
// always appear, so a zero duration renders as "0s".
func FormatDuration(d time.Duration) string {
	total := int64(d / time.Second)
	if total < 0 {
		total = 0
	}

	days := total / 86400
	hours := total % 86400 / 3600
	minutes := total % 3600 / 60
	seconds := total % 60

	var b strings.Builder
	if days > 0 {
		b.WriteString(strconv.FormatInt(days, 10) + "d")
	}
	if hours > 0 {
		b.WriteString(strconv.FormatInt(hours, 10) + "h")
	}
	if minutes > 0 {
		b.WriteString(strconv.FormatInt(minutes, 10) + "m")
	}
	b.WriteString(strconv.FormatInt(seconds, 10) + "s")
	return b.String()
}
