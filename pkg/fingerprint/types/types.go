// Package types provides small shared helpers for the fingerprint tool:
// size parsing and formatting used by the CLI and the report formatters.
package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
)

// ErrInvalidSize indicates that the size string could not be parsed.
var ErrInvalidSize = errors.New("invalid size format")

// ErrNegativeSize indicates that a negative size value was provided.
var ErrNegativeSize = errors.New("size cannot be negative")

// ParseSize parses a human-readable size such as "512", "4K", "100MB" or
// "1.5GiB". Single-letter and two-letter suffixes are treated as binary
// units so that "1M" and "1MiB" agree, matching FormatSize.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}
	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeSize
	}

	upper := strings.ToUpper(s)
	if !strings.HasSuffix(upper, "IB") {
		switch {
		case strings.HasSuffix(upper, "KB"), strings.HasSuffix(upper, "MB"),
			strings.HasSuffix(upper, "GB"), strings.HasSuffix(upper, "TB"):
			s = s[:len(s)-1] + "iB"
		case strings.HasSuffix(upper, "K"), strings.HasSuffix(upper, "M"),
			strings.HasSuffix(upper, "G"), strings.HasSuffix(upper, "T"):
			s += "iB"
		}
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	return int64(n), nil
}

// FormatSize converts a size in bytes to a human-readable IEC string
// ("0 B", "1.0 KiB", "1.5 MiB").
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return "-" + humanize.IBytes(uint64(-bytes))
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatCount renders an integer with thousands separators.
func FormatCount(n int64) string {
	return humanize.Comma(n)
}
