// Package config provides configuration management for fingerprint.
package config

// Default configuration values.
const (
	// DefaultWorkDir holds the stage artifacts when no work_dir is set.
	DefaultWorkDir = "."

	// DefaultOutputFormat is the formatter used by report commands.
	DefaultOutputFormat = "pretty"

	// DefaultPolicy is the stage policy used by "fingerprint run".
	DefaultPolicy = "lazy"

	// DefaultRetentionDays is how long history entries are kept.
	DefaultRetentionDays = 30

	// DefaultLogMaxSize triggers log rotation.
	DefaultLogMaxSize = "10MB"

	// DefaultLogMaxBackups is the number of rotated logs kept.
	DefaultLogMaxBackups = 5
)

// DefaultExclusions are never useful to fingerprint.
var DefaultExclusions = []string{
	".git",
	"/proc",
	"/sys",
	"/dev",
}
