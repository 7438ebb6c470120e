package walker

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/digest"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/logging"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/metadata"
)

// Option configures a Walker.
type Option func(*options)

type options struct {
	quick     bool
	templates digest.Templates
	excludes  []string
	catalog   Catalog
	observers []Observer
	meta      metadata.Reader
	hasher    Hasher
	logger    *logging.Logger
	host      string
	version   string
	progress  func(Stats)
}

func defaultOptions() *options {
	return &options{
		templates: digest.DefaultTemplates(),
		meta:      metadata.NewReader(),
		hasher:    digest.File,
		logger:    logging.Get("walker"),
	}
}

// WithQuick disables all digest computation. Rollups keep counts and sizes.
func WithQuick(quick bool) Option {
	return func(o *options) {
		o.quick = quick
	}
}

// WithTemplates replaces the hash templates.
func WithTemplates(t digest.Templates) Option {
	return func(o *options) {
		o.templates = t
	}
}

// WithExclude adds glob patterns for entries to skip. Patterns are matched
// against the slash-separated path relative to the root and against the
// base name. "**" crosses path separators.
func WithExclude(patterns ...string) Option {
	return func(o *options) {
		o.excludes = append(o.excludes, patterns...)
	}
}

// WithCatalog consults c before hashing a file.
func WithCatalog(c Catalog) Option {
	return func(o *options) {
		o.catalog = c
	}
}

// WithObserver registers an observer called for every emitted record.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs)
	}
}

// WithMetadataReader replaces the attribute reader.
func WithMetadataReader(r metadata.Reader) Option {
	return func(o *options) {
		o.meta = r
	}
}

// WithHasher replaces the file content hasher.
func WithHasher(h Hasher) Option {
	return func(o *options) {
		o.hasher = h
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithHost overrides the host name written to the manifest.
func WithHost(host string) Option {
	return func(o *options) {
		o.host = host
	}
}

// WithVersion sets the producer version written to the manifest.
func WithVersion(v string) Option {
	return func(o *options) {
		o.version = v
	}
}

// WithProgress registers a callback invoked after each directory completes.
// It runs on the walking goroutine.
func WithProgress(fn func(Stats)) Option {
	return func(o *options) {
		o.progress = fn
	}
}

func compileExcludes(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}
