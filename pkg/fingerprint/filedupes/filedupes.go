// Package filedupes finds duplicate files in a scan stream in two phases.
//
// The first phase builds a size histogram. The second reads the stream again
// and hashes only files whose size occurs more than once, grouping them by
// size and content digest.
package filedupes

import (
	"context"
	"fmt"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/digest"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/logging"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/record"
)

// Groups maps size to digest to the paths sharing that content.
type Groups map[int64]map[string][]string

func (g Groups) add(size int64, sum, path string) {
	byDigest, ok := g[size]
	if !ok {
		byDigest = make(map[string][]string)
		g[size] = byDigest
	}
	byDigest[sum] = append(byDigest[sum], path)
}

// Prune drops digests with a single path and then empty sizes.
func (g Groups) Prune() {
	for size, byDigest := range g {
		for sum, paths := range byDigest {
			if len(paths) < 2 {
				delete(byDigest, sum)
			}
		}
		if len(byDigest) == 0 {
			delete(g, size)
		}
	}
}

// Paths returns the set of every grouped path.
func (g Groups) Paths() map[string]struct{} {
	out := make(map[string]struct{})
	for _, byDigest := range g {
		for _, paths := range byDigest {
			for _, p := range paths {
				out[p] = struct{}{}
			}
		}
	}
	return out
}

// Duplicates is the persisted form of duplicate file groups.
type Duplicates struct {
	CollectionByFileSize Groups `json:"collection_by_file_size"`
}

// DigestCache is the persisted path to digest cache.
type DigestCache struct {
	SHA256ByPath map[string]string `json:"sha256_by_path"`
}

// Stats describes the work done by Find.
type Stats struct {
	Files      int64
	Candidates int64
	Hashed     int64
	Reused     int64
	Unreadable int64
}

// Result is the output of Find.
type Result struct {
	Groups  Groups
	Digests map[string]string
	Stats   Stats
}

// Duplicates returns the persisted form of r's groups.
func (r *Result) Duplicates() Duplicates {
	return Duplicates{CollectionByFileSize: r.Groups}
}

// DigestCache returns the persisted form of r's digests.
func (r *Result) DigestCache() DigestCache {
	return DigestCache{SHA256ByPath: r.Digests}
}

// Hasher returns the SHA-256 of the file at path.
type Hasher func(path string) (string, error)

// Option configures Find.
type Option func(*options)

type options struct {
	hasher Hasher
	logger *logging.Logger
}

// WithHasher replaces the content hasher used when a record has no digest.
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

// Find groups files of interesting size by content digest. Digests already
// present in records are reused. Every digest computed or reused is kept in
// the digest cache, including those of files that end up in no group.
func Find(ctx context.Context, c *record.Cursor, a *Analysis, opts ...Option) (*Result, error) {
	o := &options{hasher: digest.File, logger: logging.Get("filedupes")}
	for _, opt := range opts {
		opt(o)
	}

	res := &Result{
		Groups:  make(Groups),
		Digests: make(map[string]string),
	}
	err := c.Each(func(r record.Record) error {
		f, ok := r.(*record.File)
		if !ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		res.Stats.Files++
		if !a.InterestingFileSize(f.Size) {
			return nil
		}
		res.Stats.Candidates++

		sum := f.SHA256
		if sum != "" {
			res.Stats.Reused++
		} else {
			var err error
			sum, err = o.hasher(f.Path)
			if err != nil {
				o.logger.Warn("file unreadable", "path", f.Path, "error", err)
				res.Stats.Unreadable++
				return nil
			}
			res.Stats.Hashed++
		}
		res.Digests[f.Path] = sum
		res.Groups.add(f.Size, sum, f.Path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find duplicate files: %w", err)
	}

	res.Groups.Prune()
	o.logger.Info("duplicate files found",
		"sizes", len(res.Groups),
		"candidates", res.Stats.Candidates,
		"hashed", res.Stats.Hashed)
	return res, nil
}
