// Package dirdupes finds duplicate directory subtrees in one streaming pass
// over a scan.
//
// An explicit stack of accumulators mirrors the directory brackets of the
// stream. Each accumulator keeps running totals for every descendant, and
// separately the totals and ordered child digests of the descendants it
// could confirm as duplicate-file candidates. When a directory closes, its
// content hash is recomputed from its children exactly as the walker does,
// but only when the confirmed totals account for everything the directory
// declares.
package dirdupes

import (
	"context"
	"fmt"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/digest"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/filedupes"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/logging"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/record"
)

// Groups maps recursive content size to content hash to directory paths.
type Groups map[int64]map[string][]string

// Duplicates is the persisted form of duplicate directory groups.
type Duplicates struct {
	CollectionByDirSize Groups `json:"collection_by_dir_size"`
}

// Stats counts how directories were handled.
type Stats struct {
	Dirs        int64
	SkippedSize int64
	Mismatched  int64
	Unconfirmed int64
	Hashed      int64
	Grouped     int64
	// Diverged counts recomputed hashes that differ from the digest the
	// walker recorded.
	Diverged int64
}

// Result is the output of Find.
type Result struct {
	Groups Groups
	Stats  Stats
}

// Duplicates returns the persisted form of r.
func (r *Result) Duplicates() Duplicates {
	return Duplicates{CollectionByDirSize: r.Groups}
}

// Option configures Find.
type Option func(*options)

type options struct {
	logger *logging.Logger
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

type totals struct {
	files    int64
	symlinks int64
	dirs     int64
	size     int64
}

type accumulator struct {
	path string

	// all descendants
	all totals

	// descendants whose digests are known
	retained totals
	hashes   []string

	// a retained non-empty file is in no duplicate-file group
	unconfirmed bool
}

// Find reads the stream once and groups directories by (content size,
// content hash). files supplies the duplicate-file groups and the digest
// cache produced by filedupes.Find over the same stream.
func Find(ctx context.Context, c *record.Cursor, a *filedupes.Analysis, files *filedupes.Result, opts ...Option) (*Result, error) {
	o := &options{logger: logging.Get("dirdupes")}
	for _, opt := range opts {
		opt(o)
	}

	f := &finder{
		analysis: a,
		digests:  files.Digests,
		grouped:  files.Groups.Paths(),
		log:      o.logger,
		res:      &Result{Groups: make(Groups)},
	}
	err := c.Each(func(r record.Record) error {
		return f.visit(ctx, r)
	})
	if err != nil {
		return nil, fmt.Errorf("find duplicate directories: %w", err)
	}

	f.prune()
	o.logger.Info("duplicate directories found",
		"sizes", len(f.res.Groups),
		"hashed", f.res.Stats.Hashed,
		"mismatched", f.res.Stats.Mismatched)
	return f.res, nil
}

type finder struct {
	analysis *filedupes.Analysis
	digests  map[string]string
	grouped  map[string]struct{}
	log      *logging.Logger
	stack    []*accumulator
	res      *Result
}

func (f *finder) top() *accumulator {
	return f.stack[len(f.stack)-1]
}

func (f *finder) visit(ctx context.Context, r record.Record) error {
	switch r := r.(type) {
	case *record.Dir:
		if r.Initial() {
			if err := ctx.Err(); err != nil {
				return err
			}
			f.stack = append(f.stack, &accumulator{path: r.Path})
			return nil
		}
		acc := f.top()
		f.stack = f.stack[:len(f.stack)-1]
		hash, ok := f.finish(acc, r)
		if len(f.stack) > 0 {
			f.fold(f.top(), acc, hash, ok)
		}
	case *record.File:
		f.addFile(f.top(), r)
	case *record.Symlink:
		acc := f.top()
		acc.all.symlinks++
		acc.retained.symlinks++
		acc.hashes = append(acc.hashes, digest.Symlink(r.LinkTarget))
	}
	return nil
}

func (f *finder) addFile(acc *accumulator, r *record.File) {
	acc.all.files++
	acc.all.size += r.Size

	var sum string
	switch {
	case r.Size == 0:
		sum = digest.EmptySHA256
	case f.analysis.InterestingFileSize(r.Size):
		s, ok := f.digests[r.Path]
		if !ok {
			return
		}
		sum = s
		if _, dup := f.grouped[r.Path]; !dup {
			acc.unconfirmed = true
		}
	default:
		return
	}
	acc.retained.files++
	acc.retained.size += r.Size
	acc.hashes = append(acc.hashes, sum)
}

// finish decides whether acc can be hashed and groups it when its size is
// interesting. It returns the recomputed content hash and whether it is
// valid for folding into the parent.
func (f *finder) finish(acc *accumulator, r *record.Dir) (string, bool) {
	f.res.Stats.Dirs++
	declared := r.Rollup
	if declared == nil {
		declared = &record.Rollup{}
	}

	consistent := acc.retained == totals{
		files:    declared.FileCount,
		symlinks: declared.SymlinkCount,
		dirs:     declared.DirCount,
		size:     declared.ContentSize,
	}
	interesting := f.analysis.InterestingDirSize(acc.all.size)

	switch {
	case !consistent:
		if interesting {
			f.res.Stats.Mismatched++
			f.log.Debug("rollup mismatch", "path", acc.path,
				"retained_files", acc.retained.files, "declared_files", declared.FileCount,
				"retained_size", acc.retained.size, "declared_size", declared.ContentSize)
		}
		return "", false
	case acc.unconfirmed:
		if interesting {
			f.res.Stats.Unconfirmed++
		}
		return "", false
	}

	// Subdirectories of uninteresting size still need a digest so that a
	// duplicate parent can be hashed.
	hash := digest.Rollup(acc.hashes)
	if declared.Hashed() && declared.ContentHash != hash {
		f.res.Stats.Diverged++
		f.log.Debug("content hash diverged", "path", acc.path, "recorded", declared.ContentHash, "computed", hash)
	}
	if !interesting {
		f.res.Stats.SkippedSize++
		return hash, true
	}

	f.res.Stats.Hashed++
	byHash, ok := f.res.Groups[acc.all.size]
	if !ok {
		byHash = make(map[string][]string)
		f.res.Groups[acc.all.size] = byHash
	}
	byHash[hash] = append(byHash[hash], acc.path)
	return hash, true
}

// fold adds child's totals to parent. Retained totals and the digest only
// move up when the child was hashable.
func (f *finder) fold(parent, child *accumulator, hash string, ok bool) {
	parent.all.files += child.all.files
	parent.all.symlinks += child.all.symlinks
	parent.all.dirs += 1 + child.all.dirs
	parent.all.size += child.all.size
	if !ok {
		return
	}
	parent.retained.files += child.retained.files
	parent.retained.symlinks += child.retained.symlinks
	parent.retained.dirs += 1 + child.retained.dirs
	parent.retained.size += child.retained.size
	parent.hashes = append(parent.hashes, hash)
}

func (f *finder) prune() {
	for size, byHash := range f.res.Groups {
		for hash, paths := range byHash {
			if len(paths) < 2 {
				delete(byHash, hash)
				continue
			}
			f.res.Stats.Grouped += int64(len(paths))
		}
		if len(byHash) == 0 {
			delete(f.res.Groups, size)
		}
	}
}
