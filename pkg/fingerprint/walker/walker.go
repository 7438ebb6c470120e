// Package walker traverses a directory tree depth-first and emits the
// bracketed record sequence of a scan, computing per-directory rollups
// bottom-up.
//
// For every directory the walker lists and sorts its children, emits the
// initial Dir record, then the symlinks, files and unknown entries in name
// order, then recurses into each subdirectory in name order, and finally
// emits the Dir record carrying the rollup.
package walker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/digest"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/metadata"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/record"
)

var (
	// ErrNotDirectory is returned when the scan root is not a directory.
	ErrNotDirectory = errors.New("scan root is not a directory")

	// ErrRootUnreadable is returned when the scan root cannot be listed.
	ErrRootUnreadable = errors.New("scan root cannot be read")
)

// Sink receives every emitted record in order.
type Sink interface {
	Append(rec record.Record) error
}

// Observer is called synchronously for every emitted record, after the
// record reaches the sink. path is the full path of the entry. A non-nil
// error aborts the walk.
type Observer interface {
	Observe(path string, rec record.Record) error
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(path string, rec record.Record) error

// Observe calls f.
func (f ObserverFunc) Observe(path string, rec record.Record) error {
	return f(path, rec)
}

// Catalog returns a previously computed content digest for a file whose
// name, size, mode, owner, group and mtime match exactly.
type Catalog interface {
	Lookup(rec *record.File) (sha256 string, ok bool, err error)
}

// Hasher returns the SHA-256 of the file at path.
type Hasher func(path string) (string, error)

// Stats counts what a walk has emitted so far.
type Stats struct {
	Dirs        int64
	Files       int64
	Symlinks    int64
	Unknown     int64
	Bytes       int64
	Hashed      int64
	CatalogHits int64
	Unreadable  int64
	Path        string
}

// Walker produces a scan stream for one root.
type Walker struct {
	sink     Sink
	opts     *options
	excludes []glob.Glob
	stats    Stats
	root     string

	readDir func(name string) ([]os.DirEntry, error)
}

// New returns a Walker writing to sink. Templates and exclude patterns are
// validated here.
func New(sink Sink, opts ...Option) (*Walker, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := o.templates.Validate(); err != nil {
		return nil, err
	}
	excludes, err := compileExcludes(o.excludes)
	if err != nil {
		return nil, err
	}
	if o.host == "" {
		o.host, _ = os.Hostname()
	}
	return &Walker{
		sink:     sink,
		opts:     o,
		excludes: excludes,
		readDir:  os.ReadDir,
	}, nil
}

// Stats returns the counters accumulated so far.
func (w *Walker) Stats() Stats { return w.stats }

// Root returns the resolved scan root once Walk has started.
func (w *Walker) Root() string { return w.root }

// Walk scans root and returns its final Dir record. The manifest is emitted
// first. Failures below the root are recorded in the stream; only a root
// failure, a sink or observer error, or cancellation stops the walk.
func (w *Walker) Walk(ctx context.Context, root string) (*record.Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := w.opts.meta.Lstat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if info.Kind != metadata.KindDir {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, resolved)
	}
	w.root = resolved

	manifest := &record.Manifest{
		ScanID:    uuid.NewString(),
		Host:      w.opts.host,
		Root:      resolved,
		StartedAt: time.Now().UTC(),
		Quick:     w.opts.quick,
		Templates: w.opts.templates,
		Version:   w.opts.version,
	}
	if err := w.emit(resolved, manifest); err != nil {
		return nil, err
	}

	log := w.opts.logger.With("scan_id", manifest.ScanID)
	log.Info("walk started", "root", resolved, "quick", w.opts.quick)
	start := time.Now()

	final, err := w.walkDir(ctx, resolved, "", info)
	var unlistable *unlistableError
	if errors.As(err, &unlistable) {
		return nil, fmt.Errorf("%w: %v", ErrRootUnreadable, unlistable.err)
	}
	if err != nil {
		return nil, err
	}

	log.Info("walk completed",
		"dirs", w.stats.Dirs,
		"files", w.stats.Files,
		"bytes", w.stats.Bytes,
		"duration", time.Since(start))
	return final, nil
}

type unlistableError struct {
	err error
}

func (e *unlistableError) Error() string { return e.err.Error() }
func (e *unlistableError) Unwrap() error { return e.err }

type child struct {
	name string
	path string
	rel  string
	info metadata.Info
}

// dirState accumulates the rollup of the directory being visited.
type dirState struct {
	rollup        record.Rollup
	contentHashes []string
	metaHashes    []string
	entries       int
	subdirs       int
	maxChild      int
}

func (w *Walker) walkDir(ctx context.Context, dirPath, rel string, info metadata.Info) (*record.Dir, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	listing, err := w.readDir(dirPath)
	if err != nil {
		return nil, &unlistableError{err: err}
	}

	var symlinks, files, subdirs []child
	var unknown []*record.Unknown
	for _, de := range listing {
		name := de.Name()
		c := child{name: name, path: filepath.Join(dirPath, name), rel: path.Join(rel, name)}
		if w.excluded(c.rel, name) {
			continue
		}
		ci, err := w.opts.meta.Lstat(c.path)
		if err != nil {
			reason := err.Error()
			if metadata.IsVanished(err) {
				reason = "vanished"
			}
			w.opts.logger.Warn("entry unavailable", "path", c.path, "error", err)
			unknown = append(unknown, &record.Unknown{Name: name, Reason: reason})
			continue
		}
		c.info = ci
		switch ci.Kind {
		case metadata.KindSymlink:
			symlinks = append(symlinks, c)
		case metadata.KindFile:
			files = append(files, c)
		case metadata.KindDir:
			subdirs = append(subdirs, c)
		default:
			unknown = append(unknown, &record.Unknown{Name: name, Reason: "unsupported file type"})
		}
	}

	dir := &record.Dir{
		Phase: record.PhaseInitial,
		Path:  dirPath,
		Name:  filepath.Base(dirPath),
		Mode:  info.ModeString(),
		Mtime: info.Mtime,
		Owner: info.Owner,
		Group: info.Group,
	}
	if err := w.emit(dirPath, dir); err != nil {
		return nil, err
	}

	st := &dirState{}
	for _, c := range symlinks {
		if err := w.visitSymlink(c, st); err != nil {
			return nil, err
		}
	}
	for _, c := range files {
		if err := w.visitFile(c, st); err != nil {
			return nil, err
		}
	}
	for _, u := range unknown {
		w.stats.Unknown++
		if err := w.emit(filepath.Join(dirPath, u.Name), u); err != nil {
			return nil, err
		}
	}
	for _, c := range subdirs {
		sub, err := w.walkDir(ctx, c.path, c.rel, c.info)
		var unlistable *unlistableError
		if errors.As(err, &unlistable) {
			w.opts.logger.Warn("directory unreadable", "path", c.path, "error", unlistable.err)
			w.stats.Unknown++
			u := &record.Unknown{Name: c.name, Reason: unlistable.err.Error()}
			if err := w.emit(c.path, u); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		st.fold(sub.Rollup, w.opts.quick)
	}

	final := *dir
	final.Phase = record.PhaseFinal
	final.Rollup = st.finish()
	if !w.opts.quick {
		final.Rollup.ContentHashes = st.contentHashes
		final.Rollup.MetaHashes = st.metaHashes
		final.Rollup.ContentHash = digest.Rollup(st.contentHashes)
		meta, err := digest.DirMeta(w.opts.templates.Dir, &final)
		if err != nil {
			return nil, fmt.Errorf("dir meta hash %s: %w", dirPath, err)
		}
		final.Rollup.MetaHash = meta
	}

	w.stats.Dirs++
	w.stats.Path = dirPath
	if err := w.emit(dirPath, &final); err != nil {
		return nil, err
	}
	if w.opts.progress != nil {
		w.opts.progress(w.stats)
	}
	return &final, nil
}

func (w *Walker) visitSymlink(c child, st *dirState) error {
	rec := &record.Symlink{
		Name:       c.name,
		LinkTarget: c.info.LinkTarget,
		Mode:       c.info.ModeString(),
		Mtime:      c.info.Mtime,
		Owner:      c.info.Owner,
		Group:      c.info.Group,
		Path:       c.path,
	}
	st.rollup.SymlinkCount++
	st.entries++
	w.stats.Symlinks++

	if !w.opts.quick {
		meta, err := digest.Meta(w.opts.templates.Symlink, rec)
		if err != nil {
			return fmt.Errorf("symlink meta hash %s: %w", c.path, err)
		}
		rec.MetaHash = meta
		st.contentHashes = append(st.contentHashes, digest.Symlink(rec.LinkTarget))
		st.metaHashes = append(st.metaHashes, meta)
	}
	return w.emit(c.path, rec)
}

func (w *Walker) visitFile(c child, st *dirState) error {
	rec := &record.File{
		Name:  c.name,
		Size:  c.info.Size,
		Mode:  c.info.ModeString(),
		Mtime: c.info.Mtime,
		Owner: c.info.Owner,
		Group: c.info.Group,
		Path:  c.path,
	}
	st.rollup.FileCount++
	st.rollup.ContentSize += rec.Size
	st.entries++
	w.stats.Files++
	w.stats.Bytes += rec.Size

	if !w.opts.quick {
		rec.SHA256 = w.contentDigest(rec)
		if rec.SHA256 != "" {
			meta, err := digest.Meta(w.opts.templates.File, rec)
			if err != nil {
				return fmt.Errorf("file meta hash %s: %w", c.path, err)
			}
			rec.MetaHash = meta
			st.contentHashes = append(st.contentHashes, rec.SHA256)
			st.metaHashes = append(st.metaHashes, meta)
		}
	}
	return w.emit(c.path, rec)
}

// contentDigest returns the catalog digest when one matches, otherwise the
// hash of the file. It returns "" when the file cannot be read.
func (w *Walker) contentDigest(rec *record.File) string {
	if w.opts.catalog != nil {
		sum, ok, err := w.opts.catalog.Lookup(rec)
		if err != nil {
			w.opts.logger.Warn("catalog lookup failed", "path", rec.Path, "error", err)
		} else if ok {
			w.stats.CatalogHits++
			return sum
		}
	}

	sum, err := w.opts.hasher(rec.Path)
	if err != nil {
		w.opts.logger.Warn("file unreadable", "path", rec.Path, "error", err)
		w.stats.Unreadable++
		return ""
	}
	w.stats.Hashed++
	return sum
}

func (st *dirState) fold(sub *record.Rollup, quick bool) {
	st.rollup.DirCount += 1 + sub.DirCount
	st.rollup.FileCount += sub.FileCount
	st.rollup.SymlinkCount += sub.SymlinkCount
	st.rollup.ContentSize += sub.ContentSize
	st.subdirs++
	if sub.MaxDepth > st.maxChild {
		st.maxChild = sub.MaxDepth
	}
	if !quick {
		st.contentHashes = append(st.contentHashes, sub.ContentHash)
		st.metaHashes = append(st.metaHashes, sub.MetaHash)
	}
}

func (st *dirState) finish() *record.Rollup {
	r := st.rollup
	switch {
	case st.subdirs > 0:
		r.MaxDepth = 1 + st.maxChild
	case st.entries > 0:
		r.MaxDepth = 1
	}
	return &r
}

func (w *Walker) excluded(rel, name string) bool {
	for _, g := range w.excludes {
		if g.Match(rel) || g.Match(name) {
			return true
		}
	}
	return false
}

func (w *Walker) emit(path string, rec record.Record) error {
	if err := w.sink.Append(rec); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	for _, obs := range w.opts.observers {
		if err := obs.Observe(path, rec); err != nil {
			return fmt.Errorf("observer: %w", err)
		}
	}
	return nil
}
