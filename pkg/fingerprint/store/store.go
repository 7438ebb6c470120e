// Package store keeps file content in a content-addressed repository.
//
// Layout under the root:
//
//	filedata/<d0d1>/<d2d3>/<d4d5>/<digest>   one blob per SHA-256 digest
//	metadata/catalog                         attribute tuple to digest
//	logs/                                    run logs
//	temp/                                    staging for atomic writes
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/digest"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/logging"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/record"
)

const (
	dataDir     = "filedata"
	metadataDir = "metadata"
	logsDir     = "logs"
	tempDir     = "temp"
	catalogDir  = "catalog"
)

var (
	// ErrInvalidDigest is returned for a digest that is not 64 lowercase hex characters.
	ErrInvalidDigest = errors.New("invalid content digest")

	// ErrDigestMismatch is returned when copied bytes do not hash to the expected digest.
	ErrDigestMismatch = errors.New("content digest mismatch")

	// ErrSourceUnreadable is returned when the file to store cannot be read.
	ErrSourceUnreadable = errors.New("source file unreadable")
)

// Counters tracks ingest activity since Open.
type Counters struct {
	Stored  int64
	Present int64
	Skipped int64
	Bytes   int64
}

// Store is an open content-addressed repository.
type Store struct {
	root    string
	catalog *Catalog
	log     *logging.Logger

	mu       sync.Mutex
	counters Counters
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// Open creates the layout under root if needed and opens the catalog.
func Open(root string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	for _, d := range []string{dataDir, metadataDir, logsDir, tempDir} {
		if err := os.MkdirAll(filepath.Join(abs, d), 0o755); err != nil {
			return nil, fmt.Errorf("create store layout: %w", err)
		}
	}

	catalog, err := OpenCatalog(filepath.Join(abs, metadataDir, catalogDir))
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	s := &Store{root: abs, catalog: catalog, log: logging.Get("store")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the catalog.
func (s *Store) Close() error {
	return s.catalog.Close()
}

// Root returns the absolute store root.
func (s *Store) Root() string { return s.root }

// LogsDir returns the logs area.
func (s *Store) LogsDir() string { return filepath.Join(s.root, logsDir) }

// Catalog returns the attribute catalog.
func (s *Store) Catalog() *Catalog { return s.catalog }

// Counters returns a snapshot of ingest activity.
func (s *Store) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Path returns the fan-out path of the blob for sum.
func (s *Store) Path(sum string) (string, error) {
	if !digest.IsSHA256Hex(sum) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDigest, sum)
	}
	return filepath.Join(s.root, dataDir, sum[0:2], sum[2:4], sum[4:6], sum), nil
}

// Has reports whether a blob for sum exists.
func (s *Store) Has(sum string) (bool, error) {
	p, err := s.Path(sum)
	if err != nil {
		return false, err
	}
	_, err = os.Lstat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Put copies src into the store under sum unless a blob is already present.
// It reports whether bytes were copied. Existing blobs are never rewritten.
func (s *Store) Put(sum, src string) (bool, error) {
	dst, err := s.Path(sum)
	if err != nil {
		return false, err
	}
	if _, err := os.Lstat(dst); err == nil {
		s.count(func(c *Counters) { c.Present++ })
		return false, nil
	}

	tmp, got, size, err := s.stage(src)
	if err != nil {
		return false, err
	}
	if got != sum {
		_ = os.Remove(tmp)
		return false, fmt.Errorf("%w: %s: want %s, got %s", ErrDigestMismatch, src, sum, got)
	}
	return s.commit(tmp, dst, size)
}

// Ingest hashes src while copying it and stores it under the resulting
// digest. It returns the digest and whether bytes were kept.
func (s *Store) Ingest(src string) (string, bool, error) {
	tmp, sum, size, err := s.stage(src)
	if err != nil {
		return "", false, err
	}
	dst, err := s.Path(sum)
	if err != nil {
		_ = os.Remove(tmp)
		return "", false, err
	}
	if _, err := os.Lstat(dst); err == nil {
		_ = os.Remove(tmp)
		s.count(func(c *Counters) { c.Present++ })
		return sum, false, nil
	}
	stored, err := s.commit(tmp, dst, size)
	return sum, stored, err
}

// stage copies src into temp/ and returns the temp path and its digest.
func (s *Store) stage(src string) (string, string, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", "", 0, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Join(s.root, tempDir), "blob-*")
	if err != nil {
		return "", "", 0, fmt.Errorf("create temp blob: %w", err)
	}
	tmp := out.Name()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(out, h), in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", "", 0, fmt.Errorf("copy %s: %w", src, err)
	}
	return tmp, hex.EncodeToString(h.Sum(nil)), size, nil
}

func (s *Store) commit(tmp, dst string, size int64) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		_ = os.Remove(tmp)
		return false, fmt.Errorf("create fan-out directory: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return false, fmt.Errorf("move blob into place: %w", err)
	}
	s.count(func(c *Counters) {
		c.Stored++
		c.Bytes += size
	})
	return true, nil
}

func (s *Store) count(fn func(*Counters)) {
	s.mu.Lock()
	fn(&s.counters)
	s.mu.Unlock()
}

// Observe implements walker.Observer. File records are copied into the
// store and cataloged; other records are ignored. Files that cannot be read
// are skipped with a warning.
func (s *Store) Observe(path string, rec record.Record) error {
	f, ok := rec.(*record.File)
	if !ok {
		return nil
	}

	var (
		sum string
		err error
	)
	if f.SHA256 != "" {
		sum = f.SHA256
		_, err = s.Put(sum, path)
	} else {
		sum, _, err = s.Ingest(path)
	}
	if errors.Is(err, ErrSourceUnreadable) || errors.Is(err, ErrDigestMismatch) {
		s.log.Warn("file not stored", "path", path, "error", err)
		s.count(func(c *Counters) { c.Skipped++ })
		return nil
	}
	if err != nil {
		return err
	}

	blob, err := s.Path(sum)
	if err != nil {
		return err
	}
	if err := s.catalog.Record(f, sum, blob); err != nil {
		return fmt.Errorf("catalog %s: %w", path, err)
	}
	return nil
}

// Stats summarizes the blobs in the store.
type Stats struct {
	Blobs          int64 `json:"blobs"`
	Bytes          int64 `json:"bytes"`
	CatalogEntries int   `json:"catalog_entries"`
}

// VerifyReport lists problems found by Verify.
type VerifyReport struct {
	Checked   int64    `json:"checked"`
	Corrupt   []string `json:"corrupt"`
	Misplaced []string `json:"misplaced"`
}

// OK reports whether no problem was found.
func (r *VerifyReport) OK() bool {
	return len(r.Corrupt) == 0 && len(r.Misplaced) == 0
}

// walkBlobs calls fn concurrently for every regular file under filedata/.
func (s *Store) walkBlobs(ctx context.Context, fn func(path string, info fs.FileInfo) error) error {
	conf := fastwalk.Config{Follow: false}
	return fastwalk.Walk(&conf, filepath.Join(s.root, dataDir), func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(path, info)
	})
}

// Stats counts blobs and their bytes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var (
		mu    sync.Mutex
		stats Stats
	)
	err := s.walkBlobs(ctx, func(_ string, info fs.FileInfo) error {
		mu.Lock()
		stats.Blobs++
		stats.Bytes += info.Size()
		mu.Unlock()
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("scan filedata: %w", err)
	}
	n, err := s.catalog.Count()
	if err != nil {
		return Stats{}, fmt.Errorf("count catalog: %w", err)
	}
	stats.CatalogEntries = n
	return stats, nil
}

// Verify re-hashes every blob. A blob whose name is not a valid digest or
// whose location does not match its name is misplaced; a blob whose bytes
// do not hash to its name is corrupt.
func (s *Store) Verify(ctx context.Context) (*VerifyReport, error) {
	var mu sync.Mutex
	rep := &VerifyReport{}

	err := s.walkBlobs(ctx, func(path string, _ fs.FileInfo) error {
		name := filepath.Base(path)
		want, err := s.Path(name)
		if err != nil || want != path {
			mu.Lock()
			rep.Misplaced = append(rep.Misplaced, path)
			mu.Unlock()
			return nil
		}

		got, err := digest.File(path)
		mu.Lock()
		defer mu.Unlock()
		rep.Checked++
		if err != nil || got != name {
			rep.Corrupt = append(rep.Corrupt, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify filedata: %w", err)
	}

	sort.Strings(rep.Corrupt)
	sort.Strings(rep.Misplaced)
	s.log.Info("store verified", "checked", rep.Checked, "corrupt", len(rep.Corrupt), "misplaced", len(rep.Misplaced))
	return rep, nil
}
