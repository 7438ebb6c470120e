package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/artifact"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/digest"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/dirdupes"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/filedupes"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/record"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/store"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/walker"
)

// Stage names.
const (
	StageScan     = "scan"
	StageAnalyze  = "analyze"
	StageDupFiles = "dupfiles"
	StageDupDirs  = "dupdirs"
	StageReport   = "report"
)

// Stages implements each stage over the artifacts of one work directory.
type Stages struct {
	Workspace artifact.Workspace

	Quick     bool
	Exclude   []string
	Templates digest.Templates
	Overwrite bool
	Version   string

	// Store, when set, receives file content during the scan.
	Store *store.Store
	// UseCatalog reuses digests from the store catalog during the scan.
	UseCatalog bool

	Progress func(walker.Stats)
}

// Scan walks root into the scan stream. The stream is written to a partial
// file and renamed into place only when the walk completes.
func (s *Stages) Scan(ctx context.Context, root string) (Summary, error) {
	out := s.Workspace.Scan()
	if err := artifact.CheckOutputs(s.Overwrite, out); err != nil {
		return nil, err
	}
	if err := s.Workspace.Ensure(); err != nil {
		return nil, err
	}

	partial := artifact.Partial(out)
	if err := os.Remove(partial); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale partial stream: %w", err)
	}
	w, err := record.Create(partial)
	if err != nil {
		return nil, fmt.Errorf("create scan stream: %w", err)
	}

	opts := []walker.Option{
		walker.WithQuick(s.Quick),
		walker.WithExclude(s.Exclude...),
		walker.WithVersion(s.Version),
	}
	if s.Templates.File != nil {
		opts = append(opts, walker.WithTemplates(s.Templates))
	}
	if s.Store != nil {
		opts = append(opts, walker.WithObserver(s.Store))
		if s.UseCatalog {
			opts = append(opts, walker.WithCatalog(s.Store.Catalog()))
		}
	}
	if s.Progress != nil {
		opts = append(opts, walker.WithProgress(s.Progress))
	}

	summary, err := s.walk(ctx, w, root, opts)
	if cerr := w.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close scan stream: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(partial)
		return nil, err
	}
	if err := os.Rename(partial, out); err != nil {
		_ = os.Remove(partial)
		return nil, fmt.Errorf("commit scan stream: %w", err)
	}
	return summary, nil
}

func (s *Stages) walk(ctx context.Context, w *record.Writer, root string, opts []walker.Option) (Summary, error) {
	wk, err := walker.New(w, opts...)
	if err != nil {
		return nil, err
	}
	final, err := wk.Walk(ctx, root)
	if err != nil {
		return nil, err
	}
	st := wk.Stats()
	return Summary{
		"dirs":         st.Dirs,
		"files":        st.Files,
		"symlinks":     st.Symlinks,
		"unknown":      st.Unknown,
		"bytes":        final.Rollup.ContentSize,
		"hashed":       st.Hashed,
		"catalog_hits": st.CatalogHits,
		"unreadable":   st.Unreadable,
	}, nil
}

func (s *Stages) cursor() (*record.Cursor, func(), error) {
	r, err := record.Open(s.Workspace.Scan())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", artifact.ErrMissingInput, s.Workspace.Scan())
		}
		return nil, nil, err
	}
	return record.NewCursor(r), func() { _ = r.Close() }, nil
}

// Analyze builds the size histogram.
func (s *Stages) Analyze(_ context.Context) (Summary, error) {
	if err := artifact.CheckInputs(s.Workspace.Scan()); err != nil {
		return nil, err
	}
	if err := artifact.CheckOutputs(s.Overwrite, s.Workspace.Analysis()); err != nil {
		return nil, err
	}

	c, done, err := s.cursor()
	if err != nil {
		return nil, err
	}
	defer done()

	a, err := filedupes.Analyze(c)
	if err != nil {
		return nil, err
	}
	if err := artifact.WriteJSON(s.Workspace.Analysis(), a); err != nil {
		return nil, err
	}
	return Summary{
		"file_sizes":        int64(len(a.FileSizes)),
		"dir_sizes":         int64(len(a.DirSizes)),
		"interesting_files": a.InterestingFiles(),
	}, nil
}

// DupFiles groups duplicate files and writes them with the digest cache.
func (s *Stages) DupFiles(ctx context.Context) (Summary, error) {
	ws := s.Workspace
	if err := artifact.CheckInputs(ws.Scan(), ws.Analysis()); err != nil {
		return nil, err
	}
	if err := artifact.CheckOutputs(s.Overwrite, ws.DupFiles(), ws.Digests()); err != nil {
		return nil, err
	}

	var a filedupes.Analysis
	if err := artifact.ReadJSON(ws.Analysis(), &a); err != nil {
		return nil, err
	}
	c, done, err := s.cursor()
	if err != nil {
		return nil, err
	}
	defer done()

	res, err := filedupes.Find(ctx, c, &a)
	if err != nil {
		return nil, err
	}
	err = artifact.WriteAll(
		artifact.File{Path: ws.DupFiles(), Value: res.Duplicates()},
		artifact.File{Path: ws.Digests(), Value: res.DigestCache()},
	)
	if err != nil {
		return nil, err
	}
	return Summary{
		"groups":     int64(len(res.Groups)),
		"candidates": res.Stats.Candidates,
		"hashed":     res.Stats.Hashed,
		"reused":     res.Stats.Reused,
		"unreadable": res.Stats.Unreadable,
	}, nil
}

// LoadFileDuplicates reads the duplicate-file artifacts back into a Result.
func (s *Stages) LoadFileDuplicates() (*filedupes.Result, error) {
	var dup filedupes.Duplicates
	if err := artifact.ReadJSON(s.Workspace.DupFiles(), &dup); err != nil {
		return nil, err
	}
	var cache filedupes.DigestCache
	if err := artifact.ReadJSON(s.Workspace.Digests(), &cache); err != nil {
		return nil, err
	}
	if dup.CollectionByFileSize == nil {
		dup.CollectionByFileSize = filedupes.Groups{}
	}
	if cache.SHA256ByPath == nil {
		cache.SHA256ByPath = map[string]string{}
	}
	return &filedupes.Result{Groups: dup.CollectionByFileSize, Digests: cache.SHA256ByPath}, nil
}

// DupDirs groups duplicate directories.
func (s *Stages) DupDirs(ctx context.Context) (Summary, error) {
	ws := s.Workspace
	if err := artifact.CheckInputs(ws.Scan(), ws.Analysis(), ws.DupFiles(), ws.Digests()); err != nil {
		return nil, err
	}
	if err := artifact.CheckOutputs(s.Overwrite, ws.DupDirs()); err != nil {
		return nil, err
	}

	var a filedupes.Analysis
	if err := artifact.ReadJSON(ws.Analysis(), &a); err != nil {
		return nil, err
	}
	files, err := s.LoadFileDuplicates()
	if err != nil {
		return nil, err
	}
	c, done, err := s.cursor()
	if err != nil {
		return nil, err
	}
	defer done()

	res, err := dirdupes.Find(ctx, c, &a, files)
	if err != nil {
		return nil, err
	}
	if err := artifact.WriteJSON(ws.DupDirs(), res.Duplicates()); err != nil {
		return nil, err
	}
	return Summary{
		"groups":      int64(len(res.Groups)),
		"dirs":        res.Stats.Dirs,
		"grouped":     res.Stats.Grouped,
		"mismatched":  res.Stats.Mismatched,
		"unconfirmed": res.Stats.Unconfirmed,
	}, nil
}

// Report ranks the duplicate files.
func (s *Stages) Report(_ context.Context) (Summary, error) {
	ws := s.Workspace
	if err := artifact.CheckInputs(ws.DupFiles()); err != nil {
		return nil, err
	}
	if err := artifact.CheckOutputs(s.Overwrite, ws.Report()); err != nil {
		return nil, err
	}

	var dup filedupes.Duplicates
	if err := artifact.ReadJSON(ws.DupFiles(), &dup); err != nil {
		return nil, err
	}
	rep := filedupes.BuildReport(dup.CollectionByFileSize)
	if err := artifact.WriteJSON(ws.Report(), rep); err != nil {
		return nil, err
	}
	return Summary{
		"redundant_files": rep.Summary.TotalRedundantFilesCount,
		"redundant_bytes": rep.Summary.TotalRedundantSize,
	}, nil
}

// Jobs returns the full pipeline over root. Stages other than the scan
// overwrite their outputs when their policy decides to rebuild.
func (s *Stages) Jobs(root string, policy Policy) []Job {
	ws := s.Workspace
	rebuild := *s
	rebuild.Overwrite = s.Overwrite || policy != Always
	return []Job{
		{
			Name:    StageScan,
			Outputs: []string{ws.Scan()},
			Policy:  policy,
			Run:     func(ctx context.Context) (Summary, error) { return rebuild.Scan(ctx, root) },
		},
		{
			Name:    StageAnalyze,
			Inputs:  []string{ws.Scan()},
			Outputs: []string{ws.Analysis()},
			Policy:  policy,
			Run:     rebuild.Analyze,
		},
		{
			Name:    StageDupFiles,
			Inputs:  []string{ws.Scan(), ws.Analysis()},
			Outputs: []string{ws.DupFiles(), ws.Digests()},
			Policy:  policy,
			Run:     rebuild.DupFiles,
		},
		{
			Name:    StageDupDirs,
			Inputs:  []string{ws.Scan(), ws.Analysis(), ws.DupFiles(), ws.Digests()},
			Outputs: []string{ws.DupDirs()},
			Policy:  policy,
			Run:     rebuild.DupDirs,
		},
		{
			Name:    StageReport,
			Inputs:  []string{ws.DupFiles()},
			Outputs: []string{ws.Report()},
			Policy:  policy,
			Run:     rebuild.Report,
		},
	}
}
