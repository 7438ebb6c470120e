// Package artifact reads and writes the stage outputs kept in a work
// directory. Every write is all-or-nothing: data goes to a temporary file
// in the destination directory and is renamed into place.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	// ErrMissingInput is returned when a required input artifact is absent.
	ErrMissingInput = errors.New("required input missing")

	// ErrOutputExists is returned when an output exists and overwrite is off.
	ErrOutputExists = errors.New("output already exists")
)

// Default artifact names inside a work directory.
const (
	ScanFile       = "scan.fpr"
	AnalysisFile   = "analysis.json"
	DupFilesFile   = "dupfiles.json"
	DigestsFile    = "digests.json"
	ReportFile     = "dupfiles-report.json"
	DupDirsFile    = "dupdirs.json"
	partialSuffix  = ".partial"
	historyDirName = "history"
)

// Workspace resolves artifact paths in a work directory.
type Workspace struct {
	Dir string
}

// Path joins name onto the work directory.
func (w Workspace) Path(name string) string { return filepath.Join(w.Dir, name) }

func (w Workspace) Scan() string     { return w.Path(ScanFile) }
func (w Workspace) Analysis() string { return w.Path(AnalysisFile) }
func (w Workspace) DupFiles() string { return w.Path(DupFilesFile) }
func (w Workspace) Digests() string  { return w.Path(DigestsFile) }
func (w Workspace) Report() string   { return w.Path(ReportFile) }
func (w Workspace) DupDirs() string  { return w.Path(DupDirsFile) }
func (w Workspace) History() string  { return w.Path(historyDirName) }

// Ensure creates the work directory.
func (w Workspace) Ensure() error {
	return os.MkdirAll(w.Dir, 0o755)
}

// Partial returns the staging path used while a stream is being written.
func Partial(path string) string { return path + partialSuffix }

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CheckInputs returns ErrMissingInput for the first path that does not exist.
func CheckInputs(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrMissingInput, p)
			}
			return err
		}
	}
	return nil
}

// CheckOutputs returns ErrOutputExists for the first existing path unless
// overwrite is set.
func CheckOutputs(overwrite bool, paths ...string) error {
	if overwrite {
		return nil
	}
	for _, p := range paths {
		if Exists(p) {
			return fmt.Errorf("%w: %s", ErrOutputExists, p)
		}
	}
	return nil
}

// File pairs a destination path with the value to encode there.
type File struct {
	Path  string
	Value any
}

// WriteJSON encodes v as indented JSON and writes it atomically to path.
func WriteJSON(path string, v any) error {
	return WriteAll(File{Path: path, Value: v})
}

// WriteAll encodes every value first, then stages each file and renames
// them all into place. If any step fails no destination is touched.
func WriteAll(files ...File) error {
	payloads := make([][]byte, len(files))
	for i, f := range files {
		data, err := json.MarshalIndent(f.Value, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", filepath.Base(f.Path), err)
		}
		payloads[i] = append(data, '\n')
	}

	temps := make([]string, 0, len(files))
	cleanup := func() {
		for _, t := range temps {
			_ = os.Remove(t)
		}
	}
	for i, f := range files {
		tmp, err := writeTemp(f.Path, payloads[i])
		if err != nil {
			cleanup()
			return err
		}
		temps = append(temps, tmp)
	}

	for i, f := range files {
		if err := os.Rename(temps[i], f.Path); err != nil {
			cleanup()
			return fmt.Errorf("failed to rename temp file: %w", err)
		}
	}
	return nil
}

func writeTemp(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

// ReadJSON decodes the JSON file at path into v. A missing file yields
// ErrMissingInput.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrMissingInput, path)
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
