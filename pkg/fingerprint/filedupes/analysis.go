package filedupes

import (
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/record"
)

// Analysis is the size histogram of a scan.
type Analysis struct {
	FileSizes map[int64]int64 `json:"file_sizes"`
	DirSizes  map[int64]int64 `json:"dir_sizes"`
}

// NewAnalysis returns an empty histogram.
func NewAnalysis() *Analysis {
	return &Analysis{
		FileSizes: make(map[int64]int64),
		DirSizes:  make(map[int64]int64),
	}
}

// Analyze reads the whole stream and counts file sizes and recursive
// directory sizes.
func Analyze(c *record.Cursor) (*Analysis, error) {
	a := NewAnalysis()
	err := c.Each(func(r record.Record) error {
		switch r := r.(type) {
		case *record.File:
			a.FileSizes[r.Size]++
		case *record.Dir:
			if r.Final() && r.Rollup != nil {
				a.DirSizes[r.Rollup.ContentSize]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// InterestingFileSize reports whether more than one non-empty file has size.
func (a *Analysis) InterestingFileSize(size int64) bool {
	return size > 0 && a.FileSizes[size] > 1
}

// InterestingDirSize reports whether more than one non-empty directory has size.
func (a *Analysis) InterestingDirSize(size int64) bool {
	return size > 0 && a.DirSizes[size] > 1
}

// InterestingFiles returns the number of files whose size is interesting.
func (a *Analysis) InterestingFiles() int64 {
	var n int64
	for size, count := range a.FileSizes {
		if a.InterestingFileSize(size) {
			n += count
		}
	}
	return n
}
