package filedupes

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Summary totals the redundancy in a report.
type Summary struct {
	TotalRedundantFilesCount int64 `json:"total_redundant_files_count"`
	TotalRedundantSize       int64 `json:"total_redundant_size"`
}

// SizeGroup is one row of a report. It encodes as the JSON tuple
// [size, redundant_bytes, {digest: [paths]}].
type SizeGroup struct {
	Size           int64
	RedundantBytes int64
	Digests        map[string][]string
}

// MarshalJSON implements json.Marshaler.
func (g SizeGroup) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{g.Size, g.RedundantBytes, g.Digests})
}

// UnmarshalJSON implements json.Unmarshaler.
func (g *SizeGroup) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 3 {
		return fmt.Errorf("size group: want 3 elements, got %d", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &g.Size); err != nil {
		return fmt.Errorf("size group size: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &g.RedundantBytes); err != nil {
		return fmt.Errorf("size group redundant bytes: %w", err)
	}
	return json.Unmarshal(tuple[2], &g.Digests)
}

// Report ranks duplicate groups by file size, largest first.
type Report struct {
	Summary     Summary     `json:"summary"`
	DupesBySize []SizeGroup `json:"dupes_by_file_size"`
}

// BuildReport computes redundancy for each size: a digest shared by n paths
// wastes size*(n-1) bytes.
func BuildReport(groups Groups) *Report {
	rep := &Report{DupesBySize: make([]SizeGroup, 0, len(groups))}
	for size, byDigest := range groups {
		g := SizeGroup{Size: size, Digests: byDigest}
		for _, paths := range byDigest {
			extra := int64(len(paths) - 1)
			g.RedundantBytes += size * extra
			rep.Summary.TotalRedundantFilesCount += extra
		}
		rep.Summary.TotalRedundantSize += g.RedundantBytes
		rep.DupesBySize = append(rep.DupesBySize, g)
	}
	sort.Slice(rep.DupesBySize, func(i, j int) bool {
		return rep.DupesBySize[i].Size > rep.DupesBySize[j].Size
	})
	return rep
}
