// Package output renders duplicate groups in various formats (pretty,
// plain, csv, json, jsonl, yaml).
//
// Formatters are kept in a registry and selected by name at runtime:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, output.FromReport(rep)); err != nil {
//	    log.Fatal(err)
//	}
package output

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/filedupes"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/types"
)

// Kind names what a Result groups.
type Kind string

const (
	KindFiles Kind = "files"
	KindDirs  Kind = "dirs"
)

// Group is a set of paths sharing one digest.
type Group struct {
	// Size is the size of each member; for directories the recursive
	// content size.
	Size int64 `json:"size" yaml:"size"`

	SizeHuman string `json:"size_human" yaml:"size_human"`

	// Digest is the file SHA-256 or the directory content hash.
	Digest string `json:"digest" yaml:"digest"`

	Paths []string `json:"paths" yaml:"paths"`

	// RedundantBytes is Size times every member beyond the first.
	RedundantBytes int64 `json:"redundant_bytes" yaml:"redundant_bytes"`
}

// Summary totals a Result.
type Summary struct {
	Groups         int   `json:"groups" yaml:"groups"`
	RedundantCount int64 `json:"redundant_count" yaml:"redundant_count"`
	RedundantBytes int64 `json:"redundant_bytes" yaml:"redundant_bytes"`
}

// Result is the data handed to a formatter.
type Result struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// Source is the scan root, when known.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// Groups are ordered by size descending, then digest.
	Groups []Group `json:"groups" yaml:"groups"`

	Summary Summary `json:"summary" yaml:"summary"`

	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// FromGroups flattens size to digest to paths groups into a Result.
func FromGroups(kind Kind, groups map[int64]map[string][]string) *Result {
	r := &Result{Kind: kind, Groups: []Group{}}
	for size, byDigest := range groups {
		for _, sum := range slices.Sorted(maps.Keys(byDigest)) {
			paths := byDigest[sum]
			g := Group{
				Size:           size,
				SizeHuman:      types.FormatSize(size),
				Digest:         sum,
				Paths:          paths,
				RedundantBytes: size * int64(len(paths)-1),
			}
			r.Summary.RedundantCount += int64(len(paths) - 1)
			r.Summary.RedundantBytes += g.RedundantBytes
			r.Groups = append(r.Groups, g)
		}
	}
	sort.SliceStable(r.Groups, func(i, j int) bool {
		if r.Groups[i].Size != r.Groups[j].Size {
			return r.Groups[i].Size > r.Groups[j].Size
		}
		return r.Groups[i].Digest < r.Groups[j].Digest
	})
	r.Summary.Groups = len(r.Groups)
	return r
}

// FromReport converts a duplicate file report.
func FromReport(rep *filedupes.Report) *Result {
	groups := make(map[int64]map[string][]string, len(rep.DupesBySize))
	for _, sg := range rep.DupesBySize {
		groups[sg.Size] = sg.Digests
	}
	return FromGroups(KindFiles, groups)
}

// Formatter is the interface that all output formatters must implement.
type Formatter interface {
	// Format writes the formatted output to the buffer.
	Format(w *bytes.Buffer, r *Result) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory to the registry, replacing any existing
// formatter with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
