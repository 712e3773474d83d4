package manifest

import "sort"

// EntryKind classifies a single path in a manifest diff.
type EntryKind string

const (
	Create EntryKind = "CREATE"
	Change EntryKind = "CHANGE"
	Remove EntryKind = "REMOVE"
)

// Entry is one classified difference between two manifests.
type Entry struct {
	Kind EntryKind
	Path string
}

// Diff compares previous against current and classifies every path whose
// fingerprint differs. Unchanged paths produce no entry. The result is sorted
// by path so identical inputs always yield identical output.
func Diff(previous, current Manifest) []Entry {
	entries := make([]Entry, 0)

	for path, cur := range current {
		prev, ok := previous[path]
		switch {
		case !ok:
			entries = append(entries, Entry{Kind: Create, Path: path})
		case !prev.Equal(cur):
			entries = append(entries, Entry{Kind: Change, Path: path})
		}
	}

	for path := range previous {
		if _, ok := current[path]; !ok {
			entries = append(entries, Entry{Kind: Remove, Path: path})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
	return entries
}

// Count tallies entries per kind.
func Count(entries []Entry) map[EntryKind]int {
	counts := map[EntryKind]int{Create: 0, Change: 0, Remove: 0}
	for _, e := range entries {
		counts[e.Kind]++
	}
	return counts
}
