package sync

import (
	"github.com/schaermu/themesync/internal/manifest"
	"github.com/schaermu/themesync/internal/theme"
)

// Plan represents the remote operations derived from a manifest diff
type Plan struct {
	Entries  []manifest.Entry
	Uploads  []string // theme-relative paths to push, manifest path last
	Removals []string // theme-relative paths to delete remotely
	Skipped  []string // changed paths held back by the exclude matcher
}

// NoChanges reports whether the diff was empty.
func (p *Plan) NoChanges() bool {
	return len(p.Entries) == 0
}

// Idle reports whether there is nothing to upload or remove.
func (p *Plan) Idle() bool {
	return len(p.Uploads) == 0 && len(p.Removals) == 0
}

// BuildPlan turns diff entries into upload and removal lists.
//
// Every created path is uploaded. Changed paths are uploaded unless exclude
// matches them, since templates edited in the theme editor must not be
// overwritten. When anything is uploaded the manifest itself is appended so
// the store always carries the manifest describing its content. Removed paths
// are passed through unchanged; the manifest path never appears in them.
func BuildPlan(entries []manifest.Entry, manifestPath string, exclude *theme.Matcher) *Plan {
	plan := &Plan{
		Entries:  entries,
		Uploads:  make([]string, 0),
		Removals: make([]string, 0),
		Skipped:  make([]string, 0),
	}

	for _, entry := range entries {
		if entry.Path == manifestPath {
			continue
		}
		switch entry.Kind {
		case manifest.Create:
			plan.Uploads = append(plan.Uploads, entry.Path)
		case manifest.Change:
			if exclude.Match(entry.Path) {
				plan.Skipped = append(plan.Skipped, entry.Path)
				continue
			}
			plan.Uploads = append(plan.Uploads, entry.Path)
		case manifest.Remove:
			plan.Removals = append(plan.Removals, entry.Path)
		}
	}

	if len(plan.Uploads) > 0 && manifestPath != "" {
		plan.Uploads = append(plan.Uploads, manifestPath)
	}

	return plan
}

// ComputePlan diffs two manifests and builds the resulting plan.
func ComputePlan(previous, current manifest.Manifest, manifestPath string, exclude *theme.Matcher) *Plan {
	return BuildPlan(manifest.Diff(previous, current), manifestPath, exclude)
}
