// Package drift compares manifests and classifies the differences.
package drift

import (
	"sort"

	"github.com/starford/driftguard/internal/models"
)

// Diff compares current against baseline. It has no side effects and the
// record order depends only on its inputs: grouped by kind in declaration
// order, then by path.
func Diff(baseline, current *models.Manifest) *models.DriftReport {
	report := &models.DriftReport{
		Root:            current.Root,
		BaselineTakenAt: baseline.TakenAt,
		CurrentTakenAt:  current.TakenAt,
		Records:         []models.DriftRecord{},
	}

	for path, cur := range current.Entries {
		prev, ok := baseline.Entries[path]
		if !ok {
			report.Records = append(report.Records, models.DriftRecord{
				Path:    path,
				Kind:    models.DriftNew,
				Current: digestPtr(cur.Digest),
			})
			continue
		}
		kind, changed := classify(prev.Digest, cur.Digest)
		if !changed {
			continue
		}
		report.Records = append(report.Records, models.DriftRecord{
			Path:     path,
			Kind:     kind,
			Previous: digestPtr(prev.Digest),
			Current:  digestPtr(cur.Digest),
		})
	}

	for path, prev := range baseline.Entries {
		if _, ok := current.Entries[path]; ok {
			continue
		}
		report.Records = append(report.Records, models.DriftRecord{
			Path:     path,
			Kind:     models.DriftDeleted,
			Previous: digestPtr(prev.Digest),
		})
	}

	sort.Slice(report.Records, func(i, j int) bool {
		a, b := report.Records[i], report.Records[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Path < b.Path
	})
	return report
}

// classify decides the kind of change for a path present in both manifests.
func classify(prev, cur models.Digest) (models.DriftKind, bool) {
	switch {
	case prev.IsUnreadable() && cur.IsUnreadable():
		return 0, false
	case prev.IsUnreadable():
		return models.DriftBecameReadable, true
	case cur.IsUnreadable():
		return models.DriftBecameUnreadable, true
	case prev.SHA256 != cur.SHA256:
		return models.DriftModified, true
	default:
		return 0, false
	}
}

func digestPtr(d models.Digest) *models.Digest {
	return &d
}
