package appcatalog

import (
	"sort"

	"github.com/Masterminds/semver/v3"
)

// CompareVersions orders version labels highest first. Labels that do not parse as semantic
// versions sort after every semantic one, lexically descending among themselves.
func CompareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		return -va.Compare(vb)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}

// SortVersions sorts labels in place, highest first.
func SortVersions(labels []string) {
	sort.SliceStable(labels, func(i, j int) bool {
		return CompareVersions(labels[i], labels[j]) < 0
	})
}

// Latest returns the highest label, or "" for an empty set.
func Latest(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	sorted := append([]string(nil), labels...)
	SortVersions(sorted)
	return sorted[0]
}
