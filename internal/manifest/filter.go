package manifest

import (
	"path"
	"strings"
)

// DuplicatedVersions were published more than once upstream. Only the newest
// manifest of each is tracked.
var DuplicatedVersions = []string{"1.8.0", "1.14.0", "1.15.1", "1.49.0"}

// Pointers are the latest channel pointer identifiers in the manifest list
type Pointers struct {
	Stable  string
	Beta    string
	Nightly string
}

// FilterResult is the outcome of filtering a raw manifest list
type FilterResult struct {
	// Tracked holds versioned stable and beta manifests, newest first
	Tracked  []string
	Pointers Pointers
	// Duplicates holds older copies of duplicated versions that were dropped
	Duplicates []string
}

// Filter turns the published manifest list (oldest first) into the set of
// manifests worth tracking plus the current channel pointers.
func Filter(identifiers []string) FilterResult {
	var res FilterResult
	for _, id := range identifiers {
		switch path.Base(id) {
		case StablePointer:
			res.Pointers.Stable = id
		case BetaPointer:
			res.Pointers.Beta = id
		case NightlyPointer:
			res.Pointers.Nightly = id
		}
	}

	duplicated := make(map[string]bool, len(DuplicatedVersions))
	for _, v := range DuplicatedVersions {
		duplicated[v] = true
	}
	seen := make(map[string]bool)

	for i := len(identifiers) - 1; i >= 0; i-- {
		id := identifiers[i]
		base := path.Base(id)

		// nightly is tracked through its pointer only
		if base == NightlyPointer {
			continue
		}
		if isPointer(id) {
			continue
		}

		if version, ok := ExtractVersion(id); ok && duplicated[version] {
			if seen[version] {
				res.Duplicates = append(res.Duplicates, id)
				continue
			}
			seen[version] = true
		}

		if strings.Contains(base, "beta") && !numberedBeta.MatchString(base) {
			continue
		}

		res.Tracked = append(res.Tracked, id)
	}
	return res
}
