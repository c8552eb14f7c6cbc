package shared

import (
	"sort"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// collate.Collator is not safe for concurrent use.
var (
	collatorMu sync.Mutex
	collator   = collate.New(language.English, collate.IgnoreCase, collate.Numeric)
)

// CompareNames orders two display names the way people expect: case
// insensitive, accents after their base letter, and digit runs compared by
// value ("Phase 2" before "Phase 10").
func CompareNames(a, b string) int {
	collatorMu.Lock()
	defer collatorMu.Unlock()
	return collator.CompareString(a, b)
}

// SortNames sorts names in place using CompareNames.
func SortNames(names []string) {
	SortBy(names, func(s string) string { return s })
}

// SortBy sorts items in place by the collated display name returned by name.
// The sort is stable.
func SortBy[T any](items []T, name func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		return CompareNames(name(items[i]), name(items[j])) < 0
	})
}
